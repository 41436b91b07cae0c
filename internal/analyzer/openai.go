package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"aura/internal/logger"
)

const (
	DefaultOpenAIModel = "gpt-3.5-turbo"
	temperature        = 0.3
	maxTokens          = 150
)

// OpenAIConfig configures the chat completion backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAICompleter runs the sentiment prompt through OpenAI chat completions.
type OpenAICompleter struct {
	client openai.Client
	model  string
	log    *logger.Logger
}

func NewOpenAICompleter(cfg OpenAIConfig, log *logger.Logger, opts ...option.RequestOption) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing OpenAI API key (set OPENAI_API_KEY)")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if log == nil {
		log = logger.Nop()
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)

	return &OpenAICompleter{
		client: openai.NewClient(clientOpts...),
		model:  cfg.Model,
		log:    log.Named("openai"),
	}, nil
}

func (c *OpenAICompleter) Name() string { return "openai" }

// Complete returns the first choice of a chat completion.
func (c *OpenAICompleter) Complete(ctx context.Context, system string, text string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(maxTokens),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	c.log.Debug("Chat completion finished",
		logger.String("model", c.model),
		logger.Int("completion_tokens", int(resp.Usage.CompletionTokens)))
	return resp.Choices[0].Message.Content, nil
}
