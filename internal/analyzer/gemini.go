package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"aura/internal/logger"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// GeminiCompleter runs the sentiment prompt through the Gemini API.
type GeminiCompleter struct {
	client *genai.Client
	model  string
	log    *logger.Logger
}

func NewGeminiCompleter(ctx context.Context, cfg GeminiConfig, log *logger.Logger) (*GeminiCompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing Gemini API key (set GEMINI_API_KEY)")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if log == nil {
		log = logger.Nop()
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiCompleter{
		client: client,
		model:  cfg.Model,
		log:    log.Named("gemini"),
	}, nil
}

func (c *GeminiCompleter) Name() string { return "gemini" }

// Complete generates one JSON response for text.
func (c *GeminiCompleter) Complete(ctx context.Context, system string, text string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(text), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr[float32](temperature),
		MaxOutputTokens:   maxTokens,
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", classifyGeminiErr(err)
	}

	out := resp.Text()
	if out == "" {
		return "", errors.New("gemini returned no text")
	}
	c.log.Debug("Gemini generation finished", logger.String("model", c.model))
	return out, nil
}

func classifyGeminiErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}
