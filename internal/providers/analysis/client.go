package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aura/internal/domain"
	"aura/internal/logger"
)

const maxResponseBytes = 1 << 20

// Config controls the analysis service client.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Request is the body sent to the analysis service.
type Request struct {
	Text string `json:"text"`
}

// Response is the analysis service reply.
type Response struct {
	Success   bool     `json:"success"`
	Sentiment float64  `json:"sentiment"`
	Emotion   string   `json:"emotion"`
	Keywords  []string `json:"keywords"`
	Error     string   `json:"error,omitempty"`
}

// Client implements ports.Analyzer over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
	log      *logger.Logger
}

func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:8000/process_text"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: cfg.Timeout},
		log:      log.Named("analysis-client"),
	}
}

// Analyze posts text and returns the scored result. Every failure wraps
// domain.ErrAnalysisRequestFailed.
func (c *Client) Analyze(ctx context.Context, text string) (domain.AnalysisResult, error) {
	body, err := json.Marshal(Request{Text: text})
	if err != nil {
		return domain.AnalysisResult{}, failed("failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.AnalysisResult{}, failed("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.AnalysisResult{}, failed("request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.AnalysisResult{}, failed("failed to read response", err)
	}

	var decoded Response
	decodeErr := json.Unmarshal(payload, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := fmt.Sprintf("analysis service returned HTTP %d", resp.StatusCode)
		if decodeErr == nil && decoded.Error != "" {
			reason = fmt.Sprintf("%s: %s", reason, decoded.Error)
		}
		return domain.AnalysisResult{}, failed(reason, nil)
	}
	if decodeErr != nil {
		return domain.AnalysisResult{}, failed("invalid response body", decodeErr)
	}
	if !decoded.Success {
		reason := strings.TrimSpace(decoded.Error)
		if reason == "" {
			reason = "analysis service reported failure"
		}
		return domain.AnalysisResult{}, failed(reason, nil)
	}

	c.log.Debug("Analysis response received",
		logger.Float64("sentiment", decoded.Sentiment),
		logger.String("emotion", decoded.Emotion))

	return domain.AnalysisResult{
		Sentiment: clamp01(decoded.Sentiment),
		Emotion:   normalizeEmotion(decoded.Emotion),
		Keywords:  nonNil(decoded.Keywords),
	}, nil
}

func failed(reason string, err error) error {
	return domain.NewSessionError(domain.ErrorKindAnalysisRequestFailed, reason, err)
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normalizeEmotion(emotion string) string {
	switch e := strings.ToLower(strings.TrimSpace(emotion)); e {
	case domain.EmotionPositive, domain.EmotionNegative, domain.EmotionNeutral:
		return e
	default:
		return domain.EmotionNeutral
	}
}

func nonNil(keywords []string) []string {
	if keywords == nil {
		return []string{}
	}
	return keywords
}
