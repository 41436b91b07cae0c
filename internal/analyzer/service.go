package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aura/internal/domain"
	"aura/internal/logger"
	"aura/internal/providers/analysis"
)

// Completer sends a system prompt and user text to a chat model.
type Completer interface {
	Name() string
	Complete(ctx context.Context, system string, text string) (string, error)
}

const (
	msgInvalidFormat = "AI did not return valid format"
	msgRateLimited   = "Exceeded Rate Limit"
)

// Service turns text into the analysis service response.
type Service struct {
	completer Completer
	timeout   time.Duration
	log       *logger.Logger
}

func NewService(completer Completer, timeout time.Duration, log *logger.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		completer: completer,
		timeout:   timeout,
		log:       log.Named("analyzer"),
	}
}

// Process never fails outright: model errors come back as an unsuccessful
// response carrying neutral defaults.
func (s *Service) Process(ctx context.Context, text string) analysis.Response {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	raw, err := s.completer.Complete(ctx, SystemPrompt, text)
	if err != nil {
		return s.fail(err)
	}

	result, err := ParseModelOutput(raw)
	if err != nil {
		return s.fail(err)
	}

	s.log.Info("Text analyzed",
		logger.String("provider", s.completer.Name()),
		logger.String("emotion", result.Emotion),
		logger.Float64("sentiment", result.Sentiment),
		logger.Duration("elapsed", time.Since(started)))

	return analysis.Response{
		Success:   true,
		Sentiment: result.Sentiment,
		Emotion:   result.Emotion,
		Keywords:  result.Keywords,
	}
}

func (s *Service) fail(err error) analysis.Response {
	var message string
	switch {
	case errors.Is(err, ErrInvalidFormat):
		message = msgInvalidFormat
	case errors.Is(err, ErrRateLimited):
		message = msgRateLimited
	default:
		message = fmt.Sprintf("Failed to process: %v", err)
	}
	s.log.Warn("Analysis failed",
		logger.String("provider", s.completer.Name()),
		logger.Error(err))

	return analysis.Response{
		Success:   false,
		Error:     message,
		Sentiment: neutralSentiment,
		Emotion:   domain.EmotionNeutral,
		Keywords:  []string{},
	}
}
