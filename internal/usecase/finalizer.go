package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aura/internal/ports"
)

var ErrNoTranscript = errors.New("no transcript captured")

type transcriptExporter struct {
	rules     ports.RulesEngine
	clipboard ports.Clipboard
}

func newTranscriptExporter(rules ports.RulesEngine, clipboard ports.Clipboard) transcriptExporter {
	return transcriptExporter{rules: rules, clipboard: clipboard}
}

// Export normalizes raw and writes it to the clipboard.
func (f transcriptExporter) Export(ctx context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrNoTranscript
	}

	text, err := applyRules(f.rules, raw)
	if err != nil {
		return "", fmt.Errorf("transcript rules failed: %w", err)
	}

	if f.clipboard == nil {
		return text, errors.New("clipboard is not available")
	}
	if err := f.clipboard.SetText(ctx, text); err != nil {
		return text, fmt.Errorf("clipboard write failed: %w", err)
	}
	return text, nil
}

func applyRules(rules ports.RulesEngine, text string) (string, error) {
	if rules == nil {
		return text, nil
	}
	return rules.Apply(text)
}
