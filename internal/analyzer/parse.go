// Package analyzer scores short utterances for sentiment with a chat model
// and serves the result over HTTP.
package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"aura/internal/domain"
)

const (
	MaxKeywords      = 10
	neutralSentiment = 0.5
)

// SystemPrompt instructs the model to answer with bare JSON.
const SystemPrompt = `Analyze sentiment and extract keywords.
Return ONLY valid JSON with NO markdown:

{"sentiment": .75, "keywords": ["word1", "word2"], "emotion": "positive"}
sentiment: float 0-1 (0 = negative, 1 = positive)
emotion: must be "positive", "negative", or "neutral"
keywords: array of 3-7 important words`

var (
	ErrInvalidFormat = errors.New("model output is not valid JSON")
	ErrRateLimited   = errors.New("model provider rate limit exceeded")
)

var requiredFields = []string{"sentiment", "keywords", "emotion"}

// ParseModelOutput turns raw model text into a normalized result.
func ParseModelOutput(raw string) (domain.AnalysisResult, error) {
	cleaned := stripFences(raw)

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	var missing []string
	for _, field := range requiredFields {
		if _, ok := parsed[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		got := make([]string, 0, len(parsed))
		for key := range parsed {
			got = append(got, key)
		}
		sort.Strings(got)
		return domain.AnalysisResult{}, fmt.Errorf("missing fields %v, got %v", missing, got)
	}

	sentiment, err := parseSentiment(parsed["sentiment"])
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	return domain.AnalysisResult{
		Sentiment: sentiment,
		Keywords:  parseKeywords(parsed["keywords"]),
		Emotion:   parseEmotion(parsed["emotion"]),
	}, nil
}

func stripFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		parts := strings.Split(cleaned, "```")
		if len(parts) > 1 {
			cleaned = parts[1]
		}
	}
	cleaned = strings.TrimPrefix(cleaned, "json")
	return strings.TrimSpace(cleaned)
}

func parseSentiment(raw json.RawMessage) (float64, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, fmt.Errorf("invalid sentiment: %w", err)
	}

	var sentiment float64
	switch v := value.(type) {
	case float64:
		sentiment = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid sentiment %q", v)
		}
		sentiment = parsed
	default:
		return 0, fmt.Errorf("invalid sentiment %v", value)
	}

	switch {
	case math.IsNaN(sentiment):
		return 0, fmt.Errorf("invalid sentiment NaN")
	case sentiment < 0:
		return 0, nil
	case sentiment > 1:
		return 1, nil
	}
	return sentiment, nil
}

func parseKeywords(raw json.RawMessage) []string {
	var values []any
	if err := json.Unmarshal(raw, &values); err != nil || values == nil {
		return []string{}
	}
	if len(values) > MaxKeywords {
		values = values[:MaxKeywords]
	}
	keywords := make([]string, 0, len(values))
	for _, v := range values {
		switch k := v.(type) {
		case string:
			keywords = append(keywords, k)
		case nil:
			continue
		default:
			keywords = append(keywords, fmt.Sprint(k))
		}
	}
	return keywords
}

func parseEmotion(raw json.RawMessage) string {
	var emotion string
	if err := json.Unmarshal(raw, &emotion); err != nil {
		return domain.EmotionNeutral
	}
	switch emotion {
	case domain.EmotionPositive, domain.EmotionNegative, domain.EmotionNeutral:
		return emotion
	default:
		return domain.EmotionNeutral
	}
}
