package usecase

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"aura/internal/domain"
)

// MinAnalysisLength is the trimmed rune count a final transcript must exceed
// before it is sent for analysis.
const MinAnalysisLength = 3

// TranscriptAggregator keeps the latest transcript and the history of every
// event, and turns qualifying final transcripts into analysis requests.
type TranscriptAggregator struct {
	mu         sync.Mutex
	sessionID  string
	current    domain.TranscriptEvent
	history    []domain.TranscriptEvent
	finals     []string
	lastSpoken string
	now        func() time.Time
}

func NewTranscriptAggregator() *TranscriptAggregator {
	return &TranscriptAggregator{now: time.Now}
}

// BeginSession tags subsequent requests with sessionID. History is kept.
func (a *TranscriptAggregator) BeginSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = sessionID
}

// Add records event and returns an analysis request when it qualifies.
func (a *TranscriptAggregator) Add(event domain.TranscriptEvent) (domain.AnalysisRequest, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.current = event
	a.history = append(a.history, event)

	text := strings.TrimSpace(event.Text)
	if text != "" {
		a.lastSpoken = text
	}
	if !event.IsFinal {
		return domain.AnalysisRequest{}, false
	}
	if text != "" {
		a.finals = append(a.finals, text)
	}
	if !Qualifies(event) {
		return domain.AnalysisRequest{}, false
	}

	return domain.AnalysisRequest{
		SessionID:   a.sessionID,
		Text:        text,
		SubmittedAt: a.now(),
	}, true
}

// Qualifies reports whether event should trigger an analysis request.
func Qualifies(event domain.TranscriptEvent) bool {
	return event.IsFinal && utf8.RuneCountInString(strings.TrimSpace(event.Text)) > MinAnalysisLength
}

func (a *TranscriptAggregator) Current() domain.TranscriptEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *TranscriptAggregator) History() []domain.TranscriptEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.TranscriptEvent, len(a.history))
	copy(out, a.history)
	return out
}

// FinalText joins the final transcripts, falling back to the last spoken text
// when it extends beyond them.
func (a *TranscriptAggregator) FinalText() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	if joined == "" {
		return a.lastSpoken
	}

	if a.lastSpoken == "" {
		return joined
	}

	if strings.HasSuffix(joined, a.lastSpoken) {
		return joined
	}

	if len(a.lastSpoken) > len(joined) {
		return strings.TrimSpace(joined + " " + a.lastSpoken)
	}

	return joined
}
