package usecase

import (
	"sync"

	"aura/internal/domain"
)

// ErrorBanner is the dismissible error shown to the user.
type ErrorBanner struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// DisplaySnapshot is everything an observer needs to render the app.
type DisplaySnapshot struct {
	Session         domain.SessionSnapshot   `json:"session"`
	Error           *ErrorBanner             `json:"error,omitempty"`
	Current         domain.TranscriptEvent   `json:"current"`
	History         []domain.TranscriptEvent `json:"history"`
	AnalysisLoading bool                     `json:"analysisLoading"`
	Analysis        *domain.AnalysisResult   `json:"analysis,omitempty"`
	AnalysisText    string                   `json:"analysisText,omitempty"`
	AnalysisError   string                   `json:"analysisError,omitempty"`
}

// DisplayState subscribes to session events and keeps the latest snapshot.
type DisplayState struct {
	mu            sync.RWMutex
	snap          DisplaySnapshot
	latestSession string
}

func NewDisplayState() *DisplayState {
	return &DisplayState{snap: DisplaySnapshot{
		Session: domain.SessionSnapshot{Status: domain.SessionStatusIdle},
		History: []domain.TranscriptEvent{},
	}}
}

// Snapshot returns a copy of the current display state.
func (d *DisplayState) Snapshot() DisplaySnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := d.snap
	out.History = append([]domain.TranscriptEvent(nil), d.snap.History...)
	if d.snap.Error != nil {
		banner := *d.snap.Error
		out.Error = &banner
	}
	if d.snap.Analysis != nil {
		result := *d.snap.Analysis
		result.Keywords = append([]string(nil), d.snap.Analysis.Keywords...)
		out.Analysis = &result
	}
	return out
}

// DismissError clears the error banner and the analysis error.
func (d *DisplayState) DismissError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.Error = nil
	d.snap.AnalysisError = ""
}

func (d *DisplayState) SessionStateChanged(snapshot domain.SessionSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if snapshot.SessionID != "" && snapshot.Status == domain.SessionStatusConnecting {
		d.latestSession = snapshot.SessionID
		d.snap.Error = nil
	}
	d.snap.Session = snapshot
}

func (d *DisplayState) TranscriptUpdated(update domain.TranscriptUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.Current = update.Event
	d.snap.History = append([]domain.TranscriptEvent(nil), update.History...)
}

func (d *DisplayState) SessionError(kind domain.ErrorKind, detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.Error = &ErrorBanner{Kind: kind, Message: detail}
}

func (d *DisplayState) AnalysisLoading(loading bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.AnalysisLoading = loading
}

func (d *DisplayState) AnalysisCompleted(outcome domain.AnalysisOutcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stale(outcome) || outcome.Result == nil {
		return
	}
	result := *outcome.Result
	d.snap.Analysis = &result
	d.snap.AnalysisText = outcome.Request.Text
	d.snap.AnalysisError = ""
}

func (d *DisplayState) AnalysisFailed(outcome domain.AnalysisOutcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stale(outcome) {
		return
	}
	d.snap.AnalysisError = outcome.Error
}

// stale reports whether outcome belongs to a session older than the latest.
func (d *DisplayState) stale(outcome domain.AnalysisOutcome) bool {
	return d.latestSession != "" && outcome.Request.SessionID != d.latestSession
}
