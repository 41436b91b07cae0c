package domain

import "time"

// SessionStatus models the streaming transcription lifecycle.
type SessionStatus string

const (
	SessionStatusIdle       SessionStatus = "idle"
	SessionStatusConnecting SessionStatus = "connecting"
	SessionStatusOpen       SessionStatus = "open"
	SessionStatusClosing    SessionStatus = "closing"
	SessionStatusFailed     SessionStatus = "failed"
)

// Active reports whether a session in this status still owns the device or socket.
func (s SessionStatus) Active() bool {
	switch s {
	case SessionStatusConnecting, SessionStatusOpen, SessionStatusClosing:
		return true
	default:
		return false
	}
}

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultBlockSize  = 4096
)

// AudioFrame is one block of signed 16-bit PCM samples.
type AudioFrame struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// TranscriptEvent is one recognized interim or final transcript.
type TranscriptEvent struct {
	Text       string    `json:"text"`
	IsFinal    bool      `json:"isFinal"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// TranscriptUpdate is delivered to observers after every transcript event.
type TranscriptUpdate struct {
	Event   TranscriptEvent   `json:"event"`
	History []TranscriptEvent `json:"history"`
}

// AnalysisRequest asks the analysis service to score one finalized utterance.
type AnalysisRequest struct {
	SessionID   string    `json:"sessionId"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Emotion labels returned by the analysis service.
const (
	EmotionPositive = "positive"
	EmotionNegative = "negative"
	EmotionNeutral  = "neutral"
)

// AnalysisResult is the sentiment analysis of one utterance.
type AnalysisResult struct {
	Sentiment float64  `json:"sentiment"`
	Emotion   string   `json:"emotion"`
	Keywords  []string `json:"keywords"`
}

// AnalysisOutcome is a finished analysis call, successful or not.
type AnalysisOutcome struct {
	Request AnalysisRequest `json:"request"`
	Result  *AnalysisResult `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SessionSnapshot summarizes the current session for observers.
type SessionSnapshot struct {
	Status    SessionStatus `json:"status"`
	SessionID string        `json:"sessionId,omitempty"`
	StartedAt time.Time     `json:"startedAt,omitempty"`
	LastError string        `json:"lastError,omitempty"`
	ErrorKind ErrorKind     `json:"errorKind,omitempty"`
}
