package ports

import (
	"context"

	"aura/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate       int
	Channels         int
	BlockSize        int
	InputFormat      string
	InputDevice      string
	EchoCancellation bool
	EchoCancelDevice string
	NoiseSuppression bool
	AutoGain         bool
}

// FrameConsumer receives every captured frame in capture order.
// It must not stop the capture session it is registered on.
type FrameConsumer func(frame domain.AudioFrame)

// AudioSession is a live capture session. Done is closed once capture has
// ended for any reason; Err reports why it ended on its own.
type AudioSession interface {
	Stop() error
	Done() <-chan struct{}
	Err() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig, consumer FrameConsumer) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	Punctuate      bool
	InterimResults bool
}

// StreamingSession is an open provider websocket session.
type StreamingSession interface {
	SendAudio(frame domain.AudioFrame) error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider opens streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// Analyzer scores text with the remote analysis service.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (domain.AnalysisResult, error)
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink receives backend state and events for display.
type EventSink interface {
	SessionStateChanged(snapshot domain.SessionSnapshot)
	TranscriptUpdated(update domain.TranscriptUpdate)
	SessionError(kind domain.ErrorKind, detail string)
	AnalysisLoading(loading bool)
	AnalysisCompleted(outcome domain.AnalysisOutcome)
	AnalysisFailed(outcome domain.AnalysisOutcome)
}
