package usecase

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"aura/internal/domain"
	"aura/internal/logger"
	"aura/internal/metrics"
	"aura/internal/ports"
)

var (
	ErrSessionAlreadyActive = errors.New("a recording session is already active")
	ErrSessionCancelled     = errors.New("session stopped before the connection opened")
)

var allStatuses = []string{
	string(domain.SessionStatusIdle),
	string(domain.SessionStatusConnecting),
	string(domain.SessionStatusOpen),
	string(domain.SessionStatusClosing),
	string(domain.SessionStatusFailed),
}

// Config controls session behavior.
type Config struct {
	Audio     ports.AudioConfig
	Streaming ports.StreamingConfig
}

// Dependencies are the adapters a SessionController drives.
type Dependencies struct {
	Audio     ports.AudioCapture
	Provider  ports.TranscriptionProvider
	Analysis  *AnalysisCoordinator
	Rules     ports.RulesEngine
	Clipboard ports.Clipboard
	Events    ports.EventSink
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
}

// SessionController runs the capture and streaming transcription lifecycle:
// Idle → Connecting → Open → Closing → Idle, with Failed reachable from
// Connecting and Open.
type SessionController struct {
	audio      ports.AudioCapture
	provider   ports.TranscriptionProvider
	analysis   *AnalysisCoordinator
	events     ports.EventSink
	exporter   transcriptExporter
	aggregator *TranscriptAggregator
	cfg        Config
	log        *logger.Logger
	metrics    *metrics.Metrics

	newID func() string
	now   func() time.Time

	// emitMu keeps published transitions in the order they were applied.
	emitMu sync.Mutex

	mu       sync.Mutex
	snapshot domain.SessionSnapshot
	current  *activeSession
}

func NewSessionController(deps Dependencies, cfg Config) *SessionController {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &SessionController{
		audio:      deps.Audio,
		provider:   deps.Provider,
		analysis:   deps.Analysis,
		events:     deps.Events,
		exporter:   newTranscriptExporter(deps.Rules, deps.Clipboard),
		aggregator: NewTranscriptAggregator(),
		cfg:        cfg,
		log:        log.Named("session"),
		metrics:    deps.Metrics,
		newID:      uuid.NewString,
		now:        time.Now,
		snapshot:   domain.SessionSnapshot{Status: domain.SessionStatusIdle},
	}
}

// StartSession acquires the microphone, then opens the transcription socket.
// It returns once the session is Open or has failed.
func (c *SessionController) StartSession(ctx context.Context) error {
	c.emitMu.Lock()
	c.mu.Lock()
	if c.snapshot.Status.Active() {
		c.mu.Unlock()
		c.emitMu.Unlock()
		return ErrSessionAlreadyActive
	}

	// The session outlives the request that started it.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	active := newActiveSession(c.newID(), cancel, c.now())
	c.current = active
	c.snapshot = domain.SessionSnapshot{
		Status:    domain.SessionStatusConnecting,
		SessionID: active.id,
		StartedAt: active.startedAt,
	}
	snapshot := c.snapshot
	c.mu.Unlock()
	c.aggregator.BeginSession(active.id)
	c.publishStatus(snapshot)
	c.emitMu.Unlock()

	defer close(active.ready)

	if c.metrics != nil {
		c.metrics.SessionsStarted.Inc()
	}
	c.log.Info("Session connecting", logger.String("session_id", active.id))

	audioSession, err := c.audio.Start(sessionCtx, c.cfg.Audio, frameForwarder(active, c.log, c.metrics))
	if err != nil {
		return c.abortStart(active, asKind(err, domain.ErrorKindDeviceUnavailable))
	}
	active.setAudio(audioSession)

	stream, err := c.provider.StartStreaming(sessionCtx, c.cfg.Streaming)
	if err != nil {
		return c.abortStart(active, asKind(err, domain.ErrorKindConnection))
	}
	if !active.attachStream(stream) {
		return ErrSessionCancelled
	}

	if dropped := active.droppedBeforeOpen.Load(); dropped > 0 {
		c.log.Debug("Dropped frames captured before the socket opened",
			logger.String("session_id", active.id),
			logger.Int("frames", int(dropped)))
	}

	c.transition(active, domain.SessionStatusOpen)
	c.log.Info("Session open", logger.String("session_id", active.id))

	go c.readTranscripts(active, stream)
	go c.watch(active, audioSession, stream)
	return nil
}

// StopSession ends the session from any state. It is idempotent.
func (c *SessionController) StopSession(_ context.Context) error {
	c.mu.Lock()
	active := c.current
	if active == nil {
		failed := c.snapshot.Status == domain.SessionStatusFailed
		c.mu.Unlock()
		if failed {
			c.reset()
		}
		return nil
	}
	c.mu.Unlock()

	if !active.beginStop() {
		<-active.ended
		return nil
	}

	c.shutdown(active, nil, true)
	return nil
}

// DismissError acknowledges a failed session and returns to Idle.
func (c *SessionController) DismissError() {
	c.mu.Lock()
	failed := c.current == nil && c.snapshot.Status == domain.SessionStatusFailed
	c.mu.Unlock()
	if failed {
		c.reset()
	}
}

// Status returns the current lifecycle status.
func (c *SessionController) Status() domain.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Status
}

// Snapshot returns the current session summary.
func (c *SessionController) Snapshot() domain.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Transcripts exposes the aggregator for read access.
func (c *SessionController) Transcripts() *TranscriptAggregator {
	return c.aggregator
}

// CopyTranscript copies the finalized transcript to the clipboard.
func (c *SessionController) CopyTranscript(ctx context.Context) (string, error) {
	return c.exporter.Export(ctx, c.aggregator.FinalText())
}

// Close stops any session and waits for in-flight analysis.
func (c *SessionController) Close(ctx context.Context) error {
	err := c.StopSession(ctx)
	if c.analysis != nil {
		c.analysis.Wait()
	}
	return err
}

func (c *SessionController) abortStart(active *activeSession, cause error) error {
	if !active.beginStop() {
		// StopSession won the race and owns teardown.
		return ErrSessionCancelled
	}
	c.shutdown(active, cause, false)
	return cause
}

func (c *SessionController) readTranscripts(active *activeSession, stream ports.StreamingSession) {
	defer close(active.loopsDone)

	for event := range stream.Events() {
		if c.metrics != nil {
			c.metrics.TranscriptEvents.WithLabelValues(strconv.FormatBool(event.IsFinal)).Inc()
		}

		req, ok := c.aggregator.Add(event)
		c.events.TranscriptUpdated(domain.TranscriptUpdate{
			Event:   event,
			History: c.aggregator.History(),
		})

		switch {
		case ok && c.analysis != nil:
			c.analysis.Submit(context.Background(), req)
		case event.IsFinal && !ok:
			c.log.Debug("Final transcript too short for analysis",
				logger.String("session_id", active.id),
				logger.Int("chars", utf8.RuneCountInString(strings.TrimSpace(event.Text))))
		}
	}
}

// watch ends the session when capture or the socket finishes on its own.
func (c *SessionController) watch(active *activeSession, audio ports.AudioSession, stream ports.StreamingSession) {
	streamDone := make(chan error, 1)
	go func() { streamDone <- stream.Wait() }()

	var cause error
	select {
	case <-audio.Done():
		cause = audio.Err()
		if cause == nil {
			cause = domain.NewSessionError(domain.ErrorKindDeviceUnavailable, "audio capture ended", nil)
		}
		cause = asKind(cause, domain.ErrorKindDeviceUnavailable)
	case cause = <-streamDone:
		if cause != nil {
			cause = asKind(cause, domain.ErrorKindConnection)
		}
	}

	if !active.beginStop() {
		return
	}
	if cause == nil {
		c.log.Info("Transcription socket closed by remote", logger.String("session_id", active.id))
	}
	c.shutdown(active, cause, true)
}

// shutdown releases the session. The caller must have won beginStop.
func (c *SessionController) shutdown(active *activeSession, cause error, waitReady bool) {
	defer close(active.ended)

	if cause == nil {
		c.transition(active, domain.SessionStatusClosing)
	}

	active.cancel()
	if waitReady {
		<-active.ready
	}
	if err := active.release(); err != nil {
		c.log.Warn("Audio capture did not stop cleanly",
			logger.String("session_id", active.id),
			logger.Error(err))
	}
	active.waitLoops()

	c.settle(active, cause)
}

// settle records the terminal status of active: Idle, or Failed with cause.
func (c *SessionController) settle(active *activeSession, cause error) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.current != active {
		c.mu.Unlock()
		return
	}
	c.current = nil
	snapshot := domain.SessionSnapshot{Status: domain.SessionStatusIdle}
	if cause != nil {
		snapshot = domain.SessionSnapshot{
			Status:    domain.SessionStatusFailed,
			SessionID: active.id,
			StartedAt: active.startedAt,
			LastError: cause.Error(),
			ErrorKind: domain.KindOf(cause),
		}
	}
	c.snapshot = snapshot
	c.mu.Unlock()

	c.publishStatus(snapshot)

	if cause == nil {
		c.log.Info("Session stopped", logger.String("session_id", active.id))
		return
	}

	c.log.Warn("Session failed",
		logger.String("session_id", active.id),
		logger.String("kind", string(snapshot.ErrorKind)),
		logger.Error(cause))
	if c.metrics != nil {
		c.metrics.SessionFailures.WithLabelValues(string(snapshot.ErrorKind)).Inc()
	}
	c.events.SessionError(snapshot.ErrorKind, snapshot.LastError)
}

func (c *SessionController) transition(active *activeSession, status domain.SessionStatus) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.current != active {
		c.mu.Unlock()
		return
	}
	c.snapshot.Status = status
	snapshot := c.snapshot
	c.mu.Unlock()

	c.publishStatus(snapshot)
}

func (c *SessionController) reset() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.current != nil || c.snapshot.Status != domain.SessionStatusFailed {
		c.mu.Unlock()
		return
	}
	c.snapshot = domain.SessionSnapshot{Status: domain.SessionStatusIdle}
	snapshot := c.snapshot
	c.mu.Unlock()

	c.publishStatus(snapshot)
}

func (c *SessionController) publishStatus(snapshot domain.SessionSnapshot) {
	if c.metrics != nil {
		c.metrics.SetStatus(string(snapshot.Status), allStatuses...)
	}
	c.events.SessionStateChanged(snapshot)
}

// asKind classifies err as kind unless it already carries a kind.
func asKind(err error, kind domain.ErrorKind) error {
	var sessionErr *domain.SessionError
	if errors.As(err, &sessionErr) || errors.Is(err, kind.Sentinel()) {
		return err
	}
	return domain.NewSessionError(kind, "", err)
}
