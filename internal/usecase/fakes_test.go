package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aura/internal/domain"
	"aura/internal/ports"
)

type fakeAudioCapture struct {
	mu       sync.Mutex
	err      error
	sessions []*fakeAudioSession
	started  chan *fakeAudioSession
}

func newFakeAudioCapture() *fakeAudioCapture {
	return &fakeAudioCapture{started: make(chan *fakeAudioSession, 8)}
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig, consumer ports.FrameConsumer) (ports.AudioSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	session := &fakeAudioSession{consumer: consumer, done: make(chan struct{})}
	f.mu.Lock()
	f.sessions = append(f.sessions, session)
	f.mu.Unlock()
	f.started <- session
	return session, nil
}

func (f *fakeAudioCapture) last() *fakeAudioSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

// fakeAudioSession delivers frames on demand. Emit after Stop is a no-op.
type fakeAudioSession struct {
	mu        sync.Mutex
	consumer  ports.FrameConsumer
	stopped   bool
	stopCalls int
	err       error
	done      chan struct{}
	doneOnce  sync.Once
}

func (f *fakeAudioSession) emit(frame domain.AudioFrame) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return false
	}
	f.consumer(frame)
	return true
}

// fail ends capture on its own, as an unplugged device would.
func (f *fakeAudioSession) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.stopped = true
	f.mu.Unlock()
	f.doneOnce.Do(func() { close(f.done) })
}

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	f.stopped = true
	f.mu.Unlock()
	f.doneOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeAudioSession) Done() <-chan struct{} { return f.done }

func (f *fakeAudioSession) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeAudioSession) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeProvider struct {
	mu       sync.Mutex
	sessions []*fakeStreamingSession
	err      error
	calls    int

	// gate, when set, blocks dialing until it is closed or ctx ends.
	gate    chan struct{}
	dialing chan struct{}
}

func newFakeProvider(sessions ...*fakeStreamingSession) *fakeProvider {
	return &fakeProvider{sessions: sessions, dialing: make(chan struct{}, 8)}
}

func (f *fakeProvider) StartStreaming(ctx context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	f.dialing <- struct{}{}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, domain.NewSessionError(domain.ErrorKindConnection, "dial cancelled", ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no stream session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStreamingSession struct {
	mu         sync.Mutex
	events     chan domain.TranscriptEvent
	sent       []domain.AudioFrame
	closeCalls int
	waitErr    error
	closed     bool
	done       chan struct{}
}

func newFakeStreamingSession() *fakeStreamingSession {
	return &fakeStreamingSession{
		events: make(chan domain.TranscriptEvent, 16),
		done:   make(chan struct{}),
	}
}

func (f *fakeStreamingSession) SendAudio(frame domain.AudioFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeStreamingSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStreamingSession) Wait() error {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitErr
}

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.finish(nil)
	return nil
}

// remoteClose ends the session from the server side.
func (f *fakeStreamingSession) remoteClose(err error) {
	f.finish(err)
}

func (f *fakeStreamingSession) finish(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.waitErr = err
	close(f.events)
	close(f.done)
}

func (f *fakeStreamingSession) sentFrames() []domain.AudioFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AudioFrame, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeStreamingSession) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeAnalyzer struct {
	mu          sync.Mutex
	texts       []string
	result      domain.AnalysisResult
	err         error
	release     chan struct{}
	entered     chan string
	sawDeadline bool
}

func newFakeAnalyzer(result domain.AnalysisResult) *fakeAnalyzer {
	return &fakeAnalyzer{result: result, entered: make(chan string, 16)}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string) (domain.AnalysisResult, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	_, f.sawDeadline = ctx.Deadline()
	release := f.release
	f.mu.Unlock()

	f.entered <- text
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return domain.AnalysisResult{}, ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeAnalyzer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeRules struct {
	transform string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return text, nil
}

type fakeClipboard struct {
	mu       sync.Mutex
	lastText string
	err      error
}

func (f *fakeClipboard) SetText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastText = text
	return f.err
}

type errEvent struct {
	kind   domain.ErrorKind
	detail string
}

type recordingSink struct {
	mu sync.Mutex

	states      []domain.SessionSnapshot
	transcripts []domain.TranscriptUpdate
	errors      []errEvent
	loading     []bool
	completed   []domain.AnalysisOutcome
	failed      []domain.AnalysisOutcome
}

func (r *recordingSink) SessionStateChanged(snapshot domain.SessionSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, snapshot)
}

func (r *recordingSink) TranscriptUpdated(update domain.TranscriptUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, update)
}

func (r *recordingSink) SessionError(kind domain.ErrorKind, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, errEvent{kind: kind, detail: detail})
}

func (r *recordingSink) AnalysisLoading(loading bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loading = append(r.loading, loading)
}

func (r *recordingSink) AnalysisCompleted(outcome domain.AnalysisOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, outcome)
}

func (r *recordingSink) AnalysisFailed(outcome domain.AnalysisOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, outcome)
}

func (r *recordingSink) statuses() []domain.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SessionStatus, len(r.states))
	for i, state := range r.states {
		out[i] = state.Status
	}
	return out
}

func (r *recordingSink) snapshotErrors() []errEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]errEvent(nil), r.errors...)
}

func (r *recordingSink) snapshotTranscripts() []domain.TranscriptUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TranscriptUpdate(nil), r.transcripts...)
}

func (r *recordingSink) snapshotCompleted() []domain.AnalysisOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AnalysisOutcome(nil), r.completed...)
}

func (r *recordingSink) snapshotFailed() []domain.AnalysisOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AnalysisOutcome(nil), r.failed...)
}

func (r *recordingSink) snapshotLoading() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.loading...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
