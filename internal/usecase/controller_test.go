package usecase

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"aura/internal/domain"
	"aura/internal/logger"
)

type controllerFixture struct {
	controller *SessionController
	audio      *fakeAudioCapture
	provider   *fakeProvider
	analyzer   *fakeAnalyzer
	clipboard  *fakeClipboard
	sink       *recordingSink
	display    *DisplayState
}

func newControllerFixture(streams ...*fakeStreamingSession) *controllerFixture {
	f := &controllerFixture{
		audio:     newFakeAudioCapture(),
		provider:  newFakeProvider(streams...),
		analyzer:  newFakeAnalyzer(domain.AnalysisResult{Sentiment: 0.8, Emotion: domain.EmotionPositive, Keywords: []string{"hello"}}),
		clipboard: &fakeClipboard{},
		sink:      &recordingSink{},
		display:   NewDisplayState(),
	}
	events := NewBroadcaster(f.sink, f.display)
	coordinator := NewAnalysisCoordinator(f.analyzer, nil, events, time.Second, nil, nil)
	f.controller = NewSessionController(Dependencies{
		Audio:     f.audio,
		Provider:  f.provider,
		Analysis:  coordinator,
		Clipboard: f.clipboard,
		Events:    events,
	}, Config{})
	return f
}

func TestSessionControllerStartStopLifecycle(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	f := newControllerFixture(stream)

	if err := f.controller.StartSession(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if got := f.controller.Status(); got != domain.SessionStatusOpen {
		t.Fatalf("expected open, got %s", got)
	}
	snapshot := f.controller.Snapshot()
	if snapshot.SessionID == "" || snapshot.StartedAt.IsZero() {
		t.Fatalf("expected session identity in snapshot: %+v", snapshot)
	}

	if err := f.controller.StopSession(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	want := []domain.SessionStatus{
		domain.SessionStatusConnecting,
		domain.SessionStatusOpen,
		domain.SessionStatusClosing,
		domain.SessionStatusIdle,
	}
	if got := f.sink.statuses(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected transitions: %v", got)
	}
	if !f.audio.last().isStopped() {
		t.Fatalf("expected capture to be released")
	}
	if stream.closeCount() != 1 {
		t.Fatalf("expected socket to be closed once, got %d", stream.closeCount())
	}
	if len(f.sink.snapshotErrors()) != 0 {
		t.Fatalf("unexpected errors: %+v", f.sink.snapshotErrors())
	}
}

func TestSessionControllerForwardsFramesInOrderWhileOpen(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	f := newControllerFixture(stream)

	if err := f.controller.StartSession(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	var produced []domain.AudioFrame
	for i := 0; i < 200; i++ {
		samples := make([]int16, 1+rng.Intn(64))
		for j := range samples {
			samples[j] = int16(rng.Intn(65536) - 32768)
		}
		frame := domain.AudioFrame{Samples: samples, SampleRate: 16000, Channels: 1}
		produced = append(produced, frame)
		if !f.audio.last().emit(frame) {
			t.Fatalf("capture stopped unexpectedly")
		}
	}

	if err := f.controller.StopSession(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if got := stream.sentFrames(); !reflect.DeepEqual(got, produced) {
		t.Fatalf("sent frames differ from produced frames: sent %d, produced %d", len(got), len(produced))
	}
}

func TestSessionControllerDropsFramesBeforeOpen(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	f := newControllerFixture(stream)
	f.provider.gate = make(chan struct{})

	startErr := make(chan error, 1)
	go func() { startErr <- f.controller.StartSession(context.Background()) }()

	audio := <-f.audio.started
	<-f.provider.dialing
	if got := f.controller.Status(); got != domain.SessionStatusConnecting {
		t.Fatalf("expected connecting, got %s", got)
	}
	audio.emit(domain.AudioFrame{Samples: []int16{1}})
	audio.emit(domain.AudioFrame{Samples: []int16{2}})

	close(f.provider.gate)
	if err := <-startErr; err != nil {
		t.Fatalf("start failed: %v", err)
	}

	audio.emit(domain.AudioFrame{Samples: []int16{3}})
	sent := stream.sentFrames()
	if len(sent) != 1 || sent[0].Samples[0] != 3 {
		t.Fatalf("expected only the post-open frame, got %+v", sent)
	}

	_ = f.controller.StopSession(context.Background())
}

func TestSessionControllerRejectsStartWhileActive(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(newFakeStreamingSession(), newFakeStreamingSession())
	if err := f.controller.StartSession(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := f.controller.StartSession(context.Background()); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("expected ErrSessionAlreadyActive, got %v", err)
	}
	if f.provider.callCount() != 1 {
		t.Fatalf("second start should not dial")
	}
	_ = f.controller.StopSession(context.Background())
}

func TestSessionControllerRejectsStartWhileConnecting(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(newFakeStreamingSession())
	f.provider.gate = make(chan struct{})

	startErr := make(chan error, 1)
	go func() { startErr <- f.controller.StartSession(context.Background()) }()
	<-f.provider.dialing

	if err := f.controller.StartSession(context.Background()); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("expected ErrSessionAlreadyActive, got %v", err)
	}

	close(f.provider.gate)
	if err := <-startErr; err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_ = f.controller.StopSession(context.Background())
}

func TestSessionControllerDeviceUnavailable(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(newFakeStreamingSession())
	f.audio.err = errors.New("no such device")

	err := f.controller.StartSession(context.Background())
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Fatalf("expected device unavailable, got %v", err)
	}
	if f.provider.callCount() != 0 {
		t.Fatalf("socket should not be dialed without a device")
	}

	snapshot := f.controller.Snapshot()
	if snapshot.Status != domain.SessionStatusFailed || snapshot.ErrorKind != domain.ErrorKindDeviceUnavailable {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	errs := f.sink.snapshotErrors()
	if len(errs) != 1 || errs[0].kind != domain.ErrorKindDeviceUnavailable {
		t.Fatalf("expected exactly one device error, got %+v", errs)
	}

	// A failed session can be restarted.
	f.audio.err = nil
	if err := f.controller.StartSession(context.Background()); err != nil {
		t.Fatalf("restart after failure failed: %v", err)
	}
	_ = f.controller.StopSession(context.Background())
}

func TestSessionControllerHandshakeAuthenticationFailure(t *testing.T) {
	t.Parallel()

	f := newControllerFixture()
	f.provider.err = domain.NewSessionError(domain.ErrorKindAuthenticationFailed, "bad key", nil)

	err := f.controller.StartSession(context.Background())
	if !errors.Is(err, domain.ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if !f.audio.last().isStopped() {
		t.Fatalf("expected capture to be released after failed dial")
	}
	want := []domain.SessionStatus{domain.SessionStatusConnecting, domain.SessionStatusFailed}
	if got := f.sink.statuses(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected transitions: %v", got)
	}
}

func TestSessionControllerAuthCloseWhileOpen(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	f := newControllerFixture(stream)
	if err := f.controller.StartSession(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	audio := f.audio.last()

	stream.remoteClose(domain.NewSessionError(domain.ErrorKindAuthenticationFailed, "invalid API key (code 1008)", nil))

	waitFor(t, "failed status", func() bool {
		return f.controller.Status() == domain.SessionStatusFailed
	})
	if f.controller.Snapshot().ErrorKind != domain.ErrorKindAuthenticationFailed {
		t.Fatalf("unexpected snapshot: %+v", f.controller.Snapshot())
	}
	if !audio.isStopped() {
		t.Fatalf("expected capture to be released")
	}
	if audio.emit(domain.AudioFrame{Samples: []int16{9}}) {
		t.Fatalf("frame delivered after failure")
	}

	errs := f.sink.snapshotErrors()
	if len(errs) != 1 || errs[0].kind != domain.ErrorKindAuthenticationFailed {
		t.Fatalf("expected one authentication error, got %+v", errs)
	}

	if err := f.controller.StopSession(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if got := f.controller.Status(); got != domain.SessionStatusIdle {
		t.Fatalf("expected idle after stop from failed, got %s", got)
	}
}

func TestSessionControllerRemoteGracefulClose(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	f := newControllerFixture(stream)
	if err := f.controller.StartSession(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	stream.remoteClose(nil)

	waitFor(t, "idle status", func() bool {
		return f.controller.Status() == domain.SessionStatusIdle
	})
	if !f.audio.last().isStopped() {
		t.Fatalf("expected capture to be released")
	}
	if len(f.sink.snapshotErrors()) != 0 {
		t.Fatalf("graceful close should not publish errors")
	}
}

func TestSessionControllerCaptureEndsWhileOpen(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	f := newControllerFixture(stream)
	if err := f.controller.StartSession(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	f.audio.last().fail(errors.New("device unplugged"))

	waitFor(t, "failed status", func() bool {
		return f.controller.Status() == domain.SessionStatusFailed
	})
	if got := f.controller.Snapshot().ErrorKind; got != domain.ErrorKindDeviceUnavailable {
		t.Fatalf("expected device unavailable, got %s", got)
	}
	if stream.closeCount() == 0 {
		t.Fatalf("expected socket to be closed")
	}
}

func TestSessionControllerStopDuringConnectingCancelsDial(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(newFakeStreamingSession())
	f.provider.gate = make(chan struct{})

	startErr := make(chan error, 1)
	go func() { startErr <- f.controller.StartSession(context.Background()) }()
	<-f.provider.dialing

	if err := f.controller.StopSession(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	select {
	case err := <-startErr:
		if !errors.Is(err, ErrSessionCancelled) {
			t.Fatalf("expected ErrSessionCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("start did not return after stop")
	}

	if got := f.controller.Status(); got != domain.SessionStatusIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	if !f.audio.last().isStopped() {
		t.Fatalf("expected capture to be released")
	}
	if len(f.sink.snapshotErrors()) != 0 {
		t.Fatalf("cancelled dial should not publish errors: %+v", f.sink.snapshotErrors())
	}
}

func TestSessionControllerStopIsIdempotentInEveryState(t *testing.T) {
	t.Parallel()

	t.Run("idle", func(t *testing.T) {
		t.Parallel()
		f := newControllerFixture()
		for i := 0; i < 2; i++ {
			if err := f.controller.StopSession(context.Background()); err != nil {
				t.Fatalf("stop %d failed: %v", i, err)
			}
		}
		if len(f.sink.statuses()) != 0 {
			t.Fatalf("stop from idle should not publish transitions")
		}
	})

	t.Run("open", func(t *testing.T) {
		t.Parallel()
		stream := newFakeStreamingSession()
		f := newControllerFixture(stream)
		if err := f.controller.StartSession(context.Background()); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := f.controller.StopSession(context.Background()); err != nil {
				t.Fatalf("stop %d failed: %v", i, err)
			}
		}
		if stream.closeCount() != 1 || f.audio.last().stopCalls != 1 {
			t.Fatalf("expected single release, close=%d stop=%d", stream.closeCount(), f.audio.last().stopCalls)
		}
	})

	t.Run("failed", func(t *testing.T) {
		t.Parallel()
		f := newControllerFixture()
		f.audio.err = errors.New("busy")
		_ = f.controller.StartSession(context.Background())
		for i := 0; i < 2; i++ {
			if err := f.controller.StopSession(context.Background()); err != nil {
				t.Fatalf("stop %d failed: %v", i, err)
			}
		}
		if got := f.controller.Status(); got != domain.SessionStatusIdle {
			t.Fatalf("expected idle, got %s", got)
		}
	})

	t.Run("concurrent", func(t *testing.T) {
		t.Parallel()
		stream := newFakeStreamingSession()
		f := newControllerFixture(stream)
		if err := f.controller.StartSession(context.Background()); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		done := make(chan struct{}, 4)
		for i := 0; i < 4; i++ {
			go func() {
				_ = f.controller.StopSession(context.Background())
				done <- struct{}{}
			}()
		}
		for i := 0; i < 4; i++ {
			<-done
		}
		if got := f.controller.Status(); got != domain.SessionStatusIdle {
			t.Fatalf("expected idle, got %s", got)
		}
		if stream.closeCount() != 1 {
			t.Fatalf("expected one close, got %d", stream.closeCount())
		}
	})
}

func TestSessionControllerDismissError(t *testing.T) {
	t.Parallel()

	f := newControllerFixture()
	f.audio.err = errors.New("busy")
	_ = f.controller.StartSession(context.Background())

	f.controller.DismissError()
	if got := f.controller.Status(); got != domain.SessionStatusIdle {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestSessionControllerEndToEndAnalysis(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	f := newControllerFixture(stream)
	if err := f.controller.StartSession(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	sessionID := f.controller.Snapshot().SessionID

	stream.events <- domain.TranscriptEvent{Text: "hel"}
	stream.events <- domain.TranscriptEvent{Text: "hell"}
	stream.events <- domain.TranscriptEvent{Text: "hello"}
	stream.events <- domain.TranscriptEvent{Text: "hello world", IsFinal: true}

	waitFor(t, "analysis result", func() bool {
		return len(f.sink.snapshotCompleted()) == 1
	})
	f.controller.analysis.Wait()

	if got := f.analyzer.calls(); !reflect.DeepEqual(got, []string{"hello world"}) {
		t.Fatalf("expected exactly one analysis request, got %v", got)
	}

	outcome := f.sink.snapshotCompleted()[0]
	if outcome.Request.Text != "hello world" || outcome.Request.SessionID != sessionID {
		t.Fatalf("unexpected request: %+v", outcome.Request)
	}
	want := domain.AnalysisResult{Sentiment: 0.8, Emotion: domain.EmotionPositive, Keywords: []string{"hello"}}
	if outcome.Result == nil || !reflect.DeepEqual(*outcome.Result, want) {
		t.Fatalf("unexpected result: %+v", outcome.Result)
	}

	updates := f.sink.snapshotTranscripts()
	texts := []string{"hel", "hell", "hello", "hello world"}
	if len(updates) != len(texts) {
		t.Fatalf("expected %d transcript updates, got %d", len(texts), len(updates))
	}
	for i, update := range updates {
		if update.Event.Text != texts[i] {
			t.Fatalf("update %d: current text %q, want %q", i, update.Event.Text, texts[i])
		}
		if len(update.History) != i+1 {
			t.Fatalf("update %d: history length %d", i, len(update.History))
		}
	}

	display := f.display.Snapshot()
	if display.Current.Text != "hello world" || display.Analysis == nil || display.Analysis.Sentiment != 0.8 {
		t.Fatalf("unexpected display state: %+v", display)
	}
	if loading := f.sink.snapshotLoading(); !reflect.DeepEqual(loading, []bool{true, false}) {
		t.Fatalf("unexpected loading sequence: %v", loading)
	}

	_ = f.controller.Close(context.Background())
}

func TestSessionControllerShortFinalSkipsAnalysis(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	f := newControllerFixture(stream)
	if err := f.controller.StartSession(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	stream.events <- domain.TranscriptEvent{Text: "hi", IsFinal: true}
	waitFor(t, "transcript update", func() bool {
		return len(f.sink.snapshotTranscripts()) == 1
	})
	_ = f.controller.Close(context.Background())

	if calls := f.analyzer.calls(); len(calls) != 0 {
		t.Fatalf("expected no analysis, got %v", calls)
	}
	history := f.controller.Transcripts().History()
	if len(history) != 1 || history[0].Text != "hi" {
		t.Fatalf("expected short final in history, got %+v", history)
	}
}

func TestSessionControllerLogsShortFinalLengthInRunes(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	stream := newFakeStreamingSession()
	controller := NewSessionController(Dependencies{
		Audio:    newFakeAudioCapture(),
		Provider: newFakeProvider(stream),
		Analysis: NewAnalysisCoordinator(newFakeAnalyzer(domain.AnalysisResult{}), nil, &recordingSink{}, time.Second, nil, nil),
		Events:   &recordingSink{},
		Logger:   logger.FromCore(core),
	}, Config{})
	if err := controller.StartSession(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	stream.events <- domain.TranscriptEvent{Text: "  ñoñ ", IsFinal: true}
	waitFor(t, "short final log", func() bool {
		return logs.FilterMessage("Final transcript too short for analysis").Len() == 1
	})
	_ = controller.Close(context.Background())

	entry := logs.FilterMessage("Final transcript too short for analysis").All()[0]
	if got := entry.ContextMap()["chars"]; got != int64(3) {
		t.Fatalf("expected 3 chars, got %v", got)
	}
}

func TestSessionControllerCopyTranscript(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	f := newControllerFixture(stream)

	if _, err := f.controller.CopyTranscript(context.Background()); !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("expected ErrNoTranscript, got %v", err)
	}

	if err := f.controller.StartSession(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	stream.events <- domain.TranscriptEvent{Text: "good morning", IsFinal: true}
	waitFor(t, "transcript update", func() bool {
		return len(f.sink.snapshotTranscripts()) == 1
	})
	_ = f.controller.Close(context.Background())

	text, err := f.controller.CopyTranscript(context.Background())
	if err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	if text != "good morning" || f.clipboard.lastText != "good morning" {
		t.Fatalf("unexpected copied text: %q / %q", text, f.clipboard.lastText)
	}
}
