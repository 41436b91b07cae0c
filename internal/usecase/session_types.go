package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"aura/internal/ports"
)

// activeSession owns the device and socket of one recording session.
type activeSession struct {
	id        string
	startedAt time.Time
	cancel    context.CancelFunc

	mu       sync.Mutex
	audio    ports.AudioSession
	stream   ports.StreamingSession
	open     bool
	stopping bool

	// ready is closed once StartSession has finished acquiring resources.
	ready chan struct{}
	// ended is closed once teardown has finished.
	ended chan struct{}
	// loopsDone is closed when the transcript reader exits; nil until Open.
	loopsDone chan struct{}

	droppedBeforeOpen atomic.Int64

	releaseOnce sync.Once
	releaseErr  error
}

func newActiveSession(id string, cancel context.CancelFunc, startedAt time.Time) *activeSession {
	return &activeSession{
		id:        id,
		startedAt: startedAt,
		cancel:    cancel,
		ready:     make(chan struct{}),
		ended:     make(chan struct{}),
	}
}

func (s *activeSession) setAudio(audio ports.AudioSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = audio
}

// attachStream marks the session open. It fails once a stop has begun.
func (s *activeSession) attachStream(stream ports.StreamingSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = stream
	if s.stopping {
		return false
	}
	s.open = true
	s.loopsDone = make(chan struct{})
	return true
}

// sink returns the stream frames should go to, or nil while not open.
func (s *activeSession) sink() ports.StreamingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || s.stopping {
		return nil
	}
	return s.stream
}

// beginStop reports whether the caller is the first to end the session.
func (s *activeSession) beginStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.stopping = true
	return true
}

func (s *activeSession) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// release stops capture before closing the socket so queued frames are
// flushed ahead of the close frame.
func (s *activeSession) release() error {
	s.releaseOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		audio, stream := s.audio, s.stream
		s.open = false
		s.mu.Unlock()

		if audio != nil {
			s.releaseErr = audio.Stop()
		}
		if stream != nil {
			_ = stream.Close()
		}
	})
	return s.releaseErr
}

func (s *activeSession) waitLoops() {
	s.mu.Lock()
	done := s.loopsDone
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}
