package usecase

import (
	"sync"

	"aura/internal/domain"
	"aura/internal/ports"
)

// Broadcaster fans every event out to its subscribers in subscription order.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscriber
}

type subscriber struct {
	id   int
	sink ports.EventSink
}

func NewBroadcaster(sinks ...ports.EventSink) *Broadcaster {
	b := &Broadcaster{}
	for _, sink := range sinks {
		b.Subscribe(sink)
	}
	return b
}

// Subscribe registers sink and returns a function that removes it.
func (b *Broadcaster) Subscribe(sink ports.EventSink) func() {
	if sink == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber{id: id, sink: sink})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Broadcaster) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Broadcaster) sinks() []ports.EventSink {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ports.EventSink, len(b.subs))
	for i, sub := range b.subs {
		out[i] = sub.sink
	}
	return out
}

func (b *Broadcaster) SessionStateChanged(snapshot domain.SessionSnapshot) {
	for _, sink := range b.sinks() {
		sink.SessionStateChanged(snapshot)
	}
}

func (b *Broadcaster) TranscriptUpdated(update domain.TranscriptUpdate) {
	for _, sink := range b.sinks() {
		sink.TranscriptUpdated(update)
	}
}

func (b *Broadcaster) SessionError(kind domain.ErrorKind, detail string) {
	for _, sink := range b.sinks() {
		sink.SessionError(kind, detail)
	}
}

func (b *Broadcaster) AnalysisLoading(loading bool) {
	for _, sink := range b.sinks() {
		sink.AnalysisLoading(loading)
	}
}

func (b *Broadcaster) AnalysisCompleted(outcome domain.AnalysisOutcome) {
	for _, sink := range b.sinks() {
		sink.AnalysisCompleted(outcome)
	}
}

func (b *Broadcaster) AnalysisFailed(outcome domain.AnalysisOutcome) {
	for _, sink := range b.sinks() {
		sink.AnalysisFailed(outcome)
	}
}
