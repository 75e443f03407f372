package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/batchbot/internal/domain"
)

// Stream buffers the events of one pipeline run until they are consumed.
// Each event is delivered at most once.
type Stream struct {
	mu         sync.Mutex
	pending    []Event
	wake       chan struct{}
	finished   bool
	finishedAt time.Time
	discarded  bool
	claimed    bool
}

func newStream() *Stream {
	return &Stream{wake: make(chan struct{})}
}

// Publish appends an event. Events published after Discard are dropped.
func (s *Stream) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discarded || s.finished {
		return
	}
	s.pending = append(s.pending, e)
	s.signal()
}

// Discarded reports whether the stream was discarded by its session closing.
func (s *Stream) Discarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discarded
}

func (s *Stream) finish(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	s.finishedAt = now
	s.signal()
}

func (s *Stream) discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarded = true
	s.pending = nil
	s.signal()
}

// signal wakes waiting readers. Callers hold s.mu.
func (s *Stream) signal() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// next blocks until an event is available. ok is false once the run has
// finished and every event was delivered.
func (s *Stream) next(ctx context.Context) (Event, bool, error) {
	for {
		s.mu.Lock()
		switch {
		case s.discarded:
			s.mu.Unlock()
			return Event{}, false, domain.ErrNoActiveStream
		case len(s.pending) > 0:
			e := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return e, true, nil
		case s.finished:
			s.mu.Unlock()
			return Event{}, false, nil
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, false, ctx.Err()
		case <-wake:
		}
	}
}

// Registry holds the one-shot progress streams of in-flight and finished
// pipeline runs, keyed by session.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*Stream
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*Stream), now: time.Now}
}

// open registers a fresh stream for a session. A stream whose run is still
// going makes the call fail with ErrPipelineActive; a finished one that was
// never drained is replaced.
func (r *Registry) open(sessionID string) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.streams[sessionID]; ok {
		old.mu.Lock()
		running := !old.finished
		old.mu.Unlock()
		if running {
			return nil, domain.ErrPipelineActive
		}
		old.discard()
	}
	st := newStream()
	r.streams[sessionID] = st
	return st, nil
}

// Active reports whether a run for the session is still producing events.
func (r *Registry) Active(sessionID string) bool {
	r.mu.Lock()
	st, ok := r.streams[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return !st.finished
}

// Subscribe claims the session's stream. Only one subscriber may hold a
// stream at a time; a drained or unknown stream yields ErrNoActiveStream.
func (r *Registry) Subscribe(sessionID string) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.streams[sessionID]
	if !ok {
		return nil, domain.ErrNoActiveStream
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.claimed || st.discarded {
		return nil, domain.ErrNoActiveStream
	}
	st.claimed = true
	return &Subscription{registry: r, sessionID: sessionID, stream: st}, nil
}

// Discard drops the session's stream and detaches its subscriber. It reports
// whether a stream existed.
func (r *Registry) Discard(sessionID string) bool {
	r.mu.Lock()
	st, ok := r.streams[sessionID]
	delete(r.streams, sessionID)
	r.mu.Unlock()

	if ok {
		st.discard()
	}
	return ok
}

// Sweep evicts unclaimed streams that finished more than maxAge ago.
func (r *Registry) Sweep(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, st := range r.streams {
		st.mu.Lock()
		stale := st.finished && !st.claimed && st.finishedAt.Before(cutoff)
		st.mu.Unlock()
		if stale {
			delete(r.streams, id)
			st.discard()
			n++
		}
	}
	return n
}

func (r *Registry) remove(sessionID string, st *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streams[sessionID] == st {
		delete(r.streams, sessionID)
	}
}

func (r *Registry) release(st *Stream) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.claimed = false
}

// Subscription is a claim on one session's progress stream.
type Subscription struct {
	registry  *Registry
	sessionID string
	stream    *Stream
	drained   bool
	closeOnce sync.Once
}

// Next returns the next event. ok is false once the stream is drained; the
// stream is then removed from the registry. If the session is closed while
// waiting, Next returns ErrNoActiveStream.
func (s *Subscription) Next(ctx context.Context) (Event, bool, error) {
	e, ok, err := s.stream.next(ctx)
	if err == nil && !ok && !s.drained {
		s.drained = true
		s.registry.remove(s.sessionID, s.stream)
	}
	return e, ok, err
}

// Close ends the subscription. An undrained stream is released so a later
// subscriber receives the events not yet delivered.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if !s.drained {
			s.registry.release(s.stream)
		}
	})
}
