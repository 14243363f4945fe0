package store

import (
	"context"
	"sync"
)

// Pending is a persistence call that has been dispatched.
type Pending struct {
	done chan struct{}
	err  error
}

func settled(err error) *Pending {
	p := &Pending{done: make(chan struct{}), err: err}
	close(p.done)
	return p
}

// Done is closed once the call has settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the call settles or ctx ends.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Syncer runs persistence calls in the background. Calls sharing a key run
// one after another in the order they were enqueued; calls with disjoint
// keys run concurrently.
type Syncer struct {
	mu      sync.Mutex
	tails   map[string]*Pending
	running int
	idle    chan struct{} // closed when running drops to zero
}

func NewSyncer() *Syncer {
	return &Syncer{tails: make(map[string]*Pending)}
}

// Enqueue schedules fn after every earlier call on any of keys.
func (s *Syncer) Enqueue(keys []string, fn func() error) *Pending {
	p := &Pending{done: make(chan struct{})}

	s.mu.Lock()
	var prev []*Pending
	for _, k := range keys {
		if t, ok := s.tails[k]; ok {
			prev = append(prev, t)
		}
		s.tails[k] = p
	}
	if s.running == 0 {
		s.idle = make(chan struct{})
	}
	s.running++
	s.mu.Unlock()

	go func() {
		for _, t := range prev {
			<-t.done
		}
		p.err = fn()
		close(p.done)

		s.mu.Lock()
		for _, k := range keys {
			if s.tails[k] == p {
				delete(s.tails, k)
			}
		}
		s.running--
		if s.running == 0 {
			close(s.idle)
		}
		s.mu.Unlock()
	}()
	return p
}

// Flush waits until no call is running. Calls enqueued while Flush waits
// are waited for too.
func (s *Syncer) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.running == 0 {
			s.mu.Unlock()
			return nil
		}
		idle := s.idle
		s.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
