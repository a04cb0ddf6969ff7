package stub

import (
	"context"
	"errors"
	"sync"

	"solana-trade-ledger/internal/ingestion"
)

// ErrSubscribe is returned by Subscribe when the source is configured to
// refuse subscriptions.
var ErrSubscribe = errors.New("subscribe refused")

// Source is a scripted ingestion.Source. Each Subscribe hands out a fresh
// channel that tests feed with Send and end with End.
type Source struct {
	name string

	mu         sync.Mutex
	current    chan ingestion.Notification
	subscribes int
	refuse     int // remaining subscribes to refuse; -1 refuses forever
	ready      chan struct{}
}

// NewSource creates a scripted source.
func NewSource(name string) *Source {
	return &Source{name: name, ready: make(chan struct{}, 16)}
}

var _ ingestion.Source = (*Source)(nil)

// Name implements ingestion.Source.
func (s *Source) Name() string { return s.name }

// Subscribe implements ingestion.Source.
func (s *Source) Subscribe(ctx context.Context) (<-chan ingestion.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes++
	if s.refuse != 0 {
		if s.refuse > 0 {
			s.refuse--
		}
		return nil, ErrSubscribe
	}

	ch := make(chan ingestion.Notification, 64)
	s.current = ch
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.current == ch {
			close(ch)
			s.current = nil
		}
	}()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return ch, nil
}

// Ready is signaled after every successful Subscribe.
func (s *Source) Ready() <-chan struct{} {
	return s.ready
}

// Send delivers n on the live subscription. It reports false when there
// is none.
func (s *Source) Send(n ingestion.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return false
	}
	s.current <- n
	return true
}

// End closes the live subscription, simulating a dropped connection.
func (s *Source) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		close(s.current)
		s.current = nil
	}
}

// Refuse makes the next n subscribes fail; n < 0 fails all of them.
func (s *Source) Refuse(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = n
}

// Subscribes returns how many times Subscribe was called.
func (s *Source) Subscribes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes
}
