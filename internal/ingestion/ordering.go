package ingestion

import "errors"

// ErrSequenceReused is returned when a sequence number is released twice or
// is older than the release point.
var ErrSequenceReused = errors.New("sequence already released")

// Sequencer is a reorder buffer. Results completed out of order by
// concurrent workers are released strictly by their arrival sequence,
// starting at 0. It is not safe for concurrent use.
type Sequencer[T any] struct {
	next    uint64
	pending map[uint64]T
}

// NewSequencer creates an empty sequencer.
func NewSequencer[T any]() *Sequencer[T] {
	return &Sequencer[T]{pending: make(map[uint64]T)}
}

// Put records the result for seq and returns every result that is now
// releasable, in sequence order.
func (s *Sequencer[T]) Put(seq uint64, v T) ([]T, error) {
	if seq < s.next {
		return nil, ErrSequenceReused
	}
	if _, ok := s.pending[seq]; ok {
		return nil, ErrSequenceReused
	}
	s.pending[seq] = v

	var out []T
	for {
		r, ok := s.pending[s.next]
		if !ok {
			return out, nil
		}
		delete(s.pending, s.next)
		out = append(out, r)
		s.next++
	}
}

// Next returns the sequence number waiting to be released.
func (s *Sequencer[T]) Next() uint64 {
	return s.next
}

// Pending returns how many results wait on an earlier sequence.
func (s *Sequencer[T]) Pending() int {
	return len(s.pending)
}
