package ingestion

import (
	"context"
	"log"
	"time"

	"solana-trade-ledger/internal/solana"
)

// Slot polling defaults.
const (
	DefaultSlotPollInterval = 400 * time.Millisecond
	DefaultMaxSlotsPerPoll  = 32
	DefaultMaxSlotFailures  = 10
)

// SlotSourceOptions configures a SlotSource.
type SlotSourceOptions struct {
	Interval time.Duration
	// MaxSlotsPerPoll caps how far one poll walks forward; the rest is
	// picked up by later polls.
	MaxSlotsPerPoll int
	// MaxFailures is the number of consecutive RPC failures after which
	// the source gives up and closes its channel.
	MaxFailures int
	Logger      *log.Logger
}

// SlotSource polls getSlot and reads every new block, emitting the
// successful transactions that reference the program. It needs no
// WebSocket and serves as the fallback path.
type SlotSource struct {
	rpc     solana.RPCClient
	program string
	opts    SlotSourceOptions
	logger  *log.Logger
}

// NewSlotSource creates a slot-polling source.
func NewSlotSource(rpc solana.RPCClient, program string, opts SlotSourceOptions) *SlotSource {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSlotPollInterval
	}
	if opts.MaxSlotsPerPoll <= 0 {
		opts.MaxSlotsPerPoll = DefaultMaxSlotsPerPoll
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxSlotFailures
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &SlotSource{rpc: rpc, program: program, opts: opts, logger: logger}
}

var _ Source = (*SlotSource)(nil)

// Name implements Source.
func (s *SlotSource) Name() string { return "slot" }

// Subscribe starts polling from the current slot. The initial getSlot
// failing fails Subscribe.
func (s *SlotSource) Subscribe(ctx context.Context) (<-chan Notification, error) {
	start, err := s.rpc.GetSlot(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("slot polling from %d every %v", start, s.opts.Interval)

	out := make(chan Notification, 256)
	go func() {
		defer close(out)
		s.poll(ctx, start, out)
	}()
	return out, nil
}

func (s *SlotSource) poll(ctx context.Context, next int64, out chan<- Notification) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	failures := 0
	fail := func(err error) bool {
		failures++
		s.logger.Printf("slot poll failed (%d/%d): %v", failures, s.opts.MaxFailures, err)
		return failures >= s.opts.MaxFailures
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tip, err := s.rpc.GetSlot(ctx)
		if err != nil {
			if ctx.Err() != nil || fail(err) {
				return
			}
			continue
		}

		last := next + int64(s.opts.MaxSlotsPerPoll) - 1
		if last > tip {
			last = tip
		}
		var blockErr error
		for ; next <= last; next++ {
			block, err := s.rpc.GetBlock(ctx, next)
			if err != nil {
				blockErr = err
				break
			}
			failures = 0
			if !s.emitBlock(ctx, block, next, out) {
				return
			}
		}
		if blockErr != nil && (ctx.Err() != nil || fail(blockErr)) {
			return
		}
	}
}

// emitBlock sends the block's matching transactions. A nil block is a
// skipped slot. It returns false when ctx ended.
func (s *SlotSource) emitBlock(ctx context.Context, block *solana.Block, slot int64, out chan<- Notification) bool {
	if block == nil {
		return true
	}
	for i := range block.Transactions {
		tx := &block.Transactions[i]
		if tx.Signature == "" || !tx.Mentions(s.program) {
			continue
		}
		if tx.Meta != nil && tx.Meta.Failed() {
			continue
		}
		if tx.Slot == 0 {
			tx.Slot = slot
		}
		select {
		case out <- Notification{Signature: tx.Signature, Slot: slot, Tx: tx}:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
