package pricing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"solana-trade-ledger/internal/domain"
	"solana-trade-ledger/internal/solana"
)

var (
	// ErrMissingReference aborts a cycle whose response lacks a price for
	// the reference asset.
	ErrMissingReference = errors.New("reference asset price missing")
	// ErrCycleInProgress is returned by PollOnce while another cycle runs.
	ErrCycleInProgress = errors.New("price cycle already in progress")
)

// DefaultInterval is the polling period.
const DefaultInterval = 10 * time.Second

// Ledger is the slice of the position ledger the poller needs.
type Ledger interface {
	ActiveAssets() []string
	ApplyPriceSnapshot(asset string, priceBase, priceQuote float64, at int64) []domain.Position
}

// Snapshot is one applied price point.
type Snapshot struct {
	Asset      string
	PriceBase  float64
	PriceQuote float64
	At         int64 // Unix ms
	// Moved holds the active positions whose price moved significantly.
	Moved []domain.Position
}

// CycleResult summarizes one poll.
type CycleResult struct {
	Assets    int
	Snapshots []Snapshot
	Missing   []string // assets the oracle returned no price for
	Duration  time.Duration
}

// Options configures a Poller.
type Options struct {
	Interval time.Duration
	// Timeout bounds one cycle. Zero uses Interval.
	Timeout        time.Duration
	ReferenceAsset string
	Logger         *log.Logger
	Now            func() time.Time
	// OnSnapshot is called, on the poller goroutine, for every applied
	// snapshot.
	OnSnapshot func(Snapshot)
	// OnCycle is called after every cycle, failed or not.
	OnCycle func(CycleResult, error)
}

// Poller periodically prices every asset with an active position.
type Poller struct {
	oracle  PriceOracle
	ledger  Ledger
	opts    Options
	logger  *log.Logger
	running atomic.Bool
}

// NewPoller creates a poller.
func NewPoller(oracle PriceOracle, ledger Ledger, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = opts.Interval
	}
	if opts.ReferenceAsset == "" {
		opts.ReferenceAsset = solana.WrappedSOLMint
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Poller{oracle: oracle, ledger: ledger, opts: opts, logger: logger}
}

// Run polls every interval until ctx is canceled. Failed cycles are logged
// and the schedule continues.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := p.PollOnce(ctx)
			switch {
			case errors.Is(err, ErrCycleInProgress):
			case err != nil && ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				p.logger.Printf("price cycle skipped: %v", err)
			case len(res.Missing) > 0:
				p.logger.Printf("price cycle: %d/%d assets priced, missing %d",
					len(res.Snapshots), res.Assets, len(res.Missing))
			}
		}
	}
}

// PollOnce runs one cycle. It returns ErrCycleInProgress without doing
// anything if a cycle is already running.
func (p *Poller) PollOnce(ctx context.Context) (CycleResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		return CycleResult{}, ErrCycleInProgress
	}
	defer p.running.Store(false)

	start := time.Now()
	res, err := p.cycle(ctx)
	res.Duration = time.Since(start)
	if p.opts.OnCycle != nil {
		p.opts.OnCycle(res, err)
	}
	return res, err
}

func (p *Poller) cycle(ctx context.Context) (CycleResult, error) {
	assets := p.ledger.ActiveAssets()
	res := CycleResult{Assets: len(assets)}
	if len(assets) == 0 {
		return res, nil
	}

	ids := make([]string, 0, len(assets)+1)
	ids = append(ids, assets...)
	ids = append(ids, p.opts.ReferenceAsset)

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	prices, err := p.oracle.Prices(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("fetch prices: %w", err)
	}
	ref, ok := prices[p.opts.ReferenceAsset]
	if !ok || ref <= 0 {
		return res, ErrMissingReference
	}

	at := p.opts.Now().UnixMilli()
	for _, asset := range assets {
		quote, ok := prices[asset]
		if !ok || quote <= 0 {
			res.Missing = append(res.Missing, asset)
			continue
		}
		snap := Snapshot{
			Asset:      asset,
			PriceBase:  quote / ref,
			PriceQuote: quote,
			At:         at,
		}
		snap.Moved = p.ledger.ApplyPriceSnapshot(asset, snap.PriceBase, snap.PriceQuote, at)
		res.Snapshots = append(res.Snapshots, snap)
		if p.opts.OnSnapshot != nil {
			p.opts.OnSnapshot(snap)
		}
	}
	sort.Strings(res.Missing)
	return res, nil
}
