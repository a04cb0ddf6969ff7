// Package orchestrator runs the live tracker.
// It coordinates: source → fetch → decode → ledger → notifications, plus
// the price poller and metadata resolution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"solana-trade-ledger/internal/decoder"
	"solana-trade-ledger/internal/domain"
	"solana-trade-ledger/internal/ingestion"
	"solana-trade-ledger/internal/ledger"
	"solana-trade-ledger/internal/metadata"
	"solana-trade-ledger/internal/notify"
	"solana-trade-ledger/internal/observability"
	"solana-trade-ledger/internal/pricing"
	"solana-trade-ledger/internal/solana"
)

// ErrSubscriptionLost is returned by Run when no source can be kept alive.
var ErrSubscriptionLost = errors.New("subscription lost")

var (
	errSourceClosed = errors.New("source closed")
	errStalled      = errors.New("no notifications within stall timeout")
)

// Defaults.
const (
	DefaultWorkers             = 8
	DefaultStallTimeout        = 2 * time.Minute
	DefaultMaxResubscribes     = 5
	DefaultResubscribeDelay    = time.Second
	DefaultMaxResubscribeDelay = 30 * time.Second
	DefaultMetadataConcurrency = 4
	DefaultQueueSize           = 4096
)

// Options configures an Orchestrator.
type Options struct {
	// Required
	Ledger  *ledger.Ledger
	Decoder *decoder.Decoder
	Primary ingestion.Source
	// RPC fetches transactions for notifications that carry only a
	// signature.
	RPC solana.RPCClient

	// Optional
	Fallback ingestion.Source
	Oracle   pricing.PriceOracle // nil disables price polling
	Pricing  pricing.Options     // OnSnapshot, OnCycle and Logger are set here
	Resolver metadata.Resolver   // nil disables metadata
	Sink     notify.Sink         // nil drops events
	Metrics  *observability.Metrics

	Workers             int
	Fetch               ingestion.FetchOptions
	StallTimeout        time.Duration
	MaxResubscribes     int
	ResubscribeDelay    time.Duration
	MaxResubscribeDelay time.Duration
	MetadataConcurrency int
	QueueSize           int

	// Valuation filter bounds in quote currency; zero disables a bound.
	MinValuation float64
	MaxValuation float64

	Logger  *log.Logger
	Verbose bool
	Now     func() time.Time
}

// Stats are running counters for the status endpoint.
type Stats struct {
	Source          string `json:"source"`
	Notifications   int64  `json:"notifications"`
	FetchFailures   int64  `json:"fetch_failures"`
	TradesApplied   int64  `json:"trades_applied"`
	TradesRejected  int64  `json:"trades_rejected"`
	EventsPublished int64  `json:"events_published"`
	EventsDropped   int64  `json:"events_dropped"`
	Resubscribes    int64  `json:"resubscribes"`
	PriceCycles     int64  `json:"price_cycles"`
}

// Orchestrator owns the subscription, applies decoded trades to the ledger,
// owns the price poller and publishes change events.
type Orchestrator struct {
	ledger   *ledger.Ledger
	decoder  *decoder.Decoder
	rpc      solana.RPCClient
	primary  ingestion.Source
	fallback ingestion.Source
	poller   *pricing.Poller
	resolver metadata.Resolver
	sink     notify.Sink
	metrics  *observability.Metrics
	logger   *log.Logger
	verbose  bool
	now      func() time.Time

	workers             int
	fetch               ingestion.FetchOptions
	stallTimeout        time.Duration
	maxResubscribes     int
	resubscribeDelay    time.Duration
	maxResubscribeDelay time.Duration
	minValuation        float64
	maxValuation        float64

	events chan domain.Event

	metaSem   *semaphore.Weighted
	metaMu    sync.Mutex
	resolving map[string]struct{}
	bg        sync.WaitGroup
	runCtx    context.Context

	sourceMu sync.RWMutex
	source   string

	notifications   atomic.Int64
	fetchFailures   atomic.Int64
	tradesApplied   atomic.Int64
	tradesRejected  atomic.Int64
	eventsPublished atomic.Int64
	eventsDropped   atomic.Int64
	resubscribes    atomic.Int64
	priceCycles     atomic.Int64
}

// New creates an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Ledger == nil || opts.Decoder == nil || opts.Primary == nil {
		return nil, errors.New("orchestrator: ledger, decoder and primary source are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = DefaultStallTimeout
	}
	if opts.MaxResubscribes < 0 {
		opts.MaxResubscribes = DefaultMaxResubscribes
	}
	if opts.ResubscribeDelay <= 0 {
		opts.ResubscribeDelay = DefaultResubscribeDelay
	}
	if opts.MaxResubscribeDelay < opts.ResubscribeDelay {
		opts.MaxResubscribeDelay = DefaultMaxResubscribeDelay
	}
	if opts.MetadataConcurrency <= 0 {
		opts.MetadataConcurrency = DefaultMetadataConcurrency
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Fetch.Logger == nil {
		opts.Fetch.Logger = logger
	}

	o := &Orchestrator{
		ledger:              opts.Ledger,
		decoder:             opts.Decoder,
		rpc:                 opts.RPC,
		primary:             opts.Primary,
		fallback:            opts.Fallback,
		resolver:            opts.Resolver,
		sink:                opts.Sink,
		metrics:             opts.Metrics,
		logger:              logger,
		verbose:             opts.Verbose,
		now:                 now,
		workers:             opts.Workers,
		fetch:               opts.Fetch,
		stallTimeout:        opts.StallTimeout,
		maxResubscribes:     opts.MaxResubscribes,
		resubscribeDelay:    opts.ResubscribeDelay,
		maxResubscribeDelay: opts.MaxResubscribeDelay,
		minValuation:        opts.MinValuation,
		maxValuation:        opts.MaxValuation,
		events:              make(chan domain.Event, opts.QueueSize),
		metaSem:             semaphore.NewWeighted(int64(opts.MetadataConcurrency)),
		resolving:           make(map[string]struct{}),
		runCtx:              context.Background(),
	}

	if opts.Oracle != nil {
		popts := opts.Pricing
		if popts.Logger == nil {
			popts.Logger = logger
		}
		popts.OnSnapshot = o.handleSnapshot
		popts.OnCycle = o.handleCycle
		o.poller = pricing.NewPoller(opts.Oracle, opts.Ledger, popts)
	}
	return o, nil
}

// Ledger returns the ledger the orchestrator writes to.
func (o *Orchestrator) Ledger() *ledger.Ledger { return o.ledger }

// Poller returns the price poller, or nil when pricing is disabled.
func (o *Orchestrator) Poller() *pricing.Poller { return o.poller }

// Stats returns a snapshot of the running counters.
func (o *Orchestrator) Stats() Stats {
	o.sourceMu.RLock()
	source := o.source
	o.sourceMu.RUnlock()
	return Stats{
		Source:          source,
		Notifications:   o.notifications.Load(),
		FetchFailures:   o.fetchFailures.Load(),
		TradesApplied:   o.tradesApplied.Load(),
		TradesRejected:  o.tradesRejected.Load(),
		EventsPublished: o.eventsPublished.Load(),
		EventsDropped:   o.eventsDropped.Load(),
		Resubscribes:    o.resubscribes.Load(),
		PriceCycles:     o.priceCycles.Load(),
	}
}

// Run blocks until ctx is canceled, returning nil, or until every source
// is exhausted, returning an error wrapping ErrSubscriptionLost.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	o.runCtx = gctx

	g.Go(func() error {
		o.publishLoop(gctx)
		return nil
	})
	if o.poller != nil {
		g.Go(func() error {
			err := o.poller.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		return o.ingest(gctx)
	})

	err := g.Wait()
	o.bg.Wait()
	if ctx.Err() != nil {
		o.logger.Println("orchestrator stopped")
		return nil
	}
	return err
}

func (o *Orchestrator) setSource(name string) {
	o.sourceMu.Lock()
	o.source = name
	o.sourceMu.Unlock()

	names := []string{o.primary.Name()}
	if o.fallback != nil {
		names = append(names, o.fallback.Name())
	}
	o.metrics.RecordSourceSwitch(name, names...)
}

// ingest supervises the active source. A dropped or stalled subscription
// is restarted with exponential backoff; after MaxResubscribes consecutive
// failures the fallback source takes over, and its exhaustion is fatal.
func (o *Orchestrator) ingest(ctx context.Context) error {
	source := o.primary
	failures := 0
	delay := o.resubscribeDelay

	for {
		o.setSource(source.Name())
		delivered, err := o.consume(ctx, source)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered > 0 {
			failures = 0
			delay = o.resubscribeDelay
		}
		failures++
		o.logger.Printf("%s source lost (%d/%d): %v", source.Name(), failures, o.maxResubscribes, err)

		if failures > o.maxResubscribes {
			if source == o.fallback || o.fallback == nil {
				return fmt.Errorf("%w: %s: %v", ErrSubscriptionLost, source.Name(), err)
			}
			o.logger.Printf("switching to %s source", o.fallback.Name())
			source = o.fallback
			failures = 0
			delay = o.resubscribeDelay
			continue
		}

		o.resubscribes.Add(1)
		o.metrics.RecordResubscribe()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > o.maxResubscribeDelay {
			delay = o.maxResubscribeDelay
		}
	}
}

// consume runs one subscription until it closes, stalls, or ctx ends. It
// returns how many notifications were delivered.
func (o *Orchestrator) consume(ctx context.Context, source ingestion.Source) (int, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := source.Subscribe(subCtx)
	if err != nil {
		return 0, fmt.Errorf("subscribe: %w", err)
	}

	p := newPipeline(o, subCtx)
	defer p.wait()

	stall := time.NewTimer(o.stallTimeout)
	defer stall.Stop()

	delivered := 0
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case <-stall.C:
			return delivered, errStalled
		case n, ok := <-ch:
			if !ok {
				return delivered, errSourceClosed
			}
			delivered++
			o.notifications.Add(1)
			o.metrics.RecordNotification(source.Name(), n.Slot)
			if !stall.Stop() {
				select {
				case <-stall.C:
				default:
				}
			}
			stall.Reset(o.stallTimeout)
			if !p.submit(n) {
				return delivered, subCtx.Err()
			}
		}
	}
}

func (o *Orchestrator) debugf(format string, args ...interface{}) {
	if o.verbose {
		o.logger.Printf(format, args...)
	}
}

// rejectReason maps ledger errors to metric labels.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrDuplicateTrade):
		return "duplicate"
	case errors.Is(err, ledger.ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, ledger.ErrNoPosition):
		return "no_position"
	case errors.Is(err, ledger.ErrInvalidTrade):
		return "invalid"
	default:
		return "other"
	}
}

// applyTrades writes decoded trades to the ledger and queues events.
// Callers serialize it so trades apply in observation order.
func (o *Orchestrator) applyTrades(trades []domain.DecodedTrade, observed time.Time) {
	for _, t := range trades {
		res, err := o.ledger.ApplyTrade(t)
		if err != nil {
			o.tradesRejected.Add(1)
			o.metrics.RecordTrade(t.Side, rejectReason(err), observed)
			if !errors.Is(err, ledger.ErrDuplicateTrade) {
				o.debugf("trade %s %s %s rejected: %v", t.TxID, t.Side, domain.ShortID(t.Asset), err)
			}
			continue
		}
		o.tradesApplied.Add(1)
		o.metrics.RecordTrade(t.Side, "", observed)
		if res.Clamped {
			o.logger.Printf("sell %s exceeded holding of %s; holding floored at 0",
				t.TxID, res.Position.Key())
		}

		typ := domain.EventPositionUpdated
		if res.Opened {
			typ = domain.EventPositionOpened
		}
		reason := domain.ReasonBuy
		if t.Side == domain.SideSell {
			reason = domain.ReasonSell
		}
		o.emit(typ, reason, res.Position)

		if res.Opened {
			o.resolveMetadata(t.Asset)
		}
	}
	if len(trades) > 0 {
		o.metrics.SetStatus(o.ledger.Status())
	}
}

// handleSnapshot runs on the poller goroutine for every applied price.
func (o *Orchestrator) handleSnapshot(s pricing.Snapshot) {
	removed := o.ledger.PruneByValuation(s.Asset, o.minValuation, o.maxValuation)
	gone := make(map[domain.PositionKey]struct{}, len(removed))
	for _, p := range removed {
		gone[p.Key()] = struct{}{}
	}

	for _, p := range s.Moved {
		if _, ok := gone[p.Key()]; ok {
			continue
		}
		o.emit(domain.EventPositionUpdated, domain.ReasonPriceMove, p)
	}
	for _, p := range removed {
		o.logger.Printf("removed %s: valuation %.2f outside filter", p.Key(), p.Valuation())
		o.emit(domain.EventPositionRemoved, domain.ReasonValuation, p)
	}
	o.metrics.RecordRemoved(len(removed))
}

func (o *Orchestrator) handleCycle(res pricing.CycleResult, err error) {
	o.priceCycles.Add(1)
	moved := 0
	for _, s := range res.Snapshots {
		moved += len(s.Moved)
	}
	o.metrics.RecordPriceCycle(len(res.Snapshots), moved, len(res.Missing), res.Duration, err)
	o.metrics.SetStatus(o.ledger.Status())
	if err == nil && res.Assets > 0 {
		o.debugf("price cycle: %d assets, %d priced, %d moved in %v",
			res.Assets, len(res.Snapshots), moved, res.Duration)
	}
}

// resolveMetadata looks up display metadata for asset in the background.
// Failures are ignored; a resolution for a removed asset is a no-op.
func (o *Orchestrator) resolveMetadata(asset string) {
	if o.resolver == nil {
		return
	}
	o.metaMu.Lock()
	if _, busy := o.resolving[asset]; busy {
		o.metaMu.Unlock()
		return
	}
	o.resolving[asset] = struct{}{}
	o.metaMu.Unlock()

	ctx := o.runCtx
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		defer func() {
			o.metaMu.Lock()
			delete(o.resolving, asset)
			o.metaMu.Unlock()
		}()

		if err := o.metaSem.Acquire(ctx, 1); err != nil {
			return
		}
		defer o.metaSem.Release(1)

		meta, err := o.resolver.Resolve(ctx, asset)
		if err != nil {
			o.metrics.RecordMetadata("error")
			o.debugf("metadata %s: %v", domain.ShortID(asset), err)
			return
		}
		if meta.Name == "" && meta.Symbol == "" {
			o.metrics.RecordMetadata("empty")
			return
		}
		o.metrics.RecordMetadata("ok")

		if o.ledger.SetMetadata(asset, meta.Name, meta.Symbol) == 0 {
			return
		}
		for _, p := range o.ledger.AssetPositions(asset) {
			o.emit(domain.EventPositionUpdated, domain.ReasonMetadata, p)
		}
	}()
}

// emit queues an event for the publisher without blocking the caller.
func (o *Orchestrator) emit(typ domain.EventType, reason string, p domain.Position) {
	if o.sink == nil {
		return
	}
	ev := domain.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Reason:    reason,
		Timestamp: o.now().UnixMilli(),
		Position:  p,
		Status:    o.ledger.Status(),
	}
	select {
	case o.events <- ev:
	default:
		o.eventsDropped.Add(1)
		o.metrics.RecordDropped()
	}
}

// publishLoop delivers queued events to the sink. On shutdown it drains
// what is already queued, bounded by a short timeout.
func (o *Orchestrator) publishLoop(ctx context.Context) {
	for {
		select {
		case ev := <-o.events:
			o.publish(ctx, ev)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			for {
				select {
				case ev := <-o.events:
					o.publish(drainCtx, ev)
				default:
					return
				}
			}
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev domain.Event) {
	err := o.sink.Publish(ctx, ev)
	o.eventsPublished.Add(1)
	o.metrics.RecordPublish(ev.Type, err)
	if err != nil {
		o.logger.Printf("publish %s %s: %v", ev.Type, ev.Position.Key(), err)
	}
}
