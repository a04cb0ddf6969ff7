package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"solana-trade-ledger/internal/decoder"
	"solana-trade-ledger/internal/domain"
	"solana-trade-ledger/internal/ingestion"
)

// decoded is the outcome of fetching and decoding one notification. A
// failed fetch still yields a decoded value so the sequence advances.
type decoded struct {
	trades   []domain.DecodedTrade
	observed time.Time
}

// pipeline fetches and decodes notifications concurrently and applies the
// results in the order the notifications arrived.
type pipeline struct {
	o   *Orchestrator
	ctx context.Context
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	next uint64 // owned by the submitting goroutine

	mu  sync.Mutex
	seq *ingestion.Sequencer[decoded]
}

func newPipeline(o *Orchestrator, ctx context.Context) *pipeline {
	return &pipeline{
		o:   o,
		ctx: ctx,
		sem: semaphore.NewWeighted(int64(o.workers)),
		seq: ingestion.NewSequencer[decoded](),
	}
}

// submit blocks while every worker is busy. It returns false once the
// pipeline context is done.
func (p *pipeline) submit(n ingestion.Notification) bool {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return false
	}
	seq := p.next
	p.next++
	observed := p.o.now()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		d := p.process(n)
		d.observed = observed
		p.complete(seq, d)
	}()
	return true
}

func (p *pipeline) process(n ingestion.Notification) decoded {
	o := p.o
	tx := n.Tx
	if tx == nil {
		if o.rpc == nil {
			return decoded{}
		}
		var err error
		tx, err = ingestion.FetchWithRetry(p.ctx, o.rpc, n.Signature, o.fetch)
		o.metrics.RecordFetch(err)
		if err != nil {
			o.fetchFailures.Add(1)
			if p.ctx.Err() == nil {
				o.logger.Printf("fetch %s: %v", n.Signature, err)
			}
			return decoded{}
		}
	}

	res := o.decoder.Decode(tx)
	reasons := make([]string, 0, len(res.Skipped))
	for _, err := range res.Skipped {
		reasons = append(reasons, decoder.SkipReason(err))
		o.debugf("skip: %v", err)
	}
	o.metrics.RecordDecode(res.Trades, reasons)
	return decoded{trades: res.Trades}
}

// complete hands a result to the sequencer and applies whatever became
// contiguous. Holding mu while applying keeps ledger writes in order.
func (p *pipeline) complete(seq uint64, d decoded) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ready, err := p.seq.Put(seq, d)
	if err != nil {
		p.o.logger.Printf("sequencer: %v", err)
		return
	}
	for _, r := range ready {
		p.o.applyTrades(r.trades, r.observed)
	}
	p.o.metrics.SetSequencerPending(p.seq.Pending())
}

// wait blocks until every submitted notification has been applied.
func (p *pipeline) wait() {
	p.wg.Wait()
}
