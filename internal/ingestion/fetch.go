package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"solana-trade-ledger/internal/solana"
)

// ErrTransactionUnavailable is returned when every attempt failed or the
// node never returned the transaction.
var ErrTransactionUnavailable = errors.New("transaction unavailable")

// Fetch defaults.
const (
	DefaultFetchAttempts  = 3
	DefaultFetchTimeout   = 10 * time.Second
	DefaultFetchBaseDelay = 500 * time.Millisecond
)

// FetchOptions bounds FetchWithRetry.
type FetchOptions struct {
	Attempts  int
	Timeout   time.Duration // per attempt
	BaseDelay time.Duration // doubled after each failed attempt
	Logger    *log.Logger
}

func (o FetchOptions) withDefaults() FetchOptions {
	if o.Attempts <= 0 {
		o.Attempts = DefaultFetchAttempts
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultFetchTimeout
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultFetchBaseDelay
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// FetchWithRetry fetches a transaction with exponential backoff. A
// transaction the node does not know yet is retried like an error, since
// notifications can arrive before the transaction is queryable.
func FetchWithRetry(ctx context.Context, rpc solana.RPCClient, signature string, opts FetchOptions) (*solana.Transaction, error) {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		if attempt > 0 {
			delay := opts.BaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		actx, cancel := context.WithTimeout(ctx, opts.Timeout)
		tx, err := rpc.GetTransaction(actx, signature)
		cancel()
		if err == nil && tx != nil {
			return tx, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil {
			err = errors.New("not found")
		}
		lastErr = err
		opts.Logger.Printf("retry %d/%d for %s: %v", attempt+1, opts.Attempts, signature, err)
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrTransactionUnavailable, signature, opts.Attempts, lastErr)
}
