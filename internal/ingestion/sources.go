// Package ingestion turns chain activity for one program into a stream of
// transaction notifications.
package ingestion

import (
	"context"

	"solana-trade-ledger/internal/solana"
)

// Notification is one transaction observed by a source.
type Notification struct {
	Signature string
	Slot      int64
	// Tx is set when the source already holds the full transaction.
	// Otherwise the consumer fetches it by signature.
	Tx *solana.Transaction
}

// Source produces notifications for a program.
type Source interface {
	// Name identifies the source in logs and metrics.
	Name() string
	// Subscribe starts delivery. The channel is closed when ctx is done or
	// the source can no longer deliver.
	Subscribe(ctx context.Context) (<-chan Notification, error)
}
