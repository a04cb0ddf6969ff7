package ingestion

import (
	"context"
	"fmt"
	"log"

	"solana-trade-ledger/internal/solana"
)

// DialFunc opens a WebSocket client.
type DialFunc func(ctx context.Context) (solana.WSClient, error)

// WSSource streams signatures of transactions that mention a program via
// logsSubscribe. Every Subscribe opens its own connection, which is closed
// when the subscription ends.
type WSSource struct {
	dial    DialFunc
	program string
	logger  *log.Logger
}

// NewWSSource creates a WebSocket-backed source. A nil logger uses
// log.Default().
func NewWSSource(dial DialFunc, program string, logger *log.Logger) *WSSource {
	if logger == nil {
		logger = log.Default()
	}
	return &WSSource{dial: dial, program: program, logger: logger}
}

var _ Source = (*WSSource)(nil)

// Name implements Source.
func (s *WSSource) Name() string { return "ws" }

// Subscribe subscribes to logs mentioning the program. Failed transactions
// are dropped here since they cannot carry trades.
func (s *WSSource) Subscribe(ctx context.Context) (<-chan Notification, error) {
	ws, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	logsCh, err := ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{s.program}})
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("logs subscribe: %w", err)
	}
	s.logger.Printf("subscribed to program %s", s.program)

	out := make(chan Notification, 256)
	go func() {
		defer close(out)
		defer ws.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case notif, ok := <-logsCh:
				if !ok {
					s.logger.Println("logs channel closed")
					return
				}
				if notif.Err != nil || notif.Signature == "" {
					continue
				}
				select {
				case out <- Notification{Signature: notif.Signature, Slot: notif.Slot}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
