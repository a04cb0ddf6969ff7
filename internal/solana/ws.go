package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeLogs subscribes to program logs matching the filter.
	// The returned channel is closed when the client is closed.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs that mention any of these program IDs.
	Mentions []string
}

// params renders the filter as the first logsSubscribe parameter.
func (f LogsFilter) params() map[string]interface{} {
	if len(f.Mentions) > 0 {
		return map[string]interface{}{"mentions": f.Mentions}
	}
	return map[string]interface{}{"all": nil}
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}
