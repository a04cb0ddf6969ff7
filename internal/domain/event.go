package domain

// EventType names an outbound ledger notification.
type EventType string

// Event type constants
const (
	EventPositionOpened  EventType = "position_opened"
	EventPositionUpdated EventType = "position_updated"
	EventPositionRemoved EventType = "position_removed"
)

// Event reasons
const (
	ReasonBuy       = "buy"
	ReasonSell      = "sell"
	ReasonPriceMove = "price_move"
	ReasonMetadata  = "metadata"
	ReasonValuation = "valuation_filter"
)

// Status is the ledger rollup attached to every event.
type Status struct {
	ActivePositions int `json:"active_positions"`
	ClosedPositions int `json:"closed_positions"`
	TrackedAssets   int `json:"tracked_assets"`
	TrackedWallets  int `json:"tracked_wallets"`
}

// Event is a change notification emitted by the orchestrator.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Reason    string    `json:"reason"`
	Timestamp int64     `json:"timestamp"` // Unix ms
	Position  Position  `json:"position"`
	Status    Status    `json:"status"`
}
