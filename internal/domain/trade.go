package domain

// Side is the direction of a fill.
type Side string

// Side constants
const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// DecodedTrade is one buy or sell extracted from a transaction.
type DecodedTrade struct {
	Side      Side
	Wallet    string  // token account owner
	Asset     string  // mint address
	AssetQty  float64 // UI units (scaled by mint decimals)
	BaseQty   float64 // SOL
	TxID      string  // transaction signature
	Slot      int64
	Timestamp int64 // Unix ms
}

// Trade is an immutable fill appended to a position's history.
type Trade struct {
	TxID      string  `json:"tx_id"`
	Timestamp int64   `json:"timestamp"` // Unix ms
	Side      Side    `json:"side"`
	AssetQty  float64 `json:"asset_qty"`
	BaseQty   float64 `json:"base_qty"`
	Price     float64 `json:"price"` // base per asset unit
}

// NewTrade derives the fill price from the decoded quantities.
func NewTrade(d DecodedTrade) Trade {
	t := Trade{
		TxID:      d.TxID,
		Timestamp: d.Timestamp,
		Side:      d.Side,
		AssetQty:  d.AssetQty,
		BaseQty:   d.BaseQty,
	}
	if d.AssetQty > 0 {
		t.Price = d.BaseQty / d.AssetQty
	}
	return t
}
