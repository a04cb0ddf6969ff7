package domain

// PositionKey identifies a position by wallet and asset.
type PositionKey struct {
	Wallet string
	Asset  string
}

// String renders the key as wallet:asset.
func (k PositionKey) String() string {
	return k.Wallet + ":" + k.Asset
}

// PriceMark is a price observed at a point in time.
type PriceMark struct {
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // Unix ms, 0 if never set
}

// Position aggregates every fill of one wallet in one asset.
type Position struct {
	Wallet string `json:"wallet"`
	Asset  string `json:"asset"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`

	Trades    []Trade `json:"trades"`
	BuyCount  int     `json:"buy_count"`
	SellCount int     `json:"sell_count"`

	FirstBuyAt  int64 `json:"first_buy_at"`
	LastBuyAt   int64 `json:"last_buy_at"`
	FirstSellAt int64 `json:"first_sell_at,omitempty"`
	LastSellAt  int64 `json:"last_sell_at,omitempty"`

	TotalBought   float64 `json:"total_bought"`   // asset units
	TotalSold     float64 `json:"total_sold"`     // asset units
	TotalSpent    float64 `json:"total_spent"`    // base
	TotalReceived float64 `json:"total_received"` // base
	AvgBuyPrice   float64 `json:"avg_buy_price"`
	AvgSellPrice  float64 `json:"avg_sell_price"`
	Holding       float64 `json:"holding"`

	PriceBase   float64 `json:"price_base"`  // latest market price in base
	PriceQuote  float64 `json:"price_quote"` // latest market price in quote
	LastPriceAt int64   `json:"last_price_at,omitempty"`

	TradeHigh  PriceMark `json:"trade_high"`
	TradeLow   PriceMark `json:"trade_low"`
	MarketHigh PriceMark `json:"market_high"`
	MarketLow  PriceMark `json:"market_low"`

	RealizedPnL      float64 `json:"realized_pnl"`
	RealizedPnLPct   float64 `json:"realized_pnl_pct"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
	TotalPnL         float64 `json:"total_pnl"`

	Active    bool  `json:"active"`
	OpenedAt  int64 `json:"opened_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Key returns the identity of the position.
func (p *Position) Key() PositionKey {
	return PositionKey{Wallet: p.Wallet, Asset: p.Asset}
}

// CostBasis is the base currency committed to the current holding.
func (p *Position) CostBasis() float64 {
	return p.Holding * p.AvgBuyPrice
}

// Valuation is the holding priced in quote currency.
func (p *Position) Valuation() float64 {
	return p.Holding * p.PriceQuote
}

// TotalPnLPct is total P&L relative to everything spent.
func (p *Position) TotalPnLPct() float64 {
	if p.TotalSpent <= 0 {
		return 0
	}
	return p.TotalPnL / p.TotalSpent * 100
}

// Clone returns a deep copy.
func (p *Position) Clone() Position {
	c := *p
	c.Trades = append([]Trade(nil), p.Trades...)
	return c
}

// ShortID renders a display placeholder for an address: first four and
// last four characters.
func ShortID(id string) string {
	if len(id) <= 10 {
		return id
	}
	return id[:4] + "..." + id[len(id)-4:]
}
