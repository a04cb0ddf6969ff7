package domain

// WalletPerformance is the leaderboard row for one wallet.
type WalletPerformance struct {
	Wallet          string  `json:"wallet"`
	Positions       int     `json:"positions"`
	ActivePositions int     `json:"active_positions"`
	ClosedPositions int     `json:"closed_positions"`
	Assets          int     `json:"assets"`
	TotalInvested   float64 `json:"total_invested"`
	TotalReturned   float64 `json:"total_returned"`
	RealizedPnL     float64 `json:"realized_pnl"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
	TotalPnL        float64 `json:"total_pnl"`
	TotalPnLPct     float64 `json:"total_pnl_pct"`
	WinRate         float64 `json:"win_rate"` // percent
	AvgHoldMs       int64   `json:"avg_hold_ms"`
	BestTradePct    float64 `json:"best_trade_pct"`
	WorstTradePct   float64 `json:"worst_trade_pct"`
	AvgEntryPrice   float64 `json:"avg_entry_price"`
	AvgExitPrice    float64 `json:"avg_exit_price"`
}

// AssetPerformance is the leaderboard row for one asset.
type AssetPerformance struct {
	Asset           string  `json:"asset"`
	Name            string  `json:"name"`
	Symbol          string  `json:"symbol"`
	Positions       int     `json:"positions"`
	ActivePositions int     `json:"active_positions"`
	ClosedPositions int     `json:"closed_positions"`
	Wallets         int     `json:"wallets"`
	TotalInvested   float64 `json:"total_invested"`
	TotalReturned   float64 `json:"total_returned"`
	RealizedPnL     float64 `json:"realized_pnl"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
	TotalPnL        float64 `json:"total_pnl"`
	WinRate         float64 `json:"win_rate"` // percent
	AvgHoldMs       int64   `json:"avg_hold_ms"`
	BestTradePct    float64 `json:"best_trade_pct"`
	WorstTradePct   float64 `json:"worst_trade_pct"`
	AvgEntryPrice   float64 `json:"avg_entry_price"`
	AvgExitPrice    float64 `json:"avg_exit_price"`
	PriceQuote      float64 `json:"price_quote"`
}
