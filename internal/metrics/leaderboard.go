// Package metrics derives leaderboards from ledger positions.
//
// Every function here is a pure fold over a position snapshot; nothing is
// cached between calls.
package metrics

import (
	"sort"

	"solana-trade-ledger/internal/domain"
)

// WalletLeaderboard groups positions by wallet, sorted by total P&L
// descending. now (Unix ms) closes the holding period of open positions.
func WalletLeaderboard(positions []domain.Position, now int64) []domain.WalletPerformance {
	folds := make(map[string]*fold)
	for i := range positions {
		p := &positions[i]
		f, ok := folds[p.Wallet]
		if !ok {
			f = newFold()
			folds[p.Wallet] = f
		}
		f.add(p, p.Asset, now)
	}

	out := make([]domain.WalletPerformance, 0, len(folds))
	for wallet, f := range folds {
		best, worst := f.extremes()
		out = append(out, domain.WalletPerformance{
			Wallet:          wallet,
			Positions:       f.positions,
			ActivePositions: f.active,
			ClosedPositions: f.closed(),
			Assets:          len(f.members),
			TotalInvested:   domain.Finite(f.invested),
			TotalReturned:   domain.Finite(f.returned),
			RealizedPnL:     domain.Finite(f.realized),
			UnrealizedPnL:   domain.Finite(f.unrealized),
			TotalPnL:        f.total(),
			TotalPnLPct:     domain.SafeDiv(f.total(), f.invested) * 100,
			WinRate:         f.winRate(),
			AvgHoldMs:       f.avgHoldMs(),
			BestTradePct:    best,
			WorstTradePct:   worst,
			AvgEntryPrice:   domain.SafeDiv(f.invested, f.bought),
			AvgExitPrice:    domain.SafeDiv(f.returned, f.sold),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPnL != out[j].TotalPnL {
			return out[i].TotalPnL > out[j].TotalPnL
		}
		return out[i].Wallet < out[j].Wallet
	})
	return out
}

// AssetLeaderboard groups positions by asset, sorted by the best single
// position performance descending.
func AssetLeaderboard(positions []domain.Position, now int64) []domain.AssetPerformance {
	type assetFold struct {
		*fold
		name, symbol string
		priceQuote   float64
		pricedAt     int64
	}

	folds := make(map[string]*assetFold)
	for i := range positions {
		p := &positions[i]
		f, ok := folds[p.Asset]
		if !ok {
			f = &assetFold{fold: newFold(), name: p.Name, symbol: p.Symbol}
			folds[p.Asset] = f
		}
		f.add(p, p.Wallet, now)
		if p.LastPriceAt >= f.pricedAt {
			f.priceQuote = p.PriceQuote
			f.pricedAt = p.LastPriceAt
		}
		if p.Name != "" && p.Name != domain.ShortID(p.Asset) {
			f.name, f.symbol = p.Name, p.Symbol
		}
	}

	out := make([]domain.AssetPerformance, 0, len(folds))
	for asset, f := range folds {
		best, worst := f.extremes()
		out = append(out, domain.AssetPerformance{
			Asset:           asset,
			Name:            f.name,
			Symbol:          f.symbol,
			Positions:       f.positions,
			ActivePositions: f.active,
			ClosedPositions: f.closed(),
			Wallets:         len(f.members),
			TotalInvested:   domain.Finite(f.invested),
			TotalReturned:   domain.Finite(f.returned),
			RealizedPnL:     domain.Finite(f.realized),
			UnrealizedPnL:   domain.Finite(f.unrealized),
			TotalPnL:        f.total(),
			WinRate:         f.winRate(),
			AvgHoldMs:       f.avgHoldMs(),
			BestTradePct:    best,
			WorstTradePct:   worst,
			AvgEntryPrice:   domain.SafeDiv(f.invested, f.bought),
			AvgExitPrice:    domain.SafeDiv(f.returned, f.sold),
			PriceQuote:      domain.Finite(f.priceQuote),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].BestTradePct != out[j].BestTradePct {
			return out[i].BestTradePct > out[j].BestTradePct
		}
		if out[i].TotalPnL != out[j].TotalPnL {
			return out[i].TotalPnL > out[j].TotalPnL
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}

// Top returns at most n leading rows; n <= 0 returns all.
func Top[T any](rows []T, n int) []T {
	if n <= 0 || n >= len(rows) {
		return rows
	}
	return rows[:n]
}
