package metrics

import (
	"math"

	"solana-trade-ledger/internal/domain"
)

// fold accumulates per-position figures for one wallet or asset.
type fold struct {
	positions int
	active    int

	invested   float64
	returned   float64
	realized   float64
	unrealized float64
	bought     float64
	sold       float64

	// positions with at least one sell, and those among them in profit
	withSells int
	wins      int

	holdMs    int64
	holdCount int

	best  float64
	worst float64

	members map[string]struct{}
}

func newFold() *fold {
	return &fold{
		best:    math.Inf(-1),
		worst:   math.Inf(1),
		members: make(map[string]struct{}),
	}
}

// add folds p in. member is the counterpart key (asset for a wallet row,
// wallet for an asset row). now is Unix ms.
func (f *fold) add(p *domain.Position, member string, now int64) {
	f.positions++
	if p.Active {
		f.active++
	}
	f.members[member] = struct{}{}

	f.invested += p.TotalSpent
	f.returned += p.TotalReceived
	f.realized += p.RealizedPnL
	f.unrealized += p.UnrealizedPnL
	f.bought += p.TotalBought
	f.sold += p.TotalSold

	if p.SellCount > 0 {
		f.withSells++
		if p.RealizedPnL > 0 {
			f.wins++
		}
	}

	if d, ok := holdDuration(p, now); ok {
		f.holdMs += d
		f.holdCount++
	}

	pct := p.TotalPnLPct()
	if pct > f.best {
		f.best = pct
	}
	if pct < f.worst {
		f.worst = pct
	}
}

// holdDuration runs from the first buy to the last sell for closed
// positions, or to now for open ones.
func holdDuration(p *domain.Position, now int64) (int64, bool) {
	if p.FirstBuyAt == 0 {
		return 0, false
	}
	end := now
	if !p.Active {
		end = p.LastSellAt
		if end == 0 {
			end = p.UpdatedAt
		}
	}
	if end < p.FirstBuyAt {
		return 0, true
	}
	return end - p.FirstBuyAt, true
}

func (f *fold) closed() int {
	return f.positions - f.active
}

func (f *fold) total() float64 {
	return domain.Finite(f.realized + f.unrealized)
}

func (f *fold) winRate() float64 {
	return computeWinRate(f.wins, f.withSells) * 100
}

func (f *fold) avgHoldMs() int64 {
	if f.holdCount == 0 {
		return 0
	}
	return f.holdMs / int64(f.holdCount)
}

// extremes returns best and worst with unset sentinels mapped to 0.
func (f *fold) extremes() (best, worst float64) {
	return domain.Finite(f.best), domain.Finite(f.worst)
}

// computeWinRate calculates win rate as wins / total.
func computeWinRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}
