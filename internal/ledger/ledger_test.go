package ledger

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-trade-ledger/internal/domain"
)

const (
	walletW = "WalletW"
	assetA  = "AssetA"
)

func buy(tx string, qty, base float64, ts int64) domain.DecodedTrade {
	return domain.DecodedTrade{Side: domain.SideBuy, Wallet: walletW, Asset: assetA, AssetQty: qty, BaseQty: base, TxID: tx, Timestamp: ts}
}

func sell(tx string, qty, base float64, ts int64) domain.DecodedTrade {
	t := buy(tx, qty, base, ts)
	t.Side = domain.SideSell
	return t
}

func TestLedger_WorkedExample(t *testing.T) {
	l := New(DefaultConfig())

	res, err := l.ApplyTrade(buy("tx1", 10_000, 1.0, 1_000))
	require.NoError(t, err)
	assert.True(t, res.Opened)
	p := res.Position
	assert.InDelta(t, 0.0001, p.AvgBuyPrice, 1e-15)
	assert.InDelta(t, 10_000, p.Holding, 1e-9)
	assert.True(t, p.Active)

	moved := l.ApplyPriceSnapshot(assetA, 0.00012, 0.02, 2_000)
	require.Len(t, moved, 1, "first snapshot is significant")
	assert.InDelta(t, 0.2, moved[0].UnrealizedPnL, 1e-12)
	assert.InDelta(t, 20, moved[0].UnrealizedPnLPct, 1e-9)

	res, err = l.ApplyTrade(sell("tx2", 4_000, 0.5, 3_000))
	require.NoError(t, err)
	p = res.Position
	assert.InDelta(t, 4_000, p.TotalSold, 1e-9)
	assert.InDelta(t, 0.000125, p.AvgSellPrice, 1e-15)
	assert.InDelta(t, 0.1, p.RealizedPnL, 1e-12)
	assert.InDelta(t, 10, p.RealizedPnLPct, 1e-9)
	assert.InDelta(t, 6_000, p.Holding, 1e-9)
	assert.True(t, p.Active)

	// Unrealized follows the reduced holding at the last known price.
	assert.InDelta(t, 0.12, p.UnrealizedPnL, 1e-12)
	assert.Equal(t, p.RealizedPnL+p.UnrealizedPnL, p.TotalPnL)
	assert.Equal(t, 1, p.BuyCount)
	assert.Equal(t, 1, p.SellCount)
	assert.Len(t, p.Trades, 2)
}

func TestLedger_HoldingAndAverageInvariants(t *testing.T) {
	l := New(DefaultConfig())
	rng := rand.New(rand.NewSource(42))

	var bought, sold, spent float64
	_, err := l.ApplyTrade(buy("open", 1_000, 0.1, 1))
	require.NoError(t, err)
	bought, spent = 1_000, 0.1

	for i := 0; i < 200; i++ {
		var tr domain.DecodedTrade
		holding := bought - sold
		if rng.Intn(3) == 0 && holding > 1 {
			qty := holding * (0.01 + rng.Float64()*0.49)
			tr = sell(fmt.Sprintf("s%d", i), qty, qty*0.0001, int64(i+2))
			sold += qty
		} else {
			qty := 1 + rng.Float64()*500
			base := qty * (0.00005 + rng.Float64()*0.0001)
			tr = buy(fmt.Sprintf("b%d", i), qty, base, int64(i+2))
			bought += qty
			spent += base
		}

		res, err := l.ApplyTrade(tr)
		require.NoError(t, err)
		p := res.Position
		assert.InDelta(t, bought-sold, p.Holding, 1e-6, "holding after step %d", i)
		assert.InDelta(t, spent/bought, p.AvgBuyPrice, 1e-12, "avg buy after step %d", i)
		assert.InDelta(t, p.RealizedPnL+p.UnrealizedPnL, p.TotalPnL, 1e-12)
	}
}

func TestLedger_Idempotent(t *testing.T) {
	l := New(DefaultConfig())

	_, err := l.ApplyTrade(buy("tx1", 10_000, 1.0, 1_000))
	require.NoError(t, err)
	_, err = l.ApplyTrade(sell("tx2", 1_000, 0.2, 2_000))
	require.NoError(t, err)
	before, _ := l.Position(walletW, assetA)

	_, err = l.ApplyTrade(buy("tx1", 10_000, 1.0, 1_000))
	assert.ErrorIs(t, err, ErrDuplicateTrade)
	_, err = l.ApplyTrade(sell("tx2", 1_000, 0.2, 2_000))
	assert.ErrorIs(t, err, ErrDuplicateTrade)

	after, _ := l.Position(walletW, assetA)
	assert.Equal(t, before, after)
}

func TestLedger_SameTxBothSides(t *testing.T) {
	l := New(DefaultConfig())

	_, err := l.ApplyTrade(buy("tx1", 100, 1.0, 1_000))
	require.NoError(t, err)
	_, err = l.ApplyTrade(sell("tx1", 50, 0.6, 1_000))
	assert.NoError(t, err, "direction is part of the idempotency key")
}

func TestLedger_SellWithoutPosition(t *testing.T) {
	l := New(DefaultConfig())

	_, err := l.ApplyTrade(sell("tx1", 100, 1.0, 1_000))
	assert.ErrorIs(t, err, ErrNoPosition)
	assert.Equal(t, 0, l.Len())
	_, ok := l.Position(walletW, assetA)
	assert.False(t, ok)
}

func TestLedger_MinimumAppliesToOpeningBuyOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinOpenQuantity = 1_000
	l := New(cfg)

	_, err := l.ApplyTrade(buy("small", 999, 0.1, 1_000))
	assert.ErrorIs(t, err, ErrBelowMinimum)
	assert.Equal(t, 0, l.Len())

	_, err = l.ApplyTrade(buy("big", 1_000, 0.1, 2_000))
	require.NoError(t, err)

	res, err := l.ApplyTrade(buy("small2", 1, 0.0001, 3_000))
	require.NoError(t, err)
	assert.InDelta(t, 1_001, res.Position.Holding, 1e-9)
	assert.False(t, res.Opened)
}

func TestLedger_InvalidTrades(t *testing.T) {
	l := New(DefaultConfig())

	cases := []domain.DecodedTrade{
		buy("nan", math.NaN(), 1, 1),
		buy("zero", 0, 1, 1),
		buy("inf", 1, math.Inf(1), 1),
		buy("", 1, 1, 1),
		{Side: "swap", Wallet: walletW, Asset: assetA, AssetQty: 1, BaseQty: 1, TxID: "x"},
	}
	for _, tr := range cases {
		_, err := l.ApplyTrade(tr)
		assert.ErrorIs(t, err, ErrInvalidTrade, "trade %+v", tr)
	}
	assert.Equal(t, 0, l.Len())
}

func TestLedger_SellToZeroRetainsInactivePosition(t *testing.T) {
	l := New(DefaultConfig())

	_, err := l.ApplyTrade(buy("tx1", 100, 1.0, 1_000))
	require.NoError(t, err)
	res, err := l.ApplyTrade(sell("tx2", 99.995, 1.5, 2_000))
	require.NoError(t, err)

	p := res.Position
	assert.False(t, p.Active, "holding below epsilon is inactive")
	assert.InDelta(t, 0.005, p.Holding, 1e-9)
	assert.Equal(t, 1, l.Len())
	assert.Empty(t, l.ActiveAssets())

	st := l.Status()
	assert.Equal(t, domain.Status{ActivePositions: 0, ClosedPositions: 1, TrackedAssets: 1, TrackedWallets: 1}, st)
}

func TestLedger_OversellClamped(t *testing.T) {
	l := New(DefaultConfig())

	_, err := l.ApplyTrade(buy("tx1", 100, 1.0, 1_000))
	require.NoError(t, err)
	res, err := l.ApplyTrade(sell("tx2", 150, 1.2, 2_000))
	require.NoError(t, err)

	assert.True(t, res.Clamped)
	assert.Equal(t, 0.0, res.Position.Holding)
	assert.False(t, res.Position.Active)
}

func TestLedger_ZeroCostBasisYieldsZeroPct(t *testing.T) {
	l := New(DefaultConfig())

	_, err := l.ApplyTrade(buy("tx1", 100, 1.0, 1_000))
	require.NoError(t, err)
	_, err = l.ApplyTrade(sell("tx2", 100, 2.0, 2_000))
	require.NoError(t, err)

	l.ApplyPriceSnapshot(assetA, 0.05, 1, 3_000)
	p, ok := l.Position(walletW, assetA)
	require.True(t, ok)
	assert.Equal(t, 0.0, p.UnrealizedPnLPct)
	assert.False(t, math.IsNaN(p.UnrealizedPnL))
	assert.InDelta(t, 1.0, p.TotalPnL, 1e-12)
}

func TestLedger_SignificantMoves(t *testing.T) {
	l := New(DefaultConfig())
	_, err := l.ApplyTrade(buy("tx1", 10_000, 1.0, 1_000))
	require.NoError(t, err)

	assert.Len(t, l.ApplyPriceSnapshot(assetA, 0.0001, 0.02, 2_000), 1)
	assert.Empty(t, l.ApplyPriceSnapshot(assetA, 0.0001005, 0.02, 3_000), "0.5% is not significant")
	assert.Len(t, l.ApplyPriceSnapshot(assetA, 0.000103, 0.02, 4_000), 1, "2.5% is significant")
	assert.Len(t, l.ApplyPriceSnapshot(assetA, 0.00009, 0.02, 5_000), 1, "drops count too")

	assert.Empty(t, l.ApplyPriceSnapshot("unknown", 1, 1, 6_000))
	assert.Empty(t, l.ApplyPriceSnapshot(assetA, math.NaN(), 1, 6_000))
	assert.Empty(t, l.ApplyPriceSnapshot(assetA, 0, 1, 6_000))
}

func TestLedger_MarketAndTradeExtremesTrackedSeparately(t *testing.T) {
	l := New(DefaultConfig())
	_, err := l.ApplyTrade(buy("tx1", 10_000, 1.0, 1_000)) // 0.0001
	require.NoError(t, err)
	_, err = l.ApplyTrade(buy("tx2", 10_000, 1.5, 2_000)) // 0.00015
	require.NoError(t, err)

	l.ApplyPriceSnapshot(assetA, 0.0003, 0.06, 3_000)
	l.ApplyPriceSnapshot(assetA, 0.00008, 0.016, 4_000)

	p, _ := l.Position(walletW, assetA)
	assert.Equal(t, domain.PriceMark{Price: 0.00015, Timestamp: 2_000}, p.TradeHigh)
	assert.Equal(t, domain.PriceMark{Price: 0.0001, Timestamp: 1_000}, p.TradeLow)
	assert.Equal(t, domain.PriceMark{Price: 0.0003, Timestamp: 3_000}, p.MarketHigh)
	assert.Equal(t, domain.PriceMark{Price: 0.00008, Timestamp: 4_000}, p.MarketLow)
	assert.Equal(t, 0.016, p.PriceQuote)
}

func TestLedger_RemovePreventsResurrection(t *testing.T) {
	l := New(DefaultConfig())
	_, err := l.ApplyTrade(buy("tx1", 100, 1.0, 1_000))
	require.NoError(t, err)

	removed, ok := l.Remove(walletW, assetA)
	require.True(t, ok)
	assert.Equal(t, walletW, removed.Wallet)
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, domain.Status{}, l.Status())

	_, err = l.ApplyTrade(buy("tx1", 100, 1.0, 1_000))
	assert.ErrorIs(t, err, ErrDuplicateTrade)
	assert.Equal(t, 0, l.Len())

	_, err = l.ApplyTrade(buy("tx3", 100, 1.0, 3_000))
	assert.NoError(t, err, "a new buy may reopen the pair")

	_, ok = l.Remove("nobody", assetA)
	assert.False(t, ok)
}

func TestLedger_PruneByValuation(t *testing.T) {
	l := New(DefaultConfig())
	for i, w := range []string{"small", "mid", "large"} {
		qty := []float64{10, 1_000, 100_000}[i]
		_, err := l.ApplyTrade(domain.DecodedTrade{Side: domain.SideBuy, Wallet: w, Asset: assetA, AssetQty: qty, BaseQty: 1, TxID: w, Timestamp: 1})
		require.NoError(t, err)
	}
	// Unpriced positions are never pruned.
	assert.Empty(t, l.PruneByValuation(assetA, 50, 500))

	l.ApplyPriceSnapshot(assetA, 0.001, 0.1, 2)
	removed := l.PruneByValuation(assetA, 50, 5_000)
	require.Len(t, removed, 2)
	assert.Equal(t, "large", removed[0].Wallet)
	assert.Equal(t, "small", removed[1].Wallet)

	left := l.AssetPositions(assetA)
	require.Len(t, left, 1)
	assert.Equal(t, "mid", left[0].Wallet)

	assert.Empty(t, l.PruneByValuation(assetA, 0, 0), "disabled bounds")
}

func TestLedger_SetMetadata(t *testing.T) {
	l := New(DefaultConfig())
	_, err := l.ApplyTrade(buy("tx1", 100, 1.0, 1_000))
	require.NoError(t, err)

	p, _ := l.Position(walletW, assetA)
	assert.Equal(t, domain.ShortID(assetA), p.Name)

	assert.Equal(t, 1, l.SetMetadata(assetA, "Token A", "TKA"))
	p, _ = l.Position(walletW, assetA)
	assert.Equal(t, "Token A", p.Name)
	assert.Equal(t, "TKA", p.Symbol)

	l.Remove(walletW, assetA)
	assert.Equal(t, 0, l.SetMetadata(assetA, "Late", "LATE"), "late callbacks are no-ops")
}

func TestLedger_ReadsReturnCopies(t *testing.T) {
	l := New(DefaultConfig())
	_, err := l.ApplyTrade(buy("tx1", 100, 1.0, 1_000))
	require.NoError(t, err)

	p, _ := l.Position(walletW, assetA)
	p.Holding = 0
	p.Trades[0].AssetQty = 0

	again, _ := l.Position(walletW, assetA)
	assert.Equal(t, 100.0, again.Holding)
	assert.Equal(t, 100.0, again.Trades[0].AssetQty)
}

func TestLedger_Indexes(t *testing.T) {
	l := New(DefaultConfig())
	trades := []domain.DecodedTrade{
		{Side: domain.SideBuy, Wallet: "w1", Asset: "a1", AssetQty: 1, BaseQty: 1, TxID: "t1", Timestamp: 1},
		{Side: domain.SideBuy, Wallet: "w1", Asset: "a2", AssetQty: 1, BaseQty: 1, TxID: "t2", Timestamp: 1},
		{Side: domain.SideBuy, Wallet: "w2", Asset: "a1", AssetQty: 1, BaseQty: 1, TxID: "t3", Timestamp: 1},
	}
	for _, tr := range trades {
		_, err := l.ApplyTrade(tr)
		require.NoError(t, err)
	}

	assert.Len(t, l.WalletPositions("w1"), 2)
	assert.Len(t, l.AssetPositions("a1"), 2)
	assert.Empty(t, l.WalletPositions("nobody"))
	assert.Equal(t, []string{"a1", "a2"}, l.ActiveAssets())

	all := l.Positions()
	require.Len(t, all, 3)
	assert.Equal(t, "w1", all[0].Wallet)
	assert.Equal(t, "a1", all[0].Asset)
	assert.Equal(t, 3, l.Status().ActivePositions)
	assert.Equal(t, 2, l.Status().TrackedWallets)
}

func TestLedger_ConcurrentWriters(t *testing.T) {
	l := New(DefaultConfig())
	_, err := l.ApplyTrade(buy("open", 1, 0.0001, 1))
	require.NoError(t, err)

	const workers, perWorker = 8, 250
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := l.ApplyTrade(buy(fmt.Sprintf("w%d-%d", w, i), 1, 0.0001, int64(i+2)))
				assert.NoError(t, err)
				if i%25 == 0 {
					l.ApplyPriceSnapshot(assetA, 0.0001+float64(i)*1e-7, 0.02, int64(i+2))
				}
			}
		}(w)
	}
	wg.Wait()

	p, _ := l.Position(walletW, assetA)
	assert.Equal(t, float64(workers*perWorker+1), p.Holding)
	assert.Equal(t, workers*perWorker+1, p.BuyCount)
}

func TestIDSet_EvictsOldest(t *testing.T) {
	s := newIDSet(2)
	s.Add("a")
	s.Add("b")
	s.Add("a")
	assert.Equal(t, 2, s.Len())

	s.Add("c")
	assert.False(t, s.Has("a"))
	assert.True(t, s.Has("b"))
	assert.True(t, s.Has("c"))
}
