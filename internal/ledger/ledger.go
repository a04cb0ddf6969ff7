// Package ledger holds the in-memory positions built from decoded trades.
//
// A Ledger is the single writer of position state. Trades and price
// snapshots are serialized by one mutex, and every read returns a copy.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"solana-trade-ledger/internal/domain"
)

// Rejection reasons returned by ApplyTrade.
var (
	ErrInvalidTrade   = errors.New("invalid trade")
	ErrDuplicateTrade = errors.New("trade already applied")
	ErrBelowMinimum   = errors.New("opening buy below minimum quantity")
	ErrNoPosition     = errors.New("sell without open position")
)

// Config holds ledger thresholds.
type Config struct {
	// MinOpenQuantity is the asset quantity a first buy needs to open a
	// position. Later buys are never filtered.
	MinOpenQuantity float64
	// SignificantMovePct is the price change, in percent, that marks a
	// snapshot as significant.
	SignificantMovePct float64
	// ActiveEpsilon is the holding below which a position is inactive.
	ActiveEpsilon float64
	// AppliedCapacity bounds the ledger-wide set of applied trade ids.
	AppliedCapacity int
}

// DefaultConfig returns default ledger thresholds.
func DefaultConfig() Config {
	return Config{
		MinOpenQuantity:    0,
		SignificantMovePct: 1.0,
		ActiveEpsilon:      0.01,
		AppliedCapacity:    100_000,
	}
}

// ApplyResult describes an accepted trade.
type ApplyResult struct {
	Position domain.Position
	Opened   bool // the trade created the position
	Clamped  bool // a sell exceeded the holding; holding was floored at 0
}

type entry struct {
	pos       domain.Position
	applied   map[string]struct{}
	lastPrice float64 // price base at the previous snapshot, 0 before any
}

// Ledger owns every position and its trade history.
type Ledger struct {
	mu  sync.RWMutex
	cfg Config
	now func() time.Time

	positions map[domain.PositionKey]*entry
	byWallet  map[string]map[string]struct{} // wallet -> assets
	byAsset   map[string]map[string]struct{} // asset -> wallets
	applied   *idSet
}

// New creates an empty ledger. A zero Config field falls back to its
// default, except MinOpenQuantity.
func New(cfg Config) *Ledger {
	def := DefaultConfig()
	if cfg.SignificantMovePct <= 0 {
		cfg.SignificantMovePct = def.SignificantMovePct
	}
	if cfg.ActiveEpsilon <= 0 {
		cfg.ActiveEpsilon = def.ActiveEpsilon
	}
	if cfg.AppliedCapacity <= 0 {
		cfg.AppliedCapacity = def.AppliedCapacity
	}
	return &Ledger{
		cfg:       cfg,
		now:       time.Now,
		positions: make(map[domain.PositionKey]*entry),
		byWallet:  make(map[string]map[string]struct{}),
		byAsset:   make(map[string]map[string]struct{}),
		applied:   newIDSet(cfg.AppliedCapacity),
	}
}

// Config returns the thresholds in effect.
func (l *Ledger) Config() Config {
	return l.cfg
}

func tradeID(t domain.DecodedTrade) string {
	return t.TxID + "|" + string(t.Side)
}

func ledgerTradeID(t domain.DecodedTrade) string {
	return tradeID(t) + "|" + t.Wallet + "|" + t.Asset
}

func validate(t domain.DecodedTrade) error {
	switch {
	case !t.Side.Valid():
		return fmt.Errorf("%w: unknown side %q", ErrInvalidTrade, t.Side)
	case t.Wallet == "" || t.Asset == "" || t.TxID == "":
		return fmt.Errorf("%w: missing wallet, asset or tx id", ErrInvalidTrade)
	case !(t.AssetQty > 0) || math.IsInf(t.AssetQty, 0):
		return fmt.Errorf("%w: asset quantity %v", ErrInvalidTrade, t.AssetQty)
	case !(t.BaseQty > 0) || math.IsInf(t.BaseQty, 0):
		return fmt.Errorf("%w: base quantity %v", ErrInvalidTrade, t.BaseQty)
	}
	return nil
}

// ApplyTrade applies one decoded trade. Rejected trades leave the ledger
// unchanged and return one of the package errors.
func (l *Ledger) ApplyTrade(t domain.DecodedTrade) (ApplyResult, error) {
	if err := validate(t); err != nil {
		return ApplyResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	gid := ledgerTradeID(t)
	if l.applied.Has(gid) {
		return ApplyResult{}, ErrDuplicateTrade
	}

	key := domain.PositionKey{Wallet: t.Wallet, Asset: t.Asset}
	e, exists := l.positions[key]
	if exists {
		if _, dup := e.applied[tradeID(t)]; dup {
			return ApplyResult{}, ErrDuplicateTrade
		}
	}

	var res ApplyResult
	switch t.Side {
	case domain.SideBuy:
		if !exists {
			if t.AssetQty < l.cfg.MinOpenQuantity {
				return ApplyResult{}, ErrBelowMinimum
			}
			e = l.open(key, t.Timestamp)
			res.Opened = true
		}
		l.applyBuy(e, t)
	case domain.SideSell:
		if !exists {
			return ApplyResult{}, ErrNoPosition
		}
		res.Clamped = l.applySell(e, t)
	}

	e.applied[tradeID(t)] = struct{}{}
	l.applied.Add(gid)

	res.Position = e.pos.Clone()
	return res, nil
}

func (l *Ledger) open(key domain.PositionKey, at int64) *entry {
	e := &entry{
		pos: domain.Position{
			Wallet:   key.Wallet,
			Asset:    key.Asset,
			Name:     domain.ShortID(key.Asset),
			Symbol:   defaultSymbol(key.Asset),
			OpenedAt: at,
		},
		applied: make(map[string]struct{}),
	}
	l.positions[key] = e
	addIndex(l.byWallet, key.Wallet, key.Asset)
	addIndex(l.byAsset, key.Asset, key.Wallet)
	return e
}

func defaultSymbol(asset string) string {
	if len(asset) > 4 {
		return asset[:4]
	}
	return asset
}

func (l *Ledger) applyBuy(e *entry, t domain.DecodedTrade) {
	tr := domain.NewTrade(t)
	p := &e.pos

	p.Trades = append(p.Trades, tr)
	p.BuyCount++
	p.TotalBought += t.AssetQty
	p.TotalSpent += t.BaseQty
	p.Holding += t.AssetQty
	p.AvgBuyPrice = domain.SafeDiv(p.TotalSpent, p.TotalBought)
	if p.FirstBuyAt == 0 || t.Timestamp < p.FirstBuyAt {
		p.FirstBuyAt = t.Timestamp
	}
	if t.Timestamp > p.LastBuyAt {
		p.LastBuyAt = t.Timestamp
	}

	markTrade(p, tr)
	l.settle(e, t.Timestamp)
}

func (l *Ledger) applySell(e *entry, t domain.DecodedTrade) (clamped bool) {
	tr := domain.NewTrade(t)
	p := &e.pos

	p.Trades = append(p.Trades, tr)
	p.SellCount++
	p.TotalSold += t.AssetQty
	p.TotalReceived += t.BaseQty
	p.AvgSellPrice = domain.SafeDiv(p.TotalReceived, p.TotalSold)
	p.Holding -= t.AssetQty
	if p.Holding < 0 {
		p.Holding = 0
		clamped = true
	}
	if p.FirstSellAt == 0 || t.Timestamp < p.FirstSellAt {
		p.FirstSellAt = t.Timestamp
	}
	if t.Timestamp > p.LastSellAt {
		p.LastSellAt = t.Timestamp
	}

	p.RealizedPnL = domain.Finite(p.TotalReceived - p.AvgBuyPrice*p.TotalSold)
	p.RealizedPnLPct = domain.SafeDiv(p.RealizedPnL, p.TotalSpent) * 100

	markTrade(p, tr)
	l.settle(e, t.Timestamp)
	return clamped
}

// settle refreshes the fields derived from holding and the latest price.
func (l *Ledger) settle(e *entry, at int64) {
	p := &e.pos
	p.Active = p.Holding > l.cfg.ActiveEpsilon
	if p.LastPriceAt != 0 {
		cost := p.CostBasis()
		p.UnrealizedPnL = domain.Finite(p.Holding*p.PriceBase - cost)
		p.UnrealizedPnLPct = domain.SafeDiv(p.UnrealizedPnL, cost) * 100
	} else {
		p.UnrealizedPnL = 0
		p.UnrealizedPnLPct = 0
	}
	p.TotalPnL = p.RealizedPnL + p.UnrealizedPnL
	if at > p.UpdatedAt {
		p.UpdatedAt = at
	}
}

func markTrade(p *domain.Position, tr domain.Trade) {
	if tr.Price <= 0 {
		return
	}
	if p.TradeHigh.Price == 0 || tr.Price > p.TradeHigh.Price {
		p.TradeHigh = domain.PriceMark{Price: tr.Price, Timestamp: tr.Timestamp}
	}
	if p.TradeLow.Price == 0 || tr.Price < p.TradeLow.Price {
		p.TradeLow = domain.PriceMark{Price: tr.Price, Timestamp: tr.Timestamp}
	}
}

// ApplyPriceSnapshot reprices every position of asset and returns copies of
// the active ones whose base price moved by more than SignificantMovePct
// since the previous snapshot. The first snapshot of a position always
// counts as significant. at is Unix ms; zero means now.
func (l *Ledger) ApplyPriceSnapshot(asset string, priceBase, priceQuote float64, at int64) []domain.Position {
	if !(priceBase > 0) || math.IsInf(priceBase, 0) {
		return nil
	}
	priceQuote = domain.Finite(priceQuote)
	if at == 0 {
		at = l.now().UnixMilli()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var moved []domain.Position
	for _, wallet := range sortedKeys(l.byAsset[asset]) {
		e := l.positions[domain.PositionKey{Wallet: wallet, Asset: asset}]
		p := &e.pos

		p.PriceBase = priceBase
		p.PriceQuote = priceQuote
		p.LastPriceAt = at
		if p.MarketHigh.Price == 0 || priceBase > p.MarketHigh.Price {
			p.MarketHigh = domain.PriceMark{Price: priceBase, Timestamp: at}
		}
		if p.MarketLow.Price == 0 || priceBase < p.MarketLow.Price {
			p.MarketLow = domain.PriceMark{Price: priceBase, Timestamp: at}
		}
		l.settle(e, at)

		significant := e.lastPrice == 0 ||
			math.Abs(priceBase-e.lastPrice)/e.lastPrice*100 > l.cfg.SignificantMovePct
		e.lastPrice = priceBase

		if significant && p.Active {
			moved = append(moved, p.Clone())
		}
	}
	return moved
}

// SetMetadata sets display name and symbol on every position of asset.
// It returns the number of positions updated; zero when the asset is no
// longer tracked.
func (l *Ledger) SetMetadata(asset, name, symbol string) int {
	if name == "" && symbol == "" {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for wallet := range l.byAsset[asset] {
		p := &l.positions[domain.PositionKey{Wallet: wallet, Asset: asset}].pos
		if name != "" {
			p.Name = name
		}
		if symbol != "" {
			p.Symbol = symbol
		}
		n++
	}
	return n
}

// Remove deletes a position. Applied trade ids are kept, so a redelivered
// trade cannot recreate it.
func (l *Ledger) Remove(wallet, asset string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remove(domain.PositionKey{Wallet: wallet, Asset: asset})
}

func (l *Ledger) remove(key domain.PositionKey) (domain.Position, bool) {
	e, ok := l.positions[key]
	if !ok {
		return domain.Position{}, false
	}
	delete(l.positions, key)
	dropIndex(l.byWallet, key.Wallet, key.Asset)
	dropIndex(l.byAsset, key.Asset, key.Wallet)
	return e.pos.Clone(), true
}

// PruneByValuation removes active, priced positions of asset whose quote
// valuation is below minValue or above maxValue. A bound of zero is disabled.
func (l *Ledger) PruneByValuation(asset string, minValue, maxValue float64) []domain.Position {
	if minValue <= 0 && maxValue <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []domain.Position
	for _, wallet := range sortedKeys(l.byAsset[asset]) {
		key := domain.PositionKey{Wallet: wallet, Asset: asset}
		p := &l.positions[key].pos
		if !p.Active || p.LastPriceAt == 0 {
			continue
		}
		v := p.Valuation()
		if (minValue > 0 && v < minValue) || (maxValue > 0 && v > maxValue) {
			if pos, ok := l.remove(key); ok {
				removed = append(removed, pos)
			}
		}
	}
	return removed
}
