package ledger

import (
	"sort"

	"solana-trade-ledger/internal/domain"
)

// Position returns a copy of one position.
func (l *Ledger) Position(wallet, asset string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.positions[domain.PositionKey{Wallet: wallet, Asset: asset}]
	if !ok {
		return domain.Position{}, false
	}
	return e.pos.Clone(), true
}

// Positions returns copies of all positions ordered by wallet, then asset.
func (l *Ledger) Positions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, e := range l.positions {
		out = append(out, e.pos.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Wallet != out[j].Wallet {
			return out[i].Wallet < out[j].Wallet
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}

// WalletPositions returns copies of the positions held by wallet.
func (l *Ledger) WalletPositions(wallet string) []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	assets := sortedKeys(l.byWallet[wallet])
	out := make([]domain.Position, 0, len(assets))
	for _, asset := range assets {
		out = append(out, l.positions[domain.PositionKey{Wallet: wallet, Asset: asset}].pos.Clone())
	}
	return out
}

// AssetPositions returns copies of the positions in asset.
func (l *Ledger) AssetPositions(asset string) []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	wallets := sortedKeys(l.byAsset[asset])
	out := make([]domain.Position, 0, len(wallets))
	for _, wallet := range wallets {
		out = append(out, l.positions[domain.PositionKey{Wallet: wallet, Asset: asset}].pos.Clone())
	}
	return out
}

// ActiveAssets returns the distinct assets held by at least one active
// position, sorted.
func (l *Ledger) ActiveAssets() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var assets []string
	for asset, wallets := range l.byAsset {
		for wallet := range wallets {
			if l.positions[domain.PositionKey{Wallet: wallet, Asset: asset}].pos.Active {
				assets = append(assets, asset)
				break
			}
		}
	}
	sort.Strings(assets)
	return assets
}

// Status returns the rollup counters.
func (l *Ledger) Status() domain.Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := domain.Status{
		TrackedAssets:  len(l.byAsset),
		TrackedWallets: len(l.byWallet),
	}
	for _, e := range l.positions {
		if e.pos.Active {
			s.ActivePositions++
		} else {
			s.ClosedPositions++
		}
	}
	return s
}

// Len returns the number of positions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

func addIndex(idx map[string]map[string]struct{}, outer, inner string) {
	set, ok := idx[outer]
	if !ok {
		set = make(map[string]struct{})
		idx[outer] = set
	}
	set[inner] = struct{}{}
}

func dropIndex(idx map[string]map[string]struct{}, outer, inner string) {
	set, ok := idx[outer]
	if !ok {
		return
	}
	delete(set, inner)
	if len(set) == 0 {
		delete(idx, outer)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// idSet is a set of strings that forgets its oldest member once full.
type idSet struct {
	ids  map[string]struct{}
	ring []string
	next int
}

func newIDSet(capacity int) *idSet {
	return &idSet{
		ids:  make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

func (s *idSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *idSet) Add(id string) {
	if s.Has(id) {
		return
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
}

func (s *idSet) Len() int {
	return len(s.ids)
}
