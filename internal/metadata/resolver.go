// Package metadata resolves display names and symbols for token mints.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"solana-trade-ledger/internal/domain"
	"solana-trade-ledger/internal/solana"
)

// ErrNotFound is returned when the mint account does not exist.
var ErrNotFound = errors.New("mint not found")

// Resolver returns metadata for a mint.
type Resolver interface {
	Resolve(ctx context.Context, mint string) (domain.TokenMetadata, error)
}

// AccountReader is the RPC surface used by RPCResolver.
type AccountReader interface {
	GetAccountInfo(ctx context.Context, pubkey string) (*solana.AccountInfo, error)
}

// RPCResolver reads the SPL mint account and its Metaplex metadata account.
type RPCResolver struct {
	rpc    AccountReader
	now    func() time.Time
	logger *log.Logger
}

// NewRPCResolver creates a resolver. A nil logger uses log.Default().
func NewRPCResolver(rpc AccountReader, logger *log.Logger) *RPCResolver {
	if logger == nil {
		logger = log.Default()
	}
	return &RPCResolver{rpc: rpc, now: time.Now, logger: logger}
}

var _ Resolver = (*RPCResolver)(nil)

// Resolve fetches mint decimals and supply, then name and symbol. A missing
// or unparsable metadata account leaves Name and Symbol empty.
func (r *RPCResolver) Resolve(ctx context.Context, mint string) (domain.TokenMetadata, error) {
	meta := domain.TokenMetadata{Mint: mint, FetchedAt: r.now().UnixMilli()}

	info, err := r.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		return meta, fmt.Errorf("get mint account: %w", err)
	}
	if info == nil {
		return meta, ErrNotFound
	}
	if m, err := parseMint(info.Data); err == nil {
		meta.Decimals = m.decimals
		supply := m.supply
		meta.Supply = &supply
	} else {
		r.logger.Printf("mint %s: %v", domain.ShortID(mint), err)
	}

	pda, err := metadataAddress(mint)
	if err != nil {
		return meta, nil
	}
	acct, err := r.rpc.GetAccountInfo(ctx, pda)
	if err != nil {
		return meta, fmt.Errorf("get metadata account: %w", err)
	}
	if acct == nil {
		return meta, nil
	}
	name, symbol, err := parseMetaplex(acct.Data)
	if err != nil {
		r.logger.Printf("metadata %s: %v", domain.ShortID(mint), err)
		return meta, nil
	}
	meta.Name, meta.Symbol = name, symbol
	return meta, nil
}

// CachingResolver memoizes another resolver. Successes and not-found
// results are kept for the TTL; transport errors are not cached.
type CachingResolver struct {
	next Resolver
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	meta    domain.TokenMetadata
	err     error
	expires time.Time
}

// NewCachingResolver wraps next.
func NewCachingResolver(next Resolver, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

var _ Resolver = (*CachingResolver)(nil)

// Resolve returns a cached result when fresh.
func (c *CachingResolver) Resolve(ctx context.Context, mint string) (domain.TokenMetadata, error) {
	c.mu.Lock()
	if e, ok := c.entries[mint]; ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		return e.meta, e.err
	}
	c.mu.Unlock()

	meta, err := c.next.Resolve(ctx, mint)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return meta, err
	}

	c.mu.Lock()
	c.entries[mint] = cacheEntry{meta: meta, err: err, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return meta, err
}

// Len returns the number of cached entries, expired included.
func (c *CachingResolver) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
