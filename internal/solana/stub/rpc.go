package stub

import (
	"context"
	"errors"
	"sync"

	"solana-trade-ledger/internal/solana"
)

// ErrNotFound is returned when a transaction or block is not found.
var ErrNotFound = errors.New("not found")

// ErrInjected is returned for calls configured to fail.
var ErrInjected = errors.New("injected failure")

// RPCClient implements solana.RPCClient for testing. It is safe for
// concurrent use.
type RPCClient struct {
	mu           sync.Mutex
	transactions map[string]*solana.Transaction
	blocks       map[int64]*solana.Block
	accounts     map[string]*solana.AccountInfo
	failures     map[string]int
	slot         int64
	calls        map[string]int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		transactions: make(map[string]*solana.Transaction),
		blocks:       make(map[int64]*solana.Block),
		accounts:     make(map[string]*solana.AccountInfo),
		failures:     make(map[string]int),
		calls:        make(map[string]int),
	}
}

var _ solana.RPCClient = (*RPCClient)(nil)

// GetTransaction retrieves a transaction by signature from the stub store.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[signature]++
	if c.failures[signature] > 0 {
		c.failures[signature]--
		return nil, ErrInjected
	}
	tx, ok := c.transactions[signature]
	if !ok {
		return nil, ErrNotFound
	}
	return tx, nil
}

// GetBlock retrieves a block by slot from the stub store.
// Missing slots are reported as skipped (nil, nil).
func (c *RPCClient) GetBlock(_ context.Context, slot int64) (*solana.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[slot], nil
}

// GetSlot returns the configured current slot.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot, nil
}

// GetAccountInfo retrieves an account from the stub store.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accounts[pubkey], nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactions[tx.Signature] = tx
}

// AddBlock adds a block to the stub store.
func (c *RPCClient) AddBlock(block *solana.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[block.Slot] = block
}

// AddAccount adds an account to the stub store.
func (c *RPCClient) AddAccount(pubkey string, info *solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[pubkey] = info
}

// SetSlot sets the value returned by GetSlot.
func (c *RPCClient) SetSlot(slot int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slot = slot
}

// FailNext makes the next n GetTransaction calls for signature fail.
func (c *RPCClient) FailNext(signature string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[signature] = n
}

// Calls returns how many times GetTransaction was called for signature.
func (c *RPCClient) Calls(signature string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[signature]
}
