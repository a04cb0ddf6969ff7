package solana

import "context"

// RPCClient defines Solana RPC HTTP interface.
type RPCClient interface {
	// GetTransaction retrieves a transaction by signature.
	// Returns nil, nil when the node does not know the transaction (yet).
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetBlock retrieves a block by slot number.
	GetBlock(ctx context.Context, slot int64) (*Block, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (int64, error)

	// GetAccountInfo retrieves account info by public key.
	// Returns nil, nil when the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)
}

// Transaction is the typed view of a confirmed transaction.
// Fields that the RPC node omits stay at their zero value; consumers must
// treat a nil Meta or Message as "nothing to decode".
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds), 0 if unknown
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction status metadata.
type TransactionMeta struct {
	Err               interface{}
	Fee               uint64
	LogMessages       []string
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	InnerInstructions []InnerInstructionSet
	LoadedAddresses   LoadedAddresses
}

// Failed reports whether the transaction was executed with an error.
func (m *TransactionMeta) Failed() bool {
	return m != nil && m.Err != nil
}

// TokenBalance is one pre/post token balance entry.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       string // raw integer amount, base units
	Decimals     int
}

// InnerInstructionSet groups the CPIs emitted by one top-level instruction.
type InnerInstructionSet struct {
	Index        int
	Instructions []CompiledInstruction
}

// CompiledInstruction references accounts by index into the full key list.
type CompiledInstruction struct {
	ProgramIDIndex int
	Accounts       []int
	Data           string // base58
}

// LoadedAddresses are the address-lookup-table keys of a v0 transaction.
type LoadedAddresses struct {
	Writable []string
	Readonly []string
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys  []string
	Instructions []CompiledInstruction
}

// AccountKeys returns static keys followed by loaded writable and readonly
// keys, which is the index space compiled instructions refer to.
func (tx *Transaction) AccountKeys() []string {
	if tx == nil || tx.Message == nil {
		return nil
	}
	keys := make([]string, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if tx.Meta != nil {
		keys = append(keys, tx.Meta.LoadedAddresses.Writable...)
		keys = append(keys, tx.Meta.LoadedAddresses.Readonly...)
	}
	return keys
}

// FeePayer returns the first static account key.
func (tx *Transaction) FeePayer() string {
	if tx == nil || tx.Message == nil || len(tx.Message.AccountKeys) == 0 {
		return ""
	}
	return tx.Message.AccountKeys[0]
}

// Mentions reports whether key appears anywhere in the account key list.
func (tx *Transaction) Mentions(key string) bool {
	for _, k := range tx.AccountKeys() {
		if k == key {
			return true
		}
	}
	return false
}
