package solana

// Block represents a Solana block.
type Block struct {
	Slot         int64
	BlockTime    *int64
	Transactions []Transaction
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

// Well-known program and mint addresses.
const (
	// PumpFunProgramID is the bonding-curve launchpad program.
	PumpFunProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	// WrappedSOLMint is the SPL mint for wrapped SOL.
	WrappedSOLMint = "So11111111111111111111111111111111111111112"
	// LamportsPerSOL is the base unit scale of SOL.
	LamportsPerSOL = 1_000_000_000
)
