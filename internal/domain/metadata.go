package domain

// TokenMetadata is the display metadata of a mint read from chain.
type TokenMetadata struct {
	Mint      string
	Name      string
	Symbol    string
	Decimals  int
	Supply    *float64 // nil when the mint account was not readable
	FetchedAt int64    // Unix ms
}
