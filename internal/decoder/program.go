package decoder

import (
	"encoding/hex"

	"solana-trade-ledger/internal/domain"
	"solana-trade-ledger/internal/solana"
)

// Discriminator is the 8-byte instruction type prefix.
type Discriminator [8]byte

// String renders the discriminator as hex.
func (d Discriminator) String() string {
	return hex.EncodeToString(d[:])
}

// Pump.fun instruction discriminators.
var (
	PumpFunBuy         = Discriminator{102, 6, 61, 18, 1, 218, 235, 234}
	PumpFunBuyExactSOL = Discriminator{56, 252, 116, 8, 158, 223, 205, 95}
	PumpFunSell        = Discriminator{51, 230, 133, 164, 1, 127, 131, 173}
	PumpFunCreate      = Discriminator{24, 30, 200, 40, 5, 28, 7, 119}
	AnchorEventSelfCPI = Discriminator{228, 69, 165, 46, 81, 203, 154, 29}
)

// Program describes how to read trades from one on-chain program.
type Program struct {
	ID string

	Buys    []Discriminator
	Sells   []Discriminator
	Ignored []Discriminator // known non-trade instructions

	// Positions within the instruction account list.
	AssetIndex     int
	CurveIndex     int // pool account; its token accounts are never the trader
	UserTokenIndex int // trader's token account, -1 if unknown
}

// PumpFun returns the layout of the pump.fun bonding-curve program.
//
// Accounts: 0 global, 1 fee recipient, 2 mint, 3 bonding curve,
// 4 associated bonding curve, 5 associated user, 6 user.
func PumpFun() Program {
	return Program{
		ID:             solana.PumpFunProgramID,
		Buys:           []Discriminator{PumpFunBuy, PumpFunBuyExactSOL},
		Sells:          []Discriminator{PumpFunSell},
		Ignored:        []Discriminator{AnchorEventSelfCPI, PumpFunCreate},
		AssetIndex:     2,
		CurveIndex:     3,
		UserTokenIndex: 5,
	}
}

// classify maps a discriminator to a side. ignored is true for known
// non-trade instructions.
func (p *Program) classify(d Discriminator) (side domain.Side, ignored bool, ok bool) {
	for _, b := range p.Buys {
		if b == d {
			return domain.SideBuy, false, true
		}
	}
	for _, s := range p.Sells {
		if s == d {
			return domain.SideSell, false, true
		}
	}
	for _, i := range p.Ignored {
		if i == d {
			return "", true, false
		}
	}
	return "", false, false
}
