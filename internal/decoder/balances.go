package decoder

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"solana-trade-ledger/internal/solana"
)

// tokenDelta is the signed raw balance change of one token account.
type tokenDelta struct {
	AccountIndex int
	Owner        string
	Raw          *big.Int
	Decimals     int
}

// Amount scales the raw delta by the mint decimals, unsigned.
func (d tokenDelta) Amount() float64 {
	f, _ := decimal.NewFromBigInt(d.Raw, -int32(d.Decimals)).Abs().Float64()
	return f
}

// mintDeltas pairs pre and post balances of mint by account index.
// A missing pre entry counts as zero; so does a missing post entry, which
// happens when a sell closes the token account.
func mintDeltas(meta *solana.TransactionMeta, mint string) ([]tokenDelta, error) {
	type pair struct {
		pre, post *solana.TokenBalance
	}
	byIndex := make(map[int]*pair)
	for i := range meta.PostTokenBalances {
		b := &meta.PostTokenBalances[i]
		if b.Mint == mint {
			byIndex[b.AccountIndex] = &pair{post: b}
		}
	}
	for i := range meta.PreTokenBalances {
		b := &meta.PreTokenBalances[i]
		if b.Mint != mint {
			continue
		}
		if p, ok := byIndex[b.AccountIndex]; ok {
			p.pre = b
		} else {
			byIndex[b.AccountIndex] = &pair{pre: b}
		}
	}

	deltas := make([]tokenDelta, 0, len(byIndex))
	for idx, p := range byIndex {
		post, err := parseRaw(p.post)
		if err != nil {
			return nil, err
		}
		pre, err := parseRaw(p.pre)
		if err != nil {
			return nil, err
		}
		raw := new(big.Int).Sub(post, pre)
		if raw.Sign() == 0 {
			continue
		}

		ref := p.post
		if ref == nil {
			ref = p.pre
		}
		deltas = append(deltas, tokenDelta{
			AccountIndex: idx,
			Owner:        ref.Owner,
			Raw:          raw,
			Decimals:     ref.Decimals,
		})
	}
	sort.Slice(deltas, func(i, j int) bool {
		return deltas[i].AccountIndex < deltas[j].AccountIndex
	})
	return deltas, nil
}

func parseRaw(b *solana.TokenBalance) (*big.Int, error) {
	if b == nil || b.Amount == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(b.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("%w: token amount %q", ErrMalformedBalance, b.Amount)
	}
	return v, nil
}

// lamportDelta returns post-pre for the account at index, in SOL.
func lamportDelta(meta *solana.TransactionMeta, index int) (float64, bool) {
	if index < 0 || index >= len(meta.PreBalances) || index >= len(meta.PostBalances) {
		return 0, false
	}
	pre := new(big.Int).SetUint64(meta.PreBalances[index])
	post := new(big.Int).SetUint64(meta.PostBalances[index])
	sol, _ := decimal.NewFromBigInt(new(big.Int).Sub(post, pre), 0).
		Div(decimal.NewFromInt(solana.LamportsPerSOL)).
		Float64()
	return sol, true
}
