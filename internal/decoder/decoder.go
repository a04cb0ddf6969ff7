package decoder

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mr-tron/base58"

	"solana-trade-ledger/internal/domain"
	"solana-trade-ledger/internal/solana"
)

// Skip reasons. They are returned in Result.Skipped, never as a failure of
// the whole transaction.
var (
	ErrMalformedData        = errors.New("malformed instruction data")
	ErrShortData            = errors.New("instruction data shorter than discriminator")
	ErrUnknownDiscriminator = errors.New("unknown discriminator")
	ErrAccountIndex         = errors.New("account index out of range")
	ErrMissingBalances      = errors.New("missing balance snapshots")
	ErrMalformedBalance     = errors.New("malformed token balance")
	ErrNoBalanceChange      = errors.New("no matching token balance change")
	ErrNonPositiveBase      = errors.New("non-positive base quantity")
	ErrExcludedWallet       = errors.New("wallet is excluded")
)

// DefaultExcludedWallets are relayer and fee wallets that never trade for
// themselves.
var DefaultExcludedWallets = []string{
	"CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM",
}

// Options configures a Decoder.
type Options struct {
	// Programs to decode. Defaults to pump.fun only.
	Programs []Program
	// ExcludedWallets are added to DefaultExcludedWallets.
	ExcludedWallets []string
	// Now supplies the trade time when the block time is unknown.
	Now func() time.Time
}

// Decoder turns transactions into decoded trades. It holds no mutable
// state and is safe for concurrent use.
type Decoder struct {
	programs map[string]Program
	excluded map[string]struct{}
	now      func() time.Time
}

// New creates a decoder.
func New(opts Options) *Decoder {
	d := &Decoder{
		programs: make(map[string]Program),
		excluded: make(map[string]struct{}),
		now:      opts.Now,
	}
	if d.now == nil {
		d.now = time.Now
	}

	programs := opts.Programs
	if len(programs) == 0 {
		programs = []Program{PumpFun()}
	}
	for _, p := range programs {
		d.programs[p.ID] = p
	}

	for _, w := range DefaultExcludedWallets {
		d.excluded[w] = struct{}{}
	}
	for _, w := range opts.ExcludedWallets {
		d.excluded[w] = struct{}{}
	}
	return d
}

// ProgramIDs returns the tracked program identifiers.
func (d *Decoder) ProgramIDs() []string {
	ids := make([]string, 0, len(d.programs))
	for id := range d.programs {
		ids = append(ids, id)
	}
	return ids
}

// Result is the outcome of decoding one transaction.
type Result struct {
	Trades  []domain.DecodedTrade
	Skipped []error
}

// instructionRef locates an instruction for diagnostics.
type instructionRef struct {
	outer int
	inner int // -1 for top-level
	ix    solana.CompiledInstruction
}

func (r instructionRef) String() string {
	if r.inner < 0 {
		return fmt.Sprintf("#%d", r.outer)
	}
	return fmt.Sprintf("#%d.%d", r.outer, r.inner)
}

// Decode extracts every buy and sell addressed to a tracked program.
// Failed transactions and transactions without meta decode to nothing.
func (d *Decoder) Decode(tx *solana.Transaction) Result {
	var res Result
	if tx == nil || tx.Message == nil || tx.Meta == nil || tx.Meta.Failed() {
		return res
	}

	keys := tx.AccountKeys()
	ts := tx.BlockTime * 1000
	if tx.BlockTime == 0 {
		ts = d.now().UnixMilli()
	}

	seen := make(map[string]struct{})
	for _, ref := range instructions(tx) {
		if ref.ix.ProgramIDIndex < 0 || ref.ix.ProgramIDIndex >= len(keys) {
			continue
		}
		prog, ok := d.programs[keys[ref.ix.ProgramIDIndex]]
		if !ok {
			continue
		}

		trade, err := d.decodeInstruction(tx, keys, &prog, ref.ix)
		if err != nil {
			res.Skipped = append(res.Skipped, fmt.Errorf("%s instruction %s: %w", tx.Signature, ref, err))
			continue
		}
		if trade == nil {
			continue
		}

		// Router calls surface the same fill more than once.
		id := string(trade.Side) + "|" + trade.Wallet + "|" + trade.Asset
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		trade.TxID = tx.Signature
		trade.Slot = tx.Slot
		trade.Timestamp = ts
		res.Trades = append(res.Trades, *trade)
	}
	return res
}

// instructions lists top-level instructions, each followed by its CPIs.
func instructions(tx *solana.Transaction) []instructionRef {
	inner := make(map[int][]solana.CompiledInstruction, len(tx.Meta.InnerInstructions))
	for _, set := range tx.Meta.InnerInstructions {
		inner[set.Index] = append(inner[set.Index], set.Instructions...)
	}

	var refs []instructionRef
	for i, ix := range tx.Message.Instructions {
		refs = append(refs, instructionRef{outer: i, inner: -1, ix: ix})
		for j, cpi := range inner[i] {
			refs = append(refs, instructionRef{outer: i, inner: j, ix: cpi})
		}
		delete(inner, i)
	}
	// Inner sets whose outer instruction is missing from the message.
	orphans := make([]int, 0, len(inner))
	for i := range inner {
		orphans = append(orphans, i)
	}
	sort.Ints(orphans)
	for _, i := range orphans {
		for j, cpi := range inner[i] {
			refs = append(refs, instructionRef{outer: i, inner: j, ix: cpi})
		}
	}
	return refs
}

// decodeInstruction returns nil, nil for ignored instructions.
func (d *Decoder) decodeInstruction(tx *solana.Transaction, keys []string, prog *Program, ix solana.CompiledInstruction) (*domain.DecodedTrade, error) {
	data, err := base58.Decode(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	if len(data) < len(Discriminator{}) {
		return nil, ErrShortData
	}

	var disc Discriminator
	copy(disc[:], data[:8])
	side, ignored, ok := prog.classify(disc)
	if ignored {
		return nil, nil
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDiscriminator, disc)
	}

	asset, ok := accountAt(keys, ix, prog.AssetIndex)
	if !ok {
		return nil, fmt.Errorf("%w: asset at %d", ErrAccountIndex, prog.AssetIndex)
	}
	curve, _ := accountAt(keys, ix, prog.CurveIndex)
	userToken, _ := accountAt(keys, ix, prog.UserTokenIndex)

	meta := tx.Meta
	if len(meta.PostTokenBalances) == 0 && len(meta.PreTokenBalances) == 0 {
		return nil, fmt.Errorf("%w: token", ErrMissingBalances)
	}

	deltas, err := mintDeltas(meta, asset)
	if err != nil {
		return nil, err
	}
	match, ok := pickDelta(deltas, keys, side, curve, userToken)
	if !ok {
		return nil, ErrNoBalanceChange
	}

	if _, excluded := d.excluded[match.Owner]; excluded {
		return nil, fmt.Errorf("%w: %s", ErrExcludedWallet, match.Owner)
	}

	change, ok := lamportDelta(meta, 0)
	if !ok {
		return nil, fmt.Errorf("%w: lamports", ErrMissingBalances)
	}
	base := change
	if side == domain.SideBuy {
		base = -change
	}
	if base <= 0 {
		return nil, fmt.Errorf("%w: %f", ErrNonPositiveBase, base)
	}

	return &domain.DecodedTrade{
		Side:     side,
		Wallet:   match.Owner,
		Asset:    asset,
		AssetQty: match.Amount(),
		BaseQty:  base,
	}, nil
}

// accountAt resolves the key at position pos of the instruction accounts.
func accountAt(keys []string, ix solana.CompiledInstruction, pos int) (string, bool) {
	if pos < 0 || pos >= len(ix.Accounts) {
		return "", false
	}
	idx := ix.Accounts[pos]
	if idx < 0 || idx >= len(keys) {
		return "", false
	}
	return keys[idx], true
}

// pickDelta selects the trader's balance change: sign agrees with side,
// not owned by the pool, preferring the instruction's own user token
// account.
func pickDelta(deltas []tokenDelta, keys []string, side domain.Side, curve, userToken string) (tokenDelta, bool) {
	var candidates []tokenDelta
	for _, d := range deltas {
		if (side == domain.SideBuy) != (d.Raw.Sign() > 0) {
			continue
		}
		if d.Owner == "" || (curve != "" && d.Owner == curve) {
			continue
		}
		candidates = append(candidates, d)
	}
	if len(candidates) == 0 {
		return tokenDelta{}, false
	}
	if userToken != "" {
		for _, c := range candidates {
			if c.AccountIndex < len(keys) && keys[c.AccountIndex] == userToken {
				return c, true
			}
		}
	}
	return candidates[0], true
}

var skipReasons = []struct {
	err   error
	label string
}{
	{ErrMalformedData, "malformed_data"},
	{ErrShortData, "short_data"},
	{ErrUnknownDiscriminator, "unknown_discriminator"},
	{ErrAccountIndex, "account_index"},
	{ErrMissingBalances, "missing_balances"},
	{ErrMalformedBalance, "malformed_balance"},
	{ErrNoBalanceChange, "no_balance_change"},
	{ErrNonPositiveBase, "non_positive_base"},
	{ErrExcludedWallet, "excluded_wallet"},
}

// SkipReason returns a short metric label for a skip error.
func SkipReason(err error) string {
	for _, r := range skipReasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "other"
}
