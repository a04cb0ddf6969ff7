package solana

// JSON shapes returned by getTransaction / getBlock with encoding "json".

type rawTransaction struct {
	Slot        int64        `json:"slot"`
	BlockTime   *int64       `json:"blockTime"`
	Meta        *rawMeta     `json:"meta"`
	Transaction *rawEnvelope `json:"transaction"`
}

type rawEnvelope struct {
	Signatures []string    `json:"signatures"`
	Message    *rawMessage `json:"message"`
}

type rawMessage struct {
	AccountKeys  []string         `json:"accountKeys"`
	Instructions []rawInstruction `json:"instructions"`
}

type rawInstruction struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"`
}

type rawMeta struct {
	Err               interface{}       `json:"err"`
	Fee               uint64            `json:"fee"`
	LogMessages       []string          `json:"logMessages"`
	PreBalances       []uint64          `json:"preBalances"`
	PostBalances      []uint64          `json:"postBalances"`
	PreTokenBalances  []rawTokenBalance `json:"preTokenBalances"`
	PostTokenBalances []rawTokenBalance `json:"postTokenBalances"`
	InnerInstructions []rawInnerSet     `json:"innerInstructions"`
	LoadedAddresses   *struct {
		Writable []string `json:"writable"`
		Readonly []string `json:"readonly"`
	} `json:"loadedAddresses"`
}

type rawTokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals int    `json:"decimals"`
	} `json:"uiTokenAmount"`
}

type rawInnerSet struct {
	Index        int              `json:"index"`
	Instructions []rawInstruction `json:"instructions"`
}

// getBlock wraps each entry as {transaction, meta} without slot/blockTime.
type rawBlock struct {
	BlockTime    *int64           `json:"blockTime"`
	Transactions []rawTransaction `json:"transactions"`
}

func (r *rawTransaction) toTransaction(slot int64, blockTime *int64) Transaction {
	tx := Transaction{Slot: slot}
	if blockTime != nil {
		tx.BlockTime = *blockTime
	}
	if r.Transaction != nil {
		if len(r.Transaction.Signatures) > 0 {
			tx.Signature = r.Transaction.Signatures[0]
		}
		if m := r.Transaction.Message; m != nil {
			tx.Message = &TransactionMessage{
				AccountKeys:  m.AccountKeys,
				Instructions: convertInstructions(m.Instructions),
			}
		}
	}
	if r.Meta != nil {
		tx.Meta = r.Meta.toMeta()
	}
	return tx
}

func (m *rawMeta) toMeta() *TransactionMeta {
	meta := &TransactionMeta{
		Err:               m.Err,
		Fee:               m.Fee,
		LogMessages:       m.LogMessages,
		PreBalances:       m.PreBalances,
		PostBalances:      m.PostBalances,
		PreTokenBalances:  convertTokenBalances(m.PreTokenBalances),
		PostTokenBalances: convertTokenBalances(m.PostTokenBalances),
	}
	if m.LoadedAddresses != nil {
		meta.LoadedAddresses = LoadedAddresses{
			Writable: m.LoadedAddresses.Writable,
			Readonly: m.LoadedAddresses.Readonly,
		}
	}
	for _, set := range m.InnerInstructions {
		meta.InnerInstructions = append(meta.InnerInstructions, InnerInstructionSet{
			Index:        set.Index,
			Instructions: convertInstructions(set.Instructions),
		})
	}
	return meta
}

func convertInstructions(in []rawInstruction) []CompiledInstruction {
	if len(in) == 0 {
		return nil
	}
	out := make([]CompiledInstruction, len(in))
	for i, ix := range in {
		out[i] = CompiledInstruction{
			ProgramIDIndex: ix.ProgramIDIndex,
			Accounts:       ix.Accounts,
			Data:           ix.Data,
		}
	}
	return out
}

func convertTokenBalances(in []rawTokenBalance) []TokenBalance {
	if len(in) == 0 {
		return nil
	}
	out := make([]TokenBalance, len(in))
	for i, b := range in {
		out[i] = TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint,
			Owner:        b.Owner,
			Amount:       b.UITokenAmount.Amount,
			Decimals:     b.UITokenAmount.Decimals,
		}
	}
	return out
}
