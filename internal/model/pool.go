package model

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Pool is a snapshot of a vault pool as served by a pool repository.
type Pool struct {
	ID              string           `json:"id"`
	Address         common.Address   `json:"address"`
	PoolType        PoolType         `json:"pool_type"`
	PoolTypeVersion int              `json:"pool_type_version"`
	Tokens          []PoolToken      `json:"tokens"`
	TokensList      []common.Address `json:"tokens_list"`
	TotalShares     *big.Int         `json:"total_shares"`
	SwapFee         *big.Int         `json:"swap_fee"`
	Amp             *big.Int         `json:"amp,omitempty"`
	MainIndex       *int             `json:"main_index,omitempty"`
	WrappedIndex    *int             `json:"wrapped_index,omitempty"`
	LowerTarget     *big.Int         `json:"lower_target,omitempty"`
	UpperTarget     *big.Int         `json:"upper_target,omitempty"`
}

// PoolToken is one constituent of a pool. Balance is a raw token amount,
// Weight and PriceRate are 1e18 fixed point.
type PoolToken struct {
	Address   common.Address `json:"address"`
	Decimals  uint8          `json:"decimals"`
	Balance   *big.Int       `json:"balance"`
	Weight    *big.Int       `json:"weight,omitempty"`
	PriceRate *big.Int       `json:"price_rate,omitempty"`
}

// TokenIndex returns the position of token in the pool, or -1.
func (p Pool) TokenIndex(token common.Address) int {
	for i, t := range p.Tokens {
		if t.Address == token {
			return i
		}
	}
	return -1
}

// BptIndex returns the position of the pool's own share token, or -1 for
// pools that do not list it.
func (p Pool) BptIndex() int {
	return p.TokenIndex(p.Address)
}

// MainToken returns the main token of a linear pool.
func (p Pool) MainToken() (PoolToken, bool) {
	if p.MainIndex == nil || *p.MainIndex < 0 || *p.MainIndex >= len(p.Tokens) {
		return PoolToken{}, false
	}
	return p.Tokens[*p.MainIndex], true
}

// WrappedToken returns the wrapped token of a linear pool.
func (p Pool) WrappedToken() (PoolToken, bool) {
	if p.WrappedIndex == nil || *p.WrappedIndex < 0 || *p.WrappedIndex >= len(p.Tokens) {
		return PoolToken{}, false
	}
	return p.Tokens[*p.WrappedIndex], true
}

// Clone returns a deep copy so callers can mutate balances freely.
func (p Pool) Clone() Pool {
	out := p
	out.Tokens = make([]PoolToken, len(p.Tokens))
	for i, t := range p.Tokens {
		out.Tokens[i] = PoolToken{
			Address:   t.Address,
			Decimals:  t.Decimals,
			Balance:   cloneBig(t.Balance),
			Weight:    cloneBig(t.Weight),
			PriceRate: cloneBig(t.PriceRate),
		}
	}
	out.TokensList = append([]common.Address(nil), p.TokensList...)
	out.TotalShares = cloneBig(p.TotalShares)
	out.SwapFee = cloneBig(p.SwapFee)
	out.Amp = cloneBig(p.Amp)
	out.LowerTarget = cloneBig(p.LowerTarget)
	out.UpperTarget = cloneBig(p.UpperTarget)
	if p.MainIndex != nil {
		idx := *p.MainIndex
		out.MainIndex = &idx
	}
	if p.WrappedIndex != nil {
		idx := *p.WrappedIndex
		out.WrappedIndex = &idx
	}
	return out
}

// NormalizeID lowercases a hex pool id for map keys.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
