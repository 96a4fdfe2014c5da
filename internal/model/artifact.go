package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// JoinArtifact is the finalized relayer multicall for a nested join.
type JoinArtifact struct {
	To                     common.Address   `json:"to"`
	Data                   hexutil.Bytes    `json:"data"`
	QueryData              hexutil.Bytes    `json:"query_data"`
	Value                  *big.Int         `json:"value"`
	TokensIn               []common.Address `json:"tokens_in"`
	AmountsIn              []*big.Int       `json:"amounts_in"`
	ExpectedOut            *big.Int         `json:"expected_out"`
	MinOut                 *big.Int         `json:"min_out"`
	PriceImpact            *big.Int         `json:"price_impact"`
	BptZeroPriceImpact     *big.Int         `json:"bpt_zero_price_impact"`
	ExpectedAmountsPerPath []*big.Int       `json:"expected_amounts_per_path"`
}

// ExitArtifact is the finalized relayer multicall for a nested exit.
type ExitArtifact struct {
	To                 common.Address   `json:"to"`
	Data               hexutil.Bytes    `json:"data"`
	QueryData          hexutil.Bytes    `json:"query_data"`
	Value              *big.Int         `json:"value"`
	AmountIn           *big.Int         `json:"amount_in"`
	TokensOut          []common.Address `json:"tokens_out"`
	ExpectedAmountsOut []*big.Int       `json:"expected_amounts_out"`
	MinAmountsOut      []*big.Int       `json:"min_amounts_out"`
	PriceImpact        *big.Int         `json:"price_impact"`
	TokensToUnwrap     []common.Address `json:"tokens_to_unwrap,omitempty"`
}

// ExitInfo is the simulated outcome of an exit before calls are finalized.
type ExitInfo struct {
	TokensOut           []common.Address `json:"tokens_out"`
	EstimatedAmountsOut []*big.Int       `json:"estimated_amounts_out"`
	PriceImpact         *big.Int         `json:"price_impact"`
	TokensToUnwrap      []common.Address `json:"tokens_to_unwrap,omitempty"`
}
