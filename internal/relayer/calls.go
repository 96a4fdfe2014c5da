package relayer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nestedLiquidity/internal/model"
)

// SwapKind selects which side of a swap is fixed.
type SwapKind uint8

const (
	SwapExactIn SwapKind = iota
	SwapExactOut
)

// FundManagement mirrors the vault's funds struct.
type FundManagement struct {
	Sender              common.Address `abi:"sender"`
	FromInternalBalance bool           `abi:"fromInternalBalance"`
	Recipient           common.Address `abi:"recipient"`
	ToInternalBalance   bool           `abi:"toInternalBalance"`
}

// OutputReference stores the amount at asset Index under chained
// reference Key.
type OutputReference struct {
	Index *big.Int `abi:"index"`
	Key   *big.Int `abi:"key"`
}

type singleSwap struct {
	PoolID   [32]byte       `abi:"poolId"`
	Kind     uint8          `abi:"kind"`
	AssetIn  common.Address `abi:"assetIn"`
	AssetOut common.Address `abi:"assetOut"`
	Amount   *big.Int       `abi:"amount"`
	UserData []byte         `abi:"userData"`
}

type batchSwapStep struct {
	PoolID        [32]byte `abi:"poolId"`
	AssetInIndex  *big.Int `abi:"assetInIndex"`
	AssetOutIndex *big.Int `abi:"assetOutIndex"`
	Amount        *big.Int `abi:"amount"`
	UserData      []byte   `abi:"userData"`
}

type joinPoolRequest struct {
	Assets              []common.Address `abi:"assets"`
	MaxAmountsIn        []*big.Int       `abi:"maxAmountsIn"`
	UserData            []byte           `abi:"userData"`
	FromInternalBalance bool             `abi:"fromInternalBalance"`
}

type exitPoolRequest struct {
	Assets            []common.Address `abi:"assets"`
	MinAmountsOut     []*big.Int       `abi:"minAmountsOut"`
	UserData          []byte           `abi:"userData"`
	ToInternalBalance bool             `abi:"toInternalBalance"`
}

// Call is one relayer action of a multicall.
type Call interface {
	Encode() ([]byte, error)
}

// SwapCall is a single-hop exact-in swap.
type SwapCall struct {
	PoolID          string
	AssetIn         common.Address
	AssetOut        common.Address
	Amount          Amount
	Funds           FundManagement
	Limit           *big.Int
	Deadline        *big.Int
	Value           *big.Int
	OutputReference *big.Int
}

func (c SwapCall) Encode() ([]byte, error) {
	return pack("swap",
		singleSwap{
			PoolID:   poolID(c.PoolID),
			Kind:     uint8(SwapExactIn),
			AssetIn:  c.AssetIn,
			AssetOut: c.AssetOut,
			Amount:   c.Amount.Big(),
			UserData: []byte{},
		},
		c.Funds,
		orZero(c.Limit),
		orZero(c.Deadline),
		orZero(c.Value),
		orZero(c.OutputReference),
	)
}

// AsBatchSwap expresses the swap as a one-step batch swap.
func (c SwapCall) AsBatchSwap() BatchSwapCall {
	var refs []OutputReference
	if c.OutputReference != nil && c.OutputReference.Sign() != 0 {
		refs = []OutputReference{{Index: big.NewInt(1), Key: new(big.Int).Set(c.OutputReference)}}
	}
	return BatchSwapCall{
		Kind:   SwapExactIn,
		Swaps:  []SwapStep{{PoolID: c.PoolID, AssetInIndex: 0, AssetOutIndex: 1, Amount: c.Amount}},
		Assets: []common.Address{c.AssetIn, c.AssetOut},
		Funds:  c.Funds,
		Limits: []*big.Int{
			c.Amount.Big(),
			new(big.Int).Neg(orZero(c.Limit)),
		},
		Deadline:         c.Deadline,
		Value:            c.Value,
		OutputReferences: refs,
	}
}

// SwapStep is one hop of a batch swap. A zero Amount on a later step
// takes the previous step's output.
type SwapStep struct {
	PoolID        string
	AssetInIndex  int
	AssetOutIndex int
	Amount        Amount
	UserData      []byte
}

// BatchSwapCall routes through several pools in one vault call.
type BatchSwapCall struct {
	Kind             SwapKind
	Swaps            []SwapStep
	Assets           []common.Address
	Funds            FundManagement
	Limits           []*big.Int
	Deadline         *big.Int
	Value            *big.Int
	OutputReferences []OutputReference
}

func (c BatchSwapCall) Encode() ([]byte, error) {
	steps := make([]batchSwapStep, len(c.Swaps))
	for i, s := range c.Swaps {
		userData := s.UserData
		if userData == nil {
			userData = []byte{}
		}
		steps[i] = batchSwapStep{
			PoolID:        poolID(s.PoolID),
			AssetInIndex:  big.NewInt(int64(s.AssetInIndex)),
			AssetOutIndex: big.NewInt(int64(s.AssetOutIndex)),
			Amount:        s.Amount.Big(),
			UserData:      userData,
		}
	}
	refs := c.OutputReferences
	if refs == nil {
		refs = []OutputReference{}
	}
	return pack("batchSwap",
		uint8(c.Kind),
		steps,
		c.Assets,
		c.Funds,
		c.Limits,
		orZero(c.Deadline),
		orZero(c.Value),
		refs,
	)
}

// JoinPoolCall adds liquidity with exact tokens in. Assets must be sorted
// and include the pool's own BPT when the pool lists it.
type JoinPoolCall struct {
	PoolID              string
	Pool                common.Address
	Kind                model.PoolKind
	Sender              common.Address
	Recipient           common.Address
	Assets              []common.Address
	MaxAmountsIn        []Amount
	MinBptOut           *big.Int
	FromInternalBalance bool
	Value               *big.Int
	OutputReference     *big.Int
}

// UserDataAmounts returns MaxAmountsIn without the pool's BPT slot.
func (c JoinPoolCall) UserDataAmounts() []Amount {
	out := make([]Amount, 0, len(c.MaxAmountsIn))
	for i, a := range c.MaxAmountsIn {
		if c.Assets[i] == c.Pool {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (c JoinPoolCall) Encode() ([]byte, error) {
	if len(c.Assets) != len(c.MaxAmountsIn) {
		return nil, fmt.Errorf("join %s: %d assets, %d amounts: %w", c.PoolID, len(c.Assets), len(c.MaxAmountsIn), model.ErrInputLengthMismatch)
	}
	userData, err := JoinExactTokensInForBptOut(bigs(c.UserDataAmounts()), orZero(c.MinBptOut))
	if err != nil {
		return nil, err
	}
	return pack("joinPool",
		poolID(c.PoolID),
		uint8(c.Kind),
		c.Sender,
		c.Recipient,
		joinPoolRequest{
			Assets:              c.Assets,
			MaxAmountsIn:        bigs(c.MaxAmountsIn),
			UserData:            userData,
			FromInternalBalance: c.FromInternalBalance,
		},
		orZero(c.Value),
		orZero(c.OutputReference),
	)
}

// ExitPoolCall burns BptIn for a single token, or for every pool token when
// Proportional is set. TokenIndex counts the pool's tokens without its BPT.
type ExitPoolCall struct {
	PoolID            string
	Pool              common.Address
	Kind              model.PoolKind
	Sender            common.Address
	Recipient         common.Address
	Assets            []common.Address
	MinAmountsOut     []*big.Int
	BptIn             Amount
	TokenIndex        int
	ToInternalBalance bool
	OutputReferences  []OutputReference
	Proportional      bool
}

func (c ExitPoolCall) Encode() ([]byte, error) {
	if len(c.Assets) != len(c.MinAmountsOut) {
		return nil, fmt.Errorf("exit %s: %d assets, %d amounts: %w", c.PoolID, len(c.Assets), len(c.MinAmountsOut), model.ErrInputLengthMismatch)
	}
	var (
		userData []byte
		err      error
	)
	if c.Proportional {
		composable := c.Kind == model.PoolKindComposableStable || c.Kind == model.PoolKindComposableStableV2
		userData, err = ExitExactBptInForTokensOut(c.BptIn.Big(), composable)
	} else {
		userData, err = ExitExactBptInForOneTokenOut(c.BptIn.Big(), c.TokenIndex)
	}
	if err != nil {
		return nil, err
	}
	refs := c.OutputReferences
	if refs == nil {
		refs = []OutputReference{}
	}
	return pack("exitPool",
		poolID(c.PoolID),
		uint8(c.Kind),
		c.Sender,
		c.Recipient,
		exitPoolRequest{
			Assets:            c.Assets,
			MinAmountsOut:     c.MinAmountsOut,
			UserData:          userData,
			ToInternalBalance: c.ToInternalBalance,
		},
		refs,
	)
}

// WrapCall deposits main tokens into the wrapper of a linear pool.
type WrapCall struct {
	Wrapper         model.WrapperKind
	LinearPoolID    string
	WrappedToken    common.Address
	Sender          common.Address
	Recipient       common.Address
	Amount          Amount
	OutputReference *big.Int
}

func (c WrapCall) Encode() ([]byte, error) {
	switch c.Wrapper {
	case model.WrapperAaveStatic:
		return pack("wrapAaveDynamicToken", c.WrappedToken, c.Sender, c.Recipient, c.Amount.Big(), true, orZero(c.OutputReference))
	case model.WrapperERC4626:
		return pack("wrapERC4626", c.WrappedToken, c.Sender, c.Recipient, c.Amount.Big(), orZero(c.OutputReference))
	default:
		return nil, fmt.Errorf("wrapper %d: %w", c.Wrapper, model.ErrUnsupportedPoolType)
	}
}

// UnwrapCall redeems wrapped tokens of a linear pool for its main token.
type UnwrapCall struct {
	Wrapper         model.WrapperKind
	LinearPoolID    string
	WrappedToken    common.Address
	Sender          common.Address
	Recipient       common.Address
	Amount          Amount
	OutputReference *big.Int
}

func (c UnwrapCall) Encode() ([]byte, error) {
	switch c.Wrapper {
	case model.WrapperAaveStatic:
		return pack("unwrapAaveStaticToken", c.WrappedToken, c.Sender, c.Recipient, c.Amount.Big(), true, orZero(c.OutputReference))
	case model.WrapperERC4626:
		return pack("unwrapERC4626", c.WrappedToken, c.Sender, c.Recipient, c.Amount.Big(), orZero(c.OutputReference))
	default:
		return nil, fmt.Errorf("wrapper %d: %w", c.Wrapper, model.ErrUnsupportedPoolType)
	}
}

// PeekCall reads a chained reference without clearing it. Simulations
// append one per path to read the path's result.
type PeekCall struct {
	Reference *big.Int
}

func (c PeekCall) Encode() ([]byte, error) {
	return EncodePeekChainedReferenceValue(orZero(c.Reference))
}

func poolID(id string) [32]byte {
	return common.HexToHash(id)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func bigs(amounts []Amount) []*big.Int {
	out := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		out[i] = a.Big()
	}
	return out
}
