// Package vaultmodel replays relayer calls against an in-memory copy of the
// vault's pools so multi-hop plans can be simulated without a node.
package vaultmodel

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nestedLiquidity/internal/fixedpoint"
	"nestedLiquidity/internal/model"
	"nestedLiquidity/internal/relayer"
)

// Deltas are net vault balance changes per token. Positive amounts flow
// into the vault.
type Deltas map[common.Address]*big.Int

// Add accumulates amount into the delta of token.
func (d Deltas) Add(token common.Address, amount *big.Int) {
	cur, ok := d[token]
	if !ok {
		cur = new(big.Int)
		d[token] = cur
	}
	cur.Add(cur, amount)
}

func (d Deltas) merge(other Deltas) {
	for token, amount := range other {
		d.Add(token, amount)
	}
}

// Of returns the delta of token, zero when untouched.
func (d Deltas) Of(token common.Address) *big.Int {
	if v, ok := d[token]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// VaultModel holds mutable pool state and the chained reference table of
// one simulated multicall. It is not safe for concurrent use.
type VaultModel struct {
	pools  map[string]*model.Pool
	refs   map[uint64]*big.Int
	logger *zap.Logger
}

// New clones pools so simulations never touch the caller's snapshot.
func New(pools []model.Pool, logger *zap.Logger) *VaultModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &VaultModel{
		pools:  make(map[string]*model.Pool, len(pools)),
		refs:   make(map[uint64]*big.Int),
		logger: logger,
	}
	for _, pool := range pools {
		clone := pool.Clone()
		v.pools[model.NormalizeID(pool.ID)] = &clone
	}
	return v
}

// Pool returns a copy of the current state of a pool.
func (v *VaultModel) Pool(id string) (model.Pool, bool) {
	pool, ok := v.pools[model.NormalizeID(id)]
	if !ok {
		return model.Pool{}, false
	}
	return pool.Clone(), true
}

// Reference returns the value stored under a chained reference key.
func (v *VaultModel) Reference(key uint64) (*big.Int, bool) {
	value, ok := v.refs[key]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(value), true
}

// Multicall applies calls in order and returns their combined deltas.
// State changes persist across calls and across Multicall invocations.
func (v *VaultModel) Multicall(calls []relayer.Call) (Deltas, error) {
	total := make(Deltas)
	for i, call := range calls {
		var (
			deltas Deltas
			err    error
		)
		switch c := call.(type) {
		case relayer.JoinPoolCall:
			deltas, err = v.DoJoinPool(c)
		case relayer.ExitPoolCall:
			deltas, err = v.DoExitPool(c)
		case relayer.SwapCall:
			deltas, err = v.DoBatchSwap(c.AsBatchSwap())
		case relayer.BatchSwapCall:
			deltas, err = v.DoBatchSwap(c)
		case relayer.UnwrapCall:
			deltas, err = v.DoUnwrap(c)
		case relayer.WrapCall:
			deltas, err = v.DoWrap(c)
		case relayer.PeekCall:
			continue
		default:
			err = fmt.Errorf("unsupported call %T", call)
		}
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		total.merge(deltas)
	}
	return total, nil
}

func (v *VaultModel) pool(id string) (*model.Pool, error) {
	pool, ok := v.pools[model.NormalizeID(id)]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id, model.ErrPoolDoesNotExist)
	}
	return pool, nil
}

func (v *VaultModel) resolve(amount relayer.Amount) (*big.Int, error) {
	switch a := amount.(type) {
	case relayer.Literal:
		return a.Big(), nil
	case relayer.Pending:
		value, ok := v.refs[a.Key]
		if !ok {
			return nil, fmt.Errorf("chained reference %d not set", a.Key)
		}
		return new(big.Int).Set(value), nil
	case nil:
		return new(big.Int), nil
	default:
		return nil, fmt.Errorf("unsupported amount %T", amount)
	}
}

func (v *VaultModel) store(ref *big.Int, value *big.Int) {
	if ref == nil || ref.Sign() == 0 {
		return
	}
	key, ok := relayer.ReferenceKey(ref)
	if !ok {
		return
	}
	v.refs[key] = new(big.Int).Abs(value)
}

// DoJoinPool mints BPT for exact amounts in.
func (v *VaultModel) DoJoinPool(call relayer.JoinPoolCall) (Deltas, error) {
	pool, err := v.pool(call.PoolID)
	if err != nil {
		return nil, err
	}
	if len(call.Assets) != len(call.MaxAmountsIn) {
		return nil, fmt.Errorf("join %s: %w", call.PoolID, model.ErrInputLengthMismatch)
	}

	amountsIn := make(map[common.Address]*big.Int, len(call.Assets))
	deltas := make(Deltas)
	for i, asset := range call.Assets {
		if asset == pool.Address {
			continue
		}
		amount, err := v.resolve(call.MaxAmountsIn[i])
		if err != nil {
			return nil, err
		}
		amountsIn[asset] = amount
		deltas.Add(asset, amount)
	}

	bptOut, err := joinExactTokensIn(pool, amountsIn)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", call.PoolID, err)
	}
	deltas.Add(pool.Address, new(big.Int).Neg(bptOut))
	v.store(call.OutputReference, bptOut)

	v.logger.Debug("model join",
		zap.String("pool_id", call.PoolID),
		zap.String("bpt_out", bptOut.String()),
	)
	return deltas, nil
}

// DoExitPool burns BPT for a single token out, or for every pool token
// on a proportional exit.
func (v *VaultModel) DoExitPool(call relayer.ExitPoolCall) (Deltas, error) {
	pool, err := v.pool(call.PoolID)
	if err != nil {
		return nil, err
	}
	bptIn, err := v.resolve(call.BptIn)
	if err != nil {
		return nil, err
	}

	var amountsOut map[common.Address]*big.Int
	if call.Proportional {
		amountsOut, err = exitExactBptInForTokensOut(pool, bptIn)
		if err != nil {
			return nil, fmt.Errorf("exit %s: %w", call.PoolID, err)
		}
	} else {
		tokenOut, ok := exitToken(call)
		if !ok {
			return nil, fmt.Errorf("exit %s: token index %d: %w", call.PoolID, call.TokenIndex, model.ErrInputTokenInvalid)
		}
		amountOut, err := exitExactBptIn(pool, bptIn, tokenOut)
		if err != nil {
			return nil, fmt.Errorf("exit %s: %w", call.PoolID, err)
		}
		amountsOut = map[common.Address]*big.Int{tokenOut: amountOut}
	}

	deltas := make(Deltas)
	deltas.Add(pool.Address, bptIn)
	for i, asset := range call.Assets {
		amount, ok := amountsOut[asset]
		if !ok {
			continue
		}
		if len(call.MinAmountsOut) == len(call.Assets) && amount.Cmp(fixedpoint.OrZero(call.MinAmountsOut[i])) < 0 {
			return nil, fmt.Errorf("exit %s: %s out below minimum %s: %w", call.PoolID, amount, call.MinAmountsOut[i], model.ErrExitDeltaAmounts)
		}
		deltas.Add(asset, new(big.Int).Neg(amount))
	}
	for _, ref := range call.OutputReferences {
		idx := int(ref.Index.Int64())
		if idx < 0 || idx >= len(call.Assets) {
			return nil, fmt.Errorf("exit %s: output reference index %d out of range", call.PoolID, idx)
		}
		v.store(ref.Key, deltas.Of(call.Assets[idx]))
	}

	v.logger.Debug("model exit",
		zap.String("pool_id", call.PoolID),
		zap.Bool("proportional", call.Proportional),
		zap.Int("tokens_out", len(amountsOut)),
	)
	return deltas, nil
}

// exitToken resolves the user data token index, which skips the pool's
// own BPT among the call's assets.
func exitToken(call relayer.ExitPoolCall) (common.Address, bool) {
	i := 0
	for _, asset := range call.Assets {
		if asset == call.Pool {
			continue
		}
		if i == call.TokenIndex {
			return asset, true
		}
		i++
	}
	return common.Address{}, false
}

// DoBatchSwap runs exact-in swap steps. A zero amount on a step after the
// first consumes the previous step's output.
func (v *VaultModel) DoBatchSwap(call relayer.BatchSwapCall) (Deltas, error) {
	if call.Kind != relayer.SwapExactIn {
		return nil, fmt.Errorf("swap kind %d: %w", call.Kind, model.ErrUnsupportedSwap)
	}
	deltas := make(Deltas)
	var previousOut *big.Int
	for i, step := range call.Swaps {
		if step.AssetInIndex < 0 || step.AssetInIndex >= len(call.Assets) ||
			step.AssetOutIndex < 0 || step.AssetOutIndex >= len(call.Assets) {
			return nil, fmt.Errorf("swap step %d: asset index out of range", i)
		}
		amountIn, err := v.resolve(step.Amount)
		if err != nil {
			return nil, err
		}
		if amountIn.Sign() == 0 && i > 0 && previousOut != nil {
			amountIn = previousOut
		}

		pool, err := v.pool(step.PoolID)
		if err != nil {
			return nil, err
		}
		tokenIn := call.Assets[step.AssetInIndex]
		tokenOut := call.Assets[step.AssetOutIndex]
		amountOut, err := swapExactIn(pool, tokenIn, tokenOut, amountIn)
		if err != nil {
			return nil, fmt.Errorf("swap %s in pool %s: %w", tokenIn.Hex(), step.PoolID, err)
		}

		deltas.Add(tokenIn, amountIn)
		deltas.Add(tokenOut, new(big.Int).Neg(amountOut))
		previousOut = amountOut
	}

	for _, ref := range call.OutputReferences {
		idx := int(ref.Index.Int64())
		if idx < 0 || idx >= len(call.Assets) {
			return nil, fmt.Errorf("output reference index %d out of range", idx)
		}
		v.store(ref.Key, deltas.Of(call.Assets[idx]))
	}
	return deltas, nil
}

// DoUnwrap redeems wrapped tokens at the linear pool's wrapped rate.
func (v *VaultModel) DoUnwrap(call relayer.UnwrapCall) (Deltas, error) {
	main, rate, err := v.wrapper(call.LinearPoolID)
	if err != nil {
		return nil, err
	}
	amountIn, err := v.resolve(call.Amount)
	if err != nil {
		return nil, err
	}
	amountOut := unwrapAmount(amountIn, rate)

	deltas := make(Deltas)
	deltas.Add(call.WrappedToken, amountIn)
	deltas.Add(main, new(big.Int).Neg(amountOut))
	v.store(call.OutputReference, amountOut)
	return deltas, nil
}

// DoWrap deposits main tokens at the inverse of the wrapped rate.
func (v *VaultModel) DoWrap(call relayer.WrapCall) (Deltas, error) {
	main, rate, err := v.wrapper(call.LinearPoolID)
	if err != nil {
		return nil, err
	}
	amountIn, err := v.resolve(call.Amount)
	if err != nil {
		return nil, err
	}
	amountOut := wrapAmount(amountIn, rate)

	deltas := make(Deltas)
	deltas.Add(main, amountIn)
	deltas.Add(call.WrappedToken, new(big.Int).Neg(amountOut))
	v.store(call.OutputReference, amountOut)
	return deltas, nil
}

func (v *VaultModel) wrapper(linearPoolID string) (common.Address, *big.Int, error) {
	pool, err := v.pool(linearPoolID)
	if err != nil {
		return common.Address{}, nil, err
	}
	main, ok := pool.MainToken()
	if !ok {
		return common.Address{}, nil, fmt.Errorf("pool %s has no main token: %w", linearPoolID, model.ErrUnsupportedPoolType)
	}
	wrapped, ok := pool.WrappedToken()
	if !ok {
		return common.Address{}, nil, fmt.Errorf("pool %s has no wrapped token: %w", linearPoolID, model.ErrUnsupportedPoolType)
	}
	rate := wrapped.PriceRate
	if rate == nil || rate.Sign() == 0 {
		rate = big.NewInt(1e18)
	}
	return main.Address, rate, nil
}
