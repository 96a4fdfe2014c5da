package simulation

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"nestedLiquidity/internal/relayer"
	"nestedLiquidity/internal/vaultmodel"
)

// VaultModel simulates against an off-chain replica of the request's pools.
// Paths run in order on one model, as they would inside a single multicall.
type VaultModel struct {
	logger *zap.Logger
}

func NewVaultModel(logger *zap.Logger) *VaultModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VaultModel{logger: logger}
}

func (s *VaultModel) Simulate(ctx context.Context, req Request) ([]*big.Int, error) {
	if len(req.Paths) == 0 {
		return nil, fmt.Errorf("vault model simulation: no paths")
	}
	model := vaultmodel.New(req.Pools, s.logger)

	var out []*big.Int
	for i, path := range req.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		deltas, err := model.Multicall(path.Calls)
		if err != nil {
			return nil, fmt.Errorf("path %d: %w", i, err)
		}
		amounts, err := peeked(model, path.Calls)
		if err != nil {
			return nil, fmt.Errorf("path %d: %w", i, err)
		}
		if amounts == nil {
			amounts = []*big.Int{new(big.Int).Neg(deltas.Of(path.Output))}
		}
		out = append(out, amounts...)
		s.logger.Debug("vault model path",
			zap.Int("path", i),
			zap.String("output", path.Output.Hex()),
			zap.Int("amounts", len(amounts)),
		)
	}
	return out, nil
}

// peeked reads the references a path peeks, in call order, the way a node
// decodes them from the multicall results.
func peeked(model *vaultmodel.VaultModel, calls []relayer.Call) ([]*big.Int, error) {
	var out []*big.Int
	for _, call := range calls {
		peek, ok := call.(relayer.PeekCall)
		if !ok {
			continue
		}
		key, ok := relayer.ReferenceKey(peek.Reference)
		if !ok {
			return nil, fmt.Errorf("peek of %s is not a chained reference", peek.Reference)
		}
		value, ok := model.Reference(key)
		if !ok {
			return nil, fmt.Errorf("peeked reference %d not set", key)
		}
		out = append(out, value)
	}
	return out, nil
}
