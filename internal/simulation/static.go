package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"nestedLiquidity/internal/model"
	"nestedLiquidity/internal/relayer"
)

// Caller performs an eth_call. chain.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Static runs the multicall as a read-only call from the user's address.
type Static struct {
	caller Caller
	logger *zap.Logger
}

func NewStatic(caller Caller, logger *zap.Logger) *Static {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Static{caller: caller, logger: logger}
}

func (s *Static) Simulate(ctx context.Context, req Request) ([]*big.Int, error) {
	to := req.To
	out, err := s.caller.CallContract(ctx, ethereum.CallMsg{
		From:  req.From,
		To:    &to,
		Data:  req.Data,
		Value: req.Value,
	}, nil)
	if err != nil {
		return nil, revertError(err)
	}
	amounts, err := relayer.DecodeOutputs(out, req.OutputIndexes)
	if err != nil {
		return nil, fmt.Errorf("decode static simulation: %w", err)
	}
	s.logger.Debug("static simulation", zap.Int("outputs", len(amounts)))
	return amounts, nil
}

// revertError maps an execution revert carrying return data onto
// SimulationRevertError. Other failures pass through wrapped.
func revertError(err error) error {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if encoded, ok := dataErr.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(encoded); decErr == nil {
				return &model.SimulationRevertError{Reason: relayer.DecodeRevert(raw)}
			}
		}
	}
	return fmt.Errorf("eth_call: %w", err)
}
