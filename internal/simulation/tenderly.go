package simulation

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"nestedLiquidity/internal/relayer"
)

// TenderlyConfig points at a Tenderly node gateway.
type TenderlyConfig struct {
	URL       string
	AccessKey string
	// BlockNumber pins the fork. Zero simulates on latest.
	BlockNumber uint64
}

// userBalance funds the sender so native joins never fail on gas or value.
var userBalance = new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))

// Tenderly simulates the multicall on a remote fork through the
// tenderly_simulateTransaction JSON-RPC method.
type Tenderly struct {
	client *rpc.Client
	block  uint64
	logger *zap.Logger
}

// NewTenderly dials the gateway.
func NewTenderly(ctx context.Context, cfg TenderlyConfig, logger *zap.Logger) (*Tenderly, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("tenderly simulation needs a gateway url")
	}
	var opts []rpc.ClientOption
	if cfg.AccessKey != "" {
		opts = append(opts, rpc.WithHeader("X-Access-Key", cfg.AccessKey))
	}
	client, err := rpc.DialOptions(ctx, cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial tenderly: %w", err)
	}
	return NewTenderlyWithClient(client, cfg.BlockNumber, logger), nil
}

// NewTenderlyWithClient wraps an existing rpc client.
func NewTenderlyWithClient(client *rpc.Client, block uint64, logger *zap.Logger) *Tenderly {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tenderly{client: client, block: block, logger: logger}
}

// Close releases the rpc connection.
func (s *Tenderly) Close() {
	s.client.Close()
}

type tenderlyTx struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *hexutil.Big   `json:"value,omitempty"`
}

type tenderlyOverride struct {
	Balance *hexutil.Big `json:"balance,omitempty"`
}

type tenderlyTrace struct {
	Type   string        `json:"type"`
	Method string        `json:"method"`
	Output hexutil.Bytes `json:"output"`
}

type tenderlyResult struct {
	Trace []tenderlyTrace `json:"trace"`
}

func (s *Tenderly) Simulate(ctx context.Context, req Request) ([]*big.Int, error) {
	tx := tenderlyTx{From: req.From, To: req.To, Data: req.Data}
	if req.Value != nil && req.Value.Sign() > 0 {
		tx.Value = (*hexutil.Big)(req.Value)
	}
	block := "latest"
	if s.block > 0 {
		block = hexutil.EncodeUint64(s.block)
	}
	overrides := map[common.Address]tenderlyOverride{
		req.From: {Balance: (*hexutil.Big)(userBalance)},
	}

	var result tenderlyResult
	if err := s.client.CallContext(ctx, &result, "tenderly_simulateTransaction", tx, block, overrides); err != nil {
		return nil, revertError(err)
	}

	// Keep the last multicall frame in the trace.
	var output []byte
	for _, trace := range result.Trace {
		if trace.Type == "CALL" && trace.Method == "multicall" {
			output = trace.Output
		}
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("tenderly simulation returned no multicall output")
	}

	amounts, err := relayer.DecodeOutputs(output, req.OutputIndexes)
	if err != nil {
		return nil, fmt.Errorf("decode tenderly simulation: %w", err)
	}
	s.logger.Debug("tenderly simulation", zap.Int("outputs", len(amounts)), zap.Int("traces", len(result.Trace)))
	return amounts, nil
}
