// Package simulation turns a planned relayer multicall into the amounts each
// path produces. Backends are interchangeable: an off-chain vault model, a
// plain eth_call, or a remote fork simulation.
package simulation

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nestedLiquidity/internal/metrics"
	"nestedLiquidity/internal/model"
	"nestedLiquidity/internal/relayer"
)

// Backend names a simulation strategy.
type Backend string

const (
	BackendVaultModel Backend = "vault-model"
	BackendStatic     Backend = "static"
	BackendTenderly   Backend = "tenderly"
)

// PathCalls are the relayer calls of one path. Output is the token whose
// vault outflow is the path's result.
type PathCalls struct {
	Calls  []relayer.Call
	Output common.Address
}

// Request describes one multicall to simulate. Remote backends run Data and
// read the peeked values at OutputIndexes; the vault model replays Paths
// against Pools.
type Request struct {
	To            common.Address
	From          common.Address
	Data          []byte
	Value         *big.Int
	TokensIn      []common.Address
	OutputIndexes []int

	Paths []PathCalls
	Pools []model.Pool
}

// Simulator returns one amount per peeked output, in call order. A path
// without peeks yields the outflow of its Output token.
type Simulator interface {
	Simulate(ctx context.Context, req Request) ([]*big.Int, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend  Backend
	Tenderly TenderlyConfig
	// Retry applies to the remote backends only.
	Retry RetryConfig
}

// Deps are the collaborators a backend may need.
type Deps struct {
	Caller  Caller
	Logger  *zap.Logger
	Metrics *metrics.PlannerMetrics
}

// New builds the configured backend, instrumented with deps.Metrics.
func New(ctx context.Context, cfg Config, deps Deps) (Simulator, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var sim Simulator
	switch cfg.Backend {
	case BackendVaultModel, "":
		sim = NewVaultModel(logger)
	case BackendStatic:
		if deps.Caller == nil {
			return nil, fmt.Errorf("static simulation needs an rpc client")
		}
		sim = NewRetrying(NewStatic(deps.Caller, logger), cfg.Retry, logger)
	case BackendTenderly:
		t, err := NewTenderly(ctx, cfg.Tenderly, logger)
		if err != nil {
			return nil, err
		}
		sim = NewRetrying(t, cfg.Retry, logger)
	default:
		return nil, fmt.Errorf("unknown simulation backend %q", cfg.Backend)
	}

	if deps.Metrics == nil {
		return sim, nil
	}
	backend := cfg.Backend
	if backend == "" {
		backend = BackendVaultModel
	}
	return &instrumented{backend: string(backend), next: sim, metrics: deps.Metrics}, nil
}

type instrumented struct {
	backend string
	next    Simulator
	metrics *metrics.PlannerMetrics
}

func (s *instrumented) Simulate(ctx context.Context, req Request) ([]*big.Int, error) {
	start := time.Now()
	out, err := s.next.Simulate(ctx, req)
	s.metrics.ObserveSimulation(s.backend, start, err)
	return out, err
}

// Close releases the connection held by the backend behind s, if any.
func Close(s Simulator) {
	switch v := s.(type) {
	case *instrumented:
		Close(v.next)
	case *Retrying:
		Close(v.next)
	case interface{ Close() }:
		v.Close()
	}
}

// Total sums per-path amounts.
func Total(amounts []*big.Int) *big.Int {
	total := new(big.Int)
	for _, a := range amounts {
		if a != nil {
			total.Add(total, a)
		}
	}
	return total
}
