// Package joins plans a join into the root of a nested pool tree from any
// mix of its leaf and intermediate tokens, as a single relayer multicall.
package joins

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nestedLiquidity/internal/graph"
	"nestedLiquidity/internal/metrics"
	"nestedLiquidity/internal/model"
	"nestedLiquidity/internal/pricing"
	"nestedLiquidity/internal/simulation"
	"nestedLiquidity/internal/vaultmodel"
)

const operation = "join"

// Config holds the chain addresses a join is lowered against.
type Config struct {
	Relayer            common.Address
	WrappedNativeAsset common.Address
}

// Params describe one join request. The zero address in TokensIn stands for
// the native asset.
type Params struct {
	PoolID        string
	TokensIn      []common.Address
	AmountsIn     []*big.Int
	User          common.Address
	SlippageBps   *big.Int
	Authorisation []byte
	// WrapTokens are main tokens deposited into their wrapper before
	// joining the linear pool that holds them.
	WrapTokens []common.Address
}

type Joiner struct {
	cfg     Config
	builder *graph.Builder
	sim     simulation.Simulator
	logger  *zap.Logger
	metrics *metrics.PlannerMetrics
	now     func() time.Time
}

func New(cfg Config, builder *graph.Builder, sim simulation.Simulator, logger *zap.Logger, m *metrics.PlannerMetrics) *Joiner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Joiner{
		cfg:     cfg,
		builder: builder,
		sim:     sim,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// CheckInputs validates a join request before any pool is resolved.
func (j *Joiner) CheckInputs(tokensIn []common.Address, amountsIn []*big.Int) error {
	if len(tokensIn) == 0 {
		return model.ErrMissingTokens
	}
	allZero := true
	for _, a := range amountsIn {
		if a != nil && a.Sign() != 0 {
			allZero = false
		}
	}
	if allZero {
		return model.ErrJoinWithZeroAmount
	}
	if len(tokensIn) != len(amountsIn) {
		return fmt.Errorf("%d tokens, %d amounts: %w", len(tokensIn), len(amountsIn), model.ErrInputLengthMismatch)
	}

	seen := make(map[common.Address]bool, len(tokensIn))
	for i, token := range tokensIn {
		if amountsIn[i] == nil || amountsIn[i].Sign() < 0 {
			return fmt.Errorf("amount of %s must be positive: %w", token.Hex(), model.ErrInputTokenInvalid)
		}
		if seen[token] {
			return fmt.Errorf("token %s given twice: %w", token.Hex(), model.ErrInputTokenInvalid)
		}
		seen[token] = true
	}
	if seen[common.Address{}] && seen[j.cfg.WrappedNativeAsset] {
		return fmt.Errorf("native and wrapped native asset both given: %w", model.ErrInputTokenInvalid)
	}
	return nil
}

// routingTokens swaps the native asset for its wrapped token, which is what
// the pools hold.
func (j *Joiner) routingTokens(tokensIn []common.Address) ([]common.Address, int) {
	out := make([]common.Address, len(tokensIn))
	native := -1
	for i, token := range tokensIn {
		out[i] = token
		if token == (common.Address{}) {
			out[i] = j.cfg.WrappedNativeAsset
			native = i
		}
	}
	return out, native
}

// BuildJoin plans, simulates and finalizes a join. The first lowering has
// zero minimums and peeks each path's BPT out; the simulated amounts less
// slippage become the minimums of the final lowering.
func (j *Joiner) BuildJoin(ctx context.Context, p Params) (artifact model.JoinArtifact, err error) {
	defer func() { j.metrics.ObservePlan(operation, err) }()

	if err := j.CheckInputs(p.TokensIn, p.AmountsIn); err != nil {
		return model.JoinArtifact{}, err
	}
	tokensIn, nativeIndex := j.routingTokens(p.TokensIn)

	g, err := j.builder.BuildGraphFromRootPool(ctx, p.PoolID, p.WrapTokens)
	if err != nil {
		return model.JoinArtifact{}, err
	}
	root := g.RootNode().Address
	for _, token := range tokensIn {
		if token == root {
			return model.JoinArtifact{}, fmt.Errorf("pool token %s used as input: %w", root.Hex(), model.ErrInputTokenInvalid)
		}
	}

	paths, err := GetJoinPaths(g, g.ReverseBfs(), tokensIn, p.AmountsIn)
	if err != nil {
		return model.JoinArtifact{}, err
	}
	j.metrics.PathsTotal.WithLabelValues(operation).Add(float64(len(paths)))

	deadline := big.NewInt(j.now().Unix() + swapDeadline)
	simulated, err := j.createCalls(paths, lowering{user: p.User, native: nativeIndex >= 0, deadline: deadline}, p.Authorisation)
	if err != nil {
		return model.JoinArtifact{}, err
	}

	amountsOut, err := j.sim.Simulate(ctx, simulation.Request{
		To:            j.cfg.Relayer,
		From:          p.User,
		Data:          simulated.data,
		Value:         new(big.Int),
		TokensIn:      tokensIn,
		OutputIndexes: simulated.outputIndexes,
		Paths:         simulated.paths,
		Pools:         g.PoolList(),
	})
	if err != nil {
		return model.JoinArtifact{}, fmt.Errorf("simulate join: %w", err)
	}
	if len(amountsOut) != len(paths) {
		return model.JoinArtifact{}, fmt.Errorf("simulation returned %d amounts for %d paths", len(amountsOut), len(paths))
	}

	minAmountsOut := make([]*big.Int, len(amountsOut))
	for i, amount := range amountsOut {
		minAmountsOut[i] = pricing.SubSlippage(amount, p.SlippageBps)
	}
	final, err := j.createCalls(paths, lowering{
		user:          p.User,
		native:        nativeIndex >= 0,
		minAmountsOut: minAmountsOut,
		deadline:      deadline,
	}, p.Authorisation)
	if err != nil {
		return model.JoinArtifact{}, err
	}

	totalOut := simulation.Total(amountsOut)
	totalMin := simulation.Total(minAmountsOut)
	if err := assertDeltas(root, final.deltas, tokensIn, p.AmountsIn, totalMin); err != nil {
		return model.JoinArtifact{}, err
	}

	graphs := make([]*graph.Graph, len(paths))
	for i, path := range paths {
		graphs[i] = path.Graph
	}
	zeroPi := pricing.TotalBptZeroPriceImpact(graphs)
	priceImpact := pricing.CalcPriceImpact(totalOut, zeroPi, true)
	j.metrics.ObservePriceImpact(operation, priceImpact)

	value := new(big.Int)
	if nativeIndex >= 0 {
		value.Set(p.AmountsIn[nativeIndex])
	}

	j.logger.Debug("join planned",
		zap.String("pool_id", p.PoolID),
		zap.Int("paths", len(paths)),
		zap.Int("calls", len(final.calls)),
		zap.String("expected_out", totalOut.String()),
		zap.String("min_out", totalMin.String()),
		zap.String("price_impact", priceImpact.String()),
	)

	return model.JoinArtifact{
		To:                     j.cfg.Relayer,
		Data:                   final.data,
		QueryData:              simulated.query,
		Value:                  value,
		TokensIn:               p.TokensIn,
		AmountsIn:              p.AmountsIn,
		ExpectedOut:            totalOut,
		MinOut:                 totalMin,
		PriceImpact:            priceImpact,
		BptZeroPriceImpact:     zeroPi,
		ExpectedAmountsPerPath: amountsOut,
	}, nil
}

// assertDeltas checks the final calls move exactly the requested amounts in
// and the minimum BPT out, and nothing else, between the user and the vault.
func assertDeltas(pool common.Address, deltas vaultmodel.Deltas, tokensIn []common.Address, amountsIn []*big.Int, minOut *big.Int) error {
	expected := make(vaultmodel.Deltas)
	expected.Add(pool, new(big.Int).Neg(minOut))
	for i, token := range tokensIn {
		expected.Add(token, amountsIn[i])
	}
	for token, want := range expected {
		if got := deltas.Of(token); got.Cmp(want) != 0 {
			return fmt.Errorf("%s: delta %s, want %s: %w", token.Hex(), got, want, model.ErrJoinDeltaAmounts)
		}
	}
	for token, got := range deltas {
		if _, ok := expected[token]; !ok && got.Sign() != 0 {
			return fmt.Errorf("unexpected delta %s of %s: %w", got, token.Hex(), model.ErrJoinDeltaAmounts)
		}
	}
	return nil
}
