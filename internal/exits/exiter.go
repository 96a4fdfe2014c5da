// Package exits plans an exit out of the root of a nested pool tree, either
// one single-token path per leaf or one proportional pass over the whole
// tree. Outputs that the owning linear pool cannot cover in main tokens are
// replanned through the wrapped token and unwrapped.
package exits

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nestedLiquidity/internal/graph"
	"nestedLiquidity/internal/joins"
	"nestedLiquidity/internal/metrics"
	"nestedLiquidity/internal/model"
	"nestedLiquidity/internal/pricing"
	"nestedLiquidity/internal/simulation"
	"nestedLiquidity/internal/vaultmodel"
)

const operation = "exit"

// bptTolerance and tokenTolerance bound the rounding the vault may apply to
// exit amounts before the delta check fails.
var (
	bptTolerance   = big.NewInt(3)
	tokenTolerance = big.NewInt(1)
)

type Config struct {
	Relayer common.Address
}

// Params describe one exit request.
type Params struct {
	PoolID        string
	AmountIn      *big.Int
	User          common.Address
	SlippageBps   *big.Int
	Authorisation []byte
	// TokensToUnwrap seeds the unwrap set. More tokens are added when a
	// linear pool runs short of main tokens.
	TokensToUnwrap []common.Address
	// Proportional exits every pool for all of its tokens in one path. The
	// tree's multi-token pools must all support it.
	Proportional bool
}

type Exiter struct {
	cfg     Config
	builder *graph.Builder
	sim     simulation.Simulator
	logger  *zap.Logger
	metrics *metrics.PlannerMetrics
	now     func() time.Time
}

func New(cfg Config, builder *graph.Builder, sim simulation.Simulator, logger *zap.Logger, m *metrics.PlannerMetrics) *Exiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Exiter{
		cfg:     cfg,
		builder: builder,
		sim:     sim,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// plan is a simulated exit: the graph it ran on, its paths and the amount
// each path produced.
type plan struct {
	graph      *graph.Graph
	outputs    []int
	paths      []Path
	amountsOut []*big.Int
	unwrap     []common.Address
	deadline   *big.Int
	simulated  callSet
}

func (e *Exiter) checkInputs(p Params) error {
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return fmt.Errorf("exit amount must be positive: %w", model.ErrInputTokenInvalid)
	}
	return nil
}

// getExit simulates the exit, unwrapping outputs whose linear pool cannot
// pay them in main tokens. Every retry grows the unwrap set, so the loop
// ends once no new token can be unwrapped.
func (e *Exiter) getExit(ctx context.Context, p Params, sim simulation.Simulator) (plan, error) {
	unwrap := union(nil, p.TokensToUnwrap)
	deadline := big.NewInt(e.now().Unix() + swapDeadline)

	for {
		g, err := e.builder.BuildGraphFromRootPool(ctx, p.PoolID, unwrap)
		if err != nil {
			return plan{}, err
		}
		outputs := outputNodes(g)
		var paths []Path
		if p.Proportional {
			if !supportsProportional(g) {
				return plan{}, fmt.Errorf("pool %s has no proportional exit: %w", p.PoolID, model.ErrUnsupportedPoolType)
			}
			paths = getProportionalPath(g, p.AmountIn)
		} else {
			paths = getExitPaths(g, outputs, p.AmountIn)
		}

		set, err := e.createCalls(paths, lowering{user: p.User, deadline: deadline}, p.Authorisation)
		if err != nil {
			return plan{}, err
		}
		amountsOut, err := sim.Simulate(ctx, simulation.Request{
			To:            e.cfg.Relayer,
			From:          p.User,
			Data:          set.data,
			Value:         new(big.Int),
			TokensIn:      []common.Address{g.RootNode().Address},
			OutputIndexes: set.outputIndexes,
			Paths:         set.paths,
			Pools:         g.PoolList(),
		})
		if errors.Is(err, model.ErrInsufficientBalance) {
			more := mainTokenOutputs(g, outputs)
			next := union(unwrap, more)
			if len(next) == len(unwrap) {
				return plan{}, fmt.Errorf("simulate exit: %w", err)
			}
			e.logger.Debug("exit short of main tokens, unwrapping",
				zap.String("pool_id", p.PoolID),
				zap.Bool("proportional", p.Proportional),
				zap.Int("unwrap", len(next)),
				zap.Error(err),
			)
			e.metrics.ExitRetries.Inc()
			unwrap = next
			continue
		}
		if err != nil {
			return plan{}, fmt.Errorf("simulate exit: %w", err)
		}
		if len(amountsOut) != len(outputs) {
			return plan{}, fmt.Errorf("simulation returned %d amounts for %d outputs", len(amountsOut), len(outputs))
		}

		short := insufficientOutputs(g, outputs, amountsOut)
		if len(short) == 0 {
			return plan{
				graph:      g,
				outputs:    outputs,
				paths:      paths,
				amountsOut: amountsOut,
				unwrap:     unwrap,
				deadline:   deadline,
				simulated:  set,
			}, nil
		}
		for _, token := range short {
			if contains(unwrap, token) {
				return plan{}, fmt.Errorf("%s already unwrapped: %w", token.Hex(), model.ErrInsufficientBalance)
			}
		}
		e.logger.Debug("exit exceeds main token balance, unwrapping",
			zap.String("pool_id", p.PoolID),
			zap.Int("short", len(short)),
		)
		e.metrics.ExitRetries.Inc()
		unwrap = union(unwrap, short)
	}
}

// insufficientOutputs returns the outputs that a pool pays out beyond its
// balance. Outputs already behind an unwrap are redeemed from the wrapper
// and never run short.
func insufficientOutputs(g *graph.Graph, outputs []int, amountsOut []*big.Int) []common.Address {
	var short []common.Address
	for k, idx := range outputs {
		node := g.Node(idx)
		if parent, ok := g.Parent(idx); ok && parent.Kind == graph.KindWrappedToken {
			continue
		}
		if node.Balance != nil && amountsOut[k].Cmp(node.Balance) > 0 {
			short = append(short, node.Address)
		}
	}
	return short
}

// mainTokenOutputs returns the outputs that are the main token of a linear
// pool and could be unwrapped instead.
func mainTokenOutputs(g *graph.Graph, outputs []int) []common.Address {
	var out []common.Address
	for _, idx := range outputs {
		parent, ok := g.Parent(idx)
		if ok && parent.Kind == graph.KindPool && parent.PoolType.IsLinear() {
			out = append(out, g.Node(idx).Address)
		}
	}
	return out
}

// BuildExit plans, simulates and finalizes an exit of AmountIn BPT.
func (e *Exiter) BuildExit(ctx context.Context, p Params) (artifact model.ExitArtifact, err error) {
	defer func() { e.metrics.ObservePlan(operation, err) }()

	if err := e.checkInputs(p); err != nil {
		return model.ExitArtifact{}, err
	}
	pl, err := e.getExit(ctx, p, e.sim)
	if err != nil {
		return model.ExitArtifact{}, err
	}
	e.metrics.PathsTotal.WithLabelValues(operation).Add(float64(len(pl.paths)))

	minAmountsOut := make([]*big.Int, len(pl.amountsOut))
	for i, amount := range pl.amountsOut {
		minAmountsOut[i] = pricing.SubSlippage(amount, p.SlippageBps)
	}
	final, err := e.createCalls(pl.paths, lowering{
		user:          p.User,
		minAmountsOut: minAmountsOut,
		deadline:      pl.deadline,
	}, p.Authorisation)
	if err != nil {
		return model.ExitArtifact{}, err
	}

	tokensOut, expected := aggregate(pl.graph, pl.outputs, pl.amountsOut)
	_, minimums := aggregate(pl.graph, pl.outputs, minAmountsOut)
	root := pl.graph.RootNode().Address
	if err := assertDeltas(root, final.deltas, p.AmountIn, tokensOut, minimums); err != nil {
		return model.ExitArtifact{}, err
	}

	priceImpact, err := e.priceImpact(ctx, p.PoolID, p.AmountIn, tokensOut, expected)
	if err != nil {
		return model.ExitArtifact{}, err
	}
	e.metrics.ObservePriceImpact(operation, priceImpact)

	e.logger.Debug("exit planned",
		zap.String("pool_id", p.PoolID),
		zap.Int("paths", len(pl.paths)),
		zap.Int("calls", len(final.calls)),
		zap.Int("unwrapped", len(pl.unwrap)),
		zap.String("price_impact", priceImpact.String()),
	)

	return model.ExitArtifact{
		To:                 e.cfg.Relayer,
		Data:               final.data,
		QueryData:          pl.simulated.query,
		Value:              new(big.Int),
		AmountIn:           p.AmountIn,
		TokensOut:          tokensOut,
		ExpectedAmountsOut: expected,
		MinAmountsOut:      minimums,
		PriceImpact:        priceImpact,
		TokensToUnwrap:     pl.unwrap,
	}, nil
}

// ExitInfo estimates an exit against the vault model, whatever backend the
// exiter finalizes with.
func (e *Exiter) ExitInfo(ctx context.Context, p Params) (model.ExitInfo, error) {
	if err := e.checkInputs(p); err != nil {
		return model.ExitInfo{}, err
	}
	pl, err := e.getExit(ctx, p, simulation.NewVaultModel(e.logger))
	if err != nil {
		return model.ExitInfo{}, err
	}
	tokensOut, expected := aggregate(pl.graph, pl.outputs, pl.amountsOut)
	priceImpact, err := e.priceImpact(ctx, p.PoolID, p.AmountIn, tokensOut, expected)
	if err != nil {
		return model.ExitInfo{}, err
	}
	return model.ExitInfo{
		TokensOut:           tokensOut,
		EstimatedAmountsOut: expected,
		PriceImpact:         priceImpact,
		TokensToUnwrap:      pl.unwrap,
	}, nil
}

// priceImpact prices the exit against joining the same amounts back in at
// spot prices. The join graph never unwraps, so unwrapped outputs count as
// the main tokens they were redeemed to.
func (e *Exiter) priceImpact(ctx context.Context, poolID string, amountIn *big.Int, tokensOut []common.Address, amountsOut []*big.Int) (*big.Int, error) {
	g, err := e.builder.BuildGraphFromRootPool(ctx, poolID, nil)
	if err != nil {
		return nil, err
	}
	paths, err := joins.GetJoinPaths(g, g.ReverseBfs(), tokensOut, amountsOut)
	if err != nil {
		return nil, fmt.Errorf("price impact: %w", err)
	}
	graphs := make([]*graph.Graph, len(paths))
	for i, path := range paths {
		graphs[i] = path.Graph
	}
	zeroPi := pricing.TotalBptZeroPriceImpact(graphs)
	return pricing.CalcPriceImpact(amountIn, zeroPi, false), nil
}

// aggregate sums per-path amounts by output token, in ascending token order.
func aggregate(g *graph.Graph, outputs []int, amounts []*big.Int) ([]common.Address, []*big.Int) {
	tokens := sortedTokens(g, outputs)
	totals := make([]*big.Int, len(tokens))
	for i := range totals {
		totals[i] = new(big.Int)
	}
	for k, idx := range outputs {
		address := g.Node(idx).Address
		for i, token := range tokens {
			if token == address {
				totals[i].Add(totals[i], amounts[k])
			}
		}
	}
	return tokens, totals
}

// assertDeltas checks the final calls take amountIn BPT and pay at least
// the minimum of every output token, allowing for vault rounding, and move
// no other token.
func assertDeltas(pool common.Address, deltas vaultmodel.Deltas, amountIn *big.Int, tokensOut []common.Address, minAmountsOut []*big.Int) error {
	diff := new(big.Int).Sub(deltas.Of(pool), amountIn)
	if diff.Abs(diff).Cmp(bptTolerance) > 0 {
		return fmt.Errorf("bpt delta %s, want %s: %w", deltas.Of(pool), amountIn, model.ErrExitDeltaAmounts)
	}
	expected := map[common.Address]bool{pool: true}
	for i, token := range tokensOut {
		expected[token] = true
		diff := new(big.Int).Add(deltas.Of(token), minAmountsOut[i])
		if diff.Abs(diff).Cmp(tokenTolerance) > 0 {
			return fmt.Errorf("%s: delta %s, want -%s: %w", token.Hex(), deltas.Of(token), minAmountsOut[i], model.ErrExitDeltaAmounts)
		}
	}
	for token, got := range deltas {
		if !expected[token] && got.Sign() != 0 {
			return fmt.Errorf("unexpected delta %s of %s: %w", got, token.Hex(), model.ErrExitDeltaAmounts)
		}
	}
	return nil
}

// union merges b into a, deduplicated and sorted ascending.
func union(a, b []common.Address) []common.Address {
	out := append([]common.Address(nil), a...)
	for _, token := range b {
		if !contains(out, token) {
			out = append(out, token)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0
	})
	return out
}

func contains(list []common.Address, token common.Address) bool {
	for _, t := range list {
		if t == token {
			return true
		}
	}
	return false
}
