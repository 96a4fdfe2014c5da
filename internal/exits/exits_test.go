package exits

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"nestedLiquidity/internal/fixtures"
	"nestedLiquidity/internal/graph"
	"nestedLiquidity/internal/metrics"
	"nestedLiquidity/internal/model"
	"nestedLiquidity/internal/pricing"
	"nestedLiquidity/internal/relayer"
	"nestedLiquidity/internal/repository"
	"nestedLiquidity/internal/simulation"
	"nestedLiquidity/internal/vaultmodel"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func newBuilder() *graph.Builder {
	return graph.NewBuilder(repository.NewMemoryRepository(fixtures.All()), graph.BuilderConfig{}, nil)
}

func newExiter(sim simulation.Simulator, m *metrics.PlannerMetrics) *Exiter {
	e := New(Config{Relayer: fixtures.Relayer}, newBuilder(), sim, nil, m)
	e.now = func() time.Time { return fixedNow }
	return e
}

func buildGraph(t *testing.T, poolID string, unwrap []common.Address) *graph.Graph {
	t.Helper()
	g, err := newBuilder().BuildGraphFromRootPool(context.Background(), poolID, unwrap)
	require.NoError(t, err)
	return g
}

func TestExitPathsCoverAmountIn(t *testing.T) {
	g := buildGraph(t, fixtures.BbaUSDID, nil)
	outputs := outputNodes(g)
	require.Equal(t, []int{2, 4, 6}, outputs)

	rapid.Check(t, func(t *rapid.T) {
		amountIn := new(big.Int).SetUint64(rapid.Uint64Range(1, 1<<62).Draw(t, "amountIn"))
		paths := getExitPaths(g, outputs, amountIn)

		total := new(big.Int)
		for _, path := range paths {
			if path.AmountIn.Sign() < 0 {
				t.Fatalf("negative share %s", path.AmountIn)
			}
			total.Add(total, path.AmountIn)
		}
		if total.Cmp(amountIn) != 0 {
			t.Fatalf("shares sum to %s, want %s", total, amountIn)
		}
	})
}

func TestExitPathsRunRootToOutput(t *testing.T) {
	g := buildGraph(t, fixtures.DaiBoostedID, nil)
	paths := getExitPaths(g, outputNodes(g), fixtures.E18(10))
	require.Len(t, paths, 4)

	assert.Equal(t, []int{0, 1}, paths[0].Nodes)
	assert.Equal(t, fixtures.DAI, paths[0].Output().Address)
	for _, path := range paths[1:] {
		require.Len(t, path.Nodes, 4)
		assert.Equal(t, 0, path.Nodes[0])
		assert.Equal(t, 2, path.Nodes[1])
	}
	assert.Equal(t, []common.Address{fixtures.DAI, fixtures.USDC, fixtures.USDT},
		sortedTokens(g, outputNodes(g)))
}

func TestCreateActionCallsBoosted(t *testing.T) {
	e := newExiter(nil, nil)
	g := buildGraph(t, fixtures.BbaUSDID, nil)
	paths := getExitPaths(g, outputNodes(g), fixtures.E18(1000))

	deadline := big.NewInt(fixedNow.Unix() + swapDeadline)
	set, err := e.createActionCalls(paths, lowering{user: fixtures.User, deadline: deadline})
	require.NoError(t, err)
	require.Len(t, set.calls, 9)
	assert.Equal(t, []int{2, 5, 8}, set.outputIndexes)

	exit, ok := set.calls[0].(relayer.ExitPoolCall)
	require.True(t, ok)
	assert.Equal(t, fixtures.User, exit.Sender)
	assert.Equal(t, fixtures.Relayer, exit.Recipient)
	assert.True(t, exit.ToInternalBalance)
	assert.Equal(t, model.PoolKindComposableStableV2, exit.Kind)
	assert.Equal(t, relayer.Literal{Value: paths[0].AmountIn}, exit.BptIn)
	require.Len(t, exit.Assets, 4)
	require.Len(t, exit.OutputReferences, 1)
	out := exit.OutputReferences[0]
	assert.Equal(t, fixtures.BbaUSDT, exit.Assets[out.Index.Int64()])
	assert.Equal(t, relayer.ChainedReference(relayer.PathKey(0, 1)), out.Key)
	for _, m := range exit.MinAmountsOut {
		assert.Equal(t, "0", m.String())
	}

	swap, ok := set.calls[1].(relayer.SwapCall)
	require.True(t, ok)
	assert.Equal(t, fixtures.BbaUSDT, swap.AssetIn)
	assert.Equal(t, fixtures.USDT, swap.AssetOut)
	assert.Equal(t, relayer.Pending{Key: relayer.PathKey(0, 1)}, swap.Amount)
	assert.Equal(t, fixtures.Relayer, swap.Funds.Sender)
	assert.Equal(t, fixtures.User, swap.Funds.Recipient)
	assert.True(t, swap.Funds.FromInternalBalance)
	assert.False(t, swap.Funds.ToInternalBalance)
	assert.Equal(t, relayer.ChainedReference(relayer.PathKey(0, 2)), swap.OutputReference)

	peek, ok := set.calls[2].(relayer.PeekCall)
	require.True(t, ok)
	assert.Equal(t, relayer.ReadOnlyChainedReference(relayer.PathKey(0, 2)), peek.Reference)
}

func TestCreateActionCallsUnwrapLimits(t *testing.T) {
	e := newExiter(nil, nil)
	g := buildGraph(t, fixtures.BbaDAIID, []common.Address{fixtures.DAI})
	paths := getExitPaths(g, outputNodes(g), fixtures.E18(100))
	require.Len(t, paths, 1)

	set, err := e.createActionCalls(paths, lowering{
		user:          fixtures.User,
		minAmountsOut: []*big.Int{fixtures.E18(110)},
		deadline:      big.NewInt(1),
	})
	require.NoError(t, err)
	require.Len(t, set.calls, 2)

	swap, ok := set.calls[0].(relayer.SwapCall)
	require.True(t, ok)
	assert.Equal(t, fixtures.WaDAI, swap.AssetOut)
	// 110 DAI at a 1.1 rate needs 100 waDAI out of the linear pool.
	assert.Equal(t, fixtures.E18(100).String(), swap.Limit.String())
	assert.Equal(t, fixtures.Relayer, swap.Funds.Recipient)

	unwrap, ok := set.calls[1].(relayer.UnwrapCall)
	require.True(t, ok)
	assert.Equal(t, fixtures.WaDAI, unwrap.WrappedToken)
	assert.Equal(t, fixtures.BbaDAIID, unwrap.LinearPoolID)
	assert.Equal(t, fixtures.User, unwrap.Recipient)
	assert.Equal(t, relayer.Pending{Key: relayer.PathKey(0, 1)}, unwrap.Amount)

	assert.Equal(t, fixtures.E18(100).String(), set.deltas.Of(fixtures.BbaDAI).String())
	assert.Equal(t, fixtures.E18(-110).String(), set.deltas.Of(fixtures.DAI).String())
	assert.Equal(t, "0", set.deltas.Of(fixtures.WaDAI).String())
}

func TestBuildExitLinear(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := newExiter(simulation.NewVaultModel(nil), m)

	artifact, err := e.BuildExit(context.Background(), Params{
		PoolID:      fixtures.BbaDAIID,
		AmountIn:    fixtures.E18(100),
		User:        fixtures.User,
		SlippageBps: big.NewInt(100),
	})
	require.NoError(t, err)

	assert.Equal(t, fixtures.Relayer, artifact.To)
	assert.NotEmpty(t, artifact.Data)
	assert.NotEmpty(t, artifact.QueryData)
	assert.Equal(t, []common.Address{fixtures.DAI}, artifact.TokensOut)
	assert.Equal(t, []string{fixtures.E18(100).String()}, decimalStrings(artifact.ExpectedAmountsOut))
	assert.Equal(t, []string{fixtures.E18(99).String()}, decimalStrings(artifact.MinAmountsOut))
	assert.Equal(t, "0", artifact.PriceImpact.String())
	assert.Empty(t, artifact.TokensToUnwrap)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlansTotal.WithLabelValues("exit", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ExitRetries))
}

func TestBuildExitBoosted(t *testing.T) {
	e := newExiter(simulation.NewVaultModel(nil), nil)

	artifact, err := e.BuildExit(context.Background(), Params{
		PoolID:      fixtures.BbaUSDID,
		AmountIn:    fixtures.E18(3000),
		User:        fixtures.User,
		SlippageBps: big.NewInt(50),
	})
	require.NoError(t, err)

	require.Equal(t, []common.Address{fixtures.DAI, fixtures.USDC, fixtures.USDT}, artifact.TokensOut)
	for i, expected := range artifact.ExpectedAmountsOut {
		assert.Positive(t, expected.Sign())
		assert.Negative(t, artifact.MinAmountsOut[i].Cmp(expected))
	}
	assert.Negative(t, artifact.PriceImpact.Cmp(big.NewInt(1e16)))
}

func TestBuildExitUnwrapsWhenMainRunsShort(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := newExiter(simulation.NewVaultModel(nil), m)

	artifact, err := e.BuildExit(context.Background(), Params{
		PoolID:      fixtures.BbaDAIID,
		AmountIn:    fixtures.E18(1_500_000),
		User:        fixtures.User,
		SlippageBps: big.NewInt(100),
	})
	require.NoError(t, err)

	assert.Equal(t, []common.Address{fixtures.DAI}, artifact.TokensToUnwrap)
	assert.Equal(t, []common.Address{fixtures.DAI}, artifact.TokensOut)
	// More DAI than the pool holds comes out through the wrapper.
	assert.Positive(t, artifact.ExpectedAmountsOut[0].Cmp(fixtures.E18(1_000_000)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExitRetries))
}

func TestExitInfo(t *testing.T) {
	// ExitInfo never touches the configured simulator.
	e := newExiter(nil, nil)

	info, err := e.ExitInfo(context.Background(), Params{
		PoolID:   fixtures.BbaDAIID,
		AmountIn: fixtures.E18(1_500_000),
		User:     fixtures.User,
	})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{fixtures.DAI}, info.TokensOut)
	assert.Equal(t, []common.Address{fixtures.DAI}, info.TokensToUnwrap)
	require.Len(t, info.EstimatedAmountsOut, 1)
	assert.Positive(t, info.EstimatedAmountsOut[0].Sign())
}

func TestBuildExitErrors(t *testing.T) {
	e := newExiter(simulation.NewVaultModel(nil), nil)
	ctx := context.Background()

	_, err := e.BuildExit(ctx, Params{PoolID: fixtures.BbaDAIID, AmountIn: new(big.Int), User: fixtures.User})
	assert.ErrorIs(t, err, model.ErrInputTokenInvalid)

	_, err = e.BuildExit(ctx, Params{PoolID: "0xdead", AmountIn: fixtures.E18(1), User: fixtures.User})
	assert.ErrorIs(t, err, model.ErrPoolDoesNotExist)
}

func TestInsufficientOutputs(t *testing.T) {
	g := buildGraph(t, fixtures.BbaDAIID, nil)
	outputs := outputNodes(g)
	assert.Equal(t, []common.Address{fixtures.DAI}, mainTokenOutputs(g, outputs))
	assert.Equal(t, []common.Address{fixtures.DAI}, insufficientOutputs(g, outputs, []*big.Int{fixtures.E18(1_000_001)}))
	assert.Empty(t, insufficientOutputs(g, outputs, []*big.Int{fixtures.E18(1_000_000)}))

	unwrapped := buildGraph(t, fixtures.BbaDAIID, []common.Address{fixtures.DAI})
	outputs = outputNodes(unwrapped)
	assert.Empty(t, mainTokenOutputs(unwrapped, outputs))
	assert.Empty(t, insufficientOutputs(unwrapped, outputs, []*big.Int{fixtures.E18(5_000_000)}))
}

func TestAssertDeltas(t *testing.T) {
	pool := fixtures.BbaUSD
	tokens := []common.Address{fixtures.DAI, fixtures.USDC}
	mins := []*big.Int{fixtures.E18(10), fixtures.E6(10)}

	ok := make(vaultmodel.Deltas)
	ok.Add(pool, new(big.Int).Add(fixtures.E18(20), big.NewInt(2)))
	ok.Add(fixtures.DAI, fixtures.E18(-10))
	ok.Add(fixtures.USDC, new(big.Int).Add(fixtures.E6(-10), big.NewInt(1)))
	assert.NoError(t, assertDeltas(pool, ok, fixtures.E18(20), tokens, mins))

	bpt := make(vaultmodel.Deltas)
	bpt.Add(pool, fixtures.E18(21))
	bpt.Add(fixtures.DAI, fixtures.E18(-10))
	bpt.Add(fixtures.USDC, fixtures.E6(-10))
	assert.ErrorIs(t, assertDeltas(pool, bpt, fixtures.E18(20), tokens, mins), model.ErrExitDeltaAmounts)

	short := make(vaultmodel.Deltas)
	short.Add(pool, fixtures.E18(20))
	short.Add(fixtures.DAI, fixtures.E18(-9))
	short.Add(fixtures.USDC, fixtures.E6(-10))
	assert.ErrorIs(t, assertDeltas(pool, short, fixtures.E18(20), tokens, mins), model.ErrExitDeltaAmounts)

	stray := make(vaultmodel.Deltas)
	stray.Add(pool, fixtures.E18(20))
	stray.Add(fixtures.DAI, fixtures.E18(-10))
	stray.Add(fixtures.USDC, fixtures.E6(-10))
	stray.Add(fixtures.BbaDAI, big.NewInt(5))
	assert.ErrorIs(t, assertDeltas(pool, stray, fixtures.E18(20), tokens, mins), model.ErrExitDeltaAmounts)
}

func TestUnion(t *testing.T) {
	got := union([]common.Address{fixtures.USDT}, []common.Address{fixtures.DAI, fixtures.USDT})
	assert.Equal(t, []common.Address{fixtures.DAI, fixtures.USDT}, got)
	assert.Empty(t, union(nil, nil))
}

func decimalStrings(values []*big.Int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out
}

func TestProportionalPathCoversTree(t *testing.T) {
	g := buildGraph(t, fixtures.BbaUSDID, nil)
	require.True(t, supportsProportional(g))

	paths := getProportionalPath(g, fixtures.E18(10))
	require.Len(t, paths, 1)
	assert.True(t, paths[0].Proportional)
	assert.Equal(t, g.OrderByBfs(), paths[0].Nodes)
	assert.Equal(t, outputNodes(g), paths[0].outputs())
	assert.Equal(t, fixtures.E18(10).String(), paths[0].AmountIn.String())
}

func TestSupportsProportional(t *testing.T) {
	assert.True(t, supportsProportional(buildGraph(t, fixtures.DaiBoostedID, nil)))
	assert.True(t, supportsProportional(buildGraph(t, fixtures.BbaDAIID, nil)))

	v1 := fixtures.BoostedUSD()
	v1.PoolTypeVersion = 1
	pools := append([]model.Pool{v1}, fixtures.LinearDAI(), fixtures.LinearUSDC(), fixtures.LinearUSDT())
	b := graph.NewBuilder(repository.NewMemoryRepository(pools), graph.BuilderConfig{}, nil)
	g, err := b.BuildGraphFromRootPool(context.Background(), fixtures.BbaUSDID, nil)
	require.NoError(t, err)
	assert.False(t, supportsProportional(g))
}

func TestCreateActionCallsProportional(t *testing.T) {
	e := newExiter(nil, nil)
	g := buildGraph(t, fixtures.BbaUSDID, nil)
	paths := getProportionalPath(g, fixtures.E18(1000))
	mins := []*big.Int{fixtures.E6(10), fixtures.E18(20), fixtures.E6(30)}

	set, err := e.createActionCalls(paths, lowering{user: fixtures.User, minAmountsOut: mins, deadline: big.NewInt(1)})
	require.NoError(t, err)
	// One exit and one swap per linear pool, no peeks.
	require.Len(t, set.calls, 4)

	exit, ok := set.calls[0].(relayer.ExitPoolCall)
	require.True(t, ok)
	assert.True(t, exit.Proportional)
	assert.Equal(t, fixtures.User, exit.Sender)
	assert.Equal(t, fixtures.Relayer, exit.Recipient)
	assert.True(t, exit.ToInternalBalance)
	assert.Equal(t, relayer.Literal{Value: fixtures.E18(1000)}, exit.BptIn)
	require.Len(t, exit.Assets, 4)
	require.Len(t, exit.OutputReferences, 3)
	for _, ref := range exit.OutputReferences {
		assert.NotEqual(t, fixtures.BbaUSD, exit.Assets[ref.Index.Int64()])
	}
	for _, m := range exit.MinAmountsOut {
		assert.Equal(t, "0", m.String())
	}

	limits := make(map[common.Address]string)
	for _, call := range set.calls[1:] {
		swap, ok := call.(relayer.SwapCall)
		require.True(t, ok)
		assert.Equal(t, fixtures.Relayer, swap.Funds.Sender)
		assert.Equal(t, fixtures.User, swap.Funds.Recipient)
		assert.True(t, swap.Funds.FromInternalBalance)
		assert.False(t, swap.Funds.ToInternalBalance)
		limits[swap.AssetOut] = swap.Limit.String()
	}
	// Outputs keep breadth-first order: USDT, DAI, USDC.
	assert.Equal(t, map[common.Address]string{
		fixtures.USDT: mins[0].String(),
		fixtures.DAI:  mins[1].String(),
		fixtures.USDC: mins[2].String(),
	}, limits)

	assert.Equal(t, fixtures.E18(1000).String(), set.deltas.Of(fixtures.BbaUSD).String())
	assert.Equal(t, new(big.Int).Neg(mins[1]).String(), set.deltas.Of(fixtures.DAI).String())
}

func TestBuildExitProportionalBoosted(t *testing.T) {
	e := newExiter(simulation.NewVaultModel(nil), nil)

	params := Params{
		PoolID:       fixtures.BbaUSDID,
		AmountIn:     fixtures.E18(75_000),
		User:         fixtures.User,
		SlippageBps:  big.NewInt(50),
		Proportional: true,
	}
	artifact, err := e.BuildExit(context.Background(), params)
	require.NoError(t, err)

	require.Equal(t, []common.Address{fixtures.DAI, fixtures.USDC, fixtures.USDT}, artifact.TokensOut)
	// 1% of the boosted pool's linear BPT, each swapped out at par.
	want := []*big.Int{fixtures.E18(30_000), fixtures.E6(30_000), fixtures.E6(15_000)}
	for i, expected := range artifact.ExpectedAmountsOut {
		diff := new(big.Int).Sub(want[i], expected)
		assert.True(t, diff.CmpAbs(new(big.Int).Div(want[i], big.NewInt(1000))) < 0, "%s out %s", artifact.TokensOut[i].Hex(), expected)
		assert.Negative(t, artifact.MinAmountsOut[i].Cmp(expected))
	}

	// The final calls burn the BPT in one proportional exit and leave every
	// output at its minimum.
	pl, err := e.getExit(context.Background(), params, e.sim)
	require.NoError(t, err)
	require.Len(t, pl.paths, 1)
	final, err := e.createCalls(pl.paths, lowering{user: fixtures.User, minAmountsOut: orderedMinimums(pl, params), deadline: pl.deadline}, nil)
	require.NoError(t, err)
	exits := 0
	for _, call := range final.calls {
		if exit, ok := call.(relayer.ExitPoolCall); ok {
			exits++
			assert.True(t, exit.Proportional)
		}
	}
	assert.Equal(t, 1, exits)
	assert.Equal(t, params.AmountIn.String(), final.deltas.Of(fixtures.BbaUSD).String())
	for i, token := range artifact.TokensOut {
		assert.Equal(t, new(big.Int).Neg(artifact.MinAmountsOut[i]).String(), final.deltas.Of(token).String())
	}
}

func TestBuildExitProportionalRejectsUnsupportedPools(t *testing.T) {
	v1 := fixtures.BoostedUSD()
	v1.PoolTypeVersion = 1
	pools := append([]model.Pool{v1}, fixtures.LinearDAI(), fixtures.LinearUSDC(), fixtures.LinearUSDT())
	b := graph.NewBuilder(repository.NewMemoryRepository(pools), graph.BuilderConfig{}, nil)
	e := New(Config{Relayer: fixtures.Relayer}, b, simulation.NewVaultModel(nil), nil, nil)

	_, err := e.BuildExit(context.Background(), Params{
		PoolID:       fixtures.BbaUSDID,
		AmountIn:     fixtures.E18(1),
		User:         fixtures.User,
		SlippageBps:  big.NewInt(50),
		Proportional: true,
	})
	assert.ErrorIs(t, err, model.ErrUnsupportedPoolType)
}

// orderedMinimums applies slippage to the simulated amounts in output order.
func orderedMinimums(pl plan, p Params) []*big.Int {
	out := make([]*big.Int, len(pl.amountsOut))
	for i, amount := range pl.amountsOut {
		out[i] = pricing.SubSlippage(amount, p.SlippageBps)
	}
	return out
}
