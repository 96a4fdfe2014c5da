package simulation

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestedLiquidity/internal/fixtures"
	"nestedLiquidity/internal/metrics"
	"nestedLiquidity/internal/model"
	"nestedLiquidity/internal/relayer"
)

func multicallOutput(t *testing.T, values ...*big.Int) []byte {
	t.Helper()
	parsed, err := relayer.RelayerABI()
	require.NoError(t, err)
	results := [][]byte{{0x01}}
	for _, v := range values {
		r, err := parsed.Methods["peekChainedReferenceValue"].Outputs.Pack(v)
		require.NoError(t, err)
		results = append(results, r)
	}
	data, err := parsed.Methods["multicall"].Outputs.Pack(results)
	require.NoError(t, err)
	return data
}

func revertData(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	payload, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	require.NoError(t, err)
	return append([]byte{0x08, 0xc3, 0x79, 0xa0}, payload...)
}

type revertErr struct{ data string }

func (e revertErr) Error() string          { return "execution reverted" }
func (e revertErr) ErrorCode() int         { return 3 }
func (e revertErr) ErrorData() interface{} { return e.data }

type fakeCaller struct {
	out []byte
	err error
	got ethereum.CallMsg
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.got = msg
	return f.out, f.err
}

func TestStaticSimulation(t *testing.T) {
	caller := &fakeCaller{out: multicallOutput(t, big.NewInt(7), big.NewInt(9))}
	sim := NewStatic(caller, nil)

	out, err := sim.Simulate(context.Background(), Request{
		To:            fixtures.Relayer,
		From:          fixtures.User,
		Data:          []byte{0xac, 0x96, 0x50, 0xd8},
		OutputIndexes: []int{1, 2},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "7", out[0].String())
	assert.Equal(t, "9", out[1].String())
	assert.Equal(t, fixtures.User, caller.got.From)
	assert.Equal(t, fixtures.Relayer, *caller.got.To)
	assert.Equal(t, "16", Total(out).String())
}

func TestStaticSimulationRevert(t *testing.T) {
	caller := &fakeCaller{err: revertErr{data: hexutil.Encode(revertData(t, "BAL#507"))}}
	_, err := NewStatic(caller, nil).Simulate(context.Background(), Request{To: fixtures.Relayer})

	require.ErrorIs(t, err, model.ErrSimulationRevert)
	var revert *model.SimulationRevertError
	require.True(t, errors.As(err, &revert))
	assert.Equal(t, "BAL#507", revert.Reason)

	caller.err = errors.New("connection refused")
	_, err = NewStatic(caller, nil).Simulate(context.Background(), Request{To: fixtures.Relayer})
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrSimulationRevert)
}

func TestVaultModelSimulation(t *testing.T) {
	sim := NewVaultModel(nil)
	swap := func(amount int64) relayer.Call {
		return relayer.SwapCall{
			PoolID:   fixtures.BbaDAIID,
			AssetIn:  fixtures.DAI,
			AssetOut: fixtures.BbaDAI,
			Amount:   relayer.Literal{Value: fixtures.E18(amount)},
		}
	}

	out, err := sim.Simulate(context.Background(), Request{
		Pools: fixtures.Boosted(),
		Paths: []PathCalls{
			{Calls: []relayer.Call{swap(100)}, Output: fixtures.BbaDAI},
			{Calls: []relayer.Call{swap(50)}, Output: fixtures.BbaDAI},
		},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, fixtures.E18(100).String(), out[0].String())
	assert.Equal(t, fixtures.E18(50).String(), out[1].String())

	_, err = sim.Simulate(context.Background(), Request{Pools: fixtures.Boosted()})
	assert.Error(t, err)

	_, err = sim.Simulate(context.Background(), Request{
		Pools: fixtures.Boosted(),
		Paths: []PathCalls{{Calls: []relayer.Call{relayer.SwapCall{PoolID: "0x01", Amount: relayer.Literal{Value: big.NewInt(1)}}}}},
	})
	assert.ErrorIs(t, err, model.ErrPoolDoesNotExist)
}

func TestVaultModelSimulationReadsPeeks(t *testing.T) {
	sim := NewVaultModel(nil)
	swap := func(amount int64, key uint64) relayer.Call {
		return relayer.SwapCall{
			PoolID:          fixtures.BbaDAIID,
			AssetIn:         fixtures.DAI,
			AssetOut:        fixtures.BbaDAI,
			Amount:          relayer.Literal{Value: fixtures.E18(amount)},
			OutputReference: relayer.ChainedReference(key),
		}
	}

	// One path peeking two outputs yields two amounts, in peek order.
	out, err := sim.Simulate(context.Background(), Request{
		Pools: fixtures.Boosted(),
		Paths: []PathCalls{{
			Calls: []relayer.Call{
				swap(30, 1),
				swap(20, 2),
				relayer.PeekCall{Reference: relayer.ReadOnlyChainedReference(2)},
				relayer.PeekCall{Reference: relayer.ReadOnlyChainedReference(1)},
			},
			Output: fixtures.BbaDAI,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{fixtures.E18(20).String(), fixtures.E18(30).String()}, []string{out[0].String(), out[1].String()})

	_, err = sim.Simulate(context.Background(), Request{
		Pools: fixtures.Boosted(),
		Paths: []PathCalls{{
			Calls:  []relayer.Call{relayer.PeekCall{Reference: relayer.ReadOnlyChainedReference(9)}},
			Output: fixtures.BbaDAI,
		}},
	})
	assert.ErrorContains(t, err, "peeked reference 9 not set")
}

type fakeTenderly struct {
	output  []byte
	revert  []byte
	gotTx   tenderlyTx
	gotBlk  string
	gotOver map[common.Address]tenderlyOverride
}

func (f *fakeTenderly) SimulateTransaction(tx tenderlyTx, block string, overrides map[common.Address]tenderlyOverride) (*tenderlyResult, error) {
	f.gotTx, f.gotBlk, f.gotOver = tx, block, overrides
	if f.revert != nil {
		return nil, revertErr{data: hexutil.Encode(f.revert)}
	}
	return &tenderlyResult{Trace: []tenderlyTrace{
		{Type: "CALL", Method: "multicall", Output: f.output},
		{Type: "CALL", Method: "swap", Output: []byte{0x01}},
	}}, nil
}

func dialFake(t *testing.T, svc *fakeTenderly) *rpc.Client {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("tenderly", svc))
	client := rpc.DialInProc(server)
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return client
}

func TestTenderlySimulation(t *testing.T) {
	svc := &fakeTenderly{output: multicallOutput(t, big.NewInt(11))}
	sim := NewTenderlyWithClient(dialFake(t, svc), 17_000_000, nil)

	out, err := sim.Simulate(context.Background(), Request{
		To:            fixtures.Relayer,
		From:          fixtures.User,
		Data:          []byte{0x01, 0x02},
		Value:         big.NewInt(5),
		OutputIndexes: []int{1},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "11", out[0].String())

	assert.Equal(t, fixtures.Relayer, svc.gotTx.To)
	assert.Equal(t, "5", svc.gotTx.Value.ToInt().String())
	assert.Equal(t, hexutil.EncodeUint64(17_000_000), svc.gotBlk)
	require.Contains(t, svc.gotOver, fixtures.User)
	assert.Equal(t, userBalance.String(), svc.gotOver[fixtures.User].Balance.ToInt().String())
}

func TestTenderlySimulationRevert(t *testing.T) {
	svc := &fakeTenderly{revert: revertData(t, "BAL#508")}
	sim := NewTenderlyWithClient(dialFake(t, svc), 0, nil)

	_, err := sim.Simulate(context.Background(), Request{To: fixtures.Relayer, From: fixtures.User})
	var revert *model.SimulationRevertError
	require.ErrorAs(t, err, &revert)
	assert.Equal(t, "BAL#508", revert.Reason)
	assert.Equal(t, "latest", svc.gotBlk)
}

func TestNewSelectsBackend(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	sim, err := New(context.Background(), Config{}, Deps{Metrics: m})
	require.NoError(t, err)
	_, err = sim.Simulate(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SimulationFailures.WithLabelValues("vault-model", "error")))

	_, err = New(context.Background(), Config{Backend: BackendStatic}, Deps{})
	assert.Error(t, err)

	sim, err = New(context.Background(), Config{Backend: BackendStatic}, Deps{Caller: &fakeCaller{}})
	require.NoError(t, err)
	assert.IsType(t, &Retrying{}, sim)

	_, err = New(context.Background(), Config{Backend: BackendTenderly}, Deps{})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Backend: "fork"}, Deps{})
	assert.Error(t, err)
}

// flakySimulator fails the first failures calls with err.
type flakySimulator struct {
	failures int
	err      error
	calls    int
}

func (f *flakySimulator) Simulate(context.Context, Request) ([]*big.Int, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return []*big.Int{big.NewInt(42)}, nil
}

func TestRetryingRecoversFromTransportErrors(t *testing.T) {
	next := &flakySimulator{failures: 2, err: errors.New("connection reset")}
	sim := NewRetrying(next, RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond}, nil)

	out, err := sim.Simulate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "42", out[0].String())
	assert.Equal(t, 3, next.calls)
}

func TestRetryingGivesUp(t *testing.T) {
	next := &flakySimulator{failures: 10, err: errors.New("connection reset")}
	sim := NewRetrying(next, RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond}, nil)

	_, err := sim.Simulate(context.Background(), Request{})
	assert.EqualError(t, err, "connection reset")
	assert.Equal(t, 2, next.calls)
}

func TestRetryingReturnsRevertsAtOnce(t *testing.T) {
	next := &flakySimulator{failures: 10, err: &model.SimulationRevertError{Reason: "BAL#001"}}
	sim := NewRetrying(next, RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond}, nil)

	_, err := sim.Simulate(context.Background(), Request{})
	var revert *model.SimulationRevertError
	require.ErrorAs(t, err, &revert)
	assert.Equal(t, "BAL#001", revert.Reason)
	assert.Equal(t, 1, next.calls)
}

func TestRetryingStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	next := &flakySimulator{failures: 10, err: errors.New("timeout")}
	sim := NewRetrying(next, RetryConfig{MaxRetries: 5, BaseDelay: time.Hour}, nil)

	cancel()
	_, err := sim.Simulate(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, next.calls)
}

type closingSimulator struct {
	flakySimulator
	closed bool
}

func (s *closingSimulator) Close() { s.closed = true }

func TestCloseReachesWrappedBackend(t *testing.T) {
	next := &closingSimulator{}
	sim := &instrumented{backend: "tenderly", next: NewRetrying(next, RetryConfig{}, nil), metrics: metrics.Nop()}

	Close(sim)
	assert.True(t, next.closed)

	// Backends without a connection are left alone.
	Close(NewVaultModel(nil))
}
