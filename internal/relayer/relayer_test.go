package relayer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"nestedLiquidity/internal/model"
)

func TestChainedReferenceRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.Uint64Range(0, 1<<48).Draw(t, "key")

		ref := ChainedReference(key)
		if !IsChainedReference(ref) {
			t.Fatalf("reference %s not recognised", ref)
		}
		got, ok := ReferenceKey(ref)
		if !ok || got != key {
			t.Fatalf("key = %d, %v; want %d", got, ok, key)
		}

		ro := ReadOnlyChainedReference(key)
		if !IsChainedReference(ro) {
			t.Fatalf("read-only reference %s not recognised", ro)
		}
		if ro.Cmp(ref) == 0 {
			t.Fatalf("read-only and temporary references collide")
		}
	})
}

func TestLiteralIsNotReference(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// Any amount below 2^240 carries no prefix.
		bits := rapid.IntRange(0, 239).Draw(t, "bits")
		v := new(big.Int).Lsh(big.NewInt(1), uint(bits))
		if IsChainedReference(v) {
			t.Fatalf("%s treated as reference", v)
		}
		if _, ok := AmountOf(v).(Literal); !ok {
			t.Fatalf("%s not classified as literal", v)
		}
	})
}

func TestChainedReferenceLayout(t *testing.T) {
	want, _ := new(big.Int).SetString("ba10000000000000000000000000000000000000000000000000000000000007", 16)
	assert.Equal(t, 0, want.Cmp(ChainedReference(7)))

	wantRO, _ := new(big.Int).SetString("ba11000000000000000000000000000000000000000000000000000000000007", 16)
	assert.Equal(t, 0, wantRO.Cmp(ReadOnlyChainedReference(7)))

	assert.False(t, IsChainedReference(nil))
	assert.False(t, IsChainedReference(big.NewInt(-1)))
	assert.Equal(t, uint64(205), PathKey(2, 5))
	assert.Equal(t, Pending{Key: 205}, AmountOf(ChainedReference(205)))
}

func TestSortAssets(t *testing.T) {
	tokens := []common.Address{
		common.HexToAddress("0x03"),
		common.HexToAddress("0x01"),
		common.HexToAddress("0x02"),
	}
	assert.Equal(t, []int{1, 2, 0}, SortAssets(tokens))
}

func TestJoinPoolEncoding(t *testing.T) {
	pool := common.HexToAddress("0xA13a9247ea42D743238089903570127DdA72fE44")
	tokenA := common.HexToAddress("0x2BBf681cC4eb09218BEe85EA2a5d3D13Fa40fC0C")
	tokenB := common.HexToAddress("0x804CdB9116a10bB78768D3252355a1b18067bF8f")
	call := JoinPoolCall{
		PoolID:       "0xa13a9247ea42d743238089903570127dda72fe4400000000000000000000035d",
		Pool:         pool,
		Kind:         model.PoolKindComposableStableV2,
		Sender:       common.HexToAddress("0x01"),
		Recipient:    common.HexToAddress("0x02"),
		Assets:       []common.Address{tokenA, tokenB, pool},
		MaxAmountsIn: []Amount{Literal{Value: big.NewInt(10)}, Pending{Key: 3}, Literal{Value: new(big.Int)}},
		MinBptOut:    big.NewInt(9),
	}

	data, err := call.Encode()
	require.NoError(t, err)

	parsed, err := RelayerABI()
	require.NoError(t, err)
	method := parsed.Methods["joinPool"]
	assert.Equal(t, method.ID, data[:4])

	values, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, uint8(model.PoolKindComposableStableV2), values[1])

	request := *abi.ConvertType(values[4], new(joinPoolRequest)).(*joinPoolRequest)
	assert.Equal(t, call.Assets, request.Assets)
	assert.Equal(t, 0, ChainedReference(3).Cmp(request.MaxAmountsIn[1]))

	amounts, minOut, err := DecodeJoinUserData(request.UserData)
	require.NoError(t, err)
	require.Len(t, amounts, 2)
	assert.Equal(t, "10", amounts[0].String())
	assert.Equal(t, 0, ChainedReference(3).Cmp(amounts[1]))
	assert.Equal(t, "9", minOut.String())
}

func TestJoinPoolLengthMismatch(t *testing.T) {
	call := JoinPoolCall{
		Assets:       []common.Address{common.HexToAddress("0x01")},
		MaxAmountsIn: nil,
	}
	_, err := call.Encode()
	assert.ErrorIs(t, err, model.ErrInputLengthMismatch)
}

func TestEncodeEveryCall(t *testing.T) {
	sender := common.HexToAddress("0x01")
	calls := []Call{
		SwapCall{
			PoolID:          "0x804cdb9116a10bb78768d3252355a1b18067bf8f0000000000000000000000fb",
			AssetIn:         common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
			AssetOut:        common.HexToAddress("0x804CdB9116a10bB78768D3252355a1b18067bF8f"),
			Amount:          Literal{Value: big.NewInt(1e18)},
			Funds:           FundManagement{Sender: sender, Recipient: sender},
			Deadline:        big.NewInt(1700000000),
			OutputReference: ChainedReference(1),
		},
		ExitPoolCall{
			PoolID:        "0xa13a9247ea42d743238089903570127dda72fe4400000000000000000000035d",
			Assets:        []common.Address{sender},
			MinAmountsOut: []*big.Int{big.NewInt(1)},
			BptIn:         Literal{Value: big.NewInt(5)},
			OutputReferences: []OutputReference{
				{Index: big.NewInt(0), Key: ChainedReference(2)},
			},
		},
		WrapCall{Wrapper: model.WrapperERC4626, Amount: Pending{Key: 1}},
		WrapCall{Wrapper: model.WrapperAaveStatic, Amount: Pending{Key: 1}},
		UnwrapCall{Wrapper: model.WrapperERC4626, Amount: Pending{Key: 1}},
		UnwrapCall{Wrapper: model.WrapperAaveStatic, Amount: Pending{Key: 1}},
		SwapCall{Amount: Literal{Value: big.NewInt(3)}}.AsBatchSwap(),
	}

	encoded, err := EncodeCalls(calls)
	require.NoError(t, err)
	require.Len(t, encoded, len(calls))

	parsed, err := RelayerABI()
	require.NoError(t, err)
	names := []string{"swap", "exitPool", "wrapERC4626", "wrapAaveDynamicToken", "unwrapERC4626", "unwrapAaveStaticToken", "batchSwap"}
	for i, name := range names {
		assert.Equal(t, parsed.Methods[name].ID, encoded[i][:4], name)
	}

	multicall, err := EncodeMulticall(encoded)
	require.NoError(t, err)
	assert.Equal(t, parsed.Methods["multicall"].ID, multicall[:4])
	methods, err := MulticallMethods(multicall)
	require.NoError(t, err)
	assert.Equal(t, names, methods)

	query, err := EncodeQueryMulticall(encoded)
	require.NoError(t, err)
	assert.Equal(t, parsed.Methods["vaultActionsQueryMulticall"].ID, query[:4])
	_, err = MulticallMethods(query)
	assert.Error(t, err)

	approval, err := EncodeSetRelayerApproval(sender, true, nil)
	require.NoError(t, err)
	assert.Equal(t, parsed.Methods["setRelayerApproval"].ID, approval[:4])
}

func TestDecodeOutputs(t *testing.T) {
	parsed, err := RelayerABI()
	require.NoError(t, err)

	peek, err := parsed.Methods["peekChainedReferenceValue"].Outputs.Pack(big.NewInt(42))
	require.NoError(t, err)
	raw, err := parsed.Methods["multicall"].Outputs.Pack([][]byte{{0x01}, peek})
	require.NoError(t, err)

	out, err := DecodeOutputs(raw, []int{1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "42", out[0].String())

	_, err = DecodeOutputs(raw, []int{5})
	assert.Error(t, err)
}

func TestDecodeRevert(t *testing.T) {
	stringTy, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	payload, err := abi.Arguments{{Type: stringTy}}.Pack("BAL#507")
	require.NoError(t, err)
	data := append([]byte{0x08, 0xc3, 0x79, 0xa0}, payload...)

	assert.Equal(t, "BAL#507", DecodeRevert(data))
	assert.Equal(t, "deadbeef", DecodeRevert([]byte{0xde, 0xad, 0xbe, 0xef}))
}

func TestExitPoolProportionalEncoding(t *testing.T) {
	parsed, err := RelayerABI()
	require.NoError(t, err)
	method := parsed.Methods["exitPool"]

	tests := []struct {
		name string
		kind model.PoolKind
		want int64
	}{
		{name: "weighted", kind: model.PoolKindWeighted, want: ExitKindExactBptInForTokensOut},
		{name: "legacy stable", kind: model.PoolKindLegacyStable, want: ExitKindExactBptInForTokensOut},
		{name: "composable stable", kind: model.PoolKindComposableStableV2, want: ExitKindComposableExactBptInForAllTokensOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := ExitPoolCall{
				PoolID:        "0xa13a9247ea42d743238089903570127dda72fe4400000000000000000000035d",
				Kind:          tt.kind,
				Assets:        []common.Address{common.HexToAddress("0x01"), common.HexToAddress("0x02")},
				MinAmountsOut: []*big.Int{big.NewInt(3), big.NewInt(4)},
				BptIn:         Pending{Key: 9},
				Proportional:  true,
			}
			data, err := call.Encode()
			require.NoError(t, err)

			values, err := method.Inputs.Unpack(data[4:])
			require.NoError(t, err)
			request := *abi.ConvertType(values[4], new(exitPoolRequest)).(*exitPoolRequest)
			assert.Equal(t, "3", request.MinAmountsOut[0].String())

			kind, err := DecodeExitKind(request.UserData)
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
			require.Len(t, request.UserData, 64)
			assert.Equal(t, 0, ChainedReference(9).Cmp(new(big.Int).SetBytes(request.UserData[32:])))
		})
	}

	single := ExitPoolCall{
		Assets:        []common.Address{common.HexToAddress("0x01")},
		MinAmountsOut: []*big.Int{new(big.Int)},
		BptIn:         Literal{Value: big.NewInt(1)},
	}
	data, err := single.Encode()
	require.NoError(t, err)
	values, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	request := *abi.ConvertType(values[4], new(exitPoolRequest)).(*exitPoolRequest)
	kind, err := DecodeExitKind(request.UserData)
	require.NoError(t, err)
	assert.Equal(t, int64(ExitKindExactBptInForOneTokenOut), kind)
}
