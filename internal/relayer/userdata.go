package relayer

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Join and exit kinds shared by the weighted and stable pool encoders.
const (
	JoinKindExactTokensInForBptOut   = 1
	ExitKindExactBptInForOneTokenOut = 0
	ExitKindExactBptInForTokensOut   = 1
)

// Composable stable pools renumbered their exit kinds.
const ExitKindComposableExactBptInForAllTokensOut = 2

var (
	userDataOnce     sync.Once
	userDataErr      error
	joinArgs         abi.Arguments
	exitArgs         abi.Arguments
	proportionalArgs abi.Arguments
)

func userDataArgs() (abi.Arguments, abi.Arguments, error) {
	userDataOnce.Do(func() {
		uint256Ty, err := abi.NewType("uint256", "", nil)
		if err != nil {
			userDataErr = err
			return
		}
		uint256ArrTy, err := abi.NewType("uint256[]", "", nil)
		if err != nil {
			userDataErr = err
			return
		}
		joinArgs = abi.Arguments{{Type: uint256Ty}, {Type: uint256ArrTy}, {Type: uint256Ty}}
		exitArgs = abi.Arguments{{Type: uint256Ty}, {Type: uint256Ty}, {Type: uint256Ty}}
		proportionalArgs = abi.Arguments{{Type: uint256Ty}, {Type: uint256Ty}}
	})
	return joinArgs, exitArgs, userDataErr
}

// JoinExactTokensInForBptOut encodes join user data for exact amounts in.
func JoinExactTokensInForBptOut(amountsIn []*big.Int, minBptOut *big.Int) ([]byte, error) {
	join, _, err := userDataArgs()
	if err != nil {
		return nil, fmt.Errorf("user data types: %w", err)
	}
	if amountsIn == nil {
		amountsIn = []*big.Int{}
	}
	return join.Pack(big.NewInt(JoinKindExactTokensInForBptOut), amountsIn, minBptOut)
}

// ExitExactBptInForOneTokenOut encodes exit user data burning bptIn for the
// token at tokenIndex.
func ExitExactBptInForOneTokenOut(bptIn *big.Int, tokenIndex int) ([]byte, error) {
	_, exit, err := userDataArgs()
	if err != nil {
		return nil, fmt.Errorf("user data types: %w", err)
	}
	if tokenIndex < 0 {
		return nil, fmt.Errorf("exit token index %d", tokenIndex)
	}
	return exit.Pack(big.NewInt(ExitKindExactBptInForOneTokenOut), bptIn, big.NewInt(int64(tokenIndex)))
}

// ExitExactBptInForTokensOut encodes exit user data burning bptIn for
// every pool token in proportion to its balance.
func ExitExactBptInForTokensOut(bptIn *big.Int, composable bool) ([]byte, error) {
	if _, _, err := userDataArgs(); err != nil {
		return nil, fmt.Errorf("user data types: %w", err)
	}
	kind := int64(ExitKindExactBptInForTokensOut)
	if composable {
		kind = ExitKindComposableExactBptInForAllTokensOut
	}
	return proportionalArgs.Pack(big.NewInt(kind), bptIn)
}

// DecodeExitKind returns the exit kind of exit user data.
func DecodeExitKind(data []byte) (int64, error) {
	if len(data) < 32 {
		return 0, fmt.Errorf("exit user data of %d bytes", len(data))
	}
	return new(big.Int).SetBytes(data[:32]).Int64(), nil
}

// DecodeJoinUserData returns the amounts and minimum BPT of join user data.
func DecodeJoinUserData(data []byte) ([]*big.Int, *big.Int, error) {
	join, _, err := userDataArgs()
	if err != nil {
		return nil, nil, err
	}
	values, err := join.Unpack(data)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack join user data: %w", err)
	}
	amounts, ok := values[1].([]*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected join amounts type %T", values[1])
	}
	minOut, ok := values[2].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected join min out type %T", values[2])
	}
	return amounts, minOut, nil
}

// SortAssets returns the ascending address order of tokens as a
// permutation of indexes, which the vault requires for pool assets.
func SortAssets(tokens []common.Address) []int {
	order := make([]int, len(tokens))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return bytes.Compare(tokens[order[a]].Bytes(), tokens[order[b]].Bytes()) < 0
	})
	return order
}
