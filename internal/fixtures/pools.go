// Package fixtures provides pool snapshots shared by package tests: a
// boosted stable pool over three linear pools, and a weighted pool that
// nests it next to a plain token.
package fixtures

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"nestedLiquidity/internal/model"
)

var (
	DAI  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	USDC = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	USDT = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")

	WaDAI  = common.HexToAddress("0x02d60b84491589974263d922D9cC7a3152618Ef6")
	WaUSDC = common.HexToAddress("0xd093fA4Fb80D09bB30817FDcd442d4d02eD3E5de")
	WaUSDT = common.HexToAddress("0xf8Fd466F12e236f4c96F7Cce6c79EAdB819abF58")

	BbaDAI  = common.HexToAddress("0x804CdB9116a10bB78768D3252355a1b18067bF8f")
	BbaUSDC = common.HexToAddress("0x9210F1204b5a24742Eba12f710636D76240dF3d0")
	BbaUSDT = common.HexToAddress("0x2BBf681cC4eb09218BEe85EA2a5d3D13Fa40fC0C")
	BbaUSD  = common.HexToAddress("0xA13a9247ea42D743238089903570127DdA72fE44")

	DaiBoosted = common.HexToAddress("0x70b7d7ac6fd6c4e3d3e8d0c2d4b2fc5f4e4a1b7a")

	Relayer = common.HexToAddress("0x2536dfeeCB7A0397CF98eDaDA8486254533b1aFA")
	User    = common.HexToAddress("0x000000000000000000000000000000000000bEEF")
)

const (
	BbaDAIID     = "0x804cdb9116a10bb78768d3252355a1b18067bf8f0000000000000000000000fb"
	BbaUSDCID    = "0x9210f1204b5a24742eba12f710636d76240df3d00000000000000000000000fc"
	BbaUSDTID    = "0x2bbf681cc4eb09218bee85ea2a5d3d13fa40fc0c0000000000000000000000fd"
	BbaUSDID     = "0xa13a9247ea42d743238089903570127dda72fe4400000000000000000000035d"
	DaiBoostedID = "0x70b7d7ac6fd6c4e3d3e8d0c2d4b2fc5f4e4a1b7a000200000000000000000400"
)

// Big parses a base 10 integer, panicking on malformed input.
func Big(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("fixtures: invalid integer " + s)
	}
	return v
}

// E18 returns n * 1e18.
func E18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// E6 returns n * 1e6.
func E6(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e6))
}

var preMinted = Big("5192296858534827628530496329220096")

func intPtr(v int) *int { return &v }

func linear(id string, address common.Address, poolType model.PoolType, main, wrapped model.PoolToken, supply *big.Int) model.Pool {
	bpt := model.PoolToken{Address: address, Decimals: 18, Balance: new(big.Int).Set(preMinted), PriceRate: big.NewInt(1e18)}
	tokens := []model.PoolToken{main, wrapped, bpt}
	sort.Slice(tokens, func(i, j int) bool {
		return bytes.Compare(tokens[i].Address.Bytes(), tokens[j].Address.Bytes()) < 0
	})
	var mainIndex, wrappedIndex int
	list := make([]common.Address, len(tokens))
	for i, t := range tokens {
		list[i] = t.Address
		switch t.Address {
		case main.Address:
			mainIndex = i
		case wrapped.Address:
			wrappedIndex = i
		}
	}
	return model.Pool{
		ID:              id,
		Address:         address,
		PoolType:        poolType,
		PoolTypeVersion: 1,
		Tokens:          tokens,
		TokensList:      list,
		TotalShares:     supply,
		SwapFee:         big.NewInt(2e14),
		MainIndex:       intPtr(mainIndex),
		WrappedIndex:    intPtr(wrappedIndex),
		LowerTarget:     new(big.Int),
		UpperTarget:     E18(10_000_000),
	}
}

// LinearDAI is an Aave linear pool over DAI.
func LinearDAI() model.Pool {
	return linear(BbaDAIID, BbaDAI, model.PoolTypeAaveLinear,
		model.PoolToken{Address: DAI, Decimals: 18, Balance: E18(1_000_000), PriceRate: big.NewInt(1e18)},
		model.PoolToken{Address: WaDAI, Decimals: 18, Balance: E18(2_000_000), PriceRate: big.NewInt(11e17)},
		E18(3_200_000),
	)
}

// LinearUSDC is an ERC4626 linear pool over USDC.
func LinearUSDC() model.Pool {
	return linear(BbaUSDCID, BbaUSDC, model.PoolTypeERC4626Linear,
		model.PoolToken{Address: USDC, Decimals: 6, Balance: E6(1_000_000), PriceRate: big.NewInt(1e18)},
		model.PoolToken{Address: WaUSDC, Decimals: 6, Balance: E6(2_000_000), PriceRate: big.NewInt(105e16)},
		E18(3_100_000),
	)
}

// LinearUSDT is an Aave linear pool over USDT.
func LinearUSDT() model.Pool {
	return linear(BbaUSDTID, BbaUSDT, model.PoolTypeAaveLinear,
		model.PoolToken{Address: USDT, Decimals: 6, Balance: E6(500_000), PriceRate: big.NewInt(1e18)},
		model.PoolToken{Address: WaUSDT, Decimals: 6, Balance: E6(1_000_000), PriceRate: big.NewInt(102e16)},
		E18(1_520_000),
	)
}

// BoostedUSD is a composable stable pool over the three linear pools.
func BoostedUSD() model.Pool {
	tokens := []model.PoolToken{
		{Address: BbaUSDT, Decimals: 18, Balance: E18(1_500_000), PriceRate: Big("1001000000000000000")},
		{Address: BbaDAI, Decimals: 18, Balance: E18(3_000_000), PriceRate: Big("1002000000000000000")},
		{Address: BbaUSDC, Decimals: 18, Balance: E18(3_000_000), PriceRate: Big("1001500000000000000")},
		{Address: BbaUSD, Decimals: 18, Balance: new(big.Int).Set(preMinted), PriceRate: big.NewInt(1e18)},
	}
	return model.Pool{
		ID:              BbaUSDID,
		Address:         BbaUSD,
		PoolType:        model.PoolTypeComposableStable,
		PoolTypeVersion: 3,
		Tokens:          tokens,
		TokensList:      []common.Address{BbaUSDT, BbaDAI, BbaUSDC, BbaUSD},
		TotalShares:     E18(7_500_000),
		SwapFee:         big.NewInt(1e14),
		Amp:             big.NewInt(1472),
	}
}

// WeightedDAIBoosted is a 50/50 weighted pool of DAI and the boosted pool,
// so DAI is reachable through two leaves.
func WeightedDAIBoosted() model.Pool {
	return model.Pool{
		ID:              DaiBoostedID,
		Address:         DaiBoosted,
		PoolType:        model.PoolTypeWeighted,
		PoolTypeVersion: 2,
		Tokens: []model.PoolToken{
			{Address: DAI, Decimals: 18, Balance: E18(2_000_000), Weight: big.NewInt(5e17), PriceRate: big.NewInt(1e18)},
			{Address: BbaUSD, Decimals: 18, Balance: E18(2_000_000), Weight: big.NewInt(5e17), PriceRate: big.NewInt(1e18)},
		},
		TokensList:  []common.Address{DAI, BbaUSD},
		TotalShares: E18(4_000_000),
		SwapFee:     big.NewInt(3e15),
	}
}

// Boosted returns the boosted pool and its linear pools.
func Boosted() []model.Pool {
	return []model.Pool{BoostedUSD(), LinearDAI(), LinearUSDC(), LinearUSDT()}
}

// All returns every fixture pool.
func All() []model.Pool {
	return append(Boosted(), WeightedDAIBoosted())
}
