package relayer

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const fundsComponents = `[
  {"internalType": "address", "name": "sender", "type": "address"},
  {"internalType": "bool", "name": "fromInternalBalance", "type": "bool"},
  {"internalType": "address payable", "name": "recipient", "type": "address"},
  {"internalType": "bool", "name": "toInternalBalance", "type": "bool"}
]`

const outputReferenceComponents = `[
  {"internalType": "uint256", "name": "index", "type": "uint256"},
  {"internalType": "uint256", "name": "key", "type": "uint256"}
]`

var relayerABIJSON = strings.NewReplacer(
	"$FUNDS", fundsComponents,
	"$OUTPUT_REFERENCES", outputReferenceComponents,
).Replace(`[
  {
    "inputs": [
      {"internalType": "enum IVault.SwapKind", "name": "kind", "type": "uint8"},
      {
        "components": [
          {"internalType": "bytes32", "name": "poolId", "type": "bytes32"},
          {"internalType": "uint256", "name": "assetInIndex", "type": "uint256"},
          {"internalType": "uint256", "name": "assetOutIndex", "type": "uint256"},
          {"internalType": "uint256", "name": "amount", "type": "uint256"},
          {"internalType": "bytes", "name": "userData", "type": "bytes"}
        ],
        "internalType": "struct IVault.BatchSwapStep[]", "name": "swaps", "type": "tuple[]"
      },
      {"internalType": "contract IAsset[]", "name": "assets", "type": "address[]"},
      {"components": $FUNDS, "internalType": "struct IVault.FundManagement", "name": "funds", "type": "tuple"},
      {"internalType": "int256[]", "name": "limits", "type": "int256[]"},
      {"internalType": "uint256", "name": "deadline", "type": "uint256"},
      {"internalType": "uint256", "name": "value", "type": "uint256"},
      {"components": $OUTPUT_REFERENCES, "internalType": "struct VaultActions.OutputReference[]", "name": "outputReferences", "type": "tuple[]"}
    ],
    "name": "batchSwap",
    "outputs": [{"internalType": "int256[]", "name": "", "type": "int256[]"}],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [
      {
        "components": [
          {"internalType": "bytes32", "name": "poolId", "type": "bytes32"},
          {"internalType": "enum IVault.SwapKind", "name": "kind", "type": "uint8"},
          {"internalType": "contract IAsset", "name": "assetIn", "type": "address"},
          {"internalType": "contract IAsset", "name": "assetOut", "type": "address"},
          {"internalType": "uint256", "name": "amount", "type": "uint256"},
          {"internalType": "bytes", "name": "userData", "type": "bytes"}
        ],
        "internalType": "struct IVault.SingleSwap", "name": "singleSwap", "type": "tuple"
      },
      {"components": $FUNDS, "internalType": "struct IVault.FundManagement", "name": "funds", "type": "tuple"},
      {"internalType": "uint256", "name": "limit", "type": "uint256"},
      {"internalType": "uint256", "name": "deadline", "type": "uint256"},
      {"internalType": "uint256", "name": "value", "type": "uint256"},
      {"internalType": "uint256", "name": "outputReference", "type": "uint256"}
    ],
    "name": "swap",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes32", "name": "poolId", "type": "bytes32"},
      {"internalType": "enum VaultActions.PoolKind", "name": "kind", "type": "uint8"},
      {"internalType": "address", "name": "sender", "type": "address"},
      {"internalType": "address", "name": "recipient", "type": "address"},
      {
        "components": [
          {"internalType": "contract IAsset[]", "name": "assets", "type": "address[]"},
          {"internalType": "uint256[]", "name": "maxAmountsIn", "type": "uint256[]"},
          {"internalType": "bytes", "name": "userData", "type": "bytes"},
          {"internalType": "bool", "name": "fromInternalBalance", "type": "bool"}
        ],
        "internalType": "struct IVault.JoinPoolRequest", "name": "request", "type": "tuple"
      },
      {"internalType": "uint256", "name": "value", "type": "uint256"},
      {"internalType": "uint256", "name": "outputReference", "type": "uint256"}
    ],
    "name": "joinPool",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes32", "name": "poolId", "type": "bytes32"},
      {"internalType": "enum VaultActions.PoolKind", "name": "kind", "type": "uint8"},
      {"internalType": "address", "name": "sender", "type": "address"},
      {"internalType": "address payable", "name": "recipient", "type": "address"},
      {
        "components": [
          {"internalType": "contract IAsset[]", "name": "assets", "type": "address[]"},
          {"internalType": "uint256[]", "name": "minAmountsOut", "type": "uint256[]"},
          {"internalType": "bytes", "name": "userData", "type": "bytes"},
          {"internalType": "bool", "name": "toInternalBalance", "type": "bool"}
        ],
        "internalType": "struct IVault.ExitPoolRequest", "name": "request", "type": "tuple"
      },
      {"components": $OUTPUT_REFERENCES, "internalType": "struct VaultActions.OutputReference[]", "name": "outputReferences", "type": "tuple[]"}
    ],
    "name": "exitPool",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "relayer", "type": "address"},
      {"internalType": "bool", "name": "approved", "type": "bool"},
      {"internalType": "bytes", "name": "authorisation", "type": "bytes"}
    ],
    "name": "setRelayerApproval",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "ref", "type": "uint256"}],
    "name": "peekChainedReferenceValue",
    "outputs": [{"internalType": "uint256", "name": "value", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "contract IERC4626", "name": "wrappedToken", "type": "address"},
      {"internalType": "address", "name": "sender", "type": "address"},
      {"internalType": "address", "name": "recipient", "type": "address"},
      {"internalType": "uint256", "name": "amount", "type": "uint256"},
      {"internalType": "uint256", "name": "outputReference", "type": "uint256"}
    ],
    "name": "unwrapERC4626",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "contract IERC4626", "name": "wrappedToken", "type": "address"},
      {"internalType": "address", "name": "sender", "type": "address"},
      {"internalType": "address", "name": "recipient", "type": "address"},
      {"internalType": "uint256", "name": "amount", "type": "uint256"},
      {"internalType": "uint256", "name": "outputReference", "type": "uint256"}
    ],
    "name": "wrapERC4626",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "contract IStaticATokenLM", "name": "staticToken", "type": "address"},
      {"internalType": "address", "name": "sender", "type": "address"},
      {"internalType": "address", "name": "recipient", "type": "address"},
      {"internalType": "uint256", "name": "amount", "type": "uint256"},
      {"internalType": "bool", "name": "toUnderlying", "type": "bool"},
      {"internalType": "uint256", "name": "outputReference", "type": "uint256"}
    ],
    "name": "unwrapAaveStaticToken",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "contract IStaticATokenLM", "name": "staticToken", "type": "address"},
      {"internalType": "address", "name": "sender", "type": "address"},
      {"internalType": "address", "name": "recipient", "type": "address"},
      {"internalType": "uint256", "name": "amount", "type": "uint256"},
      {"internalType": "bool", "name": "fromUnderlying", "type": "bool"},
      {"internalType": "uint256", "name": "outputReference", "type": "uint256"}
    ],
    "name": "wrapAaveDynamicToken",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "bytes[]", "name": "data", "type": "bytes[]"}],
    "name": "multicall",
    "outputs": [{"internalType": "bytes[]", "name": "results", "type": "bytes[]"}],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "bytes[]", "name": "data", "type": "bytes[]"}],
    "name": "vaultActionsQueryMulticall",
    "outputs": [{"internalType": "bytes[]", "name": "results", "type": "bytes[]"}],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`)

var (
	relayerABI     abi.ABI
	relayerABIOnce sync.Once
	relayerABIErr  error
)

// RelayerABI returns the parsed batch relayer ABI.
func RelayerABI() (abi.ABI, error) {
	relayerABIOnce.Do(func() {
		relayerABI, relayerABIErr = abi.JSON(strings.NewReader(relayerABIJSON))
	})
	return relayerABI, relayerABIErr
}
