package model

import (
	"fmt"
	"strings"
)

// PoolType is the closed set of pool variants the planner understands.
type PoolType int

const (
	PoolTypeUnknown PoolType = iota
	PoolTypeWeighted
	PoolTypeInvestment
	PoolTypeLiquidityBootstrapping
	PoolTypeStable
	PoolTypeMetaStable
	PoolTypeStablePhantom
	PoolTypeComposableStable
	PoolTypeAaveLinear
	PoolTypeERC4626Linear
	PoolTypeEulerLinear
	PoolTypeGearboxLinear
	PoolTypeYearnLinear
	PoolTypeLinear
	PoolTypeElement
)

var poolTypeNames = map[PoolType]string{
	PoolTypeWeighted:               "Weighted",
	PoolTypeInvestment:             "Investment",
	PoolTypeLiquidityBootstrapping: "LiquidityBootstrapping",
	PoolTypeStable:                 "Stable",
	PoolTypeMetaStable:             "MetaStable",
	PoolTypeStablePhantom:          "StablePhantom",
	PoolTypeComposableStable:       "ComposableStable",
	PoolTypeAaveLinear:             "AaveLinear",
	PoolTypeERC4626Linear:          "ERC4626Linear",
	PoolTypeEulerLinear:            "EulerLinear",
	PoolTypeGearboxLinear:          "GearboxLinear",
	PoolTypeYearnLinear:            "YearnLinear",
	PoolTypeLinear:                 "Linear",
	PoolTypeElement:                "Element",
}

// ParsePoolType maps a repository pool type name to its variant. Unknown
// names map to PoolTypeUnknown rather than failing so the builder can report
// ErrUnsupportedPoolType for the pool that carries it.
func ParsePoolType(name string) PoolType {
	for t, n := range poolTypeNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return t
		}
	}
	return PoolTypeUnknown
}

func (t PoolType) String() string {
	if name, ok := poolTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

func (t PoolType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *PoolType) UnmarshalText(text []byte) error {
	*t = ParsePoolType(string(text))
	return nil
}

// JoinAction is the relayer action used to move value from a child node
// into its parent.
type JoinAction string

const (
	JoinActionInput     JoinAction = "input"
	JoinActionBatchSwap JoinAction = "batchSwap"
	JoinActionWrap      JoinAction = "wrap"
	JoinActionJoinPool  JoinAction = "joinPool"
)

// ExitAction is the relayer action used to move value from a node down to
// one of its children.
type ExitAction string

const (
	ExitActionOutput    ExitAction = "output"
	ExitActionBatchSwap ExitAction = "batchSwap"
	ExitActionUnwrap    ExitAction = "unwrap"
	ExitActionExitPool  ExitAction = "exitPool"
)

// Actions returns the join/exit action pair for a pool type. ok is false
// for types the relayer cannot route through.
func (t PoolType) Actions() (JoinAction, ExitAction, bool) {
	switch t {
	case PoolTypeWeighted,
		PoolTypeInvestment,
		PoolTypeLiquidityBootstrapping,
		PoolTypeStable,
		PoolTypeMetaStable,
		PoolTypeComposableStable:
		return JoinActionJoinPool, ExitActionExitPool, true
	case PoolTypeStablePhantom,
		PoolTypeAaveLinear,
		PoolTypeERC4626Linear,
		PoolTypeEulerLinear,
		PoolTypeGearboxLinear,
		PoolTypeYearnLinear,
		PoolTypeLinear,
		PoolTypeElement:
		return JoinActionBatchSwap, ExitActionBatchSwap, true
	case PoolTypeUnknown:
		return "", "", false
	default:
		return "", "", false
	}
}

// IsLinear reports whether the pool pairs a main token with a wrapped one.
func (t PoolType) IsLinear() bool {
	switch t {
	case PoolTypeAaveLinear,
		PoolTypeERC4626Linear,
		PoolTypeEulerLinear,
		PoolTypeGearboxLinear,
		PoolTypeYearnLinear,
		PoolTypeLinear:
		return true
	default:
		return false
	}
}

// IsWeighted reports whether token weights drive the pool's math.
func (t PoolType) IsWeighted() bool {
	switch t {
	case PoolTypeWeighted, PoolTypeInvestment, PoolTypeLiquidityBootstrapping:
		return true
	default:
		return false
	}
}

// IsStable reports whether the stable invariant drives the pool's math.
func (t PoolType) IsStable() bool {
	switch t {
	case PoolTypeStable, PoolTypeMetaStable, PoolTypeStablePhantom, PoolTypeComposableStable:
		return true
	default:
		return false
	}
}

// HoldsOwnShareToken reports whether the pool pre-mints its BPT and lists
// it among its own tokens. Joins and exits on these pools move the listed
// BPT balance instead of minting or burning.
func (t PoolType) HoldsOwnShareToken() bool {
	return t == PoolTypeComposableStable || t == PoolTypeStablePhantom || t.IsLinear()
}

// PoolKind is the relayer's user-data dialect for chained-reference
// replacement inside join and exit calls.
type PoolKind uint8

const (
	PoolKindWeighted PoolKind = iota
	PoolKindLegacyStable
	PoolKindComposableStable
	PoolKindComposableStableV2
)

// Kind returns the relayer pool kind for a pool type and version.
func (t PoolType) Kind(version int) PoolKind {
	switch {
	case t == PoolTypeStable:
		return PoolKindLegacyStable
	case t == PoolTypeComposableStable && version == 1:
		return PoolKindComposableStable
	case t == PoolTypeComposableStable:
		return PoolKindComposableStableV2
	default:
		return PoolKindWeighted
	}
}

// WrapperKind selects the relayer wrap/unwrap entry points of a linear pool.
type WrapperKind int

const (
	WrapperERC4626 WrapperKind = iota
	WrapperAaveStatic
)

// Wrapper returns the wrapper kind used by a linear pool's wrapped token.
func (t PoolType) Wrapper() (WrapperKind, error) {
	if !t.IsLinear() {
		return 0, fmt.Errorf("%s is not a linear pool: %w", t, ErrUnsupportedPoolType)
	}
	if t == PoolTypeAaveLinear {
		return WrapperAaveStatic, nil
	}
	return WrapperERC4626, nil
}
