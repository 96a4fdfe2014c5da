// Package relayer encodes batch relayer calls and the chained references
// that link the output of one call to the input of the next.
package relayer

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	prefixTemporary = 0xba10
	prefixReadOnly  = 0xba11
	prefixMask      = 0xfff0
)

var prefixMaskWord = new(uint256.Int).Lsh(uint256.NewInt(prefixMask), 240)
var temporaryWord = new(uint256.Int).Lsh(uint256.NewInt(prefixTemporary), 240)
var keyMaskWord = new(uint256.Int).Not(new(uint256.Int).Lsh(uint256.NewInt(0xffff), 240))

// ChainedReference returns the temporary reference for key. The relayer
// clears a temporary slot on first read.
func ChainedReference(key uint64) *big.Int {
	return reference(prefixTemporary, key)
}

// ReadOnlyChainedReference returns the reference for key that survives
// reads, used by peekChainedReferenceValue.
func ReadOnlyChainedReference(key uint64) *big.Int {
	return reference(prefixReadOnly, key)
}

func reference(prefix, key uint64) *big.Int {
	v := new(uint256.Int).Lsh(uint256.NewInt(prefix), 240)
	v.Add(v, uint256.NewInt(key))
	return v.ToBig()
}

// IsChainedReference reports whether v carries either reference prefix.
func IsChainedReference(v *big.Int) bool {
	if v == nil || v.Sign() < 0 {
		return false
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return false
	}
	word.And(word, prefixMaskWord)
	return word.Eq(temporaryWord)
}

// ReferenceKey strips the prefix of a chained reference.
func ReferenceKey(v *big.Int) (uint64, bool) {
	if !IsChainedReference(v) {
		return 0, false
	}
	word, _ := uint256.FromBig(v)
	word.And(word, keyMaskWord)
	if !word.IsUint64() {
		return 0, false
	}
	return word.Uint64(), true
}

// MaxPathNodes bounds the node indexes PathKey can tell apart. Graphs at
// or above it are rejected before any reference is built.
const MaxPathNodes = 100

// PathKey is the reference key of the node at nodeIndex in path
// pathIndex.
func PathKey(pathIndex, nodeIndex int) uint64 {
	return uint64(pathIndex*MaxPathNodes + nodeIndex)
}

// Amount is a call amount: either a literal value or a pending chained
// reference filled in by an earlier call of the same multicall.
type Amount interface {
	// Big returns the on-wire value.
	Big() *big.Int
	isAmount()
}

// Literal is a concrete token amount.
type Literal struct {
	Value *big.Int
}

func (l Literal) Big() *big.Int {
	if l.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(l.Value)
}

func (Literal) isAmount() {}

func (l Literal) String() string { return l.Big().String() }

// Pending refers to the output stored under Key.
type Pending struct {
	Key uint64
}

func (p Pending) Big() *big.Int { return ChainedReference(p.Key) }

func (Pending) isAmount() {}

func (p Pending) String() string { return fmt.Sprintf("ref(%d)", p.Key) }

// AmountOf classifies an on-wire value.
func AmountOf(v *big.Int) Amount {
	if key, ok := ReferenceKey(v); ok {
		return Pending{Key: key}
	}
	return Literal{Value: v}
}
