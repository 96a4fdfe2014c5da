package storage

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"nestedLiquidity/internal/model"
	"nestedLiquidity/internal/relayer"
)

// Operation is the kind of plan a record holds.
type Operation string

const (
	OperationJoin Operation = "join"
	OperationExit Operation = "exit"
)

var ErrInvalidRecord = errors.New("invalid record")

// Record is one planned multicall: the operation, the relayer methods the
// user will sign in order, the tokens it moves and its price impact. The
// full artifact rides along for replay.
type Record struct {
	Operation   Operation        `json:"operation"`
	PoolID      string           `json:"pool_id"`
	CreatedAt   time.Time        `json:"created_at"`
	To          common.Address   `json:"to"`
	Calls       []string         `json:"calls"`
	CallCount   int              `json:"call_count"`
	Tokens      []common.Address `json:"tokens"`
	PriceImpact *big.Int         `json:"price_impact"`
	Artifact    interface{}      `json:"artifact"`
}

// JoinRecord describes a join artifact.
func JoinRecord(poolID string, a model.JoinArtifact, at time.Time) (Record, error) {
	calls, err := relayer.MulticallMethods(a.Data)
	if err != nil {
		return Record{}, fmt.Errorf("join %s: %w", poolID, err)
	}
	return Record{
		Operation:   OperationJoin,
		PoolID:      poolID,
		CreatedAt:   at.UTC(),
		To:          a.To,
		Calls:       calls,
		CallCount:   len(calls),
		Tokens:      a.TokensIn,
		PriceImpact: a.PriceImpact,
		Artifact:    a,
	}, nil
}

// ExitRecord describes an exit artifact.
func ExitRecord(poolID string, a model.ExitArtifact, at time.Time) (Record, error) {
	calls, err := relayer.MulticallMethods(a.Data)
	if err != nil {
		return Record{}, fmt.Errorf("exit %s: %w", poolID, err)
	}
	return Record{
		Operation:   OperationExit,
		PoolID:      poolID,
		CreatedAt:   at.UTC(),
		To:          a.To,
		Calls:       calls,
		CallCount:   len(calls),
		Tokens:      a.TokensOut,
		PriceImpact: a.PriceImpact,
		Artifact:    a,
	}, nil
}

// Validate rejects records a reader could not attribute to a plan.
func (r Record) Validate() error {
	switch r.Operation {
	case OperationJoin, OperationExit:
	default:
		return fmt.Errorf("operation %q: %w", r.Operation, ErrInvalidRecord)
	}
	if r.PoolID == "" {
		return fmt.Errorf("%s without pool id: %w", r.Operation, ErrInvalidRecord)
	}
	if r.CallCount != len(r.Calls) || r.CallCount == 0 {
		return fmt.Errorf("%s %s: %d calls named, %d counted: %w", r.Operation, r.PoolID, len(r.Calls), r.CallCount, ErrInvalidRecord)
	}
	return nil
}

// Sink defines a destination for planned artifacts.
type Sink interface {
	PutRecords(records []Record) error
}
