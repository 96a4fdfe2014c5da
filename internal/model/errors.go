package model

import (
	"errors"
	"fmt"
)

var (
	ErrPoolDoesNotExist    = errors.New("pool does not exist")
	ErrUnsupportedPoolType = errors.New("unsupported pool type")
	ErrInputLengthMismatch = errors.New("input length mismatch")
	ErrMissingTokens       = errors.New("missing tokens")
	ErrJoinWithZeroAmount  = errors.New("join with zero amount")
	ErrInputTokenInvalid   = errors.New("input token invalid")
	ErrExitDeltaAmounts    = errors.New("exit delta amounts mismatch")
	ErrJoinDeltaAmounts    = errors.New("join delta amounts mismatch")
	ErrUnsupportedSwap     = errors.New("unsupported swap")
	ErrInsufficientBalance = errors.New("insufficient pool balance")
	ErrSimulationRevert    = errors.New("simulation reverted")
	ErrGraphTooLarge       = errors.New("pool graph too large")
)

// SimulationRevertError carries the decoded revert reason of a failed
// static or forked simulation.
type SimulationRevertError struct {
	Reason string
}

func (e *SimulationRevertError) Error() string {
	return fmt.Sprintf("simulation reverted: %s", e.Reason)
}

func (e *SimulationRevertError) Is(target error) bool {
	return target == ErrSimulationRevert
}
