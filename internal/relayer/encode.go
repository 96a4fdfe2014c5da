package relayer

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func pack(method string, args ...interface{}) ([]byte, error) {
	parsed, err := RelayerABI()
	if err != nil {
		return nil, fmt.Errorf("parse relayer abi: %w", err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}

func unpackOne(method string, data []byte) (interface{}, error) {
	parsed, err := RelayerABI()
	if err != nil {
		return nil, fmt.Errorf("parse relayer abi: %w", err)
	}
	values, err := parsed.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: expected 1 value, got %d", method, len(values))
	}
	return values[0], nil
}

// EncodeCalls encodes each call in order.
func EncodeCalls(calls []Call) ([][]byte, error) {
	out := make([][]byte, len(calls))
	for i, c := range calls {
		data, err := c.Encode()
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		out[i] = data
	}
	return out, nil
}

// EncodeMulticall wraps calls into the relayer's multicall entry point.
func EncodeMulticall(calls [][]byte) ([]byte, error) {
	return pack("multicall", nonNil(calls))
}

// EncodeQueryMulticall wraps calls into vaultActionsQueryMulticall, which
// runs vault actions as queries so the user needs no balances or approval.
func EncodeQueryMulticall(calls [][]byte) ([]byte, error) {
	return pack("vaultActionsQueryMulticall", nonNil(calls))
}

// EncodeSetRelayerApproval approves or revokes relayer on the vault using
// a signed authorisation.
func EncodeSetRelayerApproval(relayer common.Address, approved bool, authorisation []byte) ([]byte, error) {
	if authorisation == nil {
		authorisation = []byte{}
	}
	return pack("setRelayerApproval", relayer, approved, authorisation)
}

// EncodePeekChainedReferenceValue reads ref without clearing it.
func EncodePeekChainedReferenceValue(ref *big.Int) ([]byte, error) {
	return pack("peekChainedReferenceValue", ref)
}

// MulticallMethods names the relayer method of every call packed into
// multicall calldata, in call order.
func MulticallMethods(data []byte) ([]string, error) {
	parsed, err := RelayerABI()
	if err != nil {
		return nil, fmt.Errorf("parse relayer abi: %w", err)
	}
	multicall := parsed.Methods["multicall"]
	if len(data) < 4 || !bytes.Equal(data[:4], multicall.ID) {
		return nil, fmt.Errorf("not multicall calldata")
	}
	values, err := multicall.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpack multicall: %w", err)
	}
	calls, ok := values[0].([][]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected multicall input type %T", values[0])
	}
	names := make([]string, len(calls))
	for i, call := range calls {
		if len(call) < 4 {
			return nil, fmt.Errorf("call %d of %d bytes", i, len(call))
		}
		method, err := parsed.MethodById(call[:4])
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		names[i] = method.Name
	}
	return names, nil
}

// DecodeMulticallResult splits a multicall return into per-call results.
func DecodeMulticallResult(data []byte) ([][]byte, error) {
	value, err := unpackOne("multicall", data)
	if err != nil {
		return nil, err
	}
	results, ok := value.([][]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected multicall result type %T", value)
	}
	return results, nil
}

// DecodePeekResult decodes the return of peekChainedReferenceValue.
func DecodePeekResult(data []byte) (*big.Int, error) {
	value, err := unpackOne("peekChainedReferenceValue", data)
	if err != nil {
		return nil, err
	}
	v, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected peek result type %T", value)
	}
	return v, nil
}

// DecodeOutputs returns the peeked value of every call at outputIndexes.
func DecodeOutputs(data []byte, outputIndexes []int) ([]*big.Int, error) {
	results, err := DecodeMulticallResult(data)
	if err != nil {
		return nil, err
	}
	out := make([]*big.Int, len(outputIndexes))
	for i, idx := range outputIndexes {
		if idx < 0 || idx >= len(results) {
			return nil, fmt.Errorf("output index %d out of range (%d results)", idx, len(results))
		}
		v, err := DecodePeekResult(results[idx])
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// DecodeRevert returns the human readable reason of revert data, falling
// back to the hex payload for custom errors.
func DecodeRevert(data []byte) string {
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	return common.Bytes2Hex(data)
}

func nonNil(calls [][]byte) [][]byte {
	if calls == nil {
		return [][]byte{}
	}
	return calls
}
