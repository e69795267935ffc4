package multicall

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Mode controls how a call's failure affects the bundle.
type Mode uint8

const (
	// MustSucceed calls revert the whole bundle when they fail.
	MustSucceed Mode = iota
	// AllowFailure calls report their failure per call.
	AllowFailure
)

func (m Mode) String() string {
	switch m {
	case MustSucceed:
		return "must_succeed"
	case AllowFailure:
		return "allow_failure"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Decoder turns a call's raw output or revert data into typed values.
// DecodeRevert returns the decoded revert as reason, and a non-nil err only
// when the payload is structurally malformed.
type Decoder interface {
	DecodeOutput(data []byte) (any, error)
	DecodeRevert(data []byte) (reason error, err error)
}

// Call is one logical chain call. Input is the full calldata including selector.
type Call struct {
	Target  common.Address
	Input   []byte
	Decoder Decoder
}

// NewABICall packs method(args...) from contract and attaches a decoder for
// its outputs and declared errors.
func NewABICall(contract *abi.ABI, target common.Address, method string, args ...any) (Call, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return Call{}, fmt.Errorf("pack %s: %w", method, err)
	}
	m := contract.Methods[method]
	return Call{
		Target:  target,
		Input:   input,
		Decoder: &ABIDecoder{contract: contract, method: m},
	}, nil
}

// NewRawCall builds a call from prepared calldata. Outputs decode to []byte.
func NewRawCall(target common.Address, input []byte) Call {
	return Call{Target: target, Input: bytes.Clone(input), Decoder: BytesDecoder{}}
}

// ABIDecoder decodes using a method's output arguments and the contract's errors.
type ABIDecoder struct {
	contract *abi.ABI
	method   abi.Method
}

// DecodeOutput unpacks data into the method's outputs. A single output is
// returned as its value, several as []any, none as nil.
func (d *ABIDecoder) DecodeOutput(data []byte) (any, error) {
	want := len(d.method.Outputs)
	if want == 0 {
		return nil, nil
	}
	vals, err := d.method.Outputs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s outputs: %v", ErrAbi, d.method.Name, err)
	}
	if len(vals) != want {
		return nil, fmt.Errorf("%w: %s returned %d values, want %d", ErrDecoding, d.method.Name, len(vals), want)
	}
	if want == 1 {
		return vals[0], nil
	}
	return vals, nil
}

// DecodeRevert recognises Error(string), Panic(uint256) and the contract's
// custom errors. Unknown selectors decode to *RawRevert.
func (d *ABIDecoder) DecodeRevert(data []byte) (reason error, err error) {
	if len(data) == 0 {
		return ErrNoRevertData, nil
	}
	if reason, err = decodeStandardRevert(data); reason != nil || err != nil {
		return reason, err
	}
	if len(data) >= 4 {
		var id [4]byte
		copy(id[:], data[:4])
		if e, lookupErr := d.contract.ErrorByID(id); lookupErr == nil {
			args, unpackErr := e.Inputs.Unpack(data[4:])
			if unpackErr != nil {
				return nil, fmt.Errorf("%w: error %s: %v", ErrAbi, e.Name, unpackErr)
			}
			return &CustomRevert{Name: e.Name, Args: args}, nil
		}
	}
	return &RawRevert{Data: bytes.Clone(data)}, nil
}

// BytesDecoder passes outputs through and decodes reverts generically.
type BytesDecoder struct{}

func (BytesDecoder) DecodeOutput(data []byte) (any, error) {
	return bytes.Clone(data), nil
}

func (BytesDecoder) DecodeRevert(data []byte) (reason error, err error) {
	return DecodeRevertData(data)
}
