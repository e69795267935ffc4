package multicall

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	errorSelector = crypto.Keccak256([]byte("Error(string)"))[:4]
	panicSelector = crypto.Keccak256([]byte("Panic(uint256)"))[:4]

	stringArgs = mustArguments("string")
	uintArgs   = mustArguments("uint256")
)

// panicReasons maps Solidity panic codes to their meaning.
var panicReasons = map[uint64]string{
	0x00: "generic panic",
	0x01: "assert(false)",
	0x11: "arithmetic underflow or overflow",
	0x12: "division or modulo by zero",
	0x21: "enum overflow",
	0x22: "invalid encoded storage byte array accessed",
	0x31: "out-of-bounds array access; popping on an empty array",
	0x32: "out-of-bounds access of an array or bytesN",
	0x41: "out of memory",
	0x51: "uninitialized function",
}

// StringRevert is a revert raised with require/revert("reason").
type StringRevert struct {
	Reason string
}

func (e *StringRevert) Error() string {
	return "execution reverted: " + e.Reason
}

// PanicRevert is a Solidity panic (assert, overflow, ...).
type PanicRevert struct {
	Code *big.Int
}

func (e *PanicRevert) Error() string {
	if e.Code.IsUint64() {
		if reason, ok := panicReasons[e.Code.Uint64()]; ok {
			return fmt.Sprintf("execution panicked: %s (%#x)", reason, e.Code)
		}
	}
	return fmt.Sprintf("execution panicked: unknown code %#x", e.Code)
}

// CustomRevert is a custom error declared in the target contract's ABI.
type CustomRevert struct {
	Name string
	Args []any
}

func (e *CustomRevert) Error() string {
	return fmt.Sprintf("execution reverted: %s%v", e.Name, e.Args)
}

// RawRevert is revert data that matched no known error signature.
type RawRevert struct {
	Data []byte
}

func (e *RawRevert) Error() string {
	return "execution reverted: " + hexutil.Encode(e.Data)
}

// decodeStandardRevert decodes Error(string) and Panic(uint256) payloads.
// It returns (nil, nil) when data carries neither selector.
func decodeStandardRevert(data []byte) (reason error, err error) {
	if len(data) < 4 {
		return nil, nil
	}
	switch {
	case bytes.Equal(data[:4], errorSelector):
		vals, err := stringArgs.Unpack(data[4:])
		if err != nil {
			return nil, fmt.Errorf("%w: Error(string): %v", ErrAbi, err)
		}
		reason, ok := vals[0].(string)
		if !ok {
			return nil, fmt.Errorf("%w: Error(string) payload is %T", ErrDecoding, vals[0])
		}
		return &StringRevert{Reason: reason}, nil
	case bytes.Equal(data[:4], panicSelector):
		vals, err := uintArgs.Unpack(data[4:])
		if err != nil {
			return nil, fmt.Errorf("%w: Panic(uint256): %v", ErrAbi, err)
		}
		code, ok := vals[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("%w: Panic(uint256) payload is %T", ErrDecoding, vals[0])
		}
		return &PanicRevert{Code: code}, nil
	}
	return nil, nil
}

// DecodeRevertData decodes revert data without contract-specific knowledge.
func DecodeRevertData(data []byte) (reason error, err error) {
	if len(data) == 0 {
		return ErrNoRevertData, nil
	}
	reason, err = decodeStandardRevert(data)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		return reason, nil
	}
	return &RawRevert{Data: bytes.Clone(data)}, nil
}

// StringRevertData encodes reason as Error(string) revert data.
func StringRevertData(reason string) []byte {
	packed, err := stringArgs.Pack(reason)
	if err != nil {
		panic(err)
	}
	return append(bytes.Clone(errorSelector), packed...)
}

// PanicRevertData encodes code as Panic(uint256) revert data.
func PanicRevertData(code uint64) []byte {
	packed, err := uintArgs.Pack(new(big.Int).SetUint64(code))
	if err != nil {
		panic(err)
	}
	return append(bytes.Clone(panicSelector), packed...)
}

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}
