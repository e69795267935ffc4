package multicall

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol-level errors. Match with errors.Is.
var (
	ErrInvalidCommand = errors.New("multicall: invalid command")
	ErrWrongCommand   = errors.New("multicall: wrong command")
	ErrInvalidLength  = errors.New("multicall: invalid length")
	ErrLengthMismatch = errors.New("multicall: result length mismatch")
	ErrIndexTooBig    = errors.New("multicall: index too big")
	ErrMustNotFail    = errors.New("multicall: call must not fail")
)

// Decoding errors. ErrAbi wraps failures reported by the ABI library,
// ErrDecoding covers outputs with an unexpected shape.
var (
	ErrDecoding = errors.New("multicall: decoding error")
	ErrAbi      = errors.New("multicall: abi error")
)

// ErrNoRevertData marks a revert that carried no diagnostic bytes.
var ErrNoRevertData = errors.New("execution reverted without data")

// ErrorKind classifies a ProtocolError.
type ErrorKind int

const (
	InvalidCommand ErrorKind = iota + 1
	WrongCommand
	InvalidLength
	LengthMismatch
	IndexTooBig
	MustNotFail
)

func (k ErrorKind) sentinel() error {
	switch k {
	case InvalidCommand:
		return ErrInvalidCommand
	case WrongCommand:
		return ErrWrongCommand
	case InvalidLength:
		return ErrInvalidLength
	case LengthMismatch:
		return ErrLengthMismatch
	case IndexTooBig:
		return ErrIndexTooBig
	case MustNotFail:
		return ErrMustNotFail
	default:
		return errors.New("multicall: unknown protocol error")
	}
}

// ProtocolError reports a mismatch between what was encoded and what was decoded.
// These indicate a defect or misconfiguration rather than a runtime condition.
type ProtocolError struct {
	Kind  ErrorKind
	Index int // position the error refers to, -1 when not applicable
	Want  int
	Have  int
	Msg   string
}

func (e *ProtocolError) Error() string {
	s := e.Kind.sentinel().Error()
	if e.Index >= 0 {
		s = fmt.Sprintf("%s at %d", s, e.Index)
	}
	if e.Want != 0 || e.Have != 0 {
		s = fmt.Sprintf("%s (want %d, have %d)", s, e.Want, e.Have)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *ProtocolError) Unwrap() error {
	return e.Kind.sentinel()
}

func protocolErr(kind ErrorKind, index, want, have int, msg string) *ProtocolError {
	return &ProtocolError{Kind: kind, Index: index, Want: want, Have: have, Msg: msg}
}

// DecodeError reports an output or revert payload that could not be decoded.
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("multicall: decode call %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecoding
}

// RevertError reports a call that reverted. Reason holds the decoded revert:
// one of *StringRevert, *PanicRevert, *CustomRevert, *RawRevert or ErrNoRevertData.
type RevertError struct {
	Index  int // -1 when the revert could not be attributed to a call
	Target common.Address
	Reason error
}

func (e *RevertError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("multicall reverted: %v", e.Reason)
	}
	return fmt.Sprintf("call %d to %s reverted: %v", e.Index, e.Target.Hex(), e.Reason)
}

func (e *RevertError) Unwrap() error {
	return e.Reason
}
