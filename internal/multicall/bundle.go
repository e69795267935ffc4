package multicall

import (
	"bytes"
	"fmt"
	"math/big"
)

// Entry is one position in a Bundle.
type Entry struct {
	Mode Mode
	Call Call
}

// Bundle is an ordered list of calls executed atomically by the multicall contract.
// Positions are stable: result i always belongs to entry i.
type Bundle struct {
	entries []Entry
}

// NewBundle returns a bundle holding entries in order.
func NewBundle(entries ...Entry) *Bundle {
	return &Bundle{entries: append([]Entry(nil), entries...)}
}

// Add appends a call and returns its position.
func (b *Bundle) Add(mode Mode, call Call) int {
	b.entries = append(b.entries, Entry{Mode: mode, Call: call})
	return len(b.entries) - 1
}

// MustSucceed appends a call whose failure reverts the bundle.
func (b *Bundle) MustSucceed(call Call) int { return b.Add(MustSucceed, call) }

// AllowFailure appends a call whose failure is reported per call.
func (b *Bundle) AllowFailure(call Call) int { return b.Add(AllowFailure, call) }

func (b *Bundle) Len() int { return len(b.entries) }

// Entries returns a copy of the bundle's entries.
func (b *Bundle) Entries() []Entry {
	return append([]Entry(nil), b.entries...)
}

// Encode returns the command words and inputs in bundle order.
func (b *Bundle) Encode() ([][32]byte, [][]byte, error) {
	if len(b.entries) > MaxCalls {
		return nil, nil, protocolErr(InvalidLength, -1, MaxCalls, len(b.entries), "bundle too large")
	}
	commands := make([][32]byte, len(b.entries))
	inputs := make([][]byte, len(b.entries))
	for i, e := range b.entries {
		commands[i] = encodeCommand(kindFor(e.Mode), i, e.Call.Target)
		inputs[i] = e.Call.Input
	}
	return commands, inputs, nil
}

// Pack returns calldata for the contract's execute entry point.
func (b *Bundle) Pack() ([]byte, error) {
	commands, inputs, err := b.Encode()
	if err != nil {
		return nil, err
	}
	data, err := ContractABI.Pack(executeMethod, commands, inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: pack execute: %v", ErrAbi, err)
	}
	return data, nil
}

// Verify checks that commands and inputs are exactly what Encode produces for b.
func (b *Bundle) Verify(commands [][32]byte, inputs [][]byte) error {
	decoded, err := DecodeCommands(commands, inputs)
	if err != nil {
		return err
	}
	if len(decoded) != len(b.entries) {
		return protocolErr(InvalidLength, -1, len(b.entries), len(decoded), "command count")
	}
	for i, c := range decoded {
		e := b.entries[i]
		switch {
		case c.Index != i:
			return protocolErr(WrongCommand, i, i, c.Index, "index")
		case c.Mode != e.Mode:
			return protocolErr(WrongCommand, i, 0, 0, fmt.Sprintf("mode %s, want %s", c.Mode, e.Mode))
		case c.Target != e.Call.Target:
			return protocolErr(WrongCommand, i, 0, 0, "target "+c.Target.Hex())
		case !bytes.Equal(c.Input, e.Call.Input):
			return protocolErr(WrongCommand, i, 0, 0, "input")
		}
	}
	return nil
}

// UnpackResults decodes the return data of execute.
func UnpackResults(data []byte) ([]RawResult, error) {
	var results []RawResult
	if err := ContractABI.UnpackIntoInterface(&results, executeMethod, data); err != nil {
		return nil, fmt.Errorf("%w: unpack execute: %v", ErrAbi, err)
	}
	return results, nil
}

// Result is the outcome of one call. Exactly one of Value and Revert is
// meaningful: Value when Success, Revert (a *RevertError) otherwise.
type Result struct {
	Index   int
	Mode    Mode
	Success bool
	Value   any
	Revert  error
}

// As returns a successful result's value as T.
func As[T any](r Result) (T, error) {
	var zero T
	if !r.Success {
		return zero, r.Revert
	}
	v, ok := r.Value.(T)
	if !ok {
		return zero, &DecodeError{Index: r.Index, Err: fmt.Errorf("value is %T, want %T", r.Value, zero)}
	}
	return v, nil
}

// Decode correlates raw results with the bundle's entries.
//
// It fails as a whole when the lengths differ, when any MustSucceed call
// failed (the error is that call's *RevertError, the first one in bundle
// order) or when any output or revert payload cannot be decoded.
func (b *Bundle) Decode(raw []RawResult) ([]Result, error) {
	if len(raw) != len(b.entries) {
		return nil, protocolErr(LengthMismatch, -1, len(b.entries), len(raw), "")
	}

	for i, e := range b.entries {
		if e.Mode == MustSucceed && !raw[i].Success {
			revert, err := b.revertAt(i, raw[i].ReturnData)
			if err != nil {
				return nil, err
			}
			return nil, revert
		}
	}

	results := make([]Result, len(raw))
	for i := range b.entries {
		r, err := b.decodeOne(i, raw[i])
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

// DecodeReturn unpacks execute return data and decodes it.
func (b *Bundle) DecodeReturn(data []byte) ([]Result, error) {
	raw, err := UnpackResults(data)
	if err != nil {
		return nil, err
	}
	return b.Decode(raw)
}

// DecodeAt decodes a single AllowFailure result.
func (b *Bundle) DecodeAt(i int, raw RawResult) (Result, error) {
	if i < 0 || i >= len(b.entries) {
		return Result{}, protocolErr(IndexTooBig, i, len(b.entries)-1, i, "")
	}
	if b.entries[i].Mode != AllowFailure {
		return Result{}, protocolErr(MustNotFail, i, 0, 0, "")
	}
	return b.decodeOne(i, raw)
}

func (b *Bundle) decodeOne(i int, raw RawResult) (Result, error) {
	e := b.entries[i]
	r := Result{Index: i, Mode: e.Mode, Success: raw.Success}
	if raw.Success {
		v, err := decoderOf(e.Call).DecodeOutput(raw.ReturnData)
		if err != nil {
			return Result{}, &DecodeError{Index: i, Err: err}
		}
		r.Value = v
		return r, nil
	}
	revert, err := b.revertAt(i, raw.ReturnData)
	if err != nil {
		return Result{}, err
	}
	r.Revert = revert
	return r, nil
}

func (b *Bundle) revertAt(i int, data []byte) (*RevertError, error) {
	call := b.entries[i].Call
	reason, err := decoderOf(call).DecodeRevert(data)
	if err != nil {
		return nil, &DecodeError{Index: i, Err: err}
	}
	return &RevertError{Index: i, Target: call.Target, Reason: reason}, nil
}

// DecodeRevert interprets revert data of the whole execute transaction.
// A CallFailed revert is attributed to the call at its index. Any other
// payload is returned as a *RevertError with Index -1.
func (b *Bundle) DecodeRevert(data []byte) error {
	callFailed := ContractABI.Errors[callFailedError]
	if len(data) >= 4 && bytes.Equal(data[:4], callFailed.ID[:4]) {
		vals, err := callFailed.Inputs.Unpack(data[4:])
		if err != nil {
			return fmt.Errorf("%w: CallFailed: %v", ErrAbi, err)
		}
		if len(vals) != 2 {
			return protocolErr(InvalidLength, -1, 2, len(vals), "CallFailed arguments")
		}
		index, ok := vals[0].(*big.Int)
		if !ok {
			return fmt.Errorf("%w: CallFailed index is %T", ErrDecoding, vals[0])
		}
		reason, ok := vals[1].([]byte)
		if !ok {
			return fmt.Errorf("%w: CallFailed reason is %T", ErrDecoding, vals[1])
		}
		if !index.IsInt64() || index.Int64() >= int64(len(b.entries)) {
			return protocolErr(IndexTooBig, -1, 0, 0, "CallFailed index "+index.String())
		}
		revert, err := b.revertAt(int(index.Int64()), reason)
		if err != nil {
			return err
		}
		return revert
	}

	reason, err := DecodeRevertData(data)
	if err != nil {
		return &DecodeError{Index: -1, Err: err}
	}
	return &RevertError{Index: -1, Reason: reason}
}

// CallFailedData encodes the contract's CallFailed revert.
func CallFailedData(index int, reason []byte) []byte {
	callFailed := ContractABI.Errors[callFailedError]
	packed, err := callFailed.Inputs.Pack(big.NewInt(int64(index)), reason)
	if err != nil {
		panic(err)
	}
	return append(bytes.Clone(callFailed.ID[:4]), packed...)
}

// EncodeResults encodes raw results as execute return data.
func EncodeResults(results []RawResult) ([]byte, error) {
	out := ContractABI.Methods[executeMethod].Outputs
	data, err := out.Pack(results)
	if err != nil {
		return nil, fmt.Errorf("%w: pack results: %v", ErrAbi, err)
	}
	return data, nil
}

func decoderOf(c Call) Decoder {
	if c.Decoder == nil {
		return BytesDecoder{}
	}
	return c.Decoder
}
