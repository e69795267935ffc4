package multicall

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// CommandKind is the first byte of a command word.
type CommandKind byte

const (
	KindCall             CommandKind = 0x01
	KindCallAllowFailure CommandKind = 0x02
)

// MaxCalls is the largest bundle a command index can address.
const MaxCalls = 1<<16 - 1

func (k CommandKind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindCallAllowFailure:
		return "call_allow_failure"
	default:
		return fmt.Sprintf("kind(%#02x)", byte(k))
	}
}

func kindFor(m Mode) CommandKind {
	if m == AllowFailure {
		return KindCallAllowFailure
	}
	return KindCall
}

func (k CommandKind) mode() (Mode, bool) {
	switch k {
	case KindCall:
		return MustSucceed, true
	case KindCallAllowFailure:
		return AllowFailure, true
	default:
		return 0, false
	}
}

// Command is a decoded command word paired with its input.
//
// Word layout: kind(1) | index(2, big endian) | zero(9) | target(20).
type Command struct {
	Kind   CommandKind
	Mode   Mode
	Index  int
	Target common.Address
	Input  []byte
}

func encodeCommand(kind CommandKind, index int, target common.Address) [32]byte {
	var w [32]byte
	w[0] = byte(kind)
	binary.BigEndian.PutUint16(w[1:3], uint16(index))
	copy(w[12:], target.Bytes())
	return w
}

var zeroPad [9]byte

// DecodeCommand decodes a single command word. position is reported in errors.
func DecodeCommand(position int, word [32]byte) (Command, error) {
	kind := CommandKind(word[0])
	mode, ok := kind.mode()
	if !ok {
		return Command{}, protocolErr(InvalidCommand, position, 0, 0, "unknown kind "+kind.String())
	}
	if !bytes.Equal(word[3:12], zeroPad[:]) {
		return Command{}, protocolErr(InvalidCommand, position, 0, 0, "non-zero padding")
	}
	return Command{
		Kind:   kind,
		Mode:   mode,
		Index:  int(binary.BigEndian.Uint16(word[1:3])),
		Target: common.BytesToAddress(word[12:]),
	}, nil
}

// DecodeCommands decodes a command stream and pairs each command with its input.
func DecodeCommands(commands [][32]byte, inputs [][]byte) ([]Command, error) {
	if len(commands) != len(inputs) {
		return nil, protocolErr(InvalidLength, -1, len(commands), len(inputs), "commands and inputs")
	}
	out := make([]Command, len(commands))
	for i, w := range commands {
		c, err := DecodeCommand(i, w)
		if err != nil {
			return nil, err
		}
		if c.Index >= len(commands) {
			return nil, protocolErr(IndexTooBig, i, len(commands)-1, c.Index, "")
		}
		c.Input = inputs[i]
		out[i] = c
	}
	return out, nil
}

// UnpackCalldata splits execute calldata into its command and input lists.
func UnpackCalldata(calldata []byte) ([][32]byte, [][]byte, error) {
	method := ContractABI.Methods[executeMethod]
	if len(calldata) < 4 || !bytes.Equal(calldata[:4], method.ID) {
		return nil, nil, protocolErr(InvalidCommand, -1, 0, 0, "calldata is not an execute call")
	}
	vals, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: execute inputs: %v", ErrAbi, err)
	}
	if len(vals) != 2 {
		return nil, nil, protocolErr(InvalidLength, -1, 2, len(vals), "execute arguments")
	}
	commands, ok := vals[0].([][32]byte)
	if !ok {
		return nil, nil, fmt.Errorf("%w: commands is %T", ErrDecoding, vals[0])
	}
	inputs, ok := vals[1].([][]byte)
	if !ok {
		return nil, nil, fmt.Errorf("%w: inputs is %T", ErrDecoding, vals[1])
	}
	return commands, inputs, nil
}
