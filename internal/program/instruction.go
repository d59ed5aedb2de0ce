package program

import "fmt"

// Instruction is the request carried by an instruction buffer. Neither
// variant has a payload, so the value is its own discriminant.
type Instruction uint8

const (
	// Initialize lays out a fresh Counter in the target record.
	//
	// Records expected:
	//  0. [writable] the counter record
	//  1. [authorized] the authority
	//  2. [] the reserved system program address
	Initialize Instruction = 0

	// Increment adds one to an existing Counter.
	//
	// Records expected:
	//  0. [writable] the counter record
	//  1. [authorized] the authority
	Increment Instruction = 1
)

const instructionSize = 1

func (ix Instruction) String() string {
	switch ix {
	case Initialize:
		return "Initialize"
	case Increment:
		return "Increment"
	default:
		return fmt.Sprintf("Instruction(%d)", uint8(ix))
	}
}

// Encode returns the canonical one-byte encoding.
func (ix Instruction) Encode() []byte {
	return []byte{byte(ix)}
}

// EncodeInstruction is Encode as a function value.
func EncodeInstruction(ix Instruction) []byte {
	return ix.Encode()
}

// DecodeInstruction parses an instruction buffer. The buffer must hold
// exactly one known discriminant byte.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return 0, &DecodeError{Kind: Truncated}
	}

	var ix Instruction
	switch tag := data[0]; tag {
	case byte(Initialize):
		ix = Initialize
	case byte(Increment):
		ix = Increment
	default:
		return 0, &DecodeError{Kind: UnknownVariant, Tag: tag, Length: len(data)}
	}

	if len(data) > instructionSize {
		return 0, &DecodeError{Kind: TrailingData, Length: len(data)}
	}
	return ix, nil
}
