package micro

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedEOF is returned when decoding from an empty slice.
	ErrUnexpectedEOF = errors.New("unexpected end of code")
	// ErrInvalidState is returned for a machine record shorter than StateSize.
	ErrInvalidState = errors.New("invalid machine state")
	// ErrGasExhausted stops a VM whose gas limit ran out.
	ErrGasExhausted = errors.New("gas exhausted")
	// ErrStackOverflow and ErrStackUnderflow are raised by PUSH/POP and CALL/RET.
	ErrStackOverflow  = errors.New("stack overflow")
	ErrStackUnderflow = errors.New("stack underflow")
	// ErrBadAddress is raised by memory accesses outside the heap.
	ErrBadAddress = errors.New("address out of range")
	// ErrUnsupported is raised by opcodes that need an accelerator backend.
	ErrUnsupported = errors.New("requires accelerator backend")
	// ErrBadMagic and ErrChecksum reject malformed .silc files.
	ErrBadMagic = errors.New("not a .silc file")
	ErrChecksum = errors.New("checksum mismatch")
)

// InvalidOpcodeError reports an unregistered leading byte.
type InvalidOpcodeError struct {
	Opcode byte
}

func (e *InvalidOpcodeError) Error() string {
	return fmt.Sprintf("invalid opcode 0x%02X", e.Opcode)
}

// TruncatedError reports an instruction cut short.
type TruncatedError struct {
	Expected int
	Found    int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("instruction truncated: expected %d bytes, found %d", e.Expected, e.Found)
}

// InvalidModeError reports a mode byte outside the five legal values.
type InvalidModeError struct {
	Mode byte
}

func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("invalid mode %d", e.Mode)
}

// TrapError is a runtime fault at a given instruction.
type TrapError struct {
	PC  uint32
	Op  byte
	Err error
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("trap at %06X (%s): %v", e.PC, OpName(e.Op), e.Err)
}

func (e *TrapError) Unwrap() error { return e.Err }
