package micro

import (
	"fmt"
	"strings"
)

// Instruction is a decoded instruction. Fields the opcode does not use are zero.
type Instruction struct {
	Op   byte
	Ra   uint8
	Rb   uint8
	Imm  uint8
	Addr uint32
}

// Info returns the opcode table row. Decoded instructions always have one.
func (in Instruction) Info() OpInfo {
	return opTable[in.Op]
}

// Size returns the encoded length.
func (in Instruction) Size() int {
	return in.Info().Format.Size()
}

// Decode reads one instruction from the start of code.
func Decode(code []byte) (Instruction, error) {
	if len(code) == 0 {
		return Instruction{}, ErrUnexpectedEOF
	}
	info, ok := Lookup(code[0])
	if !ok {
		return Instruction{}, &InvalidOpcodeError{Opcode: code[0]}
	}
	size := info.Format.Size()
	if len(code) < size {
		return Instruction{}, &TruncatedError{Expected: size, Found: len(code)}
	}

	in := Instruction{Op: code[0]}
	switch info.Operands {
	case OperandsReg:
		in.Ra = code[1] & 0x0F
	case OperandsImm:
		if info.Format == FormatB {
			in.Imm = code[1]
		} else {
			in.Imm = code[2]
		}
	case OperandsRegReg:
		in.Ra, in.Rb = code[1]&0x0F, code[1]>>4
	case OperandsRegImm:
		in.Ra, in.Imm = code[1]&0x0F, code[2]
	case OperandsRegRegImm:
		in.Ra, in.Rb, in.Imm = code[1]&0x0F, code[1]>>4, code[2]
	case OperandsAddr:
		in.Addr = uint32(code[1]) | uint32(code[2])<<8 | uint32(code[3])<<16
	case OperandsRegAddr:
		in.Ra = code[1] & 0x0F
		in.Addr = uint32(code[2]) | uint32(code[3])<<8
	}
	return in, nil
}

// Encode writes the instruction in its table format.
func (in Instruction) Encode() []byte {
	info := in.Info()
	switch info.Format {
	case FormatA:
		return EncodeA(in.Op)
	case FormatB:
		if info.Operands == OperandsImm {
			return []byte{in.Op, in.Imm}
		}
		return EncodeB(in.Op, in.Ra)
	case FormatC:
		if info.Operands == OperandsImm {
			return EncodeCImm(in.Op, in.Imm)
		}
		return EncodeC(in.Op, in.Ra, in.Rb, in.Imm)
	case FormatD:
		if info.Operands == OperandsRegAddr {
			return []byte{in.Op, in.Ra & 0x0F, byte(in.Addr), byte(in.Addr >> 8)}
		}
		return EncodeD(in.Op, in.Addr)
	}
	return nil
}

// EncodeA encodes an opcode-only instruction.
func EncodeA(op byte) []byte { return []byte{op} }

// EncodeB encodes an opcode with one register.
func EncodeB(op, r byte) []byte { return []byte{op, r & 0x0F} }

// EncodeC encodes an opcode with a register pair and an immediate.
func EncodeC(op, ra, rb, imm byte) []byte {
	return []byte{op, ra&0x0F | rb<<4, imm}
}

// EncodeCImm encodes an immediate-only format C instruction (the mode opcodes).
func EncodeCImm(op, imm byte) []byte { return []byte{op, 0, imm} }

// EncodeD encodes an opcode with a 24-bit little-endian address.
func EncodeD(op byte, addr uint32) []byte {
	return []byte{op, byte(addr), byte(addr >> 8), byte(addr >> 16)}
}

// String renders the canonical assembly text.
func (in Instruction) String() string {
	info := in.Info()
	switch info.Operands {
	case OperandsReg:
		return fmt.Sprintf("%s R%X", info.Mnemonic, in.Ra)
	case OperandsImm:
		return fmt.Sprintf("%s 0x%02X", info.Mnemonic, in.Imm)
	case OperandsRegReg:
		return fmt.Sprintf("%s R%X, R%X", info.Mnemonic, in.Ra, in.Rb)
	case OperandsRegImm:
		return fmt.Sprintf("%s R%X, 0x%02X", info.Mnemonic, in.Ra, in.Imm)
	case OperandsRegRegImm:
		return fmt.Sprintf("%s R%X, R%X, 0x%02X", info.Mnemonic, in.Ra, in.Rb, in.Imm)
	case OperandsAddr:
		return fmt.Sprintf("%s 0x%06X", info.Mnemonic, in.Addr)
	case OperandsRegAddr:
		return fmt.Sprintf("%s R%X, 0x%04X", info.Mnemonic, in.Ra, in.Addr)
	}
	return info.Mnemonic
}

// LookupMnemonic resolves assembler text to an opcode, ignoring case.
func LookupMnemonic(name string) (byte, bool) {
	op, ok := mnemonicTable[strings.ToUpper(name)]
	return op, ok
}

// Disassemble renders code one instruction per line with its offset.
// Undecodable bytes are shown as data and skipped.
func Disassemble(code []byte) string {
	var sb strings.Builder
	pc := 0
	for pc < len(code) {
		fmt.Fprintf(&sb, "%06X: ", pc)
		in, err := Decode(code[pc:])
		if err != nil {
			fmt.Fprintf(&sb, ".byte 0x%02X ; %v\n", code[pc], err)
			pc++
			continue
		}
		sb.WriteString(in.String())
		sb.WriteString("\n")
		pc += in.Size()
	}
	return sb.String()
}
