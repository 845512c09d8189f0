// Package micro implements the VSP virtual machine: the opcode table,
// instruction decoding, the machine state with its mode hierarchy,
// the executor, the assembler and the .silc container.
package micro

// Instruction encoding:
//
// A: [op]                      1 byte   no operands
// B: [op][0000 rrrr]           2 bytes  one register (or an 8-bit immediate)
// C: [op][bbbb aaaa][imm8]     3 bytes  register pair and/or immediate
// D: [op][a0][a1][a2]          4 bytes  24-bit little-endian address
//
// The top three bits of the opcode select its category:
//
// 0x00-0x1F: control flow
// 0x20-0x3F: data movement
// 0x40-0x5F: ByteSil arithmetic
// 0x60-0x7F: layer operations
// 0x80-0x9F: transforms
// 0xA0-0xBF: mode compatibility
// 0xC0-0xDF: I/O and system
// 0xE0-0xFF: hardware hints, SYSCALL

// === Control flow (0x00-0x1F) ===
const (
	OpNop   = 0x00 // no operation
	OpHlt   = 0x01 // halt
	OpRet   = 0x02 // return from CALL
	OpYield = 0x03 // yield to the driver
	OpJmp   = 0x10 // pc = addr
	OpJz    = 0x11 // jump if zero flag
	OpJn    = 0x12 // jump if negative flag
	OpJc    = 0x13 // jump if collapse flag
	OpJo    = 0x14 // jump if overflow flag
	OpCall  = 0x15 // push frame, pc = addr
	OpLoop  = 0x16 // RC.rho--, jump while RC not null
)

// === Data movement (0x20-0x3F) ===
const (
	OpMov    = 0x20 // Ra = Rb
	OpMovi   = 0x21 // Ra = (imm, 0)
	OpLoad   = 0x22 // Ra = mem[addr]
	OpStore  = 0x23 // mem[addr] = Ra
	OpPush   = 0x24 // push Ra
	OpPop    = 0x25 // pop Ra
	OpXchg   = 0x26 // swap Ra, Rb
	OpLstate = 0x27 // R0..RF = mem[addr:addr+16]
	OpSstate = 0x28 // mem[addr:addr+16] = R0..RF
)

// === Arithmetic (0x40-0x5F) ===
const (
	OpMul    = 0x40 // Ra = Ra * Rb
	OpDiv    = 0x41 // Ra = Ra / Rb
	OpPow    = 0x42 // Ra = Ra ^ imm
	OpRoot   = 0x43 // Ra = Ra ^ (1/imm)
	OpInv    = 0x44 // Ra = 1/Ra
	OpConj   = 0x45 // Ra = conj(Ra)
	OpAdd    = 0x46 // Ra = Ra + Rb (cartesian)
	OpSub    = 0x47 // Ra = Ra - Rb (cartesian)
	OpMag    = 0x48 // Ra.theta = 0
	OpPhase  = 0x49 // Ra.rho = 0
	OpScale  = 0x4A // Ra.rho += imm
	OpRotate = 0x4B // Ra.theta += imm
)

// === Layer operations (0x60-0x7F) ===
const (
	OpXorl   = 0x60 // Ra ^= Rb (packed bytes)
	OpAndl   = 0x61 // Ra &= Rb
	OpOrl    = 0x62 // Ra |= Rb
	OpNotl   = 0x63 // Ra = ^Ra
	OpShiftl = 0x64 // R[i] = R[i-1], R0 = NULL
	OpRotatl = 0x65 // circular shift of all registers
	OpFold   = 0x66 // R[i] ^= R[i+8] for i < 8
	OpSpread = 0x67 // copy Ra into its group of four
	OpGather = 0x68 // Ra = product of its group of four
)

// === Transforms (0x80-0x9F) ===
const (
	OpTrans    = 0x80 // apply transform table entry
	OpPipe     = 0x81 // apply a pipeline of table entries
	OpLerp     = 0x82 // Ra = lerp(Ra, Rb, imm/255)
	OpSlerp    = 0x83 // Ra = slerp(Ra, Rb, imm/255)
	OpGrad     = 0x84 // gradient (accelerator)
	OpDescent  = 0x85 // gradient step (accelerator)
	OpEmerge   = 0x86 // emergence (accelerator)
	OpCollapse = 0x87 // RF = Ra, collapse flag if NULL
)

// === Mode compatibility (0xA0-0xBF) ===
const (
	OpSetmode  = 0xA0 // mode = imm
	OpPromote  = 0xA1 // promote to imm
	OpDemote   = 0xA2 // demote to imm (xor fold)
	OpTruncate = 0xA3 // demote, truncate
	OpXordem   = 0xA4 // demote, xor fold
	OpAvgdem   = 0xA5 // demote, average fold
	OpMaxdem   = 0xA6 // demote, max fold
	OpCompat   = 0xA7 // mode = negotiate(mode, imm)
)

// === I/O and system (0xC0-0xDF) ===
const (
	OpIn        = 0xC0 // Ra = port[imm]
	OpOut       = 0xC1 // port[imm] = Ra
	OpSense     = 0xC2 // Ra = next input, zero flag on EOF
	OpAct       = 0xC3 // emit Ra
	OpSync      = 0xC4 // synchronise with node imm
	OpBroadcast = 0xC5 // mailbox[addr] = registers
	OpReceive   = 0xC6 // registers = mailbox[addr]
	OpEntangle  = 0xC7 // pair Ra with Rb
)

// === Hints (0xE0-0xFF) ===
const (
	OpHintCPU  = 0xE0
	OpHintGPU  = 0xE1
	OpHintNPU  = 0xE2
	OpHintAny  = 0xE3
	OpBatch    = 0xE4
	OpUnbatch  = 0xE5
	OpPrefetch = 0xE6
	OpFence    = 0xE7
	OpHintFPGA = 0xE8
	OpHintDSP  = 0xE9
	OpSyscall  = 0xFF // [op][intrinsic][arg lo][arg hi]
)

// Category returns the top three bits of op.
func Category(op byte) byte {
	return op & 0xE0
}

// CategoryName names the category of op.
func CategoryName(op byte) string {
	switch Category(op) {
	case 0x00:
		return "control"
	case 0x20:
		return "data"
	case 0x40:
		return "arithmetic"
	case 0x60:
		return "layer"
	case 0x80:
		return "transform"
	case 0xA0:
		return "compat"
	case 0xC0:
		return "system"
	default:
		return "hint"
	}
}

// Format is the encoded width class of an instruction.
type Format uint8

const (
	FormatA Format = iota + 1
	FormatB
	FormatC
	FormatD
)

// Size returns the encoded length in bytes.
func (f Format) Size() int { return int(f) }

func (f Format) String() string {
	if f < FormatA || f > FormatD {
		return "?"
	}
	return string(rune('A' + f - 1))
}

// Operands says which fields an instruction carries.
type Operands uint8

const (
	OperandsNone      Operands = iota // A
	OperandsReg                       // B: Ra
	OperandsImm                       // B or C: imm8
	OperandsRegReg                    // C: Ra, Rb
	OperandsRegImm                    // C: Ra, imm8
	OperandsRegRegImm                 // C: Ra, Rb, imm8
	OperandsAddr                      // D: addr24
	OperandsRegAddr                   // D: Ra, addr16
)

// Count is the number of assembler operands.
func (o Operands) Count() int {
	switch o {
	case OperandsNone:
		return 0
	case OperandsReg, OperandsImm, OperandsAddr:
		return 1
	case OperandsRegRegImm:
		return 3
	default:
		return 2
	}
}

// OpInfo is one row of the opcode table.
type OpInfo struct {
	Op       byte
	Mnemonic string
	Format   Format
	Operands Operands
}

var opList = []OpInfo{
	{OpNop, "NOP", FormatA, OperandsNone},
	{OpHlt, "HLT", FormatA, OperandsNone},
	{OpRet, "RET", FormatA, OperandsNone},
	{OpYield, "YIELD", FormatA, OperandsNone},
	{OpJmp, "JMP", FormatD, OperandsAddr},
	{OpJz, "JZ", FormatD, OperandsAddr},
	{OpJn, "JN", FormatD, OperandsAddr},
	{OpJc, "JC", FormatD, OperandsAddr},
	{OpJo, "JO", FormatD, OperandsAddr},
	{OpCall, "CALL", FormatD, OperandsAddr},
	{OpLoop, "LOOP", FormatD, OperandsAddr},

	{OpMov, "MOV", FormatC, OperandsRegReg},
	{OpMovi, "MOVI", FormatC, OperandsRegImm},
	{OpLoad, "LOAD", FormatD, OperandsRegAddr},
	{OpStore, "STORE", FormatD, OperandsRegAddr},
	{OpPush, "PUSH", FormatB, OperandsReg},
	{OpPop, "POP", FormatB, OperandsReg},
	{OpXchg, "XCHG", FormatC, OperandsRegReg},
	{OpLstate, "LSTATE", FormatD, OperandsAddr},
	{OpSstate, "SSTATE", FormatD, OperandsAddr},

	{OpMul, "MUL", FormatC, OperandsRegReg},
	{OpDiv, "DIV", FormatC, OperandsRegReg},
	{OpPow, "POW", FormatC, OperandsRegImm},
	{OpRoot, "ROOT", FormatC, OperandsRegImm},
	{OpInv, "INV", FormatB, OperandsReg},
	{OpConj, "CONJ", FormatB, OperandsReg},
	{OpAdd, "ADD", FormatC, OperandsRegReg},
	{OpSub, "SUB", FormatC, OperandsRegReg},
	{OpMag, "MAG", FormatB, OperandsReg},
	{OpPhase, "PHASE", FormatB, OperandsReg},
	{OpScale, "SCALE", FormatC, OperandsRegImm},
	{OpRotate, "ROTATE", FormatC, OperandsRegImm},

	{OpXorl, "XORL", FormatC, OperandsRegReg},
	{OpAndl, "ANDL", FormatC, OperandsRegReg},
	{OpOrl, "ORL", FormatC, OperandsRegReg},
	{OpNotl, "NOTL", FormatB, OperandsReg},
	{OpShiftl, "SHIFTL", FormatA, OperandsNone},
	{OpRotatl, "ROTATL", FormatA, OperandsNone},
	{OpFold, "FOLD", FormatA, OperandsNone},
	{OpSpread, "SPREAD", FormatB, OperandsReg},
	{OpGather, "GATHER", FormatB, OperandsReg},

	{OpTrans, "TRANS", FormatD, OperandsAddr},
	{OpPipe, "PIPE", FormatD, OperandsAddr},
	{OpLerp, "LERP", FormatC, OperandsRegRegImm},
	{OpSlerp, "SLERP", FormatC, OperandsRegRegImm},
	{OpGrad, "GRAD", FormatB, OperandsReg},
	{OpDescent, "DESCENT", FormatC, OperandsRegImm},
	{OpEmerge, "EMERGE", FormatB, OperandsReg},
	{OpCollapse, "COLLAPSE", FormatB, OperandsReg},

	{OpSetmode, "SETMODE", FormatB, OperandsImm},
	{OpPromote, "PROMOTE", FormatC, OperandsImm},
	{OpDemote, "DEMOTE", FormatC, OperandsImm},
	{OpTruncate, "TRUNCATE", FormatC, OperandsImm},
	{OpXordem, "XORDEM", FormatC, OperandsImm},
	{OpAvgdem, "AVGDEM", FormatC, OperandsImm},
	{OpMaxdem, "MAXDEM", FormatC, OperandsImm},
	{OpCompat, "COMPAT", FormatC, OperandsImm},

	{OpIn, "IN", FormatC, OperandsRegImm},
	{OpOut, "OUT", FormatC, OperandsRegImm},
	{OpSense, "SENSE", FormatB, OperandsReg},
	{OpAct, "ACT", FormatB, OperandsReg},
	{OpSync, "SYNC", FormatB, OperandsImm},
	{OpBroadcast, "BROADCAST", FormatD, OperandsAddr},
	{OpReceive, "RECEIVE", FormatD, OperandsAddr},
	{OpEntangle, "ENTANGLE", FormatC, OperandsRegReg},

	{OpHintCPU, "HINT.CPU", FormatA, OperandsNone},
	{OpHintGPU, "HINT.GPU", FormatA, OperandsNone},
	{OpHintNPU, "HINT.NPU", FormatA, OperandsNone},
	{OpHintAny, "HINT.ANY", FormatA, OperandsNone},
	{OpBatch, "BATCH", FormatD, OperandsAddr},
	{OpUnbatch, "UNBATCH", FormatA, OperandsNone},
	{OpPrefetch, "PREFETCH", FormatD, OperandsAddr},
	{OpFence, "FENCE", FormatA, OperandsNone},
	{OpHintFPGA, "HINT.FPGA", FormatA, OperandsNone},
	{OpHintDSP, "HINT.DSP", FormatA, OperandsNone},
	{OpSyscall, "SYSCALL", FormatD, OperandsAddr},
}

// opTable is indexed by opcode byte; unregistered entries have Format 0.
var opTable, mnemonicTable = buildTables()

func buildTables() ([256]OpInfo, map[string]byte) {
	var table [256]OpInfo
	names := make(map[string]byte, len(opList))
	for _, info := range opList {
		table[info.Op] = info
		names[info.Mnemonic] = info.Op
	}
	return table, names
}

// Lookup returns the table row for op.
func Lookup(op byte) (OpInfo, bool) {
	info := opTable[op]
	return info, info.Format != 0
}

// Opcodes lists every registered opcode in table order.
func Opcodes() []OpInfo {
	out := make([]OpInfo, len(opList))
	copy(out, opList)
	return out
}

// OpName returns the mnemonic of op, or "?XX" when unregistered.
func OpName(op byte) string {
	if info, ok := Lookup(op); ok {
		return info.Mnemonic
	}
	return "?" + hexByte(op)
}

func hexByte(b byte) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[b>>4], digits[b&0x0F]})
}
