package micro

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/psilLang/sil/pkg/types"
)

// Transformer is a pure state function callable through TRANS and PIPE.
type Transformer interface {
	Transform(types.State) types.State
	Name() string
}

// VM drives a Machine through fetch, decode, advance PC, execute.
type VM struct {
	*Machine
	Mem *Memory

	// Program
	Code []byte

	// Transform table for TRANS/PIPE, indexed by id
	Transforms []Transformer

	// Execution limits
	Gas    int
	MaxGas int
	Steps  int

	// Yielded is set by YIELD and cleared by the next Run.
	Yielded bool

	// Backend hint and batch size recorded by the hint opcodes
	Hint  string
	Batch uint32

	// Output receives SYSCALL prints.
	Output io.Writer

	// Debug logs every step at debug level.
	Debug  bool
	Logger *slog.Logger

	// OnStep is called after every executed instruction.
	OnStep func(pc uint32, in Instruction, m *Machine)
}

// New creates a VM in SIL-128 mode.
func New() *VM {
	return &VM{
		Machine: NewMachine(Mode128),
		Mem:     NewMemory(),
		Output:  os.Stdout,
		Hint:    "any",
	}
}

// Reset clears the machine and memory. Code, transforms and limits stay.
func (vm *VM) Reset() {
	vm.Machine.Reset()
	vm.Mem.Reset()
	vm.Steps = 0
	vm.Yielded = false
	vm.Hint = "any"
	vm.Batch = 0
	if vm.MaxGas > 0 {
		vm.Gas = vm.MaxGas
	}
}

// Load loads bytecode into the VM.
func (vm *VM) Load(code []byte) {
	vm.Code = code
	vm.PC = 0
}

// LoadProgram loads code and data and jumps to the entry point.
func (vm *VM) LoadProgram(p *Program) error {
	if err := vm.Mem.LoadData(p.Data); err != nil {
		return err
	}
	vm.Load(p.Code)
	vm.Mode = p.Mode
	vm.PC = p.Entry
	return nil
}

func (vm *VM) logger() *slog.Logger {
	if vm.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return vm.Logger
}

// Step executes one instruction.
func (vm *VM) Step() error {
	m := vm.Machine
	if m.Halted() {
		return nil
	}
	if int(m.PC) >= len(vm.Code) {
		m.Status.Set(FlagHalt, true)
		return nil
	}

	// Gas check
	if vm.MaxGas > 0 {
		if vm.Gas <= 0 {
			m.Status.Set(FlagError, true)
			return ErrGasExhausted
		}
		vm.Gas--
	}

	pc := m.PC
	in, err := Decode(vm.Code[pc:])
	if err != nil {
		m.Status.Set(FlagError, true)
		return &TrapError{PC: pc, Op: vm.Code[pc], Err: err}
	}
	m.PC += uint32(in.Size())

	if err := vm.exec(in); err != nil {
		m.Status.Set(FlagError, true)
		return &TrapError{PC: pc, Op: in.Op, Err: err}
	}
	vm.Steps++

	if vm.Debug {
		vm.logger().Debug("step", "pc", fmt.Sprintf("%06X", pc), "insn", in.String(), "sr", m.Status.String())
	}
	if vm.OnStep != nil {
		vm.OnStep(pc, in, m)
	}
	return nil
}

// Run executes until halted, collapsed, yielded or an error.
func (vm *VM) Run() error {
	return vm.RunContext(context.Background())
}

// RunContext is Run with cancellation checked between instructions.
func (vm *VM) RunContext(ctx context.Context) error {
	vm.Yielded = false
	for !vm.Halted() && !vm.Yielded {
		if err := ctx.Err(); err != nil {
			vm.Status.Set(FlagInterrupt, true)
			return err
		}
		if err := vm.Step(); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VM) exec(in Instruction) error {
	m := vm.Machine
	r := &m.Regs

	switch in.Op {
	// === Control flow ===
	case OpNop, OpFence:
	case OpHlt:
		m.Status.Set(FlagHalt, true)
	case OpYield:
		vm.Yielded = true
	case OpRet:
		f, err := vm.Mem.PopFrame()
		if err != nil {
			return err
		}
		m.PC, m.FP = f.ReturnAddr, f.PrevFP
	case OpJmp:
		m.PC = in.Addr
	case OpJz:
		vm.branch(m.Status.Has(FlagZero), in.Addr)
	case OpJn:
		vm.branch(m.Status.Has(FlagNegative), in.Addr)
	case OpJc:
		vm.branch(m.Status.Has(FlagCollapse), in.Addr)
	case OpJo:
		vm.branch(m.Status.Has(FlagOverflow), in.Addr)
	case OpCall:
		if err := vm.Mem.PushFrame(Frame{ReturnAddr: m.PC, PrevFP: m.FP}); err != nil {
			return err
		}
		m.FP = m.SP
		m.PC = in.Addr
	case OpLoop:
		rc := &r[0xC]
		if rc.Rho > types.RhoMin {
			rc.Rho--
			m.PC = in.Addr
		}

	// === Data movement ===
	case OpMov:
		r[in.Ra] = r[in.Rb]
	case OpMovi:
		r[in.Ra] = types.New(int8(in.Imm), 0)
	case OpLoad:
		v, err := vm.Mem.Read(in.Addr)
		if err != nil {
			return err
		}
		r[in.Ra] = v
	case OpStore:
		return vm.Mem.Write(in.Addr, r[in.Ra])
	case OpPush:
		if err := vm.Mem.Push(r[in.Ra]); err != nil {
			return err
		}
		m.SP++
	case OpPop:
		v, err := vm.Mem.Pop()
		if err != nil {
			return err
		}
		r[in.Ra] = v
		m.SP--
	case OpXchg:
		r[in.Ra], r[in.Rb] = r[in.Rb], r[in.Ra]
	case OpLstate:
		s, err := vm.Mem.ReadState(in.Addr)
		if err != nil {
			return err
		}
		m.SetState(s)
	case OpSstate:
		return vm.Mem.WriteState(in.Addr, m.State())

	// === Arithmetic ===
	case OpMul:
		r[in.Ra] = r[in.Ra].Mul(r[in.Rb])
		m.UpdateFlags(int(in.Ra))
	case OpDiv:
		r[in.Ra] = r[in.Ra].Div(r[in.Rb])
		m.UpdateFlags(int(in.Ra))
	// POW, ROOT and SCALE take a signed immediate
	case OpPow:
		r[in.Ra] = r[in.Ra].Pow(int(int8(in.Imm)))
		m.UpdateFlags(int(in.Ra))
	case OpRoot:
		v, err := r[in.Ra].Root(int(int8(in.Imm)))
		if err != nil {
			return err
		}
		r[in.Ra] = v
		m.UpdateFlags(int(in.Ra))
	case OpInv:
		r[in.Ra] = r[in.Ra].Inv()
		m.UpdateFlags(int(in.Ra))
	case OpConj:
		r[in.Ra] = r[in.Ra].Conj()
	case OpAdd:
		r[in.Ra] = r[in.Ra].Add(r[in.Rb])
		m.UpdateFlags(int(in.Ra))
	case OpSub:
		r[in.Ra] = r[in.Ra].Sub(r[in.Rb])
		m.UpdateFlags(int(in.Ra))
	case OpMag:
		r[in.Ra].Theta = 0
	case OpPhase:
		r[in.Ra].Rho = 0
	case OpScale:
		r[in.Ra] = r[in.Ra].Scale(int(int8(in.Imm)))
		m.UpdateFlags(int(in.Ra))
	case OpRotate:
		r[in.Ra] = r[in.Ra].Rotate(int(in.Imm))

	// === Layer operations ===
	case OpXorl:
		r[in.Ra] = types.FromByte(r[in.Ra].Byte() ^ r[in.Rb].Byte())
	case OpAndl:
		r[in.Ra] = types.FromByte(r[in.Ra].Byte() & r[in.Rb].Byte())
	case OpOrl:
		r[in.Ra] = types.FromByte(r[in.Ra].Byte() | r[in.Rb].Byte())
	case OpNotl:
		r[in.Ra] = types.FromByte(^r[in.Ra].Byte())
	case OpShiftl:
		m.Status.Set(FlagOverflow, !r[0xF].IsNull())
		copy(r[1:], r[:NumRegisters-1])
		r[0] = types.Null
	case OpRotatl:
		last := r[0xF]
		copy(r[1:], r[:NumRegisters-1])
		r[0] = last
	case OpFold:
		for i := 0; i < 8; i++ {
			r[i] = r[i].Xor(r[i+8])
		}
	case OpSpread:
		base := int(in.Ra) &^ 3
		for i := base; i < base+4; i++ {
			r[i] = r[in.Ra]
		}
	case OpGather:
		base := int(in.Ra) &^ 3
		acc := types.One
		for i := base; i < base+4; i++ {
			acc = acc.Mul(r[i])
		}
		r[in.Ra] = acc

	// === Transforms ===
	case OpTrans:
		return vm.applyTransform(in.Addr)
	case OpPipe:
		ids, err := vm.Mem.ReadPipeline(in.Addr)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := vm.applyTransform(uint32(id)); err != nil {
				return err
			}
		}
	case OpLerp:
		r[in.Ra] = r[in.Ra].Lerp(r[in.Rb], float64(in.Imm)/255)
	case OpSlerp:
		r[in.Ra] = r[in.Ra].Slerp(r[in.Rb], float64(in.Imm)/255)
	case OpGrad, OpDescent, OpEmerge:
		return ErrUnsupported
	case OpCollapse:
		r[0xF] = r[in.Ra]
		if r[0xF].IsNull() {
			m.Status.Set(FlagCollapse, true)
		}

	// === Mode compatibility ===
	case OpSetmode:
		mode, err := ModeFromBits(in.Imm)
		if err != nil {
			return err
		}
		m.Mode = mode
	case OpPromote:
		mode, err := ModeFromBits(in.Imm)
		if err != nil {
			return err
		}
		m.Promote(mode)
	case OpDemote, OpXordem, OpTruncate, OpAvgdem, OpMaxdem:
		mode, err := ModeFromBits(in.Imm)
		if err != nil {
			return err
		}
		m.Demote(mode, demoteStrategy[in.Op])
	case OpCompat:
		mode, err := ModeFromBits(in.Imm)
		if err != nil {
			return err
		}
		m.Mode = m.Mode.Negotiate(mode)

	// === I/O and system ===
	case OpIn:
		r[in.Ra] = vm.Mem.Ports[in.Imm]
	case OpOut:
		vm.Mem.Ports[in.Imm] = r[in.Ra]
	case OpSense:
		v, ok := vm.Mem.Sense()
		r[in.Ra] = v
		m.Status.Set(FlagZero, !ok)
	case OpAct:
		vm.Mem.Output = append(vm.Mem.Output, r[in.Ra])
	case OpSync:
		vm.logger().Debug("sync", "node", in.Imm)
	case OpBroadcast:
		vm.Mem.Broadcast(in.Addr, m.State())
	case OpReceive:
		if s, ok := vm.Mem.Receive(in.Addr); ok {
			m.SetState(s)
		}
	case OpEntangle:
		vm.Mem.Entangle(in.Ra, in.Rb)

	// === Hints ===
	case OpHintCPU:
		vm.Hint = "cpu"
	case OpHintGPU:
		vm.Hint = "gpu"
	case OpHintNPU:
		vm.Hint = "npu"
	case OpHintAny:
		vm.Hint = "any"
	case OpHintFPGA:
		vm.Hint = "fpga"
	case OpHintDSP:
		vm.Hint = "dsp"
	case OpBatch:
		vm.Batch = in.Addr
	case OpUnbatch:
		vm.Batch = 0
	case OpPrefetch:
		return vm.Mem.check(in.Addr, 1)
	case OpSyscall:
		return vm.syscall(byte(in.Addr), uint16(in.Addr>>8))

	default:
		return &InvalidOpcodeError{Opcode: in.Op}
	}
	return nil
}

var demoteStrategy = map[byte]FoldStrategy{
	OpDemote:   FoldXor,
	OpXordem:   FoldXor,
	OpTruncate: FoldTruncate,
	OpAvgdem:   FoldAverage,
	OpMaxdem:   FoldMax,
}

func (vm *VM) branch(cond bool, addr uint32) {
	if cond {
		vm.PC = addr
	}
}

func (vm *VM) applyTransform(id uint32) error {
	if int(id) >= len(vm.Transforms) {
		return fmt.Errorf("transform %d not registered", id)
	}
	vm.SetState(vm.Transforms[id].Transform(vm.State()))
	return nil
}

// Intrinsics reachable through SYSCALL.
const (
	SysPrintln      = 0x00
	SysPrintInt     = 0x02
	SysPrintFloat   = 0x03
	SysPrintBool    = 0x04
	SysPrintByteSil = 0x05
	SysPrintState   = 0x06
)

// syscall prints from R0 or the whole register file.
func (vm *VM) syscall(id byte, arg uint16) error {
	r0 := vm.Regs[0]
	switch id {
	case SysPrintln:
		fmt.Fprintln(vm.Output)
	case SysPrintInt:
		fmt.Fprintln(vm.Output, r0.Rho)
	case SysPrintFloat:
		fmt.Fprintf(vm.Output, "%.6f\n", r0.Magnitude())
	case SysPrintBool:
		fmt.Fprintln(vm.Output, r0.Rho != 0)
	case SysPrintByteSil:
		fmt.Fprintf(vm.Output, "ByteSil(ρ=%d, θ=%d)\n", r0.Rho, r0.Theta)
	case SysPrintState:
		fmt.Fprintln(vm.Output, "State:")
		for i, l := range vm.Regs {
			fmt.Fprintf(vm.Output, "  L%X: ρ=%+3d, θ=%3d\n", i, l.Rho, l.Theta)
		}
	default:
		return fmt.Errorf("unknown intrinsic 0x%02X (arg %d)", id, arg)
	}
	return nil
}
