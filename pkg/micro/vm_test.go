package micro

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/psilLang/sil/pkg/types"
)

func load(t *testing.T, src string) *VM {
	t.Helper()
	p, err := NewAssembler().Assemble(src)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	vm := New()
	vm.Output = io.Discard
	vm.MaxGas = 10000
	vm.Gas = 10000
	if err := vm.LoadProgram(p); err != nil {
		t.Fatalf("load: %v", err)
	}
	return vm
}

func run(t *testing.T, src string) *VM {
	t.Helper()
	vm := load(t, src)
	if err := vm.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	return vm
}

func TestMoviHalt(t *testing.T) {
	vm := run(t, `
		MOVI R0, 5
		MOVI R1, -3
		HLT
		MOVI R2, 1
	`)
	if vm.Regs[0] != types.New(5, 0) {
		t.Errorf("expected R0 (5,0), got %v", vm.Regs[0])
	}
	if vm.Regs[1] != types.New(-3, 0) {
		t.Errorf("expected R1 (-3,0), got %v", vm.Regs[1])
	}
	if !vm.Regs[2].IsNull() {
		t.Errorf("instructions after HLT ran: R2=%v", vm.Regs[2])
	}
	if vm.Steps != 3 {
		t.Errorf("expected 3 steps, got %d", vm.Steps)
	}
}

func TestRunOffEndHalts(t *testing.T) {
	vm := run(t, "NOP\nNOP")
	if !vm.Status.Has(FlagHalt) {
		t.Error("expected halt flag at end of code")
	}
}

func TestMulProgram(t *testing.T) {
	vm := load(t, `
		MUL R0, R1
		HLT
	`)
	vm.Regs[0] = types.New(5, 0)
	vm.Regs[1] = types.New(-3, 8)
	if err := vm.Run(); err != nil {
		t.Fatal(err)
	}
	if vm.Regs[0] != types.New(2, 8) {
		t.Errorf("expected (2,8), got %v", vm.Regs[0])
	}
	if vm.Status.Has(FlagZero) || vm.Status.Has(FlagNegative) {
		t.Errorf("unexpected flags %s", vm.Status)
	}
}

func TestLoop(t *testing.T) {
	vm := run(t, `
		MOVI RC, -2
		MOVI R0, 1
	again:
		ACT R0
		LOOP again
		HLT
	`)
	// RC counts down from -2 to NULL: six jumps, seven passes
	if len(vm.Mem.Output) != 7 {
		t.Errorf("expected 7 iterations, got %d", len(vm.Mem.Output))
	}
	if !vm.Regs[0xC].IsNull() {
		t.Errorf("expected RC NULL, got %v", vm.Regs[0xC])
	}
}

func TestCallRet(t *testing.T) {
	vm := run(t, `
	_start:
		CALL sub
		MOVI R1, 2
		HLT
	sub:
		MOVI R0, 1
		RET
	`)
	if vm.Regs[0] != types.New(1, 0) || vm.Regs[1] != types.New(2, 0) {
		t.Errorf("expected R0=(1,0) R1=(2,0), got %v %v", vm.Regs[0], vm.Regs[1])
	}
	if vm.FP != 0 {
		t.Errorf("expected FP restored to 0, got %d", vm.FP)
	}
}

func TestEntryPoint(t *testing.T) {
	vm := run(t, `
		MOVI R0, 7
		HLT
	main:
		MOVI R0, 1
		HLT
	`)
	if vm.Regs[0] != types.New(1, 0) {
		t.Errorf("expected execution to start at main, got R0=%v", vm.Regs[0])
	}
}

func TestStack(t *testing.T) {
	vm := run(t, `
		MOVI R0, 3
		PUSH R0
		MOVI R0, 0
		POP R1
		HLT
	`)
	if vm.Regs[1] != types.New(3, 0) {
		t.Errorf("expected R1 (3,0), got %v", vm.Regs[1])
	}
	if vm.SP != 0 || vm.Mem.Depth() != 0 {
		t.Errorf("expected empty stack, got SP=%d depth=%d", vm.SP, vm.Mem.Depth())
	}

	vm = load(t, "POP R0")
	err := vm.Run()
	if !errors.Is(err, ErrStackUnderflow) {
		t.Fatalf("expected ErrStackUnderflow, got %v", err)
	}
	if !vm.Status.Has(FlagError) {
		t.Error("expected error flag")
	}
}

func TestLoadStore(t *testing.T) {
	vm := run(t, `
	.data
	val:	.byte 0x93
	.code
		LOAD R0, val
		STORE R0, 0x0100
		HLT
	`)
	if vm.Regs[0] != types.New(1, 3) {
		t.Errorf("expected (1,3), got %v", vm.Regs[0])
	}
	if vm.Mem.Heap[0x100] != 0x93 {
		t.Errorf("expected heap[0x100]=0x93, got %02X", vm.Mem.Heap[0x100])
	}
}

func TestStateLoadSave(t *testing.T) {
	vm := run(t, `
	.data
	s:	.state neutral
	.code
		LSTATE s
		SSTATE 0x0200
		HLT
	`)
	if vm.State() != types.Neutral() {
		t.Errorf("expected neutral registers, got %v", vm.State())
	}
	got, _ := vm.Mem.ReadState(0x200)
	if got != types.Neutral() {
		t.Errorf("expected neutral state at 0x200, got %v", got)
	}
}

func TestDemoteOpcodes(t *testing.T) {
	vm := load(t, "XORDEM M32\nHLT")
	vm.Mode = Mode64
	vm.Regs[0] = types.New(2, 3)
	vm.Regs[4] = types.New(1, 5)
	if err := vm.Run(); err != nil {
		t.Fatal(err)
	}
	if vm.Mode != Mode32 {
		t.Errorf("expected SIL-32, got %s", vm.Mode)
	}
	if want := types.New(2, 3).Xor(types.New(1, 5)); vm.Regs[0] != want {
		t.Errorf("expected R0 %v, got %v", want, vm.Regs[0])
	}
	if !vm.Regs[4].IsNull() {
		t.Errorf("expected R4 NULL, got %v", vm.Regs[4])
	}

	vm = run(t, "TRUNCATE 8\nPROMOTE 2\nHLT")
	if vm.Mode != Mode32 || !vm.Status.Has(FlagModeChange) {
		t.Errorf("expected SIL-32 with mode change, got %s %s", vm.Mode, vm.Status)
	}

	vm = run(t, "COMPAT M16\nHLT")
	if vm.Mode != Mode16 {
		t.Errorf("expected negotiated SIL-16, got %s", vm.Mode)
	}

	vm = load(t, "PROMOTE 5")
	var me *InvalidModeError
	if err := vm.Run(); !errors.As(err, &me) {
		t.Errorf("expected InvalidModeError, got %v", err)
	}
}

func TestCollapseHalts(t *testing.T) {
	vm := run(t, `
		MOVI R1, -8
		COLLAPSE R1
		MOVI R2, 1
	`)
	if !vm.Status.Has(FlagCollapse) {
		t.Error("expected collapse flag")
	}
	if !vm.Regs[2].IsNull() {
		t.Error("execution continued after collapse")
	}
}

func TestSenseAct(t *testing.T) {
	vm := load(t, `
	again:
		SENSE R0
		JZ done
		ACT R0
		JMP again
	done:
		HLT
	`)
	in := []types.ByteSil{types.New(1, 1), types.New(2, 2), types.New(3, 3)}
	vm.Mem.Input = append([]types.ByteSil(nil), in...)
	if err := vm.Run(); err != nil {
		t.Fatal(err)
	}
	if len(vm.Mem.Output) != len(in) {
		t.Fatalf("expected %d outputs, got %d", len(in), len(vm.Mem.Output))
	}
	for i := range in {
		if vm.Mem.Output[i] != in[i] {
			t.Errorf("output %d: expected %v, got %v", i, in[i], vm.Mem.Output[i])
		}
	}
}

func TestGasExhausted(t *testing.T) {
	vm := load(t, "spin: JMP spin")
	vm.MaxGas = 10
	vm.Gas = 10
	err := vm.Run()
	if !errors.Is(err, ErrGasExhausted) {
		t.Fatalf("expected ErrGasExhausted, got %v", err)
	}
	if vm.Steps != 10 {
		t.Errorf("expected 10 steps, got %d", vm.Steps)
	}
}

func TestTraps(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
		pc   uint32
	}{
		{"root zero", "MOVI R0, 2\nROOT R0, 0", types.ErrRootZero, 3},
		{"accelerator", "GRAD R0", ErrUnsupported, 0},
		{"bad transform", "TRANS 3", nil, 0},
		{"bad intrinsic", "SYSCALL 0x7F", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := load(t, tt.src)
			err := vm.Run()
			var trap *TrapError
			if !errors.As(err, &trap) {
				t.Fatalf("expected TrapError, got %v", err)
			}
			if trap.PC != tt.pc {
				t.Errorf("expected trap at %d, got %d", tt.pc, trap.PC)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	vm := New()
	vm.Load([]byte{0x04})
	var ie *InvalidOpcodeError
	if err := vm.Run(); !errors.As(err, &ie) {
		t.Errorf("expected InvalidOpcodeError, got %v", err)
	}
}

func TestSyscallOutput(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"MOVI R0, 5\nSYSCALL print_int\nHLT", "5\n"},
		{"MOVI R0, 0\nSYSCALL print_bool\nHLT", "false\n"},
		{"MOVI R0, 0\nSYSCALL print_float\nHLT", "1.000000\n"},
		{"MOVI R0, 2\nSYSCALL print_bytesil\nHLT", "ByteSil(ρ=2, θ=0)\n"},
		{"SYSCALL println\nHLT", "\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		vm := load(t, tt.src)
		vm.Output = &buf
		if err := vm.Run(); err != nil {
			t.Fatal(err)
		}
		if buf.String() != tt.want {
			t.Errorf("%q: expected %q, got %q", tt.src, tt.want, buf.String())
		}
	}
}

type rotateAll int

func (r rotateAll) Transform(s types.State) types.State {
	for i := range s {
		s[i] = s[i].Rotate(int(r))
	}
	return s
}

func (r rotateAll) Name() string { return "rotate" }

func TestTransAndPipe(t *testing.T) {
	vm := load(t, `
	.data
	pipe:	.byte 2, 0, 1
	.code
		MOVI R0, 0
		TRANS 0
		PIPE pipe
		HLT
	`)
	vm.Transforms = []Transformer{rotateAll(1), rotateAll(4)}
	if err := vm.Run(); err != nil {
		t.Fatal(err)
	}
	// 1 + 1 + 4 steps
	if vm.Regs[0] != types.New(0, 6) {
		t.Errorf("expected (0,6), got %v", vm.Regs[0])
	}
}

func TestYieldResumes(t *testing.T) {
	vm := load(t, `
		MOVI R0, 1
		YIELD
		MOVI R0, 2
		HLT
	`)
	if err := vm.Run(); err != nil {
		t.Fatal(err)
	}
	if !vm.Yielded || vm.Regs[0] != types.New(1, 0) {
		t.Fatalf("expected yield with R0=(1,0), got %v %v", vm.Yielded, vm.Regs[0])
	}
	if err := vm.Run(); err != nil {
		t.Fatal(err)
	}
	if vm.Regs[0] != types.New(2, 0) || !vm.Halted() {
		t.Errorf("expected halt with R0=(2,0), got %v", vm.Regs[0])
	}
}

func TestRunContextCancel(t *testing.T) {
	vm := load(t, "spin: JMP spin")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := vm.RunContext(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !vm.Status.Has(FlagInterrupt) {
		t.Error("expected interrupt flag")
	}
}

func TestSignedImmediates(t *testing.T) {
	tests := []struct {
		src  string
		in   types.ByteSil
		want types.ByteSil
	}{
		{"POW R0, -1", types.New(2, 3), types.New(-2, 13)},
		{"POW R0, 2", types.New(3, 1), types.New(6, 2)},
		{"ROOT R0, -2", types.New(6, 4), types.New(-3, 14)},
		{"ROOT R0, 2", types.New(5, 0), types.New(2, 0)},
		{"SCALE R0, -3", types.New(1, 5), types.New(-2, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			vm := load(t, tt.src+"\nHLT")
			vm.Regs[0] = tt.in
			if err := vm.Run(); err != nil {
				t.Fatal(err)
			}
			if vm.Regs[0] != tt.want {
				t.Errorf("expected %v, got %v", tt.want, vm.Regs[0])
			}
		})
	}
}

func TestScaleSetsFlags(t *testing.T) {
	vm := run(t, `
		MOVI R1, 1
		MOVI R0, -6
		SCALE R0, -4
		JZ done
		MOVI R1, 2
	done:
		HLT
	`)
	if !vm.Regs[0].IsNull() || !vm.Status.Has(FlagZero) {
		t.Errorf("expected NULL and Z, got %v %s", vm.Regs[0], vm.Status)
	}
	if vm.Regs[1] != types.New(1, 0) {
		t.Errorf("JZ after SCALE not taken: R1=%v", vm.Regs[1])
	}
}

func TestLayerOps(t *testing.T) {
	vm := load(t, `
		SHIFTL
		FOLD
		SPREAD R5
		HLT
	`)
	for i := range vm.Regs {
		vm.Regs[i] = types.New(int8(i%8), uint8(i))
	}
	if err := vm.Run(); err != nil {
		t.Fatal(err)
	}
	if !vm.Status.Has(FlagOverflow) {
		t.Error("SHIFTL of a non-NULL RF should set overflow")
	}
	// after SHIFTL R0 is NULL and R8 holds the old R7
	if want := types.Null.Xor(types.New(7, 7)); vm.Regs[0] != want {
		t.Errorf("expected R0 %v, got %v", want, vm.Regs[0])
	}
	for i := 4; i < 8; i++ {
		if vm.Regs[i] != vm.Regs[5] {
			t.Errorf("SPREAD R5 did not reach R%X", i)
		}
	}
}

func TestOnStep(t *testing.T) {
	vm := load(t, "NOP\nNOP\nHLT")
	var pcs []uint32
	vm.OnStep = func(pc uint32, in Instruction, m *Machine) { pcs = append(pcs, pc) }
	if err := vm.Run(); err != nil {
		t.Fatal(err)
	}
	if len(pcs) != 3 || pcs[2] != 2 {
		t.Errorf("expected pcs [0 1 2], got %v", pcs)
	}
}
