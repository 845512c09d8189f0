package micro_test

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/psilLang/sil/pkg/micro"
	"github.com/psilLang/sil/pkg/types"
)

// runBytes executes raw bytecode with a fresh VM.
func runBytes(t *testing.T, code []byte, setup func(vm *micro.VM)) *micro.VM {
	t.Helper()
	vm := micro.New()
	vm.Output = io.Discard
	vm.MaxGas = 500
	vm.Gas = 500
	if setup != nil {
		setup(vm)
	}
	vm.Load(code)
	if err := vm.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	return vm
}

func TestCountdownCrossValidation(t *testing.T) {
	// countdown: RC = 3, R0 rotates a quarter turn per pass
	src := `
		MOVI RC, 3
		MOVI R0, 0
	top:
		ROTATE R0, 4
		ACT R0
		LOOP top
		HLT
	`
	hand := bytes.Join([][]byte{
		micro.EncodeC(micro.OpMovi, 0xC, 0, 3),
		micro.EncodeC(micro.OpMovi, 0x0, 0, 0),
		micro.EncodeC(micro.OpRotate, 0x0, 0, 4),
		micro.EncodeB(micro.OpAct, 0x0),
		micro.EncodeD(micro.OpLoop, 6),
		micro.EncodeA(micro.OpHlt),
	}, nil)

	p, err := micro.NewAssembler().Assemble(src)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p.Code, hand) {
		t.Fatalf("assembler disagrees with hand encoding:\n% X\n% X", p.Code, hand)
	}

	a := runBytes(t, p.Code, nil)
	b := runBytes(t, hand, nil)
	if a.State() != b.State() || a.Steps != b.Steps {
		t.Errorf("runs diverged: %v (%d steps) vs %v (%d steps)", a.State(), a.Steps, b.State(), b.Steps)
	}

	fmt.Printf("Countdown: %d passes, R0=%v, steps=%d\n", len(a.Mem.Output), a.Regs[0], a.Steps)

	// 3 down to -8 is eleven jumps
	if len(a.Mem.Output) != 12 {
		t.Errorf("expected 12 passes, got %d", len(a.Mem.Output))
	}
	// 12 quarter turns is a full circle three times over
	if a.Regs[0] != types.One {
		t.Errorf("expected R0 back at ONE, got %v", a.Regs[0])
	}
}

func TestFoldCrossValidation(t *testing.T) {
	hand := bytes.Join([][]byte{
		micro.EncodeCImm(micro.OpAvgdem, byte(micro.Mode16)),
		micro.EncodeA(micro.OpHlt),
	}, nil)

	tests := []struct {
		name string
		r    [4]types.ByteSil
		want [2]types.ByteSil
	}{
		{
			"average",
			[4]types.ByteSil{types.New(2, 0), types.New(0, 0), types.New(4, 2), types.New(0, 0)},
			[2]types.ByteSil{types.New(3, 1), types.New(0, 0)},
		},
		{
			"rounds half away from zero",
			[4]types.ByteSil{types.New(-1, 0), types.New(1, 1), types.New(-2, 0), types.New(2, 2)},
			[2]types.ByteSil{types.New(-2, 0), types.New(2, 2)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := runBytes(t, hand, func(vm *micro.VM) {
				vm.Mode = micro.Mode32
				copy(vm.Regs[:], tt.r[:])
			})
			fmt.Printf("AVGDEM(%s): R0=%v R1=%v\n", tt.name, vm.Regs[0], vm.Regs[1])
			if vm.Regs[0] != tt.want[0] || vm.Regs[1] != tt.want[1] {
				t.Errorf("expected %v %v, got %v %v", tt.want[0], tt.want[1], vm.Regs[0], vm.Regs[1])
			}
			if vm.Mode != micro.Mode16 {
				t.Errorf("expected SIL-16, got %s", vm.Mode)
			}
		})
	}
}

func TestMachineRecordCrossValidation(t *testing.T) {
	vm := runBytes(t, bytes.Join([][]byte{
		micro.EncodeC(micro.OpMovi, 0x0, 0, 5),
		micro.EncodeCImm(micro.OpTruncate, byte(micro.Mode8)),
		micro.EncodeA(micro.OpHlt),
	}, nil), nil)

	rec, err := vm.Machine.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	want := make([]byte, micro.StateSize)
	want[0] = types.New(5, 0).Byte()
	for i := 1; i < 16; i++ {
		want[i] = types.Null.Byte()
	}
	want[16] = 7 // PC after HLT
	want[28] = byte(micro.FlagHalt | micro.FlagModeChange)
	want[29] = byte(micro.Mode8)
	if !bytes.Equal(rec, want) {
		t.Errorf("expected record\n% X\ngot\n% X", want, rec)
	}
}
