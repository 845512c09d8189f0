package cycle

import (
	"io"
	"log/slog"

	"github.com/psilLang/sil/pkg/micro"
	"github.com/psilLang/sil/pkg/types"
)

// ProgramTransform runs an assembled program once per pass: the state is
// loaded into R0..RF, the program runs to HLT (or yield, collapse, gas
// exhaustion) and the registers become the next state.
//
// It reuses one VM, so a ProgramTransform must not be shared between
// concurrent runs.
type ProgramTransform struct {
	Program *micro.Program
	Gas     int // per pass; 0 is unlimited

	// Transforms are reachable from the program through TRANS and PIPE.
	Transforms []Transform

	Output io.Writer
	Logger *slog.Logger

	// OnStep is forwarded to the VM.
	OnStep func(pc uint32, in micro.Instruction, m *micro.Machine)

	// Err is the first fault raised by the program, or nil. It is never
	// cleared by a later clean pass.
	Err error
	// Faults counts passes that ended in a fault.
	Faults int
	// Steps counts instructions across all passes.
	Steps int

	vm *micro.VM
}

// NewProgramTransform wraps p with a per-pass gas limit.
func NewProgramTransform(p *micro.Program, gas int) *ProgramTransform {
	return &ProgramTransform{Program: p, Gas: gas, Output: io.Discard}
}

func (pt *ProgramTransform) Name() string {
	if pt.Program.Source != "" {
		return "Program(" + pt.Program.Source + ")"
	}
	return "Program"
}

// Transform runs one pass. A fault leaves the registers as they were when
// it happened; the first fault is kept in Err, every fault is counted and
// logged.
func (pt *ProgramTransform) Transform(s types.State) types.State {
	if pt.vm == nil {
		pt.vm = micro.New()
	}
	vm := pt.vm
	vm.Reset()
	vm.MaxGas = pt.Gas
	vm.Gas = pt.Gas
	vm.Output = pt.Output
	vm.Logger = pt.Logger
	vm.OnStep = pt.OnStep
	vm.Transforms = vm.Transforms[:0]
	for _, t := range pt.Transforms {
		vm.Transforms = append(vm.Transforms, t)
	}

	if err := vm.LoadProgram(pt.Program); err != nil {
		pt.fault(err)
		return s
	}
	vm.SetState(s)

	err := vm.Run()
	pt.Steps += vm.Steps
	if err != nil {
		pt.fault(err)
	}
	return vm.State()
}

func (pt *ProgramTransform) fault(err error) {
	if pt.Err == nil {
		pt.Err = err
	}
	pt.Faults++
	if pt.Logger != nil {
		pt.Logger.Warn("program fault", "program", pt.Name(), "err", err)
	}
}
