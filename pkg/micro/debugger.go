package micro

import (
	"fmt"
	"sort"

	"github.com/psilLang/sil/pkg/types"
)

// BreakFunc is a breakpoint condition, evaluated before the instruction
// at the breakpoint address runs.
type BreakFunc func(m *Machine) bool

// RegEquals breaks when register r holds v.
func RegEquals(r int, v types.ByteSil) BreakFunc {
	return func(m *Machine) bool { return m.Regs[r&0x0F] == v }
}

// Breakpoint stops execution at an address.
type Breakpoint struct {
	ID        int
	Addr      uint32
	Cond      BreakFunc // nil always matches
	Log       string    // logpoint message; a logpoint reports and never stops
	Temporary bool      // removed on first stop
	Enabled   bool
	Hits      int
}

// Watch reports changes of one register.
type Watch struct {
	ID    int
	Reg   int
	Value types.ByteSil
}

// EventKind classifies a debugger event.
type EventKind int

const (
	EventStep EventKind = iota
	EventBreakpoint
	EventLog
	EventWatch
	EventTerminated
	EventException
)

func (k EventKind) String() string {
	switch k {
	case EventStep:
		return "step"
	case EventBreakpoint:
		return "breakpoint"
	case EventLog:
		return "log"
	case EventWatch:
		return "watch"
	case EventTerminated:
		return "terminated"
	case EventException:
		return "exception"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is what stopped (or was reported by) the debugger.
type Event struct {
	Kind EventKind
	PC   uint32      // address of the instruction concerned
	Insn Instruction // zero for breakpoints, which stop before executing
	ID   int         // breakpoint or watch id

	Reg      int
	Old, New types.ByteSil

	Message string
	Err     error
}

func (e Event) String() string {
	switch e.Kind {
	case EventBreakpoint:
		return fmt.Sprintf("breakpoint %d at %06X", e.ID, e.PC)
	case EventLog:
		return fmt.Sprintf("log %d at %06X: %s", e.ID, e.PC, e.Message)
	case EventWatch:
		return fmt.Sprintf("watch %d R%X: %s -> %s at %06X (%s)", e.ID, e.Reg, e.Old, e.New, e.PC, e.Insn)
	case EventTerminated:
		return fmt.Sprintf("terminated at %06X: %s", e.PC, e.Message)
	case EventException:
		return fmt.Sprintf("exception at %06X: %v", e.PC, e.Err)
	}
	return fmt.Sprintf("%06X  %s", e.PC, e.Insn)
}

// StackFrame is one active CALL, innermost first.
type StackFrame struct {
	Index      int
	CallSite   uint32
	ReturnAddr uint32
	Function   string // callee label, empty when unknown
}

// Debugger drives a VM one instruction at a time with breakpoints and
// register watches. It owns the VM while in use; Continue runs until
// something stops it, so unbounded programs need a gas limit.
type Debugger struct {
	VM      *VM
	Program *Program // for label names; may be nil

	// OnEvent sees every reported event, including logpoints.
	OnEvent func(Event)

	// HistoryLimit bounds History; 0 keeps the last 256 addresses.
	HistoryLimit int

	breakpoints map[uint32]*Breakpoint
	watches     []*Watch
	history     []uint32
	nextID      int

	// set while paused on a breakpoint so resuming does not stop again
	atBreak bool
	breakPC uint32
}

// NewDebugger attaches to vm. p supplies label names and may be nil.
func NewDebugger(vm *VM, p *Program) *Debugger {
	return &Debugger{VM: vm, Program: p, breakpoints: make(map[uint32]*Breakpoint)}
}

func (d *Debugger) emit(e Event) Event {
	if d.OnEvent != nil {
		d.OnEvent(e)
	}
	return e
}

func (d *Debugger) add(bp *Breakpoint) *Breakpoint {
	d.nextID++
	bp.ID = d.nextID
	bp.Enabled = true
	d.breakpoints[bp.Addr] = bp
	return bp
}

// Break sets a breakpoint at addr, replacing any existing one there.
func (d *Debugger) Break(addr uint32) *Breakpoint {
	return d.add(&Breakpoint{Addr: addr})
}

// BreakIf sets a conditional breakpoint.
func (d *Debugger) BreakIf(addr uint32, cond BreakFunc) *Breakpoint {
	return d.add(&Breakpoint{Addr: addr, Cond: cond})
}

// Logpoint reports msg whenever addr is reached without stopping.
func (d *Debugger) Logpoint(addr uint32, msg string) *Breakpoint {
	return d.add(&Breakpoint{Addr: addr, Log: msg})
}

// BreakAt sets a breakpoint on a code label.
func (d *Debugger) BreakAt(label string) (*Breakpoint, error) {
	if d.Program == nil {
		return nil, fmt.Errorf("no symbols loaded")
	}
	s, ok := d.Program.Lookup(label)
	if !ok || s.Kind == SymData {
		return nil, fmt.Errorf("no code label %q", label)
	}
	return d.Break(s.Address), nil
}

// Remove deletes the breakpoint with the given id.
func (d *Debugger) Remove(id int) bool {
	for addr, bp := range d.breakpoints {
		if bp.ID == id {
			delete(d.breakpoints, addr)
			return true
		}
	}
	return false
}

// Toggle flips the breakpoint at addr and returns its new state.
// ok is false when there is none.
func (d *Debugger) Toggle(addr uint32) (enabled, ok bool) {
	bp, ok := d.breakpoints[addr]
	if !ok {
		return false, false
	}
	bp.Enabled = !bp.Enabled
	return bp.Enabled, true
}

// Breakpoints lists breakpoints by address.
func (d *Debugger) Breakpoints() []*Breakpoint {
	out := make([]*Breakpoint, 0, len(d.breakpoints))
	for _, bp := range d.breakpoints {
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Watch reports every change of register r.
func (d *Debugger) Watch(r int) *Watch {
	d.nextID++
	w := &Watch{ID: d.nextID, Reg: r & 0x0F, Value: d.VM.Regs[r&0x0F]}
	d.watches = append(d.watches, w)
	return w
}

// Unwatch removes a watch.
func (d *Debugger) Unwatch(id int) bool {
	for i, w := range d.watches {
		if w.ID == id {
			d.watches = append(d.watches[:i], d.watches[i+1:]...)
			return true
		}
	}
	return false
}

// Watches lists the active watches.
func (d *Debugger) Watches() []*Watch { return d.watches }

// History returns the addresses of recently executed instructions, oldest first.
func (d *Debugger) History() []uint32 { return d.history }

func (d *Debugger) record(pc uint32) {
	limit := d.HistoryLimit
	if limit <= 0 {
		limit = 256
	}
	d.history = append(d.history, pc)
	if len(d.history) > limit {
		d.history = d.history[len(d.history)-limit:]
	}
}

// Step executes one instruction.
func (d *Debugger) Step() Event {
	d.atBreak = false
	return d.emit(d.step())
}

// Continue runs until a breakpoint, a watch change, an error or the end.
func (d *Debugger) Continue() Event {
	skip := d.atBreak && d.VM.PC == d.breakPC
	d.atBreak = false
	for {
		if !skip {
			if e, stop := d.checkBreakpoint(d.VM.PC); stop {
				return e
			}
		}
		skip = false
		if e := d.step(); e.Kind != EventStep {
			return d.emit(e)
		}
	}
}

// StepOver runs a CALL to completion; other instructions are stepped.
func (d *Debugger) StepOver() Event {
	vm := d.VM
	if int(vm.PC) >= len(vm.Code) || vm.Code[vm.PC] != OpCall {
		return d.Step()
	}
	depth := vm.Mem.FrameDepth()
	return d.runTo(vm.PC+uint32(FormatD.Size()), func(*Machine) bool {
		return vm.Mem.FrameDepth() <= depth
	})
}

// StepOut runs until the current call returns. Outside a call it continues.
func (d *Debugger) StepOut() Event {
	frames := d.VM.Mem.Frames()
	if len(frames) == 0 {
		return d.Continue()
	}
	depth := len(frames)
	return d.runTo(frames[depth-1].ReturnAddr, func(*Machine) bool {
		return d.VM.Mem.FrameDepth() < depth
	})
}

// runTo continues with a temporary breakpoint at addr that is removed
// afterwards, whatever stopped execution.
func (d *Debugger) runTo(addr uint32, cond BreakFunc) Event {
	prev, had := d.breakpoints[addr]
	bp := d.add(&Breakpoint{Addr: addr, Cond: cond, Temporary: true})
	e := d.Continue()
	if cur, ok := d.breakpoints[addr]; ok && cur == bp {
		delete(d.breakpoints, addr)
	}
	if had {
		d.breakpoints[addr] = prev
	}
	return e
}

func (d *Debugger) checkBreakpoint(pc uint32) (Event, bool) {
	bp, ok := d.breakpoints[pc]
	if !ok || !bp.Enabled {
		return Event{}, false
	}
	if bp.Cond != nil && !bp.Cond(d.VM.Machine) {
		return Event{}, false
	}
	bp.Hits++
	if bp.Log != "" {
		d.emit(Event{Kind: EventLog, PC: pc, ID: bp.ID, Message: bp.Log})
		return Event{}, false
	}
	if bp.Temporary {
		delete(d.breakpoints, pc)
	}
	d.atBreak, d.breakPC = true, pc
	return d.emit(Event{Kind: EventBreakpoint, PC: pc, ID: bp.ID}), true
}

// step executes one instruction and classifies the outcome without
// emitting it.
func (d *Debugger) step() Event {
	vm := d.VM
	pc := vm.PC
	if vm.Halted() {
		return Event{Kind: EventTerminated, PC: pc, Message: "halted"}
	}
	var in Instruction
	if int(pc) < len(vm.Code) {
		in, _ = Decode(vm.Code[pc:])
	}

	if err := vm.Step(); err != nil {
		return Event{Kind: EventException, PC: pc, Insn: in, Err: err}
	}
	if int(pc) >= len(vm.Code) {
		return Event{Kind: EventTerminated, PC: pc, Message: "end of code"}
	}
	d.record(pc)

	for _, w := range d.watches {
		if cur := vm.Regs[w.Reg]; cur != w.Value {
			old := w.Value
			// refresh the rest so the next stop only reports new changes
			for _, o := range d.watches {
				o.Value = vm.Regs[o.Reg]
			}
			return Event{Kind: EventWatch, PC: pc, Insn: in, ID: w.ID, Reg: w.Reg, Old: old, New: cur}
		}
	}

	switch {
	case vm.Status.Has(FlagCollapse):
		return Event{Kind: EventTerminated, PC: pc, Insn: in, Message: "collapsed"}
	case vm.Status.Has(FlagHalt):
		return Event{Kind: EventTerminated, PC: pc, Insn: in, Message: "halted"}
	case vm.Yielded:
		return Event{Kind: EventTerminated, PC: pc, Insn: in, Message: "yielded"}
	}
	return Event{Kind: EventStep, PC: pc, Insn: in}
}

// CallStack lists active calls, innermost first.
func (d *Debugger) CallStack() []StackFrame {
	frames := d.VM.Mem.Frames()
	out := make([]StackFrame, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		sf := StackFrame{Index: len(out), ReturnAddr: f.ReturnAddr}
		if f.ReturnAddr >= uint32(FormatD.Size()) && int(f.ReturnAddr) <= len(d.VM.Code) {
			sf.CallSite = f.ReturnAddr - uint32(FormatD.Size())
			if in, err := Decode(d.VM.Code[sf.CallSite:]); err == nil && in.Op == OpCall {
				sf.Function = d.labelAt(in.Addr)
			}
		}
		out = append(out, sf)
	}
	return out
}

func (d *Debugger) labelAt(addr uint32) string {
	if d.Program == nil {
		return ""
	}
	for _, s := range d.Program.Symbols {
		if s.Address == addr && s.Kind != SymData {
			return s.Name
		}
	}
	return ""
}
