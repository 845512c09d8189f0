package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/psilLang/sil/pkg/micro"
	"github.com/psilLang/sil/pkg/types"
)

const debugHelp = `  s, step              execute one instruction
  n, next              step over CALL
  o, out               run until the current call returns
  c, continue          run to the next stop
  b <loc>              break at a label or address
  bi <loc> <Rn> <byte> break when register Rn holds the raw byte
  log <loc> <text>     report text whenever loc is reached
  tb <loc>             break once
  t <loc>              enable or disable the breakpoint at loc
  d <id>               delete a breakpoint
  w <Rn>               watch a register
  uw <id>              remove a watch
  info                 list breakpoints and watches
  bt                   call stack
  r, regs              dump the machine
  hist                 recently executed addresses
  l, list              disassemble around the PC
  q, quit              leave
`

type debugSession struct {
	dbg *micro.Debugger
	out io.Writer
}

func newDebugSession(dbg *micro.Debugger, out io.Writer) *debugSession {
	s := &debugSession{dbg: dbg, out: out}
	dbg.OnEvent = func(e micro.Event) {
		if e.Kind == micro.EventLog {
			fmt.Fprintln(out, e)
		}
	}
	return s
}

// loc resolves a label or a numeric address.
func (s *debugSession) loc(arg string) (uint32, error) {
	if p := s.dbg.Program; p != nil {
		if sym, ok := p.Lookup(arg); ok {
			return sym.Address, nil
		}
	}
	n, err := strconv.ParseUint(arg, 0, 24)
	if err != nil {
		return 0, fmt.Errorf("unknown location %q", arg)
	}
	return uint32(n), nil
}

func parseReg(arg string) (int, error) {
	if len(arg) == 2 && (arg[0] == 'R' || arg[0] == 'r') {
		if n, err := strconv.ParseUint(arg[1:], 16, 8); err == nil {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("bad register %q", arg)
}

func (s *debugSession) report(e micro.Event) {
	fmt.Fprintln(s.out, e)
	if e.Kind == micro.EventBreakpoint || e.Kind == micro.EventWatch {
		s.listing(1)
	}
}

// listing prints the instruction at the PC and the n following.
func (s *debugSession) listing(n int) {
	vm := s.dbg.VM
	pc := vm.PC
	for i := 0; i <= n && int(pc) < len(vm.Code); i++ {
		in, err := micro.Decode(vm.Code[pc:])
		mark := "  "
		if i == 0 {
			mark = "=>"
		}
		if err != nil {
			fmt.Fprintf(s.out, "%s %06X  .byte 0x%02X\n", mark, pc, vm.Code[pc])
			return
		}
		fmt.Fprintf(s.out, "%s %06X  %s\n", mark, pc, in)
		pc += uint32(in.Size())
	}
}

// command runs one debugger command. It reports whether to exit.
func (s *debugSession) command(line string) (exit bool, err error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return false, nil
	}
	d := s.dbg
	need := func(n int) error {
		if len(f) < n+1 {
			return fmt.Errorf("%s needs %d argument(s)", f[0], n)
		}
		return nil
	}

	switch f[0] {
	case "q", "quit":
		return true, nil
	case "h", "help":
		fmt.Fprint(s.out, debugHelp)
	case "s", "step":
		s.report(d.Step())
	case "n", "next":
		s.report(d.StepOver())
	case "o", "out":
		s.report(d.StepOut())
	case "c", "continue":
		s.report(d.Continue())
	case "b", "tb":
		if err := need(1); err != nil {
			return false, err
		}
		addr, err := s.loc(f[1])
		if err != nil {
			return false, err
		}
		bp := d.Break(addr)
		bp.Temporary = f[0] == "tb"
		fmt.Fprintf(s.out, "breakpoint %d at %06X\n", bp.ID, bp.Addr)
	case "bi":
		if err := need(3); err != nil {
			return false, err
		}
		addr, err := s.loc(f[1])
		if err != nil {
			return false, err
		}
		r, err := parseReg(f[2])
		if err != nil {
			return false, err
		}
		v, err := strconv.ParseUint(f[3], 0, 8)
		if err != nil {
			return false, fmt.Errorf("bad byte %q", f[3])
		}
		bp := d.BreakIf(addr, micro.RegEquals(r, types.FromByte(byte(v))))
		fmt.Fprintf(s.out, "breakpoint %d at %06X if R%X == %s\n", bp.ID, bp.Addr, r, types.FromByte(byte(v)))
	case "log":
		if err := need(2); err != nil {
			return false, err
		}
		addr, err := s.loc(f[1])
		if err != nil {
			return false, err
		}
		bp := d.Logpoint(addr, strings.Join(f[2:], " "))
		fmt.Fprintf(s.out, "logpoint %d at %06X\n", bp.ID, bp.Addr)
	case "t":
		if err := need(1); err != nil {
			return false, err
		}
		addr, err := s.loc(f[1])
		if err != nil {
			return false, err
		}
		on, ok := d.Toggle(addr)
		if !ok {
			return false, fmt.Errorf("no breakpoint at %06X", addr)
		}
		fmt.Fprintf(s.out, "breakpoint at %06X enabled=%v\n", addr, on)
	case "d", "uw":
		if err := need(1); err != nil {
			return false, err
		}
		id, err := strconv.Atoi(f[1])
		if err != nil {
			return false, fmt.Errorf("bad id %q", f[1])
		}
		ok := false
		if f[0] == "d" {
			ok = d.Remove(id)
		} else {
			ok = d.Unwatch(id)
		}
		if !ok {
			return false, fmt.Errorf("no such id %d", id)
		}
	case "w":
		if err := need(1); err != nil {
			return false, err
		}
		r, err := parseReg(f[1])
		if err != nil {
			return false, err
		}
		w := d.Watch(r)
		fmt.Fprintf(s.out, "watch %d on R%X = %s\n", w.ID, w.Reg, w.Value)
	case "info":
		for _, bp := range d.Breakpoints() {
			kind := "break"
			switch {
			case bp.Log != "":
				kind = "log"
			case bp.Temporary:
				kind = "tbreak"
			}
			fmt.Fprintf(s.out, "%3d %-6s %06X enabled=%-5v hits=%d\n", bp.ID, kind, bp.Addr, bp.Enabled, bp.Hits)
		}
		for _, w := range d.Watches() {
			fmt.Fprintf(s.out, "%3d watch  R%X = %s\n", w.ID, w.Reg, w.Value)
		}
	case "bt":
		for _, fr := range d.CallStack() {
			name := fr.Function
			if name == "" {
				name = "?"
			}
			fmt.Fprintf(s.out, "#%d %s called from %06X, returns to %06X\n", fr.Index, name, fr.CallSite, fr.ReturnAddr)
		}
	case "r", "regs":
		fmt.Fprint(s.out, d.VM.Machine.Dump())
	case "hist":
		for _, pc := range d.History() {
			fmt.Fprintf(s.out, "%06X\n", pc)
		}
	case "l", "list":
		s.listing(4)
	default:
		return false, fmt.Errorf("unknown command %q; h lists them", f[0])
	}
	return false, nil
}

func cmdDebug(args []string) int {
	var e env
	fs := flag.NewFlagSet("debug", flag.ContinueOnError)
	e.register(fs)
	input := fs.String("input", "", "16-byte initial register state")
	gas := fs.Int("gas", -1, "gas limit (0 = unlimited, default from config)")
	breaks := fs.String("break", "", "comma-separated breakpoints (labels or addresses)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vsp debug [flags] <file>")
		return 2
	}
	if err := e.load(); err != nil {
		return fail(err)
	}

	p, err := micro.LoadFile(fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	if *gas < 0 {
		*gas = e.cfg.Machine.Gas
	}
	vm := micro.New()
	vm.Logger = e.log
	vm.MaxGas, vm.Gas = *gas, *gas
	if err := vm.LoadProgram(p); err != nil {
		return fail(err)
	}
	if *input != "" {
		b, err := os.ReadFile(*input)
		if err != nil {
			return fail(err)
		}
		st, err := types.StateFromBytes(b)
		if err != nil {
			return fail(fmt.Errorf("%s: %w", *input, err))
		}
		vm.SetState(st)
	}

	s := newDebugSession(micro.NewDebugger(vm, p), os.Stdout)
	if *breaks != "" {
		for _, b := range strings.Split(*breaks, ",") {
			if _, err := s.command("b " + strings.TrimSpace(b)); err != nil {
				return fail(err)
			}
		}
	}
	fmt.Printf("debugging %s (%s, entry %06X); h for help\n", p.Source, p.Mode, p.Entry)
	s.listing(2)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	last := ""
	for {
		line, err := ln.Prompt("dbg> ")
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			fmt.Println()
			return 0
		}
		if err != nil {
			return fail(err)
		}
		// an empty line repeats the previous command
		if strings.TrimSpace(line) == "" {
			line = last
		} else {
			ln.AppendHistory(line)
			last = line
		}
		exit, err := s.command(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		if exit {
			return 0
		}
	}
}
