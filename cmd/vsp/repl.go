package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/psilLang/sil/pkg/micro"
)

const (
	replBanner  = "vsp repl. Assembly lines run against a persistent machine; :help for commands."
	historyFile = ".vsp_history"
	promptMain  = "vsp> "
	promptCont  = "...> "
)

const replHelp = `  :regs         dump the machine
  :state        print R0..RF as a state
  :reset        clear machine and memory
  :mode <M>     set the mode without folding (M8..M128)
  :gas <n>      gas per entry, 0 = unlimited
  :dis          disassemble the last entry
  :quit         leave
A line referring to a label not yet defined keeps reading until the label
appears or a blank line is entered.
`

// session is the REPL's persistent machine.
type session struct {
	vm   *micro.VM
	gas  int
	last *micro.Program
	out  io.Writer
}

func newSession(e *env, out io.Writer) *session {
	vm := micro.New()
	vm.Logger = e.log
	vm.Debug = e.verbose
	vm.Output = out
	if m, err := e.cfg.Mode(); err == nil {
		vm.Mode = m
	}
	return &session{vm: vm, gas: e.cfg.Machine.Gas, out: out}
}

// exec assembles src and runs it from its entry on the current machine.
// Registers, memory and mode carry over between entries.
func (s *session) exec(src string) error {
	p, err := micro.NewAssembler().AssembleFile("repl", src)
	if err != nil {
		return err
	}
	s.last = p

	vm := s.vm
	if len(p.Data) > 0 {
		if err := vm.Mem.LoadData(p.Data); err != nil {
			return err
		}
	}
	if strings.Contains(src, ".mode") {
		vm.Mode = p.Mode
	}
	vm.Load(p.Code)
	vm.PC = p.Entry
	vm.Status.Set(micro.FlagHalt, false)
	vm.Status.Set(micro.FlagError, false)
	vm.MaxGas, vm.Gas = s.gas, s.gas

	err = vm.Run()
	fmt.Fprintln(s.out, vm.State())
	if vm.Status.Has(micro.FlagCollapse) {
		fmt.Fprintln(s.out, "collapsed; :reset to continue")
	}
	return err
}

// command handles a ':' line. It reports whether the REPL should exit.
func (s *session) command(line string) (exit bool, err error) {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case ":quit", ":q":
		return true, nil
	case ":help":
		fmt.Fprint(s.out, replHelp)
	case ":regs":
		fmt.Fprint(s.out, s.vm.Machine.Dump())
	case ":state":
		fmt.Fprint(s.out, s.vm.State().Dump())
	case ":reset":
		s.vm.Reset()
	case ":mode":
		if len(fields) != 2 {
			return false, errors.New("usage: :mode M32")
		}
		m, err := micro.ParseMode(fields[1])
		if err != nil {
			return false, err
		}
		s.vm.Mode = m
	case ":gas":
		if len(fields) != 2 {
			return false, errors.New("usage: :gas 1000")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 0 {
			return false, fmt.Errorf("bad gas %q", fields[1])
		}
		s.gas = n
	case ":dis":
		if s.last == nil {
			return false, errors.New("nothing assembled yet")
		}
		fmt.Fprint(s.out, micro.Disassemble(s.last.Code))
	default:
		return false, fmt.Errorf("unknown command %s; :help lists them", fields[0])
	}
	return false, nil
}

func cmdRepl(args []string) int {
	var e env
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	e.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := e.load(); err != nil {
		return fail(err)
	}
	fmt.Println(replBanner)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	s := newSession(&e, os.Stdout)
	for {
		src, ok := readEntry(ln)
		if !ok {
			fmt.Println()
			return 0
		}
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(src, "\n", "; "))

		if strings.HasPrefix(src, ":") {
			exit, err := s.command(src)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			if exit {
				return 0
			}
			continue
		}
		if err := s.exec(src); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// readEntry reads lines until they assemble without a pending label.
// ok is false at end of input.
func readEntry(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return b.String(), b.Len() > 0
		}
		if err != nil {
			// ctrl-c drops the pending entry
			return "", true
		}
		if b.Len() > 0 && strings.TrimSpace(line) == "" {
			return b.String(), true
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		if strings.HasPrefix(strings.TrimSpace(src), ":") || !pendingLabel(src) {
			return src, true
		}
	}
}

// pendingLabel reports whether src fails only on undefined labels.
func pendingLabel(src string) bool {
	a := micro.NewAssembler()
	if _, err := a.AssembleFile("repl", src); err == nil {
		return false
	}
	seen := false
	for _, d := range a.Diagnostics() {
		if d.Severity != micro.SeverityError {
			continue
		}
		if d.Code != micro.CodeUndefinedLabel {
			return false
		}
		seen = true
	}
	return seen
}
