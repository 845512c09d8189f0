// vsp assembles, runs and inspects programs for the SIL virtual processor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/psilLang/sil/pkg/config"
	"github.com/psilLang/sil/pkg/cycle"
	"github.com/psilLang/sil/pkg/micro"
	"github.com/psilLang/sil/pkg/trace"
	"github.com/psilLang/sil/pkg/types"
)

const usage = `usage: vsp <command> [flags] [args]

commands:
  run    <file>      assemble (or load .silc) and execute
  debug  <file>      interactive debugger (breakpoints, watches, stepping)
  asm    <file>      assemble to a .silc image
  dis    <file>      disassemble a program
  cycle  <file>...   run programs as cycle transforms
  runs               list recorded traces
  repl               interactive assembler
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	var code int
	switch cmd {
	case "run":
		code = cmdRun(args)
	case "debug":
		code = cmdDebug(args)
	case "asm":
		code = cmdAsm(args)
	case "dis":
		code = cmdDis(args)
	case "cycle":
		code = cmdCycle(args)
	case "runs":
		code = cmdRuns(args)
	case "repl":
		code = cmdRepl(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		code = 2
	}
	os.Exit(code)
}

// env carries the flags every command shares.
type env struct {
	configPath string
	verbose    bool
	cfg        *config.Config
	log        *slog.Logger
}

func (e *env) register(fs *flag.FlagSet) {
	fs.StringVar(&e.configPath, "config", "", "config file (default: nearest "+config.FileName+")")
	fs.BoolVar(&e.verbose, "v", false, "debug logging")
}

// load reads the config and builds the logger. Call after fs.Parse.
func (e *env) load() error {
	var err error
	if e.configPath != "" {
		e.cfg, err = config.Load(e.configPath)
	} else {
		e.cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return err
	}
	level, err := e.cfg.LogLevel()
	if err != nil {
		return err
	}
	if e.verbose {
		level = slog.LevelDebug
	}
	e.log = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
	}))
	slog.SetDefault(e.log)
	if e.cfg.Path != "" {
		e.log.Debug("config loaded", "path", e.cfg.Path)
	}
	return nil
}

func (e *env) openTrace(path string) (*trace.Store, error) {
	if path == "" {
		path = e.cfg.Trace.Path
	}
	if path == "" {
		return nil, nil
	}
	st, err := trace.Open(path)
	if err != nil {
		return nil, err
	}
	st.Logger = e.log
	return st, nil
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}

// signalContext is cancelled on interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// -----------------------------------------------------------------------------
// run
// -----------------------------------------------------------------------------

func cmdRun(args []string) int {
	var e env
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	e.register(fs)
	modeFlag := fs.String("mode", "", "override the program mode (M8..M128)")
	input := fs.String("input", "", "16-byte initial register state")
	output := fs.String("output", "", "write the 30-byte machine record here")
	sense := fs.String("sense", "", "bytes fed to SENSE, one ByteSil per byte")
	gas := fs.Int("gas", -1, "gas limit (0 = unlimited, default from config)")
	tracePath := fs.String("trace", "", "record the run in this sqlite file")
	dump := fs.Bool("dump", false, "print the machine after the run")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vsp run [flags] <file>")
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
	vm.Debug = e.verbose
	vm.MaxGas, vm.Gas = *gas, *gas
	if err := vm.LoadProgram(p); err != nil {
		return fail(err)
	}
	if *modeFlag != "" {
		m, err := micro.ParseMode(*modeFlag)
		if err != nil {
			return fail(err)
		}
		vm.Mode = m
	}
	if *input != "" {
		b, err := os.ReadFile(*input)
		if err != nil {
			return fail(err)
		}
		s, err := types.StateFromBytes(b)
		if err != nil {
			return fail(fmt.Errorf("%s: %w", *input, err))
		}
		vm.SetState(s)
	}
	if *sense != "" {
		b, err := os.ReadFile(*sense)
		if err != nil {
			return fail(err)
		}
		for _, c := range b {
			vm.Mem.Input = append(vm.Mem.Input, types.FromByte(c))
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := e.openTrace(*tracePath)
	if err != nil {
		return fail(err)
	}
	var rec *trace.Recorder
	if st != nil {
		defer st.Close()
		if rec, err = st.StartRun(ctx, trace.KindVM, p.Source, vm.Mode); err != nil {
			return fail(err)
		}
		vm.OnStep = rec.OnStep
	}

	start := time.Now()
	runErr := vm.RunContext(ctx)
	e.log.Info("run finished", "program", p.Source, "steps", vm.Steps,
		"status", vm.Status, "elapsed", time.Since(start))

	record, err := vm.Machine.MarshalBinary()
	if err != nil {
		return fail(err)
	}
	if rec != nil {
		if err := rec.Finish(context.Background(), runReason(vm, runErr), 0, record, runErr); err != nil {
			e.log.Warn("trace not saved", "err", err)
		} else {
			e.log.Info("trace saved", "run", rec.ID)
		}
	}
	if *output != "" {
		if err := os.WriteFile(*output, record, 0644); err != nil {
			return fail(err)
		}
	}
	if len(vm.Mem.Output) > 0 {
		fmt.Print("act:")
		for _, v := range vm.Mem.Output {
			fmt.Printf(" %s", v)
		}
		fmt.Println()
	}
	if *dump {
		fmt.Print(vm.Machine.Dump())
	} else {
		fmt.Println(vm.State())
	}

	if runErr != nil {
		return fail(runErr)
	}
	return 0
}

func runReason(vm *micro.VM, err error) string {
	switch {
	case err != nil:
		return "error"
	case vm.Yielded:
		return "yield"
	case vm.Status.Has(micro.FlagCollapse):
		return "collapse"
	case vm.Status.Has(micro.FlagHalt):
		return "halt"
	}
	return "end"
}

// -----------------------------------------------------------------------------
// asm / dis
// -----------------------------------------------------------------------------

func cmdAsm(args []string) int {
	var e env
	fs := flag.NewFlagSet("asm", flag.ContinueOnError)
	e.register(fs)
	out := fs.String("o", "", "output file (default: <file>.silc)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vsp asm [-o out.silc] <file.sil>")
		return 2
	}
	if err := e.load(); err != nil {
		return fail(err)
	}

	path := fs.Arg(0)
	src, err := os.ReadFile(path)
	if err != nil {
		return fail(err)
	}
	asm := micro.NewAssembler()
	p, err := asm.AssembleFile(path, string(src))
	for _, d := range asm.Diagnostics() {
		if d.Severity == micro.SeverityWarning {
			fmt.Fprintln(os.Stderr, d)
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	dst := *out
	if dst == "" {
		dst = strings.TrimSuffix(path, filepath.Ext(path)) + ".silc"
	}
	f, err := os.Create(dst)
	if err != nil {
		return fail(err)
	}
	if err := micro.WriteProgram(f, p); err != nil {
		f.Close()
		return fail(err)
	}
	if err := f.Close(); err != nil {
		return fail(err)
	}
	e.log.Info("assembled", "file", path, "out", dst, "code", len(p.Code), "data", len(p.Data), "mode", p.Mode)
	return 0
}

func cmdDis(args []string) int {
	var e env
	fs := flag.NewFlagSet("dis", flag.ContinueOnError)
	e.register(fs)
	hex := fs.Bool("hex", false, "also print the code bytes")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vsp dis <file>")
		return 2
	}
	if err := e.load(); err != nil {
		return fail(err)
	}
	p, err := micro.LoadFile(fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	writeListing(os.Stdout, p, *hex)
	return 0
}

func writeListing(w io.Writer, p *micro.Program, hex bool) {
	fmt.Fprintf(w, "; %s  mode %s  entry 0x%04X  code %d  data %d\n",
		p.Source, p.Mode, p.Entry, len(p.Code), len(p.Data))
	for _, s := range p.Symbols {
		fmt.Fprintf(w, "; %-6s %-16s 0x%04X\n", s.Kind, s.Name, s.Address)
	}
	fmt.Fprint(w, micro.Disassemble(p.Code))
	if hex {
		for i, b := range p.Code {
			if i%16 == 0 {
				if i > 0 {
					fmt.Fprintln(w)
				}
				fmt.Fprintf(w, "%04X:", i)
			}
			fmt.Fprintf(w, " %02X", b)
		}
		fmt.Fprintln(w)
	}
}

// -----------------------------------------------------------------------------
// cycle
// -----------------------------------------------------------------------------

func cmdCycle(args []string) int {
	var e env
	fs := flag.NewFlagSet("cycle", flag.ContinueOnError)
	e.register(fs)
	input := fs.String("input", "", "16-byte initial state (default neutral)")
	maxCycles := fs.Int("max", -1, "maximum passes (default from config)")
	feedback := fs.Float64("feedback", -1, "feedback factor in [0,1] (default from config)")
	history := fs.Bool("history", false, "print every pass")
	tracePath := fs.String("trace", "", "record the runs in this sqlite file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: vsp cycle [flags] <file>...")
		return 2
	}
	if err := e.load(); err != nil {
		return fail(err)
	}

	cfg := e.cfg.CycleConfig()
	if *maxCycles >= 0 {
		cfg.MaxCycles = *maxCycles
	}
	if *feedback >= 0 {
		cfg.FeedbackFactor = *feedback
	}
	if *history {
		cfg.KeepHistory = true
	}

	initial := types.Neutral()
	if *input != "" {
		b, err := os.ReadFile(*input)
		if err != nil {
			return fail(err)
		}
		if initial, err = types.StateFromBytes(b); err != nil {
			return fail(fmt.Errorf("%s: %w", *input, err))
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := e.openTrace(*tracePath)
	if err != nil {
		return fail(err)
	}
	if st != nil {
		defer st.Close()
	}

	jobs := make([]cycle.Job, 0, fs.NArg())
	pts := make([]*cycle.ProgramTransform, 0, fs.NArg())
	recs := make([]*trace.Recorder, 0, fs.NArg())
	for _, path := range fs.Args() {
		p, err := micro.LoadFile(path)
		if err != nil {
			return fail(err)
		}
		pt := cycle.NewProgramTransform(p, e.cfg.Machine.Gas)
		pt.Logger = e.log.With("program", path)
		pts = append(pts, pt)
		jobs = append(jobs, cycle.Job{Name: path, Initial: initial, Transform: pt, Config: cfg})

		if st != nil {
			rec, err := st.StartRun(ctx, trace.KindCycle, path, p.Mode)
			if err != nil {
				return fail(err)
			}
			recs = append(recs, rec)
		}
	}

	var results []cycle.Result
	if len(recs) > 0 {
		// recorders need the per-pass hook, which batch jobs don't expose
		for i, j := range jobs {
			r := cycle.Runner{Transform: j.Transform, Config: j.Config, OnCycle: recs[i].OnCycle, Logger: e.log}
			results = append(results, r.RunContext(ctx, j.Initial))
		}
	} else {
		results, err = cycle.RunBatch(ctx, jobs, e.cfg.Cycle.Workers)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fail(err)
		}
	}

	code := 0
	for i, res := range results {
		name := jobs[i].Name
		if *history {
			for n, s := range res.History {
				fmt.Printf("%s %4d %s\n", name, n, s)
			}
		}
		if !reportCycle(os.Stdout, os.Stderr, name, res, pts[i]) {
			code = 1
		}
		if i < len(recs) {
			if err := recs[i].Finish(context.Background(), res.Reason.String(), res.Cycles, res.State.Bytes(), pts[i].Err); err != nil {
				e.log.Warn("trace not saved", "program", name, "err", err)
			}
		}
	}
	return code
}

// reportCycle prints the outcome of one cycle run. It returns false when
// any pass of the program faulted, even if later passes ran clean.
func reportCycle(out, errOut io.Writer, name string, res cycle.Result, pt *cycle.ProgramTransform) bool {
	fmt.Fprintf(out, "%s: %s after %d cycles, %d steps\n  %s\n",
		name, res.Reason, res.Cycles, pt.Steps, res.State)
	if pt.Faults == 0 {
		return true
	}
	fmt.Fprintf(errOut, "%s: %d faulted pass(es), first: %v\n", name, pt.Faults, pt.Err)
	return false
}

// -----------------------------------------------------------------------------
// runs
// -----------------------------------------------------------------------------

func cmdRuns(args []string) int {
	var e env
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	e.register(fs)
	tracePath := fs.String("trace", "", "trace database (default from config)")
	show := fs.String("show", "", "print the steps or passes of this run")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := e.load(); err != nil {
		return fail(err)
	}
	st, err := e.openTrace(*tracePath)
	if err != nil {
		return fail(err)
	}
	if st == nil {
		return fail(errors.New("no trace database: pass -trace or set trace.path"))
	}
	defer st.Close()
	ctx := context.Background()

	if *show != "" {
		steps, err := st.Steps(ctx, *show)
		if err != nil {
			return fail(err)
		}
		for _, s := range steps {
			fmt.Printf("%6d  %04X  %-24s %s  %s\n", s.Seq, s.PC, s.Insn, s.Status, s.Regs)
		}
		passes, err := st.Cycles(ctx, *show)
		if err != nil {
			return fail(err)
		}
		for _, c := range passes {
			fmt.Printf("%6d  %s\n", c.N, c.State)
		}
		return 0
	}

	runs, err := st.Runs(ctx)
	if err != nil {
		return fail(err)
	}
	for _, r := range runs {
		status := r.Reason
		if r.Finished.IsZero() {
			status = "unfinished"
		}
		fmt.Printf("%s  %-5s %-8s %-24s steps=%-6d cycles=%-5d %s\n",
			r.ID, r.Kind, r.Mode, r.Program, r.Steps, r.Cycles, status)
		if r.Error != "" {
			fmt.Printf("    %s\n", r.Error)
		}
	}
	return 0
}
