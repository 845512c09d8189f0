package trace

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/psilLang/sil/pkg/cycle"
	"github.com/psilLang/sil/pkg/micro"
	"github.com/psilLang/sil/pkg/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if !strings.HasPrefix(a, "run_") || len(a) != len("run_")+36 {
		t.Errorf("unexpected id %q", a)
	}
	if a == b {
		t.Error("ids should be unique")
	}
}

func TestRecordVMRun(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	p, err := micro.NewAssembler().AssembleFile("count.sil", "MOVI R0, 1\nMOVI R1, 2\nHLT")
	if err != nil {
		t.Fatal(err)
	}
	rec, err := s.StartRun(ctx, KindVM, p.Source, p.Mode)
	if err != nil {
		t.Fatal(err)
	}

	vm := micro.New()
	vm.Output = io.Discard
	vm.OnStep = rec.OnStep
	if err := vm.LoadProgram(p); err != nil {
		t.Fatal(err)
	}
	runErr := vm.Run()
	final, _ := vm.Machine.MarshalBinary()
	if err := rec.Finish(ctx, "halt", 0, final, runErr); err != nil {
		t.Fatal(err)
	}

	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.ID != rec.ID || r.Kind != KindVM || r.Program != "count.sil" || r.Mode != "SIL-128" {
		t.Errorf("unexpected run %+v", r)
	}
	if r.Steps != 3 || r.Reason != "halt" || r.Error != "" || r.Finished.IsZero() {
		t.Errorf("unexpected summary %+v", r)
	}
	if len(r.Final) != micro.StateSize {
		t.Errorf("expected %d-byte record, got %d", micro.StateSize, len(r.Final))
	}

	steps, err := s.Steps(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	if steps[1].PC != 3 || steps[1].Insn != "MOVI R1, 0x02" {
		t.Errorf("unexpected step %+v", steps[1])
	}
	if steps[2].Regs[1] != types.New(2, 0) || !steps[2].Status.Has(micro.FlagHalt) {
		t.Errorf("unexpected final step %+v", steps[2])
	}
}

func TestRecordCycleRun(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	rec, err := s.StartRun(ctx, KindCycle, "PhaseShift", micro.Mode128)
	if err != nil {
		t.Fatal(err)
	}
	r := cycle.Runner{
		Transform: cycle.PhaseShift(1),
		Config:    cycle.Config{MaxCycles: 4},
		OnCycle:   rec.OnCycle,
	}
	res := r.Run(types.Neutral())
	if err := rec.Finish(ctx, res.Reason.String(), res.Cycles, res.State.Bytes(), nil); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Cycles(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 passes, got %d", len(entries))
	}
	if entries[4].State[0].Theta != 4 {
		t.Errorf("expected theta 4 at pass 4, got %d", entries[4].State[0].Theta)
	}

	runs, _ := s.Runs(ctx)
	if runs[0].Cycles != 4 || runs[0].Reason != "max-cycles" {
		t.Errorf("unexpected summary %+v", runs[0])
	}
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	rec, err := s.StartRun(ctx, KindVM, "bad", micro.Mode8)
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Finish(ctx, "error", 0, nil, errors.New("boom")); err != nil {
		t.Fatal(err)
	}
	runs, _ := s.Runs(ctx)
	if runs[0].Error != "boom" || runs[0].Final != nil {
		t.Errorf("unexpected run %+v", runs[0])
	}
}

func TestReopenKeepsRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trace.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := s.StartRun(ctx, KindVM, "p", micro.Mode16)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != rec.ID || !runs[0].Finished.IsZero() {
		t.Errorf("unexpected runs %+v", runs)
	}
}
