// Package trace records VM and cycle runs in a SQLite database so they can
// be inspected after the fact.
package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/psilLang/sil/pkg/micro"
	"github.com/psilLang/sil/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id       TEXT PRIMARY KEY,
	kind     TEXT NOT NULL,
	program  TEXT NOT NULL,
	mode     TEXT NOT NULL,
	started  INTEGER NOT NULL,
	finished INTEGER,
	steps    INTEGER NOT NULL DEFAULT 0,
	cycles   INTEGER NOT NULL DEFAULT 0,
	reason   TEXT NOT NULL DEFAULT '',
	error    TEXT NOT NULL DEFAULT '',
	final    BLOB
);
CREATE TABLE IF NOT EXISTS steps(
	run    TEXT NOT NULL REFERENCES runs(id),
	seq    INTEGER NOT NULL,
	pc     INTEGER NOT NULL,
	insn   TEXT NOT NULL,
	status INTEGER NOT NULL,
	regs   BLOB NOT NULL,
	PRIMARY KEY(run, seq)
);
CREATE TABLE IF NOT EXISTS cycles(
	run   TEXT NOT NULL REFERENCES runs(id),
	n     INTEGER NOT NULL,
	state BLOB NOT NULL,
	PRIMARY KEY(run, n)
);
`

// Run kinds.
const (
	KindVM    = "vm"
	KindCycle = "cycle"
)

// Store is a trace database.
type Store struct {
	db     *sql.DB
	Logger *slog.Logger
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trace %s: %w", path, err)
	}
	// one writer; sqlite serialises anyway
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("open trace %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create trace schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s.Logger
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// Run is one row of the runs table.
type Run struct {
	ID       string
	Kind     string
	Program  string
	Mode     string
	Started  time.Time
	Finished time.Time // zero while running
	Steps    int
	Cycles   int
	Reason   string
	Error    string
	Final    []byte // 30-byte machine record (vm) or 16-byte state (cycle)
}

// Step is one executed instruction.
type Step struct {
	Seq    int
	PC     uint32
	Insn   string
	Status micro.Status
	Regs   types.State
}

// CycleEntry is the state at the top of one cycle pass.
type CycleEntry struct {
	N     int
	State types.State
}

// StartRun inserts a new run and returns a recorder for it.
func (s *Store) StartRun(ctx context.Context, kind, program string, mode micro.Mode) (*Recorder, error) {
	id := NewRunID()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs(id, kind, program, mode, started) VALUES(?,?,?,?,?)",
		id, kind, program, mode.String(), time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	s.logger().Debug("trace run started", "run", id, "kind", kind, "program", program)
	return &Recorder{store: s, ID: id}, nil
}

// Runs lists runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, kind, program, mode, started, finished, steps, cycles, reason, error, final FROM runs ORDER BY started DESC, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Kind, &r.Program, &r.Mode, &started, &finished,
			&r.Steps, &r.Cycles, &r.Reason, &r.Error, &r.Final); err != nil {
			return nil, err
		}
		r.Started = time.UnixMilli(started)
		if finished.Valid {
			r.Finished = time.UnixMilli(finished.Int64)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Steps returns the recorded instructions of a run in order.
func (s *Store) Steps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, pc, insn, status, regs FROM steps WHERE run = ? ORDER BY seq", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var st Step
		var status int
		var regs []byte
		if err := rows.Scan(&st.Seq, &st.PC, &st.Insn, &status, &regs); err != nil {
			return nil, err
		}
		st.Status = micro.Status(status)
		if st.Regs, err = types.StateFromBytes(regs); err != nil {
			return nil, fmt.Errorf("step %d: %w", st.Seq, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Cycles returns the recorded passes of a run in order.
func (s *Store) Cycles(ctx context.Context, runID string) ([]CycleEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT n, state FROM cycles WHERE run = ? ORDER BY n", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CycleEntry
	for rows.Next() {
		var c CycleEntry
		var state []byte
		if err := rows.Scan(&c.N, &state); err != nil {
			return nil, err
		}
		if c.State, err = types.StateFromBytes(state); err != nil {
			return nil, fmt.Errorf("cycle %d: %w", c.N, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Recorder buffers the events of one run and writes them on Finish.
// Its hooks match micro.VM.OnStep and cycle.Runner.OnCycle.
type Recorder struct {
	ID string

	store  *Store
	steps  []Step
	cycles []CycleEntry
}

// OnStep records one executed instruction.
func (r *Recorder) OnStep(pc uint32, in micro.Instruction, m *micro.Machine) {
	r.steps = append(r.steps, Step{
		Seq: len(r.steps), PC: pc, Insn: in.String(), Status: m.Status, Regs: m.State(),
	})
}

// OnCycle records the state at the top of a pass.
func (r *Recorder) OnCycle(n int, s types.State) {
	r.cycles = append(r.cycles, CycleEntry{N: n, State: s})
}

// Finish writes buffered events and closes the run. runErr is stored as
// text; final is the machine record or state bytes.
func (r *Recorder) Finish(ctx context.Context, reason string, cycles int, final []byte, runErr error) (err error) {
	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", r.ID, err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if len(r.steps) > 0 {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO steps(run, seq, pc, insn, status, regs) VALUES(?,?,?,?,?,?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, st := range r.steps {
			if _, err := stmt.ExecContext(ctx, r.ID, st.Seq, st.PC, st.Insn, int(st.Status), st.Regs.Bytes()); err != nil {
				return fmt.Errorf("step %d: %w", st.Seq, err)
			}
		}
	}
	if len(r.cycles) > 0 {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO cycles(run, n, state) VALUES(?,?,?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range r.cycles {
			if _, err := stmt.ExecContext(ctx, r.ID, c.N, c.State.Bytes()); err != nil {
				return fmt.Errorf("cycle %d: %w", c.N, err)
			}
		}
	}

	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	var fin any
	if len(final) > 0 {
		fin = final
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE runs SET finished = ?, steps = ?, cycles = ?, reason = ?, error = ?, final = ? WHERE id = ?",
		time.Now().UnixMilli(), len(r.steps), cycles, reason, msg, fin, r.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", r.ID, err)
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	r.store.logger().Debug("trace run finished", "run", r.ID, "steps", len(r.steps), "cycles", cycles, "reason", reason)
	r.steps, r.cycles = nil, nil
	return nil
}
