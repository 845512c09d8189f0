// Package cycle drives a state through a transform in a closed loop:
// each pass feeds the collapse layer LF back into L0 until the state
// collapses, stops changing, or a cycle ceiling is reached.
package cycle

import (
	"context"
	"io"
	"log/slog"
	"math"

	"github.com/psilLang/sil/pkg/types"
)

// StopReason says why a run ended.
type StopReason int

const (
	Running StopReason = iota
	MaxCycles
	Collapse
	Stable
	Interrupted
)

func (r StopReason) String() string {
	switch r {
	case MaxCycles:
		return "max-cycles"
	case Collapse:
		return "collapse"
	case Stable:
		return "stable"
	case Interrupted:
		return "interrupted"
	}
	return "running"
}

// Config controls a run.
type Config struct {
	MaxCycles      int     // 0 runs until another stop condition
	DetectStable   bool    // stop when a pass leaves the state unchanged
	KeepHistory    bool    // record the state after every pass
	HistoryLimit   int     // keep only the newest N entries; 0 keeps all
	FeedbackFactor float64 // weight of LF when blended into L0, in [0,1]
}

// DefaultConfig is the everyday setting.
func DefaultConfig() Config {
	return Config{MaxCycles: 1000, DetectStable: true, FeedbackFactor: 0.5}
}

// DebugConfig keeps history and stops early.
func DebugConfig() Config {
	return Config{MaxCycles: 100, DetectStable: true, KeepHistory: true, FeedbackFactor: 0.5}
}

// ProductionConfig allows long runs without history.
func ProductionConfig() Config {
	return Config{MaxCycles: 10000, DetectStable: true, FeedbackFactor: 0.5}
}

// Result is the outcome of a run. History starts with the initial state
// when KeepHistory is set.
type Result struct {
	State   types.State
	Cycles  int
	Reason  StopReason
	History []types.State
}

// Run drives initial through t until a stop condition.
func Run(initial types.State, t Transform, cfg Config) Result {
	r := Runner{Transform: t, Config: cfg}
	return r.Run(initial)
}

// Runner is Run with observers.
type Runner struct {
	Transform Transform
	Config    Config

	// OnCycle sees the state at the top of every pass, before the ceiling check.
	OnCycle func(cycles int, s types.State)
	// OnStop sees the final state once.
	OnStop func(reason StopReason, s types.State)
	// Interrupt is polled between passes; true stops with Interrupted.
	Interrupt func() bool

	Logger *slog.Logger
}

// NewRunner returns a runner with DefaultConfig.
func NewRunner(t Transform) *Runner {
	return &Runner{Transform: t, Config: DefaultConfig()}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Logger
}

// Run executes the loop from initial.
func (r *Runner) Run(initial types.State) Result {
	cfg := r.Config
	res := Result{State: initial}
	if cfg.KeepHistory {
		res.History = append(res.History, initial)
	}

	state := initial
	for {
		if r.OnCycle != nil {
			r.OnCycle(res.Cycles, state)
		}
		if r.Interrupt != nil && r.Interrupt() {
			res.Reason = Interrupted
			break
		}
		if cfg.MaxCycles > 0 && res.Cycles >= cfg.MaxCycles {
			res.Reason = MaxCycles
			break
		}

		next := r.Transform.Transform(state)
		if next[types.LayerCollapse].IsNull() {
			state = next
			res.Reason = Collapse
			break
		}
		if cfg.DetectStable && next == state {
			res.Reason = Stable
			break
		}

		state = Feedback(next, cfg.FeedbackFactor)
		if cfg.KeepHistory {
			res.History = append(res.History, state)
			if cfg.HistoryLimit > 0 && len(res.History) > cfg.HistoryLimit {
				res.History = res.History[len(res.History)-cfg.HistoryLimit:]
			}
		}
		res.Cycles++
	}

	res.State = state
	r.logger().Debug("cycle stopped", "transform", r.Transform.Name(), "reason", res.Reason, "cycles", res.Cycles)
	if r.OnStop != nil {
		r.OnStop(res.Reason, state)
	}
	return res
}

// RunContext is Run with ctx cancellation as an extra interrupt.
func (r *Runner) RunContext(ctx context.Context, initial types.State) Result {
	rr := *r
	prev := r.Interrupt
	rr.Interrupt = func() bool {
		if ctx.Err() != nil {
			return true
		}
		return prev != nil && prev()
	}
	return rr.Run(initial)
}

// Feedback blends LF into L0: each field becomes the rounded weighted mean
// (1-factor)*L0 + factor*LF. A factor of zero leaves the state unchanged.
func Feedback(s types.State, factor float64) types.State {
	if factor <= 0 {
		return s
	}
	factor = min(factor, 1)
	l0, lf := s[types.LayerPhotonic], s[types.LayerCollapse]
	rho := math.Round(float64(l0.Rho)*(1-factor) + float64(lf.Rho)*factor)
	theta := math.Round(float64(l0.Theta)*(1-factor) + float64(lf.Theta)*factor)
	return s.WithLayer(types.LayerPhotonic, types.New(int8(rho), uint8(theta)))
}
