package cycle

import (
	"fmt"
	"strings"

	"github.com/psilLang/sil/pkg/types"
)

// Transform is a pure state function driven by the loop. Implementations
// must not keep references to the state they receive.
type Transform interface {
	Transform(types.State) types.State
	Name() string
}

// Identity returns the state unchanged.
type Identity struct{}

func (Identity) Transform(s types.State) types.State { return s }
func (Identity) Name() string                        { return "Identity" }

// PhaseShift rotates every layer by n sixteenths of a turn.
type PhaseShift uint8

func (p PhaseShift) Transform(s types.State) types.State {
	for i := range s {
		s[i] = s[i].Rotate(int(p))
	}
	return s
}

func (p PhaseShift) Name() string { return "PhaseShift" }

// MagnitudeScale adds n to every layer's rho, clamped.
type MagnitudeScale int8

func (m MagnitudeScale) Transform(s types.State) types.State {
	for i := range s {
		s[i] = s[i].Scale(int(m))
	}
	return s
}

func (m MagnitudeScale) Name() string { return "MagnitudeScale" }

// LayerSwap exchanges two layers. Out-of-range indices leave the state alone.
type LayerSwap struct {
	A, B int
}

func (l LayerSwap) Transform(s types.State) types.State {
	if !validLayer(l.A) || !validLayer(l.B) {
		return s
	}
	s[l.A], s[l.B] = s[l.B], s[l.A]
	return s
}

func (l LayerSwap) Name() string { return "LayerSwap" }

// LayerXor writes SrcA xor SrcB into Dest.
type LayerXor struct {
	SrcA, SrcB, Dest int
}

func (l LayerXor) Transform(s types.State) types.State {
	if !validLayer(l.SrcA) || !validLayer(l.SrcB) || !validLayer(l.Dest) {
		return s
	}
	return s.WithLayer(l.Dest, s[l.SrcA].Xor(s[l.SrcB]))
}

func (l LayerXor) Name() string { return "LayerXor" }

// Synergy folds the perception, processing and interaction bands
// (L0..LA) with xor into the synergy layer LB.
type Synergy struct{}

func (Synergy) Transform(s types.State) types.State {
	acc := types.Null
	for i := 0; i < types.LayerSynergic; i++ {
		acc = acc.Xor(s[i])
	}
	return s.WithLayer(types.LayerSynergic, acc)
}

func (Synergy) Name() string { return "Synergy" }

// Func adapts a plain function.
type Func struct {
	Label string
	F     func(types.State) types.State
}

func (f Func) Transform(s types.State) types.State { return f.F(s) }

func (f Func) Name() string {
	if f.Label == "" {
		return "Func"
	}
	return f.Label
}

// Pipeline applies its stages in order. An empty pipeline is the identity.
type Pipeline []Transform

func (p Pipeline) Transform(s types.State) types.State {
	for _, t := range p {
		s = t.Transform(s)
	}
	return s
}

func (p Pipeline) Name() string {
	names := make([]string, len(p))
	for i, t := range p {
		names[i] = t.Name()
	}
	return fmt.Sprintf("Pipeline(%s)", strings.Join(names, ", "))
}

func validLayer(i int) bool { return i >= 0 && i < types.NumLayers }
