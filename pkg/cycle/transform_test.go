package cycle

import (
	"testing"

	"github.com/psilLang/sil/pkg/types"
)

func TestTransforms(t *testing.T) {
	base := types.Vacuum().
		WithLayer(0, types.New(5, 10)).
		WithLayer(1, types.New(1, 1)).
		WithLayer(15, types.New(-3, 2))

	tests := []struct {
		name string
		tr   Transform
		in   types.State
		want types.State
	}{
		{"identity", Identity{}, base, base},
		{"phase shift wraps", PhaseShift(8), types.Neutral().WithLayer(3, types.New(0, 12)),
			func() types.State {
				s := types.Neutral()
				for i := range s {
					s[i] = types.New(0, 8)
				}
				return s.WithLayer(3, types.New(0, 4))
			}()},
		{"magnitude clamps", MagnitudeScale(5), types.Maximum(), types.Maximum()},
		{"swap", LayerSwap{0, 15}, base,
			base.WithLayer(0, types.New(-3, 2)).WithLayer(15, types.New(5, 10))},
		{"swap out of range", LayerSwap{0, 16}, base, base},
		{"xor", LayerXor{0, 1, 2}, base, base.WithLayer(2, types.New(5, 10).Xor(types.New(1, 1)))},
		{"xor out of range", LayerXor{0, 1, -1}, base, base},
		{"empty pipeline", Pipeline{}, base, base},
		{"pipeline", Pipeline{PhaseShift(2), MagnitudeScale(1)}, types.Neutral(),
			func() types.State {
				var s types.State
				for i := range s {
					s[i] = types.New(1, 2)
				}
				return s
			}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tr.Transform(tt.in); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTransformDoesNotMutateInput(t *testing.T) {
	s := types.Neutral()
	_ = PhaseShift(3).Transform(s)
	_ = LayerSwap{0, 1}.Transform(s)
	if s != types.Neutral() {
		t.Error("transform mutated its input")
	}
}

func TestSynergy(t *testing.T) {
	s := types.Vacuum().WithLayer(2, types.New(3, 3)).WithLayer(9, types.New(1, 7))
	want := types.Null
	for i := 0; i < types.LayerSynergic; i++ {
		want = want.Xor(s[i])
	}
	if got := (Synergy{}).Transform(s)[types.LayerSynergic]; got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestPipelineName(t *testing.T) {
	p := Pipeline{Identity{}, Func{F: func(s types.State) types.State { return s }}, Pipeline{PhaseShift(1)}}
	want := "Pipeline(Identity, Func, Pipeline(PhaseShift))"
	if p.Name() != want {
		t.Errorf("expected %q, got %q", want, p.Name())
	}
}
