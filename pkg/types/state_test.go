package types

import (
	"errors"
	"strings"
	"testing"
)

func TestPresets(t *testing.T) {
	for i := 0; i < NumLayers; i++ {
		if !Vacuum().Get(i).IsNull() {
			t.Errorf("vacuum L%X not null", i)
		}
		if Neutral().Get(i) != One {
			t.Errorf("neutral L%X not one", i)
		}
		if Maximum().Get(i) != Max {
			t.Errorf("maximum L%X not max", i)
		}
	}
}

func TestWithLayerCopies(t *testing.T) {
	s := Neutral()
	s2 := s.WithLayer(3, I)
	if s.Get(3) != One {
		t.Error("original state was mutated")
	}
	if s2.Get(3) != I {
		t.Errorf("expected I at L3, got %v", s2.Get(3))
	}
}

func TestBandOf(t *testing.T) {
	tests := []struct {
		layer int
		want  Band
	}{
		{0, BandPerception}, {4, BandPerception},
		{5, BandProcessing}, {7, BandProcessing},
		{8, BandInteraction}, {0xA, BandInteraction},
		{0xB, BandEmergence}, {0xC, BandEmergence},
		{0xD, BandMeta}, {0xF, BandMeta},
	}
	for _, tt := range tests {
		if got := BandOf(tt.layer); got != tt.want {
			t.Errorf("L%X: expected %s, got %s", tt.layer, tt.want, got)
		}
		if got := Neutral().GroupOf(tt.layer); got != tt.want {
			t.Errorf("GroupOf(%X): expected %s, got %s", tt.layer, tt.want, got)
		}
	}
	total := 0
	for _, b := range Bands() {
		total += len(Neutral().Layers(b))
	}
	if total != NumLayers {
		t.Errorf("bands cover %d layers, want 16", total)
	}
}

func TestCollapse(t *testing.T) {
	s := Vacuum().WithLayer(0, New(1, 2)).WithLayer(15, New(3, 4))
	if got := s.Collapse(CollapseFirst); got != New(1, 2) {
		t.Errorf("first: got %v", got)
	}
	if got := s.Collapse(CollapseLast); got != New(3, 4) {
		t.Errorf("last: got %v", got)
	}
	if got := Vacuum().Collapse(CollapseXor); got != Null {
		t.Errorf("xor of vacuum: got %v", got)
	}
	if got := Vacuum().Collapse(CollapseSum); got != Null {
		t.Errorf("sum of vacuum: got %v", got)
	}
	want := Null.Xor(New(1, 2)).Xor(New(3, 4))
	for i := 1; i < 15; i++ {
		want = want.Xor(Null)
	}
	if got := s.Collapse(CollapseXor); got != want {
		t.Errorf("xor: expected %v, got %v", want, got)
	}
}

func TestTensorXorProject(t *testing.T) {
	s := Neutral().WithLayer(2, I)
	if got := s.Tensor(s).Get(2); got != NegOne {
		t.Errorf("tensor: expected -1 at L2, got %v", got)
	}
	if got := s.Xor(s); got != Neutral().Xor(Neutral()) {
		t.Errorf("xor with self: got %v", got)
	}
	p := Maximum().Project(0x0003)
	if p.Get(0) != Max || p.Get(1) != Max || !p.Get(2).IsNull() {
		t.Errorf("project: got %v", p)
	}
}

func TestStateBytes(t *testing.T) {
	s := Neutral().WithLayer(15, Max)
	got, err := StateFromBytes(s.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Errorf("expected %v, got %v", s, got)
	}
	if _, err := StateFromBytes([]byte{1, 2}); !errors.Is(err, ErrStateLength) {
		t.Errorf("expected ErrStateLength, got %v", err)
	}
}

func TestHash(t *testing.T) {
	hi, lo := Neutral().Hash()
	if hi != 0x8080808080808080 || lo != 0x8080808080808080 {
		t.Errorf("unexpected hash %016X%016X", hi, lo)
	}
	_, lo2 := Neutral().WithLayer(0, Null).Hash()
	if lo2 != 0x8080808080808000 {
		t.Errorf("expected layer 0 in the low byte, got %016X", lo2)
	}
}

func TestInterpret(t *testing.T) {
	in := Interpret(LayerCollapse, New(0, 6))
	if in.Label != "Measurement" {
		t.Errorf("expected Measurement, got %s", in.Label)
	}
	if got := Interpret(LayerAcoustic, New(-2, 0)).Value; got != -12 {
		t.Errorf("expected -12 dB, got %v", got)
	}
	if got := Interpret(LayerSuperposition, New(3, 2)); got.Value != 8 || got.Label != "Binary" {
		t.Errorf("expected 8 branches Binary, got %v", got)
	}
	if got := Interpret(LayerEnvironmental, Max).Value; got != 1 {
		t.Errorf("expected confidence 1, got %v", got)
	}
	if !strings.Contains(Interpret(0, One).String(), "Red") {
		t.Error("photonic theta 0 should read Red")
	}
}

func TestMetaSignal(t *testing.T) {
	tests := []struct {
		name string
		s    State
		want Signal
	}{
		{"neutral", Neutral(), SignalContinue},
		{"null collapse layer", Neutral().WithLayer(LayerCollapse, Null), SignalCollapse},
		{"entangled", Neutral().WithLayer(LayerEntanglement, New(6, 0)), SignalSync},
		{"superposed", Neutral().WithLayer(LayerSuperposition, New(6, 0)), SignalFork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.MetaSignal(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
	branches := Neutral().Fork()
	if branches[1].Get(LayerSuperposition).Theta != 4 {
		t.Errorf("expected branch 1 phase 4, got %d", branches[1].Get(LayerSuperposition).Theta)
	}
}
