package micro

import (
	"errors"
	"testing"

	"github.com/psilLang/sil/pkg/types"
)

var allModes = []Mode{Mode8, Mode16, Mode32, Mode64, Mode128}
var allStrategies = []FoldStrategy{FoldTruncate, FoldXor, FoldAverage, FoldMax}

func TestModeBasics(t *testing.T) {
	counts := []int{1, 2, 4, 8, 16}
	for i, m := range allModes {
		if m.LayerCount() != counts[i] {
			t.Errorf("%s: expected %d layers, got %d", m, counts[i], m.LayerCount())
		}
		if m.Bits() != counts[i]*8 {
			t.Errorf("%s: expected %d bits, got %d", m, counts[i]*8, m.Bits())
		}
	}
	if Mode64.String() != "SIL-64" {
		t.Errorf("expected SIL-64, got %s", Mode64)
	}
	if got := Mode128.Negotiate(Mode16); got != Mode16 {
		t.Errorf("expected SIL-16, got %s", got)
	}
}

func TestModeParsing(t *testing.T) {
	for _, b := range []byte{0, 4, 8, 32, 128} {
		if _, err := ModeFromBits(b); err != nil {
			t.Errorf("%d: %v", b, err)
		}
	}
	for _, b := range []byte{5, 7, 255} {
		var me *InvalidModeError
		if _, err := ModeFromBits(b); !errors.As(err, &me) {
			t.Errorf("%d: expected InvalidModeError, got %v", b, err)
		}
	}
	for _, s := range []string{"M64", "m64", "SIL-64", "64"} {
		if m, err := ParseMode(s); err != nil || m != Mode64 {
			t.Errorf("%q: got %s, %v", s, m, err)
		}
	}
	if _, err := ParseMode("M12"); err == nil {
		t.Error("expected error for M12")
	}
}

func TestStatusFlags(t *testing.T) {
	var s Status
	s.Set(FlagHalt, true)
	s.Set(FlagZero, true)
	if byte(s) != 0x11 {
		t.Errorf("expected 0x11, got %02X", byte(s))
	}
	s.Set(FlagZero, false)
	if s.Has(FlagZero) || !s.Has(FlagHalt) {
		t.Errorf("unexpected flags %s", s)
	}
	if got := Status(0xFF).String(); got != "ZNOCHIEM" {
		t.Errorf("expected ZNOCHIEM, got %s", got)
	}
}

func TestUpdateFlags(t *testing.T) {
	m := NewMachine(Mode128)
	m.Regs[1] = types.New(-2, 0)
	m.UpdateFlags(1)
	if !m.Status.Has(FlagNegative) || m.Status.Has(FlagZero) {
		t.Errorf("unexpected flags %s", m.Status)
	}
	m.Regs[0xF] = types.Null
	m.UpdateFlags(0xF)
	if !m.Status.Has(FlagZero) || !m.Status.Has(FlagCollapse) || !m.Status.Has(FlagOverflow) {
		t.Errorf("unexpected flags %s", m.Status)
	}
	if !m.Halted() {
		t.Error("collapse should halt")
	}
}

func TestMachineSerialization(t *testing.T) {
	m := NewMachine(Mode32)
	m.Regs[0] = types.New(2, 3)
	m.Regs[15] = types.Max
	m.PC, m.SP, m.FP = 0x010203, 7, 0xDEADBEEF
	m.Status = FlagZero | FlagModeChange

	b, err := m.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != StateSize || StateSize != 30 {
		t.Fatalf("expected 30 bytes, got %d", len(b))
	}
	if b[16] != 0x03 || b[17] != 0x02 || b[18] != 0x01 {
		t.Errorf("PC not little-endian: % X", b[16:20])
	}
	if b[29] != byte(Mode32) {
		t.Errorf("expected mode byte 2, got %d", b[29])
	}

	var got Machine
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	if got != *m {
		t.Errorf("expected %+v, got %+v", *m, got)
	}
}

func TestMachineDeserializationErrors(t *testing.T) {
	var m Machine
	if err := m.UnmarshalBinary(make([]byte, 29)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	b := make([]byte, StateSize)
	b[29] = 5
	var me *InvalidModeError
	if err := m.UnmarshalBinary(b); !errors.As(err, &me) || me.Mode != 5 {
		t.Errorf("expected InvalidModeError(5), got %v", err)
	}
}

func TestPromote(t *testing.T) {
	for _, from := range allModes {
		for _, to := range allModes {
			m := NewMachine(from)
			m.Promote(to)
			if m.Mode.LayerCount() < from.LayerCount() {
				t.Errorf("%s -> %s decreased layers", from, to)
			}
			if to > from && !m.Status.Has(FlagModeChange) {
				t.Errorf("%s -> %s did not set mode change", from, to)
			}
			before := *m
			m.Promote(to)
			if *m != before {
				t.Errorf("%s -> %s not idempotent", from, to)
			}
		}
	}
}

func TestDemoteMonotonicAndIdempotent(t *testing.T) {
	for _, from := range allModes {
		for _, to := range allModes {
			for _, st := range allStrategies {
				m := NewMachine(from)
				for i := range m.Regs {
					m.Regs[i] = types.New(int8(i%8), uint8(i))
				}
				m.Demote(to, st)
				if m.Mode.LayerCount() > from.LayerCount() {
					t.Errorf("%s -> %s (%s) increased layers", from, to, st)
				}
				before := *m
				m.Demote(to, st)
				if *m != before {
					t.Errorf("%s -> %s (%s) not idempotent", from, to, st)
				}
			}
		}
	}
}

func TestDemoteTruncateClears(t *testing.T) {
	m := NewMachine(Mode128)
	for i := range m.Regs {
		m.Regs[i] = types.One
	}
	m.Demote(Mode16, FoldTruncate)
	for i := 0; i < NumRegisters; i++ {
		if i < 2 && m.Regs[i] != types.One {
			t.Errorf("R%X should be kept", i)
		}
		if i >= 2 && !m.Regs[i].IsNull() {
			t.Errorf("R%X should be NULL, got %v", i, m.Regs[i])
		}
	}
	if m.Mode != Mode16 || !m.Status.Has(FlagModeChange) {
		t.Errorf("expected SIL-16 with mode change, got %s %s", m.Mode, m.Status)
	}
}

func TestDemoteXorScenario(t *testing.T) {
	m := NewMachine(Mode64)
	m.Regs[0] = types.New(2, 3)
	m.Regs[4] = types.New(1, 5)
	m.Demote(Mode32, FoldXor)

	want := types.New(2, 3).Xor(types.New(1, 5))
	if m.Regs[0] != want {
		t.Errorf("expected R0 %v, got %v", want, m.Regs[0])
	}
	for i := 4; i < NumRegisters; i++ {
		if !m.Regs[i].IsNull() {
			t.Errorf("R%X should be NULL", i)
		}
	}
	if m.Mode != Mode32 {
		t.Errorf("expected SIL-32, got %s", m.Mode)
	}
}

func TestDemoteAverageAndMax(t *testing.T) {
	m := NewMachine(Mode16)
	m.Regs[0] = types.New(1, 1)
	m.Regs[1] = types.New(2, 2)
	avg := *m
	avg.Demote(Mode8, FoldAverage)
	if avg.Regs[0] != types.New(2, 2) {
		t.Errorf("average: expected (2,2), got %v", avg.Regs[0])
	}

	mx := *m
	mx.Demote(Mode8, FoldMax)
	if mx.Regs[0] != types.New(2, 2) {
		t.Errorf("max: expected (2,2), got %v", mx.Regs[0])
	}

	tie := NewMachine(Mode16)
	tie.Regs[0] = types.New(3, 1)
	tie.Regs[1] = types.New(3, 9)
	tie.Demote(Mode8, FoldMax)
	if tie.Regs[0] != types.New(3, 1) {
		t.Errorf("max tie should keep the first register, got %v", tie.Regs[0])
	}
}
