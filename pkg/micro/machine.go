package micro

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/psilLang/sil/pkg/types"
)

// Mode is the number of active layers the machine runs with.
type Mode uint8

const (
	Mode8   Mode = iota // 1 layer
	Mode16              // 2 layers
	Mode32              // 4 layers
	Mode64              // 8 layers
	Mode128             // 16 layers
)

// LayerCount returns 1, 2, 4, 8 or 16.
func (m Mode) LayerCount() int { return 1 << m }

// Bits returns the width of the active register window.
func (m Mode) Bits() int { return m.LayerCount() * 8 }

func (m Mode) String() string { return fmt.Sprintf("SIL-%d", m.Bits()) }

// Valid reports whether m is one of the five modes.
func (m Mode) Valid() bool { return m <= Mode128 }

// ModeFromByte decodes the serialized mode index 0-4.
func ModeFromByte(b byte) (Mode, error) {
	if b > byte(Mode128) {
		return 0, &InvalidModeError{Mode: b}
	}
	return Mode(b), nil
}

// ModeFromBits accepts either a mode index (0-4) or a bit width (8-128).
func ModeFromBits(b byte) (Mode, error) {
	switch b {
	case 0, 1, 2, 3, 4:
		return Mode(b), nil
	case 8:
		return Mode8, nil
	case 16:
		return Mode16, nil
	case 32:
		return Mode32, nil
	case 64:
		return Mode64, nil
	case 128:
		return Mode128, nil
	}
	return 0, &InvalidModeError{Mode: b}
}

// ParseMode reads "M64", "SIL-64" or "64".
func ParseMode(s string) (Mode, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	t = strings.TrimPrefix(t, "SIL-")
	t = strings.TrimPrefix(t, "M")
	for m := Mode8; m <= Mode128; m++ {
		if t == fmt.Sprint(m.Bits()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Negotiate returns the smaller of the two modes.
func (m Mode) Negotiate(other Mode) Mode {
	return min(m, other)
}

// Status flag bits.
const (
	FlagZero       = 0x01
	FlagNegative   = 0x02
	FlagOverflow   = 0x04
	FlagCollapse   = 0x08
	FlagHalt       = 0x10
	FlagInterrupt  = 0x20
	FlagError      = 0x40
	FlagModeChange = 0x80
)

// Status is the 8-flag status register.
type Status uint8

func (s Status) Has(flag Status) bool { return s&flag != 0 }

// Set turns flag on or off.
func (s *Status) Set(flag Status, on bool) {
	if on {
		*s |= flag
	} else {
		*s &^= flag
	}
}

func (s Status) String() string {
	const names = "ZNOCHIEM"
	b := []byte("--------")
	for i := 0; i < 8; i++ {
		if s&(1<<i) != 0 {
			b[i] = names[i]
		}
	}
	return string(b)
}

// FoldStrategy selects how Demote compresses the dropped registers.
type FoldStrategy int

const (
	FoldTruncate FoldStrategy = iota
	FoldXor
	FoldAverage
	FoldMax
)

func (f FoldStrategy) String() string {
	switch f {
	case FoldXor:
		return "xor"
	case FoldAverage:
		return "average"
	case FoldMax:
		return "max"
	}
	return "truncate"
}

// NumRegisters is the size of the register file.
const NumRegisters = 16

// StateSize is the length of a serialized Machine.
const StateSize = NumRegisters + 4 + 4 + 4 + 1 + 1

// Machine is the register/status/mode record of one running program.
type Machine struct {
	Regs   [NumRegisters]types.ByteSil
	PC     uint32
	SP     uint32
	FP     uint32
	Status Status
	Mode   Mode
}

// NewMachine returns a machine in the given mode with every register NULL.
func NewMachine(mode Mode) *Machine {
	m := &Machine{Mode: mode}
	m.Reset()
	return m
}

// Reset clears registers, pointers and flags. The mode is kept.
func (m *Machine) Reset() {
	for i := range m.Regs {
		m.Regs[i] = types.Null
	}
	m.PC, m.SP, m.FP = 0, 0, 0
	m.Status = 0
}

// State returns the register file as a state vector.
func (m *Machine) State() types.State { return types.State(m.Regs) }

// SetState loads all sixteen registers.
func (m *Machine) SetState(s types.State) { m.Regs = [NumRegisters]types.ByteSil(s) }

// Halted reports whether execution must stop.
func (m *Machine) Halted() bool {
	return m.Status.Has(FlagHalt) || m.Status.Has(FlagCollapse)
}

// UpdateFlags sets zero, negative and overflow from register r.
// The collapse flag follows RF becoming NULL.
func (m *Machine) UpdateFlags(r int) {
	v := m.Regs[r&0x0F]
	m.Status.Set(FlagZero, v.IsNull())
	m.Status.Set(FlagNegative, v.Rho < 0)
	m.Status.Set(FlagOverflow, v.Rho == types.RhoMax || v.Rho == types.RhoMin)
	if r&0x0F == types.LayerCollapse && v.IsNull() {
		m.Status.Set(FlagCollapse, true)
	}
}

// Promote widens the mode. Newly active registers keep their value.
func (m *Machine) Promote(target Mode) {
	if target <= m.Mode {
		return
	}
	m.Mode = target
	m.Status.Set(FlagModeChange, true)
}

// Demote narrows the mode, folding registers at or above
// target.LayerCount() into the kept ones, then clearing them.
func (m *Machine) Demote(target Mode, strategy FoldStrategy) {
	if target >= m.Mode {
		return
	}
	keep := target.LayerCount()
	fold := m.Mode.LayerCount() / keep

	for i := 0; i < keep; i++ {
		switch strategy {
		case FoldXor:
			for f := 1; f < fold; f++ {
				m.Regs[i] = m.Regs[i].Xor(m.Regs[i+f*keep])
			}
		case FoldAverage:
			rho, theta := 0, 0
			for f := 0; f < fold; f++ {
				rho += int(m.Regs[i+f*keep].Rho)
				theta += int(m.Regs[i+f*keep].Theta)
			}
			m.Regs[i] = types.New(int8(roundDiv(rho, fold)), uint8(roundDiv(theta, fold)))
		case FoldMax:
			best := m.Regs[i]
			for f := 1; f < fold; f++ {
				if r := m.Regs[i+f*keep]; r.Rho > best.Rho {
					best = r
				}
			}
			m.Regs[i] = best
		}
	}
	for i := keep; i < NumRegisters; i++ {
		m.Regs[i] = types.Null
	}
	m.Mode = target
	m.Status.Set(FlagModeChange, true)
}

func roundDiv(sum, n int) int {
	return int(math.Round(float64(sum) / float64(n)))
}

// MarshalBinary writes the 30-byte record: registers, PC, SP, FP
// (little-endian), status, mode.
func (m *Machine) MarshalBinary() ([]byte, error) {
	buf := make([]byte, StateSize)
	for i, r := range m.Regs {
		buf[i] = r.Byte()
	}
	binary.LittleEndian.PutUint32(buf[16:], m.PC)
	binary.LittleEndian.PutUint32(buf[20:], m.SP)
	binary.LittleEndian.PutUint32(buf[24:], m.FP)
	buf[28] = byte(m.Status)
	buf[29] = byte(m.Mode)
	return buf, nil
}

// UnmarshalBinary reads a record written by MarshalBinary.
func (m *Machine) UnmarshalBinary(data []byte) error {
	if len(data) < StateSize {
		return fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidState, StateSize, len(data))
	}
	mode, err := ModeFromByte(data[29])
	if err != nil {
		return err
	}
	for i := range m.Regs {
		m.Regs[i] = types.FromByte(data[i])
	}
	m.PC = binary.LittleEndian.Uint32(data[16:])
	m.SP = binary.LittleEndian.Uint32(data[20:])
	m.FP = binary.LittleEndian.Uint32(data[24:])
	m.Status = Status(data[28])
	m.Mode = mode
	return nil
}

// Dump returns the active registers and status, one register per line.
func (m *Machine) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mode=%s pc=%06X sp=%d fp=%d sr=%s\n", m.Mode, m.PC, m.SP, m.FP, m.Status)
	for i := 0; i < NumRegisters; i++ {
		mark := " "
		if i < m.Mode.LayerCount() {
			mark = "*"
		}
		fmt.Fprintf(&sb, "%sR%X %-16s %s\n", mark, i, m.Regs[i], types.Interpret(i, m.Regs[i]))
	}
	return sb.String()
}
