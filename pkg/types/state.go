package types

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// NumLayers is the fixed width of a State.
const NumLayers = 16

// Layer indices.
const (
	LayerPhotonic = iota
	LayerAcoustic
	LayerOlfactory
	LayerGustatory
	LayerDermic
	LayerElectronic
	LayerPsychomotor
	LayerEnvironmental
	LayerCybernetic
	LayerGeopolitical
	LayerCosmopolitical
	LayerSynergic
	LayerQuantum
	LayerSuperposition
	LayerEntanglement
	LayerCollapse
)

// ErrStateLength is returned when a serialized state is not 16 bytes.
var ErrStateLength = errors.New("state must be 16 bytes")

// State is an ordered vector of 16 layers. It is a value: assignment copies.
type State [NumLayers]ByteSil

// Vacuum has every layer Null.
func Vacuum() State {
	var s State
	for i := range s {
		s[i] = Null
	}
	return s
}

// Neutral has every layer One.
func Neutral() State {
	return State{} // One is the zero ByteSil
}

// Maximum has every layer Max.
func Maximum() State {
	var s State
	for i := range s {
		s[i] = Max
	}
	return s
}

// StateFromBytes unpacks 16 bytes, one per layer.
func StateFromBytes(b []byte) (State, error) {
	var s State
	if len(b) != NumLayers {
		return s, fmt.Errorf("%w: got %d", ErrStateLength, len(b))
	}
	for i, v := range b {
		s[i] = FromByte(v)
	}
	return s, nil
}

// Bytes packs the state, layer 0 first.
func (s State) Bytes() []byte {
	out := make([]byte, NumLayers)
	for i, l := range s {
		out[i] = l.Byte()
	}
	return out
}

// Get returns layer i. i is taken modulo 16.
func (s State) Get(i int) ByteSil { return s[i&0x0F] }

// WithLayer returns a copy with layer i replaced.
func (s State) WithLayer(i int, v ByteSil) State {
	s[i&0x0F] = v
	return s
}

// Tensor multiplies layer by layer.
func (s State) Tensor(o State) State {
	for i := range s {
		s[i] = s[i].Mul(o[i])
	}
	return s
}

// Xor xors layer by layer.
func (s State) Xor(o State) State {
	for i := range s {
		s[i] = s[i].Xor(o[i])
	}
	return s
}

// Project keeps the layers whose bit is set in mask; the others become Null.
func (s State) Project(mask uint16) State {
	for i := range s {
		if mask&(1<<i) == 0 {
			s[i] = Null
		}
	}
	return s
}

// CollapseStrategy selects how Collapse reduces a state to one value.
type CollapseStrategy int

const (
	CollapseXor CollapseStrategy = iota
	CollapseSum
	CollapseFirst
	CollapseLast
)

// Collapse folds all 16 layers into one value.
func (s State) Collapse(strategy CollapseStrategy) ByteSil {
	switch strategy {
	case CollapseSum:
		var z complex128
		for _, l := range s {
			z += l.ToComplex()
		}
		return FromComplex(z)
	case CollapseFirst:
		return s[0]
	case CollapseLast:
		return s[NumLayers-1]
	default:
		acc := Null
		for _, l := range s {
			acc = acc.Xor(l)
		}
		return acc
	}
}

// Hash is the 128-bit fingerprint of the state: the packed bytes read as
// a little-endian integer, split into its high and low halves.
func (s State) Hash() (hi, lo uint64) {
	b := s.Bytes()
	return binary.LittleEndian.Uint64(b[8:]), binary.LittleEndian.Uint64(b[:8])
}

// GroupOf returns the band layer i belongs to.
func (s State) GroupOf(i int) Band { return BandOf(i) }

// Layers returns the layers of band b.
func (s State) Layers(b Band) []ByteSil {
	lo, hi := b.Span()
	out := make([]ByteSil, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, s[i])
	}
	return out
}

func (s State) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, l := range s {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "L%X:%02X", i, l.Byte())
	}
	sb.WriteString("]")
	return sb.String()
}

// Dump renders the state one band per line.
func (s State) Dump() string {
	var sb strings.Builder
	for _, b := range Bands() {
		fmt.Fprintf(&sb, "%-12s", b)
		lo, hi := b.Span()
		for i := lo; i <= hi; i++ {
			fmt.Fprintf(&sb, " L%X:%s", i, s[i])
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
