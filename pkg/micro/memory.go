package micro

import (
	"fmt"

	"github.com/psilLang/sil/pkg/types"
)

// Memory sizes.
const (
	HeapSize  = 64 * 1024
	StackSize = 256
	MaxFrames = 64
	NumPorts  = 256
)

// Frame is one CALL record.
type Frame struct {
	ReturnAddr uint32
	PrevFP     uint32
}

// Memory holds everything a program can address besides its registers:
// the state heap (data section at offset 0), the value stack, call frames,
// I/O ports and the sense/act queues.
type Memory struct {
	Heap   []byte
	Ports  [NumPorts]types.ByteSil
	Input  []types.ByteSil // consumed by SENSE
	Output []types.ByteSil // appended by ACT

	stack   []types.ByteSil
	frames  []Frame
	mailbox map[uint32]types.State
	pairs   map[uint8]uint8
}

// NewMemory returns an empty memory with a zeroed heap.
func NewMemory() *Memory {
	return &Memory{
		Heap:    make([]byte, HeapSize),
		stack:   make([]types.ByteSil, 0, StackSize),
		frames:  make([]Frame, 0, MaxFrames),
		mailbox: make(map[uint32]types.State),
		pairs:   make(map[uint8]uint8),
	}
}

// Reset clears the heap, stack, frames, ports and queues.
func (mem *Memory) Reset() {
	clear(mem.Heap)
	mem.stack = mem.stack[:0]
	mem.frames = mem.frames[:0]
	mem.Ports = [NumPorts]types.ByteSil{}
	mem.Input = nil
	mem.Output = nil
	clear(mem.mailbox)
	clear(mem.pairs)
}

// LoadData copies data into the heap at offset 0.
func (mem *Memory) LoadData(data []byte) error {
	if len(data) > len(mem.Heap) {
		return fmt.Errorf("data section of %d bytes: %w", len(data), ErrBadAddress)
	}
	copy(mem.Heap, data)
	return nil
}

// === Heap ===

func (mem *Memory) check(addr uint32, n int) error {
	if int(addr)+n > len(mem.Heap) {
		return fmt.Errorf("%06X+%d: %w", addr, n, ErrBadAddress)
	}
	return nil
}

// Read reads one ByteSil from the heap.
func (mem *Memory) Read(addr uint32) (types.ByteSil, error) {
	if err := mem.check(addr, 1); err != nil {
		return types.Null, err
	}
	return types.FromByte(mem.Heap[addr]), nil
}

// Write stores one ByteSil in the heap.
func (mem *Memory) Write(addr uint32, v types.ByteSil) error {
	if err := mem.check(addr, 1); err != nil {
		return err
	}
	mem.Heap[addr] = v.Byte()
	return nil
}

// ReadState reads 16 consecutive heap bytes.
func (mem *Memory) ReadState(addr uint32) (types.State, error) {
	if err := mem.check(addr, types.NumLayers); err != nil {
		return types.State{}, err
	}
	return types.StateFromBytes(mem.Heap[addr : addr+types.NumLayers])
}

// WriteState stores a state as 16 heap bytes.
func (mem *Memory) WriteState(addr uint32, s types.State) error {
	if err := mem.check(addr, types.NumLayers); err != nil {
		return err
	}
	copy(mem.Heap[addr:], s.Bytes())
	return nil
}

// ReadPipeline reads a count byte followed by that many transform ids.
func (mem *Memory) ReadPipeline(addr uint32) ([]byte, error) {
	if err := mem.check(addr, 1); err != nil {
		return nil, err
	}
	n := int(mem.Heap[addr])
	if err := mem.check(addr+1, n); err != nil {
		return nil, err
	}
	return mem.Heap[addr+1 : int(addr)+1+n], nil
}

// === Stack ===

func (mem *Memory) Push(v types.ByteSil) error {
	if len(mem.stack) >= StackSize {
		return ErrStackOverflow
	}
	mem.stack = append(mem.stack, v)
	return nil
}

func (mem *Memory) Pop() (types.ByteSil, error) {
	if len(mem.stack) == 0 {
		return types.Null, ErrStackUnderflow
	}
	v := mem.stack[len(mem.stack)-1]
	mem.stack = mem.stack[:len(mem.stack)-1]
	return v, nil
}

// Depth returns the number of stacked values.
func (mem *Memory) Depth() int { return len(mem.stack) }

// Frames returns a copy of the call frames, outermost first.
func (mem *Memory) Frames() []Frame { return append([]Frame(nil), mem.frames...) }

// FrameDepth returns the number of active calls.
func (mem *Memory) FrameDepth() int { return len(mem.frames) }

func (mem *Memory) PushFrame(f Frame) error {
	if len(mem.frames) >= MaxFrames {
		return ErrStackOverflow
	}
	mem.frames = append(mem.frames, f)
	return nil
}

func (mem *Memory) PopFrame() (Frame, error) {
	if len(mem.frames) == 0 {
		return Frame{}, ErrStackUnderflow
	}
	f := mem.frames[len(mem.frames)-1]
	mem.frames = mem.frames[:len(mem.frames)-1]
	return f, nil
}

// === I/O ===

// Sense pops the next input value. ok is false at end of input.
func (mem *Memory) Sense() (types.ByteSil, bool) {
	if len(mem.Input) == 0 {
		return types.Null, false
	}
	v := mem.Input[0]
	mem.Input = mem.Input[1:]
	return v, true
}

// Broadcast publishes a state under addr. Receive on the same memory reads it back.
func (mem *Memory) Broadcast(addr uint32, s types.State) { mem.mailbox[addr] = s }

// Receive returns the state last broadcast under addr.
func (mem *Memory) Receive(addr uint32) (types.State, bool) {
	s, ok := mem.mailbox[addr]
	return s, ok
}

// Entangle records a register pairing.
func (mem *Memory) Entangle(ra, rb uint8) { mem.pairs[ra] = rb }

// Partner returns the register paired with r by ENTANGLE.
func (mem *Memory) Partner(r uint8) (uint8, bool) {
	p, ok := mem.pairs[r]
	return p, ok
}
