package micro

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// .silc layout (little-endian):
//
//	0  u32 magic "SILC"
//	4  u16 version
//	6  u16 mode
//	8  u32 code size
//	12 u32 data size
//	16 u32 symbol section size
//	20 u32 entry point
//	24 u64 checksum (FNV-1a over code then data)
//	32 code, data, symbol section (CBOR)
const (
	Magic      = 0x434C4953
	Version    = 0x0100
	HeaderSize = 32
)

// SymbolKind classifies a symbol.
type SymbolKind uint8

const (
	SymLabel SymbolKind = iota
	SymData
	SymTransform
	SymFunction
)

func (k SymbolKind) String() string {
	switch k {
	case SymData:
		return "data"
	case SymTransform:
		return "transform"
	case SymFunction:
		return "function"
	}
	return "label"
}

// Symbol is a named address in the code or data section.
type Symbol struct {
	Name    string     `cbor:"1,keyasint"`
	Address uint32     `cbor:"2,keyasint"`
	Kind    SymbolKind `cbor:"3,keyasint"`
	Global  bool       `cbor:"4,keyasint,omitempty"`
}

// LineEntry maps a code offset to its source line.
type LineEntry struct {
	Offset uint32 `cbor:"1,keyasint"`
	Line   int    `cbor:"2,keyasint"`
}

// symbolSection is the CBOR payload after code and data.
type symbolSection struct {
	Symbols []Symbol    `cbor:"1,keyasint,omitempty"`
	Externs []string    `cbor:"2,keyasint,omitempty"`
	Lines   []LineEntry `cbor:"3,keyasint,omitempty"`
	Source  string      `cbor:"4,keyasint,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("micro: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Program is an assembled, loadable unit.
type Program struct {
	Mode    Mode
	Entry   uint32
	Code    []byte
	Data    []byte
	Symbols []Symbol
	Externs []string
	Lines   []LineEntry
	Source  string // file name, for diagnostics
}

// Checksum is FNV-1a 64 over code then data.
func (p *Program) Checksum() uint64 {
	h := fnv.New64a()
	h.Write(p.Code)
	h.Write(p.Data)
	return h.Sum64()
}

// Verify recomputes the checksum of a .silc image without decoding its
// symbol section.
func Verify(image []byte) error {
	if len(image) < HeaderSize || binary.LittleEndian.Uint32(image) != Magic {
		return ErrBadMagic
	}
	le := binary.LittleEndian
	codeLen, dataLen := int(le.Uint32(image[8:])), int(le.Uint32(image[12:]))
	if HeaderSize+codeLen+dataLen > len(image) {
		return &TruncatedError{Expected: HeaderSize + codeLen + dataLen, Found: len(image)}
	}
	h := fnv.New64a()
	h.Write(image[HeaderSize : HeaderSize+codeLen+dataLen])
	if h.Sum64() != le.Uint64(image[24:]) {
		return ErrChecksum
	}
	return nil
}

// Lookup finds a symbol by name.
func (p *Program) Lookup(name string) (Symbol, bool) {
	for _, s := range p.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// LineOf returns the source line of the instruction at offset, or 0.
func (p *Program) LineOf(offset uint32) int {
	for _, l := range p.Lines {
		if l.Offset == offset {
			return l.Line
		}
	}
	return 0
}

// MarshalBinary encodes the program as a .silc image.
func (p *Program) MarshalBinary() ([]byte, error) {
	syms, err := cborEncMode.Marshal(symbolSection{
		Symbols: p.Symbols,
		Externs: p.Externs,
		Lines:   p.Lines,
		Source:  p.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("micro: marshal symbols: %w", err)
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(p.Code)+len(p.Data)+len(syms))
	le := binary.LittleEndian
	le.PutUint32(buf[0:], Magic)
	le.PutUint16(buf[4:], Version)
	le.PutUint16(buf[6:], uint16(p.Mode))
	le.PutUint32(buf[8:], uint32(len(p.Code)))
	le.PutUint32(buf[12:], uint32(len(p.Data)))
	le.PutUint32(buf[16:], uint32(len(syms)))
	le.PutUint32(buf[20:], p.Entry)
	le.PutUint64(buf[24:], p.Checksum())
	buf = append(buf, p.Code...)
	buf = append(buf, p.Data...)
	buf = append(buf, syms...)
	return buf, nil
}

// UnmarshalBinary decodes a .silc image and verifies its checksum.
func (p *Program) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrBadMagic, len(data))
	}
	le := binary.LittleEndian
	if le.Uint32(data[0:]) != Magic {
		return ErrBadMagic
	}
	if v := le.Uint16(data[4:]); v>>8 != Version>>8 {
		return fmt.Errorf("unsupported .silc version %d.%d", v>>8, v&0xFF)
	}
	mode, err := ModeFromByte(byte(le.Uint16(data[6:])))
	if err != nil {
		return err
	}
	codeLen := int(le.Uint32(data[8:]))
	dataLen := int(le.Uint32(data[12:]))
	symLen := int(le.Uint32(data[16:]))
	if HeaderSize+codeLen+dataLen+symLen > len(data) {
		return &TruncatedError{Expected: HeaderSize + codeLen + dataLen + symLen, Found: len(data)}
	}

	off := HeaderSize
	p.Mode = mode
	p.Entry = le.Uint32(data[20:])
	p.Code = append([]byte(nil), data[off:off+codeLen]...)
	off += codeLen
	p.Data = append([]byte(nil), data[off:off+dataLen]...)
	off += dataLen

	if sum := p.Checksum(); sum != le.Uint64(data[24:]) {
		return fmt.Errorf("%w: stored %016X, computed %016X", ErrChecksum, le.Uint64(data[24:]), sum)
	}

	p.Symbols, p.Externs, p.Lines, p.Source = nil, nil, nil, ""
	if symLen > 0 {
		var sec symbolSection
		if err := cbor.Unmarshal(data[off:off+symLen], &sec); err != nil {
			return fmt.Errorf("micro: unmarshal symbols: %w", err)
		}
		p.Symbols, p.Externs, p.Lines, p.Source = sec.Symbols, sec.Externs, sec.Lines, sec.Source
	}
	return nil
}

// WriteProgram writes p to w as a .silc image.
func WriteProgram(w io.Writer, p *Program) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadProgram reads a .silc image from r.
func ReadProgram(r io.Reader) (*Program, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	p := &Program{}
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return p, nil
}

// IsImage reports whether b starts with the .silc magic.
func IsImage(b []byte) bool {
	return len(b) >= 4 && binary.LittleEndian.Uint32(b) == Magic
}

// LoadFile reads a .silc image, or assembles the file when it is text.
func LoadFile(path string) (*Program, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if IsImage(b) {
		p := &Program{}
		if err := p.UnmarshalBinary(b); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return p, nil
	}
	p, err := NewAssembler().AssembleFile(path, string(b))
	if err != nil {
		return nil, err
	}
	return p, nil
}
