package micro

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/alecthomas/participle/v2"

	"github.com/psilLang/sil/pkg/parser"
	"github.com/psilLang/sil/pkg/types"
)

// Severity of a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Diagnostic codes.
const (
	CodeUnknownOpcode    = "E001"
	CodeDuplicateLabel   = "E002"
	CodeUndefinedLabel   = "E003"
	CodeInvalidRegister  = "E004"
	CodeOperandCount     = "E005"
	CodeOutOfRange       = "E006"
	CodeUnknownDirective = "E007"
	CodeSyntax           = "E008"
	CodeBadOperand       = "E009"
	CodeUnknownMode      = "W001"
)

// Diagnostic is one assembler message tied to a source position.
type Diagnostic struct {
	File     string
	Line     int
	Column   int
	Severity Severity
	Code     string
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d:%d: %s[%s]: %s", d.File, d.Line, d.Column, d.Severity, d.Code, d.Message)
}

// Diagnostics is returned as an error when any entry is an error.
type Diagnostics []Diagnostic

func (ds Diagnostics) Error() string {
	var lines []string
	for _, d := range ds {
		if d.Severity == SeverityError {
			lines = append(lines, d.String())
		}
	}
	return strings.Join(lines, "\n")
}

// HasErrors reports whether any diagnostic is an error.
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

type section int

const (
	sectionCode section = iota
	sectionData
)

type label struct {
	addr uint32
	sec  section
	line int
}

type fixup struct {
	pos    int
	label  string
	addr16 bool // RegAddr form: two address bytes
	line   int
	col    int
}

// Assembler converts text assembly to a Program.
type Assembler struct {
	file    string
	code    []byte
	data    []byte
	sec     section
	mode    Mode
	labels  map[string]label
	order   []string
	globals map[string]bool
	externs []string
	fixups  []fixup
	lines   []LineEntry
	diags   Diagnostics
}

// NewAssembler creates a new assembler
func NewAssembler() *Assembler {
	return &Assembler{}
}

func (a *Assembler) reset(file string) {
	a.file = file
	a.code = make([]byte, 0, 256)
	a.data = nil
	a.sec = sectionCode
	a.mode = Mode128
	a.labels = make(map[string]label)
	a.order = nil
	a.globals = make(map[string]bool)
	a.externs = nil
	a.fixups = nil
	a.lines = nil
	a.diags = nil
}

// Diagnostics returns every message from the last Assemble, warnings included.
func (a *Assembler) Diagnostics() Diagnostics { return a.diags }

func (a *Assembler) report(sev Severity, code string, line, col int, format string, args ...any) {
	a.diags = append(a.diags, Diagnostic{
		File: a.file, Line: line, Column: col,
		Severity: sev, Code: code, Message: fmt.Sprintf(format, args...),
	})
}

func (a *Assembler) errorf(code string, line, col int, format string, args ...any) {
	a.report(SeverityError, code, line, col, format, args...)
}

// Assemble converts assembly text to a program.
func (a *Assembler) Assemble(source string) (*Program, error) {
	return a.AssembleFile("<input>", source)
}

// AssembleFile is Assemble with a file name for diagnostics.
func (a *Assembler) AssembleFile(file, source string) (*Program, error) {
	a.reset(file)

	for i, text := range strings.Split(source, "\n") {
		lineNum := i + 1
		line, err := parser.ParseLine(file, text)
		if err != nil {
			col := 1
			var perr participle.Error
			if errors.As(err, &perr) {
				col = perr.Position().Column
				err = errors.New(perr.Message())
			}
			a.errorf(CodeSyntax, lineNum, col, "%v", err)
			continue
		}
		if line.Empty() {
			continue
		}
		if line.Label != nil {
			a.defineLabel(*line.Label, lineNum, line.Pos.Column)
		}
		switch {
		case line.Directive != nil:
			a.directive(line.Directive, lineNum)
		case line.Instruction != nil:
			a.instruction(line.Instruction, lineNum)
		}
	}

	a.applyFixups()

	if a.diags.HasErrors() {
		return nil, a.diags
	}
	return a.program(), nil
}

func (a *Assembler) defineLabel(name string, line, col int) {
	if prev, ok := a.labels[name]; ok {
		a.errorf(CodeDuplicateLabel, line, col, "duplicate label %q (first defined on line %d)", name, prev.line)
		return
	}
	l := label{sec: a.sec, line: line}
	if a.sec == sectionData {
		l.addr = uint32(len(a.data))
	} else {
		l.addr = uint32(len(a.code))
	}
	a.labels[name] = l
	a.order = append(a.order, name)
}

// === Directives ===

func (a *Assembler) directive(d *parser.Directive, line int) {
	col := d.Pos.Column
	switch strings.ToLower(d.Name) {
	case ".mode":
		a.mode = Mode128
		if len(d.Args) != 1 {
			a.report(SeverityWarning, CodeUnknownMode, line, col, ".mode expects one of M8, M16, M32, M64, M128; using M128")
			return
		}
		m, err := ParseMode(d.Args[0].Text())
		if err != nil {
			a.report(SeverityWarning, CodeUnknownMode, line, d.Args[0].Pos.Column, "unknown mode %q; using M128", d.Args[0].Text())
			return
		}
		a.mode = m
	case ".code", ".text":
		a.sec = sectionCode
	case ".data":
		a.sec = sectionData
	case ".global", ".globl":
		for _, arg := range d.Args {
			if arg.Ident == nil {
				a.errorf(CodeBadOperand, line, arg.Pos.Column, ".global expects a name")
				continue
			}
			a.globals[*arg.Ident] = true
		}
	case ".extern":
		for _, arg := range d.Args {
			if arg.Ident == nil {
				a.errorf(CodeBadOperand, line, arg.Pos.Column, ".extern expects a name")
				continue
			}
			a.externs = append(a.externs, *arg.Ident)
		}
	case ".align":
		n := int64(4)
		if len(d.Args) > 0 {
			v, ok := d.Args[0].Int()
			if !ok || v <= 0 || v > 4096 {
				a.errorf(CodeBadOperand, line, d.Args[0].Pos.Column, ".align expects a positive number")
				return
			}
			n = v
		}
		for a.offset()%int(n) != 0 {
			a.emitRaw(0)
		}
	case ".byte":
		for _, arg := range d.Args {
			v, ok := arg.Int()
			if !ok || v < -128 || v > 255 {
				a.errorf(CodeOutOfRange, line, arg.Pos.Column, ".byte value %s does not fit in 8 bits", arg.Text())
				continue
			}
			a.emitRaw(byte(v))
		}
	case ".state":
		a.stateDirective(d, line)
	case ".string":
		if len(d.Args) != 1 {
			a.errorf(CodeOperandCount, line, col, ".string expects one string")
			return
		}
		s, ok := d.Args[0].Unquote()
		if !ok {
			a.errorf(CodeBadOperand, line, d.Args[0].Pos.Column, ".string expects a quoted string")
			return
		}
		a.emitRaw([]byte(s)...)
		a.emitRaw(0)
	default:
		a.errorf(CodeUnknownDirective, line, col, "unknown directive %s", d.Name)
	}
}

// .state              16 NULL layers
// .state neutral      a preset (vacuum, neutral, maximum)
// .state b0, ..., b15 sixteen packed layers
func (a *Assembler) stateDirective(d *parser.Directive, line int) {
	switch {
	case len(d.Args) == 0:
		a.emitRaw(types.Vacuum().Bytes()...)
	case len(d.Args) == 1 && d.Args[0].Ident != nil:
		switch strings.ToLower(*d.Args[0].Ident) {
		case "vacuum":
			a.emitRaw(types.Vacuum().Bytes()...)
		case "neutral":
			a.emitRaw(types.Neutral().Bytes()...)
		case "maximum", "max":
			a.emitRaw(types.Maximum().Bytes()...)
		default:
			a.errorf(CodeBadOperand, line, d.Args[0].Pos.Column, "unknown state preset %q", *d.Args[0].Ident)
		}
	case len(d.Args) == types.NumLayers:
		for _, arg := range d.Args {
			v, ok := arg.Int()
			if !ok || v < 0 || v > 255 {
				a.errorf(CodeOutOfRange, line, arg.Pos.Column, "state byte %s does not fit in 8 bits", arg.Text())
				v = 0
			}
			a.emitRaw(byte(v))
		}
	default:
		a.errorf(CodeOperandCount, line, d.Pos.Column, ".state expects a preset or 16 bytes, got %d values", len(d.Args))
	}
}

func (a *Assembler) offset() int {
	if a.sec == sectionData {
		return len(a.data)
	}
	return len(a.code)
}

func (a *Assembler) emitRaw(b ...byte) {
	if a.sec == sectionData {
		a.data = append(a.data, b...)
	} else {
		a.code = append(a.code, b...)
	}
}

// === Instructions ===

func (a *Assembler) instruction(ins *parser.Instruction, line int) {
	op, ok := LookupMnemonic(ins.Mnemonic)
	if !ok {
		a.errorf(CodeUnknownOpcode, line, ins.Pos.Column, "unknown opcode %s", ins.Mnemonic)
		return
	}
	info := opTable[op]
	if len(ins.Operands) != info.Operands.Count() {
		a.errorf(CodeOperandCount, line, ins.Pos.Column, "%s expects %d operands, got %d",
			info.Mnemonic, info.Operands.Count(), len(ins.Operands))
		return
	}
	if a.sec == sectionData {
		a.errorf(CodeBadOperand, line, ins.Pos.Column, "instruction %s in .data section", info.Mnemonic)
		return
	}

	in := Instruction{Op: op}
	ops := ins.Operands
	good := true
	reg := func(o *parser.Operand) uint8 {
		r, isReg, valid := o.Register()
		if !isReg || !valid {
			a.errorf(CodeInvalidRegister, line, o.Pos.Column, "invalid register %s", o.Text())
			good = false
		}
		return r
	}
	imm := func(o *parser.Operand) uint8 {
		v, err := a.immediate(info, o)
		if err != nil {
			a.errorf(CodeOutOfRange, line, o.Pos.Column, "%v", err)
			good = false
		}
		return v
	}

	var addrOp *parser.Operand
	switch info.Operands {
	case OperandsReg:
		in.Ra = reg(ops[0])
	case OperandsImm:
		in.Imm = imm(ops[0])
	case OperandsRegReg:
		in.Ra, in.Rb = reg(ops[0]), reg(ops[1])
	case OperandsRegImm:
		in.Ra, in.Imm = reg(ops[0]), imm(ops[1])
	case OperandsRegRegImm:
		in.Ra, in.Rb, in.Imm = reg(ops[0]), reg(ops[1]), imm(ops[2])
	case OperandsAddr:
		addrOp = ops[0]
	case OperandsRegAddr:
		in.Ra = reg(ops[0])
		addrOp = ops[1]
	}

	pending := false
	if addrOp != nil {
		in.Addr, pending = a.address(info, addrOp, line)
	}
	if !good {
		return
	}
	pos := len(a.code)
	if pending {
		a.fixups = append(a.fixups, fixup{
			pos: pos, label: *addrOp.Ident, addr16: info.Operands == OperandsRegAddr,
			line: line, col: addrOp.Pos.Column,
		})
	}
	a.lines = append(a.lines, LineEntry{Offset: uint32(pos), Line: line})
	a.code = append(a.code, in.Encode()...)
}

// immediate reads an 8-bit value. Signed values are stored two's complement.
// Mode opcodes also accept M8..M128.
func (a *Assembler) immediate(info OpInfo, o *parser.Operand) (uint8, error) {
	if o.Ident != nil && Category(info.Op) == 0xA0 {
		m, err := ParseMode(*o.Ident)
		if err != nil {
			return 0, err
		}
		return uint8(m), nil
	}
	v, ok := o.Int()
	if !ok {
		return 0, fmt.Errorf("%s expects an 8-bit immediate, got %s", info.Mnemonic, o.Text())
	}
	if v < -128 || v > 255 {
		return 0, fmt.Errorf("immediate %d does not fit in 8 bits", v)
	}
	return uint8(v), nil
}

// address resolves a numeric address now; labels are resolved at the end.
func (a *Assembler) address(info OpInfo, o *parser.Operand, line int) (uint32, bool) {
	limit := int64(0xFFFFFF)
	if info.Operands == OperandsRegAddr {
		limit = 0xFFFF
	}
	if v, ok := o.Int(); ok {
		if v < 0 || v > limit {
			a.errorf(CodeOutOfRange, line, o.Pos.Column, "address %d out of range", v)
			return 0, false
		}
		return uint32(v), false
	}
	if o.Ident == nil {
		a.errorf(CodeBadOperand, line, o.Pos.Column, "%s expects an address or label", info.Mnemonic)
		return 0, false
	}
	if info.Op == OpSyscall {
		if id, ok := intrinsics[strings.ToLower(*o.Ident)]; ok {
			return uint32(id), false
		}
	}
	return 0, true
}

var intrinsics = map[string]byte{
	"println":       SysPrintln,
	"print_int":     SysPrintInt,
	"print_float":   SysPrintFloat,
	"print_bool":    SysPrintBool,
	"print_bytesil": SysPrintByteSil,
	"print_state":   SysPrintState,
}

func (a *Assembler) applyFixups() {
	for _, f := range a.fixups {
		l, ok := a.labels[f.label]
		if !ok {
			if a.isExtern(f.label) {
				continue
			}
			a.errorf(CodeUndefinedLabel, f.line, f.col, "undefined label %q", f.label)
			continue
		}
		if f.addr16 {
			if l.addr > 0xFFFF {
				a.errorf(CodeOutOfRange, f.line, f.col, "label %q at %06X does not fit in 16 bits", f.label, l.addr)
				continue
			}
			a.code[f.pos+2] = byte(l.addr)
			a.code[f.pos+3] = byte(l.addr >> 8)
			continue
		}
		a.code[f.pos+1] = byte(l.addr)
		a.code[f.pos+2] = byte(l.addr >> 8)
		a.code[f.pos+3] = byte(l.addr >> 16)
	}
}

func (a *Assembler) isExtern(name string) bool {
	for _, e := range a.externs {
		if e == name {
			return true
		}
	}
	return false
}

func (a *Assembler) program() *Program {
	p := &Program{
		Mode:    a.mode,
		Code:    a.code,
		Data:    a.data,
		Externs: a.externs,
		Lines:   a.lines,
		Source:  a.file,
	}
	for _, name := range a.order {
		l := a.labels[name]
		kind := SymLabel
		if l.sec == sectionData {
			kind = SymData
		}
		p.Symbols = append(p.Symbols, Symbol{Name: name, Address: l.addr, Kind: kind, Global: a.globals[name]})
	}
	sort.SliceStable(p.Symbols, func(i, j int) bool {
		return p.Symbols[i].Kind < p.Symbols[j].Kind
	})
	for _, entry := range []string{"_start", "main"} {
		if l, ok := a.labels[entry]; ok && l.sec == sectionCode {
			p.Entry = l.addr
			break
		}
	}
	return p
}
