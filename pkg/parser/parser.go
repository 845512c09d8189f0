// Package parser provides VSP assembly parsing using Participle v2.
// Grammar is defined as Go structs with tags; one source line is one Line.
package parser

import (
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Line is one line of assembly: an optional label followed by an
// optional directive or instruction.
type Line struct {
	Pos         lexer.Position
	Label       *string      `parser:"( @Ident \":\" )?"`
	Directive   *Directive   `parser:"( @@"`
	Instruction *Instruction `parser:"| @@ )?"`
}

// Directive: .name [arg, ...]
type Directive struct {
	Pos  lexer.Position
	Name string     `parser:"@Directive"`
	Args []*Operand `parser:"( @@ ( \",\" @@ )* )?"`
}

// Instruction: MNEMONIC [operand, ...]
type Instruction struct {
	Pos      lexer.Position
	Mnemonic string     `parser:"@Ident"`
	Operands []*Operand `parser:"( @@ ( \",\" @@ )* )?"`
}

// Operand: number | string | identifier (register, label or mode)
type Operand struct {
	Pos    lexer.Position
	Number *string `parser:"  @Number"`
	String *string `parser:"| @String"`
	Ident  *string `parser:"| @Ident"`
}

// Assembly lexer definition
var asmLexer = lexer.MustSimple([]lexer.SimpleRule{
	// Skip whitespace and comments
	{Name: "Whitespace", Pattern: `[ \t\r]+`},
	{Name: "Comment", Pattern: `[;#][^\n]*`},

	// Literals
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Number", Pattern: `[-+]?(0[xX][0-9A-Fa-f]+|0[bB][01]+|[0-9]+)`},

	// .mode, .byte, ...
	{Name: "Directive", Pattern: `\.[A-Za-z_][A-Za-z0-9_]*`},

	// Mnemonics (HINT.CPU), registers, labels, modes
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_.]*`},

	{Name: "Punct", Pattern: `[,:]`},
})

// Parser is the line parser
var Parser = participle.MustBuild[Line](
	participle.Lexer(asmLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(2),
)

// ParseLine parses a single line of assembly. An empty or comment-only
// line yields an empty Line.
func ParseLine(filename, line string) (*Line, error) {
	return Parser.ParseString(filename, line)
}

// Empty reports whether the line carries nothing to assemble.
func (l *Line) Empty() bool {
	return l.Label == nil && l.Directive == nil && l.Instruction == nil
}

// Text returns the operand as written.
func (o *Operand) Text() string {
	switch {
	case o.Number != nil:
		return *o.Number
	case o.String != nil:
		return *o.String
	case o.Ident != nil:
		return *o.Ident
	}
	return ""
}

// Int parses a numeric operand (decimal, 0x hex or 0b binary).
func (o *Operand) Int() (int64, bool) {
	if o.Number == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(*o.Number, 0, 64)
	return n, err == nil
}

// Unquote returns the contents of a string operand.
func (o *Operand) Unquote() (string, bool) {
	if o.String == nil {
		return "", false
	}
	s, err := strconv.Unquote(*o.String)
	if err != nil {
		return strings.Trim(*o.String, `"`), true
	}
	return s, true
}

// Register parses R0..RF (case-insensitive). ok is false when the operand
// is not register-shaped; valid is false when it is but the index is bad.
func (o *Operand) Register() (reg uint8, ok, valid bool) {
	if o.Ident == nil {
		return 0, false, false
	}
	s := *o.Ident
	if len(s) < 2 || (s[0] != 'R' && s[0] != 'r') {
		return 0, false, false
	}
	if len(s) > 2 {
		// R16 is a bad register, "reset" is a label
		return 0, isDigits(s[1:]), false
	}
	n, err := strconv.ParseUint(s[1:], 16, 8)
	if err != nil {
		return 0, true, false
	}
	return uint8(n), true, true
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
