package token

import "fmt"

type Type int

const (
	EOF Type = iota
	Ident
	Number
	String
	True
	False
	Fn
	Let
	If
	Else
	While
	For
	Return
	Print
	Int
	I32
	I64
	Bool
	StringKeyword
	Void
	LParen
	RParen
	LBrace
	RBrace
	Semi
	Comma
	Colon
	Arrow
	Eq
	Plus
	Minus
	PlusPlus
	MinusMinus
	Star
	Slash
	Rem
	EqEq
	Neq
	Lt
	Gt
	Gte
	Lte
	AndAnd
	OrOr
	Not
)

var KeywordMap = map[string]Type{
	"fn":     Fn,
	"let":    Let,
	"if":     If,
	"else":   Else,
	"while":  While,
	"for":    For,
	"return": Return,
	"print":  Print,
	"true":   True,
	"false":  False,
	"int":    Int,
	"i32":    I32,
	"i64":    I64,
	"bool":   Bool,
	"string": StringKeyword,
	"void":   Void,
}

var punctStrings = map[Type]string{
	EOF: "end of input", Ident: "identifier", Number: "integer literal", String: "string literal",
	LParen: "(", RParen: ")", LBrace: "{", RBrace: "}", Semi: ";", Comma: ",", Colon: ":",
	Arrow: "->", Eq: "=", Plus: "+", Minus: "-", PlusPlus: "++", MinusMinus: "--", Star: "*", Slash: "/", Rem: "%",
	EqEq: "==", Neq: "!=", Lt: "<", Gt: ">", Gte: ">=", Lte: "<=",
	AndAnd: "&&", OrOr: "||", Not: "!",
}

// Reverse mapping from Type to the keyword string
var TypeStrings = make(map[Type]string)

func init() {
	for str, typ := range KeywordMap {
		TypeStrings[typ] = str
	}
	for typ, str := range punctStrings {
		TypeStrings[typ] = str
	}
}

func (t Type) String() string {
	if s, ok := TypeStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// IsTypeKeyword reports whether t names a builtin type.
func (t Type) IsTypeKeyword() bool { return t >= Int && t <= Void }

type Token struct {
	Type   Type
	Value  string
	Line   int
	Column int
	Len    int
}

// Describe renders the token the way diagnostics quote it.
func (t Token) Describe() string {
	switch t.Type {
	case Ident:
		return fmt.Sprintf("identifier '%s'", t.Value)
	case Number:
		return fmt.Sprintf("integer literal %s", t.Value)
	case String:
		return fmt.Sprintf("string literal %q", t.Value)
	case EOF:
		return "end of input"
	}
	return fmt.Sprintf("'%s'", t.Type)
}
