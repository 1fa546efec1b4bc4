package util

import (
	"errors"
	"fmt"

	"github.com/cyclang/cyc/pkg/token"
)

// Pos locates a diagnostic in a source file. Len is the width of the
// offending lexeme in runes and drives the caret underline.
type Pos struct {
	File   string
	Line   int
	Column int
	Len    int
}

func PosOf(tok token.Token) Pos {
	return Pos{Line: tok.Line, Column: tok.Column, Len: tok.Len}
}

func (p Pos) String() string {
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

func (p Pos) Position() Pos { return p }

func (p *Pos) SetFile(name string) { p.File = name }

// Positioned is implemented by every compiler error kind.
type Positioned interface {
	error
	Position() Pos
	SetFile(name string)
	Kind() string
}

type LexError struct {
	Pos
	Msg string
}

func (e *LexError) Kind() string  { return "lex error" }
func (e *LexError) Error() string { return fmt.Sprintf("%s: %s: %s", e.Pos, e.Kind(), e.Msg) }

type ParseError struct {
	Pos
	Expected string
	Found    string
}

func (e *ParseError) Kind() string { return "parse error" }
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s: expected %s, found %s", e.Pos, e.Kind(), e.Expected, e.Found)
}

// UndefinedSymbolError covers both unbound identifiers and duplicate
// declarations within one scope.
type UndefinedSymbolError struct {
	Pos
	Name      string
	Duplicate bool
	Msg       string
}

func (e *UndefinedSymbolError) Kind() string { return "undefined symbol" }
func (e *UndefinedSymbolError) Error() string {
	switch {
	case e.Msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Pos, e.Kind(), e.Msg)
	case e.Duplicate:
		return fmt.Sprintf("%s: %s: duplicate declaration of '%s'", e.Pos, e.Kind(), e.Name)
	}
	return fmt.Sprintf("%s: %s: '%s' is not declared", e.Pos, e.Kind(), e.Name)
}

type TypeError struct {
	Pos
	Expected string
	Found    string
	Msg      string
}

func (e *TypeError) Kind() string { return "type error" }
func (e *TypeError) Error() string {
	switch {
	case e.Expected != "" && e.Msg != "":
		return fmt.Sprintf("%s: %s: %s: expected %s, found %s", e.Pos, e.Kind(), e.Msg, e.Expected, e.Found)
	case e.Expected != "":
		return fmt.Sprintf("%s: %s: expected %s, found %s", e.Pos, e.Kind(), e.Expected, e.Found)
	}
	return fmt.Sprintf("%s: %s: %s", e.Pos, e.Kind(), e.Msg)
}

// CodegenError signals a defect in the compiler itself: resolution
// accepted a program that generation could not lower.
type CodegenError struct {
	Pos
	Msg string
}

func (e *CodegenError) Kind() string  { return "internal compiler error" }
func (e *CodegenError) Error() string { return fmt.Sprintf("%s: %s: %s", e.Pos, e.Kind(), e.Msg) }

func Codegenf(pos Pos, format string, args ...interface{}) *CodegenError {
	return &CodegenError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// IsInternal reports whether err is a compiler defect rather than a
// problem with the user's program.
func IsInternal(err error) bool {
	var ce *CodegenError
	return errors.As(err, &ce)
}

// AttachFile stamps the source name onto a positioned error. Errors of
// other shapes pass through untouched.
func AttachFile(err error, name string) error {
	var p Positioned
	if errors.As(err, &p) && p.Position().File == "" {
		p.SetFile(name)
	}
	return err
}
