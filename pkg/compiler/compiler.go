// Package compiler runs the whole pipeline over one source file.
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cyclang/cyc/pkg/ast"
	"github.com/cyclang/cyc/pkg/codegen"
	"github.com/cyclang/cyc/pkg/config"
	"github.com/cyclang/cyc/pkg/ir"
	"github.com/cyclang/cyc/pkg/lexer"
	"github.com/cyclang/cyc/pkg/parser"
	"github.com/cyclang/cyc/pkg/token"
	"github.com/cyclang/cyc/pkg/typeChecker"
	"github.com/cyclang/cyc/pkg/util"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type Stage string

const (
	StageDecode Stage = "decode"
	StageLex    Stage = "lex"
	StageParse  Stage = "parse"
	StageCheck  Stage = "check"
	StageIR     Stage = "codegen"
	StageEmit   Stage = "emit"
)

type StageTiming struct {
	Stage    Stage
	Duration time.Duration
}

type Result struct {
	Name     string
	Source   []rune
	IR       []byte
	Warnings []util.Diagnostic
	Timings  []StageTiming
}

// Decode strips a leading UTF-8 byte order mark. Input that is not valid
// UTF-8 is a LexError at the first invalid byte.
func Decode(src []byte) ([]rune, error) {
	if !utf8.Valid(src) {
		line, col := 1, 1
		for len(src) > 0 {
			r, size := utf8.DecodeRune(src)
			if r == utf8.RuneError && size <= 1 {
				break
			}
			if r == '\n' {
				line, col = line+1, 1
			} else {
				col++
			}
			src = src[size:]
		}
		return nil, &util.LexError{Pos: util.Pos{Line: line, Column: col, Len: 1}, Msg: "source is not valid UTF-8"}
	}
	out, _, err := transform.Bytes(unicode.BOMOverride(encoding.Nop.NewDecoder()), src)
	if err != nil {
		return nil, &util.LexError{Pos: util.Pos{Line: 1, Column: 1, Len: 1}, Msg: err.Error()}
	}
	return bytes.Runes(out), nil
}

// Compile turns src into textual LLVM IR. The context is consulted between
// stages only. Errors carry name as their file.
func Compile(ctx context.Context, name string, src []byte, cfg *config.Config) (*Result, error) {
	res := &Result{Name: name}
	err := res.run(ctx, src, cfg)
	if err != nil {
		return res, util.AttachFile(err, name)
	}
	for i := range res.Warnings {
		res.Warnings[i].Pos.SetFile(name)
	}
	return res, nil
}

func (res *Result) run(ctx context.Context, src []byte, cfg *config.Config) error {
	stage := func(s Stage, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
		start := time.Now()
		err := fn()
		res.Timings = append(res.Timings, StageTiming{Stage: s, Duration: time.Since(start)})
		return err
	}

	if err := stage(StageDecode, func() (err error) {
		res.Source, err = Decode(src)
		return err
	}); err != nil {
		return err
	}

	var tokens []token.Token
	if err := stage(StageLex, func() (err error) {
		tokens, err = lexer.Tokenize(res.Source)
		return err
	}); err != nil {
		return err
	}

	var root *ast.Node
	if err := stage(StageParse, func() (err error) {
		root, err = parser.NewParser(tokens).Parse()
		return err
	}); err != nil {
		return err
	}

	tc := typeChecker.NewTypeChecker(cfg)
	if err := stage(StageCheck, func() error { return tc.Check(root) }); err != nil {
		return err
	}
	res.Warnings = tc.Warnings

	var prog *ir.Program
	if err := stage(StageIR, func() (err error) {
		prog, err = codegen.NewContext(cfg, tc.Bindings).GenerateIR(root)
		return err
	}); err != nil {
		return err
	}

	var buf *bytes.Buffer
	if err := stage(StageEmit, func() (err error) {
		buf, err = codegen.NewLLVMBackend().Generate(prog, cfg)
		return err
	}); err != nil {
		return err
	}
	res.IR = buf.Bytes()
	return nil
}
