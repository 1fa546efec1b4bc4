package util

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/cyclang/cyc/pkg/config"
	"github.com/google/go-cmp/cmp"
)

func render(f func(r *Renderer)) string {
	var buf bytes.Buffer
	r := NewRenderer(&buf, config.NewConfig(), SourceFileRecord{
		Name:    "main.cy",
		Content: []rune("fn main() -> void {\n\tlet x: int = \"hi\";\n}\n"),
	})
	r.SetColor(false)
	f(r)
	return buf.String()
}

func TestRenderError(t *testing.T) {
	err := &TypeError{
		Pos:      Pos{File: "main.cy", Line: 2, Column: 15, Len: 4},
		Expected: "int",
		Found:    "string",
	}
	got := render(func(r *Renderer) { r.Error(fmt.Errorf("check: %w", err)) })
	want := "main.cy:2:15: error: type error: expected int, found string\n" +
		"  \tlet x: int = \"hi\";\n" +
		"  \t             ^~~~\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rendered error (-want +got):\n%s", diff)
	}
}

func TestRenderWarning(t *testing.T) {
	d, ok := Warnf(config.NewConfig(), config.WarnUnusedValue, Pos{File: "main.cy", Line: 1, Column: 4, Len: 4}, "value of '%s' is unused", "main")
	if !ok {
		t.Fatal("unused-value is enabled by default")
	}
	got := render(func(r *Renderer) { r.Warning(d) })
	want := "main.cy:1:4: warning: value of 'main' is unused [-Wunused-value]\n" +
		"  fn main() -> void {\n" +
		"     ^~~~\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rendered warning (-want +got):\n%s", diff)
	}
}

func TestWarnfRespectsConfig(t *testing.T) {
	cfg := config.NewConfig()
	if _, ok := Warnf(cfg, config.WarnShadow, Pos{}, "x"); ok {
		t.Error("shadow is off by default but Warnf reported it")
	}
}

func TestRenderWithoutPosition(t *testing.T) {
	got := render(func(r *Renderer) { r.Error(errors.New("boom")) })
	if want := "cyc: error: boom\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderUnknownFileSkipsSourceLine(t *testing.T) {
	err := &LexError{Pos: Pos{File: "other.cy", Line: 1, Column: 1, Len: 1}, Msg: "unexpected character '@'"}
	got := render(func(r *Renderer) { r.Error(err) })
	if want := "other.cy:1:1: error: lex error: unexpected character '@'\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAttachFileAndIsInternal(t *testing.T) {
	err := AttachFile(fmt.Errorf("wrapped: %w", &ParseError{Pos: Pos{Line: 3, Column: 1}, Expected: "';'", Found: "'}'"}), "a.cy")
	var pe *ParseError
	if !errors.As(err, &pe) || pe.File != "a.cy" {
		t.Fatalf("file not attached: %v", err)
	}
	if IsInternal(err) {
		t.Error("parse error reported as internal")
	}
	if !IsInternal(Codegenf(Pos{}, "bad")) {
		t.Error("codegen error not reported as internal")
	}
}
