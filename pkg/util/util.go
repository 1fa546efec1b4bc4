package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cyclang/cyc/pkg/config"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

// Diagnostic is a non-fatal finding, reported after compilation succeeds.
type Diagnostic struct {
	Pos
	Warning config.Warning
	Msg     string
}

func Warnf(cfg *config.Config, wt config.Warning, pos Pos, format string, args ...interface{}) (Diagnostic, bool) {
	if !cfg.IsWarningEnabled(wt) {
		return Diagnostic{}, false
	}
	return Diagnostic{Pos: pos, Warning: wt, Msg: fmt.Sprintf(format, args...)}, true
}

// SourceFileRecord tracks the name and content of a single source file.
type SourceFileRecord struct {
	Name    string
	Content []rune
}

// Renderer prints diagnostics with the offending source line and a caret.
type Renderer struct {
	out     io.Writer
	cfg     *config.Config
	sources map[string][]rune

	errLabel  *color.Color
	warnLabel *color.Color
	caret     *color.Color
}

func NewRenderer(out io.Writer, cfg *config.Config, files ...SourceFileRecord) *Renderer {
	r := &Renderer{
		out:       out,
		cfg:       cfg,
		sources:   make(map[string][]rune),
		errLabel:  color.New(color.FgRed, color.Bold),
		warnLabel: color.New(color.FgYellow, color.Bold),
		caret:     color.New(color.FgGreen),
	}
	for _, f := range files {
		r.sources[f.Name] = f.Content
	}
	r.SetColor(isTerminal(out))
	return r
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (r *Renderer) SetColor(on bool) {
	for _, c := range []*color.Color{r.errLabel, r.warnLabel, r.caret} {
		if on {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

func (r *Renderer) AddSource(rec SourceFileRecord) { r.sources[rec.Name] = rec.Content }

func (r *Renderer) Error(err error) {
	var p Positioned
	if !errors.As(err, &p) {
		fmt.Fprintf(r.out, "cyc: %s %v\n", r.errLabel.Sprint("error:"), err)
		return
	}
	pos := p.Position()
	msg := strings.TrimPrefix(p.Error(), pos.String()+": ")
	fmt.Fprintf(r.out, "%s: %s %s\n", pos, r.errLabel.Sprint("error:"), msg)
	r.printErrorLine(pos)
}

func (r *Renderer) Warning(d Diagnostic) {
	name := r.cfg.Warnings[d.Warning].Name
	fmt.Fprintf(r.out, "%s: %s %s [-W%s]\n", d.Pos, r.warnLabel.Sprint("warning:"), d.Msg, name)
	r.printErrorLine(d.Pos)
}

// printErrorLine prints the source line and a caret indicating the error position
func (r *Renderer) printErrorLine(pos Pos) {
	content, ok := r.sources[pos.File]
	if !ok || pos.Line == 0 {
		return
	}

	lineNum := pos.Line
	lineStart := 0
	for i, ch := range content {
		if lineNum <= 1 {
			break
		}
		if ch == '\n' {
			lineNum--
			lineStart = i + 1
		}
	}
	lineEnd := len(content)
	for i := lineStart; i < len(content); i++ {
		if content[i] == '\n' {
			lineEnd = i
			break
		}
	}
	line := content[lineStart:lineEnd]
	fmt.Fprintf(r.out, "  %s\n", string(line))

	// Pad with the display width of everything left of the column so wide
	// runes and tabs keep the caret aligned.
	var pad strings.Builder
	for i := 0; i < pos.Column-1 && i < len(line); i++ {
		if line[i] == '\t' {
			pad.WriteByte('\t')
			continue
		}
		pad.WriteString(strings.Repeat(" ", runewidth.RuneWidth(line[i])))
	}
	width := 1
	if end := pos.Column - 1 + pos.Len; pos.Len > 1 && end <= len(line) {
		width = runewidth.StringWidth(string(line[pos.Column-1 : end]))
	}
	underline := "^" + strings.Repeat("~", max(width-1, 0))
	fmt.Fprintf(r.out, "  %s%s\n", pad.String(), r.caret.Sprint(underline))
}
