package codegen

import (
	"bytes"

	"github.com/cyclang/cyc/pkg/config"
	"github.com/cyclang/cyc/pkg/ir"
)

// Backend renders a verified IR program as target text.
type Backend interface {
	Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error)
}
