package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cyclang/cyc/pkg/cache"
	"github.com/cyclang/cyc/pkg/compiler"
	"github.com/cyclang/cyc/pkg/config"
	"github.com/cyclang/cyc/pkg/util"
	"golang.org/x/sync/errgroup"
)

// errCompileFailed marks a failure whose diagnostics were already printed.
var errCompileFailed = errors.New("compilation failed")

type fileOutcome struct {
	path     string
	source   []rune
	warnings []util.Diagnostic
	err      error
}

// build compiles every input independently and reports diagnostics in
// input order once all of them have finished.
func build(ctx context.Context, stderr io.Writer, logger *slog.Logger, cfg *config.Config, paths []string) error {
	var store *cache.Cache
	if opts.cacheDir != "" {
		var err error
		if store, err = cache.Open(opts.cacheDir); err != nil {
			logger.Warn("cache disabled", "err", err)
		}
	}

	outcomes := make([]fileOutcome, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, min(opts.jobs, len(paths))))
	for i, path := range paths {
		g.Go(func() error {
			outcomes[i] = compileFile(gctx, logger.With("file", path), cfg, store, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return &exitError{code: exitInternal, err: err}
	}

	renderer := util.NewRenderer(stderr, cfg)
	code := 0
	for _, o := range outcomes {
		if o.source != nil {
			renderer.AddSource(util.SourceFileRecord{Name: o.path, Content: o.source})
		}
		for _, w := range o.warnings {
			renderer.Warning(w)
		}
		if o.err == nil {
			continue
		}
		renderer.Error(o.err)
		if util.IsInternal(o.err) {
			code = max(code, exitInternal)
		} else {
			code = max(code, exitUser)
		}
	}
	if code != 0 {
		return &exitError{code: code, err: errCompileFailed}
	}
	return nil
}

func compileFile(ctx context.Context, logger *slog.Logger, cfg *config.Config, store *cache.Cache, path string) fileOutcome {
	out := fileOutcome{path: path}
	src, err := os.ReadFile(path)
	if err != nil {
		out.err = err
		return out
	}

	key := cache.KeyFor(src, cfg)
	var irText []byte
	if entry, ok := store.Get(key); ok {
		logger.Info("cache hit", "key", key)
		out.source, _ = compiler.Decode(src)
		out.warnings = entry.Diagnostics(path)
		irText = entry.IR
	} else {
		res, err := compiler.Compile(ctx, path, src, cfg)
		out.source = res.Source
		if err != nil {
			out.err = err
			return out
		}
		for _, t := range res.Timings {
			logger.Debug("stage", "stage", t.Stage, "duration", t.Duration)
		}
		out.warnings = res.Warnings
		irText = res.IR
		if err := store.Put(key, &cache.Entry{Triple: cfg.Triple, IR: res.IR, Warnings: cache.FromDiagnostics(res.Warnings)}); err != nil {
			logger.Warn("cache write failed", "err", err)
		}
	}

	target := outputPath(path, cfg)
	if opts.emitLLVM {
		if err := os.WriteFile(target, irText, 0o644); err != nil {
			out.err = err
			return out
		}
		logger.Info("wrote IR", "output", target)
		return out
	}
	if err := link(ctx, cfg, irText, target); err != nil {
		out.err = err
		return out
	}
	logger.Info("linked", "output", target)
	return out
}

func outputPath(input string, cfg *config.Config) string {
	if opts.output != "" {
		return opts.output
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	switch {
	case opts.emitLLVM:
		return base + ".ll"
	case cfg.Target == config.TargetWasm32:
		return base + ".wasm"
	}
	return base
}

// linkArgs builds the compiler driver command line for one IR file.
func linkArgs(cfg *config.Config, irFile, output string) []string {
	args := []string{"-o", output}
	if cfg.Target == config.TargetWasm32 {
		args = append(args, "--target=wasm32", "-nostdlib", "-Wl,--no-entry", "-Wl,--export-all")
	} else if cfg.Triple != "" {
		args = append(args, "--target="+cfg.Triple)
	}
	return append(args, irFile)
}

func link(ctx context.Context, cfg *config.Config, irText []byte, output string) error {
	irFile, err := os.CreateTemp("", "cyc-*.ll")
	if err != nil {
		return fmt.Errorf("failed to create temp file for IR: %w", err)
	}
	defer os.Remove(irFile.Name())
	if _, err := irFile.Write(irText); err != nil {
		irFile.Close()
		return fmt.Errorf("failed to write IR: %w", err)
	}
	if err := irFile.Close(); err != nil {
		return fmt.Errorf("failed to write IR: %w", err)
	}

	cmd := exec.CommandContext(ctx, opts.cc, linkArgs(cfg, irFile.Name(), output)...)
	if msg, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w\nOutput:\n%s", opts.cc, err, msg)
	}
	return nil
}
