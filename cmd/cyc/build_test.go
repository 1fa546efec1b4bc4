package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cyclang/cyc/pkg/config"
	"github.com/google/go-cmp/cmp"
)

func withOptions(t *testing.T, o options) {
	t.Helper()
	saved := opts
	opts = o
	t.Cleanup(func() { opts = saved })
}

func targetConfig(t *testing.T, target config.Target) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	if err := cfg.SetTarget(target, "linux", "amd64"); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestOutputPath(t *testing.T) {
	native, wasm := targetConfig(t, config.TargetNative), targetConfig(t, config.TargetWasm32)
	tests := []struct {
		name string
		o    options
		cfg  *config.Config
		want string
	}{
		{"native binary", options{}, native, "dir/prog"},
		{"wasm module", options{}, wasm, "dir/prog.wasm"},
		{"emit llvm", options{emitLLVM: true}, wasm, "dir/prog.ll"},
		{"explicit output", options{output: "out.bin", emitLLVM: true}, native, "out.bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withOptions(t, tt.o)
			if got := outputPath("dir/prog.cy", tt.cfg); got != tt.want {
				t.Errorf("outputPath = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLinkArgs(t *testing.T) {
	got := linkArgs(targetConfig(t, config.TargetNative), "a.ll", "a")
	if diff := cmp.Diff([]string{"-o", "a", "--target=x86_64-unknown-linux-gnu", "a.ll"}, got); diff != "" {
		t.Errorf("native args (-want +got):\n%s", diff)
	}
	got = linkArgs(targetConfig(t, config.TargetWasm32), "a.ll", "a.wasm")
	want := []string{"-o", "a.wasm", "--target=wasm32", "-nostdlib", "-Wl,--no-entry", "-Wl,--export-all", "a.ll"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wasm args (-want +got):\n%s", diff)
	}
}

func TestBuildEmitsIRAndReusesCache(t *testing.T) {
	dir := t.TempDir()
	withOptions(t, options{emitLLVM: true, jobs: 2, cacheDir: filepath.Join(dir, "cache")})

	good := filepath.Join(dir, "good.cy")
	if err := os.WriteFile(good, []byte("fn main() -> void { print(1); }\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := targetConfig(t, config.TargetNative)

	var stderr, logs bytes.Buffer
	logger := newLogger(&logs, 1)
	for run := 0; run < 2; run++ {
		if err := build(context.Background(), &stderr, logger, cfg, []string{good}); err != nil {
			t.Fatalf("run %d: build: %v\n%s", run, err, stderr.String())
		}
	}
	ir, err := os.ReadFile(filepath.Join(dir, "good.ll"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(ir), "define i32 @main()") {
		t.Errorf("emitted IR lacks main:\n%s", ir)
	}
	if !strings.Contains(logs.String(), "cache hit") {
		t.Errorf("second build did not hit the cache; logs:\n%s", logs.String())
	}
}

func TestBuildReportsErrorsInInputOrder(t *testing.T) {
	dir := t.TempDir()
	withOptions(t, options{emitLLVM: true, jobs: 4})

	files := map[string]string{
		"a.cy": "fn main() -> void { foo(1); }\n",
		"b.cy": "fn main() -> void { print(1); }\n",
		"c.cy": "fn main() -> void { let x: int = \"hello\"; }\n",
	}
	var paths []string
	for _, name := range []string{"a.cy", "b.cy", "c.cy"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(files[name]), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	var stderr bytes.Buffer
	err := build(context.Background(), &stderr, newLogger(io.Discard, 0), targetConfig(t, config.TargetNative), paths)
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != exitUser {
		t.Fatalf("build error = %v, want exit status %d", err, exitUser)
	}
	out := stderr.String()
	ia, ic := strings.Index(out, "a.cy:1:21"), strings.Index(out, "c.cy:1:")
	if ia < 0 || ic < 0 || ia > ic {
		t.Errorf("diagnostics missing or out of order:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.ll")); err != nil {
		t.Errorf("valid file in a failing batch was not compiled: %v", err)
	}
}
