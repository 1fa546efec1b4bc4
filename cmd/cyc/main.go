package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/cyclang/cyc/pkg/config"
	"github.com/spf13/cobra"
)

const (
	exitUser     = 1
	exitInternal = 2
)

// exitError carries the process status out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

type options struct {
	output     string
	target     string
	triple     string
	emitLLVM   bool
	features   []string
	warnings   []string
	configPath string
	cacheDir   string
	jobs       int
	cc         string
	verbose    int
}

var opts options

var rootCmd = &cobra.Command{
	Use:           "cyc [flags] <file.cy>...",
	Short:         "Compile cyc sources to LLVM IR and native or wasm32 binaries",
	Args:          cobra.MinimumNArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		logger := newLogger(cmd.ErrOrStderr(), opts.verbose)

		cfg, err := buildConfig(cmd)
		if err != nil {
			return &exitError{code: exitUser, err: err}
		}
		logger.Debug("configuration", "target", cfg.Target, "triple", cfg.Triple, "fingerprint", cfg.Fingerprint())

		if opts.output != "" && len(args) > 1 {
			return &exitError{code: exitUser, err: errors.New("-o cannot be used with multiple input files")}
		}
		return build(cmd.Context(), cmd.ErrOrStderr(), logger, cfg, args)
	},
}

func init() {
	fs := rootCmd.Flags()
	fs.StringVarP(&opts.output, "output", "o", "", "place the output into `file`")
	fs.StringVar(&opts.target, "target", "native", "output target (native|wasm32)")
	fs.StringVar(&opts.triple, "triple", "", "override the LLVM target triple")
	fs.BoolVarP(&opts.emitLLVM, "emit-llvm", "S", false, "write the .ll file and skip linking")
	fs.StringArrayVarP(&opts.features, "feature", "F", nil, "enable a feature, or disable it with no-`name`")
	fs.StringArrayVarP(&opts.warnings, "warning", "W", nil, "enable a warning, or disable it with no-`name` (all toggles every warning)")
	fs.StringVar(&opts.configPath, "config", "", "read settings from a cyc.toml `file`")
	fs.StringVar(&opts.cacheDir, "cache-dir", "", "reuse IR from this `dir` when source and settings are unchanged")
	fs.IntVarP(&opts.jobs, "jobs", "j", runtime.GOMAXPROCS(0), "number of files compiled in parallel")
	fs.StringVar(&opts.cc, "cc", "clang", "compiler driver used for linking")
	fs.CountVarP(&opts.verbose, "verbose", "v", "log progress (-vv for stage timings)")

	rootCmd.AddCommand(versionCmd)
}

// buildConfig layers settings: defaults, then cyc.toml, then flags.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	nativeErr := cfg.SetTarget(config.TargetNative, runtime.GOOS, runtime.GOARCH)

	if opts.configPath != "" {
		if err := cfg.LoadFile(opts.configPath, runtime.GOOS, runtime.GOARCH); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("target") {
		t, err := config.ParseTarget(opts.target)
		if err != nil {
			return nil, err
		}
		if err := cfg.SetTarget(t, runtime.GOOS, runtime.GOARCH); err != nil && opts.triple == "" {
			return nil, err
		}
	}
	if opts.triple != "" {
		cfg.Triple = opts.triple
	}
	if cfg.Triple == "" && nativeErr != nil {
		return nil, nativeErr
	}

	var flags []string
	for _, w := range opts.warnings {
		flags = append(flags, "W"+w)
	}
	for _, f := range opts.features {
		flags = append(flags, "F"+f)
	}
	if err := cfg.ProcessFlags(flags); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != errCompileFailed {
				fmt.Fprintf(os.Stderr, "cyc: %v\n", ee.err)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "cyc: %v\n", err)
		os.Exit(exitUser)
	}
}

func newLogger(w io.Writer, verbosity int) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verbosity >= 2:
		level = slog.LevelDebug
	case verbosity == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
