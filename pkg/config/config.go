package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"modernc.org/libqbe"
)

// WasmTriple is the triple emitted for the wasm32 target.
const WasmTriple = "wasm32-unknown-unknown-wasm"

type Target int

const (
	TargetNative Target = iota
	TargetWasm32
)

func (t Target) String() string {
	if t == TargetWasm32 {
		return "wasm32"
	}
	return "native"
}

func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(s) {
	case "", "native":
		return TargetNative, nil
	case "wasm32", "wasm":
		return TargetWasm32, nil
	}
	return 0, fmt.Errorf("unsupported target '%s'. Supported: 'native', 'wasm32'", s)
}

type Feature int

const (
	FeatLazyHelpers Feature = iota
	FeatStringConcat
	FeatCount
)

type Warning int

const (
	WarnUnreachableCode Warning = iota
	WarnShadow
	WarnUnusedValue
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

type Config struct {
	Features   map[Feature]Info
	Warnings   map[Warning]Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning
	Target     Target
	Triple     string
	// QbeTarget is the host ABI name reported by libqbe; it selects the
	// native triple.
	QbeTarget string
}

func NewConfig() *Config {
	cfg := &Config{
		Features:   make(map[Feature]Info),
		Warnings:   make(map[Warning]Info),
		FeatureMap: make(map[string]Feature),
		WarningMap: make(map[string]Warning),
	}

	features := map[Feature]Info{
		FeatLazyHelpers:  {"lazy-helpers", false, "Emit the bool_to_str helper only when a bool is printed."},
		FeatStringConcat: {"string-concat", true, "Fold '+' between constant strings into one literal."},
	}

	warnings := map[Warning]Info{
		WarnUnreachableCode: {"unreachable-code", true, "Warn about code that will never be executed."},
		WarnShadow:          {"shadow", false, "Warn when a declaration shadows one from an enclosing scope."},
		WarnUnusedValue:     {"unused-value", true, "Warn about expression statements whose value is discarded."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}
	return cfg
}

// SetTarget selects the output target. For the native target the triple is
// derived from the host ABI libqbe reports for goos/goarch.
func (c *Config) SetTarget(target Target, goos, goarch string) error {
	c.Target = target
	if target == TargetWasm32 {
		c.QbeTarget, c.Triple = "", WasmTriple
		return nil
	}

	c.QbeTarget = libqbe.DefaultTarget(goos, goarch)
	triple, ok := hostTriple(c.QbeTarget, goos)
	if !ok {
		return fmt.Errorf("unrecognized host target '%s' (%s/%s); pass --triple explicitly", c.QbeTarget, goos, goarch)
	}
	c.Triple = triple
	return nil
}

func hostTriple(qbeTarget, goos string) (string, bool) {
	vendorOS := "unknown-" + goos
	if goos == "linux" {
		vendorOS = "unknown-linux-gnu"
	}
	switch qbeTarget {
	case "amd64_sysv":
		return "x86_64-" + vendorOS, true
	case "amd64_apple":
		return "x86_64-apple-macosx", true
	case "arm64":
		return "aarch64-" + vendorOS, true
	case "arm64_apple":
		return "arm64-apple-macosx", true
	case "rv64":
		return "riscv64-" + vendorOS, true
	}
	return "", false
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// ApplyFlag handles one -W/-F style switch such as "Wshadow", "Wno-all"
// or "Flazy-helpers". Unknown names are reported.
func (c *Config) ApplyFlag(flag string) error {
	trimmed := strings.TrimPrefix(flag, "-")
	isNo := strings.HasPrefix(trimmed, "Wno-") || strings.HasPrefix(trimmed, "Fno-")
	enable := !isNo

	var name string
	var isWarning bool
	switch {
	case strings.HasPrefix(trimmed, "W"):
		name, isWarning = strings.TrimPrefix(trimmed, "W"), true
	case strings.HasPrefix(trimmed, "F"):
		name = strings.TrimPrefix(trimmed, "F")
	default:
		return fmt.Errorf("unknown flag '%s'", flag)
	}
	if isNo {
		name = strings.TrimPrefix(name, "no-")
	}

	if name == "all" && isWarning {
		for i := Warning(0); i < WarnCount; i++ {
			c.SetWarning(i, enable)
		}
		return nil
	}

	if isWarning {
		w, ok := c.WarningMap[name]
		if !ok {
			return fmt.Errorf("unknown warning '%s'", name)
		}
		c.SetWarning(w, enable)
		return nil
	}
	f, ok := c.FeatureMap[name]
	if !ok {
		return fmt.Errorf("unknown feature '%s'", name)
	}
	c.SetFeature(f, enable)
	return nil
}

// ProcessFlags applies -Wall/-Wno-all first so individual switches can
// override them regardless of command-line order.
func (c *Config) ProcessFlags(flags []string) error {
	isBulk := func(f string) bool {
		f = strings.TrimPrefix(f, "-")
		return f == "Wall" || f == "Wno-all"
	}
	for _, f := range flags {
		if isBulk(f) {
			if err := c.ApplyFlag(f); err != nil {
				return err
			}
		}
	}
	for _, f := range flags {
		if !isBulk(f) {
			if err := c.ApplyFlag(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fingerprint is a stable rendering of every setting that can change the
// emitted IR.
func (c *Config) Fingerprint() string {
	var parts []string
	parts = append(parts, "target="+c.Target.String(), "triple="+c.Triple)
	for ft, info := range c.Features {
		parts = append(parts, fmt.Sprintf("F%d=%t", int(ft), info.Enabled))
	}
	for wt, info := range c.Warnings {
		parts = append(parts, fmt.Sprintf("W%d=%t", int(wt), info.Enabled))
	}
	sort.Strings(parts[2:])
	return strings.Join(parts, ";")
}

// FileConfig mirrors the layout of a cyc.toml project file.
type FileConfig struct {
	Build struct {
		Target string `toml:"target"`
		Triple string `toml:"triple"`
	} `toml:"build"`
	Features map[string]bool `toml:"features"`
	Warnings map[string]bool `toml:"warnings"`
}

// LoadFile reads a cyc.toml and applies it on top of the current settings.
func (c *Config) LoadFile(path, goos, goarch string) error {
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return c.apply(&fc, goos, goarch)
}

func (c *Config) apply(fc *FileConfig, goos, goarch string) error {
	if fc.Build.Target != "" {
		t, err := ParseTarget(fc.Build.Target)
		if err != nil {
			return err
		}
		if err := c.SetTarget(t, goos, goarch); err != nil {
			return err
		}
	}
	if fc.Build.Triple != "" {
		c.Triple = fc.Build.Triple
	}
	for name, on := range fc.Features {
		ft, ok := c.FeatureMap[name]
		if !ok {
			return fmt.Errorf("unknown feature '%s'", name)
		}
		c.SetFeature(ft, on)
	}
	for name, on := range fc.Warnings {
		wt, ok := c.WarningMap[name]
		if !ok {
			return fmt.Errorf("unknown warning '%s'", name)
		}
		c.SetWarning(wt, on)
	}
	return nil
}
