// cytest compiles every sample program in-process and compares the emitted
// IR, warnings and errors against golden JSON files.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cyclang/cyc/pkg/compiler"
	"github.com/cyclang/cyc/pkg/config"
	"github.com/cyclang/cyc/pkg/util"
	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Golden is the recorded outcome of compiling one source file.
type Golden struct {
	SourceHash string   `json:"source_hash"`
	Triple     string   `json:"triple"`
	IRHash     string   `json:"ir_hash,omitempty"`
	IR         []string `json:"ir,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Error      string   `json:"error,omitempty"`
	Internal   bool     `json:"internal,omitempty"`
}

type FileTestResult struct {
	File     string        `json:"file"`
	Status   string        `json:"status"` // PASS, FAIL, SKIP, ERROR, UPDATED
	Message  string        `json:"message,omitempty"`
	Diff     string        `json:"diff,omitempty"`
	Duration time.Duration `json:"duration"`
}

var (
	update     bool
	jobs       int
	jsonDir    string
	target     string
	outputJSON string
	verbose    bool
)

var (
	cPass = color.New(color.FgGreen, color.Bold)
	cFail = color.New(color.FgRed, color.Bold)
	cSkip = color.New(color.FgYellow, color.Bold)
	cFile = color.New(color.FgCyan)
)

var rootCmd = &cobra.Command{
	Use:          "cytest [flags] [pattern...]",
	Short:        "Compare compiler output against golden files",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"tests/*.cy"}
		}
		cfg := config.NewConfig()
		t, err := config.ParseTarget(target)
		if err != nil {
			return err
		}
		// Golden files must not depend on the host, so native runs use a
		// fixed triple.
		if err := cfg.SetTarget(t, "linux", "amd64"); err != nil {
			return err
		}

		files, err := expandGlobPatterns(args)
		if err != nil {
			return fmt.Errorf("invalid glob pattern: %w", err)
		}
		if len(files) == 0 {
			fmt.Println("No test files found matching the pattern(s).")
			return nil
		}

		results := runSuite(cmd.Context(), cfg, files)
		printSummary(results)
		if err := writeJSONReport(results); err != nil {
			return err
		}
		if hasFailures(results) {
			return fmt.Errorf("%d file(s) failed", countStatus(results, "FAIL")+countStatus(results, "ERROR"))
		}
		return nil
	},
}

func init() {
	fs := rootCmd.Flags()
	fs.BoolVar(&update, "update", false, "rewrite golden files from the current output")
	fs.IntVarP(&jobs, "jobs", "j", runtime.GOMAXPROCS(0), "number of parallel test jobs")
	fs.StringVar(&jsonDir, "dir", "", "directory for golden JSON files (defaults to the source file's directory)")
	fs.StringVar(&target, "target", "native", "target to compile for (native|wasm32)")
	fs.StringVar(&outputJSON, "output", ".test_results.json", "JSON report file")
	fs.BoolVarP(&verbose, "verbose", "v", false, "print per-file timings")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getJSONPath(sourceFile string) string {
	name := "." + filepath.Base(sourceFile) + ".json"
	if jsonDir != "" {
		return filepath.Join(jsonDir, name)
	}
	return filepath.Join(filepath.Dir(sourceFile), name)
}

func hash(data []byte) string { return fmt.Sprintf("%016x", xxhash.Sum64(data)) }

func runSuite(ctx context.Context, cfg *config.Config, files []string) []*FileTestResult {
	results := make([]*FileTestResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, jobs))
	for i, file := range files {
		g.Go(func() error {
			start := time.Now()
			results[i] = testFile(gctx, cfg, file)
			results[i].Duration = time.Since(start)
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].File < results[j].File })
	return results
}

// record compiles file and captures everything a golden file checks.
func record(ctx context.Context, cfg *config.Config, file string, src []byte) *Golden {
	res, err := compiler.Compile(ctx, filepath.Base(file), src, cfg)
	g := &Golden{SourceHash: hash(src), Triple: cfg.Triple}
	if err != nil {
		g.Error, g.Internal = err.Error(), util.IsInternal(err)
		return g
	}
	g.IRHash = hash(res.IR)
	g.IR = strings.Split(strings.TrimRight(string(res.IR), "\n"), "\n")
	for _, w := range res.Warnings {
		g.Warnings = append(g.Warnings, fmt.Sprintf("%s: %s", w.Pos, w.Msg))
	}
	return g
}

func testFile(ctx context.Context, cfg *config.Config, file string) *FileTestResult {
	src, err := os.ReadFile(file)
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not read source: %v", err)}
	}
	got := record(ctx, cfg, file, src)
	goldenFile := getJSONPath(file)

	if update {
		if err := writeGolden(goldenFile, got); err != nil {
			return &FileTestResult{File: file, Status: "ERROR", Message: err.Error()}
		}
		return &FileTestResult{File: file, Status: "UPDATED", Message: "Golden file written to " + goldenFile}
	}

	data, err := os.ReadFile(goldenFile)
	if os.IsNotExist(err) {
		return &FileTestResult{File: file, Status: "SKIP", Message: "No golden file; run with --update"}
	}
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not read golden file %s: %v", goldenFile, err)}
	}
	var want Golden
	if err := json.Unmarshal(data, &want); err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not parse golden file %s: %v", goldenFile, err)}
	}
	if want.SourceHash != got.SourceHash {
		return &FileTestResult{File: file, Status: "FAIL", Message: "Source changed since the golden file was recorded; run with --update"}
	}
	if diff := cmp.Diff(&want, got); diff != "" {
		return &FileTestResult{File: file, Status: "FAIL", Message: "Output differs from golden file (-want +got)", Diff: diff}
	}
	return &FileTestResult{File: file, Status: "PASS", Message: "Output matches golden file"}
}

func writeGolden(path string, g *Golden) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal golden data: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func printSummary(results []*FileTestResult) {
	for _, r := range results {
		fmt.Println("----------------------------------------------------------------------")
		fmt.Printf("Testing %s...\n", cFile.Sprint(r.File))
		label := cSkip
		switch r.Status {
		case "PASS", "UPDATED":
			label = cPass
		case "FAIL", "ERROR":
			label = cFail
		}
		fmt.Printf("  [%s] %s\n", label.Sprint(r.Status), r.Message)
		if r.Diff != "" {
			fmt.Println(formatDiff(r.Diff))
		}
		if verbose {
			fmt.Printf("  compiled in %s\n", r.Duration.Round(time.Microsecond))
		}
	}
	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("Test Summary: %s, %s, %s, %s, %d Total\n",
		cPass.Sprintf("%d Passed", countStatus(results, "PASS")+countStatus(results, "UPDATED")),
		cFail.Sprintf("%d Failed", countStatus(results, "FAIL")),
		cSkip.Sprintf("%d Skipped", countStatus(results, "SKIP")),
		cFail.Sprintf("%d Errored", countStatus(results, "ERROR")),
		len(results))
}

func formatDiff(diff string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(strings.TrimSpace(line), "-"):
			b.WriteString("    " + color.RedString("%s", line) + "\n")
		case strings.HasPrefix(strings.TrimSpace(line), "+"):
			b.WriteString("    " + color.GreenString("%s", line) + "\n")
		default:
			b.WriteString("    " + line + "\n")
		}
	}
	return b.String()
}

func writeJSONReport(results []*FileTestResult) error {
	report := make(map[string]*FileTestResult, len(results))
	for _, r := range results {
		report[r.File] = r
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	path := outputJSON
	if jsonDir != "" {
		path = filepath.Join(jsonDir, outputJSON)
	}
	return os.WriteFile(path, data, 0o644)
}

func countStatus(results []*FileTestResult, status string) int {
	n := 0
	for _, r := range results {
		if r.Status == status {
			n++
		}
	}
	return n
}

func hasFailures(results []*FileTestResult) bool {
	return countStatus(results, "FAIL")+countStatus(results, "ERROR") > 0
}

func expandGlobPatterns(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}
