package codegen

import (
	"strings"
	"testing"

	"github.com/cyclang/cyc/pkg/config"
	"github.com/cyclang/cyc/pkg/ir"
	"github.com/cyclang/cyc/pkg/lexer"
	"github.com/cyclang/cyc/pkg/parser"
	"github.com/cyclang/cyc/pkg/typeChecker"
	"github.com/google/go-cmp/cmp"
)

const fibSource = `fn fib(n: int) -> int {
    if (n < 2) { return n; }
    return fib(n - 1) + fib(n - 2);
}

fn main() -> void {
    print(fib(10));
}`

func nativeConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	if err := cfg.SetTarget(config.TargetNative, "linux", "amd64"); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	return cfg
}

func lower(t *testing.T, cfg *config.Config, src string) *ir.Program {
	t.Helper()
	toks, err := lexer.Tokenize([]rune(src))
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	root, err := parser.NewParser(toks).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tc := typeChecker.NewTypeChecker(cfg)
	if err := tc.Check(root); err != nil {
		t.Fatalf("Check: %v", err)
	}
	prog, err := NewContext(cfg, tc.Bindings).GenerateIR(root)
	if err != nil {
		t.Fatalf("GenerateIR: %v", err)
	}
	return prog
}

func emit(t *testing.T, cfg *config.Config, src string) string {
	t.Helper()
	buf, err := NewLLVMBackend().Generate(lower(t, cfg, src), cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return buf.String()
}

func blockLabels(fn *ir.Func) []string {
	var out []string
	for _, b := range fn.Blocks {
		out = append(out, b.Label.Name)
	}
	return out
}

func calls(fn *ir.Func) []*ir.Instruction {
	var out []*ir.Instruction
	for _, b := range fn.Blocks {
		for _, instr := range b.Instructions {
			if instr.Op == ir.OpCall {
				out = append(out, instr)
			}
		}
	}
	return out
}

func callee(instr *ir.Instruction) string { return instr.Args[0].(*ir.Global).Name }

func stringValue(prog *ir.Program, v ir.Value) string {
	g, ok := v.(*ir.Global)
	if !ok {
		return ""
	}
	for _, s := range prog.Strings {
		if s.Name == g.Name {
			return s.Value
		}
	}
	return ""
}

func TestFibControlFlow(t *testing.T) {
	prog := lower(t, nativeConfig(t), fibSource)
	fib := prog.FindFunc("fib")
	if fib == nil {
		t.Fatal("fib was not lowered")
	}
	if diff := cmp.Diff([]string{"entry", "then.0", "else.0", "merge.0"}, blockLabels(fib)); diff != "" {
		t.Errorf("fib blocks (-want +got):\n%s", diff)
	}
	var self int
	for _, c := range calls(fib) {
		if callee(c) == "fib" {
			self++
		}
	}
	if self != 2 {
		t.Errorf("fib calls itself %d times, want 2", self)
	}

	main := prog.FindFunc("main")
	if main.ReturnType != ir.TypeI32 {
		t.Errorf("void main lowered with return type %s, want i32", main.ReturnType)
	}
	last := main.Blocks[len(main.Blocks)-1].Terminator()
	if last == nil || last.Op != ir.OpRet || last.Args[0].(*ir.Const).Value != 0 {
		t.Errorf("main does not end in ret 0")
	}
}

func TestPrintBoolUsesHelper(t *testing.T) {
	prog := lower(t, nativeConfig(t), "fn main() -> void { print(true); }")
	cs := calls(prog.FindFunc("main"))
	if len(cs) != 2 {
		t.Fatalf("got %d calls in main, want 2", len(cs))
	}
	if callee(cs[0]) != "bool_to_str" {
		t.Errorf("first call is to %s, want bool_to_str", callee(cs[0]))
	}
	if callee(cs[1]) != "printf" {
		t.Fatalf("second call is to %s, want printf", callee(cs[1]))
	}
	if got := stringValue(prog, cs[1].Args[1]); got != "%s\n" {
		t.Errorf("printf format = %q, want %q", got, "%s\n")
	}
	if cs[1].Args[2] != cs[0].Result {
		t.Errorf("printf does not print the helper's result")
	}
	for _, s := range prog.Strings {
		if s.Value == "%d\n" {
			t.Errorf("bool print interned the integer format")
		}
	}

	helper := prog.FindFunc("bool_to_str")
	if helper == nil {
		t.Fatal("bool_to_str was not emitted")
	}
	var rets []string
	for _, b := range helper.Blocks {
		if term := b.Terminator(); term.Op == ir.OpRet {
			rets = append(rets, stringValue(prog, term.Args[0]))
		}
	}
	if diff := cmp.Diff([]string{"true\n", "false\n"}, rets); diff != "" {
		t.Errorf("helper results (-want +got):\n%s", diff)
	}
}

func TestPrintFormats(t *testing.T) {
	prog := lower(t, nativeConfig(t), `fn main() -> void {
    let a: i64 = 5000000000;
    print(1);
    print(a);
    print("s");
}`)
	var formats []string
	for _, c := range calls(prog.FindFunc("main")) {
		formats = append(formats, stringValue(prog, c.Args[1]))
	}
	if diff := cmp.Diff([]string{"%d\n", "%lld\n", "%s\n"}, formats); diff != "" {
		t.Errorf("print formats (-want +got):\n%s", diff)
	}
}

func TestLazyHelpers(t *testing.T) {
	cfg := nativeConfig(t)
	cfg.SetFeature(config.FeatLazyHelpers, true)
	if prog := lower(t, cfg, "fn main() -> void { print(1); }"); prog.FindFunc("bool_to_str") != nil {
		t.Error("bool_to_str emitted although no bool is printed")
	}
	if prog := lower(t, cfg, "fn main() -> void { print(1 < 2); }"); prog.FindFunc("bool_to_str") == nil {
		t.Error("bool_to_str missing although a bool is printed")
	}
	if prog := lower(t, nativeConfig(t), "fn main() -> void { print(1); }"); prog.FindFunc("bool_to_str") == nil {
		t.Error("bool_to_str is emitted unconditionally by default")
	}
}

func TestStringEqualityUsesStrcmp(t *testing.T) {
	prog := lower(t, nativeConfig(t), `fn main() -> void { let s = "a"; print(s == "b"); }`)
	if prog.FindExtern("strcmp") == nil {
		t.Fatal("strcmp was not declared")
	}
	cs := calls(prog.FindFunc("main"))
	if len(cs) == 0 || callee(cs[0]) != "strcmp" {
		t.Fatalf("string comparison does not call strcmp first")
	}
	if prog := lower(t, nativeConfig(t), "fn main() -> void { print(1 == 2); }"); prog.FindExtern("strcmp") != nil {
		t.Error("strcmp declared without any string comparison")
	}
}

func TestShortCircuitPhi(t *testing.T) {
	prog := lower(t, nativeConfig(t), "fn f(a: bool, b: bool) -> bool { return a && b || a; }")
	f := prog.FindFunc("f")
	want := []string{"entry", "and.rhs.1", "and.end.1", "or.rhs.0", "or.end.0"}
	if diff := cmp.Diff(want, blockLabels(f)); diff != "" {
		t.Errorf("blocks (-want +got):\n%s", diff)
	}
	var phis int
	for _, b := range f.Blocks {
		for _, instr := range b.Instructions {
			if instr.Op == ir.OpPhi {
				phis++
			}
		}
	}
	if phis != 2 {
		t.Errorf("got %d phis, want 2", phis)
	}
}

func TestLocalsLiveInEntrySlots(t *testing.T) {
	prog := lower(t, nativeConfig(t), `fn count(n: int) -> int {
    let total = 0;
    while (n > 0) {
        let step = 1;
        total = total + step;
        n = n - 1;
    }
    return total;
}`)
	f := prog.FindFunc("count")
	var allocs []string
	for bi, b := range f.Blocks {
		for _, instr := range b.Instructions {
			if instr.Op != ir.OpAlloc {
				continue
			}
			if bi != 0 {
				t.Errorf("alloc in block %s, want entry", b.Label.Name)
			}
			allocs = append(allocs, instr.Result.(*ir.Temporary).Name)
		}
	}
	if diff := cmp.Diff([]string{"n.addr", "total.addr", "step.addr"}, allocs); diff != "" {
		t.Errorf("slots (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"entry", "while.cond.0", "while.body.0", "while.end.0"}, blockLabels(f)); diff != "" {
		t.Errorf("blocks (-want +got):\n%s", diff)
	}
}

func TestLLVMOutput(t *testing.T) {
	out := emit(t, nativeConfig(t), fibSource)
	for _, want := range []string{
		`target triple = "x86_64-unknown-linux-gnu"`,
		"define i32 @fib(i32 %n)",
		"define i32 @main()",
		"define i8* @bool_to_str(i1 %value)",
		"call i32 @fib(",
		"icmp slt i32 %n, 2",
		"then.0:",
		"merge.0:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "target datalayout") {
		t.Error("native output carries a datalayout")
	}
}

func TestWasmTarget(t *testing.T) {
	cfg := config.NewConfig()
	if err := cfg.SetTarget(config.TargetWasm32, "linux", "amd64"); err != nil {
		t.Fatal(err)
	}
	out := emit(t, cfg, fibSource)
	if !strings.Contains(out, `target triple = "wasm32-unknown-unknown-wasm"`) {
		t.Errorf("wasm triple missing:\n%s", out)
	}
	if !strings.Contains(out, `target datalayout = "`+wasmDataLayout+`"`) {
		t.Errorf("wasm datalayout missing")
	}
}

func TestOutputIsDeterministic(t *testing.T) {
	src := `fn main() -> void {
    let s = "x";
    let b = s == "y" || !(1 < 2);
    print(b);
    print(s);
}`
	first := emit(t, nativeConfig(t), src)
	for i := 0; i < 5; i++ {
		if again := emit(t, nativeConfig(t), src); again != first {
			t.Fatalf("run %d differs:\n%s", i, cmp.Diff(first, again))
		}
	}
}

func TestParamNamedLikeBlock(t *testing.T) {
	out := emit(t, nativeConfig(t), "fn f(entry: int) -> int { return entry; }\n\nfn main() -> void { print(f(1)); }")
	for _, want := range []string{
		"define i32 @f(i32 %entry.arg)",
		"\nentry:\n",
		"ret i32 %entry.arg",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestForLoopBlocks(t *testing.T) {
	src := `fn main() -> void {
    for (let i = 10; i > 0; i--) { print(i); }
}`
	f := lower(t, nativeConfig(t), src).FindFunc("main")
	want := []string{"entry", "for.cond.0", "for.body.0", "for.step.0", "for.end.0"}
	if diff := cmp.Diff(want, blockLabels(f)); diff != "" {
		t.Errorf("blocks (-want +got):\n%s", diff)
	}
	var stepOps []ir.Op
	for _, instr := range f.Blocks[3].Instructions {
		stepOps = append(stepOps, instr.Op)
	}
	if diff := cmp.Diff([]ir.Op{ir.OpLoad, ir.OpSub, ir.OpStore, ir.OpJmp}, stepOps); diff != "" {
		t.Errorf("step block (-want +got):\n%s", diff)
	}

	out := emit(t, nativeConfig(t), src)
	for _, want := range []string{"%i.addr = alloca i32", "icmp sgt i32", "br label %for.cond.0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestForLoopReturningBody(t *testing.T) {
	f := lower(t, nativeConfig(t), `fn first() -> int {
    for (let i = 0; i < 3; i++) { return i; }
    return -1;
}`).FindFunc("first")
	want := []string{"entry", "for.cond.0", "for.body.0", "for.end.0"}
	if diff := cmp.Diff(want, blockLabels(f)); diff != "" {
		t.Errorf("blocks (-want +got):\n%s", diff)
	}
}
