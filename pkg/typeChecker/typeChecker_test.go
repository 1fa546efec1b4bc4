package typeChecker

import (
	"errors"
	"strings"
	"testing"

	"github.com/cyclang/cyc/pkg/ast"
	"github.com/cyclang/cyc/pkg/config"
	"github.com/cyclang/cyc/pkg/lexer"
	"github.com/cyclang/cyc/pkg/parser"
	"github.com/cyclang/cyc/pkg/util"
	"github.com/google/go-cmp/cmp"
)

func check(t *testing.T, cfg *config.Config, src string) (*TypeChecker, *ast.Node, error) {
	t.Helper()
	toks, err := lexer.Tokenize([]rune(src))
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	root, err := parser.NewParser(toks).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}
	tc := NewTypeChecker(cfg)
	return tc, root, tc.Check(root)
}

func TestAcceptsValidPrograms(t *testing.T) {
	sources := map[string]string{
		"recursion": `fn fib(n: int) -> int { if (n < 2) { return n; } return fib(n-1) + fib(n-2); }`,
		"forward call": `fn main() -> int { return later(1); }
			fn later(x: int) -> int { return x; }`,
		"widening constants": `fn f(x: i64) -> i64 { let y: i64 = 1; return x * 2 + y; }
			fn main() -> void { print(f(3)); }`,
		"shadowing in nested block": `fn main() -> void { let x = 1; { let x = true; print(x); } print(x); }`,
		"string equality": `fn main() -> void { let s = "a"; print(s == "b"); print(s != s); }`,
		"if-else returns": `fn sign(n: int) -> int { if (n < 0) { return -1; } else if (n == 0) { return 0; } else { return 1; } }`,
		"void main implicit return": `fn main() -> void { print(1); }`,
		"constant string concat": `fn main() -> void { print("a" + "b" + "c"); }`,
		"min int literal":        `fn main() -> void { let x: int = -2147483648; print(x); }`,
		"min i64 literal":        `fn f() -> i64 { return -9223372036854775807 - 1; }`,
		"counted loop": `fn main() -> void {
			for (let i = 0; i < 3; i++) { print(i); }
			for (let i: i64 = 9; i > 0; i = i - 2) { let i = true; print(i); }
		}`,
	}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			if _, _, err := check(t, nil, src); err != nil {
				t.Fatalf("Check: %v", err)
			}
		})
	}
}

func TestDuplicateDeclaration(t *testing.T) {
	_, _, err := check(t, nil, "fn main() -> void { let x: int = 1; let x: int = 2; }")
	var ue *util.UndefinedSymbolError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want *util.UndefinedSymbolError", err)
	}
	if !ue.Duplicate || ue.Name != "x" {
		t.Errorf("got Duplicate=%t Name=%q, want duplicate 'x'", ue.Duplicate, ue.Name)
	}
	if ue.Line != 1 || ue.Column != 41 {
		t.Errorf("position = %s, want 1:41", ue.Pos)
	}
}

func TestParamAndLocalShareScope(t *testing.T) {
	_, _, err := check(t, nil, "fn f(a: int) -> int { let a = 2; return a; }")
	var ue *util.UndefinedSymbolError
	if !errors.As(err, &ue) || !ue.Duplicate {
		t.Fatalf("error = %v, want duplicate declaration", err)
	}
}

func TestUndeclaredFunction(t *testing.T) {
	_, _, err := check(t, nil, "fn main() -> void { foo(1); }")
	var ue *util.UndefinedSymbolError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want *util.UndefinedSymbolError", err)
	}
	if ue.Name != "foo" || ue.Duplicate {
		t.Errorf("got Name=%q Duplicate=%t, want undeclared 'foo'", ue.Name, ue.Duplicate)
	}
	if !strings.Contains(err.Error(), "foo") {
		t.Errorf("message %q does not name foo", err.Error())
	}
}

func TestStringAssignedToInt(t *testing.T) {
	_, _, err := check(t, nil, `fn main() -> void { let x: int = "hello"; }`)
	var te *util.TypeError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *util.TypeError", err)
	}
	if te.Expected != "int" || te.Found != "string" {
		t.Errorf("got expected=%q found=%q, want int/string", te.Expected, te.Found)
	}
}

func TestTypeErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		expected string
		found    string
	}{
		{"missing return", "fn f() -> int { print(1); }", "int", "void"},
		{"return in void", "fn f() -> void { return 1; }", "void", "int"},
		{"non-bool condition", "fn f() -> void { if (1) { } }", "bool", "int"},
		{"bool arithmetic", "fn f() -> void { print(true + 1); }", "int", "bool"},
		{"mixed widths", "fn f(a: int, b: i64) -> void { print(a + b); }", "int", "i64"},
		{"argument type", "fn g(s: string) -> void { } fn f() -> void { g(1); }", "string", "int"},
		{"assign wrong type", "fn f() -> void { let b = true; b = 3; }", "bool", "int"},
		{"ordered strings", `fn f() -> void { print("a" < "b"); }`, "int", "string"},
		{"negated bool", "fn f() -> void { print(-true); }", "int", "bool"},
		{"constant overflow", "fn f(x: int) -> void { print(x + 3000000000); }", "int", "integer literal 3000000000"},
		{"negative overflow", "fn f() -> void { let x: int = -2147483649; }", "int", "integer literal -2147483649"},
		{"negative overflow in operand", "fn f(x: int) -> void { print(x - -2147483649); }", "int", "integer literal -2147483649"},
		{"string loop variable", `fn f() -> void { for (let s = "a"; s == "b"; s = "c") { } }`, "int", "string"},
		{"non-bool loop condition", "fn f() -> void { for (let i = 0; i; i++) { } }", "bool", "int"},
		{"main signature", "fn main(a: int) -> int { return a; }", "fn() -> int", "fn(int) -> int"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := check(t, nil, tt.src)
			var te *util.TypeError
			if !errors.As(err, &te) {
				t.Fatalf("error = %v, want *util.TypeError", err)
			}
			if te.Expected != tt.expected || te.Found != tt.found {
				t.Errorf("got expected=%q found=%q, want %q/%q", te.Expected, te.Found, tt.expected, tt.found)
			}
		})
	}
}

func TestNegatedLiteralTypes(t *testing.T) {
	_, root, err := check(t, nil, "fn f() -> void { let a = -2147483648; let b = -2147483649; print(a); print(b); }")
	if err != nil {
		t.Fatal(err)
	}
	var lets []string
	for _, s := range root.Data.(ast.ProgramNode).Funcs[0].Data.(ast.FuncDeclNode).Body.Data.(ast.BlockNode).Stmts {
		if s.Type == ast.VarDecl {
			lets = append(lets, s.Typ.String())
		}
	}
	if diff := cmp.Diff([]string{"int", "i64"}, lets); diff != "" {
		t.Errorf("let types (-want +got):\n%s", diff)
	}
}

func TestForLoopScope(t *testing.T) {
	tc, root, err := check(t, nil, "fn main() -> void { for (let i = 0; i < 3; i++) { print(i); } }")
	if err != nil {
		t.Fatal(err)
	}
	loop := root.Data.(ast.ProgramNode).Funcs[0].Data.(ast.FuncDeclNode).Body.Data.(ast.BlockNode).Stmts[0].Data.(ast.ForNode)
	sym := tc.Bindings[loop.Init]
	if sym == nil || sym.Name != "i" || !sym.Type.Equal(ast.TypeInt) {
		t.Fatalf("loop variable symbol = %+v", sym)
	}
	if tc.Bindings[loop.Step] != sym {
		t.Error("step is not bound to the loop variable")
	}
	ast.Walk(loop.Body, func(n *ast.Node) bool {
		if n.Type == ast.Ident && tc.Bindings[n] != sym {
			t.Errorf("body identifier at %d:%d does not resolve to the loop variable", n.Tok.Line, n.Tok.Column)
		}
		return true
	})

	_, _, err = check(t, nil, "fn main() -> void { for (let i = 0; i < 3; i++) { } print(i); }")
	var ue *util.UndefinedSymbolError
	if !errors.As(err, &ue) || ue.Name != "i" {
		t.Errorf("loop variable visible after the loop: error = %v", err)
	}

	_, _, err = check(t, nil, "fn main() -> void { let j = 0; for (let i = 0; i < 3; j = j + 1) { } }")
	var te *util.TypeError
	if !errors.As(err, &te) || !strings.Contains(te.Msg, "loop variable 'i'") {
		t.Errorf("step on another variable: error = %v", err)
	}
}

func TestArityMismatch(t *testing.T) {
	_, _, err := check(t, nil, "fn g(a: int) -> void { } fn f() -> void { g(1, 2); }")
	var te *util.TypeError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *util.TypeError", err)
	}
	if te.Expected != "1 arguments" || te.Found != "2" {
		t.Errorf("got expected=%q found=%q", te.Expected, te.Found)
	}
}

func TestBuiltinNamesAreReserved(t *testing.T) {
	for _, name := range BuiltinNames {
		_, _, err := check(t, nil, "fn "+name+"() -> void { }")
		var ue *util.UndefinedSymbolError
		if !errors.As(err, &ue) || !ue.Duplicate {
			t.Errorf("%s: error = %v, want duplicate declaration", name, err)
		}
	}
}

func TestConstantWidening(t *testing.T) {
	_, root, err := check(t, nil, "fn f(x: i64) -> i64 { return x + 1; }")
	if err != nil {
		t.Fatal(err)
	}
	var numTypes []string
	ast.Walk(root, func(n *ast.Node) bool {
		if n.Type == ast.Number {
			numTypes = append(numTypes, n.Typ.String())
		}
		return true
	})
	if diff := cmp.Diff([]string{"i64"}, numTypes); diff != "" {
		t.Errorf("literal types (-want +got):\n%s", diff)
	}
}

func TestLargeLiteralIsI64(t *testing.T) {
	_, root, err := check(t, nil, "fn f() -> i64 { let big = 5000000000; return big; }")
	if err != nil {
		t.Fatal(err)
	}
	decl := root.Data.(ast.ProgramNode).Funcs[0].Data.(ast.FuncDeclNode).Body.Data.(ast.BlockNode).Stmts[0]
	if !decl.Typ.Equal(ast.TypeI64) {
		t.Errorf("let type = %s, want i64", decl.Typ)
	}
}

func TestBindingsAndReassignedParams(t *testing.T) {
	tc, root, err := check(t, nil, "fn f(a: int, b: int) -> int { a = a + 1; return a + b; }")
	if err != nil {
		t.Fatal(err)
	}
	fn := root.Data.(ast.ProgramNode).Funcs[0].Data.(ast.FuncDeclNode)
	a, b := tc.Bindings[fn.Params[0]], tc.Bindings[fn.Params[1]]
	if a == nil || b == nil {
		t.Fatal("parameters are not bound")
	}
	if !a.Reassigned || b.Reassigned {
		t.Errorf("Reassigned: a=%t b=%t, want true/false", a.Reassigned, b.Reassigned)
	}
	ast.Walk(root, func(n *ast.Node) bool {
		if n.Type == ast.Ident && tc.Bindings[n] == nil {
			t.Errorf("identifier at %d:%d is unbound", n.Tok.Line, n.Tok.Column)
		}
		return true
	})
}

func TestStringConcatFeature(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatStringConcat, false)
	_, _, err := check(t, cfg, `fn main() -> void { print("a" + "b"); }`)
	var te *util.TypeError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *util.TypeError", err)
	}

	_, _, err = check(t, nil, `fn main() -> void { let s = "a"; print(s + "b"); }`)
	if !errors.As(err, &te) {
		t.Fatalf("non-constant concat: error = %v, want *util.TypeError", err)
	}
}

func TestWarnings(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SetWarning(config.WarnShadow, true)
	tc, _, err := check(t, cfg, `fn f() -> int {
    let x = 1;
    { let x = 2; x; }
    return x;
    print(x);
}`)
	if err != nil {
		t.Fatal(err)
	}
	var got []config.Warning
	for _, w := range tc.Warnings {
		got = append(got, w.Warning)
	}
	want := []config.Warning{config.WarnShadow, config.WarnUnusedValue, config.WarnUnreachableCode}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}

	cfg = config.NewConfig()
	cfg.SetWarning(config.WarnUnreachableCode, false)
	tc, _, err = check(t, cfg, "fn f() -> int { return 1; print(2); }")
	if err != nil {
		t.Fatal(err)
	}
	if len(tc.Warnings) != 0 {
		t.Errorf("disabled warning still reported: %v", tc.Warnings)
	}
}
