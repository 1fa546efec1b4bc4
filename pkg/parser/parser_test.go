package parser

import (
	"errors"
	"testing"

	"github.com/cyclang/cyc/pkg/ast"
	"github.com/cyclang/cyc/pkg/lexer"
	"github.com/cyclang/cyc/pkg/token"
	"github.com/cyclang/cyc/pkg/util"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func parse(t *testing.T, src string) (*ast.Node, error) {
	t.Helper()
	toks, err := lexer.Tokenize([]rune(src))
	if err != nil {
		t.Fatalf("Tokenize(%q): %v", src, err)
	}
	return NewParser(toks).Parse()
}

func mustParse(t *testing.T, src string) *ast.Node {
	t.Helper()
	root, err := parse(t, src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return root
}

// firstExpr returns the expression of the first statement of the first
// function, which must be an expression statement or print.
func firstExpr(t *testing.T, root *ast.Node) *ast.Node {
	t.Helper()
	fn := root.Data.(ast.ProgramNode).Funcs[0].Data.(ast.FuncDeclNode)
	switch d := fn.Body.Data.(ast.BlockNode).Stmts[0].Data.(type) {
	case ast.ExprStmtNode:
		return d.Expr
	case ast.PrintNode:
		return d.Expr
	}
	t.Fatalf("first statement is not an expression")
	return nil
}

func TestParseFunction(t *testing.T) {
	root := mustParse(t, "fn add(a: int, b: i64) -> i64 { return b; }")
	prog := root.Data.(ast.ProgramNode)
	if len(prog.Funcs) != 1 {
		t.Fatalf("got %d functions, want 1", len(prog.Funcs))
	}
	fn := prog.Funcs[0].Data.(ast.FuncDeclNode)
	if fn.Name != "add" {
		t.Errorf("name = %q, want add", fn.Name)
	}
	if !fn.ReturnType.Equal(ast.TypeI64) {
		t.Errorf("return type = %s, want i64", fn.ReturnType)
	}
	var params []string
	for _, p := range fn.Params {
		pd := p.Data.(ast.ParamNode)
		params = append(params, pd.Name+":"+pd.Type.String())
		if p.Parent != prog.Funcs[0] {
			t.Errorf("param %s has wrong parent", pd.Name)
		}
	}
	if diff := cmp.Diff([]string{"a:int", "b:i64"}, params); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestPrecedence(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"1 * 2 + 3", "((1 * 2) + 3)"},
		{"1 - 2 - 3", "((1 - 2) - 3)"},
		{"a || b && c", "(a || (b && c))"},
		{"a == b && c < d", "((a == b) && (c < d))"},
		{"-a * b", "((-a) * b)"},
		{"!a || b", "((!a) || b)"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
		{"f(1, 2 + 3) % 4", "(f(1, (2 + 3)) % 4)"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			root := mustParse(t, "fn main() -> void { "+tt.src+"; }")
			if got := parenthesize(firstExpr(t, root)); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

// parenthesize prints an expression with every operation wrapped.
func parenthesize(n *ast.Node) string {
	switch d := n.Data.(type) {
	case ast.BinaryOpNode:
		return "(" + parenthesize(d.Left) + " " + d.Op.String() + " " + parenthesize(d.Right) + ")"
	case ast.LogicalOpNode:
		return "(" + parenthesize(d.Left) + " " + d.Op.String() + " " + parenthesize(d.Right) + ")"
	case ast.ComparisonNode:
		return "(" + parenthesize(d.Left) + " " + d.Op.String() + " " + parenthesize(d.Right) + ")"
	case ast.UnaryOpNode:
		return "(" + d.Op.String() + parenthesize(d.Expr) + ")"
	case ast.FuncCallNode:
		s := d.Name + "("
		for i, a := range d.Args {
			if i > 0 {
				s += ", "
			}
			s += parenthesize(a)
		}
		return s + ")"
	}
	return ast.FormatExpr(n)
}

func TestNodeKinds(t *testing.T) {
	root := mustParse(t, `fn main() -> void {
    let x: int = 1;
    let y = x < 2;
    x = 3;
    if (y) { print("yes"); } else if (x == 3) { } else { return; }
    while (y && true) { y = false; }
    { }
}`)
	var kinds []ast.NodeType
	for _, s := range root.Data.(ast.ProgramNode).Funcs[0].Data.(ast.FuncDeclNode).Body.Data.(ast.BlockNode).Stmts {
		kinds = append(kinds, s.Type)
	}
	want := []ast.NodeType{ast.VarDecl, ast.VarDecl, ast.Assign, ast.If, ast.While, ast.Block}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Fatalf("statement kinds mismatch (-want +got):\n%s", diff)
	}

	stmts := root.Data.(ast.ProgramNode).Funcs[0].Data.(ast.FuncDeclNode).Body.Data.(ast.BlockNode).Stmts
	if typ := stmts[1].Data.(ast.VarDeclNode).Type; typ != nil {
		t.Errorf("inferred let has type %s, want nil", typ)
	}
	if cond := stmts[1].Data.(ast.VarDeclNode).Init; cond.Type != ast.Comparison {
		t.Errorf("let init kind = %s, want Comparison", cond.Type)
	}
	elseIf := stmts[3].Data.(ast.IfNode).ElseBody
	if elseIf == nil || elseIf.Type != ast.If {
		t.Fatalf("else-if was not parsed as a nested If")
	}
	if elseIf.Data.(ast.IfNode).ElseBody.Type != ast.Block {
		t.Errorf("final else is not a block")
	}
	if stmts[4].Data.(ast.WhileNode).Cond.Type != ast.LogicalOp {
		t.Errorf("while condition is not a LogicalOp")
	}
}

func TestParseFor(t *testing.T) {
	root := mustParse(t, `fn main() -> void {
    for (let i = 10; i > 0; i--) { print(i); }
    for (let j: i64 = 0; j < 8; j = j * 2 + 1) { }
}`)
	stmts := root.Data.(ast.ProgramNode).Funcs[0].Data.(ast.FuncDeclNode).Body.Data.(ast.BlockNode).Stmts
	if len(stmts) != 2 || stmts[0].Type != ast.For || stmts[1].Type != ast.For {
		t.Fatalf("statements = %v, want two For nodes", stmts)
	}
	down := stmts[0].Data.(ast.ForNode)
	if init := down.Init.Data.(ast.VarDeclNode); init.Name != "i" || init.Type != nil {
		t.Errorf("init = %+v, want untyped i", init)
	}
	if got := parenthesize(down.Cond); got != "(i > 0)" {
		t.Errorf("cond = %s, want (i > 0)", got)
	}
	step := down.Step.Data.(ast.AssignNode)
	if got := parenthesize(step.Rhs); got != "(i - 1)" {
		t.Errorf("i-- step = %s, want (i - 1)", got)
	}
	if step.Lhs.Parent != down.Step || down.Body.Parent != stmts[0] {
		t.Error("for children have the wrong parents")
	}
	if init := stmts[1].Data.(ast.ForNode).Init.Data.(ast.VarDeclNode); !init.Type.Equal(ast.TypeI64) {
		t.Errorf("typed loop variable has type %s", init.Type)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		pos      util.Pos
		expected string
		found    string
	}{
		{
			name: "missing semicolon",
			src:  "fn main() -> void {\n    let x = 1\n}",
			pos:  util.Pos{Line: 3, Column: 1, Len: 1}, expected: "';' after declaration", found: "'}'",
		},
		{
			name: "trailing tokens",
			src:  "fn main() -> void { } 42",
			pos:  util.Pos{Line: 1, Column: 23, Len: 2}, expected: "'fn' or end of input", found: "integer literal 42",
		},
		{
			name: "missing return type",
			src:  "fn main() { }",
			pos:  util.Pos{Line: 1, Column: 11, Len: 1}, expected: "'->' and a return type", found: "'{'",
		},
		{
			name: "void parameter",
			src:  "fn f(a: void) -> int { return 1; }",
			pos:  util.Pos{Line: 1, Column: 9, Len: 4}, expected: "non-void parameter type", found: "'void'",
		},
		{
			name: "assignment to call",
			src:  "fn main() -> void { f() = 1; }",
			pos:  util.Pos{Line: 1, Column: 25, Len: 1}, expected: "a variable name on the left of '='", found: "expression",
		},
		{
			name: "unexpected end",
			src:  "fn main() -> void { print(1 + ",
			pos:  util.Pos{Line: 1, Column: 31, Len: 1}, expected: "expression", found: "end of input",
		},
		{
			name: "for without let",
			src:  "fn main() -> void { for (i = 0; i < 3; i++) { } }",
			pos:  util.Pos{Line: 1, Column: 26, Len: 1}, expected: "'let' to declare the loop variable", found: "identifier 'i'",
		},
		{
			name: "for with bad step",
			src:  "fn main() -> void { for (let i = 0; i < 3; i + 1) { } }",
			pos:  util.Pos{Line: 1, Column: 46, Len: 1}, expected: "'++', '--' or '=' in loop step", found: "'+'",
		},
		{
			name: "missing parameter type",
			src:  "fn f(a) -> int { return 1; }",
			pos:  util.Pos{Line: 1, Column: 7, Len: 1}, expected: "':' and a parameter type", found: "')'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.src)
			var pe *util.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error = %v, want *util.ParseError", err)
			}
			if diff := cmp.Diff(tt.pos, pe.Pos); diff != "" {
				t.Errorf("position mismatch (-want +got):\n%s", diff)
			}
			if pe.Expected != tt.expected || pe.Found != tt.found {
				t.Errorf("got expected=%q found=%q, want expected=%q found=%q", pe.Expected, pe.Found, tt.expected, tt.found)
			}
		})
	}
}

func TestNewParserSynthesizesEOF(t *testing.T) {
	toks := []token.Token{
		{Type: token.Fn, Line: 1, Column: 1, Len: 2},
		{Type: token.Ident, Value: "f", Line: 1, Column: 4, Len: 1},
	}
	_, err := NewParser(toks).Parse()
	var pe *util.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *util.ParseError", err)
	}
	if pe.Found != "end of input" || pe.Column != 5 {
		t.Errorf("got %s at column %d, want end of input at column 5", pe.Found, pe.Column)
	}
}

var astOpts = cmp.Options{
	cmpopts.IgnoreFields(ast.Node{}, "Parent", "Tok"),
}

func TestFormatRoundTrip(t *testing.T) {
	sources := []string{
		`fn fib(n: int) -> int { if (n < 2) { return n; } return fib(n-1) + fib(n-2); }`,
		`fn main() -> void {
			let s: string = "tab\there \"quoted\" \\ done\n";
			let b = !(1 < 2) || 3 - (4 - 5) == 6 && true;
			let c = -(1 + 2) * -3 % (4 / 2);
			while (b) { b = false; { print(s); } }
			if (b) { } else if (!b) { return; } else { print(c); }
			print(1);
			for (let i = 3; i > 0; i--) { print(i); }
		}`,
		`fn a() -> i64 { return 1; }

		fn b(x: i64, y: bool) -> bool { return y; }`,
	}
	for _, src := range sources {
		first := mustParse(t, src)
		printed := ast.Format(first)
		second := mustParse(t, printed)
		if diff := cmp.Diff(first, second, astOpts); diff != "" {
			t.Errorf("round trip changed the tree (-first +second):\n%s\nformatted:\n%s", diff, printed)
		}
		if again := ast.Format(second); again != printed {
			t.Errorf("Format is not idempotent:\n%s\nvs\n%s", printed, again)
		}
	}
}
