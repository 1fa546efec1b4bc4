package typeChecker

import (
	"fmt"
	"math"

	"fortio.org/safecast"
	"github.com/cyclang/cyc/pkg/ast"
	"github.com/cyclang/cyc/pkg/config"
	"github.com/cyclang/cyc/pkg/token"
	"github.com/cyclang/cyc/pkg/util"
)

type SymbolKind int

const (
	SymVar SymbolKind = iota
	SymParam
	SymFunc
)

type Symbol struct {
	Name string
	Kind SymbolKind
	Type *ast.Type
	Node *ast.Node
	// Reassigned is set on parameters that are the target of an assignment;
	// codegen gives those a storage slot.
	Reassigned bool
	Next       *Symbol
}

type Scope struct {
	Symbols *Symbol
	Parent  *Scope
}

// BuiltinNames are reserved for runtime declarations emitted into every module.
var BuiltinNames = []string{"printf", "sprintf", "strcmp", "bool_to_str"}

type TypeChecker struct {
	currentScope *Scope
	globalScope  *Scope
	currentFunc  *ast.FuncDeclNode
	cfg          *config.Config

	// Bindings maps identifier, call, declaration and assignment nodes to
	// the symbol they resolve to.
	Bindings map[*ast.Node]*Symbol
	Warnings []util.Diagnostic
}

func NewTypeChecker(cfg *config.Config) *TypeChecker {
	globalScope := newScope(nil)
	return &TypeChecker{
		currentScope: globalScope,
		globalScope:  globalScope,
		cfg:          cfg,
		Bindings:     make(map[*ast.Node]*Symbol),
	}
}

func newScope(parent *Scope) *Scope { return &Scope{Parent: parent} }
func (tc *TypeChecker) enterScope() { tc.currentScope = newScope(tc.currentScope) }
func (tc *TypeChecker) exitScope() {
	if tc.currentScope.Parent != nil {
		tc.currentScope = tc.currentScope.Parent
	}
}

func (s *Scope) lookup(name string) *Symbol {
	for sym := s.Symbols; sym != nil; sym = sym.Next {
		if sym.Name == name {
			return sym
		}
	}
	return nil
}

func (tc *TypeChecker) findSymbol(name string) *Symbol {
	for s := tc.currentScope; s != nil; s = s.Parent {
		if sym := s.lookup(name); sym != nil {
			return sym
		}
	}
	return nil
}

func (tc *TypeChecker) addSymbol(name string, kind SymbolKind, typ *ast.Type, node *ast.Node) (*Symbol, error) {
	if prev := tc.currentScope.lookup(name); prev != nil {
		return nil, &util.UndefinedSymbolError{Pos: util.PosOf(node.Tok), Name: name, Duplicate: true}
	}
	if kind != SymFunc {
		if shadowed := findFrom(tc.currentScope.Parent, name); shadowed != nil && shadowed.Kind != SymFunc {
			tc.warn(config.WarnShadow, node.Tok, "declaration of '%s' shadows an outer declaration", name)
		}
	}
	sym := &Symbol{Name: name, Kind: kind, Type: typ, Node: node, Next: tc.currentScope.Symbols}
	tc.currentScope.Symbols = sym
	tc.Bindings[node] = sym
	return sym, nil
}

func findFrom(s *Scope, name string) *Symbol {
	for ; s != nil; s = s.Parent {
		if sym := s.lookup(name); sym != nil {
			return sym
		}
	}
	return nil
}

func (tc *TypeChecker) warn(wt config.Warning, tok token.Token, format string, args ...interface{}) {
	if d, ok := util.Warnf(tc.cfg, wt, util.PosOf(tok), format, args...); ok {
		tc.Warnings = append(tc.Warnings, d)
	}
}

func typeErr(tok token.Token, expected, found *ast.Type, format string, args ...interface{}) *util.TypeError {
	return &util.TypeError{
		Pos:      util.PosOf(tok),
		Expected: expected.String(),
		Found:    found.String(),
		Msg:      fmt.Sprintf(format, args...),
	}
}

// Check resolves every function in root. Signatures are registered before
// any body is visited so calls may refer to functions declared later.
func (tc *TypeChecker) Check(root *ast.Node) error {
	prog, ok := root.Data.(ast.ProgramNode)
	if !ok {
		return &util.TypeError{Pos: util.PosOf(root.Tok), Msg: "expected a program root"}
	}
	for _, fn := range prog.Funcs {
		if err := tc.declareFunc(fn); err != nil {
			return err
		}
	}
	for _, fn := range prog.Funcs {
		if err := tc.checkFuncDecl(fn); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TypeChecker) declareFunc(node *ast.Node) error {
	d := node.Data.(ast.FuncDeclNode)
	for _, b := range BuiltinNames {
		if d.Name == b {
			return &util.UndefinedSymbolError{
				Pos: util.PosOf(node.Tok), Name: d.Name, Duplicate: true,
				Msg: fmt.Sprintf("'%s' redeclares a builtin function", d.Name),
			}
		}
	}
	params := make([]*ast.Type, len(d.Params))
	for i, p := range d.Params {
		params[i] = p.Data.(ast.ParamNode).Type
	}
	fnType := ast.NewFuncType(params, d.ReturnType)
	if d.Name == "main" {
		if len(params) != 0 || !(d.ReturnType.IsVoid() || d.ReturnType.Equal(ast.TypeInt)) {
			return typeErr(node.Tok, ast.NewFuncType(nil, ast.TypeInt), fnType, "main must take no parameters and return void or int")
		}
	}
	node.Typ = fnType
	_, err := tc.addSymbol(d.Name, SymFunc, fnType, node)
	return err
}

func (tc *TypeChecker) checkFuncDecl(node *ast.Node) error {
	d := node.Data.(ast.FuncDeclNode)
	prevFunc := tc.currentFunc
	tc.currentFunc = &d
	defer func() { tc.currentFunc = prevFunc }()

	tc.enterScope()
	defer tc.exitScope()

	for _, p := range d.Params {
		pd := p.Data.(ast.ParamNode)
		p.Typ = pd.Type
		if _, err := tc.addSymbol(pd.Name, SymParam, pd.Type, p); err != nil {
			return err
		}
	}

	// The body shares the parameter scope.
	if err := tc.checkStmts(d.Body.Data.(ast.BlockNode).Stmts); err != nil {
		return err
	}
	if !d.ReturnType.IsVoid() && !Terminates(d.Body) {
		return &util.TypeError{
			Pos:      util.PosOf(node.Tok),
			Expected: d.ReturnType.String(),
			Found:    "void",
			Msg:      fmt.Sprintf("missing return at end of function '%s'", d.Name),
		}
	}
	return nil
}

func (tc *TypeChecker) checkStmts(stmts []*ast.Node) error {
	terminated := false
	for _, s := range stmts {
		if terminated {
			tc.warn(config.WarnUnreachableCode, s.Tok, "unreachable code")
			terminated = false
		}
		if err := tc.checkStmt(s); err != nil {
			return err
		}
		if Terminates(s) {
			terminated = true
		}
	}
	return nil
}

// Terminates reports whether control can never fall off the end of stmt.
// Loops are never considered terminating.
func Terminates(stmt *ast.Node) bool {
	if stmt == nil {
		return false
	}
	switch d := stmt.Data.(type) {
	case ast.ReturnNode:
		return true
	case ast.BlockNode:
		for _, s := range d.Stmts {
			if Terminates(s) {
				return true
			}
		}
	case ast.IfNode:
		return d.ElseBody != nil && Terminates(d.ThenBody) && Terminates(d.ElseBody)
	}
	return false
}

func (tc *TypeChecker) checkStmt(node *ast.Node) error {
	switch d := node.Data.(type) {
	case ast.BlockNode:
		tc.enterScope()
		defer tc.exitScope()
		return tc.checkStmts(d.Stmts)
	case ast.VarDeclNode:
		return tc.checkVarDecl(node, d)
	case ast.AssignNode:
		return tc.checkAssign(node, d)
	case ast.IfNode:
		if err := tc.checkCondition(d.Cond, "if"); err != nil {
			return err
		}
		if err := tc.checkStmt(d.ThenBody); err != nil {
			return err
		}
		if d.ElseBody != nil {
			return tc.checkStmt(d.ElseBody)
		}
		return nil
	case ast.WhileNode:
		if err := tc.checkCondition(d.Cond, "while"); err != nil {
			return err
		}
		return tc.checkStmt(d.Body)
	case ast.ForNode:
		return tc.checkFor(d)
	case ast.ReturnNode:
		return tc.checkReturn(node, d)
	case ast.PrintNode:
		_, err := tc.checkValue(d.Expr)
		return err
	case ast.ExprStmtNode:
		if d.Expr.Type != ast.FuncCall {
			tc.warn(config.WarnUnusedValue, d.Expr.Tok, "expression value is not used")
		}
		_, err := tc.checkExpr(d.Expr)
		return err
	}
	return util.Codegenf(util.PosOf(node.Tok), "unexpected statement node %s", node.Type)
}

func (tc *TypeChecker) checkVarDecl(node *ast.Node, d ast.VarDeclNode) error {
	initType, err := tc.checkValue(d.Init)
	if err != nil {
		return err
	}
	typ := initType
	if d.Type != nil {
		if initType, err = tc.coerce(d.Init, initType, d.Type); err != nil {
			return err
		}
		if !initType.Equal(d.Type) {
			return typeErr(d.Init.Tok, d.Type, initType, "cannot initialize '%s'", d.Name)
		}
		typ = d.Type
	}
	node.Typ = typ
	_, err = tc.addSymbol(d.Name, SymVar, typ, node)
	return err
}

func (tc *TypeChecker) checkAssign(node *ast.Node, d ast.AssignNode) error {
	name := d.Lhs.Data.(ast.IdentNode).Name
	sym := tc.findSymbol(name)
	if sym == nil {
		return &util.UndefinedSymbolError{Pos: util.PosOf(d.Lhs.Tok), Name: name}
	}
	if sym.Kind == SymFunc {
		return typeErr(d.Lhs.Tok, ast.TypeInt, sym.Type, "cannot assign to function '%s'", name)
	}
	rhsType, err := tc.checkValue(d.Rhs)
	if err != nil {
		return err
	}
	if rhsType, err = tc.coerce(d.Rhs, rhsType, sym.Type); err != nil {
		return err
	}
	if !rhsType.Equal(sym.Type) {
		return typeErr(d.Rhs.Tok, sym.Type, rhsType, "cannot assign to '%s'", name)
	}
	if sym.Kind == SymParam {
		sym.Reassigned = true
	}
	d.Lhs.Typ, node.Typ = sym.Type, sym.Type
	tc.Bindings[d.Lhs] = sym
	tc.Bindings[node] = sym
	return nil
}

// checkFor binds the loop variable in a scope that covers the header and
// the body. The step must update that variable.
func (tc *TypeChecker) checkFor(d ast.ForNode) error {
	tc.enterScope()
	defer tc.exitScope()

	init := d.Init.Data.(ast.VarDeclNode)
	if err := tc.checkVarDecl(d.Init, init); err != nil {
		return err
	}
	if !d.Init.Typ.IsInt() {
		return typeErr(d.Init.Tok, ast.TypeInt, d.Init.Typ, "loop variable '%s'", init.Name)
	}
	if err := tc.checkCondition(d.Cond, "for"); err != nil {
		return err
	}
	if err := tc.checkAssign(d.Step, d.Step.Data.(ast.AssignNode)); err != nil {
		return err
	}
	if tc.Bindings[d.Step] != tc.Bindings[d.Init] {
		return &util.TypeError{
			Pos: util.PosOf(d.Step.Tok),
			Msg: fmt.Sprintf("step of for loop must update the loop variable '%s'", init.Name),
		}
	}
	return tc.checkStmt(d.Body)
}

func (tc *TypeChecker) checkCondition(cond *ast.Node, construct string) error {
	typ, err := tc.checkValue(cond)
	if err != nil {
		return err
	}
	if !typ.Equal(ast.TypeBool) {
		return typeErr(cond.Tok, ast.TypeBool, typ, "%s condition", construct)
	}
	return nil
}

func (tc *TypeChecker) checkReturn(node *ast.Node, d ast.ReturnNode) error {
	want := tc.currentFunc.ReturnType
	if d.Expr == nil {
		if !want.IsVoid() {
			return typeErr(node.Tok, want, ast.TypeVoid, "missing return value")
		}
		return nil
	}
	got, err := tc.checkExpr(d.Expr)
	if err != nil {
		return err
	}
	if want.IsVoid() {
		return typeErr(d.Expr.Tok, ast.TypeVoid, got, "void function '%s' returns a value", tc.currentFunc.Name)
	}
	if got, err = tc.coerce(d.Expr, got, want); err != nil {
		return err
	}
	if !got.Equal(want) {
		return typeErr(d.Expr.Tok, want, got, "return value of '%s'", tc.currentFunc.Name)
	}
	return nil
}

// checkValue is checkExpr for positions that consume the result.
func (tc *TypeChecker) checkValue(node *ast.Node) (*ast.Type, error) {
	typ, err := tc.checkExpr(node)
	if err != nil {
		return nil, err
	}
	if typ.IsVoid() {
		return nil, &util.TypeError{Pos: util.PosOf(node.Tok), Msg: "void value used as an expression", Expected: "a value", Found: "void"}
	}
	return typ, nil
}

func (tc *TypeChecker) checkExpr(node *ast.Node) (*ast.Type, error) {
	typ, err := tc.exprType(node)
	if err != nil {
		return nil, err
	}
	if node.Typ == nil {
		node.Typ = typ
	}
	return node.Typ, nil
}

func (tc *TypeChecker) exprType(node *ast.Node) (*ast.Type, error) {
	switch d := node.Data.(type) {
	case ast.NumberNode:
		if d.Value >= math.MinInt32 && d.Value <= math.MaxInt32 {
			return ast.TypeInt, nil
		}
		return ast.TypeI64, nil
	case ast.StringNode:
		return ast.TypeString, nil
	case ast.BoolNode:
		return ast.TypeBool, nil
	case ast.IdentNode:
		sym := tc.findSymbol(d.Name)
		if sym == nil {
			return nil, &util.UndefinedSymbolError{Pos: util.PosOf(node.Tok), Name: d.Name}
		}
		if sym.Kind == SymFunc {
			return nil, &util.TypeError{Pos: util.PosOf(node.Tok), Msg: fmt.Sprintf("function '%s' used as a value", d.Name), Expected: "a value", Found: sym.Type.String()}
		}
		tc.Bindings[node] = sym
		return sym.Type, nil
	case ast.UnaryOpNode:
		return tc.checkUnary(node, d)
	case ast.BinaryOpNode:
		return tc.checkBinary(node, d)
	case ast.ComparisonNode:
		return tc.checkComparison(node, d)
	case ast.LogicalOpNode:
		for _, side := range []*ast.Node{d.Left, d.Right} {
			typ, err := tc.checkValue(side)
			if err != nil {
				return nil, err
			}
			if !typ.Equal(ast.TypeBool) {
				return nil, typeErr(side.Tok, ast.TypeBool, typ, "operand of '%s'", d.Op)
			}
		}
		return ast.TypeBool, nil
	case ast.FuncCallNode:
		return tc.checkFuncCall(node, d)
	}
	return nil, util.Codegenf(util.PosOf(node.Tok), "unexpected expression node %s", node.Type)
}

func (tc *TypeChecker) checkUnary(node *ast.Node, d ast.UnaryOpNode) (*ast.Type, error) {
	// A negated literal is typed by its negated value so the minimum of
	// each width can be written.
	if num, ok := d.Expr.Data.(ast.NumberNode); ok && d.Op == token.Minus {
		typ := ast.TypeI64
		if fitsWidth(-num.Value, 32) {
			typ = ast.TypeInt
		}
		d.Expr.Typ = typ
		return typ, nil
	}
	typ, err := tc.checkValue(d.Expr)
	if err != nil {
		return nil, err
	}
	switch d.Op {
	case token.Minus:
		if !typ.IsInt() {
			return nil, typeErr(node.Tok, ast.TypeInt, typ, "operand of unary '-'")
		}
	case token.Not:
		if !typ.Equal(ast.TypeBool) {
			return nil, typeErr(node.Tok, ast.TypeBool, typ, "operand of '!'")
		}
	}
	return typ, nil
}

func (tc *TypeChecker) checkBinary(node *ast.Node, d ast.BinaryOpNode) (*ast.Type, error) {
	lt, err := tc.checkValue(d.Left)
	if err != nil {
		return nil, err
	}
	rt, err := tc.checkValue(d.Right)
	if err != nil {
		return nil, err
	}

	if d.Op == token.Plus && lt.Equal(ast.TypeString) && rt.Equal(ast.TypeString) {
		if tc.cfg.IsFeatureEnabled(config.FeatStringConcat) && ast.FoldStringConcat(node) {
			return ast.TypeString, nil
		}
		return nil, &util.TypeError{Pos: util.PosOf(node.Tok), Msg: "'+' on strings requires constant operands"}
	}
	if !lt.IsInt() {
		return nil, typeErr(d.Left.Tok, ast.TypeInt, lt, "left operand of '%s'", d.Op)
	}
	return tc.unifyInts(node, d.Op, d.Left, d.Right, lt, rt)
}

func (tc *TypeChecker) checkComparison(node *ast.Node, d ast.ComparisonNode) (*ast.Type, error) {
	lt, err := tc.checkValue(d.Left)
	if err != nil {
		return nil, err
	}
	rt, err := tc.checkValue(d.Right)
	if err != nil {
		return nil, err
	}
	isEquality := d.Op == token.EqEq || d.Op == token.Neq
	switch {
	case lt.IsInt():
		if _, err := tc.unifyInts(node, d.Op, d.Left, d.Right, lt, rt); err != nil {
			return nil, err
		}
	case !isEquality:
		return nil, typeErr(d.Left.Tok, ast.TypeInt, lt, "left operand of '%s'", d.Op)
	case !lt.Equal(rt):
		return nil, typeErr(d.Right.Tok, lt, rt, "right operand of '%s'", d.Op)
	}
	return ast.TypeBool, nil
}

// unifyInts requires both operands to share one integer type. A constant
// operand adopts the width of the other side.
func (tc *TypeChecker) unifyInts(node *ast.Node, op token.Type, left, right *ast.Node, lt, rt *ast.Type) (*ast.Type, error) {
	if !rt.IsInt() {
		return nil, typeErr(right.Tok, lt, rt, "right operand of '%s'", op)
	}
	if lt.Equal(rt) {
		return lt, nil
	}
	var err error
	switch {
	case isIntConst(right):
		rt, err = tc.coerce(right, rt, lt)
	case isIntConst(left):
		lt, err = tc.coerce(left, lt, rt)
	}
	if err != nil {
		return nil, err
	}
	if !lt.Equal(rt) {
		return nil, typeErr(right.Tok, lt, rt, "operands of '%s' differ", op)
	}
	return lt, nil
}

// isIntConst reports whether node is built only from integer literals and
// arithmetic over them.
func isIntConst(node *ast.Node) bool {
	switch d := node.Data.(type) {
	case ast.NumberNode:
		return true
	case ast.UnaryOpNode:
		return d.Op == token.Minus && isIntConst(d.Expr)
	case ast.BinaryOpNode:
		return isIntConst(d.Left) && isIntConst(d.Right)
	}
	return false
}

// coerce widens (or narrows) a constant integer expression to want when
// every literal in it fits. Other expressions keep their type.
func (tc *TypeChecker) coerce(node *ast.Node, have, want *ast.Type) (*ast.Type, error) {
	if !want.IsInt() || !have.IsInt() || have.Equal(want) || !isIntConst(node) {
		return have, nil
	}
	var err error
	ast.Walk(node, func(n *ast.Node) bool {
		if err != nil {
			return false
		}
		lit, v, ok := literalValue(n)
		if ok && !fitsWidth(v, want.Width) {
			err = &util.TypeError{
				Pos:      util.PosOf(n.Tok),
				Expected: want.String(),
				Found:    fmt.Sprintf("integer literal %d", v),
				Msg:      "constant overflows",
			}
			return false
		}
		n.Typ = want
		if ok && lit != n {
			lit.Typ = want
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return want, nil
}

// literalValue returns the literal under n and its value, folding a unary
// minus applied directly to a literal.
func literalValue(n *ast.Node) (*ast.Node, int64, bool) {
	switch d := n.Data.(type) {
	case ast.NumberNode:
		return n, d.Value, true
	case ast.UnaryOpNode:
		if num, ok := d.Expr.Data.(ast.NumberNode); ok && d.Op == token.Minus {
			return d.Expr, -num.Value, true
		}
	}
	return nil, 0, false
}

func fitsWidth(v int64, width int) bool {
	if width == 32 {
		_, err := safecast.Conv[int32](v)
		return err == nil
	}
	return true
}

func (tc *TypeChecker) checkFuncCall(node *ast.Node, d ast.FuncCallNode) (*ast.Type, error) {
	sym := tc.findSymbol(d.Name)
	if sym == nil {
		return nil, &util.UndefinedSymbolError{Pos: util.PosOf(node.Tok), Name: d.Name}
	}
	if sym.Kind != SymFunc {
		return nil, &util.TypeError{Pos: util.PosOf(node.Tok), Msg: fmt.Sprintf("'%s' is not a function", d.Name), Expected: "function", Found: sym.Type.String()}
	}
	tc.Bindings[node] = sym

	params := sym.Type.Params
	if len(d.Args) != len(params) {
		return nil, &util.TypeError{
			Pos:      util.PosOf(node.Tok),
			Msg:      fmt.Sprintf("wrong number of arguments in call to '%s'", d.Name),
			Expected: fmt.Sprintf("%d arguments", len(params)),
			Found:    fmt.Sprintf("%d", len(d.Args)),
		}
	}
	for i, arg := range d.Args {
		at, err := tc.checkValue(arg)
		if err != nil {
			return nil, err
		}
		if at, err = tc.coerce(arg, at, params[i]); err != nil {
			return nil, err
		}
		if !at.Equal(params[i]) {
			return nil, typeErr(arg.Tok, params[i], at, "argument %d of '%s'", i+1, d.Name)
		}
	}
	return sym.Type.Return, nil
}
