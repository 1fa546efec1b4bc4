package codegen

import (
	"fmt"

	"github.com/cyclang/cyc/pkg/ast"
	"github.com/cyclang/cyc/pkg/config"
	"github.com/cyclang/cyc/pkg/ir"
	"github.com/cyclang/cyc/pkg/typeChecker"
	"github.com/cyclang/cyc/pkg/util"
)

const (
	boolHelperName = "bool_to_str"
	fmtInt         = "%d\n"
	fmtI64         = "%lld\n"
	fmtStr         = "%s\n"
)

type Context struct {
	prog     *ir.Program
	cfg      *config.Config
	bindings map[*ast.Node]*typeChecker.Symbol

	tempCount    int
	labelCount   int
	currentFunc  *ir.Func
	currentBlock *ir.BasicBlock
	entryBlock   *ir.BasicBlock
	allocaCount  int
	slotNames    map[string]int
	// voidMain is set while lowering a 'main' declared void, which is
	// emitted returning i32 0.
	voidMain bool

	slots  map[*typeChecker.Symbol]*ir.Temporary
	params map[*typeChecker.Symbol]*ir.Temporary
}

// NewContext prepares code generation over an AST that has already been
// resolved. bindings is the resolver's symbol map.
func NewContext(cfg *config.Config, bindings map[*ast.Node]*typeChecker.Symbol) *Context {
	return &Context{
		prog:     ir.NewProgram(),
		cfg:      cfg,
		bindings: bindings,
		slots:    make(map[*typeChecker.Symbol]*ir.Temporary),
		params:   make(map[*typeChecker.Symbol]*ir.Temporary),
	}
}

func (ctx *Context) newTemp() *ir.Temporary {
	t := &ir.Temporary{Name: fmt.Sprintf("t%d", ctx.tempCount), ID: ctx.tempCount}
	ctx.tempCount++
	return t
}

// newLabels returns one label per prefix, all sharing a fresh sequence
// number, e.g. then.3/else.3/merge.3.
func (ctx *Context) newLabels(prefixes ...string) []*ir.Label {
	n := ctx.labelCount
	ctx.labelCount++
	labels := make([]*ir.Label, len(prefixes))
	for i, p := range prefixes {
		labels[i] = &ir.Label{Name: fmt.Sprintf("%s.%d", p, n)}
	}
	return labels
}

func (ctx *Context) startBlock(label *ir.Label) {
	block := &ir.BasicBlock{Label: label}
	ctx.currentFunc.Blocks = append(ctx.currentFunc.Blocks, block)
	ctx.currentBlock = block
}

func (ctx *Context) addInstr(instr *ir.Instruction) {
	ctx.currentBlock.Instructions = append(ctx.currentBlock.Instructions, instr)
	if instr.Op.IsTerminator() {
		ctx.currentBlock = nil
	}
}

// newSlot allocates a stack slot in the entry block, ahead of every other
// entry instruction, so each slot dominates all of its uses.
func (ctx *Context) newSlot(name string, typ ir.Type) *ir.Temporary {
	slotName := name + ".addr"
	if n := ctx.slotNames[slotName]; n > 0 {
		slotName = fmt.Sprintf("%s%d", slotName, n)
	}
	ctx.slotNames[name+".addr"]++

	slot := &ir.Temporary{Name: slotName, ID: -1}
	alloc := &ir.Instruction{Op: ir.OpAlloc, Typ: typ, Result: slot}
	instrs := ctx.entryBlock.Instructions
	instrs = append(instrs, nil)
	copy(instrs[ctx.allocaCount+1:], instrs[ctx.allocaCount:])
	instrs[ctx.allocaCount] = alloc
	ctx.entryBlock.Instructions = instrs
	ctx.allocaCount++
	return slot
}

func (ctx *Context) genLoad(addr ir.Value, typ ir.Type) ir.Value {
	res := ctx.newTemp()
	ctx.addInstr(&ir.Instruction{Op: ir.OpLoad, Typ: typ, Result: res, Args: []ir.Value{addr}})
	return res
}

func (ctx *Context) genStore(addr, value ir.Value, typ ir.Type) {
	ctx.addInstr(&ir.Instruction{Op: ir.OpStore, Typ: typ, Args: []ir.Value{value, addr}})
}

func (ctx *Context) errorf(node *ast.Node, format string, args ...interface{}) error {
	var pos util.Pos
	if node != nil {
		pos = util.PosOf(node.Tok)
	}
	return util.Codegenf(pos, format, args...)
}

// GenerateIR lowers a resolved program. Function headers are registered
// before any body is lowered so calls resolve regardless of order.
func (ctx *Context) GenerateIR(root *ast.Node) (*ir.Program, error) {
	prog, ok := root.Data.(ast.ProgramNode)
	if !ok {
		return nil, ctx.errorf(root, "expected a program root, got %s", root.Type)
	}

	ctx.declareBuiltins()
	ctx.collectStrings(root)

	if !ctx.cfg.IsFeatureEnabled(config.FeatLazyHelpers) || printsBool(root) {
		ctx.emitBoolHelper()
	}

	funcs := make([]*ir.Func, len(prog.Funcs))
	for i, node := range prog.Funcs {
		fn, err := ctx.declareFunc(node)
		if err != nil {
			return nil, err
		}
		funcs[i] = fn
	}
	for i, node := range prog.Funcs {
		if err := ctx.codegenFuncDecl(node, funcs[i]); err != nil {
			return nil, err
		}
	}

	if err := ir.Verify(ctx.prog); err != nil {
		return nil, err
	}
	return ctx.prog, nil
}

func (ctx *Context) declareBuiltins() {
	ctx.prog.AddExtern(&ir.Extern{Name: "printf", Params: []ir.Type{ir.TypePtr}, ReturnType: ir.TypeI32, HasVarargs: true})
	ctx.prog.AddExtern(&ir.Extern{Name: "sprintf", Params: []ir.Type{ir.TypePtr, ir.TypePtr}, ReturnType: ir.TypeI32, HasVarargs: true})
}

// collectStrings interns every literal in source order.
func (ctx *Context) collectStrings(root *ast.Node) {
	ast.Walk(root, func(n *ast.Node) bool {
		if n.Type == ast.String {
			ctx.prog.AddString(n.Data.(ast.StringNode).Value)
		}
		return true
	})
}

func printsBool(root *ast.Node) bool {
	found := false
	ast.Walk(root, func(n *ast.Node) bool {
		if n.Type == ast.Print && n.Data.(ast.PrintNode).Expr.Typ.Equal(ast.TypeBool) {
			found = true
		}
		return !found
	})
	return found
}

// emitBoolHelper defines bool_to_str, which branches on its argument and
// returns the matching interned "true\n"/"false\n" constant.
func (ctx *Context) emitBoolHelper() {
	if ctx.prog.FindFunc(boolHelperName) != nil {
		return
	}
	trueStr, falseStr := ctx.prog.AddString("true\n"), ctx.prog.AddString("false\n")
	arg := &ir.Temporary{Name: "value", ID: 0}
	fn := &ir.Func{
		Name:       boolHelperName,
		Params:     []*ir.Param{{Name: "value", Typ: ir.TypeI1, Val: arg}},
		ReturnType: ir.TypePtr,
	}
	ctx.prog.Funcs = append(ctx.prog.Funcs, fn)

	prevFunc := ctx.currentFunc
	ctx.currentFunc = fn
	defer func() { ctx.currentFunc, ctx.currentBlock = prevFunc, nil }()

	thenL, elseL := &ir.Label{Name: "then"}, &ir.Label{Name: "else"}
	ctx.startBlock(&ir.Label{Name: "entry"})
	ctx.addInstr(&ir.Instruction{Op: ir.OpJnz, Args: []ir.Value{arg, thenL, elseL}})
	ctx.startBlock(thenL)
	ctx.addInstr(&ir.Instruction{Op: ir.OpRet, Typ: ir.TypePtr, Args: []ir.Value{trueStr}})
	ctx.startBlock(elseL)
	ctx.addInstr(&ir.Instruction{Op: ir.OpRet, Typ: ir.TypePtr, Args: []ir.Value{falseStr}})
}

func (ctx *Context) declareFunc(node *ast.Node) (*ir.Func, error) {
	d := node.Data.(ast.FuncDeclNode)
	if ctx.prog.FindFunc(d.Name) != nil || ctx.prog.FindExtern(d.Name) != nil {
		return nil, ctx.errorf(node, "function '%s' registered twice", d.Name)
	}
	fn := &ir.Func{Name: d.Name, ReturnType: ir.GetType(d.ReturnType), Node: node}
	if d.Name == "main" && d.ReturnType.IsVoid() {
		fn.ReturnType = ir.TypeI32
	}
	for i, p := range d.Params {
		pd := p.Data.(ast.ParamNode)
		fn.Params = append(fn.Params, &ir.Param{
			Name: pd.Name,
			Typ:  ir.GetType(pd.Type),
			Val:  &ir.Temporary{Name: pd.Name, ID: i},
		})
	}
	ctx.prog.Funcs = append(ctx.prog.Funcs, fn)
	return fn, nil
}

func (ctx *Context) codegenFuncDecl(node *ast.Node, fn *ir.Func) error {
	d := node.Data.(ast.FuncDeclNode)

	ctx.currentFunc = fn
	ctx.tempCount, ctx.labelCount, ctx.allocaCount = 0, 0, 0
	ctx.slotNames = make(map[string]int)
	ctx.voidMain = d.Name == "main" && d.ReturnType.IsVoid()
	defer func() { ctx.currentFunc, ctx.currentBlock, ctx.entryBlock = nil, nil, nil }()

	ctx.startBlock(&ir.Label{Name: "entry"})
	ctx.entryBlock = ctx.currentBlock

	for i, p := range d.Params {
		sym := ctx.bindings[p]
		if sym == nil {
			return ctx.errorf(p, "parameter '%s' has no binding", p.Data.(ast.ParamNode).Name)
		}
		param := fn.Params[i]
		if !sym.Reassigned {
			ctx.params[sym] = param.Val
			continue
		}
		slot := ctx.newSlot(param.Name, param.Typ)
		ctx.genStore(slot, param.Val, param.Typ)
		ctx.slots[sym] = slot
	}

	terminates, err := ctx.codegenStmt(d.Body)
	if err != nil {
		return err
	}
	if !terminates {
		switch {
		case ctx.voidMain:
			ctx.addInstr(&ir.Instruction{Op: ir.OpRet, Typ: ir.TypeI32, Args: []ir.Value{&ir.Const{Value: 0, Typ: ir.TypeI32}}})
		case fn.ReturnType == ir.TypeNone:
			ctx.addInstr(&ir.Instruction{Op: ir.OpRet})
		default:
			return ctx.errorf(node, "control reaches the end of non-void function '%s'", d.Name)
		}
	}
	return nil
}

func (ctx *Context) codegenStmt(node *ast.Node) (terminates bool, err error) {
	switch d := node.Data.(type) {
	case ast.BlockNode:
		for _, stmt := range d.Stmts {
			// Statements after a return are unreachable; the resolver has
			// already warned about them.
			if terminates {
				break
			}
			if terminates, err = ctx.codegenStmt(stmt); err != nil {
				return false, err
			}
		}
		return terminates, nil
	case ast.VarDeclNode:
		return false, ctx.codegenVarDecl(node, d)
	case ast.AssignNode:
		return false, ctx.codegenAssign(node, d)
	case ast.IfNode:
		return ctx.codegenIf(d)
	case ast.WhileNode:
		return false, ctx.codegenWhile(d)
	case ast.ForNode:
		return false, ctx.codegenFor(d)
	case ast.ReturnNode:
		return true, ctx.codegenReturn(d)
	case ast.PrintNode:
		return false, ctx.codegenPrint(d)
	case ast.ExprStmtNode:
		_, err := ctx.codegenExpr(d.Expr)
		return false, err
	}
	return false, ctx.errorf(node, "unhandled statement %s", node.Type)
}

func (ctx *Context) codegenVarDecl(node *ast.Node, d ast.VarDeclNode) error {
	sym := ctx.bindings[node]
	if sym == nil {
		return ctx.errorf(node, "declaration of '%s' has no binding", d.Name)
	}
	typ := ir.GetType(sym.Type)
	val, err := ctx.codegenExpr(d.Init)
	if err != nil {
		return err
	}
	slot := ctx.newSlot(d.Name, typ)
	ctx.genStore(slot, val, typ)
	ctx.slots[sym] = slot
	return nil
}

func (ctx *Context) codegenAssign(node *ast.Node, d ast.AssignNode) error {
	sym := ctx.bindings[node]
	if sym == nil {
		return ctx.errorf(node, "assignment target has no binding")
	}
	slot, ok := ctx.slots[sym]
	if !ok {
		return ctx.errorf(node, "assignment to '%s', which has no storage slot", sym.Name)
	}
	val, err := ctx.codegenExpr(d.Rhs)
	if err != nil {
		return err
	}
	ctx.genStore(slot, val, ir.GetType(sym.Type))
	return nil
}

// codegenIf lowers to then/else/merge blocks. The else block exists even
// without an else branch. A branch that returns gets no edge to merge, and
// merge is only created when some branch reaches it.
func (ctx *Context) codegenIf(d ast.IfNode) (bool, error) {
	labels := ctx.newLabels("then", "else", "merge")
	thenL, elseL, mergeL := labels[0], labels[1], labels[2]

	cond, err := ctx.codegenExpr(d.Cond)
	if err != nil {
		return false, err
	}
	ctx.addInstr(&ir.Instruction{Op: ir.OpJnz, Args: []ir.Value{cond, thenL, elseL}})

	ctx.startBlock(thenL)
	thenTerminates, err := ctx.codegenStmt(d.ThenBody)
	if err != nil {
		return false, err
	}
	if !thenTerminates {
		ctx.addInstr(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{mergeL}})
	}

	ctx.startBlock(elseL)
	var elseTerminates bool
	if d.ElseBody != nil {
		if elseTerminates, err = ctx.codegenStmt(d.ElseBody); err != nil {
			return false, err
		}
	}
	if !elseTerminates {
		ctx.addInstr(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{mergeL}})
	}

	if thenTerminates && elseTerminates {
		return true, nil
	}
	ctx.startBlock(mergeL)
	return false, nil
}

func (ctx *Context) codegenWhile(d ast.WhileNode) error {
	labels := ctx.newLabels("while.cond", "while.body", "while.end")
	condL, bodyL, endL := labels[0], labels[1], labels[2]

	ctx.addInstr(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{condL}})
	ctx.startBlock(condL)
	cond, err := ctx.codegenExpr(d.Cond)
	if err != nil {
		return err
	}
	ctx.addInstr(&ir.Instruction{Op: ir.OpJnz, Args: []ir.Value{cond, bodyL, endL}})

	ctx.startBlock(bodyL)
	bodyTerminates, err := ctx.codegenStmt(d.Body)
	if err != nil {
		return err
	}
	if !bodyTerminates {
		ctx.addInstr(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{condL}})
	}
	ctx.startBlock(endL)
	return nil
}

// codegenFor lowers a counted loop. The loop variable lives in a slot, and
// the step gets its own block that the body falls through to. A body that
// always returns leaves the step out.
func (ctx *Context) codegenFor(d ast.ForNode) error {
	labels := ctx.newLabels("for.cond", "for.body", "for.step", "for.end")
	condL, bodyL, stepL, endL := labels[0], labels[1], labels[2], labels[3]

	if err := ctx.codegenVarDecl(d.Init, d.Init.Data.(ast.VarDeclNode)); err != nil {
		return err
	}
	ctx.addInstr(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{condL}})
	ctx.startBlock(condL)
	cond, err := ctx.codegenExpr(d.Cond)
	if err != nil {
		return err
	}
	ctx.addInstr(&ir.Instruction{Op: ir.OpJnz, Args: []ir.Value{cond, bodyL, endL}})

	ctx.startBlock(bodyL)
	bodyTerminates, err := ctx.codegenStmt(d.Body)
	if err != nil {
		return err
	}
	if !bodyTerminates {
		ctx.addInstr(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{stepL}})
		ctx.startBlock(stepL)
		if err := ctx.codegenAssign(d.Step, d.Step.Data.(ast.AssignNode)); err != nil {
			return err
		}
		ctx.addInstr(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{condL}})
	}
	ctx.startBlock(endL)
	return nil
}

func (ctx *Context) codegenReturn(d ast.ReturnNode) error {
	if d.Expr == nil {
		if ctx.voidMain {
			ctx.addInstr(&ir.Instruction{Op: ir.OpRet, Typ: ir.TypeI32, Args: []ir.Value{&ir.Const{Value: 0, Typ: ir.TypeI32}}})
			return nil
		}
		ctx.addInstr(&ir.Instruction{Op: ir.OpRet})
		return nil
	}
	val, err := ctx.codegenExpr(d.Expr)
	if err != nil {
		return err
	}
	ctx.addInstr(&ir.Instruction{Op: ir.OpRet, Typ: ir.GetType(d.Expr.Typ), Args: []ir.Value{val}})
	return nil
}

// codegenPrint formats through printf with a format chosen by the
// argument's type. Bools go through bool_to_str first.
func (ctx *Context) codegenPrint(d ast.PrintNode) error {
	val, err := ctx.codegenExpr(d.Expr)
	if err != nil {
		return err
	}
	typ := d.Expr.Typ
	var format string
	argType := ir.GetType(typ)
	switch {
	case typ.Equal(ast.TypeInt):
		format = fmtInt
	case typ.Equal(ast.TypeI64):
		format = fmtI64
	case typ.Equal(ast.TypeString):
		format = fmtStr
	case typ.Equal(ast.TypeBool):
		if ctx.prog.FindFunc(boolHelperName) == nil {
			return ctx.errorf(d.Expr, "bool print without %s", boolHelperName)
		}
		val = ctx.genCall(boolHelperName, ir.TypePtr, []ir.Value{val}, []ir.Type{ir.TypeI1})
		format, argType = fmtStr, ir.TypePtr
	default:
		return ctx.errorf(d.Expr, "cannot print a value of type %s", typ)
	}
	ctx.genCall("printf", ir.TypeI32, []ir.Value{ctx.prog.AddString(format), val}, []ir.Type{ir.TypePtr, argType})
	return nil
}

// genCall emits a call and returns its result, or nil for void callees.
func (ctx *Context) genCall(callee string, ret ir.Type, args []ir.Value, argTypes []ir.Type) ir.Value {
	instr := &ir.Instruction{
		Op:       ir.OpCall,
		Typ:      ret,
		Args:     append([]ir.Value{&ir.Global{Name: callee}}, args...),
		ArgTypes: argTypes,
	}
	var res ir.Value
	if ret != ir.TypeNone {
		t := ctx.newTemp()
		instr.Result, res = t, t
	}
	ctx.addInstr(instr)
	return res
}
