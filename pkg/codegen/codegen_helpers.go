package codegen

import (
	"github.com/cyclang/cyc/pkg/ast"
	"github.com/cyclang/cyc/pkg/ir"
	"github.com/cyclang/cyc/pkg/token"
)

var arithOps = map[token.Type]ir.Op{
	token.Plus:  ir.OpAdd,
	token.Minus: ir.OpSub,
	token.Star:  ir.OpMul,
	token.Slash: ir.OpDiv,
	token.Rem:   ir.OpRem,
}

var compareOps = map[token.Type]ir.Op{
	token.EqEq: ir.OpCEq,
	token.Neq:  ir.OpCNeq,
	token.Lt:   ir.OpCLt,
	token.Gt:   ir.OpCGt,
	token.Lte:  ir.OpCLe,
	token.Gte:  ir.OpCGe,
}

func (ctx *Context) codegenExpr(node *ast.Node) (ir.Value, error) {
	switch d := node.Data.(type) {
	case ast.NumberNode:
		return &ir.Const{Value: d.Value, Typ: ir.GetType(node.Typ)}, nil
	case ast.BoolNode:
		if d.Value {
			return &ir.Const{Value: 1, Typ: ir.TypeI1}, nil
		}
		return &ir.Const{Value: 0, Typ: ir.TypeI1}, nil
	case ast.StringNode:
		return ctx.prog.AddString(d.Value), nil
	case ast.IdentNode:
		return ctx.codegenIdent(node, d)
	case ast.UnaryOpNode:
		return ctx.codegenUnary(node, d)
	case ast.BinaryOpNode:
		left, err := ctx.codegenExpr(d.Left)
		if err != nil {
			return nil, err
		}
		right, err := ctx.codegenExpr(d.Right)
		if err != nil {
			return nil, err
		}
		op, ok := arithOps[d.Op]
		if !ok {
			return nil, ctx.errorf(node, "unknown arithmetic operator %s", d.Op)
		}
		res := ctx.newTemp()
		ctx.addInstr(&ir.Instruction{Op: op, Typ: ir.GetType(node.Typ), Result: res, Args: []ir.Value{left, right}})
		return res, nil
	case ast.ComparisonNode:
		return ctx.codegenComparison(node, d)
	case ast.LogicalOpNode:
		return ctx.codegenLogical(node, d)
	case ast.FuncCallNode:
		return ctx.codegenCall(node, d)
	}
	return nil, ctx.errorf(node, "unhandled expression %s", node.Type)
}

func (ctx *Context) codegenIdent(node *ast.Node, d ast.IdentNode) (ir.Value, error) {
	sym := ctx.bindings[node]
	if sym == nil {
		return nil, ctx.errorf(node, "identifier '%s' has no binding", d.Name)
	}
	if slot, ok := ctx.slots[sym]; ok {
		return ctx.genLoad(slot, ir.GetType(sym.Type)), nil
	}
	if val, ok := ctx.params[sym]; ok {
		return val, nil
	}
	return nil, ctx.errorf(node, "'%s' has no storage in this function", d.Name)
}

// codegenUnary lowers -x as 0 - x and !x as x xor true.
func (ctx *Context) codegenUnary(node *ast.Node, d ast.UnaryOpNode) (ir.Value, error) {
	if num, ok := d.Expr.Data.(ast.NumberNode); ok && d.Op == token.Minus {
		return &ir.Const{Value: -num.Value, Typ: ir.GetType(node.Typ)}, nil
	}
	val, err := ctx.codegenExpr(d.Expr)
	if err != nil {
		return nil, err
	}
	typ := ir.GetType(node.Typ)
	res := ctx.newTemp()
	switch d.Op {
	case token.Minus:
		ctx.addInstr(&ir.Instruction{Op: ir.OpSub, Typ: typ, Result: res, Args: []ir.Value{&ir.Const{Value: 0, Typ: typ}, val}})
	case token.Not:
		ctx.addInstr(&ir.Instruction{Op: ir.OpXor, Typ: ir.TypeI1, Result: res, Args: []ir.Value{val, &ir.Const{Value: 1, Typ: ir.TypeI1}}})
	default:
		return nil, ctx.errorf(node, "unknown unary operator %s", d.Op)
	}
	return res, nil
}

// codegenComparison compares integers and bools directly. Strings are
// compared by content through strcmp.
func (ctx *Context) codegenComparison(node *ast.Node, d ast.ComparisonNode) (ir.Value, error) {
	op, ok := compareOps[d.Op]
	if !ok {
		return nil, ctx.errorf(node, "unknown comparison operator %s", d.Op)
	}
	left, err := ctx.codegenExpr(d.Left)
	if err != nil {
		return nil, err
	}
	right, err := ctx.codegenExpr(d.Right)
	if err != nil {
		return nil, err
	}
	operandType := ir.GetType(d.Left.Typ)
	if operandType == ir.TypePtr {
		ctx.prog.AddExtern(&ir.Extern{Name: "strcmp", Params: []ir.Type{ir.TypePtr, ir.TypePtr}, ReturnType: ir.TypeI32})
		left = ctx.genCall("strcmp", ir.TypeI32, []ir.Value{left, right}, []ir.Type{ir.TypePtr, ir.TypePtr})
		right = &ir.Const{Value: 0, Typ: ir.TypeI32}
		operandType = ir.TypeI32
	}
	res := ctx.newTemp()
	ctx.addInstr(&ir.Instruction{Op: op, Typ: ir.TypeI1, OperandType: operandType, Result: res, Args: []ir.Value{left, right}})
	return res, nil
}

// codegenLogical short-circuits && and || and merges the two paths with a
// phi. The incoming edge from the left operand carries the constant that
// decided the result.
func (ctx *Context) codegenLogical(node *ast.Node, d ast.LogicalOpNode) (ir.Value, error) {
	prefix, shortVal := "and", int64(0)
	if d.Op == token.OrOr {
		prefix, shortVal = "or", 1
	}
	labels := ctx.newLabels(prefix+".rhs", prefix+".end")
	rhsL, endL := labels[0], labels[1]

	left, err := ctx.codegenExpr(d.Left)
	if err != nil {
		return nil, err
	}
	leftBlock := ctx.currentBlock.Label
	if d.Op == token.OrOr {
		ctx.addInstr(&ir.Instruction{Op: ir.OpJnz, Args: []ir.Value{left, endL, rhsL}})
	} else {
		ctx.addInstr(&ir.Instruction{Op: ir.OpJnz, Args: []ir.Value{left, rhsL, endL}})
	}

	ctx.startBlock(rhsL)
	right, err := ctx.codegenExpr(d.Right)
	if err != nil {
		return nil, err
	}
	rightBlock := ctx.currentBlock.Label
	ctx.addInstr(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{endL}})

	ctx.startBlock(endL)
	res := ctx.newTemp()
	ctx.addInstr(&ir.Instruction{
		Op:     ir.OpPhi,
		Typ:    ir.TypeI1,
		Result: res,
		Args:   []ir.Value{leftBlock, &ir.Const{Value: shortVal, Typ: ir.TypeI1}, rightBlock, right},
	})
	return res, nil
}

func (ctx *Context) codegenCall(node *ast.Node, d ast.FuncCallNode) (ir.Value, error) {
	fn := ctx.prog.FindFunc(d.Name)
	if fn == nil {
		return nil, ctx.errorf(node, "call to unregistered function '%s'", d.Name)
	}
	if len(fn.Params) != len(d.Args) {
		return nil, ctx.errorf(node, "call to '%s' with %d arguments, want %d", d.Name, len(d.Args), len(fn.Params))
	}
	args := make([]ir.Value, len(d.Args))
	argTypes := make([]ir.Type, len(d.Args))
	for i, arg := range d.Args {
		val, err := ctx.codegenExpr(arg)
		if err != nil {
			return nil, err
		}
		args[i], argTypes[i] = val, fn.Params[i].Typ
	}
	return ctx.genCall(d.Name, fn.ReturnType, args, argTypes), nil
}
