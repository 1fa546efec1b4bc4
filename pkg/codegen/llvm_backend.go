package codegen

import (
	"bytes"
	"fmt"

	"github.com/cyclang/cyc/pkg/config"
	"github.com/cyclang/cyc/pkg/ir"
	"github.com/cyclang/cyc/pkg/util"
	lir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

const wasmDataLayout = "e-m:e-p:32:32-p10:8:8-p20:8:8-i64:64-n32:64-S128-ni:1:10:20"

var ptrType = types.NewPointer(types.I8)

type llvmBackend struct {
	module  *lir.Module
	globals map[string]value.Value
	funcs   map[string]*lir.Func

	// Per-function state.
	blocks map[string]*lir.Block
	values map[*ir.Temporary]value.Value
	fn     *ir.Func
}

func NewLLVMBackend() Backend { return &llvmBackend{} }

// Generate builds an llir module from prog and returns its textual form.
// Unnamed temporaries are numbered by llir in definition order, so output
// is stable for a given program.
func (b *llvmBackend) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	b.module = lir.NewModule()
	b.globals = make(map[string]value.Value)
	b.funcs = make(map[string]*lir.Func)

	b.module.TargetTriple = cfg.Triple
	if cfg.Target == config.TargetWasm32 {
		b.module.DataLayout = wasmDataLayout
	}

	for _, s := range prog.Strings {
		b.genString(s)
	}
	for _, e := range prog.Externs {
		params := make([]*lir.Param, len(e.Params))
		for i, p := range e.Params {
			params[i] = lir.NewParam("", llvmType(p))
		}
		f := b.module.NewFunc(e.Name, llvmType(e.ReturnType), params...)
		f.Sig.Variadic = e.HasVarargs
		b.funcs[e.Name] = f
	}
	// Declare every function before lowering any body so calls can refer
	// forward.
	for _, fn := range prog.Funcs {
		params := make([]*lir.Param, len(fn.Params))
		for i, p := range fn.Params {
			params[i] = lir.NewParam(paramName(fn, p.Name), llvmType(p.Typ))
		}
		b.funcs[fn.Name] = b.module.NewFunc(fn.Name, llvmType(fn.ReturnType), params...)
	}
	for _, fn := range prog.Funcs {
		if err := b.genFunc(fn); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	buf.WriteString(b.module.String())
	return &buf, nil
}

// paramName keeps a parameter out of the function's label namespace, which
// LLVM shares with local values.
func paramName(fn *ir.Func, name string) string {
	for _, block := range fn.Blocks {
		if block.Label.Name == name {
			return paramName(fn, name+".arg")
		}
	}
	return name
}

func (b *llvmBackend) genString(s *ir.StringConst) {
	init := constant.NewCharArrayFromString(s.Value + "\x00")
	g := b.module.NewGlobalDef(s.Name, init)
	g.Immutable = true
	g.Linkage = enum.LinkagePrivate
	g.UnnamedAddr = enum.UnnamedAddrUnnamedAddr

	zero := constant.NewInt(types.I32, 0)
	gep := constant.NewGetElementPtr(init.Typ, g, zero, zero)
	gep.InBounds = true
	b.globals[s.Name] = gep
}

func llvmType(t ir.Type) types.Type {
	switch t {
	case ir.TypeI1:
		return types.I1
	case ir.TypeI32:
		return types.I32
	case ir.TypeI64:
		return types.I64
	case ir.TypePtr:
		return ptrType
	}
	return types.Void
}

func (b *llvmBackend) errorf(format string, args ...interface{}) error {
	var pos util.Pos
	if b.fn != nil && b.fn.Node != nil {
		pos = util.PosOf(b.fn.Node.Tok)
	}
	return util.Codegenf(pos, "llvm: %s", fmt.Sprintf(format, args...))
}

func (b *llvmBackend) genFunc(fn *ir.Func) error {
	f := b.funcs[fn.Name]
	b.fn = fn
	b.blocks = make(map[string]*lir.Block, len(fn.Blocks))
	b.values = make(map[*ir.Temporary]value.Value)
	defer func() { b.fn = nil }()

	for i, p := range fn.Params {
		b.values[p.Val] = f.Params[i]
	}
	for _, block := range fn.Blocks {
		b.blocks[block.Label.Name] = f.NewBlock(block.Label.Name)
	}

	// Phi operands can name values defined in later blocks, so phis are
	// patched once every block has been lowered.
	type pendingPhi struct {
		phi   *lir.InstPhi
		instr *ir.Instruction
	}
	var phis []pendingPhi

	for _, block := range fn.Blocks {
		lb := b.blocks[block.Label.Name]
		for _, instr := range block.Instructions {
			if instr.Op == ir.OpPhi {
				phi := &lir.InstPhi{Typ: llvmType(instr.Typ)}
				lb.Insts = append(lb.Insts, phi)
				b.define(instr, phi)
				phis = append(phis, pendingPhi{phi, instr})
				continue
			}
			if err := b.genInstr(lb, instr); err != nil {
				return err
			}
		}
	}

	for _, p := range phis {
		for i := 0; i+1 < len(p.instr.Args); i += 2 {
			label := p.instr.Args[i].(*ir.Label)
			val, err := b.operand(p.instr.Args[i+1], p.instr.Typ)
			if err != nil {
				return err
			}
			p.phi.Incs = append(p.phi.Incs, lir.NewIncoming(val, b.blocks[label.Name]))
		}
	}
	return nil
}

func (b *llvmBackend) define(instr *ir.Instruction, v value.Value) {
	if t, ok := instr.Result.(*ir.Temporary); ok {
		b.values[t] = v
	}
}

// operand resolves an IR value. want types integer constants.
func (b *llvmBackend) operand(v ir.Value, want ir.Type) (value.Value, error) {
	switch v := v.(type) {
	case *ir.Const:
		typ := v.Typ
		if typ == ir.TypeNone {
			typ = want
		}
		if typ == ir.TypeI1 {
			return constant.NewBool(v.Value != 0), nil
		}
		it, ok := llvmType(typ).(*types.IntType)
		if !ok {
			return nil, b.errorf("integer constant %d of non-integer type %s", v.Value, typ)
		}
		return constant.NewInt(it, v.Value), nil
	case *ir.Temporary:
		if val, ok := b.values[v]; ok {
			return val, nil
		}
		return nil, b.errorf("temporary %s used before definition", v)
	case *ir.Global:
		if val, ok := b.globals[v.Name]; ok {
			return val, nil
		}
		if f, ok := b.funcs[v.Name]; ok {
			return f, nil
		}
		return nil, b.errorf("unknown global %s", v)
	}
	return nil, b.errorf("unexpected operand %v", v)
}

func (b *llvmBackend) operands(args []ir.Value, want ir.Type) ([]value.Value, error) {
	out := make([]value.Value, len(args))
	for i, a := range args {
		v, err := b.operand(a, want)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (b *llvmBackend) block(v ir.Value) (*lir.Block, error) {
	l, ok := v.(*ir.Label)
	if !ok {
		return nil, b.errorf("branch target %v is not a label", v)
	}
	if blk, ok := b.blocks[l.Name]; ok {
		return blk, nil
	}
	return nil, b.errorf("branch to unknown block '%s'", l.Name)
}

var icmpPreds = map[ir.Op]enum.IPred{
	ir.OpCEq:  enum.IPredEQ,
	ir.OpCNeq: enum.IPredNE,
	ir.OpCLt:  enum.IPredSLT,
	ir.OpCGt:  enum.IPredSGT,
	ir.OpCLe:  enum.IPredSLE,
	ir.OpCGe:  enum.IPredSGE,
}

func (b *llvmBackend) genInstr(lb *lir.Block, instr *ir.Instruction) error {
	switch instr.Op {
	case ir.OpAlloc:
		inst := lb.NewAlloca(llvmType(instr.Typ))
		if t, ok := instr.Result.(*ir.Temporary); ok {
			inst.SetName(t.Name)
		}
		b.define(instr, inst)
		return nil

	case ir.OpLoad:
		addr, err := b.operand(instr.Args[0], ir.TypePtr)
		if err != nil {
			return err
		}
		b.define(instr, lb.NewLoad(llvmType(instr.Typ), addr))
		return nil

	case ir.OpStore:
		val, err := b.operand(instr.Args[0], instr.Typ)
		if err != nil {
			return err
		}
		addr, err := b.operand(instr.Args[1], ir.TypePtr)
		if err != nil {
			return err
		}
		lb.NewStore(val, addr)
		return nil

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpRem, ir.OpXor:
		args, err := b.operands(instr.Args, instr.Typ)
		if err != nil {
			return err
		}
		x, y := args[0], args[1]
		var v value.Value
		switch instr.Op {
		case ir.OpAdd:
			v = lb.NewAdd(x, y)
		case ir.OpSub:
			v = lb.NewSub(x, y)
		case ir.OpMul:
			v = lb.NewMul(x, y)
		case ir.OpDiv:
			v = lb.NewSDiv(x, y)
		case ir.OpRem:
			v = lb.NewSRem(x, y)
		case ir.OpXor:
			v = lb.NewXor(x, y)
		}
		b.define(instr, v)
		return nil

	case ir.OpCEq, ir.OpCNeq, ir.OpCLt, ir.OpCGt, ir.OpCLe, ir.OpCGe:
		args, err := b.operands(instr.Args, instr.OperandType)
		if err != nil {
			return err
		}
		b.define(instr, lb.NewICmp(icmpPreds[instr.Op], args[0], args[1]))
		return nil

	case ir.OpCall:
		callee, err := b.operand(instr.Args[0], ir.TypeNone)
		if err != nil {
			return err
		}
		args := make([]value.Value, len(instr.Args)-1)
		for i, a := range instr.Args[1:] {
			want := ir.TypeNone
			if i < len(instr.ArgTypes) {
				want = instr.ArgTypes[i]
			}
			if args[i], err = b.operand(a, want); err != nil {
				return err
			}
		}
		b.define(instr, lb.NewCall(callee, args...))
		return nil

	case ir.OpJmp:
		target, err := b.block(instr.Args[0])
		if err != nil {
			return err
		}
		lb.NewBr(target)
		return nil

	case ir.OpJnz:
		cond, err := b.operand(instr.Args[0], ir.TypeI1)
		if err != nil {
			return err
		}
		then, err := b.block(instr.Args[1])
		if err != nil {
			return err
		}
		els, err := b.block(instr.Args[2])
		if err != nil {
			return err
		}
		lb.NewCondBr(cond, then, els)
		return nil

	case ir.OpRet:
		if len(instr.Args) == 0 {
			lb.NewRet(nil)
			return nil
		}
		val, err := b.operand(instr.Args[0], instr.Typ)
		if err != nil {
			return err
		}
		lb.NewRet(val)
		return nil
	}
	return b.errorf("unsupported instruction %s", instr.Op)
}
