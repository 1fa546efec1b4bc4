package ir

import (
	"fmt"

	"github.com/cyclang/cyc/pkg/ast"
)

type Op int

const (
	OpAlloc Op = iota
	OpLoad
	OpStore
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpXor
	OpCEq
	OpCNeq
	OpCLt
	OpCGt
	OpCLe
	OpCGe
	OpCall
	OpPhi
	OpJmp
	OpJnz
	OpRet
)

var opNames = [...]string{
	OpAlloc: "alloc", OpLoad: "load", OpStore: "store", OpAdd: "add", OpSub: "sub", OpMul: "mul",
	OpDiv: "div", OpRem: "rem", OpXor: "xor", OpCEq: "ceq", OpCNeq: "cne", OpCLt: "clt", OpCGt: "cgt",
	OpCLe: "cle", OpCGe: "cge", OpCall: "call", OpPhi: "phi", OpJmp: "jmp", OpJnz: "jnz", OpRet: "ret",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// IsTerminator reports whether op ends a basic block.
func (op Op) IsTerminator() bool { return op == OpJmp || op == OpJnz || op == OpRet }

func (op Op) IsComparison() bool { return op >= OpCEq && op <= OpCGe }

type Type int

const (
	TypeNone Type = iota // void
	TypeI1
	TypeI32
	TypeI64
	TypePtr
)

func (t Type) String() string {
	switch t {
	case TypeI1:
		return "i1"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypePtr:
		return "ptr"
	}
	return "void"
}

type Value interface {
	isValue()
	String() string
}

type Const struct {
	Value int64
	Typ   Type
}
type Global struct{ Name string }
type Temporary struct {
	Name string
	ID   int
}
type Label struct{ Name string }

func (c *Const) isValue()     {}
func (g *Global) isValue()    {}
func (t *Temporary) isValue() {}
func (l *Label) isValue()     {}

func (c *Const) String() string     { return fmt.Sprintf("%d", c.Value) }
func (g *Global) String() string    { return "@" + g.Name }
func (t *Temporary) String() string { return "%" + t.Name }
func (l *Label) String() string     { return l.Name }

type Func struct {
	Name       string
	Params     []*Param
	ReturnType Type
	Blocks     []*BasicBlock
	Node       *ast.Node
}

type Param struct {
	Name string
	Typ  Type
	Val  *Temporary
}

type BasicBlock struct {
	Label        *Label
	Instructions []*Instruction
}

// Terminator returns the block's final instruction if it is a terminator.
func (b *BasicBlock) Terminator() *Instruction {
	if n := len(b.Instructions); n > 0 && b.Instructions[n-1].Op.IsTerminator() {
		return b.Instructions[n-1]
	}
	return nil
}

// Instruction operands by op:
//
//	alloc            Typ = slot type, Result = slot address
//	load             Typ = loaded type, Args = {addr}
//	store            Typ = stored type, Args = {value, addr}
//	arith, xor       Typ = operand/result type, Args = {a, b}
//	compare          OperandType = operand type, Args = {a, b}, result is i1
//	call             Typ = return type, Args = {callee, args...}, ArgTypes
//	phi              Typ = result type, Args = {label, value, label, value...}
//	jmp              Args = {label}
//	jnz              Args = {cond, then, else}
//	ret              Typ = value type, Args = {} or {value}
type Instruction struct {
	Op          Op
	Typ         Type
	OperandType Type
	Result      Value
	Args        []Value
	ArgTypes    []Type
}

// StringConst is an interned, null-terminated module constant.
type StringConst struct {
	Name  string
	Value string
}

type Extern struct {
	Name       string
	Params     []Type
	ReturnType Type
	HasVarargs bool
}

type Program struct {
	Strings []*StringConst
	Externs []*Extern
	Funcs   []*Func

	stringIndex map[string]*StringConst
}

func NewProgram() *Program {
	return &Program{stringIndex: make(map[string]*StringConst)}
}

// AddString interns s and returns a reference to its constant. Constants
// keep first-seen order.
func (p *Program) AddString(s string) *Global {
	if sc, ok := p.stringIndex[s]; ok {
		return &Global{Name: sc.Name}
	}
	name := ".str"
	if n := len(p.Strings); n > 0 {
		name = fmt.Sprintf(".str.%d", n)
	}
	sc := &StringConst{Name: name, Value: s}
	p.Strings = append(p.Strings, sc)
	p.stringIndex[s] = sc
	return &Global{Name: name}
}

// AddExtern declares an external function once.
func (p *Program) AddExtern(e *Extern) {
	if p.FindExtern(e.Name) == nil {
		p.Externs = append(p.Externs, e)
	}
}

func (p *Program) FindExtern(name string) *Extern {
	for _, e := range p.Externs {
		if e.Name == name {
			return e
		}
	}
	return nil
}

func (p *Program) FindFunc(name string) *Func {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func GetType(typ *ast.Type) Type {
	if typ == nil {
		return TypeNone
	}
	switch typ.Kind {
	case ast.TYPE_INT:
		if typ.Width == 64 {
			return TypeI64
		}
		return TypeI32
	case ast.TYPE_BOOL:
		return TypeI1
	case ast.TYPE_STRING:
		return TypePtr
	}
	return TypeNone
}
