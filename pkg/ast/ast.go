// Package ast defines the types used to represent the Abstract Syntax Tree (AST)
package ast

import (
	"fmt"
	"strings"

	"github.com/cyclang/cyc/pkg/token"
)

// NodeType defines the kind of a node in the AST
type NodeType int

// Node types enum
const (
	// Expressions
	Number NodeType = iota
	String
	Bool
	Ident
	UnaryOp
	BinaryOp
	LogicalOp
	Comparison
	FuncCall

	// Statements
	Program
	FuncDecl
	Param
	VarDecl
	Assign
	If
	While
	For
	Return
	Print
	ExprStmt
	Block
)

var nodeTypeNames = [...]string{
	Number: "Number", String: "String", Bool: "Bool", Ident: "Ident", UnaryOp: "UnaryOp",
	BinaryOp: "BinaryOp", LogicalOp: "LogicalOp", Comparison: "Comparison", FuncCall: "FuncCall",
	Program: "Program", FuncDecl: "FuncDecl", Param: "Param", VarDecl: "VarDecl", Assign: "Assign",
	If: "If", While: "While", For: "For", Return: "Return", Print: "Print", ExprStmt: "ExprStmt", Block: "Block",
}

func (t NodeType) String() string {
	if int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// IsExpr reports whether nodes of this type produce a value.
func (t NodeType) IsExpr() bool { return t <= FuncCall }

// Node represents a node in the Abstract Syntax Tree
type Node struct {
	Type   NodeType
	Tok    token.Token
	Parent *Node
	Data   interface{}
	Typ    *Type // Set by the type checker
}

// TypeKind defines the kind of a Type
type TypeKind int

const (
	TYPE_INT TypeKind = iota
	TYPE_BOOL
	TYPE_STRING
	TYPE_VOID
	TYPE_FUNC
)

// Type is a resolved source type. Width is only meaningful for TYPE_INT.
type Type struct {
	Kind   TypeKind
	Width  int
	Params []*Type
	Return *Type
}

// Pre-defined types
var (
	TypeInt    = &Type{Kind: TYPE_INT, Width: 32}
	TypeI64    = &Type{Kind: TYPE_INT, Width: 64}
	TypeBool   = &Type{Kind: TYPE_BOOL}
	TypeString = &Type{Kind: TYPE_STRING}
	TypeVoid   = &Type{Kind: TYPE_VOID}
)

func NewFuncType(params []*Type, ret *Type) *Type {
	return &Type{Kind: TYPE_FUNC, Params: params, Return: ret}
}

func (t *Type) IsInt() bool  { return t != nil && t.Kind == TYPE_INT }
func (t *Type) IsVoid() bool { return t != nil && t.Kind == TYPE_VOID }

// Equal compares structurally.
func (t *Type) Equal(o *Type) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case TYPE_INT:
		return t.Width == o.Width
	case TYPE_FUNC:
		if len(t.Params) != len(o.Params) || !t.Return.Equal(o.Return) {
			return false
		}
		for i := range t.Params {
			if !t.Params[i].Equal(o.Params[i]) {
				return false
			}
		}
	}
	return true
}

func (t *Type) String() string {
	if t == nil {
		return "<unresolved>"
	}
	switch t.Kind {
	case TYPE_INT:
		if t.Width == 32 {
			return "int"
		}
		return fmt.Sprintf("i%d", t.Width)
	case TYPE_BOOL:
		return "bool"
	case TYPE_STRING:
		return "string"
	case TYPE_VOID:
		return "void"
	case TYPE_FUNC:
		params := make([]string, len(t.Params))
		for i, p := range t.Params {
			params[i] = p.String()
		}
		return fmt.Sprintf("fn(%s) -> %s", strings.Join(params, ", "), t.Return)
	}
	return "<unknown>"
}

// TypeFromToken maps a type keyword to its Type.
func TypeFromToken(tt token.Type) (*Type, bool) {
	switch tt {
	case token.Int, token.I32:
		return TypeInt, true
	case token.I64:
		return TypeI64, true
	case token.Bool:
		return TypeBool, true
	case token.StringKeyword:
		return TypeString, true
	case token.Void:
		return TypeVoid, true
	}
	return nil, false
}

// --- Node Data Structs ---
type NumberNode struct{ Value int64 }
type StringNode struct{ Value string }
type BoolNode struct{ Value bool }
type IdentNode struct{ Name string }
type UnaryOpNode struct {
	Op   token.Type
	Expr *Node
}
type BinaryOpNode struct {
	Op          token.Type
	Left, Right *Node
}
type LogicalOpNode struct {
	Op          token.Type
	Left, Right *Node
}
type ComparisonNode struct {
	Op          token.Type
	Left, Right *Node
}
type FuncCallNode struct {
	Name string
	Args []*Node
}

type ProgramNode struct{ Funcs []*Node }
type FuncDeclNode struct {
	Name       string
	Params     []*Node
	ReturnType *Type
	Body       *Node
}
type ParamNode struct {
	Name string
	Type *Type
}

// VarDeclNode is a let binding. Type is nil when it is inferred from Init.
type VarDeclNode struct {
	Name string
	Type *Type
	Init *Node
}
type AssignNode struct{ Lhs, Rhs *Node }
type IfNode struct{ Cond, ThenBody, ElseBody *Node }
type WhileNode struct{ Cond, Body *Node }

// ForNode is a counted loop. Init is the VarDecl of the loop variable, which
// is scoped to the loop, and Step is the Assign run after each iteration.
type ForNode struct{ Init, Cond, Step, Body *Node }
type ReturnNode struct{ Expr *Node }
type PrintNode struct{ Expr *Node }
type ExprStmtNode struct{ Expr *Node }
type BlockNode struct{ Stmts []*Node }

// --- Node Constructors ---

func newNode(tok token.Token, nodeType NodeType, data interface{}, children ...*Node) *Node {
	node := &Node{Type: nodeType, Tok: tok, Data: data}
	for _, child := range children {
		if child != nil {
			child.Parent = node
		}
	}
	return node
}

func NewNumber(tok token.Token, value int64) *Node {
	return newNode(tok, Number, NumberNode{Value: value})
}
func NewString(tok token.Token, value string) *Node {
	return newNode(tok, String, StringNode{Value: value})
}
func NewBool(tok token.Token, value bool) *Node {
	return newNode(tok, Bool, BoolNode{Value: value})
}
func NewIdent(tok token.Token, name string) *Node {
	return newNode(tok, Ident, IdentNode{Name: name})
}
func NewUnaryOp(tok token.Token, op token.Type, expr *Node) *Node {
	return newNode(tok, UnaryOp, UnaryOpNode{Op: op, Expr: expr}, expr)
}
func NewBinaryOp(tok token.Token, op token.Type, left, right *Node) *Node {
	return newNode(tok, BinaryOp, BinaryOpNode{Op: op, Left: left, Right: right}, left, right)
}
func NewLogicalOp(tok token.Token, op token.Type, left, right *Node) *Node {
	return newNode(tok, LogicalOp, LogicalOpNode{Op: op, Left: left, Right: right}, left, right)
}
func NewComparison(tok token.Token, op token.Type, left, right *Node) *Node {
	return newNode(tok, Comparison, ComparisonNode{Op: op, Left: left, Right: right}, left, right)
}
func NewFuncCall(tok token.Token, name string, args []*Node) *Node {
	return newNode(tok, FuncCall, FuncCallNode{Name: name, Args: args}, args...)
}

func NewProgram(tok token.Token, funcs []*Node) *Node {
	return newNode(tok, Program, ProgramNode{Funcs: funcs}, funcs...)
}
func NewFuncDecl(tok token.Token, name string, params []*Node, returnType *Type, body *Node) *Node {
	node := newNode(tok, FuncDecl, FuncDeclNode{Name: name, Params: params, ReturnType: returnType, Body: body}, params...)
	if body != nil {
		body.Parent = node
	}
	return node
}
func NewParam(tok token.Token, name string, typ *Type) *Node {
	return newNode(tok, Param, ParamNode{Name: name, Type: typ})
}
func NewVarDecl(tok token.Token, name string, varType *Type, init *Node) *Node {
	return newNode(tok, VarDecl, VarDeclNode{Name: name, Type: varType, Init: init}, init)
}
func NewAssign(tok token.Token, lhs, rhs *Node) *Node {
	return newNode(tok, Assign, AssignNode{Lhs: lhs, Rhs: rhs}, lhs, rhs)
}
func NewIf(tok token.Token, cond, thenBody, elseBody *Node) *Node {
	return newNode(tok, If, IfNode{Cond: cond, ThenBody: thenBody, ElseBody: elseBody}, cond, thenBody, elseBody)
}
func NewWhile(tok token.Token, cond, body *Node) *Node {
	return newNode(tok, While, WhileNode{Cond: cond, Body: body}, cond, body)
}
func NewFor(tok token.Token, init, cond, step, body *Node) *Node {
	return newNode(tok, For, ForNode{Init: init, Cond: cond, Step: step, Body: body}, init, cond, step, body)
}
func NewReturn(tok token.Token, expr *Node) *Node {
	return newNode(tok, Return, ReturnNode{Expr: expr}, expr)
}
func NewPrint(tok token.Token, expr *Node) *Node {
	return newNode(tok, Print, PrintNode{Expr: expr}, expr)
}
func NewExprStmt(tok token.Token, expr *Node) *Node {
	return newNode(tok, ExprStmt, ExprStmtNode{Expr: expr}, expr)
}
func NewBlock(tok token.Token, stmts []*Node) *Node {
	return newNode(tok, Block, BlockNode{Stmts: stmts}, stmts...)
}

// Children returns the direct children of node in source order.
func Children(node *Node) []*Node {
	if node == nil {
		return nil
	}
	var out []*Node
	add := func(ns ...*Node) {
		for _, n := range ns {
			if n != nil {
				out = append(out, n)
			}
		}
	}
	switch d := node.Data.(type) {
	case UnaryOpNode:
		add(d.Expr)
	case BinaryOpNode:
		add(d.Left, d.Right)
	case LogicalOpNode:
		add(d.Left, d.Right)
	case ComparisonNode:
		add(d.Left, d.Right)
	case FuncCallNode:
		add(d.Args...)
	case ProgramNode:
		add(d.Funcs...)
	case FuncDeclNode:
		add(d.Params...)
		add(d.Body)
	case VarDeclNode:
		add(d.Init)
	case AssignNode:
		add(d.Lhs, d.Rhs)
	case IfNode:
		add(d.Cond, d.ThenBody, d.ElseBody)
	case WhileNode:
		add(d.Cond, d.Body)
	case ForNode:
		add(d.Init, d.Cond, d.Step, d.Body)
	case ReturnNode:
		add(d.Expr)
	case PrintNode:
		add(d.Expr)
	case ExprStmtNode:
		add(d.Expr)
	case BlockNode:
		add(d.Stmts...)
	}
	return out
}

// Walk visits node and its descendants depth-first in source order. If fn
// returns false the children of that node are skipped.
func Walk(node *Node, fn func(*Node) bool) {
	if node == nil || !fn(node) {
		return
	}
	for _, c := range Children(node) {
		Walk(c, fn)
	}
}

// FoldStringConcat collapses '+' between two string literals into a single
// literal. It reports whether node was rewritten.
func FoldStringConcat(node *Node) bool {
	if node == nil || node.Type != BinaryOp {
		return false
	}
	d := node.Data.(BinaryOpNode)
	if d.Op != token.Plus {
		return false
	}
	FoldStringConcat(d.Left)
	FoldStringConcat(d.Right)
	if d.Left.Type != String || d.Right.Type != String {
		return false
	}
	joined := d.Left.Data.(StringNode).Value + d.Right.Data.(StringNode).Value
	node.Type = String
	node.Data = StringNode{Value: joined}
	node.Typ = TypeString
	return true
}
