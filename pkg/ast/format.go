package ast

import (
	"fmt"
	"strings"

	"github.com/cyclang/cyc/pkg/token"
)

// Precedence returns the binding power of a binary operator token, or 0 if
// tt is not a binary operator. The parser and the printer share this table.
func Precedence(tt token.Type) int {
	switch tt {
	case token.OrOr:
		return 1
	case token.AndAnd:
		return 2
	case token.EqEq, token.Neq, token.Lt, token.Gt, token.Lte, token.Gte:
		return 3
	case token.Plus, token.Minus:
		return 4
	case token.Star, token.Slash, token.Rem:
		return 5
	}
	return 0
}

const unaryPrec = 6

// Format renders a program (or any statement/expression) as canonical source.
func Format(node *Node) string {
	p := &printer{}
	p.node(node)
	return p.sb.String()
}

type printer struct {
	sb     strings.Builder
	indent int
}

func (p *printer) line(format string, args ...interface{}) {
	p.sb.WriteString(strings.Repeat("    ", p.indent))
	fmt.Fprintf(&p.sb, format, args...)
	p.sb.WriteByte('\n')
}

func (p *printer) node(node *Node) {
	if node == nil {
		return
	}
	if node.Type.IsExpr() {
		p.sb.WriteString(FormatExpr(node))
		return
	}
	switch d := node.Data.(type) {
	case ProgramNode:
		for i, fn := range d.Funcs {
			if i > 0 {
				p.sb.WriteByte('\n')
			}
			p.node(fn)
		}
	case FuncDeclNode:
		params := make([]string, len(d.Params))
		for i, param := range d.Params {
			pd := param.Data.(ParamNode)
			params[i] = fmt.Sprintf("%s: %s", pd.Name, pd.Type)
		}
		p.sb.WriteString(strings.Repeat("    ", p.indent))
		fmt.Fprintf(&p.sb, "fn %s(%s) -> %s ", d.Name, strings.Join(params, ", "), d.ReturnType)
		p.block(d.Body)
		p.sb.WriteByte('\n')
	default:
		p.stmt(node)
	}
}

func (p *printer) block(node *Node) {
	p.sb.WriteString("{\n")
	p.indent++
	for _, s := range node.Data.(BlockNode).Stmts {
		p.stmt(s)
	}
	p.indent--
	p.sb.WriteString(strings.Repeat("    ", p.indent))
	p.sb.WriteString("}")
}

func (p *printer) stmt(node *Node) {
	switch d := node.Data.(type) {
	case VarDeclNode:
		if d.Type != nil {
			p.line("let %s: %s = %s;", d.Name, d.Type, FormatExpr(d.Init))
		} else {
			p.line("let %s = %s;", d.Name, FormatExpr(d.Init))
		}
	case AssignNode:
		p.line("%s = %s;", FormatExpr(d.Lhs), FormatExpr(d.Rhs))
	case ReturnNode:
		if d.Expr == nil {
			p.line("return;")
		} else {
			p.line("return %s;", FormatExpr(d.Expr))
		}
	case PrintNode:
		p.line("print(%s);", FormatExpr(d.Expr))
	case ExprStmtNode:
		p.line("%s;", FormatExpr(d.Expr))
	case BlockNode:
		p.sb.WriteString(strings.Repeat("    ", p.indent))
		p.block(node)
		p.sb.WriteByte('\n')
	case WhileNode:
		p.sb.WriteString(strings.Repeat("    ", p.indent))
		fmt.Fprintf(&p.sb, "while (%s) ", FormatExpr(d.Cond))
		p.block(d.Body)
		p.sb.WriteByte('\n')
	case ForNode:
		init := d.Init.Data.(VarDeclNode)
		decl := "let " + init.Name
		if init.Type != nil {
			decl += ": " + init.Type.String()
		}
		step := d.Step.Data.(AssignNode)
		p.sb.WriteString(strings.Repeat("    ", p.indent))
		fmt.Fprintf(&p.sb, "for (%s = %s; %s; %s = %s) ", decl, FormatExpr(init.Init),
			FormatExpr(d.Cond), FormatExpr(step.Lhs), FormatExpr(step.Rhs))
		p.block(d.Body)
		p.sb.WriteByte('\n')
	case IfNode:
		p.sb.WriteString(strings.Repeat("    ", p.indent))
		p.ifChain(d)
		p.sb.WriteByte('\n')
	}
}

func (p *printer) ifChain(d IfNode) {
	fmt.Fprintf(&p.sb, "if (%s) ", FormatExpr(d.Cond))
	p.block(d.ThenBody)
	if d.ElseBody == nil {
		return
	}
	p.sb.WriteString(" else ")
	if d.ElseBody.Type == If {
		p.ifChain(d.ElseBody.Data.(IfNode))
		return
	}
	p.block(d.ElseBody)
}

// FormatExpr renders an expression with the minimum parentheses needed to
// reparse to the same tree.
func FormatExpr(node *Node) string {
	return formatExpr(node, 0, false)
}

func formatExpr(node *Node, parentPrec int, isRight bool) string {
	if node == nil {
		return ""
	}
	switch d := node.Data.(type) {
	case NumberNode:
		return fmt.Sprintf("%d", d.Value)
	case StringNode:
		return quote(d.Value)
	case BoolNode:
		if d.Value {
			return "true"
		}
		return "false"
	case IdentNode:
		return d.Name
	case FuncCallNode:
		args := make([]string, len(d.Args))
		for i, a := range d.Args {
			args[i] = FormatExpr(a)
		}
		return fmt.Sprintf("%s(%s)", d.Name, strings.Join(args, ", "))
	case UnaryOpNode:
		return d.Op.String() + formatExpr(d.Expr, unaryPrec, false)
	case BinaryOpNode:
		return formatBinary(d.Op, d.Left, d.Right, parentPrec, isRight)
	case LogicalOpNode:
		return formatBinary(d.Op, d.Left, d.Right, parentPrec, isRight)
	case ComparisonNode:
		return formatBinary(d.Op, d.Left, d.Right, parentPrec, isRight)
	}
	return fmt.Sprintf("<%s>", node.Type)
}

func formatBinary(op token.Type, left, right *Node, parentPrec int, isRight bool) string {
	prec := Precedence(op)
	s := fmt.Sprintf("%s %s %s", formatExpr(left, prec, false), op, formatExpr(right, prec, true))
	if prec < parentPrec || (isRight && prec == parentPrec) {
		return "(" + s + ")"
	}
	return s
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		case 0:
			sb.WriteString(`\0`)
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
