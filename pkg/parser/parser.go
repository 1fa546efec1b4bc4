package parser

import (
	"strconv"

	"github.com/cyclang/cyc/pkg/ast"
	"github.com/cyclang/cyc/pkg/token"
	"github.com/cyclang/cyc/pkg/util"
)

// Parser holds the state for the parsing process
type Parser struct {
	tokens   []token.Token
	pos      int
	current  token.Token
	previous token.Token
}

// NewParser creates and initializes a new Parser from a token stream. The
// stream is expected to end with an EOF token; one is synthesized otherwise.
func NewParser(tokens []token.Token) *Parser {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != token.EOF {
		eof := token.Token{Type: token.EOF, Line: 1, Column: 1}
		if len(tokens) > 0 {
			last := tokens[len(tokens)-1]
			eof.Line, eof.Column = last.Line, last.Column+last.Len
		}
		tokens = append(tokens[:len(tokens):len(tokens)], eof)
	}
	return &Parser{tokens: tokens, current: tokens[0]}
}

// Parser helpers
func (p *Parser) advance() {
	if p.pos < len(p.tokens)-1 {
		p.previous = p.current
		p.pos++
		p.current = p.tokens[p.pos]
	}
}

func (p *Parser) check(tokType token.Type) bool {
	return p.current.Type == tokType
}

func (p *Parser) match(tokType token.Type) bool {
	if !p.check(tokType) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) expect(tokType token.Type, expected string) (token.Token, error) {
	if p.check(tokType) {
		tok := p.current
		p.advance()
		return tok, nil
	}
	return token.Token{}, p.errorAt(p.current, expected)
}

func (p *Parser) errorAt(tok token.Token, expected string) *util.ParseError {
	pos := util.PosOf(tok)
	if pos.Len == 0 {
		pos.Len = 1
	}
	return &util.ParseError{Pos: pos, Expected: expected, Found: tok.Describe()}
}

// Parse consumes the whole token stream and returns the Program root.
func (p *Parser) Parse() (*ast.Node, error) {
	tok := p.current
	var funcs []*ast.Node
	for !p.check(token.EOF) {
		if !p.check(token.Fn) {
			return nil, p.errorAt(p.current, "'fn' or end of input")
		}
		fn, err := p.parseFuncDecl()
		if err != nil {
			return nil, err
		}
		funcs = append(funcs, fn)
	}
	return ast.NewProgram(tok, funcs), nil
}

func (p *Parser) parseFuncDecl() (*ast.Node, error) {
	p.advance() // fn
	nameTok, err := p.expect(token.Ident, "function name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LParen, "'(' after function name"); err != nil {
		return nil, err
	}

	var params []*ast.Node
	if !p.check(token.RParen) {
		for {
			param, err := p.parseParam()
			if err != nil {
				return nil, err
			}
			params = append(params, param)
			if !p.match(token.Comma) {
				break
			}
		}
	}
	if _, err := p.expect(token.RParen, "',' or ')' in parameter list"); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Arrow, "'->' and a return type"); err != nil {
		return nil, err
	}
	retType, err := p.parseType()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlockStmt()
	if err != nil {
		return nil, err
	}
	return ast.NewFuncDecl(nameTok, nameTok.Value, params, retType, body), nil
}

func (p *Parser) parseParam() (*ast.Node, error) {
	nameTok, err := p.expect(token.Ident, "parameter name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Colon, "':' and a parameter type"); err != nil {
		return nil, err
	}
	typ, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if typ.IsVoid() {
		return nil, p.errorAt(p.previous, "non-void parameter type")
	}
	return ast.NewParam(nameTok, nameTok.Value, typ), nil
}

func (p *Parser) parseType() (*ast.Type, error) {
	if typ, ok := ast.TypeFromToken(p.current.Type); ok {
		p.advance()
		return typ, nil
	}
	return nil, p.errorAt(p.current, "type name")
}

// Statement Parsing
func (p *Parser) parseBlockStmt() (*ast.Node, error) {
	tok, err := p.expect(token.LBrace, "'{' to start a block")
	if err != nil {
		return nil, err
	}
	var stmts []*ast.Node
	for !p.check(token.RBrace) && !p.check(token.EOF) {
		stmt, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	if _, err := p.expect(token.RBrace, "'}' after block"); err != nil {
		return nil, err
	}
	return ast.NewBlock(tok, stmts), nil
}

func (p *Parser) parseStmt() (*ast.Node, error) {
	tok := p.current
	switch {
	case p.check(token.LBrace):
		return p.parseBlockStmt()
	case p.match(token.Let):
		return p.parseLetStmt(tok)
	case p.match(token.If):
		return p.parseIfStmt(tok)
	case p.match(token.While):
		cond, err := p.parseCondition("while")
		if err != nil {
			return nil, err
		}
		body, err := p.parseBlockStmt()
		if err != nil {
			return nil, err
		}
		return ast.NewWhile(tok, cond, body), nil
	case p.match(token.For):
		return p.parseForStmt(tok)
	case p.match(token.Return):
		var expr *ast.Node
		if !p.check(token.Semi) {
			var err error
			if expr, err = p.parseExpr(); err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(token.Semi, "';' after return"); err != nil {
			return nil, err
		}
		return ast.NewReturn(tok, expr), nil
	case p.match(token.Print):
		if _, err := p.expect(token.LParen, "'(' after print"); err != nil {
			return nil, err
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RParen, "')' after print argument"); err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Semi, "';' after print statement"); err != nil {
			return nil, err
		}
		return ast.NewPrint(tok, expr), nil
	}
	return p.parseSimpleStmt()
}

func (p *Parser) parseLetStmt(letTok token.Token) (*ast.Node, error) {
	nameTok, err := p.expect(token.Ident, "variable name after 'let'")
	if err != nil {
		return nil, err
	}
	var typ *ast.Type
	if p.match(token.Colon) {
		if typ, err = p.parseType(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(token.Eq, "'=' and an initializer"); err != nil {
		return nil, err
	}
	init, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Semi, "';' after declaration"); err != nil {
		return nil, err
	}
	return ast.NewVarDecl(nameTok, nameTok.Value, typ, init), nil
}

func (p *Parser) parseForStmt(forTok token.Token) (*ast.Node, error) {
	if _, err := p.expect(token.LParen, "'(' after 'for'"); err != nil {
		return nil, err
	}
	letTok, err := p.expect(token.Let, "'let' to declare the loop variable")
	if err != nil {
		return nil, err
	}
	init, err := p.parseLetStmt(letTok)
	if err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Semi, "';' after loop condition"); err != nil {
		return nil, err
	}
	step, err := p.parseForStep()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen, "')' after loop step"); err != nil {
		return nil, err
	}
	body, err := p.parseBlockStmt()
	if err != nil {
		return nil, err
	}
	return ast.NewFor(forTok, init, cond, step, body), nil
}

// parseForStep reads 'i++', 'i--' or 'i = expr'. The increment forms are
// returned as the equivalent assignment.
func (p *Parser) parseForStep() (*ast.Node, error) {
	nameTok, err := p.expect(token.Ident, "loop variable in step")
	if err != nil {
		return nil, err
	}
	target := ast.NewIdent(nameTok, nameTok.Value)
	opTok := p.current
	switch {
	case p.match(token.PlusPlus), p.match(token.MinusMinus):
		op := token.Plus
		if opTok.Type == token.MinusMinus {
			op = token.Minus
		}
		one := ast.NewNumber(token.Token{Type: token.Number, Value: "1", Line: opTok.Line, Column: opTok.Column, Len: opTok.Len}, 1)
		rhs := ast.NewBinaryOp(opTok, op, ast.NewIdent(nameTok, nameTok.Value), one)
		return ast.NewAssign(opTok, target, rhs), nil
	case p.match(token.Eq):
		rhs, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return ast.NewAssign(opTok, target, rhs), nil
	}
	return nil, p.errorAt(p.current, "'++', '--' or '=' in loop step")
}

func (p *Parser) parseCondition(construct string) (*ast.Node, error) {
	if _, err := p.expect(token.LParen, "'(' after '"+construct+"'"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen, "')' after condition"); err != nil {
		return nil, err
	}
	return cond, nil
}

func (p *Parser) parseIfStmt(ifTok token.Token) (*ast.Node, error) {
	cond, err := p.parseCondition("if")
	if err != nil {
		return nil, err
	}
	thenBody, err := p.parseBlockStmt()
	if err != nil {
		return nil, err
	}
	var elseBody *ast.Node
	if p.match(token.Else) {
		if p.check(token.If) {
			elseTok := p.current
			p.advance()
			elseBody, err = p.parseIfStmt(elseTok)
		} else {
			elseBody, err = p.parseBlockStmt()
		}
		if err != nil {
			return nil, err
		}
	}
	return ast.NewIf(ifTok, cond, thenBody, elseBody), nil
}

// parseSimpleStmt handles the assignment tier: an expression optionally
// followed by '=' and a right-hand side.
func (p *Parser) parseSimpleStmt() (*ast.Node, error) {
	tok := p.current
	left, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.check(token.Eq) {
		eqTok := p.current
		if left.Type != ast.Ident {
			return nil, &util.ParseError{Pos: util.PosOf(eqTok), Expected: "a variable name on the left of '='", Found: "expression"}
		}
		p.advance()
		rhs, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Semi, "';' after assignment"); err != nil {
			return nil, err
		}
		return ast.NewAssign(eqTok, left, rhs), nil
	}
	if _, err := p.expect(token.Semi, "';' after expression"); err != nil {
		return nil, err
	}
	return ast.NewExprStmt(tok, left), nil
}

// Expression Parsing
func (p *Parser) parseExpr() (*ast.Node, error) {
	return p.parseBinaryExpr(1)
}

func (p *Parser) parseBinaryExpr(minPrec int) (*ast.Node, error) {
	left, err := p.parseUnaryExpr()
	if err != nil {
		return nil, err
	}
	for {
		op := p.current.Type
		prec := ast.Precedence(op)
		if prec == 0 || prec < minPrec {
			break
		}
		opTok := p.current
		p.advance()
		right, err := p.parseBinaryExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		switch prec {
		case 1, 2:
			left = ast.NewLogicalOp(opTok, op, left, right)
		case 3:
			left = ast.NewComparison(opTok, op, left, right)
		default:
			left = ast.NewBinaryOp(opTok, op, left, right)
		}
	}
	return left, nil
}

func (p *Parser) parseUnaryExpr() (*ast.Node, error) {
	tok := p.current
	if p.match(token.Not) || p.match(token.Minus) {
		operand, err := p.parseUnaryExpr()
		if err != nil {
			return nil, err
		}
		return ast.NewUnaryOp(tok, tok.Type, operand), nil
	}
	return p.parsePrimaryExpr()
}

func (p *Parser) parsePrimaryExpr() (*ast.Node, error) {
	tok := p.current
	switch {
	case p.match(token.Number):
		val, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			return nil, &util.LexError{Pos: util.PosOf(tok), Msg: "invalid integer literal " + tok.Value}
		}
		return ast.NewNumber(tok, val), nil
	case p.match(token.String):
		return ast.NewString(tok, tok.Value), nil
	case p.match(token.True):
		return ast.NewBool(tok, true), nil
	case p.match(token.False):
		return ast.NewBool(tok, false), nil
	case p.match(token.Ident):
		if p.match(token.LParen) {
			return p.parseCallArgs(tok)
		}
		return ast.NewIdent(tok, tok.Value), nil
	case p.match(token.LParen):
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RParen, "')' after expression"); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return nil, p.errorAt(tok, "expression")
}

func (p *Parser) parseCallArgs(nameTok token.Token) (*ast.Node, error) {
	var args []*ast.Node
	if !p.check(token.RParen) {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if !p.match(token.Comma) {
				break
			}
		}
	}
	if _, err := p.expect(token.RParen, "',' or ')' after call arguments"); err != nil {
		return nil, err
	}
	return ast.NewFuncCall(nameTok, nameTok.Value, args), nil
}
