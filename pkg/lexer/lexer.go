package lexer

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"unicode"

	"github.com/cyclang/cyc/pkg/token"
	"github.com/cyclang/cyc/pkg/util"
)

type Lexer struct {
	source []rune
	pos    int
	line   int
	column int
}

func NewLexer(source []rune) *Lexer {
	return &Lexer{source: source, line: 1, column: 1}
}

// Reset rewinds the cursor so the token sequence can be produced again.
func (l *Lexer) Reset() {
	l.pos, l.line, l.column = 0, 1, 1
}

// Tokens yields tokens lazily up to and including EOF. Iteration stops
// after the first error.
func (l *Lexer) Tokens() iter.Seq2[token.Token, error] {
	return func(yield func(token.Token, error) bool) {
		l.Reset()
		for {
			tok, err := l.Next()
			if err != nil {
				yield(tok, err)
				return
			}
			if !yield(tok, nil) || tok.Type == token.EOF {
				return
			}
		}
	}
}

// Tokenize drains a fresh lexer over source.
func Tokenize(source []rune) ([]token.Token, error) {
	var toks []token.Token
	for tok, err := range NewLexer(source).Tokens() {
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
	}
	return toks, nil
}

func (l *Lexer) Next() (token.Token, error) {
	if err := l.skipWhitespaceAndComments(); err != nil {
		return token.Token{}, err
	}
	startPos, startCol, startLine := l.pos, l.column, l.line

	if l.isAtEnd() {
		return l.makeToken(token.EOF, "", startPos, startCol, startLine), nil
	}

	ch := l.peek()
	if unicode.IsLetter(ch) || ch == '_' {
		l.advance()
		return l.identifierOrKeyword(startPos, startCol, startLine), nil
	}
	if unicode.IsDigit(ch) {
		return l.numberLiteral(startPos, startCol, startLine)
	}

	l.advance()
	switch ch {
	case '(': return l.makeToken(token.LParen, "", startPos, startCol, startLine), nil
	case ')': return l.makeToken(token.RParen, "", startPos, startCol, startLine), nil
	case '{': return l.makeToken(token.LBrace, "", startPos, startCol, startLine), nil
	case '}': return l.makeToken(token.RBrace, "", startPos, startCol, startLine), nil
	case ';': return l.makeToken(token.Semi, "", startPos, startCol, startLine), nil
	case ',': return l.makeToken(token.Comma, "", startPos, startCol, startLine), nil
	case ':': return l.makeToken(token.Colon, "", startPos, startCol, startLine), nil
	case '+': return l.matchThen('+', token.PlusPlus, token.Plus, startPos, startCol, startLine), nil
	case '*': return l.makeToken(token.Star, "", startPos, startCol, startLine), nil
	case '/': return l.makeToken(token.Slash, "", startPos, startCol, startLine), nil
	case '%': return l.makeToken(token.Rem, "", startPos, startCol, startLine), nil
	case '-':
		if l.match('-') {
			return l.makeToken(token.MinusMinus, "", startPos, startCol, startLine), nil
		}
		return l.matchThen('>', token.Arrow, token.Minus, startPos, startCol, startLine), nil
	case '=': return l.matchThen('=', token.EqEq, token.Eq, startPos, startCol, startLine), nil
	case '!': return l.matchThen('=', token.Neq, token.Not, startPos, startCol, startLine), nil
	case '<': return l.matchThen('=', token.Lte, token.Lt, startPos, startCol, startLine), nil
	case '>': return l.matchThen('=', token.Gte, token.Gt, startPos, startCol, startLine), nil
	case '&':
		if l.match('&') {
			return l.makeToken(token.AndAnd, "", startPos, startCol, startLine), nil
		}
	case '|':
		if l.match('|') {
			return l.makeToken(token.OrOr, "", startPos, startCol, startLine), nil
		}
	case '"':
		return l.stringLiteral(startPos, startCol, startLine)
	}

	return token.Token{}, l.errorf(startPos, startCol, startLine, "unexpected character '%c'", ch)
}

func (l *Lexer) peek() rune {
	if l.isAtEnd() {
		return 0
	}
	return l.source[l.pos]
}

func (l *Lexer) peekNext() rune {
	if l.pos+1 >= len(l.source) {
		return 0
	}
	return l.source[l.pos+1]
}

func (l *Lexer) advance() rune {
	if l.isAtEnd() {
		return 0
	}
	ch := l.source[l.pos]
	if ch == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	l.pos++
	return ch
}

func (l *Lexer) match(expected rune) bool {
	if l.isAtEnd() || l.source[l.pos] != expected {
		return false
	}
	l.advance()
	return true
}

func (l *Lexer) isAtEnd() bool { return l.pos >= len(l.source) }

func (l *Lexer) makeToken(tokType token.Type, value string, startPos, startCol, startLine int) token.Token {
	return token.Token{
		Type: tokType, Value: value,
		Line: startLine, Column: startCol, Len: l.pos - startPos,
	}
}

func (l *Lexer) errorf(startPos, startCol, startLine int, format string, args ...interface{}) *util.LexError {
	return &util.LexError{
		Pos: util.Pos{Line: startLine, Column: startCol, Len: max(l.pos-startPos, 1)},
		Msg: fmt.Sprintf(format, args...),
	}
}

func (l *Lexer) skipWhitespaceAndComments() error {
	for {
		switch l.peek() {
		case ' ', '\t', '\n', '\r':
			l.advance()
		case '/':
			switch l.peekNext() {
			case '*':
				if err := l.blockComment(); err != nil {
					return err
				}
			case '/':
				l.lineComment()
			default:
				return nil
			}
		default:
			return nil
		}
	}
}

func (l *Lexer) blockComment() error {
	startCol, startLine := l.column, l.line
	l.advance()
	l.advance()
	for !l.isAtEnd() {
		if l.peek() == '*' && l.peekNext() == '/' {
			l.advance()
			l.advance()
			return nil
		}
		l.advance()
	}
	return &util.LexError{
		Pos: util.Pos{Line: startLine, Column: startCol, Len: 2},
		Msg: "unterminated block comment",
	}
}

func (l *Lexer) lineComment() {
	for !l.isAtEnd() && l.peek() != '\n' {
		l.advance()
	}
}

func (l *Lexer) identifierOrKeyword(startPos, startCol, startLine int) token.Token {
	for unicode.IsLetter(l.peek()) || unicode.IsDigit(l.peek()) || l.peek() == '_' {
		l.advance()
	}
	value := string(l.source[startPos:l.pos])
	if tokType, isKeyword := token.KeywordMap[value]; isKeyword {
		return l.makeToken(tokType, "", startPos, startCol, startLine)
	}
	return l.makeToken(token.Ident, value, startPos, startCol, startLine)
}

func (l *Lexer) numberLiteral(startPos, startCol, startLine int) (token.Token, error) {
	for unicode.IsDigit(l.peek()) {
		l.advance()
	}
	if unicode.IsLetter(l.peek()) || l.peek() == '_' {
		for unicode.IsLetter(l.peek()) || unicode.IsDigit(l.peek()) || l.peek() == '_' {
			l.advance()
		}
		return token.Token{}, l.errorf(startPos, startCol, startLine, "malformed number literal '%s'", string(l.source[startPos:l.pos]))
	}

	valueStr := string(l.source[startPos:l.pos])
	val, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return token.Token{}, l.errorf(startPos, startCol, startLine, "integer literal %s does not fit in 64 bits", valueStr)
	}
	return l.makeToken(token.Number, strconv.FormatInt(val, 10), startPos, startCol, startLine), nil
}

func (l *Lexer) stringLiteral(startPos, startCol, startLine int) (token.Token, error) {
	var sb strings.Builder
	for !l.isAtEnd() && l.peek() != '\n' {
		c := l.advance()
		switch c {
		case '"':
			return l.makeToken(token.String, sb.String(), startPos, startCol, startLine), nil
		case '\\':
			escPos, escCol, escLine := l.pos-1, l.column-1, l.line
			if l.isAtEnd() {
				break
			}
			e := l.advance()
			val, ok := escapes[e]
			if !ok {
				return token.Token{}, l.errorf(escPos, escCol, escLine, "invalid escape sequence '\\%c'", e)
			}
			sb.WriteRune(val)
		default:
			sb.WriteRune(c)
		}
	}
	return token.Token{}, l.errorf(startPos, startCol, startLine, "unterminated string literal")
}

var escapes = map[rune]rune{
	'n': '\n', 't': '\t', 'r': '\r', '0': 0, '\\': '\\', '"': '"',
}

func (l *Lexer) matchThen(expected rune, thenType, elseType token.Type, sPos, sCol, sLine int) token.Token {
	if l.match(expected) {
		return l.makeToken(thenType, "", sPos, sCol, sLine)
	}
	return l.makeToken(elseType, "", sPos, sCol, sLine)
}
