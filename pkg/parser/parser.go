// Package parser builds an ast.Program from a pkg/lexer token stream
// using Pratt-style precedence climbing for expressions and plain
// recursive descent for statements.
//
// As with pkg/lexer, this is the external-collaborator front end
// spec.md §1 keeps out of scope for the VM core; it exists only far
// enough to drive pkg/compiler from real source text, following the
// teacher's parser shape (a lexer driven one token at a time behind a
// cur/peek pair with one token of lookahead) generalized from
// Smalltalk message syntax to the lk-inspired expression grammar
// pkg/lexer tokenizes.
package parser

import (
	"fmt"
	"strconv"

	"github.com/kristofer/smog/pkg/ast"
	"github.com/kristofer/smog/pkg/lexer"
)

// precedence levels, lowest to highest.
const (
	_ int = iota
	precLowest
	precAssign  // = += -= *= /=
	precOr      // ||
	precAnd     // &&
	precEquals  // == !=
	precCompare // < <= > >=
	precSum     // + -
	precProduct // * /
	precExp     // ^
	precPrefix  // ! - ++x --x @ #
	precPostfix // ++ -- ( [ . -> -@ ?@
)

var precedences = map[lexer.TokenType]int{
	lexer.TokenAssign:   precAssign,
	lexer.TokenPlusEq:   precAssign,
	lexer.TokenMinusEq:  precAssign,
	lexer.TokenStarEq:   precAssign,
	lexer.TokenSlashEq:  precAssign,
	lexer.TokenOr:       precOr,
	lexer.TokenAnd:      precAnd,
	lexer.TokenEq:       precEquals,
	lexer.TokenNe:       precEquals,
	lexer.TokenLt:       precCompare,
	lexer.TokenLe:       precCompare,
	lexer.TokenGt:       precCompare,
	lexer.TokenGe:       precCompare,
	lexer.TokenPlus:     precSum,
	lexer.TokenMinus:    precSum,
	lexer.TokenStar:     precProduct,
	lexer.TokenSlash:    precProduct,
	lexer.TokenCaret:    precExp,
	lexer.TokenLParen:   precPostfix,
	lexer.TokenLBracket: precPostfix,
	lexer.TokenDot:      precPostfix,
	lexer.TokenArrow:    precPostfix,
	lexer.TokenAtErase:  precPostfix,
	lexer.TokenAtWhere:  precPostfix,
	lexer.TokenIncr:     precPostfix,
	lexer.TokenDecr:     precPostfix,
}

var binaryOpText = map[lexer.TokenType]string{
	lexer.TokenPlus: "+", lexer.TokenMinus: "-", lexer.TokenStar: "*",
	lexer.TokenSlash: "/", lexer.TokenCaret: "^",
	lexer.TokenLt: "<", lexer.TokenLe: "<=", lexer.TokenGt: ">", lexer.TokenGe: ">=",
	lexer.TokenEq: "==", lexer.TokenNe: "!=", lexer.TokenAnd: "&&", lexer.TokenOr: "||",
}

// Parser converts a token stream into an ast.Program.
type Parser struct {
	l      *lexer.Lexer
	file   string
	cur    lexer.Token
	peek   lexer.Token
	errors []string
}

// New creates a parser reading from l.
func New(l *lexer.Lexer, file string) *Parser {
	p := &Parser{l: l, file: file}
	p.next()
	p.next()
	return p
}

// Errors returns every parse error accumulated so far.
func (p *Parser) Errors() []string { return p.errors }

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
}

func (p *Parser) errorf(format string, args ...interface{}) {
	p.errors = append(p.errors, fmt.Sprintf("%s:%d: %s", p.file, p.cur.Line, fmt.Sprintf(format, args...)))
}

func (p *Parser) pos() ast.Base { return ast.At(p.file, p.cur.Line) }

func (p *Parser) expect(tt lexer.TokenType) bool {
	if p.cur.Type == tt {
		p.next()
		return true
	}
	p.errorf("expected %s, got %s (%q)", tt, p.cur.Type, p.cur.Literal)
	return false
}

func (p *Parser) expectCur(tt lexer.TokenType) bool {
	if p.cur.Type == tt {
		return true
	}
	p.errorf("expected %s, got %s", tt, p.cur.Type)
	return false
}

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peek.Type]; ok {
		return pr
	}
	return precLowest
}

// ParseProgram parses the entire token stream into a Program.
func ParseProgram(l *lexer.Lexer, file string) (*ast.Program, []string) {
	p := New(l, file)
	prog := &ast.Program{}
	for p.cur.Type != lexer.TokenEOF {
		stmt := p.parseStatement()
		if stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		}
		p.next()
	}
	return prog, p.errors
}

// --- statements ---

func (p *Parser) parseStatement() ast.Statement {
	switch p.cur.Type {
	case lexer.TokenIf:
		return p.parseIf()
	case lexer.TokenWhile:
		return p.parseWhile()
	case lexer.TokenFor:
		return p.parseFor()
	case lexer.TokenReturn:
		return p.parseReturn()
	case lexer.TokenBreak:
		stmt := &ast.Break{Base: p.pos()}
		if p.peek.Type == lexer.TokenSemi {
			p.next()
		}
		return stmt
	case lexer.TokenContinue:
		stmt := &ast.Continue{Base: p.pos()}
		if p.peek.Type == lexer.TokenSemi {
			p.next()
		}
		return stmt
	case lexer.TokenFunction:
		return p.parseFunctionStatement()
	case lexer.TokenLBrace:
		return p.parseBlock()
	default:
		return p.parseExpressionStatement()
	}
}

func (p *Parser) parseBlock() *ast.Block {
	blk := &ast.Block{Base: p.pos()}
	p.expect(lexer.TokenLBrace)
	for p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenEOF {
		stmt := p.parseStatement()
		if stmt != nil {
			blk.Statements = append(blk.Statements, stmt)
		}
		p.next()
	}
	return blk
}

func (p *Parser) parseIf() ast.Statement {
	base := p.pos()
	p.next() // consume 'if'
	p.expect(lexer.TokenLParen)
	cond := p.parseExpression(precLowest)
	p.next()
	p.expect(lexer.TokenRParen)
	then := p.parseBlock()
	node := &ast.If{Base: base, Cond: cond, Then: then}
	if p.peek.Type == lexer.TokenElse {
		p.next()
		p.next()
		if p.cur.Type == lexer.TokenIf {
			inner := p.parseIf()
			node.Else = &ast.Block{Base: p.pos(), Statements: []ast.Statement{inner}}
		} else {
			node.Else = p.parseBlock()
		}
	}
	return node
}

func (p *Parser) parseWhile() ast.Statement {
	base := p.pos()
	p.next()
	p.expect(lexer.TokenLParen)
	cond := p.parseExpression(precLowest)
	p.next()
	p.expect(lexer.TokenRParen)
	body := p.parseBlock()
	return &ast.While{Base: base, Cond: cond, Body: body}
}

func (p *Parser) parseFor() ast.Statement {
	base := p.pos()
	p.next()
	p.expect(lexer.TokenLParen)

	node := &ast.For{Base: base}
	if p.cur.Type != lexer.TokenSemi {
		node.Init = p.parseExpressionStatementNoConsume()
		p.next()
	}
	p.expect(lexer.TokenSemi)
	if p.cur.Type != lexer.TokenSemi {
		node.Cond = p.parseExpression(precLowest)
		p.next()
	}
	p.expect(lexer.TokenSemi)
	if p.cur.Type != lexer.TokenRParen {
		node.Adv = p.parseExpressionStatementNoConsume()
		p.next()
	}
	p.expect(lexer.TokenRParen)
	node.Body = p.parseBlock()
	return node
}

func (p *Parser) parseReturn() ast.Statement {
	base := p.pos()
	p.next()
	node := &ast.Return{Base: base}
	if p.cur.Type != lexer.TokenSemi {
		node.Value = p.parseExpression(precLowest)
		p.next()
	}
	return node
}

func (p *Parser) parseFunctionStatement() ast.Statement {
	base := p.pos()
	p.next() // consume 'function'
	if p.cur.Type != lexer.TokenIdentifier {
		p.errorf("expected function name, got %s", p.cur.Type)
		return nil
	}
	name := p.cur.Literal
	p.next()
	fn := p.parseFuncDefTail(base)
	return &ast.FuncStatement{Base: base, Name: name, Fn: fn}
}

// parseExpressionStatement parses `expr;` leaving cur on the trailing
// semicolon (if present) for the enclosing loop's next() to consume.
func (p *Parser) parseExpressionStatement() ast.Statement {
	base := p.pos()
	expr := p.parseExpression(precLowest)
	node := &ast.ExpressionStatement{Base: base, Expr: expr}
	if p.peek.Type == lexer.TokenSemi {
		p.next()
	}
	return node
}

// parseExpressionStatementNoConsume is used inside for(;;) headers,
// where the terminator is consumed by the caller instead.
func (p *Parser) parseExpressionStatementNoConsume() ast.Statement {
	base := p.pos()
	expr := p.parseExpression(precLowest)
	return &ast.ExpressionStatement{Base: base, Expr: expr}
}

// --- expressions ---

func (p *Parser) parseExpression(precedence int) ast.Expression {
	left := p.parsePrefix()
	if left == nil {
		return nil
	}
	for p.peek.Type != lexer.TokenSemi && precedence < p.peekPrecedence() {
		p.next()
		left = p.parseInfix(left)
	}
	return left
}

func (p *Parser) parsePrefix() ast.Expression {
	switch p.cur.Type {
	case lexer.TokenNumber:
		return p.parseNumber()
	case lexer.TokenString:
		return &ast.StringLiteral{Base: p.pos(), Value: p.cur.Literal}
	case lexer.TokenTrue:
		return &ast.NumberLiteral{Base: p.pos(), Value: 1}
	case lexer.TokenFalse:
		return &ast.NumberLiteral{Base: p.pos(), Value: 0}
	case lexer.TokenNull:
		return &ast.NullLiteral{Base: p.pos()}
	case lexer.TokenIdentifier:
		return &ast.Identifier{Base: p.pos(), Name: p.cur.Literal}
	case lexer.TokenConst:
		return p.parseConstDecl()
	case lexer.TokenMinus:
		return p.parsePrefixOp("-")
	case lexer.TokenNot:
		return p.parsePrefixOp("!")
	case lexer.TokenIncr:
		return p.parsePrefixOp("++")
	case lexer.TokenDecr:
		return p.parsePrefixOp("--")
	case lexer.TokenAt:
		return p.parsePrefixOp("@")
	case lexer.TokenHash:
		return p.parsePrefixOp("#")
	case lexer.TokenTypeof:
		return p.parseTypeOf()
	case lexer.TokenLParen:
		p.next()
		expr := p.parseExpression(precLowest)
		p.next()
		p.expectCur(lexer.TokenRParen)
		return expr
	case lexer.TokenLBracket:
		return p.parseVectorLiteral()
	case lexer.TokenLBrace:
		return p.parseHashLiteral()
	case lexer.TokenDefine:
		base := p.pos()
		p.next()
		return p.parseFuncDefTail(base)
	default:
		p.errorf("unexpected token %s (%q) in expression", p.cur.Type, p.cur.Literal)
		return nil
	}
}

func (p *Parser) parseNumber() ast.Expression {
	base := p.pos()
	n, err := strconv.ParseFloat(p.cur.Literal, 64)
	if err != nil {
		p.errorf("invalid number literal %q: %v", p.cur.Literal, err)
	}
	return &ast.NumberLiteral{Base: base, Value: n}
}

// parseConstDecl handles `const name = expr`, producing an Assign whose
// Target is marked Const so the compiler emits CREF instead of NREF.
func (p *Parser) parseConstDecl() ast.Expression {
	base := p.pos()
	p.next() // consume 'const'
	if p.cur.Type != lexer.TokenIdentifier {
		p.errorf("expected identifier after const, got %s", p.cur.Type)
		return nil
	}
	target := &ast.Identifier{Base: p.pos(), Name: p.cur.Literal, Const: true}
	p.next()
	if !p.expectCur(lexer.TokenAssign) {
		return target
	}
	p.next()
	value := p.parseExpression(precAssign)
	return &ast.Assign{Base: base, Op: "=", Target: target, Value: value}
}

func (p *Parser) parsePrefixOp(op string) ast.Expression {
	base := p.pos()
	p.next()
	operand := p.parseExpression(precPrefix)
	return &ast.UnaryOp{Base: base, Op: op, Operand: operand, IsPrefix: true}
}

func (p *Parser) parseTypeOf() ast.Expression {
	base := p.pos()
	p.next() // consume 'typeof'
	p.expect(lexer.TokenLParen)
	if p.cur.Type != lexer.TokenIdentifier {
		p.errorf("typeof requires a bare identifier argument, got %s", p.cur.Type)
		p.expect(lexer.TokenRParen)
		return &ast.TypeOf{Base: base}
	}
	name := p.cur.Literal
	p.next()
	p.expect(lexer.TokenRParen)
	return &ast.TypeOf{Base: base, Name: name}
}

func (p *Parser) parseVectorLiteral() ast.Expression {
	base := p.pos()
	p.next() // consume '['
	lit := &ast.VectorLiteral{Base: base}
	for p.cur.Type != lexer.TokenRBracket && p.cur.Type != lexer.TokenEOF {
		lit.Elements = append(lit.Elements, p.parseExpression(precAssign))
		if p.peek.Type == lexer.TokenComma {
			p.next()
		}
		p.next()
	}
	return lit
}

func (p *Parser) parseHashLiteral() ast.Expression {
	base := p.pos()
	p.next() // consume '{'
	lit := &ast.HashLiteral{Base: base}
	for p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenEOF {
		if p.cur.Type != lexer.TokenString && p.cur.Type != lexer.TokenIdentifier {
			p.errorf("expected table key (string or identifier), got %s", p.cur.Type)
			break
		}
		key := p.cur.Literal
		p.next()
		if p.cur.Type != lexer.TokenAssign && p.cur.Type != lexer.TokenColon {
			p.errorf("expected = or : after table key, got %s", p.cur.Type)
			break
		}
		p.next()
		val := p.parseExpression(precAssign)
		lit.Entries = append(lit.Entries, ast.HashEntry{Key: key, Value: val})
		if p.peek.Type == lexer.TokenComma {
			p.next()
		}
		p.next()
	}
	return lit
}

// parseFuncDefTail parses `(params) { body }` following either `define`
// or `function name`, with cur positioned at the opening '('.
func (p *Parser) parseFuncDefTail(base ast.Base) *ast.FuncDef {
	fn := &ast.FuncDef{Base: base}
	p.expect(lexer.TokenLParen)
	for p.cur.Type != lexer.TokenRParen && p.cur.Type != lexer.TokenEOF {
		if p.cur.Type == lexer.TokenIdentifier {
			fn.Params = append(fn.Params, p.cur.Literal)
		}
		p.next()
		if p.cur.Type == lexer.TokenComma {
			p.next()
		}
	}
	p.expect(lexer.TokenRParen)
	body := p.parseBlock()
	fn.Body = body.Statements
	return fn
}

func (p *Parser) parseInfix(left ast.Expression) ast.Expression {
	switch p.cur.Type {
	case lexer.TokenAssign, lexer.TokenPlusEq, lexer.TokenMinusEq, lexer.TokenStarEq, lexer.TokenSlashEq:
		return p.parseAssign(left)
	case lexer.TokenLParen:
		return p.parseCall(left)
	case lexer.TokenLBracket:
		return p.parseIndex(left)
	case lexer.TokenDot:
		return p.parseKey(left)
	case lexer.TokenArrow:
		return p.parseMethodCall(left)
	case lexer.TokenAtErase:
		return p.parseErase(left)
	case lexer.TokenAtWhere:
		return p.parseWhereAt(left)
	case lexer.TokenIncr, lexer.TokenDecr:
		op := "++"
		if p.cur.Type == lexer.TokenDecr {
			op = "--"
		}
		return &ast.UnaryOp{Base: p.pos(), Op: op, Operand: left, IsPrefix: false}
	default:
		return p.parseBinary(left)
	}
}

func (p *Parser) parseBinary(left ast.Expression) ast.Expression {
	base := p.pos()
	op := binaryOpText[p.cur.Type]
	precedence := precedences[p.cur.Type]
	p.next()
	right := p.parseExpression(precedence)
	return &ast.BinaryOp{Base: base, Op: op, Left: left, Right: right}
}

func (p *Parser) parseAssign(left ast.Expression) ast.Expression {
	base := p.pos()
	op := "="
	switch p.cur.Type {
	case lexer.TokenPlusEq:
		op = "+="
	case lexer.TokenMinusEq:
		op = "-="
	case lexer.TokenStarEq:
		op = "*="
	case lexer.TokenSlashEq:
		op = "/="
	}
	p.next()
	value := p.parseExpression(precAssign - 1)
	return &ast.Assign{Base: base, Op: op, Target: left, Value: value}
}

func (p *Parser) parseCall(callee ast.Expression) ast.Expression {
	base := p.pos()
	args := p.parseArgList()
	return &ast.Call{Base: base, Callee: callee, Args: args}
}

func (p *Parser) parseMethodCall(receiver ast.Expression) ast.Expression {
	base := p.pos()
	p.next() // consume '->'
	if p.cur.Type != lexer.TokenIdentifier {
		p.errorf("expected method name after ->, got %s", p.cur.Type)
		return receiver
	}
	name := p.cur.Literal
	p.next()
	args := p.parseArgList()
	return &ast.MethodCall{Base: base, Receiver: receiver, Name: name, Args: args}
}

// parseArgList parses `(arg, arg, ...)` with cur positioned at '('.
func (p *Parser) parseArgList() []ast.Expression {
	var args []ast.Expression
	p.expect(lexer.TokenLParen)
	for p.cur.Type != lexer.TokenRParen && p.cur.Type != lexer.TokenEOF {
		args = append(args, p.parseExpression(precAssign))
		if p.peek.Type == lexer.TokenComma {
			p.next()
		}
		p.next()
	}
	return args
}

func (p *Parser) parseIndex(container ast.Expression) ast.Expression {
	base := p.pos()
	p.next() // consume '['
	sub := p.parseExpression(precLowest)
	p.next()
	p.expectCur(lexer.TokenRBracket)
	return &ast.Index{Base: base, Container: container, Subscript: sub}
}

func (p *Parser) parseKey(container ast.Expression) ast.Expression {
	base := p.pos()
	p.next() // consume '.'
	if p.cur.Type != lexer.TokenIdentifier {
		p.errorf("expected field name after ., got %s", p.cur.Type)
		return container
	}
	name := p.cur.Literal
	return &ast.Key{Base: base, Container: container, Name: name}
}

func (p *Parser) parseErase(container ast.Expression) ast.Expression {
	base := p.pos()
	p.next() // consume '-@'
	sel := p.parseExpression(precPrefix)
	return &ast.Erase{Base: base, Container: container, Selector: sel}
}

func (p *Parser) parseWhereAt(container ast.Expression) ast.Expression {
	base := p.pos()
	p.next() // consume '?@'
	sel := p.parseExpression(precPrefix)
	return &ast.WhereAt{Base: base, Container: container, Selector: sel}
}
