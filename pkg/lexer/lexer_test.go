package lexer

import "testing"

func TestNextTokenOperatorsAndPunctuation(t *testing.T) {
	input := `+ - * / ^ % ! && || < <= > >= == != = += -= *= /= ++ -- @ ?@ -@ # -> . , ; : ( ) { } [ ]`

	want := []TokenType{
		TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenCaret, TokenPercent,
		TokenNot, TokenAnd, TokenOr, TokenLt, TokenLe, TokenGt, TokenGe,
		TokenEq, TokenNe, TokenAssign, TokenPlusEq, TokenMinusEq, TokenStarEq,
		TokenSlashEq, TokenIncr, TokenDecr, TokenAt, TokenAtWhere, TokenAtErase,
		TokenHash, TokenArrow, TokenDot, TokenComma, TokenSemi, TokenColon,
		TokenLParen, TokenRParen, TokenLBrace, TokenRBrace, TokenLBracket, TokenRBracket,
		TokenEOF,
	}

	l := New(input, "<test>")
	for i, tt := range want {
		tok := l.NextToken()
		if tok.Type != tt {
			t.Fatalf("token %d: type = %s, want %s (literal %q)", i, tok.Type, tt, tok.Literal)
		}
	}
}

func TestNextTokenKeywordsAndIdentifier(t *testing.T) {
	input := `true false null if else while for function define return break continue const typeof foo`

	want := []TokenType{
		TokenTrue, TokenFalse, TokenNull, TokenIf, TokenElse, TokenWhile, TokenFor,
		TokenFunction, TokenDefine, TokenReturn, TokenBreak, TokenContinue,
		TokenConst, TokenTypeof, TokenIdentifier,
	}

	l := New(input, "<test>")
	for i, tt := range want {
		tok := l.NextToken()
		if tok.Type != tt {
			t.Fatalf("token %d: type = %s, want %s (literal %q)", i, tok.Type, tt, tok.Literal)
		}
	}
}

func TestNextTokenNumberLiteral(t *testing.T) {
	l := New("3.14 42", "<test>")

	tok := l.NextToken()
	if tok.Type != TokenNumber || tok.Literal != "3.14" {
		t.Errorf("got %s %q, want NUMBER \"3.14\"", tok.Type, tok.Literal)
	}
	tok = l.NextToken()
	if tok.Type != TokenNumber || tok.Literal != "42" {
		t.Errorf("got %s %q, want NUMBER \"42\"", tok.Type, tok.Literal)
	}
}

func TestNextTokenStringLiteralWithEscapes(t *testing.T) {
	l := New(`"hello\nworld" "quote: \""`, "<test>")

	tok := l.NextToken()
	if tok.Type != TokenString || tok.Literal != "hello\nworld" {
		t.Errorf("got %s %q, want STRING \"hello\\nworld\"", tok.Type, tok.Literal)
	}
	tok = l.NextToken()
	if tok.Type != TokenString || tok.Literal != `quote: "` {
		t.Errorf("got %s %q, want STRING `quote: \"`", tok.Type, tok.Literal)
	}
}

func TestNextTokenLineTracking(t *testing.T) {
	l := New("x = 1;\ny = 2;\n", "<test>")

	var lastLine int
	for {
		tok := l.NextToken()
		if tok.Type == TokenEOF {
			break
		}
		if tok.Literal == "y" {
			lastLine = tok.Line
		}
	}
	if lastLine != 2 {
		t.Errorf("line for second statement's `y` = %d, want 2", lastLine)
	}
}

func TestNextTokenSkipsComments(t *testing.T) {
	l := New("x // a trailing comment\n= 1;", "<test>")

	tok := l.NextToken()
	if tok.Type != TokenIdentifier || tok.Literal != "x" {
		t.Fatalf("got %s %q, want IDENTIFIER \"x\"", tok.Type, tok.Literal)
	}
	tok = l.NextToken()
	if tok.Type != TokenAssign {
		t.Errorf("got %s, want ASSIGN (comment should have been skipped)", tok.Type)
	}
}

func TestTokenizeIncludesTrailingEOF(t *testing.T) {
	l := New("x;", "<test>")
	toks, err := l.Tokenize()
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(toks) == 0 || toks[len(toks)-1].Type != TokenEOF {
		t.Fatalf("Tokenize did not end with EOF: %v", toks)
	}
}

func TestNextTokenIllegalCharacter(t *testing.T) {
	l := New("$", "<test>")
	tok := l.NextToken()
	if tok.Type != TokenIllegal {
		t.Errorf("got %s, want ILLEGAL for an unrecognized character", tok.Type)
	}
}
