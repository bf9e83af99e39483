package utility

import (
	"math"
	"strconv"
	"strings"
)

// evaluateExpression parses and evaluates simple infix arithmetic with
// + - * / and parentheses. It returns the result, a normalized rendering of
// the expression, and whether the input was a real calculation (at least two
// numbers and one operator). Failures of any kind are a non-match.
func evaluateExpression(s string) (float64, string, bool) {
	tokens, ok := tokenizeExpr(s)
	if !ok {
		return 0, "", false
	}

	numbers, operators := 0, 0
	for _, tok := range tokens {
		switch tok.kind {
		case tokNumber:
			numbers++
		case tokOperator:
			operators++
		}
	}
	if numbers < 2 || operators < 1 {
		return 0, "", false
	}

	p := &exprParser{tokens: tokens}
	value, ok := p.parseExpr()
	if !ok || p.pos != len(p.tokens) {
		return 0, "", false
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, "", false
	}
	return value, renderTokens(tokens), true
}

// formatNumber renders a result without float noise: whole values print
// bare, fractions keep their shortest form.
func formatNumber(v float64) string {
	rounded := math.Round(v*1e9) / 1e9
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokOperator
	tokOpen
	tokClose
)

type exprToken struct {
	kind  tokenKind
	op    byte
	value float64
	text  string
}

func tokenizeExpr(s string) ([]exprToken, bool) {
	var tokens []exprToken
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case (c >= '0' && c <= '9') || c == '.':
			j := i
			for j < len(s) && ((s[j] >= '0' && s[j] <= '9') || s[j] == '.') {
				j++
			}
			v, err := strconv.ParseFloat(s[i:j], 64)
			if err != nil {
				return nil, false
			}
			tokens = append(tokens, exprToken{kind: tokNumber, value: v, text: s[i:j]})
			i = j
		case c == '+' || c == '-' || c == '*' || c == '/':
			tokens = append(tokens, exprToken{kind: tokOperator, op: c, text: string(c)})
			i++
		case c == 'x' || c == 'X':
			tokens = append(tokens, exprToken{kind: tokOperator, op: '*', text: "*"})
			i++
		case c == '(':
			tokens = append(tokens, exprToken{kind: tokOpen, text: "("})
			i++
		case c == ')':
			tokens = append(tokens, exprToken{kind: tokClose, text: ")"})
			i++
		default:
			switch {
			case strings.HasPrefix(s[i:], "×"):
				tokens = append(tokens, exprToken{kind: tokOperator, op: '*', text: "*"})
				i += len("×")
			case strings.HasPrefix(s[i:], "÷"):
				tokens = append(tokens, exprToken{kind: tokOperator, op: '/', text: "/"})
				i += len("÷")
			default:
				return nil, false
			}
		}
	}
	return tokens, len(tokens) > 0
}

// renderTokens produces the canonical spacing used in answers: operators
// spaced, parentheses tight.
func renderTokens(tokens []exprToken) string {
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 && tok.kind != tokClose && tokens[i-1].kind != tokOpen {
			b.WriteByte(' ')
		}
		b.WriteString(tok.text)
	}
	return b.String()
}

// exprParser is a recursive-descent evaluator over the token stream.
//
//	expr   := term (('+'|'-') term)*
//	term   := factor (('*'|'/') factor)*
//	factor := number | '-' factor | '(' expr ')'
type exprParser struct {
	tokens []exprToken
	pos    int
}

func (p *exprParser) peek() (exprToken, bool) {
	if p.pos >= len(p.tokens) {
		return exprToken{}, false
	}
	return p.tokens[p.pos], true
}

func (p *exprParser) parseExpr() (float64, bool) {
	left, ok := p.parseTerm()
	if !ok {
		return 0, false
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOperator || (tok.op != '+' && tok.op != '-') {
			return left, true
		}
		p.pos++
		right, ok := p.parseTerm()
		if !ok {
			return 0, false
		}
		if tok.op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseTerm() (float64, bool) {
	left, ok := p.parseFactor()
	if !ok {
		return 0, false
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOperator || (tok.op != '*' && tok.op != '/') {
			return left, true
		}
		p.pos++
		right, ok := p.parseFactor()
		if !ok {
			return 0, false
		}
		if tok.op == '*' {
			left *= right
		} else {
			if right == 0 {
				return 0, false
			}
			left /= right
		}
	}
}

func (p *exprParser) parseFactor() (float64, bool) {
	tok, ok := p.peek()
	if !ok {
		return 0, false
	}
	switch tok.kind {
	case tokNumber:
		p.pos++
		return tok.value, true
	case tokOperator:
		if tok.op != '-' {
			return 0, false
		}
		p.pos++
		v, ok := p.parseFactor()
		return -v, ok
	case tokOpen:
		p.pos++
		v, ok := p.parseExpr()
		if !ok {
			return 0, false
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokClose {
			return 0, false
		}
		p.pos++
		return v, true
	default:
		return 0, false
	}
}
