// Package transform converts numeric values between the public units used on
// the bus (percentages, mireds) and the native integer scales a device speaks.
//
// Conversions are expression trees over a single variable x. Trees are built
// once, either from Go code or from the restricted arithmetic grammar accepted
// by Parse, and are never re-interpreted at runtime.
package transform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSyntax is returned when an expression cannot be parsed.
var ErrSyntax = errors.New("transform: invalid expression")

// Expr is a compiled arithmetic expression in the variable x.
type Expr interface {
	Eval(x float64) float64
	String() string
}

type constant float64

func (c constant) Eval(float64) float64 { return float64(c) }
func (c constant) String() string       { return strconv.FormatFloat(float64(c), 'g', -1, 64) }

type variable struct{}

func (variable) Eval(x float64) float64 { return x }
func (variable) String() string         { return "x" }

type negate struct{ e Expr }

func (n negate) Eval(x float64) float64 { return -n.e.Eval(x) }
func (n negate) String() string         { return "-" + n.e.String() }

type binary struct {
	op   byte
	l, r Expr
}

func (b binary) Eval(x float64) float64 {
	l, r := b.l.Eval(x), b.r.Eval(x)
	switch b.op {
	case '+':
		return l + r
	case '-':
		return l - r
	case '*':
		return l * r
	default:
		return l / r
	}
}

func (b binary) String() string {
	return "(" + b.l.String() + " " + string(b.op) + " " + b.r.String() + ")"
}

// Parse compiles src into an expression tree.
//
// The grammar is numbers, the variable x, identifiers bound in consts,
// + - * /, unary minus and parentheses. An expression starting with a binary
// operator ("*2.3+25") is applied to x, matching the suffix form used by
// existing device templates. Identifiers are replaced by their constant value
// at parse time.
func Parse(src string, consts map[string]float64) (Expr, error) {
	s := strings.TrimSpace(src)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrSyntax)
	}
	switch s[0] {
	case '*', '/', '+':
		s = "x" + s
	}
	p := &parser{src: s, consts: consts}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, p.src[p.pos], p.pos)
	}
	return e, nil
}

// MustParse is like Parse but panics on error. It is meant for expressions
// that are constant in the source.
func MustParse(src string, consts map[string]float64) Expr {
	e, err := Parse(src, consts)
	if err != nil {
		panic(err)
	}
	return e
}

type parser struct {
	src    string
	pos    int
	consts map[string]float64
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) expr() (Expr, error) {
	l, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return l, nil
		}
		p.pos++
		r, err := p.term()
		if err != nil {
			return nil, err
		}
		l = binary{op, l, r}
	}
}

func (p *parser) term() (Expr, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' {
			return l, nil
		}
		p.pos++
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = binary{op, l, r}
	}
}

func (p *parser) unary() (Expr, error) {
	if p.peek() == '-' {
		p.pos++
		e, err := p.unary()
		if err != nil {
			return nil, err
		}
		return negate{e}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Expr, error) {
	c := p.peek()
	switch {
	case c == 0:
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	case c == '(':
		p.pos++
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ')' {
			return nil, fmt.Errorf("%w: missing ')' at offset %d", ErrSyntax, p.pos)
		}
		p.pos++
		return e, nil
	case isDigit(c) || c == '.':
		start := p.pos
		for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
			p.pos++
		}
		v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, p.src[start:p.pos])
		}
		return constant(v), nil
	case isIdentStart(c):
		start := p.pos
		for p.pos < len(p.src) && (isIdentStart(p.src[p.pos]) || isDigit(p.src[p.pos])) {
			p.pos++
		}
		name := p.src[start:p.pos]
		if name == "x" {
			return variable{}, nil
		}
		v, ok := p.consts[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown identifier %q", ErrSyntax, name)
		}
		return constant(v), nil
	default:
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, c, p.pos)
	}
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
