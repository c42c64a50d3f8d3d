package formula

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
)

// ErrParse is returned when tokens cannot form an expression tree.
var ErrParse = errors.New("formula: cannot parse")

// NodeKind identifies an expression tree node.
type NodeKind int

const (
	NodeInstrument NodeKind = iota
	NodeValue
	NodeUnary
	NodeBinary
)

// Node is an expression tree node.
type Node struct {
	Kind       NodeKind
	Instrument string          // NodeInstrument
	Value      decimal.Decimal // NodeValue
	Op         string          // NodeUnary, NodeBinary
	Left       *Node           // NodeBinary, NodeUnary operand
	Right      *Node           // NodeBinary
}

// Parse builds an expression tree with the usual precedence: * and / bind
// tighter than + and -, operators are left associative and brackets
// override. A leading "-" (or "+") is accepted as a unary sign.
//
// Percentage tokens become plain value leaves holding the literal number, so
// "50%" contributes 50, not 0.5.
//
// An empty token list returns a nil tree and no error.
func Parse(tokens []model.FormulaToken) (*Node, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	p := &parser{tokens: tokens}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, p.errorf("unexpected %s %q", p.tokens[p.pos].Type, p.tokens[p.pos].Value)
	}
	return n, nil
}

type parser struct {
	tokens []model.FormulaToken
	pos    int
}

func (p *parser) peekOperator(ops ...string) (string, bool) {
	if p.pos >= len(p.tokens) {
		return "", false
	}
	t := p.tokens[p.pos]
	if t.Type != model.TokenOperator {
		return "", false
	}
	for _, op := range ops {
		if t.Value == op {
			return op, true
		}
	}
	return "", false
}

// expr := term (("+" | "-") term)*
func (p *parser) expr() (*Node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOperator("+", "-")
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &Node{Kind: NodeBinary, Op: op, Left: left, Right: right}
	}
}

// term := factor (("*" | "/") factor)*
func (p *parser) term() (*Node, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOperator("*", "/")
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.factor()
		if err != nil {
			return nil, err
		}
		left = &Node{Kind: NodeBinary, Op: op, Left: left, Right: right}
	}
}

// factor := ("-" | "+") factor | operand | "(" expr ")"
func (p *parser) factor() (*Node, error) {
	if p.pos >= len(p.tokens) {
		return nil, p.errorf("unexpected end of formula")
	}
	t := p.tokens[p.pos]
	p.pos++

	switch t.Type {
	case model.TokenInstrument:
		return &Node{Kind: NodeInstrument, Instrument: t.Value}, nil

	case model.TokenFixedValue, model.TokenPercentage:
		v, err := parseNumber(t.Value)
		if err != nil {
			p.pos--
			return nil, p.errorf("invalid number %q", t.Value)
		}
		return &Node{Kind: NodeValue, Value: v}, nil

	case model.TokenOperator:
		if t.Value != "-" && t.Value != "+" {
			p.pos--
			return nil, p.errorf("operator %q without left operand", t.Value)
		}
		operand, err := p.factor()
		if err != nil {
			return nil, err
		}
		if t.Value == "+" {
			return operand, nil
		}
		return &Node{Kind: NodeUnary, Op: "-", Left: operand}, nil

	case model.TokenOpenBracket:
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.tokens) || p.tokens[p.pos].Type != model.TokenCloseBracket {
			return nil, p.errorf("unmatched \"(\"")
		}
		p.pos++
		return inner, nil

	case model.TokenCloseBracket:
		p.pos--
		return nil, p.errorf("unexpected \")\"")
	}

	p.pos--
	return nil, p.errorf("unknown token type %q", t.Type)
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at position %d", ErrParse, fmt.Sprintf(format, args...), p.pos)
}

// Instruments returns the instrument codes in the tree, deduplicated, in
// left-to-right order.
func (n *Node) Instruments() []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(*Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case NodeInstrument:
			if !seen[n.Instrument] {
				seen[n.Instrument] = true
				out = append(out, n.Instrument)
			}
		case NodeUnary:
			walk(n.Left)
		case NodeBinary:
			walk(n.Left)
			walk(n.Right)
		}
	}
	walk(n)
	return out
}

// ExtractInstruments returns every instrument code in the token list,
// deduplicated, in order of first appearance. It scans tokens directly so it
// also works on formulas that do not parse.
func ExtractInstruments(tokens []model.FormulaToken) []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range tokens {
		if t.Type == model.TokenInstrument && !seen[t.Value] {
			seen[t.Value] = true
			out = append(out, t.Value)
		}
	}
	return out
}

// NetSigns returns, per instrument, the sum of the signs with which each of
// its occurrences enters the price. "A + B" gives {A: 1, B: 1}, "A - B" gives
// {A: 1, B: -1}, "A - A" gives {A: 0}. Multiplying or dividing by a negative
// constant flips the sign; coefficient magnitudes are ignored.
func NetSigns(n *Node) map[string]int {
	out := make(map[string]int)
	var walk func(*Node, int)
	walk = func(n *Node, sign int) {
		if n == nil {
			return
		}
		switch n.Kind {
		case NodeInstrument:
			out[n.Instrument] += sign
		case NodeUnary:
			walk(n.Left, -sign)
		case NodeBinary:
			switch n.Op {
			case "+":
				walk(n.Left, sign)
				walk(n.Right, sign)
			case "-":
				walk(n.Left, sign)
				walk(n.Right, -sign)
			default:
				walk(n.Left, sign*constSign(n.Right))
				walk(n.Right, sign*constSign(n.Left))
			}
		}
	}
	walk(n, 1)
	return out
}

// constSign is -1 for an instrument-free subtree that evaluates negative and
// 1 otherwise.
func constSign(n *Node) int {
	if len(n.Instruments()) > 0 {
		return 1
	}
	if Evaluate(n, nil).IsNegative() {
		return -1
	}
	return 1
}
