package expression

import (
	"fmt"
)

// Limits bounds the size of a single expression. Zero disables a bound.
type Limits struct {
	// MaxLength is the maximum source length in bytes
	MaxLength int

	// MaxNodes is the maximum number of AST nodes
	MaxNodes int

	// MaxDepth is the maximum nesting depth
	MaxDepth int
}

// DefaultLimits returns the bounds used when none are configured
func DefaultLimits() Limits {
	return Limits{
		MaxLength: 4096,
		MaxNodes:  2048,
		MaxDepth:  64,
	}
}

// LimitError reports an expression that exceeds a configured bound
type LimitError struct {
	Limit string
	Max   int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("expression exceeds %s limit of %d", e.Limit, e.Max)
}

// Parse parses src into an AST, enforcing limits
func Parse(src string, limits Limits) (Node, error) {
	if limits.MaxLength > 0 && len(src) > limits.MaxLength {
		return nil, &LimitError{Limit: "length", Max: limits.MaxLength}
	}

	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 1 {
		return nil, &SyntaxError{Pos: 0, Message: "empty expression"}
	}

	p := &parser{tokens: tokens, limits: limits}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &SyntaxError{Pos: tok.pos, Message: fmt.Sprintf("unexpected %s", tok)}
	}
	return node, nil
}

// parser is a recursive-descent parser. Precedence, loosest first:
//
//	expr    := term (('+' | '-') term)*
//	term    := unary (('*' | '/' | '//' | '%') unary)*
//	unary   := ('-' | '+') unary | power
//	power   := postfix ('**' unary)?
//	postfix := primary ('.' IDENT | '(' args ')')*
//	primary := NUMBER | STRING | IDENT | '(' expr ')' | '[' args ']'
type parser struct {
	tokens []token
	pos    int
	nodes  int
	depth  int
	limits Limits
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) isOp(text string) bool {
	tok := p.peek()
	return tok.kind == tokOp && tok.text == text
}

func (p *parser) expect(text string) error {
	tok := p.next()
	if tok.kind != tokOp || tok.text != text {
		return &SyntaxError{Pos: tok.pos, Message: fmt.Sprintf("expected %q, found %s", text, tok)}
	}
	return nil
}

func (p *parser) node() error {
	p.nodes++
	if p.limits.MaxNodes > 0 && p.nodes > p.limits.MaxNodes {
		return &LimitError{Limit: "node", Max: p.limits.MaxNodes}
	}
	return nil
}

func (p *parser) enter() error {
	p.depth++
	if p.limits.MaxDepth > 0 && p.depth > p.limits.MaxDepth {
		return &LimitError{Limit: "depth", Max: p.limits.MaxDepth}
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

func (p *parser) parseExpr() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		if err := p.node(); err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op.text, Left: left, Right: right, Offset: op.pos}
	}
	return left, nil
}

func (p *parser) parseTerm() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("//") || p.isOp("%") {
		op := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if err := p.node(); err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op.text, Left: left, Right: right, Offset: op.pos}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.isOp("-") || p.isOp("+") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()

		op := p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if err := p.node(); err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: op.text, X: x, Offset: op.pos}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (Node, error) {
	base, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if !p.isOp("**") {
		return base, nil
	}

	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	op := p.next()
	// right-associative, and binds tighter than a unary minus on its left:
	// -2**2 is -(2**2) while 2**-1 is 2**(-1)
	exp, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if err := p.node(); err != nil {
		return nil, err
	}
	return &BinaryExpr{Op: "**", Left: base, Right: exp, Offset: op.pos}, nil
}

func (p *parser) parsePostfix() (Node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isOp("."):
			dot := p.next()
			name := p.next()
			if name.kind != tokIdent {
				return nil, &SyntaxError{Pos: name.pos, Message: fmt.Sprintf("expected attribute name, found %s", name)}
			}
			if err := p.node(); err != nil {
				return nil, err
			}
			x = &AttrExpr{X: x, Name: name.text, Offset: dot.pos}

		case p.isOp("("):
			open := p.next()
			args, err := p.parseArgs(")")
			if err != nil {
				return nil, err
			}
			if err := p.node(); err != nil {
				return nil, err
			}
			x = &CallExpr{Func: x, Args: args, Offset: open.pos}

		default:
			return x, nil
		}
	}
}

func (p *parser) parseArgs(closing string) ([]Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	var args []Node
	if p.isOp(closing) {
		p.next()
		return args, nil
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.isOp(",") {
			p.next()
			// trailing comma
			if p.isOp(closing) {
				p.next()
				return args, nil
			}
			continue
		}
		if err := p.expect(closing); err != nil {
			return nil, err
		}
		return args, nil
	}
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		if err := p.node(); err != nil {
			return nil, err
		}
		return &NumberLit{Value: tok.num, Offset: tok.pos}, nil

	case tokString:
		if err := p.node(); err != nil {
			return nil, err
		}
		return &StringLit{Value: tok.text, Offset: tok.pos}, nil

	case tokIdent:
		if err := p.node(); err != nil {
			return nil, err
		}
		return &Ident{Name: tok.text, Offset: tok.pos}, nil

	case tokOp:
		switch tok.text {
		case "(":
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		case "[":
			elems, err := p.parseArgs("]")
			if err != nil {
				return nil, err
			}
			if err := p.node(); err != nil {
				return nil, err
			}
			return &ListExpr{Elements: elems, Offset: tok.pos}, nil
		}
	}
	return nil, &SyntaxError{Pos: tok.pos, Message: fmt.Sprintf("unexpected %s", tok)}
}
