package expression

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"battery-pricing/internal/logging"
)

// maxCachedPrograms bounds the compiled-program cache
const maxCachedPrograms = 4096

// Program is a parsed expression ready to run against any environment
type Program struct {
	source string
	root   Node
}

// Source returns the expression text
func (p *Program) Source() string {
	return p.source
}

// Root returns the parsed AST
func (p *Program) Root() Node {
	return p.root
}

// References returns the variables the expression reads
func (p *Program) References() []string {
	return References(p.root)
}

// Run evaluates the program against env. env is only read.
func (p *Program) Run(env *Environment) (Value, error) {
	return eval(p.root, env)
}

type compiled struct {
	program *Program
	err     error
}

// Evaluator compiles and evaluates expressions. It holds no per-evaluation
// state and is safe for concurrent use.
type Evaluator struct {
	limits Limits

	mu    sync.RWMutex
	cache map[string]compiled
}

// NewEvaluator creates an evaluator enforcing limits
func NewEvaluator(limits Limits) *Evaluator {
	return &Evaluator{
		limits: limits,
		cache:  make(map[string]compiled),
	}
}

// Limits returns the bounds enforced by this evaluator
func (e *Evaluator) Limits() Limits {
	return e.limits
}

// Compile parses src, reusing a previous result for identical text
func (e *Evaluator) Compile(src string) (*Program, error) {
	e.mu.RLock()
	c, ok := e.cache[src]
	e.mu.RUnlock()
	if ok {
		return c.program, c.err
	}

	root, err := Parse(src, e.limits)
	c = compiled{err: err}
	if err == nil {
		c.program = &Program{source: src, root: root}
	}

	e.mu.Lock()
	if len(e.cache) < maxCachedPrograms {
		e.cache[src] = c
	}
	e.mu.Unlock()

	return c.program, c.err
}

// Eval compiles and runs src, returning any failure
func (e *Evaluator) Eval(src string, env *Environment) (Value, error) {
	prog, err := e.Compile(src)
	if err != nil {
		return Null(), err
	}
	return prog.Run(env)
}

// Evaluate runs src and never fails: any error is logged and the result is 0.
// Callers that need to know about the failure use Eval.
func (e *Evaluator) Evaluate(src string, env *Environment) Value {
	v, err := e.Eval(src, env)
	if err != nil {
		logging.Warn("expression evaluation failed, using 0",
			zap.String("expr", src),
			zap.Error(err),
		)
		return Number(0)
	}
	return v
}

// NameError reports a reference to an undefined variable or function
type NameError struct {
	Name string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("name %q is not defined", e.Name)
}

func eval(n Node, env *Environment) (Value, error) {
	switch x := n.(type) {
	case *NumberLit:
		return Number(x.Value), nil

	case *StringLit:
		return String(x.Value), nil

	case *Ident:
		if v, ok := env.Get(x.Name); ok {
			return v, nil
		}
		if IsBuiltin(x.Name) {
			return Null(), fmt.Errorf("built-in %q cannot be used as a value", x.Name)
		}
		return Null(), &NameError{Name: x.Name}

	case *AttrExpr:
		ns, ok := x.X.(*Ident)
		if !ok || ns.Name != mathNamespace || env.Has(mathNamespace) {
			return Null(), fmt.Errorf("attribute access is only supported on the math namespace")
		}
		if c, ok := mathConstants[x.Name]; ok {
			return Number(c), nil
		}
		if _, ok := mathFuncs[x.Name]; ok {
			return Null(), fmt.Errorf("math.%s cannot be used as a value", x.Name)
		}
		return Null(), fmt.Errorf("math has no attribute %q", x.Name)

	case *UnaryExpr:
		v, err := eval(x.X, env)
		if err != nil {
			return Null(), err
		}
		f, err := v.AsNumber()
		if err != nil {
			return Null(), fmt.Errorf("bad operand for unary %s: %w", x.Op, err)
		}
		if x.Op == "-" {
			return Number(-f), nil
		}
		return Number(f), nil

	case *BinaryExpr:
		left, err := eval(x.Left, env)
		if err != nil {
			return Null(), err
		}
		right, err := eval(x.Right, env)
		if err != nil {
			return Null(), err
		}
		return binary(x.Op, left, right)

	case *CallExpr:
		fn, err := resolveCallable(x.Func, env)
		if err != nil {
			return Null(), err
		}
		args := make([]Value, len(x.Args))
		for i, a := range x.Args {
			if args[i], err = eval(a, env); err != nil {
				return Null(), err
			}
		}
		return fn.call(args)

	case *ListExpr:
		elems := make([]Value, len(x.Elements))
		for i, el := range x.Elements {
			v, err := eval(el, env)
			if err != nil {
				return Null(), err
			}
			elems[i] = v
		}
		return List(elems...), nil

	default:
		return Null(), fmt.Errorf("unsupported expression node %T", n)
	}
}

// resolveCallable finds the built-in a call refers to. Variables shadow
// built-ins, and a variable is never callable.
func resolveCallable(n Node, env *Environment) (*builtin, error) {
	switch x := n.(type) {
	case *Ident:
		if env.Has(x.Name) {
			return nil, fmt.Errorf("%q is a variable, not a function", x.Name)
		}
		if b, ok := builtins[x.Name]; ok {
			return b, nil
		}
		return nil, &NameError{Name: x.Name}

	case *AttrExpr:
		ns, ok := x.X.(*Ident)
		if ok && ns.Name == mathNamespace && !env.Has(mathNamespace) {
			if b, ok := mathFuncs[x.Name]; ok {
				return b, nil
			}
			return nil, fmt.Errorf("math has no function %q", x.Name)
		}
	}
	return nil, fmt.Errorf("expression is not callable")
}

func binary(op string, left, right Value) (Value, error) {
	if op == "+" {
		if left.Kind() == KindString && right.Kind() == KindString {
			return String(left.stringVal + right.stringVal), nil
		}
		if left.Kind() == KindList && right.Kind() == KindList {
			joined := make([]Value, 0, len(left.listVal)+len(right.listVal))
			joined = append(joined, left.listVal...)
			joined = append(joined, right.listVal...)
			return List(joined...), nil
		}
	}

	a, err := left.AsNumber()
	if err != nil {
		return Null(), fmt.Errorf("bad left operand for %s: %w", op, err)
	}
	b, err := right.AsNumber()
	if err != nil {
		return Null(), fmt.Errorf("bad right operand for %s: %w", op, err)
	}

	switch op {
	case "+":
		return Number(a + b), nil
	case "-":
		return Number(a - b), nil
	case "*":
		return Number(a * b), nil
	case "/":
		if b == 0 {
			return Null(), fmt.Errorf("division by zero")
		}
		return Number(a / b), nil
	case "//":
		if b == 0 {
			return Null(), fmt.Errorf("integer division by zero")
		}
		return Number(math.Floor(a/b) + 0), nil
	case "%":
		if b == 0 {
			return Null(), fmt.Errorf("modulo by zero")
		}
		r := math.Mod(a, b)
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return Number(r), nil
	case "**":
		return power(a, b)
	default:
		return Null(), fmt.Errorf("unknown operator %q", op)
	}
}
