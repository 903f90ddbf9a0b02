package expression

// Node is the base interface for all AST nodes
type Node interface {
	Pos() int
}

// NumberLit is a numeric literal
type NumberLit struct {
	Value  float64
	Offset int
}

// StringLit is a quoted string literal
type StringLit struct {
	Value  string
	Offset int
}

// Ident is a variable or built-in reference
type Ident struct {
	Name   string
	Offset int
}

// AttrExpr is a member access such as math.ceil
type AttrExpr struct {
	X      Node
	Name   string
	Offset int
}

// UnaryExpr is a prefix operation (+x, -x)
type UnaryExpr struct {
	Op     string
	X      Node
	Offset int
}

// BinaryExpr is an infix arithmetic operation
type BinaryExpr struct {
	Op     string
	Left   Node
	Right  Node
	Offset int
}

// CallExpr is a call to a built-in function
type CallExpr struct {
	Func   Node
	Args   []Node
	Offset int
}

// ListExpr is a bracketed list literal
type ListExpr struct {
	Elements []Node
	Offset   int
}

func (n *NumberLit) Pos() int  { return n.Offset }
func (n *StringLit) Pos() int  { return n.Offset }
func (n *Ident) Pos() int      { return n.Offset }
func (n *AttrExpr) Pos() int   { return n.Offset }
func (n *UnaryExpr) Pos() int  { return n.Offset }
func (n *BinaryExpr) Pos() int { return n.Offset }
func (n *CallExpr) Pos() int   { return n.Offset }
func (n *ListExpr) Pos() int   { return n.Offset }

// References returns the variable names an expression reads, in first-use
// order. Built-in function names and the math namespace are excluded.
func References(root Node) []string {
	var names []string
	seen := make(map[string]bool)

	var walk func(n Node)
	walk = func(n Node) {
		switch x := n.(type) {
		case *Ident:
			if !seen[x.Name] {
				seen[x.Name] = true
				names = append(names, x.Name)
			}
		case *AttrExpr:
			if id, ok := x.X.(*Ident); ok && id.Name == mathNamespace {
				return
			}
			walk(x.X)
		case *UnaryExpr:
			walk(x.X)
		case *BinaryExpr:
			walk(x.Left)
			walk(x.Right)
		case *CallExpr:
			if _, ok := x.Func.(*Ident); !ok {
				walk(x.Func)
			}
			for _, a := range x.Args {
				walk(a)
			}
		case *ListExpr:
			for _, e := range x.Elements {
				walk(e)
			}
		}
	}
	walk(root)
	return names
}
