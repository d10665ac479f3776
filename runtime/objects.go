package runtime

// Heap object kinds used by the execution core. Each implements Object so
// the collector can enumerate outgoing references uniformly.

// Tuple is an immutable fixed-length sequence of values.
type Tuple struct {
	Items []Variant
}

// Trace marks every object the tuple references.
func (t *Tuple) Trace(mark func(Handle)) {
	for _, v := range t.Items {
		if v.IsObject() {
			mark(v.Object())
		}
	}
}

// Cell is a mutable box holding a single value. Cells back captured local
// variables: every closure sharing a capture holds a handle to the same
// cell, so mutations are visible across scopes.
type Cell struct {
	Value Variant
}

// Trace marks the boxed value if it is an object.
func (c *Cell) Trace(mark func(Handle)) {
	if c.Value.IsObject() {
		mark(c.Value.Object())
	}
}

// Closure is a function value: a prototype index into the owning program
// plus the cells captured from enclosing frames.
type Closure struct {
	Proto    int
	Upvalues []Handle // handles to Cells
}

// Trace marks every captured cell.
func (c *Closure) Trace(mark func(Handle)) {
	for _, h := range c.Upvalues {
		mark(h)
	}
}
