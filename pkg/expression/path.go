// Package expression provides the building blocks for DynamoDB condition,
// key-condition and update expressions.
//
// Nodes are immutable values. Builders check operand compatibility when a node
// is created; an invalid node carries its error and is rejected before any
// request is sent. Rendering to the wire format lives in the compiler, which
// references every attribute name through a placeholder.
//
//	cond := expression.And(
//		expression.Name("Status").Eq("open"),
//		expression.Name("Views").Gt(100),
//	)
//	upd := []expression.Action{
//		expression.Name("Subject").Set("foo-subject"),
//		expression.Name("Tags").Remove(),
//	}
package expression

import (
	"fmt"
	"strconv"
	"strings"

	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
)

// MaxPathDepth is the deepest document path the store accepts.
const MaxPathDepth = 32

// Segment is one step of a Path: an attribute name or a list index.
type Segment struct {
	Name    string
	Index   int
	IsIndex bool
}

// Path identifies a location within an item.
type Path struct {
	segments []Segment
	err      error
}

// Name returns a path to a top-level attribute. The name is used verbatim;
// dots and brackets carry no meaning.
func Name(name string) Path {
	return Path{}.Field(name)
}

// NewPath returns a path descending through the named map keys.
func NewPath(names ...string) Path {
	var p Path
	for _, n := range names {
		p = p.Field(n)
	}
	return p
}

// ParsePath parses a document path such as "a.b[0].c".
func ParsePath(s string) Path {
	var p Path
	for part := range strings.SplitSeq(s, ".") {
		name, rest, indexed := strings.Cut(part, "[")
		p = p.Field(name)
		if !indexed {
			continue
		}
		for _, idx := range strings.Split("["+rest, "[")[1:] {
			digits, ok := strings.CutSuffix(idx, "]")
			n, err := strconv.Atoi(digits)
			if !ok || err != nil {
				return Path{err: customerrors.NewCompilationError("path", "malformed list index in %q", s)}
			}
			p = p.Index(n)
		}
	}
	return p
}

// Field returns p extended by a map key.
func (p Path) Field(name string) Path {
	if p.err != nil {
		return p
	}
	if name == "" {
		return Path{err: customerrors.NewCompilationError("path", "empty attribute name")}
	}
	return p.with(Segment{Name: name})
}

// Index returns p extended by a list index.
func (p Path) Index(i int) Path {
	if p.err != nil {
		return p
	}
	if len(p.segments) == 0 {
		return Path{err: customerrors.NewCompilationError("path", "path cannot start with a list index")}
	}
	if i < 0 {
		return Path{err: customerrors.NewCompilationError("path", "negative list index %d", i)}
	}
	return p.with(Segment{Index: i, IsIndex: true})
}

func (p Path) with(s Segment) Path {
	if len(p.segments) >= MaxPathDepth {
		return Path{err: customerrors.NewCompilationError("path", "path exceeds maximum depth of %d", MaxPathDepth)}
	}
	segs := make([]Segment, len(p.segments), len(p.segments)+1)
	copy(segs, p.segments)
	return Path{segments: append(segs, s)}
}

// Segments returns a copy of the path's segments.
func (p Path) Segments() []Segment {
	return append([]Segment(nil), p.segments...)
}

// Root returns the top-level attribute name.
func (p Path) Root() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[0].Name
}

// Err returns the construction error, if any.
func (p Path) Err() error {
	if p.err != nil {
		return p.err
	}
	if len(p.segments) == 0 {
		return customerrors.NewCompilationError("path", "empty path")
	}
	return nil
}

// String renders the path in document notation. It is for diagnostics only.
func (p Path) String() string {
	var b strings.Builder
	for i, s := range p.segments {
		if s.IsIndex {
			fmt.Fprintf(&b, "[%d]", s.Index)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.Name)
	}
	return b.String()
}

// Equal reports whether p and o have the same segment sequence.
func (p Path) Equal(o Path) bool {
	if len(p.segments) != len(o.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != o.segments[i] {
			return false
		}
	}
	return true
}

// Overlaps reports whether one path is a prefix of the other.
func (p Path) Overlaps(o Path) bool {
	n := min(len(p.segments), len(o.segments))
	for i := range n {
		if p.segments[i] != o.segments[i] {
			return false
		}
	}
	return true
}

func (Path) isOperand() {}
