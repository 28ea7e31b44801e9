package expr

import (
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/dynamodel/internal/wire"
	"github.com/pay-theory/dynamodel/pkg/expression"
)

// Placeholders allocates "#N" name and ":N" value placeholders for one
// request. Equal names share a placeholder, as do values with the same
// canonical encoding. Indices start at 0 in first-use order.
//
// A Placeholders is not safe for concurrent use and must not be reused across
// requests.
type Placeholders struct {
	names      map[string]string // placeholder -> attribute name
	nameIndex  map[string]string // attribute name -> placeholder
	values     map[string]types.AttributeValue
	valueIndex map[string]string // canonical value -> placeholder
}

// NewPlaceholders returns an empty allocator.
func NewPlaceholders() *Placeholders {
	return &Placeholders{
		names:      make(map[string]string),
		nameIndex:  make(map[string]string),
		values:     make(map[string]types.AttributeValue),
		valueIndex: make(map[string]string),
	}
}

// Name returns the placeholder for a single attribute name.
func (p *Placeholders) Name(name string) string {
	if ph, ok := p.nameIndex[name]; ok {
		return ph
	}
	ph := "#" + strconv.Itoa(len(p.names))
	p.names[ph] = name
	p.nameIndex[name] = ph
	return ph
}

// Path renders a document path with every name segment replaced by its
// placeholder, e.g. "#0.#1[2]".
func (p *Placeholders) Path(path expression.Path) (string, error) {
	if err := path.Err(); err != nil {
		return "", err
	}
	var b strings.Builder
	for i, seg := range path.Segments() {
		if seg.IsIndex {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteByte(']')
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(p.Name(seg.Name))
	}
	return b.String(), nil
}

// Value returns the placeholder for a literal value.
func (p *Placeholders) Value(av types.AttributeValue) (string, error) {
	key, err := wire.Canonical(av)
	if err != nil {
		return "", err
	}
	if ph, ok := p.valueIndex[key]; ok {
		return ph, nil
	}
	ph := ":" + strconv.Itoa(len(p.values))
	p.values[ph] = av
	p.valueIndex[key] = ph
	return ph, nil
}

// Names returns the name map, or nil when no name was allocated.
func (p *Placeholders) Names() map[string]string {
	if len(p.names) == 0 {
		return nil
	}
	return p.names
}

// Values returns the value map, or nil when no value was allocated.
func (p *Placeholders) Values() map[string]types.AttributeValue {
	if len(p.values) == 0 {
		return nil
	}
	return p.values
}
