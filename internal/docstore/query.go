package docstore

import (
	"fmt"
	"slices"
	"strings"
)

// DocumentID is the pseudo field that filters and orders on the document id.
const DocumentID = "__name__"

type Op string

const (
	OpEqual         Op = "=="
	OpNotEqual      Op = "!="
	OpLess          Op = "<"
	OpLessEqual     Op = "<="
	OpGreater       Op = ">"
	OpGreaterEqual  Op = ">="
	OpArrayContains Op = "array-contains"
	OpIn            Op = "in"
)

type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

type Filter struct {
	Field string
	Op    Op
	Value any
}

type Order struct {
	Field string
	Dir   Direction
}

// Query is an immutable description of a collection read. Builder methods
// return modified copies, so a base query can be shared and specialized.
type Query struct {
	Collection string
	Filters    []Filter
	Orders     []Order
	Limit      int
	// StartAfter holds one value per order, optionally followed by the
	// document id of the anchor row.
	StartAfter []any
}

// From starts a query over a collection path.
func From(collection string) Query {
	return Query{Collection: collection}
}

func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(slices.Clone(q.Filters), Filter{Field: field, Op: op, Value: Normalize(value)})
	return q
}

func (q Query) OrderBy(field string, dir Direction) Query {
	q.Orders = append(slices.Clone(q.Orders), Order{Field: field, Dir: dir})
	return q
}

func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

func (q Query) After(values ...any) Query {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = Normalize(v)
	}
	q.StartAfter = vals
	return q
}

// Key is a stable identity for the query, used to subscribe once per
// distinct query.
func (q Query) Key() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, f := range q.Filters {
		fmt.Fprintf(&b, "|w:%s%s%s", f.Field, f.Op, valueKey(f.Value))
	}
	for _, o := range q.Orders {
		fmt.Fprintf(&b, "|o:%s:%s", o.Field, o.Dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, "|l:%d", q.Limit)
	}
	if len(q.StartAfter) > 0 {
		b.WriteString("|a:")
		for _, v := range q.StartAfter {
			b.WriteString(valueKey(v))
			b.WriteByte(',')
		}
	}
	return b.String()
}

func valueKey(v any) string {
	return fmt.Sprintf("%T(%v)", v, v)
}

// Match reports whether a document passes every filter of the query.
func (q Query) Match(d Document) bool {
	for _, f := range q.Filters {
		if !matchFilter(d, f) {
			return false
		}
	}
	for _, o := range q.Orders {
		// ordered fields must be present, as in the hosted store
		if _, ok := d.Get(o.Field); !ok {
			return false
		}
	}
	return true
}

func matchFilter(d Document, f Filter) bool {
	v, ok := d.Get(f.Field)
	if !ok {
		return false
	}
	switch f.Op {
	case OpEqual:
		return EqualValues(v, f.Value)
	case OpNotEqual:
		return !EqualValues(v, f.Value)
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		if rank(Normalize(v)) != rank(f.Value) {
			return false
		}
		c := CompareValues(v, f.Value)
		switch f.Op {
		case OpLess:
			return c < 0
		case OpLessEqual:
			return c <= 0
		case OpGreater:
			return c > 0
		}
		return c >= 0
	case OpArrayContains:
		list, ok := Normalize(v).([]any)
		return ok && containsValue(list, f.Value)
	case OpIn:
		list, ok := f.Value.([]any)
		return ok && containsValue(list, v)
	}
	return false
}

// Compare orders two documents by the query's orders, breaking ties on the
// document id in the direction of the last order.
func (q Query) Compare(a, b Document) int {
	for _, o := range q.Orders {
		av, _ := a.Get(o.Field)
		bv, _ := b.Get(o.Field)
		c := CompareValues(av, bv)
		if o.Dir == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	c := strings.Compare(a.Ref.ID, b.Ref.ID)
	if q.lastDir() == Desc {
		c = -c
	}
	return c
}

func (q Query) lastDir() Direction {
	if len(q.Orders) == 0 {
		return Asc
	}
	return q.Orders[len(q.Orders)-1].Dir
}

// CursorValues returns the StartAfter values that anchor a page right after d.
func (q Query) CursorValues(d Document) []any {
	vals := make([]any, 0, len(q.Orders)+1)
	for _, o := range q.Orders {
		v, _ := d.Get(o.Field)
		vals = append(vals, Normalize(v))
	}
	return append(vals, d.Ref.ID)
}

// afterCursor reports whether d sorts strictly after the StartAfter anchor.
func (q Query) afterCursor(d Document) bool {
	if len(q.StartAfter) == 0 {
		return true
	}
	for i, o := range q.Orders {
		if i >= len(q.StartAfter) {
			return true
		}
		v, _ := d.Get(o.Field)
		c := CompareValues(v, q.StartAfter[i])
		if o.Dir == Desc {
			c = -c
		}
		if c != 0 {
			return c > 0
		}
	}
	if len(q.StartAfter) <= len(q.Orders) {
		return false
	}
	id, _ := q.StartAfter[len(q.Orders)].(string)
	c := strings.Compare(d.Ref.ID, id)
	if q.lastDir() == Desc {
		c = -c
	}
	return c > 0
}

// Apply evaluates the query over an unordered set of documents: filter,
// sort, cursor, limit.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Match(d) && q.afterCursor(d) {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, q.Compare)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
