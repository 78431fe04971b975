// Package fsquery implements the immutable query description and the
// comparator it derives, per spec §3/§4.6.
package fsquery

import (
	"sort"

	"github.com/cuemby/firekit/pkg/fsdoc"
	"github.com/cuemby/firekit/pkg/fsvalue"
	"github.com/cuemby/firekit/pkg/resource"
)

// Direction is a sort direction.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Order is a single "order by field, direction" clause. Field is matched as
// a literal snapshot field name; nested field-path parsing is out of scope
// (spec §1).
type Order struct {
	Field     string
	Direction Direction
}

// Op is a filter operator; the core transmits filters to the server without
// evaluating them locally (spec §1 Non-goals: no local query execution).
type Op string

const (
	OpEqual              Op = "=="
	OpNotEqual           Op = "!="
	OpLessThan           Op = "<"
	OpLessThanOrEqual    Op = "<="
	OpGreaterThan        Op = ">"
	OpGreaterThanOrEqual Op = ">="
	OpArrayContains      Op = "array-contains"
	OpArrayContainsAny   Op = "array-contains-any"
	OpIn                 Op = "in"
	OpNotIn              Op = "not-in"
)

// Filter is a single field filter carried opaquely to the server.
type Filter struct {
	Field string
	Op    Op
	Value fsvalue.Value
}

// Cursor positions a query boundary at a tuple of order-key values, matching
// the field count and order of the query's Orders.
type Cursor struct {
	Values []fsvalue.Value
	// Before selects "just before" semantics (startAt/endBefore) versus
	// "just after" semantics (startAfter/endAt), mirroring the wire
	// Cursor.before flag.
	Before bool
}

func StartAt(values ...fsvalue.Value) Cursor     { return Cursor{Values: values, Before: true} }
func StartAfter(values ...fsvalue.Value) Cursor  { return Cursor{Values: values, Before: false} }
func EndBefore(values ...fsvalue.Value) Cursor   { return Cursor{Values: values, Before: true} }
func EndAt(values ...fsvalue.Value) Cursor       { return Cursor{Values: values, Before: false} }

// Query is the immutable description from spec §3. Construct one with
// NewCollectionQuery/NewCollectionGroupQuery and derive new Querys with the
// With* methods; each returns a new value rather than mutating in place.
type Query struct {
	Parent         resource.Path
	CollectionID   string
	AllDescendants bool // collection-group flag

	Filters []Filter
	Orders  []Order

	StartCursor *Cursor
	EndCursor   *Cursor

	Limit  *int32
	Offset int32

	SelectFields []string // projection mask; nil means "all fields"
}

// NewCollectionQuery describes every document directly under parent whose
// id is collectionID.
func NewCollectionQuery(parent resource.Path, collectionID string) Query {
	return Query{Parent: parent, CollectionID: collectionID}
}

// NewCollectionGroupQuery describes every document across the database
// whose containing collection id is collectionID.
func NewCollectionGroupQuery(parent resource.Path, collectionID string) Query {
	return Query{Parent: parent, CollectionID: collectionID, AllDescendants: true}
}

func cloneFilters(f []Filter) []Filter {
	cp := make([]Filter, len(f))
	copy(cp, f)
	return cp
}

func cloneOrders(o []Order) []Order {
	cp := make([]Order, len(o))
	copy(cp, o)
	return cp
}

// WithFilter returns a new Query with f appended.
func (q Query) WithFilter(f Filter) Query {
	q.Filters = append(cloneFilters(q.Filters), f)
	return q
}

// WithOrder returns a new Query with o appended.
func (q Query) WithOrder(o Order) Query {
	q.Orders = append(cloneOrders(q.Orders), o)
	return q
}

// WithLimit returns a new Query capped at n results.
func (q Query) WithLimit(n int32) Query {
	q.Limit = &n
	return q
}

// WithOffset returns a new Query skipping the first n matches.
func (q Query) WithOffset(n int32) Query {
	q.Offset = n
	return q
}

// WithSelect returns a new Query projecting only the named fields.
func (q Query) WithSelect(fields ...string) Query {
	cp := make([]string, len(fields))
	copy(cp, fields)
	q.SelectFields = cp
	return q
}

// WithStartAt/WithStartAfter/WithEndBefore/WithEndAt return a new Query
// with the corresponding cursor set.
func (q Query) WithStartAt(c Cursor) Query    { q.StartCursor = &c; return q }
func (q Query) WithStartAfter(c Cursor) Query { q.StartCursor = &c; return q }
func (q Query) WithEndBefore(c Cursor) Query  { q.EndCursor = &c; return q }
func (q Query) WithEndAt(c Cursor) Query      { q.EndCursor = &c; return q }

// effectiveOrders returns q.Orders with an implicit __name__ tie-break
// appended, unless the query already orders by __name__ explicitly. The
// tie-break takes the direction of the last explicit order, or ascending
// when there is none.
func (q Query) effectiveOrders() []Order {
	for _, o := range q.Orders {
		if o.Field == "__name__" {
			return q.Orders
		}
	}
	dir := Ascending
	if len(q.Orders) > 0 {
		dir = q.Orders[len(q.Orders)-1].Direction
	}
	return append(cloneOrders(q.Orders), Order{Field: "__name__", Direction: dir})
}

// Comparator derives the deterministic total order for documents matching
// this query: the explicit Orders, then the implicit __name__ tie-break.
func (q Query) Comparator() func(a, b fsdoc.Snapshot) int {
	orders := q.effectiveOrders()
	return func(a, b fsdoc.Snapshot) int {
		for _, o := range orders {
			av, aok := a.Get(o.Field)
			bv, bok := b.Get(o.Field)
			var c int
			switch {
			case !aok && !bok:
				c = 0
			case !aok:
				c = -1
			case !bok:
				c = 1
			default:
				c = fsvalue.Compare(av, bv)
			}
			if o.Direction == Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	}
}

// Equal reports whether two queries have the same parent, collection,
// filters, orders, limit and offset. Used by QuerySnapshot equality
// (spec §4.4). Cursors and the projection mask are not compared.
func (q Query) Equal(o Query) bool {
	if !q.Parent.Equal(o.Parent) || q.CollectionID != o.CollectionID || q.AllDescendants != o.AllDescendants {
		return false
	}
	if len(q.Filters) != len(o.Filters) || len(q.Orders) != len(o.Orders) {
		return false
	}
	for i := range q.Orders {
		if q.Orders[i] != o.Orders[i] {
			return false
		}
	}
	for i := range q.Filters {
		if q.Filters[i].Field != o.Filters[i].Field || q.Filters[i].Op != o.Filters[i].Op ||
			!fsvalue.Equal(q.Filters[i].Value, o.Filters[i].Value) {
			return false
		}
	}
	if (q.Limit == nil) != (o.Limit == nil) || (q.Limit != nil && *q.Limit != *o.Limit) {
		return false
	}
	return q.Offset == o.Offset
}

// SortSnapshots sorts docs in place by the query's comparator. Used to
// validate the testable invariant that every emitted snapshot's docs array
// is sorted (spec §8).
func SortSnapshots(q Query, docs []fsdoc.Snapshot) {
	cmp := q.Comparator()
	sort.SliceStable(docs, func(i, j int) bool { return cmp(docs[i], docs[j]) < 0 })
}

// IsSorted reports whether docs already satisfy the query's comparator.
func IsSorted(q Query, docs []fsdoc.Snapshot) bool {
	cmp := q.Comparator()
	for i := 1; i < len(docs); i++ {
		if cmp(docs[i-1], docs[i]) > 0 {
			return false
		}
	}
	return true
}
