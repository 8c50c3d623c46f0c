package livequery

import (
	"context"
	"errors"
	"fmt"

	"github.com/chirper/feedsync/internal/docstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
)

// Join attaches a referenced document to every row. The zero value is
// NoJoin. Joins are one level deep: the joined document is never joined
// further.
type Join struct {
	field      string
	collection string
}

var NoJoin = Join{}

// ByForeignKey joins the document in collection whose id is the row's value
// for field.
func ByForeignKey(field, collection string) Join {
	return Join{field: field, collection: collection}
}

// Enabled reports whether rows are joined.
func (j Join) Enabled() bool { return j.field != "" }

func (j Join) String() string {
	if !j.Enabled() {
		return "none"
	}
	return j.field + "->" + j.collection
}

// ref returns the foreign document a row points at, or false when the row
// carries no usable key.
func (j Join) ref(d docstore.Document) (docstore.Ref, bool) {
	id := d.String(j.field)
	if j.field == docstore.DocumentID {
		id = d.ID()
	}
	if id == "" {
		return docstore.Ref{}, false
	}
	return docstore.NewRef(j.collection, id), true
}

// Target describes what a Cache mirrors: a collection query or one document,
// plus the options that shape the result.
type Target struct {
	Query docstore.Query
	// Doc is set for single-document targets; Query is then derived from it.
	Doc *docstore.Ref
	// Join is resolved for every row before the row is reported.
	Join Join
	// AllowNull reports an empty query result as NotFound instead of an
	// empty Ready list.
	AllowNull bool
	// Disabled keeps the cache in Loading without subscribing, for targets
	// whose inputs are not known yet.
	Disabled bool
}

// QueryTarget mirrors every document matching q.
func QueryTarget(q docstore.Query) Target {
	return Target{Query: q}
}

// DocTarget mirrors the single document at ref.
func DocTarget(ref docstore.Ref) Target {
	return Target{Query: docstore.DocQuery(ref), Doc: &ref}
}

// WithJoin returns a copy of t whose rows are joined through j.
func (t Target) WithJoin(j Join) Target {
	t.Join = j
	return t
}

// AllowingNull returns a copy of t that reports an empty result as NotFound.
func (t Target) AllowingNull() Target {
	t.AllowNull = true
	return t
}

// DisabledIf disables the target when cond holds, e.g. while the identity the
// query is keyed on is still unknown.
func (t Target) DisabledIf(cond bool) Target {
	t.Disabled = cond
	return t
}

// Key identifies the subscription: two targets with the same key share one.
func (t Target) Key() string {
	kind := "query"
	if t.Doc != nil {
		kind = "doc"
	}
	return fmt.Sprintf("%s|%s|join=%s|null=%t|off=%t", kind, t.Query.Key(), t.Join, t.AllowNull, t.Disabled)
}

// ResolveJoin attaches joined documents to the result of a one-shot read.
// Rows whose target is missing are dropped, as in a live cache.
func ResolveJoin(ctx context.Context, store docstore.Store, j Join, docs []docstore.Document) ([]Row, error) {
	rows := make([]Row, 0, len(docs))
	for _, d := range docs {
		if !j.Enabled() {
			rows = append(rows, Row{Doc: d})
			continue
		}
		ref, ok := j.ref(d)
		if !ok {
			continue
		}
		joined, err := store.Get(ctx, ref)
		if errors.Is(err, svcErr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("join %s: %w", ref, err)
		}
		rows = append(rows, Row{Doc: d, Joined: joined})
	}
	return rows, nil
}
