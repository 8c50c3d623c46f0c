// Package docstore defines the remote document store contract the sync core
// is written against, together with the query evaluation, snapshot diffing
// and listener plumbing shared by the store implementations.
package docstore

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Data is the field map of a document. Values are normalized to nil, bool,
// int64, float64, string, time.Time, []any and map[string]any.
type Data map[string]any

// Ref addresses a single document. Collection is a slash-separated path so
// sub-collections ("users/u1/bookmarks") are addressed the same way.
type Ref struct {
	Collection string
	ID         string
}

func NewRef(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

// ParseRef splits "users/u1/bookmarks/t1" into its collection and id.
func ParseRef(path string) (Ref, error) {
	path = strings.Trim(path, "/")
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return Ref{}, fmt.Errorf("invalid document path %q", path)
	}
	return Ref{Collection: path[:i], ID: path[i+1:]}, nil
}

func (r Ref) Path() string { return r.Collection + "/" + r.ID }

func (r Ref) String() string { return r.Path() }

// Document is a point-in-time copy of a stored document.
type Document struct {
	Ref        Ref
	Data       Data
	CreateTime time.Time
	UpdateTime time.Time
}

func (d Document) ID() string { return d.Ref.ID }

// Get returns the value stored under a (possibly dotted) field path.
func (d Document) Get(field string) (any, bool) {
	if field == DocumentID {
		return d.Ref.ID, true
	}
	return lookup(d.Data, field)
}

// String returns the field as a string, or "" when absent or not a string.
func (d Document) String(field string) string {
	v, _ := d.Get(field)
	s, _ := v.(string)
	return s
}

// Strings returns a list-typed field as strings, skipping non-string members.
func (d Document) Strings(field string) []string {
	v, _ := d.Get(field)
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Clone returns a deep copy so callers can hold on to it safely.
func (d Document) Clone() Document {
	d.Data = CloneData(d.Data)
	return d
}

// DataTo decodes the document fields into v using its json tags.
func (d Document) DataTo(v any) error {
	return Decode(d.Data, v)
}

// Decode converts a field map into a tagged struct.
func Decode(data Data, v any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document data: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode document data: %w", err)
	}
	return nil
}

// CloneData deep-copies a field map, normalizing values on the way.
func CloneData(data Data) Data {
	if data == nil {
		return nil
	}
	out := make(Data, len(data))
	for k, v := range data {
		out[k] = Normalize(v)
	}
	return out
}

func lookup(data map[string]any, field string) (any, bool) {
	if data == nil {
		return nil, false
	}
	if v, ok := data[field]; ok {
		return v, true
	}
	head, rest, found := strings.Cut(field, ".")
	if !found {
		return nil, false
	}
	child, ok := data[head].(map[string]any)
	if !ok {
		if d, isData := data[head].(Data); isData {
			child = d
		} else {
			return nil, false
		}
	}
	return lookup(child, rest)
}
