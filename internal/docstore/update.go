package docstore

import (
	"strings"
	"time"
)

// ArrayUnionOp adds each value to a list field unless already present.
type ArrayUnionOp struct{ Values []any }

// ArrayRemoveOp removes every occurrence of each value from a list field.
type ArrayRemoveOp struct{ Values []any }

// ServerTimestampOp is replaced with the store's commit time.
type ServerTimestampOp struct{}

// IncrementOp adds By to a numeric field (missing counts as zero).
type IncrementOp struct{ By int64 }

func ArrayUnion(values ...any) ArrayUnionOp {
	return ArrayUnionOp{Values: normalizeAll(values)}
}

func ArrayRemove(values ...any) ArrayRemoveOp {
	return ArrayRemoveOp{Values: normalizeAll(values)}
}

var ServerTimestamp = ServerTimestampOp{}

func Increment(by int64) IncrementOp { return IncrementOp{By: by} }

func normalizeAll(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = Normalize(v)
	}
	return out
}

// FieldUpdate sets Field to Value, or applies Value when it is a transform.
type FieldUpdate struct {
	Field string
	Value any
}

type WriteKind int

const (
	WriteCreate WriteKind = iota
	WriteSet
	WriteUpdate
	WriteDelete
)

func (k WriteKind) String() string {
	switch k {
	case WriteCreate:
		return "create"
	case WriteSet:
		return "set"
	case WriteUpdate:
		return "update"
	case WriteDelete:
		return "delete"
	}
	return "unknown"
}

// Write is one element of an atomic Commit.
type Write struct {
	Kind    WriteKind
	Ref     Ref
	Data    Data
	Updates []FieldUpdate
}

func CreateWrite(ref Ref, data Data) Write {
	return Write{Kind: WriteCreate, Ref: ref, Data: data}
}

func SetWrite(ref Ref, data Data) Write {
	return Write{Kind: WriteSet, Ref: ref, Data: data}
}

func UpdateWrite(ref Ref, updates ...FieldUpdate) Write {
	return Write{Kind: WriteUpdate, Ref: ref, Updates: updates}
}

func DeleteWrite(ref Ref) Write {
	return Write{Kind: WriteDelete, Ref: ref}
}

// Collections lists the distinct collections touched by a set of writes.
func Collections(writes []Write) []string {
	seen := make(map[string]struct{}, len(writes))
	out := make([]string, 0, len(writes))
	for _, w := range writes {
		if _, ok := seen[w.Ref.Collection]; ok {
			continue
		}
		seen[w.Ref.Collection] = struct{}{}
		out = append(out, w.Ref.Collection)
	}
	return out
}

// ResolveData replaces transforms inside a Create/Set payload. Only
// ServerTimestamp is meaningful there; array ops start from an empty list.
func ResolveData(data Data, now time.Time) Data {
	out := make(Data, len(data))
	for k, v := range data {
		out[k] = applyTransform(nil, v, now)
	}
	return out
}

// ApplyUpdates returns a copy of data with the field updates applied.
func ApplyUpdates(data Data, updates []FieldUpdate, now time.Time) Data {
	out := CloneData(data)
	if out == nil {
		out = Data{}
	}
	for _, u := range updates {
		current, _ := lookup(out, u.Field)
		setPath(out, u.Field, applyTransform(current, u.Value, now))
	}
	return out
}

func applyTransform(current, v any, now time.Time) any {
	switch op := v.(type) {
	case ServerTimestampOp:
		return now.UTC()
	case ArrayUnionOp:
		list, _ := Normalize(current).([]any)
		out := append([]any{}, list...)
		for _, item := range op.Values {
			if !containsValue(out, item) {
				out = append(out, item)
			}
		}
		return out
	case ArrayRemoveOp:
		list, _ := Normalize(current).([]any)
		out := make([]any, 0, len(list))
		for _, item := range list {
			if !containsValue(op.Values, item) {
				out = append(out, item)
			}
		}
		return out
	case IncrementOp:
		switch n := Normalize(current).(type) {
		case int64:
			return n + op.By
		case float64:
			return n + float64(op.By)
		}
		return op.By
	}
	return Normalize(v)
}

func setPath(data map[string]any, field string, v any) {
	head, rest, nested := strings.Cut(field, ".")
	if !nested {
		data[field] = v
		return
	}
	child, ok := data[head].(map[string]any)
	if !ok {
		child = map[string]any{}
		data[head] = child
	}
	setPath(child, rest, v)
}
