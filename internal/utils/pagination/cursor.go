package pagination

import (
	"encoding/base64"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Cursor is the opaque pagination state we encode/decode.
// Keys holds one sort-key value per query order; ID is the anchor row's
// document id and breaks ties between equal keys.
type Cursor struct {
	Keys []Value `json:"k"`
	ID   string  `json:"id,omitempty"`
}

// Value is a typed sort-key value. JSON alone would lose the difference
// between a timestamp and a string, or an integer and a float.
type Value struct {
	Type   string  `json:"t"`
	Str    string  `json:"s,omitempty"`
	Int    int64   `json:"i,omitempty"`
	Float  float64 `json:"f,omitempty"`
	Bool   bool    `json:"b,omitempty"`
	TimeNs int64   `json:"n,omitempty"`
}

const (
	typeNull   = "null"
	typeString = "str"
	typeInt    = "int"
	typeFloat  = "float"
	typeBool   = "bool"
	typeTime   = "time"
)

// FromValues builds a cursor from StartAfter-style values: one per order,
// followed by the anchor id.
func FromValues(values []any) (Cursor, error) {
	if len(values) == 0 {
		return Cursor{}, nil
	}
	id, ok := values[len(values)-1].(string)
	if !ok {
		return Cursor{}, fmt.Errorf("cursor anchor id must be a string, got %T", values[len(values)-1])
	}
	c := Cursor{ID: id}
	for _, v := range values[:len(values)-1] {
		tv, err := typed(v)
		if err != nil {
			return Cursor{}, err
		}
		c.Keys = append(c.Keys, tv)
	}
	return c, nil
}

// Values turns the cursor back into StartAfter values.
func (c Cursor) Values() []any {
	if c.IsZero() {
		return nil
	}
	out := make([]any, 0, len(c.Keys)+1)
	for _, k := range c.Keys {
		out = append(out, k.value())
	}
	return append(out, c.ID)
}

func (c Cursor) IsZero() bool {
	return len(c.Keys) == 0 && c.ID == ""
}

func typed(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Value{Type: typeNull}, nil
	case string:
		return Value{Type: typeString, Str: x}, nil
	case int:
		return Value{Type: typeInt, Int: int64(x)}, nil
	case int64:
		return Value{Type: typeInt, Int: x}, nil
	case float64:
		return Value{Type: typeFloat, Float: x}, nil
	case bool:
		return Value{Type: typeBool, Bool: x}, nil
	case time.Time:
		return Value{Type: typeTime, TimeNs: x.UnixNano()}, nil
	}
	return Value{}, fmt.Errorf("unsupported cursor value type %T", v)
}

func (v Value) value() any {
	switch v.Type {
	case typeString:
		return v.Str
	case typeInt:
		return v.Int
	case typeFloat:
		return v.Float
	case typeBool:
		return v.Bool
	case typeTime:
		return time.Unix(0, v.TimeNs).UTC()
	}
	return nil
}

// Encode converts a Cursor into a Base64 string.
// An empty cursor encodes to the empty token.
func Encode(c Cursor) (string, error) {
	if c.IsZero() {
		return "", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Decode parses a Base64 string into a Cursor.
// Empty token → empty cursor (first page).
func Decode(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}

	b, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid pagination token")
	}

	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return Cursor{}, fmt.Errorf("invalid pagination token")
	}
	return c, nil
}
