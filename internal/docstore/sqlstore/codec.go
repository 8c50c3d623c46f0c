package sqlstore

import (
	"bytes"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/chirper/feedsync/internal/db"
	"github.com/chirper/feedsync/internal/docstore"
)

// encode renders a document into its row. Timestamps are written as
// RFC 3339 strings and their paths recorded in TimeKeys.
func encode(d docstore.Document) (db.Document, error) {
	data, err := json.Marshal(d.Data)
	if err != nil {
		return db.Document{}, fmt.Errorf("encode %s: %w", d.Ref, err)
	}
	var paths [][]string
	collectTimePaths(d.Data, nil, &paths)
	keys, err := json.Marshal(paths)
	if err != nil {
		return db.Document{}, fmt.Errorf("encode %s time keys: %w", d.Ref, err)
	}
	return db.Document{
		Collection: d.Ref.Collection,
		ID:         d.Ref.ID,
		Data:       string(data),
		TimeKeys:   string(keys),
		CreatedAt:  d.CreateTime,
		UpdatedAt:  d.UpdateTime,
	}, nil
}

func decode(row db.Document) (docstore.Document, error) {
	ref := docstore.NewRef(row.Collection, row.ID)

	dec := json.NewDecoder(bytes.NewReader([]byte(row.Data)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return docstore.Document{}, fmt.Errorf("decode %s: %w", ref, err)
	}
	data := restoreNumbers(raw).(map[string]any)

	if row.TimeKeys != "" {
		var paths [][]string
		if err := json.Unmarshal([]byte(row.TimeKeys), &paths); err != nil {
			return docstore.Document{}, fmt.Errorf("decode %s time keys: %w", ref, err)
		}
		for _, p := range paths {
			restoreTime(data, p)
		}
	}

	return docstore.Document{
		Ref:        ref,
		Data:       docstore.CloneData(data),
		CreateTime: row.CreatedAt.UTC(),
		UpdateTime: row.UpdatedAt.UTC(),
	}, nil
}

func collectTimePaths(m map[string]any, prefix []string, out *[][]string) {
	for k, v := range m {
		path := append(append([]string{}, prefix...), k)
		switch x := v.(type) {
		case time.Time:
			*out = append(*out, path)
		case map[string]any:
			collectTimePaths(x, path, out)
		case docstore.Data:
			collectTimePaths(x, path, out)
		}
	}
}

func restoreTime(m map[string]any, path []string) {
	for len(path) > 1 {
		child, ok := m[path[0]].(map[string]any)
		if !ok {
			return
		}
		m, path = child, path[1:]
	}
	s, ok := m[path[0]].(string)
	if !ok {
		return
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		m[path[0]] = t.UTC()
	}
}

// restoreNumbers turns json.Number back into int64 or float64.
func restoreNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, item := range x {
			x[k] = restoreNumbers(item)
		}
		return x
	case []any:
		for i, item := range x {
			x[i] = restoreNumbers(item)
		}
		return x
	}
	return v
}
