package docstore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirper/feedsync/internal/docstore"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func tweet(id string, minute int, likes ...string) docstore.Document {
	return docstore.Document{
		Ref: docstore.NewRef("tweets", id),
		Data: docstore.CloneData(docstore.Data{
			"text":      "tweet " + id,
			"createdBy": "u1",
			"createdAt": base.Add(time.Duration(minute) * time.Minute),
			"userLikes": likes,
		}),
	}
}

func ids(docs []docstore.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}

func TestQueryApplyOrdersFiltersAndLimits(t *testing.T) {
	docs := []docstore.Document{tweet("a", 1), tweet("b", 3, "u2"), tweet("c", 2, "u2"), tweet("d", 4)}

	q := docstore.From("tweets").
		Where("userLikes", docstore.OpArrayContains, "u2").
		OrderBy("createdAt", docstore.Desc)
	assert.Equal(t, []string{"b", "c"}, ids(q.Apply(docs)))

	all := docstore.From("tweets").OrderBy("createdAt", docstore.Desc).WithLimit(3)
	assert.Equal(t, []string{"d", "b", "c"}, ids(all.Apply(docs)))
}

func TestQueryStartAfterUsesIDTiebreak(t *testing.T) {
	// x and y share a timestamp, so only the id separates them
	docs := []docstore.Document{tweet("x", 5), tweet("y", 5), tweet("z", 4)}
	q := docstore.From("tweets").OrderBy("createdAt", docstore.Desc)

	ordered := q.Apply(docs)
	require.Equal(t, []string{"y", "x", "z"}, ids(ordered))

	next := q.After(q.CursorValues(ordered[0])...).Apply(docs)
	assert.Equal(t, []string{"x", "z"}, ids(next))

	// without the id the anchor excludes every row with an equal key
	byKeyOnly := q.After(base.Add(5 * time.Minute)).Apply(docs)
	assert.Equal(t, []string{"z"}, ids(byKeyOnly))
}

func TestQueryDocumentIDFilter(t *testing.T) {
	docs := []docstore.Document{tweet("a", 1), tweet("b", 2)}
	q := docstore.DocQuery(docstore.NewRef("tweets", "b"))
	assert.Equal(t, []string{"b"}, ids(q.Apply(docs)))
}

func TestQueryKeyIsStable(t *testing.T) {
	q1 := docstore.From("notifications").Where("targetUserId", docstore.OpEqual, "u1").OrderBy("createdAt", docstore.Desc)
	q2 := docstore.From("notifications").Where("targetUserId", docstore.OpEqual, "u1").OrderBy("createdAt", docstore.Desc)
	q3 := q1.WithLimit(10)

	assert.Equal(t, q1.Key(), q2.Key())
	assert.NotEqual(t, q1.Key(), q3.Key())
}

func TestDiff(t *testing.T) {
	old := []docstore.Document{tweet("a", 1), tweet("b", 2), tweet("c", 3)}
	changedB := tweet("b", 2, "u9")
	next := []docstore.Document{tweet("d", 4), tweet("a", 1), changedB}

	changes := docstore.Diff(old, next)
	require.Len(t, changes, 3)

	assert.Equal(t, docstore.Removed, changes[0].Kind)
	assert.Equal(t, "c", changes[0].Doc.ID())
	assert.Equal(t, 2, changes[0].OldIndex)

	assert.Equal(t, docstore.Added, changes[1].Kind)
	assert.Equal(t, "d", changes[1].Doc.ID())
	assert.Equal(t, 0, changes[1].NewIndex)

	assert.Equal(t, docstore.Modified, changes[2].Kind)
	assert.Equal(t, "b", changes[2].Doc.ID())
	assert.Equal(t, 2, changes[2].NewIndex)
}

func TestApplyUpdatesTransforms(t *testing.T) {
	data := docstore.CloneData(docstore.Data{"userLikes": []string{"u1"}, "counter": 2})
	now := base.Add(time.Hour)

	out := docstore.ApplyUpdates(data, []docstore.FieldUpdate{
		{Field: "userLikes", Value: docstore.ArrayUnion("u1", "u2")},
		{Field: "counter", Value: docstore.Increment(3)},
		{Field: "updatedAt", Value: docstore.ServerTimestamp},
		{Field: "meta.seen", Value: true},
	}, now)

	assert.Equal(t, []any{"u1", "u2"}, out["userLikes"])
	assert.Equal(t, int64(5), out["counter"])
	assert.Equal(t, now, out["updatedAt"])
	assert.Equal(t, map[string]any{"seen": true}, out["meta"])

	removed := docstore.ApplyUpdates(out, []docstore.FieldUpdate{
		{Field: "userLikes", Value: docstore.ArrayRemove("u1", "u3")},
	}, now)
	assert.Equal(t, []any{"u2"}, removed["userLikes"])
	// the input is never mutated
	assert.Equal(t, []any{"u1", "u2"}, out["userLikes"])
}

func TestParseRef(t *testing.T) {
	ref, err := docstore.ParseRef("users/u1/bookmarks/t1")
	require.NoError(t, err)
	assert.Equal(t, docstore.NewRef("users/u1/bookmarks", "t1"), ref)
	assert.Equal(t, "users/u1/bookmarks/t1", ref.Path())

	_, err = docstore.ParseRef("users")
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	d := tweet("a", 1, "u2", "u3")
	var out struct {
		Text      string    `json:"text"`
		CreatedAt time.Time `json:"createdAt"`
		UserLikes []string  `json:"userLikes"`
	}
	require.NoError(t, d.DataTo(&out))
	assert.Equal(t, "tweet a", out.Text)
	assert.True(t, out.CreatedAt.Equal(base.Add(time.Minute)))
	assert.Equal(t, []string{"u2", "u3"}, out.UserLikes)
}
