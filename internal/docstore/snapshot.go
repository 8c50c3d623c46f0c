package docstore

import "time"

type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Change is one delta of a live query. OldIndex is -1 for additions and
// NewIndex is -1 for removals.
type Change struct {
	Kind     ChangeKind
	Doc      Document
	OldIndex int
	NewIndex int
}

// Snapshot is what a listener receives: the full ordered result plus the
// changes relative to the previous snapshot of the same listener.
type Snapshot struct {
	Docs     []Document
	Changes  []Change
	ReadTime time.Time
}

// Diff computes the changes turning old into new. Removals come first, then
// additions and modifications in new order. A document counts as modified
// only when its data changed.
func Diff(old, new []Document) []Change {
	oldIdx := make(map[string]int, len(old))
	for i, d := range old {
		oldIdx[d.Ref.ID] = i
	}
	newIdx := make(map[string]int, len(new))
	for i, d := range new {
		newIdx[d.Ref.ID] = i
	}

	var changes []Change
	for i, d := range old {
		if _, ok := newIdx[d.Ref.ID]; !ok {
			changes = append(changes, Change{Kind: Removed, Doc: d, OldIndex: i, NewIndex: -1})
		}
	}
	for j, d := range new {
		i, ok := oldIdx[d.Ref.ID]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: Added, Doc: d, OldIndex: -1, NewIndex: j})
		case !EqualData(old[i].Data, d.Data):
			changes = append(changes, Change{Kind: Modified, Doc: d, OldIndex: i, NewIndex: j})
		}
	}
	return changes
}
