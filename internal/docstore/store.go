package docstore

import "context"

// ListenFunc receives snapshots of a live query in delivery order. A non-nil
// error is terminal: no further calls follow it.
type ListenFunc func(Snapshot, error)

// StopFunc tears a listener down. Calling it more than once is safe.
type StopFunc func()

// Store is the remote document store consumed by the sync core.
type Store interface {
	// Get returns the document or an error wrapping errors.ErrNotFound.
	Get(ctx context.Context, ref Ref) (*Document, error)
	// Query runs a one-shot read.
	Query(ctx context.Context, q Query) ([]Document, error)
	// Listen starts a live subscription on q.
	Listen(ctx context.Context, q Query, fn ListenFunc) (StopFunc, error)

	// Create fails with errors.ErrAlreadyExists when the document exists.
	Create(ctx context.Context, ref Ref, data Data) error
	// Set creates or overwrites the document.
	Set(ctx context.Context, ref Ref, data Data) error
	// Update applies field updates and transforms to an existing document.
	Update(ctx context.Context, ref Ref, updates ...FieldUpdate) error
	// Delete removes the document; deleting a missing document is not an error.
	Delete(ctx context.Context, ref Ref) error
	// Add creates a document with a store-generated id.
	Add(ctx context.Context, collection string, data Data) (Ref, error)
	// Commit applies all writes atomically: all succeed or none do.
	Commit(ctx context.Context, writes ...Write) error
}

// DocQuery is the query that watches a single document by id.
func DocQuery(ref Ref) Query {
	return From(ref.Collection).Where(DocumentID, OpEqual, ref.ID).WithLimit(1)
}
