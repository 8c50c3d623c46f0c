// Package firestore adapts Cloud Firestore to the document store contract.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	fs "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/chirper/feedsync/internal/config"
	"github.com/chirper/feedsync/internal/docstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
)

// Store adapts a Cloud Firestore client to docstore.Store.
type Store struct {
	client *fs.Client
	logger *slog.Logger
}

var _ docstore.Store = (*Store)(nil)

// New wraps an open client. Close closes it.
func New(client *fs.Client, logger *slog.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// NewApp builds the Firebase app from config. Credentials fall back to the
// ambient Google application credentials when none are configured.
func NewApp(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.Firebase.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.Firebase.CredentialsJSON)))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.Firebase.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init firebase app: %w", err)
	}
	return app, nil
}

// Open connects a Store through the app's Firestore client.
func Open(ctx context.Context, app *firebase.App, logger *slog.Logger) (*Store, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open firestore: %w", err)
	}
	return New(client, logger), nil
}

// Close closes the Firestore client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) doc(ref docstore.Ref) *fs.DocumentRef {
	return s.client.Collection(ref.Collection).Doc(ref.ID)
}

// Get returns the document or ErrNotFound.
func (s *Store) Get(ctx context.Context, ref docstore.Ref) (*docstore.Document, error) {
	snap, err := s.doc(ref).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, svcErr.FromStatus(err))
	}
	d := fromSnapshot(snap)
	return &d, nil
}

// Query runs q on the server.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	fq, err := s.translate(q)
	if err != nil {
		return nil, err
	}
	snaps, err := fq.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, svcErr.FromStatus(err))
	}
	out := make([]docstore.Document, len(snaps))
	for i, snap := range snaps {
		out[i] = fromSnapshot(snap)
	}
	return out, nil
}

// Listen follows the query's snapshot stream on its own goroutine. Stop may
// be called from inside fn.
func (s *Store) Listen(ctx context.Context, q docstore.Query, fn docstore.ListenFunc) (docstore.StopFunc, error) {
	fq, err := s.translate(q)
	if err != nil {
		return nil, err
	}
	lctx, cancel := context.WithCancel(ctx)
	it := fq.Snapshots(lctx)

	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if lctx.Err() != nil {
				return
			}
			if err != nil {
				if errors.Is(err, iterator.Done) {
					return
				}
				s.logger.Error("live query failed", "collection", q.Collection, "err", err)
				fn(docstore.Snapshot{}, svcErr.FromStatus(err))
				return
			}
			snap, err := convert(qs)
			if err != nil {
				fn(docstore.Snapshot{}, err)
				return
			}
			fn(snap, nil)
		}
	}()

	return func() { cancel() }, nil
}

func convert(qs *fs.QuerySnapshot) (docstore.Snapshot, error) {
	all, err := qs.Documents.GetAll()
	if err != nil {
		return docstore.Snapshot{}, svcErr.FromStatus(err)
	}
	docs := make([]docstore.Document, len(all))
	for i, snap := range all {
		docs[i] = fromSnapshot(snap)
	}
	changes := make([]docstore.Change, 0, len(qs.Changes))
	for _, c := range qs.Changes {
		ch := docstore.Change{Doc: fromSnapshot(c.Doc), OldIndex: c.OldIndex, NewIndex: c.NewIndex}
		switch c.Kind {
		case fs.DocumentAdded:
			ch.Kind = docstore.Added
		case fs.DocumentModified:
			ch.Kind = docstore.Modified
		case fs.DocumentRemoved:
			ch.Kind = docstore.Removed
		}
		changes = append(changes, ch)
	}
	return docstore.Snapshot{Docs: docs, Changes: changes, ReadTime: qs.ReadTime}, nil
}

// Create fails with ErrAlreadyExists when ref exists.
func (s *Store) Create(ctx context.Context, ref docstore.Ref, data docstore.Data) error {
	if _, err := s.doc(ref).Create(ctx, toFirestoreData(data)); err != nil {
		return fmt.Errorf("create %s: %w", ref, svcErr.FromStatus(err))
	}
	return nil
}

func (s *Store) Set(ctx context.Context, ref docstore.Ref, data docstore.Data) error {
	if _, err := s.doc(ref).Set(ctx, toFirestoreData(data)); err != nil {
		return fmt.Errorf("set %s: %w", ref, svcErr.FromStatus(err))
	}
	return nil
}

// Update fails with ErrNotFound when ref is missing.
func (s *Store) Update(ctx context.Context, ref docstore.Ref, updates ...docstore.FieldUpdate) error {
	if _, err := s.doc(ref).Update(ctx, toUpdates(updates)); err != nil {
		return fmt.Errorf("update %s: %w", ref, svcErr.FromStatus(err))
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, ref docstore.Ref) error {
	if _, err := s.doc(ref).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", ref, svcErr.FromStatus(err))
	}
	return nil
}

// Add creates a document under a server-generated id.
func (s *Store) Add(ctx context.Context, collection string, data docstore.Data) (docstore.Ref, error) {
	dr, _, err := s.client.Collection(collection).Add(ctx, toFirestoreData(data))
	if err != nil {
		return docstore.Ref{}, fmt.Errorf("add %s: %w", collection, svcErr.FromStatus(err))
	}
	return docstore.NewRef(collection, dr.ID), nil
}

// Commit runs the writes in a single transaction.
func (s *Store) Commit(ctx context.Context, writes ...docstore.Write) error {
	if len(writes) == 0 {
		return nil
	}
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *fs.Transaction) error {
		for _, w := range writes {
			dr := s.doc(w.Ref)
			var err error
			switch w.Kind {
			case docstore.WriteCreate:
				err = tx.Create(dr, toFirestoreData(w.Data))
			case docstore.WriteSet:
				err = tx.Set(dr, toFirestoreData(w.Data))
			case docstore.WriteUpdate:
				err = tx.Update(dr, toUpdates(w.Updates))
			case docstore.WriteDelete:
				err = tx.Delete(dr)
			}
			if err != nil {
				return fmt.Errorf("%s %s: %w", w.Kind, w.Ref, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit: %w", svcErr.FromStatus(err))
	}
	return nil
}

// translate maps a docstore query onto the Firestore query builder. A
// trailing id in StartAfter becomes an explicit document-id order so the
// cursor matches the id tiebreak of the other stores.
func (s *Store) translate(q docstore.Query) (fs.Query, error) {
	coll := s.client.Collection(q.Collection)
	if coll == nil {
		return fs.Query{}, fmt.Errorf("collection %q: %w", q.Collection, svcErr.ErrInvalidArgument)
	}
	fq := coll.Query

	for _, f := range q.Filters {
		value := toFirestoreValue(f.Value)
		if f.Field == docstore.DocumentID {
			value = idValue(coll, f.Value)
		}
		fq = fq.Where(f.Field, string(f.Op), value)
	}

	lastDir := fs.Asc
	for _, o := range q.Orders {
		dir := fs.Asc
		if o.Dir == docstore.Desc {
			dir = fs.Desc
		}
		lastDir = dir
		fq = fq.OrderBy(o.Field, dir)
	}

	if len(q.StartAfter) > 0 {
		values := make([]any, 0, len(q.StartAfter))
		for _, v := range q.StartAfter[:min(len(q.Orders), len(q.StartAfter))] {
			values = append(values, toFirestoreValue(v))
		}
		if len(q.StartAfter) > len(q.Orders) {
			id, _ := q.StartAfter[len(q.Orders)].(string)
			fq = fq.OrderBy(fs.DocumentID, lastDir)
			values = append(values, coll.Doc(id))
		}
		fq = fq.StartAfter(values...)
	}

	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq, nil
}

func idValue(coll *fs.CollectionRef, v any) any {
	switch x := v.(type) {
	case string:
		return coll.Doc(x)
	case []any:
		refs := make([]any, 0, len(x))
		for _, item := range x {
			if id, ok := item.(string); ok {
				refs = append(refs, coll.Doc(id))
			}
		}
		return refs
	}
	return v
}

func fromSnapshot(snap *fs.DocumentSnapshot) docstore.Document {
	return docstore.Document{
		Ref:        docstore.NewRef(collectionPath(snap.Ref), snap.Ref.ID),
		Data:       docstore.CloneData(snap.Data()),
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}
}

// collectionPath strips the "projects/*/databases/*/documents/" prefix.
func collectionPath(dr *fs.DocumentRef) string {
	p := dr.Parent.Path
	if _, rest, ok := strings.Cut(p, "/documents/"); ok {
		return rest
	}
	return p
}

func toFirestoreData(data docstore.Data) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = toFirestoreValue(v)
	}
	return out
}

func toFirestoreValue(v any) any {
	switch x := v.(type) {
	case docstore.ServerTimestampOp:
		return fs.ServerTimestamp
	case docstore.ArrayUnionOp:
		return fs.ArrayUnion(x.Values...)
	case docstore.ArrayRemoveOp:
		return fs.ArrayRemove(x.Values...)
	case docstore.IncrementOp:
		return fs.Increment(x.By)
	case docstore.Data:
		return toFirestoreData(x)
	case map[string]any:
		return toFirestoreData(x)
	}
	return docstore.Normalize(v)
}

func toUpdates(updates []docstore.FieldUpdate) []fs.Update {
	out := make([]fs.Update, len(updates))
	for i, u := range updates {
		out[i] = fs.Update{Path: u.Field, Value: toFirestoreValue(u.Value)}
	}
	return out
}
