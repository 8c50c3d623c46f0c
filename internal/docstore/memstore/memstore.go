// Package memstore is an in-process implementation of the document store
// contract. It backs the tests of the sync core and the CLI's memory mode.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chirper/feedsync/internal/docstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
)

// Store is an in-process docstore.Store. Writes commit atomically under one
// lock and are pushed to listeners afterwards.
type Store struct {
	mu   sync.RWMutex
	docs map[string]map[string]docstore.Document // collection -> id -> doc
	now  func() time.Time
	hub  *docstore.Hub
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the commit clock, mostly for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		docs: make(map[string]map[string]docstore.Document),
		now:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.hub = docstore.NewHub(s.Query, logger)
	return s
}

var _ docstore.Store = (*Store)(nil)

// Get returns a copy of the document or ErrNotFound.
func (s *Store) Get(ctx context.Context, ref docstore.Ref) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[ref.Collection][ref.ID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", ref, svcErr.ErrNotFound)
	}
	out := d.Clone()
	return &out, nil
}

// Query evaluates q over the collection.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	all := make([]docstore.Document, 0, len(s.docs[q.Collection]))
	for _, d := range s.docs[q.Collection] {
		all = append(all, d)
	}
	s.mu.RUnlock()

	res := q.Apply(all)
	for i := range res {
		res[i] = res[i].Clone()
	}
	return res, nil
}

// Listen subscribes fn to q.
func (s *Store) Listen(ctx context.Context, q docstore.Query, fn docstore.ListenFunc) (docstore.StopFunc, error) {
	return s.hub.Listen(ctx, q, fn)
}

// Listeners reports the number of live subscriptions.
func (s *Store) Listeners() int { return s.hub.Active() }

// Close stops every live subscription.
func (s *Store) Close() { s.hub.Close() }

// Create fails with ErrAlreadyExists when ref exists.
func (s *Store) Create(ctx context.Context, ref docstore.Ref, data docstore.Data) error {
	return s.Commit(ctx, docstore.CreateWrite(ref, data))
}

// Set replaces the document.
func (s *Store) Set(ctx context.Context, ref docstore.Ref, data docstore.Data) error {
	return s.Commit(ctx, docstore.SetWrite(ref, data))
}

// Update fails with ErrNotFound when ref is missing.
func (s *Store) Update(ctx context.Context, ref docstore.Ref, updates ...docstore.FieldUpdate) error {
	return s.Commit(ctx, docstore.UpdateWrite(ref, updates...))
}

func (s *Store) Delete(ctx context.Context, ref docstore.Ref) error {
	return s.Commit(ctx, docstore.DeleteWrite(ref))
}

// Add creates a document under a generated id.
func (s *Store) Add(ctx context.Context, collection string, data docstore.Data) (docstore.Ref, error) {
	ref := docstore.NewRef(collection, uuid.NewString())
	if err := s.Commit(ctx, docstore.CreateWrite(ref, data)); err != nil {
		return docstore.Ref{}, err
	}
	return ref, nil
}

// Commit validates every write against a staged view first, then applies
// them all under one lock, so a failing write leaves the store untouched.
func (s *Store) Commit(ctx context.Context, writes ...docstore.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}

	s.mu.Lock()
	now := s.now().UTC()
	staged := make(map[docstore.Ref]*docstore.Document)
	current := func(ref docstore.Ref) *docstore.Document {
		if d, ok := staged[ref]; ok {
			return d
		}
		if d, ok := s.docs[ref.Collection][ref.ID]; ok {
			c := d.Clone()
			return &c
		}
		return nil
	}

	for _, w := range writes {
		if w.Ref.Collection == "" || w.Ref.ID == "" {
			s.mu.Unlock()
			return fmt.Errorf("%s %q: %w", w.Kind, w.Ref, svcErr.ErrInvalidArgument)
		}
		existing := current(w.Ref)
		switch w.Kind {
		case docstore.WriteCreate:
			if existing != nil {
				s.mu.Unlock()
				return fmt.Errorf("create %s: %w", w.Ref, svcErr.ErrAlreadyExists)
			}
			staged[w.Ref] = &docstore.Document{
				Ref:        w.Ref,
				Data:       docstore.ResolveData(w.Data, now),
				CreateTime: now,
				UpdateTime: now,
			}
		case docstore.WriteSet:
			created := now
			if existing != nil {
				created = existing.CreateTime
			}
			staged[w.Ref] = &docstore.Document{
				Ref:        w.Ref,
				Data:       docstore.ResolveData(w.Data, now),
				CreateTime: created,
				UpdateTime: now,
			}
		case docstore.WriteUpdate:
			if existing == nil {
				s.mu.Unlock()
				return fmt.Errorf("update %s: %w", w.Ref, svcErr.ErrNotFound)
			}
			existing.Data = docstore.ApplyUpdates(existing.Data, w.Updates, now)
			existing.UpdateTime = now
			staged[w.Ref] = existing
		case docstore.WriteDelete:
			staged[w.Ref] = nil
		}
	}

	for ref, d := range staged {
		coll := s.docs[ref.Collection]
		if d == nil {
			delete(coll, ref.ID)
			continue
		}
		if coll == nil {
			coll = make(map[string]docstore.Document)
			s.docs[ref.Collection] = coll
		}
		coll[ref.ID] = *d
	}
	s.mu.Unlock()

	s.hub.Notify(docstore.Collections(writes)...)
	return nil
}
