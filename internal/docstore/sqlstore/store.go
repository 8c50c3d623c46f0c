// Package sqlstore keeps documents in a SQL table through gorm and fans change
// notices out over Redis pub/sub, so live queries in every process sharing
// the database see each other's writes.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chirper/feedsync/internal/cache"
	"github.com/chirper/feedsync/internal/db"
	"github.com/chirper/feedsync/internal/docstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
)

// ChangesChannel is the Redis channel carrying change notices.
const ChangesChannel = "docstore:changes"

type changeNotice struct {
	Origin      string   `json:"origin"`
	Collections []string `json:"collections"`
}

// Store keeps documents in one gorm table. Listeners are served by an
// in-process hub, fed by Redis when a bus is configured.
type Store struct {
	db     *gorm.DB
	bus    *cache.RedisCache
	hub    *docstore.Hub
	logger *slog.Logger
	origin string
	now    func() time.Time

	unsubscribe func()
}

// Option configures a Store.
type Option func(*Store)

// WithBus publishes and receives change notices through Redis. Without it
// only listeners of this Store see its writes.
func WithBus(bus *cache.RedisCache) Option {
	return func(s *Store) { s.bus = bus }
}

// WithClock overrides the commit clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps database, which must already be migrated, and subscribes to the
// bus when one is set.
func New(ctx context.Context, database *gorm.DB, logger *slog.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		db:     database,
		logger: logger,
		origin: uuid.NewString(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.hub = docstore.NewHub(s.Query, logger)

	if s.bus != nil {
		stop, err := s.bus.Subscribe(ctx, ChangesChannel, logger, s.onNotice)
		if err != nil {
			return nil, err
		}
		s.unsubscribe = stop
	}
	return s, nil
}

var _ docstore.Store = (*Store)(nil)

func (s *Store) onNotice(payload []byte) {
	var n changeNotice
	if err := json.Unmarshal(payload, &n); err != nil {
		s.logger.Warn("dropping malformed change notice", "err", err)
		return
	}
	if n.Origin == s.origin {
		return
	}
	s.hub.Notify(n.Collections...)
}

// Close stops the change bus subscription and every live query.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.hub.Close()
}

// Listeners reports the number of live subscriptions.
func (s *Store) Listeners() int { return s.hub.Active() }

// Get returns the document or ErrNotFound.
func (s *Store) Get(ctx context.Context, ref docstore.Ref) (*docstore.Document, error) {
	var row db.Document
	err := s.db.WithContext(ctx).
		Where("collection = ? AND id = ?", ref.Collection, ref.ID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get %s: %w", ref, svcErr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	d, err := decode(row)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Query loads the collection and evaluates the query in process. A filter on
// the document id narrows the read to that row.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	tx := s.db.WithContext(ctx).Where("collection = ?", q.Collection)
	for _, f := range q.Filters {
		if f.Field == docstore.DocumentID && f.Op == docstore.OpEqual {
			tx = tx.Where("id = ?", f.Value)
		}
	}

	var rows []db.Document
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}

	docs := make([]docstore.Document, 0, len(rows))
	for _, row := range rows {
		d, err := decode(row)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return q.Apply(docs), nil
}

// Listen subscribes fn to q.
func (s *Store) Listen(ctx context.Context, q docstore.Query, fn docstore.ListenFunc) (docstore.StopFunc, error) {
	return s.hub.Listen(ctx, q, fn)
}

// Create fails with ErrAlreadyExists when ref exists.
func (s *Store) Create(ctx context.Context, ref docstore.Ref, data docstore.Data) error {
	return s.Commit(ctx, docstore.CreateWrite(ref, data))
}

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

// Commit applies every write inside one transaction. Rows read for an update
// are locked on MySQL; SQLite serializes writers on its single connection.
func (s *Store) Commit(ctx context.Context, writes ...docstore.Write) error {
	if len(writes) == 0 {
		return nil
	}
	now := s.now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		staged := make(map[docstore.Ref]*docstore.Document)
		created := make(map[docstore.Ref]bool)
		order := make([]docstore.Ref, 0, len(writes))

		for _, w := range writes {
			if w.Ref.Collection == "" || w.Ref.ID == "" {
				return fmt.Errorf("%s %q: %w", w.Kind, w.Ref, svcErr.ErrInvalidArgument)
			}
			existing, err := s.current(tx, staged, w.Ref)
			if err != nil {
				return err
			}
			_, seen := staged[w.Ref]
			if !seen {
				order = append(order, w.Ref)
			}

			switch w.Kind {
			case docstore.WriteCreate:
				if existing != nil {
					return fmt.Errorf("create %s: %w", w.Ref, svcErr.ErrAlreadyExists)
				}
				// a row deleted earlier in this commit still exists until flush
				created[w.Ref] = !seen
				staged[w.Ref] = &docstore.Document{
					Ref:        w.Ref,
					Data:       docstore.ResolveData(w.Data, now),
					CreateTime: now,
					UpdateTime: now,
				}
			case docstore.WriteSet:
				createTime := now
				if existing != nil {
					createTime = existing.CreateTime
				}
				staged[w.Ref] = &docstore.Document{
					Ref:        w.Ref,
					Data:       docstore.ResolveData(w.Data, now),
					CreateTime: createTime,
					UpdateTime: now,
				}
			case docstore.WriteUpdate:
				if existing == nil {
					return fmt.Errorf("update %s: %w", w.Ref, svcErr.ErrNotFound)
				}
				next := existing.Clone()
				next.Data = docstore.ApplyUpdates(existing.Data, w.Updates, now)
				next.UpdateTime = now
				staged[w.Ref] = &next
			case docstore.WriteDelete:
				staged[w.Ref] = nil
			}
		}

		for _, ref := range order {
			if err := s.flush(tx, ref, staged[ref], created[ref]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("commit: %w", errors.Join(svcErr.ErrAlreadyExists, err))
		}
		return err
	}

	s.publish(ctx, docstore.Collections(writes))
	return nil
}

// current returns the document as seen by the transaction so far: staged
// state first, then the stored row. A nil document means absent.
func (s *Store) current(tx *gorm.DB, staged map[docstore.Ref]*docstore.Document, ref docstore.Ref) (*docstore.Document, error) {
	if d, ok := staged[ref]; ok {
		return d, nil
	}
	q := tx.Where("collection = ? AND id = ?", ref.Collection, ref.ID)
	if tx.Dialector.Name() == "mysql" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row db.Document
	err := q.Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	d, err := decode(row)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) flush(tx *gorm.DB, ref docstore.Ref, d *docstore.Document, create bool) error {
	if d == nil {
		if err := tx.Where("collection = ? AND id = ?", ref.Collection, ref.ID).Delete(&db.Document{}).Error; err != nil {
			return fmt.Errorf("delete %s: %w", ref, err)
		}
		return nil
	}
	row, err := encode(*d)
	if err != nil {
		return err
	}
	if create {
		// a concurrent creator surfaces here as a duplicate key
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create %s: %w", ref, err)
		}
		return nil
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "time_keys", "created_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("write %s: %w", ref, err)
	}
	return nil
}

// publish wakes local listeners and tells other processes about the write.
func (s *Store) publish(ctx context.Context, collections []string) {
	s.hub.Notify(collections...)
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(changeNotice{Origin: s.origin, Collections: collections})
	if err != nil {
		s.logger.Error("failed to encode change notice", "err", err)
		return
	}
	if err := s.bus.Publish(context.WithoutCancel(ctx), ChangesChannel, payload); err != nil {
		s.logger.Warn("failed to publish change notice", "collections", collections, "err", err)
	}
}
