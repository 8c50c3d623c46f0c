// Package mutation applies membership toggles (like, retweet, bookmark,
// follow) to the denormalized documents that carry them.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chirper/feedsync/internal/app"
	svcErr "github.com/chirper/feedsync/internal/errors"
)

// Status is the outcome of an Operation so far.
type Status int

const (
	Pending Status = iota
	Confirmed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Operation tracks one submitted toggle until the store accepts or rejects
// it.
type Operation struct {
	Toggle Toggle

	done   chan struct{}
	mu     sync.Mutex
	status Status
	err    error
}

// Status returns Pending until the commit settles.
func (o *Operation) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Err is the commit error of a Failed operation.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Done is closed once the operation leaves Pending.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Wait blocks until the operation settles or ctx ends.
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Operation) finish(err error) {
	o.mu.Lock()
	o.err = err
	o.status = Confirmed
	if err != nil {
		o.status = Failed
	}
	o.mu.Unlock()
	close(o.done)
}

// Mutator writes toggles to the store. It never touches local state: the
// result is observed back through whichever live cache watches the
// affected documents.
// Mutator commits toggles as one atomic write set each. Submit allows at most
// one operation per toggle key in flight.
type Mutator struct {
	appCtx *app.AppContext

	mu      sync.Mutex
	pending map[string]*Operation
}

// New creates a Mutator writing to appCtx.Store.
func New(appCtx *app.AppContext) *Mutator {
	return &Mutator{
		appCtx:  appCtx,
		pending: make(map[string]*Operation),
	}
}

// Toggle commits every write of t atomically.
//
// Behavior:
//   - like/retweet: the tweet's member list and the actor's stats list.
//   - bookmark: the tweet's member list and the actor's bookmark document.
//   - follow: the actor's following list and the target's followers list.
//   - On with a TargetOwnerID other than the actor also upserts the owner's
//     notification in the same commit.
//
// Store rejection is returned as is; nothing is retried.
func (m *Mutator) Toggle(ctx context.Context, t Toggle) error {
	if err := t.Validate(); err != nil {
		return err
	}
	log := m.appCtx.Logger
	log.Debug("Toggle called", "kind", t.Kind, "action", t.Action, "actor", t.ActorID, "target", t.TargetID)

	start := time.Now()
	err := m.appCtx.Store.Commit(ctx, t.Writes()...)
	m.appCtx.Metrics.ObserveCommitDuration(string(t.Kind), time.Since(start))

	if err != nil {
		m.appCtx.Metrics.IncToggles(string(t.Kind), t.Action.String(), "failed")
		log.Error("Toggle commit failed", "kind", t.Kind, "actor", t.ActorID, "target", t.TargetID, "err", err)
		return fmt.Errorf("%s %s: %w", t.Kind, t.Action, err)
	}
	m.appCtx.Metrics.IncToggles(string(t.Kind), t.Action.String(), "confirmed")
	return nil
}

// Submit runs the toggle in the background and returns its Operation. A
// second submit for the same kind, actor and target while the first is
// pending returns ErrInFlight.
func (m *Mutator) Submit(ctx context.Context, t Toggle) (*Operation, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	key := t.key()

	m.mu.Lock()
	if _, busy := m.pending[key]; busy {
		m.mu.Unlock()
		m.appCtx.Metrics.IncToggles(string(t.Kind), t.Action.String(), "in_flight")
		return nil, fmt.Errorf("%s %s: %w", t.Kind, t.TargetID, svcErr.ErrInFlight)
	}
	op := &Operation{Toggle: t, done: make(chan struct{})}
	m.pending[key] = op
	m.mu.Unlock()

	go func() {
		err := m.Toggle(context.WithoutCancel(ctx), t)

		m.mu.Lock()
		delete(m.pending, key)
		m.mu.Unlock()
		op.finish(err)
	}()
	return op, nil
}

// InFlight reports whether a toggle of the same membership is pending.
func (m *Mutator) InFlight(t Toggle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[t.key()]
	return ok
}

// IsRejected reports whether err means the store refused the write, as
// opposed to a transport failure.
func IsRejected(err error) bool {
	return errors.Is(err, svcErr.ErrPermissionDenied) ||
		errors.Is(err, svcErr.ErrNotFound) ||
		errors.Is(err, svcErr.ErrInvalidArgument)
}
