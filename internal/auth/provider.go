// Package auth abstracts the identity provider: who is signed in, and the
// stream of sign-in and sign-out events.
package auth

import (
	"context"
	"sync"
)

// Principal is what the identity provider knows about a signed-in user.
type Principal struct {
	UID         string
	DisplayName string
	PhotoURL    string
	Email       string
}

// Credentials carries whatever the provider needs. LocalProvider uses
// Email and Password; FirebaseProvider signs in with IDToken.
type Credentials struct {
	Email       string
	Password    string
	DisplayName string
	IDToken     string
}

// StateFunc receives auth state changes; nil means signed out.
type StateFunc func(*Principal)

type Provider interface {
	// OnAuthStateChanged registers fn and immediately reports the current
	// state to it. Events reach every listener in the order they happened.
	OnAuthStateChanged(fn StateFunc) (unsubscribe func())
	SignIn(ctx context.Context, creds Credentials) (*Principal, error)
	SignUp(ctx context.Context, creds Credentials) (*Principal, error)
	SignOut(ctx context.Context) error
	Current() *Principal
}

// notifier keeps the current principal and fans state changes out in
// order. A listener may publish from inside its callback; the event is
// queued behind the one being delivered.
type notifier struct {
	mu        sync.Mutex
	current   *Principal
	listeners map[int]StateFunc
	nextID    int
	queue     []event
	draining  bool
}

type event struct {
	p  *Principal
	to []StateFunc
}

func (n *notifier) subscribe(fn StateFunc) func() {
	n.mu.Lock()
	if n.listeners == nil {
		n.listeners = make(map[int]StateFunc)
	}
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	n.queue = append(n.queue, event{p: clonePrincipal(n.current), to: []StateFunc{fn}})
	n.mu.Unlock()

	n.drain()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
		})
	}
}

func (n *notifier) publish(p *Principal) {
	n.mu.Lock()
	n.current = clonePrincipal(p)
	to := make([]StateFunc, 0, len(n.listeners))
	for i := 0; i < n.nextID; i++ {
		if fn, ok := n.listeners[i]; ok {
			to = append(to, fn)
		}
	}
	n.queue = append(n.queue, event{p: clonePrincipal(p), to: to})
	n.mu.Unlock()

	n.drain()
}

func (n *notifier) drain() {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true
	for len(n.queue) > 0 {
		ev := n.queue[0]
		n.queue = n.queue[1:]
		n.mu.Unlock()
		for _, fn := range ev.to {
			fn(clonePrincipal(ev.p))
		}
		n.mu.Lock()
	}
	n.draining = false
	n.mu.Unlock()
}

func (n *notifier) principal() *Principal {
	n.mu.Lock()
	defer n.mu.Unlock()
	return clonePrincipal(n.current)
}

func clonePrincipal(p *Principal) *Principal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
