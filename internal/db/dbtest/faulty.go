// Package dbtest provides gateway doubles for tests.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kidandcat/teamsync/internal/db"
)

// ErrInjected is the cause inside every failure a Faults injects.
var ErrInjected = errors.New("injected fault")

// Faults records gateway calls and injects failures or stalls into them.
type Faults struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]int
	hold  map[string]chan struct{}
}

func NewFaults() *Faults {
	return &Faults{
		fail: make(map[string]int),
		hold: make(map[string]chan struct{}),
	}
}

// FailNext makes the next n calls of op ("create", "update", ...) on
// collection fail with a *db.StorageError.
func (f *Faults) FailNext(op, collection string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op+" "+collection] += n
}

// Hold stalls every op on collection until the returned release func runs.
func (f *Faults) Hold(op, collection string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.hold[op+" "+collection] = ch
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.hold, op+" "+collection)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns every call seen so far as "op collection/id".
func (f *Faults) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsTo returns the calls made with op on collection.
func (f *Faults) CallsTo(op, collection string) []string {
	prefix := op + " " + collection + "/"
	var out []string
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (f *Faults) enter(ctx context.Context, op, collection, id string) error {
	key := op + " " + collection

	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s %s/%s", op, collection, id))
	hold := f.hold[key]
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[key] > 0 {
		f.fail[key]--
		return &db.StorageError{Op: op, Collection: collection, ID: id, Err: ErrInjected}
	}
	return nil
}

type faultyCollection[T db.Entity] struct {
	next db.Collection[T]
	name string
	f    *Faults
}

func wrap[T db.Entity](c db.Collection[T], name string, f *Faults) db.Collection[T] {
	return &faultyCollection[T]{next: c, name: name, f: f}
}

func (c *faultyCollection[T]) List(ctx context.Context) ([]T, error) {
	if err := c.f.enter(ctx, "list", c.name, ""); err != nil {
		return nil, err
	}
	return c.next.List(ctx)
}

func (c *faultyCollection[T]) Create(ctx context.Context, v T) (T, error) {
	if err := c.f.enter(ctx, "create", c.name, v.EntityID()); err != nil {
		var zero T
		return zero, err
	}
	return c.next.Create(ctx, v)
}

func (c *faultyCollection[T]) Update(ctx context.Context, v T) error {
	if err := c.f.enter(ctx, "update", c.name, v.EntityID()); err != nil {
		return err
	}
	return c.next.Update(ctx, v)
}

func (c *faultyCollection[T]) Delete(ctx context.Context, id string) error {
	if err := c.f.enter(ctx, "delete", c.name, id); err != nil {
		return err
	}
	return c.next.Delete(ctx, id)
}

// Gateway wraps every collection of g with f. The same g is returned.
func Gateway(g *db.Gateway, f *Faults) *db.Gateway {
	g.Schedules = wrap(g.Schedules, db.CollSchedules, f)
	g.Docs = wrap(g.Docs, db.CollDocs, f)
	g.Folders = wrap(g.Folders, db.CollFolders, f)
	g.Tasks = wrap(g.Tasks, db.CollTasks, f)
	g.Activities.Collection = wrap(g.Activities.Collection, db.CollActivities, f)
	g.Users = wrap(g.Users, db.CollUsers, f)
	g.Sessions = wrap(g.Sessions, db.CollSessions, f)
	return g
}

// Memory returns an in-memory gateway wrapped with a fresh Faults.
func Memory() (*db.Gateway, *Faults) {
	f := NewFaults()
	return Gateway(db.NewMemory().Gateway(db.Options{}), f), f
}
