// Package store is the in-memory entity cache every view renders from.
// Mutations are applied locally first and persisted in the background; a
// failed persistence call rolls its local change back.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kidandcat/teamsync/internal/db"
)

// Event reports a change to a cached collection. An empty ID means the
// whole collection was replaced.
type Event struct {
	Collection string `json:"collection"`
	ID         string `json:"id,omitempty"`
	Removed    bool   `json:"removed,omitempty"`
}

type Store struct {
	gw     *db.Gateway
	log    zerolog.Logger
	syncer *Syncer

	ctx    context.Context
	cancel context.CancelFunc

	// gate is held shared by Apply and exclusively by Exclusive.
	gate sync.RWMutex

	mu         sync.RWMutex
	docs       *table[db.Document]
	folders    *table[db.Folder]
	tasks      *table[db.Task]
	schedules  *table[db.ScheduleEvent]
	users      *table[db.User]
	activities []db.Activity
	rev        map[string]uint64

	errs chan error

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

func New(gw *db.Gateway, log zerolog.Logger) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		gw:        gw,
		log:       log.With().Str("component", "store").Logger(),
		syncer:    NewSyncer(),
		ctx:       ctx,
		cancel:    cancel,
		docs:      &table[db.Document]{kind: db.CollDocs},
		folders:   &table[db.Folder]{kind: db.CollFolders},
		tasks:     &table[db.Task]{kind: db.CollTasks},
		schedules: &table[db.ScheduleEvent]{kind: db.CollSchedules},
		users:     &table[db.User]{kind: db.CollUsers},
		rev:       make(map[string]uint64),
		errs:      make(chan error, 32),
		subs:      make(map[chan Event]struct{}),
	}
}

// Gateway is the gateway the store persists through.
func (s *Store) Gateway() *db.Gateway { return s.gw }

// Close waits for pending persistence calls and stops the store.
func (s *Store) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.cancel()
	return err
}

// Flush waits until every persistence call dispatched so far has settled.
func (s *Store) Flush(ctx context.Context) error {
	return s.syncer.Flush(ctx)
}

// Exclusive holds back new mutations, waits for every dispatched
// persistence call and then runs fn. Use it for work that rewrites storage
// behind the store's back.
func (s *Store) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	if err := s.Flush(ctx); err != nil {
		return fmt.Errorf("flush pending writes: %w", err)
	}
	return fn(ctx)
}

// Errors delivers persistence failures that were rolled back. Errors are
// dropped when nobody drains the channel.
func (s *Store) Errors() <-chan error { return s.errs }

// Key names one cached entity for ordering and revision tracking.
func Key(collection, id string) string { return collection + "/" + id }

// Load fetches every collection from the gateway and replaces the cache.
func (s *Store) Load(ctx context.Context) error {
	var (
		docs       []db.Document
		folders    []db.Folder
		tasks      []db.Task
		schedules  []db.ScheduleEvent
		users      []db.User
		activities []db.Activity
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { docs, err = s.gw.Docs.List(gctx); return })
	g.Go(func() (err error) { folders, err = s.gw.Folders.List(gctx); return })
	g.Go(func() (err error) { tasks, err = s.gw.Tasks.List(gctx); return })
	g.Go(func() (err error) { schedules, err = s.gw.Schedules.List(gctx); return })
	g.Go(func() (err error) { users, err = s.gw.Users.List(gctx); return })
	g.Go(func() (err error) { activities, err = s.gw.Activities.List(gctx); return })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load collections: %w", err)
	}

	Reconcile(s, docs)
	Reconcile(s, folders)
	Reconcile(s, tasks)
	Reconcile(s, schedules)
	Reconcile(s, users)
	s.ReconcileActivities(activities)
	return nil
}

func tableOf[T db.Entity](s *Store) *table[T] {
	var t any
	switch any(*new(T)).(type) {
	case db.Document:
		t = s.docs
	case db.Folder:
		t = s.folders
	case db.Task:
		t = s.tasks
	case db.ScheduleEvent:
		t = s.schedules
	case db.User:
		t = s.users
	default:
		panic(fmt.Sprintf("store: no collection for %T", *new(T)))
	}
	return t.(*table[T])
}

// Reconcile replaces a collection wholesale with a fresh list.
func Reconcile[T db.Entity](s *Store, items []T) {
	s.mu.Lock()
	t := tableOf[T](s)
	for _, v := range t.items {
		s.rev[Key(t.kind, v.EntityID())]++
	}
	t.items = slices.Clone(items)
	for _, v := range t.items {
		s.rev[Key(t.kind, v.EntityID())]++
	}
	s.mu.Unlock()

	s.publish(Event{Collection: t.kind})
}

// All returns a copy of a collection in display order.
func All[T db.Entity](s *Store) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tableOf[T](s).all()
}

// Find returns the cached entity with id.
func Find[T db.Entity](s *Store, id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tableOf[T](s).get(id)
}

func (s *Store) Documents() []db.Document      { return All[db.Document](s) }
func (s *Store) Folders() []db.Folder          { return All[db.Folder](s) }
func (s *Store) Tasks() []db.Task              { return All[db.Task](s) }
func (s *Store) Schedules() []db.ScheduleEvent { return All[db.ScheduleEvent](s) }
func (s *Store) Users() []db.User              { return All[db.User](s) }

// Snapshot is a consistent copy of the documents and folders.
type Snapshot struct {
	Docs    []db.Document
	Folders []db.Folder
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Docs: s.docs.all(), Folders: s.folders.all()}
}

// Activities returns the feed, newest first.
func (s *Store) Activities() []db.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.activities)
}

// PrependActivity puts an entry returned by the gateway at the top of the feed.
func (s *Store) PrependActivity(a db.Activity) {
	s.mu.Lock()
	s.activities = slices.Insert(s.activities, 0, a)
	if len(s.activities) > db.ActivityCap {
		s.activities = s.activities[:db.ActivityCap]
	}
	s.mu.Unlock()

	s.publish(Event{Collection: db.CollActivities, ID: a.ID})
}

func (s *Store) ReconcileActivities(items []db.Activity) {
	s.mu.Lock()
	s.activities = slices.Clone(items)
	s.mu.Unlock()

	s.publish(Event{Collection: db.CollActivities})
}

// Subscribe returns a channel of change events and a func that ends the
// subscription. Slow subscribers miss events.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, ch)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publish(events ...Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		for _, e := range events {
			select {
			case ch <- e:
			default:
			}
		}
	}
}

func (s *Store) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}
