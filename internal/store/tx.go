package store

import (
	"context"
	"fmt"

	"github.com/kidandcat/teamsync/internal/db"
)

// Mutation is one user action: Local edits the cache, Persist makes the
// edit durable.
type Mutation struct {
	// Op names the action in logs, e.g. "delete folder".
	Op string
	// Local runs under the store lock. Returning an error discards every
	// change it made and skips Persist.
	Local func(tx *Tx) error
	// Persist runs in the background after every earlier call touching
	// the same entities.
	Persist func(ctx context.Context, gw *db.Gateway) error
	// Keys adds ordering keys beyond the entities Local touched.
	Keys []string
}

// Tx is the view of the cache a Mutation's Local func edits through.
type Tx struct {
	s      *Store
	undo   []undo
	keys   []string
	seen   map[string]bool
	events []Event
}

type undo struct {
	key    string
	event  Event
	revert func()
}

// touch records a change to kind/id. removed tells whether the change
// dropped the entity, existed whether it was there before.
func (tx *Tx) touch(kind, id string, removed, existed bool, revert func()) {
	k := Key(kind, id)
	tx.addKey(k)
	tx.events = append(tx.events, Event{Collection: kind, ID: id, Removed: removed})
	tx.undo = append(tx.undo, undo{
		key:    k,
		event:  Event{Collection: kind, ID: id, Removed: !existed},
		revert: revert,
	})
}

func (tx *Tx) addKey(k string) {
	if !tx.seen[k] {
		tx.seen[k] = true
		tx.keys = append(tx.keys, k)
	}
}

// Get reads an entity as the transaction currently sees it.
func Get[T db.Entity](tx *Tx, id string) (T, bool) {
	return tableOf[T](tx.s).get(id)
}

// Where returns the entities matching keep, in display order.
func Where[T db.Entity](tx *Tx, keep func(T) bool) []T {
	var out []T
	for _, v := range tableOf[T](tx.s).items {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// Put replaces v in place, or appends it when new.
func Put[T db.Entity](tx *Tx, v T) {
	t := tableOf[T](tx.s)
	id := v.EntityID()
	prev, had, pos := t.set(v)
	tx.touch(t.kind, id, false, had, func() {
		if had {
			t.restore(pos, prev)
		} else {
			t.remove(id)
		}
	})
}

// Prepend puts v first, moving it there if it already exists.
func Prepend[T db.Entity](tx *Tx, v T) {
	t := tableOf[T](tx.s)
	id := v.EntityID()
	prev, had, pos := t.prepend(v)
	tx.touch(t.kind, id, false, had, func() {
		t.remove(id)
		if had {
			t.restore(pos, prev)
		}
	})
}

// Remove drops the entity with id and returns it.
func Remove[T db.Entity](tx *Tx, id string) (T, bool) {
	t := tableOf[T](tx.s)
	v, pos, ok := t.remove(id)
	if !ok {
		return v, false
	}
	tx.touch(t.kind, id, true, true, func() { t.restore(pos, v) })
	return v, true
}

func (tx *Tx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i].revert()
	}
}

// Apply runs m.Local against the cache and dispatches m.Persist. It returns
// once the local change is visible; the Pending settles with the
// persistence result.
func (s *Store) Apply(m Mutation) (*Pending, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()

	tx := &Tx{s: s, seen: make(map[string]bool)}

	s.mu.Lock()
	if err := m.Local(tx); err != nil {
		tx.rollback()
		s.mu.Unlock()
		return nil, err
	}
	revs := make(map[string]uint64, len(tx.keys))
	for _, k := range tx.keys {
		s.rev[k]++
		revs[k] = s.rev[k]
	}
	for _, k := range m.Keys {
		tx.addKey(k)
	}
	s.mu.Unlock()

	s.publish(tx.events...)

	if m.Persist == nil {
		return settled(nil), nil
	}
	return s.syncer.Enqueue(tx.keys, func() error {
		err := m.Persist(s.ctx, s.gw)
		if err != nil {
			s.fail(m.Op, tx, revs, err)
		}
		return err
	}), nil
}

// fail reverts the parts of tx that no later change has superseded.
func (s *Store) fail(op string, tx *Tx, revs map[string]uint64, err error) {
	s.mu.Lock()
	var events []Event
	for i := len(tx.undo) - 1; i >= 0; i-- {
		u := tx.undo[i]
		if s.rev[u.key] != revs[u.key] {
			continue
		}
		u.revert()
		events = append(events, u.event)
	}
	reverted := 0
	for k, r := range revs {
		if s.rev[k] == r {
			s.rev[k]++
			reverted++
		}
	}
	s.mu.Unlock()

	s.log.Error().Err(err).
		Str("op", op).
		Strs("keys", tx.keys).
		Int("reverted", reverted).
		Msg("persist failed, local change rolled back")
	s.report(fmt.Errorf("%s: %w", op, err))
	s.publish(events...)
}
