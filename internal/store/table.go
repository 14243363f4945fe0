package store

import (
	"slices"

	"github.com/kidandcat/teamsync/internal/db"
)

// table is one ordered collection keyed by id. Callers hold Store.mu.
type table[T db.Entity] struct {
	kind  string
	items []T
}

func (t *table[T]) index(id string) int {
	return slices.IndexFunc(t.items, func(v T) bool { return v.EntityID() == id })
}

func (t *table[T]) get(id string) (T, bool) {
	if i := t.index(id); i >= 0 {
		return t.items[i], true
	}
	var zero T
	return zero, false
}

// set replaces v in place, or appends it. It reports the replaced value and
// its position.
func (t *table[T]) set(v T) (prev T, had bool, pos int) {
	if i := t.index(v.EntityID()); i >= 0 {
		prev = t.items[i]
		t.items[i] = v
		return prev, true, i
	}
	t.items = append(t.items, v)
	return prev, false, len(t.items) - 1
}

func (t *table[T]) prepend(v T) (prev T, had bool, pos int) {
	if i := t.index(v.EntityID()); i >= 0 {
		prev = t.items[i]
		t.items = slices.Delete(t.items, i, i+1)
		had, pos = true, i
	}
	t.items = slices.Insert(t.items, 0, v)
	return prev, had, pos
}

func (t *table[T]) remove(id string) (T, int, bool) {
	i := t.index(id)
	if i < 0 {
		var zero T
		return zero, -1, false
	}
	v := t.items[i]
	t.items = slices.Delete(t.items, i, i+1)
	return v, i, true
}

// restore puts v back, at pos if it is no longer present.
func (t *table[T]) restore(pos int, v T) {
	if i := t.index(v.EntityID()); i >= 0 {
		t.items[i] = v
		return
	}
	pos = min(max(pos, 0), len(t.items))
	t.items = slices.Insert(t.items, pos, v)
}

func (t *table[T]) all() []T {
	return slices.Clone(t.items)
}
