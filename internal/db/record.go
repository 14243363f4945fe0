package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// recordStore is a byte-oriented keyed store. The local backends implement
// it; recordCollection adds typing and encoding on top.
type recordStore interface {
	list(ctx context.Context, coll string) ([][]byte, error)
	insert(ctx context.Context, coll, id string, body []byte) error
	replace(ctx context.Context, coll, id string, body []byte) error
	remove(ctx context.Context, coll, id string) error
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Time: cbor.TimeRFC3339Nano,
		Sort: cbor.SortCanonical,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor dec mode: %v", err))
	}
}

type recordCollection[T Entity] struct {
	store recordStore
	name  string
}

func recordCollections(s recordStore) collections {
	return collections{
		schedules:  &recordCollection[ScheduleEvent]{s, CollSchedules},
		docs:       &recordCollection[Document]{s, CollDocs},
		folders:    &recordCollection[Folder]{s, CollFolders},
		tasks:      &recordCollection[Task]{s, CollTasks},
		activities: &recordCollection[Activity]{s, CollActivities},
		users:      &recordCollection[User]{s, CollUsers},
		sessions:   &recordCollection[Session]{s, CollSessions},
	}
}

func (c *recordCollection[T]) fail(op, id string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExists) {
		return fmt.Errorf("%s %s/%s: %w", op, c.name, id, err)
	}
	return &StorageError{Op: op, Collection: c.name, ID: id, Err: err}
}

func (c *recordCollection[T]) List(ctx context.Context) ([]T, error) {
	bodies, err := c.store.list(ctx, c.name)
	if err != nil {
		return nil, c.fail("list", "", err)
	}
	items := make([]T, 0, len(bodies))
	for i, b := range bodies {
		var v T
		if err := decMode.Unmarshal(b, &v); err != nil {
			return nil, c.fail("list", "", fmt.Errorf("decode record %d: %w", i, err))
		}
		items = append(items, v)
	}
	return items, nil
}

func (c *recordCollection[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	id := v.EntityID()
	if err := requireID("create", c.name, id); err != nil {
		return zero, err
	}
	body, err := encMode.Marshal(v)
	if err != nil {
		return zero, c.fail("create", id, fmt.Errorf("encode: %w", err))
	}
	if err := c.store.insert(ctx, c.name, id, body); err != nil {
		return zero, c.fail("create", id, err)
	}
	return v, nil
}

func (c *recordCollection[T]) Update(ctx context.Context, v T) error {
	id := v.EntityID()
	if err := requireID("update", c.name, id); err != nil {
		return err
	}
	body, err := encMode.Marshal(v)
	if err != nil {
		return c.fail("update", id, fmt.Errorf("encode: %w", err))
	}
	if err := c.store.replace(ctx, c.name, id, body); err != nil {
		return c.fail("update", id, err)
	}
	return nil
}

func (c *recordCollection[T]) Delete(ctx context.Context, id string) error {
	if err := c.store.remove(ctx, c.name, id); err != nil {
		return c.fail("delete", id, err)
	}
	return nil
}
