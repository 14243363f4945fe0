package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Collection names, shared by every backend.
const (
	CollSchedules  = "schedules"
	CollDocs       = "docs"
	CollFolders    = "folders"
	CollTasks      = "tasks"
	CollActivities = "activities"
	CollUsers      = "users"
	CollSessions   = "sessions"
)

var (
	// ErrNotFound is returned by Update when the id is not stored.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned by Create when the id is already stored.
	ErrExists = errors.New("already exists")
)

// StorageError wraps a backend failure on a single CRUD call.
type StorageError struct {
	Op         string
	Collection string
	ID         string
	Err        error
}

func (e *StorageError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("storage: %s %s/%s: %v", e.Op, e.Collection, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Collection is the uniform CRUD contract every backend provides for each
// entity type. Create takes the caller's id. Update overwrites the whole
// record, so a field absent from v is absent afterwards.
type Collection[T Entity] interface {
	List(ctx context.Context) ([]T, error)
	Create(ctx context.Context, v T) (T, error)
	Update(ctx context.Context, v T) error
	Delete(ctx context.Context, id string) error
}

// Gateway holds one collection per entity type.
type Gateway struct {
	Schedules  Collection[ScheduleEvent]
	Docs       Collection[Document]
	Folders    Collection[Folder]
	Tasks      Collection[Task]
	Activities *ActivityLog
	Users      Collection[User]
	Sessions   Collection[Session]

	closer func() error
}

// Close releases the backend.
func (g *Gateway) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}

// Options configure the layers stacked on top of a backend.
type Options struct {
	Logger  zerolog.Logger
	Retryer Retryer
	Metrics *Metrics
	Now     func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// collections is what a backend hands to assemble.
type collections struct {
	schedules  Collection[ScheduleEvent]
	docs       Collection[Document]
	folders    Collection[Folder]
	tasks      Collection[Task]
	activities Collection[Activity]
	users      Collection[User]
	sessions   Collection[Session]
}

func assemble(c collections, opts Options, closer func() error) *Gateway {
	return &Gateway{
		Schedules:  layered(c.schedules, CollSchedules, opts),
		Docs:       layered(c.docs, CollDocs, opts),
		Folders:    layered(c.folders, CollFolders, opts),
		Tasks:      layered(c.tasks, CollTasks, opts),
		Activities: newActivityLog(layered(c.activities, CollActivities, opts), opts.now, opts.Logger),
		Users:      layered(c.users, CollUsers, opts),
		Sessions:   layered(c.sessions, CollSessions, opts),
		closer:     closer,
	}
}

func layered[T Entity](c Collection[T], name string, opts Options) Collection[T] {
	if opts.Metrics != nil {
		c = instrument(c, name, opts.Metrics)
	}
	if opts.Retryer != nil {
		c = withRetry(c, name, opts.Retryer, opts.Logger)
	}
	return c
}

func requireID(op, coll, id string) error {
	if id == "" {
		return &ValidationError{Field: "id", Reason: fmt.Sprintf("%s %s without id", op, coll)}
	}
	return nil
}
