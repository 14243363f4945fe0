package db

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ActivityCap is how many feed entries are retained.
const ActivityCap = 50

// ActivityLog is the activities collection with feed semantics: List is
// newest first and capped, Append stamps id and time on the store side.
type ActivityLog struct {
	Collection[Activity]

	mu  sync.Mutex
	now func() time.Time
	log zerolog.Logger
}

func newActivityLog(c Collection[Activity], now func() time.Time, log zerolog.Logger) *ActivityLog {
	return &ActivityLog{Collection: c, now: now, log: log}
}

func (l *ActivityLog) List(ctx context.Context) ([]Activity, error) {
	items, err := l.Collection.List(ctx)
	if err != nil {
		return nil, err
	}
	newestFirst(items)
	if len(items) > ActivityCap {
		items = items[:ActivityCap]
	}
	return items, nil
}

// Append records a new entry and returns it as stored.
func (l *ActivityLog) Append(ctx context.Context, user, action, target string) (Activity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a := Activity{
		ID:     NewID(),
		User:   user,
		Action: action,
		Target: target,
		Time:   l.now().UTC(),
	}
	created, err := l.Collection.Create(ctx, a)
	if err != nil {
		return Activity{}, err
	}

	// A failed trim leaves extra entries behind; the next Append retries it
	// and List never shows more than ActivityCap anyway.
	if err := l.trim(ctx); err != nil {
		l.log.Warn().Err(err).Str("collection", CollActivities).Msg("error trimming activities")
	}
	return created, nil
}

func (l *ActivityLog) trim(ctx context.Context) error {
	items, err := l.Collection.List(ctx)
	if err != nil {
		return err
	}
	if len(items) <= ActivityCap {
		return nil
	}
	newestFirst(items)
	for _, a := range items[ActivityCap:] {
		if err := l.Collection.Delete(ctx, a.ID); err != nil {
			return err
		}
	}
	return nil
}

// newestFirst orders by time descending; equal times keep the later insert first.
func newestFirst(items []Activity) {
	slices.Reverse(items)
	slices.SortStableFunc(items, func(a, b Activity) int {
		return b.Time.Compare(a.Time)
	})
}
