// Package feed records the team activity log.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/kidandcat/teamsync/internal/db"
	"github.com/kidandcat/teamsync/internal/store"
)

// Actions that produce a feed entry. Nothing else is logged.
const (
	ActionScheduleCreated = "schedule created"
	ActionDocumentCreated = "document created"
	ActionTaskCompleted   = "task completed"
)

type Recorder struct {
	store *store.Store
	log   zerolog.Logger
}

func NewRecorder(s *store.Store, log zerolog.Logger) *Recorder {
	return &Recorder{store: s, log: log.With().Str("component", "feed").Logger()}
}

// Record appends an entry through the gateway and prepends the stored
// entry, with the gateway's id and time, to the cached feed.
func (r *Recorder) Record(ctx context.Context, user, action, target string) (db.Activity, error) {
	a, err := r.store.Gateway().Activities.Append(ctx, user, action, target)
	if err != nil {
		return db.Activity{}, fmt.Errorf("record %s: %w", action, err)
	}
	r.store.PrependActivity(a)
	r.log.Debug().Str("user", user).Str("action", action).Str("target", target).Msg("activity recorded")
	return a, nil
}

// Label renders an entry's time relative to now, e.g. "3 minutes ago".
func Label(a db.Activity, now time.Time) string {
	return humanize.RelTime(a.Time, now, "ago", "from now")
}
