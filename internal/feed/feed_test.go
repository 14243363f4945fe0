package feed

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidandcat/teamsync/internal/db"
	"github.com/kidandcat/teamsync/internal/db/dbtest"
	"github.com/kidandcat/teamsync/internal/store"
)

func TestRecordPrependsStoredEntry(t *testing.T) {
	ctx := context.Background()
	gw, _ := dbtest.Memory()
	s := store.New(gw, zerolog.Nop())
	r := NewRecorder(s, zerolog.Nop())

	first, err := r.Record(ctx, "Ana", ActionDocumentCreated, "Plan")
	require.NoError(t, err)
	second, err := r.Record(ctx, "Ana", ActionScheduleCreated, "Offsite")
	require.NoError(t, err)

	acts := s.Activities()
	require.Len(t, acts, 2)
	assert.Equal(t, second, acts[0])
	assert.Equal(t, first, acts[1])
	assert.False(t, second.Time.IsZero())

	stored, err := gw.Activities.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, stored[0].ID)
}

func TestRecordFailureLeavesFeed(t *testing.T) {
	gw, faults := dbtest.Memory()
	s := store.New(gw, zerolog.Nop())
	r := NewRecorder(s, zerolog.Nop())

	faults.FailNext("create", db.CollActivities, 1)
	_, err := r.Record(context.Background(), "Ana", ActionTaskCompleted, "Ship")
	assert.ErrorIs(t, err, dbtest.ErrInjected)
	assert.Empty(t, s.Activities())
}

func TestLabel(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	a := db.Activity{Time: now.Add(-3 * time.Minute)}
	assert.Equal(t, "3 minutes ago", Label(a, now))
}
