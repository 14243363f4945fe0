package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidandcat/teamsync/internal/db"
	"github.com/kidandcat/teamsync/internal/db/dbtest"
)

func newStore(t *testing.T) (*Store, *db.Gateway, *dbtest.Faults) {
	t.Helper()
	gw, faults := dbtest.Memory()
	s := New(gw, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Close(ctx)
	})
	return s, gw, faults
}

func seedDoc(t *testing.T, s *Store, gw *db.Gateway, d db.Document) {
	t.Helper()
	_, err := gw.Docs.Create(context.Background(), d)
	require.NoError(t, err)
	require.NoError(t, s.Load(context.Background()))
}

func putDoc(d db.Document) Mutation {
	return Mutation{
		Op:    "update document",
		Local: func(tx *Tx) error { Put(tx, d); return nil },
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			return gw.Docs.Update(ctx, d)
		},
	}
}

func wait(t *testing.T, p *Pending) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.Wait(ctx)
}

func TestApplyIsVisibleBeforePersistSettles(t *testing.T) {
	s, gw, faults := newStore(t)
	release := faults.Hold("create", db.CollDocs)

	d := db.Document{ID: "d1", Title: "Plan", AuthorID: "u1", Category: db.CategoryPersonal}
	p, err := s.Apply(Mutation{
		Op:    "create document",
		Local: func(tx *Tx) error { Prepend(tx, d); return nil },
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			_, err := gw.Docs.Create(ctx, d)
			return err
		},
	})
	require.NoError(t, err)

	got, ok := Find[db.Document](s, "d1")
	require.True(t, ok)
	assert.Equal(t, "Plan", got.Title)
	select {
	case <-p.Done():
		t.Fatal("persist settled while held")
	default:
	}

	release()
	require.NoError(t, wait(t, p))

	stored, err := gw.Docs.List(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Empty(t, cmp.Diff(d, stored[0]))
}

func TestFailedPersistRollsBack(t *testing.T) {
	s, gw, faults := newStore(t)
	orig := db.Document{ID: "d1", Title: "Plan", AuthorID: "u1"}
	seedDoc(t, s, gw, orig)

	faults.FailNext("update", db.CollDocs, 1)
	changed := orig
	changed.Title = "Roadmap"
	p, err := s.Apply(putDoc(changed))
	require.NoError(t, err)

	err = wait(t, p)
	require.Error(t, err)
	assert.ErrorIs(t, err, dbtest.ErrInjected)

	got, ok := Find[db.Document](s, "d1")
	require.True(t, ok)
	assert.Equal(t, "Plan", got.Title)

	select {
	case reported := <-s.Errors():
		assert.ErrorIs(t, reported, dbtest.ErrInjected)
	case <-time.After(time.Second):
		t.Fatal("failure not reported on Errors()")
	}
}

func TestRollbackSkipsSupersededChange(t *testing.T) {
	s, gw, faults := newStore(t)
	orig := db.Document{ID: "d1", Title: "Plan", AuthorID: "u1"}
	seedDoc(t, s, gw, orig)

	release := faults.Hold("update", db.CollDocs)
	faults.FailNext("update", db.CollDocs, 1)

	first, second := orig, orig
	first.Title = "A"
	second.Title = "B"
	p1, err := s.Apply(putDoc(first))
	require.NoError(t, err)
	p2, err := s.Apply(putDoc(second))
	require.NoError(t, err)

	release()
	assert.Error(t, wait(t, p1))
	assert.NoError(t, wait(t, p2))

	got, _ := Find[db.Document](s, "d1")
	assert.Equal(t, "B", got.Title)

	stored, err := gw.Docs.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B", stored[0].Title)
}

func TestSameEntityWritesPersistInIssueOrder(t *testing.T) {
	s, gw, faults := newStore(t)
	orig := db.Document{ID: "d1", Title: "v0"}
	seedDoc(t, s, gw, orig)

	release := faults.Hold("update", db.CollDocs)
	for _, title := range []string{"v1", "v2", "v3"} {
		d := orig
		d.Title = title
		_, err := s.Apply(putDoc(d))
		require.NoError(t, err)
	}
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))

	stored, err := gw.Docs.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v3", stored[0].Title)
	assert.Len(t, faults.CallsTo("update", db.CollDocs), 3)
}

func TestLocalErrorDiscardsChanges(t *testing.T) {
	s, _, faults := newStore(t)
	errNope := errors.New("nope")

	_, err := s.Apply(Mutation{
		Op: "bad",
		Local: func(tx *Tx) error {
			Put(tx, db.Folder{ID: "f1", Name: "x"})
			return errNope
		},
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			t.Error("persist must not run")
			return nil
		},
	})
	assert.ErrorIs(t, err, errNope)
	assert.Empty(t, s.Folders())
	assert.Empty(t, faults.Calls())
}

func TestRemoveRollbackRestoresPosition(t *testing.T) {
	s, gw, faults := newStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := gw.Folders.Create(ctx, db.Folder{ID: id, Name: id})
		require.NoError(t, err)
	}
	require.NoError(t, s.Load(ctx))

	faults.FailNext("delete", db.CollFolders, 1)
	p, err := s.Apply(Mutation{
		Op:    "delete folder",
		Local: func(tx *Tx) error { Remove[db.Folder](tx, "b"); return nil },
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			return gw.Folders.Delete(ctx, "b")
		},
	})
	require.NoError(t, err)
	assert.Len(t, s.Folders(), 2)
	require.Error(t, wait(t, p))

	var ids []string
	for _, f := range s.Folders() {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestReconcileReplacesAndNotifies(t *testing.T) {
	s, _, _ := newStore(t)
	events, cancel := s.Subscribe()
	defer cancel()

	Reconcile(s, []db.Task{{ID: "t1", Title: "a"}, {ID: "t2", Title: "b"}})
	Reconcile(s, []db.Task{{ID: "t3", Title: "c"}})

	require.Len(t, s.Tasks(), 1)
	assert.Equal(t, "t3", s.Tasks()[0].ID)

	e := <-events
	assert.Equal(t, Event{Collection: db.CollTasks}, e)
}

func TestPrependActivityCaps(t *testing.T) {
	s, _, _ := newStore(t)
	for i := 0; i < db.ActivityCap+3; i++ {
		s.PrependActivity(db.Activity{ID: db.NewID(), Action: "task completed"})
	}
	last := db.Activity{ID: "newest"}
	s.PrependActivity(last)

	acts := s.Activities()
	assert.Len(t, acts, db.ActivityCap)
	assert.Equal(t, "newest", acts[0].ID)
}

func TestSyncerRunsDisjointKeysConcurrently(t *testing.T) {
	sy := NewSyncer()
	block := make(chan struct{})

	slow := sy.Enqueue([]string{"docs/a"}, func() error { <-block; return nil })
	fast := sy.Enqueue([]string{"docs/b"}, func() error { return nil })
	after := sy.Enqueue([]string{"docs/a", "docs/b"}, func() error { return nil })

	require.NoError(t, wait(t, fast))
	select {
	case <-after.Done():
		t.Fatal("call on docs/a ran before the earlier one finished")
	default:
	}

	close(block)
	require.NoError(t, wait(t, slow))
	require.NoError(t, wait(t, after))
}

func TestSyncerFlush(t *testing.T) {
	sy := NewSyncer()
	require.NoError(t, sy.Flush(context.Background()), "nothing queued")

	block := make(chan struct{})
	first := sy.Enqueue([]string{"docs/a"}, func() error { <-block; return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sy.Flush(ctx), context.DeadlineExceeded)

	// a flush in progress also waits for calls queued after it started
	flushed := make(chan error, 1)
	go func() { flushed <- sy.Flush(context.Background()) }()
	second := sy.Enqueue([]string{"docs/b"}, func() error { <-block; return nil })

	close(block)
	select {
	case err := <-flushed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("flush never returned")
	}
	assert.NoError(t, wait(t, first))
	assert.NoError(t, wait(t, second))

	// usable again after going idle
	require.NoError(t, wait(t, sy.Enqueue([]string{"docs/a"}, func() error { return nil })))
	require.NoError(t, sy.Flush(context.Background()))
}

func TestExclusiveWaitsAndHoldsMutations(t *testing.T) {
	s, _, faults := newStore(t)
	release := faults.Hold("create", db.CollDocs)

	d := db.Document{ID: "d1", Title: "Plan", AuthorID: "u1"}
	_, err := s.Apply(Mutation{
		Op:    "create document",
		Local: func(tx *Tx) error { Put(tx, d); return nil },
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			_, err := gw.Docs.Create(ctx, d)
			return err
		},
	})
	require.NoError(t, err)

	inside := make(chan struct{})
	leave := make(chan struct{})
	exclusive := make(chan error, 1)
	go func() {
		exclusive <- s.Exclusive(context.Background(), func(ctx context.Context) error {
			stored, err := s.Gateway().Docs.List(ctx)
			if err != nil {
				return err
			}
			if len(stored) != 1 {
				return errors.New("create had not landed")
			}
			close(inside)
			<-leave
			return nil
		})
	}()

	select {
	case <-inside:
		t.Fatal("ran before the pending create settled")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	select {
	case <-inside:
	case <-time.After(5 * time.Second):
		t.Fatal("exclusive never ran")
	}

	applied := make(chan struct{})
	go func() {
		later := db.Document{ID: "d2", Title: "Later", AuthorID: "u1"}
		s.Apply(Mutation{Op: "local edit", Local: func(tx *Tx) error { Put(tx, later); return nil }})
		close(applied)
	}()
	select {
	case <-applied:
		t.Fatal("mutation applied while exclusive work was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(leave)
	require.NoError(t, <-exclusive)
	select {
	case <-applied:
	case <-time.After(5 * time.Second):
		t.Fatal("held mutation never applied")
	}
	_, ok := Find[db.Document](s, "d2")
	assert.True(t, ok)
}
