package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidandcat/teamsync/internal/assist"
	"github.com/kidandcat/teamsync/internal/auth"
	"github.com/kidandcat/teamsync/internal/config"
	"github.com/kidandcat/teamsync/internal/db"
	"github.com/kidandcat/teamsync/internal/db/dbtest"
	"github.com/kidandcat/teamsync/internal/feed"
	"github.com/kidandcat/teamsync/internal/store"
	"github.com/kidandcat/teamsync/internal/workspace"
)

var (
	ana   = db.User{ID: "u1", Name: "Ana", Role: db.RoleMember}
	bob   = db.User{ID: "u2", Name: "Bob", Role: db.RoleMember}
	admin = db.User{ID: "root", Name: "Root", Role: db.RoleAdmin}
)

type fixture struct {
	app    *App
	gw     *db.Gateway
	faults *dbtest.Faults
}

func setup(t *testing.T, seed func(ctx context.Context, gw *db.Gateway)) fixture {
	t.Helper()
	ctx := context.Background()
	gw, faults := dbtest.Memory()
	if seed != nil {
		seed(ctx, gw)
	}

	s := store.New(gw, zerolog.Nop())
	t.Cleanup(func() { s.Close(context.Background()) })
	a := New(s, auth.NewManager(gw, zerolog.Nop()), assist.NewClient(config.AssistConfig{}, zerolog.Nop()), zerolog.Nop())
	clock := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	a.SetClock(func() time.Time { return clock })
	require.NoError(t, a.Load(ctx))
	return fixture{app: a, gw: gw, faults: faults}
}

func settle(t *testing.T, p *store.Pending) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.Wait(ctx)
}

func TestToggleTaskLogsFirstCompletionOnly(t *testing.T) {
	ctx := context.Background()
	fx := setup(t, func(ctx context.Context, gw *db.Gateway) {
		_, err := gw.Tasks.Create(ctx, db.Task{ID: "t1", UserID: ana.ID, Title: "Write report", Priority: db.PriorityHigh})
		require.NoError(t, err)
	})

	task, p, err := fx.app.ToggleTask(ctx, ana, "t1")
	require.NoError(t, err)
	require.NoError(t, settle(t, p))
	assert.True(t, task.Completed)
	assert.True(t, task.HasLoggedCompletion)
	require.Len(t, fx.app.Store.Activities(), 1)

	task, p, err = fx.app.ToggleTask(ctx, ana, "t1")
	require.NoError(t, err)
	require.NoError(t, settle(t, p))
	assert.False(t, task.Completed)
	assert.True(t, task.HasLoggedCompletion, "the latch never resets")

	_, p, err = fx.app.ToggleTask(ctx, ana, "t1")
	require.NoError(t, err)
	require.NoError(t, settle(t, p))

	acts := fx.app.Store.Activities()
	require.Len(t, acts, 1)
	assert.Equal(t, "Ana", acts[0].User)
	assert.Equal(t, feed.ActionTaskCompleted, acts[0].Action)
	assert.Equal(t, "Write report", acts[0].Target)

	stored, err := fx.gw.Activities.List(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	tasks, err := fx.gw.Tasks.List(ctx)
	require.NoError(t, err)
	assert.True(t, tasks[0].Completed)
	assert.True(t, tasks[0].HasLoggedCompletion)
}

func TestToggleTaskChecks(t *testing.T) {
	ctx := context.Background()
	fx := setup(t, func(ctx context.Context, gw *db.Gateway) {
		_, err := gw.Tasks.Create(ctx, db.Task{ID: "t1", UserID: ana.ID, Title: "Mine"})
		require.NoError(t, err)
	})

	_, _, err := fx.app.ToggleTask(ctx, bob, "t1")
	assert.ErrorIs(t, err, ErrForbidden)
	_, _, err = fx.app.ToggleTask(ctx, ana, "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Empty(t, fx.app.Store.Activities())
}

func TestAddTask(t *testing.T) {
	fx := setup(t, nil)

	task, p, err := fx.app.AddTask(ana, "  Plan sprint ", "")
	require.NoError(t, err)
	require.NoError(t, settle(t, p))
	assert.Equal(t, "Plan sprint", task.Title)
	assert.Equal(t, db.Day("2024-01-10"), task.DueDate)
	assert.Equal(t, db.PriorityMedium, task.Priority)
	assert.Empty(t, fx.app.Store.Activities(), "adding a task is not logged")

	_, _, err = fx.app.AddTask(ana, " ", db.PriorityLow)
	assert.ErrorIs(t, err, db.ErrValidation)
	_, _, err = fx.app.AddTask(ana, "x", "Urgent")
	assert.ErrorIs(t, err, db.ErrValidation)

	assert.Len(t, fx.app.Tasks(ana), 1)
	assert.Empty(t, fx.app.Tasks(bob))
}

func TestDeleteTaskRollsBackOnFailure(t *testing.T) {
	fx := setup(t, func(ctx context.Context, gw *db.Gateway) {
		_, err := gw.Tasks.Create(ctx, db.Task{ID: "t1", UserID: ana.ID, Title: "Keep"})
		require.NoError(t, err)
	})

	_, err := fx.app.DeleteTask(bob, "t1")
	assert.ErrorIs(t, err, ErrForbidden)

	fx.faults.FailNext("delete", db.CollTasks, 1)
	p, err := fx.app.DeleteTask(ana, "t1")
	require.NoError(t, err)
	assert.Empty(t, fx.app.Tasks(ana))
	assert.ErrorIs(t, settle(t, p), dbtest.ErrInjected)
	assert.Len(t, fx.app.Tasks(ana), 1)
}

func TestAddScheduleRecordsActivity(t *testing.T) {
	ctx := context.Background()
	fx := setup(t, nil)

	ev, p, err := fx.app.AddSchedule(ctx, ana, db.ScheduleEvent{
		Title: "Offsite", Type: db.ScheduleBusinessTrip, StartDate: "2024-01-10", EndDate: "2024-01-12",
	})
	require.NoError(t, err)
	require.NoError(t, settle(t, p))
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "Ana", ev.UserName)

	acts := fx.app.Store.Activities()
	require.Len(t, acts, 1)
	assert.Equal(t, feed.ActionScheduleCreated, acts[0].Action)
	assert.Equal(t, "Offsite", acts[0].Target)

	assert.Len(t, fx.app.Agenda("2024-01-11"), 1)
	assert.Empty(t, fx.app.Agenda("2024-01-13"))

	_, _, err = fx.app.AddSchedule(ctx, ana, db.ScheduleEvent{Title: "Bad", StartDate: "2024-01-12", EndDate: "2024-01-10"})
	assert.ErrorIs(t, err, db.ErrValidation)
	assert.Len(t, fx.app.Store.Activities(), 1)
}

func TestDeleteSchedulePermissions(t *testing.T) {
	fx := setup(t, func(ctx context.Context, gw *db.Gateway) {
		_, err := gw.Schedules.Create(ctx, db.ScheduleEvent{ID: "s1", UserID: ana.ID, Title: "Trip", StartDate: "2024-01-10", EndDate: "2024-01-10"})
		require.NoError(t, err)
	})

	_, err := fx.app.DeleteSchedule(bob, "s1")
	assert.ErrorIs(t, err, ErrForbidden)

	p, err := fx.app.DeleteSchedule(admin, "s1")
	require.NoError(t, err)
	require.NoError(t, settle(t, p))
	assert.Empty(t, fx.app.Schedules())
}

func TestCreateDocumentRecordsActivity(t *testing.T) {
	ctx := context.Background()
	fx := setup(t, nil)

	d, p, err := fx.app.CreateDocument(ctx, ana, workspace.NewDocument{Title: "Roadmap", Category: db.CategoryTeam})
	require.NoError(t, err)
	require.NoError(t, settle(t, p))

	acts := fx.app.Store.Activities()
	require.Len(t, acts, 1)
	assert.Equal(t, feed.ActionDocumentCreated, acts[0].Action)
	assert.Equal(t, "Roadmap", acts[0].Target)

	_, team := fx.app.Trees(bob)
	assert.Len(t, team.Root, 1)

	// anyone may edit team documents
	title := "Roadmap 2024"
	_, p, err = fx.app.UpdateDocument(bob, d.ID, workspace.DocumentPatch{Title: &title})
	require.NoError(t, err)
	require.NoError(t, settle(t, p))
}

func TestPersonalDocumentsAreOwnerOnly(t *testing.T) {
	fx := setup(t, func(ctx context.Context, gw *db.Gateway) {
		_, err := gw.Folders.Create(ctx, db.Folder{ID: "f1", UserID: ana.ID, Name: "Notes", Category: db.CategoryPersonal})
		require.NoError(t, err)
		_, err = gw.Docs.Create(ctx, db.Document{ID: "d1", AuthorID: ana.ID, AuthorName: "Ana", Category: db.CategoryPersonal, Title: "Diary"})
		require.NoError(t, err)
	})

	_, err := fx.app.Document(bob, "d1")
	assert.ErrorIs(t, err, ErrForbidden)
	_, _, err = fx.app.RenameDocument(bob, "d1", "Mine now")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = fx.app.DeleteDocument(bob, "d1")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = fx.app.DeleteFolder(bob, "f1")
	assert.ErrorIs(t, err, ErrForbidden)
	_, _, err = fx.app.ChangeCategory(bob, "d1", db.CategoryTeam)
	assert.ErrorIs(t, err, ErrForbidden)

	d, err := fx.app.Document(ana, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Diary", d.Title)
}

func TestAssistDocument(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Short."}]}}]}`))
	}))
	t.Cleanup(srv.Close)

	fx := setup(t, func(ctx context.Context, gw *db.Gateway) {
		_, err := gw.Docs.Create(ctx, db.Document{ID: "d1", AuthorID: ana.ID, Category: db.CategoryTeam, Content: "Long body"})
		require.NoError(t, err)
	})
	fx.app.Assist = assist.NewClient(config.AssistConfig{Endpoint: srv.URL, APIKey: "k", Model: "m", Timeout: time.Second}, zerolog.Nop())

	d, p, err := fx.app.AssistDocument(ctx, ana, "d1", assist.Summarize)
	require.NoError(t, err)
	require.NoError(t, settle(t, p))
	assert.Equal(t, assist.SummaryHeader+"\nShort.\n\n---\n\nLong body", d.Content)

	docs, err := fx.gw.Docs.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, d.Content, docs[0].Content)
}

func TestMembers(t *testing.T) {
	fx := setup(t, nil)

	_, _, err := fx.app.AddUser(ana, "carl", "Carl", "secret1", "")
	assert.ErrorIs(t, err, ErrForbidden)

	u, p, err := fx.app.AddUser(admin, "carl", "Carl", "secret1", "")
	require.NoError(t, err)
	require.NoError(t, settle(t, p))
	assert.Equal(t, db.RoleMember, u.Role)

	_, _, err = fx.app.AddUser(admin, "carl", "Carl 2", "secret1", "")
	assert.ErrorIs(t, err, auth.ErrIDTaken)

	_, err = fx.app.DeleteUser(admin, admin.ID)
	assert.ErrorIs(t, err, db.ErrValidation)

	p, err = fx.app.DeleteUser(admin, "carl")
	require.NoError(t, err)
	require.NoError(t, settle(t, p))
	assert.Empty(t, fx.app.Users())
}

func TestUpdateProfileReloadsStore(t *testing.T) {
	ctx := context.Background()
	fx := setup(t, func(ctx context.Context, gw *db.Gateway) {
		u, err := auth.NewUser("ana", "Ana", "secret1", "")
		require.NoError(t, err)
		_, err = gw.Users.Create(ctx, u)
		require.NoError(t, err)
		_, err = gw.Tasks.Create(ctx, db.Task{ID: "t1", UserID: "ana", Title: "Ship"})
		require.NoError(t, err)
	})

	me, ok := store.Find[db.User](fx.app.Store, "ana")
	require.True(t, ok)
	next, err := fx.app.UpdateProfile(ctx, me, auth.Profile{ID: "ana.k"})
	require.NoError(t, err)

	tasks := fx.app.Tasks(next)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Ship", tasks[0].Title)
	_, ok = store.Find[db.User](fx.app.Store, "ana")
	assert.False(t, ok)
}

func TestUpdateProfileWaitsForPendingWrites(t *testing.T) {
	ctx := context.Background()
	fx := setup(t, func(ctx context.Context, gw *db.Gateway) {
		u, err := auth.NewUser("ana", "Ana", "secret1", "")
		require.NoError(t, err)
		_, err = gw.Users.Create(ctx, u)
		require.NoError(t, err)
	})
	me, ok := store.Find[db.User](fx.app.Store, "ana")
	require.True(t, ok)

	release := fx.faults.Hold("create", db.CollDocs)
	d, _, err := fx.app.CreateDocument(ctx, me, workspace.NewDocument{Title: "Plan", Category: db.CategoryPersonal})
	require.NoError(t, err)

	type result struct {
		user db.User
		err  error
	}
	done := make(chan result, 1)
	go func() {
		u, err := fx.app.UpdateProfile(ctx, me, auth.Profile{ID: "ana.k"})
		done <- result{u, err}
	}()

	select {
	case <-done:
		t.Fatal("id change ran while the document create was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	release()

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("profile update never finished")
	}
	require.NoError(t, res.err)
	assert.Equal(t, "ana.k", res.user.ID)

	stored, err := fx.gw.Docs.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "ana.k", stored[0].AuthorID)

	cached, ok := store.Find[db.Document](fx.app.Store, d.ID)
	require.True(t, ok)
	assert.Equal(t, "ana.k", cached.AuthorID)
	assert.Equal(t, 1, fx.app.Workspace.PersonalTree("ana.k").Len())
}

func TestDashboard(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fx := setup(t, func(ctx context.Context, gw *db.Gateway) {
		docs := []db.Document{
			{ID: "mine-old", AuthorID: ana.ID, Category: db.CategoryPersonal, UpdatedAt: base},
			{ID: "team-new", AuthorID: bob.ID, Category: db.CategoryTeam, UpdatedAt: base.Add(4 * time.Hour)},
			{ID: "bob-private", AuthorID: bob.ID, Category: db.CategoryPersonal, UpdatedAt: base.Add(5 * time.Hour)},
			{ID: "mine-new", AuthorID: ana.ID, Category: db.CategoryPersonal, UpdatedAt: base.Add(3 * time.Hour)},
			{ID: "team-mid", AuthorID: bob.ID, Category: db.CategoryTeam, UpdatedAt: base.Add(2 * time.Hour)},
		}
		for _, d := range docs {
			_, err := gw.Docs.Create(ctx, d)
			require.NoError(t, err)
		}
		for _, tk := range []db.Task{
			{ID: "t1", UserID: ana.ID, Title: "a"},
			{ID: "t2", UserID: ana.ID, Title: "b", Completed: true},
			{ID: "t3", UserID: bob.ID, Title: "c"},
		} {
			_, err := gw.Tasks.Create(ctx, tk)
			require.NoError(t, err)
		}
		for _, ev := range []db.ScheduleEvent{
			{ID: "s1", UserID: ana.ID, Title: "Trip", StartDate: "2024-01-09", EndDate: "2024-01-11"},
			{ID: "s2", UserID: bob.ID, Title: "Bob's", StartDate: "2024-01-10", EndDate: "2024-01-10"},
			{ID: "s3", UserID: ana.ID, Title: "Later", StartDate: "2024-02-01", EndDate: "2024-02-01"},
		} {
			_, err := gw.Schedules.Create(ctx, ev)
			require.NoError(t, err)
		}
	})

	d := fx.app.Dashboard(ana)
	assert.Equal(t, db.Day("2024-01-10"), d.Today)
	assert.Equal(t, 1, d.PendingTasks)
	assert.Len(t, d.Tasks, 2)

	var recent []string
	for _, doc := range d.RecentDocs {
		recent = append(recent, doc.ID)
	}
	if diff := cmp.Diff([]string{"team-new", "mine-new", "team-mid"}, recent); diff != "" {
		t.Errorf("recent docs mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, d.MySchedules, 1)
	assert.Equal(t, "s1", d.MySchedules[0].ID)
}
