// Package app is the single entry point every surface drives: it applies
// user actions to the entity store, enforces who may do what and records
// the activity feed.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/kidandcat/teamsync/internal/assist"
	"github.com/kidandcat/teamsync/internal/auth"
	"github.com/kidandcat/teamsync/internal/db"
	"github.com/kidandcat/teamsync/internal/feed"
	"github.com/kidandcat/teamsync/internal/schedule"
	"github.com/kidandcat/teamsync/internal/store"
	"github.com/kidandcat/teamsync/internal/workspace"
)

var ErrForbidden = errors.New("forbidden")

type App struct {
	Store     *store.Store
	Workspace *workspace.Manager
	Feed      *feed.Recorder
	Auth      *auth.Manager
	Assist    *assist.Client

	log zerolog.Logger
	now func() time.Time
}

func New(s *store.Store, am *auth.Manager, ac *assist.Client, log zerolog.Logger) *App {
	a := &App{
		Store:     s,
		Workspace: workspace.New(s, log),
		Feed:      feed.NewRecorder(s, log),
		Auth:      am,
		Assist:    ac,
		log:       log.With().Str("component", "app").Logger(),
		now:       time.Now,
	}
	am.OnUserChanged(a.userChanged)
	return a
}

// SetClock replaces the time source for the app and its workspace.
func (a *App) SetClock(now func() time.Time) {
	a.now = now
	a.Workspace.SetClock(now)
}

func (a *App) Today() db.Day { return db.DayOf(a.now()) }

// Load fills the store from the gateway.
func (a *App) Load(ctx context.Context) error {
	if err := a.Store.Load(ctx); err != nil {
		return err
	}
	a.log.Info().
		Int("docs", len(a.Store.Documents())).
		Int("folders", len(a.Store.Folders())).
		Int("tasks", len(a.Store.Tasks())).
		Int("schedules", len(a.Store.Schedules())).
		Msg("store loaded")
	return nil
}

// userChanged refreshes the cache after a profile update. An id change
// rewrote ownership in storage, so every collection is fetched again.
func (a *App) userChanged(c auth.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.Store.Flush(ctx); err != nil {
		a.log.Warn().Err(err).Msg("flush before reload")
	}
	if c.IDChanged() {
		if err := a.Store.Load(ctx); err != nil {
			a.log.Error().Err(err).Str("user", c.User.ID).Msg("error reloading after id change")
		}
		return
	}
	users, err := a.Store.Gateway().Users.List(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("error reloading users")
		return
	}
	store.Reconcile(a.Store, users)
}

// --- tasks ---

// Tasks returns the user's tasks.
func (a *App) Tasks(user db.User) []db.Task {
	var out []db.Task
	for _, t := range a.Store.Tasks() {
		if t.UserID == user.ID {
			out = append(out, t)
		}
	}
	return out
}

func (a *App) AddTask(user db.User, title string, priority db.Priority) (db.Task, *store.Pending, error) {
	title, err := db.RequireName("title", title)
	if err != nil {
		return db.Task{}, nil, err
	}
	if priority == "" {
		priority = db.PriorityMedium
	}
	if !priority.Valid() {
		return db.Task{}, nil, &db.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", priority)}
	}

	t := db.Task{
		ID:       db.NewID(),
		UserID:   user.ID,
		Title:    title,
		DueDate:  a.Today(),
		Priority: priority,
	}
	p, err := a.Store.Apply(store.Mutation{
		Op:    "add task",
		Local: func(tx *store.Tx) error { store.Put(tx, t); return nil },
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			_, err := gw.Tasks.Create(ctx, t)
			return err
		},
	})
	if err != nil {
		return db.Task{}, nil, err
	}
	return t, p, nil
}

// ToggleTask flips completion. The first completion of a task is
// recorded in the feed; later ones are not.
func (a *App) ToggleTask(ctx context.Context, user db.User, id string) (db.Task, *store.Pending, error) {
	var (
		out    db.Task
		record bool
	)
	p, err := a.Store.Apply(store.Mutation{
		Op: "toggle task",
		Local: func(tx *store.Tx) error {
			t, ok := store.Get[db.Task](tx, id)
			if !ok {
				return fmt.Errorf("task %s: %w", id, db.ErrNotFound)
			}
			if t.UserID != user.ID {
				return ErrForbidden
			}
			t.Completed = !t.Completed
			if t.Completed && !t.HasLoggedCompletion {
				t.HasLoggedCompletion = true
				record = true
			}
			store.Put(tx, t)
			out = t
			return nil
		},
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			return gw.Tasks.Update(ctx, out)
		},
	})
	if err != nil {
		return db.Task{}, nil, err
	}

	if record {
		if _, err := a.Feed.Record(ctx, user.Name, feed.ActionTaskCompleted, out.Title); err != nil {
			a.log.Error().Err(err).Str("task", id).Msg("error recording task completion")
		}
	}
	return out, p, nil
}

func (a *App) DeleteTask(user db.User, id string) (*store.Pending, error) {
	return a.Store.Apply(store.Mutation{
		Op: "delete task",
		Local: func(tx *store.Tx) error {
			if t, ok := store.Get[db.Task](tx, id); ok && t.UserID != user.ID {
				return ErrForbidden
			}
			store.Remove[db.Task](tx, id)
			return nil
		},
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			return gw.Tasks.Delete(ctx, id)
		},
		Keys: []string{store.Key(db.CollTasks, id)},
	})
}

// --- schedules ---

func (a *App) Schedules() []db.ScheduleEvent { return a.Store.Schedules() }

// AddSchedule stores ev for user and records it in the feed.
func (a *App) AddSchedule(ctx context.Context, user db.User, ev db.ScheduleEvent) (db.ScheduleEvent, *store.Pending, error) {
	if ev.ID == "" {
		ev.ID = db.NewID()
	}
	if ev.Type == "" {
		ev.Type = db.ScheduleMeeting
	}
	ev.UserID, ev.UserName = user.ID, user.Name
	if err := ev.Validate(); err != nil {
		return db.ScheduleEvent{}, nil, err
	}

	p, err := a.Store.Apply(store.Mutation{
		Op:    "add schedule",
		Local: func(tx *store.Tx) error { store.Prepend(tx, ev); return nil },
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			_, err := gw.Schedules.Create(ctx, ev)
			return err
		},
	})
	if err != nil {
		return db.ScheduleEvent{}, nil, err
	}

	if _, err := a.Feed.Record(ctx, user.Name, feed.ActionScheduleCreated, ev.Title); err != nil {
		a.log.Error().Err(err).Str("schedule", ev.ID).Msg("error recording schedule")
	}
	return ev, p, nil
}

// DeleteSchedule removes an event. Only its owner or an admin may.
func (a *App) DeleteSchedule(user db.User, id string) (*store.Pending, error) {
	return a.Store.Apply(store.Mutation{
		Op: "delete schedule",
		Local: func(tx *store.Tx) error {
			if ev, ok := store.Get[db.ScheduleEvent](tx, id); ok && ev.UserID != user.ID && !user.IsAdmin() {
				return ErrForbidden
			}
			store.Remove[db.ScheduleEvent](tx, id)
			return nil
		},
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			return gw.Schedules.Delete(ctx, id)
		},
		Keys: []string{store.Key(db.CollSchedules, id)},
	})
}

// Agenda is every member's schedule on day.
func (a *App) Agenda(day db.Day) []db.ScheduleEvent {
	return schedule.Agenda(a.Store.Schedules(), day)
}

// Briefing asks the assist service to summarize schedules that have not
// ended before today.
func (a *App) Briefing(ctx context.Context) (string, error) {
	today := a.Today()
	var upcoming []db.ScheduleEvent
	for _, ev := range a.Store.Schedules() {
		if ev.EndDate >= today {
			upcoming = append(upcoming, ev)
		}
	}
	return a.Assist.Briefing(ctx, upcoming)
}

// --- members ---

func (a *App) Users() []db.User { return a.Store.Users() }

// AddUser creates a member. Admin only.
func (a *App) AddUser(admin db.User, id, name, password string, role db.Role) (db.User, *store.Pending, error) {
	if !admin.IsAdmin() {
		return db.User{}, nil, ErrForbidden
	}
	u, err := auth.NewUser(id, name, password, role)
	if err != nil {
		return db.User{}, nil, err
	}
	p, err := a.Store.Apply(store.Mutation{
		Op: "add user",
		Local: func(tx *store.Tx) error {
			if _, ok := store.Get[db.User](tx, u.ID); ok {
				return fmt.Errorf("add user %s: %w", u.ID, auth.ErrIDTaken)
			}
			store.Put(tx, u)
			return nil
		},
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			_, err := gw.Users.Create(ctx, u)
			return err
		},
	})
	if err != nil {
		return db.User{}, nil, err
	}
	return u, p, nil
}

// DeleteUser removes a member. Admin only, and never the caller.
func (a *App) DeleteUser(admin db.User, id string) (*store.Pending, error) {
	if !admin.IsAdmin() {
		return nil, ErrForbidden
	}
	if id == admin.ID {
		return nil, &db.ValidationError{Field: "id", Reason: "cannot delete yourself"}
	}
	return a.Store.Apply(store.Mutation{
		Op: "delete user",
		Local: func(tx *store.Tx) error {
			store.Remove[db.User](tx, id)
			return nil
		},
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			return gw.Users.Delete(ctx, id)
		},
		Keys: []string{store.Key(db.CollUsers, id)},
	})
}

// UpdateProfile changes the caller's own profile.
// Writes still in flight land first, and no new ones start until the
// store has been reloaded, so an id change rewrites everything the user owns.
func (a *App) UpdateProfile(ctx context.Context, user db.User, p auth.Profile) (db.User, error) {
	var next db.User
	err := a.Store.Exclusive(ctx, func(ctx context.Context) error {
		var err error
		next, err = a.Auth.UpdateProfile(ctx, user.ID, p)
		return err
	})
	if err != nil {
		return db.User{}, err
	}
	return next, nil
}

// --- dashboard ---

// RecentDocsLimit is how many documents the dashboard lists.
const RecentDocsLimit = 3

type Dashboard struct {
	Today        db.Day             `json:"today"`
	MySchedules  []db.ScheduleEvent `json:"mySchedules"`
	Tasks        []db.Task          `json:"tasks"`
	PendingTasks int                `json:"pendingTasks"`
	RecentDocs   []db.Document      `json:"recentDocs"`
	Activities   []db.Activity      `json:"activities"`
}

func (a *App) Dashboard(user db.User) Dashboard {
	today := a.Today()
	d := Dashboard{
		Today:       today,
		MySchedules: schedule.ForUserOn(a.Store.Schedules(), user.ID, today),
		Tasks:       a.Tasks(user),
		Activities:  a.Store.Activities(),
	}
	for _, t := range d.Tasks {
		if !t.Completed {
			d.PendingTasks++
		}
	}

	for _, doc := range a.Store.Documents() {
		if doc.AuthorID == user.ID || doc.Visibility() == db.CategoryTeam {
			d.RecentDocs = append(d.RecentDocs, doc)
		}
	}
	slices.SortStableFunc(d.RecentDocs, func(x, y db.Document) int {
		return y.UpdatedAt.Compare(x.UpdatedAt)
	})
	if len(d.RecentDocs) > RecentDocsLimit {
		d.RecentDocs = d.RecentDocs[:RecentDocsLimit]
	}
	return d
}
