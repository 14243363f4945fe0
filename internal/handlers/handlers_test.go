package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidandcat/teamsync/internal/app"
	"github.com/kidandcat/teamsync/internal/assist"
	"github.com/kidandcat/teamsync/internal/auth"
	"github.com/kidandcat/teamsync/internal/config"
	"github.com/kidandcat/teamsync/internal/db"
	"github.com/kidandcat/teamsync/internal/store"
)

func ptr(s string) *string { return &s }

func setup(t *testing.T) (*app.App, http.Handler) {
	t.Helper()
	ctx := context.Background()
	gw := db.NewMemory().Gateway(db.Options{})
	am := auth.NewManager(gw, zerolog.Nop())
	_, err := am.Register(ctx, "ana", "Ana", "secret1", "")
	require.NoError(t, err)

	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	_, err = gw.Folders.Create(ctx, db.Folder{ID: "f1", Name: "Projects", UserID: "ana", Category: db.CategoryPersonal})
	require.NoError(t, err)
	_, err = gw.Docs.Create(ctx, db.Document{
		ID: "d1", Title: "Plan", Emoji: "📄", Content: "# Roadmap\n\n- ship", AuthorID: "ana", AuthorName: "Ana",
		Category: db.CategoryPersonal, FolderID: ptr("f1"), UpdatedAt: now,
	})
	require.NoError(t, err)
	_, err = gw.Tasks.Create(ctx, db.Task{ID: "t1", UserID: "ana", Title: "Write report", DueDate: "2024-01-10", Priority: db.PriorityHigh})
	require.NoError(t, err)
	_, err = gw.Schedules.Create(ctx, db.ScheduleEvent{ID: "s1", UserID: "ana", UserName: "Ana", Title: "Beach", Type: db.ScheduleVacation, StartDate: "2024-01-10", EndDate: "2024-01-12"})
	require.NoError(t, err)

	s := store.New(gw, zerolog.Nop())
	t.Cleanup(func() { s.Close(context.Background()) })
	a := app.New(s, am, assist.NewClient(config.AssistConfig{}, zerolog.Nop()), zerolog.Nop())
	a.SetClock(func() time.Time { return now })
	require.NoError(t, a.Load(ctx))

	mux := http.NewServeMux()
	New(a, zerolog.Nop()).RegisterRoutes(mux)
	return a, mux
}

type browser struct {
	t       *testing.T
	h       http.Handler
	cookies []*http.Cookie
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	return b.send(httptest.NewRequest("GET", path, nil))
}

func (b *browser) post(path string, form url.Values) *httptest.ResponseRecorder {
	r := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.send(r)
}

func (b *browser) send(r *http.Request) *httptest.ResponseRecorder {
	for _, c := range b.cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	b.h.ServeHTTP(w, r)
	if cs := w.Result().Cookies(); len(cs) > 0 {
		b.cookies = cs
	}
	return w
}

func signIn(t *testing.T, h http.Handler) *browser {
	t.Helper()
	b := &browser{t: t, h: h}
	w := b.post("/login", url.Values{"id": {"ana"}, "password": {"secret1"}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, "/dashboard", w.Header().Get("Location"))
	return b
}

func TestLoginRedirects(t *testing.T) {
	_, h := setup(t)
	b := &browser{t: t, h: h}

	w := b.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	w = b.get("/login")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Sign in")

	w = b.post("/login", url.Values{"id": {"ana"}, "password": {"wrong!!"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), auth.ErrInvalidCredentials.Error())
}

func TestDashboardPage(t *testing.T) {
	a, h := setup(t)
	b := signIn(t, h)

	w := b.get("/dashboard")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Write report")
	assert.Contains(t, body, "1 pending")
	assert.Contains(t, body, "Beach")
	assert.Contains(t, body, "Plan")

	w = b.post("/tasks/t1/toggle", nil)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	require.Len(t, a.Store.Activities(), 1)

	w = b.get("/dashboard")
	assert.Contains(t, w.Body.String(), "0 pending")
	assert.Contains(t, w.Body.String(), "task completed")
}

func TestWorkspacePage(t *testing.T) {
	a, h := setup(t)
	b := signIn(t, h)

	w := b.get("/workspace/docs/d1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h1>Roadmap</h1>")
	assert.Contains(t, w.Body.String(), "<li>ship</li>")

	// folder collapsed: the doc link is only in the article
	assert.NotContains(t, w.Body.String(), `<div style="padding-left:24px">`)
	b.post("/workspace/folders/f1/toggle", url.Values{"doc": {"d1"}})
	w = b.get("/workspace/docs/d1")
	assert.Contains(t, w.Body.String(), `<div style="padding-left:24px">`)

	w = b.get("/workspace/docs/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// start then commit a rename
	b.post("/workspace/folders/f1/rename", url.Values{"current": {"Projects"}})
	w = b.get("/workspace")
	assert.Contains(t, w.Body.String(), `name="name" value="Projects"`)
	b.post("/workspace/folders/f1/rename", url.Values{"name": {"  Archive "}})
	f, ok := store.Find[db.Folder](a.Store, "f1")
	require.True(t, ok)
	assert.Equal(t, "Archive", f.Name)

	// blank commit keeps the name
	b.post("/workspace/folders/f1/rename", url.Values{"name": {"  "}})
	f, _ = store.Find[db.Folder](a.Store, "f1")
	assert.Equal(t, "Archive", f.Name)

	w = b.post("/workspace/folders/f1/delete", nil)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	d, ok := store.Find[db.Document](a.Store, "d1")
	require.True(t, ok)
	assert.Nil(t, d.FolderID)
}

func TestCalendarPage(t *testing.T) {
	_, h := setup(t)
	b := signIn(t, h)

	w := b.get("/calendar?day=2024-01-11")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "January 2024")
	assert.Contains(t, body, "Beach")

	w = b.get("/calendar?day=2024-01-13")
	assert.Contains(t, w.Body.String(), "No schedules.")

	w = b.get("/calendar?day=13/01")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminPage(t *testing.T) {
	a, h := setup(t)

	w := signIn(t, h).get("/admin")
	assert.Equal(t, http.StatusForbidden, w.Code, "members cannot manage users")

	_, err := a.Auth.Register(context.Background(), "root", "Root", "secret1", db.RoleAdmin)
	require.NoError(t, err)
	b := &browser{t: t, h: h}
	require.Equal(t, http.StatusSeeOther, b.post("/login", url.Values{"id": {"root"}, "password": {"secret1"}}).Code)

	w = b.get("/admin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<td>ana</td>")

	w = b.post("/admin/users", url.Values{"id": {"bob"}, "name": {"Bob"}, "password": {"secret2"}})
	assert.Equal(t, http.StatusSeeOther, w.Code)
	u, ok := store.Find[db.User](a.Store, "bob")
	require.True(t, ok)
	assert.Equal(t, db.RoleMember, u.Role)

	w = b.post("/admin/users", url.Values{"id": {"bob"}, "name": {"Bob"}, "password": {"secret2"}})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = b.post("/admin/users", url.Values{"id": {"eve"}, "name": {"  "}, "password": {"secret3"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = b.post("/admin/users/root/delete", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = b.post("/admin/users/bob/delete", nil)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	_, ok = store.Find[db.User](a.Store, "bob")
	assert.False(t, ok)
}
