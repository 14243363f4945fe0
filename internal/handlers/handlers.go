// Package handlers serves the server-rendered pages.
package handlers

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"

	"github.com/kidandcat/teamsync/internal/app"
	"github.com/kidandcat/teamsync/internal/auth"
	"github.com/kidandcat/teamsync/internal/db"
	"github.com/kidandcat/teamsync/internal/feed"
	"github.com/kidandcat/teamsync/internal/schedule"
	"github.com/kidandcat/teamsync/internal/workspace"
)

//go:embed templates/*.html
var templateFS embed.FS

type Handlers struct {
	app       *app.App
	log       zerolog.Logger
	templates *template.Template

	mu    sync.Mutex
	views map[string]*workspace.View
}

func New(a *app.App, log zerolog.Logger) *Handlers {
	h := &Handlers{
		app:   a,
		log:   log.With().Str("component", "pages").Logger(),
		views: make(map[string]*workspace.View),
	}
	funcMap := template.FuncMap{
		"markdown": func(content string) template.HTML {
			var buf strings.Builder
			if err := goldmark.Convert([]byte(content), &buf); err != nil {
				return template.HTML("<p>Error rendering markdown</p>")
			}
			return template.HTML(buf.String())
		},
		"ago": func(a db.Activity) string { return feed.Label(a, time.Now()) },
		"since": func(t time.Time) string {
			return humanize.Time(t)
		},
		"mod": func(a, b int) int { return a % b },
		"dict": func(values ...any) map[string]any {
			d := make(map[string]any)
			for i := 0; i < len(values)-1; i += 2 {
				d[fmt.Sprintf("%v", values[i])] = values[i+1]
			}
			return d
		},
	}
	h.templates = template.Must(template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/*.html"))
	return h
}

func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /login", h.handleLoginPage)
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("POST /logout", h.handleLogout)

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	})
	mux.HandleFunc("GET /dashboard", h.requireUser(h.handleDashboard))
	mux.HandleFunc("POST /tasks/{id}/toggle", h.requireUser(h.handleToggleTask))
	mux.HandleFunc("GET /calendar", h.requireUser(h.handleCalendar))
	mux.HandleFunc("GET /workspace", h.requireUser(h.handleWorkspace))
	mux.HandleFunc("GET /workspace/docs/{id}", h.requireUser(h.handleWorkspace))
	mux.HandleFunc("POST /workspace/folders/{id}/toggle", h.requireUser(h.handleToggleFolder))
	mux.HandleFunc("POST /workspace/folders/{id}/rename", h.requireUser(h.handleRenameFolder))
	mux.HandleFunc("POST /workspace/folders/{id}/delete", h.requireUser(h.handleDeleteFolder))
	h.registerAdminRoutes(mux)
}

type contextKey string

const userKey contextKey = "user"

func currentUser(r *http.Request) db.User {
	u, _ := r.Context().Value(userKey).(db.User)
	return u
}

func (h *Handlers) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := h.app.Auth.CurrentUser(r)
		if u == nil {
			auth.ClearSessionCookie(w)
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey, *u)))
	}
}

func (h *Handlers) render(w http.ResponseWriter, name string, data map[string]any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		h.log.Error().Err(err).Str("template", name).Msg("error rendering page")
	}
}

func (h *Handlers) serverError(w http.ResponseWriter, op string, err error) {
	h.log.Error().Err(err).Str("op", op).Msg("page failed")
	http.Error(w, "Internal error", http.StatusInternalServerError)
}

// view returns the workspace view state of the session on r.
func (h *Handlers) view(r *http.Request) *workspace.View {
	token := auth.SessionToken(r)
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.views[token]
	if !ok {
		v = workspace.NewView()
		h.views[token] = v
	}
	return v
}

func (h *Handlers) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, "login.html", map[string]any{"ID": ""})
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.FormValue("id"))
	_, token, err := h.app.Auth.Login(r.Context(), id, r.FormValue("password"))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		w.WriteHeader(http.StatusUnauthorized)
		h.render(w, "login.html", map[string]any{"Error": err.Error(), "ID": id})
		return
	}
	if err != nil {
		h.serverError(w, "login", err)
		return
	}
	auth.SetSessionCookie(w, token)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	delete(h.views, auth.SessionToken(r))
	h.mu.Unlock()
	if err := h.app.Store.Flush(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("flush on logout")
	}
	h.app.Auth.LogoutRequest(r.Context(), w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handlers) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	h.render(w, "dashboard.html", map[string]any{
		"User":      user,
		"Dashboard": h.app.Dashboard(user),
	})
}

func (h *Handlers) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	if _, _, err := h.app.ToggleTask(r.Context(), currentUser(r), r.PathValue("id")); err != nil {
		if errors.Is(err, db.ErrNotFound) || errors.Is(err, app.ErrForbidden) {
			http.NotFound(w, r)
			return
		}
		h.serverError(w, "toggle task", err)
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *Handlers) handleCalendar(w http.ResponseWriter, r *http.Request) {
	today := h.app.Today()
	day := today
	if v := r.URL.Query().Get("day"); v != "" {
		d, err := db.ParseDay(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		day = d
	}
	t, err := day.Time()
	if err != nil {
		h.serverError(w, "calendar", err)
		return
	}

	month := schedule.MonthDays(t.Year(), t.Month())
	busy := month.Busy(h.app.Schedules())
	cells := make([]calendarCell, 0, month.Lead+len(month.Days))
	for range month.Lead {
		cells = append(cells, calendarCell{})
	}
	for i, d := range month.Days {
		cells = append(cells, calendarCell{
			Day:      d,
			Number:   strconv.Itoa(i + 1),
			Count:    len(busy[d]),
			Today:    d == today,
			Selected: d == day,
		})
	}

	h.render(w, "calendar.html", map[string]any{
		"User":   currentUser(r),
		"Month":  t.Format("January 2006"),
		"Cells":  cells,
		"Day":    day,
		"Agenda": h.app.Agenda(day),
	})
}

type calendarCell struct {
	Day      db.Day
	Number   string
	Count    int
	Today    bool
	Selected bool
}

type treeSection struct {
	Title    string
	Tree     workspace.Tree
	Expanded map[string]bool
}

func (h *Handlers) handleWorkspace(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	v := h.view(r)

	data := map[string]any{"User": user}
	if id := r.PathValue("id"); id != "" {
		d, err := h.app.Document(user, id)
		switch {
		case errors.Is(err, db.ErrNotFound), errors.Is(err, app.ErrForbidden):
			http.NotFound(w, r)
			return
		case err != nil:
			h.serverError(w, "open document", err)
			return
		}
		h.mu.Lock()
		v.Select(d.ID)
		h.mu.Unlock()
		data["Doc"] = d
	}

	personal, team := h.app.Trees(user)
	h.mu.Lock()
	expanded := make(map[string]bool, len(v.Expanded))
	for _, id := range v.ExpandedIDs() {
		expanded[id] = true
	}
	renaming, buffer := v.Renaming()
	data["Selected"] = v.Selected
	h.mu.Unlock()

	data["Sections"] = []treeSection{
		{Title: "Personal", Tree: personal, Expanded: expanded},
		{Title: "Team", Tree: team, Expanded: expanded},
	}
	data["Renaming"] = renaming
	data["Buffer"] = buffer
	h.render(w, "workspace.html", data)
}

func backToWorkspace(w http.ResponseWriter, r *http.Request) {
	target := "/workspace"
	if ref := r.FormValue("doc"); ref != "" {
		target += "/docs/" + ref
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handlers) handleToggleFolder(w http.ResponseWriter, r *http.Request) {
	v := h.view(r)
	h.mu.Lock()
	v.ToggleFolder(r.PathValue("id"))
	h.mu.Unlock()
	backToWorkspace(w, r)
}

// handleRenameFolder with an empty name starts a rename; with a name it
// commits one. A blank commit keeps the old name.
func (h *Handlers) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v := h.view(r)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if _, submitted := r.PostForm["name"]; !submitted {
		h.mu.Lock()
		v.StartRename(id, r.FormValue("current"))
		h.mu.Unlock()
		backToWorkspace(w, r)
		return
	}

	h.mu.Lock()
	if current, _ := v.Renaming(); current != id {
		v.StartRename(id, "")
	}
	v.SetBuffer(r.FormValue("name"))
	target, name, ok := v.CommitRename()
	h.mu.Unlock()

	if ok {
		if _, _, err := h.app.RenameFolder(currentUser(r), target, name); err != nil {
			if errors.Is(err, app.ErrForbidden) || errors.Is(err, db.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			h.serverError(w, "rename folder", err)
			return
		}
	}
	backToWorkspace(w, r)
}

func (h *Handlers) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.app.DeleteFolder(currentUser(r), id); err != nil {
		if errors.Is(err, app.ErrForbidden) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		h.serverError(w, "delete folder", err)
		return
	}
	v := h.view(r)
	h.mu.Lock()
	v.Forget(id)
	h.mu.Unlock()
	http.Redirect(w, r, "/workspace", http.StatusSeeOther)
}
