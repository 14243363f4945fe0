// Package api is the JSON surface over app.App.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/kidandcat/teamsync/internal/app"
	"github.com/kidandcat/teamsync/internal/assist"
	"github.com/kidandcat/teamsync/internal/auth"
	"github.com/kidandcat/teamsync/internal/db"
	"github.com/kidandcat/teamsync/internal/schedule"
	"github.com/kidandcat/teamsync/internal/store"
	"github.com/kidandcat/teamsync/internal/workspace"
)

type Server struct {
	app *app.App
	log zerolog.Logger
}

func New(a *app.App, log zerolog.Logger) *Server {
	return &Server{app: a, log: log.With().Str("component", "api").Logger()}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	s.registerAuthRoutes(mux)

	mux.HandleFunc("GET /api/dashboard", s.withUser(s.handleDashboard))
	mux.HandleFunc("GET /api/activities", s.withUser(s.handleActivities))

	// Tasks
	mux.HandleFunc("GET /api/tasks", s.withUser(s.handleGetTasks))
	mux.HandleFunc("POST /api/tasks", s.withUser(s.handleCreateTask))
	mux.HandleFunc("POST /api/tasks/{id}/toggle", s.withUser(s.handleToggleTask))
	mux.HandleFunc("DELETE /api/tasks/{id}", s.withUser(s.handleDeleteTask))

	// Schedules
	mux.HandleFunc("GET /api/schedules", s.withUser(s.handleGetSchedules))
	mux.HandleFunc("GET /api/schedules/month", s.withUser(s.handleMonth))
	mux.HandleFunc("GET /api/schedules/briefing", s.withUser(s.handleBriefing))
	mux.HandleFunc("POST /api/schedules", s.withUser(s.handleCreateSchedule))
	mux.HandleFunc("DELETE /api/schedules/{id}", s.withUser(s.handleDeleteSchedule))

	// Workspace
	mux.HandleFunc("GET /api/tree", s.withUser(s.handleTree))
	mux.HandleFunc("GET /api/docs/{id}", s.withUser(s.handleGetDoc))
	mux.HandleFunc("POST /api/docs", s.withUser(s.handleCreateDoc))
	mux.HandleFunc("PATCH /api/docs/{id}", s.withUser(s.handleUpdateDoc))
	mux.HandleFunc("PUT /api/docs/{id}/folder", s.withUser(s.handleMoveDoc))
	mux.HandleFunc("PUT /api/docs/{id}/category", s.withUser(s.handleDocCategory))
	mux.HandleFunc("POST /api/docs/{id}/assist", s.withUser(s.handleAssist))
	mux.HandleFunc("DELETE /api/docs/{id}", s.withUser(s.handleDeleteDoc))
	mux.HandleFunc("POST /api/folders", s.withUser(s.handleCreateFolder))
	mux.HandleFunc("PATCH /api/folders/{id}", s.withUser(s.handleRenameFolder))
	mux.HandleFunc("DELETE /api/folders/{id}", s.withUser(s.handleDeleteFolder))

	// Members
	mux.HandleFunc("GET /api/users", s.withUser(s.handleGetUsers))
	mux.HandleFunc("POST /api/users", s.requireAdmin(s.handleCreateUser))
	mux.HandleFunc("DELETE /api/users/{id}", s.requireAdmin(s.handleDeleteUser))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type userHandler func(w http.ResponseWriter, r *http.Request, user db.User)

func (s *Server) withUser(h userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := s.app.Auth.CurrentUser(r)
		if user == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h(w, r, *user)
	}
}

func (s *Server) requireAdmin(h userHandler) http.HandlerFunc {
	return s.withUser(func(w http.ResponseWriter, r *http.Request, user db.User) {
		if !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin only")
			return
		}
		h(w, r, user)
	})
}

// fail maps err onto a status. Anything unrecognized is logged and
// reported as an internal error.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	var ve *db.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrIDTaken), errors.Is(err, db.ErrExists):
		writeError(w, http.StatusConflict, "id already in use")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, assist.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, assist.ErrAssist):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.log.Error().Err(err).Str("op", op).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// reply writes v once the local change is applied. With ?wait=true it
// first waits for persistence and reports its failure instead.
func (s *Server) reply(w http.ResponseWriter, r *http.Request, op string, status int, v any, p *store.Pending) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait && p != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if err := p.Wait(ctx); err != nil {
			s.fail(w, op, err)
			return
		}
	}
	if v == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, status, v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// Dashboard and feed

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, user db.User) {
	writeJSON(w, http.StatusOK, s.app.Dashboard(user))
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request, _ db.User) {
	writeJSON(w, http.StatusOK, emptyIfNil(s.app.Store.Activities()))
}

// Tasks

func (s *Server) handleGetTasks(w http.ResponseWriter, r *http.Request, user db.User) {
	writeJSON(w, http.StatusOK, emptyIfNil(s.app.Tasks(user)))
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request, user db.User) {
	var req struct {
		Title    string      `json:"title"`
		Priority db.Priority `json:"priority"`
	}
	if !decode(w, r, &req) {
		return
	}
	t, p, err := s.app.AddTask(user, req.Title, req.Priority)
	if err != nil {
		s.fail(w, "create task", err)
		return
	}
	s.reply(w, r, "create task", http.StatusCreated, t, p)
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request, user db.User) {
	t, p, err := s.app.ToggleTask(r.Context(), user, r.PathValue("id"))
	if err != nil {
		s.fail(w, "toggle task", err)
		return
	}
	s.reply(w, r, "toggle task", http.StatusOK, t, p)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request, user db.User) {
	p, err := s.app.DeleteTask(user, r.PathValue("id"))
	if err != nil {
		s.fail(w, "delete task", err)
		return
	}
	s.reply(w, r, "delete task", http.StatusNoContent, nil, p)
}

// Schedules

func (s *Server) handleGetSchedules(w http.ResponseWriter, r *http.Request, _ db.User) {
	dayStr := r.URL.Query().Get("day")
	if dayStr == "" {
		writeJSON(w, http.StatusOK, emptyIfNil(s.app.Schedules()))
		return
	}
	day, err := db.ParseDay(dayStr)
	if err != nil {
		s.fail(w, "get schedules", err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(s.app.Agenda(day)))
}

func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request, _ db.User) {
	today, _ := s.app.Today().Time()
	year, month := today.Year(), today.Month()
	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid year")
			return
		}
		year = y
	}
	if v := r.URL.Query().Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			writeError(w, http.StatusBadRequest, "invalid month")
			return
		}
		month = time.Month(m)
	}

	grid := schedule.MonthDays(year, month)
	writeJSON(w, http.StatusOK, map[string]any{
		"year":  grid.Year,
		"month": int(grid.Month),
		"lead":  grid.Lead,
		"days":  grid.Days,
		"busy":  grid.Busy(s.app.Schedules()),
	})
}

func (s *Server) handleBriefing(w http.ResponseWriter, r *http.Request, _ db.User) {
	text, err := s.app.Briefing(r.Context())
	if err != nil {
		s.fail(w, "briefing", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"briefing": text})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request, user db.User) {
	var ev db.ScheduleEvent
	if !decode(w, r, &ev) {
		return
	}
	ev, p, err := s.app.AddSchedule(r.Context(), user, ev)
	if err != nil {
		s.fail(w, "create schedule", err)
		return
	}
	s.reply(w, r, "create schedule", http.StatusCreated, ev, p)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request, user db.User) {
	p, err := s.app.DeleteSchedule(user, r.PathValue("id"))
	if err != nil {
		s.fail(w, "delete schedule", err)
		return
	}
	s.reply(w, r, "delete schedule", http.StatusNoContent, nil, p)
}

// Workspace

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request, user db.User) {
	personal, team := s.app.Trees(user)
	writeJSON(w, http.StatusOK, map[string]workspace.Tree{
		"personal": personal,
		"team":     team,
	})
}

func (s *Server) handleGetDoc(w http.ResponseWriter, r *http.Request, user db.User) {
	d, err := s.app.Document(user, r.PathValue("id"))
	if err != nil {
		s.fail(w, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCreateDoc(w http.ResponseWriter, r *http.Request, user db.User) {
	var req struct {
		Title    string      `json:"title"`
		Content  string      `json:"content"`
		Emoji    string      `json:"emoji"`
		Category db.Category `json:"category"`
		FolderID *string     `json:"folderId"`
	}
	if !decode(w, r, &req) {
		return
	}
	d, p, err := s.app.CreateDocument(r.Context(), user, workspace.NewDocument{
		Title:    req.Title,
		Content:  req.Content,
		Emoji:    req.Emoji,
		Category: req.Category,
		FolderID: req.FolderID,
	})
	if err != nil {
		s.fail(w, "create document", err)
		return
	}
	s.reply(w, r, "create document", http.StatusCreated, d, p)
}

func (s *Server) handleUpdateDoc(w http.ResponseWriter, r *http.Request, user db.User) {
	var patch workspace.DocumentPatch
	if !decode(w, r, &patch) {
		return
	}
	id := r.PathValue("id")

	var (
		d   db.Document
		p   *store.Pending
		err error
	)
	if patch.Title != nil && patch.Content == nil && patch.Emoji == nil {
		d, p, err = s.app.RenameDocument(user, id, *patch.Title)
	} else {
		d, p, err = s.app.UpdateDocument(user, id, patch)
	}
	if err != nil {
		s.fail(w, "update document", err)
		return
	}
	s.reply(w, r, "update document", http.StatusOK, d, p)
}

func (s *Server) handleMoveDoc(w http.ResponseWriter, r *http.Request, user db.User) {
	var req struct {
		FolderID *string `json:"folderId"`
	}
	if !decode(w, r, &req) {
		return
	}
	d, p, err := s.app.MoveDocument(user, r.PathValue("id"), req.FolderID)
	if err != nil {
		s.fail(w, "move document", err)
		return
	}
	s.reply(w, r, "move document", http.StatusOK, d, p)
}

func (s *Server) handleDocCategory(w http.ResponseWriter, r *http.Request, user db.User) {
	var req struct {
		Category db.Category `json:"category"`
	}
	if !decode(w, r, &req) {
		return
	}
	d, p, err := s.app.ChangeCategory(user, r.PathValue("id"), req.Category)
	if err != nil {
		s.fail(w, "change category", err)
		return
	}
	s.reply(w, r, "change category", http.StatusOK, d, p)
}

func (s *Server) handleAssist(w http.ResponseWriter, r *http.Request, user db.User) {
	var req struct {
		Command assist.Command `json:"command"`
	}
	if !decode(w, r, &req) {
		return
	}
	d, p, err := s.app.AssistDocument(r.Context(), user, r.PathValue("id"), req.Command)
	if err != nil {
		s.fail(w, "assist", err)
		return
	}
	s.reply(w, r, "assist", http.StatusOK, d, p)
}

func (s *Server) handleDeleteDoc(w http.ResponseWriter, r *http.Request, user db.User) {
	p, err := s.app.DeleteDocument(user, r.PathValue("id"))
	if err != nil {
		s.fail(w, "delete document", err)
		return
	}
	s.reply(w, r, "delete document", http.StatusNoContent, nil, p)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request, user db.User) {
	var req struct {
		Name     string      `json:"name"`
		Category db.Category `json:"category"`
	}
	if !decode(w, r, &req) {
		return
	}
	f, p, err := s.app.CreateFolder(user, req.Name, req.Category)
	if err != nil {
		s.fail(w, "create folder", err)
		return
	}
	s.reply(w, r, "create folder", http.StatusCreated, f, p)
}

func (s *Server) handleRenameFolder(w http.ResponseWriter, r *http.Request, user db.User) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	f, p, err := s.app.RenameFolder(user, r.PathValue("id"), req.Name)
	if err != nil {
		s.fail(w, "rename folder", err)
		return
	}
	s.reply(w, r, "rename folder", http.StatusOK, f, p)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request, user db.User) {
	p, err := s.app.DeleteFolder(user, r.PathValue("id"))
	if err != nil {
		s.fail(w, "delete folder", err)
		return
	}
	s.reply(w, r, "delete folder", http.StatusNoContent, nil, p)
}

// Members

func (s *Server) handleGetUsers(w http.ResponseWriter, r *http.Request, _ db.User) {
	writeJSON(w, http.StatusOK, emptyIfNil(s.app.Users()))
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request, admin db.User) {
	var req struct {
		ID       string  `json:"id"`
		Name     string  `json:"name"`
		Password string  `json:"password"`
		Role     db.Role `json:"role"`
	}
	if !decode(w, r, &req) {
		return
	}
	u, p, err := s.app.AddUser(admin, req.ID, req.Name, req.Password, req.Role)
	if err != nil {
		s.fail(w, "create user", err)
		return
	}
	s.reply(w, r, "create user", http.StatusCreated, u, p)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, admin db.User) {
	p, err := s.app.DeleteUser(admin, r.PathValue("id"))
	if err != nil {
		s.fail(w, "delete user", err)
		return
	}
	s.reply(w, r, "delete user", http.StatusNoContent, nil, p)
}
