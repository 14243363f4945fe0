package api

import (
	"net/http"

	"github.com/kidandcat/teamsync/internal/auth"
	"github.com/kidandcat/teamsync/internal/db"
)

func (s *Server) registerAuthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/me", s.handleMe)
	mux.HandleFunc("PUT /api/profile", s.withUser(s.handleUpdateProfile))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string `json:"id"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}

	user, token, err := s.app.Auth.Login(r.Context(), req.ID, req.Password)
	if err != nil {
		s.fail(w, "login", err)
		return
	}
	auth.SetSessionCookie(w, token)
	s.log.Info().Str("user", user.ID).Msg("logged in")
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"user":   user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	// pending writes belong to the session that is ending
	if err := s.app.Store.Flush(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("flush on logout")
	}
	s.app.Auth.LogoutRequest(r.Context(), w, r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := s.app.Auth.CurrentUser(r)
	if user == nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          user,
	})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, user db.User) {
	var p auth.Profile
	if !decode(w, r, &p) {
		return
	}
	next, err := s.app.UpdateProfile(r.Context(), user, p)
	if err != nil {
		s.fail(w, "update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}
