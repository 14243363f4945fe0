package handlers

import (
	"errors"
	"net/http"

	"github.com/kidandcat/teamsync/internal/app"
	"github.com/kidandcat/teamsync/internal/auth"
	"github.com/kidandcat/teamsync/internal/db"
)

func (h *Handlers) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin", h.requireUser(h.requireAdmin(h.handleAdmin)))
	mux.HandleFunc("POST /admin/users", h.requireUser(h.requireAdmin(h.handleAdminCreateUser)))
	mux.HandleFunc("POST /admin/users/{id}/delete", h.requireUser(h.requireAdmin(h.handleAdminDeleteUser)))
}

func (h *Handlers) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !currentUser(r).IsAdmin() {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (h *Handlers) renderAdmin(w http.ResponseWriter, r *http.Request, status int, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	h.render(w, "admin.html", map[string]any{
		"User":  currentUser(r),
		"Users": h.app.Users(),
		"Error": msg,
	})
}

func (h *Handlers) handleAdmin(w http.ResponseWriter, r *http.Request) {
	h.renderAdmin(w, r, http.StatusOK, "")
}

func (h *Handlers) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	role := db.Role(r.FormValue("role"))
	if role != db.RoleAdmin {
		role = db.RoleMember
	}
	_, _, err := h.app.AddUser(currentUser(r), r.FormValue("id"), r.FormValue("name"), r.FormValue("password"), role)
	var ve *db.ValidationError
	switch {
	case errors.As(err, &ve):
		h.renderAdmin(w, r, http.StatusBadRequest, ve.Error())
		return
	case errors.Is(err, auth.ErrIDTaken):
		h.renderAdmin(w, r, http.StatusConflict, "User already exists")
		return
	case err != nil:
		h.serverError(w, "create user", err)
		return
	}
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (h *Handlers) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	_, err := h.app.DeleteUser(currentUser(r), r.PathValue("id"))
	switch {
	case errors.Is(err, db.ErrValidation):
		http.Error(w, "Cannot delete yourself", http.StatusBadRequest)
		return
	case errors.Is(err, app.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	case err != nil:
		h.serverError(w, "delete user", err)
		return
	}
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}
