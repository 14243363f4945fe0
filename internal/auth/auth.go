package auth

import (
	"context"
	"net/http"

	"github.com/kidandcat/teamsync/internal/db"
)

const sessionCookie = "teamsync_session"

// CurrentUser resolves the session cookie on r.
func (m *Manager) CurrentUser(r *http.Request) *db.User {
	token := SessionToken(r)
	if token == "" {
		return nil
	}
	user, err := m.UserForToken(r.Context(), token)
	if err != nil {
		return nil
	}
	return &user
}

func SessionToken(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   sessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// LogoutRequest ends the session carried by r and clears its cookie.
func (m *Manager) LogoutRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if token := SessionToken(r); token != "" {
		if err := m.Logout(ctx, token); err != nil {
			m.log.Error().Err(err).Msg("error deleting session")
		}
	}
	ClearSessionCookie(w)
}
