// Package auth manages members, passwords and login sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/kidandcat/teamsync/internal/db"
)

const (
	MinPasswordLen = 6
	SessionTTL     = 30 * 24 * time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid id or password")
	ErrNoSession          = errors.New("no session")
	ErrIDTaken            = errors.New("id already in use")
)

// Change is delivered to observers after a profile update. OldID differs
// from User.ID when the member changed their id.
type Change struct {
	OldID string
	User  db.User
}

func (c Change) IDChanged() bool { return c.OldID != c.User.ID }

type Manager struct {
	gw  *db.Gateway
	log zerolog.Logger
	now func() time.Time

	mu        sync.Mutex
	observers []func(Change)
}

func NewManager(gw *db.Gateway, log zerolog.Logger) *Manager {
	return &Manager{
		gw:  gw,
		log: log.With().Str("component", "auth").Logger(),
		now: time.Now,
	}
}

// OnUserChanged registers fn to run after every successful UpdateProfile.
func (m *Manager) OnUserChanged(fn func(Change)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Manager) notify(c Change) {
	m.mu.Lock()
	obs := slices.Clone(m.observers)
	m.mu.Unlock()
	for _, fn := range obs {
		fn(c)
	}
}

func checkPassword(p string) error {
	if len(p) < MinPasswordLen {
		return &db.ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", MinPasswordLen)}
	}
	return nil
}

func hashPassword(p string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// User looks a member up by id.
func (m *Manager) User(ctx context.Context, id string) (db.User, error) {
	users, err := m.gw.Users.List(ctx)
	if err != nil {
		return db.User{}, err
	}
	for _, u := range users {
		if u.ID == id {
			return u, nil
		}
	}
	return db.User{}, fmt.Errorf("user %s: %w", id, db.ErrNotFound)
}

// NewUser validates and hashes a member without storing it.
func NewUser(id, name, password string, role db.Role) (db.User, error) {
	id, err := db.RequireName("id", id)
	if err != nil {
		return db.User{}, err
	}
	name, err = db.RequireName("name", name)
	if err != nil {
		return db.User{}, err
	}
	if err := checkPassword(password); err != nil {
		return db.User{}, err
	}
	if role == "" {
		role = db.RoleMember
	}
	hash, err := hashPassword(password)
	if err != nil {
		return db.User{}, err
	}
	return db.User{ID: id, Name: name, Role: role, PasswordHash: hash}, nil
}

// Register stores a new member.
func (m *Manager) Register(ctx context.Context, id, name, password string, role db.Role) (db.User, error) {
	u, err := NewUser(id, name, password, role)
	if err != nil {
		return db.User{}, err
	}
	if _, err := m.gw.Users.Create(ctx, u); err != nil {
		if errors.Is(err, db.ErrExists) {
			return db.User{}, fmt.Errorf("register %s: %w", id, ErrIDTaken)
		}
		return db.User{}, fmt.Errorf("register %s: %w", id, err)
	}
	m.log.Info().Str("user", u.ID).Str("role", string(u.Role)).Msg("user registered")
	return u, nil
}

// Login checks the password and opens a session.
func (m *Manager) Login(ctx context.Context, id, password string) (db.User, string, error) {
	u, err := m.User(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return db.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return db.User{}, "", err
	}
	if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return db.User{}, "", ErrInvalidCredentials
	}

	s := db.Session{ID: uuid.NewString(), UserID: u.ID, ExpiresAt: m.now().Add(SessionTTL).UTC()}
	if _, err := m.gw.Sessions.Create(ctx, s); err != nil {
		return db.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return u, s.ID, nil
}

func (m *Manager) Logout(ctx context.Context, token string) error {
	return m.gw.Sessions.Delete(ctx, token)
}

func (m *Manager) UserForToken(ctx context.Context, token string) (db.User, error) {
	sessions, err := m.gw.Sessions.List(ctx)
	if err != nil {
		return db.User{}, err
	}
	i := slices.IndexFunc(sessions, func(s db.Session) bool { return s.ID == token })
	if i < 0 {
		return db.User{}, ErrNoSession
	}
	if m.now().After(sessions[i].ExpiresAt) {
		if err := m.gw.Sessions.Delete(ctx, token); err != nil {
			m.log.Warn().Err(err).Msg("error deleting expired session")
		}
		return db.User{}, ErrNoSession
	}
	u, err := m.User(ctx, sessions[i].UserID)
	if errors.Is(err, db.ErrNotFound) {
		return db.User{}, ErrNoSession
	}
	return u, err
}

// Profile holds the fields a member may change about themselves. Empty
// fields are kept.
type Profile struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password,omitempty"`
}

// UpdateProfile applies p to member id. A new id is carried over to every
// document, folder, task, schedule and session the member owns.
func (m *Manager) UpdateProfile(ctx context.Context, id string, p Profile) (db.User, error) {
	u, err := m.User(ctx, id)
	if err != nil {
		return db.User{}, err
	}

	next := u
	if p.Name != "" {
		if next.Name, err = db.RequireName("name", p.Name); err != nil {
			return db.User{}, err
		}
	}
	if p.Password != "" {
		if err := checkPassword(p.Password); err != nil {
			return db.User{}, err
		}
		if next.PasswordHash, err = hashPassword(p.Password); err != nil {
			return db.User{}, err
		}
	}
	if p.ID != "" && p.ID != id {
		if next.ID, err = db.RequireName("id", p.ID); err != nil {
			return db.User{}, err
		}
	}

	if next.ID == id {
		if err := m.gw.Users.Update(ctx, next); err != nil {
			return db.User{}, fmt.Errorf("update user %s: %w", id, err)
		}
	} else if err := m.migrate(ctx, u, next); err != nil {
		return db.User{}, err
	}

	m.log.Info().Str("user", next.ID).Str("old_id", id).Msg("profile updated")
	m.notify(Change{OldID: id, User: next})
	return next, nil
}

// migrate moves everything owned by from over to to. The new user record
// is written first and the old one removed last, so a failure part way
// leaves both ids able to log in.
func (m *Manager) migrate(ctx context.Context, from, to db.User) error {
	if _, err := m.gw.Users.Create(ctx, to); err != nil {
		if errors.Is(err, db.ErrExists) {
			return fmt.Errorf("change id to %s: %w", to.ID, ErrIDTaken)
		}
		return fmt.Errorf("change id to %s: %w", to.ID, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rewrite(gctx, m.gw.Docs, func(d *db.Document) bool {
			if d.AuthorID != from.ID {
				return false
			}
			d.AuthorID, d.AuthorName = to.ID, to.Name
			return true
		})
	})
	g.Go(func() error {
		return rewrite(gctx, m.gw.Folders, func(f *db.Folder) bool {
			if f.UserID != from.ID {
				return false
			}
			f.UserID = to.ID
			return true
		})
	})
	g.Go(func() error {
		return rewrite(gctx, m.gw.Tasks, func(t *db.Task) bool {
			if t.UserID != from.ID {
				return false
			}
			t.UserID = to.ID
			return true
		})
	})
	g.Go(func() error {
		return rewrite(gctx, m.gw.Schedules, func(e *db.ScheduleEvent) bool {
			if e.UserID != from.ID {
				return false
			}
			e.UserID, e.UserName = to.ID, to.Name
			return true
		})
	})
	g.Go(func() error {
		return rewrite(gctx, m.gw.Sessions, func(s *db.Session) bool {
			if s.UserID != from.ID {
				return false
			}
			s.UserID = to.ID
			return true
		})
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("migrate %s to %s: %w", from.ID, to.ID, err)
	}

	if err := m.gw.Users.Delete(ctx, from.ID); err != nil {
		return fmt.Errorf("delete old user %s: %w", from.ID, err)
	}
	return nil
}

func rewrite[T db.Entity](ctx context.Context, c db.Collection[T], edit func(*T) bool) error {
	items, err := c.List(ctx)
	if err != nil {
		return err
	}
	for _, v := range items {
		if !edit(&v) {
			continue
		}
		if err := c.Update(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// EnsureAdmins promotes the listed members to admin. Unknown ids are
// skipped with a warning.
func (m *Manager) EnsureAdmins(ctx context.Context, ids []string) error {
	for _, id := range ids {
		u, err := m.User(ctx, id)
		if errors.Is(err, db.ErrNotFound) {
			m.log.Warn().Str("user", id).Msg("configured admin does not exist")
			continue
		}
		if err != nil {
			return err
		}
		if u.IsAdmin() {
			continue
		}
		u.Role = db.RoleAdmin
		if err := m.gw.Users.Update(ctx, u); err != nil {
			return fmt.Errorf("promote %s: %w", id, err)
		}
		m.log.Info().Str("user", id).Msg("promoted to admin")
	}
	return nil
}
