// Package seed loads fixture data from YAML into a gateway.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/kidandcat/teamsync/internal/auth"
	"github.com/kidandcat/teamsync/internal/db"
)

//go:embed default.yaml
var defaultSeed []byte

// Today stands for the current date in any date field.
const Today = "today"

type User struct {
	ID       string  `yaml:"id"`
	Name     string  `yaml:"name"`
	Role     db.Role `yaml:"role"`
	Password string  `yaml:"password"`
}

type Folder struct {
	ID       string      `yaml:"id"`
	Name     string      `yaml:"name"`
	UserID   string      `yaml:"userId"`
	Category db.Category `yaml:"category"`
}

type Doc struct {
	ID       string      `yaml:"id"`
	Title    string      `yaml:"title"`
	Emoji    string      `yaml:"emoji"`
	Content  string      `yaml:"content"`
	AuthorID string      `yaml:"authorId"`
	Category db.Category `yaml:"category"`
	FolderID string      `yaml:"folderId"`
}

type Task struct {
	ID        string      `yaml:"id"`
	UserID    string      `yaml:"userId"`
	Title     string      `yaml:"title"`
	DueDate   string      `yaml:"dueDate"`
	Priority  db.Priority `yaml:"priority"`
	Completed bool        `yaml:"completed"`
}

type Schedule struct {
	ID          string          `yaml:"id"`
	UserID      string          `yaml:"userId"`
	Title       string          `yaml:"title"`
	Type        db.ScheduleType `yaml:"type"`
	StartDate   string          `yaml:"startDate"`
	EndDate     string          `yaml:"endDate"`
	StartTime   string          `yaml:"startTime"`
	EndTime     string          `yaml:"endTime"`
	Description string          `yaml:"description"`
}

type Fixture struct {
	Users     []User     `yaml:"users"`
	Folders   []Folder   `yaml:"folders"`
	Docs      []Doc      `yaml:"docs"`
	Tasks     []Task     `yaml:"tasks"`
	Schedules []Schedule `yaml:"schedules"`
}

func Parse(r io.Reader) (Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return Fixture{}, fmt.Errorf("parse seed: %w", err)
	}
	return fx, nil
}

// Default is the built-in demo workspace.
func Default() Fixture {
	var fx Fixture
	if err := yaml.Unmarshal(defaultSeed, &fx); err != nil {
		panic(fmt.Sprintf("seed: bad default.yaml: %v", err))
	}
	return fx
}

// FromFile parses path, or returns Default when path is empty.
func FromFile(path string) (Fixture, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Result counts what Apply wrote.
type Result struct {
	Users, Folders, Docs, Tasks, Schedules int
}

func day(s string, now time.Time) (db.Day, error) {
	if s == Today {
		return db.DayOf(now), nil
	}
	return db.ParseDay(s)
}

// Apply writes fx through gw. Records whose id already exists are left
// alone, so seeding twice is harmless.
func Apply(ctx context.Context, gw *db.Gateway, fx Fixture, now time.Time, log zerolog.Logger) (Result, error) {
	var res Result
	now = now.UTC()

	names := make(map[string]string, len(fx.Users))
	for _, u := range fx.Users {
		names[u.ID] = u.Name
		user, err := auth.NewUser(u.ID, u.Name, u.Password, u.Role)
		if err != nil {
			return res, fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		if ok, err := create(ctx, gw.Users, user); err != nil {
			return res, err
		} else if ok {
			res.Users++
		}
	}

	for _, f := range fx.Folders {
		ok, err := create(ctx, gw.Folders, db.Folder{
			ID: f.ID, Name: f.Name, UserID: f.UserID, Category: f.Category.OrDefault(), CreatedAt: now,
		})
		if err != nil {
			return res, err
		}
		if ok {
			res.Folders++
		}
	}

	for _, d := range fx.Docs {
		doc := db.Document{
			ID: d.ID, Title: d.Title, Emoji: d.Emoji, Content: d.Content,
			AuthorID: d.AuthorID, AuthorName: names[d.AuthorID],
			Category: d.Category.OrDefault(), CreatedAt: now, UpdatedAt: now,
		}
		if d.FolderID != "" {
			doc.FolderID = &d.FolderID
		}
		ok, err := create(ctx, gw.Docs, doc)
		if err != nil {
			return res, err
		}
		if ok {
			res.Docs++
		}
	}

	for _, t := range fx.Tasks {
		due, err := day(t.DueDate, now)
		if err != nil {
			return res, fmt.Errorf("seed task %s: %w", t.ID, err)
		}
		ok, err := create(ctx, gw.Tasks, db.Task{
			ID: t.ID, UserID: t.UserID, Title: t.Title, DueDate: due, Priority: t.Priority,
			Completed: t.Completed, HasLoggedCompletion: t.Completed,
		})
		if err != nil {
			return res, err
		}
		if ok {
			res.Tasks++
		}
	}

	for _, s := range fx.Schedules {
		ev := db.ScheduleEvent{
			ID: s.ID, UserID: s.UserID, UserName: names[s.UserID], Title: s.Title, Type: s.Type,
			StartTime: s.StartTime, EndTime: s.EndTime, Description: s.Description,
		}
		var err error
		if ev.StartDate, err = day(s.StartDate, now); err != nil {
			return res, fmt.Errorf("seed schedule %s: %w", s.ID, err)
		}
		if ev.EndDate, err = day(s.EndDate, now); err != nil {
			return res, fmt.Errorf("seed schedule %s: %w", s.ID, err)
		}
		if err := ev.Validate(); err != nil {
			return res, fmt.Errorf("seed schedule %s: %w", s.ID, err)
		}
		ok, err := create(ctx, gw.Schedules, ev)
		if err != nil {
			return res, err
		}
		if ok {
			res.Schedules++
		}
	}

	log.Info().
		Int("users", res.Users).
		Int("folders", res.Folders).
		Int("docs", res.Docs).
		Int("tasks", res.Tasks).
		Int("schedules", res.Schedules).
		Msg("seed applied")
	return res, nil
}

func create[T db.Entity](ctx context.Context, c db.Collection[T], v T) (bool, error) {
	if _, err := c.Create(ctx, v); err != nil {
		if errors.Is(err, db.ErrExists) {
			return false, nil
		}
		return false, fmt.Errorf("seed %s: %w", v.EntityID(), err)
	}
	return true, nil
}
