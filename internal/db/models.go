package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entity is anything stored in a Collection.
type Entity interface {
	EntityID() string
}

// Category is the visibility partition of documents and folders.
type Category string

const (
	CategoryPersonal Category = "Personal"
	CategoryTeam     Category = "Team"
)

// OrDefault returns c, or CategoryPersonal when c is absent. Records written
// before categories existed carry no category and are personal.
func (c Category) OrDefault() Category {
	if c == "" {
		return CategoryPersonal
	}
	return c
}

func (c Category) Valid() bool {
	switch c.OrDefault() {
	case CategoryPersonal, CategoryTeam:
		return true
	}
	return false
}

// Toggle returns the other category.
func (c Category) Toggle() Category {
	if c.OrDefault() == CategoryPersonal {
		return CategoryTeam
	}
	return CategoryPersonal
}

type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

type Role string

const (
	RoleAdmin  Role = "Admin"
	RoleMember Role = "Member"
)

type ScheduleType string

const (
	ScheduleMeeting      ScheduleType = "meeting"
	ScheduleBusinessTrip ScheduleType = "business-trip"
	ScheduleVacation     ScheduleType = "vacation"
	ScheduleRemote       ScheduleType = "remote"
	SchedulePersonal     ScheduleType = "personal"
)

func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleMeeting, ScheduleBusinessTrip, ScheduleVacation, ScheduleRemote, SchedulePersonal:
		return true
	}
	return false
}

// Day is a calendar date in YYYY-MM-DD form. The fixed-width form orders
// lexically the same as chronologically.
type Day string

const dayLayout = "2006-01-02"

func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return "", &ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not YYYY-MM-DD", s)}
	}
	return Day(t.Format(dayLayout)), nil
}

func DayOf(t time.Time) Day {
	return Day(t.Format(dayLayout))
}

func (d Day) Time() (time.Time, error) {
	return time.Parse(dayLayout, string(d))
}

// Within reports whether d falls in [start, end], both ends inclusive.
func (d Day) Within(start, end Day) bool {
	return start <= d && d <= end
}

type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         Role   `json:"role"`
	PasswordHash string `json:"-" cbor:"passwordHash,omitempty"`
}

func (u User) EntityID() string { return u.ID }

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s Session) EntityID() string { return s.ID }

type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	Category  Category  `json:"category,omitempty"`
}

func (f Folder) EntityID() string { return f.ID }

// Visibility is the folder's category with the absent-means-personal rule applied.
func (f Folder) Visibility() Category { return f.Category.OrDefault() }

type Document struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Emoji      string    `json:"emoji,omitempty"`
	Category   Category  `json:"category"`
	FolderID   *string   `json:"folderId,omitempty"` // nil = category root
}

func (d Document) EntityID() string { return d.ID }

func (d Document) Visibility() Category { return d.Category.OrDefault() }

// Folder returns the folder the document sits in, if any.
func (d Document) Folder() (string, bool) {
	if d.FolderID == nil || *d.FolderID == "" {
		return "", false
	}
	return *d.FolderID, true
}

// InFolder reports whether the document currently references folderID.
func (d Document) InFolder(folderID string) bool {
	id, ok := d.Folder()
	return ok && id == folderID
}

type Task struct {
	ID                  string   `json:"id"`
	UserID              string   `json:"userId"`
	Title               string   `json:"title"`
	DueDate             Day      `json:"dueDate"`
	Completed           bool     `json:"completed"`
	Priority            Priority `json:"priority"`
	HasLoggedCompletion bool     `json:"hasLoggedCompletion"`
}

func (t Task) EntityID() string { return t.ID }

type Activity struct {
	ID     string    `json:"id"`
	User   string    `json:"user"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Time   time.Time `json:"time"`
}

func (a Activity) EntityID() string { return a.ID }

type ScheduleEvent struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId"`
	UserName    string       `json:"userName"`
	Title       string       `json:"title"`
	Type        ScheduleType `json:"type"`
	StartDate   Day          `json:"startDate"`
	EndDate     Day          `json:"endDate"`
	StartTime   string       `json:"startTime,omitempty"`
	EndTime     string       `json:"endTime,omitempty"`
	Description string       `json:"description"`
}

func (e ScheduleEvent) EntityID() string { return e.ID }

// Covers reports whether the event spans day.
func (e ScheduleEvent) Covers(day Day) bool {
	return day.Within(e.StartDate, e.EndDate)
}

// NewID returns a fresh client-side identifier.
func NewID() string {
	return uuid.NewString()
}

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RequireName trims s and rejects it when nothing is left.
func RequireName(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ValidationError{Field: field, Reason: "must not be empty"}
	}
	return s, nil
}

func (e ScheduleEvent) Validate() error {
	if _, err := RequireName("title", e.Title); err != nil {
		return err
	}
	if _, err := ParseDay(string(e.StartDate)); err != nil {
		return err
	}
	if _, err := ParseDay(string(e.EndDate)); err != nil {
		return err
	}
	if e.EndDate < e.StartDate {
		return &ValidationError{Field: "endDate", Reason: "before startDate"}
	}
	if e.Type != "" && !e.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", e.Type)}
	}
	return nil
}
