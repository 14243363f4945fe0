// Package schedule answers calendar questions over schedule events.
package schedule

import (
	"slices"
	"strings"
	"time"

	"github.com/kidandcat/teamsync/internal/db"
)

// Agenda returns the events spanning day, ordered by start time with
// all-day events first.
func Agenda(events []db.ScheduleEvent, day db.Day) []db.ScheduleEvent {
	var out []db.ScheduleEvent
	for _, e := range events {
		if e.Covers(day) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b db.ScheduleEvent) int {
		return strings.Compare(a.StartTime, b.StartTime)
	})
	return out
}

// ForUserOn returns userID's events spanning day.
func ForUserOn(events []db.ScheduleEvent, userID string, day db.Day) []db.ScheduleEvent {
	var mine []db.ScheduleEvent
	for _, e := range events {
		if e.UserID == userID {
			mine = append(mine, e)
		}
	}
	return Agenda(mine, day)
}

// Month is a calendar grid page.
type Month struct {
	Year  int
	Month time.Month
	// Lead is the number of blank cells before the 1st, weeks starting Sunday.
	Lead int
	Days []db.Day
}

func MonthDays(year int, month time.Month) Month {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	n := first.AddDate(0, 1, -1).Day()

	m := Month{Year: year, Month: month, Lead: int(first.Weekday()), Days: make([]db.Day, 0, n)}
	for d := 0; d < n; d++ {
		m.Days = append(m.Days, db.DayOf(first.AddDate(0, 0, d)))
	}
	return m
}

// Busy maps each day of m to the events covering it.
func (m Month) Busy(events []db.ScheduleEvent) map[db.Day][]db.ScheduleEvent {
	busy := make(map[db.Day][]db.ScheduleEvent)
	for _, day := range m.Days {
		if on := Agenda(events, day); len(on) > 0 {
			busy[day] = on
		}
	}
	return busy
}
