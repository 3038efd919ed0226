package daemon

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/flightplan/internal/config"
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM". A single-digit hour is accepted.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	if hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("hour %d out of range", hour)
	}
	if minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("minute %d out of range", minute)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// String formats as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns the offset from midnight in minutes.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// Window restricts scheduled runs to a daily time range. The end is
// exclusive. A window whose end precedes its start wraps past midnight.
type Window struct {
	Start    TimeOfDay
	End      TimeOfDay
	Location *time.Location
}

// Contains reports whether t falls inside the window, evaluated in the
// window's location.
func (w *Window) Contains(t time.Time) bool {
	if w.Location != nil {
		t = t.In(w.Location)
	}
	now := t.Hour()*60 + t.Minute()
	start, end := w.Start.Minutes(), w.End.Minutes()

	if start <= end {
		return now >= start && now < end
	}
	// overnight: 22:00-06:00 covers late evening and early morning
	return now >= start || now < end
}

// newWindow builds a Window from its config form, validating both times
// and the timezone. An unset timezone means local time.
func newWindow(cfg config.WindowConfig) (*Window, error) {
	start, err := ParseTimeOfDay(cfg.Start)
	if err != nil {
		return nil, fmt.Errorf("window start: %w", err)
	}
	end, err := ParseTimeOfDay(cfg.End)
	if err != nil {
		return nil, fmt.Errorf("window end: %w", err)
	}
	loc := time.Local
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("window timezone: %w", err)
		}
	}
	return &Window{Start: start, End: end, Location: loc}, nil
}
