package daemon

import (
	"testing"
	"time"

	"github.com/marcus/flightplan/internal/config"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    TimeOfDay
		wantErr bool
	}{
		{"valid morning", "09:30", TimeOfDay{9, 30}, false},
		{"valid evening", "22:00", TimeOfDay{22, 0}, false},
		{"midnight", "00:00", TimeOfDay{0, 0}, false},
		{"end of day", "23:59", TimeOfDay{23, 59}, false},
		{"single digit hour", "9:30", TimeOfDay{9, 30}, false},
		{"invalid hour", "25:00", TimeOfDay{}, true},
		{"invalid minute", "12:60", TimeOfDay{}, true},
		{"no colon", "0930", TimeOfDay{}, true},
		{"empty", "", TimeOfDay{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseTimeOfDay(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseTimeOfDay(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTimeOfDay_String(t *testing.T) {
	tests := []struct {
		tod  TimeOfDay
		want string
	}{
		{TimeOfDay{9, 30}, "09:30"},
		{TimeOfDay{22, 0}, "22:00"},
		{TimeOfDay{0, 0}, "00:00"},
	}

	for _, tt := range tests {
		if got := tt.tod.String(); got != tt.want {
			t.Errorf("TimeOfDay(%v).String() = %q, want %q", tt.tod, got, tt.want)
		}
	}
}

func TestTimeOfDay_Minutes(t *testing.T) {
	tests := []struct {
		tod  TimeOfDay
		want int
	}{
		{TimeOfDay{0, 0}, 0},
		{TimeOfDay{1, 30}, 90},
		{TimeOfDay{22, 0}, 1320},
		{TimeOfDay{23, 59}, 1439},
	}

	for _, tt := range tests {
		if got := tt.tod.Minutes(); got != tt.want {
			t.Errorf("TimeOfDay(%v).Minutes() = %d, want %d", tt.tod, got, tt.want)
		}
	}
}

func TestWindow_Contains(t *testing.T) {
	loc := time.UTC

	tests := []struct {
		name   string
		window Window
		time   time.Time
		want   bool
	}{
		{
			name:   "normal window - inside",
			window: Window{Start: TimeOfDay{9, 0}, End: TimeOfDay{17, 0}, Location: loc},
			time:   time.Date(2026, 8, 25, 12, 0, 0, 0, loc),
			want:   true,
		},
		{
			name:   "normal window - at start",
			window: Window{Start: TimeOfDay{9, 0}, End: TimeOfDay{17, 0}, Location: loc},
			time:   time.Date(2026, 8, 25, 9, 0, 0, 0, loc),
			want:   true,
		},
		{
			name:   "normal window - at end",
			window: Window{Start: TimeOfDay{9, 0}, End: TimeOfDay{17, 0}, Location: loc},
			time:   time.Date(2026, 8, 25, 17, 0, 0, 0, loc),
			want:   false, // end is exclusive
		},
		{
			name:   "normal window - before",
			window: Window{Start: TimeOfDay{9, 0}, End: TimeOfDay{17, 0}, Location: loc},
			time:   time.Date(2026, 8, 25, 8, 0, 0, 0, loc),
			want:   false,
		},
		{
			name:   "overnight window - late evening",
			window: Window{Start: TimeOfDay{22, 0}, End: TimeOfDay{6, 0}, Location: loc},
			time:   time.Date(2026, 8, 25, 23, 0, 0, 0, loc),
			want:   true,
		},
		{
			name:   "overnight window - early morning",
			window: Window{Start: TimeOfDay{22, 0}, End: TimeOfDay{6, 0}, Location: loc},
			time:   time.Date(2026, 8, 25, 3, 0, 0, 0, loc),
			want:   true,
		},
		{
			name:   "overnight window - at start",
			window: Window{Start: TimeOfDay{22, 0}, End: TimeOfDay{6, 0}, Location: loc},
			time:   time.Date(2026, 8, 25, 22, 0, 0, 0, loc),
			want:   true,
		},
		{
			name:   "overnight window - at end",
			window: Window{Start: TimeOfDay{22, 0}, End: TimeOfDay{6, 0}, Location: loc},
			time:   time.Date(2026, 8, 25, 6, 0, 0, 0, loc),
			want:   false, // end is exclusive
		},
		{
			name:   "overnight window - afternoon outside",
			window: Window{Start: TimeOfDay{22, 0}, End: TimeOfDay{6, 0}, Location: loc},
			time:   time.Date(2026, 8, 25, 12, 0, 0, 0, loc),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.window.Contains(tt.time); got != tt.want {
				t.Errorf("Window.Contains(%v) = %v, want %v", tt.time, got, tt.want)
			}
		})
	}
}

func TestNewWindow(t *testing.T) {
	w, err := newWindow(config.WindowConfig{Start: "22:00", End: "06:00", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("newWindow() error = %v", err)
	}
	if w.Start != (TimeOfDay{22, 0}) || w.End != (TimeOfDay{6, 0}) {
		t.Errorf("window = %v-%v, want 22:00-06:00", w.Start, w.End)
	}
	if w.Location != time.UTC {
		t.Errorf("location = %v, want UTC", w.Location)
	}

	// no timezone falls back to local time
	w, err = newWindow(config.WindowConfig{Start: "09:00", End: "17:00"})
	if err != nil {
		t.Fatalf("newWindow() error = %v", err)
	}
	if w.Location != time.Local {
		t.Errorf("location = %v, want local", w.Location)
	}
}

func TestNewWindow_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.WindowConfig
	}{
		{"invalid start", config.WindowConfig{Start: "25:00", End: "06:00"}},
		{"invalid end", config.WindowConfig{Start: "22:00", End: "invalid"}},
		{"invalid timezone", config.WindowConfig{Start: "22:00", End: "06:00", Timezone: "Fake/Zone"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newWindow(tt.cfg); err == nil {
				t.Error("newWindow() expected error")
			}
		})
	}
}
