package calendar

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestDaysBetween(t *testing.T) {
	cal := New()
	tests := []struct {
		from, to string
		want     int
	}{
		// 2026-01-05 is a Monday
		{"2026-01-05", "2026-01-05", 0},
		{"2026-01-05", "2026-01-06", 1},
		{"2026-01-05", "2026-01-09", 4},  // Tue..Fri
		{"2026-01-05", "2026-01-12", 5},  // next Monday, weekend skipped
		{"2026-01-09", "2026-01-12", 1},  // Fri -> Mon
		{"2026-01-12", "2026-01-05", 0},  // reversed range
		{"2026-01-03", "2026-01-04", 0},  // Sat -> Sun
	}
	for _, tt := range tests {
		got := cal.DaysBetween(date(tt.from), date(tt.to))
		if got != tt.want {
			t.Errorf("DaysBetween(%s, %s) = %d, want %d", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDaysBetweenWithHolidays(t *testing.T) {
	cal := New()
	cal.holidays["2026-01-07"] = struct{}{} // Wednesday

	if got := cal.DaysBetween(date("2026-01-05"), date("2026-01-09")); got != 3 {
		t.Errorf("DaysBetween over holiday = %d, want 3", got)
	}
	if cal.IsLegalDay(date("2026-01-07")) {
		t.Error("holiday counted as legal day")
	}
}

func TestAddDays(t *testing.T) {
	cal := New()
	tests := []struct {
		from string
		n    int
		want string
	}{
		{"2026-01-05", 1, "2026-01-06"},
		{"2026-01-09", 1, "2026-01-12"}, // Friday + 1 -> Monday
		{"2026-01-05", 5, "2026-01-12"},
		{"2026-03-01", 30, "2026-04-10"}, // Sunday start, 30 legal days
	}
	for _, tt := range tests {
		got := cal.AddDays(date(tt.from), tt.n)
		if got.Format("2006-01-02") != tt.want {
			t.Errorf("AddDays(%s, %d) = %s, want %s", tt.from, tt.n, got.Format("2006-01-02"), tt.want)
		}
	}
}

func TestAddDaysRoundTrip(t *testing.T) {
	cal := New()
	from := date("2026-01-05")
	to := cal.AddDays(from, 30)
	if got := cal.DaysBetween(from, to); got != 30 {
		t.Errorf("DaysBetween(from, AddDays(from, 30)) = %d, want 30", got)
	}
}

func TestDaysBetweenMonotonic(t *testing.T) {
	cal := New()
	from := date("2026-01-05")
	prev := 0
	for d := from; d.Before(date("2026-03-01")); d = d.AddDate(0, 0, 1) {
		got := cal.DaysBetween(from, d)
		if got < prev {
			t.Fatalf("DaysBetween not monotonic at %s: %d < %d", d.Format("2006-01-02"), got, prev)
		}
		prev = got
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "holidays.yaml")
	content := "holidays:\n  - 2026-01-01\n  - 2026-05-01\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cal, err := Load(file)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cal.IsLegalDay(date("2026-01-01")) {
		t.Error("2026-01-01 should be a holiday")
	}
	if !cal.IsLegalDay(date("2026-01-02")) {
		t.Error("2026-01-02 should be a legal day")
	}
}

func TestLoadBadHoliday(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "holidays.yaml")
	if err := os.WriteFile(file, []byte("holidays:\n  - not-a-date\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(file); err == nil {
		t.Error("expected error for malformed holiday date")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cal, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if !cal.IsLegalDay(date("2026-01-05")) {
		t.Error("weekends-only calendar should accept a Monday")
	}
}
