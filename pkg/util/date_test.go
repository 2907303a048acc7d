package util

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2025-08-28")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(time.Date(2025, 8, 28, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", got)
	}
	if FormatDate(got) != "2025-08-28" {
		t.Fatalf("unexpected format %s", FormatDate(got))
	}
}

func TestParseDateRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "2025/08/28", "2025-13-01", "2025-02-30", "28-08-2025"} {
		if _, err := ParseDate(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestStartOfDayAndAddDays(t *testing.T) {
	ts := time.Date(2025, 8, 28, 17, 45, 0, 0, time.UTC)
	d := StartOfDay(ts)
	if d.Hour() != 0 || d.Day() != 28 {
		t.Fatalf("unexpected start of day %v", d)
	}
	if FormatDate(AddDays(d, 7)) != "2025-09-04" {
		t.Fatalf("unexpected add days %v", AddDays(d, 7))
	}
}
