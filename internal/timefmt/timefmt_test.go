package timefmt

import (
	"testing"
	"time"
)

func TestMoscow(t *testing.T) {
	// 2026-01-02 12:00:00 UTC is 15:00:00 in Moscow.
	millis := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC).UnixMilli()
	got := Moscow(millis)
	if got != "02.01.2026, 15:00:00" {
		t.Fatalf("Moscow = %q", got)
	}
}

func TestMoscowOrNA(t *testing.T) {
	if got := MoscowOrNA(nil); got != "N/A" {
		t.Fatalf("expected N/A, got %q", got)
	}
	millis := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	if got := MoscowOrNA(&millis); got != "01.06.2026, 03:00:00" {
		t.Fatalf("MoscowOrNA = %q", got)
	}
}
