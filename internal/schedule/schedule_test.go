package schedule

import (
	"testing"
	"time"
)

func TestNextCandleClose(t *testing.T) {
	bar := 4 * time.Hour

	// Mid-bar: next boundary is the bar's close.
	now := time.Date(2026, 3, 1, 9, 17, 33, 0, time.UTC)
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := NextCandleClose(now, bar); !got.Equal(want) {
		t.Errorf("NextCandleClose(%v) = %v, want %v", now, got, want)
	}

	// Exactly on a boundary: the NEXT close, strictly after now.
	now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want = time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC)
	if got := NextCandleClose(now, bar); !got.Equal(want) {
		t.Errorf("NextCandleClose(boundary) = %v, want %v", got, want)
	}
}

func TestNextTick(t *testing.T) {
	bar := 4 * time.Hour
	buffer := 30 * time.Second

	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			"mid bar",
			time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC),
		},
		{
			// Started between a close and close+buffer: that bar's tick
			// has not fired yet and must still be caught.
			"inside the buffer window",
			time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC),
			time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC),
		},
		{
			"exactly at a tick",
			time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC),
			time.Date(2026, 3, 1, 16, 0, 30, 0, time.UTC),
		},
		{
			"just past a tick",
			time.Date(2026, 3, 1, 12, 0, 31, 0, time.UTC),
			time.Date(2026, 3, 1, 16, 0, 30, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextTick(tc.now, bar, buffer); !got.Equal(tc.want) {
				t.Errorf("NextTick(%v) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestTimeUntilTick(t *testing.T) {
	now := time.Date(2026, 3, 1, 11, 59, 30, 0, time.UTC)
	got := TimeUntilTick(now, 4*time.Hour, 30*time.Second)
	if got != time.Minute {
		t.Errorf("TimeUntilTick = %v, want 1m", got)
	}
}
