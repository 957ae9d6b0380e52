package domain

import (
	"testing"
	"time"
)

func TestIsDue(t *testing.T) {
	entered := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		now        time.Time
		delayHours int
		want       bool
	}{
		{"one minute short", entered.Add(5*time.Hour - time.Minute), 5, false},
		{"exactly at delay", entered.Add(5 * time.Hour), 5, true},
		{"past delay", entered.Add(6 * time.Hour), 5, true},
		{"well before", entered.Add(4 * time.Hour), 5, false},
		{"one hour delay boundary", entered.Add(time.Hour), 1, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDue(tc.now, entered, tc.delayHours); got != tc.want {
				t.Errorf("IsDue(%v, %v, %d) = %v, want %v", tc.now, entered, tc.delayHours, got, tc.want)
			}
		})
	}
}

func TestHoursWaitingFloors(t *testing.T) {
	entered := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 0},
		{59 * time.Minute, 0},
		{60 * time.Minute, 1},
		{119 * time.Minute, 1},
		{5*time.Hour + 59*time.Minute, 5},
		{-time.Hour, 0},
	}

	for _, tc := range cases {
		if got := HoursWaiting(entered.Add(tc.elapsed), entered); got != tc.want {
			t.Errorf("HoursWaiting(+%v) = %d, want %d", tc.elapsed, got, tc.want)
		}
	}
}

func TestRenderMessage(t *testing.T) {
	got := RenderMessage("Hey {{handle}}, still in {{state}} after {{hours}}h?", "@lena", "responded", 6)
	want := "Hey @lena, still in responded after 6h?"
	if got != want {
		t.Errorf("RenderMessage = %q, want %q", got, want)
	}

	unchanged := RenderMessage("no placeholders here", "@x", "s", 1)
	if unchanged != "no placeholders here" {
		t.Errorf("RenderMessage altered plain text: %q", unchanged)
	}

	unknown := RenderMessage("{{handle}} {{unknown}}", "@x", "s", 1)
	if unknown != "@x {{unknown}}" {
		t.Errorf("RenderMessage unknown placeholder = %q", unknown)
	}
}
