package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestModels_IsExpired(t *testing.T) {
	today := time.Date(2025, time.November, 20, 0, 0, 0, 0, time.Local)
	tcs := []struct {
		name      string
		expiresAt string
		now       time.Time
		expired   bool
	}{
		{
			name:      "SameDayJustBeforeMidnight",
			expiresAt: "2025-11-20",
			now:       today.Add(23*time.Hour + 59*time.Minute + 59*time.Second),
			expired:   false,
		},
		{
			name:      "NextDayJustAfterMidnight",
			expiresAt: "2025-11-20",
			now:       today.Add(24*time.Hour + time.Second),
			expired:   true,
		},
		{
			name:      "LastMillisecondOfDay",
			expiresAt: "2025-11-20",
			now:       today.Add(24*time.Hour - time.Millisecond),
			expired:   false,
		},
		{
			name:      "FutureDate",
			expiresAt: "2025-12-01",
			now:       today,
			expired:   false,
		},
		{
			name:      "PastDate",
			expiresAt: "2025-01-01",
			now:       today,
			expired:   true,
		},
		{
			name:      "TimestampUsesItsCalendarDay",
			expiresAt: "2025-11-19T08:00:00",
			now:       today.Add(time.Hour),
			expired:   true,
		},
		{
			name:      "Unparseable",
			expiresAt: "next tuesday",
			now:       today,
			expired:   false,
		},
		{
			name:      "Empty",
			expiresAt: "",
			now:       today.AddDate(10, 0, 0),
			expired:   false,
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expired, IsExpired(c.expiresAt, c.now), "unexpected expiry status")
		})
	}
}

func TestModels_PinExpired(t *testing.T) {
	p := Pin{ID: "abc", Title: "Laternenmast 3", ExpiresAt: "2025-12-01"}
	assert.False(t, p.Expired(time.Date(2025, time.December, 1, 23, 0, 0, 0, time.Local)))
	assert.True(t, p.Expired(time.Date(2025, time.December, 2, 0, 0, 1, 0, time.Local)))
}

func TestModels_ParseDate(t *testing.T) {
	tcs := []struct {
		in string
		ok bool
	}{
		{in: "2025-11-20", ok: true},
		{in: "2025-11-20T10:00:00Z", ok: true},
		{in: "2025-11-20T10:00:00.123456+01:00", ok: true},
		{in: "2025-11-20 10:00:00.123456+00", ok: true},
		{in: "2025-11-20 10:00:00+00:00", ok: true},
		{in: "20.11.2025", ok: false},
		{in: "", ok: false},
	}
	for _, c := range tcs {
		_, ok := ParseDate(c.in)
		assert.Equal(t, c.ok, ok, "unexpected parse result for %q", c.in)
	}
}
