package models

import (
	"time"
)

/*
 Application layer data models.
*/

// Pin is one poster placement on the map.
type Pin struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	CreatedAt   time.Time `json:"createdAt"`
	// ExpiresAt is the calendar date by which the poster is due for removal; empty when unknown
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// Expired tells whether the pin is overdue for removal at the given instant
func (p *Pin) Expired(now time.Time) bool {
	return IsExpired(p.ExpiresAt, now)
}

// PinInput is the user submitted data to create a pin from
type PinInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	ExpiresAt   string  `json:"expiresAt,omitempty"`
}

// Layouts accepted for calendar dates and timestamps, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
}

// ParseDate parses s as either a calendar date or a timestamp. Calendar dates and timestamps without
// zone are read in local time.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsExpired reports whether now is strictly later than the end (23:59:59.999 local time) of the calendar
// day expiresAt falls on. An unparseable expiresAt is never expired.
func IsExpired(expiresAt string, now time.Time) bool {
	t, ok := ParseDate(expiresAt)
	if !ok {
		return false
	}
	t = t.In(time.Local)
	endOfDay := time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), time.Local)
	return now.After(endOfDay)
}
