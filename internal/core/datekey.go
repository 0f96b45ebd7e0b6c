package core

import (
	"errors"
	"time"
)

const dateKeyLayout = "20060102"

// ErrInvalidDateKey is returned for strings that are not a YYYYMMDD calendar day.
var ErrInvalidDateKey = errors.New("invalid date key")

// DateKey identifies one local calendar day as YYYYMMDD. Lexicographic order
// matches chronological order.
type DateKey string

// KeyOf normalizes t to its calendar day in loc.
func KeyOf(t time.Time, loc *time.Location) DateKey {
	if loc == nil {
		loc = time.Local
	}
	return DateKey(t.In(loc).Format(dateKeyLayout))
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// ParseDateKey validates s and returns it as a DateKey.
func ParseDateKey(s string) (DateKey, error) {
	if len(s) != len(dateKeyLayout) {
		return "", ErrInvalidDateKey
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", ErrInvalidDateKey
		}
	}
	t, err := time.Parse(dateKeyLayout, s)
	if err != nil || t.Format(dateKeyLayout) != s {
		return "", ErrInvalidDateKey
	}
	return DateKey(s), nil
}

// Time returns local midnight of the day in loc.
func (k DateKey) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(dateKeyLayout, string(k), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays shifts the key by n calendar days. Arithmetic runs in UTC so
// daylight-saving transitions never skip or repeat a day.
func (k DateKey) AddDays(n int) DateKey {
	t, err := time.Parse(dateKeyLayout, string(k))
	if err != nil {
		return k
	}
	return DateKey(t.AddDate(0, 0, n).Format(dateKeyLayout))
}

// DaysUntil returns the number of calendar days from k to other (negative if
// other is earlier).
func (k DateKey) DaysUntil(other DateKey) int {
	a, errA := time.Parse(dateKeyLayout, string(k))
	b, errB := time.Parse(dateKeyLayout, string(other))
	if errA != nil || errB != nil {
		return 0
	}
	// Unix seconds, not Duration, which saturates after ~292 years.
	return int((b.Unix() - a.Unix()) / 86400)
}

func (k DateKey) IsZero() bool {
	return k == ""
}

func (k DateKey) String() string {
	return string(k)
}
