package money

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Day-normalized calendar date
// =============================================================================

// Date is a calendar day with no time-of-day component. Document dates,
// journal entry dates and stock move dates are all Dates; two writes on the
// same day compare equal regardless of wall-clock time.
type Date struct {
	t time.Time
}

// NewDate builds a Date for year/month/day in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf normalizes an arbitrary timestamp to its calendar day in UTC.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

// TodayIn returns the current calendar day in the given location. Used for
// the future-inventory-date check: "today" is judged in the tenant's
// configured timezone, not in UTC.
func TodayIn(loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	return NewDate(now.Year(), now.Month(), now.Day())
}

// ParseDate accepts ISO 8601 day precision ("2025-03-10") and full
// timestamps ("2025-03-10T15:04:05Z"), normalizing either to the day.
func ParseDate(s string) (Date, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return DateOf(t), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateOf(t), nil
	}
	return Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
}

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }
func (d Date) IsZero() bool       { return d.t.IsZero() }

func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Time exposes the underlying midnight-UTC instant for storage.
func (d Date) Time() time.Time { return d.t }

// String renders as YYYY-MM-DD.
func (d Date) String() string { return d.t.Format("2006-01-02") }

// MarshalJSON renders the date as a JSON string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON parses ISO day or timestamp strings.
func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
