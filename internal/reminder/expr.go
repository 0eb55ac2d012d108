package reminder

import (
	"fmt"
	"strings"
	"time"
)

// Expression is a one-shot schedule: fire exactly once at a UTC minute.
//
// The string form is "M H DOM MON DOW YEAR" with DOW fixed to "*". No
// timezone is carried in the expression; the registering backend must
// interpret the fields as UTC. Precision is whole minutes.
type Expression struct {
	Minute int
	Hour   int
	Day    int
	Month  time.Month
	Year   int
}

// RenderOnce renders t into a one-shot expression. Seconds (and finer) are
// floored to the start of the minute, so all instants within the same minute
// render identically.
func RenderOnce(t time.Time) Expression {
	u := t.UTC().Truncate(time.Minute)
	return Expression{
		Minute: u.Minute(),
		Hour:   u.Hour(),
		Day:    u.Day(),
		Month:  u.Month(),
		Year:   u.Year(),
	}
}

func (e Expression) String() string {
	return fmt.Sprintf("%d %d %d %d * %d", e.Minute, e.Hour, e.Day, int(e.Month), e.Year)
}

// FireTime reconstructs the UTC instant the expression encodes.
func (e Expression) FireTime() time.Time {
	return time.Date(e.Year, e.Month, e.Day, e.Hour, e.Minute, 0, 0, time.UTC)
}

// ParseOnce decodes the string form produced by Expression.String.
// The weekday field must be the wildcard.
func ParseOnce(s string) (Expression, error) {
	if len(strings.Fields(s)) != 6 {
		return Expression{}, fmt.Errorf("invalid one-shot expression %q", s)
	}
	var e Expression
	var month int
	var dow string
	n, err := fmt.Sscanf(s, "%d %d %d %d %s %d", &e.Minute, &e.Hour, &e.Day, &month, &dow, &e.Year)
	if err != nil || n != 6 {
		return Expression{}, fmt.Errorf("invalid one-shot expression %q", s)
	}
	if dow != "*" {
		return Expression{}, fmt.Errorf("invalid one-shot expression %q: weekday must be *", s)
	}
	if e.Minute < 0 || e.Minute > 59 || e.Hour < 0 || e.Hour > 23 {
		return Expression{}, fmt.Errorf("invalid one-shot expression %q: time fields out of range", s)
	}
	if month < 1 || month > 12 || e.Day < 1 || e.Day > 31 {
		return Expression{}, fmt.Errorf("invalid one-shot expression %q: date fields out of range", s)
	}
	e.Month = time.Month(month)
	return e, nil
}
