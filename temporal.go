package sqlift

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the text form used to store temporal values.
const TimestampLayout = "2006-01-02 15:04:05"

// Precision selects the finest calendar field kept when reading a timestamp.
type Precision int

const (
	PrecisionSecond Precision = iota
	PrecisionMinute
	PrecisionHour
	PrecisionDay
	PrecisionMonth
	PrecisionYear
)

func (p Precision) String() string {
	switch p {
	case PrecisionSecond:
		return "second"
	case PrecisionMinute:
		return "minute"
	case PrecisionHour:
		return "hour"
	case PrecisionDay:
		return "day"
	case PrecisionMonth:
		return "month"
	case PrecisionYear:
		return "year"
	default:
		return "Precision(" + strconv.Itoa(int(p)) + ")"
	}
}

// FormatTimestamp renders t in its own location using TimestampLayout.
// Sub-second precision and the zone offset are not stored.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// ParseTimestamp reads YYYY-MM-DD HH:MM:SS and keeps the fields down to p.
// Fields finer than p take their calendar default: month and day 1, time of day 0.
// Every field is checked against its calendar range, even those p drops.
// A nil loc means UTC.
func ParseTimestamp(text string, p Precision, loc *time.Location) (time.Time, error) {
	if p < PrecisionSecond || p > PrecisionYear {
		return time.Time{}, &ParseError{Text: text, Field: "precision " + p.String()}
	}
	if loc == nil {
		loc = time.UTC
	}
	parts := splitFields(text, ' ')
	if len(parts) != 2 {
		return time.Time{}, &ParseError{Text: text, Field: "date and time"}
	}
	date := splitFields(parts[0], '-')
	if len(date) != 3 {
		return time.Time{}, &ParseError{Text: text, Field: "date"}
	}
	clock := splitFields(parts[1], ':')
	if len(clock) != 3 {
		return time.Time{}, &ParseError{Text: text, Field: "time"}
	}

	names := [6]string{"year", "month", "day", "hour", "minute", "second"}
	raw := [6]string{date[0], date[1], date[2], clock[0], clock[1], clock[2]}
	var fields [6]int
	for i, s := range raw {
		n, err := strconv.Atoi(s)
		if err != nil {
			return time.Time{}, &ParseError{Text: text, Field: names[i], Err: err}
		}
		fields[i] = n
	}
	if field := outOfRange(fields); field != "" {
		return time.Time{}, &ParseError{Text: text, Field: field, Err: errFieldRange}
	}

	year, month, day := fields[0], 1, 1
	hour, minute, second := 0, 0, 0
	switch p {
	case PrecisionSecond:
		second = fields[5]
		fallthrough
	case PrecisionMinute:
		minute = fields[4]
		fallthrough
	case PrecisionHour:
		hour = fields[3]
		fallthrough
	case PrecisionDay:
		day = fields[2]
		fallthrough
	case PrecisionMonth:
		month = fields[1]
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc), nil
}

var errFieldRange = errors.New("value out of range")

// outOfRange names the first field outside its calendar range, "" when all fit.
func outOfRange(f [6]int) string {
	switch {
	case f[1] < 1 || f[1] > 12:
		return "month"
	case f[2] < 1 || f[2] > daysIn(f[0], time.Month(f[1])):
		return "day"
	case f[3] < 0 || f[3] > 23:
		return "hour"
	case f[4] < 0 || f[4] > 59:
		return "minute"
	case f[5] < 0 || f[5] > 59:
		return "second"
	}
	return ""
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// splitFields splits on sep and drops empty pieces, so repeated separators count once.
func splitFields(s string, sep rune) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == sep })
}
