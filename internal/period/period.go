// Package period resolves month codes (MMM-YY) to calendar ranges, enumerates
// business days, and classifies date ranges relative to today.
package period

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
)

// monthCodeRegex matches: {MMM}-{YY}
// Example: Feb-24
var monthCodeRegex = regexp.MustCompile(`^([A-Za-z]{3})-(\d{2})$`)

var months = map[string]time.Month{
	"jan": time.January,
	"feb": time.February,
	"mar": time.March,
	"apr": time.April,
	"may": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August,
	"sep": time.September,
	"oct": time.October,
	"nov": time.November,
	"dec": time.December,
}

// ErrUnparseable is returned when a month code cannot be resolved.
var ErrUnparseable = errors.New("period: unparseable month code")

// ISODateLayout is the key format for daily distributions.
const ISODateLayout = "2006-01-02"

// Range is an inclusive date range at day granularity.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ParseMonthCode resolves a month code to the full calendar month it names.
// The year is 2000+YY. Month abbreviations are matched case-insensitively.
func ParseMonthCode(code model.MonthCode) (Range, error) {
	matches := monthCodeRegex.FindStringSubmatch(strings.TrimSpace(string(code)))
	if matches == nil {
		return Range{}, fmt.Errorf("%w: %q (expected MMM-YY)", ErrUnparseable, code)
	}

	month, ok := months[strings.ToLower(matches[1])]
	if !ok {
		return Range{}, fmt.Errorf("%w: unknown month %q", ErrUnparseable, matches[1])
	}
	yy, _ := strconv.Atoi(matches[2])

	start := time.Date(2000+yy, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return Range{Start: start, End: end}, nil
}

// FormatMonthCode returns the month code of the month containing t.
func FormatMonthCode(t time.Time) model.MonthCode {
	return model.MonthCode(t.Format("Jan-06"))
}

// MonthsBetween lists every month code from start's month to end's month,
// inclusive. It returns nil when end precedes start.
func MonthsBetween(start, end time.Time) []model.MonthCode {
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)

	var codes []model.MonthCode
	for !cur.After(last) {
		codes = append(codes, FormatMonthCode(cur))
		cur = cur.AddDate(0, 1, 0)
	}
	return codes
}

// Classify places [start, end] relative to today, comparing calendar days
// only: end before today is historical, start after today is future, and
// anything touching today is current.
func Classify(start, end, today time.Time) model.PeriodClassification {
	t := dayKey(today)
	if dayKey(end) < t {
		return model.Historical
	}
	if dayKey(start) > t {
		return model.Future
	}
	return model.Current
}

// ClassifyMonth classifies the calendar month named by code.
func ClassifyMonth(code model.MonthCode, today time.Time) (model.PeriodClassification, error) {
	r, err := ParseMonthCode(code)
	if err != nil {
		return "", err
	}
	return Classify(r.Start, r.End, today), nil
}

// BusinessDaysBetween returns every Monday–Friday between start and end,
// inclusive of both ends, as midnight UTC dates. Holidays are not considered.
func BusinessDaysBetween(start, end time.Time) []time.Time {
	cur := Midnight(start)
	last := Midnight(end)

	var days []time.Time
	for !cur.After(last) {
		if wd := cur.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days = append(days, cur)
		}
		cur = cur.AddDate(0, 0, 1)
	}
	return days
}

// BusinessDaysInMonth returns the business days of the month named by code.
func BusinessDaysInMonth(code model.MonthCode) ([]time.Time, error) {
	r, err := ParseMonthCode(code)
	if err != nil {
		return nil, err
	}
	return BusinessDaysBetween(r.Start, r.End), nil
}

// Midnight returns the calendar date of t as midnight UTC.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ISODate formats t as YYYY-MM-DD.
func ISODate(t time.Time) string {
	return t.Format(ISODateLayout)
}

func dayKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}
