package period

import (
	"errors"
	"testing"
	"time"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseMonthCode_LeapFebruary(t *testing.T) {
	r, err := ParseMonthCode("Feb-24")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Start.Equal(date(2024, time.February, 1)) {
		t.Errorf("expected start 2024-02-01, got %v", r.Start)
	}
	if !r.End.Equal(date(2024, time.February, 29)) {
		t.Errorf("expected end 2024-02-29, got %v", r.End)
	}
	days := BusinessDaysBetween(r.Start, r.End)
	if len(days) != 21 {
		t.Errorf("expected 21 business days, got %d", len(days))
	}
}

func TestParseMonthCode_Valid(t *testing.T) {
	tests := []struct {
		code       model.MonthCode
		start, end time.Time
	}{
		{"Jan-25", date(2025, time.January, 1), date(2025, time.January, 31)},
		{"Feb-25", date(2025, time.February, 1), date(2025, time.February, 28)},
		{"Apr-25", date(2025, time.April, 1), date(2025, time.April, 30)},
		{"Dec-99", date(2099, time.December, 1), date(2099, time.December, 31)},
		{"sep-26", date(2026, time.September, 1), date(2026, time.September, 30)},
	}
	for _, tt := range tests {
		r, err := ParseMonthCode(tt.code)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.code, err)
			continue
		}
		if !r.Start.Equal(tt.start) || !r.End.Equal(tt.end) {
			t.Errorf("%s: expected [%v, %v], got [%v, %v]", tt.code, tt.start, tt.end, r.Start, r.End)
		}
	}
}

func TestParseMonthCode_Invalid(t *testing.T) {
	tests := []model.MonthCode{
		"",
		"Foo-25",
		"January-25",
		"Jan-2025",
		"Jan25",
		"25-Jan",
	}
	for _, code := range tests {
		_, err := ParseMonthCode(code)
		if !errors.Is(err, ErrUnparseable) {
			t.Errorf("expected ErrUnparseable for %q, got %v", code, err)
		}
	}
}

func TestFormatMonthCode(t *testing.T) {
	if got := FormatMonthCode(date(2025, time.March, 17)); got != "Mar-25" {
		t.Errorf("expected Mar-25, got %s", got)
	}
}

func TestMonthsBetween(t *testing.T) {
	got := MonthsBetween(date(2024, time.November, 20), date(2025, time.February, 3))
	want := []model.MonthCode{"Nov-24", "Dec-24", "Jan-25", "Feb-25"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if MonthsBetween(date(2025, time.May, 1), date(2025, time.April, 1)) != nil {
		t.Error("expected nil for reversed range")
	}
}

func TestClassify_Boundaries(t *testing.T) {
	today := time.Date(2025, time.March, 15, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		start, end time.Time
		want       model.PeriodClassification
	}{
		{"ends yesterday", date(2025, time.March, 1), date(2025, time.March, 14), model.Historical},
		{"ends today", date(2025, time.March, 1), date(2025, time.March, 15), model.Current},
		{"starts today", date(2025, time.March, 15), date(2025, time.March, 31), model.Current},
		{"starts tomorrow", date(2025, time.March, 16), date(2025, time.March, 31), model.Future},
		{"spans today", date(2025, time.February, 1), date(2025, time.April, 30), model.Current},
	}
	for _, tt := range tests {
		if got := Classify(tt.start, tt.end, today); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.name, tt.want, got)
		}
	}
}

func TestClassify_IgnoresTimeOfDay(t *testing.T) {
	// End at 23:59 yesterday must still be historical; start at 00:01 today current.
	today := time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.March, 14, 23, 59, 0, 0, time.UTC)
	if got := Classify(date(2025, time.March, 1), end, today); got != model.Historical {
		t.Errorf("expected historical, got %s", got)
	}
	start := time.Date(2025, time.March, 15, 23, 0, 0, 0, time.UTC)
	if got := Classify(start, date(2025, time.March, 31), today); got != model.Current {
		t.Errorf("expected current, got %s", got)
	}
}

func TestClassifyMonth(t *testing.T) {
	today := date(2025, time.March, 15)
	tests := map[model.MonthCode]model.PeriodClassification{
		"Feb-25": model.Historical,
		"Mar-25": model.Current,
		"Apr-25": model.Future,
	}
	for code, want := range tests {
		got, err := ClassifyMonth(code, today)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", code, err)
		}
		if got != want {
			t.Errorf("%s: expected %s, got %s", code, want, got)
		}
	}
	if _, err := ClassifyMonth("Xyz-25", today); !errors.Is(err, ErrUnparseable) {
		t.Errorf("expected ErrUnparseable, got %v", err)
	}
}

func TestBusinessDaysBetween(t *testing.T) {
	// 2025-03-14 is a Friday, 2025-03-17 a Monday.
	days := BusinessDaysBetween(date(2025, time.March, 14), date(2025, time.March, 17))
	if len(days) != 2 {
		t.Fatalf("expected 2 business days, got %d", len(days))
	}
	if ISODate(days[0]) != "2025-03-14" || ISODate(days[1]) != "2025-03-17" {
		t.Errorf("unexpected days %v", days)
	}

	weekend := BusinessDaysBetween(date(2025, time.March, 15), date(2025, time.March, 16))
	if len(weekend) != 0 {
		t.Errorf("expected no business days over a weekend, got %d", len(weekend))
	}

	if got := BusinessDaysBetween(date(2025, time.March, 20), date(2025, time.March, 10)); got != nil {
		t.Errorf("expected nil for reversed range, got %v", got)
	}
}

func TestBusinessDaysInMonth(t *testing.T) {
	days, err := BusinessDaysInMonth("Mar-25")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(days) != 21 {
		t.Errorf("expected 21 business days in Mar-25, got %d", len(days))
	}
	if _, err := BusinessDaysInMonth("bad"); err == nil {
		t.Error("expected error for bad month code")
	}
}
