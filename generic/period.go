package generic

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - Accounting periods for exports
// =============================================================================

// Period is an inclusive span of whole days.
//
// Examples:
//   - Day: 2026-03-01 - 2026-03-01
//   - Month: 2026-03-01 - 2026-03-31
//   - Fiscal year FY2025 starting in September: 2025-09-01 - 2026-08-31
type Period struct {
	Start time.Time
	End   time.Time
}

// Range converts the period to the export filter.
func (p Period) Range() DateRange {
	start, end := p.Start, p.End
	return DateRange{From: &start, To: &end}
}

// Contains reports whether t's day is within [Start, End].
func (p Period) Contains(t time.Time) bool {
	return p.Range().Contains(t)
}

func (p Period) String() string {
	return "[" + p.Start.Format(DateLayout) + ", " + p.End.Format(DateLayout) + "]"
}

// PeriodType defines how periods are cut.
type PeriodType string

const (
	PeriodDay          PeriodType = "day"
	PeriodMonth        PeriodType = "month"
	PeriodCalendarYear PeriodType = "calendar_year" // Jan 1 - Dec 31
	PeriodFiscalYear   PeriodType = "fiscal_year"   // custom start month
)

// PeriodConfig cuts the calendar into periods of one type.
type PeriodConfig struct {
	Type PeriodType

	// For fiscal year: which month starts the fiscal year (1-12). Zero
	// means January.
	FiscalYearStartMonth time.Month
}

// =============================================================================
// PERIOD CALCULATOR - Determines which period a date falls into
// =============================================================================

// PeriodFor returns the period containing date.
func (pc PeriodConfig) PeriodFor(date time.Time) Period {
	d := Day(date)
	switch pc.Type {
	case PeriodDay:
		return Period{Start: d, End: d}

	case PeriodMonth:
		start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Period{Start: start, End: start.AddDate(0, 1, -1)}

	case PeriodFiscalYear:
		return pc.fiscalYearPeriod(d)

	default:
		start := time.Date(d.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return Period{Start: start, End: start.AddDate(1, 0, -1)}
	}
}

func (pc PeriodConfig) startMonth() time.Month {
	if pc.FiscalYearStartMonth < time.January || pc.FiscalYearStartMonth > time.December {
		return time.January
	}
	return pc.FiscalYearStartMonth
}

func (pc PeriodConfig) fiscalYearPeriod(d time.Time) Period {
	fiscalStart := time.Date(d.Year(), pc.startMonth(), 1, 0, 0, 0, 0, time.UTC)

	// Before this year's start: still in the previous fiscal year
	if d.Before(fiscalStart) {
		fiscalStart = fiscalStart.AddDate(-1, 0, 0)
	}
	return Period{Start: fiscalStart, End: fiscalStart.AddDate(1, 0, -1)}
}

// Previous returns the period before the one containing date.
func (pc PeriodConfig) Previous(date time.Time) Period {
	current := pc.PeriodFor(date)
	return pc.PeriodFor(current.Start.AddDate(0, 0, -1))
}

// ParsePeriod reads "2026-03-14" (day), "2026-03" (month), "2026"
// (calendar year) or "FY2026" (fiscal year starting in 2026 at
// fiscalStart).
func ParsePeriod(s string, fiscalStart time.Month) (Period, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(strings.ToUpper(s), "FY"); ok {
		year, err := strconv.Atoi(rest)
		if err != nil || year < 1 {
			return Period{}, fmt.Errorf("%w: period %q", ErrInvalidInput, s)
		}
		pc := PeriodConfig{Type: PeriodFiscalYear, FiscalYearStartMonth: fiscalStart}
		return pc.PeriodFor(time.Date(year, pc.startMonth(), 1, 0, 0, 0, 0, time.UTC)), nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return PeriodConfig{Type: PeriodDay}.PeriodFor(t), nil
	}
	if t, err := time.Parse("2006-01", s); err == nil {
		return PeriodConfig{Type: PeriodMonth}.PeriodFor(t), nil
	}
	if t, err := time.Parse("2006", s); err == nil {
		return PeriodConfig{Type: PeriodCalendarYear}.PeriodFor(t), nil
	}
	return Period{}, fmt.Errorf("%w: period %q", ErrInvalidInput, s)
}
