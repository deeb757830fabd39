package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-engine/generic"
)

func day(s string) time.Time {
	t, err := generic.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestPeriodFor(t *testing.T) {
	at := time.Date(2026, 3, 14, 17, 45, 0, 0, time.UTC)
	tests := []struct {
		name   string
		config generic.PeriodConfig
		want   string
	}{
		{"day", generic.PeriodConfig{Type: generic.PeriodDay}, "[2026-03-14, 2026-03-14]"},
		{"month", generic.PeriodConfig{Type: generic.PeriodMonth}, "[2026-03-01, 2026-03-31]"},
		{"calendar year", generic.PeriodConfig{Type: generic.PeriodCalendarYear}, "[2026-01-01, 2026-12-31]"},
		{"fiscal year from september", generic.PeriodConfig{Type: generic.PeriodFiscalYear, FiscalYearStartMonth: time.September}, "[2025-09-01, 2026-08-31]"},
		{"fiscal year from march", generic.PeriodConfig{Type: generic.PeriodFiscalYear, FiscalYearStartMonth: time.March}, "[2026-03-01, 2027-02-28]"},
		{"fiscal year without start month", generic.PeriodConfig{Type: generic.PeriodFiscalYear}, "[2026-01-01, 2026-12-31]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.PeriodFor(at).String())
		})
	}
}

func TestPeriod_ContainsWholeDays(t *testing.T) {
	p := generic.PeriodConfig{Type: generic.PeriodMonth}.PeriodFor(day("2026-02-10"))

	assert.Equal(t, "[2026-02-01, 2026-02-28]", p.String())
	assert.True(t, p.Contains(time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC)))
	assert.False(t, p.Contains(day("2026-03-01")))
	assert.NoError(t, p.Range().Validate())
}

func TestPeriodConfig_Previous(t *testing.T) {
	assert.Equal(t, "[2026-02-28, 2026-02-28]",
		generic.PeriodConfig{Type: generic.PeriodDay}.Previous(day("2026-03-01")).String())
	assert.Equal(t, "[2025-12-01, 2025-12-31]",
		generic.PeriodConfig{Type: generic.PeriodMonth}.Previous(day("2026-01-15")).String())
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2026-03-14", "[2026-03-14, 2026-03-14]"},
		{"2026-02", "[2026-02-01, 2026-02-28]"},
		{"2026", "[2026-01-01, 2026-12-31]"},
		{"FY2025", "[2025-09-01, 2026-08-31]"},
		{"fy2025", "[2025-09-01, 2026-08-31]"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := generic.ParsePeriod(tt.in, time.September)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}

	for _, bad := range []string{"", "March", "2026-13", "FY", "FYabc"} {
		_, err := generic.ParsePeriod(bad, time.September)
		assert.ErrorIs(t, err, generic.ErrInvalidInput, bad)
	}
}
