package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRangeKindFallsBackToWeek(t *testing.T) {
	require.Equal(t, RangeDay, ParseRangeKind("day"))
	require.Equal(t, RangeYear, ParseRangeKind("year"))
	require.Equal(t, RangeWeek, ParseRangeKind(""))
	require.Equal(t, RangeWeek, ParseRangeKind("quarter"))
}

func TestTruncateDayNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	// 2024-03-10 02:30 UTC+5 对应 2024-03-09 21:30 UTC
	local := time.Date(2024, 3, 10, 2, 30, 0, 0, loc)

	got := TruncateDay(local)
	require.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), got)
}

func TestCurrentWindowIsInclusive(t *testing.T) {
	anchor := time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)

	start, end := RangeWeek.CurrentWindow(anchor)
	require.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), end)

	start, end = RangeDay.CurrentWindow(anchor)
	require.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, start, end)
}

func TestPreviousWindowAdjoinsCurrent(t *testing.T) {
	anchor := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	prevStart, prevEnd := RangeWeek.PreviousWindow(anchor)
	require.Equal(t, time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC), prevStart)
	require.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), prevEnd)

	curStart, _ := RangeWeek.CurrentWindow(anchor)
	require.Equal(t, curStart.AddDate(0, 0, -1), prevEnd)
}

func TestFixedLengthWindows(t *testing.T) {
	require.Equal(t, 1, RangeDay.RangeDays())
	require.Equal(t, 7, RangeWeek.RangeDays())
	require.Equal(t, 30, RangeMonth.RangeDays())
	require.Equal(t, 365, RangeYear.RangeDays())
}
