package businessday

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestBetweenWeekdays(t *testing.T) {
	cal, err := New(time.UTC, nil)
	require.NoError(t, err)

	// 2024-03-04 is a Monday
	assert.Equal(t, 0, cal.Between(at("2024-03-04T09:00:00Z"), at("2024-03-04T17:00:00Z")))
	assert.Equal(t, 2, cal.Between(at("2024-03-04T09:00:00Z"), at("2024-03-06T10:00:00Z")))
	assert.Equal(t, 1, cal.Between(at("2024-03-04T09:00:00Z"), at("2024-03-06T08:00:00Z")))
	assert.Equal(t, 4, cal.Between(at("2024-03-04T09:00:00Z"), at("2024-03-08T09:00:00Z")))
}

func TestBetweenSkipsWeekend(t *testing.T) {
	cal, err := New(time.UTC, nil)
	require.NoError(t, err)

	// Friday to Sunday is all weekend
	assert.Equal(t, 0, cal.Between(at("2024-03-08T18:00:00Z"), at("2024-03-10T18:00:00Z")))
	// Friday to Monday crosses one business day
	assert.Equal(t, 1, cal.Between(at("2024-03-08T18:00:00Z"), at("2024-03-11T18:00:00Z")))
	// Monday to the following Monday is five business days
	assert.Equal(t, 5, cal.Between(at("2024-03-04T09:00:00Z"), at("2024-03-11T09:00:00Z")))
}

func TestBetweenSkipsHolidays(t *testing.T) {
	cal, err := New(time.UTC, []string{"2024-03-06", "2024-03-07"})
	require.NoError(t, err)

	assert.Equal(t, 2, cal.Between(at("2024-03-04T09:00:00Z"), at("2024-03-08T09:00:00Z")))

	// A five-day span covered by a long weekend yields nothing
	cal, err = New(time.UTC, []string{"2024-03-11", "2024-03-12", "2024-03-13"})
	require.NoError(t, err)
	assert.Equal(t, 0, cal.Between(at("2024-03-08T12:00:00Z"), at("2024-03-13T12:00:00Z")))
}

func TestBetweenNeverNegative(t *testing.T) {
	cal, err := New(time.UTC, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, cal.Between(at("2024-03-08T09:00:00Z"), at("2024-03-04T09:00:00Z")))
}

func TestBetweenMonotonic(t *testing.T) {
	cal, err := New(time.UTC, []string{"2024-03-13"})
	require.NoError(t, err)

	start := at("2024-03-07T15:30:00Z")
	prev := 0
	for now := start; now.Before(start.AddDate(0, 0, 21)); now = now.Add(3 * time.Hour) {
		got := cal.Between(start, now)
		require.GreaterOrEqual(t, got, prev, "now=%s", now)
		prev = got
	}
	assert.Equal(t, 13, prev)
}

func TestTimezone(t *testing.T) {
	cal, err := Load("America/Los_Angeles", nil)
	require.NoError(t, err)

	// Saturday 03:00 UTC is still Friday evening in Los Angeles
	assert.True(t, cal.IsBusinessDay(at("2024-03-09T03:00:00Z")))
	assert.False(t, cal.IsBusinessDay(at("2024-03-09T12:00:00Z")))
}

func TestBetweenCountsWallClockDaysAcrossDST(t *testing.T) {
	cal, err := Load("America/New_York", nil)
	require.NoError(t, err)

	// Friday 23:30 EST to Monday 23:45 EDT: three calendar days, one of
	// them a business day, although only 71h15m elapsed
	assert.Equal(t, 1, cal.Between(at("2024-03-09T04:30:00Z"), at("2024-03-12T03:45:00Z")))
	// Monday 23:15 EDT is not yet a full Monday after Friday 23:30
	assert.Equal(t, 0, cal.Between(at("2024-03-09T04:30:00Z"), at("2024-03-12T03:15:00Z")))

	// Falling back adds an hour: Friday 09:00 EDT to Monday 09:00 EST
	assert.Equal(t, 1, cal.Between(at("2024-11-01T13:00:00Z"), at("2024-11-04T14:00:00Z")))
	assert.Equal(t, 0, cal.Between(at("2024-11-01T13:00:00Z"), at("2024-11-04T13:30:00Z")))
}

func TestInvalidHoliday(t *testing.T) {
	_, err := New(time.UTC, []string{"03/06/2024"})
	require.Error(t, err)

	_, err = Load("Mars/Olympus", nil)
	require.Error(t, err)
}
