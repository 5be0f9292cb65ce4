package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthRangeUTC(t *testing.T) {
	p := MonthRangeUTC(2025, 1)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), p.End)

	p = MonthRangeUTC(2024, 12)
	assert.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), p.End)
}

func TestMonthRangeUTC_Rollover(t *testing.T) {
	p := MonthRangeUTC(2025, 0)
	assert.Equal(t, "2024-12", p.Key())

	p = MonthRangeUTC(2025, -1)
	assert.Equal(t, "2024-11", p.Key())

	p = MonthRangeUTC(2024, 13)
	assert.Equal(t, "2025-01", p.Key())
}

func TestCurrentMonthRangeUTC_UsesUTC(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	// 00:30 local on Mar 1 is still Feb 28 in UTC.
	now := time.Date(2025, 3, 1, 0, 30, 0, 0, berlin)
	p := CurrentMonthRangeUTC(now)
	assert.Equal(t, "2025-02", p.Key())
}

func TestTrailing(t *testing.T) {
	now := time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)
	got := Trailing(now, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "2025-01", got[0].Key())
	assert.Equal(t, "2024-12", got[1].Key())
	assert.Equal(t, "2024-11", got[2].Key())

	assert.Nil(t, Trailing(now, 0))
	assert.Equal(t, "2025-01", Previous(now).Key())
}

func TestPeriod_Contains(t *testing.T) {
	p := MonthRangeUTC(2025, 1)
	assert.True(t, p.Contains(p.Start))
	assert.True(t, p.Contains(p.End.Add(-time.Millisecond)))
	assert.False(t, p.Contains(p.End))
	assert.False(t, p.Contains(p.Start.Add(-time.Millisecond)))
}

func TestKeys(t *testing.T) {
	p := MonthRangeUTC(2025, 7)
	assert.Equal(t, p.StartMs(), p.Start.UnixMilli())
	assert.Equal(t, "2025-07", KeyForMillis(p.StartMs()))
	assert.Equal(t, "2025-07", KeyForMillis(p.EndMs()-1))
	assert.Equal(t, "2025-08", KeyForMillis(p.EndMs()))

	parsed, err := ParseKey("2025-07")
	require.NoError(t, err)
	assert.Equal(t, p, parsed)

	_, err = ParseKey("July")
	assert.Error(t, err)
}
