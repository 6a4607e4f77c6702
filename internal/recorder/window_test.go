package recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeWindowRollsEndToNextDay(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 1, 1, 0, 5, 0, 0, loc)
	start, end, err := ComputeWindow(now, "23:00", "00:15", 0, loc)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T23:00:00Z", start.Format(time.RFC3339))
	assert.Equal(t, "2024-01-02T00:15:00Z", end.Format(time.RFC3339))
}

func TestComputeWindowWithDayOffset(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, loc)
	start, end, err := ComputeWindow(now, "00:00", "00:15", 1, loc)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00Z", start.Format(time.RFC3339))
	assert.Equal(t, "2024-01-02T00:15:00Z", end.Format(time.RFC3339))
}

func TestResolveWindowFallsBackToYesterday(t *testing.T) {
	loc := time.UTC
	// 00:05 on Jan 2nd precedes today's 08:00 start, but still falls
	// inside yesterday's window [Jan1 08:00, Jan2 08:15).
	now := time.Date(2024, 1, 2, 0, 5, 0, 0, loc)
	start, end, err := ResolveWindow(now, "08:00", "08:15", 1, loc)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T08:00:00Z", start.Format(time.RFC3339))
	assert.Equal(t, "2024-01-02T08:15:00Z", end.Format(time.RFC3339))
}

func TestParseHHMMRejectsInvalid(t *testing.T) {
	_, _, err := ParseHHMM("25:00", "TEST")
	assert.Error(t, err)
	_, _, err = ParseHHMM("bad", "TEST")
	assert.Error(t, err)
}
