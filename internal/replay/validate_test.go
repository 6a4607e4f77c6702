package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDayRederivesAppliedAndGapCounts(t *testing.T) {
	root := buildFixtureDay(t)

	report, err := ValidateDay(Options{
		Root:     root,
		Symbol:   testSymbol,
		YYYYMMDD: testDay,
		Exchange: "binance",
	})
	require.NoError(t, err)
	require.Len(t, report.Segments, 1)
	assert.Equal(t, "initial", report.Segments[0].Tag)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 0, report.Gaps)
}
