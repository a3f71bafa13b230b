package marketdata

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockFundamentalsKnownSymbol(t *testing.T) {
	fd := MockFundamentals("TCS")
	assert.Equal(t, "TCS", fd.Symbol)
	require.NotNil(t, fd.Name)
	assert.Equal(t, "Tata Consultancy Services", *fd.Name)
	require.NotNil(t, fd.CMP)
	assert.InDelta(t, 3890.50, *fd.CMP, 1e-9)
	require.NotNil(t, fd.Industry)
	assert.Equal(t, "IT Services", *fd.Industry)
}

func TestMockFundamentalsUnknownSymbolGetsDefault(t *testing.T) {
	fd := MockFundamentals("ZZZTEST")
	assert.Equal(t, "ZZZTEST", fd.Symbol)
	require.NotNil(t, fd.Name)
	assert.Equal(t, "Unknown Company", *fd.Name)
	require.NotNil(t, fd.CMP)
}

func TestMockPriceHistoryDeterministic(t *testing.T) {
	a := MockPriceHistory("TCS", 6)
	b := MockPriceHistory("TCS", 6)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i], b[i])
	}

	// Different symbols get different series
	c := MockPriceHistory("INFY", 6)
	require.Equal(t, len(a), len(c))
	same := true
	for i := range a {
		if a[i].Close != c[i].Close {
			same = false
			break
		}
	}
	assert.False(t, same)
}

func TestMockPriceHistoryLength(t *testing.T) {
	assert.Len(t, MockPriceHistory("TCS", 6), 132)
	// Floors at 60 bars
	assert.Len(t, MockPriceHistory("TCS", 1), 60)
}

func TestMockPriceHistoryDatesAscendingWeekdays(t *testing.T) {
	bars := MockPriceHistory("TCS", 3)
	for i, b := range bars {
		day, err := time.Parse("2006-01-02", b.Date)
		require.NoError(t, err)
		assert.NotEqual(t, time.Saturday, day.Weekday())
		assert.NotEqual(t, time.Sunday, day.Weekday())
		if i > 0 {
			assert.True(t, strings.Compare(bars[i-1].Date, b.Date) < 0, "dates must ascend")
		}
	}
}

func TestMockPriceHistoryOversoldShape(t *testing.T) {
	// NMDC's profile carves a deep dip with a small late bounce so the
	// reversal screen has something to find offline
	bars := MockPriceHistory("NMDC", 6)
	n := len(bars)

	preDip := bars[int(0.78*float64(n))-2].Close
	bottomMin := bars[n-10].Close
	for _, b := range bars[n-10 : n-1] {
		if b.Close < bottomMin {
			bottomMin = b.Close
		}
	}
	last := bars[n-1].Close

	assert.Less(t, bottomMin, preDip*0.9, "dip must pull prices well below the pre-dip level")
	assert.Greater(t, last, bottomMin, "tail must recover off the bottom")
}
