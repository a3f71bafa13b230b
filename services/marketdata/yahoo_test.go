package marketdata

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYahooCSV(t *testing.T) {
	csv := `Date,Open,High,Low,Close,Adj Close,Volume
2025-01-01,100.0,102.0,99.0,101.5,101.5,1000
2025-01-02,101.5,103.0,100.0,102.25,102.25,1500
2025-01-03,102.25,102.5,95.0,null,null,2000
2025-01-06,96.0,98.0,95.5,97.75,97.75,1200
`
	bars, err := parseYahooCSV(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, bars, 3, "null close row is dropped")

	assert.Equal(t, PriceBar{Date: "2025-01-01", Close: 101.5}, bars[0])
	assert.Equal(t, PriceBar{Date: "2025-01-02", Close: 102.25}, bars[1])
	assert.Equal(t, PriceBar{Date: "2025-01-06", Close: 97.75}, bars[2])
}

func TestParseYahooCSVHeaderOnly(t *testing.T) {
	bars, err := parseYahooCSV(strings.NewReader("Date,Open,High,Low,Close,Adj Close,Volume\n"))
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestParseYahooCSVEmpty(t *testing.T) {
	_, err := parseYahooCSV(strings.NewReader(""))
	assert.Error(t, err)
}
