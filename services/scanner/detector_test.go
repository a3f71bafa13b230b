package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock_screener_backend/services/analysis"
)

func fptr(v float64) *float64 { return &v }

// seriesOf builds a pointer series with nil warm-up padding followed by
// the given values.
func seriesOf(padding int, values ...float64) []*float64 {
	out := make([]*float64, padding+len(values))
	for i, v := range values {
		out[padding+i] = fptr(v)
	}
	return out
}

func emptyMACD(n int) analysis.MACDResult {
	return analysis.MACDResult{
		MACDLine:   make([]*float64, n),
		SignalLine: make([]*float64, n),
		Histogram:  make([]*float64, n),
	}
}

func TestDetectOversoldWithMACDCrossoverScoresFloor(t *testing.T) {
	n := 20
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 // flat so no divergence or SMA cross fires
	}

	// RSI tail descends to 25: oversold, latest value 25, not rising
	rsi := seriesOf(n-5, 29, 28, 27, 26, 25)

	// MACD line crosses above signal at index n-2
	macd := emptyMACD(n)
	macd.MACDLine[n-3] = fptr(-1.0)
	macd.SignalLine[n-3] = fptr(-0.5)
	macd.MACDLine[n-2] = fptr(0.2)
	macd.SignalLine[n-2] = fptr(-0.1)
	macd.MACDLine[n-1] = fptr(0.3)
	macd.SignalLine[n-1] = fptr(0.1)

	sma20 := make([]*float64, n)

	signals := DetectSignals(closes, rsi, macd, sma20, 5)
	assert.True(t, signals.RSIOversold)
	assert.True(t, signals.MACDCrossover)
	assert.False(t, signals.SMA20Cross)
	assert.False(t, signals.RSIRising3D)
	assert.False(t, signals.RSIDivergence)
	assert.False(t, signals.MACDDivergence)
	require.NotNil(t, signals.LatestRSI)
	assert.Equal(t, 25.0, *signals.LatestRSI)

	score, recommended, reason := ScoreSignals(signals)
	assert.True(t, recommended)
	// +3 crossover plus bonus min(30-25, 5) = 5
	assert.GreaterOrEqual(t, score, 8.0)
	assert.Contains(t, reason, "RSI(14)=25 (oversold)")
	assert.Contains(t, reason, "bullish MACD crossover")
}

func TestDetectSMA20Cross(t *testing.T) {
	n := 10
	closes := []float64{50, 50, 50, 50, 50, 50, 49, 49, 51, 52}
	sma20 := make([]*float64, n)
	for i := range sma20 {
		sma20[i] = fptr(50.0)
	}
	rsi := seriesOf(n-1, 28)

	signals := DetectSignals(closes, rsi, emptyMACD(n), sma20, 5)
	assert.True(t, signals.SMA20Cross, "close moved from below to above the moving average")
}

func TestDetectRSIRisingThreeDays(t *testing.T) {
	n := 12
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 80
	}
	rsi := seriesOf(n-4, 24, 25, 26, 27)

	signals := DetectSignals(closes, rsi, emptyMACD(n), make([]*float64, n), 5)
	assert.True(t, signals.RSIRising3D)

	notRising := seriesOf(n-4, 24, 26, 25, 27)
	signals = DetectSignals(closes, notRising, emptyMACD(n), make([]*float64, n), 5)
	assert.False(t, signals.RSIRising3D)
}

func TestDetectBullishRSIDivergence(t *testing.T) {
	// Price makes a lower low in the recent window, RSI makes a higher
	// low
	closes := []float64{
		100, 100, 100, 100, 100,
		95, 94, 93, 92, 91, // prior window: low 91
		90, 89, 88, 88, 89, // recent window: low 88
	}
	rsi := seriesOf(0,
		50, 50, 50, 50, 50,
		30, 28, 26, 24, 22, // prior low 22
		25, 26, 27, 28, 29) // recent low 25

	signals := DetectSignals(closes, rsi, emptyMACD(len(closes)), make([]*float64, len(closes)), 5)
	assert.True(t, signals.RSIDivergence)
}

func TestDivergenceNeedsTwoFullWindows(t *testing.T) {
	closes := []float64{100, 99, 98}
	rsi := seriesOf(0, 40, 35, 30)
	signals := DetectSignals(closes, rsi, emptyMACD(3), make([]*float64, 3), 5)
	assert.False(t, signals.RSIDivergence)
	assert.False(t, signals.MACDDivergence)
}

func TestScoreRequiresOversold(t *testing.T) {
	signals := SignalSet{
		MACDCrossover: true,
		LatestRSI:     fptr(45.0),
	}
	score, recommended, reason := ScoreSignals(signals)
	assert.Equal(t, 0.0, score)
	assert.False(t, recommended)
	assert.Empty(t, reason)
}

func TestScoreRequiresConfirmation(t *testing.T) {
	signals := SignalSet{
		RSIOversold: true,
		LatestRSI:   fptr(22.0),
	}
	score, recommended, reason := ScoreSignals(signals)
	assert.Equal(t, 0.0, score)
	assert.False(t, recommended)
	assert.Empty(t, reason)
}

func TestScoreWeightsAndReasonOrder(t *testing.T) {
	signals := SignalSet{
		RSIOversold:    true,
		MACDCrossover:  true,
		SMA20Cross:     true,
		RSIRising3D:    true,
		RSIDivergence:  true,
		MACDDivergence: true,
		LatestRSI:      fptr(28.5),
	}
	score, recommended, reason := ScoreSignals(signals)
	require.True(t, recommended)

	// 3+2+1+1+2 plus bonus min(30-28.5, 5) = 1.5
	assert.InDelta(t, 10.5, score, 1e-9)
	assert.Equal(t,
		"RSI(14)=28.5 (oversold) + bullish MACD crossover + close crossed above SMA20 + "+
			"RSI rising 3 consecutive days + bullish RSI divergence + bullish MACD divergence",
		reason)
}

func TestScoreBonusOnlyWhenPositive(t *testing.T) {
	// Latest RSI above 30 (oversold fired earlier in the window): no
	// bonus
	signals := SignalSet{
		RSIOversold: true,
		SMA20Cross:  true,
		LatestRSI:   fptr(33.0),
	}
	score, recommended, _ := ScoreSignals(signals)
	assert.True(t, recommended)
	assert.Equal(t, 2.0, score)
}

func TestDetectNoDefinedRSI(t *testing.T) {
	n := 10
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 10
	}
	signals := DetectSignals(closes, make([]*float64, n), emptyMACD(n), make([]*float64, n), 5)
	assert.Nil(t, signals.LatestRSI)
	assert.False(t, signals.RSIOversold)

	_, recommended, _ := ScoreSignals(signals)
	assert.False(t, recommended)
}
