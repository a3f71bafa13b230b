// Package analysis provides technical indicator calculations over daily
// close-price series. All functions take closes ordered oldest-first and
// return a series of the same length where entries before the warm-up
// point are nil.
package analysis

import "math"

// SMA calculates the Simple Moving Average series. The first period-1
// entries are nil.
func SMA(closes []float64, period int) []*float64 {
	result := make([]*float64, len(closes))
	if period <= 0 || len(closes) < period {
		return result
	}

	windowSum := 0.0
	for i := 0; i < period; i++ {
		windowSum += closes[i]
	}
	result[period-1] = ptr(windowSum / float64(period))

	for i := period; i < len(closes); i++ {
		windowSum += closes[i] - closes[i-period]
		result[i] = ptr(windowSum / float64(period))
	}
	return result
}

// EMA calculates the Exponential Moving Average series, seeded with the SMA
// of the first period closes.
func EMA(closes []float64, period int) []*float64 {
	result := make([]*float64, len(closes))
	if period <= 0 || len(closes) < period {
		return result
	}

	k := 2.0 / float64(period+1)

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += closes[i]
	}
	seed /= float64(period)
	result[period-1] = ptr(seed)

	prev := seed
	for i := period; i < len(closes); i++ {
		cur := closes[i]*k + prev*(1-k)
		result[i] = ptr(cur)
		prev = cur
	}
	return result
}

// RSI calculates the Wilder-smoothed Relative Strength Index. The first
// defined value sits at index period because the calculation consumes
// day-over-day diffs. Values are always within [0, 100]; when the average
// loss is zero the RSI is exactly 100.
func RSI(closes []float64, period int) []*float64 {
	result := make([]*float64, len(closes))
	if period <= 0 || len(closes) <= period {
		return result
	}

	gains := make([]float64, 0, len(closes)-1)
	losses := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		gains = append(gains, math.Max(diff, 0))
		losses = append(losses, math.Max(-diff, 0))
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	result[period] = ptr(rsiValue(avgGain, avgLoss))

	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		result[i+1] = ptr(rsiValue(avgGain, avgLoss))
	}
	return result
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// MACDResult holds the MACD line, signal line, and histogram series
type MACDResult struct {
	MACDLine   []*float64
	SignalLine []*float64
	Histogram  []*float64
}

// MACD calculates the MACD line (fast EMA minus slow EMA), its signal line,
// and the histogram. The signal line is an EMA over the defined MACD values
// only: nil gaps in the MACD line are skipped when seeding and advancing,
// not treated as zero.
func MACD(closes []float64, fast, slow, signalPeriod int) MACDResult {
	n := len(closes)
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)

	macdLine := make([]*float64, n)
	for i := 0; i < n; i++ {
		if emaFast[i] != nil && emaSlow[i] != nil {
			macdLine[i] = ptr(*emaFast[i] - *emaSlow[i])
		}
	}

	// Collect defined MACD values with their positions for the signal EMA
	type indexed struct {
		idx int
		val float64
	}
	var valid []indexed
	for i, v := range macdLine {
		if v != nil {
			valid = append(valid, indexed{i, *v})
		}
	}

	signalLine := make([]*float64, n)
	if len(valid) >= signalPeriod {
		k := 2.0 / float64(signalPeriod+1)
		seed := 0.0
		for i := 0; i < signalPeriod; i++ {
			seed += valid[i].val
		}
		seed /= float64(signalPeriod)
		signalLine[valid[signalPeriod-1].idx] = ptr(seed)

		prev := seed
		for j := signalPeriod; j < len(valid); j++ {
			cur := valid[j].val*k + prev*(1-k)
			signalLine[valid[j].idx] = ptr(cur)
			prev = cur
		}
	}

	histogram := make([]*float64, n)
	for i := 0; i < n; i++ {
		if macdLine[i] != nil && signalLine[i] != nil {
			histogram[i] = ptr(*macdLine[i] - *signalLine[i])
		}
	}

	return MACDResult{MACDLine: macdLine, SignalLine: signalLine, Histogram: histogram}
}

// LastValue returns the most recent defined value of a series rounded to
// the given number of decimal places, or nil when the series has no
// defined value.
func LastValue(series []*float64, places int) *float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i] != nil {
			return ptr(Round(*series[i], places))
		}
	}
	return nil
}

// Round rounds a value to the given number of decimal places
func Round(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}

func ptr(v float64) *float64 {
	return &v
}
