// Package scanner runs the oversold-reversal screen: it orchestrates
// per-symbol data acquisition, signal detection, scoring, and persistence
// of one scan run at a time.
//
// Recommendation rule:
//  1. RSI(14) < 30 (oversold)
//     AND at least one reversal confirmation:
//     a) bullish MACD crossover within the last 5 trading days
//     b) close crossed above SMA(20) within the last 5 trading days
//     c) RSI risen for 3 consecutive days
//     d) bullish RSI divergence (price lower low, RSI higher low)
//     e) bullish MACD divergence (price lower low, MACD higher low)
//
// Score: +3 MACD crossover, +2 SMA20 cross, +1 RSI rising, +1 RSI
// divergence, +2 MACD divergence, bonus min(30−RSI, 5).
package scanner

import (
	"fmt"
	"math"
	"strings"

	"stock_screener_backend/services/analysis"
)

// defaultLookback is the trailing window, in trading sessions, over which
// crossover and divergence conditions are evaluated.
const defaultLookback = 5

// SignalSet describes which reversal conditions fired plus the latest
// value of each indicator. Latest values are nil when the series never
// became defined.
type SignalSet struct {
	RSIOversold    bool `json:"rsi_oversold"`
	MACDCrossover  bool `json:"macd_crossover"`
	SMA20Cross     bool `json:"sma20_cross"`
	RSIRising3D    bool `json:"rsi_rising_3d"`
	RSIDivergence  bool `json:"rsi_divergence"`
	MACDDivergence bool `json:"macd_divergence"`

	LatestRSI    *float64 `json:"latest_rsi"`
	LatestMACD   *float64 `json:"latest_macd"`
	LatestSignal *float64 `json:"latest_signal"`
	LatestSMA20  *float64 `json:"latest_sma20"`
	LatestClose  *float64 `json:"latest_close"`
}

// DetectSignals evaluates the reversal conditions over the trailing
// lookback window.
func DetectSignals(closes []float64, rsiSeries []*float64, macd analysis.MACDResult, sma20 []*float64, lookback int) SignalSet {
	if lookback <= 0 {
		lookback = defaultLookback
	}
	n := len(closes)

	signals := SignalSet{
		LatestRSI:    analysis.LastValue(rsiSeries, 2),
		LatestMACD:   analysis.LastValue(macd.MACDLine, 4),
		LatestSignal: analysis.LastValue(macd.SignalLine, 4),
		LatestSMA20:  analysis.LastValue(sma20, 2),
	}
	if n > 0 {
		last := analysis.Round(closes[n-1], 2)
		signals.LatestClose = &last
	}
	if signals.LatestRSI == nil {
		return signals
	}

	// 1. Oversold: minimum defined RSI in the window below 30
	if minRSI, ok := minDefined(tail(rsiSeries, lookback)); ok && minRSI < 30 {
		signals.RSIOversold = true
	}

	// 2a. Bullish MACD crossover within the window
	for i := max(1, n-lookback); i < n; i++ {
		ml, sl := macd.MACDLine, macd.SignalLine
		if ml[i] != nil && sl[i] != nil && ml[i-1] != nil && sl[i-1] != nil {
			if *ml[i-1] <= *sl[i-1] && *ml[i] > *sl[i] {
				signals.MACDCrossover = true
				break
			}
		}
	}

	// 2b. Close crossed above SMA20 within the window
	for i := max(1, n-lookback); i < n; i++ {
		if sma20[i] != nil && sma20[i-1] != nil {
			if closes[i-1] <= *sma20[i-1] && closes[i] > *sma20[i] {
				signals.SMA20Cross = true
				break
			}
		}
	}

	// 2c. RSI rising for 3 consecutive defined values ending at the most
	// recent
	recent := definedValues(tail(rsiSeries, 4))
	if len(recent) >= 3 {
		t := recent[len(recent)-3:]
		if t[0] < t[1] && t[1] < t[2] {
			signals.RSIRising3D = true
		}
	}

	// 2d/2e. Bullish divergences: price makes a lower low across the two
	// most recent windows while the indicator makes a higher low
	signals.RSIDivergence = bullishDivergence(closes, rsiSeries, lookback)
	signals.MACDDivergence = bullishDivergence(closes, macd.MACDLine, lookback)

	return signals
}

// bullishDivergence compares the minimum close and minimum indicator
// value of the most recent lookback window against the immediately
// preceding window of equal length.
func bullishDivergence(closes []float64, series []*float64, lookback int) bool {
	n := len(closes)
	if n < 2*lookback {
		return false
	}

	recentLow := minFloat(closes[n-lookback:])
	priorLow := minFloat(closes[n-2*lookback : n-lookback])

	recentInd, okRecent := minDefined(series[n-lookback:])
	priorInd, okPrior := minDefined(series[n-2*lookback : n-lookback])
	if !okRecent || !okPrior {
		return false
	}

	return recentLow < priorLow && recentInd > priorInd
}

// ScoreSignals turns a SignalSet into (score, recommended, reason). A
// recommendation requires the oversold condition plus at least one
// confirmation; otherwise the score is zero and the reason empty.
func ScoreSignals(signals SignalSet) (float64, bool, string) {
	if !signals.RSIOversold {
		return 0, false, ""
	}

	confirmed := signals.MACDCrossover || signals.SMA20Cross || signals.RSIRising3D ||
		signals.RSIDivergence || signals.MACDDivergence
	if !confirmed {
		return 0, false, ""
	}

	score := 0.0
	reasons := []string{fmt.Sprintf("RSI(14)=%v (oversold)", *signals.LatestRSI)}

	if signals.MACDCrossover {
		score += 3
		reasons = append(reasons, "bullish MACD crossover")
	}
	if signals.SMA20Cross {
		score += 2
		reasons = append(reasons, "close crossed above SMA20")
	}
	if signals.RSIRising3D {
		score += 1
		reasons = append(reasons, "RSI rising 3 consecutive days")
	}
	if signals.RSIDivergence {
		score += 1
		reasons = append(reasons, "bullish RSI divergence")
	}
	if signals.MACDDivergence {
		score += 2
		reasons = append(reasons, "bullish MACD divergence")
	}

	if bonus := math.Min(30-*signals.LatestRSI, 5); bonus > 0 {
		score += bonus
	}

	return analysis.Round(score, 2), true, strings.Join(reasons, " + ")
}

func tail(series []*float64, n int) []*float64 {
	if len(series) <= n {
		return series
	}
	return series[len(series)-n:]
}

func definedValues(series []*float64) []float64 {
	out := make([]float64, 0, len(series))
	for _, v := range series {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func minDefined(series []*float64) (float64, bool) {
	vals := definedValues(series)
	if len(vals) == 0 {
		return 0, false
	}
	return minFloat(vals), true
}

func minFloat(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
