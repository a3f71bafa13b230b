package scanner

import (
	"stock_screener_backend/services/analysis"
	"stock_screener_backend/services/marketdata"
)

// Outcome discriminates the per-symbol result variants. Checking the
// outcome is how callers know which fields are populated.
type Outcome int

const (
	// OutcomeOK means the full pipeline ran: fundamentals, series,
	// signals, and score are all populated.
	OutcomeOK Outcome = iota
	// OutcomeIgnored means the symbol had insufficient history; only
	// fundamentals, bars, and Message are populated.
	OutcomeIgnored
	// OutcomeError means the pipeline failed; Message holds the error
	// text.
	OutcomeError
	// OutcomeSkipped means the symbol was already pulled today and its
	// prior rows are replayed; only the replay snapshots are populated.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeError:
		return "error"
	case OutcomeSkipped:
		return "skipped"
	}
	return "unknown"
}

// SymbolResult is the outcome of one symbol's pipeline within a scan
type SymbolResult struct {
	SymbolID uint
	Symbol   string
	Outcome  Outcome
	Message  string

	// Populated for OutcomeOK (and partially for OutcomeIgnored)
	Fundamentals *marketdata.FundamentalData
	Bars         []marketdata.PriceBar
	RSISeries    []*float64
	MACDResult   analysis.MACDResult
	SMA20Series  []*float64
	Signals      SignalSet
	Score        float64
	Recommended  bool
	Reason       string

	// Populated for OutcomeSkipped: prior rows replayed verbatim
	Replay *ReplaySnapshot
}

// ReplaySnapshot carries a skipped symbol's most recent persisted rows so
// they can be copied into the new scan without re-fetching.
type ReplaySnapshot struct {
	Fundamental    *FundamentalSnapshot
	Technical      *TechnicalSnapshot
	Recommendation *RecommendationSnapshot
}

// FundamentalSnapshot mirrors the persisted fundamental columns
type FundamentalSnapshot struct {
	Name     *string
	CMP      *float64
	PE       *float64
	ROCE     *float64
	BV       *float64
	Debt     *float64
	Industry *string
}

// TechnicalSnapshot mirrors the persisted technical columns
type TechnicalSnapshot struct {
	RSI14           *float64
	MACD            *float64
	MACDSignal      *float64
	SMA20           *float64
	Close           *float64
	SignalsJSON     string
	PriceSeriesJSON string
	RSISeriesJSON   string
	MACDSeriesJSON  string
}

// RecommendationSnapshot mirrors the persisted recommendation columns
type RecommendationSnapshot struct {
	Recommended bool
	Score       float64
	Reason      string
}
