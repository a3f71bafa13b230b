package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"stock_screener_backend/models"
	"stock_screener_backend/services/analysis"
	"stock_screener_backend/services/marketdata"
)

const (
	// concurrencyLimit bounds how many symbol pipelines run at once
	concurrencyLimit = 8

	// historyMonths is how much price history each pipeline requests
	historyMonths = 6

	// minBars is the minimum history length for indicator computation
	minBars = 30

	// maxAggregatedErrors caps how many symbol error strings are joined
	// into the scan's error_message
	maxAggregatedErrors = 10
)

// ErrScanInProgress is returned when a scan start is rejected because
// another scan is already running.
var ErrScanInProgress = errors.New("a scan is already running")

// Broadcaster pushes live scan events to connected clients. Nil disables
// broadcasting.
type Broadcaster interface {
	BroadcastProgress(snapshot ProgressSnapshot)
	BroadcastDone(scanID uint, status string)
}

// DataFetcher acquires per-symbol market data. Satisfied by
// marketdata.Fetcher.
type DataFetcher interface {
	FetchFundamentals(ctx context.Context, symbol string) marketdata.FundamentalData
	FetchPriceHistory(ctx context.Context, symbol string, months int) []marketdata.PriceBar
}

// Scanner runs full screening scans. At most one scan runs at a time;
// the running flag is owned by the Scanner instance, so tests can use
// independent instances.
type Scanner struct {
	db          *gorm.DB
	fetcher     DataFetcher
	broadcaster Broadcaster

	running  atomic.Bool
	progress *progressRegistry
}

// NewScanner creates a scanner service. broadcaster may be nil.
func NewScanner(db *gorm.DB, fetcher DataFetcher, broadcaster Broadcaster) *Scanner {
	return &Scanner{
		db:          db,
		fetcher:     fetcher,
		broadcaster: broadcaster,
		progress:    newProgressRegistry(),
	}
}

// Start creates a scan row and launches the scan in the background.
// Returns ErrScanInProgress when another scan is active.
func (s *Scanner) Start(ctx context.Context) (uint, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, ErrScanInProgress
	}

	scan := models.Scan{Status: models.ScanStatusRunning}
	if err := s.db.Create(&scan).Error; err != nil {
		s.running.Store(false)
		return 0, fmt.Errorf("failed to create scan: %w", err)
	}

	// The scan outlives the triggering request: detach from the caller's
	// cancellation so in-flight fetches never observe a dead context. A
	// canceled request context would also poison the one-shot network
	// probe for the rest of the process.
	go s.run(context.WithoutCancel(ctx), scan.ID)
	return scan.ID, nil
}

// Progress returns the live progress snapshot for a scan, if one is
// retained.
func (s *Scanner) Progress(scanID uint) (ProgressSnapshot, bool) {
	return s.progress.get(scanID)
}

// IsRunning reports whether a scan is currently active
func (s *Scanner) IsRunning() bool {
	return s.running.Load()
}

// ReconcileOrphanedScans marks scans left in running state by a previous
// process as failed. Called once at startup before the first scan.
func ReconcileOrphanedScans(db *gorm.DB) error {
	now := time.Now().UTC()
	result := db.Model(&models.Scan{}).
		Where("status = ?", models.ScanStatusRunning).
		Updates(map[string]interface{}{
			"status":        models.ScanStatusFailed,
			"finished_at":   now,
			"error_message": "scan orphaned by process restart",
		})
	if result.Error != nil {
		return fmt.Errorf("failed to reconcile orphaned scans: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		log.Printf("Marked %d orphaned running scan(s) as failed", result.RowsAffected)
	}
	return nil
}

// run executes the scan end to end. The running flag is released on every
// exit path, crashes included.
func (s *Scanner) run(ctx context.Context, scanID uint) {
	defer s.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Scan %d: PANIC in orchestrator: %v", scanID, r)
			now := time.Now().UTC()
			s.db.Model(&models.Scan{}).
				Where("id = ? AND status = ?", scanID, models.ScanStatusRunning).
				Updates(map[string]interface{}{
					"status":        models.ScanStatusFailed,
					"finished_at":   now,
					"error_message": fmt.Sprintf("scan crashed: %v", r),
				})
		}
	}()

	var symbols []models.Symbol
	if err := s.db.Find(&symbols).Error; err != nil {
		log.Printf("Scan %d: failed to load symbols: %v", scanID, err)
		s.finalize(scanID, []string{fmt.Sprintf("failed to load symbols: %v", err)})
		return
	}

	log.Printf("Scan %d: found %d symbols", scanID, len(symbols))
	if len(symbols) == 0 {
		log.Printf("Scan %d: no symbols loaded, nothing to scan", scanID)
		s.finalize(scanID, nil)
		return
	}

	skipResults, workSet := s.partition(symbols)
	log.Printf("Scan %d: %d symbols to process, %d skipped (already pulled today)",
		scanID, len(workSet), len(skipResults))

	prog := s.progress.create(scanID, len(symbols), len(workSet), len(skipResults))
	defer s.progress.retire(scanID)

	results := s.processWorkSet(ctx, prog, workSet)
	results = append(skipResults, results...)

	errorStrings := s.persist(scanID, results)
	prog.clearCurrent()
	s.finalize(scanID, errorStrings)

	s.notifyProgress(prog)
	if s.broadcaster != nil {
		s.broadcaster.BroadcastDone(scanID, models.ScanStatusCompleted)
	}
	log.Printf("Scan %d: completed with %d error(s)", scanID, len(errorStrings))
}

// partition splits the universe into symbols whose latest data was
// already pulled today (replayed verbatim) and symbols needing a fresh
// pipeline run.
func (s *Scanner) partition(symbols []models.Symbol) ([]SymbolResult, []models.Symbol) {
	today := time.Now().UTC().Format("2006-01-02")

	var skipResults []SymbolResult
	var workSet []models.Symbol

	for _, sym := range symbols {
		var tech models.Technical
		haveTech := s.db.Where("symbol_id = ?", sym.ID).
			Order("computed_at DESC").First(&tech).Error == nil

		var fund models.Fundamental
		haveFund := s.db.Where("symbol_id = ?", sym.ID).
			Order("fetched_at DESC").First(&fund).Error == nil

		techToday := haveTech && tech.ComputedAt.UTC().Format("2006-01-02") == today
		fundToday := haveFund && fund.FetchedAt.UTC().Format("2006-01-02") == today

		if !techToday && !fundToday {
			workSet = append(workSet, sym)
			continue
		}

		// Replay the recommendation from whichever scan the fresher rows
		// belong to; the technical row's scan wins when both exist.
		var rec models.Recommendation
		haveRec := false
		if haveTech {
			haveRec = s.db.Where("scan_id = ? AND symbol_id = ?", tech.ScanID, sym.ID).
				First(&rec).Error == nil
		}
		if !haveRec && haveFund {
			haveRec = s.db.Where("scan_id = ? AND symbol_id = ?", fund.ScanID, sym.ID).
				First(&rec).Error == nil
		}

		replay := &ReplaySnapshot{}
		if haveFund {
			replay.Fundamental = &FundamentalSnapshot{
				Name:     fund.Name,
				CMP:      decimalToFloat(fund.CMP),
				PE:       decimalToFloat(fund.PE),
				ROCE:     decimalToFloat(fund.ROCE),
				BV:       decimalToFloat(fund.BV),
				Debt:     decimalToFloat(fund.Debt),
				Industry: fund.Industry,
			}
		}
		if haveTech {
			replay.Technical = &TechnicalSnapshot{
				RSI14:           decimalToFloat(tech.RSI14),
				MACD:            decimalToFloat(tech.MACD),
				MACDSignal:      decimalToFloat(tech.MACDSignal),
				SMA20:           decimalToFloat(tech.SMA20),
				Close:           decimalToFloat(tech.Close),
				SignalsJSON:     tech.SignalsJSON,
				PriceSeriesJSON: tech.PriceSeriesJSON,
				RSISeriesJSON:   tech.RSISeriesJSON,
				MACDSeriesJSON:  tech.MACDSeriesJSON,
			}
		}
		if haveRec {
			score, _ := rec.Score.Float64()
			replay.Recommendation = &RecommendationSnapshot{
				Recommended: rec.Recommended,
				Score:       score,
				Reason:      rec.Reason,
			}
		}

		skipResults = append(skipResults, SymbolResult{
			SymbolID: sym.ID,
			Symbol:   sym.Symbol,
			Outcome:  OutcomeSkipped,
			Message:  "Already pulled today",
			Replay:   replay,
		})
	}

	return skipResults, workSet
}

// processWorkSet runs symbol pipelines through a bounded worker pool and
// collects every result.
func (s *Scanner) processWorkSet(ctx context.Context, prog *scanProgress, workSet []models.Symbol) []SymbolResult {
	if len(workSet) == 0 {
		return nil
	}

	jobs := make(chan models.Symbol)
	resultCh := make(chan SymbolResult, len(workSet))

	var wg sync.WaitGroup
	for w := 0; w < concurrencyLimit; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				prog.setCurrent(sym.Symbol)
				res := s.processSymbol(ctx, sym)
				prog.completed.Add(1)
				if res.Outcome == OutcomeError {
					prog.errors.Add(1)
				}
				s.notifyProgress(prog)
				resultCh <- res
			}
		}()
	}

	for _, sym := range workSet {
		jobs <- sym
	}
	close(jobs)
	wg.Wait()
	close(resultCh)

	results := make([]SymbolResult, 0, len(workSet))
	for res := range resultCh {
		results = append(results, res)
	}
	return results
}

// processSymbol runs one symbol's pipeline: concurrent fundamental and
// history fetch, then indicators, detection, and scoring. Panics and
// errors are absorbed into the result; no symbol can abort the scan.
func (s *Scanner) processSymbol(ctx context.Context, sym models.Symbol) (result SymbolResult) {
	result = SymbolResult{SymbolID: sym.ID, Symbol: sym.Symbol, Outcome: OutcomeOK}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] PANIC during processing: %v", sym.Symbol, r)
			result.Outcome = OutcomeError
			result.Message = fmt.Sprintf("panic: %v", r)
		}
	}()

	log.Printf("---- Processing %s (id=%d) ----", sym.Symbol, sym.ID)

	// Fundamentals and price history fetch in parallel; both must land
	// before indicator computation. Panics inside the fetch goroutines
	// are captured here and re-raised on the pipeline goroutine, where
	// the recover above converts them to an error result.
	var (
		wg       sync.WaitGroup
		fund     marketdata.FundamentalData
		bars     []marketdata.PriceBar
		fetchErr atomic.Value
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				fetchErr.Store(fmt.Sprintf("fundamentals fetch panic: %v", r))
			}
		}()
		fund = s.fetcher.FetchFundamentals(ctx, sym.Symbol)
	}()
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				fetchErr.Store(fmt.Sprintf("price history fetch panic: %v", r))
			}
		}()
		bars = s.fetcher.FetchPriceHistory(ctx, sym.Symbol, historyMonths)
	}()
	wg.Wait()

	if msg := fetchErr.Load(); msg != nil {
		panic(msg)
	}

	result.Fundamentals = &fund
	result.Bars = bars
	log.Printf("[%s] Data fetched: price_bars=%d", sym.Symbol, len(bars))

	if len(bars) < minBars {
		result.Outcome = OutcomeIgnored
		result.Message = fmt.Sprintf("Insufficient price data (%d bars, need >=%d)", len(bars), minBars)
		result.Reason = "Insufficient data"
		log.Printf("[%s] %s", sym.Symbol, result.Message)
		return result
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	result.RSISeries = analysis.RSI(closes, 14)
	result.MACDResult = analysis.MACD(closes, 12, 26, 9)
	result.SMA20Series = analysis.SMA(closes, 20)

	result.Signals = DetectSignals(closes, result.RSISeries, result.MACDResult, result.SMA20Series, defaultLookback)
	result.Score, result.Recommended, result.Reason = ScoreSignals(result.Signals)

	if result.Recommended {
		log.Printf("[%s] RECOMMENDED score=%.2f reason=%q", sym.Symbol, result.Score, result.Reason)
	} else {
		log.Printf("[%s] Not recommended (score=%.2f)", sym.Symbol, result.Score)
	}
	return result
}

// persist writes every result in one pass after all work completes.
// Returns the collected per-symbol error strings.
func (s *Scanner) persist(scanID uint, results []SymbolResult) []string {
	var errorStrings []string

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, res := range results {
			switch res.Outcome {
			case OutcomeSkipped:
				s.persistSkipped(tx, scanID, res)
			case OutcomeError:
				errorStrings = append(errorStrings,
					fmt.Sprintf("%s: %s", res.Symbol, res.Message))
				s.persistProcessed(tx, scanID, res)
				tx.Create(&models.ScanLog{
					ScanID:   scanID,
					SymbolID: &res.SymbolID,
					Status:   models.LogStatusError,
					Message:  res.Message,
				})
			case OutcomeIgnored:
				s.persistProcessed(tx, scanID, res)
				tx.Create(&models.ScanLog{
					ScanID:   scanID,
					SymbolID: &res.SymbolID,
					Status:   models.LogStatusIgnored,
					Message:  res.Message,
				})
			default:
				s.persistProcessed(tx, scanID, res)
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("Scan %d: persist transaction failed: %v", scanID, err)
		errorStrings = append(errorStrings, fmt.Sprintf("persist failed: %v", err))
	}
	return errorStrings
}

// persistSkipped copies a skipped symbol's replayed rows into the new
// scan and records the skip in the log.
func (s *Scanner) persistSkipped(tx *gorm.DB, scanID uint, res SymbolResult) {
	tx.Create(&models.ScanLog{
		ScanID:   scanID,
		SymbolID: &res.SymbolID,
		Status:   models.LogStatusSkipped,
		Message:  res.Message,
	})

	if res.Replay == nil {
		return
	}

	if f := res.Replay.Fundamental; f != nil {
		tx.Create(&models.Fundamental{
			ScanID:   scanID,
			SymbolID: res.SymbolID,
			Name:     f.Name,
			CMP:      floatToDecimal(f.CMP),
			PE:       floatToDecimal(f.PE),
			ROCE:     floatToDecimal(f.ROCE),
			BV:       floatToDecimal(f.BV),
			Debt:     floatToDecimal(f.Debt),
			Industry: f.Industry,
		})
	}
	if t := res.Replay.Technical; t != nil {
		tx.Create(&models.Technical{
			ScanID:          scanID,
			SymbolID:        res.SymbolID,
			RSI14:           floatToDecimal(t.RSI14),
			MACD:            floatToDecimal(t.MACD),
			MACDSignal:      floatToDecimal(t.MACDSignal),
			SMA20:           floatToDecimal(t.SMA20),
			Close:           floatToDecimal(t.Close),
			SignalsJSON:     t.SignalsJSON,
			PriceSeriesJSON: t.PriceSeriesJSON,
			RSISeriesJSON:   t.RSISeriesJSON,
			MACDSeriesJSON:  t.MACDSeriesJSON,
		})
	}
	if r := res.Replay.Recommendation; r != nil {
		tx.Create(&models.Recommendation{
			ScanID:      scanID,
			SymbolID:    res.SymbolID,
			Recommended: r.Recommended,
			Score:       decimal.NewFromFloat(r.Score),
			Reason:      r.Reason,
		})
	} else {
		tx.Create(&models.Recommendation{
			ScanID:      scanID,
			SymbolID:    res.SymbolID,
			Recommended: false,
			Score:       decimal.Zero,
			Reason:      "Skipped (already pulled today)",
		})
	}
}

// persistProcessed writes the fundamental, technical, and recommendation
// rows for a symbol that went through the pipeline. The technical row is
// written even on insufficient data, with absent fields.
func (s *Scanner) persistProcessed(tx *gorm.DB, scanID uint, res SymbolResult) {
	if fd := res.Fundamentals; fd != nil {
		tx.Create(&models.Fundamental{
			ScanID:   scanID,
			SymbolID: res.SymbolID,
			Name:     fd.Name,
			CMP:      floatToDecimal(fd.CMP),
			PE:       floatToDecimal(fd.PE),
			ROCE:     floatToDecimal(fd.ROCE),
			BV:       floatToDecimal(fd.BV),
			Debt:     floatToDecimal(fd.Debt),
			Industry: fd.Industry,
		})
	}

	signalsJSON, _ := json.Marshal(res.Signals)
	tx.Create(&models.Technical{
		ScanID:          scanID,
		SymbolID:        res.SymbolID,
		RSI14:           floatToDecimal(res.Signals.LatestRSI),
		MACD:            floatToDecimal(res.Signals.LatestMACD),
		MACDSignal:      floatToDecimal(res.Signals.LatestSignal),
		SMA20:           floatToDecimal(res.Signals.LatestSMA20),
		Close:           floatToDecimal(res.Signals.LatestClose),
		SignalsJSON:     string(signalsJSON),
		PriceSeriesJSON: marshalPriceSeries(res.Bars),
		RSISeriesJSON:   marshalRSIChart(res.Bars, res.RSISeries),
		MACDSeriesJSON:  marshalMACDChart(res.Bars, res.MACDResult),
	})

	tx.Create(&models.Recommendation{
		ScanID:      scanID,
		SymbolID:    res.SymbolID,
		Recommended: res.Recommended,
		Score:       decimal.NewFromFloat(res.Score),
		Reason:      res.Reason,
	})
}

// finalize stamps the scan row. Per-symbol errors never flip the scan to
// failed; they surface through the aggregated error message only.
func (s *Scanner) finalize(scanID uint, errorStrings []string) {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":      models.ScanStatusCompleted,
		"finished_at": now,
	}
	if len(errorStrings) > 0 {
		capped := errorStrings
		if len(capped) > maxAggregatedErrors {
			capped = capped[:maxAggregatedErrors]
		}
		updates["error_message"] = strings.Join(capped, "; ")
		log.Printf("Scan %d had %d error(s)", scanID, len(errorStrings))
	}
	if err := s.db.Model(&models.Scan{}).Where("id = ?", scanID).Updates(updates).Error; err != nil {
		log.Printf("Scan %d: failed to finalize: %v", scanID, err)
	}
}

func (s *Scanner) notifyProgress(prog *scanProgress) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastProgress(prog.snapshot())
	}
}

// marshalPriceSeries renders the full price series for charting
func marshalPriceSeries(bars []marketdata.PriceBar) string {
	if len(bars) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(bars)
	return string(data)
}

// marshalRSIChart renders a sparse (date, rsi) projection with entries
// only where the indicator is defined.
func marshalRSIChart(bars []marketdata.PriceBar, rsiSeries []*float64) string {
	type point struct {
		Date string  `json:"date"`
		RSI  float64 `json:"rsi"`
	}
	points := []point{}
	for i, b := range bars {
		if i < len(rsiSeries) && rsiSeries[i] != nil {
			points = append(points, point{Date: b.Date, RSI: analysis.Round(*rsiSeries[i], 2)})
		}
	}
	data, _ := json.Marshal(points)
	return string(data)
}

// marshalMACDChart renders sparse (date, macd, signal, histogram)
// entries; a date appears only when at least one component is defined.
func marshalMACDChart(bars []marketdata.PriceBar, macd analysis.MACDResult) string {
	type point struct {
		Date      string   `json:"date"`
		MACD      *float64 `json:"macd,omitempty"`
		Signal    *float64 `json:"signal,omitempty"`
		Histogram *float64 `json:"histogram,omitempty"`
	}
	points := []point{}
	for i, b := range bars {
		p := point{Date: b.Date}
		any := false
		if i < len(macd.MACDLine) && macd.MACDLine[i] != nil {
			v := analysis.Round(*macd.MACDLine[i], 4)
			p.MACD = &v
			any = true
		}
		if i < len(macd.SignalLine) && macd.SignalLine[i] != nil {
			v := analysis.Round(*macd.SignalLine[i], 4)
			p.Signal = &v
			any = true
		}
		if i < len(macd.Histogram) && macd.Histogram[i] != nil {
			v := analysis.Round(*macd.Histogram[i], 4)
			p.Histogram = &v
			any = true
		}
		if any {
			points = append(points, p)
		}
	}
	data, _ := json.Marshal(points)
	return string(data)
}

func floatToDecimal(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

func decimalToFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return &f
}
