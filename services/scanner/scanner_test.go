package scanner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stock_screener_backend/models"
	"stock_screener_backend/services/marketdata"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps the shared in-memory database alive and
	// sidesteps sqlite write contention
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.MigrateScreenerModels(db))
	return db
}

func addSymbol(t *testing.T, db *gorm.DB, ticker string) models.Symbol {
	t.Helper()
	sym := models.Symbol{Symbol: ticker}
	require.NoError(t, db.Create(&sym).Error)
	return sym
}

// reversalBars builds a long decline followed by a small bounce: RSI
// drops deep into oversold territory and then rises for three sessions.
func reversalBars(n int) []marketdata.PriceBar {
	bars := make([]marketdata.PriceBar, n)
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 500.0
	for i := 0; i < n; i++ {
		if i < n-3 {
			price *= 0.99
		} else {
			price *= 1.002
		}
		bars[i] = marketdata.PriceBar{Date: day.Format("2006-01-02"), Close: price}
		day = day.AddDate(0, 0, 1)
	}
	return bars
}

// stubFetcher satisfies DataFetcher with canned per-symbol responses
type stubFetcher struct {
	bars      map[string][]marketdata.PriceBar
	delay     time.Duration
	panicSyms map[string]bool
}

func (f *stubFetcher) FetchFundamentals(ctx context.Context, symbol string) marketdata.FundamentalData {
	name := symbol + " Ltd"
	cmp := 123.45
	return marketdata.FundamentalData{Symbol: symbol, Name: &name, CMP: &cmp}
}

func (f *stubFetcher) FetchPriceHistory(ctx context.Context, symbol string, months int) []marketdata.PriceBar {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panicSyms[symbol] {
		panic("synthetic fetch failure")
	}
	return f.bars[symbol]
}

// ctxRecordingFetcher captures the context error seen by each price
// history fetch after its delay elapses.
type ctxRecordingFetcher struct {
	stubFetcher
	mu      sync.Mutex
	ctxErrs []error
}

func (f *ctxRecordingFetcher) FetchPriceHistory(ctx context.Context, symbol string, months int) []marketdata.PriceBar {
	bars := f.stubFetcher.FetchPriceHistory(ctx, symbol, months)
	f.mu.Lock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()
	return bars
}

func waitForScan(t *testing.T, db *gorm.DB, scanID uint) models.Scan {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var scan models.Scan
		require.NoError(t, db.First(&scan, scanID).Error)
		if scan.Status != models.ScanStatusRunning {
			return scan
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("scan %d did not finish in time", scanID)
	return models.Scan{}
}

func TestScanEmptyUniverseCompletes(t *testing.T) {
	db := openTestDB(t)
	s := NewScanner(db, &stubFetcher{}, nil)

	scanID, err := s.Start(context.Background())
	require.NoError(t, err)

	scan := waitForScan(t, db, scanID)
	assert.Equal(t, models.ScanStatusCompleted, scan.Status)
	assert.NotNil(t, scan.FinishedAt)
	assert.Empty(t, scan.ErrorMessage)
}

func TestScanEndToEndRecommends(t *testing.T) {
	db := openTestDB(t)
	sym := addSymbol(t, db, "AAA")

	fetcher := &stubFetcher{bars: map[string][]marketdata.PriceBar{
		"AAA": reversalBars(180),
	}}
	s := NewScanner(db, fetcher, nil)

	scanID, err := s.Start(context.Background())
	require.NoError(t, err)
	scan := waitForScan(t, db, scanID)
	assert.Equal(t, models.ScanStatusCompleted, scan.Status)

	var fund models.Fundamental
	require.NoError(t, db.Where("scan_id = ? AND symbol_id = ?", scanID, sym.ID).First(&fund).Error)
	require.NotNil(t, fund.Name)
	assert.Equal(t, "AAA Ltd", *fund.Name)

	var tech models.Technical
	require.NoError(t, db.Where("scan_id = ? AND symbol_id = ?", scanID, sym.ID).First(&tech).Error)
	require.NotNil(t, tech.RSI14)
	assert.NotEmpty(t, tech.SignalsJSON)
	assert.NotEmpty(t, tech.PriceSeriesJSON)

	var rec models.Recommendation
	require.NoError(t, db.Where("scan_id = ? AND symbol_id = ?", scanID, sym.ID).First(&rec).Error)
	assert.True(t, rec.Recommended)
	assert.Contains(t, rec.Reason, "oversold")
	assert.True(t, rec.Score.IsPositive())
}

func TestScanInsufficientHistoryIgnored(t *testing.T) {
	db := openTestDB(t)
	sym := addSymbol(t, db, "BBB")

	fetcher := &stubFetcher{bars: map[string][]marketdata.PriceBar{
		"BBB": reversalBars(29),
	}}
	s := NewScanner(db, fetcher, nil)

	scanID, err := s.Start(context.Background())
	require.NoError(t, err)
	scan := waitForScan(t, db, scanID)
	assert.Equal(t, models.ScanStatusCompleted, scan.Status)

	var logRow models.ScanLog
	require.NoError(t, db.Where("scan_id = ? AND status = ?", scanID, models.LogStatusIgnored).First(&logRow).Error)
	assert.Contains(t, logRow.Message, "29 bars")

	// Technical row written with absent fields
	var tech models.Technical
	require.NoError(t, db.Where("scan_id = ? AND symbol_id = ?", scanID, sym.ID).First(&tech).Error)
	assert.Nil(t, tech.RSI14)

	var rec models.Recommendation
	require.NoError(t, db.Where("scan_id = ? AND symbol_id = ?", scanID, sym.ID).First(&rec).Error)
	assert.False(t, rec.Recommended)
	assert.Equal(t, "Insufficient data", rec.Reason)
}

func TestConcurrentScanRejected(t *testing.T) {
	db := openTestDB(t)
	addSymbol(t, db, "CCC")

	fetcher := &stubFetcher{
		bars:  map[string][]marketdata.PriceBar{"CCC": reversalBars(60)},
		delay: 300 * time.Millisecond,
	}
	s := NewScanner(db, fetcher, nil)

	scanID, err := s.Start(context.Background())
	require.NoError(t, err)

	_, err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrScanInProgress)

	waitForScan(t, db, scanID)

	// After completion a new scan is accepted again
	scanID2, err := s.Start(context.Background())
	require.NoError(t, err)
	waitForScan(t, db, scanID2)
}

func TestSkipReplaySameDay(t *testing.T) {
	db := openTestDB(t)
	sym := addSymbol(t, db, "DDD")

	fetcher := &stubFetcher{bars: map[string][]marketdata.PriceBar{
		"DDD": reversalBars(120),
	}}
	s := NewScanner(db, fetcher, nil)

	firstID, err := s.Start(context.Background())
	require.NoError(t, err)
	waitForScan(t, db, firstID)

	secondID, err := s.Start(context.Background())
	require.NoError(t, err)
	waitForScan(t, db, secondID)

	var logRow models.ScanLog
	require.NoError(t, db.Where("scan_id = ? AND status = ?", secondID, models.LogStatusSkipped).First(&logRow).Error)
	assert.Equal(t, "Already pulled today", logRow.Message)

	// The replayed technical row matches the original byte for byte
	var firstTech, secondTech models.Technical
	require.NoError(t, db.Where("scan_id = ? AND symbol_id = ?", firstID, sym.ID).First(&firstTech).Error)
	require.NoError(t, db.Where("scan_id = ? AND symbol_id = ?", secondID, sym.ID).First(&secondTech).Error)
	assert.Equal(t, firstTech.SignalsJSON, secondTech.SignalsJSON)
	assert.Equal(t, firstTech.PriceSeriesJSON, secondTech.PriceSeriesJSON)

	var firstRec, secondRec models.Recommendation
	require.NoError(t, db.Where("scan_id = ? AND symbol_id = ?", firstID, sym.ID).First(&firstRec).Error)
	require.NoError(t, db.Where("scan_id = ? AND symbol_id = ?", secondID, sym.ID).First(&secondRec).Error)
	assert.Equal(t, firstRec.Recommended, secondRec.Recommended)
	assert.Equal(t, firstRec.Reason, secondRec.Reason)
	assert.True(t, firstRec.Score.Equal(secondRec.Score))
}

func TestSymbolErrorDoesNotFailScan(t *testing.T) {
	db := openTestDB(t)
	good := addSymbol(t, db, "GOOD")
	bad := addSymbol(t, db, "BAD")

	fetcher := &stubFetcher{
		bars:      map[string][]marketdata.PriceBar{"GOOD": reversalBars(90)},
		panicSyms: map[string]bool{"BAD": true},
	}
	s := NewScanner(db, fetcher, nil)

	scanID, err := s.Start(context.Background())
	require.NoError(t, err)
	scan := waitForScan(t, db, scanID)

	// Per-symbol errors never flip the scan status
	assert.Equal(t, models.ScanStatusCompleted, scan.Status)
	assert.Contains(t, scan.ErrorMessage, "BAD")

	var errLog models.ScanLog
	require.NoError(t, db.Where("scan_id = ? AND status = ?", scanID, models.LogStatusError).First(&errLog).Error)
	require.NotNil(t, errLog.SymbolID)
	assert.Equal(t, bad.ID, *errLog.SymbolID)

	var rec models.Recommendation
	require.NoError(t, db.Where("scan_id = ? AND symbol_id = ?", scanID, good.ID).First(&rec).Error)
}

func TestScanDetachedFromCallerContext(t *testing.T) {
	db := openTestDB(t)
	addSymbol(t, db, "FFF")

	fetcher := &ctxRecordingFetcher{stubFetcher: stubFetcher{
		bars:  map[string][]marketdata.PriceBar{"FFF": reversalBars(60)},
		delay: 100 * time.Millisecond,
	}}
	s := NewScanner(db, fetcher, nil)

	// The triggering request's context dies as soon as the handler
	// returns; the scan must keep a live context regardless.
	ctx, cancel := context.WithCancel(context.Background())
	scanID, err := s.Start(ctx)
	require.NoError(t, err)
	cancel()

	scan := waitForScan(t, db, scanID)
	assert.Equal(t, models.ScanStatusCompleted, scan.Status)
	assert.Empty(t, scan.ErrorMessage)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	require.NotEmpty(t, fetcher.ctxErrs)
	for _, err := range fetcher.ctxErrs {
		assert.NoError(t, err, "pipeline fetches must not observe the caller's cancellation")
	}
}

func TestProgressTracking(t *testing.T) {
	db := openTestDB(t)
	bars := map[string][]marketdata.PriceBar{}
	for _, ticker := range []string{"PG1", "PG2", "PG3"} {
		addSymbol(t, db, ticker)
		bars[ticker] = reversalBars(60)
	}

	fetcher := &stubFetcher{bars: bars, delay: 50 * time.Millisecond}
	s := NewScanner(db, fetcher, nil)

	scanID, err := s.Start(context.Background())
	require.NoError(t, err)
	waitForScan(t, db, scanID)

	// The entry is retained briefly after completion; the completed count
	// comes solely from the per-symbol worker increments
	snap, ok := s.Progress(scanID)
	require.True(t, ok)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 3, snap.ToProcess)
	assert.Equal(t, 3, snap.Completed)
	assert.Equal(t, 0, snap.Errors)
	assert.Nil(t, snap.CurrentSymbol)
}

func TestReconcileOrphanedScans(t *testing.T) {
	db := openTestDB(t)

	orphan := models.Scan{Status: models.ScanStatusRunning}
	require.NoError(t, db.Create(&orphan).Error)
	done := models.Scan{Status: models.ScanStatusCompleted}
	require.NoError(t, db.Create(&done).Error)

	require.NoError(t, ReconcileOrphanedScans(db))

	var reloaded models.Scan
	require.NoError(t, db.First(&reloaded, orphan.ID).Error)
	assert.Equal(t, models.ScanStatusFailed, reloaded.Status)
	assert.NotNil(t, reloaded.FinishedAt)
	assert.NotEmpty(t, reloaded.ErrorMessage)

	var reloadedDone models.Scan
	require.NoError(t, db.First(&reloadedDone, done.ID).Error)
	assert.Equal(t, models.ScanStatusCompleted, reloadedDone.Status)
}
