package marketdata

import (
	"crypto/md5"
	"encoding/binary"
	"math"
	"math/rand"
	"time"
)

// mockProfile drives the deterministic generator for one symbol
type mockProfile struct {
	Name     string
	CMP      float64
	PE       float64
	ROCE     float64
	BV       float64
	Debt     float64
	Industry string

	// Oversold-recovery shape: when DipDepth > 0 the series declines by
	// that fraction starting at DipStart of the series length and begins
	// recovering over the final RecoveryDays bars.
	DipStart     float64
	DipDepth     float64
	RecoveryDays int
}

var mockProfiles = map[string]mockProfile{
	"TCS":   {Name: "Tata Consultancy Services", CMP: 3890.50, PE: 29.4, ROCE: 58.2, BV: 252.8, Debt: 0, Industry: "IT Services"},
	"INFY":  {Name: "Infosys", CMP: 1510.25, PE: 24.1, ROCE: 39.8, BV: 215.3, Debt: 0, Industry: "IT Services"},
	"TECHM": {Name: "Tech Mahindra", CMP: 1275.80, PE: 33.6, ROCE: 17.5, BV: 298.4, Debt: 1120, Industry: "IT Services"},
	"NMDC": {Name: "NMDC", CMP: 218.40, PE: 7.8, ROCE: 28.9, BV: 82.1, Debt: 2140, Industry: "Mining",
		DipStart: 0.78, DipDepth: 0.22, RecoveryDays: 6},
	"WIPRO": {Name: "Wipro", CMP: 485.60, PE: 21.3, ROCE: 16.2, BV: 142.7, Debt: 1530, Industry: "IT Services",
		DipStart: 0.82, DipDepth: 0.16, RecoveryDays: 10},
}

var defaultProfile = mockProfile{
	Name: "Unknown Company", CMP: 500.0, PE: 20.0, ROCE: 15.0, BV: 100.0,
	Debt: 500, Industry: "Diversified",
}

func profileFor(symbol string) mockProfile {
	if p, ok := mockProfiles[symbol]; ok {
		return p
	}
	return defaultProfile
}

// MockFundamentals returns deterministic fundamental data for a symbol
func MockFundamentals(symbol string) FundamentalData {
	p := profileFor(symbol)
	name := p.Name
	industry := p.Industry
	return FundamentalData{
		Symbol:   symbol,
		Name:     &name,
		CMP:      &p.CMP,
		PE:       &p.PE,
		ROCE:     &p.ROCE,
		BV:       &p.BV,
		Debt:     &p.Debt,
		Industry: &industry,
	}
}

// MockPriceHistory generates a deterministic synthetic daily close series
// for a symbol. The same symbol always yields the same series shape; only
// the business-day spine moves with the calendar. Profiles with a dip
// configuration produce an oversold-then-recovering tail so the detection
// path stays exercisable offline.
func MockPriceHistory(symbol string, months int) []PriceBar {
	n := months * 22
	if n < 60 {
		n = 60
	}

	rng := rand.New(rand.NewSource(seedFor(symbol)))
	p := profileFor(symbol)

	// Geometric walk from a base below the current price so the series
	// tends to end near CMP
	prices := make([]float64, n)
	price := p.CMP * 0.92
	for i := 0; i < n; i++ {
		price *= math.Exp(0.0004 + 0.015*rng.NormFloat64())
		prices[i] = price
	}

	if p.DipDepth > 0 {
		applyDip(prices, p.DipStart, p.DipDepth, p.RecoveryDays)
	}

	dates := businessDays(n)
	bars := make([]PriceBar, n)
	for i := 0; i < n; i++ {
		bars[i] = PriceBar{Date: dates[i], Close: math.Round(prices[i]*100) / 100}
	}
	return bars
}

// applyDip overlays a sharp decline beginning at start (fraction of the
// series), bottoming out depth below the pre-dip level, with a partial
// bounce over the final recoveryDays bars.
func applyDip(prices []float64, start, depth float64, recoveryDays int) {
	n := len(prices)
	dipFrom := int(start * float64(n))
	bottom := n - recoveryDays
	if dipFrom >= bottom || bottom >= n {
		return
	}

	for i := dipFrom; i < bottom; i++ {
		progress := float64(i-dipFrom) / float64(bottom-dipFrom)
		prices[i] *= 1 - depth*progress
	}
	for i := bottom; i < n; i++ {
		progress := float64(i-bottom+1) / float64(recoveryDays)
		// recover about a third of the drawdown
		prices[i] *= 1 - depth + depth*0.35*progress
	}
}

// businessDays returns n weekday date strings ending today (or the most
// recent weekday), oldest first.
func businessDays(n int) []string {
	dates := make([]string, n)
	day := time.Now()
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, -1)
	}
	for i := n - 1; i >= 0; i-- {
		dates[i] = day.Format("2006-01-02")
		day = day.AddDate(0, 0, -1)
		for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, -1)
		}
	}
	return dates
}

// seedFor derives a stable RNG seed from the symbol name
func seedFor(symbol string) int64 {
	sum := md5.Sum([]byte(symbol))
	return int64(binary.BigEndian.Uint64(sum[:8]) & math.MaxInt64)
}
