// Package marketdata acquires fundamentals and historical prices for one
// symbol at a time. Fundamentals always come from Google Finance; price
// history tries Google Finance first, then Yahoo Finance, then the
// deterministic mock generator. Fetch functions never fail: every error
// tier falls through to the next source.
package marketdata

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"
)

const (
	// defaultGoogleBase hosts the quote pages; its /finance/ home page is
	// probed once per process to decide whether any network fetches are
	// worth attempting.
	defaultGoogleBase = "https://www.google.com"

	fetchRetries     = 2
	fetchBackoffBase = 500 * time.Millisecond
	requestTimeout   = 8 * time.Second
	probeTimeout     = 5 * time.Second

	// Politeness delays after successful fetches, independent of the
	// scan concurrency limit.
	fundamentalsDelay = 300 * time.Millisecond
	chartDelay        = 200 * time.Millisecond

	// minGoogleBars is the bar count below which the Google chart
	// extraction is treated as insufficient and Yahoo is consulted.
	minGoogleBars = 60
)

var browserHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Accept-Language": "en-US,en;q=0.9",
}

// Google Finance quote paths relative to the configured base, tried in
// order. NSE first, then BSE, then the bare symbol.
var googleURLTemplates = []string{
	"%s/finance/quote/%s:NSE",
	"%s/finance/quote/%s:BOM",
	"%s/finance/quote/%s",
}

// Fetcher acquires symbol data through the source fallback chain
type Fetcher struct {
	client      *http.Client
	yahooClient *http.Client
	cache       *PriceCache

	// Source hosts, overridden in tests to point at stub servers
	googleBase string
	yahooBase  string

	probeOnce sync.Once
	networkUp bool
}

// NewFetcher creates a fetcher. cache may be nil to disable the
// price-history cache.
func NewFetcher(cache *PriceCache) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: requestTimeout,
		},
		// Yahoo downloads are larger and run outside the per-symbol
		// budget, so they get their own client with a longer timeout.
		yahooClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache:      cache,
		googleBase: defaultGoogleBase,
		yahooBase:  defaultYahooBase,
	}
}

// NetworkAvailable reports whether the primary source is reachable. The
// probe runs once per process lifetime; the cached result governs every
// later acquisition.
func (f *Fetcher) NetworkAvailable(ctx context.Context) bool {
	f.probeOnce.Do(func() {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, f.googleBase+"/finance/", nil)
		if err != nil {
			return
		}
		setHeaders(req)

		resp, err := f.client.Do(req)
		if err != nil {
			log.Printf("Network check FAILED (%v), using mock data for this run", err)
			return
		}
		defer resp.Body.Close()

		f.networkUp = resp.StatusCode == http.StatusOK
		log.Printf("Network check: up=%v (HTTP %d)", f.networkUp, resp.StatusCode)
	})
	return f.networkUp
}

// FetchFundamentals scrapes fundamental fields from Google Finance. It
// never returns an error: when the network is down or every URL template
// fails, the deterministic mock data is returned instead.
func (f *Fetcher) FetchFundamentals(ctx context.Context, symbol string) FundamentalData {
	if !f.NetworkAvailable(ctx) {
		log.Printf("[%s] Network unavailable, using mock fundamentals", symbol)
		return MockFundamentals(symbol)
	}

	body, ok := f.fetchFirstTemplate(ctx, symbol)
	if !ok {
		log.Printf("[%s] All Google Finance URLs failed, using mock fundamentals", symbol)
		return MockFundamentals(symbol)
	}

	fd := parseFundamentalsHTML(symbol, body)
	if fd.CMP == nil {
		log.Printf("[%s] Warning: price not found, selector may have changed", symbol)
	}

	sleepCtx(ctx, fundamentalsDelay)
	return fd
}

// FetchPriceHistory returns daily close bars for roughly the requested
// number of months, ascending by date without duplicates. Source order:
// cache (same day), Google chart extraction, Yahoo Finance, mock.
func (f *Fetcher) FetchPriceHistory(ctx context.Context, symbol string, months int) []PriceBar {
	if !f.NetworkAvailable(ctx) {
		log.Printf("[%s] Network unavailable, using mock price history", symbol)
		return MockPriceHistory(symbol, months)
	}

	if f.cache != nil {
		if bars, ok := f.cache.Get(ctx, symbol); ok {
			log.Printf("[%s] Price history served from cache (%d bars)", symbol, len(bars))
			return bars
		}
	}

	bars := f.fetchGoogleChart(ctx, symbol)
	if len(bars) >= minGoogleBars {
		bars = normalizeBars(bars)
		log.Printf("[%s] Using Google Finance history: %d bars", symbol, len(bars))
		f.storeCache(ctx, symbol, bars)
		return bars
	}

	log.Printf("[%s] Google chart data insufficient (%d bars < %d), falling back to Yahoo",
		symbol, len(bars), minGoogleBars)

	// The Yahoo download is a blocking call with its own client; run it on
	// a separate goroutine so the channel receive stays cancelable.
	yahooCh := make(chan []PriceBar, 1)
	go func() {
		yahooCh <- f.fetchYahooHistory(symbol, months)
	}()

	select {
	case bars = <-yahooCh:
	case <-ctx.Done():
		bars = nil
	}

	if len(bars) > 0 {
		bars = normalizeBars(bars)
		log.Printf("[%s] Yahoo Finance fallback: %d bars", symbol, len(bars))
		f.storeCache(ctx, symbol, bars)
		return bars
	}

	log.Printf("[%s] Both Google and Yahoo failed, using mock price history", symbol)
	return MockPriceHistory(symbol, months)
}

// fetchFirstTemplate tries each Google URL template until one returns a
// page body.
func (f *Fetcher) fetchFirstTemplate(ctx context.Context, symbol string) ([]byte, bool) {
	for _, tmpl := range googleURLTemplates {
		url := fmt.Sprintf(tmpl, f.googleBase, symbol)
		if body, ok := f.fetchWithRetry(ctx, url); ok {
			return body, true
		}
	}
	return nil, false
}

// fetchWithRetry GETs a URL with exponential back-off. Returns ok=false
// after the final attempt fails.
func (f *Fetcher) fetchWithRetry(ctx context.Context, url string) ([]byte, bool) {
	backoff := fetchBackoffBase
	for attempt := 1; attempt <= fetchRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, false
		}
		setHeaders(req)

		resp, err := f.client.Do(req)
		if err == nil {
			if resp.StatusCode == http.StatusOK {
				body, readErr := io.ReadAll(resp.Body)
				resp.Body.Close()
				if readErr == nil {
					return body, true
				}
				err = readErr
			} else {
				resp.Body.Close()
				err = fmt.Errorf("HTTP %d", resp.StatusCode)
			}
		}

		log.Printf("Request error for %s (attempt %d/%d): %v", url, attempt, fetchRetries, err)
		if attempt < fetchRetries {
			sleepCtx(ctx, backoff)
			backoff *= 2
		}
	}
	return nil, false
}

func (f *Fetcher) storeCache(ctx context.Context, symbol string, bars []PriceBar) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Put(ctx, symbol, bars); err != nil {
		log.Printf("[%s] Warning: failed to cache price history: %v", symbol, err)
	}
}

// normalizeBars sorts ascending by date and removes duplicate dates,
// keeping the last occurrence.
func normalizeBars(bars []PriceBar) []PriceBar {
	byDate := make(map[string]float64, len(bars))
	for _, b := range bars {
		byDate[b.Date] = b.Close
	}

	out := make([]PriceBar, 0, len(byDate))
	for date, close := range byDate {
		out = append(out, PriceBar{Date: date, Close: close})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func setHeaders(req *http.Request) {
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}
}

// sleepCtx sleeps for d or until the context is canceled
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
