package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

// minYahooBars is the minimum row count for a Yahoo CSV download to be
// accepted.
const minYahooBars = 20

// Exchange suffixes for Yahoo symbols, tried in order. NSE first, then
// BSE, then the bare symbol.
var yahooSuffixes = []string{".NS", ".BO", ""}

const defaultYahooBase = "https://query1.finance.yahoo.com"

const yahooDownloadPath = "/v7/finance/download/" +
	"%s?period1=%d&period2=%d&interval=1d&events=history"

// fetchYahooHistory downloads daily bars as CSV from Yahoo Finance. The
// first suffix yielding at least minYahooBars rows wins. Returns nil when
// every suffix fails.
func (f *Fetcher) fetchYahooHistory(symbol string, months int) []PriceBar {
	end := time.Now()
	start := end.AddDate(0, 0, -months*30)

	for _, suffix := range yahooSuffixes {
		url := f.yahooBase + fmt.Sprintf(yahooDownloadPath, symbol+suffix, start.Unix(), end.Unix())
		bars, err := f.downloadYahooCSV(url)
		if err != nil {
			log.Printf("[%s] Yahoo download failed for %s%s: %v", symbol, symbol, suffix, err)
			continue
		}
		if len(bars) >= minYahooBars {
			return bars
		}
		log.Printf("[%s] Yahoo returned only %d rows for %s%s, trying next suffix",
			symbol, len(bars), symbol, suffix)
	}
	return nil
}

func (f *Fetcher) downloadYahooCSV(url string) ([]PriceBar, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	setHeaders(req)

	resp, err := f.yahooClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return parseYahooCSV(resp.Body)
}

// parseYahooCSV reads rows of the Yahoo historical-data CSV format:
// Date,Open,High,Low,Close,Adj Close,Volume. Rows with a missing or
// "null" close are dropped.
func parseYahooCSV(r io.Reader) ([]PriceBar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	closeCol := 4
	for i, col := range header {
		if col == "Close" {
			closeCol = i
			break
		}
	}

	var bars []PriceBar
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row: %w", err)
		}
		if len(record) <= closeCol {
			continue
		}
		close, err := strconv.ParseFloat(record[closeCol], 64)
		if err != nil {
			continue
		}
		bars = append(bars, PriceBar{Date: record[0], Close: close})
	}
	return bars, nil
}
