package marketdata

import (
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Embedded chart data patterns on Google Finance pages. Pattern 1 matches
// OHLC tuples keyed by unix timestamp; pattern 2 matches script-embedded
// date/close pairs.
var (
	chartTuplePattern  = regexp.MustCompile(`\[\[(\d{10,13}),[\d.]+,[\d.]+,[\d.]+,([\d.]+)\]`)
	scriptClosePattern = regexp.MustCompile(`"(\d{4}-\d{2}-\d{2})"[^}]*?"close":\s*([\d.]+)`)
)

// Alternate label spellings for the fundamentals key/value table,
// case-insensitive, tried in order.
var (
	peKeys   = []string{"p/e ratio", "pe ratio", "p/e"}
	bvKeys   = []string{"book value", "book value per share"}
	roceKeys = []string{"roce", "return on capital employed"}
	debtKeys = []string{"total debt", "debt", "net debt"}
)

// parseFundamentalsHTML extracts fundamental fields from a Google Finance
// quote page. Fields that cannot be located stay nil.
func parseFundamentalsHTML(symbol string, body []byte) FundamentalData {
	fd := FundamentalData{Symbol: symbol}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fd
	}

	// Stock name: dedicated div, else derived from the page title
	if name := strings.TrimSpace(doc.Find("div.zzDege").First().Text()); name != "" {
		fd.Name = &name
	} else if title := doc.Find("title").First().Text(); title != "" {
		name := nameFromTitle(title)
		if name != "" {
			fd.Name = &name
		}
	}

	// Current market price: styled price div, else data attribute
	if priceText := doc.Find("div.YMlKec.fxKbKc").First().Text(); priceText != "" {
		fd.CMP = parseFloat(priceText)
	} else if attr, ok := doc.Find("[data-last-price]").First().Attr("data-last-price"); ok {
		fd.CMP = parseFloat(attr)
	}

	// Key/value rows from the About section plus any table rows
	kv := map[string]string{}
	doc.Find("div.gyFHrc").Each(func(_ int, row *goquery.Selection) {
		cols := row.Find("div")
		if cols.Length() >= 2 {
			key := strings.ToLower(strings.TrimSpace(cols.First().Text()))
			val := strings.TrimSpace(cols.Last().Text())
			kv[key] = val
		}
	})
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() >= 2 {
			key := strings.ToLower(strings.TrimSpace(cells.First().Text()))
			val := strings.TrimSpace(cells.Last().Text())
			kv[key] = val
		}
	})

	fd.PE = parseFloat(lookupAny(kv, peKeys))
	fd.BV = parseFloat(lookupAny(kv, bvKeys))
	fd.ROCE = parseFloat(lookupAny(kv, roceKeys))
	fd.Debt = parseFloat(lookupAny(kv, debtKeys))

	// Industry: dedicated anchor, else kv fallback
	if industry := strings.TrimSpace(doc.Find("a.py3Ok").First().Text()); industry != "" {
		fd.Industry = &industry
	} else if v := lookupAny(kv, []string{"industry", "sector"}); v != "" {
		fd.Industry = &v
	}

	return fd
}

// fetchGoogleChart downloads the quote page and scans it for embedded
// daily close data. Returns whatever bars could be extracted, possibly
// none.
func (f *Fetcher) fetchGoogleChart(ctx context.Context, symbol string) []PriceBar {
	body, ok := f.fetchFirstTemplate(ctx, symbol)
	if !ok {
		return nil
	}
	defer sleepCtx(ctx, chartDelay)
	return extractChartBars(body)
}

// extractChartBars scans a page body with both embedded-data patterns
func extractChartBars(body []byte) []PriceBar {
	var bars []PriceBar

	for _, m := range chartTuplePattern.FindAllSubmatch(body, -1) {
		ts, err := strconv.ParseInt(string(m[1]), 10, 64)
		if err != nil {
			continue
		}
		if ts > 1e12 {
			ts /= 1000 // milliseconds
		}
		close, err := strconv.ParseFloat(string(m[2]), 64)
		if err != nil {
			continue
		}
		bars = append(bars, PriceBar{
			Date:  time.Unix(ts, 0).UTC().Format("2006-01-02"),
			Close: close,
		})
	}

	if len(bars) == 0 {
		for _, m := range scriptClosePattern.FindAllSubmatch(body, -1) {
			close, err := strconv.ParseFloat(string(m[2]), 64)
			if err != nil {
				continue
			}
			bars = append(bars, PriceBar{Date: string(m[1]), Close: close})
		}
	}

	return bars
}

// nameFromTitle derives a company name from a page title like
// "TCS Share Price - Tata Consultancy Services Stock ..."
func nameFromTitle(title string) string {
	parts := strings.Split(title, "-")
	if len(parts) > 1 {
		name := strings.TrimSpace(parts[1])
		if idx := strings.Index(name, "Stock"); idx >= 0 {
			name = strings.TrimSpace(name[:idx])
		}
		return name
	}
	return strings.TrimSpace(parts[0])
}

// lookupAny returns the first present key's value
func lookupAny(kv map[string]string, keys []string) string {
	for _, k := range keys {
		if v, ok := kv[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// parseFloat parses a float from potentially messy text (thousands
// separators, currency and percent symbols). Unparsable text yields nil,
// never zero.
func parseFloat(text string) *float64 {
	if text == "" {
		return nil
	}
	cleaned := strings.NewReplacer(",", "", "₹", "", "$", "", "%", "").Replace(strings.TrimSpace(text))
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}
