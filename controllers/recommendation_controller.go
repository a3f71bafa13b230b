package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stock_screener_backend/models"
)

// RecommendationController serves scan results and per-symbol detail
type RecommendationController struct {
	db *gorm.DB
}

// NewRecommendationController creates a new recommendation controller
func NewRecommendationController(db *gorm.DB) *RecommendationController {
	return &RecommendationController{db: db}
}

// scanResultRow joins recommendation, fundamental, and technical rows for
// one symbol within one scan.
type scanResultRow struct {
	rec  models.Recommendation
	fund *models.Fundamental
	tech *models.Technical
	sym  models.Symbol
}

// Latest returns the most recent scan's recommended symbols, highest
// score first
// GET /api/v1/recommendations/latest
func (rc *RecommendationController) Latest(c *gin.Context) {
	var scan models.Scan
	if err := rc.db.Order("id DESC").First(&scan).Error; err != nil {
		c.JSON(http.StatusOK, gin.H{
			"scan_id": nil, "scan_status": nil, "recommendations": []gin.H{},
		})
		return
	}

	rows := rc.loadScanResults(scan.ID, true)
	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		entry := gin.H{
			"symbol":     r.sym.Symbol,
			"score":      r.rec.Score,
			"reason":     r.rec.Reason,
			"created_at": formatTime(&r.rec.CreatedAt),
		}
		addFundamentalFields(entry, r.fund)
		addDivergenceFields(entry, r.tech)
		out = append(out, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"scan_id":         scan.ID,
		"scan_status":     scan.Status,
		"started_at":      formatTime(&scan.StartedAt),
		"finished_at":     formatTime(scan.FinishedAt),
		"recommendations": out,
	})
}

// LatestAll returns every symbol's result from the most recent scan
// GET /api/v1/recommendations/latest/all
func (rc *RecommendationController) LatestAll(c *gin.Context) {
	var scan models.Scan
	if err := rc.db.Order("id DESC").First(&scan).Error; err != nil {
		c.JSON(http.StatusOK, gin.H{"scan_id": nil, "results": []gin.H{}})
		return
	}

	rows := rc.loadScanResults(scan.ID, false)
	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		entry := gin.H{
			"symbol":      r.sym.Symbol,
			"recommended": r.rec.Recommended,
			"score":       r.rec.Score,
			"reason":      r.rec.Reason,
			"created_at":  formatTime(&r.rec.CreatedAt),
		}
		addFundamentalFields(entry, r.fund)
		addTechnicalFields(entry, r.tech)
		addDivergenceFields(entry, r.tech)
		out = append(out, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"scan_id":     scan.ID,
		"scan_status": scan.Status,
		"started_at":  formatTime(&scan.StartedAt),
		"finished_at": formatTime(scan.FinishedAt),
		"results":     out,
	})
}

// SymbolDetails returns full chart-ready data for one symbol in a scan
// (latest scan unless scan_id is given)
// GET /api/v1/symbols/:symbol/details
func (rc *RecommendationController) SymbolDetails(c *gin.Context) {
	sym, ok := findSymbol(rc.db, c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Symbol not found"})
		return
	}

	var scanID uint
	if raw := c.Query("scan_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid scan_id"})
			return
		}
		scanID = uint(parsed)
	} else {
		var scan models.Scan
		if err := rc.db.Order("id DESC").First(&scan).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "No scans available"})
			return
		}
		scanID = scan.ID
	}

	var fund *models.Fundamental
	var f models.Fundamental
	if rc.db.Where("scan_id = ? AND symbol_id = ?", scanID, sym.ID).First(&f).Error == nil {
		fund = &f
	}
	var tech *models.Technical
	var t models.Technical
	if rc.db.Where("scan_id = ? AND symbol_id = ?", scanID, sym.ID).First(&t).Error == nil {
		tech = &t
	}
	var rec models.Recommendation
	haveRec := rc.db.Where("scan_id = ? AND symbol_id = ?", scanID, sym.ID).
		First(&rec).Error == nil

	entry := gin.H{
		"symbol":       sym.Symbol,
		"signals":      parseJSONObject(tech, func(t *models.Technical) string { return t.SignalsJSON }),
		"price_series": parseJSONArray(tech, func(t *models.Technical) string { return t.PriceSeriesJSON }),
		"rsi_series":   parseJSONArray(tech, func(t *models.Technical) string { return t.RSISeriesJSON }),
		"macd_series":  parseJSONArray(tech, func(t *models.Technical) string { return t.MACDSeriesJSON }),
	}
	addFundamentalFields(entry, fund)
	addTechnicalFields(entry, tech)

	if haveRec {
		entry["recommended"] = rec.Recommended
		entry["score"] = rec.Score
		entry["reason"] = rec.Reason
		entry["created_at"] = formatTime(&rec.CreatedAt)
	} else {
		entry["recommended"] = false
		entry["score"] = 0
		entry["reason"] = ""
		entry["created_at"] = nil
	}

	c.JSON(http.StatusOK, entry)
}

// loadScanResults fetches a scan's recommendation rows joined with their
// fundamental and technical rows, ordered by score descending.
func (rc *RecommendationController) loadScanResults(scanID uint, recommendedOnly bool) []scanResultRow {
	query := rc.db.Where("scan_id = ?", scanID)
	if recommendedOnly {
		query = query.Where("recommended = ?", true)
	}

	var recs []models.Recommendation
	query.Order("score DESC").Find(&recs)

	var funds []models.Fundamental
	rc.db.Where("scan_id = ?", scanID).Find(&funds)
	fundBySymbol := make(map[uint]*models.Fundamental, len(funds))
	for i := range funds {
		fundBySymbol[funds[i].SymbolID] = &funds[i]
	}

	var techs []models.Technical
	rc.db.Where("scan_id = ?", scanID).Find(&techs)
	techBySymbol := make(map[uint]*models.Technical, len(techs))
	for i := range techs {
		techBySymbol[techs[i].SymbolID] = &techs[i]
	}

	var symbols []models.Symbol
	rc.db.Find(&symbols)
	symByID := make(map[uint]models.Symbol, len(symbols))
	for _, s := range symbols {
		symByID[s.ID] = s
	}

	rows := make([]scanResultRow, 0, len(recs))
	for _, rec := range recs {
		sym, ok := symByID[rec.SymbolID]
		if !ok {
			continue
		}
		rows = append(rows, scanResultRow{
			rec:  rec,
			fund: fundBySymbol[rec.SymbolID],
			tech: techBySymbol[rec.SymbolID],
			sym:  sym,
		})
	}
	return rows
}

func addFundamentalFields(entry gin.H, fund *models.Fundamental) {
	if fund == nil {
		entry["stock_name"] = nil
		entry["cmp"] = nil
		entry["pe"] = nil
		entry["roce"] = nil
		entry["bv"] = nil
		entry["debt"] = nil
		entry["industry"] = nil
		return
	}
	entry["stock_name"] = fund.Name
	entry["cmp"] = fund.CMP
	entry["pe"] = fund.PE
	entry["roce"] = fund.ROCE
	entry["bv"] = fund.BV
	entry["debt"] = fund.Debt
	entry["industry"] = fund.Industry
}

func addTechnicalFields(entry gin.H, tech *models.Technical) {
	if tech == nil {
		entry["rsi14"] = nil
		entry["macd"] = nil
		entry["macd_signal"] = nil
		entry["sma20"] = nil
		entry["close"] = nil
		return
	}
	entry["rsi14"] = tech.RSI14
	entry["macd"] = tech.MACD
	entry["macd_signal"] = tech.MACDSignal
	entry["sma20"] = tech.SMA20
	entry["close"] = tech.Close
}

// addDivergenceFields exposes the divergence flags as display strings
func addDivergenceFields(entry gin.H, tech *models.Technical) {
	var signals map[string]interface{}
	if tech != nil && tech.SignalsJSON != "" {
		json.Unmarshal([]byte(tech.SignalsJSON), &signals)
	}
	entry["rsi_divergence"] = divergenceLabel(signals["rsi_divergence"])
	entry["macd_divergence"] = divergenceLabel(signals["macd_divergence"])
}

func divergenceLabel(v interface{}) string {
	if fired, ok := v.(bool); ok && fired {
		return "Bullish"
	}
	return "None"
}

func parseJSONObject(tech *models.Technical, field func(*models.Technical) string) map[string]interface{} {
	out := map[string]interface{}{}
	if tech != nil {
		if raw := field(tech); raw != "" {
			json.Unmarshal([]byte(raw), &out)
		}
	}
	return out
}

func parseJSONArray(tech *models.Technical, field func(*models.Technical) string) []interface{} {
	out := []interface{}{}
	if tech != nil {
		if raw := field(tech); raw != "" {
			json.Unmarshal([]byte(raw), &out)
		}
	}
	return out
}
