package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stock_screener_backend/models"
	"stock_screener_backend/services/scanner"
)

// ScanController handles scan lifecycle requests
type ScanController struct {
	db      *gorm.DB
	scanner *scanner.Scanner
}

// NewScanController creates a new scan controller
func NewScanController(db *gorm.DB, sc *scanner.Scanner) *ScanController {
	return &ScanController{db: db, scanner: sc}
}

// Run kicks off a scan in the background and returns its ID immediately
// POST /api/v1/scan/run
func (sc *ScanController) Run(c *gin.Context) {
	scanID, err := sc.scanner.Start(c.Request.Context())
	if err != nil {
		if errors.Is(err, scanner.ErrScanInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "A scan is already running"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scan_id": scanID})
}

// GetActive reports whether a scan is running, with live progress
// GET /api/v1/scan/active
func (sc *ScanController) GetActive(c *gin.Context) {
	if sc.scanner.IsRunning() {
		var scan models.Scan
		err := sc.db.Where("status = ?", models.ScanStatusRunning).
			Order("id DESC").First(&scan).Error
		if err == nil {
			var progress interface{}
			if snap, ok := sc.scanner.Progress(scan.ID); ok {
				progress = snap
			}
			c.JSON(http.StatusOK, gin.H{
				"active":   true,
				"scan_id":  scan.ID,
				"status":   models.ScanStatusRunning,
				"progress": progress,
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"active":   false,
		"scan_id":  nil,
		"status":   nil,
		"progress": nil,
	})
}

// resolveScan loads the scan named by the :id path parameter; "latest"
// resolves to the most recent scan. Writes the error response itself on
// failure.
func (sc *ScanController) resolveScan(c *gin.Context) (models.Scan, bool) {
	var scan models.Scan

	raw := c.Param("id")
	if raw == "latest" {
		if err := sc.db.Order("id DESC").First(&scan).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "No scans available"})
			return scan, false
		}
		return scan, true
	}

	scanID, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid scan ID"})
		return scan, false
	}
	if err := sc.db.First(&scan, scanID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
		return scan, false
	}
	return scan, true
}

// GetScan returns scan status, summary counts, and live progress
// GET /api/v1/scan/:id
func (sc *ScanController) GetScan(c *gin.Context) {
	scan, ok := sc.resolveScan(c)
	if !ok {
		return
	}

	var total, recommended int64
	sc.db.Model(&models.Recommendation{}).Where("scan_id = ?", scan.ID).Count(&total)
	sc.db.Model(&models.Recommendation{}).
		Where("scan_id = ? AND recommended = ?", scan.ID, true).Count(&recommended)

	var progress interface{}
	if snap, ok := sc.scanner.Progress(scan.ID); ok {
		progress = snap
	}

	c.JSON(http.StatusOK, gin.H{
		"scan_id":           scan.ID,
		"status":            scan.Status,
		"started_at":        formatTime(&scan.StartedAt),
		"finished_at":       formatTime(scan.FinishedAt),
		"error_message":     scan.ErrorMessage,
		"total_symbols":     total,
		"recommended_count": recommended,
		"progress":          progress,
	})
}

// GetLogs returns the skip/ignore/error log rows for a scan
// GET /api/v1/scan/:id/logs
func (sc *ScanController) GetLogs(c *gin.Context) {
	scan, ok := sc.resolveScan(c)
	if !ok {
		return
	}

	var logs []models.ScanLog
	sc.db.Where("scan_id = ?", scan.ID).Order("created_at").Find(&logs)

	// Resolve symbol names for the rows that carry a symbol ID
	symbolNames := map[uint]string{}
	var symbols []models.Symbol
	sc.db.Find(&symbols)
	for _, s := range symbols {
		symbolNames[s.ID] = s.Symbol
	}

	rows := make([]gin.H, 0, len(logs))
	for _, l := range logs {
		var symbol interface{}
		if l.SymbolID != nil {
			if name, ok := symbolNames[*l.SymbolID]; ok {
				symbol = name
			}
		}
		rows = append(rows, gin.H{
			"status":     l.Status,
			"symbol":     symbol,
			"message":    l.Message,
			"created_at": formatTime(&l.CreatedAt),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"scan_id":     scan.ID,
		"scan_status": scan.Status,
		"logs":        rows,
	})
}

// DeleteSymbol removes one symbol's rows from a scan
// DELETE /api/v1/scan/:id/symbol/:symbol
func (sc *ScanController) DeleteSymbol(c *gin.Context) {
	scan, ok := sc.resolveScan(c)
	if !ok {
		return
	}

	sym, ok := findSymbol(sc.db, c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Symbol not found"})
		return
	}

	fund := sc.db.Where("scan_id = ? AND symbol_id = ?", scan.ID, sym.ID).
		Delete(&models.Fundamental{}).RowsAffected
	tech := sc.db.Where("scan_id = ? AND symbol_id = ?", scan.ID, sym.ID).
		Delete(&models.Technical{}).RowsAffected
	rec := sc.db.Where("scan_id = ? AND symbol_id = ?", scan.ID, sym.ID).
		Delete(&models.Recommendation{}).RowsAffected
	logs := sc.db.Where("scan_id = ? AND symbol_id = ?", scan.ID, sym.ID).
		Delete(&models.ScanLog{}).RowsAffected

	c.JSON(http.StatusOK, gin.H{
		"scan_id": scan.ID,
		"symbol":  sym.Symbol,
		"deleted": gin.H{
			"fundamentals":    fund,
			"technicals":      tech,
			"recommendations": rec,
			"logs":            logs,
		},
	})
}

func formatTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
