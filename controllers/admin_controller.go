package controllers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stock_screener_backend/models"
	"stock_screener_backend/services/universe"
)

// AdminController handles destructive maintenance operations
type AdminController struct {
	db          *gorm.DB
	universe    *universe.Service
	symbolsFile string
}

// NewAdminController creates a new admin controller
func NewAdminController(db *gorm.DB, symbolsFile string) *AdminController {
	return &AdminController{
		db:          db,
		universe:    universe.NewService(db),
		symbolsFile: symbolsFile,
	}
}

// ClearAll wipes every table, then repopulates symbols from the symbols
// file so the next scan can run without a manual reload. Requires
// confirm=true.
// DELETE /api/v1/admin/clear-all
func (ac *AdminController) ClearAll(c *gin.Context) {
	if c.Query("confirm") != "true" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confirm=true is required"})
		return
	}

	deleted := gin.H{
		"scan_logs":       ac.deleteAll(&models.ScanLog{}),
		"recommendations": ac.deleteAll(&models.Recommendation{}),
		"technicals":      ac.deleteAll(&models.Technical{}),
		"fundamentals":    ac.deleteAll(&models.Fundamental{}),
		"scans":           ac.deleteAll(&models.Scan{}),
		"symbols":         ac.deleteAll(&models.Symbol{}),
	}

	added, total, err := ac.universe.Reload(ac.symbolsFile)
	if err != nil {
		log.Printf("Symbols file not reloaded after clear-all: %v", err)
		added, total = 0, 0
	}
	deleted["symbols_reloaded"] = added
	deleted["symbols_total"] = total

	c.JSON(http.StatusOK, gin.H{"status": "ok", "deleted": deleted})
}

func (ac *AdminController) deleteAll(model interface{}) int64 {
	result := ac.db.Where("1 = 1").Delete(model)
	if result.Error != nil {
		log.Printf("Failed to clear table for %T: %v", model, result.Error)
		return 0
	}
	return result.RowsAffected
}
