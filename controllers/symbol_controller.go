package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stock_screener_backend/models"
	"stock_screener_backend/services/universe"
)

// SymbolController handles symbol universe management
type SymbolController struct {
	db          *gorm.DB
	universe    *universe.Service
	symbolsFile string
}

// NewSymbolController creates a new symbol controller
func NewSymbolController(db *gorm.DB, symbolsFile string) *SymbolController {
	return &SymbolController{
		db:          db,
		universe:    universe.NewService(db),
		symbolsFile: symbolsFile,
	}
}

// Reload reads the symbols file and upserts its tickers into the DB
// POST /api/v1/symbols/reload
func (sc *SymbolController) Reload(c *gin.Context) {
	added, total, err := sc.universe.Reload(sc.symbolsFile)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count_added": added,
		"count_total": total,
	})
}

// List returns every symbol in the universe
// GET /api/v1/symbols
func (sc *SymbolController) List(c *gin.Context) {
	var symbols []models.Symbol
	if err := sc.db.Order("symbol").Find(&symbols).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": symbols, "total": len(symbols)})
}

// findSymbol looks up a symbol row by ticker, case-insensitive
func findSymbol(db *gorm.DB, ticker string) (models.Symbol, bool) {
	var sym models.Symbol
	err := db.Where("symbol = ?", strings.ToUpper(ticker)).First(&sym).Error
	return sym, err == nil
}
