package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Symbol represents one ticker in the scan universe
type Symbol struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"uniqueIndex;not null" json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
}

// Scan represents one full screening run
type Scan struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	StartedAt    time.Time  `gorm:"autoCreateTime" json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	Status       string     `gorm:"default:running" json:"status"` // running, completed, failed
	ErrorMessage string     `gorm:"type:text" json:"error_message"`
}

// Scan status values
const (
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
)

// Fundamental stores a fundamental data snapshot per symbol per scan.
// Nil fields mean the source did not expose the value; zero is never used
// as a stand-in for unknown.
type Fundamental struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	ScanID    uint             `gorm:"index:idx_fund_scan_symbol" json:"scan_id"`
	SymbolID  uint             `gorm:"index:idx_fund_scan_symbol" json:"symbol_id"`
	Name      *string          `json:"name"`
	CMP       *decimal.Decimal `gorm:"type:decimal(15,2)" json:"cmp"`
	PE        *decimal.Decimal `gorm:"type:decimal(15,2)" json:"pe"`
	ROCE      *decimal.Decimal `gorm:"type:decimal(15,2)" json:"roce"`
	BV        *decimal.Decimal `gorm:"type:decimal(15,2)" json:"bv"`
	Debt      *decimal.Decimal `gorm:"type:decimal(20,2)" json:"debt"`
	Industry  *string          `json:"industry"`
	FetchedAt time.Time        `gorm:"autoCreateTime;index" json:"fetched_at"`
}

// Technical stores computed indicator values per symbol per scan, plus the
// JSON series used for charting (full price series, sparse RSI and MACD
// projections with entries only where the indicator is defined).
type Technical struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	ScanID          uint             `gorm:"index:idx_tech_scan_symbol" json:"scan_id"`
	SymbolID        uint             `gorm:"index:idx_tech_scan_symbol" json:"symbol_id"`
	RSI14           *decimal.Decimal `gorm:"type:decimal(10,2)" json:"rsi14"`
	MACD            *decimal.Decimal `gorm:"type:decimal(15,4)" json:"macd"`
	MACDSignal      *decimal.Decimal `gorm:"type:decimal(15,4)" json:"macd_signal"`
	SMA20           *decimal.Decimal `gorm:"type:decimal(15,2)" json:"sma20"`
	Close           *decimal.Decimal `gorm:"type:decimal(15,2)" json:"close"`
	SignalsJSON     string           `gorm:"type:text" json:"signals_json"`
	PriceSeriesJSON string           `gorm:"type:text" json:"price_series_json"`
	RSISeriesJSON   string           `gorm:"type:text" json:"rsi_series_json"`
	MACDSeriesJSON  string           `gorm:"type:text" json:"macd_series_json"`
	ComputedAt      time.Time        `gorm:"autoCreateTime;index" json:"computed_at"`
}

// Recommendation stores the buy/not-buy decision per symbol per scan
type Recommendation struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	ScanID      uint            `gorm:"index:idx_rec_scan_symbol" json:"scan_id"`
	SymbolID    uint            `gorm:"index:idx_rec_scan_symbol" json:"symbol_id"`
	Recommended bool            `gorm:"default:false" json:"recommended"`
	Score       decimal.Decimal `gorm:"type:decimal(10,2)" json:"score"`
	Reason      string          `gorm:"type:text" json:"reason"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ScanLog is an append-only audit trail of anomalous per-symbol outcomes
type ScanLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ScanID    uint      `gorm:"index" json:"scan_id"`
	SymbolID  *uint     `json:"symbol_id"`
	Status    string    `gorm:"not null" json:"status"` // skipped, ignored, error
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ScanLog status values
const (
	LogStatusSkipped = "skipped"
	LogStatusIgnored = "ignored"
	LogStatusError   = "error"
)

// MigrateScreenerModels runs database migrations for screener models
func MigrateScreenerModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Symbol{},
		&Scan{},
		&Fundamental{},
		&Technical{},
		&Recommendation{},
		&ScanLog{},
	)
}
