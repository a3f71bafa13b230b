// Package universe manages the scan universe: the set of ticker symbols
// loaded from a symbols file into the database.
package universe

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"gorm.io/gorm"

	"stock_screener_backend/models"
)

// Service maintains the symbol universe
type Service struct {
	db *gorm.DB
}

// NewService creates a universe service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ReadSymbolsFile parses a symbols file: one ticker per line, blanks and
// # comments ignored, tickers uppercased.
func ReadSymbolsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("symbols file not found at %s", path)
		}
		return nil, fmt.Errorf("failed to open symbols file: %w", err)
	}
	defer f.Close()

	var symbols []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbols = append(symbols, strings.ToUpper(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read symbols file: %w", err)
	}
	return symbols, nil
}

// Reload upserts the symbols file into the database. Existing symbols are
// left untouched. Returns how many were added and the resulting total.
func (s *Service) Reload(path string) (added int, total int64, err error) {
	symbols, err := ReadSymbolsFile(path)
	if err != nil {
		return 0, 0, err
	}
	log.Printf("Parsed %d symbols from %s", len(symbols), path)

	for _, sym := range symbols {
		var existing models.Symbol
		if s.db.Where("symbol = ?", sym).First(&existing).Error == nil {
			continue
		}
		if err := s.db.Create(&models.Symbol{Symbol: sym}).Error; err != nil {
			return added, 0, fmt.Errorf("failed to insert symbol %s: %w", sym, err)
		}
		added++
	}

	if err := s.db.Model(&models.Symbol{}).Count(&total).Error; err != nil {
		return added, 0, fmt.Errorf("failed to count symbols: %w", err)
	}
	log.Printf("Symbol reload complete: %d added, %d total", added, total)
	return added, total, nil
}
