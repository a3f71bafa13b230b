package universe

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stock_screener_backend/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.MigrateScreenerModels(db))
	return db
}

func writeSymbolsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "symbols.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadSymbolsFile(t *testing.T) {
	path := writeSymbolsFile(t, "# universe\ntcs\n\nINFY\n  nmdc  \n# trailing comment\n")

	symbols, err := ReadSymbolsFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"TCS", "INFY", "NMDC"}, symbols)
}

func TestReadSymbolsFileMissing(t *testing.T) {
	_, err := ReadSymbolsFile(filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReloadUpsertsWithoutDuplicates(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	path := writeSymbolsFile(t, "TCS\nINFY\n")

	added, total, err := svc.Reload(path)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, int64(2), total)

	// Second reload with one new ticker adds only the new one
	path = writeSymbolsFile(t, "TCS\nINFY\nWIPRO\n")
	added, total, err = svc.Reload(path)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, int64(3), total)
}
