package db

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chirper/feedsync/internal/config"
)

// NewDB initializes the database connection from config. SQLITE_PATH selects
// SQLite, otherwise the MySQL DSN is used.
func NewDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DB.SQLitePath != "" {
		return Open(sqlite.Open(cfg.DB.SQLitePath))
	}
	return Open(mysql.Open(cfg.DB.DSN))
}

// OpenMemory opens a private in-memory SQLite database, used by tests and
// the CLI's memory mode.
func OpenMemory() (*gorm.DB, error) {
	return Open(sqlite.Open(":memory:"))
}

// Open connects through the given dialector and migrates the schema.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	database, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if dialector.Name() == "sqlite" {
		// one connection: ":memory:" databases are per connection and SQLite
		// serializes writers anyway
		sqlDB, err := database.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	// AutoMigrate ensures schema is in sync with models.
	if err := database.AutoMigrate(&Document{}, &Account{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return database, nil
}
