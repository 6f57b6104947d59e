// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package storage persists log entries and event records as checksummed
// blocks in a SQLite database.
package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// ErrCorruptBlock is matched by CorruptBlockError
var ErrCorruptBlock = errors.New("storage: corrupt block")

// CorruptBlockError reports a block whose payload no longer matches its CRC
type CorruptBlockError struct {
	ID     uint64
	Stored uint16
	Actual uint16
}

func (e *CorruptBlockError) Error() string {
	return fmt.Sprintf("storage: block %d checksum mismatch (stored %04X, computed %04X)", e.ID, e.Stored, e.Actual)
}

// Is matches ErrCorruptBlock
func (e *CorruptBlockError) Is(target error) bool {
	return target == ErrCorruptBlock
}

// Config holds storage configuration
type Config struct {
	Path string // Path to SQLite database file
	// MaxPending flushes automatically once this many entries are buffered.
	// Zero uses DefaultMaxPending.
	MaxPending int
}

// DefaultMaxPending bounds the in-memory entry buffer
const DefaultMaxPending = 256

// gormWriter routes gorm's logger output to zerolog
type gormWriter struct {
	logger zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.logger.Warn().Msgf(format, args...)
}

func openDB(config Config, logger zerolog.Logger) (*gorm.DB, error) {
	gormLog := gormlogger.New(
		gormWriter{logger: logger},
		gormlogger.Config{
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        config.Path,
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", config.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared across calls
	sqlDB.SetMaxOpenConns(1)

	if err := configureSQLite(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if err := db.AutoMigrate(&Block{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return db, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	pragmaSettings := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=10000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=memory",
	}

	for _, pragma := range pragmaSettings {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return nil
}
