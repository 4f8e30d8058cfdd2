// Package db keeps the job history in a SQLite database.
package db

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens (creating if needed) the database at path and migrates its tables.
func Open(path string) (*gorm.DB, error) {
	if err := createDBDirectory(path); err != nil {
		return nil, err
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newLogger()})
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to open history database")
		return nil, eris.Wrap(err, "failed to open history database")
	}
	if err := db.AutoMigrate(&JobRecord{}); err != nil {
		log.Error().Err(err).Msg("Failed to auto-migrate database")
		_ = Close(db)
		return nil, eris.Wrap(err, "failed to migrate history database")
	}
	log.Debug().Str("path", path).Msg("History database ready")
	return db, nil
}

// createDBDirectory creates the directory for the database file if it does not exist.
func createDBDirectory(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error().Err(err).Msg("Failed to create database directory")
			return eris.Wrap(err, "failed to create database directory")
		}
	}
	return nil
}

// newLogger silences gorm unless debug logging is on.
func newLogger() logger.Interface {
	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		return logger.Default.LogMode(logger.Silent)
	}
	return logger.Default.LogMode(logger.Info)
}

// Close closes the underlying connection.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		log.Error().Err(err).Msg("Failed to get raw database connection")
		return err
	}
	return sqlDB.Close()
}
