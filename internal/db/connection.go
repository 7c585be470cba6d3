package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Transfer is one file sent to or received from a peer.
type Transfer struct {
	ID        uint   `gorm:"primaryKey"`
	Direction string `gorm:"index;not null"`
	PeerID    string `gorm:"index;not null"`
	Resource  string `gorm:"not null"`
	Path      string
	Size      int
	Checksum  string
	CreatedAt int64 `gorm:"autoCreateTime"`
}

// Open opens the sqlite database at path and migrates the schema. The
// special path ":memory:" opens a private in-memory database.
func Open(path string) (*gorm.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// sqlite has a single writer and each :memory: connection is a separate database
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := db.AutoMigrate(&Transfer{}); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
