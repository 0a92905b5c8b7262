// Package db wraps gorm persistence for the SignalDesk collections.
package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/signaldesk/signaldesk/pkg/models"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDefaultGroup = errors.New("the default channel cannot be deleted")
)

// Store provides typed access to the persisted collections.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the sqlite database at path and runs
// migrations for all collections.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database dir %s: %w", dir, err)
		}
	}

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	store := &Store{db: gdb}
	if err := store.AutoMigrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// AutoMigrate creates or updates the schema for all collections.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.User{},
		&models.Project{},
		&models.Group{},
		&models.Message{},
		&models.Context{},
		&models.Summary{},
	)
}

// DB exposes the underlying gorm handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// wrapNotFound maps gorm's not-found error onto the package sentinel.
func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
