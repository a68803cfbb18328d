package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/thereayou/roomkit/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect opens the relational store named by dsn and migrates the schema.
// postgres:// and postgresql:// select Postgres, anything else is treated as SQLite.
func Connect(dsn string, l gormlogger.Interface) (*Database, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	cfg := &gorm.Config{}
	if l != nil {
		cfg.Logger = l
	}

	db, err := gorm.Open(dialector(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if db.Dialector.Name() == "sqlite" {
		// SQLite allows one writer; a single pooled connection serialises
		// concurrent handlers instead of failing them with "database is locked".
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA busy_timeout=15000",
		} {
			db.Exec(pragma)
		}
	}

	if err := db.AutoMigrate(&models.User{}, &models.Room{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Database{db: db}, nil
}

func dialector(dsn string) gorm.Dialector {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return postgres.Open(dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	default:
		return sqlite.Open(dsn)
	}
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
