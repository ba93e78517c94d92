package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"scalpscan/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database selected by dbType ("sqlite3" or "mysql").
func Open(ctx context.Context, dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if strings.HasPrefix(dbCfg.DSN, ":memory:") {
			// each pooled connection would otherwise see its own empty database
			db.SetMaxOpenConns(1)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the photos table is present.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS photos (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				case_id TEXT NOT NULL DEFAULT '',
				file_name TEXT NOT NULL,
				storage_path TEXT NOT NULL UNIQUE,
				public_url TEXT NOT NULL,
				mime_type TEXT NOT NULL,
				size_bytes INTEGER NOT NULL,
				age INTEGER,
				gender TEXT NOT NULL DEFAULT '',
				problem TEXT NOT NULL DEFAULT '',
				uploaded_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_photos_session ON photos(session_id)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS photos (
				id CHAR(36) NOT NULL,
				session_id VARCHAR(255) NOT NULL,
				case_id VARCHAR(64) NOT NULL DEFAULT '',
				file_name VARCHAR(255) NOT NULL,
				storage_path VARCHAR(768) NOT NULL,
				public_url TEXT NOT NULL,
				mime_type VARCHAR(100) NOT NULL,
				size_bytes BIGINT NOT NULL,
				age INT NULL,
				gender VARCHAR(32) NOT NULL DEFAULT '',
				problem TEXT NOT NULL,
				uploaded_at BIGINT NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_photos_storage_path (storage_path),
				INDEX idx_photos_session (session_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
