package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type Config struct {
	Driver string
	// Path is the SQLite file; DSN is the Postgres connection string.
	Path string
	DSN  string
}

func DefaultConfig() Config {
	if dsn := os.Getenv("SUPPORTHUB_PG_DSN"); dsn != "" {
		return Config{Driver: DriverPostgres, DSN: dsn}
	}
	if p := os.Getenv("SUPPORTHUB_DB_PATH"); p != "" {
		return Config{Driver: DriverSQLite, Path: p}
	}

	// local default: ~/.supporthub/data.db
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return Config{
		Driver: DriverSQLite,
		Path:   filepath.Join(home, ".supporthub", "data.db"),
	}
}

// Describe is a loggable form of the config without credentials.
func (c Config) Describe() string {
	if c.Driver == DriverPostgres {
		return "postgres"
	}
	return c.Path
}

func EnsureDataDir(cfg Config) error {
	return os.MkdirAll(filepath.Dir(cfg.Path), 0o755)
}

func Open(cfg Config) (*sql.DB, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return openPostgres(cfg)
	case DriverSQLite, "":
		return openSQLite(cfg)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func openSQLite(cfg Config) (*sql.DB, error) {
	if err := EnsureDataDir(cfg); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	db, err := sql.Open(DriverSQLite, cfg.Path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; concurrent reconciliation and enrichment saves queue here
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma journal_mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

func openPostgres(cfg Config) (*sql.DB, error) {
	db, err := sql.Open(DriverPostgres, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Rebind rewrites '?' placeholders to '$n' for Postgres.
func Rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
