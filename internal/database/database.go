// Package database is the A3 config overlay store: it persists the
// operator-editable ACL, routing, and codec-catalog state the B2BUA core
// loads at startup, behind the ACLRepository/RouteRepository/
// CodecRepository interfaces. The default backend is an embedded SQLite
// file; a PostgreSQL backend is used instead when config.Database.URL is a
// postgres:// DSN. Both satisfy the same interfaces, so the core never
// imports modernc.org/sqlite or jackc/pgx directly.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrationsFS embed.FS

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

// Backend identifies which SQL dialect a DB is speaking.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// DB wraps a sql.DB connection and implements Repositories against whichever
// backend it was opened with.
type DB struct {
	*sql.DB
	backend Backend
}

// Open opens the config overlay store. An empty databaseURL opens (and, if
// necessary, creates) a SQLite database under dataDir; a "postgres://" or
// "postgresql://" URL opens a PostgreSQL connection instead and dataDir is
// ignored.
func Open(dataDir, databaseURL string) (*DB, error) {
	if isPostgres(databaseURL) {
		return openPostgres(databaseURL)
	}
	return openSQLite(dataDir, databaseURL)
}

func isPostgres(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

func openSQLite(dataDir, databaseURL string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("database: creating data directory: %w", err)
	}

	dsn := databaseURL
	if dsn == "" {
		dbPath := filepath.Join(dataDir, "sbc.db")
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dbPath)
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: opening sqlite: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database: pinging sqlite: %w", err)
	}
	// SQLite performs best with a single writer connection.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, backend: BackendSQLite}
	if err := db.migrate(sqliteMigrationsFS, "migrations/sqlite"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database: running migrations: %w", err)
	}

	slog.Info("config overlay store opened", "backend", "sqlite", "path", dataDir)
	return db, nil
}

func openPostgres(databaseURL string) (*DB, error) {
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database: opening postgresql: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database: pinging postgresql: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{DB: sqlDB, backend: BackendPostgres}
	if err := db.migrate(postgresMigrationsFS, "migrations/postgres"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database: running migrations: %w", err)
	}

	slog.Info("config overlay store opened", "backend", "postgres")
	return db, nil
}

// migrate runs all pending SQL migration files under dir, in filename order,
// tracked in a schema_migrations table.
func (db *DB) migrate(migrationsFS embed.FS, dir string) error {
	createTable := `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.Exec(createTable); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := db.QueryRow(db.rebind("SELECT COUNT(*) FROM schema_migrations WHERE version = ?"), version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(dir + "/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}
		if _, err := tx.Exec(db.rebind("INSERT INTO schema_migrations (version) VALUES (?)"), version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}

// rebind rewrites "?" placeholders into PostgreSQL's "$1", "$2", ... form
// when the backend is PostgreSQL, and returns query unchanged for SQLite.
// database/sql has no placeholder-style abstraction of its own (unlike the
// pgx-native query path), and pulling in a SQL-builder library for this one
// rewrite would be a disproportionate dependency for a handful of call
// sites; a plain sequential substitution is the whole of what's needed.
func (db *DB) rebind(query string) string {
	if db.backend != BackendPostgres {
		return query
	}
	var b strings.Builder
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

// insertReturningID runs an INSERT and returns the generated id column.
// PostgreSQL has no portable last-insert-id concept, so on that backend the
// statement gains a "RETURNING id" clause and is run as a query instead of
// an exec, matching the pattern pushgw/pgstore already uses for PostgreSQL
// inserts; SQLite keeps using sql.Result.LastInsertId.
func (db *DB) insertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	if db.backend == BackendPostgres {
		var id int64
		if err := db.QueryRowContext(ctx, db.rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	result, err := db.ExecContext(ctx, db.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}
