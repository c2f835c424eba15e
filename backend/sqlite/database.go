package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Database is the replica's sql.DB plus the file it lives in.
type Database struct {
	*sql.DB
	path string
}

// InitDatabase opens the replica database, creating the file, its directory
// and the schema when missing.
func InitDatabase(customPath string) (*Database, error) {
	dbPath, err := GetDatabasePath(customPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Pragmas are per connection; keep a single one so they always apply.
	db.SetMaxOpenConns(1)

	database := &Database{DB: db, path: dbPath}
	if err := database.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// GetDatabasePath returns the path to the replica database.
// Priority: customPath > $XDG_DATA_HOME/tasksync/replica.db > ~/.local/share/tasksync/replica.db
func GetDatabasePath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, "tasksync", "replica.db"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "tasksync", "replica.db"), nil
}

// migrate applies the pragmas, then creates tables and indexes and records
// SchemaVersion in one transaction. A half-created schema is never left behind.
func (db *Database) migrate(ctx context.Context) error {
	for _, pragma := range PragmaStatements() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %q: %w", pragma, err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	statements := append(AllTableSchemas(), AllIndexes()...)
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)",
		SchemaVersion, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

// GetSchemaVersion returns the newest schema version applied to the file.
func (db *Database) GetSchemaVersion() (int, error) {
	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Path returns the filesystem path to the database file
func (db *Database) Path() string {
	return db.path
}

// DatabaseStats describes what the replica file holds.
type DatabaseStats struct {
	Path              string `json:"path" yaml:"path"`
	Tasks             int    `json:"tasks" yaml:"tasks"`
	Categories        int    `json:"categories" yaml:"categories"`
	DeletedTasks      int    `json:"deleted_tasks" yaml:"deleted_tasks"`
	DeletedCategories int    `json:"deleted_categories" yaml:"deleted_categories"`
	SizeBytes         int64  `json:"size_bytes" yaml:"size_bytes"`
}

// GetStats counts rows per table and reads the file size.
func (db *Database) GetStats(ctx context.Context) (DatabaseStats, error) {
	stats := DatabaseStats{Path: db.path}
	err := db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM tasks),
			(SELECT COUNT(*) FROM categories),
			(SELECT COUNT(*) FROM tombstones WHERE entity = ?),
			(SELECT COUNT(*) FROM tombstones WHERE entity = ?)`,
		entityTask, entityCategory,
	).Scan(&stats.Tasks, &stats.Categories, &stats.DeletedTasks, &stats.DeletedCategories)
	if err != nil {
		return stats, fmt.Errorf("failed to count rows: %w", err)
	}

	info, err := os.Stat(db.path)
	if err != nil {
		return stats, fmt.Errorf("failed to stat database file: %w", err)
	}
	stats.SizeBytes = info.Size()
	return stats, nil
}

func (s DatabaseStats) String() string {
	return fmt.Sprintf("%s (%.1f KiB, %d tasks, %d categories, %d/%d tombstones)",
		s.Path, float64(s.SizeBytes)/1024, s.Tasks, s.Categories, s.DeletedTasks, s.DeletedCategories)
}
