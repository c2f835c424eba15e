package sqlite

// Schema version for migration management
const SchemaVersion = 1

// SQL statements for database schema creation

// TasksTableSQL creates the live tasks table of the local replica
const TasksTableSQL = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    done INTEGER NOT NULL DEFAULT 0,
    pinned INTEGER NOT NULL DEFAULT 0,
    emoji TEXT,
    color TEXT,
    created_at INTEGER,
    deadline INTEGER,
    description TEXT,
    categories TEXT,   -- ordered, comma separated category ids
    position INTEGER,
    last_save INTEGER, -- unix nanoseconds, merge tie-breaker
    shared_by TEXT
);
`

// CategoriesTableSQL creates the live categories table
const CategoriesTableSQL = `
CREATE TABLE IF NOT EXISTS categories (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    emoji TEXT,
    color TEXT,
    last_save INTEGER
);
`

// TombstonesTableSQL records deliberately deleted ids. Rows are only ever
// inserted, never removed, so a deletion cannot be undone by a later sync.
const TombstonesTableSQL = `
CREATE TABLE IF NOT EXISTS tombstones (
    entity TEXT NOT NULL CHECK(entity IN ('task', 'category')),
    id TEXT NOT NULL,
    deleted_at INTEGER NOT NULL,

    PRIMARY KEY(entity, id)
);
`

// ReplicaMetadataTableSQL stores replica-wide values such as the other-data
// block (JSON) and the last sync time
const ReplicaMetadataTableSQL = `
CREATE TABLE IF NOT EXISTS replica_metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// SchemaVersionTableSQL creates the schema version table for migration tracking
const SchemaVersionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

// TasksIndexesSQL creates indexes on tasks table for common queries
const TasksIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_tasks_done ON tasks(done);
CREATE INDEX IF NOT EXISTS idx_tasks_deadline ON tasks(deadline);
CREATE INDEX IF NOT EXISTS idx_tasks_position ON tasks(position);
`

// TombstonesIndexesSQL creates indexes on tombstones table
const TombstonesIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_tombstones_deleted_at ON tombstones(deleted_at);
`

// Metadata keys
const (
	metaOtherData    = "other_data"
	metaLastSyncedAt = "last_synced_at"
)

// Tombstone entity kinds
const (
	entityTask     = "task"
	entityCategory = "category"
)

// AllTableSchemas returns all table creation statements in order
func AllTableSchemas() []string {
	return []string{
		SchemaVersionTableSQL,
		TasksTableSQL,
		CategoriesTableSQL,
		TombstonesTableSQL,
		ReplicaMetadataTableSQL,
	}
}

// AllIndexes returns all index creation statements
func AllIndexes() []string {
	return []string{
		TasksIndexesSQL,
		TombstonesIndexesSQL,
	}
}

// PragmaStatements returns pragma statements to execute on database connection
func PragmaStatements() []string {
	return []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for better concurrency
		"PRAGMA synchronous = NORMAL", // Balance between safety and performance
		"PRAGMA busy_timeout = 5000",
	}
}
