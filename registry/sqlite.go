package registry

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klejdi94/promptlib/core"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS prompts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		description TEXT,
		item_type TEXT NOT NULL DEFAULT 'prompt' CHECK (item_type IN ('prompt', 'snippet', 'faq')),
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived')),
		current_version_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS prompt_versions (
		id TEXT PRIMARY KEY,
		prompt_id TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
		version_number INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'approved'
			CHECK (status IN ('draft', 'pending_approval', 'approved', 'rejected', 'deprecated')),
		content TEXT NOT NULL,
		input_schema TEXT,
		parameters TEXT,
		notes TEXT,
		created_by TEXT,
		approved_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		approved_at TEXT,
		UNIQUE (prompt_id, version_number)
	)`,
	`CREATE TABLE IF NOT EXISTS prompt_tags (
		prompt_id TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
		tag TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (prompt_id, tag)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_prompts_updated_at ON prompts (updated_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_prompt_tags_tag ON prompt_tags (tag)`,
}

// sqliteLower is registered on every modernc connection. The builtin lower()
// folds ASCII only.
const sqliteLower = "promptlib_lower"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(sqliteLower, 1, func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		switch v := args[0].(type) {
		case string:
			return strings.ToLower(v), nil
		case []byte:
			return strings.ToLower(string(v)), nil
		}
		return args[0], nil
	})
}

// Timestamps are stored as fixed-width UTC text so that text ordering is
// chronological ordering.
var sqliteDialect = dialect{
	name:     "sqlite",
	schema:   sqliteSchema,
	rebind:   func(q string) string { return q },
	timeArg:  func(t time.Time) interface{} { return t.UTC().Format(sqliteTimeLayout) },
	lower:    sqliteLower,
	orderID:  "p.id",
	classify: classifySQLite,
}

// NewSQLiteStore creates a store on db (driver "sqlite"). If createTables is
// true the schema is created when missing.
func NewSQLiteStore(ctx context.Context, db *sql.DB, createTables bool) (*SQLStore, error) {
	return newSQLStore(ctx, db, sqliteDialect, createTables)
}

// OpenSQLite opens the database file at path (":memory:" for a private
// in-memory database) and creates the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite registry: open: %w", err)
	}
	// SQLite doesn't support multiple writers; a single connection also keeps
	// an in-memory database alive for the handle's lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{`PRAGMA foreign_keys = ON`, `PRAGMA busy_timeout = 5000`}
	if path != ":memory:" {
		pragmas = append(pragmas, `PRAGMA journal_mode = WAL`)
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, core.Unavailable("sqlite registry: "+p, err)
		}
	}
	s, err := NewSQLiteStore(ctx, db, true)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func classifySQLite(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return nil
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		if strings.Contains(se.Error(), "prompts.name") {
			return core.ErrDuplicateName
		}
		return core.ErrConflict
	}
	return nil
}
