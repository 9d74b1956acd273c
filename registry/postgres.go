package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/klejdi94/promptlib/core"
	"github.com/lib/pq"
)

const pgNameConstraint = "idx_prompts_name_unique"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS prompts (
		id TEXT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		display_name VARCHAR(255) NOT NULL,
		description TEXT,
		item_type VARCHAR(32) NOT NULL DEFAULT 'prompt',
		status VARCHAR(32) NOT NULL DEFAULT 'active',
		current_version_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT ` + pgNameConstraint + ` UNIQUE (name),
		CONSTRAINT chk_prompts_status CHECK (status IN ('active', 'archived')),
		CONSTRAINT chk_prompts_item_type CHECK (item_type IN ('prompt', 'snippet', 'faq'))
	)`,
	`CREATE TABLE IF NOT EXISTS prompt_versions (
		id TEXT PRIMARY KEY,
		prompt_id TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
		version_number INTEGER NOT NULL,
		status VARCHAR(32) NOT NULL DEFAULT 'approved',
		content TEXT NOT NULL,
		input_schema JSONB,
		parameters JSONB,
		notes TEXT,
		created_by TEXT,
		approved_by TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		approved_at TIMESTAMPTZ,
		CONSTRAINT uq_prompt_versions_prompt_version UNIQUE (prompt_id, version_number),
		CONSTRAINT chk_prompt_versions_status CHECK (status IN ('draft', 'pending_approval', 'approved', 'rejected', 'deprecated'))
	)`,
	`CREATE TABLE IF NOT EXISTS prompt_tags (
		prompt_id TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
		tag VARCHAR(64) NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (prompt_id, tag)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_prompts_updated_at ON prompts (updated_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_prompts_item_type ON prompts (item_type)`,
	`CREATE INDEX IF NOT EXISTS idx_prompt_tags_tag ON prompt_tags (tag)`,
}

var postgresDialect = dialect{
	name:       "postgres",
	schema:     postgresSchema,
	rebind:     dollarRebind,
	timeArg:    func(t time.Time) interface{} { return t.UTC() },
	lower:      "lower",
	orderID:    `p.id COLLATE "C"`,
	lockSuffix: ` FOR UPDATE`,
	classify:   classifyPostgres,
}

// NewPostgresStore creates a store on db (driver "postgres"). If createTables
// is true the schema is created when missing.
func NewPostgresStore(ctx context.Context, db *sql.DB, createTables bool) (*SQLStore, error) {
	return newSQLStore(ctx, db, postgresDialect, createTables)
}

// OpenPostgres opens dsn with lib/pq, pings it and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres registry: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, core.Unavailable("postgres registry: ping", err)
	}
	s, err := NewPostgresStore(ctx, db, true)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func classifyPostgres(err error) error {
	var pe *pq.Error
	if !errors.As(err, &pe) {
		return nil
	}
	if pe.Code.Name() != "unique_violation" {
		return nil
	}
	if pe.Constraint == pgNameConstraint {
		return core.ErrDuplicateName
	}
	return core.ErrConflict
}
