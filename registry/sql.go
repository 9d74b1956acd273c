package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/klejdi94/promptlib/core"
)

// dialect holds the SQL differences between the supported engines.
type dialect struct {
	name string
	// schema is executed statement by statement when tables are created.
	schema []string
	// rebind rewrites ? placeholders for the engine.
	rebind func(q string) string
	// timeArg encodes a timestamp parameter.
	timeArg func(t time.Time) interface{}
	// lower is the SQL function folding text to lower case the way
	// strings.ToLower does.
	lower string
	// orderID is the expression used for the id tie-break.
	orderID string
	// lockSuffix is appended to row-locking selects.
	lockSuffix string
	// classify maps a driver constraint error to a core sentinel, or nil.
	classify func(err error) error
}

// SQLStore stores prompts in a relational database (PostgreSQL or SQLite).
type SQLStore struct {
	db *sql.DB
	d  dialect
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, createTables bool) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d}
	if createTables {
		if err := s.createTables(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *SQLStore) createTables(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s registry: create tables: %w", s.d.name, err)
		}
	}
	return nil
}

// Kind implements Store.
func (s *SQLStore) Kind() string { return s.d.name }

// DB returns the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Close closes the underlying handle.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Unavailable(op, fmt.Errorf("begin transaction: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return s.wrap(op, err)
	}
	if err := tx.Commit(); err != nil {
		return s.wrap(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *SQLStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if c := s.d.classify(err); c != nil {
		return c
	}
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		return err
	}
	return core.Unavailable(op, err)
}

// Insert implements Store.
func (s *SQLStore) Insert(ctx context.Context, p *core.Prompt, v *core.PromptVersion) error {
	if err := validateInsert(p, v); err != nil {
		return err
	}
	return s.withTx(ctx, "insert prompt", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.d.rebind(`INSERT INTO prompts
			(id, name, display_name, description, item_type, status, current_version_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)`),
			p.ID, p.Name, p.DisplayName, nullString(p.Description), string(p.ItemType), string(p.Status),
			s.d.timeArg(p.CreatedAt), s.d.timeArg(p.UpdatedAt))
		if err != nil {
			return err
		}
		if err := s.insertVersion(ctx, tx, v); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.d.rebind(`UPDATE prompts SET current_version_id = ? WHERE id = ?`), v.ID, p.ID); err != nil {
			return err
		}
		return s.writeTags(ctx, tx, p.ID, p.Tags)
	})
}

func (s *SQLStore) insertVersion(ctx context.Context, tx *sql.Tx, v *core.PromptVersion) error {
	var approvedAt interface{}
	if v.ApprovedAt != nil {
		approvedAt = s.d.timeArg(*v.ApprovedAt)
	}
	_, err := tx.ExecContext(ctx, s.d.rebind(`INSERT INTO prompt_versions
		(id, prompt_id, version_number, status, content, input_schema, parameters, notes, created_by, approved_by, created_at, updated_at, approved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		v.ID, v.PromptID, v.VersionNumber, string(v.Status), v.Content,
		nullJSON(v.InputSchema), nullJSON(v.Parameters), nullString(v.Notes),
		nullString(v.CreatedBy), nullString(v.ApprovedBy),
		s.d.timeArg(v.CreatedAt), s.d.timeArg(v.UpdatedAt), approvedAt)
	return err
}

func (s *SQLStore) writeTags(ctx context.Context, tx *sql.Tx, promptID string, tags []string) error {
	for i, tag := range tags {
		if _, err := tx.ExecContext(ctx, s.d.rebind(`INSERT INTO prompt_tags (prompt_id, tag, position) VALUES (?, ?, ?)`),
			promptID, tag, i); err != nil {
			return err
		}
	}
	return nil
}

const selectPrompt = `SELECT p.id, p.name, p.display_name, p.description, p.item_type, p.status, p.current_version_id,
	p.created_at, p.updated_at,
	v.id, v.version_number, v.status, v.content, v.input_schema, v.parameters, v.notes,
	v.created_by, v.approved_by, v.created_at, v.updated_at, v.approved_at
	FROM prompts p LEFT JOIN prompt_versions v ON v.id = p.current_version_id`

// GetPrompt implements Store.
func (s *SQLStore) GetPrompt(ctx context.Context, id string) (*core.Prompt, error) {
	return s.getOne(ctx, "get prompt", selectPrompt+` WHERE p.id = ?`, id)
}

// GetPromptByName implements Store.
func (s *SQLStore) GetPromptByName(ctx context.Context, name string) (*core.Prompt, error) {
	return s.getOne(ctx, "get prompt by name", selectPrompt+` WHERE p.name = ?`, name)
}

func (s *SQLStore) getOne(ctx context.Context, op, q string, arg string) (*core.Prompt, error) {
	ps, err := s.queryPrompts(ctx, s.db, s.d.rebind(q), arg)
	if err != nil {
		return nil, core.Unavailable(op, err)
	}
	if len(ps) == 0 {
		return nil, core.ErrNotFound
	}
	return ps[0], nil
}

// QueryPrompts implements Store.
func (s *SQLStore) QueryPrompts(ctx context.Context, q Query) ([]*core.Prompt, error) {
	var b strings.Builder
	b.WriteString(selectPrompt)
	b.WriteString(` WHERE 1=1`)
	args := []interface{}{}
	if !q.UpdatedAfter.IsZero() {
		b.WriteString(` AND p.updated_at > ?`)
		args = append(args, s.d.timeArg(q.UpdatedAfter))
	}
	if !q.UpdatedAtOrBefore.IsZero() {
		b.WriteString(` AND p.updated_at <= ?`)
		args = append(args, s.d.timeArg(q.UpdatedAtOrBefore))
	}
	if q.ItemType != "" {
		b.WriteString(` AND p.item_type = ?`)
		args = append(args, string(q.ItemType))
	}
	if tags := core.NormalizeTags(q.Tags); len(tags) > 0 {
		b.WriteString(` AND (SELECT COUNT(*) FROM prompt_tags t WHERE t.prompt_id = p.id AND t.tag IN (` + placeholders(len(tags)) + `)) = ?`)
		for _, t := range tags {
			args = append(args, t)
		}
		args = append(args, len(tags))
	}
	if q.Match != "" {
		pattern := likePattern(q.Match)
		lower := s.d.lower
		b.WriteString(` AND (` + lower + `(p.display_name) LIKE ? ESCAPE '\'
			OR ` + lower + `(COALESCE(p.description, '')) LIKE ? ESCAPE '\'
			OR ` + lower + `(COALESCE(v.content, '')) LIKE ? ESCAPE '\'
			OR EXISTS (SELECT 1 FROM prompt_tags t WHERE t.prompt_id = p.id AND ` + lower + `(t.tag) LIKE ? ESCAPE '\'))`)
		args = append(args, pattern, pattern, pattern, pattern)
	}
	b.WriteString(` ORDER BY p.updated_at DESC, ` + s.d.orderID + ` DESC`)
	if q.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}
	ps, err := s.queryPrompts(ctx, s.db, s.d.rebind(b.String()), args...)
	if err != nil {
		return nil, core.Unavailable("query prompts", err)
	}
	return ps, nil
}

func (s *SQLStore) queryPrompts(ctx context.Context, qr querier, q string, args ...interface{}) ([]*core.Prompt, error) {
	rows, err := qr.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*core.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}
	ids := make([]string, len(out))
	for i, p := range out {
		ids[i] = p.ID
	}
	tags, err := s.loadTags(ctx, qr, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range out {
		p.Tags = tags[p.ID]
		if p.Tags == nil {
			p.Tags = []string{}
		}
	}
	return out, nil
}

func (s *SQLStore) loadTags(ctx context.Context, qr querier, ids []string) (map[string][]string, error) {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := qr.QueryContext(ctx, s.d.rebind(`SELECT prompt_id, tag FROM prompt_tags WHERE prompt_id IN (`+placeholders(len(ids))+`) ORDER BY prompt_id, position`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]string, len(ids))
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, err
		}
		out[id] = append(out[id], tag)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrompt(r rowScanner) (*core.Prompt, error) {
	var p core.Prompt
	var desc, currentID sql.NullString
	var itemType, status string
	var pCreated, pUpdated sqlTime
	var vID, vStatus, vContent, vSchema, vParams sql.NullString
	var vNotes, vCreatedBy, vApprovedBy sql.NullString
	var vNumber sql.NullInt64
	var vCreated, vUpdated, vApproved sqlTime
	if err := r.Scan(&p.ID, &p.Name, &p.DisplayName, &desc, &itemType, &status, &currentID,
		&pCreated, &pUpdated,
		&vID, &vNumber, &vStatus, &vContent, &vSchema, &vParams, &vNotes,
		&vCreatedBy, &vApprovedBy, &vCreated, &vUpdated, &vApproved); err != nil {
		return nil, err
	}
	p.Description = desc.String
	p.ItemType = core.ItemType(itemType)
	p.Status = core.PromptStatus(status)
	p.CurrentVersionID = currentID.String
	p.CreatedAt = pCreated.Time
	p.UpdatedAt = pUpdated.Time
	if vID.Valid {
		v := &core.PromptVersion{
			ID:            vID.String,
			PromptID:      p.ID,
			VersionNumber: int(vNumber.Int64),
			Status:        core.VersionStatus(vStatus.String),
			Content:       vContent.String,
			InputSchema:   rawJSON(vSchema),
			Parameters:    rawJSON(vParams),
			Notes:         vNotes.String,
			CreatedBy:     vCreatedBy.String,
			ApprovedBy:    vApprovedBy.String,
			CreatedAt:     vCreated.Time,
			UpdatedAt:     vUpdated.Time,
		}
		if vApproved.Valid {
			t := vApproved.Time
			v.ApprovedAt = &t
		}
		p.CurrentVersion = v
	}
	return &p, nil
}

// ListVersions implements Store.
func (s *SQLStore) ListVersions(ctx context.Context, promptID string) ([]*core.PromptVersion, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT 1 FROM prompts WHERE id = ?`), promptID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.Unavailable("list versions", err)
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT id, prompt_id, version_number, status, content, input_schema, parameters,
		notes, created_by, approved_by, created_at, updated_at, approved_at
		FROM prompt_versions WHERE prompt_id = ? ORDER BY version_number`), promptID)
	if err != nil {
		return nil, core.Unavailable("list versions", err)
	}
	defer rows.Close()
	var out []*core.PromptVersion
	for rows.Next() {
		var v core.PromptVersion
		var status string
		var schema, params, notes, by, apprBy sql.NullString
		var created, updated, approved sqlTime
		if err := rows.Scan(&v.ID, &v.PromptID, &v.VersionNumber, &status, &v.Content, &schema, &params,
			&notes, &by, &apprBy, &created, &updated, &approved); err != nil {
			return nil, core.Unavailable("list versions", err)
		}
		v.Status = core.VersionStatus(status)
		v.InputSchema = rawJSON(schema)
		v.Parameters = rawJSON(params)
		v.Notes = notes.String
		v.CreatedBy = by.String
		v.ApprovedBy = apprBy.String
		v.CreatedAt = created.Time
		v.UpdatedAt = updated.Time
		if approved.Valid {
			t := approved.Time
			v.ApprovedAt = &t
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Unavailable("list versions", err)
	}
	return out, nil
}

// AppendVersion implements Store.
func (s *SQLStore) AppendVersion(ctx context.Context, v *core.PromptVersion) error {
	if v == nil || v.ID == "" {
		return &core.ValidationError{Field: "id", Message: "version id is required"}
	}
	return s.withTx(ctx, "append version", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.d.rebind(`SELECT 1 FROM prompts WHERE id = ?`+s.d.lockSuffix), v.PromptID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		var last int
		if err := tx.QueryRowContext(ctx, s.d.rebind(`SELECT COALESCE(MAX(version_number), 0) FROM prompt_versions WHERE prompt_id = ?`),
			v.PromptID).Scan(&last); err != nil {
			return err
		}
		v.VersionNumber = last + 1
		return s.insertVersion(ctx, tx, v)
	})
}

// UpdateVersion implements Store.
func (s *SQLStore) UpdateVersion(ctx context.Context, v *core.PromptVersion, makeCurrent bool, at time.Time) error {
	return s.withTx(ctx, "update version", func(tx *sql.Tx) error {
		var approvedAt interface{}
		if v.ApprovedAt != nil {
			approvedAt = s.d.timeArg(*v.ApprovedAt)
		}
		res, err := tx.ExecContext(ctx, s.d.rebind(`UPDATE prompt_versions SET status = ?, approved_by = ?, approved_at = ?, updated_at = ?
			WHERE id = ? AND prompt_id = ?`),
			string(v.Status), nullString(v.ApprovedBy), approvedAt, s.d.timeArg(v.UpdatedAt), v.ID, v.PromptID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrNotFound
		}
		if !makeCurrent {
			return nil
		}
		_, err = tx.ExecContext(ctx, s.d.rebind(`UPDATE prompts SET current_version_id = ?, updated_at = ? WHERE id = ?`),
			v.ID, s.d.timeArg(at), v.PromptID)
		return err
	})
}

// UpdatePrompt implements Store.
func (s *SQLStore) UpdatePrompt(ctx context.Context, p *core.Prompt) error {
	return s.withTx(ctx, "update prompt", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.d.rebind(`UPDATE prompts SET display_name = ?, description = ?, item_type = ?, status = ?, updated_at = ?
			WHERE id = ?`),
			p.DisplayName, nullString(p.Description), string(p.ItemType), string(p.Status), s.d.timeArg(p.UpdatedAt), p.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, s.d.rebind(`DELETE FROM prompt_tags WHERE prompt_id = ?`), p.ID); err != nil {
			return err
		}
		return s.writeTags(ctx, tx, p.ID, p.Tags)
	})
}

// DeletePrompt implements Store.
func (s *SQLStore) DeletePrompt(ctx context.Context, id string) error {
	return s.withTx(ctx, "delete prompt", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.d.rebind(`DELETE FROM prompt_tags WHERE prompt_id = ?`), id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.d.rebind(`DELETE FROM prompt_versions WHERE prompt_id = ?`), id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.d.rebind(`DELETE FROM prompts WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrNotFound
		}
		return nil
	})
}

// Count implements Store.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prompts`).Scan(&n); err != nil {
		return 0, core.Unavailable("count prompts", err)
	}
	return n, nil
}

// sqlTime scans timestamps stored natively (PostgreSQL) or as text (SQLite).
type sqlTime struct {
	Time  time.Time
	Valid bool
}

const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

func (t *sqlTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (t *sqlTime) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	t.Time, t.Valid = parsed.UTC(), true
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawJSON(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// likePattern escapes LIKE metacharacters in s and wraps it for substring matching.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// dollarRebind rewrites ? placeholders to $1, $2, ...
func dollarRebind(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for _, r := range q {
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
