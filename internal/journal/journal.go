// Package journal records applied save edits in SQLite so the history of a
// file can be listed across editing sessions.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// ErrNotConfigured indicates a nil or closed store.
var ErrNotConfigured = errors.New("journal: storage is not configured")

// Entry is one applied write. Digest identifies the file the edit was
// applied to and Result the file it produced.
type Entry struct {
	ID        int64
	Digest    string
	Result    string
	Template  string
	Path      string
	Key       string
	Offset    int
	Old       []byte
	New       []byte
	CreatedAt time.Time
}

// Digest fingerprints a save buffer.
func Digest(buf []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(buf))
}

// Store is a SQLite-backed journal.
type Store struct {
	sqlDB *sql.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}

	return s.sqlDB.Close()
}

// Append stores entries in one transaction.
func (s *Store) Append(ctx context.Context, entries ...Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return ErrNotConfigured
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, e := range entries {
		if e.Digest == "" || e.Result == "" {
			return fmt.Errorf("entry %q: digest and result are required", e.Key)
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}

		_, err := tx.ExecContext(ctx, `
INSERT INTO edits (
	digest,
	result,
	template,
	path,
	item_key,
	item_offset,
	old_bytes,
	new_bytes,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			e.Digest,
			e.Result,
			e.Template,
			e.Path,
			e.Key,
			e.Offset,
			nonNil(e.Old),
			nonNil(e.New),
			e.CreatedAt.UTC().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("append %q: %w", e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// List returns the edits that produced the file with the given digest,
// following earlier sessions back to the first recorded one, oldest first.
func (s *Store) List(ctx context.Context, digest string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, ErrNotConfigured
	}

	var (
		out  []Entry
		seen = map[string]bool{}
	)
	for digest != "" && !seen[digest] {
		seen[digest] = true

		batch, err := s.produced(ctx, digest)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		out = append(batch, out...)
		digest = batch[0].Digest
	}

	return out, nil
}

// produced returns the most recent session's edits that resulted in digest.
func (s *Store) produced(ctx context.Context, digest string) ([]Entry, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	id,
	digest,
	result,
	template,
	path,
	item_key,
	item_offset,
	old_bytes,
	new_bytes,
	created_at
FROM edits
WHERE result = ?
  AND digest = (SELECT digest FROM edits WHERE result = ? ORDER BY id DESC LIMIT 1)
ORDER BY id ASC
`, digest, digest)
	if err != nil {
		return nil, fmt.Errorf("list edits: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Digest, &e.Result, &e.Template, &e.Path,
			&e.Key, &e.Offset, &e.Old, &e.New, &created); err != nil {
			return nil, fmt.Errorf("scan edit: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edits: %w", err)
	}

	return out, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}

	return b
}
