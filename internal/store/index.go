package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"zenify/pkg/streamlink"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	media_id   TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_created_at ON artifacts(created_at);
`

// Entry records one stored artifact.
type Entry struct {
	ID        streamlink.MediaID
	Path      string
	CreatedAt time.Time
}

// index is the persistent MediaID -> artifact table.
type index struct {
	db *sql.DB
}

func openIndex(ctx context.Context, path string) (*index, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(ctx, indexSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &index{db: db}, nil
}

func (x *index) close() error {
	return x.db.Close()
}

// put records entry, replacing any previous row for the same id.
func (x *index) put(ctx context.Context, entry Entry) error {
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO artifacts (media_id, path, created_at) VALUES (?, ?, ?)
		ON CONFLICT(media_id) DO UPDATE SET path = excluded.path, created_at = excluded.created_at`,
		entry.ID.String(), entry.Path, entry.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert artifact %s: %w", entry.ID, err)
	}
	return nil
}

func (x *index) get(ctx context.Context, id streamlink.MediaID) (Entry, bool, error) {
	row := x.db.QueryRowContext(ctx,
		`SELECT media_id, path, created_at FROM artifacts WHERE media_id = ?`, id.String())

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("query artifact %s: %w", id, err)
	}
	return entry, true, nil
}

// remove deletes the row of entry only if it has not been replaced since it was read.
func (x *index) remove(ctx context.Context, entry Entry) error {
	_, err := x.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE media_id = ? AND created_at = ?`,
		entry.ID.String(), entry.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("delete artifact %s: %w", entry.ID, err)
	}
	return nil
}

// olderThan lists entries created before cutoff.
func (x *index) olderThan(ctx context.Context, cutoff time.Time) ([]Entry, error) {
	return x.query(ctx,
		`SELECT media_id, path, created_at FROM artifacts WHERE created_at < ? ORDER BY created_at`,
		cutoff.UnixNano())
}

func (x *index) all(ctx context.Context) ([]Entry, error) {
	return x.query(ctx, `SELECT media_id, path, created_at FROM artifacts ORDER BY created_at`)
}

func (x *index) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		id        string
		path      string
		createdAt int64
	)
	if err := s.Scan(&id, &path, &createdAt); err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:        streamlink.MediaID(id),
		Path:      path,
		CreatedAt: time.Unix(0, createdAt),
	}, nil
}
