// Package store provides the SQLite-backed document catalog. The catalog
// records every uploaded document with its ingestion status so listings and
// default-document resolution survive server restarts. It never decides
// queryability on its own: that is the registry's job.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/studycrew-go/internal/apperr"
)

// Status is the ingestion state of a document.
type Status string

const (
	// StatusProcessing means ingestion has been accepted but not finished.
	StatusProcessing Status = "processing"
	// StatusQueryable means the document's index is built and registered.
	StatusQueryable Status = "queryable"
	// StatusFailed means ingestion failed; Error holds the reason.
	StatusFailed Status = "failed"
)

// Document is a catalog row.
type Document struct {
	// Name is the document name (the uploaded file's stem).
	Name string
	// Filename is the uploaded file's base name.
	Filename string
	// Extension is the lower-case extension including the dot.
	Extension string
	// Size is the uploaded file size in bytes.
	Size int64
	// UploadedAt is when the upload (or direct ingestion) was accepted.
	UploadedAt time.Time
	// Status is the ingestion state.
	Status Status
	// Chunks is the number of indexed chunks once queryable.
	Chunks int
	// Error is the failure reason when Status is failed.
	Error string
}

// Catalog persists document metadata. Implementations must be safe for
// concurrent use.
type Catalog interface {
	// Upsert inserts or replaces the row for doc.Name.
	Upsert(ctx context.Context, doc Document) error
	// SetStatus updates the ingestion state of an existing document.
	SetStatus(ctx context.Context, name string, status Status, chunks int, errMsg string) error
	// Get returns one document or a NotFound error.
	Get(ctx context.Context, name string) (Document, error)
	// List returns all documents, most recently uploaded first.
	List(ctx context.Context) ([]Document, error)
	// Delete removes a document and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
	// DeleteAll removes every document and returns how many were removed.
	DeleteAll(ctx context.Context) (int, error)
	// Close releases any resources held by the catalog.
	Close() error
}

// SQLiteStore is a Catalog backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the catalog database.
// It resolves to ~/.studycrew/catalog.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".studycrew")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "catalog.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    name         TEXT    PRIMARY KEY,
    filename     TEXT    NOT NULL,
    extension    TEXT    NOT NULL,
    size         INTEGER NOT NULL DEFAULT 0,
    uploaded_at  INTEGER NOT NULL,  -- Unix timestamp (nanoseconds)
    status       TEXT    NOT NULL CHECK(status IN ('processing','queryable','failed')),
    chunks       INTEGER NOT NULL DEFAULT 0,
    error        TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_documents_uploaded
    ON documents (uploaded_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the row for doc.Name. A zero UploadedAt is
// stamped with the current time.
func (s *SQLiteStore) Upsert(ctx context.Context, doc Document) error {
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now()
	}
	if doc.Status == "" {
		doc.Status = StatusProcessing
	}
	const q = `
INSERT INTO documents (name, filename, extension, size, uploaded_at, status, chunks, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
    filename    = excluded.filename,
    extension   = excluded.extension,
    size        = excluded.size,
    uploaded_at = excluded.uploaded_at,
    status      = excluded.status,
    chunks      = excluded.chunks,
    error       = excluded.error`
	_, err := s.db.ExecContext(ctx, q, doc.Name, doc.Filename, doc.Extension, doc.Size,
		doc.UploadedAt.UnixNano(), string(doc.Status), doc.Chunks, doc.Error)
	if err != nil {
		return fmt.Errorf("store: upsert %q: %w", doc.Name, err)
	}
	return nil
}

// SetStatus updates the ingestion state of an existing document.
func (s *SQLiteStore) SetStatus(ctx context.Context, name string, status Status, chunks int, errMsg string) error {
	const q = `UPDATE documents SET status = ?, chunks = ?, error = ? WHERE name = ?`
	res, err := s.db.ExecContext(ctx, q, string(status), chunks, errMsg, name)
	if err != nil {
		return fmt.Errorf("store: set status %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "store.SetStatus", "document %q not in catalog", name)
	}
	return nil
}

const selectDocument = `SELECT name, filename, extension, size, uploaded_at, status, chunks, error FROM documents`

// Get returns one document or a NotFound error.
func (s *SQLiteStore) Get(ctx context.Context, name string) (Document, error) {
	row := s.db.QueryRowContext(ctx, selectDocument+` WHERE name = ?`, name)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, apperr.New(apperr.KindNotFound, "store.Get", "document %q not in catalog", name)
	}
	if err != nil {
		return Document{}, fmt.Errorf("store: get %q: %w", name, err)
	}
	return doc, nil
}

// List returns all documents, most recently uploaded first.
func (s *SQLiteStore) List(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, selectDocument+` ORDER BY uploaded_at DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return docs, nil
}

// Delete removes a document and reports whether it existed.
func (s *SQLiteStore) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("store: delete %q: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteAll removes every document and returns how many were removed.
func (s *SQLiteStore) DeleteAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents`)
	if err != nil {
		return 0, fmt.Errorf("store: delete all: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(sc scanner) (Document, error) {
	var d Document
	var ts int64
	var status string
	if err := sc.Scan(&d.Name, &d.Filename, &d.Extension, &d.Size, &ts, &status, &d.Chunks, &d.Error); err != nil {
		return Document{}, err
	}
	d.UploadedAt = time.Unix(0, ts)
	d.Status = Status(status)
	return d, nil
}
