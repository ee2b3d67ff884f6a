package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// sqliteFile is the database file inside a generation directory.
const sqliteFile = "index.db"

// SQLiteBackend stores each index in a local SQLite file and searches it by
// brute force over an in-memory copy of the vectors.
type SQLiteBackend struct{}

// NewSQLiteBackend returns the local file backend.
func NewSQLiteBackend() *SQLiteBackend { return &SQLiteBackend{} }

// Name implements Backend.
func (*SQLiteBackend) Name() string { return "sqlite" }

// Write implements Backend.
func (*SQLiteBackend) Write(ctx context.Context, genDir string, _ *Manifest, recs []Record) error {
	db, err := openSQLite(filepath.Join(genDir, sqliteFile))
	if err != nil {
		return err
	}
	defer db.Close()

	const ddl = `
CREATE TABLE IF NOT EXISTS chunks (
    id        TEXT    PRIMARY KEY,
    position  INTEGER NOT NULL,
    source    TEXT    NOT NULL,
    content   TEXT    NOT NULL,
    vector    BLOB    NOT NULL  -- little-endian float32
);`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("index: sqlite migrate: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: sqlite begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (id, position, source, content, vector) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Position, r.Source, r.Content, encodeVector(r.Vector)); err != nil {
			return fmt.Errorf("index: sqlite insert chunk %d: %w", r.Position, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: sqlite commit: %w", err)
	}
	return nil
}

// Open implements Backend. The whole index is read into memory.
func (*SQLiteBackend) Open(ctx context.Context, genDir string, _ *Manifest) (Store, error) {
	path := filepath.Join(genDir, sqliteFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("index: sqlite stat: %w", err)
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT id, position, source, content, vector FROM chunks ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("index: sqlite query: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var r Record
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Position, &r.Source, &r.Content, &blob); err != nil {
			return nil, fmt.Errorf("index: sqlite scan: %w", err)
		}
		if r.Vector, err = decodeVector(blob); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: sqlite rows: %w", err)
	}
	return &memStore{recs: recs}, nil
}

// Drop implements Backend. The data lives entirely in genDir.
func (*SQLiteBackend) Drop(context.Context, string, *Manifest) error { return nil }

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index: sqlite open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("index: corrupt vector blob of %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// memStore is an immutable in-memory record set searched exhaustively.
type memStore struct {
	recs []Record
}

func (s *memStore) Nearest(_ context.Context, vec []float32, k int) ([]Candidate, error) {
	cands := make([]Candidate, len(s.recs))
	for i, r := range s.recs {
		cands[i] = Candidate{Record: r, Distance: sqDist(vec, r.Vector)}
	}
	// Stable so equal distances keep document order.
	sort.SliceStable(cands, func(a, b int) bool { return cands[a].Distance < cands[b].Distance })
	return cands[:min(k, len(cands))], nil
}

func (s *memStore) Len() int { return len(s.recs) }

func (s *memStore) Close() error { return nil }
