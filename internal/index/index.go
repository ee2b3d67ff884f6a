// Package index builds, persists and searches one vector index per document.
//
// An index lives in its own directory. The directory holds manifest.yaml and
// one generation subdirectory with the backend's data. A build writes a new
// generation and then atomically replaces manifest.yaml, so readers only ever
// see a complete index. Distances are squared L2 between unit vectors: a
// non-negative number where lower means more similar and an identical text
// scores approximately zero.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/studycrew-go/internal/apperr"
	"github.com/54b3r/studycrew-go/internal/chunker"
	"github.com/54b3r/studycrew-go/internal/logging"
)

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// modelNamer is implemented by embedders that can name their model.
type modelNamer interface {
	Model() string
}

// Handle locates a persisted index. It is the index directory path.
type Handle string

// Dir returns the index directory.
func (h Handle) Dir() string { return string(h) }

// Record is one stored chunk with its embedding.
type Record struct {
	// ID is a deterministic UUID derived from the source and position.
	ID string
	// Content is the chunk text.
	Content string
	// Source is the document name.
	Source string
	// Position is the chunk ordinal within the document.
	Position int
	// Vector is the unit-normalized embedding.
	Vector []float32
}

// Hit is a search result.
type Hit struct {
	// Content is the chunk text.
	Content string
	// Source is the document name.
	Source string
	// Position is the chunk ordinal within the document.
	Position int
	// Distance is non-negative; lower is more similar.
	Distance float64
}

// Candidate is a backend search result carrying the stored vector.
type Candidate struct {
	// Record is the stored chunk.
	Record Record
	// Distance is the squared L2 distance to the query vector.
	Distance float64
}

// Backend persists records and opens stores over them.
type Backend interface {
	// Name identifies the backend in manifests.
	Name() string
	// Write persists recs for the index described by m into genDir.
	Write(ctx context.Context, genDir string, m *Manifest, recs []Record) error
	// Open returns a Store over a generation previously written by Write.
	Open(ctx context.Context, genDir string, m *Manifest) (Store, error)
	// Drop releases backend resources held by a generation. The caller
	// removes genDir itself.
	Drop(ctx context.Context, genDir string, m *Manifest) error
}

// Store answers nearest-neighbour queries over one index generation.
type Store interface {
	// Nearest returns up to k candidates ordered by ascending distance.
	Nearest(ctx context.Context, vec []float32, k int) ([]Candidate, error)
	// Len returns the number of stored records.
	Len() int
	// Close releases resources held by the store.
	Close() error
}

// Adapter builds and loads indices. It is safe for concurrent use.
type Adapter struct {
	// embedder embeds chunks at build time and queries at search time.
	embedder Embedder
	// backend persists newly built indices.
	backend Backend
	// backends maps a manifest backend name to the implementation that opens it.
	backends map[string]Backend
}

// NewAdapter constructs an Adapter that builds with backend. Additional
// backends may be supplied so indices built earlier with them stay loadable.
func NewAdapter(embedder Embedder, backend Backend, others ...Backend) (*Adapter, error) {
	if embedder == nil {
		return nil, fmt.Errorf("index: embedder must not be nil")
	}
	if backend == nil {
		return nil, fmt.Errorf("index: backend must not be nil")
	}
	a := &Adapter{embedder: embedder, backend: backend, backends: map[string]Backend{}}
	for _, b := range append([]Backend{backend}, others...) {
		a.backends[b.Name()] = b
	}
	return a, nil
}

// Backend returns the name of the backend new indices are built with.
func (a *Adapter) Backend() string { return a.backend.Name() }

// Build embeds chunks and persists them as the index at dir, replacing any
// index already there. Readers observe either the previous index or the new
// one, never a partial build. An empty chunk set fails with a
// DocumentProcessing error.
func (a *Adapter) Build(ctx context.Context, dir string, chunks []chunker.Chunk) (Handle, error) {
	const op = "index.Build"
	if len(chunks) == 0 {
		return "", apperr.New(apperr.KindDocumentProcessing, op, "no chunks to index for %s", filepath.Base(dir))
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := a.embedder.Embed(ctx, texts)
	if err != nil {
		return "", backendErr(op, err, "embedding %d chunks", len(chunks))
	}
	if len(vecs) != len(chunks) {
		return "", apperr.New(apperr.KindBackendUnavailable, op, "embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}

	dims := len(vecs[0])
	recs := make([]Record, len(chunks))
	for i, c := range chunks {
		if len(vecs[i]) != dims || dims == 0 {
			return "", apperr.New(apperr.KindBackendUnavailable, op, "embedder returned inconsistent dimensions (%d vs %d)", len(vecs[i]), dims)
		}
		if !finite(vecs[i]) {
			return "", apperr.New(apperr.KindBackendUnavailable, op, "embedder returned a non-finite vector for chunk %d", c.Position)
		}
		recs[i] = Record{
			ID:       ChunkID(c.Source, c.Position),
			Content:  c.Content,
			Source:   c.Source,
			Position: c.Position,
			Vector:   normalize(vecs[i]),
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("index: create %s: %w", dir, err)
	}
	previous, _ := readManifest(dir)

	m := &Manifest{
		Version:    manifestVersion,
		Document:   chunks[0].Source,
		Backend:    a.backend.Name(),
		Model:      modelName(a.embedder),
		Dimensions: dims,
		Chunks:     len(recs),
		Generation: strconv.FormatInt(time.Now().UnixNano(), 36),
		CreatedAt:  time.Now().UTC(),
	}
	genDir := filepath.Join(dir, m.Generation)
	if err := os.MkdirAll(genDir, 0o755); err != nil {
		return "", fmt.Errorf("index: create generation dir: %w", err)
	}
	if err := a.backend.Write(ctx, genDir, m, recs); err != nil {
		_ = os.RemoveAll(genDir)
		return "", backendErr(op, err, "writing %s index", a.backend.Name())
	}
	if err := writeManifest(dir, m); err != nil {
		_ = a.backend.Drop(ctx, genDir, m)
		_ = os.RemoveAll(genDir)
		return "", err
	}

	a.prune(ctx, dir, m.Generation, previous)
	return Handle(dir), nil
}

// prune removes every generation in dir other than keep. Failures are logged
// and otherwise ignored: stale generations are unreachable once the manifest
// has moved on.
func (a *Adapter) prune(ctx context.Context, dir, keep string, previous *Manifest) {
	log := logging.FromContext(ctx)
	if previous != nil && previous.Generation != keep {
		if b, ok := a.backends[previous.Backend]; ok {
			if err := b.Drop(ctx, filepath.Join(dir, previous.Generation), previous); err != nil {
				log.Warn("index: drop previous generation failed", slog.String("dir", dir), slog.String("error", err.Error()))
			}
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			log.Warn("index: remove stale generation failed", slog.String("path", e.Name()), slog.String("error", err.Error()))
		}
	}
}

// Load opens the index at handle. It fails with NotFound when no complete
// index exists there and with DocumentProcessing when the index is empty.
func (a *Adapter) Load(ctx context.Context, handle Handle) (*Index, error) {
	const op = "index.Load"
	m, err := readManifest(handle.Dir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.New(apperr.KindNotFound, op, "no index at %s", handle.Dir())
		}
		return nil, apperr.Wrap(apperr.KindDocumentProcessing, op, err, "reading manifest")
	}
	if m.Chunks == 0 {
		return nil, apperr.New(apperr.KindDocumentProcessing, op, "index at %s is empty", handle.Dir())
	}

	b, ok := a.backends[m.Backend]
	if !ok {
		return nil, apperr.New(apperr.KindBackendUnavailable, op, "index built with unconfigured backend %q", m.Backend)
	}
	if model := modelName(a.embedder); model != m.Model {
		logging.FromContext(ctx).Warn("index: embedding model differs from the one the index was built with",
			slog.String("index", handle.Dir()),
			slog.String("built_with", m.Model),
			slog.String("current", model),
		)
	}

	st, err := b.Open(ctx, filepath.Join(handle.Dir(), m.Generation), m)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Wrap(apperr.KindNotFound, op, err, "index data missing at %s", handle.Dir())
		}
		return nil, backendErr(op, err, "opening %s index", m.Backend)
	}
	if st.Len() == 0 {
		_ = st.Close()
		return nil, apperr.New(apperr.KindDocumentProcessing, op, "index at %s is empty", handle.Dir())
	}

	return &Index{handle: handle, manifest: *m, store: st, embedder: a.embedder}, nil
}

// Drop releases backend resources for the index at handle without removing
// the directory. Missing indices are not an error.
func (a *Adapter) Drop(ctx context.Context, handle Handle) error {
	m, err := readManifest(handle.Dir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	b, ok := a.backends[m.Backend]
	if !ok {
		return nil
	}
	return b.Drop(ctx, filepath.Join(handle.Dir(), m.Generation), m)
}

// ChunkID returns the deterministic point ID of a chunk.
func ChunkID(source string, position int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("studycrew://"+source+"#"+strconv.Itoa(position))).String()
}

func modelName(e Embedder) string {
	if n, ok := e.(modelNamer); ok {
		return n.Model()
	}
	return fmt.Sprintf("%T", e)
}

// backendErr keeps classified errors and marks anything else as a backend failure.
func backendErr(op string, err error, format string, args ...any) error {
	if apperr.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindBackendTimeout, op, err, format, args...)
	}
	return apperr.Wrap(apperr.KindBackendUnavailable, op, err, format, args...)
}

// normalize returns v scaled to unit length. Zero vectors are returned as is.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// finite reports whether every component of v is a finite number.
func finite(v []float32) bool {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}

// sqDist is the squared Euclidean distance between a and b.
func sqDist(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return s
}

// dot is the inner product of a and b.
func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
