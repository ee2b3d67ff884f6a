// Package registry maps document names to their persisted vector indices.
//
// A Registry is an explicit object injected wherever documents are resolved.
// Reads and writes are synchronized, and a per-name lock serializes ingestion
// and deletion of the same document. An entry is registered only after its
// index build has completed, so every registered name is queryable.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/54b3r/studycrew-go/internal/apperr"
	"github.com/54b3r/studycrew-go/internal/index"
	"github.com/54b3r/studycrew-go/internal/logging"
)

// indexSuffix is appended to a document name to form its index directory.
const indexSuffix = "_index"

// Entry is one registered, queryable document.
type Entry struct {
	// Name is the document name.
	Name string
	// Handle locates the document's index.
	Handle index.Handle
	// UploadedAt orders documents for default resolution.
	UploadedAt time.Time
	// Chunks is the number of indexed chunks.
	Chunks int
}

// Registry is the in-process document registry. The zero value is not usable;
// construct with New.
type Registry struct {
	// root is the directory holding every <name>_index directory.
	root string

	mu      sync.RWMutex
	entries map[string]Entry

	locks keyedMutex
}

// New returns an empty registry rooted at root.
func New(root string) *Registry {
	return &Registry{
		root:    root,
		entries: make(map[string]Entry),
		locks:   keyedMutex{m: make(map[string]*refMutex)},
	}
}

// Root returns the index root directory.
func (r *Registry) Root() string { return r.root }

// IndexDir returns the index directory for name under root.
func IndexDir(root, name string) string {
	return filepath.Join(root, name+indexSuffix)
}

// DocumentName derives a document name from an uploaded filename: its stem.
func DocumentName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ValidateName rejects names that cannot safely name a directory.
func ValidateName(name string) error {
	const op = "registry.ValidateName"
	switch {
	case strings.TrimSpace(name) == "":
		return apperr.New(apperr.KindValidation, op, "document name must not be empty")
	case name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return apperr.New(apperr.KindValidation, op, "invalid document name %q", name)
	}
	return nil
}

// IndexDir returns the index directory for name.
func (r *Registry) IndexDir(name string) string { return IndexDir(r.root, name) }

// Lock acquires the per-name lock and returns its release function.
// Ingestion and deletion of the same name must hold it.
func (r *Registry) Lock(name string) (unlock func()) {
	return r.locks.lock(name)
}

// Register adds or replaces an entry. Call only after the index build for
// e.Name has completed.
func (r *Registry) Register(e Entry) {
	if e.Handle == "" {
		e.Handle = index.Handle(r.IndexDir(e.Name))
	}
	r.mu.Lock()
	r.entries[e.Name] = e
	r.mu.Unlock()
}

// Unregister removes the entry and deletes its index directory. It fails
// with NotFound when name is not registered; the directory is removed
// regardless.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	delete(r.entries, name)
	r.mu.Unlock()

	dir := r.IndexDir(name)
	if ok {
		dir = e.Handle.Dir()
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("registry: remove %s: %w", dir, err)
	}
	if !ok {
		return notFound("registry.Unregister", name)
	}
	return nil
}

// Lookup returns the entry for name. An entry whose index directory has
// vanished is dropped and reported as NotFound.
func (r *Registry) Lookup(name string) (Entry, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Entry{}, notFound("registry.Lookup", name)
	}
	if _, err := os.Stat(filepath.Join(e.Handle.Dir(), index.ManifestFile)); err != nil {
		r.drop(name, e.Handle)
		return Entry{}, notFound("registry.Lookup", name)
	}
	return e, nil
}

// ResolveDefault returns the most recently uploaded document. It fails with
// NotFound when the registry is empty.
func (r *Registry) ResolveDefault() (Entry, error) {
	entries := r.List()
	if len(entries) == 0 {
		return Entry{}, apperr.New(apperr.KindNotFound, "registry.ResolveDefault", "no documents available, upload one first")
	}
	return entries[0], nil
}

// List returns all entries, most recently uploaded first.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int {
		if c := b.UploadedAt.Compare(a.UploadedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Names returns the registered document names, most recent first.
func (r *Registry) Names() []string {
	entries := r.List()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// Len returns the number of registered documents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Scan registers every complete index under root. uploadedAt supplies the
// upload time for a name; when it reports false the manifest build time is
// used. Empty or unreadable indices are skipped. It returns the number of
// entries registered.
func (r *Registry) Scan(ctx context.Context, uploadedAt func(name string) (time.Time, bool)) (int, error) {
	log := logging.FromContext(ctx)

	dirents, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("registry: scan %s: %w", r.root, err)
	}

	n := 0
	for _, d := range dirents {
		if !d.IsDir() || !strings.HasSuffix(d.Name(), indexSuffix) {
			continue
		}
		name := strings.TrimSuffix(d.Name(), indexSuffix)
		if ValidateName(name) != nil {
			continue
		}
		dir := filepath.Join(r.root, d.Name())
		m, err := index.ReadManifest(dir)
		if err != nil {
			log.Warn("registry: skipping index without manifest", slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		if m.Chunks == 0 {
			log.Warn("registry: skipping empty index", slog.String("dir", dir))
			continue
		}

		ts := m.CreatedAt
		if uploadedAt != nil {
			if t, ok := uploadedAt(name); ok {
				ts = t
			}
		}
		r.Register(Entry{Name: name, Handle: index.Handle(dir), UploadedAt: ts, Chunks: m.Chunks})
		n++
	}

	log.Info("registry: scan complete", slog.String("root", r.root), slog.Int("documents", n))
	return n, nil
}

// drop removes name only if it still points at handle, so a concurrent
// re-registration is not lost.
func (r *Registry) drop(name string, handle index.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok && filepath.Clean(e.Handle.Dir()) == filepath.Clean(handle.Dir()) {
		delete(r.entries, name)
	}
}

func notFound(op, name string) error {
	return apperr.New(apperr.KindNotFound, op, "document %q not found", name)
}

// keyedMutex hands out one mutex per key and frees it when unused.
type keyedMutex struct {
	mu sync.Mutex
	m  map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	rm, ok := k.m[key]
	if !ok {
		rm = &refMutex{}
		k.m[key] = rm
	}
	rm.refs++
	k.mu.Unlock()

	rm.Lock()
	return func() {
		rm.Unlock()
		k.mu.Lock()
		rm.refs--
		if rm.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
