// Package service exposes the studycrew operations consumed by the HTTP
// server and the CLI: uploading and ingesting documents, answering questions
// against them, listing and deleting them.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/54b3r/studycrew-go/internal/agent"
	"github.com/54b3r/studycrew-go/internal/apperr"
	"github.com/54b3r/studycrew-go/internal/extract"
	"github.com/54b3r/studycrew-go/internal/index"
	"github.com/54b3r/studycrew-go/internal/ingestion"
	"github.com/54b3r/studycrew-go/internal/logging"
	"github.com/54b3r/studycrew-go/internal/registry"
	"github.com/54b3r/studycrew-go/internal/retriever"
	"github.com/54b3r/studycrew-go/internal/store"
)

// DefaultMaxFileSize is the largest accepted upload in bytes.
const DefaultMaxFileSize = 50 << 20

// Crew answers a question from retrieved context. *agent.Orchestrator
// satisfies it.
type Crew interface {
	Process(ctx context.Context, question, docContext string) (*agent.Result, error)
}

// Config holds the dependencies required to construct a Service.
type Config struct {
	// Registry resolves document names to indices. Required.
	Registry *registry.Registry
	// Indexer loads and drops indices. Required.
	Indexer *index.Adapter
	// Retriever ranks chunks for a question. Required.
	Retriever *retriever.Retriever
	// Crew runs the experts and synthesis. Required.
	Crew Crew
	// Pipeline ingests documents. Required.
	Pipeline *ingestion.Pipeline
	// Catalog records uploads. Optional.
	Catalog store.Catalog
	// UploadDir receives uploaded files. Required for Upload.
	UploadDir string
	// MaxFileSize caps uploads. Defaults to DefaultMaxFileSize.
	MaxFileSize int64
	// DefaultMethod is used when a query names no strategy.
	// Defaults to retriever.DefaultMethod.
	DefaultMethod retriever.Method
	// DefaultTopK is used when a query leaves TopK unset.
	// Defaults to retriever.DefaultTopK.
	DefaultTopK int
}

// Service implements the exposed operations.
type Service struct {
	cfg Config
}

// New validates cfg and returns a Service.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("service: config must not be nil")
	}
	switch {
	case cfg.Registry == nil:
		return nil, fmt.Errorf("service: registry must not be nil")
	case cfg.Indexer == nil:
		return nil, fmt.Errorf("service: indexer must not be nil")
	case cfg.Retriever == nil:
		return nil, fmt.Errorf("service: retriever must not be nil")
	case cfg.Crew == nil:
		return nil, fmt.Errorf("service: crew must not be nil")
	case cfg.Pipeline == nil:
		return nil, fmt.Errorf("service: pipeline must not be nil")
	}
	c := *cfg
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.DefaultMethod == "" {
		c.DefaultMethod = retriever.DefaultMethod
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = retriever.DefaultTopK
	}
	return &Service{cfg: c}, nil
}

// Registry returns the document registry.
func (s *Service) Registry() *registry.Registry { return s.cfg.Registry }

// ---------------------------------------------------------------------------
// Query
// ---------------------------------------------------------------------------

// Query is a question against one document.
type Query struct {
	// Document names the document to query. Empty selects the most recently
	// uploaded queryable document.
	Document string `json:"document_name,omitempty"`
	// Question is the student's question.
	Question string `json:"question"`
	// Strategy names the retrieval strategy. Empty selects the default.
	Strategy string `json:"strategy,omitempty"`
	// TopK is the number of chunks to retrieve. Nil selects the default.
	TopK *int `json:"top_k,omitempty"`
}

// Answer is a successful query outcome.
type Answer struct {
	// Document is the document that was queried.
	Document string `json:"document_name"`
	// Strategy is the retrieval strategy that produced the context.
	Strategy retriever.Method `json:"strategy"`
	// Requested is the strategy the caller asked for.
	Requested retriever.Method `json:"requested_strategy"`
	// FellBack reports whether Requested failed and Strategy is its fallback.
	FellBack bool `json:"fell_back"`
	// Context is the retrieved context every expert saw.
	Context string `json:"context"`
	// Passages are the retrieved chunks, best first.
	Passages []retriever.Passage `json:"-"`
	// Experts holds one answer per configured expert, in declared order.
	Experts []agent.ExpertOutput `json:"expert_outputs"`
	// FinalAnswer is the synthesized answer.
	FinalAnswer string `json:"final_answer"`
	// Duration is the end-to-end processing time.
	Duration time.Duration `json:"duration_ns"`
}

// Query answers q. It fails with a validation error on an empty question,
// an unknown strategy or a non-positive TopK; with NotFound when the document
// is unknown or none is registered; and with a DocumentProcessing error
// when retrieval yields no context.
func (s *Service) Query(ctx context.Context, q Query) (*Answer, error) {
	const op = "service.Query"
	start := time.Now()
	log := logging.FromContext(ctx)

	if strings.TrimSpace(q.Question) == "" {
		return nil, apperr.New(apperr.KindValidation, op, "question must not be empty")
	}
	method := s.cfg.DefaultMethod
	if q.Strategy != "" {
		m, err := retriever.ParseMethod(q.Strategy)
		if err != nil {
			return nil, err
		}
		method = m
	}
	k := s.cfg.DefaultTopK
	if q.TopK != nil {
		k = *q.TopK
	}
	if k <= 0 {
		return nil, apperr.New(apperr.KindValidation, op, "top_k must be a positive integer, got %d", k)
	}

	entry, err := s.resolve(q.Document)
	if err != nil {
		return nil, err
	}

	idx, err := s.cfg.Indexer.Load(ctx, entry.Handle)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	res, err := s.cfg.Retriever.Retrieve(ctx, idx, q.Question, method, k)
	if err != nil {
		return nil, err
	}
	if res.Empty() {
		return nil, apperr.New(apperr.KindDocumentProcessing, op, "no relevant context found in %q", entry.Name)
	}
	log.Info("service: context retrieved",
		slog.String("document", entry.Name),
		slog.String("strategy", string(res.Method)),
		slog.Bool("fell_back", res.FellBack),
		slog.Int("passages", len(res.Passages)),
		slog.Int("context_chars", len(res.Context)),
	)

	out, err := s.cfg.Crew.Process(ctx, q.Question, res.Context)
	if err != nil {
		return nil, err
	}

	a := &Answer{
		Document:    entry.Name,
		Strategy:    res.Method,
		Requested:   res.Requested,
		FellBack:    res.FellBack,
		Context:     out.Context,
		Passages:    res.Passages,
		Experts:     out.Experts,
		FinalAnswer: out.FinalAnswer,
		Duration:    time.Since(start),
	}
	log.Info("service: question answered",
		slog.String("document", entry.Name),
		slog.Int("experts", len(a.Experts)),
		slog.Duration("duration", a.Duration),
	)
	return a, nil
}

func (s *Service) resolve(name string) (registry.Entry, error) {
	if strings.TrimSpace(name) == "" {
		return s.cfg.Registry.ResolveDefault()
	}
	return s.cfg.Registry.Lookup(name)
}

// ---------------------------------------------------------------------------
// Ingestion
// ---------------------------------------------------------------------------

// Upload saves r as filename in the upload directory and ingests it in the
// background. A file with the same stem replaces the earlier upload. It
// fails with a validation error on an unsupported extension or a file
// larger than MaxFileSize.
func (s *Service) Upload(ctx context.Context, filename string, r io.Reader, size int64) (store.Document, error) {
	const op = "service.Upload"
	filename = filepath.Base(filename)
	name := registry.DocumentName(filename)
	ext := strings.ToLower(filepath.Ext(filename))

	if err := registry.ValidateName(name); err != nil {
		return store.Document{}, err
	}
	if !extract.Supported(ext) {
		return store.Document{}, apperr.New(apperr.KindValidation, op,
			"file type %q not allowed (allowed: %s)", ext, strings.Join(extract.Extensions(), ", "))
	}
	if size > s.cfg.MaxFileSize {
		return store.Document{}, apperr.New(apperr.KindValidation, op,
			"file is %d bytes, the limit is %d", size, s.cfg.MaxFileSize)
	}
	if s.cfg.UploadDir == "" {
		return store.Document{}, fmt.Errorf("service: upload directory not configured")
	}
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return store.Document{}, fmt.Errorf("service: create upload dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.cfg.UploadDir, ".upload-*")
	if err != nil {
		return store.Document{}, fmt.Errorf("service: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, s.cfg.MaxFileSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("service: write upload: %w", err)
	}
	if n > s.cfg.MaxFileSize {
		return store.Document{}, apperr.New(apperr.KindValidation, op,
			"file exceeds the %d byte limit", s.cfg.MaxFileSize)
	}

	doc := store.Document{
		Name:       name,
		Filename:   filename,
		Extension:  ext,
		Size:       n,
		UploadedAt: time.Now(),
		Status:     store.StatusProcessing,
	}
	dst := filepath.Join(s.cfg.UploadDir, filename)
	if err := s.save(ctx, tmp.Name(), dst, doc); err != nil {
		return store.Document{}, err
	}

	logging.FromContext(ctx).Info("service: upload accepted",
		slog.String("document", name),
		slog.String("filename", filename),
		slog.Int64("bytes", n),
	)
	s.cfg.Pipeline.Submit(ctx, dst)
	return doc, nil
}

// save moves the upload into place and writes its catalog row under the
// document lock, so a concurrent Delete removes both or neither.
func (s *Service) save(ctx context.Context, tmp, dst string, doc store.Document) error {
	unlock := s.cfg.Registry.Lock(doc.Name)
	defer unlock()

	for _, stale := range s.uploads(doc.Name) {
		if filepath.Base(stale) != doc.Filename {
			_ = os.Remove(stale)
		}
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("service: save upload: %w", err)
	}
	if s.cfg.Catalog != nil {
		if err := s.cfg.Catalog.Upsert(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// Ingest indexes rawText as name synchronously.
func (s *Service) Ingest(ctx context.Context, name, rawText string) ingestion.Result {
	return s.cfg.Pipeline.Ingest(ctx, name, rawText)
}

// IngestFile extracts and indexes the file at path synchronously.
func (s *Service) IngestFile(ctx context.Context, path string) ingestion.Result {
	return s.cfg.Pipeline.IngestFile(ctx, path)
}

// Wait blocks until background ingestions have finished.
func (s *Service) Wait() { s.cfg.Pipeline.Wait() }

// uploads returns the saved upload files whose stem is name.
func (s *Service) uploads(name string) []string {
	if s.cfg.UploadDir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.cfg.UploadDir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".upload-") {
			continue
		}
		if registry.DocumentName(e.Name()) == name {
			out = append(out, filepath.Join(s.cfg.UploadDir, e.Name()))
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

// DocumentInfo describes one known document.
type DocumentInfo struct {
	Name       string       `json:"name"`
	Filename   string       `json:"filename,omitempty"`
	Extension  string       `json:"extension,omitempty"`
	Size       int64        `json:"size"`
	UploadedAt time.Time    `json:"uploaded_at"`
	Status     store.Status `json:"status"`
	Chunks     int          `json:"chunks"`
	Error      string       `json:"error,omitempty"`
	Queryable  bool         `json:"queryable"`
}

// ListDocuments returns every known document, most recently uploaded first.
// Queryable reflects the registry, not the catalog.
func (s *Service) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	byName := map[string]*DocumentInfo{}
	if s.cfg.Catalog != nil {
		docs, err := s.cfg.Catalog.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			byName[d.Name] = &DocumentInfo{
				Name:       d.Name,
				Filename:   d.Filename,
				Extension:  d.Extension,
				Size:       d.Size,
				UploadedAt: d.UploadedAt,
				Status:     d.Status,
				Chunks:     d.Chunks,
				Error:      d.Error,
			}
		}
	}
	for _, e := range s.cfg.Registry.List() {
		info, ok := byName[e.Name]
		if !ok {
			info = &DocumentInfo{Name: e.Name, UploadedAt: e.UploadedAt, Chunks: e.Chunks}
			byName[e.Name] = info
		}
		info.Queryable = true
		info.Status = store.StatusQueryable
	}

	out := make([]DocumentInfo, 0, len(byName))
	for _, info := range byName {
		out = append(out, *info)
	}
	slices.SortFunc(out, func(a, b DocumentInfo) int {
		if c := b.UploadedAt.Compare(a.UploadedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Delete removes name's registry entry, index storage, uploaded file and
// catalog row. It fails with NotFound when nothing of name exists.
func (s *Service) Delete(ctx context.Context, name string) error {
	const op = "service.Delete"
	if err := registry.ValidateName(name); err != nil {
		return err
	}

	unlock := s.cfg.Registry.Lock(name)
	defer unlock()

	found := false
	handle := index.Handle(s.cfg.Registry.IndexDir(name))
	if e, err := s.cfg.Registry.Lookup(name); err == nil {
		handle = e.Handle
	}
	if err := s.cfg.Indexer.Drop(ctx, handle); err != nil {
		logging.FromContext(ctx).Warn("service: dropping index storage failed",
			slog.String("document", name), slog.String("error", err.Error()))
	}
	switch err := s.cfg.Registry.Unregister(name); {
	case err == nil:
		found = true
	case !errors.Is(err, apperr.NotFound):
		return err
	}

	for _, path := range s.uploads(name) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("service: remove upload %s: %w", filepath.Base(path), err)
		}
		found = true
	}
	if s.cfg.Catalog != nil {
		existed, err := s.cfg.Catalog.Delete(ctx, name)
		if err != nil {
			return err
		}
		found = found || existed
	}

	if !found {
		return apperr.New(apperr.KindNotFound, op, "document %q not found", name)
	}
	logging.FromContext(ctx).Info("service: document deleted", slog.String("document", name))
	return nil
}

// DeleteAll deletes every known document and returns how many were removed.
func (s *Service) DeleteAll(ctx context.Context) (int, error) {
	docs, err := s.ListDocuments(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range docs {
		err := s.Delete(ctx, d.Name)
		if errors.Is(err, apperr.NotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Status values reported by Status.
const (
	StateReady       = "ready"
	StateNoDocuments = "no_documents"
)

// StatusReport summarizes what can be queried.
type StatusReport struct {
	Status    string   `json:"status"`
	Documents []string `json:"documents"`
	Default   string   `json:"default_document,omitempty"`
}

// Status reports whether any document is queryable.
func (s *Service) Status() StatusReport {
	names := s.cfg.Registry.Names()
	if len(names) == 0 {
		return StatusReport{Status: StateNoDocuments, Documents: []string{}}
	}
	rep := StatusReport{Status: StateReady, Documents: names}
	if e, err := s.cfg.Registry.ResolveDefault(); err == nil {
		rep.Default = e.Name
	}
	return rep
}

// Restore registers every index already on disk and marks catalog rows
// left processing by an interrupted run as failed. Call once at startup.
func (s *Service) Restore(ctx context.Context) (int, error) {
	var uploadedAt func(string) (time.Time, bool)
	if s.cfg.Catalog != nil {
		uploadedAt = func(name string) (time.Time, bool) {
			d, err := s.cfg.Catalog.Get(ctx, name)
			if err != nil {
				return time.Time{}, false
			}
			return d.UploadedAt, true
		}
	}
	n, err := s.cfg.Registry.Scan(ctx, uploadedAt)
	if err != nil {
		return 0, err
	}
	if s.cfg.Catalog == nil {
		return n, nil
	}

	docs, err := s.cfg.Catalog.List(ctx)
	if err != nil {
		return n, err
	}
	for _, d := range docs {
		if d.Status != store.StatusProcessing {
			continue
		}
		status, msg := store.StatusFailed, "ingestion interrupted"
		if e, err := s.cfg.Registry.Lookup(d.Name); err == nil {
			status, msg = store.StatusQueryable, ""
			d.Chunks = e.Chunks
		}
		if err := s.cfg.Catalog.SetStatus(ctx, d.Name, status, d.Chunks, msg); err != nil {
			return n, err
		}
	}
	return n, nil
}
