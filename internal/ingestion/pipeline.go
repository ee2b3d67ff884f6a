// Package ingestion implements the document ingestion pipeline.
// It extracts text from an uploaded file, chunks the content, builds the
// document's vector index and registers it so the document becomes
// queryable. Uploads are ingested in the background; the `studycrew ingest`
// command ingests synchronously.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/54b3r/studycrew-go/internal/apperr"
	"github.com/54b3r/studycrew-go/internal/chunker"
	"github.com/54b3r/studycrew-go/internal/extract"
	"github.com/54b3r/studycrew-go/internal/index"
	"github.com/54b3r/studycrew-go/internal/logging"
	"github.com/54b3r/studycrew-go/internal/registry"
	"github.com/54b3r/studycrew-go/internal/store"
)

// DefaultConcurrency is the number of background ingestions allowed to run at once.
const DefaultConcurrency = 2

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Splitter chunks extracted text. Required.
	Splitter *chunker.Splitter

	// Indexer builds the per-document vector index. Required.
	Indexer *index.Adapter

	// Registry receives an entry once a build completes. Required.
	Registry *registry.Registry

	// Catalog records ingestion status. Optional.
	Catalog store.Catalog

	// Concurrency bounds background ingestions started by Submit.
	// Defaults to DefaultConcurrency if zero.
	Concurrency int

	// OnResult is called after every ingestion attempt. Optional.
	OnResult func(name string, res Result)
}

// Result is the outcome of one ingestion.
type Result struct {
	// Name is the document name.
	Name string
	// Status is queryable on success and failed otherwise.
	Status store.Status
	// Chunks is the number of indexed chunks.
	Chunks int
	// Duration is the wall-clock time of the ingestion.
	Duration time.Duration
	// Err is the failure, nil on success.
	Err error
}

// Pipeline orchestrates the extract → chunk → embed → register flow.
type Pipeline struct {
	cfg Config

	// sem bounds concurrent background ingestions.
	sem *semaphore.Weighted

	// wg tracks background ingestions for Wait.
	wg sync.WaitGroup
}

// NewPipeline constructs a Pipeline from the provided config.
func NewPipeline(cfg *Config) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ingestion: config must not be nil")
	}
	if cfg.Splitter == nil {
		return nil, fmt.Errorf("ingestion: splitter must not be nil")
	}
	if cfg.Indexer == nil {
		return nil, fmt.Errorf("ingestion: indexer must not be nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("ingestion: registry must not be nil")
	}
	c := *cfg
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return &Pipeline{cfg: c, sem: semaphore.NewWeighted(int64(c.Concurrency))}, nil
}

// Ingest chunks rawText and builds the index for name, then registers it.
// Ingestion of the same name is serialized with other ingestions and
// deletions of that name. Text that yields no chunks fails with a
// DocumentProcessing error and leaves the registry untouched.
func (p *Pipeline) Ingest(ctx context.Context, name, rawText string) Result {
	start := time.Now()
	res := p.locked(name, func() Result {
		return p.build(ctx, name, rawText, true)
	})
	return p.report(ctx, name, start, res)
}

// IngestFile extracts the text of path and ingests it under the file's stem.
// Extraction runs under the same per-name lock as the build.
func (p *Pipeline) IngestFile(ctx context.Context, path string) Result {
	return p.ingestFile(ctx, path, true)
}

// ingestFile ingests path. A direct ingestion creates the catalog row if it
// is missing. An upload ingestion only updates the row the upload created,
// and is dropped without a report when the file was removed before it got
// the lock.
func (p *Pipeline) ingestFile(ctx context.Context, path string, direct bool) Result {
	start := time.Now()
	name := registry.DocumentName(path)
	removed := false

	res := p.locked(name, func() Result {
		if !direct {
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				removed = true
				return Result{Status: store.StatusFailed, Err: apperr.New(apperr.KindNotFound,
					"ingestion.Submit", "upload %q was removed before ingestion", filepath.Base(path))}
			}
		}
		text, err := extract.Extract(path)
		if err != nil {
			p.record(ctx, name, store.StatusFailed, 0, err.Error(), direct)
			return Result{Status: store.StatusFailed, Err: err}
		}
		return p.build(ctx, name, text, direct)
	})
	if removed {
		res.Name = name
		logging.FromContext(ctx).Info("ingestion: upload removed, skipped",
			slog.String("document", name),
			slog.String("path", path),
		)
		return res
	}
	return p.report(ctx, name, start, res)
}

// locked validates name and runs fn while holding name's registry lock.
func (p *Pipeline) locked(name string, fn func() Result) Result {
	if err := registry.ValidateName(name); err != nil {
		return Result{Status: store.StatusFailed, Err: err}
	}
	unlock := p.cfg.Registry.Lock(name)
	defer unlock()
	return fn()
}

// build chunks and indexes rawText. The caller holds name's lock.
func (p *Pipeline) build(ctx context.Context, name, rawText string, direct bool) Result {
	fail := func(err error) Result {
		p.record(ctx, name, store.StatusFailed, 0, err.Error(), direct)
		return Result{Status: store.StatusFailed, Err: err}
	}

	chunks := p.cfg.Splitter.Split(name, rawText)
	if len(chunks) == 0 {
		return fail(apperr.New(apperr.KindDocumentProcessing, "ingestion.Ingest",
			"document %q produced no content to index", name))
	}

	handle, err := p.cfg.Indexer.Build(ctx, p.cfg.Registry.IndexDir(name), chunks)
	if err != nil {
		return fail(err)
	}

	p.cfg.Registry.Register(registry.Entry{
		Name:       name,
		Handle:     handle,
		UploadedAt: p.uploadedAt(ctx, name),
		Chunks:     len(chunks),
	})
	p.record(ctx, name, store.StatusQueryable, len(chunks), "", direct)

	return Result{Status: store.StatusQueryable, Chunks: len(chunks)}
}

// report fills in name and duration, logs the outcome and calls OnResult.
func (p *Pipeline) report(ctx context.Context, name string, start time.Time, res Result) Result {
	res.Name = name
	res.Duration = time.Since(start)

	log := logging.FromContext(ctx)
	if res.Err != nil {
		log.Error("ingestion: failed",
			slog.String("document", name),
			slog.String("kind", string(apperr.KindOf(res.Err))),
			slog.String("error", res.Err.Error()),
		)
	} else {
		log.Info("ingestion: document queryable",
			slog.String("document", name),
			slog.Int("chunks", res.Chunks),
			slog.Duration("duration", res.Duration),
		)
	}
	if p.cfg.OnResult != nil {
		p.cfg.OnResult(name, res)
	}
	return res
}

// Submit ingests an uploaded file in the background and returns
// immediately. At most Concurrency submissions run at once; the rest wait
// their turn. The ingestion outlives ctx's cancellation but keeps its
// values. If the upload is deleted before its turn, nothing is indexed and
// no catalog row is written.
func (p *Pipeline) Submit(ctx context.Context, path string) {
	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(bg, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		p.ingestFile(bg, path, false)
	}()
}

// Wait blocks until every submitted ingestion has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// record writes the ingestion status to the catalog. When create is set a
// missing row is inserted, for documents ingested without an upload.
func (p *Pipeline) record(ctx context.Context, name string, status store.Status, chunks int, errMsg string, create bool) {
	if p.cfg.Catalog == nil {
		return
	}
	log := logging.FromContext(ctx)

	err := p.cfg.Catalog.SetStatus(ctx, name, status, chunks, errMsg)
	if errors.Is(err, apperr.NotFound) {
		if !create {
			log.Debug("ingestion: catalog row gone, status not recorded", slog.String("document", name))
			return
		}
		err = p.cfg.Catalog.Upsert(ctx, store.Document{
			Name:     name,
			Filename: name,
			Status:   status,
			Chunks:   chunks,
			Error:    errMsg,
		})
	}
	if err != nil {
		log.Warn("ingestion: catalog update failed", slog.String("document", name), slog.String("error", err.Error()))
	}
}

// uploadedAt returns the catalog upload time of name, or now.
func (p *Pipeline) uploadedAt(ctx context.Context, name string) time.Time {
	if p.cfg.Catalog != nil {
		if doc, err := p.cfg.Catalog.Get(ctx, name); err == nil {
			return doc.UploadedAt
		}
	}
	return time.Now()
}
