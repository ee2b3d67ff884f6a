package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/studycrew-go/internal/agent"
	"github.com/54b3r/studycrew-go/internal/chunker"
	"github.com/54b3r/studycrew-go/internal/config"
	"github.com/54b3r/studycrew-go/internal/embedder"
	"github.com/54b3r/studycrew-go/internal/index"
	"github.com/54b3r/studycrew-go/internal/ingestion"
	"github.com/54b3r/studycrew-go/internal/provider"
	"github.com/54b3r/studycrew-go/internal/registry"
	"github.com/54b3r/studycrew-go/internal/retriever"
	"github.com/54b3r/studycrew-go/internal/server"
	"github.com/54b3r/studycrew-go/internal/service"
	"github.com/54b3r/studycrew-go/internal/store"
)

// app holds everything a command needs after wiring.
type app struct {
	settings *config.Settings
	provider *provider.Config
	svc      *service.Service
	catalog  *store.SQLiteStore
	// qdrant is nil unless INDEX_BACKEND=qdrant.
	qdrant *index.QdrantBackend
}

// Close releases the catalog and the Qdrant connection.
func (a *app) Close() {
	if a.qdrant != nil {
		_ = a.qdrant.Close()
	}
	if a.catalog != nil {
		_ = a.catalog.Close()
	}
}

// buildApp resolves settings from the environment and wires the service.
// metrics may be nil, in which case no observation hooks are installed.
func buildApp(ctx context.Context, log *slog.Logger, metrics *server.Metrics) (*app, error) {
	settings, err := config.SettingsFromEnv()
	if err != nil {
		return nil, err
	}
	a := &app{settings: settings, provider: provider.ConfigFromEnv()}

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("provider", getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))))

	indexer, err := a.buildIndexer(emb, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := a.openCatalog(log); err != nil {
		a.Close()
		return nil, err
	}

	splitter, err := chunker.New(settings.ChunkSize, settings.ChunkOverlap)
	if err != nil {
		a.Close()
		return nil, err
	}

	rcfg := retriever.Config{Diversity: settings.Diversity}
	if metrics != nil {
		rcfg.OnFallback = metrics.ObserveFallback
	}
	ret, err := retriever.New(rcfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	crew, err := a.buildCrew(metrics)
	if err != nil {
		a.Close()
		return nil, err
	}

	reg := registry.New(settings.IndexDir)
	pcfg := &ingestion.Config{
		Splitter:    splitter,
		Indexer:     indexer,
		Registry:    reg,
		Catalog:     a.catalog,
		Concurrency: ingestion.DefaultConcurrency,
	}
	if metrics != nil {
		pcfg.OnResult = metrics.ObserveIngestion
	}
	pipeline, err := ingestion.NewPipeline(pcfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.svc, err = service.New(&service.Config{
		Registry:      reg,
		Indexer:       indexer,
		Retriever:     ret,
		Crew:          crew,
		Pipeline:      pipeline,
		Catalog:       a.catalog,
		UploadDir:     settings.UploadDir,
		MaxFileSize:   settings.MaxFileSize,
		DefaultMethod: settings.SearchMethod,
		DefaultTopK:   settings.TopK,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	n, err := a.svc.Restore(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to restore document indices: %w", err)
	}
	log.Info("documents restored", slog.Int("count", n), slog.String("index_dir", settings.IndexDir))

	return a, nil
}

// buildIndexer selects the vector backend new indices are written to. The
// SQLite backend is always registered so indices built before a switch to
// Qdrant stay loadable.
func (a *app) buildIndexer(emb index.Embedder, log *slog.Logger) (*index.Adapter, error) {
	sqlite := index.NewSQLiteBackend()
	if a.settings.IndexBackend != "qdrant" {
		return index.NewAdapter(emb, sqlite)
	}

	qb, err := index.NewQdrantBackend(qdrantConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	a.qdrant = qb
	log.Info("index backend initialised", slog.String("backend", qb.Name()))
	return index.NewAdapter(emb, qb, sqlite)
}

// openCatalog opens the document catalog at STUDYCREW_CATALOG_DB or the
// default path under the user's home directory.
func (a *app) openCatalog(log *slog.Logger) error {
	path := a.settings.CatalogDB
	if path == "" {
		var err error
		if path, err = store.DefaultDBPath(); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
	}
	cat, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	a.catalog = cat
	log.Info("catalog: store opened", slog.String("path", path))
	return nil
}

// buildCrew constructs the orchestrator. Each role gets its own model via
// the provider factory; roles without an override use the provider default.
func (a *app) buildCrew(metrics *server.Metrics) (*agent.Orchestrator, error) {
	base := a.provider
	backend := agent.NewEinoBackend(func(ctx context.Context, modelName string) (model.BaseChatModel, error) {
		return provider.New(ctx, base.WithModel(modelName))
	})

	synth := agent.WithModels([]agent.Role{agent.DefaultSynthesizer()}, a.settings.RoleModels)[0]
	cfg := &agent.Config{
		Backend:          backend,
		Experts:          agent.WithModels(agent.DefaultExperts(), a.settings.RoleModels),
		Synthesizer:      &synth,
		Workers:          a.settings.Workers,
		MaxContextTokens: a.settings.MaxContextTokens,
	}
	if metrics != nil {
		cfg.OnTask = metrics.ObserveTask
	}
	return agent.New(cfg)
}

// qdrantConfigFromEnv reads the QDRANT_* variables.
func qdrantConfigFromEnv() *index.QdrantConfig {
	return &index.QdrantConfig{
		Host:             getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:             getEnvInt("QDRANT_PORT", 6334),
		APIKey:           os.Getenv("QDRANT_API_KEY"),
		UseTLS:           strings.EqualFold(os.Getenv("QDRANT_TLS"), "true"),
		CollectionPrefix: getEnvOrDefault("QDRANT_COLLECTION_PREFIX", "studycrew"),
		BatchSize:        getEnvInt("QDRANT_BATCH_SIZE", index.DefaultQdrantBatchSize),
	}
}

// getEnvOrDefault returns the value of the environment variable key, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the environment variable key, or
// fallback if the variable is unset, empty, or not a valid integer.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
