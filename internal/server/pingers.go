package server

import (
	"context"
	"fmt"

	"github.com/54b3r/studycrew-go/internal/index"
	"github.com/54b3r/studycrew-go/internal/provider"
)

// LLMPinger probes a chat model backend with its zero-cost health endpoint.
// It satisfies the Pinger interface and is used by GET /api/ready.
type LLMPinger struct {
	// healthCheck is the backend probe; nil when the backend offers none.
	healthCheck provider.HealthCheckConfig
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given probe and backend name.
func NewLLMPinger(hc provider.HealthCheckConfig, name string) *LLMPinger {
	return &LLMPinger{healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping runs the backend health check. Backends without a free probe (ark,
// gemini) report healthy rather than spend tokens on a generate call.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck == nil {
		return nil
	}
	if err := p.healthCheck.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// QdrantPinger probes the Qdrant index backend using its native HealthCheck RPC.
type QdrantPinger struct {
	// backend is the Qdrant index backend to probe.
	backend *index.QdrantBackend
}

// NewQdrantPinger constructs a QdrantPinger for the given backend.
func NewQdrantPinger(b *index.QdrantBackend) *QdrantPinger {
	return &QdrantPinger{backend: b}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if err := p.backend.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// CatalogPinger probes the document catalog database.
type CatalogPinger struct {
	catalog interface{ Ping(context.Context) error }
}

// NewCatalogPinger constructs a CatalogPinger. *store.SQLiteStore satisfies c.
func NewCatalogPinger(c interface{ Ping(context.Context) error }) *CatalogPinger {
	return &CatalogPinger{catalog: c}
}

// Name returns the dependency label used in readiness responses.
func (p *CatalogPinger) Name() string { return "catalog" }

// Ping checks the catalog connection.
func (p *CatalogPinger) Ping(ctx context.Context) error {
	return p.catalog.Ping(ctx)
}
