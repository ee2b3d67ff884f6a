package index

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// CollectionPrefix is prepended to every collection name (default: studycrew).
	CollectionPrefix string

	// BatchSize caps the points sent per upsert request
	// (default: DefaultQdrantBatchSize).
	BatchSize int
}

// DefaultQdrantBatchSize keeps a batch of 768-dimension points well under
// Qdrant's default 32 MiB request limit.
const DefaultQdrantBatchSize = 256

// QdrantBackend stores each index generation in its own Qdrant collection.
// The collection name is recorded in the manifest.
type QdrantBackend struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// prefix is prepended to collection names.
	prefix string

	// batchSize caps the points per upsert request.
	batchSize int
}

// NewQdrantBackend connects to Qdrant.
func NewQdrantBackend(cfg *QdrantConfig) (*QdrantBackend, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = "studycrew"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultQdrantBatchSize
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return &QdrantBackend{client: client, prefix: cfg.CollectionPrefix, batchSize: cfg.BatchSize}, nil
}

// Name implements Backend.
func (*QdrantBackend) Name() string { return "qdrant" }

var unsafeCollectionChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// collectionName derives a collection name unique to a document generation.
func (b *QdrantBackend) collectionName(m *Manifest) string {
	doc := strings.Trim(unsafeCollectionChars.ReplaceAllString(m.Document, "_"), "_")
	if doc == "" {
		doc = "doc"
	}
	return b.prefix + "_" + doc + "_" + m.Generation
}

// Write implements Backend. It creates a fresh collection and upserts recs.
func (b *QdrantBackend) Write(ctx context.Context, _ string, m *Manifest, recs []Record) error {
	name := b.collectionName(m)
	err := b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(m.Dimensions), //nolint:gosec // dimensions are positive
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
	}

	wait := true
	err = upsertBatches(ctx, recs, b.batchSize, func(ctx context.Context, points []*qdrant.PointStruct) error {
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           &wait,
			Points:         points,
		})
		return err
	})
	if err != nil {
		_ = b.client.DeleteCollection(ctx, name)
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	m.Collection = name
	return nil
}

// upsertBatches converts recs to points and hands them to upsert in
// consecutive slices of at most size points, stopping at the first error.
func upsertBatches(ctx context.Context, recs []Record, size int, upsert func(context.Context, []*qdrant.PointStruct) error) error {
	if size <= 0 {
		size = DefaultQdrantBatchSize
	}
	for start := 0; start < len(recs); start += size {
		end := min(start+size, len(recs))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, r := range recs[start:end] {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(r.ID),
				Vectors: qdrant.NewVectors(r.Vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"content":  r.Content,
					"source":   r.Source,
					"position": int64(r.Position),
				}),
			})
		}
		if err := upsert(ctx, points); err != nil {
			return fmt.Errorf("points %d-%d: %w", start, end-1, err)
		}
	}
	return nil
}

// Open implements Backend.
func (b *QdrantBackend) Open(ctx context.Context, _ string, m *Manifest) (Store, error) {
	exact := true
	n, err := b.client.Count(ctx, &qdrant.CountPoints{CollectionName: m.Collection, Exact: &exact})
	if err != nil {
		return nil, fmt.Errorf("qdrant: count %q: %w", m.Collection, err)
	}
	return &qdrantStore{client: b.client, collection: m.Collection, n: int(n)}, nil //nolint:gosec // chunk counts fit in int
}

// Drop implements Backend. It deletes the generation's collection.
func (b *QdrantBackend) Drop(ctx context.Context, _ string, m *Manifest) error {
	if m.Collection == "" {
		return nil
	}
	if err := b.client.DeleteCollection(ctx, m.Collection); err != nil {
		return fmt.Errorf("qdrant: delete collection %q: %w", m.Collection, err)
	}
	return nil
}

// Ping checks that the Qdrant server is reachable.
func (b *QdrantBackend) Ping(ctx context.Context) error {
	if _, err := b.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

// qdrantStore searches one collection.
type qdrantStore struct {
	client     *qdrant.Client
	collection string
	n          int
}

// Nearest converts Qdrant cosine scores to squared L2 distance between unit
// vectors: d = 2(1 - cos).
func (s *qdrantStore) Nearest(ctx context.Context, vec []float32, k int) ([]Candidate, error) {
	limit := uint64(k) //nolint:gosec // k is validated positive
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	cands := make([]Candidate, 0, len(results))
	for _, p := range results {
		r := Record{ID: p.GetId().GetUuid()}
		if pl := p.GetPayload(); pl != nil {
			r.Content = pl["content"].GetStringValue()
			r.Source = pl["source"].GetStringValue()
			r.Position = int(pl["position"].GetIntegerValue())
		}
		out := p.GetVectors().GetVector()
		data := out.GetDense().GetData()
		if len(data) == 0 {
			data = out.GetData() //nolint:staticcheck // older servers only fill the deprecated field
		}
		r.Vector = normalize(data)
		cands = append(cands, Candidate{Record: r, Distance: max(0, 2*(1-float64(p.GetScore())))})
	}
	return cands, nil
}

func (s *qdrantStore) Len() int { return s.n }

func (s *qdrantStore) Close() error { return nil }
