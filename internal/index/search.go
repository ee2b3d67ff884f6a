package index

import (
	"context"
	"math"

	"github.com/54b3r/studycrew-go/internal/apperr"
)

// Index is a loaded, read-only vector index bound to the embedder that
// serves its queries. It is safe for concurrent use.
type Index struct {
	handle   Handle
	manifest Manifest
	store    Store
	embedder Embedder
}

// Handle returns the location the index was loaded from.
func (i *Index) Handle() Handle { return i.handle }

// Manifest returns a copy of the index manifest.
func (i *Index) Manifest() Manifest { return i.manifest }

// Len returns the number of stored chunks.
func (i *Index) Len() int { return i.store.Len() }

// Close releases the underlying store.
func (i *Index) Close() error { return i.store.Close() }

// EmbedQuery embeds text with the index's embedder and normalizes it.
func (i *Index) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	const op = "index.EmbedQuery"
	vecs, err := i.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, backendErr(op, err, "embedding query")
	}
	if len(vecs) != 1 {
		return nil, apperr.New(apperr.KindBackendUnavailable, op, "embedder returned %d vectors for 1 query", len(vecs))
	}
	if len(vecs[0]) != i.manifest.Dimensions {
		return nil, apperr.New(apperr.KindBackendUnavailable, op,
			"query embedding has %d dimensions, index has %d", len(vecs[0]), i.manifest.Dimensions)
	}
	if !finite(vecs[0]) {
		return nil, apperr.New(apperr.KindBackendUnavailable, op, "embedder returned a non-finite query vector")
	}
	return normalize(vecs[0]), nil
}

// Search returns up to k hits for query, best first.
func (i *Index) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if err := checkK("index.Search", k); err != nil {
		return nil, err
	}
	vec, err := i.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return i.searchVector(ctx, vec, k)
}

// SearchByVector returns up to k hits for a precomputed query vector.
func (i *Index) SearchByVector(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	const op = "index.SearchByVector"
	if err := checkK(op, k); err != nil {
		return nil, err
	}
	if len(vec) != i.manifest.Dimensions {
		return nil, apperr.New(apperr.KindValidation, op, "vector has %d dimensions, index has %d", len(vec), i.manifest.Dimensions)
	}
	return i.searchVector(ctx, normalize(vec), k)
}

func (i *Index) searchVector(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	cands, err := i.store.Nearest(ctx, vec, k)
	if err != nil {
		return nil, backendErr("index.Search", err, "nearest neighbour query")
	}
	hits := make([]Hit, len(cands))
	for j, c := range cands {
		hits[j] = toHit(c)
	}
	return hits, nil
}

// SearchDiverse runs maximal marginal relevance over the fetchK nearest
// chunks and returns up to k of them in selection order. diversity in [0, 1]
// weights redundancy against relevance: 0 is pure relevance ranking.
func (i *Index) SearchDiverse(ctx context.Context, query string, k, fetchK int, diversity float64) ([]Hit, error) {
	const op = "index.SearchDiverse"
	if err := checkK(op, k); err != nil {
		return nil, err
	}
	if diversity < 0 || diversity > 1 || math.IsNaN(diversity) {
		return nil, apperr.New(apperr.KindValidation, op, "diversity must be in [0, 1], got %v", diversity)
	}
	fetchK = max(fetchK, k)

	vec, err := i.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	cands, err := i.store.Nearest(ctx, vec, fetchK)
	if err != nil {
		return nil, backendErr(op, err, "nearest neighbour query")
	}

	picked := mmr(cands, k, diversity)
	hits := make([]Hit, len(picked))
	for j, c := range picked {
		hits[j] = toHit(c)
	}
	return hits, nil
}

// mmr greedily selects up to k candidates maximising
// (1-d)*sim(query, c) - d*max sim(c, selected).
// Candidates must carry unit vectors and squared L2 distances to the query,
// so sim(query, c) = 1 - distance/2.
func mmr(cands []Candidate, k int, d float64) []Candidate {
	k = min(k, len(cands))
	selected := make([]Candidate, 0, k)
	used := make([]bool, len(cands))
	// maxSim[j] tracks the highest similarity of candidate j to any selected one.
	maxSim := make([]float64, len(cands))
	for j := range maxSim {
		maxSim[j] = math.Inf(-1)
	}

	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for j, c := range cands {
			if used[j] {
				continue
			}
			redundancy := maxSim[j]
			if len(selected) == 0 {
				redundancy = 0
			}
			score := (1-d)*(1-c.Distance/2) - d*redundancy
			if score > bestScore {
				best, bestScore = j, score
			}
		}
		if best < 0 {
			// Only NaN scores remain.
			break
		}
		used[best] = true
		selected = append(selected, cands[best])
		for j, c := range cands {
			if used[j] {
				continue
			}
			if s := dot(c.Record.Vector, cands[best].Record.Vector); s > maxSim[j] {
				maxSim[j] = s
			}
		}
	}
	return selected
}

func toHit(c Candidate) Hit {
	return Hit{
		Content:  c.Record.Content,
		Source:   c.Record.Source,
		Position: c.Record.Position,
		Distance: math.Max(0, c.Distance),
	}
}

func checkK(op string, k int) error {
	if k <= 0 {
		return apperr.New(apperr.KindValidation, op, "k must be positive, got %d", k)
	}
	return nil
}
