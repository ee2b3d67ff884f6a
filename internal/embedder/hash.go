package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// DefaultHashDimensions is the vector length of the local hashing embedder.
const DefaultHashDimensions = 384

// tokenPattern matches runs of letters or digits.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// HashEmbedder is a deterministic bag-of-words embedder. Each token and each
// adjacent token pair is hashed into a fixed-size signed vector which is then
// L2-normalized. It needs no backend, so it serves offline use and tests.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of dims length.
// Non-positive dims selects DefaultHashDimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Model returns the name recorded in index manifests.
func (e *HashEmbedder) Model() string { return "local/hash" }

// Embed converts texts into embeddings. It never fails.
func (e *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, e.dims)
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func (e *HashEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dims)) //nolint:gosec // modulo keeps it in range
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
