// Package embedder provides implementations of the index.Embedder interface
// for converting text into dense vector embeddings. Ollama, OpenAI and Azure
// OpenAI are reached over plain HTTP, Gemini through the genai SDK, and a
// deterministic local hashing embedder needs no backend at all.
package embedder

import (
	"context"
	"errors"
	"fmt"

	"github.com/54b3r/studycrew-go/internal/apperr"
)

// defaultBatchSize is the number of texts sent per embedding request.
const defaultBatchSize = 64

// classify maps a transport error to BackendTimeout when a deadline was hit
// and BackendUnavailable otherwise.
func classify(op string, err error, format string, args ...any) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindBackendTimeout, op, err, format, args...)
	}
	return apperr.Wrap(apperr.KindBackendUnavailable, op, err, format, args...)
}

// inBatches calls fn on consecutive slices of texts of at most size items and
// concatenates the results. fn must return one vector per input text.
func inBatches(ctx context.Context, texts []string, size int, fn func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if size <= 0 {
		size = defaultBatchSize
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder: expected %d embeddings, got %d", end-start, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}
