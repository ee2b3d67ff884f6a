package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/54b3r/studycrew-go/internal/index"
	"github.com/54b3r/studycrew-go/internal/logging"
)

// thresholdMargin is added to the mean distance to form the dynamic threshold.
const thresholdMargin = 0.3

// Tiers maps distance upper bounds to diagnostic relevance labels.
type Tiers struct {
	// Highly is the bound below which a chunk is highly relevant.
	Highly float64
	// Relevant is the bound below which a chunk is relevant.
	Relevant float64
	// Somewhat is the bound below which a chunk is somewhat relevant.
	Somewhat float64
}

var (
	similarityTiers = Tiers{Highly: 1.0, Relevant: 1.2, Somewhat: 1.5}
	smartTiers      = Tiers{Highly: 0.2, Relevant: 0.5, Somewhat: 1.0}
)

// Label returns the relevance tier for distance d.
func (t Tiers) Label(d float64) string {
	switch {
	case d < t.Highly:
		return "highly relevant"
	case d < t.Relevant:
		return "relevant"
	case d < t.Somewhat:
		return "somewhat relevant"
	default:
		return "possibly relevant"
	}
}

// rankedStrategy implements similarity and smart: top-k, labelled, unfiltered.
type rankedStrategy struct {
	method Method
	tiers  Tiers
}

// NewSimilarity returns the baseline top-k strategy.
func NewSimilarity() Strategy { return &rankedStrategy{method: Similarity, tiers: similarityTiers} }

// NewSmart returns similarity with tighter diagnostic tiers.
func NewSmart() Strategy { return &rankedStrategy{method: Smart, tiers: smartTiers} }

func (s *rankedStrategy) Method() Method { return s.method }

func (s *rankedStrategy) Retrieve(ctx context.Context, idx Searcher, query string, k int) (*Result, error) {
	hits, err := idx.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	threshold := dynamicThreshold(hits)
	passages := make([]Passage, len(hits))
	pieces := make([]string, len(hits))
	for i, h := range hits {
		passages[i] = passage(h)
		passages[i].Tier = s.tiers.Label(h.Distance)
		pieces[i] = h.Content
	}
	logDiagnostics(ctx, s.method, hits, passages, threshold)
	return newResult(s.method, passages, pieces, threshold), nil
}

// mmrStrategy asks the index for a diverse top-k.
type mmrStrategy struct {
	diversity float64
}

// NewMMR returns the diversity-aware strategy with fetch_k = 2k.
func NewMMR(diversity float64) Strategy { return &mmrStrategy{diversity: diversity} }

func (s *mmrStrategy) Method() Method { return MMR }

func (s *mmrStrategy) Retrieve(ctx context.Context, idx Searcher, query string, k int) (*Result, error) {
	hits, err := idx.SearchDiverse(ctx, query, k, 2*k, s.diversity)
	if err != nil {
		return nil, err
	}
	passages := make([]Passage, len(hits))
	pieces := make([]string, len(hits))
	for i, h := range hits {
		passages[i] = passage(h)
		pieces[i] = h.Content
	}
	logging.FromContext(ctx).Debug("retriever: mmr search",
		slog.Int("results", len(hits)),
		slog.Int("fetch_k", 2*k),
		slog.Float64("diversity", s.diversity),
	)
	return newResult(MMR, passages, pieces, 0), nil
}

// detailedStrategy searches by explicit query vector and annotates each
// chunk with its similarity percentage.
type detailedStrategy struct{}

// NewDetailed returns the annotated vector-search strategy.
func NewDetailed() Strategy { return detailedStrategy{} }

func (detailedStrategy) Method() Method { return Detailed }

func (detailedStrategy) Retrieve(ctx context.Context, idx Searcher, query string, k int) (*Result, error) {
	vec, err := idx.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := idx.SearchByVector(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	threshold := dynamicThreshold(hits)
	passages := make([]Passage, len(hits))
	pieces := make([]string, len(hits))
	for i, h := range hits {
		sim := math.Exp(-math.Abs(h.Distance)) * 100
		passages[i] = passage(h)
		passages[i].Similarity = sim
		passages[i].Tier = similarityTiers.Label(h.Distance)
		pieces[i] = Annotate(h.Content, sim)
	}
	logDiagnostics(ctx, Detailed, hits, passages, threshold)
	return newResult(Detailed, passages, pieces, threshold), nil
}

// Annotate prefixes content with its similarity percentage.
func Annotate(content string, similarity float64) string {
	return fmt.Sprintf("[Relevance: %.1f%%]\n%s", similarity, content)
}

func passage(h index.Hit) Passage {
	return Passage{Content: h.Content, Source: h.Source, Position: h.Position, Distance: h.Distance}
}

// dynamicThreshold is mean(|distance|) + 0.3, or zero for no hits.
func dynamicThreshold(hits []index.Hit) float64 {
	if len(hits) == 0 {
		return 0
	}
	var sum float64
	for _, h := range hits {
		sum += math.Abs(h.Distance)
	}
	return sum/float64(len(hits)) + thresholdMargin
}

func logDiagnostics(ctx context.Context, m Method, hits []index.Hit, passages []Passage, threshold float64) {
	log := logging.FromContext(ctx)
	if len(hits) == 0 || !log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, h := range hits {
		lo = math.Min(lo, h.Distance)
		hi = math.Max(hi, h.Distance)
	}
	log.Debug("retriever: distance stats",
		slog.String("strategy", string(m)),
		slog.Int("results", len(hits)),
		slog.Float64("min", lo),
		slog.Float64("max", hi),
		slog.Float64("threshold", threshold),
	)
	for i, p := range passages {
		log.Debug("retriever: result",
			slog.Int("rank", i+1),
			slog.Float64("distance", p.Distance),
			slog.String("tier", p.Tier),
			slog.Bool("above_threshold", p.Distance > threshold),
		)
	}
}
