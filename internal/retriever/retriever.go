// Package retriever turns a question and a loaded document index into ranked
// context for the expert crew.
//
// Four strategies are available: similarity, mmr, detailed and smart. Each
// returns passages in the index's native rank order and joins them into one
// context string with blank lines. Relevance thresholds are computed for
// diagnostics only; every strategy returns all k results unfiltered.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/studycrew-go/internal/apperr"
	"github.com/54b3r/studycrew-go/internal/index"
	"github.com/54b3r/studycrew-go/internal/logging"
)

// Method names a retrieval strategy.
type Method string

const (
	// Similarity returns the top-k nearest chunks.
	Similarity Method = "similarity"
	// MMR returns a diverse top-k via maximal marginal relevance.
	MMR Method = "mmr"
	// Detailed searches by explicit query vector and annotates each chunk
	// with a similarity percentage.
	Detailed Method = "detailed"
	// Smart is similarity with tighter diagnostic relevance tiers.
	Smart Method = "smart"
)

const (
	// DefaultTopK is the number of chunks retrieved when the caller does not say.
	DefaultTopK = 4
	// DefaultDiversity is the MMR diversity factor.
	DefaultDiversity = 0.7
	// DefaultMethod is used when a request names no strategy.
	DefaultMethod = Smart
	// contextSeparator joins passages into the context string.
	contextSeparator = "\n\n"
)

// Methods returns every supported strategy name.
func Methods() []Method {
	return []Method{Similarity, MMR, Detailed, Smart}
}

// ParseMethod validates a strategy name. An empty string selects DefaultMethod.
func ParseMethod(s string) (Method, error) {
	if s == "" {
		return DefaultMethod, nil
	}
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Methods() {
		if m == known {
			return m, nil
		}
	}
	valid := make([]string, 0, 4)
	for _, known := range Methods() {
		valid = append(valid, string(known))
	}
	return "", apperr.New(apperr.KindValidation, "retriever.ParseMethod",
		"unknown search strategy %q (valid options: %s)", s, strings.Join(valid, ", "))
}

// Searcher is the index surface the strategies need. *index.Index satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]index.Hit, error)
	SearchByVector(ctx context.Context, vec []float32, k int) ([]index.Hit, error)
	SearchDiverse(ctx context.Context, query string, k, fetchK int, diversity float64) ([]index.Hit, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Passage is one retrieved chunk with its relevance signals.
type Passage struct {
	// Content is the chunk text as stored.
	Content string
	// Source is the document the chunk came from.
	Source string
	// Position is the chunk ordinal within the document.
	Position int
	// Distance is the index distance; lower is more similar. Zero for mmr,
	// whose adapter contract returns chunks only.
	Distance float64
	// Tier is the diagnostic relevance label. Empty when not computed.
	Tier string
	// Similarity is exp(-|distance|)*100, set by the detailed strategy.
	Similarity float64
}

// Result is an immutable retrieval outcome.
type Result struct {
	// Method is the strategy that produced the passages.
	Method Method
	// Requested is the strategy the caller asked for.
	Requested Method
	// FellBack is true when Requested failed and Method is its fallback.
	FellBack bool
	// Passages are ordered best first.
	Passages []Passage
	// Context is the passages' text joined by blank lines, in order.
	Context string
	// Threshold is the diagnostic dynamic threshold, mean(|distance|)+0.3.
	Threshold float64
}

// Empty reports whether the result carries no usable context.
func (r *Result) Empty() bool {
	return r == nil || strings.TrimSpace(r.Context) == ""
}

// Strategy is one ranking method.
type Strategy interface {
	// Method names the strategy.
	Method() Method
	// Retrieve runs the strategy against s.
	Retrieve(ctx context.Context, s Searcher, query string, k int) (*Result, error)
}

// Policy pairs a strategy with an optional fallback run when it fails.
type Policy struct {
	// Primary runs first.
	Primary Strategy
	// Fallback runs when Primary fails. Nil propagates the failure.
	Fallback Strategy
}

// Run executes the policy. When the primary fails and a fallback exists the
// fallback's outcome is returned with FellBack set.
func (p Policy) Run(ctx context.Context, s Searcher, query string, k int) (*Result, error) {
	res, err := p.Primary.Retrieve(ctx, s, query, k)
	if err == nil {
		res.Requested = p.Primary.Method()
		return res, nil
	}
	if p.Fallback == nil {
		return nil, err
	}

	logging.FromContext(ctx).Warn("retriever: strategy failed, falling back",
		slog.String("strategy", string(p.Primary.Method())),
		slog.String("fallback", string(p.Fallback.Method())),
		slog.String("error", err.Error()),
	)
	res, ferr := p.Fallback.Retrieve(ctx, s, query, k)
	if ferr != nil {
		return nil, fmt.Errorf("retriever: %s failed (%v), fallback %s: %w", p.Primary.Method(), err, p.Fallback.Method(), ferr)
	}
	res.Requested = p.Primary.Method()
	res.FellBack = true
	return res, nil
}

// Config tunes a Retriever.
type Config struct {
	// Diversity is the MMR diversity factor in [0, 1]. Defaults to 0.7 when
	// negative; zero is honoured and means pure relevance.
	Diversity float64
	// OnFallback is called whenever a policy falls back. Optional.
	OnFallback func(requested, used Method)
}

// Retriever selects a Policy per request.
type Retriever struct {
	policies   map[Method]Policy
	onFallback func(requested, used Method)
}

// New builds a Retriever with the default policy table: mmr and detailed
// fall back to similarity; similarity and smart have no fallback.
func New(cfg Config) (*Retriever, error) {
	if cfg.Diversity < 0 {
		cfg.Diversity = DefaultDiversity
	}
	if cfg.Diversity > 1 {
		return nil, apperr.New(apperr.KindValidation, "retriever.New", "diversity factor must be in [0, 1], got %v", cfg.Diversity)
	}
	sim := NewSimilarity()
	return &Retriever{
		policies: map[Method]Policy{
			Similarity: {Primary: sim},
			Smart:      {Primary: NewSmart()},
			MMR:        {Primary: NewMMR(cfg.Diversity), Fallback: sim},
			Detailed:   {Primary: NewDetailed(), Fallback: sim},
		},
		onFallback: cfg.OnFallback,
	}, nil
}

// WithPolicy replaces the policy used for m.
func (r *Retriever) WithPolicy(m Method, p Policy) *Retriever {
	r.policies[m] = p
	return r
}

// Retrieve runs the policy for method. k must be positive.
func (r *Retriever) Retrieve(ctx context.Context, s Searcher, query string, method Method, k int) (*Result, error) {
	const op = "retriever.Retrieve"
	if k <= 0 {
		return nil, apperr.New(apperr.KindValidation, op, "top_k must be a positive integer, got %d", k)
	}
	p, ok := r.policies[method]
	if !ok {
		_, err := ParseMethod(string(method))
		if err == nil {
			err = apperr.New(apperr.KindValidation, op, "no policy configured for strategy %q", method)
		}
		return nil, err
	}

	res, err := p.Run(ctx, s, query, k)
	if err != nil {
		return nil, err
	}
	if res.FellBack && r.onFallback != nil {
		r.onFallback(res.Requested, res.Method)
	}
	return res, nil
}

// newResult assembles an immutable Result from ordered passages.
func newResult(method Method, passages []Passage, pieces []string, threshold float64) *Result {
	return &Result{
		Method:    method,
		Passages:  passages,
		Context:   strings.Join(pieces, contextSeparator),
		Threshold: threshold,
	}
}
