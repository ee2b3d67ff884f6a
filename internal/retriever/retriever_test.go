package retriever

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/54b3r/studycrew-go/internal/apperr"
	"github.com/54b3r/studycrew-go/internal/index"
)

// fakeSearcher returns canned hits ordered by ascending distance.
type fakeSearcher struct {
	hits       []index.Hit
	searchErr  error
	diverseErr error
	embedErr   error
	calls      []string
}

func (f *fakeSearcher) Search(_ context.Context, _ string, k int) ([]index.Hit, error) {
	f.calls = append(f.calls, "search")
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits[:min(k, len(f.hits))], nil
}

func (f *fakeSearcher) SearchByVector(_ context.Context, _ []float32, k int) ([]index.Hit, error) {
	f.calls = append(f.calls, "vector")
	return f.hits[:min(k, len(f.hits))], nil
}

func (f *fakeSearcher) SearchDiverse(_ context.Context, _ string, k, fetchK int, _ float64) ([]index.Hit, error) {
	f.calls = append(f.calls, fmt.Sprintf("diverse k=%d fetch=%d", k, fetchK))
	if f.diverseErr != nil {
		return nil, f.diverseErr
	}
	// Every other hit, to look diverse.
	var out []index.Hit
	for i := 0; i < len(f.hits) && len(out) < k; i += 2 {
		out = append(out, f.hits[i])
	}
	return out, nil
}

func (f *fakeSearcher) EmbedQuery(context.Context, string) ([]float32, error) {
	f.calls = append(f.calls, "embed")
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return []float32{1, 0}, nil
}

func tenHits() []index.Hit {
	hits := make([]index.Hit, 10)
	for i := range hits {
		hits[i] = index.Hit{Content: fmt.Sprintf("chunk %d", i), Source: "biology", Position: i, Distance: 0.1 + 0.25*float64(i)}
	}
	return hits
}

func newRetriever(t *testing.T) *Retriever {
	t.Helper()
	r, err := New(Config{Diversity: DefaultDiversity})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

// ---------------------------------------------------------------------------
// Parsing and validation
// ---------------------------------------------------------------------------

func TestParseMethod(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Method{"": Smart, "similarity": Similarity, "MMR": MMR, " detailed ": Detailed, "smart": Smart} {
		got, err := ParseMethod(in)
		if err != nil || got != want {
			t.Errorf("ParseMethod(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	_, err := ParseMethod("hybrid")
	if !errors.Is(err, apperr.Validation) {
		t.Fatalf("want validation error, got %v", err)
	}
	for _, m := range Methods() {
		if !strings.Contains(err.Error(), string(m)) {
			t.Errorf("error should list %q: %v", m, err)
		}
	}
}

func TestRetrieve_NonPositiveTopK(t *testing.T) {
	t.Parallel()

	r := newRetriever(t)
	for _, k := range []int{0, -3} {
		_, err := r.Retrieve(context.Background(), &fakeSearcher{hits: tenHits()}, "q", Similarity, k)
		if !errors.Is(err, apperr.Validation) {
			t.Errorf("k=%d: want validation error, got %v", k, err)
		}
	}
}

func TestRetrieve_UnknownMethod(t *testing.T) {
	t.Parallel()

	_, err := newRetriever(t).Retrieve(context.Background(), &fakeSearcher{}, "q", Method("fuzzy"), 4)
	if !errors.Is(err, apperr.Validation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestNew_RejectsDiversityAboveOne(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Diversity: 1.2}); !errors.Is(err, apperr.Validation) {
		t.Errorf("want validation error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// similarity / smart
// ---------------------------------------------------------------------------

func TestSimilarity_TopFourOfTen(t *testing.T) {
	t.Parallel()

	res, err := newRetriever(t).Retrieve(context.Background(), &fakeSearcher{hits: tenHits()}, "q", Similarity, 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Passages) != 4 {
		t.Fatalf("want 4 passages, got %d", len(res.Passages))
	}
	for i := 1; i < len(res.Passages); i++ {
		if res.Passages[i].Distance < res.Passages[i-1].Distance {
			t.Errorf("distances not non-decreasing at %d", i)
		}
	}
	if want := "chunk 0\n\nchunk 1\n\nchunk 2\n\nchunk 3"; res.Context != want {
		t.Errorf("context: want %q, got %q", want, res.Context)
	}
	if res.Method != Similarity || res.Requested != Similarity || res.FellBack {
		t.Errorf("unexpected provenance: %+v", res)
	}
}

func TestSimilarity_Idempotent(t *testing.T) {
	t.Parallel()

	r := newRetriever(t)
	s := &fakeSearcher{hits: tenHits()}
	a, err := r.Retrieve(context.Background(), s, "q", Similarity, 5)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := r.Retrieve(context.Background(), s, "q", Similarity, 5)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("repeated similarity retrieval differs")
	}
}

// Results above the dynamic threshold are labelled but never dropped.
func TestSimilarity_ReturnsAllResultsRegardlessOfThreshold(t *testing.T) {
	t.Parallel()

	hits := []index.Hit{
		{Content: "close", Distance: 0.05},
		{Content: "far", Distance: 3.5},
		{Content: "farther", Distance: 3.9},
	}
	for _, m := range []Method{Similarity, Smart} {
		res, err := newRetriever(t).Retrieve(context.Background(), &fakeSearcher{hits: hits}, "q", m, 3)
		if err != nil {
			t.Fatalf("%s: %v", m, err)
		}
		if len(res.Passages) != 3 {
			t.Errorf("%s: want all 3 results, got %d", m, len(res.Passages))
		}
		if res.Passages[2].Distance <= res.Threshold {
			t.Fatalf("%s: test setup expects the last hit above the threshold", m)
		}
	}
}

func TestThresholdAndTiers(t *testing.T) {
	t.Parallel()

	hits := []index.Hit{
		{Content: "a", Distance: 0.1},
		{Content: "b", Distance: 0.4},
		{Content: "c", Distance: 1.1},
		{Content: "d", Distance: 1.4},
		{Content: "e", Distance: 2.0},
	}
	r := newRetriever(t)

	sim, err := r.Retrieve(context.Background(), &fakeSearcher{hits: hits}, "q", Similarity, 5)
	if err != nil {
		t.Fatalf("similarity: %v", err)
	}
	if want := (0.1+0.4+1.1+1.4+2.0)/5 + 0.3; math.Abs(sim.Threshold-want) > 1e-9 {
		t.Errorf("threshold: want %v, got %v", want, sim.Threshold)
	}
	wantSim := []string{"highly relevant", "highly relevant", "relevant", "somewhat relevant", "possibly relevant"}
	for i, p := range sim.Passages {
		if p.Tier != wantSim[i] {
			t.Errorf("similarity tier %d: want %q, got %q", i, wantSim[i], p.Tier)
		}
	}

	smart, err := r.Retrieve(context.Background(), &fakeSearcher{hits: hits}, "q", Smart, 5)
	if err != nil {
		t.Fatalf("smart: %v", err)
	}
	wantSmart := []string{"highly relevant", "relevant", "possibly relevant", "possibly relevant", "possibly relevant"}
	for i, p := range smart.Passages {
		if p.Tier != wantSmart[i] {
			t.Errorf("smart tier %d: want %q, got %q", i, wantSmart[i], p.Tier)
		}
	}
	if smart.Context != sim.Context {
		t.Error("smart and similarity should return identical context")
	}
}

// ---------------------------------------------------------------------------
// mmr
// ---------------------------------------------------------------------------

func TestMMR_UsesDoubleFetchK(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{hits: tenHits()}
	res, err := newRetriever(t).Retrieve(context.Background(), s, "q", MMR, 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if s.calls[0] != "diverse k=3 fetch=6" {
		t.Errorf("unexpected call: %v", s.calls)
	}
	if res.Method != MMR || res.FellBack {
		t.Errorf("unexpected provenance: %+v", res)
	}
	if res.Context != "chunk 0\n\nchunk 2\n\nchunk 4" {
		t.Errorf("mmr context should keep adapter order, got %q", res.Context)
	}
}

func TestMMR_BackendFailureEqualsSimilarity(t *testing.T) {
	t.Parallel()

	var fallbacks []string
	r, err := New(Config{Diversity: 0.7, OnFallback: func(req, used Method) {
		fallbacks = append(fallbacks, string(req)+"->"+string(used))
	}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	failing := &fakeSearcher{hits: tenHits(), diverseErr: apperr.New(apperr.KindBackendUnavailable, "test", "index offline")}
	got, err := r.Retrieve(context.Background(), failing, "q", MMR, 4)
	if err != nil {
		t.Fatalf("mmr should degrade, got %v", err)
	}
	want, err := r.Retrieve(context.Background(), &fakeSearcher{hits: tenHits()}, "q", Similarity, 4)
	if err != nil {
		t.Fatalf("similarity: %v", err)
	}

	if !reflect.DeepEqual(got.Passages, want.Passages) || got.Context != want.Context {
		t.Error("fallback result differs from similarity")
	}
	if !got.FellBack || got.Requested != MMR || got.Method != Similarity {
		t.Errorf("unexpected provenance: %+v", got)
	}
	if len(fallbacks) != 1 || fallbacks[0] != "mmr->similarity" {
		t.Errorf("OnFallback calls: %v", fallbacks)
	}
}

// ---------------------------------------------------------------------------
// detailed
// ---------------------------------------------------------------------------

func TestDetailed_AnnotatesRelevance(t *testing.T) {
	t.Parallel()

	hits := []index.Hit{{Content: "Cells divide.", Distance: 0}, {Content: "Plants grow.", Distance: 0.5}}
	s := &fakeSearcher{hits: hits}
	res, err := newRetriever(t).Retrieve(context.Background(), s, "q", Detailed, 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if s.calls[0] != "embed" || s.calls[1] != "vector" {
		t.Errorf("detailed should embed then search by vector, calls: %v", s.calls)
	}

	want := "[Relevance: 100.0%]\nCells divide.\n\n[Relevance: 60.7%]\nPlants grow."
	if res.Context != want {
		t.Errorf("context:\nwant %q\ngot  %q", want, res.Context)
	}
	if math.Abs(res.Passages[1].Similarity-math.Exp(-0.5)*100) > 1e-9 {
		t.Errorf("similarity: %v", res.Passages[1].Similarity)
	}
	if res.Passages[0].Content != "Cells divide." {
		t.Error("passage content should stay unannotated")
	}
}

func TestDetailed_EmbedFailureFallsBack(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{hits: tenHits(), embedErr: errors.New("embedding model unloaded")}
	res, err := newRetriever(t).Retrieve(context.Background(), s, "q", Detailed, 2)
	if err != nil {
		t.Fatalf("detailed should degrade, got %v", err)
	}
	if !res.FellBack || res.Method != Similarity || strings.Contains(res.Context, "[Relevance:") {
		t.Errorf("unexpected fallback result: %+v", res)
	}
}

// ---------------------------------------------------------------------------
// Policy
// ---------------------------------------------------------------------------

type stubStrategy struct {
	method Method
	err    error
}

func (s stubStrategy) Method() Method { return s.method }

func (s stubStrategy) Retrieve(context.Context, Searcher, string, int) (*Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return newResult(s.method, []Passage{{Content: string(s.method)}}, []string{string(s.method)}, 0), nil
}

func TestPolicy_Isolated(t *testing.T) {
	t.Parallel()

	boom := apperr.New(apperr.KindBackendTimeout, "stub", "deadline")
	tests := []struct {
		name       string
		policy     Policy
		wantErr    error
		wantMethod Method
		wantFell   bool
	}{
		{name: "primary succeeds", policy: Policy{Primary: stubStrategy{method: MMR}, Fallback: stubStrategy{method: Similarity}}, wantMethod: MMR},
		{name: "primary fails with fallback", policy: Policy{Primary: stubStrategy{method: MMR, err: boom}, Fallback: stubStrategy{method: Smart}}, wantMethod: Smart, wantFell: true},
		{name: "primary fails without fallback", policy: Policy{Primary: stubStrategy{method: Similarity, err: boom}}, wantErr: apperr.BackendTimeout},
		{name: "both fail", policy: Policy{Primary: stubStrategy{method: MMR, err: errors.New("x")}, Fallback: stubStrategy{method: Similarity, err: boom}}, wantErr: apperr.BackendTimeout},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := tc.policy.Run(context.Background(), &fakeSearcher{}, "q", 1)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("want %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Method != tc.wantMethod || res.FellBack != tc.wantFell || res.Requested != tc.policy.Primary.Method() {
				t.Errorf("unexpected result: %+v", res)
			}
		})
	}
}

func TestSimilarity_FailurePropagates(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{searchErr: apperr.New(apperr.KindBackendUnavailable, "test", "offline")}
	_, err := newRetriever(t).Retrieve(context.Background(), s, "q", Similarity, 4)
	if !errors.Is(err, apperr.BackendUnavailable) {
		t.Errorf("want backend unavailable, got %v", err)
	}
}

func TestResult_Empty(t *testing.T) {
	t.Parallel()

	var nilRes *Result
	if !nilRes.Empty() || !newResult(Similarity, nil, nil, 0).Empty() {
		t.Error("nil and passage-less results should be empty")
	}
	if newResult(Similarity, []Passage{{Content: "x"}}, []string{"x"}, 0).Empty() {
		t.Error("result with context should not be empty")
	}
}
