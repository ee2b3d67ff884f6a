package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/54b3r/studycrew-go/internal/apperr"
	"github.com/54b3r/studycrew-go/internal/ingestion"
	"github.com/54b3r/studycrew-go/internal/retriever"
	"github.com/54b3r/studycrew-go/internal/service"
)

// gatherFamily returns the named metric family from reg, failing the test
// when it is absent.
func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s not found in gathered metrics", name)
	return nil
}

// labelValue returns the value of label on m, or "".
func labelValue(m *dto.Metric, label string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == label {
			return lp.GetValue()
		}
	}
	return ""
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	s, _ := newRoutedServer(t, &fakeDocuments{}, "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("want 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "studycrew_registry_documents") {
		t.Error("documents gauge missing from exposition")
	}
}

func Test_Metrics_AskOutcomeByKind(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.observeAsk(2*time.Second, nil)
	m.observeAsk(time.Second, apperr.New(apperr.KindNotFound, "op", "missing"))
	m.observeAsk(time.Second, errors.New("boom"))

	got := map[string]float64{}
	for _, metric := range gatherFamily(t, reg, "studycrew_ask_requests_total").GetMetric() {
		got[labelValue(metric, "outcome")] = metric.GetCounter().GetValue()
	}
	want := map[string]float64{"ok": 1, "not_found": 1, "error": 1}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("outcome %q: want %v, got %v", k, v, got[k])
		}
	}
}

func Test_Metrics_FallbackAndIngestionHooks(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveFallback(retriever.MMR, retriever.Similarity)
	m.ObserveIngestion("biology", ingestion.Result{Duration: time.Second})
	m.ObserveIngestion("blank", ingestion.Result{Err: apperr.New(apperr.KindDocumentProcessing, "op", "empty")})

	fb := gatherFamily(t, reg, "studycrew_retrieval_fallbacks_total").GetMetric()
	if len(fb) != 1 || labelValue(fb[0], "requested") != "mmr" || labelValue(fb[0], "used") != "similarity" {
		t.Errorf("unexpected fallback series: %v", fb)
	}

	outcomes := map[string]float64{}
	for _, metric := range gatherFamily(t, reg, "studycrew_ingestion_total").GetMetric() {
		outcomes[labelValue(metric, "outcome")] = metric.GetCounter().GetValue()
	}
	if outcomes["ok"] != 1 || outcomes["document_processing"] != 1 {
		t.Errorf("unexpected ingestion outcomes: %v", outcomes)
	}
}

func Test_Metrics_TaskLatencyByRole(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveTask("Tutor", 3*time.Second, nil)
	m.ObserveTask("Coach", time.Second, apperr.New(apperr.KindBackendTimeout, "op", "deadline"))

	series := gatherFamily(t, reg, "studycrew_crew_task_duration_seconds").GetMetric()
	if len(series) != 2 {
		t.Fatalf("want 2 series, got %d", len(series))
	}
	for _, metric := range series {
		if labelValue(metric, "role") == "Coach" && labelValue(metric, "outcome") != "backend_timeout" {
			t.Errorf("Coach outcome: got %q", labelValue(metric, "outcome"))
		}
	}
}

func Test_Metrics_DocumentsGaugeFollowsStatus(t *testing.T) {
	t.Parallel()
	fake := &fakeDocuments{status: service.StatusReport{Documents: []string{"a", "b"}}}
	_, reg := newRoutedServer(t, fake, "")

	v := gatherFamily(t, reg, "studycrew_registry_documents").GetMetric()[0].GetGauge().GetValue()
	if v != 2 {
		t.Errorf("want documents=2, got %v", v)
	}
}

func Test_Metrics_HTTPRequestsByPattern(t *testing.T) {
	t.Parallel()
	s, reg := newRoutedServer(t, &fakeDocuments{}, "")

	for range 2 {
		req := httptest.NewRequest(http.MethodDelete, "/api/documents/biology", nil)
		s.Handler().ServeHTTP(httptest.NewRecorder(), req)
	}

	for _, metric := range gatherFamily(t, reg, "studycrew_http_requests_total").GetMetric() {
		if labelValue(metric, labelHandler) == "DELETE /api/documents/{name}" {
			if metric.GetCounter().GetValue() != 2 {
				t.Errorf("want 2, got %v", metric.GetCounter().GetValue())
			}
			if labelValue(metric, "code") != "200" {
				t.Errorf("code: got %q", labelValue(metric, "code"))
			}
			return
		}
	}
	t.Error("no series for the delete route pattern")
}

func Test_Metrics_RateLimitedByPattern(t *testing.T) {
	t.Parallel()
	s, reg := newRoutedServer(t, &fakeDocuments{answer: sampleAnswer()}, "")

	var limited int
	for range defaultRateBurst + 3 {
		req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"q"}`))
		req.RemoteAddr = "10.1.1.1:4000"
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited == 0 {
		t.Fatal("expected some requests to be rate limited")
	}

	series := gatherFamily(t, reg, "studycrew_http_rate_limited_total").GetMetric()
	if len(series) != 1 || labelValue(series[0], labelHandler) != "POST /api/ask" {
		t.Fatalf("unexpected series: %v", series)
	}
	if got := series[0].GetCounter().GetValue(); got != float64(limited) {
		t.Errorf("want %d, got %v", limited, got)
	}
}
