package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/studycrew-go/internal/service"
	"github.com/54b3r/studycrew-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8005).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MaxUploadSize caps multipart upload bodies in bytes. Defaults to
	// service.DefaultMaxFileSize if zero.
	MaxUploadSize int64
	// Metrics receives request and domain metrics. If nil, a Metrics bound
	// to prometheus.DefaultRegisterer is created.
	Metrics *Metrics
	// MetricsGatherer serves GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// documents is the service surface the handlers call.
// *service.Service satisfies it; tests inject a fake.
type documents interface {
	Query(ctx context.Context, q service.Query) (*service.Answer, error)
	Upload(ctx context.Context, filename string, r io.Reader, size int64) (store.Document, error)
	ListDocuments(ctx context.Context) ([]service.DocumentInfo, error)
	Delete(ctx context.Context, name string) error
	DeleteAll(ctx context.Context) (int, error)
	Status() service.StatusReport
}

// Server is the HTTP server that exposes the study crew.
type Server struct {
	// svc handles every domain request.
	svc documents
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics records request and domain metrics.
	metrics *Metrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Question is the student's question.
	Question string `json:"question"`
	// Document names the document to query. Empty selects the most recent upload.
	Document string `json:"document_name,omitempty"`
	// Strategy is the retrieval strategy (similarity, mmr, detailed, smart).
	Strategy string `json:"strategy,omitempty"`
	// TopK is the number of chunks to retrieve. Omitted selects the default.
	TopK *int `json:"top_k,omitempty"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	*service.Answer
	// Passages carries the per-chunk relevance signals.
	Passages []passage `json:"passages"`
}

// passage is one retrieved chunk in an ask response.
type passage struct {
	Content    string  `json:"content"`
	Position   int     `json:"position"`
	Distance   float64 `json:"distance"`
	Tier       string  `json:"tier,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
}

// uploadResponse is the JSON response for POST /api/documents.
type uploadResponse struct {
	// Name is the document name derived from the file stem.
	Name string `json:"name"`
	// Filename is the stored file name.
	Filename string `json:"filename"`
	// Size is the stored file size in bytes.
	Size int64 `json:"size"`
	// Status is always "processing"; poll GET /api/documents for the outcome.
	Status store.Status `json:"status"`
}

// deleteResponse is the JSON response for the DELETE routes.
type deleteResponse struct {
	// Status is "deleted".
	Status string `json:"status"`
	// Name is the deleted document, empty for delete-all.
	Name string `json:"name,omitempty"`
	// Deleted is the number of documents removed by delete-all.
	Deleted int `json:"deleted,omitempty"`
}

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	// Error is the machine-readable failure kind.
	Error string `json:"error"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// Role names the failing expert for agent failures.
	Role string `json:"role,omitempty"`
}
