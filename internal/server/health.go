package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/studycrew-go/internal/logging"
	"github.com/54b3r/studycrew-go/internal/version"
)

// probeTimeout bounds each dependency probe run by /api/ready.
const probeTimeout = 5 * time.Second

// Pinger reports whether one dependency (chat model, Qdrant, catalog) is
// reachable. Implementations must be safe for concurrent use.
type Pinger interface {
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness responses.
	Name() string
}

// MultiPinger probes several dependencies as one. serve uses it to warn at
// startup when a dependency is down.
type MultiPinger struct {
	pingers []Pinger
}

// NewMultiPinger constructs a MultiPinger.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers}
}

// Ping probes every dependency in order and joins the failures, each
// prefixed with its dependency name.
func (m *MultiPinger) Ping(ctx context.Context) error {
	var errs []error
	for _, p := range m.pingers {
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name implements Pinger.
func (m *MultiPinger) Name() string { return "dependencies" }

// readyCheck is one dependency's probe result.
type readyCheck struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// readyResponse is the JSON body returned by GET /api/ready. Documents is
// informational: an empty registry does not make the server unready.
type readyResponse struct {
	Ready     bool         `json:"ready"`
	Checks    []readyCheck `json:"checks"`
	Documents int          `json:"documents"`
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

// handleReady handles GET /api/ready. All pingers are probed concurrently,
// each under probeTimeout; the response is 503 if any of them fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks := make([]readyCheck, len(s.pingers))
	var g errgroup.Group
	for i, p := range s.pingers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			checks[i] = readyCheck{Name: p.Name(), OK: true}
			if err := p.Ping(ctx); err != nil {
				checks[i] = readyCheck{Name: p.Name(), Error: err.Error()}
				log.Warn("readiness probe failed", slog.String("dependency", p.Name()), slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := readyResponse{Ready: true, Checks: checks, Documents: len(s.svc.Status().Documents)}
	for _, c := range checks {
		resp.Ready = resp.Ready && c.OK
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
