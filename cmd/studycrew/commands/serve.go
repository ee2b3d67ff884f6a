package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/studycrew-go/internal/logging"
	"github.com/54b3r/studycrew-go/internal/server"
	"github.com/54b3r/studycrew-go/internal/tracing"
)

// startupProbeTimeout bounds the dependency check run before listening.
const startupProbeTimeout = 10 * time.Second

// NewServeCmd constructs the `studycrew serve` command, which starts the
// HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the studycrew HTTP API",
		Long: `Start the studycrew HTTP server.

The server exposes a JSON API for asking questions, uploading course
documents (ingested in the background), listing and deleting them, plus
/api/health, /api/ready and Prometheus /metrics.

Set STUDYCREW_API_KEY to require a Bearer token on every /api route except
health and readiness.

Examples:
  studycrew serve
  studycrew serve --port 9090
  MODEL_PROVIDER=openai INDEX_BACKEND=qdrant studycrew serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Langfuse tracing is opt-in and a no-op if keys are absent.
			flush, ok := tracing.Install(tracing.ConfigFromEnv())
			defer flush()
			if ok {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			metrics := server.NewMetrics(prometheus.DefaultRegisterer)

			a, err := buildApp(ctx, log, metrics)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()
			log.Info("provider initialised", slog.String("provider", string(a.provider.Backend)))

			go func() {
				if err := a.svc.Registry().Watch(ctx); err != nil {
					log.Warn("registry: watcher stopped", slog.Any("error", err))
				}
			}()

			pingers := buildPingers(a)
			probeCtx, cancel := context.WithTimeout(ctx, startupProbeTimeout)
			if err := server.NewMultiPinger(pingers...).Ping(probeCtx); err != nil {
				log.Warn("serve: dependency not ready at startup", slog.Any("error", err))
			}
			cancel()

			if !cmd.Flags().Changed("host") {
				host = a.settings.Host
			}
			if !cmd.Flags().Changed("port") {
				port = a.settings.Port
			}

			srv, err := server.New(a.svc, &server.Config{
				Host:          host,
				Port:          port,
				Logger:        log,
				Pingers:       pingers,
				APIKey:        a.settings.APIKey,
				MaxUploadSize: a.settings.MaxFileSize,
				Metrics:       metrics,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			err = srv.Start(ctx)
			log.Info("serve: waiting for background ingestion")
			a.svc.Wait()
			return err
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (default from STUDYCREW_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8005, "TCP port to listen on (default from STUDYCREW_PORT)")

	return cmd
}

// buildPingers returns the readiness probes for the configured dependencies.
func buildPingers(a *app) []server.Pinger {
	pingers := []server.Pinger{
		server.NewLLMPinger(a.provider.HealthCheck(), string(a.provider.Backend)),
		server.NewCatalogPinger(a.catalog),
	}
	if a.qdrant != nil {
		pingers = append(pingers, server.NewQdrantPinger(a.qdrant))
	}
	return pingers
}
