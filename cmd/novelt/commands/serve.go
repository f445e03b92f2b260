package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/54b3r/novelt-go/internal/logging"
	"github.com/54b3r/novelt-go/internal/server"
	"github.com/54b3r/novelt-go/internal/tracing"
)

// NewServeCmd constructs the `novelt serve` command, which starts the HTTP
// API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the novelt HTTP API",
		Long: `Start the novelt HTTP server.

Routes:
  POST /api/translate                    translate a chapter (JSON, SSE or passthrough)
  POST /api/quality-check                grade a translation
  GET  /api/novels/{id}                  load a novel (optional ?start=&end=)
  POST /api/novels/{id}/references/ops   apply glossary operations
  GET  /api/health, /api/ready, /metrics

Set NOVELT_SERVER_API_KEY to require a Bearer token on /api routes.

Examples:
  novelt serve
  novelt serve --port 9090
  NOVELT_STREAM=true novelt serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)

			// Langfuse tracing is opt-in and a no-op if keys are absent.
			flush, ok := tracing.Setup(tracing.ConfigFromEnv())
			defer flush()
			if ok {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			d, err := buildDeps(ctx, log, reg)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer d.Close()

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("NOVELT_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				if p, err := strconv.Atoi(os.Getenv("NOVELT_PORT")); err == nil && p > 0 {
					port = p
				}
			}

			srv, err := server.New(d.service, d.repo, &server.Config{
				Host:   host,
				Port:   port,
				Logger: log,
				Pingers: []server.Pinger{
					server.NewPinger("upstream", d.client),
					server.NewPinger("store", d.repo),
				},
				APIKey:          os.Getenv("NOVELT_SERVER_API_KEY"),
				MetricsRegistry: reg,
				MetricsGatherer: reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env NOVELT_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env NOVELT_PORT)")

	return cmd
}

// getEnvOrDefault returns the value of key, or fallback if unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
