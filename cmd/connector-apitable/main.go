// Connector-APITable dispatches apitable tool invocations (record CRUD and
// custom calls) to the APITable REST API.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bturcanu/openclause-apitable/pkg/audit"
	"github.com/bturcanu/openclause-apitable/pkg/auth"
	"github.com/bturcanu/openclause-apitable/pkg/config"
	ocOtel "github.com/bturcanu/openclause-apitable/pkg/otel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// apitableExecTimeout leaves room for the 30s APITable request timeout.
const apitableExecTimeout = 35 * time.Second

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── OpenTelemetry ────────────────────────────────────────────────────
	otelCfg := ocOtel.ConfigFromEnv()
	otelShutdown, err := ocOtel.Setup(ctx, otelCfg)
	if err != nil {
		log.Error("otel setup failed", "error", err)
	} else {
		defer otelShutdown(context.Background()) //nolint:errcheck // best-effort shutdown
	}

	// ── Audit trail (optional) ───────────────────────────────────────────
	var (
		auditLog    = audit.NewLogger(nil, log)
		auditReads  auditReader
		auditActive bool
	)
	if dsn := os.Getenv("AUDIT_DATABASE_URL"); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		store := audit.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Error("audit schema setup failed", "error", err)
			os.Exit(1)
		}
		auditLog = audit.NewLogger(store, log)
		auditReads = store
		auditActive = true
	}

	// ── Connector ────────────────────────────────────────────────────────
	mock := config.EnvOrBool("MOCK_CONNECTORS", false)
	defaults := defaultCredentials()
	if !mock && defaults["api_token"] == "" {
		log.Warn("APITABLE_API_TOKEN is not set; requests must carry credentials")
	}
	connector := NewAPITableConnector(log, mock, defaults, auditLog)

	internalToken := os.Getenv("INTERNAL_AUTH_TOKEN")
	if internalToken == "" && !mock {
		log.Error("INTERNAL_AUTH_TOKEN is required when MOCK_CONNECTORS is not true")
		os.Exit(1)
	}
	keys := auth.NewKeyStore(os.Getenv("API_KEYS"))

	handler := newRouter(routerConfig{
		log:           log,
		connector:     connector,
		internalToken: internalToken,
		keys:          keys,
		audit:         auditReads,
	})

	// ── Metrics (internal) ───────────────────────────────────────────────
	metricsAddr := config.EnvOr("METRICS_ADDR", "127.0.0.1:9094")
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsMux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		log.Info("metrics server starting", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	// ── Server ───────────────────────────────────────────────────────────
	addr := config.EnvOr("CONNECTOR_APITABLE_ADDR", ":8084")
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("connector-apitable starting",
			"addr", addr,
			"mock", mock,
			"read_only", defaults["read_only"] == "yes",
			"audit", auditActive,
			"tracing", otelCfg.TracingEnabled(),
			"api_keys", keys.Len(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down connector-apitable")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := metricsSrv.Shutdown(shutCtx); err != nil {
		log.Error("metrics shutdown error", "error", err)
	}
}

// defaultCredentials reads the credentials used when a request carries none.
func defaultCredentials() map[string]string {
	readOnly := "no"
	if config.EnvOrBool("APITABLE_READ_ONLY", false) {
		readOnly = "yes"
	}
	return map[string]string{
		"api_token":    os.Getenv("APITABLE_API_TOKEN"),
		"api_base_url": os.Getenv("APITABLE_BASE_URL"),
		"read_only":    readOnly,
	}
}

func logLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(config.EnvOr("LOG_LEVEL", "info"))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
