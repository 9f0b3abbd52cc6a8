/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// The sajha command runs the multi-tenant MCP tool server: the tool
// registry and execution pipeline, the REST management API, the MCP
// endpoint (HTTP or stdio), and the optional OLAP analytical engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sajhalabs/sajha/internal/audit"
	"github.com/sajhalabs/sajha/internal/auth"
	"github.com/sajhalabs/sajha/internal/config"
	"github.com/sajhalabs/sajha/internal/envelope"
	"github.com/sajhalabs/sajha/internal/handlers"
	"github.com/sajhalabs/sajha/internal/httpapi"
	"github.com/sajhalabs/sajha/internal/mcp"
	"github.com/sajhalabs/sajha/internal/metrics"
	"github.com/sajhalabs/sajha/internal/olap"
	"github.com/sajhalabs/sajha/internal/registry"
	"github.com/sajhalabs/sajha/internal/studio"
	"github.com/sajhalabs/sajha/internal/tracing"
	"github.com/sajhalabs/sajha/pkg/logging"
)

// version is overridden at build time with -ldflags.
var version = "dev"

// configErr marks configuration failures so main can exit with a
// distinct status code.
type configErr struct{ err error }

func (e *configErr) Error() string { return e.err.Error() }
func (e *configErr) Unwrap() error { return e.err }

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var ce *configErr
		if errors.As(err, &ce) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// flags groups all CLI flags for the sajha binary.
type flags struct {
	configPath string
	stdio      bool
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.configPath, "config", "", "Path to the YAML configuration file")
	flag.BoolVar(&f.stdio, "stdio", false, "Serve MCP over stdio instead of HTTP")
	flag.Parse()
	return f
}

func run() error {
	f := parseFlags()

	// --- Logger ---
	log, syncLog, err := logging.NewLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer syncLog()

	// --- Configuration ---
	opts, err := config.Load(f.configPath)
	if err != nil {
		return &configErr{err}
	}
	if err := opts.Validate(); err != nil {
		return &configErr{err}
	}

	// --- Signal context ---
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	// --- Tracing (optional) ---
	if opts.TracingEndpoint != "" {
		provider, err := tracing.NewProvider(ctx, tracing.Config{
			Enabled:        true,
			Endpoint:       opts.TracingEndpoint,
			ServiceName:    "sajha",
			ServiceVersion: version,
			Insecure:       true,
		})
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			if err := provider.Shutdown(shutCtx); err != nil {
				log.Error(err, "tracing shutdown error")
			}
		}()
		log.Info("tracing enabled", "endpoint", opts.TracingEndpoint)
	}

	// --- Metrics registry ---
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(promReg)
	execMetrics := metrics.NewExecutionMetrics(factory)
	auditMetrics := metrics.NewAuditMetrics(factory)
	olapMetrics := metrics.NewOLAPMetrics(factory)

	// --- Session store + auth ---
	var sessions auth.SessionStore
	if opts.Redis.Addr != "" {
		store, err := auth.NewRedisSessionStore(redisURL(opts.Redis), opts.SessionTimeout.Std())
		if err != nil {
			return fmt.Errorf("connecting session store: %w", err)
		}
		sessions = store
		log.Info("using redis session store", "addr", opts.Redis.Addr)
	} else {
		sessions = auth.NewMemorySessionStore()
	}

	authManager, err := auth.NewManager(auth.ManagerConfig{
		StoreDir:       opts.AuthStoreDir,
		TokenSecret:    []byte(opts.TokenSecret),
		SessionTimeout: opts.SessionTimeout.Std(),
	}, sessions, log)
	if err != nil {
		return fmt.Errorf("loading auth store: %w", err)
	}

	// --- Registry + tools ---
	reg := registry.New(handlers.NewFactory(log), log)
	report, err := reg.Load(opts.ToolsDir)
	if err != nil {
		return fmt.Errorf("loading tools: %w", err)
	}
	log.Info("tools loaded", "loaded", len(report.Loaded), "skipped", len(report.Skipped))
	for _, sk := range report.Skipped {
		log.Info("tool document skipped", "file", sk.File, "reason", sk.Reason)
	}

	// --- Prompts ---
	prompts := mcp.NewPromptStore(opts.PromptsDir, log)
	if _, err := os.Stat(opts.PromptsDir); err == nil {
		if err := prompts.Load(); err != nil {
			return fmt.Errorf("loading prompts: %w", err)
		}
	}

	// --- Audit trail ---
	var pool *pgxpool.Pool
	if opts.AuditDSN != "" {
		pool, err = pgxpool.New(ctx, opts.AuditDSN)
		if err != nil {
			return fmt.Errorf("creating audit pool: %w", err)
		}
		defer pool.Close()
	}
	auditLogger := audit.NewLogger(pool, log, auditMetrics, audit.LoggerConfig{})
	defer func() {
		if err := auditLogger.Close(); err != nil {
			log.Error(err, "audit logger close error")
		}
	}()
	if pool == nil {
		log.Info("audit trail running in log-only mode")
	}

	// --- Execution envelope ---
	env := envelope.New(reg, auth.NewQuota(), auditLogger, execMetrics, log)

	// --- OLAP engine (optional) ---
	var engine *olap.Engine
	if opts.Warehouse.Account != "" {
		catalog := olap.NewCatalog(log)
		if opts.CatalogDir != "" {
			if err := catalog.Load(opts.CatalogDir); err != nil {
				return fmt.Errorf("loading OLAP catalog: %w", err)
			}
		}
		db, err := olap.OpenWarehouse(opts.Warehouse)
		if err != nil {
			return fmt.Errorf("opening warehouse: %w", err)
		}
		engine = olap.NewEngine(catalog, db, olapMetrics, log)
		defer func() {
			if err := engine.Close(); err != nil {
				log.Error(err, "warehouse close error")
			}
		}()
		log.Info("OLAP engine enabled", "datasets", len(catalog.Datasets()))
	}

	// --- Studio ---
	st := studio.New(opts.ToolsDir, reg, log)

	info := mcp.ServerInfo{Name: "sajha", Version: version}

	// --- Stdio mode ---
	if f.stdio {
		return runStdio(ctx, info, reg, env, prompts, log)
	}

	// --- HTTP servers ---
	api := httpapi.NewServer(authManager, reg, env, st, engine, auditLogger, opts.ToolsDir, log)
	mcpServer := mcp.NewServer(info, authManager, reg, env, prompts, log)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpServer)
	mux.Handle("/api/", api.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	apiSrv := &http.Server{
		Addr:    opts.ListenAddr,
		Handler: otelhttp.NewHandler(mux, "sajha"),
	}
	metricsSrv := newMetricsServer(opts.MetricsAddr, promReg)

	startHTTPServer(log, "metrics", opts.MetricsAddr, metricsSrv)
	startHTTPServer(log, "api", opts.ListenAddr, apiSrv)

	log.Info("sajha ready",
		"version", version,
		"listen", opts.ListenAddr,
		"metrics", opts.MetricsAddr,
		"tools", reg.Count(),
		"olap", engine != nil,
	)

	// --- Wait for shutdown ---
	<-ctx.Done()
	log.Info("shutting down")

	shutdownServers(log, apiSrv, metricsSrv)
	return nil
}

// runStdio serves MCP over stdin/stdout for local clients. Stdio
// sessions run as a fixed local admin principal; access control is the
// operating system's, not the key store's.
func runStdio(ctx context.Context, info mcp.ServerInfo, reg *registry.Registry, env *envelope.Envelope, prompts *mcp.PromptStore, log logr.Logger) error {
	principal := &auth.Principal{
		ID:         "stdio",
		Kind:       auth.PrincipalUser,
		Roles:      []string{auth.AdminRole},
		AccessMode: auth.AccessAllowAll,
	}
	srv := mcp.NewStdioServer(info, principal, reg, env, prompts, log)
	log.Info("serving MCP over stdio", "tools", reg.Count())
	return srv.Run(ctx)
}

// redisURL builds a redis connection URL from the config options.
func redisURL(o config.RedisOptions) string {
	u := &url.URL{
		Scheme: "redis",
		Host:   o.Addr,
		Path:   fmt.Sprintf("/%d", o.DB),
	}
	if o.Password != "" {
		u.User = url.UserPassword("", o.Password)
	}
	return u.String()
}

// newMetricsServer creates the Prometheus metrics server.
func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: metricsMux}
}

// startHTTPServer starts an HTTP server in a background goroutine.
func startHTTPServer(log logr.Logger, name, addr string, srv *http.Server) {
	go func() {
		log.Info("starting server", "server", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "server error", "server", name)
		}
	}()
}

// shutdownServers gracefully stops all servers with a 30-second timeout.
func shutdownServers(log logr.Logger, servers ...*http.Server) {
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()

	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Error(err, "server shutdown error", "addr", srv.Addr)
		}
	}
}
