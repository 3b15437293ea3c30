// Package main implements the battery passport API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/graph"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/lifecycle"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/provenance"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/query"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/config"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/metrics"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/natsutil"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/repo"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/resilience"
)

func main() {
	configFile := pflag.String("config", "", "config file (default: ./passport.yaml or /etc/passport/passport.yaml)")
	pflag.Parse()

	cfg, err := config.Load(config.New(), *configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := cfg.Logger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- Connect to Neo4j ---
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(context.Background())

	graphStore := graph.New(driver, cfg.Neo4jDatabase, graph.WithLogger(logger))
	if err := graphStore.Ping(ctx); err != nil {
		// Not fatal: the breaker reports the outage until Neo4j comes up.
		logger.Warn("neo4j unreachable at startup", "url", cfg.Neo4jURL, "err", err)
	}

	store := provenance.Guard(graphStore, resilience.BreakerOpts{
		Name:          "neo4j",
		FailThreshold: cfg.BreakerThreshold,
		Timeout:       cfg.BreakerTimeout,
		OnStateChange: func(from, to resilience.State) {
			logger.Warn("store circuit breaker", "from", from.String(), "to", to.String())
			m.SetBreakerOpen(to == resilience.StateOpen)
		},
	})

	// --- Connect to NATS (optional) ---
	engineOpts := []lifecycle.Option{lifecycle.WithLogger(logger), lifecycle.WithMetrics(m)}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("passport-api"), nats.MaxReconnects(-1))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		engineOpts = append(engineOpts, lifecycle.WithNotifier(natsutil.NewEventPublisher(nc)))
	}

	srv := &server{
		engine:  lifecycle.New(store, engineOpts...),
		query:   query.New(store, query.WithLogger(logger), query.WithMetrics(m)),
		catalog: repo.NewNeo4jCatalog(driver, cfg.Neo4jDatabase),
		ping:    graphStore.Ping,
		log:     logger,
	}
	handler := srv.routes(cfg, reg)

	return serve(ctx, logger, cfg, handler, metrics.Handler(reg))
}

// serve runs the API server, and the metrics server when a separate port is
// configured, until ctx is cancelled or one of them fails.
func serve(ctx context.Context, logger *slog.Logger, cfg config.Config, api, metricsHandler http.Handler) error {
	servers := []*http.Server{{
		Addr:         ":" + cfg.Port,
		Handler:      api,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}}
	if cfg.MetricsPort != "" && cfg.MetricsPort != cfg.Port {
		servers = append(servers, &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           metricsHandler,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(func() error {
			logger.Info("server starting", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", s.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		for _, s := range servers {
			errs = append(errs, s.Shutdown(shutCtx))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
