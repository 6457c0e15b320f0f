package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	tphttp "github.com/Strob0t/TestPulse/internal/adapter/http"
	tpnats "github.com/Strob0t/TestPulse/internal/adapter/nats"
	"github.com/Strob0t/TestPulse/internal/adapter/natskv"
	"github.com/Strob0t/TestPulse/internal/adapter/otel"
	"github.com/Strob0t/TestPulse/internal/adapter/postgres"
	tpredis "github.com/Strob0t/TestPulse/internal/adapter/redis"
	"github.com/Strob0t/TestPulse/internal/adapter/ristretto"
	"github.com/Strob0t/TestPulse/internal/adapter/tiered"
	"github.com/Strob0t/TestPulse/internal/adapter/ws"
	"github.com/Strob0t/TestPulse/internal/config"
	"github.com/Strob0t/TestPulse/internal/detach"
	"github.com/Strob0t/TestPulse/internal/logger"
	"github.com/Strob0t/TestPulse/internal/middleware"
	"github.com/Strob0t/TestPulse/internal/port/cache"
	"github.com/Strob0t/TestPulse/internal/port/messagequeue"
	"github.com/Strob0t/TestPulse/internal/resilience"
	"github.com/Strob0t/TestPulse/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"broker", cfg.Broker.Backend,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTEL, err := otel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	nq, err := tpnats.Connect(ctx, cfg.NATS, log)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = nq.Close() }()

	broker, err := openBroker(ctx, cfg, nq, log)
	if err != nil {
		return err
	}
	if broker != messagequeue.Queue(nq) {
		defer func() { _ = broker.Close() }()
	}

	names, closeCache, err := openTeamNameCache(ctx, cfg.Cache, nq, log)
	if err != nil {
		return err
	}
	defer closeCache()

	// --- Event distribution ---

	store := postgres.NewStore(pool)
	tasks := detach.NewPool(cfg.Matching.MaxConcurrentPasses*4, log)

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	breaker.OnStateChange(func(from, to resilience.State) {
		log.Warn("broker circuit state changed", "from", from, "to", to)
	})

	teamNames := ws.NewTeamNames(names, store, cfg.Cache.TeamNameTTL, log)
	hub := ws.NewHub(log,
		ws.WithPublisher(broker, breaker),
		ws.WithPool(tasks),
		ws.WithTeamNames(teamNames),
		ws.WithMetrics(metrics),
		ws.WithPublishTimeout(cfg.Broker.PublishTimeout),
	)

	relay := ws.NewRelay(broker, hub, log)
	if err := relay.Start(ctx); err != nil {
		return err
	}
	defer relay.Stop()

	// --- Services ---

	passes := detach.NewPool(cfg.Matching.MaxConcurrentPasses, log)
	matchingSvc := service.NewMatchingService(store, hub, cfg.Matching, passes, metrics, log)
	insightSvc := service.NewInsightService(store)

	stopConsumer, err := nq.ConsumeRunFinished(ctx, cfg.NATS.TriggerDurable, func(ctx context.Context, runID string) error {
		matchingSvc.TriggerRunFinished(ctx, runID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("run-finished consumer: %w", err)
	}
	stopConsumer = sync.OnceFunc(stopConsumer)
	defer stopConsumer()

	// --- HTTP ---

	wsHandler := ws.NewHandler(hub, teamNames, tasks, log)
	handlers := &tphttp.Handlers{
		Matching: matchingSvc,
		Insights: insightSvc,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(tphttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tphttp.SecurityHeaders)
	r.Use(tphttp.Logger(log))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(otel.HTTPMiddleware(cfg.OTEL.ServiceName))

	r.Get("/health", healthHandler(pool, nq, broker, hub))
	r.Get("/ws/teams/{teamID}", wsHandler.HandleTeamWS)
	r.Get("/ws/admin", wsHandler.HandleAdminWS)
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		tphttp.MountRoutes(r, handlers)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Let in-flight passes and publishes settle before the broker closes.
	stopConsumer()
	passes.Wait()
	tasks.Wait()
	return nil
}

// openBroker returns the queue used for cross-instance event fan-out.
func openBroker(ctx context.Context, cfg *config.Config, nq *tpnats.Queue, log *slog.Logger) (messagequeue.Queue, error) {
	switch cfg.Broker.Backend {
	case "redis":
		rq, err := tpredis.Connect(ctx, cfg.Redis.URL, log)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		log.Info("event broker: redis")
		return rq, nil
	default:
		log.Info("event broker: nats")
		return nq, nil
	}
}

// openTeamNameCache builds the tiered team-name cache. A missing KV bucket
// degrades to the in-process tier.
func openTeamNameCache(ctx context.Context, cfg config.Cache, nq *tpnats.Queue, log *slog.Logger) (cache.Cache, func(), error) {
	l1, err := ristretto.New(cfg.L1MaxSizeMB)
	if err != nil {
		return nil, nil, fmt.Errorf("team-name cache: %w", err)
	}

	var l2 cache.Cache
	kv, err := natskv.Open(ctx, nq.JetStream(), cfg.L2Bucket, cfg.L2TTL)
	if err != nil {
		log.Warn("team-name KV unavailable, using local cache only", "bucket", cfg.L2Bucket, "error", err)
	} else {
		l2 = kv
	}
	return tiered.New(l1, l2, cfg.TeamNameTTL, log), l1.Close, nil
}

// healthHandler returns an http.HandlerFunc that reports service health.
func healthHandler(pool *pgxpool.Pool, nq *tpnats.Queue, broker messagequeue.Queue, hub *ws.Hub) http.HandlerFunc {
	type healthStatus struct {
		Status      string `json:"status"`
		Postgres    string `json:"postgres"`
		NATS        string `json:"nats"`
		Broker      string `json:"broker"`
		Connections int    `json:"connections"`
	}
	state := func(ok bool) string {
		if ok {
			return "up"
		}
		return "down"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		pgOK := pool.Ping(ctx) == nil
		status := healthStatus{
			Status:      "ok",
			Postgres:    state(pgOK),
			NATS:        state(nq.IsConnected()),
			Broker:      state(broker.IsConnected()),
			Connections: hub.ConnectionCount(),
		}
		code := http.StatusOK
		if !pgOK || !nq.IsConnected() || !broker.IsConnected() {
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
