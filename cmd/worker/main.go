package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sagaflow/cmd/worker/config"
	"sagaflow/internal/collab"
	"sagaflow/internal/db/sagajournal"
	"sagaflow/internal/durable"
	"sagaflow/internal/observability"
	"sagaflow/internal/realtime"
	"sagaflow/internal/saga"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("worker error: %v", err)
	}
}

func run(ctx context.Context) error {
	journal, orders, auditDB, cleanupStore, err := buildJournal(ctx)
	if err != nil {
		return err
	}
	defer cleanupStore()

	inventory, payments, cleanupCollab, err := buildCollaborators(ctx)
	if err != nil {
		return err
	}
	defer cleanupCollab()

	inventory, payments, err = wrapReliability(inventory, payments)
	if err != nil {
		return err
	}

	registry, err := durable.BuildRegistry(inventory, payments, orders)
	if err != nil {
		return err
	}

	settings, err := durable.LoadBridgeSettingsFromEnv()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	hub := realtime.NewHub()
	go hub.Run()
	defer hub.Stop()

	observers := saga.MultiObserver{
		observability.NewMetricsObserver(metrics),
		realtime.NewHubObserver(hub),
		saga.LogObserver{Logf: log.Printf},
	}
	if auditDB != nil {
		observers = append(observers, sagajournal.NewAuditObserver(auditDB, log.Printf))
	}

	runtime, err := durable.NewRuntime(durable.RuntimeConfig{
		Journal:             journal,
		Registry:            registry,
		Retry:               settings.RetryPolicy(),
		Observer:            observers,
		CompensationRetries: settings.CompensationRetries,
		Logf:                log.Printf,
	})
	if err != nil {
		return err
	}

	grpcCfg, err := config.LoadGRPC()
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", grpcCfg.Addr)
	if err != nil {
		return err
	}

	server := grpcpkg.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("sagaflow.Worker", healthpb.HealthCheckResponse_SERVING)

	if env := os.Getenv("APP_ENV"); env != "production" {
		reflection.Register(server)
		log.Println("gRPC reflection enabled (APP_ENV=", env, ")")
	}

	obsSrv, err := startObservabilityServer(metrics, hub)
	if err != nil {
		return err
	}

	apiSrv, err := startSagaAPI(runtime)
	if err != nil {
		return err
	}

	log.Printf("worker running: health %s, api %s", grpcCfg.Addr, apiSrv.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("sagaflow.Worker", healthpb.HealthCheckResponse_NOT_SERVING)
		server.GracefulStop()
		metrics.MarkShutdown(int64(metrics.Snapshot().InFlight))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if obsSrv != nil {
			_ = obsSrv.Shutdown(shutdownCtx)
		}
		if apiSrv != nil {
			_ = apiSrv.Shutdown(shutdownCtx)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// buildJournal selects the durable backend: Postgres when DATABASE_URL
// is set, a file journal when SAGA_JOURNAL_PATH is set, otherwise
// in-memory. Postgres doubles as the order store and audit sink.
func buildJournal(ctx context.Context) (durable.Journal, saga.OrderStore, *sql.DB, func(), error) {
	nop := func() {}

	if databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); databaseURL != "" {
		db, err := sql.Open("pgx", databaseURL)
		if err != nil {
			return nil, nil, nil, nop, err
		}
		store, err := sagajournal.NewStoreWithSchema(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, nil, nop, err
		}
		cleanup := func() {
			if err := db.Close(); err != nil {
				log.Printf("close saga db: %v", err)
			}
		}
		return store, store, db, cleanup, nil
	}

	if path := strings.TrimSpace(os.Getenv("SAGA_JOURNAL_PATH")); path != "" {
		fileJournal, err := durable.NewFileJournal(path)
		if err != nil {
			return nil, nil, nil, nop, err
		}
		cleanup := func() {
			if err := fileJournal.Close(); err != nil {
				log.Printf("close saga journal: %v", err)
			}
		}
		return fileJournal, collab.NewInMemoryOrderStore(), nil, cleanup, nil
	}

	return durable.NewMemoryJournal(), collab.NewInMemoryOrderStore(), nil, nop, nil
}

// buildCollaborators selects inventory and payment backends: Redis when
// configured, otherwise in-memory seeded from env.
func buildCollaborators(ctx context.Context) (saga.InventoryReservoir, saga.PaymentProcessor, func(), error) {
	nop := func() {}

	cfg, enabled, err := config.LoadRedis()
	if err != nil {
		return nil, nil, nop, err
	}

	stock, err := parseSeedInts("INVENTORY_STOCK")
	if err != nil {
		return nil, nil, nop, err
	}
	balances, err := parseSeedFloats("CUSTOMER_BALANCES")
	if err != nil {
		return nil, nil, nop, err
	}

	if !enabled {
		return collab.NewInMemoryInventory(stock), collab.NewInMemoryPayments(balances), nop, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, nop, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)

	pingCtx := ctx
	if cfg.HealthcheckTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(pingCtx, cfg.HealthcheckTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nop, err
	}

	inventory := collab.NewRedisInventory(client)
	for productID, qty := range stock {
		if err := inventory.SeedStock(ctx, productID, qty); err != nil {
			_ = client.Close()
			return nil, nil, nop, err
		}
	}
	payments := collab.NewRedisPayments(client)
	for customerID, balance := range balances {
		if err := payments.SeedBalance(ctx, customerID, balance); err != nil {
			_ = client.Close()
			return nil, nil, nop, err
		}
	}

	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Printf("close redis: %v", err)
		}
	}
	return inventory, payments, cleanup, nil
}

// wrapReliability adds the rate limiter and circuit breaker when
// COLLAB_RELIABILITY is set.
func wrapReliability(inventory saga.InventoryReservoir, payments saga.PaymentProcessor) (saga.InventoryReservoir, saga.PaymentProcessor, error) {
	enabled, err := parseOptionalBool("COLLAB_RELIABILITY")
	if err != nil {
		return nil, nil, err
	}
	if !enabled {
		return inventory, payments, nil
	}

	cfg, err := collab.LoadReliabilityConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}

	newBreaker := func() *collab.CircuitBreaker {
		return collab.NewCircuitBreaker(collab.CircuitBreakerConfig{
			MaxFailures:  cfg.BreakerMaxFailures,
			ResetTimeout: cfg.BreakerResetTimeout,
		})
	}
	newLimiter := func() *collab.RateLimiter {
		return collab.NewRateLimiter(cfg.RateLimitInterval, cfg.RateLimitBurst)
	}

	return collab.NewReliableInventory(inventory, newLimiter(), newBreaker()),
		collab.NewReliablePayments(payments, newLimiter(), newBreaker()),
		nil
}

func startObservabilityServer(metrics *observability.Metrics, hub *realtime.Hub) (*http.Server, error) {
	cfg, err := config.LoadObservability()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))
	mux.Handle("/events", realtime.ServeWS(hub))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("observability server error: %v", err)
		}
	}()

	return srv, nil
}

func startSagaAPI(runtime *durable.Runtime) (*http.Server, error) {
	cfg, err := config.LoadHTTP()
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: newSagaAPI(runtime),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("saga api server error: %v", err)
		}
	}()

	return srv, nil
}
