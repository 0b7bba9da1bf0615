package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SimBank/internal/config"
	"SimBank/internal/interbank"
	"SimBank/internal/ledger"
	"SimBank/internal/loan"
	"SimBank/internal/memstore"
	"SimBank/internal/notify"
	"SimBank/internal/observability"
	"SimBank/internal/persistence"
	"SimBank/internal/server"
	"SimBank/internal/simclock"
	"SimBank/internal/simulation"
	"SimBank/internal/sweeplock"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// bankStore is what every engine needs from the storage backend.
type bankStore interface {
	ledger.Store
	loan.Store
	Reset(ctx context.Context) error
}

func main() {
	log := observability.NewLogger("simbank")
	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("simbank stopped")
	}
	log.Info().Msg("simbank shutdown complete")
}

func run(log zerolog.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Info().
		Str("bank", cfg.Bank.ID).
		Str("store", cfg.Store.Driver).
		Dur("real_day", cfg.Clock.RealDayDuration).
		Msg("simbank starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics(nil)
	healthChecker := observability.NewHealthChecker()

	// --- Store ---
	var store bankStore
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := persistence.Open(ctx, cfg.Store.PostgresDSN, persistence.PoolConfig{
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		log.Info().Msg("postgres connected")

		if cfg.Store.AutoMigrate {
			n, err := persistence.NewMigrator(db, cfg.Store.MigrationsDir, observability.NewLogger("migrator")).Up(ctx)
			if err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			log.Info().Int("applied", n).Msg("migrations done")
		}

		pg, err := persistence.NewStore(ctx, db, observability.NewLogger("store"))
		if err != nil {
			return err
		}
		healthChecker.AddCheck("postgres", pg.Ping)
		store = pg
	default:
		store = memstore.New()
		log.Warn().Msg("using in-memory store, state is lost on exit")
	}

	// --- Clock ---
	clockOpts := simclock.Options{
		RealDayDuration: cfg.Clock.RealDayDuration,
		ResyncTimeout:   cfg.Clock.ResyncTimeout,
		Logger:          observability.NewLogger("simclock"),
		Metrics:         metrics,
	}
	if cfg.Clock.AuthorityURL != "" {
		clockOpts.Authority = simclock.NewHTTPAuthority(cfg.Clock.AuthorityURL, cfg.Clock.ResyncTimeout)
	}
	clock := simclock.Init(clockOpts)
	defer clock.Stop()

	// --- Daily cycle guard ---
	var guard sweeplock.Guard = sweeplock.NewLocal()
	if cfg.Redis.URL != "" {
		rdb, err := sweeplock.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer rdb.Close()
		redisGuard := sweeplock.NewRedis(rdb, "simbank:"+cfg.Bank.ID+":", cfg.Redis.LockTTL)
		if err := redisGuard.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		healthChecker.AddCheck("redis", redisGuard.Ping)
		guard = redisGuard
		log.Info().Msg("redis daily cycle guard enabled")
	}

	// --- Notifications ---
	var publisher notify.Publisher
	if cfg.NATS.URL != "" {
		nc, js, err := notify.ConnectNATS(cfg.NATS.URL, observability.NewLogger("nats"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		if err := notify.EnsureStream(ctx, js); err != nil {
			return fmt.Errorf("ensure nats stream: %w", err)
		}
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		})
		publisher = notify.NewJetStreamPublisher(js)
		log.Info().Msg("NATS connected")
	}
	dispatcher := notify.NewDispatcher(notify.Config{
		BankID:    cfg.Bank.ID,
		QueueSize: cfg.Notify.QueueSize,
		Workers:   cfg.Notify.Workers,
		Timeout:   cfg.Notify.Timeout,
	}, store, publisher, observability.NewLogger("notify"), metrics)

	// --- Engines ---
	led := ledger.NewEngine(store, cfg.Bank.ID, clock,
		ledger.WithLogger(observability.NewLogger("ledger")),
		ledger.WithMetrics(metrics),
		ledger.WithObserver(dispatcher.Observe),
		ledger.WithKnownNumbersCapacity(cfg.Store.KnownNumbers),
	)
	if err := led.WarmKnownNumbers(ctx, cfg.Store.KnownNumbers); err != nil {
		log.Warn().Err(err).Msg("transaction number cache left cold")
	}
	dir := ledger.NewDirectory(store, cfg.Bank.ID, clock, observability.NewLogger("directory"))

	loans := loan.NewEngine(store, led, loan.Config{
		BankAccount: cfg.Bank.Account,
		Settings: loan.Settings{
			InterestRate: cfg.Loans.InterestRate,
			LoanCap:      cfg.Loans.LoanCap,
		},
		Sweep: loan.SweepParams{
			InstalmentRate: cfg.Loans.InstalmentRate,
			ThresholdRate:  cfg.Loans.ThresholdRate,
			Excluded:       cfg.Loans.SweepExcluded,
		},
		Guard:   guard,
		Logger:  observability.NewLogger("loans"),
		Metrics: metrics,
	})

	gateway := interbank.NewGateway(led, interbank.Config{
		Banks:   cfg.Interbank.Banks,
		Trusted: []string{cfg.Bank.CentralBank},
		Timeout: cfg.Interbank.Timeout,
	}, observability.NewLogger("interbank"), metrics)

	controller := simulation.NewController(store, clock, led, dir, loans, simulation.Config{
		BankTeam:         cfg.Bank.Team,
		CentralBank:      cfg.Bank.CentralBank,
		CentralAccount:   cfg.Bank.CentralAccount,
		LoanableFraction: cfg.Loans.LoanableFraction,
	}, observability.NewLogger("simulation"))

	srv, err := server.New(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, server.Deps{
		Ledger:     led,
		Directory:  dir,
		Loans:      loans,
		Interbank:  gateway,
		Simulation: controller,
		Health:     healthChecker,
		Metrics:    metrics,
		IsAdmin:    cfg.IsAdmin,
		Logger:     observability.NewLogger("server"),
	})
	if err != nil {
		return err
	}

	// --- Start goroutines ---
	errChan := make(chan error, 4)

	// 1. Notification workers
	go func() {
		errChan <- dispatcher.Run(ctx)
	}()

	// 2. gRPC health listener
	go func() {
		errChan <- srv.StartGRPC(ctx)
	}()

	// 3. HTTP API
	go func() {
		errChan <- srv.StartHTTP(ctx)
	}()

	// 4. Prometheus metrics server
	go func() {
		errChan <- serveMetrics(ctx, cfg.Server.MetricsAddr, log)
	}()

	healthChecker.SetReady(true)
	log.Info().
		Str("http", cfg.Server.HTTPAddr).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("simbank ready, waiting for simulation start")

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil {
			runErr = err
			log.Error().Err(err).Msg("goroutine failed, shutting down")
		}
	}

	healthChecker.SetReady(false)
	clock.Stop()
	clock.Wait()
	cancel()

	// Give servers time to drain.
	timer := time.NewTimer(cfg.Server.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-waitQuiet(errChan, 3):
	}
	return runErr
}

func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) error {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		metricsServer.Shutdown(shutCtx)
	}()
	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// waitQuiet closes the returned channel once n more goroutines have reported.
func waitQuiet(errChan <-chan error, n int) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			<-errChan
		}
		close(done)
	}()
	return done
}
