package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	glog "github.com/labstack/gommon/log"

	"github.com/iliyamo/parking-settlement/internal/config"
	"github.com/iliyamo/parking-settlement/internal/database"
	"github.com/iliyamo/parking-settlement/internal/gateway"
	"github.com/iliyamo/parking-settlement/internal/handler"
	"github.com/iliyamo/parking-settlement/internal/queue"
	"github.com/iliyamo/parking-settlement/internal/realtime"
	"github.com/iliyamo/parking-settlement/internal/repository"
	"github.com/iliyamo/parking-settlement/internal/repository/memory"
	"github.com/iliyamo/parking-settlement/internal/router"
	"github.com/iliyamo/parking-settlement/internal/service"
)

// stores groups the persistence ports the services depend on.
type stores struct {
	spaces   service.SpaceStore
	accounts service.AccountStore
	sessions service.SessionStore
	alerts   service.AlertStore
	ledger   service.LedgerStore
	ping     func(context.Context) error
	close    func() error
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	if cfg.StoreDriver == config.StoreMemory {
		mem := memory.New()
		if cfg.SeedFile != "" {
			if err := mem.LoadSeedFile(cfg.SeedFile); err != nil {
				return stores{}, err
			}
		}
		log.Printf("store: in-memory (state is lost on restart)")
		return stores{
			spaces: mem, accounts: mem, sessions: mem, alerts: mem, ledger: mem,
			close: func() error { return nil },
		}, nil
	}

	db, err := database.Open(database.Options{
		User:     cfg.DBUser,
		Pass:     cfg.DBPass,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
		MaxConns: cfg.DBMaxConns,
	})
	if err != nil {
		return stores{}, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return stores{}, err
	}
	log.Printf("store: mysql %s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)
	return stores{
		spaces:   repository.NewSpaceRepo(db),
		accounts: repository.NewAccountRepo(db),
		sessions: repository.NewSessionRepo(db),
		alerts:   repository.NewAlertRepo(db),
		ledger:   repository.NewLedgerRepo(db),
		ping:     db.PingContext,
		close:    db.Close,
	}, nil
}

func main() {
	cfg := config.Load()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer func() { _ = st.close() }()

	policy, err := service.ParsePolicy(cfg.SettlementPolicy)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var wg sync.WaitGroup

	// Events go to the occupancy hub always and to RabbitMQ when enabled.
	hub := realtime.NewHub()
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	sinks := queue.Fanout{hub}
	if cfg.EventsEnabled {
		pub := queue.NewPublisher(cfg.RabbitURL, cfg.EventBuffer)
		sinks = append(sinks, pub)
		wg.Add(2)
		go func() {
			defer wg.Done()
			pub.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			if err := queue.StartAuditConsumer(ctx, cfg.RabbitURL, cfg.AuditLogPath); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("audit consumer stopped: %v", err)
			}
		}()
	}

	gw := gateway.NewClient(cfg.PaymentsURL, cfg.PaymentsTimeout)
	allocator := service.NewAllocator(st.spaces, sinks)
	settlement := service.NewCoordinator(st.ledger, st.sessions, st.accounts, gw, sinks, service.SettlementConfig{
		Policy:            policy,
		DefaultTillNumber: cfg.ClientTillNumber,
		GatewayTimeout:    cfg.PaymentsTimeout,
	})
	alerts := service.NewAlertRecorder(st.alerts, sinks)
	sessions := service.NewSessionManager(st.spaces, st.accounts, st.sessions, allocator,
		service.NewFeeCalculator(cfg.PlatformRate), alerts, settlement, sinks, service.SessionConfig{
			MinimumBalance:   cfg.MinimumBalance,
			DefaultDailyRate: cfg.DefaultDailyRate,
			MaxClockSkew:     cfg.MaxClockSkew,
			ReconcileGrace:   cfg.ReconcileGrace,
		})

	// Repair space flags left behind by a crash before taking traffic.
	report, err := sessions.Reconcile(ctx)
	if err != nil {
		log.Fatalf("reconcile: %v", err)
	}
	log.Printf("reconcile: released=%d reclaimed=%d pending=%d anomalies=%d",
		len(report.ReleasedSpaces), len(report.ReclaimedSpaces), len(report.PendingSettlements), len(report.Anomalies))

	rdb := config.NewRedisClient()
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(glog.INFO)
	e.Use(echomw.RequestID())
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())

	router.RegisterRoutes(e, router.Handlers{
		Health:     handler.Health(st.ping),
		Detections: handler.NewDetectionHandler(sessions),
		Sessions:   handler.NewSessionHandler(sessions, settlement),
		Payments:   handler.NewPaymentHandler(settlement),
		Read:       handler.NewReadHandler(st.spaces, st.accounts, st.sessions, st.alerts, st.ledger),
		Admin:      handler.NewAdminHandler(sessions),
		Occupancy:  hub.Handle,
	}, router.Options{
		JWTSecret:      cfg.JWTSecret,
		CallbackSecret: cfg.CallbackSecret,
		Redis:          rdb,
		RateLimit:      config.LoadRateLimitConfig(),
		Cache:          config.LoadCacheConfig(),
	})

	addr := ":" + cfg.Port
	go func() {
		log.Printf("listening on %s (env=%s, policy=%s)", addr, cfg.Env, policy)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	stop()
	wg.Wait()
	log.Println("stopped")
}
