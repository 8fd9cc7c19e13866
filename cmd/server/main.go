package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"heirloom/internal/access"
	"heirloom/internal/audit"
	"heirloom/internal/delivery"
	"heirloom/internal/emergency"
	"heirloom/internal/family"
	"heirloom/internal/platform/config"
	"heirloom/internal/platform/database"
	"heirloom/internal/platform/httpserver"
	"heirloom/internal/platform/identity"
	"heirloom/internal/platform/logger"
	"heirloom/internal/platform/metrics"
	platformredis "heirloom/internal/platform/redis"
	httptransport "heirloom/internal/transport/http"
	"heirloom/internal/vault"
)

// main wires stores, services, and background loops. Business logic lives in
// the internal services; this stays a composition root.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var (
		familyStore  family.Store
		itemStore    vault.Store
		requestStore emergency.RequestStore
		grantStore   emergency.GrantStore
		auditStore   audit.Store
		eventStore   delivery.EventStore
	)
	if cfg.PostgresDSN != "" {
		db, err := database.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		familyStore = family.NewPostgres(db)
		itemStore = vault.NewPostgres(db)
		requestStore = emergency.NewPostgresRequestStore(db)
		grantStore = emergency.NewPostgresGrantStore(db)
		auditStore = audit.NewPostgres(db)
		eventStore = delivery.NewPostgresEventStore(db)
	} else {
		log.Warn("no postgres DSN configured, using in-memory stores")
		familyStore = family.NewInMemoryStore()
		itemStore = vault.NewInMemoryStore()
		requestStore = emergency.NewInMemoryRequestStore()
		grantStore = emergency.NewInMemoryGrantStore()
		auditStore = audit.NewInMemoryStore()
		eventStore = delivery.NewInMemoryEventStore()
	}

	var cooldownStore emergency.CooldownStore
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		cooldownStore = emergency.NewRedisCooldownStore(redisClient)
	} else {
		cooldownStore = emergency.NewInMemoryCooldownStore()
	}

	auditInbox := make(chan audit.Event, 1024)
	publisher := audit.NewPublisher(auditStore, log,
		audit.WithMetrics(m), audit.WithInbox(auditInbox))
	auditWorker := audit.NewWorker(auditStore, auditInbox, log)

	emergencySvc := emergency.NewService(
		requestStore, grantStore, cooldownStore,
		emergency.NewWebhookVerifier(cfg.VerifierWebhookURL, log),
		emergency.NewWebhookNotifier(cfg.NotifierWebhookURL, log),
		publisher, m, log,
		emergency.Policy{
			WaitingPeriod:      cfg.WaitingPeriod,
			VerificationWindow: cfg.VerificationWindow,
			ResubmitCooldown:   cfg.ResubmitCooldown,
		},
	)
	scheduler := delivery.NewScheduler(itemStore, eventStore,
		delivery.NewWebhookNotifier(cfg.DeliveryWebhookURL, log), publisher, m, log)

	services := httptransport.Services{
		Access:    access.NewService(itemStore, familyStore, grantStore, publisher, m),
		Family:    family.NewService(familyStore, publisher),
		Vault:     vault.NewService(itemStore, familyStore, publisher),
		Emergency: emergencySvc,
		Delivery:  scheduler,
		Audit:     publisher,
	}
	router := httptransport.NewRouter(services, identity.NewJWTService(cfg.JWTSigningKey), log)
	srv := httpserver.New(cfg.Addr, router, cfg.ReadHeaderTimeout)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting heirloom server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		auditWorker.Run(ctx)
		return nil
	})
	g.Go(func() error {
		runSweep(ctx, emergencySvc, cfg.SweepInterval, log)
		return nil
	})
	g.Go(func() error {
		scheduler.Run(ctx, cfg.SweepInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func runSweep(ctx context.Context, svc *emergency.Service, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.SweepExpirations(ctx); err != nil {
				log.Error("expiration sweep failed", "error", err)
			}
		}
	}
}
