package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agora/internal/admintoken"
	"agora/internal/federation/delivery"
	"agora/internal/federation/dispatch"
	"agora/internal/federation/handler"
	"agora/internal/federation/journal"
	"agora/internal/federation/policy"
	"agora/internal/federation/ratelimit"
	"agora/internal/federation/resolver"
	"agora/internal/federation/signing"
	httpapi "agora/internal/http"
	"agora/internal/notify"
	"agora/internal/platform/config"
	"agora/internal/platform/httpserver"
	"agora/internal/platform/logger"
	"agora/internal/platform/metrics"
	"agora/internal/platform/postgres"
	platformredis "agora/internal/platform/redis"
	"agora/internal/storage"
)

const (
	softwareName    = "agora"
	softwareVersion = "0.1.0"

	inboxRateLimit  = 60
	inboxRateWindow = time.Minute
	notifyBuffer    = 1024
	notifyStream    = "agora:federation:events"
)

// main wires dependencies and owns the process lifecycle. Federation logic
// lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	store := storage.NewMemory()

	pool, err := postgres.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}

	var jrnl journal.Journal
	if pool != nil {
		pj := journal.NewPostgres(pool)
		if err := pj.EnsureSchema(ctx); err != nil {
			log.Error("journal schema", "error", err)
			os.Exit(1)
		}
		jrnl = pj
	} else {
		log.Warn("no postgres configured, activity journal is process-local")
		jrnl = journal.NewMemory()
	}

	cache := policy.NewCache(policy.LoaderFunc(func(ctx context.Context) (policy.Snapshot, error) {
		blocked, allowed, err := store.TrustLists(ctx)
		if err != nil {
			return policy.Snapshot{}, err
		}
		return policy.NewSnapshot(cfg.FederationEnabled, blocked, allowed), nil
	}), config.TrustPolicyTTL, policy.WithMetrics(m))
	validator := policy.NewValidator(cache, cfg.Hostname)

	res := resolver.New(store, validator, cfg.Hostname, log,
		resolver.WithFetchLimit(config.FetchLimit),
		resolver.WithMetrics(m),
	)

	sender := delivery.New(signing.HTTPSignature{}, validator, delivery.NewStoreFollowers(store), log,
		delivery.WithTimeout(config.DeliveryTimeout),
		delivery.WithMaxAttempts(config.DeliveryMaxAttempts),
		delivery.WithConcurrency(config.DeliveryConcurrency),
		delivery.WithMetrics(m),
	)

	notifier := notify.NewNotifier(notifyBuffer, log)
	var worker *notify.Worker
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		worker = notify.NewWorker(notify.NewRedisPublisher(redisClient.Client, notifyStream), notifier.Events(), log)
	} else {
		log.Warn("no redis configured, applied-activity events are dropped")
	}

	dispatcher := dispatch.New(validator, jrnl, res, store, sender, notifier,
		cfg.Protocol, cfg.Hostname, log, dispatch.WithMetrics(m))

	fedHandler := handler.New(dispatcher, res, store, signing.HTTPSignature{},
		cfg.Protocol, cfg.Hostname, softwareName, softwareVersion, log)
	tokens := admintoken.NewService(cfg.JWTSigningKey, softwareName, cfg.AdminTokenHash)
	adminHandler := handler.NewAdmin(store, cache, tokens, log)

	limiter := ratelimit.New(inboxRateLimit, inboxRateWindow)
	router := httpapi.NewRouter(fedHandler, adminHandler, limiter)
	srv := httpserver.New(cfg.Addr, router)

	if worker != nil {
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("notify worker stopped", "error", err)
			}
		}()
	}

	go func() {
		log.Info("federation engine listening",
			"addr", cfg.Addr,
			"hostname", cfg.Hostname,
			"federation_enabled", cfg.FederationEnabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	// Detached deliveries drain before the process exits.
	sender.Wait()

	if redisClient != nil {
		_ = redisClient.Close()
	}
	if pool != nil {
		pool.Close()
	}
}
