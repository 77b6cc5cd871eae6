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

	batchhandler "pharmatrace/internal/batch/handler"
	batchservice "pharmatrace/internal/batch/service"
	batchstore "pharmatrace/internal/batch/store"
	oversighthandler "pharmatrace/internal/oversight/handler"
	oversightservice "pharmatrace/internal/oversight/service"
	oversightstore "pharmatrace/internal/oversight/store"
	"pharmatrace/internal/platform/clock"
	"pharmatrace/internal/platform/config"
	"pharmatrace/internal/platform/httpserver"
	"pharmatrace/internal/platform/logger"
	"pharmatrace/internal/platform/postgres"
	platformredis "pharmatrace/internal/platform/redis"
	"pharmatrace/internal/platform/token"
	roleshandler "pharmatrace/internal/roles/handler"
	rolesservice "pharmatrace/internal/roles/service"
	rolesstore "pharmatrace/internal/roles/store"
	transferhandler "pharmatrace/internal/transfer/handler"
	transferservice "pharmatrace/internal/transfer/service"
	transferstore "pharmatrace/internal/transfer/store"
	httptransport "pharmatrace/internal/transport/http"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/audit"
	auditpublisher "pharmatrace/pkg/platform/audit/publisher"
	auditmemory "pharmatrace/pkg/platform/audit/store/memory"
	auditpostgres "pharmatrace/pkg/platform/audit/store/postgres"
	auditworker "pharmatrace/pkg/platform/audit/worker"
)

// main wires stores, services, and transport. Business rules live in
// the internal services; this stays assembly only.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticks := clock.New()

	// Store selection: Postgres when a DSN is configured, in-memory
	// otherwise. All components follow the same choice.
	var (
		rolesStore     rolesservice.Store
		batchStore     batchservice.Store
		transferStore  transferservice.Store
		oversightStore oversightservice.Store
		auditSink      audit.Store
	)
	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		rolesStore = rolesstore.NewPostgres(db)
		batchStore = batchstore.NewPostgres(db)
		transferStore = transferstore.NewPostgres(db)
		oversightStore = oversightstore.NewPostgres(db)
		auditSink = auditpostgres.New(db)
	} else {
		rolesStore = rolesstore.NewInMemory()
		batchStore = batchstore.NewInMemory()
		transferStore = transferstore.NewInMemory()
		oversightStore = oversightstore.NewInMemory()
		auditSink = auditmemory.New()
	}

	var suspicious oversightservice.SuspiciousStore
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		suspicious = oversightstore.NewSuspiciousRedis(redisClient.Client)
		log.Info("suspicious activity counters backed by redis")
	} else {
		suspicious = oversightstore.NewSuspiciousMemory()
	}

	group, ctx := errgroup.WithContext(ctx)

	// Kafka, when configured, takes over as the audit sink with a
	// worker decoupling emission from produce latency.
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := auditpublisher.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer kafka.Close()
		inbox := make(auditworker.Inbox, 256)
		group.Go(func() error {
			err := auditworker.NewWorker(kafka, inbox).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		auditSink = inbox
		log.Info("audit sink switched to kafka, store-backed audit writes disabled",
			slog.String("topic", cfg.Kafka.Topic),
			slog.Bool("postgres_configured", cfg.PostgresDSN != ""))
	}
	emitter := audit.NewEmitter(auditSink, log)

	roles := rolesservice.New(rolesStore, id.Principal(cfg.BootstrapPrincipal),
		rolesservice.WithLogger(log), rolesservice.WithEmitter(emitter))
	batches := batchservice.New(batchStore, roles,
		batchservice.WithLogger(log), batchservice.WithEmitter(emitter))
	transfers := transferservice.New(transferStore, roles, batches,
		transferservice.WithLogger(log), transferservice.WithEmitter(emitter))
	oversight := oversightservice.New(oversightStore, suspicious, roles, batches, transfers,
		oversightservice.WithLogger(log), oversightservice.WithEmitter(emitter))

	router := httptransport.NewRouter(httptransport.Deps{
		Roles:     roleshandler.New(roles, log),
		Batches:   batchhandler.New(batches, log),
		Transfers: transferhandler.New(transfers, log),
		Oversight: oversighthandler.New(oversight, log),
		Validator: token.NewValidator(cfg.JWTSigningKey),
		Clock:     ticks,
		Logger:    log,
	})

	srv := httpserver.New(cfg.Addr, router)

	group.Go(func() error {
		log.Info("starting pharmatrace", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
