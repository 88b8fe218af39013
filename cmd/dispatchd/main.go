package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/fanout"
	"github.com/example/ride-dispatch/internal/gateway"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/sequence"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	// optional migration: run migrations/001_create_dispatch.sql if requested
	if cfg.PGDSN != "" && cfg.RunMigrations {
		if db, err := sql.Open("postgres", cfg.PGDSN); err == nil {
			if b, err := os.ReadFile(filepath.Join("migrations", "001_create_dispatch.sql")); err == nil {
				if _, err := db.Exec(string(b)); err != nil {
					logger.Error("migration exec failed", "error", err)
				} else {
					logger.Info("migration applied", "file", "001_create_dispatch.sql")
				}
			}
			_ = db.Close()
		} else {
			logger.Error("migration db open failed", "error", err)
		}
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer ps.Close()
		store = ps
	} else {
		logger.Warn("no PG_DSN set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var sink presence.LocationSink
	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		sink = producer
	}

	var mirror gateway.NearbyMirror
	if cfg.RedisAddr != "" {
		rm := geo.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer rm.Close()
		mirror = rm
	}

	registry := gateway.NewRegistry()
	fan := fanout.New(registry, cfg.AcceptRedeliver, logger.With("component", "fanout"))
	reg := presence.NewRegistry(store, sink, fan, logger.With("component", "presence"))
	gen := sequence.NewGenerator(store, logger.With("component", "sequence"))
	rides := lifecycle.NewService(store, gen, reg, fan, cfg.WorkingCopyGrace, logger.With("component", "lifecycle"))
	srv := gateway.NewServer(registry, fan, reg, rides, mirror, logger.With("component", "gateway"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reg.Run(ctx, cfg.SweepInterval, cfg.PresenceTTL)
	go srv.RunStatusLog(ctx, cfg.StatusLogInterval)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	registry.CloseAll()
}
