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

	"github.com/DoyleJ11/race-board-backend/internal/archive"
	"github.com/DoyleJ11/race-board-backend/internal/config"
	"github.com/DoyleJ11/race-board-backend/internal/httpapi"
	"github.com/DoyleJ11/race-board-backend/internal/hub"
	"github.com/DoyleJ11/race-board-backend/internal/lobby"
	"github.com/DoyleJ11/race-board-backend/internal/relay"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], ".env")
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := lobby.Options{
		StartDelay:   cfg.StartDelay,
		AdvanceDelay: cfg.AdvanceDelay,
		IdleTTL:      cfg.RoomIdleTTL,
		Logger:       log,
	}
	deps := httpapi.Deps{Logger: log, OriginPatterns: cfg.AllowedOrigins}

	if cfg.DBDriver != "" {
		store, err := archive.Open(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Recorder = store
		deps.Results = store
		log.Info("match archive enabled", zap.String("driver", cfg.DBDriver))
	}

	if cfg.RedisAddr != "" {
		pub := relay.NewRedisPublisher(relay.Settings{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer pub.Close()
		if err := pub.Ping(ctx); err != nil {
			log.Warn("redis unreachable, events will not be mirrored until it is", zap.Error(err))
		}
		opts.Publisher = pub
		log.Info("redis relay enabled", zap.String("addr", cfg.RedisAddr))
	}

	h := hub.NewHub(ctx, opts)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(h, deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
