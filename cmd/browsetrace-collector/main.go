package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vincentbai/browsetrace-collector/internal/config"
	"github.com/vincentbai/browsetrace-collector/internal/observability"
	"github.com/vincentbai/browsetrace-collector/internal/server"
	"github.com/vincentbai/browsetrace-collector/internal/store"
	"github.com/vincentbai/browsetrace-collector/internal/store/backend"
	"github.com/vincentbai/browsetrace-collector/internal/tracking"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("collector stopped with error")
	}
}

func run() error {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := observability.InitLogger(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := observability.InitTracer(server.Version, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to flush traces")
			}
		}()
	}

	open, kind, err := backend.Opener(cfg.Storage.Backend())
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	handle := store.NewHandle()
	defer func() {
		if err := handle.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close storage")
		}
	}()

	service := tracking.NewService(handle, metrics)
	srv := server.NewServer(service, cfg.Server, metrics)

	g, gctx := errgroup.WithContext(ctx)

	// Storage opens in the background; until then requests get StorageUnavailable.
	g.Go(func() error {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = 0
		if err := handle.Open(gctx, open, b); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		metrics.SetStorageReady(true)
		log.Info().Str("backend", string(kind)).Msg("storage ready")
		return nil
	})

	g.Go(func() error {
		return srv.Start(gctx)
	})

	return g.Wait()
}
