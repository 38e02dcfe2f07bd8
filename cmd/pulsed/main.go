// Command pulsed runs the feedpulse HTTP daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	feedpulse "github.com/hupe1980/feedpulse"
	"github.com/hupe1980/feedpulse/kvstore"
	dynamostore "github.com/hupe1980/feedpulse/kvstore/dynamodb"
	miniostore "github.com/hupe1980/feedpulse/kvstore/minio"
	s3store "github.com/hupe1980/feedpulse/kvstore/s3"
	"github.com/hupe1980/feedpulse/server"
	"github.com/hupe1980/feedpulse/wal"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pulsed: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := server.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)

	store, err := newStore(context.Background(), cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	engine, err := feedpulse.New(store,
		feedpulse.WithLogger(logger),
		feedpulse.WithRateLimit(cfg.Ingest.RateLimit, cfg.Ingest.RateWindow),
		feedpulse.WithBackgroundReplay(cfg.Replay.Interval, cfg.Replay.EventsPerSec),
		feedpulse.WithWAL(func(o *wal.LogOptions) {
			o.Compression = compression(cfg.Ingest.Compression)
		}),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer engine.Close()

	srv := server.New(cfg.HTTP, engine, logger)

	errCh := make(chan error, 1)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(ctx)
}

func newLogger(cfg server.LoggingConfig) *feedpulse.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return feedpulse.NewJSONLogger(level)
	}

	return feedpulse.NewTextLogger(level)
}

func compression(name string) wal.Compression {
	switch name {
	case "zstd":
		return wal.CompressionZSTD
	case "lz4":
		return wal.CompressionLZ4
	default:
		return wal.CompressionNone
	}
}

// newStore builds the substrate for the configured backend. Object-store
// backends hold the append-only log only; projections live in memory and
// are rebuilt by replay on startup.
func newStore(ctx context.Context, cfg server.StoreConfig) (kvstore.MutableStore, error) {
	switch cfg.Backend {
	case "memory":
		return kvstore.NewMemoryStore(), nil
	case "local":
		return kvstore.NewLocalStore(cfg.Path)
	case "dynamodb":
		client, err := dynamostore.NewDefaultClient(ctx)
		if err != nil {
			return nil, err
		}

		return kvstore.NewCASMutable(dynamostore.NewStore(client, cfg.Table, "feedpulse")), nil
	case "s3":
		client, err := s3store.NewDefaultClient(ctx)
		if err != nil {
			return nil, err
		}

		routed := s3store.NewStore(client, cfg.Bucket, "feedpulse")

		return kvstore.NewSplit(routed, kvstore.NewMemoryStore(), wal.KeyPrefix, "ids/"), nil
	case "minio":
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}

		routed := miniostore.NewStore(client, cfg.Bucket, "feedpulse")

		return kvstore.NewSplit(routed, kvstore.NewMemoryStore(), wal.KeyPrefix, "ids/"), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
