// udf-store serves the content-addressed model store over HTTP.
//
// Configuration comes from the environment (see internal/core/config);
// flags override the listen address and storage root.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/geo-udf/internal/core/config"
	"github.com/mohammed-shakir/geo-udf/internal/core/health"
	"github.com/mohammed-shakir/geo-udf/internal/core/httpclient"
	"github.com/mohammed-shakir/geo-udf/internal/core/observability"
	"github.com/mohammed-shakir/geo-udf/internal/core/server"
	"github.com/mohammed-shakir/geo-udf/internal/invalidation"
	"github.com/mohammed-shakir/geo-udf/internal/logger"
	"github.com/mohammed-shakir/geo-udf/internal/metrics"
	"github.com/mohammed-shakir/geo-udf/internal/mlstore"
	"github.com/mohammed-shakir/geo-udf/internal/mlstore/catalog"
	"github.com/mohammed-shakir/geo-udf/internal/udf/mlmodel"
	"github.com/mohammed-shakir/geo-udf/pkg/invalidation/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	fs := pflag.NewFlagSet("udf-store", pflag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.StorageRoot, "root", cfg.StorageRoot, "model storage root")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug|info|warn|error")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if *showVersion {
		fmt.Println("udf-store", Version)
		return 0
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "udf-store",
		Component: "main",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, appLog); err != nil {
		appLog.Error("udf-store exited", "err", err)
		return 1
	}
	appLog.Info("udf-store stopped")
	return 0
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	prov := metrics.Init(metrics.Config{Version: Version, Runtime: true})

	s3, err := mlstore.NewS3(cfg.S3)
	if err != nil {
		return err
	}
	cache := mlmodel.NewCache(cfg.ModelCacheSize)
	opts := []mlstore.Option{
		mlstore.WithLogger(log),
		mlstore.WithEvictor(cache),
		mlstore.WithFetcher(mlstore.Sources{
			HTTP: httpclient.NewOutbound(cfg.FetchTimeout),
			S3:   s3,
		}),
	}

	if cfg.CatalogEnabled {
		cat, err := catalog.New(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("model catalog: %w", err)
		}
		defer func() { _ = cat.Close() }()
		opts = append(opts, mlstore.WithCatalog(cat))
		log.Info("model catalog enabled", "redis", cfg.RedisAddr)
	}

	if cfg.Events.Enabled {
		pub, err := invalidation.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic, 0, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := pub.Close(); err != nil {
				log.Warn("event publisher close", "err", err)
			}
		}()
		opts = append(opts, mlstore.WithNotifier(pub))
	}
	runner := kafka.New(kafka.FromConfig(cfg.Events), cache, kafka.Options{
		Logger:   log,
		Register: prov.Registerer(),
	})

	store, err := mlstore.New(cfg.StorageRoot, opts...)
	if err != nil {
		return err
	}
	loader := &mlmodel.Loader{
		Resolver: store,
		Cache:    cache,
		OnLoad: func(ref *mlmodel.Ref, hit bool, err error) {
			observability.ObserveModelLoad(string(ref.Framework), hit, err)
		},
	}

	log.Info("starting udf-store",
		"addr", cfg.Addr,
		"version", Version,
		"root", cfg.StorageRoot,
		"events", cfg.Events.Enabled,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := runner.Start(ctx); err != nil {
			return fmt.Errorf("model event consumer: %w", err)
		}
		<-ctx.Done()
		runner.Stop()
		return nil
	})
	g.Go(func() error {
		return server.Run(ctx, cfg, log, server.Deps{
			Store:   store,
			Loader:  loader,
			Metrics: prov.Handler(),
			Ready:   map[string]health.ReadinessReporter{"events": runner},
		})
	})
	return g.Wait()
}
