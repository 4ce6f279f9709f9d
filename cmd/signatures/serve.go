package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	signatures "github.com/goliatone/go-signatures"
	"github.com/goliatone/go-signatures/adapters/gocommand"
	"github.com/goliatone/go-signatures/adapters/kafka"
	"github.com/goliatone/go-signatures/core"
	"github.com/goliatone/go-signatures/maintenance"
	"github.com/goliatone/go-signatures/security"
	redisstore "github.com/goliatone/go-signatures/store/redis"
	sqlstore "github.com/goliatone/go-signatures/store/sql"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	db      databaseOptions
	metrics metricsOptions

	kafkaBrokers []string
	kafkaTopic   string
	eventBuffer  int

	redisAddr   string
	redisPrefix string

	codeKey     string
	codeKeyID   string
	codeVersion int

	cacheTTL        time.Duration
	shutdownTimeout time.Duration
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch engine and its housekeeping loops",
		Long: `Run the dispatch engine with SQL persistence, provider reload, degraded
mode evaluation, idempotency sweeps, request expiry and deferred resumption.

Examples:
  signatures serve --db-driver postgres --db-dsn postgres://localhost/signatures?sslmode=disable
  signatures serve --kafka-brokers localhost:9092 --redis-addr localhost:6379`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, root, opts)
		},
	}
	opts.db.bind(cmd, true)
	flags := cmd.Flags()
	flags.StringSliceVar(&opts.kafkaBrokers, "kafka-brokers", nil, "publish engine events to these kafka brokers")
	flags.StringVar(&opts.kafkaTopic, "kafka-topic", "signatures.events", "kafka topic for engine events")
	flags.IntVar(&opts.eventBuffer, "event-buffer", 256, "events buffered for asynchronous publishing")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "keep idempotency records in redis instead of SQL")
	flags.StringVar(&opts.redisPrefix, "redis-prefix", "signatures:idempotency", "redis key prefix for idempotency records")
	flags.StringVar(&opts.codeKey, "code-key", os.Getenv("SIGNATURES_CODE_KEY"), "seal challenge codes at rest with this key")
	flags.StringVar(&opts.codeKeyID, "code-key-id", "app-key", "identifier recorded with sealed codes")
	flags.IntVar(&opts.codeVersion, "code-key-version", 1, "version recorded with sealed codes")
	flags.DurationVar(&opts.cacheTTL, "cache-ttl", 30*time.Second, "cache routing rules and provider configs for this long (0 disables)")
	flags.DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 10*time.Second, "grace period for in-flight housekeeping on shutdown")
	flags.StringVar(&opts.metrics.endpoint, "otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP gRPC endpoint for metrics")
	flags.BoolVar(&opts.metrics.insecure, "otlp-insecure", false, "dial the OTLP endpoint without TLS")
	flags.DurationVar(&opts.metrics.interval, "metrics-interval", 10*time.Second, "metric export interval")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(cmd.ErrOrStderr(), root.logLevel, root.logFormat)
	if err != nil {
		return err
	}

	conn, err := connect(ctx, opts.db)
	if err != nil {
		return err
	}
	defer conn.Close()

	stores, err := conn.stores()
	if err != nil {
		return err
	}
	if opts.codeKey != "" {
		sealer, err := security.NewCodeSealerFromString(opts.codeKey,
			security.WithKeyID(opts.codeKeyID),
			security.WithVersion(opts.codeVersion),
			security.WithPlaintextFallback(),
		)
		if err != nil {
			return err
		}
		stores.WithCodeSealer(sealer)
	}

	factories := signatures.NewProviderFactories()
	if err := factories.Register("sandbox", signatures.SandboxProviderBuilder); err != nil {
		return err
	}

	meterProvider, err := newMeterProvider(ctx, opts.metrics)
	if err != nil {
		return err
	}
	defer shutdownWithin(opts.shutdownTimeout, meterProvider.Shutdown)
	recorder, err := newMetricsRecorder(meterProvider, logger)
	if err != nil {
		return err
	}

	engineOpts := []signatures.EngineOption{
		signatures.WithLogger(logger),
		signatures.WithMetricsRecorder(recorder),
		signatures.WithStores(stores),
		signatures.WithProviderFactory(factories),
		signatures.WithServiceOptions(core.WithConfigProvider(root.configProvider())),
	}

	if opts.cacheTTL > 0 {
		cached, err := cachedStores(stores, opts.cacheTTL)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, cached...)
	}

	if opts.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		defer rdb.Close()
		idempotencyStore, err := redisstore.NewIdempotencyStore(rdb, redisstore.WithKeyPrefix(opts.redisPrefix))
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, signatures.WithIdempotencyStore(idempotencyStore))
	}

	if len(opts.kafkaBrokers) > 0 {
		writer, err := kafka.NewWriter(opts.kafkaBrokers, opts.kafkaTopic)
		if err != nil {
			return err
		}
		sink, err := kafka.NewEventSink(writer)
		if err != nil {
			return err
		}
		defer sink.Close()
		engineOpts = append(engineOpts, signatures.WithEventSink(sink, opts.eventBuffer))
	}

	engine, err := signatures.NewEngine(ctx, core.Config{}, engineOpts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	bus := gocommand.NewRegistry(nil)
	if err := engine.RegisterHandlers(bus); err != nil {
		return err
	}
	if err := bus.Initialize(); err != nil {
		return err
	}
	defer bus.Close()

	scheduler, err := engine.Scheduler(maintenance.ConfigFrom(engine.Config()))
	if err != nil {
		return err
	}
	scheduler.Start()
	defer shutdownWithin(opts.shutdownTimeout, scheduler.Stop)

	logger.Info("signature engine serving",
		"db", conn.dialect,
		"providers", len(engine.Registry().List()),
		"jobs", scheduler.Scheduled(),
		"kafka", len(opts.kafkaBrokers) > 0,
		"redis", opts.redisAddr != "",
		"sealed_codes", opts.codeKey != "",
	)
	<-ctx.Done()
	logger.Info("signature engine stopping")
	return nil
}

func cachedStores(stores *sqlstore.RepositoryFactory, ttl time.Duration) ([]signatures.EngineOption, error) {
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = ttl
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("cache service: %w", err)
	}
	rules, err := sqlstore.NewCachedRoutingRuleStore(stores.RoutingRuleRepository(), cacheService)
	if err != nil {
		return nil, err
	}
	providers, err := sqlstore.NewCachedProviderConfigStore(stores.ProviderConfigStore(), cacheService)
	if err != nil {
		return nil, err
	}
	return []signatures.EngineOption{
		signatures.WithRoutingRuleRepository(rules),
		signatures.WithProviderConfigStore(providers),
	}, nil
}

func shutdownWithin(timeout time.Duration, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = fn(ctx)
}
