// Package app wires the server's dependencies with fx.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"kvkstats/internal/admin"
	"kvkstats/internal/api"
	"kvkstats/internal/cache"
	"kvkstats/internal/camps"
	"kvkstats/internal/config"
	"kvkstats/internal/db"
	"kvkstats/internal/docstore"
	"kvkstats/internal/logging"
	"kvkstats/internal/parser"
	"kvkstats/internal/processor"
	"kvkstats/internal/queue"
	"kvkstats/internal/retriever"
)

const startupTimeout = 30 * time.Second

func ProvideLogger(cfg *config.Config) zerolog.Logger {
	logging.SetLevel(cfg.LogLevel)
	return logging.Base()
}

func ProvideCamps(cfg *config.Config, logger zerolog.Logger) (*camps.Table, error) {
	table, err := camps.Load(cfg.CampsFile)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Int("camps", len(table.Order)).
		Int("kingdoms", len(table.AllKingdoms())).
		Int("events", len(table.Events)).
		Msg("camp table loaded")
	return table, nil
}

func ProvidePool(lc fx.Lifecycle, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Info().Msg("closing database pool")
			pool.Close()
			return nil
		},
	})
	return pool, nil
}

func ProvideDocumentStore(pool *pgxpool.Pool) docstore.Store {
	return db.NewDocumentStore(pool)
}

// ProvideRedis returns nil when no REDIS_URL is configured.
func ProvideRedis(lc fx.Lifecycle, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

// ProvideCache shares the read cache through Redis when available so the
// worker's invalidations reach this process.
func ProvideCache(cfg *config.Config, client *redis.Client, logger zerolog.Logger) cache.Cache {
	if client == nil {
		logger.Warn().Msg("no redis configured, using in-process read cache")
		return cache.NewMemory(cfg.CacheTTL)
	}
	return cache.NewRedis(client, cfg.CacheTTL)
}

func ProvideRetriever(docs docstore.Store, table *camps.Table, c cache.Cache) *retriever.Retriever {
	return retriever.New(docs, table, c)
}

func ProvideUploadProcessor(docs docstore.Store, table *camps.Table, reader *retriever.Retriever) *processor.UploadProcessor {
	return processor.NewUploadProcessor(docs, table, reader)
}

func ProvideAdmin(docs docstore.Store, table *camps.Table, reader *retriever.Retriever) *admin.Service {
	return admin.NewService(docs, table, reader)
}

type handlerParams struct {
	fx.In

	Config  *config.Config
	Table   *camps.Table
	Reader  *retriever.Retriever
	Uploads *processor.UploadProcessor
	Admin   *admin.Service
	Redis   *redis.Client
	Logger  zerolog.Logger
}

func ProvideHandler(p handlerParams) *api.Handler {
	cfg := api.Config{
		Table:     p.Table,
		Reader:    p.Reader,
		Uploads:   p.Uploads,
		Admin:     p.Admin,
		Parsers:   parser.NewFactory(),
		QueueName: p.Config.RedisQueue,
		Logger:    p.Logger,
	}
	if p.Config.UploadMode == config.UploadModeQueue {
		cfg.Queue = queue.NewRedisQueue(p.Redis)
		p.Logger.Info().Str("queue", p.Config.RedisQueue).Msg("uploads are queued for the worker")
	}
	return api.New(cfg)
}

var Module = fx.Options(
	fx.Provide(config.Load),
	fx.Provide(ProvideLogger),
	fx.Provide(ProvideCamps),
	fx.Provide(ProvidePool),
	fx.Provide(ProvideDocumentStore),
	fx.Provide(ProvideRedis),
	fx.Provide(ProvideCache),
	// services
	fx.Provide(ProvideRetriever),
	fx.Provide(ProvideUploadProcessor),
	fx.Provide(ProvideAdmin),
	// http
	fx.Provide(ProvideHandler),
)
