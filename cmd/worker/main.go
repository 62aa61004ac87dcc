package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"kvkstats/internal/cache"
	"kvkstats/internal/camps"
	"kvkstats/internal/config"
	"kvkstats/internal/db"
	"kvkstats/internal/logging"
	"kvkstats/internal/processor"
	"kvkstats/internal/queue"
	"kvkstats/internal/retriever"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config load failed: %v", err)
		os.Exit(1)
	}
	logging.SetLevel(cfg.LogLevel)

	if cfg.RedisURL == "" {
		logger.Errorf("REDIS_URL is required for the worker")
		os.Exit(1)
	}

	table, err := camps.Load(cfg.CampsFile)
	if err != nil {
		logger.Errorf("camp table load failed: %v", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Errorf("db connection failed: %v", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Errorf("migrations failed: %v", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Errorf("invalid redis url: %v", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	docs := db.NewDocumentStore(pool)
	// The server reads through the same Redis cache, so clearing it here
	// invalidates what the dashboard serves.
	reader := retriever.New(docs, table, cache.NewRedis(redisClient, cfg.CacheTTL))

	uploads := processor.NewUploadProcessor(docs, table, reader)
	proc := processor.NewAggregateProcessor(ctx, uploads)
	q := queue.NewRedisQueue(redisClient)

	handler := func(payload []byte) error {
		return proc.Handle(payload)
	}

	// Use concurrent processing if worker count > 1
	if cfg.WorkerCount > 1 {
		logger.Infof("starting concurrent consumption of %s with %d workers", cfg.RedisQueue, cfg.WorkerCount)
		if err := q.ConsumeConcurrent(ctx, cfg.RedisQueue, cfg.WorkerCount, cfg.JobBufferSize, handler); err != nil && ctx.Err() == nil {
			logger.Errorf("queue consumption ended: %v", err)
			os.Exit(1)
		}
	} else {
		logger.Infof("starting single-threaded consumption of %s", cfg.RedisQueue)
		if err := q.Consume(ctx, cfg.RedisQueue, handler); err != nil && ctx.Err() == nil {
			logger.Errorf("queue consumption ended: %v", err)
			os.Exit(1)
		}
	}
}
