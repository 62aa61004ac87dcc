package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"kvkstats/internal/logging"
	"kvkstats/internal/metrics"
)

const (
	defaultUploadQueueKey = "kvk_uploads"
	retrySuffix           = ":retry"
	dlqSuffix             = ":dlq"
	retryCounterSuffix    = ":retry-count:"
	retryCounterTTL       = 24 * time.Hour
	maxRetryAttempts      = 3
	brPopBlock            = 5 * time.Second
)

// RedisQueue implements queue operations using Redis lists.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a Redis-backed queue helper.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, key: defaultUploadQueueKey}
}

// Enqueue pushes a job payload; consumers pop from the other end, so jobs run in order.
func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, payload []byte) error {
	if queueName == "" {
		queueName = q.key
	}
	if err := q.client.LPush(ctx, queueName, payload).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", queueName, err)
	}
	metrics.QueueJobs.WithLabelValues("enqueued").Inc()
	return nil
}

// Depth reports how many jobs wait in the main, retry and dead-letter lists.
type Depth struct {
	Pending int64 `json:"pending"`
	Retry   int64 `json:"retry"`
	Dead    int64 `json:"dead"`
}

// Depth reads the current list lengths for queueName.
func (q *RedisQueue) Depth(ctx context.Context, queueName string) (Depth, error) {
	k := q.keysFor(queueName)

	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, k.main)
	retry := pipe.LLen(ctx, k.retry)
	dead := pipe.LLen(ctx, k.dlq)
	if _, err := pipe.Exec(ctx); err != nil {
		return Depth{}, fmt.Errorf("queue depth %s: %w", k.main, err)
	}

	return Depth{Pending: pending.Val(), Retry: retry.Val(), Dead: dead.Val()}, nil
}

// keys names the lists backing one logical queue.
type keys struct {
	main, retry, dlq string
}

func (q *RedisQueue) keysFor(queueName string) keys {
	if queueName == "" {
		queueName = q.key
	}
	return keys{main: queueName, retry: queueName + retrySuffix, dlq: queueName + dlqSuffix}
}

// Consume uses BRPOP to deliver jobs to the handler until the context is canceled.
// Retried jobs are popped before new ones.
func (q *RedisQueue) Consume(ctx context.Context, queueName string, handler func([]byte) error) error {
	logger := logging.Logger()
	k := q.keysFor(queueName)

	for {
		payload, err := q.pop(ctx, k)
		if err != nil {
			logger.Warnf("redis consumer exiting: %v", err)
			return err
		}
		if payload == nil {
			continue
		}
		q.process(ctx, k, payload, handler, "consumer")
	}
}

// ConsumeConcurrent uses BRPOP to feed jobs to a worker pool. Uploads for
// different kingdoms run in parallel; the rollup store serializes updates to
// shared documents.
func (q *RedisQueue) ConsumeConcurrent(ctx context.Context, queueName string, workerCount, bufferSize int, handler func([]byte) error) error {
	logger := logging.Logger()
	k := q.keysFor(queueName)

	jobChan := make(chan []byte, bufferSize)
	var wg sync.WaitGroup
	defer func() {
		close(jobChan)
		wg.Wait()
	}()

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			name := fmt.Sprintf("worker %d", workerID)
			for payload := range jobChan {
				q.process(ctx, k, payload, handler, name)
			}
			logger.Infof("%s: exiting", name)
		}(i)
	}

	logger.Infof("started %d concurrent workers for queue %s", workerCount, k.main)

	for {
		payload, err := q.pop(ctx, k)
		if err != nil {
			logger.Warnf("redis consumer exiting: %v", err)
			return err
		}
		if payload == nil {
			continue
		}

		select {
		case jobChan <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pop waits for the next job. It returns nil, nil when the wait timed out or
// Redis hiccuped, and an error only once ctx is done.
func (q *RedisQueue) pop(ctx context.Context, k keys) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := q.client.BRPop(ctx, brPopBlock, k.retry, k.main).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.Logger().Warnf("redis BRPOP error: %v", err)
		return nil, nil
	}
	if len(result) < 2 {
		return nil, nil
	}
	return []byte(result[1]), nil
}

// process runs handler on one job and schedules a retry when it fails.
func (q *RedisQueue) process(ctx context.Context, k keys, payload []byte, handler func([]byte) error, who string) {
	logger := logging.Logger()

	if err := handler(payload); err != nil {
		logger.Warnf("%s: handler error, scheduling retry: %v", who, err)
		if err := q.handleRetry(ctx, k, payload); err != nil {
			logger.Errorf("%s: retry handling failed: %v", who, err)
		}
		return
	}

	metrics.QueueJobs.WithLabelValues("done").Inc()
	if err := q.clearRetryCounter(ctx, k.main, payload); err != nil {
		logger.Debugf("%s: clear retry counter: %v", who, err)
	}
}

func (q *RedisQueue) handleRetry(ctx context.Context, k keys, payload []byte) error {
	attempt, err := q.incrementRetryCounter(ctx, k.main, payload)
	if err != nil {
		return err
	}
	if attempt > maxRetryAttempts {
		logging.Logger().Warnf("moving job to %s after %d attempts", k.dlq, attempt-1)
		metrics.QueueJobs.WithLabelValues("dead").Inc()
		if err := q.client.LPush(ctx, k.dlq, payload).Err(); err != nil {
			return fmt.Errorf("push to dlq: %w", err)
		}
		return q.clearRetryCounter(ctx, k.main, payload)
	}
	metrics.QueueJobs.WithLabelValues("retried").Inc()
	return q.client.LPush(ctx, k.retry, payload).Err()
}

func (q *RedisQueue) incrementRetryCounter(ctx context.Context, queueName string, payload []byte) (int64, error) {
	key := retryCounterKey(queueName, payload)
	count, err := q.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = q.client.Expire(ctx, key, retryCounterTTL).Err()
	return count, nil
}

func (q *RedisQueue) clearRetryCounter(ctx context.Context, queueName string, payload []byte) error {
	return q.client.Del(ctx, retryCounterKey(queueName, payload)).Err()
}

func retryCounterKey(queue string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%s%s%s", queue, retryCounterSuffix, hex.EncodeToString(sum[:]))
}
