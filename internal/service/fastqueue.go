package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/castline/castline/internal/config"
	"github.com/castline/castline/internal/models"
)

const (
	queueDueKey    = "castline:queue:due"
	queueJobPrefix = "castline:queue:job:"
)

// QueueEntry is the denormalized snapshot of a scheduled job kept in Redis for
// cheap due-time scans. It is never authoritative; the dispatcher re-validates
// every entry against the job store before touching anything.
type QueueEntry struct {
	JobID       string          `json:"job_id"`
	OwnerID     string          `json:"owner_id"`
	Platform    models.Platform `json:"platform"`
	MediaURL    string          `json:"media_url"`
	Caption     string          `json:"caption"`
	ScheduledAt time.Time       `json:"scheduled_at"`
}

// FastQueue is an optional accelerator over the job store. All operations are
// best-effort: failures are logged and swallowed, and a nil client degrades
// every call to a no-op so the dispatcher falls back to store scans.
type FastQueue struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRedisClient builds the shared Redis client, or nil when the fast queue is
// disabled. Connectivity problems are logged, not fatal.
func NewRedisClient(cfg *config.RedisConfig, logger *zap.Logger) *redis.Client {
	if !cfg.Enabled {
		logger.Info("Fast queue disabled, dispatcher will scan the job store only")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Failed to connect to Redis, fast queue degraded", zap.Error(err))
	} else {
		logger.Info("Connected to Redis")
	}

	return client
}

func NewFastQueue(client *redis.Client, cfg *config.RedisConfig, logger *zap.Logger) *FastQueue {
	ttl, err := time.ParseDuration(cfg.EntryTTL)
	if err != nil || ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	return &FastQueue{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Enqueue mirrors a freshly scheduled job into the queue. The job store write
// already succeeded, so a failure here only costs detection latency.
func (q *FastQueue) Enqueue(ctx context.Context, entry QueueEntry) {
	if q.client == nil {
		return
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		q.logger.Warn("Failed to encode queue entry", zap.String("job_id", entry.JobID), zap.Error(err))
		return
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, queueJobPrefix+entry.JobID, payload, q.ttl)
	pipe.ZAdd(ctx, queueDueKey, redis.Z{
		Score:  float64(entry.ScheduledAt.Unix()),
		Member: entry.JobID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Warn("Failed to enqueue job", zap.String("job_id", entry.JobID), zap.Error(err))
	}
}

// ListDue returns entries scheduled at or before asOf. Index members whose
// payload has TTL-expired are pruned on the way through.
func (q *FastQueue) ListDue(ctx context.Context, asOf time.Time) []QueueEntry {
	if q.client == nil {
		return nil
	}

	ids, err := q.client.ZRangeByScore(ctx, queueDueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(asOf.Unix(), 10),
	}).Result()
	if err != nil {
		q.logger.Warn("Failed to scan fast queue", zap.Error(err))
		return nil
	}

	var entries []QueueEntry
	for _, id := range ids {
		raw, err := q.client.Get(ctx, queueJobPrefix+id).Result()
		if err == redis.Nil {
			// Payload expired, drop the orphaned index member
			q.client.ZRem(ctx, queueDueKey, id)
			continue
		}
		if err != nil {
			q.logger.Warn("Failed to read queue entry", zap.String("job_id", id), zap.Error(err))
			continue
		}

		var entry QueueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			q.logger.Warn("Failed to decode queue entry", zap.String("job_id", id), zap.Error(err))
			q.Remove(ctx, id)
			continue
		}
		entries = append(entries, entry)
	}

	return entries
}

// Remove drops a job's entry once it reaches a terminal state.
func (q *FastQueue) Remove(ctx context.Context, jobID string) {
	if q.client == nil {
		return
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, queueDueKey, jobID)
	pipe.Del(ctx, queueJobPrefix+jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Warn("Failed to remove queue entry", zap.String("job_id", jobID), zap.Error(err))
	}
}
