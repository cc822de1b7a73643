package queue

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

const defaultPrefix = "newsdigest"

// minReceiveTimeout is the smallest BRPOP timeout Redis accepts from go-redis.
const minReceiveTimeout = time.Second

// RedisQueue keeps one list per source; producers LPUSH, workers BRPOP.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

var (
	_ ports.TaskQueue     = (*RedisQueue)(nil)
	_ ports.AnalysisQueue = (*RedisQueue)(nil)
)

func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisQueue{client: client, prefix: prefix}
}

// NewRedisQueueWithURL parses a redis:// URL and connects lazily.
func NewRedisQueueWithURL(url, prefix string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisQueue(redis.NewClient(opts), prefix), nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Ping reports whether the broker is reachable.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w: %w", domain.ErrQueueUnavailable, err)
	}
	return nil
}

// Key returns the list key of a source queue.
func (q *RedisQueue) Key(source string) string {
	return q.prefix + ":queue:" + Slug(source)
}

func (q *RedisQueue) analysisKey() string {
	return q.prefix + ":analysis"
}

// Publish pushes every task inside one MULTI/EXEC so either all land or none.
func (q *RedisQueue) Publish(ctx context.Context, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	payloads := make([][]byte, len(tasks))
	for i, task := range tasks {
		raw, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("encode task: %w", err)
		}
		payloads[i] = raw
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, task := range tasks {
			pipe.LPush(ctx, q.Key(task.SourceName), payloads[i])
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %d tasks: %w: %w", len(tasks), domain.ErrQueueUnavailable, err)
	}
	return nil
}

// Receive blocks on the source list for up to timeout.
func (q *RedisQueue) Receive(ctx context.Context, source string, timeout time.Duration) (domain.Task, bool, error) {
	if timeout < minReceiveTimeout {
		timeout = minReceiveTimeout
	}
	res, err := q.client.BRPop(ctx, timeout, q.Key(source)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Task{}, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return domain.Task{}, false, ctx.Err()
		}
		return domain.Task{}, false, fmt.Errorf("receive %s: %w: %w", source, domain.ErrQueueUnavailable, err)
	}
	if len(res) != 2 {
		return domain.Task{}, false, fmt.Errorf("receive %s: unexpected reply %v", source, res)
	}
	var task domain.Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return domain.Task{}, false, fmt.Errorf("decode task: %w", err)
	}
	return task, true, nil
}

type analysisMessage struct {
	ItemID int64 `json:"item_id"`
}

// EnqueueAnalysis appends one message per item for the enrichment worker.
func (q *RedisQueue) EnqueueAnalysis(ctx context.Context, itemIDs []int64) error {
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range itemIDs {
			raw, err := json.Marshal(analysisMessage{ItemID: id})
			if err != nil {
				return err
			}
			pipe.RPush(ctx, q.analysisKey(), raw)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue analysis: %w: %w", domain.ErrQueueUnavailable, err)
	}
	return nil
}

// Depth returns the number of waiting tasks of a source.
func (q *RedisQueue) Depth(ctx context.Context, source string) (int64, error) {
	n, err := q.client.LLen(ctx, q.Key(source)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth %s: %w", source, err)
	}
	return n, nil
}

// Slug makes an ASCII-safe queue suffix; names without ASCII letters hash instead.
func Slug(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		sum := sha1.Sum([]byte(name))
		slug = hex.EncodeToString(sum[:6])
	}
	return slug
}
