package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	taskListKey     = "mdconvert:tasks"
	resultKeyPrefix = "mdconvert:result:"
	revokeKeyPrefix = "mdconvert:revoked:"

	resultTTL   = 24 * time.Hour
	dequeueWait = 5 * time.Second
)

// RedisQueue implements both the producer and consumer contracts over a
// single Redis instance: a list carries pending tasks, per-task result keys
// carry live state and payloads, per-task revocation keys mark cancellation.
type RedisQueue struct {
	rdb *goredis.Client
	log zerolog.Logger
}

// NewRedisQueue connects and pings the broker.
func NewRedisQueue(addr, password string, log zerolog.Logger) (*RedisQueue, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisQueue{rdb: rdb, log: log}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.rdb.LPush(ctx, taskListKey, raw).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

func (q *RedisQueue) State(ctx context.Context, jobID string) (TaskResult, error) {
	raw, err := q.rdb.Get(ctx, resultKeyPrefix+jobID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return TaskResult{State: StateUnknown}, nil
	}
	if err != nil {
		return TaskResult{}, fmt.Errorf("fetch task state: %w", err)
	}
	var result TaskResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return TaskResult{}, fmt.Errorf("decode task state: %w", err)
	}
	return result, nil
}

// Revoke marks the handle cancelled. Tasks still on the list are discarded
// by the worker when popped; a task already running is not interrupted.
func (q *RedisQueue) Revoke(ctx context.Context, jobID string) error {
	if err := q.rdb.Set(ctx, revokeKeyPrefix+jobID, "1", resultTTL).Err(); err != nil {
		return fmt.Errorf("revoke task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	vals, err := q.rdb.BRPop(ctx, dequeueWait, taskListKey).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue task: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("unexpected brpop reply length %d", len(vals))
	}
	var task Task
	if err := json.Unmarshal([]byte(vals[1]), &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

func (q *RedisQueue) IsRevoked(ctx context.Context, jobID string) (bool, error) {
	n, err := q.rdb.Exists(ctx, revokeKeyPrefix+jobID).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

func (q *RedisQueue) SetRunning(ctx context.Context, jobID string) error {
	return q.writeResult(ctx, jobID, TaskResult{State: StateRunning})
}

func (q *RedisQueue) SetResult(ctx context.Context, jobID string, result TaskResult) error {
	return q.writeResult(ctx, jobID, result)
}

func (q *RedisQueue) writeResult(ctx context.Context, jobID string, result TaskResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal task state: %w", err)
	}
	if err := q.rdb.Set(ctx, resultKeyPrefix+jobID, raw, resultTTL).Err(); err != nil {
		return fmt.Errorf("store task state: %w", err)
	}
	return nil
}

// Ping reports broker reachability; used by readiness checks.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
