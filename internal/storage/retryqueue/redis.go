package retryqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
)

const defaultPrefix = "anyrouter:retry:"

type taskRecord struct {
	ID            string `json:"id"`
	WaveID        string `json:"wave_id"`
	AccountID     int64  `json:"account_id"`
	AttemptNumber int    `json:"attempt_number"`
	NotBefore     int64  `json:"not_before"`
	CreatedAt     int64  `json:"created_at"`
}

// RedisQueue keeps retry tasks in a sorted set scored by not_before, with the
// task bodies in a hash next to it. A third hash maps each account to its one
// live task.
type RedisQueue struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, prefix: defaultPrefix, now: time.Now}
}

func (q *RedisQueue) WithPrefix(prefix string) *RedisQueue {
	q.prefix = prefix
	return q
}

func (q *RedisQueue) scheduleKey() string { return q.prefix + "schedule" }
func (q *RedisQueue) tasksKey() string    { return q.prefix + "tasks" }
func (q *RedisQueue) accountsKey() string { return q.prefix + "accounts" }

// Enqueue stores tasks, replacing any task the same account already holds.
func (q *RedisQueue) Enqueue(ctx context.Context, tasks []model.RetryTask) error {
	if len(tasks) == 0 {
		return nil
	}
	latest := make(map[int64]model.RetryTask, len(tasks))
	order := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		if _, seen := latest[t.AccountID]; !seen {
			order = append(order, t.AccountID)
		}
		latest[t.AccountID] = t
	}
	fields := make([]string, len(order))
	for i, id := range order {
		fields[i] = strconv.FormatInt(id, 10)
	}
	previous, err := q.client.HMGet(ctx, q.accountsKey(), fields...).Result()
	if err != nil {
		return fmt.Errorf("failed to read account retry index: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, accountID := range order {
			t := latest[accountID]
			if old, ok := previous[i].(string); ok && old != t.ID {
				pipe.ZRem(ctx, q.scheduleKey(), old)
				pipe.HDel(ctx, q.tasksKey(), old)
			}
			createdAt := t.CreatedAt
			if createdAt.IsZero() {
				createdAt = q.now()
			}
			payload, err := json.Marshal(taskRecord{
				ID:            t.ID,
				WaveID:        t.WaveID,
				AccountID:     t.AccountID,
				AttemptNumber: t.AttemptNumber,
				NotBefore:     t.NotBefore.UnixMilli(),
				CreatedAt:     createdAt.UnixMilli(),
			})
			if err != nil {
				return err
			}
			pipe.HSet(ctx, q.tasksKey(), t.ID, payload)
			pipe.ZAdd(ctx, q.scheduleKey(), redis.Z{Score: float64(t.NotBefore.UnixMilli()), Member: t.ID})
			pipe.HSet(ctx, q.accountsKey(), fields[i], t.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue retry tasks: %w", err)
	}
	return nil
}

func (q *RedisQueue) Due(ctx context.Context, now time.Time) ([]model.RetryTask, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduleKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due retry tasks: %w", err)
	}
	return q.load(ctx, ids)
}

func (q *RedisQueue) Pending(ctx context.Context) ([]model.RetryTask, error) {
	ids, err := q.client.ZRange(ctx, q.scheduleKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending retry tasks: %w", err)
	}
	return q.load(ctx, ids)
}

func (q *RedisQueue) Ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	acked, err := q.load(ctx, ids)
	if err != nil {
		return err
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.scheduleKey(), members...)
		pipe.HDel(ctx, q.tasksKey(), ids...)
		for _, t := range acked {
			pipe.HDel(ctx, q.accountsKey(), strconv.FormatInt(t.AccountID, 10))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack retry tasks: %w", err)
	}
	return nil
}

// Rearm moves every pending task to created_at + interval.
func (q *RedisQueue) Rearm(ctx context.Context, interval time.Duration) error {
	pending, err := q.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	for i := range pending {
		pending[i].NotBefore = pending[i].CreatedAt.Add(interval)
	}
	if err := q.Enqueue(ctx, pending); err != nil {
		return fmt.Errorf("failed to rearm retry tasks: %w", err)
	}
	return nil
}

func (q *RedisQueue) Purge(ctx context.Context) error {
	if err := q.client.Del(ctx, q.scheduleKey(), q.tasksKey(), q.accountsKey()).Err(); err != nil {
		return fmt.Errorf("failed to purge retry tasks: %w", err)
	}
	return nil
}

func (q *RedisQueue) load(ctx context.Context, ids []string) ([]model.RetryTask, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	values, err := q.client.HMGet(ctx, q.tasksKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load retry tasks: %w", err)
	}
	tasks := make([]model.RetryTask, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// schedule entry without a body: acked concurrently
			continue
		}
		var rec taskRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode retry task: %w", err)
		}
		tasks = append(tasks, model.RetryTask{
			ID:            rec.ID,
			WaveID:        rec.WaveID,
			AccountID:     rec.AccountID,
			AttemptNumber: rec.AttemptNumber,
			NotBefore:     time.UnixMilli(rec.NotBefore),
			CreatedAt:     time.UnixMilli(rec.CreatedAt),
		})
	}
	return tasks, nil
}
