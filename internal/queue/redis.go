package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/asergenalkan/vercelclone/internal/domain"
)

const (
	keyDeploys  = "vercelclone:queue:deploys"
	keyPreviews = "vercelclone:queue:previews"
	keyJob      = "vercelclone:job:"

	keyCompleted = "vercelclone:done:deploys"
	keyFailed    = "vercelclone:failed:deploys"

	// Bounded retention for finished jobs, oldest evicted first.
	keepCompleted = 100
	keepFailed    = 50

	// Terminal job records expire after a day even if never evicted.
	terminalTTL = 24 * time.Hour

	dequeueBlock = 5 * time.Second
	opTimeout    = 2 * time.Second
)

// RedisQueue implements Queue on two Redis lists, one per priority class.
// BRPOP checks the production list before the preview list on every wake,
// so production deploys are never starved behind a preview backlog.
type RedisQueue struct {
	client *redis.Client
	logger *slog.Logger
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(addr, password string, db int, logger *slog.Logger) (*RedisQueue, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{client: client, logger: logger}, nil
}

// listFor maps a priority class to its Redis list.
func listFor(priority int) string {
	if priority == domain.PriorityProduction {
		return keyDeploys
	}
	return keyPreviews
}

// Enqueue pushes the job payload and records its waiting state.
func (q *RedisQueue) Enqueue(ctx context.Context, job *domain.BuildJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, keyJob+job.ID, map[string]any{
		"payload":     string(payload),
		"state":       StateWaiting,
		"progress":    0,
		"enqueued_at": job.EnqueuedAt.Format(time.RFC3339Nano),
		"updated_at":  job.EnqueuedAt.Format(time.RFC3339Nano),
	})
	pipe.LPush(ctx, listFor(job.Priority), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	q.logger.Info("job enqueued", "job_id", job.ID, "deployment_id", job.DeploymentID, "priority", job.Priority)
	return nil
}

// Dequeue blocks until a job arrives on either list. BRPOP's key order gives
// strict production priority: the preview list is only consulted when the
// deploy list is empty at that instant.
func (q *RedisQueue) Dequeue(ctx context.Context) (*domain.BuildJob, error) {
	for {
		res, err := q.client.BRPop(ctx, dequeueBlock, keyDeploys, keyPreviews).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("dequeue: %w", err)
		}
		// res[0] is the list name, res[1] the payload.
		var job domain.BuildJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			q.logger.Error("discarding malformed job payload", "error", err)
			continue
		}
		// A cancelled job may still sit in the list if LREM raced the
		// worker; skip it rather than build a dead deployment.
		state, err := q.client.HGet(ctx, keyJob+job.ID, "state").Result()
		if err == nil && state == StateCancelled {
			q.logger.Info("skipping cancelled job", "job_id", job.ID)
			continue
		}
		if err := q.setState(ctx, job.ID, StateActive, ""); err != nil {
			q.logger.Error("mark job active", "job_id", job.ID, "error", err)
		}
		return &job, nil
	}
}

// SetProgress records the worker's progress percentage.
func (q *RedisQueue) SetProgress(ctx context.Context, jobID string, progress int) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	err := q.client.HSet(ctx, keyJob+jobID, map[string]any{
		"progress":   progress,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("set progress for %s: %w", jobID, err)
	}
	return nil
}

// Complete moves the job into the completed retention list.
func (q *RedisQueue) Complete(ctx context.Context, jobID string) error {
	return q.finish(ctx, jobID, StateCompleted, "", keyCompleted, keepCompleted)
}

// Fail moves the job into the failed retention list with its reason.
func (q *RedisQueue) Fail(ctx context.Context, jobID string, reason string) error {
	return q.finish(ctx, jobID, StateFailed, reason, keyFailed, keepFailed)
}

func (q *RedisQueue) finish(ctx context.Context, jobID, state, reason, retentionKey string, keep int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	fields := map[string]any{"state": state, "updated_at": now}
	if state == StateCompleted {
		fields["progress"] = 100
	}
	if reason != "" {
		fields["error"] = reason
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, keyJob+jobID, fields)
	pipe.Expire(ctx, keyJob+jobID, terminalTTL)
	pipe.LPush(ctx, retentionKey, jobID)
	pipe.LTrim(ctx, retentionKey, 0, keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("finish job %s: %w", jobID, err)
	}
	return nil
}

// Status reads the job record.
func (q *RedisQueue) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	fields, err := q.client.HGetAll(ctx, keyJob+jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	status := &JobStatus{ID: jobID, State: fields["state"], Error: fields["error"]}
	if p, err := strconv.Atoi(fields["progress"]); err == nil {
		status.Progress = p
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["enqueued_at"]); err == nil {
		status.EnqueuedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		status.UpdatedAt = t
	}
	return status, nil
}

// Cancel removes a waiting job from its list. Once a worker holds the job it
// can no longer be cancelled here.
func (q *RedisQueue) Cancel(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	fields, err := q.client.HGetAll(ctx, keyJob+jobID).Result()
	if err != nil {
		return fmt.Errorf("read job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return ErrJobNotFound
	}
	if fields["state"] != StateWaiting {
		return ErrNotCancellable
	}

	payload := fields["payload"]
	var job domain.BuildJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}

	removed, err := q.client.LRem(ctx, listFor(job.Priority), 1, payload).Result()
	if err != nil {
		return fmt.Errorf("remove job %s: %w", jobID, err)
	}
	if removed == 0 {
		// The worker popped it between our state read and the LREM.
		return ErrNotCancellable
	}
	if err := q.setState(ctx, jobID, StateCancelled, ""); err != nil {
		return err
	}
	if err := q.client.Expire(ctx, keyJob+jobID, terminalTTL).Err(); err != nil {
		q.logger.Error("expire cancelled job", "job_id", jobID, "error", err)
	}
	q.logger.Info("job cancelled", "job_id", jobID)
	return nil
}

// Ping verifies the Redis connection. Used by health checks.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) setState(ctx context.Context, jobID, state, reason string) error {
	fields := map[string]any{
		"state":      state,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if reason != "" {
		fields["error"] = reason
	}
	if err := q.client.HSet(ctx, keyJob+jobID, fields).Err(); err != nil {
		return fmt.Errorf("set state for %s: %w", jobID, err)
	}
	return nil
}
