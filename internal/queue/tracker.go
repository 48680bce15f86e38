/**
 * Redis job tracker
 *
 * Mirrors async job state into Redis so the API can answer status polls
 * without talking to the worker: per-state sets for counting plus a hash of
 * job envelopes keyed by job ID.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gradeworks/mcq-service/internal/logging"
)

// Job states
const (
	StateQueued     = "queued"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

var jobStates = []string{StateQueued, StateProcessing, StateCompleted, StateFailed}

// JobStatus is the tracked envelope for one async job
type JobStatus struct {
	JobID     string          `json:"job_id"`
	ScriptID  int             `json:"script_id"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// JobTracker tracks async job state in Redis
type JobTracker struct {
	client    *redis.Client
	queueName string
	logger    *logging.Logger
}

// NewJobTracker creates a tracker and verifies Redis connectivity
func NewJobTracker(redisURL, queueName string) (*JobTracker, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &JobTracker{
		client:    client,
		queueName: queueName,
		logger:    logging.NewLogger("JobTracker"),
	}, nil
}

// MarkQueued registers a freshly enqueued job
func (t *JobTracker) MarkQueued(ctx context.Context, jobID string, scriptID int) error {
	now := time.Now().UTC()
	return t.store(ctx, &JobStatus{
		JobID:     jobID,
		ScriptID:  scriptID,
		Status:    StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// MarkProcessing moves a job to the processing state
func (t *JobTracker) MarkProcessing(ctx context.Context, jobID string) error {
	return t.transition(ctx, jobID, StateProcessing, nil, "")
}

// MarkCompleted records the job result and moves it to completed
func (t *JobTracker) MarkCompleted(ctx context.Context, jobID string, result interface{}) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}
	return t.transition(ctx, jobID, StateCompleted, resultJSON, "")
}

// MarkFailed records the failure message and moves the job to failed
func (t *JobTracker) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	return t.transition(ctx, jobID, StateFailed, nil, errMsg)
}

// Job returns the tracked envelope for a job, or (nil, nil) when unknown
func (t *JobTracker) Job(ctx context.Context, jobID string) (*JobStatus, error) {
	data, err := t.client.HGet(ctx, t.key("jobs"), jobID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job data: %w", err)
	}

	var job JobStatus
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Stats returns per-state job counts
func (t *JobTracker) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, len(jobStates))
	for _, state := range jobStates {
		count, err := t.client.SCard(ctx, t.key(state)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to count %s jobs: %w", state, err)
		}
		stats[state] = count
	}
	return stats, nil
}

// Close closes the Redis connection
func (t *JobTracker) Close() error {
	return t.client.Close()
}

func (t *JobTracker) key(suffix string) string {
	return fmt.Sprintf("%s:%s", t.queueName, suffix)
}

func (t *JobTracker) store(ctx context.Context, job *JobStatus) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, t.key("jobs"), job.JobID, data)
	for _, state := range jobStates {
		if state == job.Status {
			pipe.SAdd(ctx, t.key(state), job.JobID)
		} else {
			pipe.SRem(ctx, t.key(state), job.JobID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store job state: %w", err)
	}
	return nil
}

func (t *JobTracker) transition(ctx context.Context, jobID, state string, result json.RawMessage, errMsg string) error {
	job, err := t.Job(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		// Worker may see a task whose envelope was never written; rebuild it.
		job = &JobStatus{JobID: jobID, CreatedAt: time.Now().UTC()}
	}

	job.Status = state
	job.UpdatedAt = time.Now().UTC()
	if result != nil {
		job.Result = result
	}
	if errMsg != "" {
		job.Error = errMsg
	}

	return t.store(ctx, job)
}
