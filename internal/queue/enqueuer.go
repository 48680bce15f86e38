package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/gradeworks/mcq-service/internal/logging"
)

// Enqueuer submits script runs to the job queue
type Enqueuer struct {
	client    *asynq.Client
	tracker   *JobTracker
	queueName string
	timeout   time.Duration
	logger    *logging.Logger
}

// EnqueuerConfig holds enqueuer configuration
type EnqueuerConfig struct {
	RedisURL          string
	QueueName         string
	Tracker           *JobTracker
	ProcessingTimeout int64 // milliseconds
}

// NewEnqueuer creates a queue producer
func NewEnqueuer(cfg *EnqueuerConfig) (*Enqueuer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("Tracker is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "mcq:jobs"
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	timeout := 10 * time.Minute
	if cfg.ProcessingTimeout > 0 {
		timeout = time.Duration(cfg.ProcessingTimeout) * time.Millisecond
	}

	return &Enqueuer{
		client:    asynq.NewClient(redisOpt),
		tracker:   cfg.Tracker,
		queueName: cfg.QueueName,
		timeout:   timeout,
		logger:    logging.NewLogger("Enqueuer"),
	}, nil
}

// Enqueue queues one script run and returns the job ID for polling
func (e *Enqueuer) Enqueue(ctx context.Context, scriptID int) (string, error) {
	jobID := uuid.NewString()

	task, err := NewProcessScriptTask(jobID, scriptID)
	if err != nil {
		return "", err
	}

	if _, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(e.queueName),
		asynq.MaxRetry(3),
		asynq.Timeout(e.timeout),
	); err != nil {
		return "", fmt.Errorf("failed to enqueue script job: %w", err)
	}

	if err := e.tracker.MarkQueued(ctx, jobID, scriptID); err != nil {
		e.logger.Warn("Failed to track queued job", "jobId", jobID, "error", err)
	}

	e.logger.Info("Script job enqueued", "jobId", jobID, "scriptId", scriptID)
	return jobID, nil
}

// Close closes the queue client
func (e *Enqueuer) Close() error {
	return e.client.Close()
}
