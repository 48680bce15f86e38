/**
 * Queue consumer for async script runs
 *
 * Consumes mcq:process_script tasks, runs the reconciliation workflow with a
 * job-level timeout, and mirrors job state into the Redis tracker so the API
 * can serve status polls. The synchronous HTTP path stays untimed; only the
 * queued path carries a deadline.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gradeworks/mcq-service/internal/logging"
	"github.com/gradeworks/mcq-service/internal/workflow"
)

// ScriptProcessor runs one script through the reconciliation workflow
type ScriptProcessor interface {
	RunForScript(ctx context.Context, scriptID int) (*workflow.Outcome, error)
}

// Consumer handles queued script runs
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor ScriptProcessor
	tracker   *JobTracker
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         ScriptProcessor
	Tracker           *JobTracker
	ProcessingTimeout int64 // milliseconds
}

// NewConsumer creates a queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("Tracker is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "mcq:jobs"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
			},
		},
	)

	consumer := &Consumer{
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		tracker:   cfg.Tracker,
		config:    cfg,
		logger:    logging.NewLogger("Consumer"),
	}
	consumer.mux.HandleFunc(TaskTypeProcessScript, consumer.handleProcessScript)

	return consumer, nil
}

// Start begins processing queued jobs
func (c *Consumer) Start() error {
	c.logger.Info("Starting queue consumer",
		"queue", c.config.QueueName, "concurrency", c.config.Concurrency)
	return c.server.Start(c.mux)
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
}

func (c *Consumer) handleProcessScript(ctx context.Context, task *asynq.Task) error {
	var payload ProcessScriptPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	c.logger.Info("Processing queued script job",
		"jobId", payload.JobID, "scriptId", payload.ScriptID)

	if err := c.tracker.MarkProcessing(ctx, payload.JobID); err != nil {
		c.logger.Warn("Failed to mark job processing", "jobId", payload.JobID, "error", err)
	}

	runCtx := ctx
	if c.config.ProcessingTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(c.config.ProcessingTimeout)*time.Millisecond)
		defer cancel()
	}

	started := time.Now()
	outcome, err := c.processor.RunForScript(runCtx, payload.ScriptID)
	if err != nil {
		c.logger.Error("Queued script job failed",
			"jobId", payload.JobID, "scriptId", payload.ScriptID,
			"duration", time.Since(started), "error", err)

		if trackErr := c.tracker.MarkFailed(ctx, payload.JobID, err.Error()); trackErr != nil {
			c.logger.Warn("Failed to mark job failed", "jobId", payload.JobID, "error", trackErr)
		}
		// Returning the error lets asynq apply its retry policy.
		return err
	}

	if trackErr := c.tracker.MarkCompleted(ctx, payload.JobID, outcome); trackErr != nil {
		c.logger.Warn("Failed to mark job completed", "jobId", payload.JobID, "error", trackErr)
	}

	c.logger.Info("Queued script job completed",
		"jobId", payload.JobID, "scriptId", payload.ScriptID,
		"duration", time.Since(started), "databaseSaved", outcome.DatabaseSaved)
	return nil
}
