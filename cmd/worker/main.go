/**
 * MCQ Queue Worker - Main Entry Point
 *
 * Consumes queued script-processing jobs and runs them through the same
 * reconciliation workflow as the synchronous API, mirroring job state into
 * Redis for status polling.
 */

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/gradeworks/mcq-service/internal/config"
	"github.com/gradeworks/mcq-service/internal/gateway"
	"github.com/gradeworks/mcq-service/internal/pipeline"
	"github.com/gradeworks/mcq-service/internal/queue"
	"github.com/gradeworks/mcq-service/internal/storage"
	"github.com/gradeworks/mcq-service/internal/workflow"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if !cfg.AsyncEnabled() {
		log.Fatalf("REDIS_URL is required for the queue worker")
	}

	log.Printf("MCQ queue worker starting...")
	log.Printf("Configuration loaded: Redis=%s, Queue=%s, Workers=%d",
		cfg.RedisURL, cfg.QueueName, cfg.WorkerConcurrency)

	gatewayClient := gateway.NewClient(cfg.APIBaseURL)
	pipelineClient := pipeline.NewClient(cfg.PipelineURL)

	var recorder workflow.RunRecorder
	if cfg.RunHistoryEnabled() {
		runStore, err := storage.NewRunStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize run-history store: %v", err)
		}
		defer runStore.Close()
		recorder = runStore
		log.Printf("Run-history store initialized")
	}

	wf := workflow.New(gatewayClient, pipelineClient, recorder)

	tracker, err := queue.NewJobTracker(cfg.RedisURL, cfg.QueueName)
	if err != nil {
		log.Fatalf("Failed to initialize job tracker: %v", err)
	}
	defer tracker.Close()

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         wf,
		Tracker:           tracker,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	if err := consumer.Start(); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("MCQ queue worker is READY")
	log.Printf("Queue: %s, Workers: %d", cfg.QueueName, cfg.WorkerConcurrency)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	consumer.Stop()
	log.Printf("Shutdown complete")
}
