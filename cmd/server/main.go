/**
 * MCQ Processing API - Main Entry Point
 *
 * HTTP service that turns a script's OCR pages into multiple-choice questions:
 * - Fetches per-page OCR text from the remote record store
 * - Runs the external multi-agent MCQ pipeline once over the ordered batch
 * - Reconciles the generated result with the CompareText record store
 * - Optional: queue-backed async runs (REDIS_URL) and run history (DATABASE_URL)
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gradeworks/mcq-service/internal/config"
	"github.com/gradeworks/mcq-service/internal/gateway"
	"github.com/gradeworks/mcq-service/internal/pipeline"
	"github.com/gradeworks/mcq-service/internal/queue"
	"github.com/gradeworks/mcq-service/internal/server"
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

	log.Printf("MCQ Processing API starting...")
	log.Printf("Configuration loaded: API=%s, Pipeline=%s, Port=%d",
		cfg.APIBaseURL, cfg.PipelineURL, cfg.Port)

	// Remote record store gateway
	gatewayClient := gateway.NewClient(cfg.APIBaseURL)

	// Verify remote store reachability (non-fatal if unavailable)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := gatewayClient.HealthCheck(ctx); err != nil {
		log.Printf("WARNING: Record store health check failed: %v. Requests will fail until it is reachable.", err)
	} else {
		log.Printf("Record store connection verified: %s", cfg.APIBaseURL)
	}
	cancel()

	// External MCQ generation pipeline
	pipelineClient := pipeline.NewClient(cfg.PipelineURL)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	if err := pipelineClient.HealthCheck(ctx2); err != nil {
		log.Printf("WARNING: Pipeline health check failed: %v. Generation requests will fail until it is reachable.", err)
	} else {
		log.Printf("Pipeline connection verified: %s", cfg.PipelineURL)
	}
	cancel2()

	// Optional run-history store
	var runStore *storage.RunStore
	var recorder workflow.RunRecorder
	var history server.RunHistory
	if cfg.RunHistoryEnabled() {
		runStore, err = storage.NewRunStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize run-history store: %v", err)
		}
		defer runStore.Close()
		recorder = runStore
		history = runStore
		log.Printf("Run-history store initialized")
	} else {
		log.Printf("DATABASE_URL not set, run history disabled")
	}

	wf := workflow.New(gatewayClient, pipelineClient, recorder)

	// Optional async job mode
	opts := server.Options{RunHistory: history}
	if cfg.AsyncEnabled() {
		tracker, err := queue.NewJobTracker(cfg.RedisURL, cfg.QueueName)
		if err != nil {
			log.Fatalf("Failed to initialize job tracker: %v", err)
		}
		defer tracker.Close()

		enqueuer, err := queue.NewEnqueuer(&queue.EnqueuerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Tracker:           tracker,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
		})
		if err != nil {
			log.Fatalf("Failed to initialize enqueuer: %v", err)
		}
		defer enqueuer.Close()

		opts.Jobs = enqueuer
		opts.JobReader = tracker
		log.Printf("Async job mode enabled (queue=%s)", cfg.QueueName)
	} else {
		log.Printf("REDIS_URL not set, async job mode disabled")
	}

	srv := server.New(cfg, wf, gatewayClient, opts)

	// Serve until interrupted
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Printf("===========================================")
	log.Printf("MCQ Processing API is READY on port %d", cfg.Port)
	log.Printf("===========================================")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Printf("Shutdown complete")
}
