/**
 * Reconciliation Workflow
 *
 * Orchestrates one script-processing run: fetch OCR pages, order them, invoke
 * the generation pipeline once over the whole batch, then reconcile the result
 * against the remote record store (update the existing CompareText record or
 * create a new one). Generation is the primary success condition; persistence
 * is best-effort and its failure is reported inside a success outcome.
 */

package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	svcerrors "github.com/gradeworks/mcq-service/internal/errors"
	"github.com/gradeworks/mcq-service/internal/gateway"
	"github.com/gradeworks/mcq-service/internal/logging"
	"github.com/gradeworks/mcq-service/internal/normalizer"
	"github.com/gradeworks/mcq-service/internal/pipeline"
	"github.com/gradeworks/mcq-service/internal/storage"
)

// Gateway is the record-store surface the workflow depends on
type Gateway interface {
	FetchOCRData(ctx context.Context, scriptID int) ([]gateway.ScriptRecord, error)
	FindExistingRecord(ctx context.Context, scriptID int) (*gateway.CompareTextRecord, error)
	CreateRecord(ctx context.Context, payload *gateway.CreateComparePayload) (*gateway.CompareTextRecord, error)
	UpdateRecord(ctx context.Context, compareTextID int, mcq interface{}) (*gateway.CompareTextRecord, error)
}

// Runner invokes the external generation pipeline
type Runner interface {
	Kickoff(ctx context.Context, pages []pipeline.PageInput) (pipeline.OutcomeView, error)
}

// RunRecorder persists run history; recording is best-effort
type RunRecorder interface {
	RecordRun(ctx context.Context, run *storage.RunRecord) error
}

// Outcome is the unified envelope returned per script-processing run
type Outcome struct {
	ScriptID         int                        `json:"script_id"`
	TotalPages       int                        `json:"total_pages"`
	PagesProcessed   []int                      `json:"pages_processed"`
	MCQResult        interface{}                `json:"mcq_result"`
	TokenUsage       *pipeline.UsageMetadata    `json:"token_usage,omitempty"`
	DatabaseSaved    bool                       `json:"database_saved"`
	DatabaseResponse *gateway.CompareTextRecord `json:"database_response,omitempty"`
	DatabaseError    string                     `json:"database_error,omitempty"`
}

// Workflow runs the fetch -> order -> generate -> reconcile -> persist cycle
type Workflow struct {
	gateway    Gateway
	runner     Runner
	normalizer *normalizer.Normalizer
	runs       RunRecorder // nil when run history is disabled
	logger     *logging.Logger
}

// New creates a workflow. runs may be nil to disable run-history recording.
func New(gw Gateway, runner Runner, runs RunRecorder) *Workflow {
	return &Workflow{
		gateway:    gw,
		runner:     runner,
		normalizer: normalizer.New(),
		runs:       runs,
		logger:     logging.NewLogger("Workflow"),
	}
}

// RunForScript processes all pages of a script together through the pipeline
// and reconciles the result with the record store.
func (w *Workflow) RunForScript(ctx context.Context, scriptID int) (*Outcome, error) {
	started := time.Now()

	outcome, err := w.run(ctx, scriptID)
	w.recordRun(scriptID, outcome, err, time.Since(started))
	return outcome, err
}

func (w *Workflow) run(ctx context.Context, scriptID int) (*Outcome, error) {
	w.logger.Info("Fetching OCR data", "scriptId", scriptID)

	records, err := w.gateway.FetchOCRData(ctx, scriptID)
	if err != nil {
		w.logger.Error("Failed to fetch OCR data", "scriptId", scriptID, "error", err)
		return nil, err
	}

	if len(records) == 0 {
		return nil, svcerrors.NewNoDataError(scriptID,
			fmt.Sprintf("no OCR data found for script ID: %d", scriptID))
	}

	w.logger.Info("Found pages for script", "scriptId", scriptID, "pages", len(records))

	// Stable sort keeps the remote order for duplicate page numbers.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].PageNumber < records[j].PageNumber
	})

	batch := make([]pipeline.PageInput, 0, len(records))
	pageNumbers := make([]int, 0, len(records))
	for _, record := range records {
		if !record.HasOCR() {
			w.logger.Warn("No ocr_json found for page", "scriptId", scriptID, "page", record.PageNumber)
			continue
		}
		batch = append(batch, pipeline.PageInput{
			PageNumber: record.PageNumber,
			OCRJSON:    record.OCRJSON,
		})
		pageNumbers = append(pageNumbers, record.PageNumber)
	}

	if len(batch) == 0 {
		return nil, svcerrors.NewNoDataError(scriptID, "no valid OCR data found in any page")
	}

	w.logger.Info("Starting MCQ processing", "scriptId", scriptID, "pages", pageNumbers)

	// One pipeline invocation covers every page of the script.
	view, err := w.runner.Kickoff(ctx, batch)
	if err != nil {
		w.logger.Error("Pipeline invocation failed", "scriptId", scriptID, "error", err)
		return nil, svcerrors.NewPipelineError(scriptID, err)
	}

	mcqResult := w.normalizer.Serialize(view)
	tokenUsage := w.normalizer.ExtractUsage(view)
	if tokenUsage != nil {
		w.logger.Info("Final token usage", "scriptId", scriptID,
			"totalTokens", tokenUsage.TotalTokens,
			"promptTokens", tokenUsage.PromptTokens,
			"completionTokens", tokenUsage.CompletionTokens)
	}

	outcome := &Outcome{
		ScriptID:       scriptID,
		TotalPages:     len(records),
		PagesProcessed: pageNumbers,
		MCQResult:      mcqResult,
		TokenUsage:     tokenUsage,
	}

	w.persist(ctx, scriptID, mcqResult, len(batch), outcome)
	return outcome, nil
}

// persist reconciles the generated result with the record store. Failures
// are recorded on the outcome, never escalated: generation already succeeded.
func (w *Workflow) persist(ctx context.Context, scriptID int, mcqResult interface{}, processedPages int, outcome *Outcome) {
	existing, err := w.gateway.FindExistingRecord(ctx, scriptID)
	if err != nil {
		// Lookup failure is distinct from "not found". Policy: log it and
		// fall back to create, preserving the service's historical behavior.
		w.logger.Warn("Existence check failed, falling back to create",
			"scriptId", scriptID, "error", err)
		existing = nil
	}

	var saved *gateway.CompareTextRecord
	if existing != nil {
		saved, err = w.gateway.UpdateRecord(ctx, existing.CompareTextID, mcqResult)
		if err == nil {
			w.logger.Info("Updated existing CompareText record",
				"scriptId", scriptID, "compareTextId", existing.CompareTextID)
		}
	} else {
		payload := &gateway.CreateComparePayload{
			ScriptID: scriptID,
			VLMDesc: map[string]interface{}{
				"source": "MCQ processing",
				"pages":  processedPages,
			},
			Restructured: map[string]interface{}{
				"processed":   true,
				"total_pages": processedPages,
			},
			FinalCorrectedText: fmt.Sprintf("MCQ processing completed for %d pages", processedPages),
			MCQ:                mcqResult,
		}
		saved, err = w.gateway.CreateRecord(ctx, payload)
		if err == nil {
			w.logger.Info("Created new CompareText record",
				"scriptId", scriptID, "compareTextId", saved.CompareTextID)
		}
	}

	if err != nil {
		persistErr := svcerrors.NewPersistenceError(scriptID, err)
		w.logger.Warn("MCQ processing completed but failed to save to database",
			"scriptId", scriptID, "error", persistErr)
		outcome.DatabaseSaved = false
		outcome.DatabaseError = persistErr.Error()
		return
	}

	outcome.DatabaseSaved = true
	outcome.DatabaseResponse = saved
}

// recordRun writes run history when a store is configured. Best-effort: a
// recording failure is logged and dropped.
func (w *Workflow) recordRun(scriptID int, outcome *Outcome, runErr error, elapsed time.Duration) {
	if w.runs == nil {
		return
	}

	run := &storage.RunRecord{
		ID:         uuid.NewString(),
		ScriptID:   scriptID,
		DurationMs: elapsed.Milliseconds(),
	}

	if runErr != nil {
		run.Status = "failed"
		run.ErrorCode = string(svcerrors.CodeOf(runErr))
		run.ErrorMessage = runErr.Error()
	} else {
		run.Status = "completed"
		run.TotalPages = outcome.TotalPages
		run.PagesProcessed = outcome.PagesProcessed
		run.DatabaseSaved = outcome.DatabaseSaved
		run.DatabaseError = outcome.DatabaseError
		if outcome.TokenUsage != nil {
			run.TotalTokens = outcome.TokenUsage.TotalTokens
			run.PromptTokens = outcome.TokenUsage.PromptTokens
			run.CompletionTokens = outcome.TokenUsage.CompletionTokens
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.runs.RecordRun(ctx, run); err != nil {
		w.logger.Warn("Failed to record run history", "scriptId", scriptID, "error", err)
	}
}
