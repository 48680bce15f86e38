package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	svcerrors "github.com/gradeworks/mcq-service/internal/errors"
	"github.com/gradeworks/mcq-service/internal/gateway"
	"github.com/gradeworks/mcq-service/internal/pipeline"
)

// fakeGateway is a scriptable record-store double
type fakeGateway struct {
	records   []gateway.ScriptRecord
	fetchErr  error
	existing  *gateway.CompareTextRecord
	lookupErr error
	createErr error
	updateErr error

	createCalls []*gateway.CreateComparePayload
	updateCalls []fakeUpdate
}

type fakeUpdate struct {
	compareTextID int
	mcq           interface{}
}

func (g *fakeGateway) FetchOCRData(ctx context.Context, scriptID int) ([]gateway.ScriptRecord, error) {
	return g.records, g.fetchErr
}

func (g *fakeGateway) FindExistingRecord(ctx context.Context, scriptID int) (*gateway.CompareTextRecord, error) {
	if g.lookupErr != nil {
		return nil, g.lookupErr
	}
	return g.existing, nil
}

func (g *fakeGateway) CreateRecord(ctx context.Context, payload *gateway.CreateComparePayload) (*gateway.CompareTextRecord, error) {
	g.createCalls = append(g.createCalls, payload)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &gateway.CompareTextRecord{CompareTextID: 101, ScriptID: payload.ScriptID}, nil
}

func (g *fakeGateway) UpdateRecord(ctx context.Context, compareTextID int, mcq interface{}) (*gateway.CompareTextRecord, error) {
	g.updateCalls = append(g.updateCalls, fakeUpdate{compareTextID: compareTextID, mcq: mcq})
	if g.updateErr != nil {
		return nil, g.updateErr
	}
	return &gateway.CompareTextRecord{CompareTextID: compareTextID}, nil
}

// fakeRunner records invocations and returns a fixed outcome view
type fakeRunner struct {
	calls   int
	batches [][]pipeline.PageInput
	view    pipeline.OutcomeView
	err     error
}

func (r *fakeRunner) Kickoff(ctx context.Context, pages []pipeline.PageInput) (pipeline.OutcomeView, error) {
	r.calls++
	r.batches = append(r.batches, pages)
	if r.err != nil {
		return nil, r.err
	}
	if r.view != nil {
		return r.view, nil
	}
	return pipeline.TextOutcome("generated mcq"), nil
}

func page(num int, ocr string) gateway.ScriptRecord {
	rec := gateway.ScriptRecord{PageNumber: num}
	if ocr != "" {
		rec.OCRJSON = json.RawMessage(ocr)
	}
	return rec
}

func TestRunInvokesPipelineExactlyOnce(t *testing.T) {
	gw := &fakeGateway{records: []gateway.ScriptRecord{
		page(1, `{"text":"a"}`), page(2, `{"text":"b"}`), page(3, `{"text":"c"}`),
	}}
	runner := &fakeRunner{}

	wf := New(gw, runner, nil)
	if _, err := wf.RunForScript(context.Background(), 1); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if runner.calls != 1 {
		t.Errorf("expected exactly one pipeline invocation, got %d", runner.calls)
	}
	if len(runner.batches[0]) != 3 {
		t.Errorf("expected full batch of 3 pages, got %d", len(runner.batches[0]))
	}
}

func TestRunSortsPagesAscending(t *testing.T) {
	gw := &fakeGateway{records: []gateway.ScriptRecord{
		page(3, `{"text":"c"}`), page(1, `{"text":"a"}`), page(2, `{"text":"b"}`),
	}}
	runner := &fakeRunner{}

	wf := New(gw, runner, nil)
	outcome, err := wf.RunForScript(context.Background(), 1)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := []int{1, 2, 3}
	for i, page := range runner.batches[0] {
		if page.PageNumber != want[i] {
			t.Errorf("batch position %d: expected page %d, got %d", i, want[i], page.PageNumber)
		}
	}
	for i, got := range outcome.PagesProcessed {
		if got != want[i] {
			t.Errorf("pages_processed position %d: expected %d, got %d", i, want[i], got)
		}
	}
}

func TestRunFailsWithNoDataWhenFetchEmpty(t *testing.T) {
	gw := &fakeGateway{}
	wf := New(gw, &fakeRunner{}, nil)

	_, err := wf.RunForScript(context.Background(), 9)
	if svcerrors.CodeOf(err) != svcerrors.ErrorNoData {
		t.Errorf("expected NO_DATA, got %v", err)
	}
}

func TestRunFailsWithNoDataWhenAllPagesLackOCR(t *testing.T) {
	gw := &fakeGateway{records: []gateway.ScriptRecord{
		page(1, ""), page(2, "null"), page(3, "{}"),
	}}
	runner := &fakeRunner{}
	wf := New(gw, runner, nil)

	_, err := wf.RunForScript(context.Background(), 9)
	if svcerrors.CodeOf(err) != svcerrors.ErrorNoData {
		t.Errorf("expected NO_DATA, got %v", err)
	}
	if runner.calls != 0 {
		t.Errorf("pipeline should not run without usable pages, got %d calls", runner.calls)
	}
}

func TestRunSkipsPagesWithoutOCR(t *testing.T) {
	gw := &fakeGateway{records: []gateway.ScriptRecord{
		page(1, `{"text":"a"}`), page(2, ""), page(3, `{"text":"c"}`),
	}}
	runner := &fakeRunner{}
	wf := New(gw, runner, nil)

	outcome, err := wf.RunForScript(context.Background(), 1)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(runner.batches[0]) != 2 {
		t.Errorf("expected 2 usable pages in batch, got %d", len(runner.batches[0]))
	}
	if outcome.TotalPages != 3 {
		t.Errorf("expected total_pages 3, got %d", outcome.TotalPages)
	}
	if len(outcome.PagesProcessed) != 2 {
		t.Errorf("expected 2 processed pages, got %v", outcome.PagesProcessed)
	}
}

func TestRunPropagatesFetchError(t *testing.T) {
	gw := &fakeGateway{fetchErr: svcerrors.NewHTTPError("fetch", 1, 502, "bad gateway")}
	wf := New(gw, &fakeRunner{}, nil)

	_, err := wf.RunForScript(context.Background(), 1)
	if svcerrors.CodeOf(err) != svcerrors.ErrorHTTPStatus {
		t.Errorf("expected HTTP_ERROR, got %v", err)
	}
}

func TestRunWrapsPipelineFailure(t *testing.T) {
	gw := &fakeGateway{records: []gateway.ScriptRecord{page(1, `{"text":"a"}`)}}
	runner := &fakeRunner{err: errors.New("model overloaded")}
	wf := New(gw, runner, nil)

	_, err := wf.RunForScript(context.Background(), 1)
	if svcerrors.CodeOf(err) != svcerrors.ErrorPipelineFailed {
		t.Errorf("expected PIPELINE_FAILED, got %v", err)
	}
	if len(gw.createCalls)+len(gw.updateCalls) != 0 {
		t.Error("no persistence should happen when generation fails")
	}
}

func TestRunUpdatesExistingRecord(t *testing.T) {
	gw := &fakeGateway{
		records:  []gateway.ScriptRecord{page(1, `{"text":"a"}`)},
		existing: &gateway.CompareTextRecord{CompareTextID: 555, ScriptID: 42},
	}
	wf := New(gw, &fakeRunner{}, nil)

	outcome, err := wf.RunForScript(context.Background(), 42)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(gw.createCalls) != 0 {
		t.Errorf("expected no create calls, got %d", len(gw.createCalls))
	}
	if len(gw.updateCalls) != 1 {
		t.Fatalf("expected one update call, got %d", len(gw.updateCalls))
	}
	if gw.updateCalls[0].compareTextID != 555 {
		t.Errorf("expected update of record 555, got %d", gw.updateCalls[0].compareTextID)
	}
	if gw.updateCalls[0].mcq != "generated mcq" {
		t.Errorf("expected update to carry the serialized result, got %v", gw.updateCalls[0].mcq)
	}
	if !outcome.DatabaseSaved {
		t.Error("expected database_saved=true")
	}
}

func TestRunCreatesRecordWithSynthesizedFields(t *testing.T) {
	gw := &fakeGateway{records: []gateway.ScriptRecord{
		page(1, `{"text":"a"}`), page(2, `{"text":"b"}`),
	}}
	wf := New(gw, &fakeRunner{}, nil)

	outcome, err := wf.RunForScript(context.Background(), 7)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(gw.updateCalls) != 0 {
		t.Errorf("expected no update calls, got %d", len(gw.updateCalls))
	}
	if len(gw.createCalls) != 1 {
		t.Fatalf("expected one create call, got %d", len(gw.createCalls))
	}

	payload := gw.createCalls[0]
	if payload.ScriptID != 7 {
		t.Errorf("expected script_id 7, got %d", payload.ScriptID)
	}
	if !strings.Contains(payload.FinalCorrectedText, "2 pages") {
		t.Errorf("expected synthesized summary with page count, got %q", payload.FinalCorrectedText)
	}
	if payload.VLMDesc["pages"] != 2 {
		t.Errorf("expected vlmdesc pages=2, got %v", payload.VLMDesc["pages"])
	}
	if payload.Restructured["total_pages"] != 2 {
		t.Errorf("expected restructured total_pages=2, got %v", payload.Restructured["total_pages"])
	}
	if !outcome.DatabaseSaved {
		t.Error("expected database_saved=true")
	}
}

func TestRunPersistenceFailureStillSucceeds(t *testing.T) {
	gw := &fakeGateway{
		records:   []gateway.ScriptRecord{page(1, `{"text":"a"}`)},
		createErr: fmt.Errorf("store unavailable"),
	}
	wf := New(gw, &fakeRunner{}, nil)

	outcome, err := wf.RunForScript(context.Background(), 1)
	if err != nil {
		t.Fatalf("persistence failure must not fail the run, got %v", err)
	}

	if outcome.DatabaseSaved {
		t.Error("expected database_saved=false")
	}
	if outcome.DatabaseError == "" {
		t.Error("expected database_error to be populated")
	}
	if outcome.MCQResult != "generated mcq" {
		t.Errorf("expected the generated result to survive, got %v", outcome.MCQResult)
	}
}

func TestRunLookupFailureFallsBackToCreate(t *testing.T) {
	gw := &fakeGateway{
		records:   []gateway.ScriptRecord{page(1, `{"text":"a"}`)},
		lookupErr: svcerrors.NewLookupError(1, errors.New("timeout")),
	}
	wf := New(gw, &fakeRunner{}, nil)

	outcome, err := wf.RunForScript(context.Background(), 1)
	if err != nil {
		t.Fatalf("lookup failure must not fail the run, got %v", err)
	}

	if len(gw.createCalls) != 1 {
		t.Errorf("expected fallback create, got %d create calls", len(gw.createCalls))
	}
	if !outcome.DatabaseSaved {
		t.Error("expected database_saved=true after fallback create")
	}
}

func TestRunCarriesTokenUsage(t *testing.T) {
	view := pipeline.NewJSONOutcome(map[string]interface{}{
		"raw":         "questions",
		"token_usage": map[string]interface{}{"total_tokens": float64(88), "prompt_tokens": float64(60), "completion_tokens": float64(28)},
	})
	gw := &fakeGateway{records: []gateway.ScriptRecord{page(1, `{"text":"a"}`)}}
	wf := New(gw, &fakeRunner{view: view}, nil)

	outcome, err := wf.RunForScript(context.Background(), 1)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if outcome.TokenUsage == nil || outcome.TokenUsage.TotalTokens != 88 {
		t.Errorf("expected token usage 88, got %+v", outcome.TokenUsage)
	}
	if outcome.MCQResult != "questions" {
		t.Errorf("expected serialized raw text, got %v", outcome.MCQResult)
	}
}
