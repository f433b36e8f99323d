package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"resumetailor/internal/ai"
	rterrors "resumetailor/internal/errors"
	"resumetailor/internal/latex"
	"resumetailor/internal/ledger"
	"resumetailor/internal/observability"
	"resumetailor/internal/review"
	"resumetailor/internal/store"
	"resumetailor/internal/types"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const testResume = `\documentclass{article}
\begin{document}
Go developer with five years of backend experience.
\end{document}`

const testJobText = "We need a Backend Engineer with Go and Kubernetes experience. On-call rotation required."

// fakeProvider satisfies ai.Provider with canned responses.
type fakeProvider struct {
	analyzeOutput   types.AnalyzeJobOutput
	analyzeUsage    *ai.TokenUsage
	analyzeErr      error
	customizeOutput types.CustomizeResumeOutput
	customizeUsage  *ai.TokenUsage
	customizeErr    error

	lastCustomizeInput types.CustomizeResumeInput
	customizeCalls     int
}

func (f *fakeProvider) AnalyzeJob(_ context.Context, _ types.AnalyzeJobInput) (types.AnalyzeJobOutput, *ai.TokenUsage, error) {
	return f.analyzeOutput, f.analyzeUsage, f.analyzeErr
}

func (f *fakeProvider) CustomizeResume(_ context.Context, input types.CustomizeResumeInput) (types.CustomizeResumeOutput, *ai.TokenUsage, error) {
	f.customizeCalls++
	f.lastCustomizeInput = input
	return f.customizeOutput, f.customizeUsage, f.customizeErr
}

func (f *fakeProvider) GetModelInfo(_ context.Context) *ai.ModelInfo {
	return &ai.ModelInfo{Name: "fake", Available: true}
}

func (f *fakeProvider) Close() error { return nil }

// fakeCompiler validates sources without a LaTeX toolchain.
type fakeCompiler struct {
	fail  bool
	calls int
}

func (f *fakeCompiler) Compile(_ context.Context, source string) (*latex.Result, error) {
	f.calls++
	if f.fail {
		return nil, rterrors.NewCompileError(rterrors.ErrCodeCompileFailure,
			"LaTeX compilation failed", nil).
			WithContext("diagnostics", "! Undefined control sequence.")
	}
	return &latex.Result{PDF: []byte("%PDF-1.4 " + source[:10]), Diagnostics: "ok"}, nil
}

type testEnv struct {
	provider *fakeProvider
	compiler *fakeCompiler
	store    *store.Store
	ledger   *ledger.Ledger
	pipeline *Pipeline
	outDir   string
	failDir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger, err := rterrors.New("error")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	dir := t.TempDir()
	env := &testEnv{
		provider: &fakeProvider{
			analyzeOutput: types.AnalyzeJobOutput{Changes: []types.AnalysisChange{
				{Category: "SKILL_HIGHLIGHT", Description: "Highlight Go experience", Evidence: "Go and Kubernetes experience"},
				{Category: "KEYWORD_INSERTION", Description: "Mention Kubernetes", Evidence: "Kubernetes experience"},
				{Category: "EXPERIENCE_REWORD", Description: "Emphasize on-call work", Evidence: "On-call rotation required"},
			}},
			analyzeUsage:    &ai.TokenUsage{InputTokens: 1000, OutputTokens: 200, TotalTokens: 1200},
			customizeOutput: types.CustomizeResumeOutput{TailoredResume: testResume},
			customizeUsage:  &ai.TokenUsage{InputTokens: 2000, OutputTokens: 800, TotalTokens: 2800},
		},
		compiler: &fakeCompiler{},
		store:    store.New(filepath.Join(dir, "applications.json")),
		ledger:   ledger.New(filepath.Join(dir, "token_usage.csv"), 3.0, 15.0),
		outDir:   filepath.Join(dir, "out"),
		failDir:  filepath.Join(dir, "failed"),
	}
	env.pipeline = New(env.provider, env.provider, env.compiler, env.store, env.ledger, logger, Options{
		OutputDir:     env.outDir,
		KeepFailedDir: env.failDir,
	})
	return env
}

func testInput(reviewer review.Reviewer) RunInput {
	return RunInput{
		Job:            types.JobDescription{Text: testJobText, Title: "Backend Engineer", Company: "Acme"},
		ResumeSource:   testResume,
		ResumeBaseName: "resume",
		Reviewer:       reviewer,
	}
}

func TestRunHappyPath(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.pipeline.Run(context.Background(),
		testInput(review.StaticReviewer{Decisions: review.Decisions{"c1": true, "c2": true, "c3": false}}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.State != StateValidated {
		t.Errorf("State = %s, want %s", result.State, StateValidated)
	}
	if len(result.Accepted) != 2 {
		t.Errorf("accepted %d changes, want 2", len(result.Accepted))
	}
	if result.Record == nil {
		t.Fatal("Record = nil, want persisted application")
	}
	if result.Record.Applied {
		t.Error("new record marked applied")
	}
	if result.Record.JobTitle != "Backend Engineer" || result.Record.Company != "Acme" {
		t.Errorf("record identity = %q/%q", result.Record.JobTitle, result.Record.Company)
	}

	// Artifacts exist and follow the naming scheme.
	for _, path := range []string{result.TailoredPath, result.ArtifactPath} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("artifact %q not written: %v", path, err)
		}
	}
	base := filepath.Base(result.TailoredPath)
	if !strings.HasPrefix(base, "resume_tailored_Backend_Engineer_") || !strings.HasSuffix(base, ".tex") {
		t.Errorf("tailored filename = %q, want resume_tailored_Backend_Engineer_<date>.tex", base)
	}

	// Both calls landed in the ledger.
	events, err := env.ledger.Events()
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("ledger has %d events, want 2", len(events))
	}
	if events[0].Operation != types.OperationAnalysis || events[1].Operation != types.OperationCustomization {
		t.Errorf("ledger operations = %s, %s", events[0].Operation, events[1].Operation)
	}

	// Usage summary folds both calls.
	if result.Usage.AnalysisPromptTokens != 1000 || result.Usage.CustomizePromptTokens != 2000 {
		t.Errorf("usage summary = %+v", result.Usage)
	}
	wantCost := env.ledger.Cost(3000, 1000)
	if diff := result.Usage.EstimatedCostUSD - wantCost; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("EstimatedCostUSD = %v, want %v", result.Usage.EstimatedCostUSD, wantCost)
	}
}

func TestRunCompileFailureKeepsSourceAndSkipsRecord(t *testing.T) {
	env := newTestEnv(t)
	env.compiler.fail = true

	result, err := env.pipeline.Run(context.Background(), testInput(review.AcceptAll{}))
	if err == nil {
		t.Fatal("Run() error = nil, want compile StageError")
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageCompile {
		t.Fatalf("error = %v, want compile StageError", err)
	}
	if result.State != StateFailed {
		t.Errorf("State = %s, want %s", result.State, StateFailed)
	}
	if result.Document.Compiled {
		t.Error("Document.Compiled = true after failed compile")
	}
	if !strings.Contains(result.Document.Diagnostics, "Undefined control sequence") {
		t.Errorf("Diagnostics = %q, want toolchain output", result.Document.Diagnostics)
	}

	// Rejected source retained for inspection.
	if result.FailedSourcePath == "" {
		t.Fatal("FailedSourcePath empty, want retained source")
	}
	kept, err := os.ReadFile(result.FailedSourcePath)
	if err != nil {
		t.Fatalf("retained source unreadable: %v", err)
	}
	if string(kept) != testResume {
		t.Error("retained source does not match the candidate")
	}

	// No history record for a failed run.
	records, err := env.store.ListAll()
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("store has %d records after failed run, want 0", len(records))
	}

	// Tokens were still spent and accounted.
	events, err := env.ledger.Events()
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 2 {
		t.Errorf("ledger has %d events, want 2 (tokens spent regardless)", len(events))
	}
}

func TestRunStoreFailureKeepsArtifacts(t *testing.T) {
	env := newTestEnv(t)

	// A corrupt history file makes the final append fail after the document
	// already validated.
	if err := os.WriteFile(env.store.Path(), []byte("{not json"), 0600); err != nil {
		t.Fatalf("seed corrupt store: %v", err)
	}

	result, err := env.pipeline.Run(context.Background(), testInput(review.AcceptAll{}))
	if err == nil {
		t.Fatal("Run() error = nil, want store StageError")
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageStore {
		t.Fatalf("error = %v, want store StageError", err)
	}
	if code := rterrors.CodeOf(err); code != rterrors.ErrCodeStoreFailure {
		t.Errorf("error code = %q, want %q", code, rterrors.ErrCodeStoreFailure)
	}

	// Bookkeeping loss never loses the validated work product.
	if result.State != StateValidated {
		t.Errorf("State = %s, want %s", result.State, StateValidated)
	}
	if result.Record != nil {
		t.Error("Record set even though the append failed")
	}
	for _, path := range []string{result.TailoredPath, result.ArtifactPath} {
		if path == "" {
			t.Fatal("artifact path missing from result")
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("artifact %q not written: %v", path, err)
		}
	}
}

func TestRunAllRejectedStillCustomizes(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.pipeline.Run(context.Background(),
		testInput(review.StaticReviewer{Decisions: review.Decisions{}}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Accepted) != 0 {
		t.Errorf("accepted %d changes, want 0", len(result.Accepted))
	}
	if env.provider.customizeCalls != 1 {
		t.Errorf("customize called %d times, want 1 even with nothing accepted", env.provider.customizeCalls)
	}
	if len(env.provider.lastCustomizeInput.AcceptedChanges) != 0 {
		t.Error("customize received changes that were all rejected")
	}
	if result.State != StateValidated {
		t.Errorf("State = %s, want %s", result.State, StateValidated)
	}
}

func TestRunDropsUnsupportedProposals(t *testing.T) {
	env := newTestEnv(t)
	env.provider.analyzeOutput = types.AnalyzeJobOutput{Changes: []types.AnalysisChange{
		{Category: "SKILL_HIGHLIGHT", Description: "Good one", Evidence: "Go and Kubernetes experience"},
		{Category: "SKILL_HIGHLIGHT", Description: "No evidence", Evidence: ""},
		{Category: "JOB_TITLE", Description: "Change title to match", Evidence: "Backend Engineer"},
		{Category: "SOMETHING_ELSE", Description: "Unknown category", Evidence: "Go"},
	}}

	result, err := env.pipeline.Run(context.Background(), testInput(review.AcceptAll{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Items) != 1 {
		t.Fatalf("kept %d proposals, want 1 (others lack evidence or carry bad categories)", len(result.Items))
	}
	if result.Items[0].Change.Description != "Good one" {
		t.Errorf("kept proposal = %q", result.Items[0].Change.Description)
	}
	if result.Items[0].Change.ID != "c1" {
		t.Errorf("change ID = %q, want c1", result.Items[0].Change.ID)
	}
}

func TestRunFlagsSuspectEvidence(t *testing.T) {
	env := newTestEnv(t)
	env.provider.analyzeOutput = types.AnalyzeJobOutput{Changes: []types.AnalysisChange{
		{Category: "SKILL_HIGHLIGHT", Description: "Fabricated", Evidence: "expert Haskell compiler internals background"},
		{Category: "SKILL_HIGHLIGHT", Description: "Grounded", Evidence: "Kubernetes experience"},
	}}

	result, err := env.pipeline.Run(context.Background(), testInput(review.AcceptAll{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Items[0].Warning == "" {
		t.Error("fabricated evidence was not flagged")
	}
	if result.Items[1].Warning != "" {
		t.Errorf("grounded evidence flagged: %q", result.Items[1].Warning)
	}
}

func TestRunEmptyInputsFailFast(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		mutate func(*RunInput)
	}{
		{"empty job description", func(in *RunInput) { in.Job.Text = "  " }},
		{"empty resume", func(in *RunInput) { in.ResumeSource = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := testInput(review.AcceptAll{})
			tt.mutate(&input)

			_, err := env.pipeline.Run(context.Background(), input)
			if err == nil {
				t.Fatal("Run() error = nil, want INPUT_ERROR")
			}
			if code := rterrors.CodeOf(err); code != rterrors.ErrCodeInputError {
				t.Errorf("error code = %q, want %q", code, rterrors.ErrCodeInputError)
			}
		})
	}
}

func TestRunAnalysisParseFailureIsFatal(t *testing.T) {
	env := newTestEnv(t)
	env.provider.analyzeErr = rterrors.NewAIError(rterrors.ErrCodeAIResponseParse,
		"Failed to parse AI response for analyze_job", nil)

	result, err := env.pipeline.Run(context.Background(), testInput(review.AcceptAll{}))
	if err == nil {
		t.Fatal("Run() error = nil, want ANALYSIS_PARSE_FAILURE")
	}
	if code := rterrors.CodeOf(err); code != rterrors.ErrCodeAnalysisParse {
		t.Errorf("error code = %q, want %q", code, rterrors.ErrCodeAnalysisParse)
	}
	if result.State != StateFailed {
		t.Errorf("State = %s, want %s", result.State, StateFailed)
	}

	// The service reported usage before the response proved unparseable,
	// so those tokens still land in the ledger.
	events, err := env.ledger.Events()
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("ledger has %d events, want 1 (tokens spent on the failed analysis)", len(events))
	}
	if events[0].Operation != types.OperationAnalysis || events[0].PromptTokens != 1000 {
		t.Errorf("ledger event = %+v, want ANALYSIS with 1000 prompt tokens", events[0])
	}
}

func TestRunExtractionFailure(t *testing.T) {
	env := newTestEnv(t)
	env.provider.customizeOutput = types.CustomizeResumeOutput{
		TailoredResume: "Sorry, I could not produce the document you asked for.",
	}

	result, err := env.pipeline.Run(context.Background(), testInput(review.AcceptAll{}))
	if err == nil {
		t.Fatal("Run() error = nil, want EXTRACTION_FAILURE")
	}
	if code := rterrors.CodeOf(err); code != rterrors.ErrCodeExtractionFailure {
		t.Errorf("error code = %q, want %q", code, rterrors.ErrCodeExtractionFailure)
	}
	if env.compiler.calls != 0 {
		t.Error("compiler invoked on an unextractable response")
	}
	if result.State != StateFailed {
		t.Errorf("State = %s, want %s", result.State, StateFailed)
	}
}

func TestRunStripsMarkdownFences(t *testing.T) {
	env := newTestEnv(t)
	env.provider.customizeOutput = types.CustomizeResumeOutput{
		TailoredResume: "```latex\n" + testResume + "\n```",
	}

	result, err := env.pipeline.Run(context.Background(), testInput(review.AcceptAll{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Contains(result.Document.Source, "```") {
		t.Error("markdown fences not stripped from the candidate source")
	}
	if !strings.Contains(result.Document.Source, `\documentclass`) {
		t.Error("document body lost while stripping fences")
	}
}

func TestRunReviewAbortStopsBeforeCustomize(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.pipeline.Run(context.Background(), testInput(abortingReviewer{}))
	if err == nil {
		t.Fatal("Run() error = nil, want REVIEW_ABORTED")
	}
	if code := rterrors.CodeOf(err); code != rterrors.ErrCodeReviewAborted {
		t.Errorf("error code = %q, want %q", code, rterrors.ErrCodeReviewAborted)
	}
	if env.provider.customizeCalls != 0 {
		t.Error("customize ran after an aborted review")
	}
	if result.State != StateFailed {
		t.Errorf("State = %s, want %s", result.State, StateFailed)
	}
}

type abortingReviewer struct{}

func (abortingReviewer) Review(_ context.Context, _ []review.Item) (review.Decisions, error) {
	return nil, rterrors.NewValidationError(rterrors.ErrCodeReviewAborted, "Review aborted by user", nil)
}

func TestRunRecordsMetrics(t *testing.T) {
	env := newTestEnv(t)

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	metrics := &observability.Metrics{}
	var err error
	if metrics.AIRequestCount, err = meter.Int64Counter("ai_requests"); err != nil {
		t.Fatalf("counter: %v", err)
	}
	if metrics.AIErrorCount, err = meter.Int64Counter("ai_errors"); err != nil {
		t.Fatalf("counter: %v", err)
	}
	if metrics.AITokenUsage, err = meter.Int64Histogram("ai_tokens"); err != nil {
		t.Fatalf("histogram: %v", err)
	}
	if metrics.RunsStarted, err = meter.Int64Counter("runs_started"); err != nil {
		t.Fatalf("counter: %v", err)
	}
	if metrics.RunsValidated, err = meter.Int64Counter("runs_validated"); err != nil {
		t.Fatalf("counter: %v", err)
	}
	if metrics.RunsFailed, err = meter.Int64Counter("runs_failed"); err != nil {
		t.Fatalf("counter: %v", err)
	}

	logger, err := rterrors.New("error")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	p := New(env.provider, env.provider, env.compiler, env.store, env.ledger, logger, Options{
		OutputDir: env.outDir,
		Metrics:   metrics,
	})

	if _, err := p.Run(context.Background(), testInput(review.AcceptAll{})); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	env.compiler.fail = true
	if _, err := p.Run(context.Background(), testInput(review.AcceptAll{})); err == nil {
		t.Fatal("Run() error = nil, want compile failure")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	totals := counterTotals(&rm)

	want := map[string]int64{
		"runs_started":   2,
		"runs_validated": 1,
		"runs_failed":    1,
		"ai_requests":    4,
		"ai_errors":      0,
	}
	for name, wantValue := range want {
		if totals[name] != wantValue {
			t.Errorf("%s = %d, want %d", name, totals[name], wantValue)
		}
	}
}

// counterTotals sums every int64 counter data point by metric name.
func counterTotals(rm *metricdata.ResourceMetrics) map[string]int64 {
	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Backend Engineer", "Backend_Engineer"},
		{"Staff Engineer, Platform", "Staff_Engineer_Platform"},
		{"C++ / Go (Senior)", "C_Go_Senior"},
		{"", ""},
		{"___", ""},
	}
	for _, tt := range tests {
		if got := sanitizeTitle(tt.in); got != tt.want {
			t.Errorf("sanitizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
