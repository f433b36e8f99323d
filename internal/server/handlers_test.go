package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"resumetailor/internal/ai"
	"resumetailor/internal/config"
	rterrors "resumetailor/internal/errors"
	"resumetailor/internal/latex"
	"resumetailor/internal/ledger"
	"resumetailor/internal/pipeline"
	"resumetailor/internal/store"
	"resumetailor/internal/types"
)

const testResume = `\documentclass{article}
\begin{document}
Backend engineer, five years of Go.
\end{document}`

type fakeProvider struct {
	analyzeOutput   types.AnalyzeJobOutput
	customizeOutput types.CustomizeResumeOutput

	lastCustomizeInput types.CustomizeResumeInput
}

func (f *fakeProvider) AnalyzeJob(_ context.Context, _ types.AnalyzeJobInput) (types.AnalyzeJobOutput, *ai.TokenUsage, error) {
	return f.analyzeOutput, &ai.TokenUsage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150}, nil
}

func (f *fakeProvider) CustomizeResume(_ context.Context, input types.CustomizeResumeInput) (types.CustomizeResumeOutput, *ai.TokenUsage, error) {
	f.lastCustomizeInput = input
	return f.customizeOutput, &ai.TokenUsage{InputTokens: 200, OutputTokens: 120, TotalTokens: 320}, nil
}

func (f *fakeProvider) GetModelInfo(_ context.Context) *ai.ModelInfo {
	return &ai.ModelInfo{Name: "fake", Available: true}
}

func (f *fakeProvider) Close() error { return nil }

type fakeCompiler struct {
	fail bool
}

func (f *fakeCompiler) Compile(_ context.Context, _ string) (*latex.Result, error) {
	if f.fail {
		return nil, rterrors.NewCompileError(rterrors.ErrCodeCompileFailure,
			"LaTeX compilation failed", nil).
			WithContext("diagnostics", "! Missing $ inserted.")
	}
	return &latex.Result{PDF: []byte("%PDF-1.4"), Diagnostics: "ok"}, nil
}

func newTestServer(t *testing.T, apiKeys []string) (*Server, *fakeProvider, *fakeCompiler) {
	t.Helper()

	logger, err := rterrors.New("error")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Server.Host = "localhost"
	cfg.Server.Port = "0"
	cfg.Server.APIKeys = apiKeys
	cfg.Output.Dir = filepath.Join(dir, "out")
	cfg.Compiler.KeepFailedDir = filepath.Join(dir, "failed")
	cfg.App.MaxFileSize = 1 << 20

	provider := &fakeProvider{
		analyzeOutput: types.AnalyzeJobOutput{Changes: []types.AnalysisChange{
			{Category: "SKILL_HIGHLIGHT", Description: "Highlight Go", Evidence: "Go services in production"},
			{Category: "KEYWORD_INSERTION", Description: "Mention Kubernetes", Evidence: "Kubernetes clusters"},
		}},
		customizeOutput: types.CustomizeResumeOutput{TailoredResume: testResume},
	}
	compiler := &fakeCompiler{}

	srv := NewServer(cfg, "test", Deps{
		AnalyzeProvider:   provider,
		CustomizeProvider: provider,
		Compiler:          compiler,
		Store:             store.New(filepath.Join(dir, "applications.json")),
		Ledger:            ledger.New(filepath.Join(dir, "token_usage.csv"), 3.0, 15.0),
		Logger:            logger,
	})
	return srv, provider, compiler
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	mux := srv.setupRoutes()

	rec := postJSON(t, mux, "/analyze", AnalyzeRequest{
		JobDescription: "Looking for someone running Go services in production on Kubernetes clusters.",
		JobTitle:       "Backend Engineer",
		ResumeSource:   testResume,
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var resp AnalyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(resp.Changes))
	}
	if resp.Changes[0].ID != "c1" || resp.Changes[1].ID != "c2" {
		t.Errorf("change IDs = %s, %s, want c1, c2", resp.Changes[0].ID, resp.Changes[1].ID)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 150 {
		t.Errorf("usage = %+v, want total 150", resp.Usage)
	}
}

func TestAnalyzeRejectsEmptyInput(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	mux := srv.setupRoutes()

	rec := postJSON(t, mux, "/analyze", AnalyzeRequest{ResumeSource: testResume}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTailorMissingDecisionsAreRejections(t *testing.T) {
	srv, provider, _ := newTestServer(t, nil)
	mux := srv.setupRoutes()

	// Only c1 decided; c2 omitted must be treated as rejected.
	rec := postJSON(t, mux, "/tailor", TailorRequest{
		JobDescription: "Go services in production on Kubernetes clusters.",
		JobTitle:       "Backend Engineer",
		ResumeSource:   testResume,
		Decisions:      map[string]bool{"c1": true},
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var resp TailorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Report.AcceptedChanges != 1 {
		t.Errorf("accepted = %d, want 1 (omitted decision must reject)", resp.Report.AcceptedChanges)
	}
	if len(provider.lastCustomizeInput.AcceptedChanges) != 1 {
		t.Errorf("customize received %d changes, want 1", len(provider.lastCustomizeInput.AcceptedChanges))
	}
	if resp.Record == nil || resp.Record.ID != 1 {
		t.Errorf("record = %+v, want persisted record with id 1", resp.Record)
	}
	if resp.Record.Applied {
		t.Error("new record marked applied")
	}
}

func TestTailorCompileFailureReturns422(t *testing.T) {
	srv, _, compiler := newTestServer(t, nil)
	compiler.fail = true
	mux := srv.setupRoutes()

	rec := postJSON(t, mux, "/tailor", TailorRequest{
		JobDescription: "Go services in production.",
		ResumeSource:   testResume,
		Decisions:      map[string]bool{},
	}, nil)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body: %s", rec.Code, rec.Body.String())
	}

	var resp TailorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Report.State != "FAILED" {
		t.Errorf("state = %s, want FAILED", resp.Report.State)
	}
	if resp.Diagnostics == "" {
		t.Error("diagnostics missing from rejection response")
	}
	if resp.Record != nil {
		t.Error("failed run produced a history record")
	}
}

func TestTailorStoreFailureStillReturnsArtifacts(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	mux := srv.setupRoutes()

	// A corrupt history file makes the final append fail after the document
	// already validated.
	if err := os.WriteFile(srv.deps.Store.Path(), []byte("{not json"), 0600); err != nil {
		t.Fatalf("seed corrupt store: %v", err)
	}

	rec := postJSON(t, mux, "/tailor", TailorRequest{
		JobDescription: "Go services in production on Kubernetes clusters.",
		JobTitle:       "Backend Engineer",
		ResumeSource:   testResume,
		Decisions:      map[string]bool{"c1": true, "c2": true},
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var resp TailorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.StoreError == "" {
		t.Error("storeError empty, want persistence failure surfaced")
	}
	if resp.Record != nil {
		t.Error("record returned even though the append failed")
	}
	if resp.Report.State != string(pipeline.StateValidated) {
		t.Errorf("state = %s, want %s", resp.Report.State, pipeline.StateValidated)
	}
	if resp.Report.TailoredPath == "" || resp.Report.ArtifactPath == "" {
		t.Fatalf("artifact paths missing: %+v", resp.Report)
	}
	if _, err := os.Stat(resp.Report.ArtifactPath); err != nil {
		t.Errorf("artifact %q not on disk: %v", resp.Report.ArtifactPath, err)
	}
}

func TestApplicationUpdateFlow(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	mux := srv.setupRoutes()

	// Create a record through a full tailor run.
	rec := postJSON(t, mux, "/tailor", TailorRequest{
		JobDescription: "Go services in production on Kubernetes clusters.",
		JobTitle:       "Platform Engineer",
		ResumeSource:   testResume,
		Decisions:      map[string]bool{"c1": true, "c2": true},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("tailor status = %d; body: %s", rec.Code, rec.Body.String())
	}

	applied := true
	link := "https://example.com/jobs/7"
	update := postJSON(t, mux, "/applications/update", UpdateApplicationRequest{
		ID:      1,
		Applied: &applied,
		JobLink: &link,
	}, nil)
	if update.Code != http.StatusOK {
		t.Fatalf("update status = %d; body: %s", update.Code, update.Body.String())
	}

	var updated types.ApplicationRecord
	if err := json.Unmarshal(update.Body.Bytes(), &updated); err != nil {
		t.Fatalf("failed to decode update response: %v", err)
	}
	if !updated.Applied || updated.AppliedAt == nil {
		t.Error("applied transition did not stamp AppliedAt")
	}
	if updated.JobLink != link {
		t.Errorf("jobLink = %q, want %q", updated.JobLink, link)
	}
	if updated.JobTitle != "Platform Engineer" {
		t.Error("identity field changed by update")
	}

	// List reflects the change.
	listReq := httptest.NewRequest(http.MethodGet, "/applications", nil)
	listRec := httptest.NewRecorder()
	mux.ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status = %d", listRec.Code)
	}
	var records []types.ApplicationRecord
	if err := json.Unmarshal(listRec.Body.Bytes(), &records); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(records) != 1 || !records[0].Applied {
		t.Errorf("list = %+v, want one applied record", records)
	}
}

func TestUpdateUnknownApplicationReturns404(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	mux := srv.setupRoutes()

	applied := true
	rec := postJSON(t, mux, "/applications/update", UpdateApplicationRequest{
		ID:      42,
		Applied: &applied,
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _, _ := newTestServer(t, []string{"secret-key-123456"})
	mux := srv.setupRoutes()

	body := AnalyzeRequest{
		JobDescription: "Go services in production.",
		ResumeSource:   testResume,
	}

	// Missing key
	rec := postJSON(t, mux, "/analyze", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key status = %d, want 401", rec.Code)
	}

	// Wrong key
	rec = postJSON(t, mux, "/analyze", body, map[string]string{"X-API-Key": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d, want 401", rec.Code)
	}

	// X-API-Key header
	rec = postJSON(t, mux, "/analyze", body, map[string]string{"X-API-Key": "secret-key-123456"})
	if rec.Code != http.StatusOK {
		t.Errorf("valid key status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	// Bearer token fallback
	rec = postJSON(t, mux, "/analyze", body, map[string]string{"Authorization": "Bearer secret-key-123456"})
	if rec.Code != http.StatusOK {
		t.Errorf("bearer token status = %d, want 200", rec.Code)
	}

	// Health stays open
	healthReq := httptest.NewRequest(http.MethodGet, "/health", nil)
	healthRec := httptest.NewRecorder()
	mux.ServeHTTP(healthRec, healthReq)
	if healthRec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", healthRec.Code)
	}
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"short", "****"},
		{"12345678", "****"},
		{"123456789abcdef", "12345678****"},
	}
	for _, tt := range tests {
		if got := maskAPIKey(tt.in); got != tt.want {
			t.Errorf("maskAPIKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
