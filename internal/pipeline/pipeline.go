// Package pipeline sequences a tailoring run: analyze the job, gate every
// proposed change through review, customize the resume, validate it by
// compiling, and persist the outcome. A run only ever produces output that
// compiled.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"resumetailor/internal/ai"
	rterrors "resumetailor/internal/errors"
	"resumetailor/internal/latex"
	"resumetailor/internal/ledger"
	"resumetailor/internal/observability"
	"resumetailor/internal/review"
	"resumetailor/internal/store"
	"resumetailor/internal/types"

	"github.com/google/uuid"
)

// State tracks how far a run progressed.
type State string

const (
	StateStart      State = "START"
	StateAnalyzed   State = "ANALYZED"
	StateReviewed   State = "REVIEWED"
	StateCustomized State = "CUSTOMIZED"
	StateValidated  State = "VALIDATED"
	StateFailed     State = "FAILED"
)

// Stage names the step a failure occurred in.
type Stage string

const (
	StageAnalyze   Stage = "analyze"
	StageReview    Stage = "review"
	StageCustomize Stage = "customize"
	StageCompile   Stage = "compile"
	StageStore     Stage = "store"
)

// StageError wraps a failure with the pipeline stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Compiler validates candidate sources. Satisfied by latex.Compiler.
type Compiler interface {
	Compile(ctx context.Context, source string) (*latex.Result, error)
}

// Pipeline wires the stages together with shared persistence.
type Pipeline struct {
	analyzer      *Analyzer
	customizer    *Customizer
	compiler      Compiler
	store         *store.Store
	ledger        *ledger.Ledger
	logger        *rterrors.Logger
	metrics       *observability.Metrics
	outputDir     string
	keepFailedDir string
}

// Options configures pipeline output handling.
type Options struct {
	OutputDir string
	// KeepFailedDir receives sources that failed validation. Empty
	// disables retention.
	KeepFailedDir string
	// Metrics receives run and completion-service counters. Nil disables
	// them.
	Metrics *observability.Metrics
}

// New assembles a Pipeline from its stage dependencies.
func New(
	analyzeProvider ai.Provider,
	customizeProvider ai.Provider,
	compiler Compiler,
	appStore *store.Store,
	usageLedger *ledger.Ledger,
	logger *rterrors.Logger,
	opts Options,
) *Pipeline {
	return &Pipeline{
		analyzer:      NewAnalyzer(analyzeProvider, usageLedger, logger),
		customizer:    NewCustomizer(customizeProvider, usageLedger, logger),
		compiler:      compiler,
		store:         appStore,
		ledger:        usageLedger,
		logger:        logger,
		metrics:       opts.Metrics,
		outputDir:     opts.OutputDir,
		keepFailedDir: opts.KeepFailedDir,
	}
}

// RunInput is everything a run needs up front. The job description is
// treated as immutable for the duration of the run.
type RunInput struct {
	Job types.JobDescription
	// ResumeSource is the LaTeX source to tailor.
	ResumeSource string
	// ResumeBaseName seeds output filenames, e.g. "resume" from resume.tex.
	ResumeBaseName string
	// Reviewer gates every proposed change. Required.
	Reviewer review.Reviewer
}

// RunResult reports a run's outcome. On VALIDATED the artifact paths are
// always set, even if persisting the history record failed afterwards.
type RunResult struct {
	State        State
	Items        []review.Item
	Decisions    review.Decisions
	Accepted     []types.ProposedChange
	Document     types.TailoredDocument
	TailoredPath string
	ArtifactPath string
	// FailedSourcePath is where a rejected source was kept, when retention
	// is enabled.
	FailedSourcePath string
	Record           *types.ApplicationRecord
	Usage            types.UsageSummary
}

// Run executes the full tailoring sequence. The returned result is non-nil
// whenever the run progressed far enough to have something to report, even
// alongside an error.
func (p *Pipeline) Run(ctx context.Context, input RunInput) (*RunResult, error) {
	runID := uuid.New().String()[:8]
	result := &RunResult{State: StateStart}

	p.logger.Info("Tailoring run started",
		"run_id", runID,
		"job_title", input.Job.Title,
		"resume", input.ResumeBaseName)
	p.metrics.RecordRunStarted(ctx)

	if input.Reviewer == nil {
		p.metrics.RecordRunOutcome(ctx, false, string(StageReview))
		return result, &StageError{Stage: StageReview, Err: rterrors.NewInternalError(
			rterrors.ErrCodeInputError, "A reviewer is required", nil)}
	}

	analysis, err := p.analyzer.Analyze(ctx, input.Job, input.ResumeSource)
	var analyzePrompt, analyzeCompletion int64
	if analysis != nil && analysis.Usage != nil {
		analyzePrompt, analyzeCompletion = analysis.Usage.InputTokens, analysis.Usage.OutputTokens
	}
	p.metrics.RecordAIOperation(ctx, "analyze", analyzePrompt, analyzeCompletion, err)
	if err != nil {
		result.State = StateFailed
		p.metrics.RecordRunOutcome(ctx, false, string(StageAnalyze))
		return result, &StageError{Stage: StageAnalyze, Err: err}
	}
	result.State = StateAnalyzed
	result.Items = analysis.Items
	if analysis.Usage != nil {
		result.Usage.AnalysisPromptTokens = analysis.Usage.InputTokens
		result.Usage.AnalysisCompletionTokens = analysis.Usage.OutputTokens
	}

	decisions, err := input.Reviewer.Review(ctx, analysis.Items)
	if err != nil {
		result.State = StateFailed
		p.metrics.RecordRunOutcome(ctx, false, string(StageReview))
		return result, &StageError{Stage: StageReview, Err: err}
	}
	if err := p.enforceTotality(analysis.Items, decisions); err != nil {
		result.State = StateFailed
		p.metrics.RecordRunOutcome(ctx, false, string(StageReview))
		return result, &StageError{Stage: StageReview, Err: err}
	}
	result.State = StateReviewed
	result.Decisions = decisions
	result.Accepted = review.Accepted(analysis.Items, decisions)

	customized, err := p.customizer.Customize(ctx, input.Job, input.ResumeSource, result.Accepted)
	if customized != nil && customized.Usage != nil {
		result.Usage.CustomizePromptTokens = customized.Usage.InputTokens
		result.Usage.CustomizeCompletionTokens = customized.Usage.OutputTokens
	}
	p.metrics.RecordAIOperation(ctx, "customize",
		result.Usage.CustomizePromptTokens, result.Usage.CustomizeCompletionTokens, err)
	if err != nil {
		result.State = StateFailed
		p.metrics.RecordRunOutcome(ctx, false, string(StageCustomize))
		return result, &StageError{Stage: StageCustomize, Err: err}
	}
	result.State = StateCustomized
	result.Document = types.TailoredDocument{Source: customized.Source}

	compiled, err := p.compiler.Compile(ctx, customized.Source)
	if err != nil {
		result.State = StateFailed
		result.Document.Compiled = false
		if appErr, ok := err.(*rterrors.AppError); ok {
			if diag, ok := appErr.Context["diagnostics"].(string); ok {
				result.Document.Diagnostics = diag
			}
		}
		result.FailedSourcePath = p.keepFailedSource(input, customized.Source)
		p.metrics.RecordRunOutcome(ctx, false, string(StageCompile))
		return result, &StageError{Stage: StageCompile, Err: err}
	}
	result.Document.Compiled = true
	result.Document.Diagnostics = compiled.Diagnostics
	result.State = StateValidated
	p.metrics.RecordRunOutcome(ctx, true, "")

	result.Usage.EstimatedCostUSD = p.ledger.Cost(
		result.Usage.AnalysisPromptTokens+result.Usage.CustomizePromptTokens, 0) +
		p.ledger.Cost(0, result.Usage.AnalysisCompletionTokens+result.Usage.CustomizeCompletionTokens)

	texPath, pdfPath, err := p.writeArtifacts(input, customized.Source, compiled.PDF)
	if err != nil {
		return result, &StageError{Stage: StageStore, Err: err}
	}
	result.TailoredPath = texPath
	result.ArtifactPath = pdfPath
	result.Document.ArtifactPath = pdfPath

	record, err := p.store.Append(types.ApplicationRecord{
		JobTitle:     input.Job.Title,
		Company:      input.Job.Company,
		CreatedAt:    time.Now().UTC(),
		TailoredPath: texPath,
		ArtifactPath: pdfPath,
		Applied:      false,
		JobLink:      "",
		Usage:        result.Usage,
	})
	if err != nil {
		// The artifacts exist and are valid. Surface their paths even
		// though history bookkeeping failed.
		p.logger.LogError(err, "Validated run could not be recorded",
			"run_id", runID,
			"tailored_path", texPath,
			"artifact_path", pdfPath)
		return result, &StageError{Stage: StageStore, Err: err}
	}
	result.Record = &record

	p.logger.Info("Tailoring run complete",
		"run_id", runID,
		"application_id", record.ID,
		"tailored_path", texPath,
		"artifact_path", pdfPath,
		"accepted_changes", len(result.Accepted))

	return result, nil
}

// Report folds a run's outcome into the formatter-facing summary.
func (r *RunResult) Report() types.RunReport {
	report := types.RunReport{
		State:            string(r.State),
		ProposedChanges:  len(r.Items),
		AcceptedChanges:  len(r.Accepted),
		TailoredPath:     r.TailoredPath,
		ArtifactPath:     r.ArtifactPath,
		FailedSourcePath: r.FailedSourcePath,
		Usage:            r.Usage,
	}
	if r.Record != nil {
		report.ApplicationID = r.Record.ID
	}
	return report
}

// AnalyzeOnly runs just the analysis stage, for clients that collect
// decisions out of band and submit them with a later full run.
func (p *Pipeline) AnalyzeOnly(ctx context.Context, job types.JobDescription, resumeSource string) (*AnalysisResult, error) {
	analysis, err := p.analyzer.Analyze(ctx, job, resumeSource)
	var promptTokens, completionTokens int64
	if analysis != nil && analysis.Usage != nil {
		promptTokens, completionTokens = analysis.Usage.InputTokens, analysis.Usage.OutputTokens
	}
	p.metrics.RecordAIOperation(ctx, "analyze", promptTokens, completionTokens, err)
	return analysis, err
}

// enforceTotality rejects partial decision sets and force-rejects any
// change carrying a category that must never be applied.
func (p *Pipeline) enforceTotality(items []review.Item, decisions review.Decisions) error {
	for _, item := range items {
		if _, present := decisions[item.Change.ID]; !present {
			return rterrors.NewValidationError(rterrors.ErrCodeInputError,
				fmt.Sprintf("No decision recorded for change %s", item.Change.ID), nil)
		}
		if !types.AllowedCategories[item.Change.Category] && decisions[item.Change.ID] {
			p.logger.Warn("Force-rejecting change with disallowed category",
				"change_id", item.Change.ID,
				"category", string(item.Change.Category))
			decisions[item.Change.ID] = false
		}
	}
	return nil
}

// keepFailedSource retains a source that failed validation for debugging.
// Best effort, a retention failure never masks the compile error.
func (p *Pipeline) keepFailedSource(input RunInput, source string) string {
	if p.keepFailedDir == "" {
		return ""
	}
	if err := os.MkdirAll(p.keepFailedDir, 0o750); err != nil {
		p.logger.Warn("Could not create failed-source directory", "error", err.Error())
		return ""
	}

	name := fmt.Sprintf("%s_failed_%s.tex",
		baseName(input), time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(p.keepFailedDir, name)
	if err := os.WriteFile(path, []byte(source), 0o600); err != nil {
		p.logger.Warn("Could not retain failed source", "error", err.Error())
		return ""
	}

	p.logger.Info("Kept failed source for inspection", "path", path)
	return path
}

// writeArtifacts persists the validated source and its PDF under the
// output directory with the run's derived filename.
func (p *Pipeline) writeArtifacts(input RunInput, source string, pdf []byte) (string, string, error) {
	if err := os.MkdirAll(p.outputDir, 0o750); err != nil {
		return "", "", rterrors.NewIOError(rterrors.ErrCodeFileNotReadable,
			"Failed to create output directory", err)
	}

	stem := outputStem(baseName(input), input.Job.Title)
	texPath := filepath.Join(p.outputDir, stem+".tex")
	pdfPath := filepath.Join(p.outputDir, stem+".pdf")

	if err := os.WriteFile(texPath, []byte(source), 0o600); err != nil {
		return "", "", rterrors.NewIOError(rterrors.ErrCodeFileNotReadable,
			"Failed to write tailored source", err)
	}
	if err := os.WriteFile(pdfPath, pdf, 0o600); err != nil {
		return "", "", rterrors.NewIOError(rterrors.ErrCodeFileNotReadable,
			"Failed to write compiled artifact", err)
	}

	return texPath, pdfPath, nil
}

func baseName(input RunInput) string {
	if input.ResumeBaseName != "" {
		return input.ResumeBaseName
	}
	return "resume"
}

// outputStem derives the artifact filename stem, e.g.
// resume_tailored_Backend_Engineer_20250101.
func outputStem(base, jobTitle string) string {
	stem := base + "_tailored"
	if safe := sanitizeTitle(jobTitle); safe != "" {
		stem += "_" + safe
	}
	return stem + "_" + time.Now().UTC().Format("20060102")
}

// sanitizeTitle makes a job title filesystem-safe: word characters kept,
// runs of anything else collapsed to single underscores.
func sanitizeTitle(title string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
