package pipeline

import (
	"context"
	"fmt"
	"strings"

	"resumetailor/internal/ai"
	rterrors "resumetailor/internal/errors"
	"resumetailor/internal/ledger"
	"resumetailor/internal/review"
	"resumetailor/internal/types"
)

// Analyzer runs job analysis: it asks the completion service for proposed
// resume changes, filters out anything unsupported by evidence or carrying
// a disallowed category, and accounts for the tokens spent.
type Analyzer struct {
	provider ai.Provider
	ledger   *ledger.Ledger
	logger   *rterrors.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(provider ai.Provider, usageLedger *ledger.Ledger, logger *rterrors.Logger) *Analyzer {
	return &Analyzer{
		provider: provider,
		ledger:   usageLedger,
		logger:   logger,
	}
}

// AnalysisResult is the reviewed-ready output of job analysis.
type AnalysisResult struct {
	Items []review.Item
	Usage *ai.TokenUsage
}

// Analyze proposes changes for tailoring resumeContent toward job. Entries
// the service returns without evidence or with an unknown or disallowed
// category are dropped, not fixed up. Token usage is recorded to the
// ledger before any filtering, since the tokens were spent regardless.
func (a *Analyzer) Analyze(ctx context.Context, job types.JobDescription, resumeContent string) (*AnalysisResult, error) {
	if strings.TrimSpace(job.Text) == "" {
		return nil, rterrors.NewValidationError(rterrors.ErrCodeInputError,
			"Job description is empty", nil)
	}
	if strings.TrimSpace(resumeContent) == "" {
		return nil, rterrors.NewValidationError(rterrors.ErrCodeInputError,
			"Resume content is empty", nil)
	}

	output, usage, err := a.provider.AnalyzeJob(ctx, types.AnalyzeJobInput{
		JobDescription: job.Text,
		ResumeContent:  resumeContent,
	})

	if usage != nil {
		if _, ledgerErr := a.ledger.Record(types.UsageEvent{
			Operation:        types.OperationAnalysis,
			JobLabel:         jobLabel(job),
			PromptTokens:     usage.InputTokens,
			CompletionTokens: usage.OutputTokens,
			TotalTokens:      usage.TotalTokens,
		}); ledgerErr != nil {
			a.logger.LogError(ledgerErr, "Failed to record analysis token usage")
		}
	}

	if err != nil {
		if rterrors.CodeOf(err) == rterrors.ErrCodeAIResponseParse {
			return nil, rterrors.NewAIError(rterrors.ErrCodeAnalysisParse,
				"Analysis response was not parseable, no changes can be proposed", err)
		}
		return nil, err
	}

	items := make([]review.Item, 0, len(output.Changes))
	for _, c := range output.Changes {
		category := types.ChangeCategory(strings.ToUpper(strings.TrimSpace(c.Category)))

		if strings.TrimSpace(c.Evidence) == "" {
			a.logger.Warn("Dropping proposed change without evidence",
				"category", string(category),
				"description", c.Description)
			continue
		}
		if !types.AllowedCategories[category] {
			a.logger.Warn("Dropping proposed change with disallowed category",
				"category", string(category),
				"description", c.Description)
			continue
		}

		change := types.ProposedChange{
			ID:          fmt.Sprintf("c%d", len(items)+1),
			Category:    category,
			Description: strings.TrimSpace(c.Description),
			Evidence:    strings.TrimSpace(c.Evidence),
		}
		items = append(items, review.Item{
			Change:  change,
			Warning: evidenceWarning(change, job.Text),
		})
	}

	a.logger.Info("Job analysis complete",
		"proposed", len(output.Changes),
		"kept", len(items))

	return &AnalysisResult{Items: items, Usage: usage}, nil
}

// jobLabel labels ledger rows and artifacts for a run. Falls back to a
// snippet of the description when no title was given.
func jobLabel(job types.JobDescription) string {
	if job.Title != "" {
		return job.Title
	}
	text := strings.Join(strings.Fields(job.Text), " ")
	if len(text) > 40 {
		return text[:40]
	}
	return text
}
