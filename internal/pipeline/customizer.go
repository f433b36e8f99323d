package pipeline

import (
	"context"
	"strings"

	"resumetailor/internal/ai"
	rterrors "resumetailor/internal/errors"
	"resumetailor/internal/ledger"
	"resumetailor/internal/types"
)

// Customizer generates the tailored resume source from the accepted change
// set. It runs even when every change was rejected, in which case the
// service only adjusts keyword phrasing without adding content.
type Customizer struct {
	provider ai.Provider
	ledger   *ledger.Ledger
	logger   *rterrors.Logger
}

// NewCustomizer creates a Customizer.
func NewCustomizer(provider ai.Provider, usageLedger *ledger.Ledger, logger *rterrors.Logger) *Customizer {
	return &Customizer{
		provider: provider,
		ledger:   usageLedger,
		logger:   logger,
	}
}

// CustomizeResult carries the candidate source before validation.
type CustomizeResult struct {
	Source string
	Usage  *ai.TokenUsage
}

// Customize produces candidate LaTeX source applying only the accepted
// changes. The response is stripped of markdown fences and must look like
// a LaTeX document, otherwise the run fails with EXTRACTION_FAILURE.
func (c *Customizer) Customize(ctx context.Context, job types.JobDescription, resumeSource string, accepted []types.ProposedChange) (*CustomizeResult, error) {
	output, usage, err := c.provider.CustomizeResume(ctx, types.CustomizeResumeInput{
		ResumeSource:    resumeSource,
		AcceptedChanges: accepted,
	})

	if usage != nil {
		if _, ledgerErr := c.ledger.Record(types.UsageEvent{
			Operation:        types.OperationCustomization,
			JobLabel:         jobLabel(job),
			PromptTokens:     usage.InputTokens,
			CompletionTokens: usage.OutputTokens,
			TotalTokens:      usage.TotalTokens,
		}); ledgerErr != nil {
			c.logger.LogError(ledgerErr, "Failed to record customization token usage")
		}
	}

	if err != nil {
		return nil, err
	}

	source, err := extractLatexSource(output.TailoredResume)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Resume customization complete",
		"accepted_changes", len(accepted),
		"source_bytes", len(source))

	return &CustomizeResult{Source: source, Usage: usage}, nil
}

// extractLatexSource strips markdown code fences the service sometimes
// wraps around the document and sanity-checks that what remains is LaTeX.
func extractLatexSource(raw string) (string, error) {
	source := strings.TrimSpace(raw)

	if strings.HasPrefix(source, "```") {
		lines := strings.Split(source, "\n")
		// Drop the opening fence line (``` or ```latex).
		lines = lines[1:]
		// Drop the closing fence if present.
		for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
			lines = lines[:len(lines)-1]
		}
		if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
			lines = lines[:len(lines)-1]
		}
		source = strings.TrimSpace(strings.Join(lines, "\n"))
	}

	if !strings.Contains(source, `\documentclass`) && !strings.Contains(source, `\begin{document}`) {
		return "", rterrors.NewAIError(rterrors.ErrCodeExtractionFailure,
			"Customization response does not contain a LaTeX document", nil)
	}

	return source, nil
}
