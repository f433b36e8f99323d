package ai

import (
	"context"

	"resumetailor/internal/types"
)

// Provider interface for different AI implementations.
// All methods return token usage information - callers can ignore it if not needed.
type Provider interface {
	AnalyzeJob(ctx context.Context, input types.AnalyzeJobInput) (types.AnalyzeJobOutput, *TokenUsage, error)
	CustomizeResume(ctx context.Context, input types.CustomizeResumeInput) (types.CustomizeResumeOutput, *TokenUsage, error)
	GetModelInfo(ctx context.Context) *ModelInfo
	Close() error
}

// TokenUsage represents token usage information from AI responses
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}
