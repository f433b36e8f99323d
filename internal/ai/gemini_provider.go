package ai

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"resumetailor/internal/config"
	rterrors "resumetailor/internal/errors"
	"resumetailor/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

// GeminiProvider implements Provider for Google Gemini
type GeminiProvider struct {
	client         *genai.Client
	config         *config.OperationAIConfig
	circuitBreaker *CircuitBreaker
	logger         *rterrors.Logger
}

// Ensure GeminiProvider implements Provider
var _ Provider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a new Gemini provider instance for a specific operation
func NewGeminiProvider(cfg *config.OperationAIConfig, operationType string, logger *rterrors.Logger) (*GeminiProvider, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, rterrors.NewAIError(rterrors.ErrCodeAIServiceFailed,
			"Failed to create Gemini client", err)
	}

	return &GeminiProvider{
		client:         client,
		config:         cfg,
		circuitBreaker: NewCircuitBreaker(operationType, cfg, logger),
		logger:         logger,
	}, nil
}

// ModelInfo represents information about the AI model
type ModelInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version,omitempty"`
	Available   bool   `json:"available"`
	Error       string `json:"error,omitempty"`
}

// GetModelInfo checks the readiness and availability of the configured model
func (g *GeminiProvider) GetModelInfo(ctx context.Context) *ModelInfo {
	modelInfo := &ModelInfo{
		Name:      g.config.Model,
		Available: false,
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	model, err := g.client.Models.Get(checkCtx, g.config.Model, &genai.GetModelConfig{})
	if err != nil {
		modelInfo.Error = fmt.Sprintf("Failed to get model info: %v", err)
		g.logger.Warn("Model availability check failed",
			"model", g.config.Model,
			"provider", g.config.Provider,
			"error", err.Error())
		return modelInfo
	}

	modelInfo.Available = true
	if model.DisplayName != "" {
		modelInfo.DisplayName = model.DisplayName
	}
	if model.Version != "" {
		modelInfo.Version = model.Version
	}

	return modelInfo
}

// executeWithRetry executes a completion call with retry logic and exponential backoff
func (g *GeminiProvider) executeWithRetry(ctx context.Context, operation string, fn func() (*genai.GenerateContentResponse, error)) (*genai.GenerateContentResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= *g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			g.logger.Warn("Retrying AI operation",
				"operation", operation,
				"attempt", attempt,
				"max_retries", *g.config.MaxRetries,
				"error", lastErr.Error())

			// Exponential backoff with jitter to prevent thundering herd
			baseDelay := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			jitterMax := big.NewInt(int64(float64(baseDelay) * 0.1))
			jitterBig, _ := rand.Int(rand.Reader, jitterMax)
			jitter := time.Duration(jitterBig.Int64())
			backoff := min(baseDelay+jitter, 30*time.Second)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := fn()
		if err == nil {
			if attempt > 0 {
				g.logger.Info("AI operation succeeded after retry",
					"operation", operation,
					"total_attempts", attempt+1)
			}
			return result, nil
		}

		lastErr = err

		// Don't retry on certain errors (auth, invalid input, etc.)
		if !isRetryableError(err) {
			g.logger.Debug("Error is not retryable, stopping retry attempts",
				"operation", operation,
				"error", err.Error())
			break
		}
	}

	g.logger.LogError(lastErr, "AI operation failed after all retry attempts",
		"operation", operation,
		"total_attempts", *g.config.MaxRetries+1)

	return nil, lastErr
}

// isRetryableError determines if an error should trigger a retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}

	return false
}

// classifyServiceError maps a completion-service failure to a typed AppError
// so callers can distinguish auth, rate-limit, timeout, and transport faults.
func classifyServiceError(operation string, err error) *rterrors.AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return rterrors.NewAIError(rterrors.ErrCodeAITimeout,
			"Completion service timed out during "+operation, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return rterrors.NewAIError(rterrors.ErrCodeAITimeout,
			"Completion service timed out during "+operation, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return rterrors.NewAIError(rterrors.ErrCodeAIAuthFailed,
				"Completion service rejected credentials during "+operation, err)
		case http.StatusTooManyRequests:
			return rterrors.NewAIError(rterrors.ErrCodeAIRateLimited,
				"Completion service rate limit hit during "+operation, err)
		}
	}

	return rterrors.NewAIError(rterrors.ErrCodeAIServiceFailed,
		"Completion service call failed during "+operation, err)
}

// executeAIOperation is a generic helper to run completion calls with common
// tracing, circuit breaker, retry, and parsing logic.
func executeAIOperation[Out any](
	g *GeminiProvider,
	ctx context.Context,
	operationName string,
	userPrompt string,
	systemPrompt string,
	genaiConfig *genai.GenerateContentConfig,
	spanAttributes ...attribute.KeyValue,
) (Out, *TokenUsage, error) {
	var output Out
	tracer := otel.Tracer("resumetailor.ai.gemini")
	ctx, span := tracer.Start(ctx, "gemini."+operationName)
	defer span.End()

	span.SetAttributes(
		attribute.String("ai.provider", "gemini"),
		attribute.String("ai.model", g.config.Model),
		attribute.Float64("ai.temperature", float64(*g.config.Temperature)),
	)
	span.SetAttributes(spanAttributes...)

	if systemPrompt != "" {
		genaiConfig.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	callCtx := ctx
	if g.config.Timeout != nil && *g.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, *g.config.Timeout)
		defer cancel()
	}

	result, err := g.circuitBreaker.Execute(func() (*genai.GenerateContentResponse, error) {
		return g.executeWithRetry(callCtx, operationName, func() (*genai.GenerateContentResponse, error) {
			return g.client.Models.GenerateContent(callCtx, g.config.Model, genai.Text(userPrompt), genaiConfig)
		})
	})

	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("success", false))
		return output, nil, classifyServiceError(operationName, err)
	}

	// Usage is known as soon as the service responds. Keep it even when the
	// response body turns out to be unparseable, so those tokens still get
	// accounted for.
	tokenUsage := extractTokenUsage(result)
	if tokenUsage != nil {
		span.SetAttributes(
			attribute.Int64("ai.tokens.input", tokenUsage.InputTokens),
			attribute.Int64("ai.tokens.output", tokenUsage.OutputTokens),
			attribute.Int64("ai.tokens.total", tokenUsage.TotalTokens),
		)
	}

	if err := json.Unmarshal([]byte(result.Text()), &output); err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("success", false))
		return output, tokenUsage, rterrors.NewAIError(rterrors.ErrCodeAIResponseParse,
			"Failed to parse AI response for "+operationName, err)
	}

	span.SetAttributes(attribute.Bool("success", true))
	return output, tokenUsage, nil
}

// AnalyzeJob implements Provider for job description analysis
func (g *GeminiProvider) AnalyzeJob(ctx context.Context, input types.AnalyzeJobInput) (types.AnalyzeJobOutput, *TokenUsage, error) {
	systemPrompt := resolvePrompt(g.config.SystemPrompt, DefaultSystemPrompts.AnalyzeJob)
	userPrompt := fmt.Sprintf(resolvePrompt(g.config.UserPrompt, DefaultUserPrompts.AnalyzeJob),
		input.JobDescription, input.ResumeContent)

	output, tokenUsage, err := executeAIOperation[types.AnalyzeJobOutput](
		g,
		ctx,
		"analyze_job",
		userPrompt,
		systemPrompt,
		g.buildAnalyzeSchema(),
		attribute.Int("input.job_length", len(input.JobDescription)),
		attribute.Int("input.resume_length", len(input.ResumeContent)),
	)

	if err != nil {
		return types.AnalyzeJobOutput{}, tokenUsage, err
	}

	return output, tokenUsage, nil
}

// CustomizeResume implements Provider for resume customization
func (g *GeminiProvider) CustomizeResume(ctx context.Context, input types.CustomizeResumeInput) (types.CustomizeResumeOutput, *TokenUsage, error) {
	systemPrompt := resolvePrompt(g.config.SystemPrompt, DefaultSystemPrompts.CustomizeResume)
	userPrompt := fmt.Sprintf(resolvePrompt(g.config.UserPrompt, DefaultUserPrompts.CustomizeResume),
		input.ResumeSource, formatChanges(input.AcceptedChanges))

	output, tokenUsage, err := executeAIOperation[types.CustomizeResumeOutput](
		g,
		ctx,
		"customize_resume",
		userPrompt,
		systemPrompt,
		g.buildCustomizeSchema(),
		attribute.Int("input.resume_length", len(input.ResumeSource)),
		attribute.Int("input.accepted_changes", len(input.AcceptedChanges)),
	)

	if err != nil {
		return types.CustomizeResumeOutput{}, tokenUsage, err
	}

	return output, tokenUsage, nil
}

// formatChanges renders the accepted change set as a numbered list for the
// customization prompt.
func formatChanges(changes []types.ProposedChange) string {
	if len(changes) == 0 {
		return "(none approved - keyword phrasing adjustments only, no new content)"
	}

	var b strings.Builder
	for i, c := range changes {
		fmt.Fprintf(&b, "%d. [%s] %s\n   Evidence: %s\n", i+1, c.Category, c.Description, c.Evidence)
	}
	return b.String()
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (g *GeminiProvider) GetCircuitBreakerStats() map[string]any {
	return g.circuitBreaker.GetStats()
}

// Close implements Provider
func (g *GeminiProvider) Close() error {
	// Gemini client doesn't have a Close method in current single-shot usage
	return nil
}

// buildAnalyzeSchema creates the response schema for analysis requests
func (g *GeminiProvider) buildAnalyzeSchema() *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"changes": {
					Type: genai.TypeArray,
					Items: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"category":    {Type: genai.TypeString},
							"description": {Type: genai.TypeString},
							"evidence":    {Type: genai.TypeString},
						},
						Required: []string{"category", "description", "evidence"},
					},
				},
			},
			Required: []string{"changes"},
		},
	}

	g.applyGenerationConfig(config)
	return config
}

// buildCustomizeSchema creates the response schema for customization requests
func (g *GeminiProvider) buildCustomizeSchema() *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"tailoredResume": {Type: genai.TypeString},
			},
			Required: []string{"tailoredResume"},
		},
	}

	g.applyGenerationConfig(config)
	return config
}

func (g *GeminiProvider) applyGenerationConfig(config *genai.GenerateContentConfig) {
	if *g.config.Temperature > 0 {
		config.Temperature = g.config.Temperature
	}
	if g.config.MaxOutputTokens != nil && *g.config.MaxOutputTokens > 0 {
		config.MaxOutputTokens = *g.config.MaxOutputTokens
	}
}

// extractTokenUsage extracts token usage information from Gemini API response
func extractTokenUsage(result *genai.GenerateContentResponse) *TokenUsage {
	if result == nil || result.UsageMetadata == nil {
		return nil
	}

	usage := result.UsageMetadata
	return &TokenUsage{
		InputTokens:  int64(usage.PromptTokenCount),
		OutputTokens: int64(usage.CandidatesTokenCount),
		TotalTokens:  int64(usage.TotalTokenCount),
	}
}
