package formatters

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"resumetailor/internal/types"
)

// Formatter interface for different output formats
type Formatter interface {
	Format(data any) (string, error)
	SupportedType() string
}

// FormatterRegistry manages all available formatters
type FormatterRegistry struct {
	formatters map[string]map[string]Formatter // format -> type -> formatter
}

// NewFormatterRegistry creates a new formatter registry with default formatters
func NewFormatterRegistry() *FormatterRegistry {
	registry := &FormatterRegistry{
		formatters: make(map[string]map[string]Formatter),
	}

	// Register default formatters
	registry.RegisterFormatter("json", "any", &JSONFormatter{})
	registry.RegisterFormatter("text", "ApplicationList", &ApplicationListTextFormatter{})
	registry.RegisterFormatter("markdown", "ApplicationList", &ApplicationListMarkdownFormatter{})
	registry.RegisterFormatter("text", "RunReport", &RunReportTextFormatter{})
	registry.RegisterFormatter("markdown", "RunReport", &RunReportMarkdownFormatter{})

	return registry
}

// RegisterFormatter registers a new formatter for a specific format and data type
func (fr *FormatterRegistry) RegisterFormatter(format, dataType string, formatter Formatter) {
	if fr.formatters[format] == nil {
		fr.formatters[format] = make(map[string]Formatter)
	}
	fr.formatters[format][dataType] = formatter
}

// Format formats data using the appropriate formatter
func (fr *FormatterRegistry) Format(data any, format string) (string, error) {
	dataType := getDataType(data)

	// Try specific formatter first
	if formatters, exists := fr.formatters[format]; exists {
		if formatter, exists := formatters[dataType]; exists {
			return formatter.Format(data)
		}
		// Fall back to generic formatter
		if formatter, exists := formatters["any"]; exists {
			return formatter.Format(data)
		}
	}

	return "", fmt.Errorf("no formatter found for format '%s' and type '%s'", format, dataType)
}

// GetSupportedFormats returns all supported formats
func (fr *FormatterRegistry) GetSupportedFormats() []string {
	formats := make([]string, 0, len(fr.formatters))
	for format := range fr.formatters {
		formats = append(formats, format)
	}
	return formats
}

func getDataType(data any) string {
	switch data.(type) {
	case []types.ApplicationRecord:
		return "ApplicationList"
	case types.RunReport:
		return "RunReport"
	default:
		return "any"
	}
}

// JSONFormatter handles JSON formatting for any data type
type JSONFormatter struct{}

func (jf *JSONFormatter) Format(data any) (string, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(jsonData), nil
}

func (jf *JSONFormatter) SupportedType() string {
	return "any"
}

// ApplicationListTextFormatter handles text formatting for application history
type ApplicationListTextFormatter struct{}

func (alf *ApplicationListTextFormatter) Format(data any) (string, error) {
	records, ok := data.([]types.ApplicationRecord)
	if !ok {
		return "", fmt.Errorf("expected []ApplicationRecord, got %T", data)
	}

	if len(records) == 0 {
		return "No applications recorded yet.\n", nil
	}

	var output strings.Builder
	output.WriteString("=== APPLICATION HISTORY ===\n\n")

	for _, r := range records {
		output.WriteString(fmt.Sprintf("[%d] %s", r.ID, r.JobTitle))
		if r.Company != "" {
			output.WriteString(fmt.Sprintf(" @ %s", r.Company))
		}
		output.WriteString("\n")
		output.WriteString(fmt.Sprintf("    Created:  %s\n", r.CreatedAt.Format("2006-01-02")))
		output.WriteString(fmt.Sprintf("    Applied:  %s\n", appliedLabel(r)))
		output.WriteString(fmt.Sprintf("    Tailored: %s\n", r.TailoredPath))
		output.WriteString(fmt.Sprintf("    PDF:      %s\n", r.ArtifactPath))
		if r.JobLink != "" {
			output.WriteString(fmt.Sprintf("    Link:     %s\n", r.JobLink))
		}
		if r.Notes != "" {
			output.WriteString(fmt.Sprintf("    Notes:    %s\n", r.Notes))
		}
		output.WriteString(fmt.Sprintf("    Cost:     $%.4f\n", r.Usage.EstimatedCostUSD))
		output.WriteString("\n")
	}

	return output.String(), nil
}

func (alf *ApplicationListTextFormatter) SupportedType() string {
	return "ApplicationList"
}

// ApplicationListMarkdownFormatter handles markdown formatting for application history
type ApplicationListMarkdownFormatter struct{}

func (alm *ApplicationListMarkdownFormatter) Format(data any) (string, error) {
	records, ok := data.([]types.ApplicationRecord)
	if !ok {
		return "", fmt.Errorf("expected []ApplicationRecord, got %T", data)
	}

	var output strings.Builder
	output.WriteString("# Application History\n\n")

	if len(records) == 0 {
		output.WriteString("No applications recorded yet.\n")
		return output.String(), nil
	}

	output.WriteString("| ID | Job Title | Company | Created | Applied | Cost |\n")
	output.WriteString("|----|-----------|---------|---------|---------|------|\n")
	for _, r := range records {
		output.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | $%.4f |\n",
			r.ID, r.JobTitle, r.Company,
			r.CreatedAt.Format("2006-01-02"),
			appliedLabel(r),
			r.Usage.EstimatedCostUSD))
	}

	return output.String(), nil
}

func (alm *ApplicationListMarkdownFormatter) SupportedType() string {
	return "ApplicationList"
}

// RunReportTextFormatter handles text formatting for tailoring run outcomes
type RunReportTextFormatter struct{}

func (rrf *RunReportTextFormatter) Format(data any) (string, error) {
	report, ok := data.(types.RunReport)
	if !ok {
		return "", fmt.Errorf("expected RunReport, got %T", data)
	}

	var output strings.Builder
	output.WriteString("=== TAILORING RUN ===\n\n")
	output.WriteString(fmt.Sprintf("State:    %s\n", report.State))
	output.WriteString(fmt.Sprintf("Changes:  %d proposed, %d accepted\n",
		report.ProposedChanges, report.AcceptedChanges))

	if report.TailoredPath != "" {
		output.WriteString(fmt.Sprintf("Tailored: %s\n", report.TailoredPath))
	}
	if report.ArtifactPath != "" {
		output.WriteString(fmt.Sprintf("PDF:      %s\n", report.ArtifactPath))
	}
	if report.FailedSourcePath != "" {
		output.WriteString(fmt.Sprintf("Rejected source kept at: %s\n", report.FailedSourcePath))
	}
	if report.ApplicationID > 0 {
		output.WriteString(fmt.Sprintf("Recorded as application #%d\n", report.ApplicationID))
	}

	output.WriteString("\n=== TOKEN USAGE ===\n")
	output.WriteString(fmt.Sprintf("Analysis:  %d prompt / %d completion\n",
		report.Usage.AnalysisPromptTokens, report.Usage.AnalysisCompletionTokens))
	output.WriteString(fmt.Sprintf("Customize: %d prompt / %d completion\n",
		report.Usage.CustomizePromptTokens, report.Usage.CustomizeCompletionTokens))
	output.WriteString(fmt.Sprintf("Estimated cost: $%.4f\n", report.Usage.EstimatedCostUSD))

	return output.String(), nil
}

func (rrf *RunReportTextFormatter) SupportedType() string {
	return "RunReport"
}

// RunReportMarkdownFormatter handles markdown formatting for tailoring run outcomes
type RunReportMarkdownFormatter struct{}

func (rrm *RunReportMarkdownFormatter) Format(data any) (string, error) {
	report, ok := data.(types.RunReport)
	if !ok {
		return "", fmt.Errorf("expected RunReport, got %T", data)
	}

	var output strings.Builder
	output.WriteString("# Tailoring Run\n\n")
	output.WriteString(fmt.Sprintf("**State:** %s\n\n", report.State))
	output.WriteString(fmt.Sprintf("**Changes:** %d proposed, %d accepted\n\n",
		report.ProposedChanges, report.AcceptedChanges))

	if report.TailoredPath != "" {
		output.WriteString(fmt.Sprintf("**Tailored source:** `%s`\n\n", report.TailoredPath))
	}
	if report.ArtifactPath != "" {
		output.WriteString(fmt.Sprintf("**Compiled PDF:** `%s`\n\n", report.ArtifactPath))
	}
	if report.FailedSourcePath != "" {
		output.WriteString(fmt.Sprintf("**Rejected source kept at:** `%s`\n\n", report.FailedSourcePath))
	}
	if report.ApplicationID > 0 {
		output.WriteString(fmt.Sprintf("**Recorded as application** #%d\n\n", report.ApplicationID))
	}

	output.WriteString("## Token Usage\n\n")
	output.WriteString("| Operation | Prompt | Completion |\n")
	output.WriteString("|-----------|--------|------------|\n")
	output.WriteString(fmt.Sprintf("| Analysis | %d | %d |\n",
		report.Usage.AnalysisPromptTokens, report.Usage.AnalysisCompletionTokens))
	output.WriteString(fmt.Sprintf("| Customize | %d | %d |\n",
		report.Usage.CustomizePromptTokens, report.Usage.CustomizeCompletionTokens))
	output.WriteString(fmt.Sprintf("\n**Estimated cost:** $%.4f\n", report.Usage.EstimatedCostUSD))

	return output.String(), nil
}

func (rrm *RunReportMarkdownFormatter) SupportedType() string {
	return "RunReport"
}

func appliedLabel(r types.ApplicationRecord) string {
	if !r.Applied {
		return "no"
	}
	if r.AppliedAt != nil {
		return "yes (" + r.AppliedAt.Format(time.DateOnly) + ")"
	}
	return "yes"
}

// Global formatter registry
var GlobalRegistry = NewFormatterRegistry()
