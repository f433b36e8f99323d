package types

import "time"

// ChangeCategory classifies a proposed resume edit.
type ChangeCategory string

const (
	CategorySkillHighlight   ChangeCategory = "SKILL_HIGHLIGHT"
	CategoryExperienceReword ChangeCategory = "EXPERIENCE_REWORD"
	CategoryKeywordInsertion ChangeCategory = "KEYWORD_INSERTION"
	CategoryOther            ChangeCategory = "OTHER"

	// CategoryJobTitle is never an acceptable category. The analyzer must not
	// propose it and the review gate rejects it outright if one slips through.
	CategoryJobTitle ChangeCategory = "JOB_TITLE"
)

// AllowedCategories is the set of categories a proposed change may carry.
var AllowedCategories = map[ChangeCategory]bool{
	CategorySkillHighlight:   true,
	CategoryExperienceReword: true,
	CategoryKeywordInsertion: true,
	CategoryOther:            true,
}

// JobDescription is the target posting a resume is tailored against.
// Immutable once handed to a pipeline run.
type JobDescription struct {
	Text    string `json:"text"`
	Title   string `json:"title,omitempty"`
	Company string `json:"company,omitempty"`
}

// ProposedChange is one atomic edit candidate produced by job analysis.
// Evidence must quote or reference text actually present in the job
// description; the analyzer drops entries without it.
type ProposedChange struct {
	ID          string         `json:"id"`
	Category    ChangeCategory `json:"category"`
	Description string         `json:"description"`
	Evidence    string         `json:"evidence"`
}

// TailoredDocument is the candidate LaTeX source paired with its
// validation outcome. Only compiled documents are ever persisted.
type TailoredDocument struct {
	Source       string `json:"source"`
	Compiled     bool   `json:"compiled"`
	ArtifactPath string `json:"artifactPath,omitempty"`
	Diagnostics  string `json:"diagnostics,omitempty"`
}

// UsageOperation identifies which pipeline stage consumed tokens.
type UsageOperation string

const (
	OperationAnalysis      UsageOperation = "ANALYSIS"
	OperationCustomization UsageOperation = "CUSTOMIZATION"
)

// UsageEvent is one row of the token ledger: a single completion-service
// call. Events are append-only and never mutated.
type UsageEvent struct {
	Timestamp        time.Time      `json:"timestamp"`
	Operation        UsageOperation `json:"operation"`
	JobLabel         string         `json:"jobLabel"`
	PromptTokens     int64          `json:"promptTokens"`
	CompletionTokens int64          `json:"completionTokens"`
	TotalTokens      int64          `json:"totalTokens"`
	CostUSD          float64        `json:"costUSD"`
}

// UsageSummary folds the run's two completion calls into the persisted record.
type UsageSummary struct {
	AnalysisPromptTokens      int64   `json:"analysisPromptTokens"`
	AnalysisCompletionTokens  int64   `json:"analysisCompletionTokens"`
	CustomizePromptTokens     int64   `json:"customizePromptTokens"`
	CustomizeCompletionTokens int64   `json:"customizeCompletionTokens"`
	EstimatedCostUSD          float64 `json:"estimatedCostUSD"`
}

// RunReport is the user-facing summary of a tailoring run, shaped for the
// output formatters.
type RunReport struct {
	State            string       `json:"state"`
	ProposedChanges  int          `json:"proposedChanges"`
	AcceptedChanges  int          `json:"acceptedChanges"`
	TailoredPath     string       `json:"tailoredPath,omitempty"`
	ArtifactPath     string       `json:"artifactPath,omitempty"`
	FailedSourcePath string       `json:"failedSourcePath,omitempty"`
	ApplicationID    int64        `json:"applicationId,omitempty"`
	Usage            UsageSummary `json:"usage"`
}

// ApplicationRecord is the durable unit of history, created exactly once at
// the end of a successful run. Only the status fields (Applied, AppliedAt,
// JobLink, Notes, Company) may change afterwards.
type ApplicationRecord struct {
	ID           int64        `json:"id"`
	JobTitle     string       `json:"jobTitle"`
	Company      string       `json:"company,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	TailoredPath string       `json:"tailoredPath"`
	ArtifactPath string       `json:"artifactPath"`
	Applied      bool         `json:"applied"`
	AppliedAt    *time.Time   `json:"appliedAt,omitempty"`
	JobLink      string       `json:"jobLink,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	Usage        UsageSummary `json:"usage"`
}
