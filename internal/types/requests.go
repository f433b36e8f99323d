package types

// AnalyzeJobInput represents the input for analyzing a job description
// against an existing resume.
type AnalyzeJobInput struct {
	JobDescription string `json:"jobDescription"`
	ResumeContent  string `json:"resumeContent"`
}

// AnalysisChange is one raw edit suggestion as returned by the completion
// service, before identifier assignment and validation.
type AnalysisChange struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Evidence    string `json:"evidence"`
}

// AnalyzeJobOutput represents the structured response of a job analysis call.
type AnalyzeJobOutput struct {
	Changes []AnalysisChange `json:"changes"`
}

// CustomizeResumeInput represents the input for rewriting a resume with the
// accepted change set.
type CustomizeResumeInput struct {
	ResumeSource    string           `json:"resumeSource"`
	AcceptedChanges []ProposedChange `json:"acceptedChanges"`
}

// CustomizeResumeOutput represents the structured response of a
// customization call.
type CustomizeResumeOutput struct {
	TailoredResume string `json:"tailoredResume"`
}
