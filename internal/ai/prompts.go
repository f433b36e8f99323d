package ai

// SystemPrompts contains the system-level instructions for AI interactions
type SystemPrompts struct {
	AnalyzeJob      string
	CustomizeResume string
}

// UserPrompts contains user-level prompts with placeholders for dynamic content
type UserPrompts struct {
	AnalyzeJob      string
	CustomizeResume string
}

// DefaultSystemPrompts provides the default system instructions
var DefaultSystemPrompts = SystemPrompts{
	AnalyzeJob: `You are an expert resume tailoring assistant with a strict commitment to honesty. Your core principles are:

- NEVER invent, exaggerate, or misattribute skills or experience
- Every suggestion must cite evidence: a phrase or requirement actually present in the job description
- A suggestion without evidence is worthless and must not be emitted
- Never suggest changing job titles

You propose small, atomic edits that improve ATS compatibility while keeping the resume truthful.`,

	CustomizeResume: `You are an expert LaTeX resume editor. You apply a fixed list of approved edits to a resume and nothing else.

- Apply ONLY the approved changes listed; do not introduce any skill, metric, or experience that is not already in the resume
- Preserve the document's LaTeX preamble, structure, and formatting commands
- The output must be complete, valid LaTeX that compiles as-is
- If the approved change list is empty, you may only adjust keyword phrasing already implied by the resume; returning the document unchanged is acceptable`,
}

// DefaultUserPrompts provides the default user prompt templates
var DefaultUserPrompts = UserPrompts{
	AnalyzeJob: `Analyze the job description below against the candidate's resume and propose tailoring changes.

For every change provide:
- "category": one of SKILL_HIGHLIGHT, EXPERIENCE_REWORD, KEYWORD_INSERTION, OTHER
- "description": what to change, specific enough to apply
- "evidence": the exact phrase or requirement from the job description that justifies the change

Rules:
- Do not propose a change whose evidence is not in the job description.
- Do not propose adding skills or experience the resume does not already support.
- Do not propose job title changes under any category.

**Job Description:**
-----
%s
-----

**Resume Content:**
-----
%s
-----`,

	CustomizeResume: `Rewrite the LaTeX resume below, applying only the approved changes listed.

Rules:
- Apply each approved change exactly once.
- Do not invent content. If the approved change list is empty, limit yourself to keyword phrasing the resume already supports, or return the document unchanged.
- Keep the preamble and all formatting commands intact; the result must compile with pdflatex.
- Return the complete document source.

**Original Resume (LaTeX):**
-----
%s
-----

**Approved Changes:**
-----
%s
-----`,
}

// resolvePrompt selects the correct prompt string: a prompt defined in the
// configuration wins over the hardcoded default.
func resolvePrompt(fromConfig, fromDefault string) string {
	if fromConfig != "" {
		return fromConfig
	}
	return fromDefault
}
