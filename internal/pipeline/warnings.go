package pipeline

import (
	"strings"
	"unicode"

	"resumetailor/internal/types"
)

// evidenceWarning flags proposed changes whose cited evidence does not
// appear to come from the job description. Skill highlights get the
// strictest scrutiny since they are the easiest place to fabricate.
func evidenceWarning(change types.ProposedChange, jobDescription string) string {
	if change.Evidence == "" {
		return "no evidence cited"
	}

	jd := strings.ToLower(jobDescription)
	evidence := strings.ToLower(change.Evidence)

	// A verbatim quote always passes.
	if strings.Contains(jd, evidence) {
		return ""
	}

	// Paraphrased evidence passes when most of its significant words
	// appear in the posting.
	words := significantWords(evidence)
	if len(words) == 0 {
		return "evidence cites no job description text"
	}

	matched := 0
	for _, w := range words {
		if strings.Contains(jd, w) {
			matched++
		}
	}

	if float64(matched) < 0.6*float64(len(words)) {
		if change.Category == types.CategorySkillHighlight {
			return "skill highlight evidence not found in the job description, possible fabrication"
		}
		return "cited evidence not found in the job description"
	}

	return ""
}

// significantWords extracts the lowercase words of four or more letters or
// digits, the ones that carry meaning in an evidence quote.
func significantWords(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var words []string
	for _, f := range fields {
		if len(f) >= 4 {
			words = append(words, f)
		}
	}
	return words
}
