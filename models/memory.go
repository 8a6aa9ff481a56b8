package models

import (
	"fmt"
	"strings"

	"github.com/dyike/cortexdesk/consts"
)

// MemoryRecord is one lesson stored in a role's collection. Seq grows with
// insertion order within the store.
type MemoryRecord struct {
	Role         consts.Role `json:"role"`
	Seq          int64       `json:"seq"`
	Situation    string      `json:"situation"`
	Embedding    []float32   `json:"embedding,omitempty"`
	Lesson       string      `json:"lesson"`
	OutcomeScore *float64    `json:"outcome_score,omitempty"`
}

// MemoryMatch is a retrieved lesson with its similarity to the query.
type MemoryMatch struct {
	Lesson     string  `json:"lesson"`
	Similarity float64 `json:"similarity"`
	Seq        int64   `json:"seq"`
}

// SituationFromReports renders the analyst reports as the memory query text.
func SituationFromReports(reports []AnalystReport) string {
	parts := make([]string, 0, len(reports))
	for _, r := range reports {
		if r.Available() {
			parts = append(parts, r.Text)
			continue
		}
		parts = append(parts, fmt.Sprintf("(%s report unavailable)", r.Kind))
	}
	return strings.Join(parts, "\n\n")
}

// FormatLessons renders retrieved lessons as a numbered list.
func FormatLessons(matches []MemoryMatch) string {
	if len(matches) == 0 {
		return "No past memories found."
	}
	var b strings.Builder
	for i, m := range matches {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.Lesson)
	}
	return strings.TrimRight(b.String(), "\n")
}
