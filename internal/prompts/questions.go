package prompts

import (
	"fmt"
	"strings"
)

// Question is one reviewer or interviewer question. Label is the
// dimension or aspect the model attached to it.
type Question struct {
	Label string
	Text  string
}

// ParseQuestions reads the "questions" array of a reviewer response. labelKey
// names the field holding the label ("dimension" or "aspect"). Elements that
// are not objects are skipped.
func ParseQuestions(obj map[string]any, labelKey string) []Question {
	raw, _ := obj["questions"].([]any)
	out := make([]Question, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		q := Question{}
		if s, ok := m[labelKey].(string); ok {
			q.Label = s
		}
		if s, ok := m["question"].(string); ok {
			q.Text = s
		}
		out = append(out, q)
	}
	return out
}

// FormatQuestions renders questions as a numbered list,
// "1. [label] question". Questions without a label use fallback.
func FormatQuestions(qs []Question, fallback string) string {
	lines := make([]string, len(qs))
	for i, q := range qs {
		label := q.Label
		if label == "" {
			label = fallback
		}
		lines[i] = fmt.Sprintf("%d. [%s] %s", i+1, label, q.Text)
	}
	return strings.Join(lines, "\n")
}
