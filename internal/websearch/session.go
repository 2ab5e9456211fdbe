package websearch

import (
	"fmt"
	"strings"
)

// QueryRun is the result of one search query.
type QueryRun struct {
	Query   string `json:"query"`
	Docs    []Doc  `json:"docs"`
	Summary string `json:"per_query_summary"`
}

// Session is the ordered set of query runs for one task or chat turn.
type Session struct {
	Runs []QueryRun `json:"runs"`
}

// AllDocs returns every document in run order.
func (s *Session) AllDocs() []Doc {
	if s == nil {
		return nil
	}
	var docs []Doc
	for _, r := range s.Runs {
		docs = append(docs, r.Docs...)
	}
	return docs
}

// Queries returns the queries in run order.
func (s *Session) Queries() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.Runs))
	for i, r := range s.Runs {
		out[i] = r.Query
	}
	return out
}

// ReferencesMarkdown renders the human-readable references appendix. Document
// ordinals follow run order and do not depend on includePerQuery.
func (s *Session) ReferencesMarkdown(includePerQuery bool) string {
	docs := s.AllDocs()
	if len(docs) == 0 {
		return ""
	}

	var lines []string
	if includePerQuery {
		for i, r := range s.Runs {
			if len(r.Docs) == 0 {
				continue
			}
			summary := strings.TrimSpace(r.Summary)
			if summary == "" {
				summary = "No summary available."
			}
			lines = append(lines, fmt.Sprintf("**Query %d**: %s", i+1, r.Query), summary, "")
		}
	}

	lines = append(lines, "### References (summarized)")
	for i, d := range docs {
		n := i + 1
		title := strings.TrimSpace(d.Title)
		if title == "" {
			title = d.URL
		}
		if title == "" {
			title = fmt.Sprintf("Source %d", n)
		}
		if d.URL != "" {
			lines = append(lines, fmt.Sprintf("[%d] **%s** — `%s`", n, title, d.URL))
		} else {
			lines = append(lines, fmt.Sprintf("[%d] **%s**", n, title))
		}
		if snippet := collapse(d.Snippet); snippet != "" {
			lines = append(lines, "> "+snippet)
		}
		lines = append(lines, "")
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// EvidenceBlock renders up to maxDocs documents as a compact block for prompt
// injection. Snippets are cut to 280 characters.
func EvidenceBlock(s *Session, maxDocs int) string {
	docs := s.AllDocs()
	if len(docs) > maxDocs {
		docs = docs[:maxDocs]
	}
	if len(docs) == 0 {
		return ""
	}

	lines := []string{"### Web search evidence"}
	for i, d := range docs {
		n := i + 1
		if d.URL != "" {
			lines = append(lines, fmt.Sprintf("[%d] %s — `%s`", n, d.Title, d.URL))
		} else {
			lines = append(lines, fmt.Sprintf("[%d] %s", n, d.Title))
		}
		snippet := strings.TrimSpace(strings.ReplaceAll(strings.TrimSpace(d.Snippet), "\n", " "))
		snippet = truncateRunes(snippet, 280)
		if snippet != "" {
			lines = append(lines, "    - "+snippet)
		}
	}
	return strings.Join(lines, "\n")
}

// HeuristicSummary condenses document snippets into a short summary without
// a model call.
func HeuristicSummary(docs []Doc) string {
	var snippets []string
	for _, d := range docs {
		if s := strings.TrimSpace(d.Snippet); s != "" {
			snippets = append(snippets, s)
		}
	}
	if len(snippets) == 0 {
		return "Top results were retrieved; snippets were not provided."
	}
	return truncateRunes(collapse(strings.Join(snippets, " ")), 260)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes cuts s to max characters, replacing the tail with "..." when
// it is too long.
func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
