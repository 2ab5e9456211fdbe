package websearch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func twoRunSession() *Session {
	return &Session{Runs: []QueryRun{
		{Query: "earbuds market", Summary: "Market grows.", Docs: []Doc{
			{Title: "A", URL: "https://a", Snippet: "alpha\n  text"},
			{Title: "B", URL: ""},
		}},
		{Query: "empty query"},
		{Query: "competitors", Docs: []Doc{{Title: " ", URL: "https://c", Snippet: "gamma"}}},
	}}
}

func TestReferencesMarkdown_WithSummaries(t *testing.T) {
	want := strings.Join([]string{
		"**Query 1**: earbuds market",
		"Market grows.",
		"",
		"**Query 3**: competitors",
		"No summary available.",
		"",
		"### References (summarized)",
		"[1] **A** — `https://a`",
		"> alpha text",
		"",
		"[2] **B**",
		"",
		"[3] **https://c** — `https://c`",
		"> gamma",
	}, "\n")
	assert.Equal(t, want, twoRunSession().ReferencesMarkdown(true))
}

func TestReferencesMarkdown_OrdinalsStable(t *testing.T) {
	s := twoRunSession()
	without := s.ReferencesMarkdown(false)
	assert.True(t, strings.HasPrefix(without, "### References (summarized)"))

	for _, ref := range []string{"[1] **A**", "[2] **B**", "[3] **https://c**"} {
		assert.Contains(t, without, ref)
		assert.Contains(t, s.ReferencesMarkdown(true), ref)
	}
}

func TestReferencesMarkdown_Empty(t *testing.T) {
	assert.Equal(t, "", (&Session{Runs: []QueryRun{{Query: "q"}}}).ReferencesMarkdown(true))
	var s *Session
	assert.Equal(t, "", s.ReferencesMarkdown(true))
}

func TestEvidenceBlock(t *testing.T) {
	long := strings.Repeat("x", 300)
	s := &Session{Runs: []QueryRun{{Docs: []Doc{
		{Title: "A", URL: "https://a", Snippet: "line1\nline2"},
		{Title: "B", Snippet: long},
		{Title: "C"},
	}}}}

	got := EvidenceBlock(s, 8)
	want := strings.Join([]string{
		"### Web search evidence",
		"[1] A — `https://a`",
		"    - line1 line2",
		"[2] B",
		"    - " + strings.Repeat("x", 277) + "...",
		"[3] C",
	}, "\n")
	assert.Equal(t, want, got)

	assert.Equal(t, 3, strings.Count(EvidenceBlock(s, 1)+"\n", "\n"))
	assert.Equal(t, "", EvidenceBlock(&Session{}, 8))
}

func TestHeuristicSummary(t *testing.T) {
	assert.Equal(t, "Top results were retrieved; snippets were not provided.", HeuristicSummary(nil))
	assert.Equal(t, "Top results were retrieved; snippets were not provided.",
		HeuristicSummary([]Doc{{Snippet: "   "}}))

	assert.Equal(t, "one two three", HeuristicSummary([]Doc{{Snippet: " one\ttwo "}, {}, {Snippet: "three"}}))

	long := HeuristicSummary([]Doc{{Snippet: strings.Repeat("y", 400)}})
	assert.Len(t, long, 260)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestSessionQueriesAndDocs(t *testing.T) {
	s := twoRunSession()
	assert.Equal(t, []string{"earbuds market", "empty query", "competitors"}, s.Queries())
	assert.Len(t, s.AllDocs(), 3)
}
