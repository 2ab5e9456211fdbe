package websearch

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Doc is one normalized search result.
type Doc struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet"`
	Source      string `json:"source"`
	PublishedAt string `json:"published_at"`
}

// Normalize flattens a raw provider response into documents, preserving the
// provider's ranking order. Unrecognized shapes yield no documents.
func Normalize(raw map[string]any) []Doc {
	var data any = raw
	if v, ok := raw["data"]; ok {
		data = v
	}
	if m, ok := data.(map[string]any); ok {
		if _, hasCode := m["code"]; hasCode {
			if inner, ok := m["data"]; ok {
				data = inner
			}
		}
	}

	items := candidates(data)

	var docs []Doc
	for _, it := range items {
		item, ok := it.(map[string]any)
		if !ok {
			continue
		}
		title := firstString(item, "title", "name")
		url := firstString(item, "url", "link", "sourceUrl")
		if url == "" && title == "" {
			continue
		}
		if title == "" {
			title = url
		}
		docs = append(docs, Doc{
			Title:       title,
			URL:         url,
			Snippet:     stripHTML(firstString(item, "snippet", "summary", "description")),
			Source:      firstString(item, "source", "site", "siteName"),
			PublishedAt: firstString(item, "published_at", "date", "publishedAt", "datePublished"),
		})
	}
	return docs
}

var fallbackPaths = [][]string{
	{"data", "results"},
	{"results"},
	{"data"},
	{"items"},
}

func candidates(data any) []any {
	m, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	if pages, ok := m["webPages"].(map[string]any); ok {
		if value, ok := pages["value"].([]any); ok && len(value) > 0 {
			return value
		}
	}
	for _, path := range fallbackPaths {
		var cur any = m
		found := true
		for _, k := range path {
			cm, ok := cur.(map[string]any)
			if !ok {
				found = false
				break
			}
			if cur, ok = cm[k]; !ok {
				found = false
				break
			}
		}
		if list, ok := cur.([]any); found && ok {
			return list
		}
	}
	return nil
}

// firstString returns the first non-empty value among keys, stringified and
// trimmed.
func firstString(item map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := item[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case bool:
			if !t {
				continue
			}
			s = "True"
		default:
			s = fmt.Sprint(t)
		}
		if s == "" {
			continue
		}
		return strings.TrimSpace(s)
	}
	return ""
}

// stripHTML removes markup such as <em> highlight tags from provider snippets.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}
