package websearch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_BochaEnvelope(t *testing.T) {
	raw := map[string]any{
		"_meta": map[string]any{"query": "q"},
		"data": map[string]any{
			"code": float64(200),
			"data": map[string]any{
				"webPages": map[string]any{
					"value": []any{
						map[string]any{
							"name":          "Quiet earbuds review",
							"url":           "https://a.example/review",
							"snippet":       "The <em>best</em> earbuds &amp; cases",
							"siteName":      "A Example",
							"datePublished": "2025-03-01",
						},
						map[string]any{"url": "https://b.example"},
						map[string]any{"snippet": "no title or url"},
						"not an object",
					},
				},
			},
		},
	}

	docs := Normalize(raw)
	require.Len(t, docs, 2)
	assert.Equal(t, Doc{
		Title:       "Quiet earbuds review",
		URL:         "https://a.example/review",
		Snippet:     "The best earbuds & cases",
		Source:      "A Example",
		PublishedAt: "2025-03-01",
	}, docs[0])
	assert.Equal(t, "https://b.example", docs[1].Title)
}

func TestNormalize_FlatShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want []string
	}{
		{
			name: "results list",
			raw: map[string]any{"data": map[string]any{
				"results": []any{map[string]any{"title": "R1", "link": "https://r1"}},
			}},
			want: []string{"R1"},
		},
		{
			name: "nested data results",
			raw: map[string]any{"data": map[string]any{
				"data": map[string]any{"results": []any{map[string]any{"title": "N1"}}},
			}},
			want: []string{"N1"},
		},
		{
			name: "data list",
			raw: map[string]any{"data": map[string]any{
				"data": []any{map[string]any{"title": "D1", "sourceUrl": "https://d1"}},
			}},
			want: []string{"D1"},
		},
		{
			name: "items without envelope",
			raw:  map[string]any{"items": []any{map[string]any{"title": "I1"}, map[string]any{"title": "I2"}}},
			want: []string{"I1", "I2"},
		},
		{
			name: "empty webPages falls back",
			raw: map[string]any{"data": map[string]any{
				"webPages": map[string]any{"value": []any{}},
				"items":    []any{map[string]any{"title": "F1"}},
			}},
			want: []string{"F1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var titles []string
			for _, d := range Normalize(tt.raw) {
				titles = append(titles, d.Title)
			}
			assert.Equal(t, tt.want, titles)
		})
	}
}

func TestNormalize_UnknownShape(t *testing.T) {
	assert.Empty(t, Normalize(map[string]any{"data": "oops"}))
	assert.Empty(t, Normalize(map[string]any{"data": map[string]any{"code": float64(500), "msg": "x"}}))
	assert.Empty(t, Normalize(map[string]any{}))
}

func TestFirstString(t *testing.T) {
	item := map[string]any{"a": "", "b": nil, "c": float64(3), "d": "  x  "}
	assert.Equal(t, "3", firstString(item, "a", "b", "c"))
	assert.Equal(t, "x", firstString(item, "d"))
	assert.Equal(t, "", firstString(item, "missing"))
}
