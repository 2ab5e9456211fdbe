// Package jsonx extracts JSON values from model output that may be wrapped
// in markdown fences or surrounded by prose.
//
// Extraction tries, in order: the first fenced block, the span from the first
// opening brace (or bracket) to the last closing one, and the raw text.
package jsonx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNoJSON is returned when no extraction tier yields valid JSON of the
// requested shape.
var ErrNoJSON = eris.New("jsonx: no valid json found")

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?(.*?)```")

// Fenced returns the contents of the first markdown code fence in text, or
// "" when there is none.
func Fenced(text string) string {
	m := fenceRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// StripFence returns the fenced contents when text carries a code fence and
// the trimmed text otherwise.
func StripFence(text string) string {
	if f := Fenced(text); f != "" {
		return f
	}
	return strings.TrimSpace(text)
}

func span(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// candidates lists the extraction tiers for text, skipping empty ones.
func candidates(text string, delims ...[2]byte) []string {
	out := make([]string, 0, len(delims)+2)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		for _, c := range out {
			if c == s {
				return
			}
		}
		out = append(out, s)
	}

	add(Fenced(text))
	for _, d := range delims {
		add(span(text, d[0], d[1]))
	}
	add(text)
	return out
}

var (
	braces   = [2]byte{'{', '}'}
	brackets = [2]byte{'[', ']'}
)

// Decode unmarshals the first valid JSON candidate found in text into v.
func Decode(text string, v any) error {
	for _, c := range candidates(text, braces, brackets) {
		if !json.Valid([]byte(c)) {
			continue
		}
		if err := json.Unmarshal([]byte(c), v); err == nil {
			return nil
		}
	}
	return ErrNoJSON
}

// Object extracts a JSON object from text.
func Object(text string) (map[string]any, error) {
	for _, c := range candidates(text, braces) {
		var m map[string]any
		if err := json.Unmarshal([]byte(c), &m); err == nil && m != nil {
			return m, nil
		}
	}
	return nil, ErrNoJSON
}

// Array extracts a JSON array from text. An object holding exactly one array
// value (`{"personas": [...]}`) yields that array; any other object is
// returned as a one-element array.
func Array(text string) ([]any, error) {
	for _, c := range candidates(text, brackets, braces) {
		var v any
		if err := json.Unmarshal([]byte(c), &v); err != nil {
			continue
		}
		switch t := v.(type) {
		case []any:
			return t, nil
		case map[string]any:
			if arr, ok := singleArray(t); ok {
				return arr, nil
			}
			return []any{t}, nil
		}
	}
	return nil, ErrNoJSON
}

func singleArray(m map[string]any) ([]any, bool) {
	var found []any
	n := 0
	for _, v := range m {
		if arr, ok := v.([]any); ok {
			found = arr
			n++
		}
	}
	return found, n == 1
}

// ObjectOr returns the extracted object, or def when extraction fails.
func ObjectOr(text string, def map[string]any) map[string]any {
	m, err := Object(text)
	if err != nil {
		return def
	}
	return m
}

// ArrayOr returns the extracted array, or def when extraction fails.
func ArrayOr(text string, def []any) []any {
	a, err := Array(text)
	if err != nil {
		return def
	}
	return a
}

// Objects returns the object elements of an extracted array, skipping any
// element that is not an object.
func Objects(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// Pretty renders v as two-space indented JSON without HTML escaping, for
// embedding in prompts. Values that cannot be encoded fall back to %v.
func Pretty(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}
