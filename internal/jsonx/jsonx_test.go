package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObject_Tiers(t *testing.T) {
	tests := []struct {
		name string
		text string
		want any
	}{
		{"raw", `{"a":1}`, float64(1)},
		{"json fence", "```json\n{\"a\":2}\n```", float64(2)},
		{"bare fence", "```\n{\"a\":3}\n```", float64(3)},
		{"fence with prose", "Here you go:\n```json\n{\"a\":4}\n```\nHope it helps.", float64(4)},
		{"brace scan", `Sure! {"a":5} Let me know.`, float64(5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Object(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m["a"])
		})
	}
}

func TestObject_Failures(t *testing.T) {
	for _, text := range []string{"", "no json here", `[1,2,3]`, "```json\n{broken\n```", "null"} {
		_, err := Object(text)
		assert.ErrorIs(t, err, ErrNoJSON, text)
	}
}

func TestObject_FenceInvalidFallsBackToBraceScan(t *testing.T) {
	text := "```\nnot json\n```\n{\"ok\":true}"
	m, err := Object(text)
	require.NoError(t, err)
	assert.Equal(t, true, m["ok"])
}

func TestArray(t *testing.T) {
	arr, err := Array(`[{"persona_description":"a"},{"persona_description":"b"}]`)
	require.NoError(t, err)
	assert.Len(t, arr, 2)

	arr, err = Array("```json\n{\"personas\": [{\"x\":1}, {\"x\":2}, {\"x\":3}]}\n```")
	require.NoError(t, err)
	assert.Len(t, arr, 3)

	arr, err = Array(`{"persona_description":"single"}`)
	require.NoError(t, err)
	require.Len(t, arr, 1)
	assert.Equal(t, "single", arr[0].(map[string]any)["persona_description"])

	arr, err = Array(`{"a":[1],"b":[2]}`)
	require.NoError(t, err)
	assert.Len(t, arr, 1)

	arr, err = Array(`The personas are: [{"x":1}] as requested`)
	require.NoError(t, err)
	assert.Len(t, arr, 1)

	_, err = Array("nothing")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestDecode(t *testing.T) {
	var out struct {
		ShouldSearch bool     `json:"should_search"`
		Queries      []string `json:"queries"`
	}
	require.NoError(t, Decode("```json\n{\"should_search\":true,\"queries\":[\"x\"]}\n```", &out))
	assert.True(t, out.ShouldSearch)
	assert.Equal(t, []string{"x"}, out.Queries)

	assert.ErrorIs(t, Decode("nope", &out), ErrNoJSON)
}

func TestOrDefaults(t *testing.T) {
	def := map[string]any{"d": true}
	assert.Equal(t, def, ObjectOr("garbage", def))
	assert.Equal(t, float64(1), ObjectOr(`{"v":1}`, def)["v"])

	assert.Equal(t, []any{}, ArrayOr("garbage", []any{}))
	assert.Len(t, ArrayOr(`[1,2]`, nil), 2)
}

func TestStripFenceAndObjects(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, "plain", StripFence("  plain \n"))
	assert.Empty(t, Fenced("no fence"))

	objs := Objects([]any{map[string]any{"a": 1}, "str", 3, map[string]any{"b": 2}})
	assert.Len(t, objs, 2)
}

func TestPretty(t *testing.T) {
	assert.Equal(t, "{\n  \"a\": \"<b>\"\n}", Pretty(map[string]any{"a": "<b>"}))
	assert.Equal(t, "[]", Pretty([]string{}))
	assert.NotEmpty(t, Pretty(map[string]any{"c": make(chan int)}))
}
