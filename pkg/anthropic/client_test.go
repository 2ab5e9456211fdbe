package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/persona-sim/internal/resilience"
)

func messageJSON(text string) map[string]any {
	return map[string]any{
		"id":   "msg_test_001",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":                10,
			"output_tokens":               5,
			"cache_creation_input_tokens": 1200,
			"cache_read_input_tokens":     0,
		},
	}
}

func TestCreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "trace-1", r.Header.Get("X-Trace"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-sonnet-4-5-20250929", body["model"])
		assert.InDelta(t, 4096, body["max_tokens"], 1e-9)
		assert.InDelta(t, 0.5, body["temperature"], 1e-9)

		system, ok := body["system"].([]any)
		require.True(t, ok)
		require.Len(t, system, 1)
		assert.Contains(t, system[0].(map[string]any), "cache_control")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageJSON(`{"ok":true}`)) //nolint:errcheck
	}))
	defer ts.Close()

	temp := 0.5
	client := NewClient("test-key",
		WithBaseURL(ts.URL+"/v1/messages"),
		WithHeaders(map[string]string{"X-Trace": "trace-1"}),
	)
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:       "claude-sonnet-4-5-20250929",
		System:      CachedSystemBlocks("You are a persona"),
		Messages:    []Message{{Role: "user", Content: "Hello"}},
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, `{"ok":true}`, resp.Text())
	assert.Equal(t, int64(1200), resp.Usage.CacheCreationInputTokens)
}

func TestCreateMessage_StatusError(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
					"type":  "error",
					"error": map[string]any{"type": "api_error", "message": "boom"},
				})
			}))
			defer ts.Close()

			_, err := NewClient("k", WithBaseURL(ts.URL)).CreateMessage(context.Background(), MessageRequest{
				Model:    "claude-haiku-4-5",
				Messages: []Message{{Role: "user", Content: "x"}},
			})
			require.Error(t, err)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestStreamMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		write := func(event, data string) {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		}
		write("message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-haiku-4-5","stop_reason":null,"usage":{"input_tokens":3,"output_tokens":0}}}`)
		write("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)
		write("ping", `{"type":"ping"}`)
		write("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`)
		write("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`)
		write("content_block_stop", `{"type":"content_block_stop","index":0}`)
		write("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`)
		write("message_stop", `{"type":"message_stop"}`)
	}))
	defer ts.Close()

	ch, err := NewClient("k", WithBaseURL(ts.URL)).StreamMessage(context.Background(), MessageRequest{
		Model:    "claude-haiku-4-5",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	var text string
	var done bool
	for ev := range ch {
		require.NoError(t, ev.Err)
		text += ev.Content
		done = done || ev.Done
	}
	assert.Equal(t, "Hello", text)
	assert.True(t, done)
}

func TestCachedSystemBlocks(t *testing.T) {
	blocks := CachedSystemBlocks("first", "  ", "second")
	require.Len(t, blocks, 2)
	assert.Nil(t, blocks[0].CacheControl)
	require.NotNil(t, blocks[1].CacheControl)
	assert.Equal(t, "5m", blocks[1].CacheControl.TTL)

	assert.Empty(t, CachedSystemBlocks())
}

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "a"},
		{Role: "tool", Content: "t"},
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Equal(t, "user", string(msgs[2].Role))
}

func TestEstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 18.0, u.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
	assert.InDelta(t, 6.0, u.EstimateCost("claude-haiku-4-5"), 1e-9)
	assert.Zero(t, u.EstimateCost("gpt-4o"))

	cached := TokenUsage{CacheCreationInputTokens: 1_000_000, CacheReadInputTokens: 1_000_000}
	assert.InDelta(t, 3.0*1.25+3.0*0.1, cached.EstimateCost("claude-sonnet-4-5"), 1e-9)
}

func TestMessageResponse_TextSkipsNonText(t *testing.T) {
	r := &MessageResponse{Content: []ContentBlock{
		{Type: "thinking", Text: "hmm"},
		{Type: "text", Text: "a"},
		{Type: "text", Text: "b"},
	}}
	assert.Equal(t, "ab", r.Text())
}
