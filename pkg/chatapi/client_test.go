package chatapi

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

func collect(t *testing.T, ch <-chan StreamEvent) (string, []error, bool) {
	t.Helper()
	var text string
	var errs []error
	done := false
	for ev := range ch {
		switch {
		case ev.Err != nil:
			errs = append(errs, ev.Err)
		case ev.Done:
			done = true
		default:
			text += ev.Content
		}
	}
	return text, errs, done
}

func TestComplete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sk-1", r.Header.Get("Authorization"))
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))

		var body Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "deepseek-chat", body.Model)
		assert.False(t, body.Stream)
		assert.Equal(t, 4096, body.MaxTokens)
		require.NotNil(t, body.ResponseFormat)
		assert.Equal(t, "json_object", body.ResponseFormat.Type)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}],"usage":{"total_tokens":12}}`))
	}))
	defer srv.Close()

	c := NewClient()
	resp, err := c.Complete(context.Background(),
		Endpoint{URL: srv.URL, Key: "sk-1", Headers: map[string]string{"X-Extra": "yes"}},
		Request{
			Model:          "deepseek-chat",
			Messages:       []Message{{Role: "user", Content: "hi"}},
			MaxTokens:      4096,
			Temperature:    0.7,
			ResponseFormat: JSONObject,
		})
	require.NoError(t, err)

	content, err := resp.Content()
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, content)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestComplete_HeaderOverridesAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer custom", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"x"}}]}`))
	}))
	defer srv.Close()

	_, err := NewClient().Complete(context.Background(),
		Endpoint{URL: srv.URL, Key: "sk-1", Headers: map[string]string{"Authorization": "Bearer custom"}},
		Request{Model: "m"})
	require.NoError(t, err)
}

func TestComplete_NonOKStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer srv.Close()

			_, err := NewClient().Complete(context.Background(), Endpoint{URL: srv.URL}, Request{Model: "m"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), fmt.Sprintf("status %d", tt.status))
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"quota"}}`))
	}))
	defer srv.Close()

	_, err := NewClient().Complete(context.Background(), Endpoint{URL: srv.URL}, Request{Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestComplete_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	}))
	defer srv.Close()

	_, err := NewClient().Complete(context.Background(), Endpoint{URL: srv.URL}, Request{Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal response")
}

func TestComplete_GBKCharset(t *testing.T) {
	// "好" in GBK is 0xBA 0xC3.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=gbk")
		_, _ = w.Write(append(append([]byte(`{"choices":[{"message":{"content":"`), 0xBA, 0xC3), []byte(`"}}]}`)...))
	}))
	defer srv.Close()

	resp, err := NewClient().Complete(context.Background(), Endpoint{URL: srv.URL}, Request{Model: "m"})
	require.NoError(t, err)
	content, err := resp.Content()
	require.NoError(t, err)
	assert.Equal(t, "好", content)
}

func TestStream_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data:{\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n")
	}))
	defer srv.Close()

	ch, err := NewClient().Stream(context.Background(), Endpoint{URL: srv.URL}, Request{Model: "m"})
	require.NoError(t, err)

	text, errs, done := collect(t, ch)
	assert.Equal(t, "Hello", text)
	assert.Empty(t, errs)
	assert.True(t, done)
}

func TestStream_EOFWithoutDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}")
	}))
	defer srv.Close()

	ch, err := NewClient().Stream(context.Background(), Endpoint{URL: srv.URL}, Request{Model: "m"})
	require.NoError(t, err)

	text, errs, done := collect(t, ch)
	assert.Equal(t, "partial", text)
	assert.Empty(t, errs)
	assert.True(t, done)
}

func TestStream_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ch, err := NewClient().Stream(context.Background(), Endpoint{URL: srv.URL}, Request{Model: "m"})
	require.Error(t, err)
	assert.Nil(t, ch)
	assert.True(t, resilience.IsTransient(err))
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		content string
		done    bool
		ok      bool
	}{
		{"content", `data: {"choices":[{"delta":{"content":"a"}}]}`, "a", false, true},
		{"no space", `data:{"choices":[{"delta":{"content":"b"}}]}`, "b", false, true},
		{"empty delta", `data: {"choices":[{"delta":{}}]}`, "", false, false},
		{"no choices", `data: {"choices":[]}`, "", false, false},
		{"done", "data: [DONE]", "", true, false},
		{"comment", ": ping", "", false, false},
		{"event line", "event: message", "", false, false},
		{"bad json", "data: {", "", false, false},
		{"blank", "", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, done, ok := parseLine([]byte(tt.line + "\n"))
			assert.Equal(t, tt.content, content)
			assert.Equal(t, tt.done, done)
			assert.Equal(t, tt.ok, ok)
		})
	}

	_, _, ok := parseLine([]byte{'d', 'a', 't', 'a', ':', ' ', 0xff, 0xfe})
	assert.False(t, ok)
}

func TestResponseContent_Nil(t *testing.T) {
	var r *Response
	_, err := r.Content()
	assert.Error(t, err)
}
