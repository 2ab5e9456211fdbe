package bocha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/persona-sim/internal/resilience"
)

func TestSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "noise cancelling earbuds", body.Query)
		assert.Equal(t, 5, body.Count)
		assert.Equal(t, "noLimit", body.Freshness)
		assert.True(t, body.Summary)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"data":{"webPages":{"value":[{"name":"Review","url":"https://a.example"}]}}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithEndpoint(srv.URL), WithRateLimit(0))
	out, err := client.Search(context.Background(), Request{
		Query: "noise cancelling earbuds", Count: 5, Freshness: "noLimit", Summary: true,
	})
	require.NoError(t, err)

	meta, ok := out["_meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "noise cancelling earbuds", meta["query"])
	assert.Equal(t, 200, meta["status"])

	data, ok := out["data"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 200, data["code"], 1e-9)
}

func TestSearch_MissingKey(t *testing.T) {
	_, err := NewClient("").Search(context.Background(), Request{Query: "q"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMissingKey))
}

func TestSearch_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("busy"))
	}))
	defer srv.Close()

	_, err := NewClient("k", WithEndpoint(srv.URL), WithRateLimit(0)).Search(context.Background(), Request{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.True(t, resilience.IsTransient(err))
}

func TestSearch_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := NewClient("k", WithEndpoint(srv.URL)).Search(context.Background(), Request{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestSearch_RateLimitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithEndpoint(srv.URL), WithRateLimit(0.001))
	_, err := client.Search(context.Background(), Request{Query: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Search(ctx, Request{Query: "second"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}
