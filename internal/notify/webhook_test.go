package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/persona-sim/internal/config"
)

func TestSkip(t *testing.T) {
	assert.True(t, Skip(""))
	assert.True(t, Skip(InlineRecipient))
	assert.False(t, Skip("owner@example.com"))
}

func TestWebhook_Notify(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(config.NotifyConfig{WebhookURL: srv.URL})
	err := w.Notify(context.Background(), "owner@example.com", "t1", "exports/t1_report.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, "owner@example.com", got.Recipient)
	assert.Equal(t, "exports/t1_report.xlsx", got.ReportPath)
}

func TestWebhook_SkipsInline(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls.Add(1) }))
	defer srv.Close()

	w := NewWebhook(config.NotifyConfig{WebhookURL: srv.URL})
	require.NoError(t, w.Notify(context.Background(), InlineRecipient, "t1", "r"))
	require.NoError(t, w.Notify(context.Background(), "", "t1", "r"))
	assert.Zero(t, calls.Load())
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(config.NotifyConfig{WebhookURL: srv.URL})
	err := w.Notify(context.Background(), "owner@example.com", "t1", "r")
	assert.ErrorContains(t, err, "status 502")
}

func TestWebhook_LogOnly(t *testing.T) {
	w := NewWebhook(config.NotifyConfig{})
	assert.NoError(t, w.Notify(context.Background(), "owner@example.com", "t1", "r"))
}
