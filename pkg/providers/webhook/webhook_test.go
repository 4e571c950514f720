package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/nurture/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Post(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer server.Close()

	client := NewClient(time.Second, slog.Default())

	resp, err := client.Post(t.Context(), server.URL+"/hooks", map[string]string{"X-Token": "secret"}, map[string]any{
		"contact": map[string]any{"email": "ada@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"accepted": true}, resp.Body)
	assert.Equal(t, map[string]any{"email": "ada@example.com"}, received["contact"])
}

func TestClient_PostClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   retry.Kind
		code   string
	}{
		{"server error is transient", http.StatusBadGateway, retry.KindTransient, retry.CodeWebhookStatus},
		{"rate limit is transient", http.StatusTooManyRequests, retry.KindTransient, retry.CodeWebhookRateLimited},
		{"client error is permanent", http.StatusUnprocessableEntity, retry.KindPermanent, retry.CodeWebhookStatus},
		{"not found is permanent", http.StatusNotFound, retry.KindPermanent, retry.CodeWebhookStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := NewClient(time.Second, slog.Default()).Post(t.Context(), server.URL, nil, map[string]any{})
			require.Error(t, err)

			nodeErr := retry.Classify(err)
			assert.Equal(t, tt.kind, nodeErr.Kind)
			assert.Equal(t, tt.code, nodeErr.Code)
			assert.ErrorIs(t, err, ErrUnexpectedStatus)
		})
	}
}

func TestClient_PostTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	_, err := NewClient(50*time.Millisecond, slog.Default()).Post(t.Context(), server.URL, nil, map[string]any{})
	require.Error(t, err)

	nodeErr := retry.Classify(err)
	assert.Equal(t, retry.KindTransient, nodeErr.Kind)
	assert.Equal(t, retry.CodeWebhookTimeout, nodeErr.Code)
}

func TestClient_PostMalformedURL(t *testing.T) {
	client := NewClient(time.Second, slog.Default())

	for _, target := range []string{"", "not a url", "ftp://example.com/hook", "http://"} {
		_, err := client.Post(t.Context(), target, nil, map[string]any{})
		require.Error(t, err, target)

		nodeErr := retry.Classify(err)
		assert.Equal(t, retry.KindPermanent, nodeErr.Kind, target)
		assert.Equal(t, retry.CodeMalformedURL, nodeErr.Code, target)
	}
}

func TestClient_PostPlainTextResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	}))
	defer server.Close()

	resp, err := NewClient(time.Second, slog.Default()).Post(t.Context(), server.URL, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", resp.Body)
}
