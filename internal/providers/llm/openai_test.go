package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteParsesUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "Hot flashes often ease with consistent sleep."}}],
			"usage": {"total_tokens": 137}
		}`))
	}))
	defer server.Close()

	provider := NewOpenAI(Config{BaseURL: server.URL, APIKey: "test-key", Model: "gpt-4o-mini"})
	completion, err := provider.Complete(context.Background(), []Message{
		{Role: "user", Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hot flashes often ease with consistent sleep.", completion.Text)
	assert.Equal(t, int64(137), completion.TotalTokens)
}

func TestCompleteRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	provider := NewOpenAI(Config{BaseURL: server.URL, APIKey: "test-key"})
	_, err := provider.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestCompleteRejectsMissingUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "hi"}}]}`))
	}))
	defer server.Close()

	provider := NewOpenAI(Config{BaseURL: server.URL, APIKey: "test-key"})
	_, err := provider.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
}
