package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPLLMClient_Complete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"m-1","choices":[{"message":{"role":"assistant","content":"{\"tool\":\"x\"}"}}]}`))
	}))
	defer srv.Close()

	client := NewHTTPLLMClient(srv.URL+"/v1/", "sk-test", "m-1", time.Second)
	completion, err := client.Complete(context.Background(), "hello", CompletionOptions{
		SystemMessage: "sys",
		Temperature:   0.1,
		JSONMode:      true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"tool":"x"}`, completion.Content)
	assert.Equal(t, "m-1", completion.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[1].Content)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	assert.InDelta(t, 0.1, got.Temperature, 1e-9)
}

func TestHTTPLLMClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusBadGateway, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer srv.Close()

			_, err := NewHTTPLLMClient(srv.URL, "", "m", time.Second).Complete(context.Background(), "x", CompletionOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, "nope", apiErr.Message)
		})
	}
}

func TestHTTPLLMClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewHTTPLLMClient(srv.URL, "", "m", time.Second).Complete(context.Background(), "x", CompletionOptions{})
	assert.ErrorIs(t, err, ErrEmptyReply)
}
