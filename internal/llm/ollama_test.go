package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.2", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		_ = json.NewEncoder(w).Encode(chatResponse{Message: Message{Role: "assistant", Content: "echo: " + req.Messages[1].Content}})
	}))
	defer srv.Close()

	c := NewOllamaChat(srv.URL, "llama3.2", 0)
	out, err := c.Generate(context.Background(), []Message{{Role: "system", Content: "s"}, {Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)
}

func TestGenerateError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaChat(srv.URL, "missing", 0).Generate(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "model not found")
}
