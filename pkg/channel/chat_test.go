package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "courier/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatClientSendText(t *testing.T) {
	var got chatSendRequest
	var gotPath, gotAPIKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-Api-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(chatSendResponse{MessageID: "true_123@c.us_ABC"})
	}))
	defer server.Close()

	client := NewChatClient(server.URL, "test-key", "default", 5*time.Second)
	externalID, err := client.Send(context.Background(),
		Destination{Phone: "5511999990000"},
		Message{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "true_123@c.us_ABC", externalID)
	assert.Equal(t, "/api/sendText", gotPath)
	assert.Equal(t, "test-key", gotAPIKey)
	assert.Equal(t, "5511999990000@c.us", got.ChatID)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "default", got.Session)
}

func TestChatClientSendFile(t *testing.T) {
	var got chatSendRequest
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(chatSendResponse{ID: "file-msg-1"})
	}))
	defer server.Close()

	client := NewChatClient(server.URL, "", "default", 5*time.Second)
	externalID, err := client.Send(context.Background(),
		Destination{ChatID: "group@g.us"},
		Message{Content: "see attachment", MediaURL: "https://cdn.example.com/a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "file-msg-1", externalID)
	assert.Equal(t, "/api/sendFile", gotPath)
	assert.Equal(t, "group@g.us", got.ChatID)
	assert.Equal(t, "https://cdn.example.com/a.pdf", got.FileURL)
	assert.Equal(t, "see attachment", got.Caption)
	assert.Empty(t, got.Text)
}

func TestChatClientGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(chatSendResponse{Error: "session not started"})
	}))
	defer server.Close()

	client := NewChatClient(server.URL, "", "default", 5*time.Second)
	_, err := client.Send(context.Background(), Destination{Phone: "5511999990000"}, Message{Content: "hi"})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "session not started")
}

func TestChatClientClientErrorNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(chatSendResponse{Error: "invalid chat id"})
	}))
	defer server.Close()

	client := NewChatClient(server.URL, "", "default", 5*time.Second)
	_, err := client.Send(context.Background(), Destination{Phone: "5511999990000"}, Message{Content: "hi"})
	require.Error(t, err)
	assert.False(t, apperrors.IsRetryable(err))
}

func TestChatClientConnectionRefusedRetryable(t *testing.T) {
	client := NewChatClient("http://127.0.0.1:1", "", "default", time.Second)
	_, err := client.Send(context.Background(), Destination{Phone: "5511999990000"}, Message{Content: "hi"})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestChatClientRequiresDestination(t *testing.T) {
	client := NewChatClient("http://waha:3000", "", "default", time.Second)
	_, err := client.Send(context.Background(), Destination{Email: "x@example.com"}, Message{Content: "hi"})
	assert.Error(t, err)
}
