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

func TestTelegramClientSendMessage(t *testing.T) {
	var gotPath string
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		resp := telegramResponse{OK: true}
		resp.Result.MessageID = 4711
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewTelegramClient("123:abc", server.URL, 5*time.Second)
	externalID, err := client.Send(context.Background(), Destination{ChatID: "987654"}, Message{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "4711", externalID)
	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, "987654", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
}

func TestTelegramClientSendDocument(t *testing.T) {
	var gotPath string
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		resp := telegramResponse{OK: true}
		resp.Result.MessageID = 4712
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewTelegramClient("123:abc", server.URL, 5*time.Second)
	_, err := client.Send(context.Background(), Destination{ChatID: "987654"},
		Message{Content: "report attached", MediaURL: "https://cdn.example.com/report.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "/bot123:abc/sendDocument", gotPath)
	assert.Equal(t, "https://cdn.example.com/report.pdf", got["document"])
	assert.Equal(t, "report attached", got["caption"])
	assert.NotContains(t, got, "text")
}

func TestTelegramClientBotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(telegramResponse{OK: false, Description: "chat not found"})
	}))
	defer server.Close()

	client := NewTelegramClient("123:abc", server.URL, 5*time.Second)
	_, err := client.Send(context.Background(), Destination{ChatID: "987654"}, Message{Content: "hi"})
	require.Error(t, err)
	assert.False(t, apperrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramClientThrottled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(telegramResponse{OK: false, Description: "Too Many Requests"})
	}))
	defer server.Close()

	client := NewTelegramClient("123:abc", server.URL, 5*time.Second)
	_, err := client.Send(context.Background(), Destination{ChatID: "987654"}, Message{Content: "hi"})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestTelegramClientRequiresChatID(t *testing.T) {
	client := NewTelegramClient("123:abc", "", time.Second)
	_, err := client.Send(context.Background(), Destination{Phone: "5511999990000"}, Message{Content: "hi"})
	assert.Error(t, err)
}
