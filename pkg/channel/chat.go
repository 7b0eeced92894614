package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "courier/internal/errors"
)

// ChatClient talks to a WAHA-style WhatsApp HTTP gateway.
type ChatClient struct {
	baseURL string
	apiKey  string
	session string
	client  *http.Client
}

type chatSendRequest struct {
	ChatID  string `json:"chatId"`
	Text    string `json:"text,omitempty"`
	FileURL string `json:"fileUrl,omitempty"`
	Caption string `json:"caption,omitempty"`
	Session string `json:"session"`
}

type chatSendResponse struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func NewChatClient(baseURL, apiKey, session string, timeout time.Duration) *ChatClient {
	return &ChatClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		session: session,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *ChatClient) Send(ctx context.Context, dest Destination, msg Message) (string, error) {
	if dest.Phone == "" && dest.ChatID == "" {
		return "", apperrors.NewValidationError("destination", "chat delivery requires a phone or chat id")
	}

	chatID := dest.ChatID
	if chatID == "" {
		chatID = dest.Phone + "@c.us"
	}

	endpoint := "/api/sendText"
	payload := chatSendRequest{
		ChatID:  chatID,
		Text:    msg.Content,
		Session: c.session,
	}
	if msg.MediaURL != "" {
		endpoint = "/api/sendFile"
		payload.Text = ""
		payload.FileURL = msg.MediaURL
		payload.Caption = msg.Content
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperrors.NewChannelError("chat", 0, err)
	}
	defer resp.Body.Close()

	var result chatSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", apperrors.NewChannelError("chat", resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", apperrors.NewChannelError("chat", resp.StatusCode,
			fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, result.Error))
	}

	externalID := result.MessageID
	if externalID == "" {
		externalID = result.ID
	}
	return externalID, nil
}
