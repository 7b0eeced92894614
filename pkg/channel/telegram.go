package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	apperrors "courier/internal/errors"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramClient sends messages through the Telegram bot API.
type TelegramClient struct {
	baseURL  string
	botToken string
	client   *http.Client
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func NewTelegramClient(botToken, baseURL string, timeout time.Duration) *TelegramClient {
	if baseURL == "" {
		baseURL = defaultTelegramAPI
	}
	return &TelegramClient{
		baseURL:  baseURL,
		botToken: botToken,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *TelegramClient) Send(ctx context.Context, dest Destination, msg Message) (string, error) {
	if dest.ChatID == "" {
		return "", apperrors.NewValidationError("destination", "telegram delivery requires a chat id")
	}

	method := "sendMessage"
	payload := map[string]interface{}{
		"chat_id": dest.ChatID,
		"text":    msg.Content,
	}
	if msg.MediaURL != "" {
		method = "sendDocument"
		delete(payload, "text")
		payload["document"] = msg.MediaURL
		payload["caption"] = msg.Content
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperrors.NewChannelError("telegram", 0, err)
	}
	defer resp.Body.Close()

	var result telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", apperrors.NewChannelError("telegram", resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}

	if !result.OK {
		return "", apperrors.NewChannelError("telegram", resp.StatusCode,
			fmt.Errorf("bot api returned status %d: %s", resp.StatusCode, result.Description))
	}

	return strconv.FormatInt(result.Result.MessageID, 10), nil
}
