// Package telegram pushes digest messages to a Telegram chat through the
// bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"trendscan/internal/faults"

	"go.uber.org/zap"
)

const (
	apiURL      = "https://api.telegram.org"
	contentType = "application/json"

	// Telegram rejects message bodies above 4096 characters.
	maxMessageRunes = 4096
)

type Client struct {
	token      string
	chatID     string
	logger     *zap.Logger
	HTTPClient *http.Client
	APIURL     string
	ParseMode  string
}

func New(token, chatID string, logger *zap.Logger) *Client {
	return &Client{
		token:  token,
		chatID: chatID,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:    logger,
		ParseMode: "Markdown",
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// SendMessage posts the text to the configured chat. Messages above the API
// limit are split on line boundaries and sent in order.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	for _, chunk := range splitMessage(text, maxMessageRunes) {
		if err := c.send(ctx, chunk); err != nil {
			return err
		}
	}

	return nil
}

func (c *Client) send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    c.chatID,
		Text:      text,
		ParseMode: c.ParseMode,
	})
	if err != nil {
		return fmt.Errorf("marshal sendMessage request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.APIURL, c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w: %w", faults.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram bad status %s: %s: %w", resp.Status, detail, faults.ErrUpstreamUnavailable)
	}

	c.logger.Debug("telegram message sent", zap.Int("length", len(text)))

	return nil
}

func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	var current []rune

	for _, line := range splitLines(text) {
		lineRunes := []rune(line)
		if len(current)+len(lineRunes)+1 > limit && len(current) > 0 {
			chunks = append(chunks, string(current))
			current = nil
		}

		// A single oversized line is split hard.
		for len(lineRunes) > limit {
			chunks = append(chunks, string(lineRunes[:limit]))
			lineRunes = lineRunes[limit:]
		}

		if len(current) > 0 {
			current = append(current, '\n')
		}
		current = append(current, lineRunes...)
	}

	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}

	return chunks
}

func splitLines(text string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, text[start:i])
			start = i + 1
		}
	}
	lines = append(lines, text[start:])
	return lines
}
