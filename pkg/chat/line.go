// Package chat implements the origin-channel collaborators against a
// LINE-style Messaging API: push-text notification and message content
// retrieval.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LineConfig holds configuration for the channel client.
type LineConfig struct {
	ChannelToken string
	// APIBaseURL overrides the messaging endpoint, used in tests.
	APIBaseURL string
	// ContentBaseURL overrides the content endpoint, used in tests.
	ContentBaseURL string
	HTTPClient     *http.Client
}

// LineClient talks to the chat platform. It satisfies both the publish
// coordinator's Notifier and the media store's ContentSource.
type LineClient struct {
	token      string
	apiBase    string
	dataBase   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewLineClient creates a channel client.
func NewLineClient(cfg LineConfig, logger zerolog.Logger) (*LineClient, error) {
	if cfg.ChannelToken == "" {
		return nil, fmt.Errorf("channel access token is required")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.line.me"
	}
	if cfg.ContentBaseURL == "" {
		cfg.ContentBaseURL = "https://api-data.line.me"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &LineClient{
		token:      cfg.ChannelToken,
		apiBase:    strings.TrimRight(cfg.APIBaseURL, "/"),
		dataBase:   strings.TrimRight(cfg.ContentBaseURL, "/"),
		httpClient: cfg.HTTPClient,
		logger:     logger.With().Str("component", "LineClient").Logger(),
	}, nil
}

// Notify pushes a text message to the user identified by key.
func (c *LineClient) Notify(ctx context.Context, key, message string) error {
	payload, err := json.Marshal(map[string]any{
		"to": key,
		"messages": []map[string]string{
			{"type": "text", "text": message},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to encode push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v2/bot/message/push", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push endpoint returned status %d: %s", resp.StatusCode, string(body))
	}
	c.logger.Debug().Str("key", key).Msg("Notification pushed.")
	return nil
}

// Fetch retrieves the binary content of a message by its id.
func (c *LineClient) Fetch(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	url := fmt.Sprintf("%s/v2/bot/message/%s/content", c.dataBase, ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build content request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("content request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, "", fmt.Errorf("content endpoint returned status %d: %s", resp.StatusCode, string(body))
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}
