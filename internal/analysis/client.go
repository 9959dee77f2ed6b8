package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const completionsPath = "/chat/completions"

// ClientOptions parameterise the chat-completions client.
type ClientOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	MaxTokens int
}

// Client talks to an OpenAI-compatible chat-completions endpoint. Both
// analysis tiers share one client and differ only in model and prompt.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a chat-completions client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "analysis_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one system+user exchange to the given model and returns the
// assistant text.
func (c *Client) Complete(ctx context.Context, model, system, user string) (string, error) {
	if c.baseURL == "" {
		return "", errors.New("analysis base url not configured")
	}
	if model == "" {
		return "", errors.New("analysis model not configured")
	}

	reqPayload := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: c.opts.MaxTokens,
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + completionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", parseAPIError(resp.StatusCode, payload)
	}

	var chat chatResponse
	if err := json.Unmarshal(payload, &chat); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if chat.Error != nil {
		return "", fmt.Errorf("analysis api error: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return "", errors.New("analysis returned no choices")
	}

	content := strings.TrimSpace(chat.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("analysis returned empty content")
	}
	return content, nil
}

func parseAPIError(status int, payload []byte) error {
	var apiErr chatResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Error != nil && apiErr.Error.Message != "" {
		return fmt.Errorf("analysis api error (%d): %s", status, apiErr.Error.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("analysis api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("analysis api error (%d)", status)
}
