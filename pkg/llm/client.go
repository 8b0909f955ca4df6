// Package llm is a minimal chat-completion client.
package llm

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

	"github.com/hervehildenbrand/bgp-explain/pkg/logging"
	"go.uber.org/zap"
)

// Roles
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// DefaultModel is the backbone model.
const DefaultModel = "gpt-4o"

// ErrNoChoices is returned when the API answers without completions.
var ErrNoChoices = errors.New("llm response missing choices")

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MakeMessages builds the input for one prompt: the system prompt first
// when present, then the user prompt.
func MakeMessages(userPrompt, systemPrompt string) []Message {
	if systemPrompt == "" {
		return []Message{{Role: RoleUser, Content: userPrompt}}
	}
	return []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: userPrompt},
	}
}

// Client returns n completions for a conversation.
type Client interface {
	Chat(ctx context.Context, messages []Message, n int) ([]string, error)
}

// Config configures an OpenAIClient.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature *float64
	MaxRetries  int
	RetryDelay  time.Duration
}

// OpenAIClient talks to an OpenAI-compatible /chat/completions endpoint.
type OpenAIClient struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenAIClient creates a client. An empty API key is an error.
func NewOpenAIClient(config Config, logger *zap.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("missing OpenAI API key")
	}
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	return &OpenAIClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logging.OrNop(logger).Named("llm"),
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.config.Model
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	N           int       `json:"n,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends the conversation and returns n responses.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, n int) ([]string, error) {
	if n <= 0 {
		n = 1
	}
	raw, err := json.Marshal(chatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		N:           n,
		Temperature: c.config.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	startTime := time.Now()

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(1<<uint(attempt-1))):
			}
		}

		out, retry, err := c.do(ctx, url, raw, n)
		if err == nil {
			c.logger.Debug("chat completed",
				zap.String("model", c.config.Model),
				zap.Int("choices", len(out)),
				zap.Duration("elapsed", time.Since(startTime)))
			return out, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
		c.logger.Warn("chat failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *OpenAIClient) do(ctx context.Context, url string, body []byte, n int) ([]string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respRaw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("openai http %d: %s", resp.StatusCode, string(respRaw))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("openai http %d: %s", resp.StatusCode, string(respRaw))
	}

	var decoded chatResponse
	if err := json.Unmarshal(respRaw, &decoded); err != nil {
		return nil, false, fmt.Errorf("unmarshal response: %w", err)
	}
	if decoded.Error != nil {
		return nil, false, fmt.Errorf("openai error: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) < n {
		if len(decoded.Choices) == 0 {
			return nil, false, ErrNoChoices
		}
		return nil, false, fmt.Errorf("%w: wanted %d, got %d", ErrNoChoices, n, len(decoded.Choices))
	}

	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = decoded.Choices[i].Message.Content
	}
	return out, false, nil
}
