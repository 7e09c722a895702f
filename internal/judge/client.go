// Package judge sends the watering question to a language model behind an
// OpenAI-compatible chat completions endpoint and returns its free-text answer.
package judge

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

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/chrissnell/irrigationwx/internal/log"
)

// ErrUnavailable is returned when the judge cannot be reached or answers with
// something other than a completion
var ErrUnavailable = errors.New("judge unavailable")

const completionsPath = "/v1/chat/completions"

// Config describes the judge endpoint
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
	// SystemPrompt is sent ahead of every question when set
	SystemPrompt string
}

// Client talks to the judge. Consecutive failures open a circuit breaker so a
// dead endpoint fails fast.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[string]
	logger  *zap.SugaredLogger
}

// NewClient creates a Client. A nil httpClient uses one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.SugaredLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger = log.OrNop(logger)

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "judge",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Client{cfg: cfg, http: httpClient, breaker: cb, logger: logger}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Ask submits prompt and returns the model's answer
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	requestID := uuid.NewString()

	answer, err := c.breaker.Execute(func() (string, error) {
		return c.complete(ctx, requestID, prompt)
	})
	if err != nil {
		return "", fmt.Errorf("%w: request %s: %w", ErrUnavailable, requestID, err)
	}

	c.logger.Debugf("judge request %s answered: %q", requestID, answer)
	return answer, nil
}

func (c *Client) complete(ctx context.Context, requestID, prompt string) (string, error) {
	req := completionRequest{Model: c.cfg.Model}
	if c.cfg.SystemPrompt != "" {
		req.Messages = append(req.Messages, message{Role: "system", Content: c.cfg.SystemPrompt})
	}
	req.Messages = append(req.Messages, message{Role: "user", Content: prompt})

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("unable to encode request: %w", err)
	}

	url := strings.TrimRight(c.cfg.Endpoint, "/") + completionsPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("unable to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("unable to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("malformed response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("endpoint error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}
