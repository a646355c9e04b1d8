package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/codingofficer/internal/config"
)

// HTTPDoer allows tests to fake the HTTP transport
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client
type Options struct {
	BaseURL     string
	APIKey      string
	Temperature float64
	// MaxTokens is omitted from requests when 0
	MaxTokens int
	// RequestsPerSecond throttles all calls made through the client; 0 disables it
	RequestsPerSecond float64
	// Timeout is applied to the default HTTP client only; 0 keeps the transport default
	Timeout    time.Duration
	HTTPClient HTTPDoer
}

// OptionsFromConfig creates Options from the application configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		Temperature:       cfg.LLM.Temperature,
		MaxTokens:         cfg.LLM.MaxTokens,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Timeout:           cfg.LLM.Timeout,
	}
}

// Completion is the result of one successful chat call
type Completion struct {
	Content    string
	Raw        string
	HTTPStatus int
}

// Client issues chat-completion requests against an OpenAI compatible API.
// It makes exactly one HTTP call per invocation and never retries.
type Client struct {
	baseURL     string
	apiKey      string
	temperature float64
	maxTokens   int
	httpClient  HTTPDoer
	limiter     *rate.Limiter
}

// NewClient creates a client from opts
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		httpClient:  httpClient,
		limiter:     limiter,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *errorBody `json:"error"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error *errorBody `json:"error"`
}

// Complete waits for the rate limiter and then sends prompt. See Send.
func (c *Client) Complete(ctx context.Context, model, prompt string) (*Completion, error) {
	if err := c.Acquire(ctx); err != nil {
		return nil, err
	}
	return c.Send(ctx, model, prompt)
}

// Acquire blocks until the rate limiter allows one more request or ctx is
// done. It returns immediately when no limit is configured.
func (c *Client) Acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &APIError{Kind: KindNetwork, Message: "rate limiter: " + err.Error(), Err: err}
	}
	return nil
}

// Send makes the chat request without consulting the rate limiter. prompt
// goes out as a single user message; the assistant text is not validated and
// an empty answer is returned as is.
func (c *Client) Send(ctx context.Context, model, prompt string) (*Completion, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, &APIError{Kind: KindInvalidRequest, Message: "marshal request", Err: err}
	}

	status, body, err := c.do(ctx, http.MethodPost, "/chat/completions", payload)
	if err != nil {
		return nil, err
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &APIError{Kind: KindParseError, HTTPStatus: status, Message: "response is not valid JSON", Err: err}
	}
	if decoded.Error != nil && len(decoded.Choices) == 0 {
		return nil, &APIError{
			Kind:       kindForType(decoded.Error.Type),
			HTTPStatus: status,
			Type:       decoded.Error.Type,
			Message:    decoded.Error.Message,
		}
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == nil {
		return nil, &APIError{Kind: KindParseError, HTTPStatus: status, Message: "response has no message content"}
	}

	return &Completion{
		Content:    *decoded.Choices[0].Message.Content,
		Raw:        string(body),
		HTTPStatus: status,
	}, nil
}

// do performs one request and classifies transport and status failures
func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, &APIError{Kind: KindInvalidRequest, Message: "build request: " + err.Error(), Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &APIError{Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &APIError{Kind: KindNetwork, HTTPStatus: resp.StatusCode, Message: "read response: " + err.Error(), Err: err}
	}

	log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Int("bytes", len(body)).
		Msg("LLM API call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, body, statusError(resp.StatusCode, body)
	}
	return resp.StatusCode, body, nil
}

func statusError(status int, body []byte) *APIError {
	apiErr := &APIError{Kind: kindForStatus(status), HTTPStatus: status}

	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
	}
	if apiErr.Type == "" {
		apiErr.Type = "unknown_error"
	}
	if apiErr.Message == "" {
		apiErr.Message = truncate(strings.TrimSpace(string(body)), 200)
	}
	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("HTTP %d", status)
	}
	return apiErr
}

func truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
