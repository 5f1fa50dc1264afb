// Package llm talks to an OpenAI-compatible chat completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

// ErrNoAPIKey is returned by every call on a client built without a key.
var ErrNoAPIKey = errors.New("openai api key is not configured")

type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	seed        int
	httpClient  *http.Client
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if raw = strings.TrimRight(strings.TrimSpace(raw), "/"); raw != "" {
			c.baseURL = raw
		}
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithSampling sets temperature, the completion token cap and the seed.
func WithSampling(temperature float64, maxTokens, seed int) Option {
	return func(c *Client) {
		c.temperature = temperature
		c.maxTokens = maxTokens
		c.seed = seed
	}
}

func WithHTTPTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		model:       DefaultModel,
		temperature: 0.1,
		maxTokens:   600,
		seed:        42,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the client has a key to call with.
func (c *Client) Enabled() bool { return c != nil && c.apiKey != "" }

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Seed           int             `json:"seed"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Chat returns the trimmed text of the first choice.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	return c.complete(ctx, chatRequest{Messages: messages})
}

// ChatJSON asks for a reply that conforms to schema and decodes it into out.
func (c *Client) ChatJSON(ctx context.Context, messages []Message, name string, schema map[string]any, out any) error {
	text, err := c.complete(ctx, chatRequest{
		Messages: messages,
		ResponseFormat: &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchemaFormat{Name: name, Schema: schema},
		},
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("decode %s reply: %w", name, err)
	}
	return nil
}

func (c *Client) complete(ctx context.Context, req chatRequest) (string, error) {
	if !c.Enabled() {
		return "", ErrNoAPIKey
	}
	req.Model = c.model
	req.Temperature = c.temperature
	req.MaxTokens = c.maxTokens
	req.Seed = c.seed

	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	endpoint, err := neturl.JoinPath(c.baseURL, "chat", "completions")
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", &APIError{Status: resp.Status, Body: strings.TrimSpace(string(body))}
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode chat completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

type APIError struct {
	Status string
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return "openai chat: " + e.Status
	}
	return fmt.Sprintf("openai chat: %s: %s", e.Status, e.Body)
}
