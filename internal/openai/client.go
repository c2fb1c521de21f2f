// Package openai is a thin client for the OpenAI chat completions API.
// Failures are mapped onto the upstream taxonomy: transport errors, timeouts
// and 5xx responses are ErrUnavailable; 4xx refusals are ErrRejected; an
// undecodable envelope or one with no choices is ErrMalformed. The client
// never retries; retry policy belongs to the recommender.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/marquee/internal/upstream"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client

	mu    sync.RWMutex
	model string
}

func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// SetTestTransport points the client at a test server.
func (c *Client) SetTestTransport(url string) {
	c.baseURL = url
}

// SetTimeout overrides the bounded call duration.
func (c *Client) SetTimeout(d time.Duration) {
	c.client.Timeout = d
}

// Model returns the model currently used for completions.
func (c *Client) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// SetModel switches the completion model at runtime.
func (c *Client) SetModel(model string) {
	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type response struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the rendered prompt to the chat completions API and returns
// the assistant text. The system instruction is prepended as the first
// message.
func (c *Client) Complete(ctx context.Context, system string, messages []Message, maxTokens int) (string, error) {
	all := make([]Message, 0, len(messages)+1)
	if system != "" {
		all = append(all, Message{Role: "system", Content: system})
	}
	all = append(all, messages...)

	reqBody := request{
		Model:     c.Model(),
		Messages:  all,
		MaxTokens: maxTokens,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return "", err
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %v: %w", err, upstream.ErrMalformed)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("empty choices: %w", upstream.ErrMalformed)
	}

	return apiResp.Choices[0].Message.Content, nil
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels returns the GPT model identifiers available to the configured key.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var apiResp modelsResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal models: %v: %w", err, upstream.ErrMalformed)
	}

	var models []string
	for _, m := range apiResp.Data {
		if strings.HasPrefix(m.ID, "gpt") {
			models = append(models, m.ID)
		}
	}
	return models, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %v: %w", err, upstream.ErrUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %v: %w", err, upstream.ErrUnavailable)
	}

	if resp.StatusCode != http.StatusOK {
		kind := upstream.ErrRejected
		if resp.StatusCode >= 500 {
			kind = upstream.ErrUnavailable
		}
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("api error %d: %s — %s: %w", resp.StatusCode, errResp.Error.Type, errResp.Error.Message, kind)
		}
		return nil, fmt.Errorf("api error %d: %w", resp.StatusCode, kind)
	}

	return respBody, nil
}
