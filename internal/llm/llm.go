// Package llm is a client for OpenAI-compatible chat completion endpoints.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/keithlinneman/portfolio-web/internal/upstream"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

var ErrEmptyCompletion = errors.New("llm returned no completion")

type Options struct {
	// Endpoint is the API base URL, e.g. https://api.openai.com/v1
	Endpoint  string
	APIKey    string
	Model     string
	MaxTokens int
	RPS       float64
	Timeout   time.Duration
	// HTTPClient and Observe are passed to the upstream client
	HTTPClient *http.Client
	Observe    func(outcome string, d time.Duration)
}

type Client struct {
	up        *upstream.Client
	url       string
	apiKey    string
	model     string
	maxTokens int
}

func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" || opts.APIKey == "" || opts.Model == "" {
		return nil, xerrors.New("llm: endpoint, api key and model are required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Client{
		up: upstream.New(upstream.Options{
			Provider:   "llm",
			RPS:        opts.RPS,
			Burst:      1,
			Timeout:    opts.Timeout,
			HTTPClient: opts.HTTPClient,
			Observe:    opts.Observe,
		}),
		url:       strings.TrimRight(opts.Endpoint, "/") + "/chat/completions",
		apiKey:    opts.APIKey,
		model:     opts.Model,
		maxTokens: maxTokens,
	}, nil
}

type completionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends msgs and returns the first choice's trimmed content.
func (c *Client) Complete(ctx context.Context, msgs []Message) (string, error) {
	body, _, err := c.up.PostJSON(ctx, c.url,
		http.Header{"Authorization": {"Bearer " + c.apiKey}},
		completionRequest{Model: c.model, Messages: msgs, MaxTokens: c.maxTokens},
	)
	if err != nil {
		return "", err
	}
	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", xerrors.Wrap(err, "llm: decode response")
	}
	if len(resp.Choices) == 0 {
		return "", xerrors.WithStack(ErrEmptyCompletion)
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", xerrors.WithStack(ErrEmptyCompletion)
	}
	return out, nil
}
