// Package claude drafts merged-incident summaries with the Claude messages
// API.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/watchdesk/internal/incident"
)

const (
	defaultBaseURL  = "https://api.anthropic.com"
	summaryMaxToken = 300
)

const systemPrompt = `You write one-line summaries of merged operational incidents.
Given the source incidents, reply with a single sentence describing the combined
incident for an on-call dashboard. No preamble, no markdown.`

// Client implements incident.Summarizer against the Claude API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Claude API client with the given API key and model name.
func New(apiKey, model string) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Message is a single conversation message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContentBlock is one block of assistant output.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Request is the payload sent to the Claude API.
type Request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

// Response is the payload received from the Claude API.
type Response struct {
	ID         string         `json:"id"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Usage is the token usage information returned by the Claude API.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Summarize drafts a one-line summary of the incidents about to be merged.
func (c *Client) Summarize(ctx context.Context, sources []incident.Incident) (string, error) {
	resp, err := c.send(ctx, &Request{
		MaxTokens: summaryMaxToken,
		System:    systemPrompt,
		Messages: []Message{
			{Role: "user", Content: describeSources(sources)},
		},
	})
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(out.String()), nil
}

func describeSources(sources []incident.Incident) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize these %d incidents being merged:\n", len(sources))
	for i := range sources {
		src := &sources[i]
		fmt.Fprintf(&b, "- [%s] %s (alerts: %d, services: %s)\n",
			src.Severity, src.Summary(), src.AlertCount, strings.Join(src.Services, ", "))
	}
	return b.String()
}

func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	req.Model = c.model

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("claude api error %d: %s", resp.StatusCode, string(respBody))
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &out, nil
}
