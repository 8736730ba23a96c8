package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"junction-sim/server/internal/config"
)

const (
	anthropicVersion      = "2023-06-01"
	anthropicDefaultLimit = 1024
)

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// AnthropicClient 调用 Messages 接口。
type AnthropicClient struct {
	config     config.LLMProviderConfig
	httpClient *http.Client
}

func NewAnthropicClient(cfg config.LLMProviderConfig) *AnthropicClient {
	return &AnthropicClient{config: cfg, httpClient: &http.Client{Timeout: defaultHTTPTimeout}}
}

// Complete 把 system 消息拆到顶层字段。
// Messages 接口没有 response_format，schema 以文字约束附加到 system。
func (c *AnthropicClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	req := anthropicRequest{
		Model:       c.config.Model,
		Messages:    make([]Message, 0, len(messages)),
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = anthropicDefaultLimit
	}

	var system []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		req.Messages = append(req.Messages, m)
	}
	if schema != nil {
		raw, err := json.Marshal(schema.Schema)
		if err != nil {
			return "", fmt.Errorf("marshal schema: %w", err)
		}
		system = append(system, "Respond with a single JSON object matching this JSON Schema, and nothing else:\n"+string(raw))
	}
	req.System = strings.Join(system, "\n\n")

	var resp anthropicResponse
	headers := map[string]string{
		"x-api-key":         c.config.APIKey,
		"anthropic-version": anthropicVersion,
	}
	if err := postJSON(ctx, c.httpClient, c.config.APIURL+"/messages", headers, req, &resp); err != nil {
		return "", err
	}

	for _, block := range resp.Content {
		if (block.Type == "" || block.Type == "text") && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("%w: stop_reason=%s", ErrEmptyResponse, resp.StopReason)
}
