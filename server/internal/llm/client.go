package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"junction-sim/server/internal/config"
)

// Client 是判断服务的最小抽象：给定消息与可选的输出 schema，返回模型文本。
type Client interface {
	Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error)
}

// Message 是一条对话消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// JSONSchema 描述结构化输出约束。
type JSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

// ErrEmptyResponse 表示提供商返回成功但没有可用文本。
var ErrEmptyResponse = errors.New("llm returned no text")

// StatusError 表示提供商返回了非 200 状态码。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm api status %d: %s", e.StatusCode, e.Body)
}

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 2048
)

// NewClient 按 provider 创建客户端。
func NewClient(cfg *config.Config) (Client, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return NewOpenAIClient(cfg.LLM.OpenAI), nil
	case "anthropic":
		return NewAnthropicClient(cfg.LLM.Anthropic), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}
}

// postJSON 发送 JSON 请求并把 200 响应解码到 out。
func postJSON(ctx context.Context, hc *http.Client, url string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
