package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"junction-sim/server/internal/config"
)

type openAIRequest struct {
	Model               string          `json:"model"`
	Messages            []Message       `json:"messages"`
	Temperature         float64         `json:"temperature"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	ReasoningEffort     string          `json:"reasoning_effort,omitempty"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// OpenAIClient 调用 Chat Completions 接口。
type OpenAIClient struct {
	config     config.LLMProviderConfig
	httpClient *http.Client
}

func NewOpenAIClient(cfg config.LLMProviderConfig) *OpenAIClient {
	return &OpenAIClient{config: cfg, httpClient: &http.Client{Timeout: defaultHTTPTimeout}}
}

// Complete 给出 schema 时使用 json_schema 结构化输出。
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	req := openAIRequest{
		Model:               c.config.Model,
		Messages:            messages,
		Temperature:         c.config.Temperature,
		MaxCompletionTokens: c.config.MaxTokens,
	}
	// 推理模型会把 token 预算花在 reasoning 上，content 可能为空
	if reasoningModel(c.config.Model) {
		req.ReasoningEffort = "low"
	}
	if schema != nil {
		req.ResponseFormat = &responseFormat{Type: "json_schema", JSONSchema: schema}
	}

	var resp openAIResponse
	headers := map[string]string{"Authorization": "Bearer " + c.config.APIKey}
	if err := postJSON(ctx, c.httpClient, c.config.APIURL+"/chat/completions", headers, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrEmptyResponse)
	}
	choice := resp.Choices[0]
	if choice.Message.Content == "" {
		return "", fmt.Errorf("%w: finish_reason=%s", ErrEmptyResponse, choice.FinishReason)
	}
	return choice.Message.Content, nil
}

func reasoningModel(model string) bool {
	return strings.HasPrefix(model, "gpt-5") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3")
}
