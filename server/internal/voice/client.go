package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"junction-sim/server/internal/config"
)

// ErrMissingAgent 表示角色没有配置语音代理 id，会话无法开始。
var ErrMissingAgent = errors.New("voice agent id is not configured")

// Credentials 是浏览器连接语音代理所需的信息。
// 有 API Key 时签发短期 SignedURL；否则只返回公开的 AgentID。
type Credentials struct {
	AgentID   string `json:"agent_id"`
	SignedURL string `json:"signed_url,omitempty"`
}

// Client 封装语音代理的"签发 signed url"能力，
// 服务端 API Key 不下发到浏览器。
type Client struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string // 默认 https://api.elevenlabs.io
}

// NewClient 从配置创建客户端。
func NewClient(cfg config.VoiceConfig) *Client {
	return &Client{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL}
}

// Session 返回会话凭证。没有 API Key 时不访问网络。
func (c *Client) Session(ctx context.Context, agentID string) (Credentials, error) {
	if agentID == "" {
		return Credentials{}, ErrMissingAgent
	}
	if c.APIKey == "" {
		return Credentials{AgentID: agentID}, nil
	}
	signed, err := c.SignedURL(ctx, agentID)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{AgentID: agentID, SignedURL: signed}, nil
}

// SignedURL 调用 GET /v1/convai/conversation/get_signed_url?agent_id=...
func (c *Client) SignedURL(ctx context.Context, agentID string) (string, error) {
	if agentID == "" {
		return "", ErrMissingAgent
	}
	if c.APIKey == "" {
		return "", errors.New("ELEVENLABS_API_KEY is empty")
	}
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	endpoint := baseURL + "/v1/convai/conversation/get_signed_url?agent_id=" + url.QueryEscape(agentID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", c.APIKey)

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("voice agent request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("voice agent signed url: status=%d body=%s", resp.StatusCode, string(limited))
	}

	var out struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.SignedURL == "" {
		return "", errors.New("voice agent returned empty signed_url")
	}
	return out.SignedURL, nil
}
