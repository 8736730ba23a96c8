package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrMockFailure 是 MockClient 在 ShouldFail 时返回的错误。
var ErrMockFailure = errors.New("mock llm failure")

// MockClient 用于测试的 LLM 客户端：按顺序返回预置响应，用尽后重复最后一条。
type MockClient struct {
	mu        sync.Mutex
	responses []string
	calls     [][]Message

	// ShouldFail 为 true 时所有调用返回 ErrMockFailure
	ShouldFail bool
	// Block 非 nil 时每次调用阻塞到该 channel 关闭或 ctx 结束
	Block chan struct{}
}

// NewMockClient 创建 Mock LLM 客户端
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{responses: responses}
}

// Push 追加一条响应
func (m *MockClient) Push(resp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
}

// SetFail 切换失败模式
func (m *MockClient) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldFail = fail
}

// Complete 模拟 LLM Complete 方法
func (m *MockClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	block := m.Block
	fail := m.ShouldFail
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail {
		return "", ErrMockFailure
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.responses) == 0 {
		return "", errors.New("mock llm has no responses")
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

// CallCount 返回调用次数
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastMessages 返回最后一次调用的消息
func (m *MockClient) LastMessages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}
