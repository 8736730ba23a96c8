package gateway

import (
	"time"

	"junction-sim/server/internal/conversation"
	"junction-sim/server/internal/model"
)

// EventType 定义了流上的消息类型
type EventType string

const (
	// 客户端 → 服务端
	EventTypeMessage  EventType = "message"  // 语音代理转写出的一条发言
	EventTypeSpeaking EventType = "speaking" // 语音代理说话状态变化
	EventTypePing     EventType = "ping"     // 应用层心跳

	// 服务端 → 客户端
	EventTypeState EventType = "state" // 会话状态快照
	EventTypeSpeak EventType = "speak" // 让头像说出文本
	EventTypeMood  EventType = "mood"  // 切换头像情绪
	EventTypePong  EventType = "pong"
	EventTypeError EventType = "error"
)

// ClientMessage 浏览器发送的消息（WebSocket 文本帧）
type ClientMessage struct {
	Type     EventType `json:"type"`
	EventID  string    `json:"event_id,omitempty"` // 幂等去重
	Source   string    `json:"source,omitempty"`   // user | ai
	Message  string    `json:"message,omitempty"`
	Speaking bool      `json:"speaking,omitempty"`
}

// ServerMessage 发送给浏览器的消息
type ServerMessage struct {
	Type     EventType            `json:"type"`
	Seq      int64                `json:"seq,omitempty"` // 服务端序号
	State    *conversation.Update `json:"state,omitempty"`
	Text     string               `json:"text,omitempty"`
	Mood     model.Mood           `json:"mood,omitempty"`
	ServerTS time.Time            `json:"server_ts"`
	Error    string               `json:"error,omitempty"`
}
