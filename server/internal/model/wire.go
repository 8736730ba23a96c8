package model

// 以下类型对应 /api/analyze-conversation 的请求/响应体，字段名与前端保持一致。

// WireMessage 是语音代理推送的一条消息，source 取值 user 或 ai。
type WireMessage struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// WireObjective 只携带 id 与描述，不暴露完成状态。
type WireObjective struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// AnalyzeRequest 是分析接口的请求体。
type AnalyzeRequest struct {
	Messages      []WireMessage   `json:"messages"`
	Objectives    []WireObjective `json:"objectives"`
	CharacterName string          `json:"characterName"`
}

// WireJudgment 是单个目标的判断结果。
type WireJudgment struct {
	ID        string `json:"id"`
	Completed bool   `json:"completed"`
	Reason    string `json:"reason"`
}

// AnalyzeResponse 是分析接口成功时的响应体。
type AnalyzeResponse struct {
	Objectives    []WireJudgment `json:"objectives"`
	Emotion       Emotion        `json:"emotion"`
	EmotionReason string         `json:"emotionReason"`
}
