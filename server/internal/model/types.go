package model

import (
	"fmt"
	"time"
)

// Source 标识一条发言来自哪一方。
type Source string

const (
	SourceUser      Source = "user"
	SourceCharacter Source = "character"
)

// ParseSource 解析发言来源，兼容语音代理使用的 "ai" 别名。
func ParseSource(s string) (Source, error) {
	switch s {
	case "user":
		return SourceUser, nil
	case "character", "ai", "agent":
		return SourceCharacter, nil
	default:
		return "", fmt.Errorf("unknown source: %q", s)
	}
}

// WireSource 是无状态分析接口的宽松解析：除 "user" 外一律视为角色发言。
func WireSource(s string) Source {
	if s == "user" {
		return SourceUser
	}
	return SourceCharacter
}

// Valid 判断来源是否可识别。
func (s Source) Valid() bool {
	return s == SourceUser || s == SourceCharacter
}

// Emotion 是角色的内部情绪词表。
// talking 只是展示态（正在发声），不是分析得出的情绪。
type Emotion string

const (
	EmotionNeutral Emotion = "neutral"
	EmotionTalking Emotion = "talking"
	EmotionHappy   Emotion = "happy"
	EmotionSad     Emotion = "sad"
	EmotionMad     Emotion = "mad"
)

// Judged 判断该情绪是否属于分析服务可以给出的四种取值。
func (e Emotion) Judged() bool {
	switch e {
	case EmotionNeutral, EmotionHappy, EmotionSad, EmotionMad:
		return true
	}
	return false
}

// Mood 是头像渲染器接受的情绪词表。
type Mood string

const (
	MoodNeutral Mood = "neutral"
	MoodHappy   Mood = "happy"
	MoodAngry   Mood = "angry"
	MoodSad     Mood = "sad"
)

// Objective 是某个角色下的一个对话目标。
type Objective struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	Completed   bool   `json:"completed" yaml:"completed"`
}

// CloneObjectives 返回目标列表的副本，nil 保持为 nil。
func CloneObjectives(objs []Objective) []Objective {
	if objs == nil {
		return nil
	}
	out := make([]Objective, len(objs))
	copy(out, objs)
	return out
}

// CompletedCount 统计已完成目标数。
func CompletedCount(objs []Objective) int {
	n := 0
	for _, o := range objs {
		if o.Completed {
			n++
		}
	}
	return n
}

// Utterance 表示对话中的一条发言，追加后不可变。
type Utterance struct {
	// Seq 由缓冲区分配的单调序号。
	Seq int64 `json:"seq"`
	// ID 用于重试去重，可由语音代理事件提供。
	ID        string    `json:"id,omitempty"`
	Source    Source    `json:"source"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Position 是角色在地图上的位置（百分比）。
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Character 是静态角色配置，进程生命周期内只读。
type Character struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Title       string      `json:"title" yaml:"title"`
	ModelURL    string      `json:"model_url" yaml:"model_url"`
	AgentID     string      `json:"agent_id,omitempty" yaml:"agent_id"`
	Goal        string      `json:"goal" yaml:"goal"`
	Description string      `json:"description" yaml:"description"`
	Objectives  []Objective `json:"objectives" yaml:"objectives"`
	ScoreImpact float64     `json:"score_impact" yaml:"score_impact"`
	Position    Position    `json:"position" yaml:"position"`
}

// DefaultObjectives 返回角色初始目标（全部未完成）的副本。
func (c Character) DefaultObjectives() []Objective {
	out := make([]Objective, len(c.Objectives))
	for i, o := range c.Objectives {
		out[i] = Objective{ID: o.ID, Description: o.Description}
	}
	return out
}

// ObjectiveJudgment 是分析服务对单个目标的判断。
type ObjectiveJudgment struct {
	Completed bool   `json:"completed"`
	Reason    string `json:"reason"`
}

// AnalysisRequest 是一次分析的输入。
// RecentWindow 用于情绪判断，FullWindow 用于目标判断。
type AnalysisRequest struct {
	RecentWindow  []Utterance
	FullWindow    []Utterance
	Objectives    []Objective
	CharacterName string
}

// AnalysisResult 是某一时刻的绝对判断，不是增量。
type AnalysisResult struct {
	Judgments     map[string]ObjectiveJudgment `json:"judgments"`
	Emotion       Emotion                      `json:"emotion"`
	EmotionReason string                       `json:"emotion_reason"`
}
