package analyzer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"junction-sim/server/internal/model"
)

// rawResult 用指针字段区分"缺失"与"零值"。
type rawResult struct {
	Objectives    *[]rawJudgment `json:"objectives"`
	Emotion       *string        `json:"emotion"`
	EmotionReason *string        `json:"emotionReason"`
}

type rawJudgment struct {
	ID        *string `json:"id"`
	Completed *bool   `json:"completed"`
	Reason    *string `json:"reason"`
}

// IDReport 记录返回 id 与输入目标的差异。
type IDReport struct {
	Unknown   []string
	Missing   []string
	Duplicate []string
}

// ParseResult 严格校验判断服务的输出。
// 任意字段缺失或类型不符都返回错误；id 不匹配不算错误，只记录在报告中，
// 未知 id 原样保留，由 Reconciler 忽略。
func ParseResult(raw string, objectives []model.Objective) (*model.AnalysisResult, IDReport, error) {
	var report IDReport

	payload := stripCodeFence(raw)
	if payload == "" {
		return nil, report, errors.New("empty output")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	var parsed rawResult
	if err := dec.Decode(&parsed); err != nil {
		return nil, report, fmt.Errorf("decode output: %w", err)
	}

	if parsed.Objectives == nil {
		return nil, report, errors.New("missing field: objectives")
	}
	if parsed.Emotion == nil {
		return nil, report, errors.New("missing field: emotion")
	}
	if parsed.EmotionReason == nil {
		return nil, report, errors.New("missing field: emotionReason")
	}

	emotion := model.Emotion(strings.ToLower(strings.TrimSpace(*parsed.Emotion)))
	if !emotion.Judged() {
		return nil, report, fmt.Errorf("invalid emotion: %q", *parsed.Emotion)
	}

	expected := make(map[string]bool, len(objectives))
	for _, o := range objectives {
		expected[o.ID] = true
	}

	judgments := make(map[string]model.ObjectiveJudgment, len(*parsed.Objectives))
	for i, j := range *parsed.Objectives {
		if j.ID == nil || j.Completed == nil || j.Reason == nil {
			return nil, report, fmt.Errorf("objectives[%d]: missing id, completed or reason", i)
		}
		id := *j.ID
		if _, seen := judgments[id]; seen {
			report.Duplicate = append(report.Duplicate, id)
			continue
		}
		if !expected[id] {
			report.Unknown = append(report.Unknown, id)
		}
		judgments[id] = model.ObjectiveJudgment{Completed: *j.Completed, Reason: *j.Reason}
	}
	for _, o := range objectives {
		if _, ok := judgments[o.ID]; !ok {
			report.Missing = append(report.Missing, o.ID)
		}
	}

	return &model.AnalysisResult{
		Judgments:     judgments,
		Emotion:       emotion,
		EmotionReason: *parsed.EmotionReason,
	}, report, nil
}

// stripCodeFence 去掉模型偶尔包裹的 ```json 代码块。
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
