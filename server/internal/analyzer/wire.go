package analyzer

import (
	"fmt"
	"strings"

	"junction-sim/server/internal/model"
)

// FromWire 把 /api/analyze-conversation 的请求体转换为 AnalysisRequest。
// 完整窗口取最后 fullSize 条，最近窗口取最后 recentSize 条；空消息会被跳过。
// 来源不是 "user" 的消息都按角色发言处理。
func FromWire(req model.AnalyzeRequest, recentSize, fullSize int) (model.AnalysisRequest, error) {
	utterances := make([]model.Utterance, 0, len(req.Messages))
	for i, msg := range req.Messages {
		if strings.TrimSpace(msg.Message) == "" {
			continue
		}
		utterances = append(utterances, model.Utterance{Seq: int64(i + 1), Source: model.WireSource(msg.Source), Text: msg.Message})
	}

	objectives := make([]model.Objective, 0, len(req.Objectives))
	for i, obj := range req.Objectives {
		if obj.ID == "" {
			return model.AnalysisRequest{}, fmt.Errorf("objectives[%d]: id required", i)
		}
		objectives = append(objectives, model.Objective{ID: obj.ID, Description: obj.Description})
	}

	return model.AnalysisRequest{
		RecentWindow:  tail(utterances, recentSize),
		FullWindow:    tail(utterances, fullSize),
		Objectives:    objectives,
		CharacterName: req.CharacterName,
	}, nil
}

// ToWire 按请求中的目标顺序输出判断结果，未返回的目标不出现在响应中。
func ToWire(result *model.AnalysisResult, objectives []model.Objective) model.AnalyzeResponse {
	resp := model.AnalyzeResponse{
		Objectives:    make([]model.WireJudgment, 0, len(objectives)),
		Emotion:       result.Emotion,
		EmotionReason: result.EmotionReason,
	}
	for _, obj := range objectives {
		j, ok := result.Judgments[obj.ID]
		if !ok {
			continue
		}
		resp.Objectives = append(resp.Objectives, model.WireJudgment{ID: obj.ID, Completed: j.Completed, Reason: j.Reason})
	}
	return resp
}

func tail(utterances []model.Utterance, n int) []model.Utterance {
	if n <= 0 || n >= len(utterances) {
		return utterances
	}
	return utterances[len(utterances)-n:]
}
