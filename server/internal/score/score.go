package score

import (
	"fmt"
	"math"

	"junction-sim/server/internal/model"
)

// WinThreshold 是获胜所需的最低全局分。
const WinThreshold = 70

// Tier 是单个角色的完成度档位。
type Tier string

const (
	TierFull      Tier = "full"
	TierPartial   Tier = "partial"
	TierStruggled Tier = "struggled"
	TierNone      Tier = "none"
)

// TierFor 按完成率划分档位：1 为 full，> 0.5 为 partial，> 0 为 struggled。
func TierFor(rate float64) Tier {
	switch {
	case rate >= 1:
		return TierFull
	case rate > 0.5:
		return TierPartial
	case rate > 0:
		return TierStruggled
	default:
		return TierNone
	}
}

// Feedback 生成某个角色的反馈文案。
func Feedback(tier Tier, characterName string) string {
	switch tier {
	case TierFull:
		return fmt.Sprintf("✅ You successfully completed all objectives with %s", characterName)
	case TierPartial:
		return fmt.Sprintf("⚠️ You partially completed objectives with %s", characterName)
	case TierStruggled:
		return fmt.Sprintf("❌ You struggled with %s's objectives", characterName)
	default:
		return fmt.Sprintf("❌ You didn't complete any objectives with %s", characterName)
	}
}

// CharacterScore 是单个角色的计分明细。
type CharacterScore struct {
	CharacterID    string  `json:"character_id"`
	CharacterName  string  `json:"character_name"`
	Engaged        bool    `json:"engaged"`
	Completed      int     `json:"completed"`
	Total          int     `json:"total"`
	CompletionRate float64 `json:"completion_rate"`
	Contribution   float64 `json:"contribution"`
	Tier           Tier    `json:"tier,omitempty"`
}

// Outcome 是一次汇总的结果。
type Outcome struct {
	Characters  []CharacterScore `json:"characters"`
	GlobalScore int              `json:"global_score"`
	Won         bool             `json:"won"`
	Feedback    []string         `json:"feedback"`
	EngagedAll  bool             `json:"engaged_all"`
}

// CompletionRate 返回已完成目标占比，空列表为 0。
func CompletionRate(objs []model.Objective) float64 {
	if len(objs) == 0 {
		return 0
	}
	return float64(model.CompletedCount(objs)) / float64(len(objs))
}

// Aggregate 根据各角色记录的目标状态计算全局分。
//
// - 只有 recorded 中出现的角色计分并产生反馈，未接触的角色贡献为 0。
// - 全局分为各角色 ScoreImpact × 完成率之和，四舍五入为整数。
// - 反馈按角色配置顺序输出。
// 纯函数，不修改输入。
func Aggregate(characters []model.Character, recorded map[string][]model.Objective) Outcome {
	out := Outcome{
		Characters: make([]CharacterScore, 0, len(characters)),
		Feedback:   []string{},
	}

	var total float64
	for _, c := range characters {
		row := CharacterScore{CharacterID: c.ID, CharacterName: c.Name}
		objs, engaged := recorded[c.ID]
		if engaged {
			rate := CompletionRate(objs)
			row.Engaged = true
			row.Completed = model.CompletedCount(objs)
			row.Total = len(objs)
			row.CompletionRate = rate
			row.Contribution = c.ScoreImpact * rate
			row.Tier = TierFor(rate)
			total += row.Contribution
			out.Feedback = append(out.Feedback, Feedback(row.Tier, c.Name))
		}
		out.Characters = append(out.Characters, row)
	}

	out.GlobalScore = int(math.Round(total))
	out.Won = out.GlobalScore >= WinThreshold
	out.EngagedAll = EngagedWithAll(characters, recorded)
	return out
}

// EngagedWithAll 判断是否每个角色都有目标记录。
func EngagedWithAll(characters []model.Character, recorded map[string][]model.Objective) bool {
	for _, c := range characters {
		if _, ok := recorded[c.ID]; !ok {
			return false
		}
	}
	return true
}

// Band 是分数温度计的颜色档。
type Band string

const (
	BandRed    Band = "red"
	BandOrange Band = "orange"
	BandGreen  Band = "green"
)

// Gauge 返回分数对应的颜色档。
func Gauge(score int) Band {
	switch {
	case score < 33:
		return BandRed
	case score < 66:
		return BandOrange
	default:
		return BandGreen
	}
}

// Verdict 是颁奖页的标题与说明。
type Verdict struct {
	Headline    string `json:"headline"`
	Title       string `json:"title"`
	Explanation string `json:"explanation"`
}

// VerdictFor 返回胜负对应的文案。
func VerdictFor(won bool) Verdict {
	if won {
		return Verdict{
			Headline:    "You Won!",
			Title:       "Why You Won",
			Explanation: "You successfully navigated the social dynamics of the hackathon! Listening to your teammates, getting them to contribute and impressing the judge with your pitch secured your team's victory. Great communication skills!",
		}
	}
	return Verdict{
		Headline:    "Better Luck Next Time",
		Title:       "Why You Didn't Win",
		Explanation: "While you made progress, you didn't quite achieve all the objectives needed to win. Remember: at hackathons, technical skills matter, but so do teamwork, communication, and presentation abilities. Keep practicing!",
	}
}
