package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"junction-sim/server/internal/metrics"
	"junction-sim/server/internal/model"
	"junction-sim/server/internal/objective"
)

// ApplyObjectives 把一次分析结果合并进当前目标列表。
//
// 规则：
// - 只能从未完成变为完成，已完成的目标不会被撤销。
// - 结果中缺失的目标保持不变，结果中未知的 id 被忽略。
// - 不修改 held，返回新切片和本次新完成的目标 id。
func ApplyObjectives(held []model.Objective, result *model.AnalysisResult) ([]model.Objective, []string) {
	updated := model.CloneObjectives(held)
	if result == nil {
		return updated, nil
	}

	var newly []string
	for i := range updated {
		if updated[i].Completed {
			continue
		}
		if j, ok := result.Judgments[updated[i].ID]; ok && j.Completed {
			updated[i].Completed = true
			newly = append(newly, updated[i].ID)
		}
	}
	return updated, newly
}

// EmotionState 是角色的瞬时情绪：最近一次分析得出的情绪，加上是否正在发声。
// 不持久化，也不参与计分。零值表示 neutral 且未发声。
type EmotionState struct {
	judged   model.Emotion
	speaking bool
}

// Apply 用分析结果整体替换情绪。
// talking 不是分析可以给出的值，收到 talking 或未知值时保持原状。
func (s *EmotionState) Apply(result *model.AnalysisResult) bool {
	if result == nil || !result.Emotion.Judged() {
		return false
	}
	changed := s.judged != result.Emotion
	s.judged = result.Emotion
	return changed
}

// SetTalking 由语音代理的说话状态驱动，与分析结果互不影响。
func (s *EmotionState) SetTalking(speaking bool) bool {
	changed := s.speaking != speaking
	s.speaking = speaking
	return changed
}

// Judged 返回最近一次分析得出的情绪。
func (s *EmotionState) Judged() model.Emotion {
	if s.judged == "" {
		return model.EmotionNeutral
	}
	return s.judged
}

// Speaking 返回是否正在发声。
func (s *EmotionState) Speaking() bool { return s.speaking }

// Current 返回展示用情绪：发声时为 talking，否则为分析得出的情绪。
func (s *EmotionState) Current() model.Emotion {
	if s.speaking {
		return model.EmotionTalking
	}
	return s.Judged()
}

// Reset 回到初始状态。
func (s *EmotionState) Reset() {
	s.judged = model.EmotionNeutral
	s.speaking = false
}

// Reconciler 把分析结果写回目标存储和情绪状态。
type Reconciler struct {
	store  objective.Store
	logger zerolog.Logger
}

func New(store objective.Store, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger.With().Str("component", "reconciler").Logger(),
	}
}

// Apply 合并分析结果，有新完成的目标时持久化。
// 情绪总是更新；持久化失败时返回 held 的副本和错误，内存中的目标保持旧值。
func (r *Reconciler) Apply(ctx context.Context, characterID string, held []model.Objective, emotion *EmotionState, result *model.AnalysisResult) ([]model.Objective, error) {
	if emotion != nil {
		emotion.Apply(result)
	}

	updated, newly := ApplyObjectives(held, result)
	if len(newly) == 0 {
		return updated, nil
	}

	if err := r.store.Put(ctx, characterID, updated); err != nil {
		return model.CloneObjectives(held), fmt.Errorf("persist objectives %s: %w", characterID, err)
	}
	metrics.ObjectivesCompleted.WithLabelValues(characterID).Add(float64(len(newly)))
	r.logger.Info().
		Str("character", characterID).
		Strs("completed", newly).
		Int("total_completed", model.CompletedCount(updated)).
		Msg("objectives completed")
	return updated, nil
}
