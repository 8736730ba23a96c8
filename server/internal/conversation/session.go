package conversation

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"junction-sim/server/internal/analyzer"
	"junction-sim/server/internal/metrics"
	"junction-sim/server/internal/model"
	"junction-sim/server/internal/reconcile"
	"junction-sim/server/internal/transcript"
)

// Analyzer 是会话依赖的分析能力。
type Analyzer interface {
	Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error)
}

// Update 是会话状态快照，每次变化后推送给订阅者。
type Update struct {
	CharacterID   string            `json:"character_id"`
	Objectives    []model.Objective `json:"objectives"`
	Emotion       model.Emotion     `json:"emotion"`
	Judged        model.Emotion     `json:"judged_emotion"`
	EmotionReason string            `json:"emotion_reason,omitempty"`
	Speaking      bool              `json:"speaking"`
	Utterances    int               `json:"utterances"`
	Analyzing     bool              `json:"analyzing"`
	// Last 是触发本次更新的发言，仅追加时非空。
	Last *model.Utterance `json:"last,omitempty"`
}

// Session 是与单个角色的一段对话。
//
// 约定：
// - 追加与触发判定在同一把锁内完成，保证 mark 与缓冲区长度一致。
// - 同一时刻最多一个分析在进行；分析在后台 goroutine 中执行，不阻塞追加。
// - generation 在重置时递增，携带旧 generation 的分析结果直接丢弃。
type Session struct {
	char       model.Character
	buffer     *transcript.Buffer
	analyzer   Analyzer
	reconciler *reconcile.Reconciler
	opts       Options
	logger     zerolog.Logger
	baseCtx    context.Context

	mu         sync.Mutex
	objectives []model.Objective
	emotion    reconcile.EmotionState
	reason     string
	mark       int
	inFlight   bool
	generation uint64

	subs    map[int]chan Update
	nextSub int

	wg sync.WaitGroup
}

func newSession(ctx context.Context, char model.Character, objectives []model.Objective, a Analyzer, r *reconcile.Reconciler, opts Options, logger zerolog.Logger) *Session {
	return &Session{
		char:       char,
		buffer:     transcript.NewBuffer(char.Name, opts.Now),
		analyzer:   a,
		reconciler: r,
		opts:       opts,
		logger:     logger.With().Str("character", char.ID).Logger(),
		baseCtx:    ctx,
		objectives: model.CloneObjectives(objectives),
		subs:       make(map[int]chan Update),
	}
}

// Character 返回会话的角色配置。
func (s *Session) Character() model.Character { return s.char }

// Append 追加一条发言，到达触发点时在后台启动分析。
// 空 ID 会自动分配；相同 ID 的重复投递不会重复计入触发。
func (s *Session) Append(_ context.Context, u model.Utterance) (model.Utterance, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}

	s.mu.Lock()
	before := s.buffer.Len()
	seq, err := s.buffer.Append(u)
	if err != nil {
		s.mu.Unlock()
		return model.Utterance{}, err
	}
	length := s.buffer.Len()
	if length == before {
		// 重复投递
		s.mu.Unlock()
		u.Seq = seq
		return u, nil
	}

	stored := s.buffer.Window(1, true).Utterances()[0]

	switch ShouldAnalyze(length, s.mark, s.opts.Interval, s.inFlight) {
	case Fire:
		s.mark = length
		s.startAnalysisLocked()
	case Drop:
		s.mark = length
		metrics.TriggersDropped.WithLabelValues(s.char.ID).Inc()
		s.logger.Debug().Int("utterances", length).Msg("analysis trigger dropped, one already in flight")
	}

	snap := s.snapshotLocked()
	snap.Last = &stored
	s.publishLocked(snap)
	s.mu.Unlock()
	return stored, nil
}

// startAnalysisLocked 捕获当前窗口并启动后台分析，调用方需持有 s.mu。
func (s *Session) startAnalysisLocked() {
	req := model.AnalysisRequest{
		RecentWindow:  s.buffer.Window(s.opts.RecentWindow, true).Utterances(),
		FullWindow:    s.buffer.Window(s.opts.FullWindow, true).Utterances(),
		Objectives:    model.CloneObjectives(s.objectives),
		CharacterName: s.char.Name,
	}
	gen := s.generation
	s.inFlight = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runAnalysis(req, gen)
	}()
}

func (s *Session) runAnalysis(req model.AnalysisRequest, gen uint64) {
	res, err := s.analyzer.Analyze(s.baseCtx, req)

	s.mu.Lock()
	defer s.mu.Unlock()

	// 重置期间 inFlight 保持为 true，由这次调用负责清除
	s.inFlight = false
	if gen != s.generation {
		metrics.AnalysisTotal.WithLabelValues(s.char.ID, metrics.OutcomeStale).Inc()
		s.logger.Info().Uint64("generation", gen).Msg("discarding analysis result that raced a reset")
		s.publishLocked(s.snapshotLocked())
		return
	}

	if err != nil {
		metrics.AnalysisTotal.WithLabelValues(s.char.ID, metrics.OutcomeUnavailable).Inc()
		if !errors.Is(err, analyzer.ErrAnalysisUnavailable) {
			s.logger.Error().Err(err).Msg("analysis failed")
		}
		// 本轮不更新，等待下一个触发点
		s.publishLocked(s.snapshotLocked())
		return
	}
	metrics.AnalysisTotal.WithLabelValues(s.char.ID, metrics.OutcomeOK).Inc()

	updated, err := s.reconciler.Apply(s.baseCtx, s.char.ID, s.objectives, &s.emotion, res)
	if err != nil {
		s.logger.Error().Err(err).Msg("persist objectives failed")
	}
	s.objectives = updated
	if res != nil && res.Emotion.Judged() {
		s.reason = res.EmotionReason
	}
	s.publishLocked(s.snapshotLocked())
}

// SetSpeaking 更新发声状态，与分析互不影响。
func (s *Session) SetSpeaking(speaking bool) Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked()
	if s.emotion.SetTalking(speaking) {
		snap = s.snapshotLocked()
		s.publishLocked(snap)
	}
	return snap
}

// Snapshot 返回当前状态。
func (s *Session) Snapshot() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Transcript 返回完整发言视图。
func (s *Session) Transcript() transcript.View {
	return s.buffer.Window(0, true)
}

// Reset 清空对话并回到默认目标，进行中的分析结果将被丢弃。
// 进行中的分析结束前不会启动新的分析。
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.buffer.Reset()
	s.objectives = s.char.DefaultObjectives()
	s.emotion.Reset()
	s.reason = ""
	s.mark = 0
	s.publishLocked(s.snapshotLocked())
}

// Subscribe 订阅状态更新。返回的取消函数会关闭 channel。
// 订阅者跟不上时只保留最新的快照。
func (s *Session) Subscribe() (<-chan Update, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Update, 8)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Wait 阻塞直到所有后台分析结束。
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) snapshotLocked() Update {
	return Update{
		CharacterID:   s.char.ID,
		Objectives:    model.CloneObjectives(s.objectives),
		Emotion:       s.emotion.Current(),
		Judged:        s.emotion.Judged(),
		EmotionReason: s.reason,
		Speaking:      s.emotion.Speaking(),
		Utterances:    s.buffer.Len(),
		Analyzing:     s.inFlight,
	}
}

func (s *Session) publishLocked(u Update) {
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
			// 丢弃最旧的一条再写入
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- u:
			default:
			}
		}
	}
}
