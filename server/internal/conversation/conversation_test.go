package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"junction-sim/server/internal/analyzer"
	"junction-sim/server/internal/model"
	"junction-sim/server/internal/objective"
)

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   []model.AnalysisRequest
	result  *model.AnalysisResult
	err     error
	gate    chan struct{}
	started chan struct{}

	active    int
	maxActive int
}

func newFakeAnalyzer(result *model.AnalysisResult) *fakeAnalyzer {
	return &fakeAnalyzer{result: result, started: make(chan struct{}, 16)}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	gate, res, err := f.gate, f.result, f.err
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	f.started <- struct{}{}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAnalyzer) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func (f *fakeAnalyzer) script(result *model.AnalysisResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result, f.err = result, err
}

func (f *fakeAnalyzer) lastCall() model.AnalysisRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func testCharacter() model.Character {
	return model.Character{
		ID:          "alex",
		Name:        "Alex",
		ScoreImpact: 30,
		Objectives: []model.Objective{
			{ID: "listen", Description: "Listen"},
			{ID: "acknowledge", Description: "Acknowledge"},
		},
	}
}

func completeListen(emotion model.Emotion) *model.AnalysisResult {
	return &model.AnalysisResult{
		Judgments: map[string]model.ObjectiveJudgment{"listen": {Completed: true, Reason: "asked"}},
		Emotion:   emotion,
	}
}

func newTestManager(t *testing.T, a Analyzer) (*Manager, objective.Store) {
	t.Helper()
	store := objective.NewInMemoryStore()
	chars := []model.Character{testCharacter()}
	m := NewManager(chars, objective.NewService(store, chars), a, Options{}, zerolog.Nop())
	t.Cleanup(m.Close)
	return m, store
}

// appendTurns 交替追加角色和用户发言
func appendTurns(t *testing.T, s *Session, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		src := model.SourceCharacter
		if i%2 == 1 {
			src = model.SourceUser
		}
		_, err := s.Append(context.Background(), model.Utterance{Source: src, Text: fmt.Sprintf("line %d", i)})
		require.NoError(t, err)
	}
}

func waitStarted(t *testing.T, f *fakeAnalyzer) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("analysis did not start")
	}
}

func TestShouldAnalyze(t *testing.T) {
	cases := []struct {
		length, mark, interval int
		inFlight               bool
		want                   Decision
	}{
		{3, 0, 4, false, Skip},
		{4, 0, 4, false, Fire},
		{4, 0, 4, true, Drop},
		{7, 4, 4, false, Skip},
		{8, 4, 4, false, Fire},
		{5, 0, 0, false, Skip},
	}
	for _, tc := range cases {
		got := ShouldAnalyze(tc.length, tc.mark, tc.interval, tc.inFlight)
		assert.Equal(t, tc.want, got, "length=%d mark=%d inFlight=%v", tc.length, tc.mark, tc.inFlight)
	}
}

func TestSessionTriggersEveryFourUtterances(t *testing.T) {
	fa := newFakeAnalyzer(completeListen(model.EmotionHappy))
	m, store := newTestManager(t, fa)

	s, err := m.Open(context.Background(), "alex")
	require.NoError(t, err)

	appendTurns(t, s, 3)
	m.Wait()
	assert.Equal(t, 0, fa.callCount())

	appendTurns(t, s, 1)
	m.Wait()
	require.Equal(t, 1, fa.callCount())

	req := fa.lastCall()
	assert.Len(t, req.FullWindow, 4)
	assert.Len(t, req.RecentWindow, 3)
	assert.Equal(t, "Alex", req.CharacterName)

	snap := s.Snapshot()
	assert.Equal(t, model.EmotionHappy, snap.Emotion)
	assert.Equal(t, 1, model.CompletedCount(snap.Objectives))

	stored, err := store.Get(context.Background(), "alex")
	require.NoError(t, err)
	assert.Equal(t, 1, model.CompletedCount(stored))

	appendTurns(t, s, 4)
	m.Wait()
	assert.Equal(t, 2, fa.callCount())
}

func TestSessionDropsTriggerWhileInFlight(t *testing.T) {
	fa := newFakeAnalyzer(completeListen(model.EmotionSad))
	fa.gate = make(chan struct{})
	m, _ := newTestManager(t, fa)

	s, err := m.Open(context.Background(), "alex")
	require.NoError(t, err)

	appendTurns(t, s, 4)
	waitStarted(t, fa)
	assert.True(t, s.Snapshot().Analyzing)

	// 第二个触发点落在进行中的分析期间，被丢弃
	appendTurns(t, s, 4)
	close(fa.gate)
	m.Wait()
	assert.Equal(t, 1, fa.callCount())
	assert.False(t, s.Snapshot().Analyzing)

	// mark 已推进到 8，再追加 4 条才会触发
	appendTurns(t, s, 3)
	m.Wait()
	assert.Equal(t, 1, fa.callCount())
	appendTurns(t, s, 1)
	m.Wait()
	assert.Equal(t, 2, fa.callCount())
	assert.Len(t, fa.lastCall().FullWindow, 12)
}

func TestSessionUnavailableLeavesStateUnchanged(t *testing.T) {
	fa := newFakeAnalyzer(nil)
	fa.err = &analyzer.UnavailableError{Stage: "request", Err: errors.New("boom")}
	m, store := newTestManager(t, fa)

	s, err := m.Open(context.Background(), "alex")
	require.NoError(t, err)
	before := s.Snapshot()

	appendTurns(t, s, 4)
	m.Wait()
	require.Equal(t, 1, fa.callCount())

	after := s.Snapshot()
	assert.Equal(t, before.Objectives, after.Objectives)
	assert.Equal(t, model.EmotionNeutral, after.Emotion)
	assert.False(t, after.Analyzing)

	stored, err := store.Get(context.Background(), "alex")
	require.NoError(t, err)
	assert.Zero(t, model.CompletedCount(stored))

	// 失败后下一个触发点照常触发
	fa.mu.Lock()
	fa.err = nil
	fa.result = completeListen(model.EmotionHappy)
	fa.mu.Unlock()
	appendTurns(t, s, 4)
	m.Wait()
	assert.Equal(t, model.EmotionHappy, s.Snapshot().Emotion)
}

// 验证场景：一次成功的分析之后判断服务不可用，
// 情绪、情绪原因与已完成目标都保持失败前的值。
func TestSessionUnavailableKeepsPreviousJudgment(t *testing.T) {
	first := completeListen(model.EmotionMad)
	first.EmotionReason = "the user dismissed the idea"
	fa := newFakeAnalyzer(first)
	m, store := newTestManager(t, fa)

	s, err := m.Open(context.Background(), "alex")
	require.NoError(t, err)

	appendTurns(t, s, 4)
	m.Wait()
	before := s.Snapshot()
	require.Equal(t, model.EmotionMad, before.Judged)
	require.Equal(t, 1, model.CompletedCount(before.Objectives))

	fa.script(nil, &analyzer.UnavailableError{Stage: "parse", Err: errors.New("bad json")})
	appendTurns(t, s, 4)
	m.Wait()
	require.Equal(t, 2, fa.callCount())

	after := s.Snapshot()
	assert.Equal(t, model.EmotionMad, after.Judged)
	assert.Equal(t, model.EmotionMad, after.Emotion)
	assert.Equal(t, "the user dismissed the idea", after.EmotionReason)
	assert.Equal(t, before.Objectives, after.Objectives)
	assert.True(t, after.Objectives[0].Completed, "listen stays completed")

	stored, err := store.Get(context.Background(), "alex")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "listen", stored[0].ID)
	assert.True(t, stored[0].Completed)
}

// 验证场景：重置时旧分析仍在进行，重置后的触发点不会再启动第二个分析。
func TestSessionResetDoesNotOverlapAnalyses(t *testing.T) {
	fa := newFakeAnalyzer(completeListen(model.EmotionHappy))
	fa.gate = make(chan struct{})
	m, _ := newTestManager(t, fa)

	s, err := m.Open(context.Background(), "alex")
	require.NoError(t, err)

	appendTurns(t, s, 4)
	waitStarted(t, fa)

	require.NoError(t, m.ResetAll(context.Background()))
	_, err = m.Open(context.Background(), "alex")
	require.NoError(t, err)
	assert.True(t, s.Snapshot().Analyzing)

	// 旧分析未结束，这个触发点被丢弃
	appendTurns(t, s, 4)
	assert.Equal(t, 1, fa.callCount())

	close(fa.gate)
	m.Wait()
	assert.False(t, s.Snapshot().Analyzing)
	assert.Zero(t, model.CompletedCount(s.Snapshot().Objectives), "stale result discarded")

	appendTurns(t, s, 4)
	m.Wait()
	assert.Equal(t, 2, fa.callCount())
	assert.Equal(t, 1, fa.peakConcurrency())
	assert.Equal(t, 1, model.CompletedCount(s.Snapshot().Objectives))
}

func TestSessionTalkingIndependentOfAnalysis(t *testing.T) {
	fa := newFakeAnalyzer(nil)
	fa.err = analyzer.ErrAnalysisUnavailable
	m, _ := newTestManager(t, fa)

	s, err := m.Open(context.Background(), "alex")
	require.NoError(t, err)

	s.SetSpeaking(true)
	appendTurns(t, s, 4)
	m.Wait()
	assert.Equal(t, model.EmotionTalking, s.Snapshot().Emotion)

	s.SetSpeaking(false)
	assert.Equal(t, model.EmotionNeutral, s.Snapshot().Emotion)
}

func TestSessionStaleResultDiscardedAfterReset(t *testing.T) {
	fa := newFakeAnalyzer(completeListen(model.EmotionMad))
	fa.gate = make(chan struct{})
	m, store := newTestManager(t, fa)

	s, err := m.Open(context.Background(), "alex")
	require.NoError(t, err)

	appendTurns(t, s, 4)
	waitStarted(t, fa)

	require.NoError(t, m.ResetAll(context.Background()))
	close(fa.gate)
	m.Wait()

	snap := s.Snapshot()
	assert.Zero(t, model.CompletedCount(snap.Objectives))
	assert.Equal(t, model.EmotionNeutral, snap.Emotion)
	assert.Equal(t, 0, snap.Utterances)

	_, err = store.Get(context.Background(), "alex")
	assert.ErrorIs(t, err, objective.ErrNotFound)

	outcome, err := m.Score(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.GlobalScore)
	assert.Empty(t, outcome.Feedback)
}

func TestSessionDuplicateUtteranceIgnored(t *testing.T) {
	fa := newFakeAnalyzer(completeListen(model.EmotionHappy))
	m, _ := newTestManager(t, fa)

	s, err := m.Open(context.Background(), "alex")
	require.NoError(t, err)

	u := model.Utterance{ID: "evt-1", Source: model.SourceUser, Text: "hello"}
	first, err := s.Append(context.Background(), u)
	require.NoError(t, err)
	again, err := s.Append(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, first.Seq, again.Seq)
	assert.Equal(t, 1, s.Snapshot().Utterances)

	_, err = s.Append(context.Background(), model.Utterance{Source: model.SourceUser, Text: "   "})
	assert.Error(t, err)
}

func TestSessionSubscribeReceivesUpdates(t *testing.T) {
	fa := newFakeAnalyzer(completeListen(model.EmotionHappy))
	m, _ := newTestManager(t, fa)

	s, err := m.Open(context.Background(), "alex")
	require.NoError(t, err)

	updates, cancel := s.Subscribe()
	defer cancel()

	_, err = s.Append(context.Background(), model.Utterance{Source: model.SourceCharacter, Text: "Hey!"})
	require.NoError(t, err)

	select {
	case u := <-updates:
		require.NotNil(t, u.Last)
		assert.Equal(t, "Hey!", u.Last.Text)
		assert.Equal(t, 1, u.Utterances)
	case <-time.After(time.Second):
		t.Fatalf("expected update")
	}

	cancel()
	_, ok := <-updates
	assert.False(t, ok, "channel closed after cancel")
}

func TestManagerOpenUnknownCharacter(t *testing.T) {
	m, _ := newTestManager(t, newFakeAnalyzer(nil))
	_, err := m.Open(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUnknownCharacter)
}

func TestManagerOpenRecordsEngagement(t *testing.T) {
	m, _ := newTestManager(t, newFakeAnalyzer(nil))

	outcome, err := m.Score(context.Background())
	require.NoError(t, err)
	assert.False(t, outcome.EngagedAll)

	_, err = m.Open(context.Background(), "alex")
	require.NoError(t, err)

	outcome, err = m.Score(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.EngagedAll)
	assert.Equal(t, []string{"❌ You didn't complete any objectives with Alex"}, outcome.Feedback)
}
