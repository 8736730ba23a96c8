package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"junction-sim/server/internal/domain"
	"junction-sim/server/internal/model"
	"junction-sim/server/internal/objective"
	"junction-sim/server/internal/reconcile"
	"junction-sim/server/internal/score"
)

// ErrUnknownCharacter 表示请求的角色不在配置中。
var ErrUnknownCharacter = errors.New("unknown character")

// Options 会话调度参数
type Options struct {
	// Interval 是两次分析之间累计的发言数。
	Interval int
	// RecentWindow 是情绪判断使用的最近发言数。
	RecentWindow int
	// FullWindow 是目标判断使用的发言上限。
	FullWindow int
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 4
	}
	if o.RecentWindow <= 0 {
		o.RecentWindow = 3
	}
	if o.FullWindow <= 0 {
		o.FullWindow = 40
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Manager 按角色 id 持有会话，首次 Open 时创建。
type Manager struct {
	characters []model.Character
	objectives *objective.Service
	analyzer   Analyzer
	reconciler *reconcile.Reconciler
	opts       Options
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(characters []model.Character, objectives *objective.Service, a Analyzer, opts Options, logger zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With().Str("component", "conversation").Logger()
	return &Manager{
		characters: characters,
		objectives: objectives,
		analyzer:   a,
		reconciler: reconcile.New(objectives.Store(), logger),
		opts:       opts.withDefaults(),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*Session),
	}
}

// Characters 返回角色配置。
func (m *Manager) Characters() []model.Character { return m.characters }

// Character 按 id 查找角色。
func (m *Manager) Character(id string) (model.Character, error) {
	c, ok := domain.FindCharacter(m.characters, id)
	if !ok {
		return model.Character{}, fmt.Errorf("%w: %s", ErrUnknownCharacter, id)
	}
	return c, nil
}

// Open 返回角色的会话，必要时创建。
// 每次 Open 都确保目标已记录，重置后再次进入同样视为"已接触"。
func (m *Manager) Open(ctx context.Context, characterID string) (*Session, error) {
	char, err := m.Character(characterID)
	if err != nil {
		return nil, err
	}

	objs, err := m.objectives.Open(ctx, char)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[characterID]; ok {
		return s, nil
	}
	s := newSession(m.ctx, char, objs, m.analyzer, m.reconciler, m.opts, m.logger)
	m.sessions[characterID] = s
	m.logger.Info().Str("character", characterID).Int("objectives", len(objs)).Msg("session opened")
	return s, nil
}

// Get 返回已存在的会话。
func (m *Manager) Get(characterID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[characterID]
	return s, ok
}

// Score 汇总所有已记录角色的全局分。
func (m *Manager) Score(ctx context.Context) (score.Outcome, error) {
	recorded, err := m.objectives.Recorded(ctx)
	if err != nil {
		return score.Outcome{}, err
	}
	return score.Aggregate(m.characters, recorded), nil
}

// ResetAll 重置所有会话并清空存储。
// 先递增各会话的 generation 再删存储，保证进行中的分析不会在删除后写回。
func (m *Manager) ResetAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Reset()
	}
	if err := m.objectives.ResetAll(ctx); err != nil {
		return fmt.Errorf("reset objectives: %w", err)
	}
	m.logger.Info().Int("sessions", len(sessions)).Msg("all conversations reset")
	return nil
}

// Wait 阻塞直到所有会话的后台分析结束。
func (m *Manager) Wait() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Wait()
	}
}

// Close 取消进行中的分析并等待其退出。
func (m *Manager) Close() {
	m.cancel()
	m.Wait()
}
