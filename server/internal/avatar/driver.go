package avatar

import (
	"context"

	"github.com/rs/zerolog"

	"junction-sim/server/internal/conversation"
	"junction-sim/server/internal/model"
)

// Updates 是 Driver 订阅的会话更新来源。
type Updates interface {
	Subscribe() (<-chan conversation.Update, func())
}

// Driver 把会话更新转成对 Presenter 的调用：
// 情绪变化时 SetMood，角色发言时 SpeakText。
type Driver struct {
	presenter Presenter
	logger    zerolog.Logger
	mood      model.Mood
}

func NewDriver(p Presenter, logger zerolog.Logger) *Driver {
	return &Driver{
		presenter: p,
		logger:    logger.With().Str("component", "avatar").Logger(),
	}
}

// Run 阻塞直到 ctx 结束或订阅关闭。
func (d *Driver) Run(ctx context.Context, src Updates) error {
	updates, cancel := src.Subscribe()
	defer cancel()
	return d.Consume(ctx, updates)
}

// Consume 处理已订阅的更新流。
func (d *Driver) Consume(ctx context.Context, updates <-chan conversation.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			d.Handle(ctx, u)
		}
	}
}

// Handle 处理单条更新，渲染器调用失败只记录日志。
func (d *Driver) Handle(ctx context.Context, u conversation.Update) {
	mood, _ := MoodFor(u.Emotion)
	if mood != d.mood {
		if err := d.presenter.SetMood(ctx, mood); err != nil {
			d.logger.Warn().Err(err).Str("mood", string(mood)).Msg("set mood failed")
		} else {
			d.mood = mood
		}
	}
	if u.Last != nil && u.Last.Source == model.SourceCharacter {
		if err := d.presenter.SpeakText(ctx, u.Last.Text); err != nil {
			d.logger.Warn().Err(err).Msg("speak text failed")
		}
	}
}
