package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"junction-sim/server/internal/avatar"
	"junction-sim/server/internal/conversation"
	"junction-sim/server/internal/metrics"
	"junction-sim/server/internal/model"
)

// Session 是 Stream 驱动的会话能力，由 *conversation.Session 实现。
type Session interface {
	Append(ctx context.Context, u model.Utterance) (model.Utterance, error)
	SetSpeaking(speaking bool) conversation.Update
	Snapshot() conversation.Update
	Subscribe() (<-chan conversation.Update, func())
}

// StreamConfig 流配置
type StreamConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// Stream 是浏览器与某个角色会话之间的一条 WebSocket 连接。
//
// 职责：
// 1. 把浏览器上报的发言、说话状态写入会话
// 2. 把会话状态快照推给浏览器
// 3. 作为 avatar.Presenter，把情绪与台词推给浏览器里的渲染器
type Stream struct {
	id      string
	session Session
	config  StreamConfig
	logger  zerolog.Logger

	conn     *websocket.Conn
	connLock sync.Mutex

	seqCounter int64

	closeOnce sync.Once
	closeChan chan struct{}
}

var _ avatar.Presenter = (*Stream)(nil)

// NewStream 创建流，连接的所有权转交给 Stream。
func NewStream(conn *websocket.Conn, session Session, config StreamConfig, logger zerolog.Logger) *Stream {
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	id := uuid.NewString()
	return &Stream{
		id:        id,
		session:   session,
		config:    config,
		logger:    logger.With().Str("component", "stream").Str("stream_id", id).Logger(),
		conn:      conn,
		closeChan: make(chan struct{}),
	}
}

// ID 返回流 id。
func (s *Stream) ID() string { return s.id }

// Run 阻塞直到连接关闭或 ctx 结束。
func (s *Stream) Run(ctx context.Context) error {
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.Close()

	// 先订阅再发初始快照，避免漏掉中间的更新
	stateUpdates, cancelState := s.session.Subscribe()
	defer cancelState()
	avatarUpdates, cancelAvatar := s.session.Subscribe()
	defer cancelAvatar()

	snap := s.session.Snapshot()
	if err := s.send(&ServerMessage{Type: EventTypeState, State: &snap}); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.forwardState(ctx, stateUpdates)
	}()
	go func() {
		defer wg.Done()
		_ = avatar.NewDriver(s, s.logger).Consume(ctx, avatarUpdates)
	}()
	go func() {
		defer wg.Done()
		s.pingLoop(ctx)
	}()

	s.logger.Info().Msg("stream started")
	err := s.readLoop(ctx)
	cancel()
	s.Close()
	wg.Wait()
	s.logger.Info().Msg("stream closed")
	return err
}

// readLoop 读取浏览器消息，逐条串行应用到会话。
func (s *Stream) readLoop(ctx context.Context) error {
	s.connLock.Lock()
	conn := s.conn
	s.connLock.Unlock()
	if conn == nil {
		return nil
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closeChan:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read from client: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := s.handleClientMessage(ctx, data); err != nil {
			s.logger.Warn().Err(err).Msg("handle client message failed")
			// 发送错误给客户端，但不断开连接
			_ = s.sendError(err.Error())
		}
	}
}

func (s *Stream) handleClientMessage(ctx context.Context, data []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	switch msg.Type {
	case EventTypeMessage:
		src, err := model.ParseSource(msg.Source)
		if err != nil {
			return err
		}
		_, err = s.session.Append(ctx, model.Utterance{ID: msg.EventID, Source: src, Text: msg.Message})
		return err
	case EventTypeSpeaking:
		s.session.SetSpeaking(msg.Speaking)
		return nil
	case EventTypePing:
		return s.send(&ServerMessage{Type: EventTypePong})
	default:
		return fmt.Errorf("unknown message type: %q", msg.Type)
	}
}

// forwardState 把会话快照推给浏览器。
func (s *Stream) forwardState(ctx context.Context, updates <-chan conversation.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			u.Last = nil
			if err := s.send(&ServerMessage{Type: EventTypeState, State: &u}); err != nil {
				s.logger.Debug().Err(err).Msg("push state failed")
				return
			}
		}
	}
}

// SpeakText 让浏览器端头像说出文本。
func (s *Stream) SpeakText(_ context.Context, text string) error {
	return s.send(&ServerMessage{Type: EventTypeSpeak, Text: text})
}

// SetMood 切换浏览器端头像情绪。
func (s *Stream) SetMood(_ context.Context, mood model.Mood) error {
	return s.send(&ServerMessage{Type: EventTypeMood, Mood: mood})
}

func (s *Stream) sendError(errMsg string) error {
	return s.send(&ServerMessage{Type: EventTypeError, Error: errMsg})
}

// send 发送消息给客户端
func (s *Stream) send(msg *ServerMessage) error {
	if msg.ServerTS.IsZero() {
		msg.ServerTS = time.Now()
	}

	s.connLock.Lock()
	defer s.connLock.Unlock()

	if s.conn == nil {
		return errors.New("client connection is closed")
	}
	s.seqCounter++
	msg.Seq = s.seqCounter

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal server message: %w", err)
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to client: %w", err)
	}
	return nil
}

// pingLoop 定期发送 ping 保持连接
func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeChan:
			return
		case <-ticker.C:
			s.connLock.Lock()
			if s.conn != nil {
				_ = s.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second))
			}
			s.connLock.Unlock()
		}
	}
}

// Close 关闭连接，可重复调用。
func (s *Stream) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closeChan)

		s.connLock.Lock()
		defer s.connLock.Unlock()
		if s.conn == nil {
			return
		}
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		closeErr = s.conn.Close()
		s.conn = nil
	})
	return closeErr
}
