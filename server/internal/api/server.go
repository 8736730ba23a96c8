package api

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"junction-sim/server/internal/analyzer"
	"junction-sim/server/internal/avatar"
	"junction-sim/server/internal/config"
	"junction-sim/server/internal/conversation"
	"junction-sim/server/internal/gateway"
	"junction-sim/server/internal/model"
	"junction-sim/server/internal/score"
	"junction-sim/server/internal/transcript"
	"junction-sim/server/internal/voice"
)

type Server struct {
	config   *config.Config
	manager  *conversation.Manager
	analyzer conversation.Analyzer
	voice    *voice.Client
	logger   zerolog.Logger

	// avatarClient 用于校验头像模型地址
	avatarClient *http.Client

	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, manager *conversation.Manager, a conversation.Analyzer, voiceClient *voice.Client, logger zerolog.Logger) *Server {
	checkTimeout := cfg.Avatar.CheckTimeout
	if checkTimeout <= 0 {
		checkTimeout = 10 * time.Second
	}
	s := &Server{
		config:       cfg,
		manager:      manager,
		analyzer:     a,
		voice:        voiceClient,
		logger:       logger.With().Str("component", "api").Logger(),
		avatarClient: &http.Client{Timeout: checkTimeout},
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.accessLog(), s.corsMiddleware())

	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api")
	api.GET("/characters", s.handleCharacters)
	api.POST("/characters/:id/session", s.handleStartSession)
	api.GET("/characters/:id/state", s.handleState)
	api.POST("/characters/:id/messages", s.handleMessage)
	api.POST("/characters/:id/speaking", s.handleSpeaking)
	api.GET("/characters/:id/stream", s.handleStream)
	api.POST("/analyze-conversation", s.handleAnalyzeConversation)
	api.GET("/score", s.handleScore)
	api.GET("/award-ceremony", s.handleAwardCeremony)
	api.POST("/reset", s.handleReset)
	return engine
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type characterView struct {
	model.Character
	Engaged   bool `json:"engaged"`
	Completed int  `json:"completed"`
}

// handleCharacters 返回角色列表与当前全局分。
func (s *Server) handleCharacters(c *gin.Context) {
	outcome, err := s.manager.Score(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("load recorded objectives failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load objectives failed"})
		return
	}

	chars := s.manager.Characters()
	views := make([]characterView, 0, len(chars))
	for i, ch := range chars {
		row := outcome.Characters[i]
		ch.AgentID = ""
		views = append(views, characterView{Character: ch, Engaged: row.Engaged, Completed: row.Completed})
	}
	c.JSON(http.StatusOK, gin.H{
		"characters":   views,
		"global_score": outcome.GlobalScore,
		"band":         score.Gauge(outcome.GlobalScore),
		"engaged_all":  outcome.EngagedAll,
	})
}

type startSessionResponse struct {
	Character   model.Character     `json:"character"`
	Voice       voice.Credentials   `json:"voice"`
	State       conversation.Update `json:"state"`
	AvatarError *avatar.LoadError   `json:"avatar_error,omitempty"`
}

// handleStartSession 开始与角色的对话：签发语音凭证、记录默认目标、校验头像资源。
func (s *Server) handleStartSession(c *gin.Context) {
	ctx := c.Request.Context()
	char, ok := s.character(c)
	if !ok {
		return
	}

	creds, err := s.voice.Session(ctx, char.AgentID)
	if errors.Is(err, voice.ErrMissingAgent) {
		c.JSON(http.StatusPreconditionFailed, gin.H{
			"error": "Voice agent is not configured for " + char.Name + ". Please set the agent id for this character.",
			"code":  "missing_configuration",
		})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("character", char.ID).Msg("create voice session failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "create voice session failed"})
		return
	}

	sess, err := s.manager.Open(ctx, char.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("character", char.ID).Msg("open session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "open session failed"})
		return
	}

	resp := startSessionResponse{Voice: creds, State: sess.Snapshot()}
	resp.Character = char
	resp.Character.AgentID = ""
	if s.config.Avatar.VerifyModels {
		var le *avatar.LoadError
		if err := avatar.CheckModel(ctx, s.avatarClient, char.ModelURL); errors.As(err, &le) {
			s.logger.Warn().Err(err).Str("character", char.ID).Msg("avatar model unavailable")
			resp.AvatarError = le
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleState(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":      sess.Snapshot(),
		"transcript": sess.Transcript().Utterances(),
	})
}

type messageRequest struct {
	ID      string `json:"id"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

// handleMessage 追加一条语音代理转写的发言。
func (s *Server) handleMessage(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	src, err := model.ParseSource(req.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := sess.Append(c.Request.Context(), model.Utterance{ID: req.ID, Source: src, Text: req.Message})
	if errors.Is(err, transcript.ErrEmptyText) || errors.Is(err, transcript.ErrUnknownSource) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "append message failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"utterance": u, "state": sess.Snapshot()})
}

type speakingRequest struct {
	Speaking bool `json:"speaking"`
}

func (s *Server) handleSpeaking(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req speakingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": sess.SetSpeaking(req.Speaking)})
}

// handleStream 升级为 WebSocket，连接期间阻塞。
func (s *Server) handleStream(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("upgrade websocket failed")
		return
	}

	stream := gateway.NewStream(conn, sess, gateway.StreamConfig{
		PingInterval: s.config.Server.PingInterval,
		WriteTimeout: s.config.Server.WriteTimeout,
	}, s.logger)
	if err := stream.Run(c.Request.Context()); err != nil {
		s.logger.Debug().Err(err).Str("stream_id", stream.ID()).Msg("stream ended")
	}
}

// handleAnalyzeConversation 是无状态分析接口，保持原有请求/响应格式。
func (s *Server) handleAnalyzeConversation(c *gin.Context) {
	var req model.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	ar, err := analyzer.FromWire(req, s.config.Analysis.RecentWindow, s.config.Analysis.FullWindow)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.analyzer.Analyze(c.Request.Context(), ar)
	if errors.Is(err, analyzer.ErrNoObjectives) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("character", req.CharacterName).Msg("analyze conversation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to analyze conversation"})
		return
	}
	c.JSON(http.StatusOK, analyzer.ToWire(res, ar.Objectives))
}

func (s *Server) handleScore(c *gin.Context) {
	outcome, err := s.manager.Score(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("aggregate score failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregate score failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome": outcome,
		"band":    score.Gauge(outcome.GlobalScore),
	})
}

// handleAwardCeremony 只有与所有角色都对话过之后才开放。
func (s *Server) handleAwardCeremony(c *gin.Context) {
	outcome, err := s.manager.Score(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("aggregate score failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregate score failed"})
		return
	}
	if !outcome.EngagedAll {
		c.JSON(http.StatusForbidden, gin.H{"error": "Talk to every character before the award ceremony"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome": outcome,
		"verdict": score.VerdictFor(outcome.Won),
		"band":    score.Gauge(outcome.GlobalScore),
	})
}

// handleReset 清空所有角色的对话与目标（"Try Again"）。
func (s *Server) handleReset(c *gin.Context) {
	if err := s.manager.ResetAll(c.Request.Context()); err != nil {
		s.logger.Error().Err(err).Msg("reset failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) character(c *gin.Context) (model.Character, bool) {
	char, err := s.manager.Character(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return model.Character{}, false
	}
	return char, true
}

func (s *Server) session(c *gin.Context) (*conversation.Session, bool) {
	if _, ok := s.character(c); !ok {
		return nil, false
	}
	sess, ok := s.manager.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not started"})
		return nil, false
	}
	return sess, true
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.config.Server.AllowedOrigins, "*") || slices.Contains(s.config.Server.AllowedOrigins, origin)
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
