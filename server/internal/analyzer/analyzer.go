package analyzer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"junction-sim/server/internal/llm"
	"junction-sim/server/internal/metrics"
	"junction-sim/server/internal/model"
	"junction-sim/server/internal/transcript"
)

// DefaultTimeout 是单次判断调用的默认超时。
const DefaultTimeout = 12 * time.Second

var (
	// ErrAnalysisUnavailable 表示判断服务不可达、超时或返回了不合法的输出。
	// 调用方应视为"本轮不更新"，而不是致命错误。
	ErrAnalysisUnavailable = errors.New("analysis unavailable")
	// ErrNoObjectives 表示请求没有任何目标，属于调用方错误。
	ErrNoObjectives = errors.New("analysis requires at least one objective")
)

// UnavailableError 记录分析在哪个阶段失败。
type UnavailableError struct {
	Stage string // request | timeout | parse
	Err   error
}

func (e *UnavailableError) Error() string {
	return "analysis unavailable (" + e.Stage + "): " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrAnalysisUnavailable) 成立。
func (e *UnavailableError) Is(target error) bool {
	return target == ErrAnalysisUnavailable
}

// Options 分析器配置
type Options struct {
	Timeout time.Duration
}

// Analyzer 把对话窗口与目标列表交给 LLM，得到目标完成度与当前情绪。
//
// 约定：
// - 目标完成度基于完整窗口，是累积的判断。
// - 情绪只基于最近 2~3 条发言，是瞬时反应；最近窗口缺少任何一方时降级为 neutral。
// - 不保证确定性，同样输入可能得到不同结果。
type Analyzer struct {
	client  llm.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// New 创建分析器
func New(client llm.Client, opts Options, logger zerolog.Logger) *Analyzer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Analyzer{
		client:  client,
		timeout: opts.Timeout,
		logger:  logger.With().Str("component", "analyzer").Logger(),
	}
}

// Analyze 执行一次分析。
// 失败时返回的错误满足 errors.Is(err, ErrAnalysisUnavailable)，ErrNoObjectives 除外。
func (a *Analyzer) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error) {
	if len(req.Objectives) == 0 {
		return nil, ErrNoObjectives
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	raw, err := a.client.Complete(ctx, BuildMessages(req), ResultSchema())
	metrics.AnalysisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		stage := "request"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			stage = "timeout"
		}
		a.logger.Warn().Err(err).Str("character", req.CharacterName).Str("stage", stage).Msg("judgment service call failed")
		return nil, &UnavailableError{Stage: stage, Err: err}
	}

	result, report, err := ParseResult(raw, req.Objectives)
	if err != nil {
		a.logger.Warn().Err(err).Str("character", req.CharacterName).Msg("judgment service returned malformed output")
		return nil, &UnavailableError{Stage: "parse", Err: err}
	}
	if len(report.Unknown) > 0 || len(report.Missing) > 0 || len(report.Duplicate) > 0 {
		a.logger.Warn().
			Str("character", req.CharacterName).
			Strs("unknown_ids", report.Unknown).
			Strs("missing_ids", report.Missing).
			Strs("duplicate_ids", report.Duplicate).
			Msg("judgment ids do not match objectives")
	}

	if !transcript.HasBothSides(req.RecentWindow) {
		result.Emotion = model.EmotionNeutral
		result.EmotionReason = "No recent exchange between the user and " + req.CharacterName + " yet"
	}

	a.logger.Debug().
		Str("character", req.CharacterName).
		Str("emotion", string(result.Emotion)).
		Int("judgments", len(result.Judgments)).
		Dur("latency", time.Since(start)).
		Msg("analysis completed")
	return result, nil
}
