package avatar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/qmuntal/gltf"

	"junction-sim/server/internal/model"
)

// ErrAvatarLoad 表示头像模型资源不可用。页面应在头像位置内联显示错误，其他功能不受影响。
var ErrAvatarLoad = errors.New("avatar load failure")

// LoadError 记录哪个模型加载失败以及原因。
type LoadError struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("avatar %q: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("avatar %q: %s", e.URL, e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrAvatarLoad }

// MoodFor 把内部情绪翻译为渲染器的情绪词表。
// talking 不是情绪，映射为 neutral 并标记正在发声；mad 对应 angry。
func MoodFor(e model.Emotion) (model.Mood, bool) {
	switch e {
	case model.EmotionTalking:
		return model.MoodNeutral, true
	case model.EmotionMad:
		return model.MoodAngry, false
	case model.EmotionHappy:
		return model.MoodHappy, false
	case model.EmotionSad:
		return model.MoodSad, false
	default:
		return model.MoodNeutral, false
	}
}

// Presenter 是头像渲染器的能力：说出文本、切换情绪。
type Presenter interface {
	SpeakText(ctx context.Context, text string) error
	SetMood(ctx context.Context, mood model.Mood) error
}

// MaxModelBytes 是校验时下载模型的上限。
const MaxModelBytes = 32 << 20

// CheckModel 下载模型并按 glTF/GLB 解码，确认资源可用且至少包含一个网格。
// 返回的错误总是 *LoadError。client 为 nil 时使用 10s 超时的默认客户端。
func CheckModel(ctx context.Context, client *http.Client, modelURL string) error {
	if modelURL == "" {
		return &LoadError{URL: modelURL, Reason: "model url is empty"}
	}
	u, err := url.Parse(modelURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &LoadError{URL: modelURL, Reason: "model url is invalid", Err: err}
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, modelURL, nil)
	if err != nil {
		return &LoadError{URL: modelURL, Reason: "model url is invalid", Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return &LoadError{URL: modelURL, Reason: "model unreachable", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &LoadError{URL: modelURL, Reason: fmt.Sprintf("model returned status %d", resp.StatusCode)}
	}

	doc, err := decodeModel(io.LimitReader(resp.Body, MaxModelBytes))
	if err != nil {
		return &LoadError{URL: modelURL, Reason: "model is not a valid glTF asset", Err: err}
	}
	if len(doc.Meshes) == 0 {
		return &LoadError{URL: modelURL, Reason: "model has no meshes"}
	}
	return nil
}

func decodeModel(r io.Reader) (*gltf.Document, error) {
	var doc gltf.Document
	if err := gltf.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
