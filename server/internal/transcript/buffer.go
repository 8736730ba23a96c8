package transcript

import (
	"errors"
	"iter"
	"strings"
	"sync"
	"time"

	"junction-sim/server/internal/model"
)

var (
	ErrEmptyText     = errors.New("utterance text is empty")
	ErrUnknownSource = errors.New("utterance source not recognized")
)

// Buffer 是一次会话内只追加的发言序列。
//
// 契约：
// - 顺序即语音代理投递顺序，缓冲区不重排。
// - Seq 单调递增，Timestamp 严格递增。
// - 相同 ID 的重复投递幂等返回首次分配的 seq。
type Buffer struct {
	mu            sync.RWMutex
	characterName string
	now           func() time.Time

	utterances []model.Utterance
	seq        int64
	ids        map[string]int64
}

func NewBuffer(characterName string, now func() time.Time) *Buffer {
	if now == nil {
		now = time.Now
	}
	return &Buffer{
		characterName: characterName,
		now:           now,
		ids:           make(map[string]int64),
	}
}

// Append 追加一条发言并返回分配的 seq。
// 只校验文本非空与来源可识别；Seq/Timestamp 由缓冲区填充。
func (b *Buffer) Append(u model.Utterance) (int64, error) {
	if strings.TrimSpace(u.Text) == "" {
		return 0, ErrEmptyText
	}
	if !u.Source.Valid() {
		return 0, ErrUnknownSource
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if u.ID != "" {
		if seq, ok := b.ids[u.ID]; ok {
			return seq, nil
		}
	}

	ts := b.now()
	if n := len(b.utterances); n > 0 {
		if last := b.utterances[n-1].Timestamp; !ts.After(last) {
			ts = last.Add(time.Nanosecond)
		}
	}

	b.seq++
	u.Seq = b.seq
	u.Timestamp = ts
	b.utterances = append(b.utterances, u)
	if u.ID != "" {
		b.ids[u.ID] = u.Seq
	}
	return u.Seq, nil
}

// Len 返回当前发言数。
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.utterances)
}

// Reset 清空缓冲区，seq 从头计数。已发出的 View 不受影响。
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.utterances = nil
	b.seq = 0
	b.ids = make(map[string]int64)
}

// Window 返回最后（fromEnd=true）或最前 n 条发言的只读视图；不足 n 条时返回全部。
// n <= 0 视为全部。
func (b *Buffer) Window(n int, fromEnd bool) View {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := len(b.utterances)
	if n <= 0 || n > total {
		n = total
	}
	lo, hi := 0, n
	if fromEnd {
		lo, hi = total-n, total
	}
	// 只追加的底层数组中 [lo:hi] 不会再被改写，限定 cap 避免后续 append 共享
	return View{characterName: b.characterName, items: b.utterances[lo:hi:hi]}
}

// View 是发言序列的不可变快照，可重复遍历。
type View struct {
	characterName string
	items         []model.Utterance
}

// NewView 用给定发言构建视图（用于无状态分析接口）。
func NewView(characterName string, utterances []model.Utterance) View {
	return View{characterName: characterName, items: utterances[:len(utterances):len(utterances)]}
}

func (v View) Len() int { return len(v.items) }

// All 按原顺序惰性遍历发言。
func (v View) All() iter.Seq[model.Utterance] {
	return func(yield func(model.Utterance) bool) {
		for _, u := range v.items {
			if !yield(u) {
				return
			}
		}
	}
}

// Lines 惰性产出 "Speaker: text" 行。
func (v View) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, u := range v.items {
			if !yield(SpeakerLabel(u.Source, v.characterName) + ": " + u.Text) {
				return
			}
		}
	}
}

// String 用换行拼接所有行。
func (v View) String() string {
	var sb strings.Builder
	first := true
	for line := range v.Lines() {
		if !first {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
		first = false
	}
	return sb.String()
}

// Utterances 返回视图内发言的副本。
func (v View) Utterances() []model.Utterance {
	out := make([]model.Utterance, len(v.items))
	copy(out, v.items)
	return out
}

// HasBothSides 判断视图内是否同时有用户与角色的发言。
func (v View) HasBothSides() bool {
	return HasBothSides(v.items)
}

// HasBothSides 判断发言中是否同时包含用户与角色。
func HasBothSides(utterances []model.Utterance) bool {
	var user, character bool
	for _, u := range utterances {
		switch u.Source {
		case model.SourceUser:
			user = true
		case model.SourceCharacter:
			character = true
		}
	}
	return user && character
}

// SpeakerLabel 用户显示为 "User"，其余显示为角色名。
func SpeakerLabel(source model.Source, characterName string) string {
	if source == model.SourceUser {
		return "User"
	}
	return characterName
}
