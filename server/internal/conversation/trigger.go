package conversation

// Decision 是一次追加后的触发判定。
type Decision int

const (
	// Skip 未到触发点。
	Skip Decision = iota
	// Fire 到达触发点且没有进行中的分析。
	Fire
	// Drop 到达触发点但已有分析在进行，本次触发丢弃而不排队。
	Drop
)

func (d Decision) String() string {
	switch d {
	case Fire:
		return "fire"
	case Drop:
		return "drop"
	default:
		return "skip"
	}
}

// ShouldAnalyze 是只依赖缓冲区长度的纯判定：
// 自上次触发点 mark 以来累计 interval 条发言即到达触发点。
// Fire 与 Drop 都要求调用方把 mark 推进到 length。
func ShouldAnalyze(length, mark, interval int, inFlight bool) Decision {
	if interval <= 0 || length-mark < interval {
		return Skip
	}
	if inFlight {
		return Drop
	}
	return Fire
}
