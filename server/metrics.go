package server

import (
	"sync/atomic"
)

// Metrics 记录运行期的关键指标（用于监控与调试）
type Metrics struct {
	TickCount       int64 // 统计的 Tick 次数
	TotalTickNs     int64 // Tick 累计耗时（纳秒）
	InputsAccepted  int64 // 被识别并应用的输入
	InputsIgnored   int64 // 格式错误或未知按键
	FragmentsPushed int64 // 入队的片段事件数（按连接计）
	ViewersJoined   int64
	ViewersEvicted  int64 // 写失败或队列满被踢出的连接
	PanicsRecovered int64 // 被恢复的状态修改 panic
	Goals           int64
}

func (m *Metrics) IncAccepted() { atomic.AddInt64(&m.InputsAccepted, 1) }
func (m *Metrics) IncIgnored() { atomic.AddInt64(&m.InputsIgnored, 1) }
func (m *Metrics) AddPushed(n int) { atomic.AddInt64(&m.FragmentsPushed, int64(n)) }
func (m *Metrics) IncJoined() { atomic.AddInt64(&m.ViewersJoined, 1) }
func (m *Metrics) IncEvicted() { atomic.AddInt64(&m.ViewersEvicted, 1) }
func (m *Metrics) IncPanicsRecovered() { atomic.AddInt64(&m.PanicsRecovered, 1) }
func (m *Metrics) IncGoals() { atomic.AddInt64(&m.Goals, 1) }
func (m *Metrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":       tick,
		"avg_tick_ms":      avgMs,
		"inputs_accepted":  atomic.LoadInt64(&m.InputsAccepted),
		"inputs_ignored":   atomic.LoadInt64(&m.InputsIgnored),
		"fragments_pushed": atomic.LoadInt64(&m.FragmentsPushed),
		"viewers_joined":   atomic.LoadInt64(&m.ViewersJoined),
		"viewers_evicted":  atomic.LoadInt64(&m.ViewersEvicted),
		"panics_recovered": atomic.LoadInt64(&m.PanicsRecovered),
		"goals":            atomic.LoadInt64(&m.Goals),
	}
}
