package server

import (
	"context"
	"time"
)

// DefaultTickInterval 与前端 100ms 过渡动画对齐，移动看起来是连续的
const DefaultTickInterval = 100 * time.Millisecond

// Run 以固定间隔推进世界，直到 ctx 取消。与连接数量无关。
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	dt := interval.Seconds()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			e.Advance(dt)
			e.metrics.AddTick(time.Since(start).Nanoseconds())
		}
	}
}
