package server

import (
	"bufio"
	"net/http"
	"strings"
	"time"
)

// HandleSSE GET /game-sse 长连接：先推完整快照，之后只推变化的区域
func (a *App) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		Log.Warnf("sse: flush unsupported: %v", err)
		return
	}

	v := a.Hub.NewViewer("sse")
	a.Engine.View(func(s GameState) { a.Hub.Join(v, s) })
	defer a.Hub.Leave(v.ID)

	keepAlive := a.Config.HTTP.SSEKeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	ka := time.NewTicker(keepAlive)
	defer ka.Stop()

	bw := bufio.NewWriter(w)
	write := func(fn func(*bufio.Writer)) bool {
		if a.Config.HTTP.WriteTimeout > 0 {
			_ = rc.SetWriteDeadline(time.Now().Add(a.Config.HTTP.WriteTimeout))
		}
		fn(bw)
		if err := bw.Flush(); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-v.Done():
			return
		case <-ka.C:
			if !write(func(b *bufio.Writer) { b.WriteString(": keep-alive\n\n") }) {
				return
			}
		case ev := <-v.Events():
			ok := write(func(b *bufio.Writer) {
				writeSSE(b, ev)
				// 顺带写出已排队的事件，减少 flush 次数
				for n := len(v.Events()); n > 0; n-- {
					writeSSE(b, <-v.Events())
				}
			})
			if !ok {
				Log.Infof("sse: write to %s failed, dropping", v.ID)
				return
			}
		}
	}
}

// writeSSE 按 text/event-stream 格式写出一个事件，多行数据逐行加 data: 前缀
func writeSSE(b *bufio.Writer, ev Event) {
	b.WriteString("event: ")
	b.WriteString(ev.Name)
	b.WriteByte('\n')
	for _, line := range strings.Split(ev.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}
