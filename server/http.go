package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// HandlePage GET / 整页，内联当前的四个片段
func (a *App) HandlePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var buf bytes.Buffer
	if err := a.Renderer.Page(&buf, a.Engine.Snapshot(), a.Hub.Count()); err != nil {
		Log.Errorf("render page: %v", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// HandleKeypress POST /keypress，字段 last_key 与可选的 event（keydown/keyup）。
// 输入有误时静默忽略，响应只表示已收到。
func (a *App) HandleKeypress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		Log.Debugf("keypress: bad form: %v", err)
		a.Metrics.IncIgnored()
		w.WriteHeader(http.StatusOK)
		return
	}
	key := r.Form.Get("last_key")
	a.Engine.HandleKeypress(key, a.Engine.InferTransition(key, r.Form.Get("event")))
	w.WriteHeader(http.StatusOK)
}

// HandleClick POST /click，字段 x、y 为 [0,1] 的归一化坐标
func (a *App) HandleClick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	x, y, ok := parsePoint(r)
	if !ok {
		a.Metrics.IncIgnored()
		w.WriteHeader(http.StatusOK)
		return
	}
	a.Engine.HandleClick(x, y)
	w.WriteHeader(http.StatusOK)
}

func parsePoint(r *http.Request) (float64, float64, bool) {
	if err := r.ParseForm(); err != nil {
		return 0, 0, false
	}
	x, errX := strconv.ParseFloat(strings.TrimSpace(r.Form.Get("x")), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(r.Form.Get("y")), 64)
	if errX != nil || errY != nil {
		return 0, 0, false
	}
	return x, y, true
}

// HandleMetrics GET /metrics 运行指标
func (a *App) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"tick":    a.Engine.TickSeq(),
		"viewers": a.Hub.Count(),
		"metrics": a.Metrics.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
