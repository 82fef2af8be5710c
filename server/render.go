package server

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"math"
)

// Renderer 渲染协作者：给定快照与当前观众数，产出各区域的 HTML 片段与整页
type Renderer interface {
	Fragment(r Region, s GameState, viewers int) (string, error)
	Page(w io.Writer, s GameState, viewers int) error
}

// frame 模板数据：快照加观众数，字段经嵌入直接可见
type frame struct {
	GameState
	Viewers int
}

const fragmentTemplates = `
{{define "scoreboard"}}<div id="scoreboard" class="scoreboard"><span class="score left">{{.Left.Score}}</span>{{if .Paused}}<span class="paused">Paused, press p to play</span>{{end}}<span class="score right">{{.Right.Score}}</span><span class="players">{{.Viewers}} watching</span></div>{{end}}
{{define "bat_left"}}<div id="bat_left" class="bat" style="top: {{pct .Left.Position}}%; height: {{pct .Left.Height}}vh;"></div>{{end}}
{{define "bat_right"}}<div id="bat_right" class="bat" style="top: {{pct .Right.Position}}%; height: {{pct .Right.Height}}vh;"></div>{{end}}
{{define "ball"}}<div class="ball" style="left: {{pct .Ball.Pos.X}}%; top: {{pct .Ball.Pos.Y}}%;"></div>{{end}}
{{define "page"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Pong</title>
<link rel="icon" href="/favicon.svg">
<script src="/scripts.js"></script>
</head>
<body hx-ext="sse" sse-connect="/game-sse"
      hx-post="/keypress" hx-trigger="keydown[!event.repeat] from:body, keyup from:body"
      hx-vals="js:{last_key: event.key, event: event.type}" hx-swap="none">
<div class="field" style="background-image: url('/background.svg');"
     hx-post="/click" hx-trigger="click" hx-vals="js:{x: event.clientX / window.innerWidth, y: event.clientY / window.innerHeight}" hx-swap="none">
<div sse-swap="scoreboard">{{template "scoreboard" .Frame}}</div>
<div sse-swap="bat_left">{{template "bat_left" .Frame}}</div>
<div sse-swap="bat_right">{{template "bat_right" .Frame}}</div>
<div sse-swap="ball">{{template "ball" .Frame}}</div>
</div>
<p class="keys">pause {{.PauseKey}}; left {{.Frame.Left.UpKey}}/{{.Frame.Left.DownKey}}, right {{.Frame.Right.UpKey}}/{{.Frame.Right.DownKey}}</p>
</body>
</html>
{{end}}`

// TemplateRenderer 基于 html/template 的默认实现
type TemplateRenderer struct {
	tmpl     *template.Template
	pauseKey string
}

// NewTemplateRenderer 编译内置模板；坐标以百分比输出
func NewTemplateRenderer(pauseKey string) (*TemplateRenderer, error) {
	tmpl, err := template.New("pong").Funcs(template.FuncMap{
		"pct": func(v float64) float64 { return math.Round(v*10000) / 100 },
	}).Parse(fragmentTemplates)
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &TemplateRenderer{tmpl: tmpl, pauseKey: pauseKey}, nil
}

// Fragment 渲染单个区域
func (t *TemplateRenderer) Fragment(r Region, s GameState, viewers int) (string, error) {
	if r >= regionCount {
		return "", fmt.Errorf("%w: %s", ErrUnknownRegion, r)
	}
	var buf bytes.Buffer
	if err := t.tmpl.ExecuteTemplate(&buf, r.String(), frame{s, viewers}); err != nil {
		return "", fmt.Errorf("render %s: %w", r, err)
	}
	return buf.String(), nil
}

// Page 渲染整页，内联四个片段作为初始画面
func (t *TemplateRenderer) Page(w io.Writer, s GameState, viewers int) error {
	return t.tmpl.ExecuteTemplate(w, "page", struct {
		Frame    frame
		PauseKey string
	}{frame{s, viewers}, t.pauseKey})
}
