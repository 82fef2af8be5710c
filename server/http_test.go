package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Game = testGameConfig()
	cfg.Game.StartPaused = true
	cfg.Game.PauseWhenEmpty = false
	app, err := NewApp(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app
}

func newTestServer(t *testing.T, app *App) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	// 先于 srv.Close 执行，结束长连接
	t.Cleanup(app.Hub.Close)
	return srv
}

func postForm(t *testing.T, app *App, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleKeypress(t *testing.T) {
	app := newTestApp(t)

	rec := postForm(t, app, "/keypress", url.Values{"last_key": {"w"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := app.Engine.Snapshot().Left.Dir; got != DirUp {
		t.Fatalf("expected left paddle moving up, got %s", got)
	}

	postForm(t, app, "/keypress", url.Values{"last_key": {"w"}, "event": {"keyup"}})
	if got := app.Engine.Snapshot().Left.Dir; got != DirIdle {
		t.Fatalf("expected keyup to stop the paddle, got %s", got)
	}

	postForm(t, app, "/keypress", url.Values{"last_key": {"p"}})
	if app.Engine.Snapshot().Paused {
		t.Fatalf("expected p (inferred keyup) to resume the paused game")
	}
}

func TestHandleKeypressPressThenReleaseStopsPaddle(t *testing.T) {
	app := newTestApp(t)

	// 与页面发送的字段一致：last_key 加 event.type
	postForm(t, app, "/keypress", url.Values{"last_key": {"w"}, "event": {"keydown"}})
	if got := app.Engine.Snapshot().Left.Dir; got != DirUp {
		t.Fatalf("expected keydown to move the left paddle up, got %s", got)
	}
	postForm(t, app, "/keypress", url.Values{"last_key": {"w"}, "event": {"keyup"}})
	if got := app.Engine.Snapshot().Left.Dir; got != DirIdle {
		t.Fatalf("expected keyup to stop the left paddle, got %s", got)
	}

	postForm(t, app, "/keypress", url.Values{"last_key": {"p"}, "event": {"keydown"}})
	if !app.Engine.Snapshot().Paused {
		t.Fatalf("pause keydown must not toggle pause")
	}
	postForm(t, app, "/keypress", url.Values{"last_key": {"p"}, "event": {"keyup"}})
	if app.Engine.Snapshot().Paused {
		t.Fatalf("pause keyup should resume the game")
	}
}

func TestHandleKeypressIgnoresMalformedInput(t *testing.T) {
	app := newTestApp(t)
	before := app.Engine.Snapshot()

	for _, form := range []url.Values{{}, {"last_key": {""}}, {"last_key": {"zz"}}, {"other": {"1"}}} {
		if rec := postForm(t, app, "/keypress", form); rec.Code != http.StatusOK {
			t.Fatalf("malformed input %v should still return 200, got %d", form, rec.Code)
		}
	}
	after := app.Engine.Snapshot()
	after.LastKey = before.LastKey
	if after != before {
		t.Fatalf("malformed input changed the game")
	}

	req := httptest.NewRequest(http.MethodGet, "/keypress", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestHandleClick(t *testing.T) {
	app := newTestApp(t)
	before := app.Engine.Snapshot()

	for _, form := range []url.Values{
		{"x": {"0.25"}, "y": {"0.5"}},
		{"x": {"abc"}, "y": {"0.5"}},
		{"x": {"2"}, "y": {"0.5"}},
		{},
	} {
		if rec := postForm(t, app, "/click", form); rec.Code != http.StatusOK {
			t.Fatalf("click %v: expected 200, got %d", form, rec.Code)
		}
	}
	if app.Engine.Snapshot() != before {
		t.Fatalf("default click policy must be a no-op")
	}
	snap := app.Metrics.Snapshot()
	if snap["inputs_accepted"] != int64(1) || snap["inputs_ignored"] != int64(3) {
		t.Fatalf("unexpected click counters %+v", snap)
	}
}

type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	var data []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read sse stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name == "" && data == nil {
				continue
			}
			ev.data = strings.Join(data, "\n")
			return ev
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestHandleSSEStreamsSnapshotThenDeltas(t *testing.T) {
	app := newTestApp(t)
	srv := newTestServer(t, app)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/game-sse", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open sse stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		ev := readSSE(t, reader)
		seen[ev.name] = true
		if ev.data == "" {
			t.Fatalf("event %s has no fragment", ev.name)
		}
	}
	for _, r := range AllRegions.List() {
		if !seen[r.String()] {
			t.Fatalf("snapshot missing %s: %v", r, seen)
		}
	}

	app.Engine.HandleKeypress("p", KeyRelease)
	ev := readSSE(t, reader)
	if ev.name != "scoreboard" {
		t.Fatalf("expected scoreboard delta after pause toggle, got %s", ev.name)
	}
	if strings.Contains(ev.data, "Paused") {
		t.Fatalf("resumed scoreboard should not show the pause banner: %s", ev.data)
	}

	app.Engine.HandleKeypress("l", KeyPress)
	if ev := readSSE(t, reader); ev.name != "bat_right" {
		t.Fatalf("expected bat_right delta, got %s", ev.name)
	}
}

func wsURL(t *testing.T, base, query string) string {
	t.Helper()
	u, err := url.Parse(base)
	if err != nil {
		t.Fatalf("failed to parse test server url: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/game-ws"
	u.RawQuery = query
	return u.String()
}

func dialWS(t *testing.T, target string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestHandleWSJSONStreamAndInput(t *testing.T) {
	app := newTestApp(t)
	srv := newTestServer(t, app)
	conn := dialWS(t, wsURL(t, srv.URL, ""))

	for i := 0; i < 4; i++ {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("failed to read snapshot event %d: %v", i, err)
		}
		if _, err := ParseRegion(ev.Name); err != nil {
			t.Fatalf("unexpected event name %q", ev.Name)
		}
	}

	if err := conn.WriteJSON(InputMessage{Type: "key", Key: "p", Event: "keyup"}); err != nil {
		t.Fatalf("failed to send input: %v", err)
	}
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("failed to read delta: %v", err)
	}
	if ev.Name != "scoreboard" {
		t.Fatalf("expected scoreboard after pause toggle, got %s", ev.Name)
	}
	if app.Engine.Snapshot().Paused {
		t.Fatalf("expected websocket input to resume the game")
	}
}

func TestHandleWSMsgpackFrames(t *testing.T) {
	app := newTestApp(t)
	srv := newTestServer(t, app)
	conn := dialWS(t, wsURL(t, srv.URL, "format=msgpack"))

	mt, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("expected binary frame, got %d", mt)
	}
	var ev Event
	if err := msgpack.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("failed to decode msgpack frame: %v", err)
	}
	if ev.Name != "scoreboard" || ev.Data == "" {
		t.Fatalf("expected scoreboard first, got %+v", ev)
	}
}

func TestHandleWSRejectsUnknownFormat(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/game-ws?format=xml", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDecodeInput(t *testing.T) {
	app := newTestApp(t)
	cases := []struct {
		payload string
		ok      bool
		kind    InputKind
	}{
		{`{"type":"key","key":"w"}`, true, InputKey},
		{`{"type":"click","x":0.1,"y":0.2}`, true, InputClick},
		{`{"type":"click","x":0.1}`, false, 0},
		{`{"type":"move"}`, false, 0},
		{`not json`, false, 0},
	}
	for _, tc := range cases {
		in, ok := app.decodeInput([]byte(tc.payload))
		if ok != tc.ok || (ok && in.Kind != tc.kind) {
			t.Fatalf("decodeInput(%s) = %+v, %v", tc.payload, in, ok)
		}
	}
}

func TestHandleAdminConfig(t *testing.T) {
	app := newTestApp(t)
	handler := app.Handler()

	req := httptest.NewRequest(http.MethodPost, "/admin/config", strings.NewReader(`{"ball_speed":0.5,"click_policy":"paddle"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if tuning := app.Engine.Tuning(); tuning.BallSpeed != 0.5 || tuning.ClickPolicy != ClickPaddle {
		t.Fatalf("tuning not applied: %+v", tuning)
	}

	for _, body := range []string{`{"ball_speed":-1}`, `{"click_policy":"restart"}`, `{`} {
		req = httptest.NewRequest(http.MethodPost, "/admin/config", strings.NewReader(body))
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rec.Code)
		}
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/config", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var view map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if view["ball_speed"] != 0.5 || view["click_policy"] != "paddle" {
		t.Fatalf("unexpected config view %+v", view)
	}
}

func TestHandleAdminSchema(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/config/schema", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Pong tuning", "ball_speed", "click_policy"} {
		if !strings.Contains(body, want) {
			t.Fatalf("schema missing %q: %s", want, body)
		}
	}
}

func TestHandlePageHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)
	handler := app.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `sse-connect="/game-sse"`) {
		t.Fatalf("unexpected page response %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response %d %q", rec.Code, rec.Body.String())
	}

	app.Engine.Advance(0.1)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	var payload struct {
		Tick    int64          `json:"tick"`
		Viewers int            `json:"viewers"`
		Metrics map[string]any `json:"metrics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if payload.Tick != 1 || payload.Viewers != 0 {
		t.Fatalf("unexpected metrics payload %+v", payload)
	}
}

func TestAppRunStopsOnCancel(t *testing.T) {
	app := newTestApp(t)
	app.Config.HTTP.Addr = "127.0.0.1:0"
	app.Config.Game.TickInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
	if app.Engine.TickSeq() == 0 {
		t.Fatalf("expected the clock to tick while running")
	}
}
