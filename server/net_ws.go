package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	wsReadLimit  = 4 << 10
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// InputMessage websocket 入站输入（文本 JSON）
// 示例：{"type":"key","key":"w","event":"keydown"} / {"type":"click","x":0.3,"y":0.7}
type InputMessage struct {
	Type  string   `json:"type"`
	Key   string   `json:"key,omitempty"`
	Event string   `json:"event,omitempty"`
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
}

// frameCodec 事件编码：json 走文本帧，msgpack 走二进制帧
type frameCodec struct {
	name        string
	messageType int
	marshal     func(any) ([]byte, error)
}

var (
	jsonCodec    = frameCodec{name: "json", messageType: websocket.TextMessage, marshal: json.Marshal}
	msgpackCodec = frameCodec{name: "msgpack", messageType: websocket.BinaryMessage, marshal: msgpack.Marshal}
)

func codecFor(format string) (frameCodec, bool) {
	switch strings.ToLower(format) {
	case "", "json":
		return jsonCodec, true
	case "msgpack":
		return msgpackCodec, true
	default:
		return frameCodec{}, false
	}
}

// ClientConn websocket 观众：写协程推送事件，读协程接收输入
type ClientConn struct {
	ws     *websocket.Conn
	viewer *Viewer
	codec  frameCodec
}

// writePump 独立协程，负责从观众队列写出到 WS
func (c *ClientConn) writePump(app *App) {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		app.Hub.Leave(c.viewer.ID)
		_ = c.ws.Close()
	}()
	deadline := func() {
		if app.Config.HTTP.WriteTimeout > 0 {
			_ = c.ws.SetWriteDeadline(time.Now().Add(app.Config.HTTP.WriteTimeout))
		}
	}
	for {
		select {
		case <-c.viewer.Done():
			deadline()
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ping.C:
			deadline()
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev := <-c.viewer.Events():
			b, err := c.codec.marshal(ev)
			if err != nil {
				Log.Errorf("ws: encode %s: %v", ev.Name, err)
				continue
			}
			deadline()
			if err := c.ws.WriteMessage(c.codec.messageType, b); err != nil {
				Log.Infof("ws: write to %s failed: %v", c.viewer.ID, err)
				return
			}
		}
	}
}

// readPump 读取客户端输入，转换为 InputEvent 交给引擎
func (c *ClientConn) readPump(app *App) {
	defer func() {
		// 读泵退出即视为断开
		app.Hub.Leave(c.viewer.ID)
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(wsReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		in, ok := app.decodeInput(payload)
		if !ok {
			app.Metrics.IncIgnored()
			continue
		}
		app.Engine.Apply(in)
	}
}

func (a *App) decodeInput(payload []byte) (InputEvent, bool) {
	var im InputMessage
	if err := json.Unmarshal(payload, &im); err != nil {
		return InputEvent{}, false
	}
	switch strings.ToLower(im.Type) {
	case "key":
		return InputEvent{
			Kind:       InputKey,
			Key:        im.Key,
			Transition: a.Engine.InferTransition(im.Key, im.Event),
		}, true
	case "click":
		if im.X == nil || im.Y == nil {
			return InputEvent{}, false
		}
		return InputEvent{Kind: InputClick, X: *im.X, Y: *im.Y}, true
	default:
		return InputEvent{}, false
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 无鉴权的公开对局，允许所有来源
		return true
	},
}

// HandleWS GET /game-ws?format=json|msgpack，与 /game-sse 推送相同的事件
func (a *App) HandleWS(w http.ResponseWriter, r *http.Request) {
	codec, ok := codecFor(r.URL.Query().Get("format"))
	if !ok {
		http.Error(w, "unsupported format", http.StatusBadRequest)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("ws: upgrade error: %v", err)
		return
	}

	client := &ClientConn{ws: ws, viewer: a.Hub.NewViewer("ws-" + codec.name), codec: codec}
	a.Engine.View(func(s GameState) { a.Hub.Join(client.viewer, s) })

	go client.writePump(a)
	go client.readPump(a)
}
