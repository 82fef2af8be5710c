package server

import (
	"sync"

	"github.com/google/uuid"
)

// minQueueSize 至少要放得下一份完整快照
const minQueueSize = 8

// Event 推送给客户端的具名事件，Data 为渲染好的片段
type Event struct {
	Name string `json:"event" msgpack:"event"`
	Data string `json:"data" msgpack:"data"`
}

// Viewer 一个长连接观众；传输层从 Events 读取并写出，Done 关闭后退出
type Viewer struct {
	ID        string
	Transport string

	send      chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (v *Viewer) Events() <-chan Event { return v.send }
func (v *Viewer) Done() <-chan struct{} { return v.done }

// enqueue 非阻塞入队；队列满说明客户端跟不上，返回 false
func (v *Viewer) enqueue(ev Event) bool {
	select {
	case <-v.done:
		return false
	default:
	}
	select {
	case v.send <- ev:
		return true
	default:
		return false
	}
}

func (v *Viewer) close() {
	v.closeOnce.Do(func() { close(v.done) })
}

// Hub 观众注册表：加入、离开与广播
type Hub struct {
	mu       sync.RWMutex
	viewers  map[string]*Viewer
	renderer Renderer
	queue    int
	metrics  *Metrics
	onLeave  func(remaining int)
}

// NewHub 创建注册表；m 可为 nil
func NewHub(r Renderer, queueSize int, m *Metrics) *Hub {
	if queueSize < minQueueSize {
		queueSize = minQueueSize
	}
	if m == nil {
		m = &Metrics{}
	}
	return &Hub{
		viewers:  make(map[string]*Viewer),
		renderer: r,
		queue:    queueSize,
		metrics:  m,
	}
}

// OnLeave 每有观众离开，在新协程中以剩余人数调用 fn
func (h *Hub) OnLeave(fn func(remaining int)) {
	h.mu.Lock()
	h.onLeave = fn
	h.mu.Unlock()
}

// NewViewer 分配一个未注册的观众
func (h *Hub) NewViewer(transport string) *Viewer {
	return &Viewer{
		ID:        uuid.NewString(),
		Transport: transport,
		send:      make(chan Event, h.queue),
		done:      make(chan struct{}),
	}
}

// Join 注册观众并入队完整快照，再把新的观众数推给其他人。
// 应在 Engine.View 内调用，保证之后的增量不会早于快照。
func (h *Hub) Join(v *Viewer, s GameState) {
	h.mu.Lock()
	h.viewers[v.ID] = v
	n := len(h.viewers)
	h.mu.Unlock()
	for _, ev := range h.render(s, AllRegions, n) {
		if v.enqueue(ev) {
			h.metrics.AddPushed(1)
		}
	}
	h.metrics.IncJoined()
	Log.Infof("viewer joined: id=%s transport=%s viewers=%d", v.ID, v.Transport, n)
	h.broadcast(h.render(s, Regions(RegionScoreboard), n), v.ID)
}

// Leave 注销并关闭观众，可重复调用
func (h *Hub) Leave(id string) {
	h.mu.Lock()
	v, ok := h.viewers[id]
	if ok {
		delete(h.viewers, id)
	}
	n := len(h.viewers)
	onLeave := h.onLeave
	h.mu.Unlock()
	if !ok {
		return
	}
	v.close()
	Log.Infof("viewer left: id=%s viewers=%d", id, n)
	if onLeave != nil {
		// 可能处于 Engine 锁内（Publish 中踢出），不能同步回调
		go onLeave(n)
	}
}

// Count 当前观众数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Publish 实现 Publisher：只渲染并推送变化的区域
func (h *Hub) Publish(s GameState, changed RegionSet) {
	h.Broadcast(h.render(s, changed, h.Count()))
}

// Broadcast 推送给所有观众；某个观众失败只会把它自己踢出
func (h *Hub) Broadcast(events []Event) {
	h.broadcast(events, "")
}

func (h *Hub) broadcast(events []Event, except string) {
	if len(events) == 0 {
		return
	}
	h.mu.RLock()
	targets := make([]*Viewer, 0, len(h.viewers))
	for id, v := range h.viewers {
		if id != except {
			targets = append(targets, v)
		}
	}
	h.mu.RUnlock()

	var slow []string
	for _, v := range targets {
		for _, ev := range events {
			if !v.enqueue(ev) {
				slow = append(slow, v.ID)
				break
			}
			h.metrics.AddPushed(1)
		}
	}
	for _, id := range slow {
		h.metrics.IncEvicted()
		Log.Warnf("evicting viewer %s: queue full or closed", id)
		h.Leave(id)
	}
}

// Close 关闭所有连接（服务退出时）
func (h *Hub) Close() {
	h.mu.Lock()
	viewers := h.viewers
	h.viewers = make(map[string]*Viewer)
	h.mu.Unlock()
	for _, v := range viewers {
		v.close()
	}
}

func (h *Hub) render(s GameState, regions RegionSet, viewers int) []Event {
	events := make([]Event, 0, regionCount)
	for _, r := range regions.List() {
		data, err := h.renderer.Fragment(r, s, viewers)
		if err != nil {
			Log.Errorf("render %s: %v", r, err)
			continue
		}
		events = append(events, Event{Name: r.String(), Data: data})
	}
	return events
}
