package server

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/rand"
)

// Publisher 接收变化后的快照与变化区域。
// 在 Engine 锁内调用，实现方不得阻塞，也不得回调 Engine。
type Publisher interface {
	Publish(s GameState, changed RegionSet)
}

// Engine 对局引擎：权威状态维护在内存，所有修改（Tick、按键、点击）经过同一把锁
type Engine struct {
	mu     sync.Mutex
	state  GameState
	tuning Tuning
	keys   KeyTable
	rng    *rand.Rand
	pub    Publisher

	metrics *Metrics
	tickSeq int64
}

// NewEngine 创建引擎并初始化状态；pub 与 m 可为 nil
func NewEngine(cfg GameConfig, pub Publisher, m *Metrics) (*Engine, error) {
	keys, err := NewKeyTable(cfg.PauseKey, cfg.Left, cfg.Right)
	if err != nil {
		return nil, fmt.Errorf("key bindings: %w", err)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if m == nil {
		m = &Metrics{}
	}
	return &Engine{
		state:   NewGameState(cfg),
		tuning:  tuningFromConfig(cfg),
		keys:    keys,
		rng:     rand.New(rand.NewSource(seed)),
		pub:     pub,
		metrics: m,
	}, nil
}

// mutate 在锁内修改状态并把变化交给 Publisher。
// fn panic 时状态与 Tick 计数都回滚到修改前，单次错误不会破坏对局或打断 Tick 循环。
func (e *Engine) mutate(op string, fn func(s *GameState)) (changed RegionSet) {
	e.mu.Lock()
	defer e.mu.Unlock()

	before, seq := e.state, e.tickSeq
	defer func() {
		if r := recover(); r != nil {
			e.state = before
			e.tickSeq = seq
			changed = 0
			e.metrics.IncPanicsRecovered()
			Log.Errorf("recovered panic in %s: %v", op, r)
		}
	}()

	fn(&e.state)
	changed = Diff(before, e.state)
	if !changed.Empty() && e.pub != nil {
		e.pub.Publish(e.state, changed)
	}
	return changed
}

// Advance 推进一个 Tick；暂停时不产生任何变化
func (e *Engine) Advance(dt float64) RegionSet {
	var res tickResult
	changed := e.mutate("tick", func(s *GameState) {
		e.tickSeq++
		res = advance(s, e.tuning, dt, e.rng)
	})
	if res.Goal {
		e.metrics.IncGoals()
		Log.Infof("goal: %s scores", res.Scorer)
	}
	return changed
}

// HandleKeypress 应用一次按键；未知按键被忽略
func (e *Engine) HandleKeypress(key string, tr KeyTransition) RegionSet {
	var known bool
	changed := e.mutate("keypress", func(s *GameState) {
		wasPaused := s.Paused
		known = applyKey(s, e.keys, key, tr)
		if s.Paused != wasPaused {
			Log.Infof("pause toggled: paused=%v", s.Paused)
		}
	})
	e.count(known)
	return changed
}

// HandleClick 按当前点击策略处理一次点击，坐标非法时忽略
func (e *Engine) HandleClick(x, y float64) RegionSet {
	var ok bool
	changed := e.mutate("click", func(s *GameState) {
		ok = applyClick(s, e.tuning.ClickPolicy, x, y)
	})
	e.count(ok)
	return changed
}

// Apply 分发一个输入事件
func (e *Engine) Apply(in InputEvent) RegionSet {
	switch in.Kind {
	case InputKey:
		return e.HandleKeypress(in.Key, in.Transition)
	case InputClick:
		return e.HandleClick(in.X, in.Y)
	default:
		e.metrics.IncIgnored()
		return 0
	}
}

// SetPaused 直接设置暂停状态（例如最后一个观众离开时）
func (e *Engine) SetPaused(paused bool) RegionSet {
	return e.mutate("pause", func(s *GameState) { s.Paused = paused })
}

// PauseIf 在锁内判断 cond，成立才暂停。
// 新观众在 Engine.View 内注册，所以 cond 看到的人数不会落后于已完成的 Join。
func (e *Engine) PauseIf(cond func() bool) RegionSet {
	return e.mutate("pause", func(s *GameState) {
		if cond() {
			s.Paused = true
		}
	})
}

// Republish 在锁内按当前状态重新推送指定区域，状态本身不变（如观众数变化后刷新记分牌）
func (e *Engine) Republish(regions RegionSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !regions.Empty() && e.pub != nil {
		e.pub.Publish(e.state, regions)
	}
}

// InferTransition 见 KeyTable.InferTransition
func (e *Engine) InferTransition(key, event string) KeyTransition {
	return e.keys.InferTransition(key, event)
}

func (e *Engine) count(accepted bool) {
	if accepted {
		e.metrics.IncAccepted()
	} else {
		e.metrics.IncIgnored()
	}
}

// Snapshot 返回当前状态的副本
func (e *Engine) Snapshot() GameState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// View 在锁内以当前快照调用 fn，期间不会有其他修改被发布。
// 新连接借此在注册的同时拿到完整快照，不会漏掉或错序任何增量。
func (e *Engine) View(fn func(s GameState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}

// TickSeq 已执行的 Tick 次数
func (e *Engine) TickSeq() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickSeq
}

// Tuning 当前物理参数
func (e *Engine) Tuning() Tuning {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tuning
}

// UpdateTuning 在锁内修改参数，fn 返回错误时不生效
func (e *Engine) UpdateTuning(fn func(t *Tuning) error) (Tuning, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.tuning
	if err := fn(&next); err != nil {
		return e.tuning, err
	}
	e.tuning = next
	return next, nil
}
