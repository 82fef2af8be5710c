package server

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrKeyConflict 同一个按键被绑定到多个动作
var ErrKeyConflict = errors.New("key bound more than once")

// KeyTransition 按下或松开
type KeyTransition int

const (
	KeyPress KeyTransition = iota
	KeyRelease
)

func (t KeyTransition) String() string {
	if t == KeyRelease {
		return "release"
	}
	return "press"
}

// ParseTransition 解析前端上报的事件名（keydown/keyup 等）
func ParseTransition(event string) (KeyTransition, bool) {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case "keydown", "press", "down":
		return KeyPress, true
	case "keyup", "release", "up":
		return KeyRelease, true
	default:
		return KeyPress, false
	}
}

// InputKind 输入类型
type InputKind int

const (
	InputKey InputKind = iota
	InputClick
)

// InputEvent 客户端输入（意图），到达即被应用，不做持久化
type InputEvent struct {
	Kind       InputKind
	Key        string
	Transition KeyTransition
	X, Y       float64
}

// KeyAction 按键映射到的动作：哪一侧、往哪走
type KeyAction struct {
	Side Side
	Dir  Direction
}

// KeyTable 按键 → 动作的映射表，由配置生成
type KeyTable struct {
	pause   string
	actions map[string]KeyAction
}

// NewKeyTable 构建映射表，空键跳过，重复绑定报错
func NewKeyTable(pauseKey string, left, right BindingConfig) (KeyTable, error) {
	t := KeyTable{pause: pauseKey, actions: make(map[string]KeyAction, 4)}
	seen := map[string]string{}
	if pauseKey != "" {
		seen[pauseKey] = "pause"
	}
	bind := func(key, name string, act KeyAction) error {
		if key == "" {
			return nil
		}
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("%w: %q used by %s and %s", ErrKeyConflict, key, prev, name)
		}
		seen[key] = name
		t.actions[key] = act
		return nil
	}
	if err := errors.Join(
		bind(left.UpKey, "left.up", KeyAction{SideLeft, DirUp}),
		bind(left.DownKey, "left.down", KeyAction{SideLeft, DirDown}),
		bind(right.UpKey, "right.up", KeyAction{SideRight, DirUp}),
		bind(right.DownKey, "right.down", KeyAction{SideRight, DirDown}),
	); err != nil {
		return KeyTable{}, err
	}
	return t, nil
}

// IsPause 是否为暂停键
func (t KeyTable) IsPause(key string) bool {
	return key != "" && key == t.pause
}

// Lookup 查找移动键
func (t KeyTable) Lookup(key string) (KeyAction, bool) {
	act, ok := t.actions[key]
	return act, ok
}

// InferTransition 前端只在 keydown 时上报移动键、keyup 时上报暂停键，
// 没有 event 字段时按此推断
func (t KeyTable) InferTransition(key, event string) KeyTransition {
	if tr, ok := ParseTransition(event); ok {
		return tr
	}
	if t.IsPause(key) {
		return KeyRelease
	}
	return KeyPress
}

// applyKey 在锁内执行；返回是否识别了该按键
func applyKey(s *GameState, table KeyTable, key string, tr KeyTransition) bool {
	if key == "" {
		return false
	}
	s.LastKey = key
	if table.IsPause(key) {
		if tr == KeyRelease {
			s.Paused = !s.Paused
		}
		return true
	}
	act, ok := table.Lookup(key)
	if !ok {
		return false
	}
	p := s.paddle(act.Side)
	switch tr {
	case KeyPress:
		p.Dir = act.Dir
	case KeyRelease:
		// 只有松开的正是当前方向时才停下，已被新按键覆盖的旧键松开无效
		if p.Dir == act.Dir {
			p.Dir = DirIdle
		}
	}
	return true
}

// ClickPolicy 点击的处理策略
type ClickPolicy string

const (
	ClickNone   ClickPolicy = "none"
	ClickResume ClickPolicy = "resume"
	ClickPaddle ClickPolicy = "paddle"
)

// ParseClickPolicy 空字符串视为 none
func ParseClickPolicy(s string) (ClickPolicy, error) {
	switch p := ClickPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", ClickNone:
		return ClickNone, nil
	case ClickResume, ClickPaddle:
		return p, nil
	default:
		return "", fmt.Errorf("%w: click policy %q", ErrInvalidConfig, s)
	}
}

// validPoint 坐标必须是 [0,1] 内的有限值
func validPoint(x, y float64) bool {
	for _, v := range [2]float64{x, y} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return false
		}
	}
	return true
}

// applyClick 在锁内执行；返回是否接受了该点击
func applyClick(s *GameState, policy ClickPolicy, x, y float64) bool {
	if !validPoint(x, y) {
		return false
	}
	switch policy {
	case ClickResume:
		s.Paused = false
	case ClickPaddle:
		if s.Paused {
			s.Paused = false
			return true
		}
		side := SideLeft
		if x >= 0.5 {
			side = SideRight
		}
		p := s.paddle(side)
		step := p.Height / 2
		if y-p.Height/2 < p.Position {
			p.Position -= step
		} else {
			p.Position += step
		}
		p.clamp()
	}
	return true
}
