package server

import "math"

// Side 球拍所属的一侧
type Side int

const (
	SideLeft Side = iota
	SideRight
)

func (s Side) String() string {
	if s == SideRight {
		return "right"
	}
	return "left"
}

// Opponent 返回对手一侧
func (s Side) Opponent() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

// Direction 球拍移动方向（服务端权威解释客户端按键）
type Direction int

const (
	DirIdle Direction = iota
	DirUp
	DirDown
)

func (d Direction) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	default:
		return "idle"
	}
}

// sign 屏幕坐标中 y 向下增长，向上移动为负
func (d Direction) sign() float64 {
	switch d {
	case DirUp:
		return -1
	case DirDown:
		return 1
	default:
		return 0
	}
}

// Vec 归一化坐标（场地宽高均为 1）
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec) finite() bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

// Ball 球的位置、速度（场地/秒）与半径
type Ball struct {
	Pos    Vec     `json:"position"`
	Vel    Vec     `json:"velocity"`
	Radius float64 `json:"radius"`
}

// Paddle 球拍：Position 为上沿，取值范围 [0, 1-Height]
type Paddle struct {
	UpKey    string    `json:"up_key"`
	DownKey  string    `json:"down_key"`
	Position float64   `json:"position"`
	Height   float64   `json:"height"`
	Dir      Direction `json:"direction"`
	Score    int       `json:"score"`
}

// Center 球拍中心的纵坐标
func (p Paddle) Center() float64 {
	return p.Position + p.Height/2
}

// Covers 判断纵坐标 y 是否落在球拍范围内（含球半径容差）
func (p Paddle) Covers(y, tolerance float64) bool {
	return y >= p.Position-tolerance && y <= p.Position+p.Height+tolerance
}

// clamp 越界裁剪，保证球拍完整留在场内
func (p *Paddle) clamp() {
	if math.IsNaN(p.Height) || p.Height <= 0 || p.Height >= 1 {
		p.Height = defaultPaddleHeight
	}
	limit := 1 - p.Height
	switch {
	case math.IsNaN(p.Position):
		p.Position = limit / 2
	case p.Position < 0:
		p.Position = 0
	case p.Position > limit:
		p.Position = limit
	}
}

// GameState 全局唯一的对局状态，只由 Engine 在锁内修改。
// 全部为值类型，赋值即得到一致的快照。
type GameState struct {
	Ball    Ball   `json:"ball"`
	Left    Paddle `json:"left"`
	Right   Paddle `json:"right"`
	Paused  bool   `json:"paused"`
	LastKey string `json:"last_key"`
}

func (s *GameState) paddle(side Side) *Paddle {
	if side == SideRight {
		return &s.Right
	}
	return &s.Left
}

// NewGameState 初始状态：球居中，球拍居中，比分清零
func NewGameState(cfg GameConfig) GameState {
	newPaddle := func(b BindingConfig) Paddle {
		p := Paddle{
			UpKey:    b.UpKey,
			DownKey:  b.DownKey,
			Height:   cfg.PaddleHeight,
			Position: (1 - cfg.PaddleHeight) / 2,
		}
		p.clamp()
		return p
	}
	return GameState{
		Ball: Ball{
			Pos:    Vec{X: 0.5, Y: 0.5},
			Vel:    Vec{X: cfg.BallSpeed, Y: 0},
			Radius: cfg.BallRadius,
		},
		Left:   newPaddle(cfg.Left),
		Right:  newPaddle(cfg.Right),
		Paused: cfg.StartPaused,
	}
}
