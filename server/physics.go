package server

import (
	"math"

	"golang.org/x/exp/rand"
)

const (
	defaultPaddleHeight = 0.2
	minPaddleHeight     = 0.05
	maxPaddleHeight     = 0.5
	handicapGrow        = 1.1
	handicapShrink      = 0.9
)

// Tuning 可在运行期热更新的物理参数
type Tuning struct {
	PaddleStep       float64     `json:"paddle_step"`
	PaddleInset      float64     `json:"paddle_inset"`
	BallSpeed        float64     `json:"ball_speed"`
	Deflection       float64     `json:"deflection"`
	MaxVerticalSpeed float64     `json:"max_vertical_speed"`
	ClickPolicy      ClickPolicy `json:"click_policy"`
	Handicap         bool        `json:"handicap"`
}

func tuningFromConfig(cfg GameConfig) Tuning {
	return Tuning{
		PaddleStep:       cfg.PaddleStep,
		PaddleInset:      cfg.PaddleInset,
		BallSpeed:        cfg.BallSpeed,
		Deflection:       cfg.Deflection,
		MaxVerticalSpeed: cfg.MaxVerticalSpeed,
		ClickPolicy:      cfg.ClickPolicy,
		Handicap:         cfg.Handicap,
	}
}

// tickResult 单个 Tick 的结果，用于日志
type tickResult struct {
	Goal   bool
	Scorer Side
	Hit    bool
}

// advance 推进一个 Tick：移动球拍 → 移动球 → 墙面反弹 → 球拍碰撞或进球。
// 暂停时不做任何修改。
func advance(s *GameState, t Tuning, dt float64, rng *rand.Rand) tickResult {
	var res tickResult
	if s.Paused {
		return res
	}
	movePaddle(&s.Left, t.PaddleStep)
	movePaddle(&s.Right, t.PaddleStep)

	b := &s.Ball
	if !b.Pos.finite() || !b.Vel.finite() {
		resetBall(b, t, rng)
		return res
	}
	prev := b.Pos
	next := Vec{X: prev.X + b.Vel.X*dt, Y: prev.Y + b.Vel.Y*dt}

	leftPlane, rightPlane := t.PaddleInset, 1-t.PaddleInset
	switch {
	case b.Vel.X > 0 && next.X >= rightPlane:
		res = crossPlane(s, SideRight, prev, &next, rightPlane, t, rng)
	case b.Vel.X < 0 && next.X <= leftPlane:
		res = crossPlane(s, SideLeft, prev, &next, leftPlane, t, rng)
	}
	if res.Goal {
		return res
	}

	next.Y, b.Vel.Y = bounceWalls(next.Y, b.Vel.Y, b.Radius)
	b.Pos = Vec{X: clamp(next.X, 0, 1), Y: clamp(next.Y, 0, 1)}
	return res
}

// crossPlane 球心越过某侧球拍所在的竖直线：在范围内反弹，否则对方得分
func crossPlane(s *GameState, side Side, prev Vec, next *Vec, plane float64, t Tuning, rng *rand.Rand) tickResult {
	b := &s.Ball
	p := s.paddle(side)

	// 越线瞬间的纵坐标（线性插值）
	frac := 0.0
	if dx := next.X - prev.X; dx != 0 {
		frac = clamp((plane-prev.X)/dx, 0, 1)
	}
	yAt := clamp(prev.Y+(next.Y-prev.Y)*frac, 0, 1)

	if !p.Covers(yAt, b.Radius) {
		scorer := side.Opponent()
		s.paddle(scorer).Score++
		if t.Handicap {
			resize(p, handicapGrow)
		}
		resetBall(b, t, rng)
		return tickResult{Goal: true, Scorer: scorer}
	}

	next.X = plane - (next.X - plane)
	if side == SideRight {
		b.Vel.X = -math.Abs(b.Vel.X)
		next.X = math.Min(next.X, plane)
	} else {
		b.Vel.X = math.Abs(b.Vel.X)
		next.X = math.Max(next.X, plane)
	}
	offset := 0.0
	if p.Height > 0 {
		offset = clamp((yAt-p.Center())/(p.Height/2), -1, 1)
	}
	b.Vel.Y = clamp(b.Vel.Y+offset*t.Deflection, -t.MaxVerticalSpeed, t.MaxVerticalSpeed)
	if t.Handicap {
		resize(p, handicapShrink)
	}
	return tickResult{Hit: true}
}

func movePaddle(p *Paddle, step float64) {
	if p.Dir != DirIdle {
		p.Position += p.Dir.sign() * step
	}
	p.clamp()
}

// bounceWalls 上下墙面镜面反弹
func bounceWalls(y, vy, r float64) (float64, float64) {
	lo, hi := r, 1-r
	switch {
	case y < lo:
		y = lo + (lo - y)
		vy = math.Abs(vy)
	case y > hi:
		y = hi - (y - hi)
		vy = -math.Abs(vy)
	}
	return clamp(y, lo, hi), vy
}

// resetBall 球回到中心，随机向一侧重新发球
func resetBall(b *Ball, t Tuning, rng *rand.Rand) {
	b.Pos = Vec{X: 0.5, Y: 0.5}
	dir := float64(rng.Intn(2)*2 - 1)
	b.Vel = Vec{
		X: dir * t.BallSpeed,
		Y: (rng.Float64()*2 - 1) * t.BallSpeed / 2,
	}
}

func resize(p *Paddle, factor float64) {
	p.Height = clamp(p.Height*factor, minPaddleHeight, maxPaddleHeight)
	p.clamp()
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
