package server

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRegion 未知的推送区域名
var ErrUnknownRegion = errors.New("unknown region")

// Region 页面上可独立刷新的片段，也是推送事件的名字
type Region uint8

const (
	RegionScoreboard Region = iota
	RegionBatLeft
	RegionBatRight
	RegionBall
	regionCount
)

var regionNames = [regionCount]string{"scoreboard", "bat_left", "bat_right", "ball"}

func (r Region) String() string {
	if r < regionCount {
		return regionNames[r]
	}
	return fmt.Sprintf("region(%d)", uint8(r))
}

// ParseRegion 由事件名解析区域
func ParseRegion(name string) (Region, error) {
	for i, n := range regionNames {
		if n == name {
			return Region(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRegion, name)
}

// RegionSet 区域位集合
type RegionSet uint8

// AllRegions 新连接需要的完整快照
const AllRegions RegionSet = 1<<regionCount - 1

// Regions 构造集合
func Regions(rs ...Region) RegionSet {
	var s RegionSet
	for _, r := range rs {
		s = s.Add(r)
	}
	return s
}

func (s RegionSet) Add(r Region) RegionSet { return s | 1<<r }
func (s RegionSet) Has(r Region) bool { return s&(1<<r) != 0 }
func (s RegionSet) Empty() bool { return s == 0 }

// List 按固定顺序展开
func (s RegionSet) List() []Region {
	out := make([]Region, 0, regionCount)
	for r := Region(0); r < regionCount; r++ {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s RegionSet) String() string {
	names := make([]string, 0, regionCount)
	for _, r := range s.List() {
		names = append(names, r.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Diff 比较前后两个快照，返回实际变化的区域。
// scoreboard：比分或暂停状态；bat_*：位置、方向或高度；ball：位置。
func Diff(before, after GameState) RegionSet {
	var s RegionSet
	if before.Left.Score != after.Left.Score ||
		before.Right.Score != after.Right.Score ||
		before.Paused != after.Paused {
		s = s.Add(RegionScoreboard)
	}
	if paddleChanged(before.Left, after.Left) {
		s = s.Add(RegionBatLeft)
	}
	if paddleChanged(before.Right, after.Right) {
		s = s.Add(RegionBatRight)
	}
	if before.Ball.Pos != after.Ball.Pos {
		s = s.Add(RegionBall)
	}
	return s
}

func paddleChanged(a, b Paddle) bool {
	return a.Position != b.Position || a.Dir != b.Dir || a.Height != b.Height
}
