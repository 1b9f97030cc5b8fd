// Package viewstate 管理活动 / 报告两个视图的选择与滚动跟随。
package viewstate

import (
	"sync"

	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
)

// View 视图。
type View string

const (
	ViewActivities View = "activities"
	ViewReport     View = "report"
)

// ParseView 校验视图名。
func ParseView(raw string) (View, error) {
	switch View(raw) {
	case ViewActivities, ViewReport:
		return View(raw), nil
	default:
		return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "ViewState.ParseView", "unknown view %q", raw)
	}
}

// DefaultBottomThreshold 距底部多少像素内视为到底。
const DefaultBottomThreshold = 24.0

// Observation 一次历史变化后视图层关心的事实。
type Observation struct {
	Streaming bool // 当前轮次仍在流式接收
	HasReport bool // 最新助手消息已包含报告
}

// State 视图状态快照。
type State struct {
	Active View                `json:"active"`
	Pinned bool                `json:"pinned"`
	Scroll map[View]ScrollInfo `json:"scroll"`
}

// Controller 单会话视图状态。并发安全。
type Controller struct {
	mu sync.Mutex

	pin       View // 为空表示未固定
	streaming bool
	hasReport bool
	followers map[View]*follower
}

// NewController threshold<=0 时使用 DefaultBottomThreshold。
func NewController(threshold float64) *Controller {
	if threshold <= 0 {
		threshold = DefaultBottomThreshold
	}
	return &Controller{
		followers: map[View]*follower{
			ViewActivities: newFollower(threshold),
			ViewReport:     newFollower(threshold),
		},
	}
}

// TurnStarted 新轮次开始: 清除固定, 两个视图恢复跟随。
func (c *Controller) TurnStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pin = ""
	c.streaming = true
	c.hasReport = false
	for _, f := range c.followers {
		f.resume()
	}
}

// Observe 记录最新的流状态与报告是否出现。
func (c *Controller) Observe(o Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaming = o.Streaming
	c.hasReport = o.HasReport
}

// Pin 固定视图直到下一轮开始。
func (c *Controller) Pin(view View) error {
	if _, err := ParseView(string(view)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pin = view
	return nil
}

// Scrolled 用户滚动: 向上滚动暂停跟随, 回到底部恢复。
func (c *Controller) Scrolled(view View, offset, max float64) error {
	if _, err := ParseView(string(view)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.followers[view].userScrolled(offset, max)
	return nil
}

// AutoScrolled 程序滚动到底部后记录位置, 不改变跟随状态。
func (c *Controller) AutoScrolled(view View, offset, max float64) error {
	if _, err := ParseView(string(view)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.followers[view].autoScrolled(offset, max)
	return nil
}

// ShouldFollow 视图是否应自动滚到底部。
func (c *Controller) ShouldFollow(view View) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.followers[view]
	return ok && f.mode == ScrollFollowing
}

// Active 当前应显示的视图。
func (c *Controller) Active() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

// State 快照。
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	scroll := make(map[View]ScrollInfo, len(c.followers))
	for v, f := range c.followers {
		scroll[v] = f.info()
	}
	return State{Active: c.activeLocked(), Pinned: c.pin != "", Scroll: scroll}
}

// activeLocked 未固定时: 流式中且无报告显示活动, 报告出现或流结束显示报告。
func (c *Controller) activeLocked() View {
	if c.pin != "" {
		return c.pin
	}
	if c.streaming && !c.hasReport {
		return ViewActivities
	}
	return ViewReport
}
