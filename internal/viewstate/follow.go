package viewstate

// ScrollMode 滚动跟随状态。
type ScrollMode string

const (
	ScrollFollowing  ScrollMode = "following"
	ScrollUserPaused ScrollMode = "userPaused"
)

// ScrollInfo 单视图的滚动状态。
type ScrollInfo struct {
	Mode   ScrollMode `json:"mode"`
	Offset float64    `json:"offset"`
	Max    float64    `json:"max"`
}

// follower 显式状态机:
//
//	following  --向上滚动-->  userPaused
//	userPaused --回到底部-->  following
//	任意状态   --新轮次-->    following
type follower struct {
	mode      ScrollMode
	offset    float64
	max       float64
	threshold float64
}

func newFollower(threshold float64) *follower {
	return &follower{mode: ScrollFollowing, threshold: threshold}
}

func (f *follower) resume() {
	f.mode = ScrollFollowing
}

func (f *follower) userScrolled(offset, max float64) {
	delta := offset - f.offset
	f.offset, f.max = offset, max
	switch {
	case f.atBottom():
		f.mode = ScrollFollowing
	case delta < 0:
		f.mode = ScrollUserPaused
	}
}

func (f *follower) autoScrolled(offset, max float64) {
	f.offset, f.max = offset, max
}

func (f *follower) atBottom() bool {
	return f.max-f.offset <= f.threshold
}

func (f *follower) info() ScrollInfo {
	return ScrollInfo{Mode: f.mode, Offset: f.offset, Max: f.max}
}
