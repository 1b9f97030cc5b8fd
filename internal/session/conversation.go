package session

import (
	"context"
	"errors"
	"sync"

	"github.com/multi-agent/deepinsight-client/internal/assembler"
	"github.com/multi-agent/deepinsight-client/internal/history"
	"github.com/multi-agent/deepinsight-client/internal/viewstate"
	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
	"github.com/multi-agent/deepinsight-client/pkg/util"
)

// Conversation 一个会话: 历史、组装器与视图状态。会话之间互不共享状态。
type Conversation struct {
	id      string
	manager *Manager
	history *history.Store
	asm     *assembler.Assembler
	view    *viewstate.Controller

	mu          sync.Mutex // 保护 lastOutcome
	lastOutcome *assembler.Outcome
}

func newConversation(m *Manager, id string) *Conversation {
	c := &Conversation{
		id:      id,
		manager: m,
		history: history.NewStore(m.deps.MergeMode),
		view:    viewstate.NewController(m.deps.BottomThreshold),
	}
	c.asm = assembler.New(c.history, m.deps.Transport, assembler.Options{
		ConversationID: id,
		Notifier:       assembler.NotifierFunc(m.notify),
		OnChange:       c.changed,
	})
	return c
}

// ID 会话 id。
func (c *Conversation) ID() string { return c.id }

// History 底层历史。
func (c *Conversation) History() *history.Store { return c.history }

// State 当前轮次状态。
func (c *Conversation) State() assembler.State { return c.asm.State() }

// SubmitQuestion 以当前偏好快照提交问题。已有进行中的轮次时忽略, 返回 (nil, nil)。
func (c *Conversation) SubmitQuestion(ctx context.Context, text string, docIDs []string) (*assembler.Turn, error) {
	req := assembler.TurnRequest{Question: text, DocIDs: docIDs, Preferences: c.manager.preferences(ctx)}
	turn, err := c.asm.Submit(ctx, req)
	if errors.Is(err, apperrors.ErrTurnInFlight) {
		logger.FromContext(ctx).Debug("session: submit ignored, turn in flight", logger.FieldConversationID, c.id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.started(ctx, turn)
	return turn, nil
}

// Resubmit 从指定问题重新生成; 问题之后的消息同时从归档删除。
func (c *Conversation) Resubmit(ctx context.Context, questionID string) (*assembler.Turn, error) {
	dropped := c.idsAfter(questionID)
	turn, err := c.asm.Resubmit(ctx, questionID, c.manager.preferences(ctx))
	if err != nil {
		return nil, err
	}
	c.manager.archiveDelete(ctx, c.id, dropped)
	c.started(ctx, turn)
	return turn, nil
}

// Cancel 中止进行中的轮次。
func (c *Conversation) Cancel() bool {
	return c.asm.Cancel()
}

// RemoveMessage 删除消息 (问题连同其答案)。轮次进行中时拒绝。
func (c *Conversation) RemoveMessage(ctx context.Context, id string) ([]string, error) {
	if c.asm.State().InFlight() {
		return nil, apperrors.Wrap(apperrors.ErrTurnInFlight, "Conversation.RemoveMessage", "turn in flight")
	}
	removed, err := c.history.RemoveMessage(id)
	if err != nil {
		return nil, err
	}
	c.manager.archiveDelete(ctx, c.id, removed)
	c.changed()
	return removed, nil
}

// PinView 固定视图直到下一轮开始。
func (c *Conversation) PinView(view viewstate.View) error {
	if err := c.view.Pin(view); err != nil {
		return err
	}
	c.publish()
	return nil
}

// Scrolled 用户滚动。
func (c *Conversation) Scrolled(view viewstate.View, offset, max float64) error {
	if err := c.view.Scrolled(view, offset, max); err != nil {
		return err
	}
	c.publish()
	return nil
}

// AutoScrolled 程序滚动, 只记录位置。
func (c *Conversation) AutoScrolled(view viewstate.View, offset, max float64) error {
	return c.view.AutoScrolled(view, offset, max)
}

// ShouldFollow 视图是否应自动滚到底部。
func (c *Conversation) ShouldFollow(view viewstate.View) bool {
	return c.view.ShouldFollow(view)
}

// View 当前快照。
func (c *Conversation) View() View {
	msgs := c.history.Snapshot()
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, buildMessageView(c.manager.builder, m))
	}
	v := View{
		ConversationID: c.id,
		Version:        c.history.Version(),
		Messages:       out,
		ViewState:      c.view.State(),
		TurnState:      c.asm.State(),
		Generation:     c.asm.Generation(),
	}
	c.mu.Lock()
	if c.lastOutcome != nil {
		o := *c.lastOutcome
		v.LastOutcome = &o
	}
	c.mu.Unlock()
	return v
}

// load 用已冻结的历史替换当前内容。
func (c *Conversation) load(msgs []history.Message) {
	c.history.Load(msgs)
	c.view.Observe(observation(c.history.Snapshot(), assembler.StateIdle))
}

// started 新轮次: 视图恢复默认, 结束后归档。
func (c *Conversation) started(ctx context.Context, turn *assembler.Turn) {
	c.view.TurnStarted()
	c.changed()

	archiveCtx := context.WithoutCancel(ctx)
	util.SafeGo(func() {
		<-turn.Done()
		o := turn.Outcome()
		c.mu.Lock()
		c.lastOutcome = &o
		c.mu.Unlock()
		if o.StartNewConversation {
			logger.FromContext(archiveCtx).Info("session: backend asked for a new conversation",
				logger.FieldConversationID, c.id,
				logger.FieldTurnID, o.TurnID,
			)
		}
		c.manager.archiveSave(archiveCtx, c.id, c.history.Snapshot())
		c.publish()
	})
}

// changed 组装器回调: 刷新视图状态并推送。
func (c *Conversation) changed() {
	c.view.Observe(observation(c.history.Snapshot(), c.asm.State()))
	c.publish()
}

func (c *Conversation) publish() {
	if c.manager.deps.OnChange != nil {
		c.manager.deps.OnChange(c.View())
	}
}

func (c *Conversation) idsAfter(id string) []string {
	msgs := c.history.Snapshot()
	for i, m := range msgs {
		if m.ID != id {
			continue
		}
		ids := make([]string, 0, len(msgs)-i-1)
		for _, rest := range msgs[i+1:] {
			ids = append(ids, rest.ID)
		}
		return ids
	}
	return nil
}
