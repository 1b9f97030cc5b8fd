// Package session 管理多个会话: 每个会话持有自己的历史、组装器与视图状态,
// 负责从归档或后端恢复历史, 并在轮次结束时归档。
package session

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/multi-agent/deepinsight-client/internal/assembler"
	"github.com/multi-agent/deepinsight-client/internal/backend"
	"github.com/multi-agent/deepinsight-client/internal/history"
	"github.com/multi-agent/deepinsight-client/internal/timeline"
	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
)

// Archive 冻结消息的持久化。
type Archive interface {
	Save(ctx context.Context, conversationID string, msgs []history.Message) (int, error)
	Load(ctx context.Context, conversationID string) ([]history.Message, error)
	DeleteMessages(ctx context.Context, conversationID string, ids []string) (int64, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// HistorySource 后端会话历史。
type HistorySource interface {
	History(ctx context.Context, conversationID string) (backend.ConversationHistory, error)
}

// PreferenceSource 提交时的偏好快照。
type PreferenceSource interface {
	Snapshot(ctx context.Context) assembler.Preferences
}

// Deps 构造依赖; 除 Transport 外均可为空。
type Deps struct {
	Transport       assembler.Transport
	Archive         Archive
	Backend         HistorySource
	Preferences     PreferenceSource
	Timeline        *timeline.Builder
	MergeMode       history.MergeMode
	BottomThreshold float64

	// OnChange 会话变化后收到最新快照。
	OnChange func(View)
	// OnNotice 轮次失败通知, 每个失败轮次一条。
	OnNotice func(assembler.Notice)
}

// Manager 会话集合。
type Manager struct {
	deps    Deps
	builder *timeline.Builder

	mu            sync.Mutex
	conversations map[string]*Conversation
}

// NewManager 创建会话管理器。
func NewManager(deps Deps) *Manager {
	b := deps.Timeline
	if b == nil {
		b = timeline.NewBuilder(timeline.Options{})
	}
	if deps.MergeMode == "" {
		deps.MergeMode = history.ModeSnapshot
	}
	return &Manager{deps: deps, builder: b, conversations: make(map[string]*Conversation)}
}

// Create 新建空会话, id 为空时生成。
func (m *Manager) Create(id string) (*Conversation, error) {
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[id]; ok {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "Session.Create", "conversation %s exists", id)
	}
	c := newConversation(m, id)
	m.conversations[id] = c
	logger.Info("session: conversation created", logger.FieldConversationID, id)
	return c, nil
}

// Get 已打开的会话。
func (m *Manager) Get(id string) (*Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	return c, ok
}

// Open 返回已打开的会话, 否则创建并恢复历史 (归档优先, 其次后端)。
func (m *Manager) Open(ctx context.Context, id string) (*Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "Session.Open", "empty conversation id")
	}
	if c, ok := m.Get(id); ok {
		return c, nil
	}
	msgs, err := m.hydrate(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	c, ok := m.conversations[id]
	if !ok {
		c = newConversation(m, id)
		c.load(msgs)
		m.conversations[id] = c
	}
	m.mu.Unlock()
	return c, nil
}

// Hydrate 重新从归档或后端加载已打开会话的历史。轮次进行中时拒绝。
func (m *Manager) Hydrate(ctx context.Context, id string) (*Conversation, error) {
	c, ok := m.Get(id)
	if !ok {
		return m.Open(ctx, id)
	}
	if c.State().InFlight() {
		return nil, apperrors.Wrap(apperrors.ErrTurnInFlight, "Session.Hydrate", "turn in flight")
	}
	msgs, err := m.hydrate(ctx, id)
	if err != nil {
		return nil, err
	}
	c.load(msgs)
	c.publish()
	return c, nil
}

// Delete 取消进行中的轮次并移除会话及其归档。
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	c, ok := m.conversations[id]
	delete(m.conversations, id)
	m.mu.Unlock()
	if ok {
		c.Cancel()
	}
	if m.deps.Archive != nil {
		if err := m.deps.Archive.DeleteConversation(ctx, id); err != nil {
			return err
		}
	}
	if !ok && m.deps.Archive == nil {
		return apperrors.Wrapf(apperrors.ErrNotFound, "Session.Delete", "conversation %s", id)
	}
	return nil
}

// IDs 已打开的会话 id, 排序。
func (m *Manager) IDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conversations))
	for id := range m.conversations {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Close 取消所有进行中的轮次并等待其结束。
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	convs := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		convs = append(convs, c)
	}
	m.mu.Unlock()
	for _, c := range convs {
		turn := c.asm.Current()
		if c.Cancel() && turn != nil {
			_, _ = turn.Wait(ctx)
		}
	}
}

func (m *Manager) hydrate(ctx context.Context, id string) ([]history.Message, error) {
	log := logger.FromContext(ctx).With(logger.FieldConversationID, id)
	if m.deps.Archive != nil {
		msgs, err := m.deps.Archive.Load(ctx, id)
		if err != nil {
			log.Warn("session: archive load failed", logger.FieldError, err)
		} else if len(msgs) > 0 {
			log.Info("session: hydrated from archive", logger.FieldCount, len(msgs))
			return msgs, nil
		}
	}
	if m.deps.Backend == nil {
		return nil, nil
	}
	h, err := m.deps.Backend.History(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(err, "Session.Hydrate", "fetch backend history")
	}
	msgs := backend.ToMessages(h.Messages)
	log.Info("session: hydrated from backend", logger.FieldCount, len(msgs))
	return msgs, nil
}

func (m *Manager) preferences(ctx context.Context) assembler.Preferences {
	if m.deps.Preferences == nil {
		return assembler.Preferences{}
	}
	return m.deps.Preferences.Snapshot(ctx)
}

func (m *Manager) notify(n assembler.Notice) {
	logger.Warn("session: turn failed",
		logger.FieldConversationID, n.ConversationID,
		logger.FieldTurnID, n.TurnID,
		logger.FieldError, n.Err,
	)
	if m.deps.OnNotice != nil {
		m.deps.OnNotice(n)
	}
}

func (m *Manager) archiveSave(ctx context.Context, id string, msgs []history.Message) {
	if m.deps.Archive == nil {
		return
	}
	if _, err := m.deps.Archive.Save(ctx, id, msgs); err != nil {
		logger.FromContext(ctx).Warn("session: archive save failed",
			logger.FieldConversationID, id, logger.FieldError, err)
	}
}

func (m *Manager) archiveDelete(ctx context.Context, id string, ids []string) {
	if m.deps.Archive == nil || len(ids) == 0 {
		return
	}
	if _, err := m.deps.Archive.DeleteMessages(ctx, id, ids); err != nil {
		logger.FromContext(ctx).Warn("session: archive delete failed",
			logger.FieldConversationID, id, logger.FieldError, err)
	}
}
