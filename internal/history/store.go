package history

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/multi-agent/deepinsight-client/internal/part"
	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
)

// MergeMode 流式答案的合并方式。
type MergeMode string

const (
	// ModeSnapshot 每帧都是同一消息的累积快照, 整体替换 Parts。
	ModeSnapshot MergeMode = "snapshot"
	// ModeDelta 每帧只携带新增分片, 按 Seq 去重后追加。
	ModeDelta MergeMode = "delta"
)

// ParseMergeMode 未识别时回落到 snapshot。
func ParseMergeMode(raw string) MergeMode {
	if strings.EqualFold(strings.TrimSpace(raw), string(ModeDelta)) {
		return ModeDelta
	}
	return ModeSnapshot
}

// MergeOutcome MergeAnswer 的结果。
type MergeOutcome int

const (
	MergeAppended  MergeOutcome = iota // 新消息追加到末尾
	MergeUpdated                       // 已有消息被更新
	MergeUnchanged                     // 重复投递或过期快照, 无变化
	MergeFrozen                        // 目标已冻结, 丢弃
	MergeRejected                      // 缺少 id 或角色不对
)

func (o MergeOutcome) String() string {
	switch o {
	case MergeAppended:
		return "appended"
	case MergeUpdated:
		return "updated"
	case MergeUnchanged:
		return "unchanged"
	case MergeFrozen:
		return "frozen"
	default:
		return "rejected"
	}
}

// Changed 是否产生了可见变化。
func (o MergeOutcome) Changed() bool {
	return o == MergeAppended || o == MergeUpdated
}

// Store 会话消息历史。并发安全, 读操作返回深拷贝。
type Store struct {
	mu sync.RWMutex // 保护 messages/index/version

	mode     MergeMode
	messages []Message
	index    map[string]int
	version  uint64
	now      func() time.Time
}

// NewStore 创建空历史。
func NewStore(mode MergeMode) *Store {
	if mode != ModeDelta {
		mode = ModeSnapshot
	}
	return &Store{
		mode:  mode,
		index: map[string]int{},
		now:   time.Now,
	}
}

// Mode 当前合并模式。
func (s *Store) Mode() MergeMode { return s.mode }

// AppendQuestion 同步追加用户问题, 分配本地 UUID, 状态 pending。
func (s *Store) AppendQuestion(text string, docIDs []string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	msg := Message{
		ID:        uuid.NewString(),
		Role:      part.RoleUser,
		Parts:     []part.Part{part.ContentPart{Text: text}},
		CreatedAt: now,
		UpdatedAt: now,
		DocIDs:    uniqueIDs(docIDs),
		Status:    StatusPending,
	}
	s.appendLocked(msg)
	return msg.Clone()
}

// MergeAnswer 合并一帧助手消息。
//
// 同 id 且未冻结: snapshot 模式整体替换 Parts (超集), delta 模式按 Seq 追加。
// 完全相同的重复投递返回 MergeUnchanged; 新 id 追加到末尾。
func (s *Store) MergeAnswer(incoming Message) MergeOutcome {
	if strings.TrimSpace(incoming.ID) == "" || incoming.IsUser() {
		return MergeRejected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, exists := s.index[incoming.ID]
	if !exists {
		msg := incoming.Clone()
		msg.Role = part.RoleAssistant
		if msg.Status == "" {
			msg.Status = StatusStreaming
		}
		now := s.now()
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		msg.UpdatedAt = now
		msg.DocIDs = uniqueIDs(msg.DocIDs)
		s.appendLocked(msg)
		return MergeAppended
	}

	current := &s.messages[idx]
	if current.Frozen() {
		logger.Debug("history: merge into frozen message dropped",
			logger.FieldMessageID, incoming.ID, logger.FieldStatus, string(current.Status))
		return MergeFrozen
	}

	var changed bool
	if s.mode == ModeDelta {
		changed = mergeDelta(current, incoming)
	} else {
		changed = mergeSnapshot(current, incoming)
	}
	if incoming.Reference != nil && !current.Reference.Equal(incoming.Reference) {
		current.Reference = incoming.Reference.Clone()
		changed = true
	}
	if ids := uniqueIDs(incoming.DocIDs); len(ids) > 0 && !slices.Equal(ids, current.DocIDs) {
		current.DocIDs = ids
		changed = true
	}
	if !changed {
		return MergeUnchanged
	}
	current.UpdatedAt = s.now()
	s.version++
	return MergeUpdated
}

// mergeSnapshot 用更长或等长的快照替换 Parts; 更短的视为乱序旧帧。
func mergeSnapshot(current *Message, incoming Message) bool {
	if len(incoming.Parts) < len(current.Parts) {
		return false
	}
	if part.Equal(current.Parts, incoming.Parts) {
		return false
	}
	current.Parts = part.Clone(incoming.Parts)
	return true
}

// mergeDelta 追加增量分片; 紧邻的正文增量合并到末尾 ContentPart。
func mergeDelta(current *Message, incoming Message) bool {
	if incoming.Seq != 0 && incoming.Seq <= current.Seq {
		return false
	}
	if incoming.Seq != 0 {
		current.Seq = incoming.Seq
	}
	if len(incoming.Parts) == 0 {
		return false
	}
	for _, p := range part.Clone(incoming.Parts) {
		if delta, ok := p.(part.ContentPart); ok && len(current.Parts) > 0 {
			last := len(current.Parts) - 1
			if tail, ok := current.Parts[last].(part.ContentPart); ok {
				current.Parts[last] = part.ContentPart{Text: tail.Text + delta.Text}
				continue
			}
		}
		current.Parts = append(current.Parts, p)
	}
	return true
}

// RemoveMessage 删除消息。删除用户问题时, 其后直到下一个问题之前的回答一并删除。
func (s *Store) RemoveMessage(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[id]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "History.RemoveMessage", "message %s", id)
	}
	end := idx + 1
	if s.messages[idx].IsUser() {
		for end < len(s.messages) && !s.messages[end].IsUser() {
			end++
		}
	}
	removed := s.idsLocked(idx, end)
	s.messages = slices.Delete(s.messages, idx, end)
	s.reindexLocked()
	s.version++
	return removed, nil
}

// RemoveMessagesAfter 截断 id 之后的所有消息 (编辑后重新生成)。
func (s *Store) RemoveMessagesAfter(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[id]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "History.RemoveMessagesAfter", "message %s", id)
	}
	if idx == len(s.messages)-1 {
		return nil, nil
	}
	removed := s.idsLocked(idx+1, len(s.messages))
	s.messages = s.messages[:idx+1]
	s.reindexLocked()
	s.version++
	return removed, nil
}

// Freeze 把助手消息置为终态 (completed / aborted / failed)。
func (s *Store) Freeze(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[id]
	if !ok {
		return apperrors.Wrapf(apperrors.ErrNotFound, "History.Freeze", "message %s", id)
	}
	msg := &s.messages[idx]
	if msg.IsUser() {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "History.Freeze", "message %s is a question", id)
	}
	if msg.Status != StatusStreaming {
		return apperrors.Wrapf(apperrors.ErrFrozen, "History.Freeze", "message %s already %s", id, msg.Status)
	}
	msg.Status = status
	msg.UpdatedAt = s.now()
	s.version++
	return nil
}

// MarkQuestion 更新用户问题状态 (sent / failed / pending)。
func (s *Store) MarkQuestion(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[id]
	if !ok {
		return apperrors.Wrapf(apperrors.ErrNotFound, "History.MarkQuestion", "message %s", id)
	}
	msg := &s.messages[idx]
	if !msg.IsUser() {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "History.MarkQuestion", "message %s is an answer", id)
	}
	if msg.Status == status {
		return nil
	}
	msg.Status = status
	msg.UpdatedAt = s.now()
	s.version++
	return nil
}

// Load 用已持久化的消息整体替换历史 (会话水合)。
func (s *Store) Load(messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]Message, 0, len(messages))
	s.index = make(map[string]int, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.ID) == "" {
			continue
		}
		if _, dup := s.index[m.ID]; dup {
			continue
		}
		s.messages = append(s.messages, m.Clone())
		s.index[m.ID] = len(s.messages) - 1
	}
	s.version++
}

// Snapshot 深拷贝全部消息。
func (s *Store) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Get 按 id 读取。
func (s *Store) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return s.messages[idx].Clone(), true
}

// Last 最后一条消息。
func (s *Store) Last() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1].Clone(), true
}

// Len 消息数量。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Version 每次变更递增, 供视图层判断是否需要重算。
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) appendLocked(msg Message) {
	s.messages = append(s.messages, msg)
	s.index[msg.ID] = len(s.messages) - 1
	s.version++
}

func (s *Store) reindexLocked() {
	s.index = make(map[string]int, len(s.messages))
	for i, m := range s.messages {
		s.index[m.ID] = i
	}
}

func (s *Store) idsLocked(from, to int) []string {
	return lo.Map(s.messages[from:to], func(m Message, _ int) string { return m.ID })
}

func uniqueIDs(ids []string) []string {
	trimmed := lo.FilterMap(ids, func(id string, _ int) (string, bool) {
		id = strings.TrimSpace(id)
		return id, id != ""
	})
	if len(trimmed) == 0 {
		return nil
	}
	return lo.Uniq(trimmed)
}
