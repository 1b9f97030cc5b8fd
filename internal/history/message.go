// Package history 单个会话的有序消息历史: 问题追加、流式答案合并、截断与快照。
package history

import (
	"strings"
	"time"

	"github.com/multi-agent/deepinsight-client/internal/citation"
	"github.com/multi-agent/deepinsight-client/internal/part"
)

// Status 消息状态。
//
//	user:      pending → sent | failed
//	assistant: streaming → completed | aborted | failed
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusFailed    Status = "failed"
)

// Message 一条历史消息。Parts 只在 streaming 期间增长。
type Message struct {
	ID        string                   `json:"id"`
	Role      string                   `json:"role"`
	Parts     []part.Part              `json:"-"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
	DocIDs    []string                 `json:"doc_ids,omitempty"`
	Reference *citation.ReferenceTable `json:"reference,omitempty"`
	Status    Status                   `json:"status"`

	// Seq 增量模式下已合并的最大序号。
	Seq uint64 `json:"-"`
}

// IsUser 是否用户问题。
func (m Message) IsUser() bool { return m.Role == part.RoleUser }

// Frozen 冻结后不再接受合并: 助手消息离开 streaming (流结束、取消或失败)。
// 报告分片出现后仍可继续增长, 直到流结束。
func (m Message) Frozen() bool {
	if m.IsUser() {
		return false
	}
	return m.Status != StatusStreaming
}

// Text 拼接正文分片, 用户问题即问题文本。
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if c, ok := p.(part.ContentPart); ok {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// Clone 深拷贝。
func (m Message) Clone() Message {
	m.Parts = part.Clone(m.Parts)
	if m.DocIDs != nil {
		m.DocIDs = append([]string(nil), m.DocIDs...)
	}
	m.Reference = m.Reference.Clone()
	return m
}
