// Package assembler 驱动单个会话的流式轮次: 提交问题、消费后端分片、合并到历史、处理取消与失败。
package assembler

import (
	"context"
	"sync"
	"time"

	"github.com/multi-agent/deepinsight-client/internal/part"
)

// State 轮次状态机。
//
//	idle → sending → streaming → {completed, aborted, failed}
type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateFailed    State = "failed"
)

// InFlight sending 或 streaming。
func (s State) InFlight() bool {
	return s == StateSending || s == StateStreaming
}

// Preferences 提交时冻结的用户偏好。
type Preferences struct {
	DataSources []string `json:"data_sources"`
}

// Clone 深拷贝。
func (p Preferences) Clone() Preferences {
	if p.DataSources != nil {
		p.DataSources = append([]string(nil), p.DataSources...)
	}
	return p
}

// TurnRequest 一次提问。
type TurnRequest struct {
	Question    string
	DocIDs      []string
	Preferences Preferences
}

// StreamRequest 交给传输层的请求。
type StreamRequest struct {
	ConversationID string   `json:"conversation_id"`
	TurnID         string   `json:"turn_id"`
	QuestionID     string   `json:"message_id"`
	Question       string   `json:"query"`
	DocIDs         []string `json:"doc_ids,omitempty"`
	DataSources    []string `json:"data_sources,omitempty"`
}

// Transport 为每个轮次打开一条流。
type Transport interface {
	Open(ctx context.Context, req StreamRequest) (Stream, error)
}

// Stream 单轮次的分片流。Next 在流正常结束时返回 io.EOF。
// Close 必须可以与阻塞中的 Next 并发调用, 并使其返回。
type Stream interface {
	Next(ctx context.Context) (part.Envelope, error)
	Close() error
}

// Notice 面向用户的失败通知, 每个失败轮次恰好一条。
type Notice struct {
	ConversationID string    `json:"conversation_id"`
	TurnID         string    `json:"turn_id"`
	QuestionID     string    `json:"question_id"`
	Message        string    `json:"message"`
	Err            error     `json:"-"`
	At             time.Time `json:"at"`
}

// Notifier 接收失败通知。
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc 函数适配器。
type NotifierFunc func(Notice)

// Notify 实现 Notifier。
func (f NotifierFunc) Notify(n Notice) { f(n) }

// Outcome 轮次结束后的结果。
type Outcome struct {
	TurnID               string   `json:"turn_id"`
	QuestionID           string   `json:"question_id"`
	AnswerIDs            []string `json:"answer_ids"`
	State                State    `json:"state"`
	StartNewConversation bool     `json:"start_new_conversation"`
	Error                string   `json:"error,omitempty"` // 失败原因, 与 Notice.Message 一致
	Err                  error    `json:"-"`
}

// Turn 一个进行中或已结束的轮次。
type Turn struct {
	ID         string
	QuestionID string
	Generation uint64
	Request    TurnRequest

	// 以下字段由 Assembler.mu 保护
	answerIDs  []string
	fallbackID string
	startNew   bool
	stream     Stream
	cancel     context.CancelFunc

	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func newTurn(id, questionID string, generation uint64, req TurnRequest) *Turn {
	return &Turn{
		ID:         id,
		QuestionID: questionID,
		Generation: generation,
		Request:    req,
		done:       make(chan struct{}),
	}
}

// Done 轮次进入终态后关闭。
func (t *Turn) Done() <-chan struct{} { return t.done }

// Outcome 终态结果, 仅在 Done 关闭后有效。
func (t *Turn) Outcome() Outcome {
	select {
	case <-t.done:
		return t.outcome
	default:
		return Outcome{TurnID: t.ID, QuestionID: t.QuestionID}
	}
}

// Wait 阻塞直到轮次结束或 ctx 取消。
func (t *Turn) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (t *Turn) finish(o Outcome) {
	t.once.Do(func() {
		t.outcome = o
		close(t.done)
	})
}
