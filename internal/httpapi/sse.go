// sse.go: SSE 事件总线 + handler。
package httpapi

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/deepinsight-client/internal/assembler"
	"github.com/multi-agent/deepinsight-client/internal/session"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
)

// 事件类型。
const (
	EventView   = "view"
	EventNotice = "notice"
)

// Event SSE 事件。ConversationID 为空表示全局事件。
type Event struct {
	Type           string
	ConversationID string
	Data           any
}

// noticeSendTimeout 通知是失败的唯一提示, 订阅者缓冲满时最多等待这么久。
const noticeSendTimeout = 2 * time.Second

// EventBus 事件总线 (SSE 推送)。订阅者跟不上时丢弃 view 事件 (下一个快照会覆盖),
// notice 事件在 noticeSendTimeout 内阻塞投递。
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]subscriber
	seq         atomic.Uint64
}

type subscriber struct {
	ch             chan Event
	conversationID string
}

// NewEventBus 创建事件总线。
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string]subscriber)}
}

// Publish 广播事件。
func (b *EventBus) Publish(event Event) {
	var waiting []string
	b.mu.RLock()
	targets := make(map[string]chan Event, len(b.subscribers))
	for id, sub := range b.subscribers {
		if sub.conversationID != "" && event.ConversationID != "" && sub.conversationID != event.ConversationID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			if event.Type == EventNotice {
				targets[id] = sub.ch
				waiting = append(waiting, id)
				continue
			}
			logger.Debug("sse: subscriber lagging, event dropped", logger.FieldClientID, id)
		}
	}
	b.mu.RUnlock()

	// 锁外等待, 不阻塞 Subscribe / Unsubscribe
	for _, id := range waiting {
		timer := time.NewTimer(noticeSendTimeout)
		select {
		case targets[id] <- event:
		case <-timer.C:
			logger.Warn("sse: notice dropped, subscriber stalled", logger.FieldClientID, id)
		}
		timer.Stop()
	}
}

// Subscribe 订阅; conversationID 非空时只接收该会话与全局事件。
func (b *EventBus) Subscribe(conversationID string) (string, <-chan Event) {
	id := fmt.Sprintf("sse-%d", b.seq.Add(1))
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subscribers[id] = subscriber{ch: ch, conversationID: conversationID}
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe 取消订阅。不关闭 ch, handler 通过 ctx.Done() 退出。
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// Count 当前订阅数。
func (b *EventBus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// PublishView 实现 session.Deps.OnChange。
func (b *EventBus) PublishView(v session.View) {
	b.Publish(Event{Type: EventView, ConversationID: v.ConversationID, Data: v})
}

// PublishNotice 实现 session.Deps.OnNotice。
func (b *EventBus) PublishNotice(n assembler.Notice) {
	b.Publish(Event{Type: EventNotice, ConversationID: n.ConversationID, Data: n})
}

// sseHandler GET /api/events?conversation_id=...
func (s *Server) sseHandler(c *gin.Context) {
	clientID, ch := s.bus.Subscribe(c.Query("conversation_id"))
	defer func() {
		s.bus.Unsubscribe(clientID)
		logger.Info("httpapi: SSE client disconnected", logger.FieldClientID, clientID)
	}()
	logger.Info("httpapi: SSE client connected", logger.FieldClientID, clientID)

	interval := s.deps.Keepalive
	keepalive := time.NewTimer(interval)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case evt := <-ch:
			c.SSEvent(evt.Type, evt.Data)
			if !keepalive.Stop() {
				select {
				case <-keepalive.C:
				default:
				}
			}
			keepalive.Reset(interval)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", "keepalive")
			keepalive.Reset(interval)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
