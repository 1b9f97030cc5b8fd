// Package transport 实现后端流的两种传输: HTTP POST + SSE, 以及 WebSocket。
package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/multi-agent/deepinsight-client/internal/part"
	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
)

// 后端流协议的帧类型。
const (
	EventMessage   = "message"
	EventChunk     = "chunk"
	EventStart     = "start"
	EventEnd       = "end"
	EventComplete  = "complete"
	EventError     = "error"
	EventHeartbeat = "heartbeat"
)

// frameAction decodeFrame 的处理结果。
type frameAction int

const (
	actionEnvelope frameAction = iota // 携带一帧消息
	actionSkip                        // 心跳 / start 等控制帧
	actionEnd                         // 流正常结束
)

// wireFrame WebSocket JSON 帧, 也兼容 {type, data} 写法。
type wireFrame struct {
	Event   string          `json:"event"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// decodeFrame 解析一帧。error 帧返回带 ErrTransport 的错误。
func decodeFrame(event string, data []byte) (part.Envelope, frameAction, error) {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case EventHeartbeat, EventStart:
		return part.Envelope{}, actionSkip, nil
	case EventEnd, EventComplete:
		return part.Envelope{}, actionEnd, nil
	case EventError:
		return part.Envelope{}, actionSkip, backendError(data)
	case "", EventMessage, EventChunk:
	default:
		return part.Envelope{}, actionSkip, nil
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return part.Envelope{}, actionSkip, nil
	}
	if trimmed == "[DONE]" {
		return part.Envelope{}, actionEnd, nil
	}

	var env part.Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return part.Envelope{}, actionSkip, apperrors.WithCode(
			fmt.Errorf("%w: %w", apperrors.ErrTransport, err),
			"transport.decodeFrame", "DECODE", "malformed envelope")
	}
	return env, actionEnvelope, nil
}

// decodeWireFrame 解析 WebSocket 帧: 优先 {event,data}, 其次 {type,data}, 最后视为裸消息。
func decodeWireFrame(raw []byte) (part.Envelope, frameAction, error) {
	var wf wireFrame
	if err := json.Unmarshal(raw, &wf); err == nil {
		event := wf.Event
		if event == "" && isControlType(wf.Type) {
			event = wf.Type
		}
		if event != "" {
			data := []byte(wf.Data)
			if len(data) == 0 && wf.Message != "" {
				data, _ = json.Marshal(map[string]string{"message": wf.Message})
			}
			return decodeFrame(event, data)
		}
	}
	return decodeFrame(EventMessage, raw)
}

func isControlType(t string) bool {
	switch strings.ToLower(t) {
	case EventMessage, EventChunk, EventStart, EventEnd, EventComplete, EventError, EventHeartbeat:
		return true
	default:
		return false
	}
}

// backendError error 帧内容可能是字符串、{message} 或 {error}。
func backendError(data []byte) error {
	msg := strings.TrimSpace(string(data))
	var s string
	if json.Unmarshal(data, &s) == nil {
		msg = s
	} else {
		var obj map[string]any
		if json.Unmarshal(data, &obj) == nil {
			for _, key := range []string{"message", "error", "detail"} {
				if v, ok := obj[key].(string); ok && v != "" {
					msg = v
					break
				}
			}
		}
	}
	if msg == "" {
		msg = "backend reported an error"
	}
	return apperrors.WithCode(fmt.Errorf("%w: %s", apperrors.ErrTransport, msg),
		"transport.decodeFrame", "BACKEND", "backend error frame")
}
