package part

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/multi-agent/deepinsight-client/pkg/logger"
	"github.com/multi-agent/deepinsight-client/pkg/util"
)

// Fragment 后端流中的原始分片: {type, content}。content 可能是字符串或任意 JSON。
type Fragment struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// ToolCallPayload tool_call 分片的内容。
type ToolCallPayload struct {
	ToolName string          `json:"tool_name"`
	Name     string          `json:"name"`
	Result   json.RawMessage `json:"result"`
	Content  json.RawMessage `json:"content"`
}

func (p ToolCallPayload) named() bool {
	return util.FirstNonEmpty(p.ToolName, p.Name) != ""
}

// unknownTypes 已告警过的未知分片类型, 每个类型每进程只告警一次。
var unknownTypes sync.Map

// Classify 把 fragment 归一化为 Part。
//
// 纯函数, 不会失败: 未知类型退化为 ContentPart, 内容按字符串化处理。
func Classify(f Fragment) Part {
	switch strings.ToLower(strings.TrimSpace(f.Type)) {
	case "title":
		return TitlePart{Text: textOf(f.Content)}
	case "content", "text":
		return ContentPart{Text: textOf(f.Content)}
	case "tool_call", "tool_calls":
		return classifyToolCall(f.Content)
	case "report":
		return ReportPart{Text: textOf(f.Content)}
	case "result":
		return ResultPart{Text: textOf(f.Content)}
	case "content_plan", "search_plan", "plan":
		return PlanPart{Text: textOf(f.Content)}
	default:
		if _, loaded := unknownTypes.LoadOrStore(f.Type, struct{}{}); !loaded {
			logger.Warn("part: unknown fragment type, rendered as content",
				logger.FieldFragmentType, f.Type)
		}
		return ContentPart{Text: textOf(f.Content)}
	}
}

// ClassifyAll 批量分类, 保持顺序。
func ClassifyAll(fragments []Fragment) []Part {
	out := make([]Part, 0, len(fragments))
	for _, f := range fragments {
		out = append(out, Classify(f))
	}
	return out
}

func classifyToolCall(raw json.RawMessage) Part {
	payload, ok := decodeToolPayload(raw)
	if !ok {
		return ToolCallPart{Result: NormalizeToolResult(raw)}
	}
	name := util.FirstNonEmpty(payload.ToolName, payload.Name)
	result := util.FirstNonEmpty(string(payload.Result), string(payload.Content))
	return ToolCallPart{ToolName: name, Result: NormalizeToolResult(json.RawMessage(result))}
}

// decodeToolPayload 兼容对象与 JSON 编码后的字符串两种形态。
func decodeToolPayload(raw json.RawMessage) (ToolCallPayload, bool) {
	var payload ToolCallPayload
	if json.Unmarshal(raw, &payload) == nil && payload.named() {
		return payload, true
	}
	var encoded string
	if json.Unmarshal(raw, &encoded) != nil {
		return ToolCallPayload{}, false
	}
	payload = ToolCallPayload{}
	if json.Unmarshal([]byte(encoded), &payload) == nil && payload.named() {
		return payload, true
	}
	return ToolCallPayload{}, false
}

// textOf 字符串内容原样返回, 其余 JSON 紧凑编码。
func textOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return string(raw)
	}
	if v == nil {
		return ""
	}
	return stringify(v)
}
