package part

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Hit 工具结果中的一条命中 (检索切片或网页链接)。
type Hit struct {
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	Content    string `json:"content,omitempty"`
	Favicon    string `json:"favicon,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// ToolResult 归一化后的工具结果: 要么 Err 非空, 要么是一组扁平 Hits。
type ToolResult struct {
	Err  string `json:"error,omitempty"`
	Hits []Hit  `json:"hits,omitempty"`
}

// Failed 工具返回了错误。
func (r ToolResult) Failed() bool { return r.Err != "" }

// Empty 无错误且无命中。
func (r ToolResult) Empty() bool { return r.Err == "" && len(r.Hits) == 0 }

// Clone 深拷贝。
func (r ToolResult) Clone() ToolResult {
	if r.Hits != nil {
		r.Hits = append([]Hit(nil), r.Hits...)
	}
	return r
}

// Equal 逐项比较。
func (r ToolResult) Equal(o ToolResult) bool {
	if r.Err != o.Err || len(r.Hits) != len(o.Hits) {
		return false
	}
	for i := range r.Hits {
		if r.Hits[i] != o.Hits[i] {
			return false
		}
	}
	return true
}

// NormalizeToolResult 把三种线上形态统一为 ToolResult:
//
//	{"error": ...}               → Err
//	[T, T, ...]                  → Hits
//	[{"results": [T...]}, ...]   → 按提供方分组的结果展平为 Hits
//
// 另外兼容单个 {"results": [...]} 对象、JSON 编码的字符串和普通文本。
func NormalizeToolResult(raw json.RawMessage) ToolResult {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		if text := strings.TrimSpace(string(raw)); text != "" && text != "null" {
			return ToolResult{Hits: []Hit{{Content: text}}}
		}
		return ToolResult{}
	}
	return normalizeValue(v)
}

func normalizeValue(v any) ToolResult {
	switch val := v.(type) {
	case nil:
		return ToolResult{}
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return ToolResult{}
		}
		var inner any
		if (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) &&
			json.Unmarshal([]byte(trimmed), &inner) == nil {
			return normalizeValue(inner)
		}
		return ToolResult{Hits: []Hit{{Content: val}}}
	case map[string]any:
		if e, ok := val["error"]; ok && e != nil {
			return ToolResult{Err: stringify(e)}
		}
		if results, ok := val["results"].([]any); ok {
			return ToolResult{Hits: flattenHits(results)}
		}
		return ToolResult{Hits: []Hit{hitFromMap(val)}}
	case []any:
		return ToolResult{Hits: flattenHits(val)}
	default:
		return ToolResult{Hits: []Hit{{Content: stringify(val)}}}
	}
}

// flattenHits 展开 [{results: [...]}] 分组; 非分组元素按单条命中处理。
func flattenHits(items []any) []Hit {
	hits := lo.FlatMap(items, func(item any, _ int) []Hit {
		m, ok := item.(map[string]any)
		if !ok {
			if s, isStr := item.(string); isStr && strings.TrimSpace(s) != "" {
				return []Hit{{Content: s}}
			}
			return nil
		}
		if group, ok := m["results"].([]any); ok {
			return flattenHits(group)
		}
		return []Hit{hitFromMap(m)}
	})
	return lo.Filter(hits, func(h Hit, _ int) bool { return h != Hit{} })
}

func hitFromMap(m map[string]any) Hit {
	return Hit{
		Title:      firstString(m, "title", "name", "doc_name", "document_name"),
		URL:        firstString(m, "url", "link", "href"),
		Content:    firstString(m, "content", "snippet", "text", "chunk", "content_with_weight"),
		Favicon:    firstString(m, "favicon", "icon"),
		DocumentID: firstString(m, "document_id", "doc_id"),
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// stringify 字符串原样返回, 其余值编码为 JSON。
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
