package part

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/multi-agent/deepinsight-client/internal/citation"
)

// 归一化后的消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Envelope 流中的一帧消息快照 (或增量)。
//
//	{id, role, content: string | Fragment[], reference?, doc_ids?, seq?, created_at?}
type Envelope struct {
	ID        string                   `json:"id"`
	Role      string                   `json:"role"`
	Content   json.RawMessage          `json:"content"`
	Reference *citation.ReferenceTable `json:"reference,omitempty"`
	DocIDs    []string                 `json:"doc_ids,omitempty"`
	Seq       uint64                   `json:"seq,omitempty"`
	CreatedAt string                   `json:"created_at,omitempty"`
}

// NormalizeRole 后端角色 report / search_plan / assistant 统一为 assistant。
func NormalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user", "human":
		return RoleUser
	default:
		return RoleAssistant
	}
}

// Fragments 把 content 展开为分片列表。
//
// 字符串内容: search_plan 角色视为规划回显, 其余视为正文。
func (e Envelope) Fragments() []Fragment {
	if len(e.Content) == 0 {
		return nil
	}
	var list []Fragment
	if json.Unmarshal(e.Content, &list) == nil {
		return list
	}
	var text string
	if json.Unmarshal(e.Content, &text) != nil {
		return []Fragment{{Type: "content", Content: e.Content}}
	}
	if text == "" {
		return nil
	}
	fragType := "content"
	if strings.EqualFold(strings.TrimSpace(e.Role), "search_plan") {
		fragType = "content_plan"
	}
	encoded, _ := json.Marshal(text)
	return []Fragment{{Type: fragType, Content: encoded}}
}

// Parts 分类后的 Part 列表。
func (e Envelope) Parts() []Part {
	return ClassifyAll(e.Fragments())
}

// Time 解析 created_at, 兼容 RFC3339 与无时区的 ISO 格式; 失败返回零值。
func (e Envelope) Time() time.Time {
	return ParseTime(e.CreatedAt)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime 宽松解析后端时间戳。
func ParseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
