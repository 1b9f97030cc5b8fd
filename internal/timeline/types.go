// Package timeline 把助手消息的 Part 列表构建为活动时间线 (与最终报告视图分离)。
package timeline

// Mode 时间线构建策略。
type Mode string

const (
	ModeTitled   Mode = "titled"   // 标题分组
	ModeUntitled Mode = "untitled" // 每个分片独立成组
)

// Tone 无标题模式下的分组色调。
type Tone string

const (
	ToneContent Tone = "content"
	ToneTool    Tone = "tool"
)

// EntryKind 时间线条目类型。
type EntryKind string

const (
	EntryContent EntryKind = "content" // 正文段落
	EntryChunks  EntryKind = "chunks"  // 知识库切片预览卡片
	EntryLinks   EntryKind = "links"   // 搜索链接卡片
	EntryGeneric EntryKind = "generic" // 其它工具的通用链接卡片
	EntryAnomaly EntryKind = "anomaly" // 工具报错或无结果
)

// Card 工具结果卡片。
type Card struct {
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
	Favicon    string `json:"favicon,omitempty"`
	DocumentID string `json:"documentId,omitempty"`
}

// Entry 时间线条目。
type Entry struct {
	Kind     EntryKind `json:"kind"`
	Text     string    `json:"text,omitempty"`
	ToolName string    `json:"tool,omitempty"`
	Cards    []Card    `json:"cards,omitempty"`
}

// Group 一组条目; 标题模式下 Title 为阶段标题, 前导分组的 Title 为空。
type Group struct {
	Title   string  `json:"title,omitempty"`
	Tone    Tone    `json:"tone,omitempty"`
	Entries []Entry `json:"entries"`
}

// Timeline 构建结果。
type Timeline struct {
	Mode   Mode    `json:"mode"`
	Groups []Group `json:"groups"`
}

// Entries 展平所有条目。
func (t Timeline) Entries() []Entry {
	var out []Entry
	for _, g := range t.Groups {
		out = append(out, g.Entries...)
	}
	return out
}
