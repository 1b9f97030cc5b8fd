// Package report 提取助手消息的最终报告, 并把引用标记解析为可渲染的段落与脚注。
package report

import (
	"github.com/multi-agent/deepinsight-client/internal/citation"
	"github.com/multi-agent/deepinsight-client/internal/part"
)

// Report 最终报告。
type Report struct {
	Text string `json:"text"`
}

// Footnote 报告末尾的引用脚注。
type Footnote struct {
	Index int              `json:"index"`
	Chunk citation.Chunk   `json:"chunk"`
	Doc   *citation.DocAgg `json:"doc,omitempty"`
}

// Rendered 渲染结果: 正文段落 + 按首次出现排序的脚注。
type Rendered struct {
	Text      string             `json:"text"`
	Segments  []citation.Segment `json:"segments"`
	Footnotes []Footnote         `json:"footnotes"`
}

// Extract 返回第一个 ReportPart; 没有报告时 ok=false。
func Extract(parts []part.Part) (Report, bool) {
	for _, p := range parts {
		if r, ok := p.(part.ReportPart); ok {
			return Report{Text: r.Text}, true
		}
	}
	return Report{}, false
}

// Render 解析引用标记。table 为空时所有标记原样保留。
func Render(r Report, table *citation.ReferenceTable) Rendered {
	segments := citation.Resolve(r.Text, table)
	if segments == nil {
		segments = []citation.Segment{}
	}
	footnotes := []Footnote{}
	for _, idx := range citation.Markers(segments) {
		chunk, ok := table.Chunk(idx)
		if !ok {
			continue
		}
		fn := Footnote{Index: idx, Chunk: chunk}
		if doc, ok := table.Doc(chunk.DocumentID); ok {
			fn.Doc = &doc
		}
		footnotes = append(footnotes, fn)
	}
	return Rendered{Text: r.Text, Segments: segments, Footnotes: footnotes}
}

// RenderContent 时间线正文使用同一套解析, 不生成脚注。
func RenderContent(text string, table *citation.ReferenceTable) []citation.Segment {
	return citation.Resolve(text, table)
}
