package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/multi-agent/deepinsight-client/internal/citation"
	"github.com/multi-agent/deepinsight-client/internal/report"
	"github.com/multi-agent/deepinsight-client/internal/session"
	"github.com/multi-agent/deepinsight-client/internal/timeline"
)

var (
	questionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("28")).
			Padding(0, 1)

	groupTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	anomalyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("160")).
			Padding(0, 1)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	noticeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))
)

// timelineLines 时间线按行展开; 标题行、条目行、卡片行。
func timelineLines(tl timeline.Timeline) []string {
	var lines []string
	for _, g := range tl.Groups {
		if g.Title != "" {
			lines = append(lines, groupTitleStyle.Render("▍"+g.Title))
		}
		for _, e := range g.Entries {
			lines = append(lines, entryLines(e)...)
		}
	}
	return lines
}

func entryLines(e timeline.Entry) []string {
	switch e.Kind {
	case timeline.EntryContent:
		return []string{"  " + e.Text}
	case timeline.EntryAnomaly:
		return []string{"  " + toolStyle.Render(e.ToolName) + " " + anomalyStyle.Render(e.Text)}
	case timeline.EntryChunks, timeline.EntryLinks, timeline.EntryGeneric:
		lines := []string{"  " + toolStyle.Render(fmt.Sprintf("%s · %d", e.ToolName, len(e.Cards)))}
		for _, card := range e.Cards {
			label := card.Title
			if label == "" {
				label = card.Snippet
			}
			if card.URL != "" {
				label += " " + dimStyle.Render(card.URL)
			}
			lines = append(lines, "    - "+label)
		}
		return lines
	default:
		return nil
	}
}

// citedMarkdown 引用标记改写为 [n], 未解析的标记保留原文; 末尾追加脚注。
func citedMarkdown(r report.Rendered) string {
	var b strings.Builder
	for _, seg := range r.Segments {
		if seg.Kind == citation.SegmentCitation && seg.Chunk != nil {
			fmt.Fprintf(&b, "[%d]", seg.Index+1)
			continue
		}
		b.WriteString(seg.Raw)
	}
	if len(r.Footnotes) > 0 {
		b.WriteString("\n\n---\n\n")
		for _, fn := range r.Footnotes {
			name := fn.Chunk.DocumentID
			if fn.Doc != nil && fn.Doc.DocName != "" {
				name = fn.Doc.DocName
			}
			fmt.Fprintf(&b, "%d. **%s** %s\n", fn.Index+1, name, strings.TrimSpace(fn.Chunk.Content))
		}
	}
	return b.String()
}

// renderer 终端渲染器。
type renderer struct {
	md *glamour.TermRenderer
}

func newRenderer(width int) (*renderer, error) {
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	return &renderer{md: md}, nil
}

// reportText glamour 渲染失败时退回纯 markdown。
func (r *renderer) reportText(rendered report.Rendered) string {
	src := citedMarkdown(rendered)
	out, err := r.md.Render(src)
	if err != nil {
		return src
	}
	return out
}

// conversation 整个会话的静态渲染。
func (r *renderer) conversation(v session.View) string {
	var b strings.Builder
	for _, m := range v.Messages {
		if m.IsUser() {
			b.WriteString(questionStyle.Render(m.Text()) + "\n\n")
			continue
		}
		if m.Timeline != nil {
			for _, line := range timelineLines(*m.Timeline) {
				b.WriteString(line + "\n")
			}
		}
		if m.Report != nil {
			b.WriteString(r.reportText(*m.Report))
		}
		b.WriteString("\n")
	}
	return b.String()
}
