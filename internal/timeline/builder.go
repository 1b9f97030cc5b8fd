package timeline

import (
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/multi-agent/deepinsight-client/internal/config"
	"github.com/multi-agent/deepinsight-client/internal/part"
)

const (
	defaultSnippetWidth = 120
	defaultAnomalyWidth = 80
	emptyResultText     = "no results"
	ellipsis            = "…"
)

// Options 构建参数。
type Options struct {
	// Registry 工具名 (小写) → 卡片类型 (config.ToolCardChunks / config.ToolCardLinks)。
	Registry     map[string]string
	SnippetWidth int
	AnomalyWidth int
}

// Builder 时间线构建器, 无状态, 可并发使用。
type Builder struct {
	registry     map[string]string
	snippetWidth int
	anomalyWidth int
}

// NewBuilder 创建构建器; 未指定的参数取默认值。
func NewBuilder(opts Options) *Builder {
	b := &Builder{
		registry:     opts.Registry,
		snippetWidth: opts.SnippetWidth,
		anomalyWidth: opts.AnomalyWidth,
	}
	if b.registry == nil {
		b.registry = config.DefaultToolRegistry()
	}
	if b.snippetWidth <= 0 {
		b.snippetWidth = defaultSnippetWidth
	}
	if b.anomalyWidth <= 0 {
		b.anomalyWidth = defaultAnomalyWidth
	}
	return b
}

var defaultBuilder = NewBuilder(Options{})

// Build 使用默认参数构建。
func Build(parts []part.Part) Timeline {
	return defaultBuilder.Build(parts)
}

// Build 从头构建时间线。
//
// 丢弃 PlanPart, 遇到第一个 ReportPart 停止, ResultPart 不产生条目。
// 第一或第二个可见分片是 TitlePart 时使用 titled 策略, 否则 untitled。
func (b *Builder) Build(parts []part.Part) Timeline {
	visible := visibleParts(parts)
	s := selectStrategy(visible)
	groups := s.groups(b, visible)
	if groups == nil {
		groups = []Group{}
	}
	return Timeline{Mode: s.mode(), Groups: groups}
}

// visibleParts 截取报告之前的可渲染分片。
func visibleParts(parts []part.Part) []part.Part {
	out := make([]part.Part, 0, len(parts))
	for _, p := range parts {
		switch p.(type) {
		case part.ReportPart:
			return out
		case part.PlanPart, part.ResultPart:
			continue
		default:
			out = append(out, p)
		}
	}
	return out
}

// entryFor 单个正文或工具分片对应的条目; 标题返回 false。
func (b *Builder) entryFor(p part.Part) (Entry, bool) {
	switch v := p.(type) {
	case part.ContentPart:
		return Entry{Kind: EntryContent, Text: v.Text}, true
	case part.ToolCallPart:
		return b.toolEntry(v), true
	case part.TitlePart, part.ReportPart, part.ResultPart, part.PlanPart:
		return Entry{}, false
	default:
		return Entry{}, false
	}
}

// toolEntry 按注册表分派卡片类型; 报错或空结果只产生一个 anomaly 条目。
func (b *Builder) toolEntry(tc part.ToolCallPart) Entry {
	name := tc.ToolName
	if tc.Result.Failed() {
		return Entry{Kind: EntryAnomaly, ToolName: name, Text: b.truncate(tc.Result.Err, b.anomalyWidth)}
	}
	if tc.Result.Empty() {
		return Entry{Kind: EntryAnomaly, ToolName: name, Text: emptyResultText}
	}

	kind := EntryGeneric
	switch b.registry[strings.ToLower(strings.TrimSpace(name))] {
	case config.ToolCardChunks:
		kind = EntryChunks
	case config.ToolCardLinks:
		kind = EntryLinks
	}

	cards := make([]Card, 0, len(tc.Result.Hits))
	for _, h := range tc.Result.Hits {
		c := Card{
			Title:   h.Title,
			Snippet: b.truncate(h.Content, b.snippetWidth),
		}
		switch kind {
		case EntryChunks:
			c.DocumentID = h.DocumentID
		default:
			c.URL = h.URL
			c.Favicon = h.Favicon
			if c.Title == "" {
				c.Title = h.URL
			}
		}
		cards = append(cards, c)
	}
	return Entry{Kind: kind, ToolName: name, Cards: cards}
}

// truncate 折叠空白后按显示宽度截断 (CJK 宽字符计 2)。
func (b *Builder) truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, ellipsis)
}
