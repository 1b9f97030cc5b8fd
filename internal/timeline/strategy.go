package timeline

import "github.com/multi-agent/deepinsight-client/internal/part"

// strategy 两种分组策略共用的接口。
type strategy interface {
	mode() Mode
	groups(b *Builder, parts []part.Part) []Group
}

// selectStrategy 检查前两个可见分片: 任一是标题即使用 titled。
func selectStrategy(parts []part.Part) strategy {
	for i := 0; i < len(parts) && i < 2; i++ {
		if _, ok := parts[i].(part.TitlePart); ok {
			return titledStrategy{}
		}
	}
	return untitledStrategy{}
}

// titledStrategy 标题开启新分组, 后续正文与工具分片归入该组。
// 第一个标题之前的分片组成无标题的前导分组。
type titledStrategy struct{}

func (titledStrategy) mode() Mode { return ModeTitled }

func (titledStrategy) groups(b *Builder, parts []part.Part) []Group {
	var out []Group
	for _, p := range parts {
		if t, ok := p.(part.TitlePart); ok {
			out = append(out, Group{Title: t.Text, Entries: []Entry{}})
			continue
		}
		entry, ok := b.entryFor(p)
		if !ok {
			continue
		}
		if len(out) == 0 {
			out = append(out, Group{Entries: []Entry{}})
		}
		last := len(out) - 1
		out[last].Entries = append(out[last].Entries, entry)
	}
	return out
}

// untitledStrategy 每个正文或工具分片单独成组, 按类型着色。
// 此模式下出现的零星标题作为无条目的分组头保留。
type untitledStrategy struct{}

func (untitledStrategy) mode() Mode { return ModeUntitled }

func (untitledStrategy) groups(b *Builder, parts []part.Part) []Group {
	out := make([]Group, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case part.TitlePart:
			out = append(out, Group{Title: v.Text, Entries: []Entry{}})
		case part.ContentPart:
			entry, _ := b.entryFor(v)
			out = append(out, Group{Tone: ToneContent, Entries: []Entry{entry}})
		case part.ToolCallPart:
			entry, _ := b.entryFor(v)
			out = append(out, Group{Tone: ToneTool, Entries: []Entry{entry}})
		case part.ReportPart, part.ResultPart, part.PlanPart:
		}
	}
	return out
}
