package citation

import (
	"regexp"
	"strconv"
	"strings"
)

// markerRe 匹配 ~~<digits>==。
var markerRe = regexp.MustCompile(`~~(\d+)==`)

// SegmentKind 段类型。
type SegmentKind string

const (
	SegmentText     SegmentKind = "text"
	SegmentCitation SegmentKind = "citation"
)

// Segment 解析后的文本段。Raw 始终保留原始文本, 用于无损还原。
type Segment struct {
	Kind  SegmentKind `json:"kind"`
	Raw   string      `json:"raw"`
	Index int         `json:"index,omitempty"`
	Chunk *Chunk      `json:"chunk,omitempty"`
	Doc   *DocAgg     `json:"doc,omitempty"`
}

// Resolve 把 text 切分为普通文本段与引用段。
//
// 下标在表内的标记变成 citation 段; 越界、无法解析或 table 为空时原样保留为文本。
// 对任意输入都不会失败, 且 Literal(Resolve(text, t)) == text。
func Resolve(text string, table *ReferenceTable) []Segment {
	if text == "" {
		return nil
	}
	locs := markerRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []Segment{{Kind: SegmentText, Raw: text}}
	}

	segments := make([]Segment, 0, len(locs)*2+1)
	var pending strings.Builder
	flush := func() {
		if pending.Len() > 0 {
			segments = append(segments, Segment{Kind: SegmentText, Raw: pending.String()})
			pending.Reset()
		}
	}

	last := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		pending.WriteString(text[last:start])
		last = end

		raw := text[start:end]
		index, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			pending.WriteString(raw)
			continue
		}
		chunk, ok := table.Chunk(index)
		if !ok {
			pending.WriteString(raw)
			continue
		}

		flush()
		seg := Segment{Kind: SegmentCitation, Raw: raw, Index: index, Chunk: &chunk}
		if doc, ok := table.Doc(chunk.DocumentID); ok {
			seg.Doc = &doc
		}
		segments = append(segments, seg)
	}
	pending.WriteString(text[last:])
	flush()
	return segments
}

// Literal 拼回原始文本。
func Literal(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.Raw)
	}
	return b.String()
}

// Markers 按出现顺序列出已解析引用的下标 (去重), 用于脚注渲染。
func Markers(segments []Segment) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, s := range segments {
		if s.Kind != SegmentCitation {
			continue
		}
		if _, ok := seen[s.Index]; ok {
			continue
		}
		seen[s.Index] = struct{}{}
		out = append(out, s.Index)
	}
	return out
}
