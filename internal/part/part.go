// Package part 定义助手消息的分片联合类型, 以及把后端原始 fragment 归一化为 Part 的分类器。
package part

// Kind Part 类型标识。
type Kind string

const (
	KindTitle    Kind = "title"
	KindContent  Kind = "content"
	KindToolCall Kind = "tool_call"
	KindReport   Kind = "report"
	KindResult   Kind = "result"
	KindPlan     Kind = "plan"
)

// Part 封闭联合: 仅本包内的类型可以实现。
type Part interface {
	Kind() Kind
	isPart()
}

// TitlePart 阶段标题 (titled 时间线的分组头)。
type TitlePart struct{ Text string }

// ContentPart 正文, 可能内嵌 ~~n== 引用标记。
type ContentPart struct{ Text string }

// ToolCallPart 工具调用及其归一化结果。
type ToolCallPart struct {
	ToolName string
	Result   ToolResult
}

// ReportPart 最终报告, 终止分片。
type ReportPart struct{ Text string }

// ResultPart 后续操作标记 (提示开启新会话), 终止分片。
type ResultPart struct{ Text string }

// PlanPart 检索规划回显, 保留在历史中, 不参与渲染。
type PlanPart struct{ Text string }

func (TitlePart) Kind() Kind    { return KindTitle }
func (ContentPart) Kind() Kind  { return KindContent }
func (ToolCallPart) Kind() Kind { return KindToolCall }
func (ReportPart) Kind() Kind   { return KindReport }
func (ResultPart) Kind() Kind   { return KindResult }
func (PlanPart) Kind() Kind     { return KindPlan }

func (TitlePart) isPart()    {}
func (ContentPart) isPart()  {}
func (ToolCallPart) isPart() {}
func (ReportPart) isPart()   {}
func (ResultPart) isPart()   {}
func (PlanPart) isPart()     {}

// IsTerminal 报告或结果标记。消息仍可在流结束前继续增长。
func IsTerminal(p Part) bool {
	switch p.(type) {
	case ReportPart, ResultPart:
		return true
	default:
		return false
	}
}

// HasTerminal 列表中是否存在终止分片。
func HasTerminal(parts []Part) bool {
	for _, p := range parts {
		if IsTerminal(p) {
			return true
		}
	}
	return false
}

// Clone 深拷贝 Part 列表 (ToolResult.Hits 独立一份)。
func Clone(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := make([]Part, len(parts))
	for i, p := range parts {
		if tc, ok := p.(ToolCallPart); ok {
			tc.Result = tc.Result.Clone()
			out[i] = tc
			continue
		}
		out[i] = p
	}
	return out
}

// Equal 逐项比较两组 Part。
func Equal(a, b []Part) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equalPart(a[i], b[i]) {
			return false
		}
	}
	return true
}

func equalPart(a, b Part) bool {
	switch x := a.(type) {
	case ToolCallPart:
		y, ok := b.(ToolCallPart)
		return ok && x.ToolName == y.ToolName && x.Result.Equal(y.Result)
	default:
		return a == b
	}
}
