package session

import (
	"github.com/multi-agent/deepinsight-client/internal/assembler"
	"github.com/multi-agent/deepinsight-client/internal/history"
	"github.com/multi-agent/deepinsight-client/internal/part"
	"github.com/multi-agent/deepinsight-client/internal/report"
	"github.com/multi-agent/deepinsight-client/internal/timeline"
	"github.com/multi-agent/deepinsight-client/internal/viewstate"
)

// MessageView 一条消息的渲染输入: 原始分片 + 助手消息的时间线与报告。
type MessageView struct {
	history.Message
	Fragments []part.Fragment    `json:"parts"`
	Timeline  *timeline.Timeline `json:"timeline,omitempty"`
	Report    *report.Rendered   `json:"report,omitempty"`
}

// View 会话的只读快照, 每次变化后整体重建。
type View struct {
	ConversationID string             `json:"conversation_id"`
	Version        uint64             `json:"version"`
	Messages       []MessageView      `json:"messages"`
	ViewState      viewstate.State    `json:"view_state"`
	TurnState      assembler.State    `json:"turn_state"`
	Generation     uint64             `json:"generation"`
	LastOutcome    *assembler.Outcome `json:"last_outcome,omitempty"`
}

// Last 最后一条消息视图。
func (v View) Last() (MessageView, bool) {
	if len(v.Messages) == 0 {
		return MessageView{}, false
	}
	return v.Messages[len(v.Messages)-1], true
}

func buildMessageView(b *timeline.Builder, m history.Message) MessageView {
	mv := MessageView{Message: m, Fragments: part.ToFragments(m.Parts)}
	if m.IsUser() {
		return mv
	}
	tl := b.Build(m.Parts)
	mv.Timeline = &tl
	if r, ok := report.Extract(m.Parts); ok {
		rendered := report.Render(r, m.Reference)
		mv.Report = &rendered
	}
	return mv
}

// observation 最新助手消息是否已有报告。
func observation(msgs []history.Message, state assembler.State) viewstate.Observation {
	o := viewstate.Observation{Streaming: state.InFlight()}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsUser() {
			break
		}
		if _, ok := report.Extract(msgs[i].Parts); ok {
			o.HasReport = true
			break
		}
	}
	return o
}
