package backend

import (
	"github.com/google/uuid"

	"github.com/multi-agent/deepinsight-client/internal/history"
	"github.com/multi-agent/deepinsight-client/internal/part"
)

// ToMessages 把历史接口返回的消息转换为已冻结的历史消息。
//
// 用户消息状态为 sent, 助手消息 (report / search_plan) 为 completed。
func ToMessages(envs []part.Envelope) []history.Message {
	out := make([]history.Message, 0, len(envs))
	for _, env := range envs {
		id := env.ID
		if id == "" {
			id = uuid.NewString()
		}
		created := env.Time()
		msg := history.Message{
			ID:        id,
			Role:      part.NormalizeRole(env.Role),
			CreatedAt: created,
			UpdatedAt: created,
			DocIDs:    env.DocIDs,
			Reference: env.Reference,
		}
		if msg.Role == part.RoleUser {
			msg.Status = history.StatusSent
			msg.Parts = userParts(env)
		} else {
			msg.Status = history.StatusCompleted
			msg.Parts = env.Parts()
		}
		out = append(out, msg)
	}
	return out
}

// userParts 用户消息的内容总是按纯文本处理。
func userParts(env part.Envelope) []part.Part {
	var text string
	for _, p := range env.Parts() {
		if c, ok := p.(part.ContentPart); ok {
			text += c.Text
		}
	}
	return []part.Part{part.ContentPart{Text: text}}
}
