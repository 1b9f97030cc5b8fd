package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multi-agent/deepinsight-client/internal/citation"
	"github.com/multi-agent/deepinsight-client/internal/history"
	"github.com/multi-agent/deepinsight-client/internal/part"
	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
)

const archiveColumns = `conversation_id, message_id, position, role, status, parts, reference, doc_ids, created_at, updated_at`

// ArchivedMessage conversation_messages 表的一行。
type ArchivedMessage struct {
	ConversationID string    `db:"conversation_id"`
	MessageID      string    `db:"message_id"`
	Position       int32     `db:"position"`
	Role           string    `db:"role"`
	Status         string    `db:"status"`
	Parts          []byte    `db:"parts"`
	Reference      []byte    `db:"reference"`
	DocIDs         []string  `db:"doc_ids"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// MessageArchiveStore 已冻结消息的持久化归档。
type MessageArchiveStore struct{ BaseStore }

// NewMessageArchiveStore 创建归档存储。
func NewMessageArchiveStore(pool *pgxpool.Pool) *MessageArchiveStore {
	return &MessageArchiveStore{NewBaseStore(pool)}
}

// Settled 消息是否已到终态: 问题已发出或失败, 答案已冻结。
func Settled(m history.Message) bool {
	if m.IsUser() {
		return m.Status != history.StatusPending
	}
	return m.Frozen()
}

// Save upsert 快照中已到终态的消息, position 取其在快照中的下标。
func (s *MessageArchiveStore) Save(ctx context.Context, conversationID string, msgs []history.Message) (int, error) {
	batch := &pgx.Batch{}
	for i, m := range msgs {
		if !Settled(m) {
			continue
		}
		row, err := ToArchived(conversationID, i, m)
		if err != nil {
			return 0, apperrors.Wrapf(err, "MessageArchiveStore.Save", "encode message %s", m.ID)
		}
		batch.Queue(`
			INSERT INTO conversation_messages (`+archiveColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (conversation_id, message_id) DO UPDATE SET
				position   = EXCLUDED.position,
				status     = EXCLUDED.status,
				parts      = EXCLUDED.parts,
				reference  = EXCLUDED.reference,
				doc_ids    = EXCLUDED.doc_ids,
				updated_at = EXCLUDED.updated_at
		`, row.ConversationID, row.MessageID, row.Position, row.Role, row.Status,
			row.Parts, row.Reference, row.DocIDs, row.CreatedAt, row.UpdatedAt)
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return i, apperrors.Wrap(err, "MessageArchiveStore.Save", "upsert message")
		}
	}
	logger.FromContext(ctx).Debug("archive: saved",
		logger.FieldConversationID, conversationID,
		logger.FieldCount, batch.Len(),
	)
	return batch.Len(), nil
}

// Load 按 position 顺序读出一个会话的归档。
func (s *MessageArchiveStore) Load(ctx context.Context, conversationID string) ([]history.Message, error) {
	sql, params := NewQueryBuilder().
		Eq("conversation_id", conversationID).
		Build("SELECT "+archiveColumns+" FROM conversation_messages", "position ASC", 2000)
	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, apperrors.Wrap(err, "MessageArchiveStore.Load", "query messages")
	}
	items, err := collectRows[ArchivedMessage](rows)
	if err != nil {
		return nil, apperrors.Wrap(err, "MessageArchiveStore.Load", "scan messages")
	}

	out := make([]history.Message, 0, len(items))
	for _, row := range items {
		m, err := FromArchived(row)
		if err != nil {
			logger.Warn("archive: skip undecodable message",
				logger.FieldConversationID, conversationID,
				logger.FieldMessageID, row.MessageID,
				logger.FieldError, err,
			)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Conversations 归档中出现过的会话 id。
func (s *MessageArchiveStore) Conversations(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT conversation_id FROM conversation_messages ORDER BY conversation_id`)
	if err != nil {
		return nil, apperrors.Wrap(err, "MessageArchiveStore.Conversations", "query conversations")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperrors.Wrap(err, "MessageArchiveStore.Conversations", "scan conversations")
	}
	return ids, nil
}

// DeleteMessages 删除指定消息, 与内存截断同步。
func (s *MessageArchiveStore) DeleteMessages(ctx context.Context, conversationID string, ids []string) (int64, error) {
	n, err := DeleteScopedKeys(ctx, s.pool, "conversation_messages", "conversation_id", conversationID, "message_id", ids)
	if err != nil {
		return 0, apperrors.Wrap(err, "MessageArchiveStore.DeleteMessages", "delete messages")
	}
	return n, nil
}

// DeleteConversation 删除整个会话的归档。
func (s *MessageArchiveStore) DeleteConversation(ctx context.Context, conversationID string) error {
	if _, err := DeleteByKey(ctx, s.pool, "conversation_messages", "conversation_id", conversationID); err != nil {
		return apperrors.Wrap(err, "MessageArchiveStore.DeleteConversation", "delete conversation")
	}
	return nil
}

// ToArchived 消息 → 行。
func ToArchived(conversationID string, position int, m history.Message) (ArchivedMessage, error) {
	parts, err := part.MarshalParts(m.Parts)
	if err != nil {
		return ArchivedMessage{}, err
	}
	var ref []byte
	if m.Reference.Len() > 0 {
		ref = mustMarshalJSON(m.Reference)
	}
	docIDs := m.DocIDs
	if docIDs == nil {
		docIDs = []string{}
	}
	updated := m.UpdatedAt
	if updated.IsZero() {
		updated = m.CreatedAt
	}
	return ArchivedMessage{
		ConversationID: conversationID,
		MessageID:      m.ID,
		Position:       int32(position),
		Role:           m.Role,
		Status:         string(m.Status),
		Parts:          parts,
		Reference:      ref,
		DocIDs:         docIDs,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      updated,
	}, nil
}

// FromArchived 行 → 消息。
func FromArchived(row ArchivedMessage) (history.Message, error) {
	parts, err := part.UnmarshalParts(row.Parts)
	if err != nil {
		return history.Message{}, err
	}
	m := history.Message{
		ID:        row.MessageID,
		Role:      part.NormalizeRole(row.Role),
		Parts:     parts,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Status:    history.Status(row.Status),
	}
	if len(row.DocIDs) > 0 {
		m.DocIDs = row.DocIDs
	}
	if len(row.Reference) > 0 {
		var ref citation.ReferenceTable
		if err := json.Unmarshal(row.Reference, &ref); err != nil {
			return history.Message{}, err
		}
		m.Reference = &ref
	}
	return m, nil
}
