package store

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
)

// UIPreferenceStore ui_preferences 表, 值为任意 JSON。
type UIPreferenceStore struct{ BaseStore }

// NewUIPreferenceStore 创建偏好存储。
func NewUIPreferenceStore(pool *pgxpool.Pool) *UIPreferenceStore {
	return &UIPreferenceStore{NewBaseStore(pool)}
}

// Get 读取 key 对应的原始 JSON, 不存在返回 (nil, nil)。
func (s *UIPreferenceStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var val json.RawMessage
	err := s.pool.QueryRow(ctx, "SELECT value FROM ui_preferences WHERE key = $1", key).Scan(&val)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, "UIPreferenceStore.Get", "query preference")
	}
	return val, nil
}

// Set upsert 偏好, value 序列化为 JSON。
func (s *UIPreferenceStore) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrap(err, "UIPreferenceStore.Set", "marshal preference")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ui_preferences (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
	`, key, data)
	if err != nil {
		return apperrors.Wrap(err, "UIPreferenceStore.Set", "upsert preference")
	}
	return nil
}

// GetAll 读取全部偏好。
func (s *UIPreferenceStore) GetAll(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx, "SELECT key, value FROM ui_preferences")
	if err != nil {
		return nil, apperrors.Wrap(err, "UIPreferenceStore.GetAll", "query preferences")
	}
	defer rows.Close()

	result := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var raw json.RawMessage
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, apperrors.Wrap(err, "UIPreferenceStore.GetAll", "scan preference")
		}
		if !json.Valid(raw) {
			continue
		}
		result[key] = raw
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "UIPreferenceStore.GetAll", "iterate preferences")
	}
	return result, nil
}
