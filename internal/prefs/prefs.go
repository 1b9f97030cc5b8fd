// Package prefs 界面偏好: 选中的数据源等, 数据库不可用时降级为内存。
package prefs

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/multi-agent/deepinsight-client/internal/assembler"
	"github.com/multi-agent/deepinsight-client/internal/store"
	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
)

// KeyDataSources 选中数据源的偏好键。
const KeyDataSources = "dataSources"

// Manager 偏好读写; store 为 nil 时用内存。
type Manager struct {
	store    *store.UIPreferenceStore
	fallback sync.Map // key → json.RawMessage
	defaults []string
}

// NewManager defaults 为未设置数据源时的默认值。
func NewManager(s *store.UIPreferenceStore, defaults []string) *Manager {
	return &Manager{store: s, defaults: slices.Clone(defaults)}
}

// Get 读取原始 JSON, 不存在返回 nil。
func (m *Manager) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if m.store == nil {
		v, ok := m.fallback.Load(key)
		if !ok {
			return nil, nil
		}
		return v.(json.RawMessage), nil
	}
	return m.store.Get(ctx, key)
}

// Set 写入任意可序列化值。
func (m *Manager) Set(ctx context.Context, key string, value any) error {
	if key == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Prefs.Set", "empty key")
	}
	if m.store == nil {
		data, err := json.Marshal(value)
		if err != nil {
			return apperrors.Wrap(err, "Prefs.Set", "marshal preference")
		}
		m.fallback.Store(key, json.RawMessage(data))
		return nil
	}
	return m.store.Set(ctx, key, value)
}

// GetAll 全部偏好。
func (m *Manager) GetAll(ctx context.Context) (map[string]json.RawMessage, error) {
	if m.store == nil {
		result := make(map[string]json.RawMessage)
		m.fallback.Range(func(k, v any) bool {
			result[k.(string)] = v.(json.RawMessage)
			return true
		})
		return result, nil
	}
	return m.store.GetAll(ctx)
}

// DataSources 当前选中的数据源, 未设置或读取失败时返回默认值。
func (m *Manager) DataSources(ctx context.Context) []string {
	raw, err := m.Get(ctx, KeyDataSources)
	if err != nil {
		logger.FromContext(ctx).Warn("prefs: read data sources failed, using defaults", logger.FieldError, err)
		return slices.Clone(m.defaults)
	}
	if raw == nil {
		return slices.Clone(m.defaults)
	}
	var sources []string
	if err := json.Unmarshal(raw, &sources); err != nil {
		logger.FromContext(ctx).Warn("prefs: malformed data sources, using defaults", logger.FieldError, err)
		return slices.Clone(m.defaults)
	}
	return sources
}

// SetDataSources 去空去重后保存。
func (m *Manager) SetDataSources(ctx context.Context, sources []string) error {
	clean := lo.Uniq(lo.Compact(sources))
	if clean == nil {
		clean = []string{}
	}
	return m.Set(ctx, KeyDataSources, clean)
}

// Snapshot 提交时冻结的偏好快照。
func (m *Manager) Snapshot(ctx context.Context) assembler.Preferences {
	return assembler.Preferences{DataSources: m.DataSources(ctx)}
}
