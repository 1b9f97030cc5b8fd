package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
)

// 工具卡片类型。
const (
	ToolCardChunks = "chunks" // 知识库切片预览
	ToolCardLinks  = "links"  // 网页 / 内网搜索链接
)

// ToolRegistryFile tools.yaml 的顶层结构。
//
//	tools:
//	  retrieve: chunks
//	  tavily_batch_web_search: links
type ToolRegistryFile struct {
	Tools map[string]string `yaml:"tools"`
}

// DefaultToolRegistry 内置工具名 → 卡片类型映射。
func DefaultToolRegistry() map[string]string {
	return map[string]string{
		"retrieve":        ToolCardChunks,
		"knowledge_base":  ToolCardChunks,
		"web_search":      ToolCardLinks,
		"tavily_search":   ToolCardLinks,
		"intranet_search": ToolCardLinks,
		"search":          ToolCardLinks,

		"tavily_batch_web_search": ToolCardLinks,
	}
}

// LoadToolRegistry 读取 YAML 工具注册表并覆盖在默认映射之上。
//
// path 为空或文件不存在时返回默认映射; 无法识别的卡片类型被忽略并记录告警。
func LoadToolRegistry(path string) (map[string]string, error) {
	registry := DefaultToolRegistry()
	if strings.TrimSpace(path) == "" {
		return registry, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return registry, nil
		}
		return nil, apperrors.Wrap(err, "Config.LoadToolRegistry", "read tool registry")
	}

	var file ToolRegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperrors.Wrap(err, "Config.LoadToolRegistry", "parse tool registry")
	}
	for name, kind := range file.Tools {
		key := strings.ToLower(strings.TrimSpace(name))
		value := strings.ToLower(strings.TrimSpace(kind))
		if key == "" {
			continue
		}
		if value != ToolCardChunks && value != ToolCardLinks {
			logger.Warn("config: unknown tool card kind, ignored",
				logger.FieldToolName, key, logger.FieldKey, kind)
			continue
		}
		registry[key] = value
	}
	return registry, nil
}
