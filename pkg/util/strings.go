package util

import "strings"

// FirstNonEmpty 返回第一个 trim 后非空的值 (已 trim)。
// 用于兼容同一字段的多个线上别名, 如 tool_name / name。
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
