package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/multi-agent/deepinsight-client/pkg/logger"
)

// LoadEnvFile 从 dir 向上最多 depth 层查找 .env 并加载, 不覆盖已有的环境变量。
// 返回加载的文件路径与新设置的变量数; 未找到时 path 为空。
func LoadEnvFile(dir string, depth int) (string, int) {
	for i := 0; i < depth; i++ {
		envPath := filepath.Join(dir, ".env")
		if f, err := os.Open(envPath); err == nil {
			count := applyEnv(f)
			_ = f.Close()
			logger.Info("loaded .env file", logger.FieldPath, envPath, logger.FieldCount, count)
			return envPath, count
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", 0
}

func applyEnv(f *os.File) int {
	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			logger.Warn("loadEnvFile: setenv failed", logger.FieldKey, key, logger.FieldError, err)
			continue
		}
		count++
	}
	return count
}
