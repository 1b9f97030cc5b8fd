// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"strings"
	"time"

	"github.com/multi-agent/deepinsight-client/pkg/util"
)

// 流式传输方式。
const (
	TransportSSE       = "sse"
	TransportWebSocket = "ws"
)

// 合并模式: snapshot = 后端重复投递累积快照; delta = 后端只投递增量。
const (
	MergeModeSnapshot = "snapshot"
	MergeModeDelta    = "delta"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 运行环境
	AppEnv   string `env:"APP_ENV" default:"production"`
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"LOG_DIR"`

	// Agent 后端
	BackendBaseURL       string `env:"BACKEND_BASE_URL" default:"http://127.0.0.1:8000"`
	BackendAPIPrefix     string `env:"API_PREFIX"`
	BackendStreamPath    string `env:"BACKEND_STREAM_PATH" default:"/api/chat"`
	BackendWSURL         string `env:"BACKEND_WS_URL"`
	BackendUserID        string `env:"BACKEND_USER_ID" default:"test_user"`
	BackendThumbnailPath string `env:"BACKEND_THUMBNAIL_PATH" default:"/api/documents/%s/thumbnail"`
	StreamTransport      string `env:"STREAM_TRANSPORT" default:"sse"`
	MergeMode            string `env:"MERGE_MODE" default:"snapshot"`
	DialTimeoutSec       int    `env:"BACKEND_DIAL_TIMEOUT_SEC" default:"10" min:"1"`
	ReadIdleTimeoutSec   int    `env:"BACKEND_READ_IDLE_TIMEOUT_SEC" default:"300" min:"1"`

	// 本地 HTTP API (渲染层)
	ListenAddr      string `env:"LISTEN_ADDR" default:":8080"`
	SSEKeepaliveSec int    `env:"SSE_KEEPALIVE_SEC" default:"30" min:"1"`

	// PostgreSQL (可选, 为空时使用内存存储)
	PostgresConnStr     string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema      string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	MigrationsDir       string `env:"MIGRATIONS_DIR" default:"./migrations"`

	// 渲染
	DefaultDataSources []string `env:"DATA_SOURCES" default:"knowledge_base,web_search"`
	SnippetWidth       int      `env:"SNIPPET_WIDTH" default:"120" min:"16"`
	AnomalyWidth       int      `env:"ANOMALY_WIDTH" default:"80" min:"16"`
	ThumbnailCacheSize int      `env:"THUMBNAIL_CACHE_SIZE" default:"512" min:"1"`
	ToolRegistryPath   string   `env:"TOOL_REGISTRY_PATH"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	cfg.StreamTransport = normalizeTransport(cfg.StreamTransport)
	cfg.MergeMode = normalizeMergeMode(cfg.MergeMode)
	return &cfg
}

// DialTimeout 建连超时。
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSec) * time.Second
}

// ReadIdleTimeout 流读取空闲超时, 超时即视为传输失败。
func (c *Config) ReadIdleTimeout() time.Duration {
	return time.Duration(c.ReadIdleTimeoutSec) * time.Second
}

// SSEKeepalive 本地 SSE 推送心跳间隔。
func (c *Config) SSEKeepalive() time.Duration {
	return time.Duration(c.SSEKeepaliveSec) * time.Second
}

// BackendURL 拼接后端地址 + API 前缀 + path。
func (c *Config) BackendURL(path string) string {
	base := strings.TrimRight(c.BackendBaseURL, "/")
	prefix := strings.Trim(c.BackendAPIPrefix, "/")
	if prefix != "" {
		base += "/" + prefix
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// StreamWSURL WebSocket 流地址; 未配置时由 BackendBaseURL 推导。
func (c *Config) StreamWSURL() string {
	if c.BackendWSURL != "" {
		return c.BackendWSURL
	}
	u := c.BackendURL(c.BackendStreamPath)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}

func normalizeTransport(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "ws", "websocket":
		return TransportWebSocket
	default:
		return TransportSSE
	}
}

func normalizeMergeMode(v string) string {
	if strings.EqualFold(strings.TrimSpace(v), MergeModeDelta) {
		return MergeModeDelta
	}
	return MergeModeSnapshot
}
