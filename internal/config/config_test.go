// config_test.go: 配置加载默认值 + 环境变量覆盖测试。
package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"BACKEND_BASE_URL", "STREAM_TRANSPORT", "MERGE_MODE", "DATA_SOURCES", "LISTEN_ADDR"} {
		os.Unsetenv(key)
	}

	cfg := Load()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"BackendBaseURL", cfg.BackendBaseURL, "http://127.0.0.1:8000"},
		{"BackendStreamPath", cfg.BackendStreamPath, "/api/chat"},
		{"StreamTransport", cfg.StreamTransport, TransportSSE},
		{"MergeMode", cfg.MergeMode, MergeModeSnapshot},
		{"DialTimeoutSec", cfg.DialTimeoutSec, 10},
		{"ListenAddr", cfg.ListenAddr, ":8080"},
		{"SSEKeepaliveSec", cfg.SSEKeepaliveSec, 30},
		{"PostgresSchema", cfg.PostgresSchema, "public"},
		{"SnippetWidth", cfg.SnippetWidth, 120},
		{"ThumbnailCacheSize", cfg.ThumbnailCacheSize, 512},
		{"LogLevel", cfg.LogLevel, "INFO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
	if !reflect.DeepEqual(cfg.DefaultDataSources, []string{"knowledge_base", "web_search"}) {
		t.Errorf("DefaultDataSources = %v", cfg.DefaultDataSources)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STREAM_TRANSPORT", "WebSocket")
	t.Setenv("MERGE_MODE", "DELTA")
	t.Setenv("SNIPPET_WIDTH", "4")
	t.Setenv("DATA_SOURCES", "intranet")

	cfg := Load()

	if cfg.StreamTransport != TransportWebSocket {
		t.Errorf("StreamTransport = %q, want ws", cfg.StreamTransport)
	}
	if cfg.MergeMode != MergeModeDelta {
		t.Errorf("MergeMode = %q, want delta", cfg.MergeMode)
	}
	if cfg.SnippetWidth != 16 {
		t.Errorf("SnippetWidth = %d, want clamp to 16", cfg.SnippetWidth)
	}
	if !reflect.DeepEqual(cfg.DefaultDataSources, []string{"intranet"}) {
		t.Errorf("DefaultDataSources = %v", cfg.DefaultDataSources)
	}
}

func TestBackendURLs(t *testing.T) {
	cfg := &Config{
		BackendBaseURL:    "https://insight.example.com/",
		BackendAPIPrefix:  "/v1/",
		BackendStreamPath: "/api/chat",
	}
	if got := cfg.BackendURL("api/conversations"); got != "https://insight.example.com/v1/api/conversations" {
		t.Errorf("BackendURL = %q", got)
	}
	if got := cfg.StreamWSURL(); got != "wss://insight.example.com/v1/api/chat" {
		t.Errorf("StreamWSURL = %q", got)
	}
	cfg.BackendWSURL = "ws://other/stream"
	if got := cfg.StreamWSURL(); got != "ws://other/stream" {
		t.Errorf("StreamWSURL override = %q", got)
	}
}

func TestLoadToolRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	content := "tools:\n  Bing_Search: links\n  retrieve: links\n  odd_tool: pictures\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	registry, err := LoadToolRegistry(path)
	if err != nil {
		t.Fatalf("LoadToolRegistry: %v", err)
	}
	if registry["bing_search"] != ToolCardLinks {
		t.Errorf("bing_search = %q, want links", registry["bing_search"])
	}
	if registry["retrieve"] != ToolCardLinks {
		t.Errorf("retrieve override = %q, want links", registry["retrieve"])
	}
	if _, ok := registry["odd_tool"]; ok {
		t.Error("unknown card kind should be ignored")
	}
	if registry["tavily_search"] != ToolCardLinks {
		t.Error("defaults should survive merge")
	}
}

func TestLoadToolRegistryMissingFile(t *testing.T) {
	registry, err := LoadToolRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if !reflect.DeepEqual(registry, DefaultToolRegistry()) {
		t.Errorf("registry = %v", registry)
	}
}

func TestLoadToolRegistryMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	if err := os.WriteFile(path, []byte("tools: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadToolRegistry(path); err == nil {
		t.Error("expected parse error")
	}
}
