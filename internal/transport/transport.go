package transport

import (
	"github.com/multi-agent/deepinsight-client/internal/assembler"
	"github.com/multi-agent/deepinsight-client/internal/config"
)

// New 按配置选择传输方式。
func New(cfg *config.Config) assembler.Transport {
	if cfg.StreamTransport == config.TransportWebSocket {
		return NewWebSocket(cfg)
	}
	return NewSSE(cfg, nil)
}
