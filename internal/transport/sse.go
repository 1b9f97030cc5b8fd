package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/multi-agent/deepinsight-client/internal/assembler"
	"github.com/multi-agent/deepinsight-client/internal/config"
	"github.com/multi-agent/deepinsight-client/internal/part"
	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
)

// SSE 通过 HTTP POST 打开流, 响应体为 text/event-stream。
type SSE struct {
	client      *http.Client
	url         string
	userID      string
	idleTimeout time.Duration
}

// NewSSE 按配置创建; client 为空时使用带建连超时的默认客户端 (不设整体超时)。
func NewSSE(cfg *config.Config, client *http.Client) *SSE {
	if client == nil {
		client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: cfg.DialTimeout()}).DialContext,
			TLSHandshakeTimeout:   cfg.DialTimeout(),
			ResponseHeaderTimeout: cfg.ReadIdleTimeout(),
		}}
	}
	return &SSE{
		client:      client,
		url:         cfg.BackendURL(cfg.BackendStreamPath),
		userID:      cfg.BackendUserID,
		idleTimeout: cfg.ReadIdleTimeout(),
	}
}

type streamBody struct {
	assembler.StreamRequest
	UserID string `json:"user_id,omitempty"`
}

// Open 实现 assembler.Transport。
func (t *SSE) Open(ctx context.Context, req assembler.StreamRequest) (assembler.Stream, error) {
	body, err := json.Marshal(streamBody{StreamRequest: req, UserID: t.userID})
	if err != nil {
		return nil, apperrors.Wrap(err, "SSE.Open", "encode request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, "SSE.Open", "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.WithCode(fmt.Errorf("%w: %w", apperrors.ErrTransport, err),
			"SSE.Open", "DIAL", "open stream")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, apperrors.WithCode(
			fmt.Errorf("%w: status %d: %s", apperrors.ErrTransport, resp.StatusCode, strings.TrimSpace(string(snippet))),
			"SSE.Open", "HTTP_STATUS", "open stream")
	}

	logger.FromContext(ctx).Debug("transport: sse stream opened",
		logger.FieldURL, t.url, logger.FieldTransport, config.TransportSSE)
	return newSSEStream(resp.Body, t.idleTimeout), nil
}

// sseStream 逐事件读取。空闲超时由 AfterFunc 关闭响应体实现。
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	idle   time.Duration
	timer  *time.Timer

	mu       sync.Mutex
	closed   bool
	timedOut bool
	ended    bool
}

func newSSEStream(body io.ReadCloser, idle time.Duration) *sseStream {
	s := &sseStream{body: body, reader: bufio.NewReader(body), idle: idle}
	if idle > 0 {
		s.timer = time.AfterFunc(idle, s.expire)
	}
	return s
}

func (s *sseStream) expire() {
	s.mu.Lock()
	s.timedOut = true
	s.mu.Unlock()
	_ = s.body.Close()
}

func (s *sseStream) touch() {
	if s.timer != nil {
		s.timer.Reset(s.idle)
	}
}

// Next 实现 assembler.Stream。
func (s *sseStream) Next(ctx context.Context) (part.Envelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return part.Envelope{}, err
		}
		s.mu.Lock()
		ended := s.ended
		s.mu.Unlock()
		if ended {
			return part.Envelope{}, io.EOF
		}

		event, data, err := s.readEvent()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return part.Envelope{}, ctxErr
			}
			return part.Envelope{}, s.readError(err)
		}
		s.touch()

		env, action, err := decodeFrame(event, data)
		if err != nil {
			return part.Envelope{}, err
		}
		switch action {
		case actionEnvelope:
			return env, nil
		case actionEnd:
			s.mu.Lock()
			s.ended = true
			s.mu.Unlock()
			return part.Envelope{}, io.EOF
		case actionSkip:
		}
	}
}

// readEvent 读取一个以空行结束的事件; 多行 data 以换行拼接。
func (s *sseStream) readEvent() (string, []byte, error) {
	var event string
	var data bytes.Buffer
	hasData := false
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) && hasData {
				return event, data.Bytes(), nil
			}
			return "", nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if hasData || event != "" {
				return event, data.Bytes(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
		if errors.Is(err, io.EOF) {
			return event, data.Bytes(), nil
		}
	}
}

// readError 区分: 服务端关闭连接 (无 end 帧) / 空闲超时 / 主动关闭。
func (s *sseStream) readError(err error) error {
	s.mu.Lock()
	closed, timedOut := s.closed, s.timedOut
	s.mu.Unlock()
	switch {
	case closed:
		return apperrors.Wrap(apperrors.ErrCancelled, "SSE.Next", "stream closed")
	case timedOut:
		return apperrors.WithCode(fmt.Errorf("%w: %w", apperrors.ErrTransport, apperrors.ErrTimeout),
			"SSE.Next", "IDLE_TIMEOUT", "no data within idle timeout")
	case errors.Is(err, io.EOF):
		// 后端不发送 end 帧时, 连接关闭即视为正常结束
		return io.EOF
	default:
		return apperrors.WithCode(fmt.Errorf("%w: %w", apperrors.ErrTransport, err),
			"SSE.Next", "READ", "read stream")
	}
}

// Close 可重复调用, 可与阻塞中的 Next 并发。
func (s *sseStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	return s.body.Close()
}
