package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/multi-agent/deepinsight-client/internal/assembler"
	"github.com/multi-agent/deepinsight-client/internal/config"
	"github.com/multi-agent/deepinsight-client/internal/part"
	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
	"github.com/multi-agent/deepinsight-client/pkg/util"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 20 * time.Second
)

// WebSocket 每轮次一条连接: 建连后发送请求, 随后读取 JSON 帧 {event, data}。
type WebSocket struct {
	url          string
	userID       string
	dialTimeout  time.Duration
	idleTimeout  time.Duration
	pingInterval time.Duration
	header       http.Header
}

// NewWebSocket 按配置创建。
func NewWebSocket(cfg *config.Config) *WebSocket {
	return &WebSocket{
		url:          cfg.StreamWSURL(),
		userID:       cfg.BackendUserID,
		dialTimeout:  cfg.DialTimeout(),
		idleTimeout:  cfg.ReadIdleTimeout(),
		pingInterval: wsPingInterval,
	}
}

// Open 实现 assembler.Transport。
func (t *WebSocket) Open(ctx context.Context, req assembler.StreamRequest) (assembler.Stream, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.dialTimeout,
		NetDialContext:   (&net.Dialer{Timeout: t.dialTimeout}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		return nil, apperrors.WithCode(fmt.Errorf("%w: %w", apperrors.ErrTransport, err),
			"WebSocket.Open", "DIAL", "dial stream")
	}
	if conn == nil {
		return nil, apperrors.New("WebSocket.Open", "dial returned nil websocket connection")
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(streamBody{StreamRequest: req, UserID: t.userID}); err != nil {
		_ = conn.Close()
		return nil, apperrors.WithCode(fmt.Errorf("%w: %w", apperrors.ErrTransport, err),
			"WebSocket.Open", "WRITE", "send request")
	}

	s := &wsStream{conn: conn, idle: t.idleTimeout, done: make(chan struct{})}
	s.extendDeadline()
	conn.SetPongHandler(func(string) error {
		s.extendDeadline()
		return nil
	})
	if t.pingInterval > 0 {
		util.SafeGo(func() { s.pingLoop(t.pingInterval) })
	}

	logger.FromContext(ctx).Debug("transport: ws stream opened",
		logger.FieldURL, t.url, logger.FieldTransport, config.TransportWebSocket)
	return s, nil
}

type wsStream struct {
	conn *websocket.Conn
	idle time.Duration

	writeMu sync.Mutex // gorilla 只允许一个并发写者
	once    sync.Once
	done    chan struct{}
	ended   bool
}

func (s *wsStream) extendDeadline() {
	if s.idle > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.idle))
	}
}

// Next 实现 assembler.Stream。ctx 取消时关闭连接以中断阻塞读。
func (s *wsStream) Next(ctx context.Context) (part.Envelope, error) {
	if s.ended {
		return part.Envelope{}, io.EOF
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			return part.Envelope{}, s.readError(ctx, err)
		}
		s.extendDeadline()

		env, action, err := decodeWireFrame(message)
		if err != nil {
			return part.Envelope{}, err
		}
		switch action {
		case actionEnvelope:
			return env, nil
		case actionEnd:
			s.ended = true
			return part.Envelope{}, io.EOF
		case actionSkip:
		}
	}
}

func (s *wsStream) readError(ctx context.Context, err error) error {
	select {
	case <-s.done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return apperrors.Wrap(apperrors.ErrCancelled, "WebSocket.Next", "stream closed")
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return io.EOF
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.WithCode(fmt.Errorf("%w: %w", apperrors.ErrTransport, apperrors.ErrTimeout),
			"WebSocket.Next", "IDLE_TIMEOUT", "no data within idle timeout")
	}
	return apperrors.WithCode(fmt.Errorf("%w: %w", apperrors.ErrTransport, err),
		"WebSocket.Next", "READ", "read stream")
}

func (s *wsStream) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				_ = s.Close()
				return
			}
		}
	}
}

// Close 发送关闭帧后断开, 可重复调用。
func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed")
		_ = s.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
