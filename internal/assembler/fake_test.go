package assembler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/multi-agent/deepinsight-client/internal/part"
)

type frame struct {
	env part.Envelope
	err error
}

// fakeStream 由测试逐帧投递; close(frames) 表示正常结束。
type fakeStream struct {
	frames    chan frame
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan frame, 16), closed: make(chan struct{})}
}

func (s *fakeStream) Next(ctx context.Context) (part.Envelope, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return part.Envelope{}, io.EOF
		}
		return f.env, f.err
	case <-s.closed:
		return part.Envelope{}, errors.New("stream closed")
	case <-ctx.Done():
		return part.Envelope{}, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) send(env part.Envelope) { s.frames <- frame{env: env} }
func (s *fakeStream) fail(err error)         { s.frames <- frame{err: err} }
func (s *fakeStream) end()                   { close(s.frames) }

// fakeTransport 按顺序交出预置的流。
type fakeTransport struct {
	mu       sync.Mutex
	streams  []*fakeStream
	openErr  error
	requests []StreamRequest
}

func (t *fakeTransport) Open(_ context.Context, req StreamRequest) (Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, req)
	if t.openErr != nil {
		return nil, t.openErr
	}
	if len(t.streams) == 0 {
		return nil, errors.New("no stream prepared")
	}
	s := t.streams[0]
	t.streams = t.streams[1:]
	return s, nil
}

func (t *fakeTransport) lastRequest() StreamRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests[len(t.requests)-1]
}

func (t *fakeTransport) lastRequestEventually(tb *testing.T) StreamRequest {
	tb.Helper()
	waitFor(tb, "transport open", func() bool {
		t.mu.Lock()
		defer t.mu.Unlock()
		return len(t.requests) > 0
	})
	return t.lastRequest()
}

func fragments(pairs ...any) json.RawMessage {
	list := make([]map[string]any, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		list = append(list, map[string]any{"type": pairs[i], "content": pairs[i+1]})
	}
	data, _ := json.Marshal(list)
	return data
}

func text(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

func waitDone(t *testing.T, turn *Turn) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := turn.Wait(ctx)
	if err != nil {
		t.Fatalf("turn did not finish: %v", err)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
