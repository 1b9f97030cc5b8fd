package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/multi-agent/deepinsight-client/internal/assembler"
	"github.com/multi-agent/deepinsight-client/internal/backend"
	"github.com/multi-agent/deepinsight-client/internal/history"
	"github.com/multi-agent/deepinsight-client/internal/part"
)

// scriptStream 预置的帧序列, 发完后阻塞直到 release 关闭, 然后 EOF。
type scriptStream struct {
	envs      []part.Envelope
	release   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

func newScriptStream(envs ...part.Envelope) *scriptStream {
	return &scriptStream{envs: envs, release: make(chan struct{}), closed: make(chan struct{})}
}

func (s *scriptStream) Next(ctx context.Context) (part.Envelope, error) {
	s.mu.Lock()
	if len(s.envs) > 0 {
		env := s.envs[0]
		s.envs = s.envs[1:]
		s.mu.Unlock()
		return env, nil
	}
	s.mu.Unlock()
	select {
	case <-s.release:
		return part.Envelope{}, io.EOF
	case <-s.closed:
		return part.Envelope{}, errors.New("stream closed")
	case <-ctx.Done():
		return part.Envelope{}, ctx.Err()
	}
}

func (s *scriptStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptStream) finish() { close(s.release) }

type fakeTransport struct {
	mu       sync.Mutex
	streams  []*scriptStream
	requests []assembler.StreamRequest
}

func (t *fakeTransport) Open(_ context.Context, req assembler.StreamRequest) (assembler.Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, req)
	if len(t.streams) == 0 {
		return nil, errors.New("connection refused")
	}
	s := t.streams[0]
	t.streams = t.streams[1:]
	return s, nil
}

func (t *fakeTransport) requestCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// memArchive 内存归档。
type memArchive struct {
	mu    sync.Mutex
	convs map[string][]history.Message
}

func newMemArchive() *memArchive {
	return &memArchive{convs: make(map[string][]history.Message)}
}

func (a *memArchive) Save(_ context.Context, id string, msgs []history.Message) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	saved := make([]history.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsUser() && m.Status == history.StatusPending {
			continue
		}
		if !m.IsUser() && !m.Frozen() {
			continue
		}
		saved = append(saved, m.Clone())
	}
	a.convs[id] = saved
	return len(saved), nil
}

func (a *memArchive) Load(_ context.Context, id string) ([]history.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.convs[id]), nil
}

func (a *memArchive) DeleteMessages(_ context.Context, id string, ids []string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	before := len(a.convs[id])
	a.convs[id] = slices.DeleteFunc(a.convs[id], func(m history.Message) bool { return slices.Contains(ids, m.ID) })
	return int64(before - len(a.convs[id])), nil
}

func (a *memArchive) DeleteConversation(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.convs, id)
	return nil
}

func (a *memArchive) ids(id string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, m := range a.convs[id] {
		out = append(out, m.ID)
	}
	return out
}

type fakeBackend struct {
	history backend.ConversationHistory
	err     error
}

func (b fakeBackend) History(context.Context, string) (backend.ConversationHistory, error) {
	return b.history, b.err
}

type fixedPrefs []string

func (p fixedPrefs) Snapshot(context.Context) assembler.Preferences {
	return assembler.Preferences{DataSources: slices.Clone(p)}
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

func waitDone(t *testing.T, turn *assembler.Turn) assembler.Outcome {
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
