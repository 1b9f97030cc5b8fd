package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/multi-agent/deepinsight-client/internal/assembler"
	"github.com/multi-agent/deepinsight-client/internal/backend"
	"github.com/multi-agent/deepinsight-client/internal/citation"
	"github.com/multi-agent/deepinsight-client/internal/history"
	"github.com/multi-agent/deepinsight-client/internal/part"
	"github.com/multi-agent/deepinsight-client/internal/timeline"
	"github.com/multi-agent/deepinsight-client/internal/viewstate"
	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type viewRecorder struct {
	mu      sync.Mutex
	views   []View
	notices []assembler.Notice
}

func (r *viewRecorder) onChange(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *viewRecorder) onNotice(n assembler.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *viewRecorder) noticeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

func newTestManager(tr *fakeTransport, archive Archive, src HistorySource) (*Manager, *viewRecorder) {
	rec := &viewRecorder{}
	m := NewManager(Deps{
		Transport:   tr,
		Archive:     archive,
		Backend:     src,
		Preferences: fixedPrefs{"knowledge_base"},
		OnChange:    rec.onChange,
		OnNotice:    rec.onNotice,
	})
	return m, rec
}

func a2aReference() *citation.ReferenceTable {
	return &citation.ReferenceTable{
		Chunks:  []citation.Chunk{{ID: "c0", DocumentID: "d1", Content: "agent card"}},
		DocAggs: []citation.DocAgg{{DocID: "d1", DocName: "a2a.pdf"}},
	}
}

func TestSubmitBuildsViewAndArchives(t *testing.T) {
	tool := map[string]any{"tool_name": "retrieve", "result": []any{map[string]any{"content": "A2A chunk", "document_id": "d1"}}}
	stream := newScriptStream(
		part.Envelope{ID: "r1", Role: "report", Content: fragments("title", "检索资料", "tool_call", tool)},
		part.Envelope{ID: "r1", Role: "report", Reference: a2aReference(), Content: fragments(
			"title", "检索资料", "tool_call", tool, "content", "A2A 是~~0==协议",
			"title", "撰写报告", "content", "整理中", "report", "# A2A\n见~~0==")},
	)
	tr := &fakeTransport{streams: []*scriptStream{stream}}
	archive := newMemArchive()
	m, rec := newTestManager(tr, archive, nil)
	ctx := context.Background()

	conv, err := m.Create("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	turn, err := conv.SubmitQuestion(ctx, "分析一下 A2A 协议", nil)
	if err != nil || turn == nil {
		t.Fatalf("SubmitQuestion = %v, %v", turn, err)
	}
	stream.finish()
	out := waitDone(t, turn)
	if out.State != assembler.StateCompleted {
		t.Fatalf("outcome = %+v", out)
	}
	waitFor(t, "archive", func() bool { return len(archive.ids("conv-1")) == 2 })

	v := conv.View()
	if len(v.Messages) != 2 || v.TurnState != assembler.StateCompleted {
		t.Fatalf("view = %+v", v)
	}
	answer, _ := v.Last()
	if answer.Timeline == nil || answer.Timeline.Mode != timeline.ModeTitled || len(answer.Timeline.Groups) != 2 {
		t.Errorf("timeline = %+v", answer.Timeline)
	}
	if answer.Report == nil || len(answer.Report.Footnotes) != 1 {
		t.Errorf("report = %+v", answer.Report)
	}
	if v.ViewState.Active != viewstate.ViewReport {
		t.Errorf("active view = %s", v.ViewState.Active)
	}
	if diff := cmp.Diff([]string{"knowledge_base"}, tr.requests[0].DataSources); diff != "" {
		t.Errorf("data sources (-want +got):\n%s", diff)
	}
	rec.mu.Lock()
	published := len(rec.views)
	rec.mu.Unlock()
	if published == 0 {
		t.Errorf("no views published")
	}
}

func TestSubmitWhileInFlightIsNoop(t *testing.T) {
	stream := newScriptStream()
	tr := &fakeTransport{streams: []*scriptStream{stream}}
	m, _ := newTestManager(tr, nil, nil)
	conv, _ := m.Create("")
	ctx := context.Background()

	first, err := conv.SubmitQuestion(ctx, "q1", nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := conv.SubmitQuestion(ctx, "q2", nil)
	if err != nil || second != nil {
		t.Fatalf("second submit = %v, %v", second, err)
	}
	if conv.History().Len() != 1 {
		t.Errorf("history len = %d", conv.History().Len())
	}
	stream.finish()
	waitDone(t, first)
}

func TestFailureNoticeAndResubmit(t *testing.T) {
	tr := &fakeTransport{}
	archive := newMemArchive()
	m, rec := newTestManager(tr, archive, nil)
	conv, _ := m.Create("conv-2")
	ctx := context.Background()

	turn, err := conv.SubmitQuestion(ctx, "分析一下 A2A 协议", []string{"d1"})
	if err != nil {
		t.Fatal(err)
	}
	out := waitDone(t, turn)
	if out.State != assembler.StateFailed || rec.noticeCount() != 1 {
		t.Fatalf("outcome = %+v notices = %d", out, rec.noticeCount())
	}
	q, _ := conv.History().Get(turn.QuestionID)
	if q.Status != history.StatusFailed {
		t.Errorf("question status = %s", q.Status)
	}

	stream := newScriptStream(part.Envelope{ID: "r9", Role: "report", Content: fragments("report", "done")})
	tr.mu.Lock()
	tr.streams = append(tr.streams, stream)
	tr.mu.Unlock()

	again, err := conv.Resubmit(ctx, turn.QuestionID)
	if err != nil {
		t.Fatal(err)
	}
	stream.finish()
	if out := waitDone(t, again); out.State != assembler.StateCompleted {
		t.Fatalf("resubmit outcome = %+v", out)
	}
	if tr.requestCount() != 2 {
		t.Errorf("requests = %d", tr.requestCount())
	}
	if diff := cmp.Diff([]string{"d1"}, tr.requests[1].DocIDs); diff != "" {
		t.Errorf("doc ids (-want +got):\n%s", diff)
	}
	waitFor(t, "archive", func() bool { return len(archive.ids("conv-2")) == 2 })
}

func TestRemoveMessageMirrorsArchive(t *testing.T) {
	stream := newScriptStream(part.Envelope{ID: "a1", Role: "report", Content: fragments("report", "r")})
	tr := &fakeTransport{streams: []*scriptStream{stream}}
	archive := newMemArchive()
	m, _ := newTestManager(tr, archive, nil)
	conv, _ := m.Create("conv-3")
	ctx := context.Background()

	turn, _ := conv.SubmitQuestion(ctx, "q", nil)
	stream.finish()
	waitDone(t, turn)
	waitFor(t, "archive", func() bool { return len(archive.ids("conv-3")) == 2 })

	removed, err := conv.RemoveMessage(ctx, turn.QuestionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 || conv.History().Len() != 0 {
		t.Errorf("removed = %v, len = %d", removed, conv.History().Len())
	}
	if got := archive.ids("conv-3"); len(got) != 0 {
		t.Errorf("archive after remove = %v", got)
	}
}

func TestOpenHydrates(t *testing.T) {
	ctx := context.Background()
	src := fakeBackend{history: backend.ConversationHistory{
		ConversationID: "conv-b",
		Messages: []part.Envelope{
			{ID: "u1", Role: "user", Content: text("分析一下 A2A 协议")},
			{ID: "r1", Role: "report", Content: fragments("title", "检索", "report", "# 报告")},
		},
	}}

	t.Run("from_backend", func(t *testing.T) {
		m, _ := newTestManager(&fakeTransport{}, newMemArchive(), src)
		conv, err := m.Open(ctx, "conv-b")
		if err != nil {
			t.Fatal(err)
		}
		v := conv.View()
		if len(v.Messages) != 2 || !v.Messages[1].Frozen() {
			t.Fatalf("view = %+v", v.Messages)
		}
		if v.ViewState.Active != viewstate.ViewReport {
			t.Errorf("active = %s", v.ViewState.Active)
		}
		again, _ := m.Open(ctx, "conv-b")
		if again != conv {
			t.Errorf("Open should return the live conversation")
		}
	})

	t.Run("archive_first", func(t *testing.T) {
		archive := newMemArchive()
		_, _ = archive.Save(ctx, "conv-b", []history.Message{
			{ID: "u9", Role: part.RoleUser, Status: history.StatusSent, Parts: []part.Part{part.ContentPart{Text: "archived"}}},
		})
		m, _ := newTestManager(&fakeTransport{}, archive, src)
		conv, err := m.Open(ctx, "conv-b")
		if err != nil {
			t.Fatal(err)
		}
		if conv.History().Len() != 1 {
			t.Errorf("history len = %d", conv.History().Len())
		}
	})

	t.Run("backend_error", func(t *testing.T) {
		m, _ := newTestManager(&fakeTransport{}, nil, fakeBackend{err: apperrors.ErrNotFound})
		if _, err := m.Open(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
			t.Errorf("err = %v", err)
		}
		if _, err := m.Open(ctx, " "); !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Errorf("blank id err = %v", err)
		}
	})
}

func TestPinAndScroll(t *testing.T) {
	m, rec := newTestManager(&fakeTransport{}, nil, nil)
	conv, _ := m.Create("conv-v")

	if err := conv.PinView(viewstate.ViewActivities); err != nil {
		t.Fatal(err)
	}
	if err := conv.PinView("sidebar"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("bad view err = %v", err)
	}
	if err := conv.Scrolled(viewstate.ViewReport, 0, 1000); err != nil {
		t.Fatal(err)
	}
	if conv.ShouldFollow(viewstate.ViewReport) {
		t.Errorf("scrolled up should pause follow")
	}
	v := conv.View()
	if !v.ViewState.Pinned || v.ViewState.Active != viewstate.ViewActivities {
		t.Errorf("view state = %+v", v.ViewState)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.views) != 2 {
		t.Errorf("published = %d, want 2", len(rec.views))
	}
}

func TestDeleteAndClose(t *testing.T) {
	stream := newScriptStream()
	tr := &fakeTransport{streams: []*scriptStream{stream}}
	archive := newMemArchive()
	m, _ := newTestManager(tr, archive, nil)
	ctx := context.Background()

	a, _ := m.Create("a")
	_, _ = m.Create("b")
	if _, err := m.Create("a"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("duplicate create err = %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, m.IDs()); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}

	turn, _ := a.SubmitQuestion(ctx, "q", nil)
	m.Close(ctx)
	if out := waitDone(t, turn); out.State != assembler.StateAborted {
		t.Errorf("close outcome = %+v", out)
	}

	if err := m.Delete(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Get("b"); ok {
		t.Errorf("b still open")
	}
}
