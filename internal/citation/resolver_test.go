package citation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleTable() *ReferenceTable {
	return &ReferenceTable{
		Chunks: []Chunk{
			{ID: "c0", DocumentID: "d1", Content: "A2A 是 agent 间通信协议"},
			{ID: "c1", DocumentID: "d2", Content: "基于 JSON-RPC"},
			{ID: "c2", DocumentID: "missing", Content: "无文档"},
		},
		DocAggs: []DocAgg{
			{DocID: "d1", DocName: "a2a-protocol.pdf"},
			{DocID: "d2", DocName: "rpc.md", URL: "https://example.com/rpc"},
		},
	}
}

func TestResolveLiteralRoundTrip(t *testing.T) {
	table := sampleTable()
	inputs := []string{
		"",
		"纯文本",
		"A2A~~0==协议~~1==",
		"~~2==开头",
		"越界~~9==保留",
		"不完整 ~~1= 和 ~~== 和 ~~x==",
		"~~99999999999999999999==",
		"~~0==~~0==~~1==",
		"多字节 🚀~~1==✓",
	}
	for _, in := range inputs {
		if got := Literal(Resolve(in, table)); got != in {
			t.Errorf("Literal(Resolve(%q)) = %q", in, got)
		}
		// nil 表同样保持全量还原
		if got := Literal(Resolve(in, nil)); got != in {
			t.Errorf("nil table: Literal(Resolve(%q)) = %q", in, got)
		}
	}
}

func TestResolveOutOfRangeStaysLiteral(t *testing.T) {
	segs := Resolve("结论~~9==。", sampleTable())
	want := []Segment{{Kind: SegmentText, Raw: "结论~~9==。"}}
	if diff := cmp.Diff(want, segs); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveJoinsDoc(t *testing.T) {
	segs := Resolve("A~~1==B~~2==", sampleTable())
	if len(segs) != 4 {
		t.Fatalf("len = %d, want 4: %+v", len(segs), segs)
	}
	if segs[1].Kind != SegmentCitation || segs[1].Index != 1 {
		t.Fatalf("segs[1] = %+v", segs[1])
	}
	if segs[1].Doc == nil || segs[1].Doc.DocName != "rpc.md" {
		t.Errorf("segs[1].Doc = %+v", segs[1].Doc)
	}
	if segs[3].Doc != nil {
		t.Errorf("chunk without doc should have nil Doc, got %+v", segs[3].Doc)
	}
	if segs[3].Chunk == nil || segs[3].Chunk.ID != "c2" {
		t.Errorf("segs[3].Chunk = %+v", segs[3].Chunk)
	}
}

func TestMarkersDedup(t *testing.T) {
	got := Markers(Resolve("~~1==x~~0==y~~1==z~~7==", sampleTable()))
	if diff := cmp.Diff([]int{1, 0}, got); diff != "" {
		t.Errorf("markers mismatch (-want +got):\n%s", diff)
	}
}

func TestReferenceTableHelpers(t *testing.T) {
	var nilTable *ReferenceTable
	if nilTable.Len() != 0 || nilTable.Clone() != nil {
		t.Error("nil table helpers should be nil-safe")
	}
	table := sampleTable()
	clone := table.Clone()
	if !table.Equal(clone) {
		t.Fatal("clone should equal original")
	}
	clone.Chunks[0].Content = "changed"
	if table.Chunks[0].Content == "changed" {
		t.Error("clone must not share backing array")
	}
	if table.Equal(clone) {
		t.Error("modified clone should differ")
	}
}
