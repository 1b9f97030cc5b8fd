package prefs

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestManager_FallbackMemory(t *testing.T) {
	m := NewManager(nil, []string{"knowledge_base", "web_search"})
	ctx := context.Background()

	initial, err := m.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if initial != nil {
		t.Fatalf("want nil for missing key, got %s", initial)
	}

	if err := m.Set(ctx, "activeConversation", "conv-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := m.Get(ctx, "activeConversation")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `"conv-1"` {
		t.Fatalf("want \"conv-1\", got %s", got)
	}

	all, err := m.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if _, ok := all["activeConversation"]; !ok {
		t.Fatalf("GetAll missing activeConversation")
	}

	if err := m.Set(ctx, "", 1); err == nil {
		t.Errorf("empty key should fail")
	}
}

func TestManager_DataSources(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, []string{"knowledge_base", "web_search"})

	if diff := cmp.Diff([]string{"knowledge_base", "web_search"}, m.DataSources(ctx)); diff != "" {
		t.Errorf("defaults (-want +got):\n%s", diff)
	}

	if err := m.SetDataSources(ctx, []string{"web_search", "", "web_search"}); err != nil {
		t.Fatal(err)
	}
	snap := m.Snapshot(ctx)
	if diff := cmp.Diff([]string{"web_search"}, snap.DataSources); diff != "" {
		t.Errorf("snapshot (-want +got):\n%s", diff)
	}

	// 快照与后续修改隔离
	_ = m.SetDataSources(ctx, []string{"knowledge_base"})
	if snap.DataSources[0] != "web_search" {
		t.Errorf("snapshot mutated: %v", snap.DataSources)
	}

	_ = m.Set(ctx, KeyDataSources, map[string]int{"bad": 1})
	if diff := cmp.Diff([]string{"knowledge_base", "web_search"}, m.DataSources(ctx)); diff != "" {
		t.Errorf("malformed falls back (-want +got):\n%s", diff)
	}
}
