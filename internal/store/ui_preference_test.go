package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	connStr := os.Getenv("TEST_POSTGRES_CONNECTION_STRING")
	if connStr == "" {
		t.Skip("TEST_POSTGRES_CONNECTION_STRING not set")
	}
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		t.Fatalf("connect to db: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestUIPreferenceStore(t *testing.T) {
	pool := getTestPool(t)
	store := NewUIPreferenceStore(pool)
	ctx := context.Background()

	_, _ = pool.Exec(ctx, "DELETE FROM ui_preferences WHERE key LIKE 'test.%'")

	t.Run("Get_NonExistent_ReturnsNil", func(t *testing.T) {
		val, err := store.Get(ctx, "test.nonexistent")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil, got %s", val)
		}
	})

	t.Run("Set_Overwrite", func(t *testing.T) {
		key := "test.dataSources"
		if err := store.Set(ctx, key, []string{"web_search"}); err != nil {
			t.Fatal(err)
		}
		if err := store.Set(ctx, key, []string{"knowledge_base"}); err != nil {
			t.Fatal(err)
		}
		raw, err := store.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		var got []string
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0] != "knowledge_base" {
			t.Errorf("got %v", got)
		}
	})

	t.Run("GetAll", func(t *testing.T) {
		_ = store.Set(ctx, "test.all.1", 1)
		all, err := store.GetAll(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if string(all["test.all.1"]) != "1" {
			t.Errorf("test.all.1 = %s", all["test.all.1"])
		}
	})
}
