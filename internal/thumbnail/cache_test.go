package thumbnail

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
)

type countingFetcher struct {
	calls atomic.Int64
	delay time.Duration
	fail  bool
}

func (f *countingFetcher) Thumbnail(_ context.Context, id string) (Image, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail {
		return Image{}, errors.New("backend unavailable")
	}
	return Image{DocumentID: id, ContentType: "image/png", Data: []byte(id)}, nil
}

func TestCacheReadThrough(t *testing.T) {
	f := &countingFetcher{}
	c := New(f, 2)

	for i := 0; i < 3; i++ {
		img, err := c.Get(context.Background(), "d1")
		if err != nil || string(img.Data) != "d1" {
			t.Fatalf("Get: %+v %v", img, err)
		}
	}
	if f.calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.calls.Load())
	}

	_, _ = c.Get(context.Background(), "d2")
	_, _ = c.Get(context.Background(), "d3")
	if c.Len() != 2 {
		t.Errorf("Len = %d, want capacity 2", c.Len())
	}
	_, _ = c.Get(context.Background(), "d1")
	if f.calls.Load() != 4 {
		t.Errorf("evicted entry should be refetched, calls = %d", f.calls.Load())
	}
}

func TestCacheCollapsesConcurrentFetches(t *testing.T) {
	f := &countingFetcher{delay: 50 * time.Millisecond}
	c := New(f, 8)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), "doc"); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()
	if f.calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.calls.Load())
	}
}

func TestCacheErrors(t *testing.T) {
	c := New(&countingFetcher{fail: true}, 0)
	if _, err := c.Get(context.Background(), "d1"); err == nil {
		t.Error("expected fetch error")
	}
	if c.Len() != 0 {
		t.Error("failed fetch must not be cached")
	}
	if _, err := c.Get(context.Background(), " "); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("empty id err = %v", err)
	}
}
