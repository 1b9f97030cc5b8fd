// Package thumbnail 进程级文档缩略图缓存: 读穿透, 同一文档的并发请求合并为一次后端调用。
package thumbnail

import (
	"context"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
)

// Image 缩略图。
type Image struct {
	DocumentID  string
	ContentType string
	Data        []byte
}

// Fetcher 从后端拉取缩略图。
type Fetcher interface {
	Thumbnail(ctx context.Context, documentID string) (Image, error)
}

// Cache 容量受限的 LRU 缓存。并发安全。
type Cache struct {
	mu      sync.Mutex // lru.Cache 本身非并发安全
	entries *lru.Cache
	group   singleflight.Group
	fetcher Fetcher
}

// New capacity<=0 时取 256。
func New(fetcher Fetcher, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 256
	}
	return &Cache{entries: lru.New(capacity), fetcher: fetcher}
}

// Get 命中直接返回; 未命中时拉取并写入。重复填充无害。
func (c *Cache) Get(ctx context.Context, documentID string) (Image, error) {
	id := strings.TrimSpace(documentID)
	if id == "" {
		return Image{}, apperrors.Wrap(apperrors.ErrInvalidInput, "Thumbnail.Get", "empty document id")
	}
	if img, ok := c.lookup(id); ok {
		return img, nil
	}

	v, err, shared := c.group.Do(id, func() (any, error) {
		img, err := c.fetcher.Thumbnail(ctx, id)
		if err != nil {
			return Image{}, err
		}
		c.mu.Lock()
		c.entries.Add(id, img)
		c.mu.Unlock()
		return img, nil
	})
	if err != nil {
		return Image{}, apperrors.Wrapf(err, "Thumbnail.Get", "fetch %s", id)
	}
	if shared {
		logger.Debug("thumbnail: shared in-flight fetch", logger.FieldDocID, id)
	}
	return v.(Image), nil
}

// Len 当前缓存条目数。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *Cache) lookup(id string) (Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries.Get(id)
	if !ok {
		return Image{}, false
	}
	return v.(Image), true
}
