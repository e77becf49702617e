package mlmodel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

// Cache keeps decoded models across invocations. Hash refs are keyed by
// their hash; path refs by path, size and modification time so an edited
// file is reloaded.
type Cache struct {
	lru *lru.Cache[string, *Model]
}

func NewCache(size int) *Cache {
	if size <= 0 {
		size = 64
	}
	c, _ := lru.New[string, *Model](size)
	return &Cache{lru: c}
}

func hashKey(hash string) string { return "h:" + hash }

func pathKey(path string, info fs.FileInfo) string {
	sum := xxhash.Sum64String(fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano()))
	return fmt.Sprintf("p:%016x", sum)
}

// Evict drops the model stored under hash, reporting whether it was cached.
func (c *Cache) Evict(hash string) bool {
	return c.lru.Remove(hashKey(hash))
}

func (c *Cache) Len() int { return c.lru.Len() }

// Loader loads models through an optional Cache.
type Loader struct {
	Resolver Resolver
	Cache    *Cache

	// OnLoad, when set, observes each load with whether it hit the cache.
	OnLoad func(ref *Ref, hit bool, err error)
}

func (l *Loader) Load(ctx context.Context, ref *Ref) (*Model, error) {
	m, hit, err := l.load(ctx, ref)
	if l.OnLoad != nil {
		l.OnLoad(ref, hit, err)
	}
	return m, err
}

func (l *Loader) load(ctx context.Context, ref *Ref) (*Model, bool, error) {
	if l.Cache == nil {
		m, err := Load(ctx, ref, l.Resolver)
		return m, false, err
	}
	path, err := ResolvePath(ref, l.Resolver)
	if err != nil {
		return nil, false, err
	}
	var key string
	if ref.MD5Hash != "" {
		key = hashKey(ref.MD5Hash)
	} else {
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, fmt.Errorf("model %q at %s: %w", ref.Name, path, udferr.ErrNotFound)
		}
		if err != nil {
			return nil, false, fmt.Errorf("model %q: stat: %w", ref.Name, err)
		}
		key = pathKey(path, info)
	}
	if m, ok := l.Cache.lru.Get(key); ok && m.Ref.Framework == ref.Framework {
		return &Model{Ref: ref, predictor: m.predictor, forwarder: m.forwarder}, true, nil
	}
	m, err := Load(ctx, ref, l.Resolver)
	if err != nil {
		return nil, false, err
	}
	l.Cache.lru.Add(key, m)
	return m, false, nil
}
