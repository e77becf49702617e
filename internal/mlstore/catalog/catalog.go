// Package catalog records provenance for stored models in Redis: where the
// bytes came from, how large they are and when they were stored.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/geo-udf/internal/core/observability"
)

const (
	indexKey  = "udf:models"
	entryPref = "udf:model:"
)

// ErrNoEntry is returned by Get for a hash without a catalog record.
var ErrNoEntry = errors.New("catalog: no entry")

type Entry struct {
	Hash     string    `json:"hash"`
	Source   string    `json:"source"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"stored_at"`
}

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     16,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	err := rdb.Ping(ctx).Err()
	observability.ObserveCatalogOp("ping", err)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func entryKey(hash string) string { return entryPref + hash }

// Put records e, replacing any previous record for the same hash.
func (c *Client) Put(ctx context.Context, e Entry) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, entryKey(e.Hash),
			"source", e.Source,
			"size", e.Size,
			"stored_at", e.StoredAt.UTC().Format(time.RFC3339Nano),
		)
		p.SAdd(ctx, indexKey, e.Hash)
		return nil
	})
	observability.ObserveCatalogOp("put", err)
	if err != nil {
		return fmt.Errorf("redis catalog put %s: %w", e.Hash, err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, hash string) (Entry, error) {
	vals, err := c.rdb.HGetAll(ctx, entryKey(hash)).Result()
	observability.ObserveCatalogOp("get", err)
	if err != nil {
		return Entry{}, fmt.Errorf("redis catalog get %s: %w", hash, err)
	}
	if len(vals) == 0 {
		return Entry{}, ErrNoEntry
	}
	e := Entry{Hash: hash, Source: vals["source"]}
	if n, err := strconv.ParseInt(vals["size"], 10, 64); err == nil {
		e.Size = n
	}
	if ts, err := time.Parse(time.RFC3339Nano, vals["stored_at"]); err == nil {
		e.StoredAt = ts
	}
	return e, nil
}

func (c *Client) Del(ctx context.Context, hash string) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, entryKey(hash))
		p.SRem(ctx, indexKey, hash)
		return nil
	})
	observability.ObserveCatalogOp("del", err)
	if err != nil {
		return fmt.Errorf("redis catalog del %s: %w", hash, err)
	}
	return nil
}

// Hashes lists every catalogued hash in no particular order.
func (c *Client) Hashes(ctx context.Context) ([]string, error) {
	out, err := c.rdb.SMembers(ctx, indexKey).Result()
	observability.ObserveCatalogOp("list", err)
	if err != nil {
		return nil, fmt.Errorf("redis catalog list: %w", err)
	}
	return out, nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
