// Package redis holds the Redis-backed coupon snapshot cache and rate limit
// counter.
package redis

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

// Config configures the snapshot cache. An empty Addr disables it.
type Config struct {
	Addr     string        `default:"" usage:"redis address host:port; empty disables the coupon cache"`
	Password string        `default:"" usage:"redis password"`
	DB       int           `default:"0" usage:"redis database number"`
	TTL      time.Duration `default:"5m" usage:"lifetime of cached coupon snapshots"`
}

var _ coupon.SnapshotCache = (*CouponCache)(nil)

// CouponCache stores each snapshot twice, under its ID and under its code.
type CouponCache struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
}

// NewClient connects to Redis and verifies the connection with PING.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewCouponCache returns a cache over client. A non-positive ttl falls back
// to five minutes.
func NewCouponCache(client *goredis.Client, ttl time.Duration) *CouponCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CouponCache{client: client, ttl: ttl, prefix: "marketplace:coupon:"}
}

func (c *CouponCache) idKey(id string) string     { return c.prefix + "id:" + id }
func (c *CouponCache) codeKey(code string) string { return c.prefix + "code:" + code }

func (c *CouponCache) GetByID(ctx context.Context, id string) (*coupon.Snapshot, error) {
	return c.get(ctx, c.idKey(id))
}

func (c *CouponCache) GetByCode(ctx context.Context, code string) (*coupon.Snapshot, error) {
	return c.get(ctx, c.codeKey(code))
}

func (c *CouponCache) get(ctx context.Context, key string) (*coupon.Snapshot, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, coupon.ErrCacheMiss
		}
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}

	_, payload, ok := splitEntry(raw)
	if !ok {
		// A corrupt entry is treated as absent.
		_ = c.client.Del(ctx, key).Err()
		return nil, coupon.ErrCacheMiss
	}
	if len(payload) == 0 {
		return nil, coupon.ErrCacheMiss
	}

	var s coupon.Snapshot
	if err := s.Decode(jx.DecodeBytes(payload)); err != nil {
		_ = c.client.Del(ctx, key).Err()
		return nil, coupon.ErrCacheMiss
	}
	return &s, nil
}

// Entries are stored as "<version>:<snapshot JSON>". An eviction marker has
// an empty payload.
func splitEntry(raw []byte) (version int64, payload []byte, ok bool) {
	i := bytes.IndexByte(raw, ':')
	if i <= 0 {
		return 0, nil, false
	}
	v, err := strconv.ParseInt(string(raw[:i]), 10, 64)
	if err != nil {
		return 0, nil, false
	}
	return v, raw[i+1:], true
}

// putScript writes ARGV[2] at version ARGV[1] to every key unless one of them
// already holds a higher version.
var putScript = goredis.NewScript(`
local v = tonumber(ARGV[1])
for _, key in ipairs(KEYS) do
	local cur = redis.call('GET', key)
	if cur then
		local cv = tonumber(string.match(cur, '^(%d+):'))
		if cv and cv > v then
			return 0
		end
	end
end
for _, key in ipairs(KEYS) do
	redis.call('SET', key, ARGV[1] .. ':' .. ARGV[2], 'PX', ARGV[3])
end
return 1
`)

// evictScript replaces each key with a marker at version ARGV[1] unless it
// already holds that version or a newer one.
var evictScript = goredis.NewScript(`
local v = tonumber(ARGV[1])
for _, key in ipairs(KEYS) do
	local cur = redis.call('GET', key)
	local cv = cur and tonumber(string.match(cur, '^(%d+):'))
	if not cv or cv < v then
		redis.call('SET', key, ARGV[1] .. ':', 'PX', ARGV[2])
	end
end
return 1
`)

// Put stores s under both keys unless either holds a newer version.
func (c *CouponCache) Put(ctx context.Context, s *coupon.Snapshot, version int64) error {
	var e jx.Encoder
	s.Encode(&e)

	keys := []string{c.idKey(s.ID), c.codeKey(s.Code)}
	err := putScript.Run(ctx, c.client, keys, version, e.Bytes(), c.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("caching coupon %q: %w", s.ID, err)
	}
	return nil
}

// Evict fences the ID entry and the entries of every given code at version.
// Markers live as long as regular entries.
func (c *CouponCache) Evict(ctx context.Context, id string, version int64, codes ...string) error {
	keys := make([]string, 0, len(codes)+1)
	keys = append(keys, c.idKey(id))
	for _, code := range codes {
		keys = append(keys, c.codeKey(code))
	}
	if err := evictScript.Run(ctx, c.client, keys, version, c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("evicting coupon %q: %w", id, err)
	}
	return nil
}
