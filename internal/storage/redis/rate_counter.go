package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/marketplace/pkg/httpmiddleware"
)

var _ httpmiddleware.Counter = (*RateCounter)(nil)

// RateCounter shares fixed-window hit counts between API replicas.
type RateCounter struct {
	client *goredis.Client
	prefix string
}

func NewRateCounter(client *goredis.Client) *RateCounter {
	return &RateCounter{client: client, prefix: "marketplace:ratelimit:"}
}

// Incr bumps the counter of the window and lets it expire with the window.
func (c *RateCounter) Incr(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	k := c.prefix + key + ":" + strconv.FormatInt(windowStart.Unix(), 10)

	var incr *goredis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incrementing %s: %w", k, err)
	}
	return incr.Val(), nil
}
