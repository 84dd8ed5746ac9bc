// Package redisguard is a Redis-backed ratelimit.Guard so that blocks and
// sliding windows are shared across every node of a deployment.
package redisguard

import (
	"context"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/netdrop/netdrop-go/ratelimit"
)

// Config for the Redis-backed guard. Defaults can be loaded via envdecode.
type Config struct {
	ratelimit.Config
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: RATELIMIT_KEY_PREFIX
	KeyPrefix string `env:"RATELIMIT_KEY_PREFIX,default=netdrop:ratelimit:"`
}

// Guard implements ratelimit.Guard on Redis. Accesses live in one sorted
// set per origin (member = code, score = unix millis); blocks are plain
// keys with a TTL.
type Guard struct {
	client *redis.Client
	cfg    Config
}

var _ ratelimit.Guard = (*Guard)(nil)

func New(cfg Config) (*Guard, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "netdrop:ratelimit:"
	}
	return &Guard{client: cl, cfg: cfg}, nil
}

// NewFromEnv builds a Guard using envdecode to populate Config.
func NewFromEnv() (*Guard, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

func (g *Guard) accessKey(addr string) string { return g.cfg.KeyPrefix + "seen:" + addr }
func (g *Guard) blockKey(addr string) string  { return g.cfg.KeyPrefix + "block:" + addr }

func (g *Guard) Allow(ctx context.Context, addr, code string) error {
	if addr == "" || code == "" {
		return nil
	}

	blocked, err := g.client.Exists(ctx, g.blockKey(addr)).Result()
	if err != nil {
		return fmt.Errorf("check block: %w", err)
	}
	if blocked > 0 {
		return ratelimit.ErrBlocked
	}

	now := time.Now()
	key := g.accessKey(addr)
	windowStart := now.Add(-g.cfg.Window)

	pipe := g.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: code})
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMilli()))
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, g.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record access: %w", err)
	}

	if int(card.Val()) >= g.cfg.Limit {
		if err := g.client.Set(ctx, g.blockKey(addr), "1", g.cfg.BlockDuration).Err(); err != nil {
			return fmt.Errorf("set block: %w", err)
		}
		g.client.Del(ctx, key)
		return ratelimit.ErrBlocked
	}
	return nil
}

func (g *Guard) Close() error { return g.client.Close() }
