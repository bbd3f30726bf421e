package store

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/roach88/autokit/internal/config"
	"github.com/roach88/autokit/internal/model"
	"github.com/roach88/autokit/internal/store/memory"
	"github.com/roach88/autokit/internal/store/redis"
	"github.com/roach88/autokit/internal/store/sqlite"
)

var (
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*memory.Store)(nil)
	_ Store = (*redis.Store)(nil)
)

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, clock model.Clock) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.Open(cfg.Path, sqlite.WithClock(clock))
	case config.DriverMemory:
		return memory.New(memory.WithClock(clock)), nil
	case config.DriverRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connecting to redis %s: %w", cfg.RedisAddr, err)
		}
		return redis.New(client, redis.WithPrefix(cfg.RedisPrefix), redis.WithClock(clock)), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
