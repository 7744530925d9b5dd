package config

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

var RedisClient *redis.Client

// InitRedis connects the client serving message dedup keys and rate limit
// buckets. Accepts either a plain host:port or a redis:// URL.
func InitRedis() error {
	v := viper.New()
	v.SetEnvPrefix("REDIS")
	v.AutomaticEnv()

	v.SetDefault("pool_size", 20)

	addr := v.GetString("addr")
	if addr == "" {
		addr = v.GetString("url")
	}
	if addr == "" {
		return errors.New("REDIS_ADDR (or REDIS_URL) environment variable is not set")
	}

	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return err
		}
		opt.PoolSize = v.GetInt("pool_size")
		RedisClient = redis.NewClient(opt)
	} else {
		RedisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			PoolSize: v.GetInt("pool_size"),
		})
	}

	_, err := RedisClient.Ping(context.Background()).Result()
	return err
}
