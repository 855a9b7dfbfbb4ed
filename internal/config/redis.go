package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig addresses the Redis server used for the cross-instance
// event relay and rate limiting.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	TLS          bool   `yaml:"tls"`
	RelayEnabled bool   `yaml:"relay_enabled"`
	Channel      string `yaml:"channel"`
}

func applyRedisEnv(o *overlay, rc *RedisConfig) {
	o.str("REDIS_ADDR", &rc.Addr)
	host, port := "", ""
	o.str("REDIS_HOST", &host)
	o.str("REDIS_PORT", &port)
	if host != "" && port != "" {
		rc.Addr = host + ":" + port
	}
	o.str("REDIS_PASSWORD", &rc.Password)
	o.int("REDIS_DB", &rc.DB)
	o.bool("REDIS_TLS", &rc.TLS)
	o.bool("REDIS_RELAY_ENABLED", &rc.RelayEnabled)
	o.str("REDIS_CHANNEL", &rc.Channel)
}

// NewRedisClient connects to Redis and pings it with a short timeout.  On
// failure the client is closed and the error returned; callers degrade by
// disabling the relay and limiting per instance.
func NewRedisClient(ctx context.Context, rc RedisConfig) (*redis.Client, error) {
	var tlsConf *tls.Config
	if rc.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      rc.Addr,
		Password:  rc.Password,
		DB:        rc.DB,
		TLSConfig: tlsConf,
	})
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", rc.Addr, err)
	}
	return client, nil
}
