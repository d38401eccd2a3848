package config

// Redis backs the rate limiter and the read cache.  Both degrade to
// pass-through when the server cannot be reached at startup, so Redis is
// never required for parking itself to work.

import (
	"context"
	"crypto/tls"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions builds client options from the environment:
//
//	REDIS_ADDR               host:port (default localhost:6379)
//	REDIS_HOST / REDIS_PORT  override REDIS_ADDR when both are set
//	REDIS_PASSWORD           optional
//	REDIS_DB                 database number (default 0)
//	REDIS_TLS                "true" or "1" enables TLS
func RedisOptions() *redis.Options {
	addr := envStr("REDIS_ADDR", "localhost:6379")
	if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
		addr = host + ":" + port
	}
	opt := &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
	}
	if envBool("REDIS_TLS", false) {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opt
}

// NewRedisClient connects with RedisOptions and pings the server.  It
// returns nil when the server does not answer within two seconds.
func NewRedisClient() *redis.Client {
	opt := RedisOptions()
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("config: redis at %s unavailable, rate limiting and caching disabled: %v", opt.Addr, err)
		_ = client.Close()
		return nil
	}
	return client
}
