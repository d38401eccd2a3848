package config

import (
	"strings"
	"time"
)

// CacheConfig defines settings for the read-API response cache.
//
// Caching is off when Enabled is false or when Redis could not be reached
// at startup; the middleware then passes every request through.  Methods lists the HTTP methods whose responses
// are stored, upper-cased, GET by default.  TTL is the lifetime of an
// entry; balances and session lists change with every callback, so the
// default is 5s.  KeyStrategy picks the request parts that make up the
// key: "route", "route_query" or "user_route_query", the last being the
// default so that a CLIENT never sees another client's cached page.
// Prefix namespaces the Redis keys.  Only 200 responses no larger than
// MaxBodyBytes are stored; larger bodies are served but not cached.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool
	TTL          time.Duration
	KeyStrategy  string
	Prefix       string
	MaxBodyBytes int
}

// LoadCacheConfig reads the CACHE_* variables into a CacheConfig.  Unset
// variables fall back to the defaults described on CacheConfig, and a
// malformed CACHE_TTL or CACHE_MAX_BODY_BYTES falls back the same way.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		Methods:      parseMethods(envStr("CACHE_METHODS", "GET")),
		TTL:          envDur("CACHE_TTL", 5*time.Second),
		KeyStrategy:  envStr("CACHE_KEY_STRATEGY", "user_route_query"),
		Prefix:       envStr("CACHE_PREFIX", "parking:cache"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1<<20),
	}
}

func parseMethods(s string) map[string]bool {
	m := map[string]bool{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(strings.ToUpper(p)); p != "" {
			m[p] = true
		}
	}
	return m
}
