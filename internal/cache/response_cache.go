package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// ResponseCache short-circuits repeated identical queries per bot. A nil or
// unreachable redis client degrades to always-miss; the cache must never fail
// a request.
type ResponseCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewResponseCache(client *redisv9.Client, ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResponseCache{client: client, ttl: ttl}
}

// Key derives the stable cache key for a (bot, query) pair.
func Key(botID, query string) string {
	sum := md5.Sum([]byte(query))
	return fmt.Sprintf("rag:chat:%s:%s", botID, hex.EncodeToString(sum[:]))
}

// Get returns the cached payload for (bot, query), or (nil, false) on miss
// or any cache error.
func (c *ResponseCache) Get(ctx context.Context, botID, query string) ([]byte, bool) {
	if c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, Key(botID, query)).Bytes()
	if err == redisv9.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("cache get failed, treating as miss: %v", err)
		return nil, false
	}
	return raw, true
}

// Set stores the payload under the derived key. Failures are logged only.
func (c *ResponseCache) Set(ctx context.Context, botID, query string, payload []byte) {
	if c.client == nil {
		return
	}
	if err := c.client.Set(ctx, Key(botID, query), payload, c.ttl).Err(); err != nil {
		log.Printf("cache set failed: %v", err)
	}
}

// InvalidateBot scans and deletes every cached answer for the bot. Must run
// whenever the bot's knowledge base changes, or stale answers would keep
// citing removed documents.
func (c *ResponseCache) InvalidateBot(ctx context.Context, botID string) {
	if c.client == nil {
		return
	}
	pattern := fmt.Sprintf("rag:chat:%s:*", botID)

	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			log.Printf("cache invalidation scan failed for bot %s: %v", botID, err)
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				log.Printf("cache invalidation delete failed for bot %s: %v", botID, err)
				return
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if deleted > 0 {
		log.Printf("invalidated %d cached answers for bot %s", deleted, botID)
	}
}
