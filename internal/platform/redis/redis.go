package redis

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// New connects to redis. An unreachable server returns a nil client with a
// warning instead of an error: the cache layer degrades to always-miss.
func New(ctx context.Context, addr, password string, db int) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("redis unreachable at %s, response caching disabled: %v", addr, err)
		_ = client.Close()
		return nil
	}

	return client
}
