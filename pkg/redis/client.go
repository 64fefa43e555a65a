package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var client *redis.Client

// Init connects the shared client. The queue, the event bus and the read
// cache all ride on this one connection pool.
func Init(url, password string) error {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return err
	}
	if password != "" {
		opts.Password = password
	}

	client = redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

// SetClient swaps the shared client; tests point it at miniredis.
func SetClient(c *redis.Client) {
	client = c
}

// GetClient returns the shared client, nil before Init.
func GetClient() *redis.Client {
	return client
}
