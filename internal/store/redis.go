package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis wraps the redis client shared by the cache store and the queue.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Cache is the local document store holding the last known snapshots.
// It is read when the remote backend is unavailable and written after
// every persistence attempt, so an accepted mark survives a remote
// outage.
type Cache struct {
	client *redis.Client
}

// NewCache creates a cache store on an existing redis connection.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func cacheKey(path string) string {
	return "classmark:" + path
}

// Get reads the cached document at path. A missing key returns (nil, nil).
func (c *Cache) Get(ctx context.Context, path string) (json.RawMessage, error) {
	val, err := c.client.Get(ctx, cacheKey(path)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(val), nil
}

// Set replaces the cached document at path.
func (c *Cache) Set(ctx context.Context, path string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(path), b, 0).Err()
}

// Append adds value under a generated key. The cached document is kept
// in the mapping shape; a legacy array-shaped document is converted on
// the way through.
func (c *Cache) Append(ctx context.Context, path string, value any) (string, error) {
	raw, err := c.Get(ctx, path)
	if err != nil {
		return "", err
	}
	docs, err := mappingShape(raw)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	key := uuid.NewString()
	docs[key] = b
	return key, c.Set(ctx, path, docs)
}

// mappingShape interprets a raw document as key→value, accepting the
// array shape older snapshots were stored in.
func mappingShape(raw json.RawMessage) (map[string]json.RawMessage, error) {
	docs := map[string]json.RawMessage{}
	if len(raw) == 0 {
		return docs, nil
	}
	if err := json.Unmarshal(raw, &docs); err == nil {
		return docs, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	for i, item := range list {
		docs[strconv.Itoa(i)] = item
	}
	return docs, nil
}
