package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores encoded embeddings by key. GetMany returns nil entries for
// misses.
type Cache interface {
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
	SetMany(ctx context.Context, entries map[string][]byte) error
}

// RedisCache is a Cache on a Redis server.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects lazily to addr.
func NewRedisCache(addr, password string, db int, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: prefix,
		ttl:    ttl,
	}
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	vals, err := c.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(keys))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

func (c *RedisCache) SetMany(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, v := range entries {
			p.Set(ctx, c.prefix+k, v, c.ttl)
		}
		return nil
	})
	return err
}

// CachedEmbedder is a read-through cache in front of another Embedder.
// Cache failures are logged and never fail the call.
type CachedEmbedder struct {
	inner  Embedder
	cache  Cache
	model  string
	logger *slog.Logger
}

// NewCached wraps inner. model namespaces the keys so different models never
// share entries.
func NewCached(inner Embedder, cache Cache, model string, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{inner: inner, cache: cache, model: model, logger: logger}
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = cacheKey(c.model, t)
	}

	out := make([][]float32, len(texts))
	cached, err := c.cache.GetMany(ctx, keys)
	if err != nil {
		c.logger.Warn("embedding: cache read failed", "error", err)
		cached = nil
	}
	var (
		missTexts []string
		missIdx   []int
	)
	for i := range texts {
		if i < len(cached) && cached[i] != nil {
			if vec, err := decodeVector(cached[i]); err == nil {
				out[i] = vec
				continue
			}
		}
		missTexts = append(missTexts, texts[i])
		missIdx = append(missIdx, i)
	}
	c.logger.Debug("embedding: cache lookup", "hits", len(texts)-len(missTexts), "misses", len(missTexts))
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	entries := make(map[string][]byte, len(vecs))
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		entries[keys[missIdx[j]]] = encodeVector(vec)
	}
	if err := c.cache.SetMany(ctx, entries); err != nil {
		c.logger.Warn("embedding: cache write failed", "error", err)
	}
	return out, nil
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "|" + text))
	return hex.EncodeToString(sum[:])
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached vector: %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
