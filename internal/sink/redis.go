package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/mapsleads/internal/logger"
)

func init() {
	ctx := context.Background()
	for _, scheme := range []string{"redis", "rediss"} {
		if err := Register(ctx, scheme, NewRedisSink); err != nil {
			panic(err)
		}
	}
}

// RedisConfig configures a RedisSink.
type RedisConfig struct {
	Options *redis.Options `validate:"required"`
	Stream  string         `validate:"required"`
	MaxLen  int64          `validate:"gte=0"`
}

// ParseRedisConfig builds a RedisConfig from a URI such as
// redis://localhost:6379/0?stream=places&maxlen=10000. The stream defaults
// to "mapsleads:places"; a maxlen of 0 disables trimming.
func ParseRedisConfig(uri string) (RedisConfig, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return RedisConfig{}, err
	}

	q := u.Query()
	cfg := RedisConfig{Stream: q.Get("stream")}
	if cfg.Stream == "" {
		cfg.Stream = "mapsleads:places"
	}
	if v := q.Get("maxlen"); v != "" {
		if cfg.MaxLen, err = strconv.ParseInt(v, 10, 64); err != nil {
			return RedisConfig{}, fmt.Errorf("invalid maxlen %q: %w", v, err)
		}
	}

	// go-redis rejects query options it does not know.
	q.Del("stream")
	q.Del("maxlen")
	u.RawQuery = q.Encode()

	if cfg.Options, err = redis.ParseURL(u.String()); err != nil {
		return RedisConfig{}, err
	}
	if err := sinkValidate.Struct(cfg); err != nil {
		return RedisConfig{}, fmt.Errorf("invalid redis sink %s: %w", u.Redacted(), err)
	}
	return cfg, nil
}

// RedisSink appends each new place to a Redis stream as JSON. Identity keys
// already published are remembered in a set next to the stream.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink connects to the server named by uri.
func NewRedisSink(ctx context.Context, uri string) (Sink, error) {
	cfg, err := ParseRedisConfig(uri)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(cfg.Options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", cfg.Options.Addr, err)
	}
	return &RedisSink{client: client, stream: cfg.Stream, maxLen: cfg.MaxLen}, nil
}

func (s *RedisSink) seenKey() string {
	return s.stream + ":seen"
}

// Write implements Sink.
func (s *RedisSink) Write(ctx context.Context, b Batch) (int, error) {
	published := 0
	for _, p := range valid(b.Places) {
		added, err := s.client.SAdd(ctx, s.seenKey(), p.Key()).Result()
		if err != nil {
			return published, err
		}
		if added == 0 {
			continue
		}

		data, err := json.Marshal(p)
		if err != nil {
			return published, err
		}
		err = s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]interface{}{
				"key":   p.Key(),
				"query": b.Query,
				"place": string(data),
			},
		}).Err()
		if err != nil {
			// Forget the key so a later batch can publish it.
			_ = s.client.SRem(ctx, s.seenKey(), p.Key()).Err()
			return published, err
		}
		published++
	}

	if s.maxLen > 0 && published > 0 {
		if err := s.client.XTrimMaxLen(ctx, s.stream, s.maxLen).Err(); err != nil {
			logger.Warn("stream trim failed", "stream", s.stream, "error", err)
		}
	}
	return published, nil
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
