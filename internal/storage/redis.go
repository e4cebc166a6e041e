package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPoolSize    = 20
	defaultRedisMaxRetries  = 3
	defaultRedisDialTimeout = 5 * time.Second
	defaultRedisStream      = "tlog:log"

	redisPageSize = 512
)

// RedisConfig configures the Redis Streams backend.
type RedisConfig struct {
	Host         string        `json:"host" yaml:"host"`
	Port         int           `json:"port" yaml:"port"`
	Password     string        `json:"password" yaml:"password"`
	DB           int           `json:"db" yaml:"db"`
	Stream       string        `json:"stream" yaml:"stream"`
	MaxLen       int64         `json:"max_len" yaml:"max_len" split_words:"true"` // approximate stream trim, 0 keeps everything
	PoolSize     int           `json:"pool_size" yaml:"pool_size" split_words:"true"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries" split_words:"true"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout" split_words:"true"`
	Cluster      bool          `json:"cluster" yaml:"cluster"`
	ClusterNodes []string      `json:"cluster_nodes" yaml:"cluster_nodes" split_words:"true"`
}

// RedisStore keeps entries in one Redis stream. The stream id doubles as the
// entry cursor and carries the storage time in milliseconds.
type RedisStore struct {
	client redis.UniversalClient
	stream string
	maxLen int64

	closeOnce sync.Once
	closeErr  error
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	conf, err := normalizeRedisConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := newRedisClient(conf)
	if err != nil {
		return nil, err
	}

	s := &RedisStore{
		client: client,
		stream: conf.Stream,
		maxLen: conf.MaxLen,
	}

	if err := s.pingWithRetry(context.Background(), conf.MaxRetries); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return s, nil
}

// Append adds the entry to the stream with XADD.
func (s *RedisStore) Append(ctx context.Context, fields map[string]string) (string, error) {
	if err := validateFields(fields); err != nil {
		return "", err
	}
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: values,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("redis xadd: %w", err)
	}
	return id, nil
}

// Query pages through the stream with XRANGE, or XREVRANGE when reversed,
// filtering on the match fields client side.
func (s *RedisStore) Query(ctx context.Context, q Query) ([]Entry, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	lo, hi := "-", "+"
	if !q.Since.IsZero() {
		lo = strconv.FormatInt(q.Since.UnixMilli(), 10)
	}
	if q.After != "" {
		// Stream ids grow with every XADD, so the cursor itself is the
		// exclusive lower bound; Since still applies through matches.
		lo = "(" + q.After
	}
	if !q.Until.IsZero() {
		hi = strconv.FormatInt(q.Until.UnixMilli(), 10)
	}

	var out []Entry
	for {
		var (
			msgs []redis.XMessage
			err  error
		)
		if q.Reverse {
			msgs, err = s.client.XRevRangeN(ctx, s.stream, hi, lo, redisPageSize).Result()
		} else {
			msgs, err = s.client.XRangeN(ctx, s.stream, lo, hi, redisPageSize).Result()
		}
		if err != nil {
			return nil, fmt.Errorf("redis xrange: %w", err)
		}

		for _, m := range msgs {
			e, err := entryFromStream(m)
			if err != nil {
				return nil, err
			}
			if !q.matches(e) {
				continue
			}
			out = append(out, e)
			if q.Limit > 0 && len(out) >= q.Limit {
				return out, nil
			}
		}

		if len(msgs) < redisPageSize {
			return out, nil
		}
		last := msgs[len(msgs)-1].ID
		if q.Reverse {
			hi = "(" + last
		} else {
			lo = "(" + last
		}
	}
}

// Close releases Redis resources. It is idempotent.
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func entryFromStream(m redis.XMessage) (Entry, error) {
	ms, _, _ := strings.Cut(m.ID, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing stream id %q: %w", m.ID, err)
	}
	fields := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		switch x := v.(type) {
		case string:
			fields[k] = x
		default:
			fields[k] = fmt.Sprint(x)
		}
	}
	return Entry{
		Cursor: m.ID,
		Time:   time.UnixMilli(n),
		Fields: fields,
	}, nil
}

func (s *RedisStore) pingWithRetry(ctx context.Context, maxRetries int) error {
	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := s.client.Ping(ctx).Err(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
	}

	if lastErr == nil {
		lastErr = errors.New("ping failed with unknown error")
	}
	return lastErr
}

func normalizeRedisConfig(cfg *RedisConfig) (*RedisConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	conf := *cfg
	if conf.PoolSize <= 0 {
		conf.PoolSize = defaultRedisPoolSize
	}
	if conf.MaxRetries <= 0 {
		conf.MaxRetries = defaultRedisMaxRetries
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultRedisDialTimeout
	}
	if conf.Stream == "" {
		conf.Stream = defaultRedisStream
	}
	if conf.MaxLen < 0 {
		return nil, fmt.Errorf("max_len must not be negative, got %d", conf.MaxLen)
	}

	if conf.Cluster {
		if len(conf.ClusterNodes) == 0 {
			return nil, fmt.Errorf("cluster_nodes is required when cluster=true")
		}
	} else {
		if conf.Host == "" {
			return nil, fmt.Errorf("host is required when cluster=false")
		}
		if conf.Port <= 0 {
			return nil, fmt.Errorf("port must be positive when cluster=false, got %d", conf.Port)
		}
	}

	return &conf, nil
}

func newRedisClient(cfg *RedisConfig) (redis.UniversalClient, error) {
	if cfg.Cluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       cfg.ClusterNodes,
			Password:    cfg.Password,
			PoolSize:    cfg.PoolSize,
			MaxRetries:  cfg.MaxRetries,
			DialTimeout: cfg.DialTimeout,
		}), nil
	}

	addr := cfg.Host + ":" + strconv.Itoa(cfg.Port)
	return redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
	}), nil
}
