package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/tlog/internal/storage"
)

// redisOptions are the Redis Streams flags shared by rec, play and generate.
type redisOptions struct {
	host         string
	port         int
	password     string
	db           int
	stream       string
	cluster      bool
	clusterNodes []string
	poolSize     int
	maxRetries   int
	dialTimeout  time.Duration
}

func (o *redisOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.host, "redis-host", "localhost", "redis host (or host:port)")
	cmd.Flags().IntVar(&o.port, "redis-port", 6379, "redis port")
	cmd.Flags().StringVar(&o.password, "redis-password", "", "redis password")
	cmd.Flags().IntVar(&o.db, "redis-db", 0, "redis database index")
	cmd.Flags().StringVar(&o.stream, "redis-stream", "", "redis stream holding recordings")
	cmd.Flags().BoolVar(&o.cluster, "redis-cluster", false, "enable redis cluster mode")
	cmd.Flags().StringSliceVar(&o.clusterNodes, "redis-cluster-nodes", nil, "redis cluster nodes host:port list")
	cmd.Flags().IntVar(&o.poolSize, "redis-pool-size", 20, "redis connection pool size")
	cmd.Flags().IntVar(&o.maxRetries, "redis-max-retries", 3, "redis max retries")
	cmd.Flags().DurationVar(&o.dialTimeout, "redis-dial-timeout", 5*time.Second, "redis dial timeout")
}

// apply copies the flags the user set onto cfg; the rest of cfg comes from
// the configuration layers.
func (o *redisOptions) apply(cmd *cobra.Command, cfg *storage.RedisConfig) error {
	f := cmd.Flags()
	if f.Changed("redis-host") || f.Changed("redis-port") {
		host, port := cfg.Host, cfg.Port
		if f.Changed("redis-host") {
			host = o.host
		}
		if f.Changed("redis-port") || port == 0 {
			port = o.port
		}
		h, p, err := normalizeRedisHostPort(host, port)
		if err != nil {
			return err
		}
		cfg.Host, cfg.Port = h, p
	}
	if f.Changed("redis-password") {
		cfg.Password = o.password
	}
	if f.Changed("redis-db") {
		cfg.DB = o.db
	}
	if f.Changed("redis-stream") {
		cfg.Stream = o.stream
	}
	if f.Changed("redis-cluster") {
		cfg.Cluster = o.cluster
	}
	if f.Changed("redis-cluster-nodes") {
		cfg.ClusterNodes = append([]string(nil), o.clusterNodes...)
	}
	if f.Changed("redis-pool-size") {
		cfg.PoolSize = o.poolSize
	}
	if f.Changed("redis-max-retries") {
		cfg.MaxRetries = o.maxRetries
	}
	if f.Changed("redis-dial-timeout") {
		cfg.DialTimeout = o.dialTimeout
	}
	return nil
}

func normalizeRedisHostPort(host string, port int) (string, int, error) {
	if strings.Contains(host, ":") {
		h, p, err := net.SplitHostPort(host)
		if err != nil {
			return "", 0, fmt.Errorf("invalid --redis-host value %q: %w", host, err)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid redis port in --redis-host %q: %w", host, err)
		}
		host = h
		port = n
	}

	if host == "" {
		return "", 0, fmt.Errorf("redis host cannot be empty")
	}
	if port <= 0 {
		return "", 0, fmt.Errorf("redis port must be positive, got %d", port)
	}

	return host, port, nil
}
