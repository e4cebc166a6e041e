// Package reader produces the packets of one recording from a durable
// source, ordered by entry number rather than by arrival.
//
// Readers are resumable: after Next returns io.EOF a later call picks up
// entries appended since, which is what follow mode relies on.
package reader

import (
	"context"
	"errors"
	"fmt"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
	"github.com/SmitUplenchwar2687/tlog/internal/storage"
)

// Reader is a forward-only sequence of packets.
type Reader interface {
	// Next returns the next packet, or io.EOF when none is available yet.
	Next(ctx context.Context) (packet.Packet, error)
	// Close releases the source.
	Close() error
}

// Kind selects a reader variant.
type Kind string

const (
	KindFile    Kind = "file"
	KindJournal Kind = "journal"
	KindRedis   Kind = "redis"
	KindSQLite  Kind = "sqlite"
	KindElastic Kind = "es"
)

// Kinds lists the supported reader variants.
var Kinds = []Kind{KindFile, KindJournal, KindRedis, KindSQLite, KindElastic}

// ErrConfig marks reader configuration errors.
var ErrConfig = errors.New("invalid reader configuration")

// Config selects and parameterizes a reader.
type Config struct {
	Kind    Kind                  `json:"reader" yaml:"reader"`
	File    FileConfig            `json:"file" yaml:"file"`
	Journal storage.JournalConfig `json:"journal" yaml:"journal"`
	Redis   storage.RedisConfig   `json:"redis" yaml:"redis"`
	SQLite  SQLiteConfig          `json:"sqlite" yaml:"sqlite"`
	Elastic ElasticConfig         `json:"es" yaml:"es"`
	// Match selects the recording in shared stores.
	Match Match `json:"match" yaml:"match"`
	// Follow keeps reading a recording that is still being written.
	Follow bool `json:"follow" yaml:"follow"`
}

// FileConfig configures the file reader.
type FileConfig struct {
	Path string `json:"path" yaml:"path"`
}

// SQLiteConfig configures the sqlite reader.
type SQLiteConfig struct {
	Path string `json:"path" yaml:"path"`
}

// Match identifies one recording among unrelated entries.
type Match struct {
	Rec  string `json:"rec" yaml:"rec"`
	Host string `json:"host" yaml:"host"`
	User string `json:"user" yaml:"user"`
}

func (m Match) fields() map[string]string {
	f := map[string]string{storage.FieldRec: m.Rec}
	if m.Host != "" {
		f[storage.FieldHost] = m.Host
	}
	if m.User != "" {
		f[storage.FieldUser] = m.User
	}
	return f
}

// Validate checks the parameters of the selected variant.
func (c Config) Validate() error {
	switch c.Kind {
	case KindFile:
		if c.File.Path == "" {
			return fmt.Errorf("%w: file reader requires a path", ErrConfig)
		}
		return nil
	case KindJournal:
	case KindRedis:
		if c.Redis.Host == "" && len(c.Redis.ClusterNodes) == 0 {
			return fmt.Errorf("%w: redis reader requires a host", ErrConfig)
		}
	case KindSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("%w: sqlite reader requires a path", ErrConfig)
		}
	case KindElastic:
		if len(c.Elastic.Addresses) == 0 {
			return fmt.Errorf("%w: es reader requires a base url", ErrConfig)
		}
		if c.Elastic.Index == "" {
			return fmt.Errorf("%w: es reader requires an index", ErrConfig)
		}
		if c.Match.Rec == "" && c.Elastic.Query == "" {
			return fmt.Errorf("%w: es reader requires a recording id or a query", ErrConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown reader %q", ErrConfig, c.Kind)
	}
	if c.Match.Rec == "" {
		return fmt.Errorf("%w: %s reader requires a recording id", ErrConfig, c.Kind)
	}
	return nil
}

// Open validates cfg and opens the selected reader.
func Open(cfg Config) (Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindFile:
		r, err := OpenFile(cfg.File.Path)
		if err != nil {
			return nil, err
		}
		return r, nil
	case KindElastic:
		r, err := NewElasticReader(cfg.Elastic, cfg.Match)
		if err != nil {
			return nil, err
		}
		return r, nil
	}

	var (
		store storage.Store
		err   error
	)
	switch cfg.Kind {
	case KindJournal:
		jc := cfg.Journal
		jc.SkipProbe = true
		store, err = storage.NewJournalStore(jc)
	case KindRedis:
		store, err = storage.NewRedisStore(&cfg.Redis)
	case KindSQLite:
		store, err = storage.OpenSQLite(cfg.SQLite.Path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s reader: %w", cfg.Kind, err)
	}
	return NewStoreReader(store, cfg.Match, cfg.Follow), nil
}
