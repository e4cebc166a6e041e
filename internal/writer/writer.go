// Package writer persists packets of one recording.
//
// Every variant serializes packets to the same Message wire form, stamps
// them with the session identity it was opened with and a sequence number
// it owns, and never re-encodes payload bytes.
package writer

import (
	"context"
	"errors"
	"fmt"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
	"github.com/SmitUplenchwar2687/tlog/internal/storage"
)

// Kind selects a writer variant.
type Kind string

const (
	KindFile    Kind = "file"
	KindJournal Kind = "journal"
	KindSyslog  Kind = "syslog"
	KindRedis   Kind = "redis"
	KindSQLite  Kind = "sqlite"
)

// Kinds lists the supported writer variants.
var Kinds = []Kind{KindFile, KindJournal, KindSyslog, KindRedis, KindSQLite}

// ErrConfig marks writer configuration errors.
var ErrConfig = errors.New("invalid writer configuration")

// Writer is the durable sink of a capture session.
type Writer interface {
	// Write persists one packet as the next entry of the recording.
	Write(ctx context.Context, p packet.Packet) error
	// Close flushes and releases the sink.
	Close() error
}

// WriteError reports a failed write with the writer and entry involved.
type WriteError struct {
	Writer Kind
	Seq    uint64
	Err    error
}

func (e *WriteError) Error() string {
	if e.Seq == 0 {
		return fmt.Sprintf("%s writer: %v", e.Writer, e.Err)
	}
	return fmt.Sprintf("%s writer: entry %d: %v", e.Writer, e.Seq, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Config selects and parameterizes a writer.
type Config struct {
	Kind    Kind                `json:"writer" yaml:"writer"`
	File    FileConfig          `json:"file" yaml:"file"`
	Journal JournalConfig       `json:"journal" yaml:"journal"`
	Syslog  SyslogConfig        `json:"syslog" yaml:"syslog"`
	Redis   storage.RedisConfig `json:"redis" yaml:"redis"`
	SQLite  SQLiteConfig        `json:"sqlite" yaml:"sqlite"`
}

// FileConfig configures the file writer.
type FileConfig struct {
	Path string `json:"path" yaml:"path"`
}

// JournalConfig configures the journal writer.
type JournalConfig struct {
	Priority string `json:"priority" yaml:"priority"`
	// Augment adds the user, session and host fields to every entry.
	Augment bool `json:"augment" yaml:"augment"`
}

// SyslogConfig configures the syslog writer.
type SyslogConfig struct {
	Facility string `json:"facility" yaml:"facility"`
	Priority string `json:"priority" yaml:"priority"`
	// Network and Address select a remote daemon; both empty means the
	// local syslog socket.
	Network string `json:"network" yaml:"network"`
	Address string `json:"address" yaml:"address"`
	Tag     string `json:"tag" yaml:"tag"`
}

// SQLiteConfig configures the sqlite writer.
type SQLiteConfig struct {
	Path string `json:"path" yaml:"path"`
}

// Validate checks the parameters of the selected variant.
func (c Config) Validate() error {
	switch c.Kind {
	case KindFile:
		if c.File.Path == "" {
			return fmt.Errorf("%w: file writer requires a path", ErrConfig)
		}
	case KindJournal:
		if _, err := ParsePriority(c.Journal.Priority); err != nil {
			return fmt.Errorf("%w: journal: %v", ErrConfig, err)
		}
	case KindSyslog:
		if _, err := ParseFacility(c.Syslog.Facility); err != nil {
			return fmt.Errorf("%w: syslog: %v", ErrConfig, err)
		}
		if _, err := ParsePriority(c.Syslog.Priority); err != nil {
			return fmt.Errorf("%w: syslog: %v", ErrConfig, err)
		}
	case KindRedis:
		if c.Redis.Host == "" && len(c.Redis.ClusterNodes) == 0 {
			return fmt.Errorf("%w: redis writer requires a host", ErrConfig)
		}
	case KindSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("%w: sqlite writer requires a path", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown writer %q", ErrConfig, c.Kind)
	}
	return nil
}

// Open validates cfg and opens the selected writer for sess.
func Open(cfg Config, sess packet.Session) (Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindFile:
		w, err := OpenFile(cfg.File.Path, sess)
		if err != nil {
			return nil, err
		}
		return w, nil
	case KindJournal:
		w, err := OpenJournal(cfg.Journal, sess)
		if err != nil {
			return nil, err
		}
		return w, nil
	case KindSyslog:
		w, err := OpenSyslog(cfg.Syslog, sess)
		if err != nil {
			return nil, err
		}
		return w, nil
	case KindRedis:
		store, err := storage.NewRedisStore(&cfg.Redis)
		if err != nil {
			return nil, &WriteError{Writer: KindRedis, Err: err}
		}
		return NewStoreWriter(KindRedis, store, sess, StoreOptions{Priority: PriorityInfo, Augment: true}), nil
	case KindSQLite:
		store, err := storage.OpenSQLite(cfg.SQLite.Path, nil)
		if err != nil {
			return nil, &WriteError{Writer: KindSQLite, Err: err}
		}
		return NewStoreWriter(KindSQLite, store, sess, StoreOptions{Priority: PriorityInfo, Augment: true}), nil
	}
	return nil, fmt.Errorf("%w: unknown writer %q", ErrConfig, cfg.Kind)
}

// sequencer hands out entry numbers. A number is committed only once the
// entry is durably written, so a failed write leaves no gap.
type sequencer struct {
	last uint64
}

func (s *sequencer) next() uint64 { return s.last + 1 }

func (s *sequencer) commit(seq uint64) { s.last = seq }
