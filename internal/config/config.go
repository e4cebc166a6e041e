package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/SmitUplenchwar2687/tlog/internal/capture"
	"github.com/SmitUplenchwar2687/tlog/internal/limiter"
	"github.com/SmitUplenchwar2687/tlog/internal/packetizer"
	"github.com/SmitUplenchwar2687/tlog/internal/player"
	"github.com/SmitUplenchwar2687/tlog/internal/reader"
	"github.com/SmitUplenchwar2687/tlog/internal/session"
	"github.com/SmitUplenchwar2687/tlog/internal/storage"
	"github.com/SmitUplenchwar2687/tlog/internal/writer"
)

// Configuration sources, lowest precedence first: built-in defaults, the
// config file, TLOG_REC_* / TLOG_PLAY_* variables, then inline text.
const (
	SystemRecFile  = "/etc/tlog/tlog-rec.conf"
	SystemPlayFile = "/etc/tlog/tlog-play.conf"

	EnvRecPrefix    = "TLOG_REC"
	EnvPlayPrefix   = "TLOG_PLAY"
	EnvRecConfFile  = "TLOG_REC_CONF_FILE"
	EnvRecConfText  = "TLOG_REC_CONF_TEXT"
	EnvPlayConfFile = "TLOG_PLAY_CONF_FILE"
	EnvPlayConfText = "TLOG_PLAY_CONF_TEXT"
)

// ConfigError reports an invalid or unreadable setting.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Duration accepts a Go duration ("1m30s") or a plain number of seconds
// ("10", "0.5") in files and environment variables.
type Duration time.Duration

// ParseDuration parses the forms Duration accepts. Negative values are
// rejected.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	d, err := time.ParseDuration(s)
	if err != nil {
		secs, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return Duration(d), nil
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(s string) error {
	v, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	return d.Decode(node.Value)
}

// MarshalYAML renders the duration in Go syntax.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) String() string { return time.Duration(d).String() }

// Set and Type make Duration usable as a command-line flag.
func (d *Duration) Set(s string) error { return d.Decode(s) }

func (d *Duration) Type() string { return "duration" }

// RecLog selects the channels that get recorded.
type RecLog struct {
	Input  bool `yaml:"input"`
	Output bool `yaml:"output"`
	Window bool `yaml:"window"`
}

// Rec configures the recording program.
type Rec struct {
	// Shell is started when no command is given.
	Shell string `yaml:"shell"`
	// Notice is printed to the user before recording starts.
	Notice  string         `yaml:"notice"`
	Latency Duration       `yaml:"latency"`
	Payload int            `yaml:"payload"`
	Log     RecLog         `yaml:"log"`
	Limit   limiter.Config `yaml:"limit"`

	Writer  writer.Kind          `yaml:"writer"`
	File    writer.FileConfig    `yaml:"file"`
	Journal writer.JournalConfig `yaml:"journal"`
	Syslog  writer.SyslogConfig  `yaml:"syslog"`
	Redis   storage.RedisConfig  `yaml:"redis"`
	SQLite  writer.SQLiteConfig  `yaml:"sqlite"`

	// Lock keeps one recording per session; nested shells pass through.
	Lock    bool   `yaml:"lock"`
	LockDir string `yaml:"lock_dir" split_words:"true"`
	// MetricsAddr serves Prometheus metrics while recording when set.
	MetricsAddr string `yaml:"metrics_addr" split_words:"true"`
}

// DefaultRec returns the recorder defaults.
func DefaultRec() Rec {
	return Rec{
		Shell:   "/bin/bash",
		Notice:  "\nATTENTION! Your session is being recorded!\n\n",
		Latency: Duration(10 * time.Second),
		Payload: 2048,
		Log:     RecLog{Output: true, Window: true},
		Limit: limiter.Config{
			Rate:   16384,
			Burst:  32768,
			Action: limiter.ActionPass,
		},
		Writer:  writer.KindFile,
		Journal: writer.JournalConfig{Priority: "info", Augment: true},
		Syslog:  writer.SyslogConfig{Facility: "authpriv", Priority: "info"},
		Lock:    true,
		LockDir: session.DefaultLockDir,
	}
}

// Validate checks the config, reporting the first bad field.
func (c Rec) Validate() error {
	if c.Shell == "" {
		return &ConfigError{Field: "shell", Reason: "must not be empty"}
	}
	if c.Latency <= 0 {
		return &ConfigError{Field: "latency", Reason: fmt.Sprintf("must be positive, got %s", c.Latency)}
	}
	if c.Payload <= 0 {
		return &ConfigError{Field: "payload", Reason: fmt.Sprintf("must be positive, got %d", c.Payload)}
	}
	if err := c.Limit.Validate(); err != nil {
		return &ConfigError{Field: "limit", Reason: err.Error(), Err: err}
	}
	if err := c.WriterConfig().Validate(); err != nil {
		return &ConfigError{Field: "writer", Reason: err.Error(), Err: err}
	}
	if c.Lock && c.LockDir == "" {
		return &ConfigError{Field: "lock_dir", Reason: "must not be empty when locking"}
	}
	return nil
}

// PacketizerConfig returns the packet bounds.
func (c Rec) PacketizerConfig() packetizer.Config {
	return packetizer.Config{Latency: time.Duration(c.Latency), Payload: c.Payload}
}

// CaptureConfig returns the capture engine settings.
func (c Rec) CaptureConfig() capture.Config {
	return capture.Config{
		Packetizer:  c.PacketizerConfig(),
		LogInput:    c.Log.Input,
		LogOutput:   c.Log.Output,
		LogWindow:   c.Log.Window,
		LimitAction: c.Limit.Action,
	}
}

// WriterConfig returns the selected writer and its parameters.
func (c Rec) WriterConfig() writer.Config {
	return writer.Config{
		Kind:    c.Writer,
		File:    c.File,
		Journal: c.Journal,
		Syslog:  c.Syslog,
		Redis:   c.Redis,
		SQLite:  c.SQLite,
	}
}

// Play configures the playback program.
type Play struct {
	Reader  reader.Kind           `yaml:"reader"`
	File    reader.FileConfig     `yaml:"file"`
	Journal storage.JournalConfig `yaml:"journal"`
	Redis   storage.RedisConfig   `yaml:"redis"`
	SQLite  reader.SQLiteConfig   `yaml:"sqlite"`
	ES      reader.ElasticConfig  `yaml:"es"`
	Match   reader.Match          `yaml:"match"`

	Speed float64 `yaml:"speed"`
	// Goto is "start", "end" or an offset such as "1:30".
	Goto         string   `yaml:"goto"`
	SeekWindow   Duration `yaml:"seek_window" split_words:"true"`
	PollInterval Duration `yaml:"poll_interval" split_words:"true"`
	Follow       bool     `yaml:"follow"`
	Persist      bool     `yaml:"persist"`
	// Lax repairs ordering and timing damage instead of stopping.
	Lax bool `yaml:"lax"`
}

// DefaultPlay returns the player defaults.
func DefaultPlay() Play {
	return Play{
		Reader:       reader.KindFile,
		Speed:        1,
		PollInterval: Duration(player.DefaultPollInterval),
	}
}

// Validate checks the config, reporting the first bad field.
func (c Play) Validate() error {
	if c.Speed <= 0 {
		return &ConfigError{Field: "speed", Reason: fmt.Sprintf("must be positive, got %g", c.Speed)}
	}
	if _, err := player.ParseTarget(c.Goto); err != nil {
		return &ConfigError{Field: "goto", Reason: err.Error(), Err: err}
	}
	if c.PollInterval <= 0 {
		return &ConfigError{Field: "poll_interval", Reason: fmt.Sprintf("must be positive, got %s", c.PollInterval)}
	}
	if err := c.ReaderConfig().Validate(); err != nil {
		return &ConfigError{Field: "reader", Reason: err.Error(), Err: err}
	}
	return nil
}

// ReaderConfig returns the selected reader and its parameters.
func (c Play) ReaderConfig() reader.Config {
	return reader.Config{
		Kind:    c.Reader,
		File:    c.File,
		Journal: c.Journal,
		Redis:   c.Redis,
		SQLite:  c.SQLite,
		Elastic: c.ES,
		Match:   c.Match,
		Follow:  c.Follow,
	}
}

// PlayerConfig returns the playback settings.
func (c Play) PlayerConfig() (player.Config, error) {
	target, err := player.ParseTarget(c.Goto)
	if err != nil {
		return player.Config{}, &ConfigError{Field: "goto", Reason: err.Error(), Err: err}
	}
	return player.Config{
		Speed:        c.Speed,
		Goto:         target,
		SeekWindow:   time.Duration(c.SeekWindow),
		Follow:       c.Follow,
		PollInterval: time.Duration(c.PollInterval),
		Persist:      c.Persist,
	}, nil
}

// LoadRec builds the recorder config. An empty file falls back to
// TLOG_REC_CONF_FILE, then to the system file when it exists.
func LoadRec(file string) (Rec, error) {
	cfg := DefaultRec()
	err := load(&cfg, sources{
		file:    file,
		fileEnv: EnvRecConfFile,
		system:  SystemRecFile,
		prefix:  EnvRecPrefix,
		textEnv: EnvRecConfText,
	})
	return cfg, err
}

// LoadPlay builds the player config the same way LoadRec does, from the
// TLOG_PLAY_* sources.
func LoadPlay(file string) (Play, error) {
	cfg := DefaultPlay()
	err := load(&cfg, sources{
		file:    file,
		fileEnv: EnvPlayConfFile,
		system:  SystemPlayFile,
		prefix:  EnvPlayPrefix,
		textEnv: EnvPlayConfText,
	})
	return cfg, err
}

type sources struct {
	file    string
	fileEnv string
	system  string
	prefix  string
	textEnv string
}

// load overlays each source on cfg. Settings a source does not mention keep
// their previous value.
func load(cfg interface{}, src sources) error {
	path, required := src.file, src.file != ""
	if path == "" {
		if p := os.Getenv(src.fileEnv); p != "" {
			path, required = p, true
		} else {
			path = src.system
		}
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, cfg); err != nil {
			return &ConfigError{Field: path, Reason: err.Error(), Err: err}
		}
	case required || !errors.Is(err, os.ErrNotExist):
		return &ConfigError{Field: path, Reason: "reading config file", Err: err}
	}

	if err := envconfig.Process(src.prefix, cfg); err != nil {
		return &ConfigError{Field: "environment", Reason: err.Error(), Err: err}
	}

	if text := os.Getenv(src.textEnv); text != "" {
		if err := decode([]byte(text), cfg); err != nil {
			return &ConfigError{Field: src.textEnv, Reason: err.Error(), Err: err}
		}
	}
	return nil
}

// decode reads YAML (or JSON, which is a subset) into cfg, rejecting unknown
// keys.
func decode(data []byte, cfg interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// WriteExample writes an example recorder config to path.
func WriteExample(path string) error {
	example := `# tlog-rec configuration
shell: /bin/bash
latency: 10s
payload: 2048
log:
  input: false
  output: true
  window: true
limit:
  rate: 16384
  burst: 32768
  action: pass
writer: file
file:
  path: /var/log/tlog/session.log
journal:
  priority: info
  augment: true
syslog:
  facility: authpriv
  priority: info
lock: true
lock_dir: /run/tlog
metrics_addr: ""
`
	return os.WriteFile(path, []byte(example), 0o644)
}
