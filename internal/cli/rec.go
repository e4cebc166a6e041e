package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/SmitUplenchwar2687/tlog/internal/capture"
	"github.com/SmitUplenchwar2687/tlog/internal/clock"
	"github.com/SmitUplenchwar2687/tlog/internal/config"
	"github.com/SmitUplenchwar2687/tlog/internal/limiter"
	"github.com/SmitUplenchwar2687/tlog/internal/logging"
	"github.com/SmitUplenchwar2687/tlog/internal/metrics"
	"github.com/SmitUplenchwar2687/tlog/internal/server"
	"github.com/SmitUplenchwar2687/tlog/internal/session"
	"github.com/SmitUplenchwar2687/tlog/internal/writer"
)

type recOptions struct {
	configFile string
	shell      string
	command    string
	latency    config.Duration
	payload    int
	logInput   bool
	logOutput  bool
	logWindow  bool
	rate       int
	burst      int
	action     string

	writer          string
	filePath        string
	journalPriority string
	journalAugment  bool
	syslogFacility  string
	syslogPriority  string
	syslogNetwork   string
	syslogAddress   string
	sqlitePath      string
	redis           redisOptions

	lock        bool
	lockDir     string
	metricsAddr string
}

func newRecCmd() *cobra.Command {
	def := config.DefaultRec()
	o := recOptions{latency: def.Latency}

	cmd := &cobra.Command{
		Use:   "rec [flags] [-- command [args...]]",
		Short: "Record a terminal session",
		Long: `Starts a shell or command on a pseudo-terminal and records what
happens on it: output, optionally input, and every window size change.

Settings come from, in increasing precedence: built-in defaults,
the config file (--config, TLOG_REC_CONF_FILE or /etc/tlog/tlog-rec.conf),
TLOG_REC_* environment variables, TLOG_REC_CONF_TEXT, and flags.

When the session is already being recorded the command runs unrecorded.`,
		Example: `  tlog rec --writer file --file-path session.log
  tlog rec --file-path build.log -- make -j8
  tlog rec -c 'top -n 1' --log-input --limit-rate 4096 --limit-action delay
  tlog rec --writer sqlite --sqlite-path /var/log/tlog.db --metrics-addr :9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRec(o.configFile)
			if err != nil {
				return err
			}
			if err := o.apply(cmd, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			argv, err := recCommand(cfg.Shell, o.command, args)
			if err != nil {
				return err
			}
			code, err := record(cmd, cfg, argv)
			if err != nil {
				return err
			}
			if code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	o.addFlags(cmd, def)
	return cmd
}

func (o *recOptions) addFlags(cmd *cobra.Command, def config.Rec) {
	f := cmd.Flags()
	f.StringVar(&o.configFile, "config", "", "config file (YAML or JSON)")
	f.StringVar(&o.shell, "shell", def.Shell, "shell to start when no command is given")
	f.StringVarP(&o.command, "command", "c", "", "command string passed to the shell with -c")
	f.Var(&o.latency, "latency", "max time output waits before it is logged (Go duration or seconds)")
	f.IntVar(&o.payload, "payload", def.Payload, "max payload bytes per logged packet")
	f.BoolVar(&o.logInput, "log-input", def.Log.Input, "record what the user types")
	f.BoolVar(&o.logOutput, "log-output", def.Log.Output, "record terminal output")
	f.BoolVar(&o.logWindow, "log-window", def.Log.Window, "record window size changes")
	f.IntVar(&o.rate, "limit-rate", def.Limit.Rate, "logging rate limit in bytes per second")
	f.IntVar(&o.burst, "limit-burst", def.Limit.Burst, "logging burst in bytes")
	f.StringVar(&o.action, "limit-action", string(def.Limit.Action), "what to do above the limit (pass, drop, delay)")

	f.StringVar(&o.writer, "writer", string(def.Writer), "log writer (file, journal, syslog, redis, sqlite)")
	f.StringVar(&o.filePath, "file-path", "", "file writer: recording file")
	f.StringVar(&o.journalPriority, "journal-priority", def.Journal.Priority, "journal writer: entry priority")
	f.BoolVar(&o.journalAugment, "journal-augment", def.Journal.Augment, "journal writer: add user, session and host fields")
	f.StringVar(&o.syslogFacility, "syslog-facility", def.Syslog.Facility, "syslog writer: facility")
	f.StringVar(&o.syslogPriority, "syslog-priority", def.Syslog.Priority, "syslog writer: priority")
	f.StringVar(&o.syslogNetwork, "syslog-network", "", "syslog writer: network of a remote daemon (udp, tcp)")
	f.StringVar(&o.syslogAddress, "syslog-address", "", "syslog writer: address of a remote daemon")
	f.StringVar(&o.sqlitePath, "sqlite-path", "", "sqlite writer: database file")
	o.redis.addFlags(cmd)

	f.BoolVar(&o.lock, "lock", def.Lock, "record each session once; nested invocations run unrecorded")
	f.StringVar(&o.lockDir, "lock-dir", def.LockDir, "directory holding session locks")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while recording")
}

// apply overrides cfg with the flags given on the command line.
func (o *recOptions) apply(cmd *cobra.Command, cfg *config.Rec) error {
	f := cmd.Flags()
	if f.Changed("shell") {
		cfg.Shell = o.shell
	}
	if f.Changed("latency") {
		cfg.Latency = o.latency
	}
	if f.Changed("payload") {
		cfg.Payload = o.payload
	}
	if f.Changed("log-input") {
		cfg.Log.Input = o.logInput
	}
	if f.Changed("log-output") {
		cfg.Log.Output = o.logOutput
	}
	if f.Changed("log-window") {
		cfg.Log.Window = o.logWindow
	}
	if f.Changed("limit-rate") {
		cfg.Limit.Rate = o.rate
	}
	if f.Changed("limit-burst") {
		cfg.Limit.Burst = o.burst
	}
	if f.Changed("limit-action") {
		cfg.Limit.Action = limiter.Action(o.action)
	}
	if f.Changed("writer") {
		cfg.Writer = writer.Kind(o.writer)
	}
	if f.Changed("file-path") {
		cfg.File.Path = o.filePath
	}
	if f.Changed("journal-priority") {
		cfg.Journal.Priority = o.journalPriority
	}
	if f.Changed("journal-augment") {
		cfg.Journal.Augment = o.journalAugment
	}
	if f.Changed("syslog-facility") {
		cfg.Syslog.Facility = o.syslogFacility
	}
	if f.Changed("syslog-priority") {
		cfg.Syslog.Priority = o.syslogPriority
	}
	if f.Changed("syslog-network") {
		cfg.Syslog.Network = o.syslogNetwork
	}
	if f.Changed("syslog-address") {
		cfg.Syslog.Address = o.syslogAddress
	}
	if f.Changed("sqlite-path") {
		cfg.SQLite.Path = o.sqlitePath
	}
	if f.Changed("lock") {
		cfg.Lock = o.lock
	}
	if f.Changed("lock-dir") {
		cfg.LockDir = o.lockDir
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
	return o.redis.apply(cmd, &cfg.Redis)
}

// recCommand picks what runs under the recording: trailing arguments, a
// -c command string, or the login shell.
func recCommand(shell, command string, args []string) ([]string, error) {
	switch {
	case command != "" && len(args) > 0:
		return nil, fmt.Errorf("--command and a trailing command are mutually exclusive")
	case command != "":
		return []string{shell, "-c", command}, nil
	case len(args) > 0:
		return args, nil
	default:
		return []string{shell}, nil
	}
}

// record runs argv under capture and returns its exit status.
func record(cmd *cobra.Command, cfg config.Rec, argv []string) (int, error) {
	clk := clock.NewRealClock()
	sess, err := session.Detect(clk.Now())
	if err != nil {
		return -1, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if cfg.Lock && sess.SessionID != 0 {
		lk, err := session.Acquire(cfg.LockDir, sess.SessionID)
		if errors.Is(err, session.ErrAlreadyLocked) {
			log.Printf("[rec] session %d already recorded, running unrecorded", sess.SessionID)
			return passThrough(ctx, cmd, argv)
		}
		if err != nil {
			return -1, err
		}
		defer func() {
			if err := lk.Release(); err != nil {
				log.Printf("[rec] %v", err)
			}
		}()
	}

	w, err := writer.Open(cfg.WriterConfig(), sess)
	if err != nil {
		return -1, err
	}
	defer func() {
		if err := w.Close(); err != nil {
			log.Printf("[rec] closing %s writer: %v", cfg.Writer, err)
		}
	}()

	lim, err := limiter.NewTokenBucket(cfg.Limit, clk)
	if err != nil {
		return -1, err
	}

	var m *metrics.Capture
	reg := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		m = metrics.NewCapture(reg)
	}
	engine, err := capture.NewEngine(cfg.CaptureConfig(), w, lim, clk, m)
	if err != nil {
		return -1, err
	}

	if cfg.MetricsAddr != "" {
		srv := server.New(cfg.MetricsAddr, engine, reg, clk)
		go func() {
			if err := srv.Start(); err != nil {
				log.Printf("[rec] metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Notice != "" {
		fmt.Fprint(cmd.ErrOrStderr(), cfg.Notice)
	}
	log.Printf("[rec] recording %s for %s@%s to %s writer: %s", sess.RecordingID, sess.User, sess.Host, cfg.Writer,
		logging.Sanitize(strings.Join(argv, " "), 80))

	// Logging outlives a SIGTERM so the tail of the session is flushed.
	if err := engine.Start(context.Background()); err != nil {
		return -1, err
	}

	child := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, ok := cmd.InOrStdin().(*os.File)
	if !ok {
		stdin = os.Stdin
	}
	relay := &capture.Relay{Engine: engine, Stdin: stdin, Stdout: cmd.OutOrStdout()}
	restoreLog := func() {}
	if term.IsTerminal(int(stdin.Fd())) {
		restoreLog = logging.Quiet()
	}
	code, runErr := relay.Run(ctx, child)
	restoreLog()
	stopErr := engine.Stop()

	st := engine.Stats()
	log.Printf("[rec] %s done: %d packets, %d bytes, %d dropped, %d failed, delayed %s",
		sess.RecordingID, st.Packets, st.Bytes, st.DroppedPackets, st.FailedPackets, st.Delayed)

	if runErr != nil {
		return -1, fmt.Errorf("running %s: %w", argv[0], runErr)
	}
	if stopErr != nil {
		return code, fmt.Errorf("recording stopped: %w", stopErr)
	}
	return code, nil
}

// passThrough runs argv on the caller's terminal without recording.
func passThrough(ctx context.Context, cmd *cobra.Command, argv []string) (int, error) {
	child := exec.CommandContext(ctx, argv[0], argv[1:]...)
	child.Stdin = cmd.InOrStdin()
	child.Stdout = cmd.OutOrStdout()
	child.Stderr = cmd.ErrOrStderr()
	err := child.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}
