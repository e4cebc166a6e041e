package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/SmitUplenchwar2687/tlog/internal/clock"
	"github.com/SmitUplenchwar2687/tlog/internal/config"
	"github.com/SmitUplenchwar2687/tlog/internal/logging"
	"github.com/SmitUplenchwar2687/tlog/internal/player"
	"github.com/SmitUplenchwar2687/tlog/internal/reader"
)

// maxShownWarnings bounds the lax-mode warnings printed after playback.
const maxShownWarnings = 5

type playOptions struct {
	configFile   string
	reader       string
	filePath     string
	journalDir   string
	sqlitePath   string
	esAddresses  []string
	esIndex      string
	esQuery      string
	rec          string
	host         string
	user         string
	redis        redisOptions
	speed        float64
	gotoTarget   string
	seekWindow   config.Duration
	pollInterval config.Duration
	follow       bool
	persist      bool
	lax          bool
}

func newPlayCmd() *cobra.Command {
	def := config.DefaultPlay()
	o := playOptions{pollInterval: def.PollInterval}

	cmd := &cobra.Command{
		Use:   "play [flags] [file]",
		Short: "Play back a recorded terminal session",
		Long: `Replays a recording with its original timing.

Keys while playing:
  space, p   pause / resume
  .          show the next packet now
  }  {       double / halve the speed
  DEL        reset the speed
  g  G       go to the start / the end
  1:30G      go to an offset (digits and colons, then G)
  q          quit

Settings come from, in increasing precedence: built-in defaults,
the config file (--config, TLOG_PLAY_CONF_FILE or /etc/tlog/tlog-play.conf),
TLOG_PLAY_* environment variables, TLOG_PLAY_CONF_TEXT, and flags.`,
		Example: `  tlog play session.log
  tlog play session.log --speed 4 --goto 2:30
  tlog play --reader sqlite --sqlite-path /var/log/tlog.db --rec 7c1e...
  tlog play --reader journal --rec 7c1e... --follow`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadPlay(o.configFile)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Reader = reader.KindFile
				cfg.File.Path = args[0]
			}
			if err := o.apply(cmd, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return play(cmd, cfg)
		},
	}

	o.addFlags(cmd, def)
	return cmd
}

func (o *playOptions) addFlags(cmd *cobra.Command, def config.Play) {
	f := cmd.Flags()
	f.StringVar(&o.configFile, "config", "", "config file (YAML or JSON)")
	f.StringVar(&o.reader, "reader", string(def.Reader), "log reader (file, journal, redis, sqlite, es)")
	f.StringVar(&o.filePath, "file-path", "", "file reader: recording file")
	f.StringVar(&o.journalDir, "journal-dir", "", "journal reader: read journal files from this directory")
	f.StringVar(&o.sqlitePath, "sqlite-path", "", "sqlite reader: database file")
	f.StringSliceVar(&o.esAddresses, "es-addresses", nil, "es reader: Elasticsearch base URLs")
	f.StringVar(&o.esIndex, "es-index", "", "es reader: index holding the recording")
	f.StringVar(&o.esQuery, "es-query", "", "es reader: query_string narrowing the documents")
	f.StringVar(&o.rec, "rec", "", "recording id to play from a shared store")
	f.StringVar(&o.host, "host", "", "only entries recorded on this host")
	f.StringVar(&o.user, "user", "", "only entries recorded for this user")
	o.redis.addFlags(cmd)

	f.Float64Var(&o.speed, "speed", def.Speed, "playback speed multiplier")
	f.StringVar(&o.gotoTarget, "goto", "", `start at "start", "end" or an offset such as 1:30`)
	f.Var(&o.seekWindow, "seek-window", "when seeking, only show output this long before the target (0 shows all)")
	f.Var(&o.pollInterval, "poll-interval", "how often --follow checks for new packets")
	f.BoolVarP(&o.follow, "follow", "f", false, "keep playing a recording that is still being written")
	f.BoolVar(&o.persist, "persist", false, "ignore q and keep running at the end")
	f.BoolVar(&o.lax, "lax", false, "repair ordering and timing damage instead of stopping")
}

// apply overrides cfg with the flags given on the command line.
func (o *playOptions) apply(cmd *cobra.Command, cfg *config.Play) error {
	f := cmd.Flags()
	if f.Changed("reader") {
		cfg.Reader = reader.Kind(o.reader)
	}
	if f.Changed("file-path") {
		cfg.File.Path = o.filePath
	}
	if f.Changed("journal-dir") {
		cfg.Journal.Directory = o.journalDir
	}
	if f.Changed("sqlite-path") {
		cfg.SQLite.Path = o.sqlitePath
	}
	if f.Changed("es-addresses") {
		cfg.ES.Addresses = append([]string(nil), o.esAddresses...)
	}
	if f.Changed("es-index") {
		cfg.ES.Index = o.esIndex
	}
	if f.Changed("es-query") {
		cfg.ES.Query = o.esQuery
	}
	if f.Changed("rec") {
		cfg.Match.Rec = o.rec
	}
	if f.Changed("host") {
		cfg.Match.Host = o.host
	}
	if f.Changed("user") {
		cfg.Match.User = o.user
	}
	if f.Changed("speed") {
		cfg.Speed = o.speed
	}
	if f.Changed("goto") {
		cfg.Goto = o.gotoTarget
	}
	if f.Changed("seek-window") {
		cfg.SeekWindow = o.seekWindow
	}
	if f.Changed("poll-interval") {
		cfg.PollInterval = o.pollInterval
	}
	if f.Changed("follow") {
		cfg.Follow = o.follow
	}
	if f.Changed("persist") {
		cfg.Persist = o.persist
	}
	if f.Changed("lax") {
		cfg.Lax = o.lax
	}
	return o.redis.apply(cmd, &cfg.Redis)
}

// warnings collects lax-mode repairs. They are printed once the terminal is
// back in its normal mode.
type warnings struct {
	mu    sync.Mutex
	count int
	shown []error
}

func (w *warnings) add(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count++
	if len(w.shown) < maxShownWarnings {
		w.shown = append(w.shown, err)
	}
}

func (w *warnings) report() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, err := range w.shown {
		log.Printf("[play] repaired: %v", err)
	}
	if w.count > len(w.shown) {
		log.Printf("[play] %d more repairs not shown", w.count-len(w.shown))
	}
}

// play runs the player on the configured recording. The terminal, when
// stdin is one, is in raw mode only while the player runs.
func play(cmd *cobra.Command, cfg config.Play) error {
	pcfg, err := cfg.PlayerConfig()
	if err != nil {
		return err
	}
	src, err := reader.Open(cfg.ReaderConfig())
	if err != nil {
		return err
	}
	var warns warnings
	validated := reader.Validate(src, reader.ValidateOptions{Lax: cfg.Lax, Warn: warns.add})
	defer warns.report()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controls := make(chan player.Control, 16)
	stdin := cmd.InOrStdin()
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		restore, err := makePlaybackRaw(int(f.Fd()), cfg.Persist)
		if err != nil {
			validated.Close()
			return fmt.Errorf("setting raw mode: %w", err)
		}
		defer func() {
			if err := restore(); err != nil {
				log.Printf("[play] restoring terminal: %v", err)
			}
		}()
		defer logging.Quiet()()
	}
	go func() {
		if err := player.ReadControls(ctx, stdin, controls); err != nil && ctx.Err() == nil {
			log.Printf("[play] reading keys: %v", err)
		}
	}()

	p, err := player.New(pcfg, validated, cmd.OutOrStdout(), clock.NewRealClock(), controls)
	if err != nil {
		validated.Close()
		return err
	}
	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
