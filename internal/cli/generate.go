package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/tlog/internal/clock"
	"github.com/SmitUplenchwar2687/tlog/internal/config"
	"github.com/SmitUplenchwar2687/tlog/internal/generate"
	"github.com/SmitUplenchwar2687/tlog/internal/writer"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate sample recordings and config",
		Long: `Generates sample data for testing and experimentation.

Use "generate recording" to write a synthetic recording.
Use "generate config" to create an example recorder config file.`,
	}
	cmd.AddCommand(newGenerateRecordingCmd(), newGenerateConfigCmd())
	return cmd
}

func newGenerateRecordingCmd() *cobra.Command {
	var (
		output     string
		writerKind string
		sqlitePath string
		redis      redisOptions
	)
	opts := generate.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "recording",
		Short: "Write a synthetic recording",
		Long: `Writes a deterministic recording of numbered output lines with
configurable pacing. The same seed always gives the same recording.

Patterns:
  steady    Evenly spaced output
  burst     Concentrated bursts with quiet periods
  ramp      Output that gets denser over time`,
		Example: `  tlog generate recording --output sample.log
  tlog generate recording --output burst.log --count 500 --pattern burst --duration 10m
  tlog generate recording --writer sqlite --sqlite-path rec.db --resizes 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pkts, err := generate.Packets(opts)
			if err != nil {
				return err
			}

			wcfg := config.DefaultRec().WriterConfig()
			wcfg.Kind = writer.Kind(writerKind)
			wcfg.File.Path = output
			wcfg.SQLite.Path = sqlitePath
			if err := redis.apply(cmd, &wcfg.Redis); err != nil {
				return err
			}

			sess := generate.Session(clock.NewRealClock().Now())
			w, err := writer.Open(wcfg, sess)
			if err != nil {
				return err
			}
			if err := generate.Write(cmd.Context(), w, pkts); err != nil {
				w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generated %d packets to %s writer\n", len(pkts), wcfg.Kind)
			fmt.Fprintf(out, "  Recording: %s\n", sess.RecordingID)
			fmt.Fprintf(out, "  Duration:  %s\n", opts.Duration)
			fmt.Fprintf(out, "  Pattern:   %s\n", opts.Pattern)
			if cmd.Flags().Changed("seed") {
				fmt.Fprintf(out, "  Seed:      %d\n", opts.Seed)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&output, "output", "recording.log", "file writer: output path")
	f.StringVar(&writerKind, "writer", string(writer.KindFile), "log writer (file, redis, sqlite)")
	f.StringVar(&sqlitePath, "sqlite-path", "", "sqlite writer: database file")
	redis.addFlags(cmd)
	f.IntVar(&opts.Count, "count", opts.Count, "number of output lines")
	f.DurationVar(&opts.Duration, "duration", opts.Duration, "recording length")
	f.StringVar(&opts.Pattern, "pattern", opts.Pattern, "pacing pattern (steady, burst, ramp)")
	f.IntVar(&opts.Payload, "payload", opts.Payload, "max payload bytes per packet")
	f.Uint16Var(&opts.Cols, "cols", opts.Cols, "terminal width")
	f.Uint16Var(&opts.Rows, "rows", opts.Rows, "terminal height")
	f.IntVar(&opts.Resizes, "resizes", opts.Resizes, "window size changes spread over the recording")
	f.Int64Var(&opts.Seed, "seed", opts.Seed, "random seed")

	return cmd
}

func newGenerateConfigCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Generate an example recorder config file",
		Example: `  tlog generate config --output tlog-rec.conf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteExample(output); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Example config written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "tlog-rec.conf", "output file path")
	return cmd
}
