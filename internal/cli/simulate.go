package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/tlog/internal/config"
	"github.com/SmitUplenchwar2687/tlog/internal/limiter"
	"github.com/SmitUplenchwar2687/tlog/internal/reader"
	"github.com/SmitUplenchwar2687/tlog/internal/simulate"
)

func newSimulateCmd() *cobra.Command {
	var (
		configFile string
		rate       int
		burst      int
		action     string
		lax        bool
		trace      bool
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "simulate [flags] file",
		Short: "Run a recording through a rate limit under virtual time",
		Long: `Replays the bytes of a recording through the logging rate limiter
against a virtual clock, so hours of session run in milliseconds.

The report shows what a limit setting would have done to the session:
bytes logged, packets dropped, and how far the delay action would have
held logging behind the terminal. The limit defaults to the recorder
configuration; flags override it.`,
		Example: `  tlog simulate session.log
  tlog simulate session.log --limit-rate 1024 --limit-action drop --trace
  tlog simulate session.log --limit-action delay --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRec(configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("limit-rate") {
				cfg.Limit.Rate = rate
			}
			if cmd.Flags().Changed("limit-burst") {
				cfg.Limit.Burst = burst
			}
			if cmd.Flags().Changed("limit-action") {
				cfg.Limit.Action = limiter.Action(action)
			}
			if err := cfg.Limit.Validate(); err != nil {
				return &config.ConfigError{Field: "limit", Reason: err.Error(), Err: err}
			}

			f, err := reader.OpenFile(args[0])
			if err != nil {
				return err
			}
			r := reader.Validate(f, reader.ValidateOptions{Lax: lax})
			defer r.Close()

			res, err := simulate.Run(cmd.Context(), r, simulate.Config{Limit: cfg.Limit, Trace: trace})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			simulate.Summary(out, res)
			if res.DroppedBytes > 0 && res.Bytes > 0 {
				fmt.Fprintf(out, "\nLoss: %.1f%% of the recording would be missing.\n", float64(res.DroppedBytes)/float64(res.Bytes)*100)
			}
			return nil
		},
	}

	def := config.DefaultRec()
	cmd.Flags().StringVar(&configFile, "config", "", "recorder config file supplying the limit")
	cmd.Flags().IntVar(&rate, "limit-rate", def.Limit.Rate, "rate limit in bytes per second")
	cmd.Flags().IntVar(&burst, "limit-burst", def.Limit.Burst, "burst in bytes")
	cmd.Flags().StringVar(&action, "limit-action", string(def.Limit.Action), "action above the limit (pass, drop, delay)")
	cmd.Flags().BoolVar(&lax, "lax", false, "repair ordering and timing damage instead of stopping")
	cmd.Flags().BoolVar(&trace, "trace", false, "list the fate of every packet")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")

	return cmd
}
