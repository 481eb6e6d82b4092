// Command swipesim seeds a SQLite remote with synthetic candidates and drives
// simulated swipe sessions against it, exposing Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/swipedeck/internal/config"
	"github.com/IvanBrykalov/swipedeck/internal/logging"
	"github.com/IvanBrykalov/swipedeck/record"
	"github.com/IvanBrykalov/swipedeck/remote/sqlite"
)

var version = "dev"

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "swipesim",
		Short:         "Simulate swipe sessions against a local candidate remote",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML config file (SWIPE_* env vars override it)")

	root.AddCommand(
		newSeedCmd(&cfgPath),
		newRunCmd(&cfgPath),
		newStatsCmd(&cfgPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config and builds the logger shared by every subcommand.
func setup(cfgPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newSeedCmd(cfgPath *string) *cobra.Command {
	var (
		count      int
		seed       int64
		invalidPct int
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert synthetic candidates into the remote database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			r, err := sqlite.Open(cfg.Remote.DBPath)
			if err != nil {
				return err
			}
			defer r.Close()

			recs := generate(count, seed, invalidPct)
			n, err := r.Seed(cmd.Context(), recs)
			if err != nil {
				return err
			}
			log.Info("seeded", zap.String("db", cfg.Remote.DBPath), zap.Int("inserted", n), zap.Int("requested", count))
			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d of %d candidates into %s\n", n, count, cfg.Remote.DBPath)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 500, "number of candidates")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	cmd.Flags().IntVar(&invalidPct, "invalid", 1, "percentage of candidates without a display name [0..100]")
	return cmd
}

func newStatsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show decided and undecided candidate counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			r, err := sqlite.Open(cfg.Remote.DBPath)
			if err != nil {
				return err
			}
			defer r.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			undecided, err := r.Undecided(ctx)
			if err != nil {
				return err
			}
			ds, err := r.Decisions(ctx)
			if err != nil {
				return err
			}
			var accepts int
			for _, d := range ds {
				if d == record.Accept {
					accepts++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "undecided=%d decided=%d accepted=%d rejected=%d\n",
				undecided, len(ds), accepts, len(ds)-accepts)
			return nil
		},
	}
}
