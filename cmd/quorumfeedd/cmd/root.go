package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosmossdk.io/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/quorumfeed/quorumfeed/aggregator"
	"github.com/quorumfeed/quorumfeed/api"
	"github.com/quorumfeed/quorumfeed/breaker"
	"github.com/quorumfeed/quorumfeed/commitreveal"
	"github.com/quorumfeed/quorumfeed/config"
	"github.com/quorumfeed/quorumfeed/coordinator"
	"github.com/quorumfeed/quorumfeed/events"
	"github.com/quorumfeed/quorumfeed/ledger"
	"github.com/quorumfeed/quorumfeed/store"
	"github.com/quorumfeed/quorumfeed/types"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// NewRootCmd builds the quorumfeedd command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quorumfeedd",
		Short: "QuorumFeed oracle consensus engine daemon",
	}
	rootCmd.PersistentFlags().String("config", "", "path to config file")
	rootCmd.AddCommand(startCmd(), versionCmd(), tokenCmd())
	return rootCmd
}

func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	path, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the consensus engine and API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			params, err := cfg.EngineParams()
			if err != nil {
				return err
			}

			level, err := log.ParseLogLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			logger := log.NewLogger(os.Stderr, log.FilterOption(level))

			if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
				return err
			}
			st, err := store.Open("quorumfeed", cfg.DataDir, params.RingCapacity)
			if err != nil {
				return err
			}
			defer st.Close()

			emitter := events.NewEmitter(logger, cfg.Events.BufferSize, cfg.Events.Workers)
			defer emitter.Close()

			ldg := ledger.New(logger, st, params, emitter, nil)
			brk := breaker.New(logger, st, params, emitter)

			g16, err := commitreveal.NewGroth16Verifier()
			if err != nil {
				return fmt.Errorf("groth16 setup: %w", err)
			}
			rev := commitreveal.New(logger, st, params, emitter,
				commitreveal.Chain{commitreveal.NewStructuralVerifier(), g16})

			coord := coordinator.New(logger, st, params, aggregator.New(logger), ldg, brk, rev, emitter)
			for _, addr := range cfg.Admins {
				coord.GrantRole(addr, types.RoleAdmin)
			}
			for _, addr := range cfg.Guardians {
				coord.GrantRole(addr, types.RoleGuardian)
			}
			for _, addr := range cfg.Oracles {
				coord.GrantRole(addr, types.RoleOracle)
			}
			now := time.Now()
			for _, addr := range cfg.Verifiers {
				if err := rev.AddVerifier(addr, now); err != nil {
					return err
				}
			}

			apiCfg, err := cfg.APIConfig()
			if err != nil {
				return err
			}
			srv, err := api.NewServer(logger, apiCfg, coord, ldg, rev)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Periodic inactivity sweep.
			go func() {
				ticker := time.NewTicker(time.Hour)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if slashed, err := ldg.SlashInactive(time.Now()); err != nil {
							logger.Error("inactivity sweep failed", "err", err)
						} else if len(slashed) > 0 {
							logger.Warn("inactive oracles slashed", "count", len(slashed))
						}
					}
				}
			}()

			logger.Info("engine starting", "version", Version, "data_dir", cfg.DataDir)
			return srv.Start(ctx)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

func tokenCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "token [address]",
		Short: "Issue an API token for an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			apiCfg, err := cfg.APIConfig()
			if err != nil {
				return err
			}
			if len(apiCfg.JWTSecret) == 0 {
				return fmt.Errorf("api.jwt_secret must be configured to issue tokens")
			}
			role, err := cmd.Flags().GetString("role")
			if err != nil {
				return err
			}
			ttl, err := cmd.Flags().GetDuration("ttl")
			if err != nil {
				return err
			}
			tok, err := api.IssueToken(apiCfg.JWTSecret, args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	c.Flags().String("role", string(types.RoleOracle), "role claim for the token")
	c.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return c
}
