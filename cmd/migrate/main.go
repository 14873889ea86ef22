package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ignite/engagement-webhooks/internal/app"
	"github.com/ignite/engagement-webhooks/internal/config"
	"github.com/ignite/engagement-webhooks/internal/db"
)

var (
	// configPath is the YAML config file; DATABASE_URL overrides it.
	configPath string

	// force allows migrating a database newer than this binary.
	force bool
)

var rootCmd = &cobra.Command{
	Use:          "migrate",
	Short:        "Manage the webhook service database schema",
	SilenceUsage: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConfig(func(cfg *config.Config) error {
			return applyTarget(cmd.Context(), cfg, db.TargetLatest)
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all migrations (drops every table)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConfig(func(cfg *config.Config) error {
			return applyTarget(cmd.Context(), cfg, db.TargetDown)
		})
	},
}

var gotoCmd = &cobra.Command{
	Use:   "goto VERSION",
	Short: "Migrate up or down to a specific version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return withConfig(func(cfg *config.Config) error {
			return applyTarget(cmd.Context(), cfg, db.TargetVersion(uint(v)))
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConfig(func(cfg *config.Config) error {
			pool, err := app.OpenDB(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			v, dirty, err := db.Version(pool)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t latest=%d\n", v, dirty, db.LatestMigrationVersion)
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml",
		"Path to the YAML config file")
	downCmd.Flags().BoolVar(&force, "force", false, "Allow reverting a database newer than this binary")
	gotoCmd.Flags().BoolVar(&force, "force", false, "Allow migrating a database newer than this binary")

	rootCmd.AddCommand(upCmd, downCmd, gotoCmd, versionCmd)
}

func withConfig(fn func(cfg *config.Config) error) error {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app.ConfigureLogger(cfg.Log)
	return fn(cfg)
}

func applyTarget(ctx context.Context, cfg *config.Config, target db.MigrationTarget) error {
	pool, err := app.OpenDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	return db.Apply(pool, target, force)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
