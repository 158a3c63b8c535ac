package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/developerYeasin/blood-donation-backend/internal/config"
	"github.com/developerYeasin/blood-donation-backend/internal/schema"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	// Global flags.
	flagEnvFile string
	flagJSON    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bloodlink",
		Short: "Realtime chat and notification service",
		Long: `bloodlink serves the blood donation platform's realtime chat rooms,
typing indicators and notification fan-out to web push and mobile devices.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "Dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output for scripting")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("bloodlink v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagEnvFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long: `Create every table on an empty database, or verify that an existing
database is at the current schema version.

This is safe to run multiple times.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := schema.OpenDB(cfg.DBDriver, cfg.DSN())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := schema.Migrate(ctx, db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			v, err := schema.GetSchemaVersion(ctx, db)
			if err != nil {
				return err
			}
			fmt.Printf("Schema at version %d (%s)\n", v, cfg.DBDriver)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show bloodlink version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagJSON {
				data, err := json.MarshalIndent(map[string]string{
					"version":    Version,
					"build":      Build,
					"go_version": goruntime.Version(),
				}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			fmt.Printf("bloodlink v%s (build: %s, %s)\n", Version, Build, goruntime.Version())
			return nil
		},
	}
}
