/**
 * @description
 * signupctl is the operator CLI for the signup store. It runs schema
 * migrations, prints stats and refreshes the cached staff stats against the
 * same backend the service uses, sharing its file locks.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/transfa/signup-service/internal/app"
	"github.com/transfa/signup-service/internal/config"
	"github.com/transfa/signup-service/internal/store"
)

var Version = "dev"

var (
	configDir    string
	outputFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "signupctl",
		Short:         "Operate the signup record store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory containing an optional .env file")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatJSON, "output format (json, yaml)")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(refreshStatsCmd())
	rootCmd.AddCommand(staffCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is what every subcommand needs: a logger and open stores.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	stores *store.Stores
}

func openEnv(ctx context.Context) (*env, error) {
	// A missing .env is fine; the environment may carry everything.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	// Logs go to stderr so stdout stays machine readable.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	stores, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, stores: stores}, nil
}

func (e *env) service() *app.Service {
	return app.NewService(e.stores.Signups, e.stores.Staff, nil, e.logger, app.Options{AdminUsername: e.cfg.AdminUsername})
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the signup and staff tables to the current schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.stores.Close()

			reports, err := e.stores.MigrateAll(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), outputFormat, reports)
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print global, ambassador and controller stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.stores.Close()

			report, err := e.service().Stats(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), outputFormat, report)
		},
	}
}

func refreshStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-stats",
		Short: "Write the current stats snapshot onto staff accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.stores.Close()

			updated, err := e.service().RefreshStaffStats(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), outputFormat, map[string]int{"updated": updated})
		},
	}
}

func staffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Manage staff accounts",
	}

	var username, password, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a controller or ambassador account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.stores.Close()

			acct, err := e.service().CreateStaff(ctx, app.StaffRequest{Username: username, Password: password, Role: role})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), outputFormat, acct)
		},
	}
	create.Flags().StringVar(&username, "username", "", "login name")
	create.Flags().StringVar(&password, "password", "", "initial password")
	create.Flags().StringVar(&role, "role", "", "controller or ambassador")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("password")
	_ = create.MarkFlagRequired("role")

	list := &cobra.Command{
		Use:   "list",
		Short: "List staff accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.stores.Close()

			accounts, err := e.service().ListStaff(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), outputFormat, accounts)
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}
