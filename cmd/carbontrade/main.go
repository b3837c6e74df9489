// Command carbontrade runs the trading API and talks to a running one.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dennislee928/carbontrade/config"
)

var (
	version   = "0.1.0"
	commit    = ""
	buildDate = ""
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "carbontrade",
		Short: "Carbon credit trading platform",
		Long:  "carbontrade serves the trading API and provides client commands for accounts, the back office and emission estimates.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringSlice("env-file", nil, "env files to load before the environment (default .env)")
	cmd.PersistentFlags().String("log", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newEstimateCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newAdminCmd())
	return cmd
}

// loadConfig reads configuration and installs the default logger
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	files, _ := cmd.Flags().GetStringSlice("env-file")
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log"); level != "" {
		cfg.LogLevel = level
	}
	slog.SetDefault(cfg.NewLogger(os.Stderr))
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "carbontrade %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

func main() {
	root := newRootCmd()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
