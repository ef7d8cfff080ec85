package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/cmd/cmdutil"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/cmd/users"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/config"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/logging"
)

var (
	cfg     *config.Config
	logger  *slog.Logger
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "navigator",
	Short: "Identity and session service for the BVG order navigator",
	Long: `navigator resolves who is using the order dashboard and what role they hold.
It trusts the edge proxy identity when deployed behind it, falls back to a local
credential table on development hosts, and keeps the user directory in sync.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := readConfigFile(); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger = logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
		slog.SetDefault(logger)
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cmd.SetContext(cmdutil.Inject(ctx, &cmdutil.Globals{Config: cfg, Logger: logger}))
		return nil
	},
}

// readConfigFile loads --config when given.
func readConfigFile() error {
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
	}
	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to a YAML config file")
	flags.String("db-url", "", "User directory DSN, sqlite or postgres (env: NAVIGATOR_DATABASE_URL)")
	flags.String("public-url", "", "URL the dashboard is served from (env: NAVIGATOR_PUBLIC_URL)")
	flags.String("hostname", "", "Hostname used for mode selection (env: NAVIGATOR_HOSTNAME)")
	flags.Bool("force-local", false, "Force local login mode (env: NAVIGATOR_FORCE_LOCAL)")
	flags.String("state-dir", "", "Directory for the persisted local session (env: NAVIGATOR_STATE_DIR)")
	flags.String("log-level", "", "Log level: debug, info, warn, error (env: NAVIGATOR_LOG_LEVEL)")

	bind := map[string]string{
		"database_url": "db-url",
		"public_url":   "public-url",
		"hostname":     "hostname",
		"force_local":  "force-local",
		"state_dir":    "state-dir",
		"log.level":    "log-level",
	}
	for key, flag := range bind {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(users.UsersCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
