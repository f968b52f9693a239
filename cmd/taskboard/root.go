package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard/internal/config"
)

var (
	cfgFile string
	rootCmd *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "taskboard",
		Short: "Taskboard - collaborative project and task boards",
		Long: `Taskboard serves projects and their task boards over a JSON API with live
updates, backed by SQLite, Azure Tables or memory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to a YAML config file (default ./taskboard.yaml)")
	flags.String("store", config.DriverSQLite, "Document store driver: sqlite, aztables or memory")
	flags.String("db", "data/taskboard.db", "Path to sqlite database file")
	flags.String("log-level", "info", "Log level")
}

// Execute runs the root command.
func Execute(version string) error {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(orphansCmd)

	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// loadConfig resolves the configuration for cmd, with its flags taking
// precedence over file and environment values.
func loadConfig(cmd *cobra.Command) (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.Log.NewLogger(), nil
}
