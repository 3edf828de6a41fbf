package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"meetcal/internal/config"
	appLog "meetcal/internal/log"
)

var (
	configPath string
	logLevel   string

	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "meetcal",
	Short: "Calendar availability and meeting-day recommendations",
	Long: `meetcal aggregates users' iCal feeds and manual blocked periods into
per-day availability, matches Korean date lists against it, and ranks
meeting days for a group.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "meetcal.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config if set)")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	appLog.Configure(cmd.ErrOrStderr(), cfg.LogFormat)
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	appConfig = cfg
	return nil
}
