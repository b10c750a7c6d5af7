package main

import (
	"log/slog"
	"os"

	"apsta/internal/buildinfo"
	"apsta/internal/logging"

	"github.com/spf13/cobra"
)

func main() {
	if err := logging.Configure(logging.LevelInfo, logging.FormatText); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		simulate   bool
	)

	cmd := &cobra.Command{
		Use:           "apstad",
		Short:         "Dual-role access point and station daemon",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), configPath, debug, simulate)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&configPath, "config", "", "Config file (default $APSTA_CONFIG or /etc/apsta/apsta.yaml)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "Run on the simulated radio instead of netlink")
	cmd.AddCommand(statusCmd(), journalCmd())
	return cmd
}
