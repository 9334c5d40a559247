package main

import (
	"honeyguard/internal/action"
	"honeyguard/internal/config"
	"honeyguard/internal/logging"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var executorCmd = &cobra.Command{
	Use:   "executor",
	Short: "Start the privileged executor (requires root)",
	Long: `The executor owns the firewall. It listens on a Unix socket for ban
requests from "honeyguard run" and applies them with iptables, so the
analyzer itself never needs root.`,
	RunE: executorCommand,
}

func init() {
	rootCmd.AddCommand(executorCmd)
}

func executorCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.Output.LogLevel, cfg.Output.LogFormat).With("component", "executor")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return action.NewExecutor(cfg.Action.ExecutorSocket, logger).Serve(ctx)
}
