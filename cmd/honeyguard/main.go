package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "honeyguard",
	Short: "honeyguard - LLM-assisted honeypot session triage and IP blocking",
	Long: `honeyguard follows a honeypot's command log, groups commands per attacker
session, asks an LLM classifier how dangerous each session is and blocks the
source address once the risk score reaches the configured threshold.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/honeyguard/config.yml", "Path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// sanitize strips control characters (except newline and tab) to prevent
// terminal injection from attacker-controlled text
func sanitize(s string) string {
	var builder strings.Builder
	for _, r := range s {
		if (r >= 32 && r != 127) || r == '\n' || r == '\t' {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}
