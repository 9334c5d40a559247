package main

import (
	"context"
	"fmt"
	"honeyguard/internal/config"
	"honeyguard/internal/logging"
	"honeyguard/internal/registry"
	"honeyguard/internal/storage"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List blocked addresses, most recent first",
	RunE:  blockedCommand,
}

var importCmd = &cobra.Command{
	Use:   "import-registry <blocked_ips.json>",
	Short: "Import a legacy JSON block list into the registry",
	Long: `Reads a JSON object keyed by IP address, each value holding blocked_at,
risk_score, threat and rationale, and records every address that is not
already blocked. Existing records are never overwritten.`,
	Args: cobra.ExactArgs(1),
	RunE: importCommand,
}

func init() {
	rootCmd.AddCommand(blockedCmd)
	rootCmd.AddCommand(importCmd)
}

func openRegistry(ctx context.Context) (*registry.Registry, func(), error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(os.Stderr, cfg.Output.LogLevel, cfg.Output.LogFormat)

	db, err := storage.Open(ctx, cfg.Storage.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	reg, err := registry.Open(ctx, db, logger.With("component", "registry"))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return reg, func() { db.Close() }, nil
}

func blockedCommand(cmd *cobra.Command, args []string) error {
	reg, closeDB, err := openRegistry(cmd.Context())
	if err != nil {
		return err
	}
	defer closeDB()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tBLOCKED AT\tRISK\tTHREAT")
	for _, rec := range reg.List() {
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%s\n",
			rec.SourceIP, rec.BlockedAt.Format(time.RFC3339), rec.RiskScore, cell(rec.Threat))
	}
	return w.Flush()
}

func importCommand(cmd *cobra.Command, args []string) error {
	reg, closeDB, err := openRegistry(cmd.Context())
	if err != nil {
		return err
	}
	defer closeDB()

	n, err := reg.ImportJSON(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d addresses (%d blocked in total)\n", n, reg.Len())
	return nil
}

// cell sanitizes s for one tabwriter column; tabs and newlines would start a
// new cell or row
func cell(s string) string {
	return strings.NewReplacer("\t", " ", "\n", " ").Replace(sanitize(s))
}
