package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"

	"github.com/calebrios/promem/internal/memory"
	"github.com/calebrios/promem/internal/memtools"
	srv "github.com/calebrios/promem/internal/server"
)

// The offline commands issue the same operations as MCP clients,
// through the same service, against the same database file.

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump all project memory as JSON to stdout",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(svc *memtools.Service) error {
			data, err := svc.Store.Export()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace all project memory with an exported snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(svc *memtools.Service) error {
			if err := svc.CheckWritable("import_memory"); err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var data memory.ExportData
			if err := json.Unmarshal(raw, &data); err != nil {
				return fmt.Errorf("snapshot is not valid JSON: %w", err)
			}
			res, err := svc.Store.Import(data)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d decisions, %d patterns, %d context keys (%d skipped).\n",
				res.Decisions, res.Patterns, res.Context, res.Skipped)
			return nil
		})
	},
}

var statsMetricsFlag bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory usage against capacity limits",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(svc *memtools.Service) error {
			st, err := svc.Store.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("Decisions:    %d / %d\n", st.Decisions, st.MaxDecisions)
			fmt.Printf("Patterns:     %d / %d\n", st.Patterns, st.MaxPatterns)
			fmt.Printf("Context keys: %d / %d\n", st.ContextKeys, st.MaxContextKeys)
			fmt.Printf("Database:     %s (%d bytes)\n", st.DBPath, st.DBSizeBytes)
			if statsMetricsFlag {
				fmt.Println()
				metrics.WritePrometheus(os.Stdout, true)
			}
			return nil
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run a health check against the project database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(svc *memtools.Service) error {
			r := svc.Store.HealthCheck()
			out, err := json.MarshalIndent(r, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if r.Status == memory.StatusUnhealthy {
				return fmt.Errorf("store is unhealthy")
			}
			return nil
		})
	},
}

var purgeConfirmFlag string

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Permanently delete ALL project memory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if purgeConfirmFlag != memtools.PurgeConfirmToken {
			return fmt.Errorf("refusing to purge: pass --confirm %s", memtools.PurgeConfirmToken)
		}
		return withService(cmd, func(svc *memtools.Service) error {
			if err := svc.CheckWritable("purge_memory"); err != nil {
				return err
			}
			res, err := svc.Store.Purge()
			if err != nil {
				return err
			}
			fmt.Printf("Purged %d decisions, %d patterns, %d context keys.\n",
				res.Decisions, res.Patterns, res.Context)
			return nil
		})
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsMetricsFlag, "metrics", false, "Append Prometheus metrics exposition")
	purgeCmd.Flags().StringVar(&purgeConfirmFlag, "confirm", "", "Must be exactly "+memtools.PurgeConfirmToken)
	rootCmd.AddCommand(exportCmd, importCmd, statsCmd, healthCmd, purgeCmd)
}

// withService builds the service for an offline command and tears it
// down when fn returns.
func withService(cmd *cobra.Command, fn func(*memtools.Service) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, cleanup, err := srv.NewService(cfg)
	if err != nil {
		cleanup()
		return err
	}
	defer cleanup()
	return fn(svc)
}
