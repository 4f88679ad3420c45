package main

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/calebrios/promem/internal/config"
	srv "github.com/calebrios/promem/internal/server"
)

var rootCmd = &cobra.Command{
	Use:     "promem",
	Short:   "Persistent project memory for AI coding assistants",
	Long:    "promem stores architectural decisions, code patterns and project context in a per-project SQLite database and serves them over MCP. Every flag can also be set via environment variables with the PROMEM_ prefix (e.g. PROMEM_MAX_DECISIONS=500).",
	Version: srv.Version,
}

func init() {
	cobra.OnInitialize(initEnv)

	pf := rootCmd.PersistentFlags()
	pf.String("db", "", "Database path (default: ~/.promem/memories/<project>.db)")
	pf.Int("max-decisions", 0, "Decision log capacity (default 1000)")
	pf.Int("max-patterns", 0, "Pattern table capacity (default 100)")
	pf.Int("max-context-keys", 0, "Context table capacity (default 50)")
	pf.Int("pool-size", 0, "Database connection pool size (default 5)")
	pf.Duration("acquire-timeout", 0, "How long to wait for a pooled connection (default 2s)")
	pf.Int("rate-limit", 0, "Allowed operations per minute (default 100)")
	pf.Bool("persist-rate-limit", false, "Carry the rate limit window across restarts")
	pf.Bool("read-only", false, "Reject all write operations")
}

// initEnv loads .env files and wires the PROMEM_ environment prefix.
func initEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("promem")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig binds the command's flags into viper and builds the Config.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return config.Config{}, err
	}
	return config.FromViper(viper.GetViper()), nil
}
