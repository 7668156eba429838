// Command chatforge is the ChatForge backend binary: a `serve`
// subcommand that runs the HTTP API and a `migrate-check` subcommand
// that applies pending migrations and exits, in the
// buildRootCmd/buildServeCmd cobra idiom of haasonsaas-nexus's
// cmd/nexus/main.go.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "chatforge",
		Short:        "ChatForge backend: authenticated multi-tenant OpenAI-compatible chat proxy",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults, then CHATFORGE_* env vars, apply regardless)")

	rootCmd.AddCommand(
		buildServeCmd(&configPath),
		buildMigrateCheckCmd(&configPath),
	)
	return rootCmd
}
