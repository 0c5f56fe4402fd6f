// Package cmd wires the clawbridge CLI commands together.
package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "clawbridge",
	Short: "Bridge group chats to an agent backend",
	Long: `Clawbridge connects group-chat channels to a conversational agent backend,
letting shared-object responder plugins answer before the agent does.

Examples:
  clawbridge gateway
  clawbridge chat "what's the weather like?"
  clawbridge responders`,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	loadEnvFiles()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnvFiles pulls in local .env files without overriding
// variables already present in the environment.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}
