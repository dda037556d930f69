// ALFWorld white agent: serves the agent over A2A JSON-RPC, REST and
// WebSocket, and runs offline evaluations against a mock assessor.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "whiteagent",
	Short: "ALFWorld white agent",
	Long: `Reflection-augmented agent for ALFWorld household tasks.

Without a subcommand the agent server is started (same as "serve").`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if err := godotenv.Load(); err != nil {
			slog.Info("No .env file found, using environment variables")
		}
	},
	RunE: runServe,
}

func init() {
	addServeFlags(rootCmd)
	rootCmd.AddCommand(serveCmd, evaluateCmd, healthcheckCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
