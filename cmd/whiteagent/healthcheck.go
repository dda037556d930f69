package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/healthz"
	"github.com/spf13/cobra"
)

var (
	healthcheckAddr    string
	healthcheckTimeout time.Duration
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Probe a running agent's gRPC health endpoint",
	Long: `Check that the gRPC health service of a running agent reports SERVING.
Exits non-zero otherwise. Intended for container health checks.`,
	RunE: runHealthcheck,
}

func init() {
	healthcheckCmd.Flags().StringVar(&healthcheckAddr, "addr", "", "health endpoint address (default 127.0.0.1:$GRPC_HEALTH_PORT)")
	healthcheckCmd.Flags().DurationVar(&healthcheckTimeout, "timeout", 3*time.Second, "probe timeout")
}

func runHealthcheck(cmd *cobra.Command, _ []string) error {
	addr := healthcheckAddr
	if addr == "" {
		port := os.Getenv("GRPC_HEALTH_PORT")
		if port == "" {
			return fmt.Errorf("--addr or GRPC_HEALTH_PORT is required")
		}
		addr = "127.0.0.1:" + port
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), healthcheckTimeout)
	defer cancel()

	if err := healthz.Probe(ctx, addr, healthz.ServiceName); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "SERVING")
	return nil
}
