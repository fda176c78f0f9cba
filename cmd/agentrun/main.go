// Copyright Contributors to the AgentRun project

// agentrun is the unified binary for AgentRun, bundling the controller, the
// read-only API server and the submission gateway in a single image.
//
// Available commands:
//   - controller:  Start the Kubernetes controller
//   - server:      Start the read-only run API server
//   - mcp:         Start the stdio submission gateway
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "agentrun",
	Short: "AgentRun - Kubernetes-native orchestration for AI coding agents",
	Long: `AgentRun runs documentation-generation and code-implementation agents
as Kubernetes Jobs, driven by CodeRun and DocsRun custom resources.

This unified binary provides:
  controller     Start the Kubernetes controller
  server         Start the read-only run API server
  mcp            Start the stdio submission gateway

Examples:
  # Start the controller
  agentrun controller --metrics-bind-address=:8080

  # Start the run API server
  agentrun server --address=:8090

  # Serve the submission gateway over stdio
  agentrun mcp --namespace=agent-platform`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
