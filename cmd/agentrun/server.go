// Copyright Contributors to the AgentRun project

package main

import (
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/agentrun-io/agentrun/internal/server"
)

func init() {
	rootCmd.AddCommand(serverCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the read-only run API server",
	Long: `Start the HTTP server that serves run resources read-only.

The server exposes:
  - REST API for CodeRun, DocsRun and ScheduledDocsRun status
  - Health and readiness endpoints

Example:
  agentrun server --address=:8090`,
	RunE: runServer,
}

var serverAddress string

func init() {
	serverCmd.Flags().StringVar(&serverAddress, "address", ":8090",
		"The address the server binds to (e.g., :8090 or 0.0.0.0:8090)")
}

func runServer(cmd *cobra.Command, args []string) error {
	opts := zap.Options{
		Development: true,
	}
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	srv, err := server.New(server.Options{Address: serverAddress})
	if err != nil {
		return err
	}
	return srv.Run(ctrl.SetupSignalHandler())
}
