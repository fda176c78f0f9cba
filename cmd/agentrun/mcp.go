// Copyright Contributors to the AgentRun project

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
	"github.com/agentrun-io/agentrun/internal/gateway"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the stdio submission gateway",
	Long: `Serve the submission gateway over standard streams: one JSON-RPC
request per stdin line, one response per stdout line. Tool calls are
translated into CodeRun and DocsRun resources.

Example:
  agentrun mcp --namespace=agent-platform`,
	RunE: runMCP,
}

var mcpNamespace string

func init() {
	mcpCmd.Flags().StringVar(&mcpNamespace, "namespace", "default",
		"Namespace run resources are created in")
}

func runMCP(cmd *cobra.Command, args []string) error {
	// Logs go to stderr; stdout belongs to the protocol.
	opts := zap.Options{
		Development: true,
		DestWriter:  os.Stderr,
	}
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	gwScheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(gwScheme))
	utilruntime.Must(agentrunv1alpha1.AddToScheme(gwScheme))

	restCfg, err := ctrl.GetConfig()
	if err != nil {
		return fmt.Errorf("getting kubeconfig: %w", err)
	}
	c, err := client.New(restCfg, client.Options{Scheme: gwScheme})
	if err != nil {
		return fmt.Errorf("creating kubernetes client: %w", err)
	}

	srv := gateway.NewServer(os.Stdin, os.Stdout, c, mcpNamespace, version, ctrl.Log.WithName("gateway"))
	return srv.Serve(cmd.Context())
}
