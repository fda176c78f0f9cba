// Copyright Contributors to the AgentRun project

// agentctl submits documentation and code runs to the AgentRun gateway.
// Repository URL, working directory and user identity default to the local
// git context when not given explicitly.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "Submit AgentRun documentation and code runs",
	Long: `agentctl builds a run request from flags and the local git context,
then submits it through the AgentRun gateway.

Examples:
  # Generate docs for the service in the current directory
  agentctl docs

  # Implement task 42 against svc-billing
  agentctl code 42 --service=svc-billing`,
}

// Flags shared by both subcommands.
var (
	flagWorkingDirectory string
	flagModel            string
	flagGithubUser       string
	flagRepositoryURL    string
	flagGatewayCommand   string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagWorkingDirectory, "working-directory", "",
		"Working directory within the repository (default: current directory relative to the repository root)")
	pf.StringVar(&flagModel, "model", "", "Model identifier override")
	pf.StringVar(&flagGithubUser, "github-user", "",
		"GitHub user identity (default: git config user.name)")
	pf.StringVar(&flagRepositoryURL, "repository-url", "",
		"Repository URL (default: the origin remote of the current repository)")
	pf.StringVar(&flagGatewayCommand, "gateway-command", "agentrun mcp",
		"Command spawned to reach the submission gateway")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
