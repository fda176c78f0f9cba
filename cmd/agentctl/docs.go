// Copyright Contributors to the AgentRun project

package main

import (
	"github.com/spf13/cobra"

	"github.com/agentrun-io/agentrun/internal/gateway"
)

func init() {
	rootCmd.AddCommand(docsCmd)
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Submit a documentation-generation run",
	Long: `Submit a documentation-generation run for a service.

Repository URL, working directory and user identity default to the local
git context.`,
	Args: cobra.NoArgs,
	RunE: runDocs,
}

var (
	docsSourceBranch    string
	docsIncludeCodebase bool
)

func init() {
	docsCmd.Flags().StringVar(&docsSourceBranch, "source-branch", "main",
		"Branch to generate documentation from")
	docsCmd.Flags().BoolVar(&docsIncludeCodebase, "include-codebase", false,
		"Include the full codebase in the agent context")
}

func runDocs(cmd *cobra.Command, args []string) error {
	repositoryURL, workingDirectory, githubUser, err := resolveCommon()
	if err != nil {
		return err
	}

	return submit(gateway.ToolDocs, &gateway.DocsArguments{
		RepositoryURL:    repositoryURL,
		WorkingDirectory: workingDirectory,
		SourceBranch:     docsSourceBranch,
		Model:            flagModel,
		GithubUser:       githubUser,
		IncludeCodebase:  docsIncludeCodebase,
	})
}
