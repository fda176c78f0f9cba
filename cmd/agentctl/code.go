// Copyright Contributors to the AgentRun project

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
	"github.com/agentrun-io/agentrun/internal/gateway"
)

func init() {
	rootCmd.AddCommand(codeCmd)
}

var codeCmd = &cobra.Command{
	Use:   "code task_id",
	Short: "Submit a code-implementation run",
	Long: `Submit a code-implementation run for a numbered task.

Repository URL, working directory and user identity default to the local
git context. Retry a finished task by resubmitting with a higher
--context-version.`,
	Args: cobra.ExactArgs(1),
	RunE: runCode,
}

var (
	codeService         string
	codeDocsRepoURL     string
	codeDocsProjectDir  string
	codeContextVersion  int32
	codeDocsBranch      string
	codeContinueSession bool
	codeOverwriteMemory bool
	codeEnv             string
	codeEnvFromSecrets  string
)

func init() {
	codeCmd.Flags().StringVar(&codeService, "service", "", "Target service name (required)")
	codeCmd.Flags().StringVar(&codeDocsRepoURL, "docs-repository-url", "",
		"Git URL of the documentation repository")
	codeCmd.Flags().StringVar(&codeDocsProjectDir, "docs-project-directory", "",
		"Project directory within the docs repository")
	codeCmd.Flags().Int32Var(&codeContextVersion, "context-version", 1,
		"Monotonic retry version, increment to retry a finished task")
	codeCmd.Flags().StringVar(&codeDocsBranch, "docs-branch", "main",
		"Documentation branch")
	codeCmd.Flags().BoolVar(&codeContinueSession, "continue-session", false,
		"Continue the previous agent session")
	codeCmd.Flags().BoolVar(&codeOverwriteMemory, "overwrite-memory", false,
		"Overwrite the agent memory document")
	codeCmd.Flags().StringVar(&codeEnv, "env", "",
		"Plain environment bindings, key=val,...")
	codeCmd.Flags().StringVar(&codeEnvFromSecrets, "env-from-secrets", "",
		"Secret-backed environment bindings, name:secret:key,...")
	codeCmd.MarkFlagRequired("service")
}

func runCode(cmd *cobra.Command, args []string) error {
	taskID, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid task_id %q: %w", args[0], err)
	}

	repositoryURL, workingDirectory, githubUser, err := resolveCommon()
	if err != nil {
		return err
	}

	env, err := parseEnv(codeEnv)
	if err != nil {
		return err
	}
	envFromSecrets, err := parseEnvFromSecrets(codeEnvFromSecrets)
	if err != nil {
		return err
	}

	return submit(gateway.ToolTask, &gateway.TaskArguments{
		TaskID:               int32(taskID),
		Service:              codeService,
		RepositoryURL:        repositoryURL,
		DocsRepositoryURL:    codeDocsRepoURL,
		DocsProjectDirectory: codeDocsProjectDir,
		WorkingDirectory:     workingDirectory,
		Model:                flagModel,
		GithubUser:           githubUser,
		ContextVersion:       codeContextVersion,
		DocsBranch:           codeDocsBranch,
		ContinueSession:      codeContinueSession,
		OverwriteMemory:      codeOverwriteMemory,
		Env:                  env,
		EnvFromSecrets:       envFromSecrets,
	})
}

// parseEnvFromSecrets parses "name:secret:key,..." triplets.
func parseEnvFromSecrets(s string) ([]agentrunv1alpha1.EnvFromSecret, error) {
	if s == "" {
		return nil, nil
	}
	var refs []agentrunv1alpha1.EnvFromSecret
	for _, triplet := range strings.Split(s, ",") {
		parts := strings.Split(triplet, ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("invalid secret binding %q, want name:secret:key", triplet)
		}
		refs = append(refs, agentrunv1alpha1.EnvFromSecret{
			Name:       parts[0],
			SecretName: parts[1],
			SecretKey:  parts[2],
		})
	}
	return refs, nil
}
