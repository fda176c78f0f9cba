// Copyright Contributors to the AgentRun project

package template

import (
	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
	"github.com/agentrun-io/agentrun/internal/config"
	"github.com/agentrun-io/agentrun/internal/naming"
)

// configContext exposes the configuration-derived values shared by both
// variants: secret coordinates, permission lists and telemetry settings.
func configContext(cfg *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"apiKeySecretName":    cfg.Secrets.APIKeySecretName,
		"apiKeySecretKey":     cfg.Secrets.APIKeySecretKey,
		"githubAppSecretName": cfg.Secrets.GithubAppSecretName,
		"permissions": map[string]interface{}{
			"allow": cfg.Permissions.Allow,
			"deny":  cfg.Permissions.Deny,
		},
		"telemetry": map[string]interface{}{
			"enabled":      cfg.Telemetry.Enabled,
			"otlpEndpoint": cfg.Telemetry.OTLPEndpoint,
			"otlpProtocol": cfg.Telemetry.OTLPProtocol,
			"logsEndpoint": cfg.Telemetry.LogsEndpoint,
			"logsProtocol": cfg.Telemetry.LogsProtocol,
		},
	}
}

// codeContext binds the rendering context for a code run. Derived values:
// workingDirectory defaults to the service name, continueSession is forced
// on once the run has been retried.
func (r *Renderer) codeContext(run *agentrunv1alpha1.CodeRun, cfg *config.Config) map[string]interface{} {
	retryCount := run.Status.RetryCount
	workingDir := run.Spec.WorkingDirectory
	if workingDir == "" {
		workingDir = run.Spec.Service
	}
	ctx := configContext(cfg)
	ctx["taskId"] = run.Spec.TaskID
	ctx["service"] = run.Spec.Service
	ctx["repositoryUrl"] = run.Spec.RepositoryURL
	ctx["docsRepositoryUrl"] = run.Spec.DocsRepositoryURL
	ctx["docsProjectDirectory"] = run.Spec.DocsProjectDirectory
	ctx["docsBranch"] = run.Spec.DocsBranch
	ctx["workingDirectory"] = workingDir
	ctx["contextVersion"] = naming.ContextVersion(run)
	ctx["model"] = run.Spec.Model
	ctx["githubUser"] = run.Spec.GithubUser
	ctx["githubApp"] = run.Spec.GithubApp
	ctx["overwriteMemory"] = run.Spec.OverwriteMemory
	ctx["retryCount"] = retryCount
	ctx["continueSession"] = run.Spec.ContinueSession || retryCount > 0
	return ctx
}

// docsContext binds the rendering context for a docs run, including the
// tool catalog for the prompt's nested render.
func (r *Renderer) docsContext(run *agentrunv1alpha1.DocsRun, cfg *config.Config) (map[string]interface{}, error) {
	catalog, err := r.loadToolCatalog()
	if err != nil {
		return nil, err
	}
	ctx := configContext(cfg)
	ctx["repositoryUrl"] = run.Spec.RepositoryURL
	ctx["workingDirectory"] = run.Spec.WorkingDirectory
	ctx["sourceBranch"] = run.Spec.SourceBranch
	ctx["model"] = run.Spec.Model
	ctx["githubUser"] = run.Spec.GithubUser
	ctx["githubApp"] = run.Spec.GithubApp
	ctx["includeCodebase"] = run.Spec.IncludeCodebase
	ctx["retryCount"] = run.Status.RetryCount
	ctx["toolCatalog"] = catalog
	return ctx, nil
}
