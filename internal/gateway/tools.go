// Copyright Contributors to the AgentRun project

package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
)

const (
	// ToolDocs generates documentation for a service.
	ToolDocs = "docs"

	// ToolTask implements a code task against a service.
	ToolTask = "task"
)

// DocsArguments is the wire shape of a docs tool call. The submission client
// marshals this struct; the gateway unmarshals it back.
type DocsArguments struct {
	RepositoryURL    string `json:"repositoryUrl"`
	WorkingDirectory string `json:"workingDirectory"`
	SourceBranch     string `json:"sourceBranch,omitempty"`
	Model            string `json:"model,omitempty"`
	GithubUser       string `json:"githubUser,omitempty"`
	GithubApp        string `json:"githubApp,omitempty"`
	IncludeCodebase  bool   `json:"includeCodebase,omitempty"`
}

// TaskArguments is the wire shape of a code tool call.
type TaskArguments struct {
	TaskID               int32                            `json:"taskId"`
	Service              string                           `json:"service"`
	RepositoryURL        string                           `json:"repositoryUrl"`
	DocsRepositoryURL    string                           `json:"docsRepositoryUrl"`
	DocsProjectDirectory string                           `json:"docsProjectDirectory,omitempty"`
	WorkingDirectory     string                           `json:"workingDirectory,omitempty"`
	Model                string                           `json:"model,omitempty"`
	GithubUser           string                           `json:"githubUser,omitempty"`
	GithubApp            string                           `json:"githubApp,omitempty"`
	ContextVersion       int32                            `json:"contextVersion,omitempty"`
	DocsBranch           string                           `json:"docsBranch,omitempty"`
	ContinueSession      bool                             `json:"continueSession,omitempty"`
	OverwriteMemory      bool                             `json:"overwriteMemory,omitempty"`
	Env                  map[string]string                `json:"env,omitempty"`
	EnvFromSecrets       []agentrunv1alpha1.EnvFromSecret `json:"envFromSecrets,omitempty"`
}

// DocsRunSpec converts the arguments into the custom-resource spec.
func (a *DocsArguments) DocsRunSpec() agentrunv1alpha1.DocsRunSpec {
	sourceBranch := a.SourceBranch
	if sourceBranch == "" {
		sourceBranch = "main"
	}
	return agentrunv1alpha1.DocsRunSpec{
		RepositoryURL:    a.RepositoryURL,
		WorkingDirectory: a.WorkingDirectory,
		SourceBranch:     sourceBranch,
		Model:            a.Model,
		GithubUser:       a.GithubUser,
		GithubApp:        a.GithubApp,
		IncludeCodebase:  a.IncludeCodebase,
	}
}

// CodeRunSpec converts the arguments into the custom-resource spec, applying
// the same defaults the CRD declares.
func (a *TaskArguments) CodeRunSpec() agentrunv1alpha1.CodeRunSpec {
	contextVersion := a.ContextVersion
	if contextVersion < 1 {
		contextVersion = 1
	}
	docsBranch := a.DocsBranch
	if docsBranch == "" {
		docsBranch = "main"
	}
	workingDirectory := a.WorkingDirectory
	if workingDirectory == "" {
		workingDirectory = a.Service
	}
	return agentrunv1alpha1.CodeRunSpec{
		TaskID:               a.TaskID,
		Service:              a.Service,
		RepositoryURL:        a.RepositoryURL,
		DocsRepositoryURL:    a.DocsRepositoryURL,
		DocsProjectDirectory: a.DocsProjectDirectory,
		WorkingDirectory:     workingDirectory,
		Model:                a.Model,
		GithubUser:           a.GithubUser,
		GithubApp:            a.GithubApp,
		ContextVersion:       contextVersion,
		DocsBranch:           docsBranch,
		ContinueSession:      a.ContinueSession,
		OverwriteMemory:      a.OverwriteMemory,
		Env:                  a.Env,
		EnvFromSecrets:       a.EnvFromSecrets,
	}
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// callTool translates a tools/call into the creation of a run resource and
// returns a text content block naming the created object.
func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params callParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParamsf("decoding tool call: %v", err)
	}

	switch params.Name {
	case ToolDocs:
		var args DocsArguments
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return nil, invalidParamsf("decoding docs arguments: %v", err)
		}
		if args.RepositoryURL == "" || args.WorkingDirectory == "" {
			return nil, invalidParamsf("docs requires repositoryUrl and workingDirectory")
		}
		if args.GithubUser == "" && args.GithubApp == "" {
			return nil, invalidParamsf("docs requires githubUser or githubApp")
		}
		run := &agentrunv1alpha1.DocsRun{
			ObjectMeta: metav1.ObjectMeta{
				GenerateName: "docs-run-",
				Namespace:    s.namespace,
			},
			Spec: args.DocsRunSpec(),
		}
		if err := s.client.Create(ctx, run); err != nil {
			return nil, fmt.Errorf("creating DocsRun: %w", err)
		}
		s.log.Info("created docs run", "name", run.Name)
		return textResult(fmt.Sprintf("Created DocsRun %s in namespace %s", run.Name, run.Namespace)), nil

	case ToolTask:
		var args TaskArguments
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return nil, invalidParamsf("decoding task arguments: %v", err)
		}
		if args.Service == "" || args.RepositoryURL == "" {
			return nil, invalidParamsf("task requires service and repositoryUrl")
		}
		if args.GithubUser == "" && args.GithubApp == "" {
			return nil, invalidParamsf("task requires githubUser or githubApp")
		}
		run := &agentrunv1alpha1.CodeRun{
			ObjectMeta: metav1.ObjectMeta{
				GenerateName: fmt.Sprintf("code-run-%d-", args.TaskID),
				Namespace:    s.namespace,
			},
			Spec: args.CodeRunSpec(),
		}
		if err := s.client.Create(ctx, run); err != nil {
			return nil, fmt.Errorf("creating CodeRun: %w", err)
		}
		s.log.Info("created code run", "name", run.Name, "taskId", args.TaskID)
		return textResult(fmt.Sprintf("Created CodeRun %s in namespace %s", run.Name, run.Namespace)), nil

	default:
		return nil, invalidParamsf("unknown tool: %s", params.Name)
	}
}

func textResult(text string) map[string]interface{} {
	return map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
	}
}

// toolSchemas describes the two tools for tools/list.
func toolSchemas() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"name":        ToolDocs,
			"description": "Generate documentation for a service from its repository",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"repositoryUrl":    map[string]interface{}{"type": "string", "description": "Git URL of the source repository"},
					"workingDirectory": map[string]interface{}{"type": "string", "description": "Service directory within the repository"},
					"sourceBranch":     map[string]interface{}{"type": "string", "description": "Branch to generate documentation from"},
					"model":            map[string]interface{}{"type": "string", "description": "Model identifier override"},
					"githubUser":       map[string]interface{}{"type": "string", "description": "GitHub user identity for the agent"},
					"githubApp":        map[string]interface{}{"type": "string", "description": "GitHub App installation identity for the agent"},
					"includeCodebase":  map[string]interface{}{"type": "boolean", "description": "Include the full codebase in the agent context"},
				},
				"required": []string{"repositoryUrl", "workingDirectory"},
			},
		},
		{
			"name":        ToolTask,
			"description": "Implement a code task against a service repository",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"taskId":               map[string]interface{}{"type": "integer", "description": "Numeric task identifier"},
					"service":              map[string]interface{}{"type": "string", "description": "Target service name"},
					"repositoryUrl":        map[string]interface{}{"type": "string", "description": "Git URL of the source repository"},
					"docsRepositoryUrl":    map[string]interface{}{"type": "string", "description": "Git URL of the documentation repository"},
					"docsProjectDirectory": map[string]interface{}{"type": "string", "description": "Project directory within the docs repository"},
					"workingDirectory":     map[string]interface{}{"type": "string", "description": "Working directory, defaults to the service name"},
					"model":                map[string]interface{}{"type": "string", "description": "Model identifier override"},
					"githubUser":           map[string]interface{}{"type": "string", "description": "GitHub user identity for the agent"},
					"githubApp":            map[string]interface{}{"type": "string", "description": "GitHub App installation identity for the agent"},
					"contextVersion":       map[string]interface{}{"type": "integer", "description": "Monotonic retry version, starts at 1"},
					"docsBranch":           map[string]interface{}{"type": "string", "description": "Documentation branch, defaults to main"},
					"continueSession":      map[string]interface{}{"type": "boolean", "description": "Continue the previous agent session"},
					"overwriteMemory":      map[string]interface{}{"type": "boolean", "description": "Overwrite the agent memory document"},
					"env":                  map[string]interface{}{"type": "object", "description": "Plain environment bindings"},
					"envFromSecrets":       map[string]interface{}{"type": "array", "description": "Secret-backed environment bindings"},
				},
				"required": []string{"taskId", "service", "repositoryUrl"},
			},
		},
	}
}
