// Copyright Contributors to the AgentRun project

// Package naming derives deterministic, length-bounded, cluster-legal names
// and label values for every object the controller manages. Everything here
// is pure: the same request identity always yields the same strings, across
// process restarts.
package naming

import (
	"fmt"
	"strings"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
)

const (
	// AppName is the controller identity carried in the "app" label.
	AppName = "agentrun"

	// ComponentDocs and ComponentCode are the values of the "component" label.
	ComponentDocs = "docs-generator"
	ComponentCode = "code-runner"

	// maxNameLength is the DNS-1123 label limit enforced on Job names.
	maxNameLength = 63
)

// uid8 returns the first eight characters of a Kubernetes UID.
func uid8(uid string) string {
	if len(uid) > 8 {
		return uid[:8]
	}
	return uid
}

// sanitizeName makes a derived name cluster-legal: underscores and dots
// become dashes, everything is lowercased.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ReplaceAll(name, ".", "-")
	return strings.ToLower(name)
}

// truncateWithSuffix bounds prefix+suffix to maxNameLength, cutting the
// prefix and preserving the deterministic suffix intact.
func truncateWithSuffix(prefix, suffix string) string {
	if len(prefix)+len(suffix) <= maxNameLength {
		return prefix + suffix
	}
	keep := maxNameLength - len(suffix)
	if keep < 0 {
		keep = 0
	}
	return prefix[:keep] + suffix
}

// CodeConfigMapName returns the task-file bundle name for a code run:
// code-<ns>-<rn>-<uid8>-<svc>-t<tid>-v<v>-files. ConfigMap names are not
// bounded at 63 characters, so no truncation is applied.
func CodeConfigMapName(run *agentrunv1alpha1.CodeRun) string {
	return sanitizeName(fmt.Sprintf("code-%s-%s-%s-%s-t%d-v%d-files",
		run.Namespace, run.Name, uid8(string(run.UID)),
		run.Spec.Service, run.Spec.TaskID, ContextVersion(run)))
}

// DocsConfigMapName returns the task-file bundle name for a docs run:
// docs-<ns>-<rn>-<uid8>-v<v>-files.
func DocsConfigMapName(run *agentrunv1alpha1.DocsRun) string {
	return sanitizeName(fmt.Sprintf("docs-%s-%s-%s-v1-files",
		run.Namespace, run.Name, uid8(string(run.UID))))
}

// CodeJobName returns code-<ns>-<rn>-<uid8>-t<tid>-v<v>, truncating the
// prefix when the result would exceed 63 characters. The deterministic
// suffix -<uid8>-t<tid>-v<v> always survives truncation.
func CodeJobName(run *agentrunv1alpha1.CodeRun) string {
	prefix := sanitizeName(fmt.Sprintf("code-%s-%s", run.Namespace, run.Name))
	suffix := sanitizeName(fmt.Sprintf("-%s-t%d-v%d",
		uid8(string(run.UID)), run.Spec.TaskID, ContextVersion(run)))
	return truncateWithSuffix(prefix, suffix)
}

// DocsJobName returns docs-<ns>-<rn>-<uid8> with the same truncation rule.
func DocsJobName(run *agentrunv1alpha1.DocsRun) string {
	prefix := sanitizeName(fmt.Sprintf("docs-%s-%s", run.Namespace, run.Name))
	suffix := sanitizeName("-" + uid8(string(run.UID)))
	return truncateWithSuffix(prefix, suffix)
}

// WorkspaceName returns the per-service workspace claim name. It carries no
// UID: the claim is shared across every code run of the service so an agent
// can resume work across retries. The service value is already constrained
// to [a-z0-9-]+ by CRD validation, so no transform is applied.
func WorkspaceName(service string) string {
	return "workspace-" + service
}

// ContextVersion returns the effective context version of a code run,
// defaulting to 1 when unset.
func ContextVersion(run *agentrunv1alpha1.CodeRun) int32 {
	if run.Spec.ContextVersion < 1 {
		return 1
	}
	return run.Spec.ContextVersion
}

func isAlphaNum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// SanitizeLabel converts an arbitrary string into a legal label value:
// lowercase, spaces and underscores folded to dashes, any other
// non-permitted character dropped, trimmed to start and end on an
// alphanumeric, and bounded at 63 characters. Empty input yields "".
func SanitizeLabel(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r == ' ' || r == '_':
			b.WriteByte('-')
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '.':
			b.WriteRune(r)
		}
	}
	out := trimNonAlphaNum(b.String())
	if len(out) > maxNameLength {
		out = trimNonAlphaNum(out[:maxNameLength])
	}
	return out
}

func trimNonAlphaNum(s string) string {
	start := 0
	for start < len(s) && !isAlphaNum(s[start]) {
		start++
	}
	end := len(s)
	for end > start && !isAlphaNum(s[end-1]) {
		end--
	}
	return s[start:end]
}

// CodeRunLabels returns the standard label set stamped on every object
// managed for a code run, mirrored onto the Job's pod template.
func CodeRunLabels(run *agentrunv1alpha1.CodeRun) map[string]string {
	return map[string]string{
		"app":             AppName,
		"component":       ComponentCode,
		"task-type":       "code",
		"github-user":     SanitizeLabel(Identity(run.Spec.GithubUser, run.Spec.GithubApp)),
		"context-version": fmt.Sprintf("%d", ContextVersion(run)),
		"service":         SanitizeLabel(run.Spec.Service),
		"task-id":         fmt.Sprintf("%d", run.Spec.TaskID),
	}
}

// DocsRunLabels returns the standard label set for a docs run. The working
// directory doubles as the service label for docs runs.
func DocsRunLabels(run *agentrunv1alpha1.DocsRun) map[string]string {
	return map[string]string{
		"app":             AppName,
		"component":       ComponentDocs,
		"task-type":       "docs",
		"github-user":     SanitizeLabel(Identity(run.Spec.GithubUser, run.Spec.GithubApp)),
		"context-version": "1",
		"service":         SanitizeLabel(run.Spec.WorkingDirectory),
	}
}

// SweepSelector returns the label subset used by cleanup sweeps to find
// sibling objects of the same identity-service pair.
func SweepSelector(labels map[string]string) map[string]string {
	return map[string]string{
		"app":         labels["app"],
		"component":   labels["component"],
		"github-user": labels["github-user"],
		"service":     labels["service"],
	}
}

// Identity returns the effective agent identity: the user login when set,
// otherwise the app installation.
func Identity(githubUser, githubApp string) string {
	if githubUser != "" {
		return githubUser
	}
	return githubApp
}
