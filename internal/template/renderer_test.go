// Copyright Contributors to the AgentRun project

//go:build !integration

package template

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
	"github.com/agentrun-io/agentrun/internal/config"
)

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.Agent.Image = config.ImageConfig{Repository: "ghcr.io/example/agent", Tag: "v1"}
	cfg.TemplateDir = dir
	cfg.ToolCatalogPath = ""
	cfg.Permissions.Allow = []string{"Bash(git:*)"}
	cfg.Permissions.Deny = []string{"Bash(rm:*)"}
	return cfg
}

func writeTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeDocsSet(t *testing.T, dir string) {
	t.Helper()
	writeTemplate(t, dir, "docs_container.sh.hbs", "#!/bin/bash\necho {{workingDirectory}} on {{sourceBranch}}\n")
	writeTemplate(t, dir, "docs_CLAUDE.md.hbs", "# Docs for {{workingDirectory}}\n")
	writeTemplate(t, dir, "docs_settings.json.hbs", `{"allow": {{json permissions.allow}} }`)
	writeTemplate(t, dir, "docs_prompt.md.hbs", "Document {{workingDirectory}}.\n{{json toolCatalog}}\n")
}

func writeCodeSet(t *testing.T, dir string) {
	t.Helper()
	writeTemplate(t, dir, "code_container.sh.hbs", "#!/bin/bash\necho task {{taskId}} v{{contextVersion}}\n")
	writeTemplate(t, dir, "code_CLAUDE.md.hbs", "# Task {{taskId}} for {{service}}\n")
	writeTemplate(t, dir, "code_settings.json.hbs", `{"deny": {{json permissions.deny}} }`)
	writeTemplate(t, dir, "code_mcp.json.hbs", `{"docsRepo": "{{docsRepositoryUrl}}"}`)
	writeTemplate(t, dir, "code_coding-guidelines.md.hbs", "Guidelines for {{service}}\n")
	writeTemplate(t, dir, "code_github-guidelines.md.hbs", "Branch task-{{taskId}}-v{{contextVersion}}\n")
}

func newDocsRun() *agentrunv1alpha1.DocsRun {
	return &agentrunv1alpha1.DocsRun{
		ObjectMeta: metav1.ObjectMeta{Name: "r1", Namespace: "ns", UID: types.UID("uid")},
		Spec: agentrunv1alpha1.DocsRunSpec{
			RepositoryURL:    "https://example.test/org/r.git",
			WorkingDirectory: "svc-a",
			SourceBranch:     "main",
			GithubUser:       "u1",
		},
	}
}

func newCodeRun() *agentrunv1alpha1.CodeRun {
	return &agentrunv1alpha1.CodeRun{
		ObjectMeta: metav1.ObjectMeta{Name: "r2", Namespace: "ns", UID: types.UID("uid")},
		Spec: agentrunv1alpha1.CodeRunSpec{
			TaskID:            7,
			Service:           "svc-b",
			RepositoryURL:     "https://example.test/org/r.git",
			DocsRepositoryURL: "https://example.test/org/docs.git",
			GithubUser:        "u2",
			ContextVersion:    1,
		},
	}
}

func TestDiskName(t *testing.T) {
	if got, want := diskName("docs/container.sh"), "docs_container.sh.hbs"; got != want {
		t.Errorf("diskName = %q, want %q", got, want)
	}
	if got, want := diskName("code/mcp.json"), "code_mcp.json.hbs"; got != want {
		t.Errorf("diskName = %q, want %q", got, want)
	}
}

func TestGenerateDocs(t *testing.T) {
	dir := t.TempDir()
	writeDocsSet(t, dir)
	cfg := testConfig(dir)
	r := NewRenderer(cfg, logr.Discard())

	files, err := r.GenerateDocs(newDocsRun(), cfg)
	if err != nil {
		t.Fatalf("GenerateDocs: %v", err)
	}

	for _, key := range []string{"container.sh", "CLAUDE.md", "settings.json", "prompt.md"} {
		if _, ok := files[key]; !ok {
			t.Errorf("bundle missing key %q", key)
		}
	}
	if !strings.Contains(files["container.sh"], "svc-a on main") {
		t.Errorf("container.sh not rendered: %q", files["container.sh"])
	}
	if !strings.Contains(files["settings.json"], `["Bash(git:*)"]`) {
		t.Errorf("json helper output missing: %q", files["settings.json"])
	}
	// No catalog file configured: the prompt still renders with empty tools.
	if !strings.Contains(files["prompt.md"], `"tools":[]`) {
		t.Errorf("empty tool catalog not rendered: %q", files["prompt.md"])
	}
}

func TestGenerateCode(t *testing.T) {
	dir := t.TempDir()
	writeCodeSet(t, dir)
	cfg := testConfig(dir)
	r := NewRenderer(cfg, logr.Discard())

	files, err := r.GenerateCode(newCodeRun(), cfg)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	for _, key := range []string{"container.sh", "CLAUDE.md", "settings.json", "mcp.json", "coding-guidelines.md", "github-guidelines.md"} {
		if _, ok := files[key]; !ok {
			t.Errorf("bundle missing key %q", key)
		}
	}
	if !strings.Contains(files["container.sh"], "task 7 v1") {
		t.Errorf("container.sh not rendered: %q", files["container.sh"])
	}
	if !strings.Contains(files["mcp.json"], "https://example.test/org/docs.git") {
		t.Errorf("mcp.json not rendered: %q", files["mcp.json"])
	}
}

func TestMissingTemplateIsConfigError(t *testing.T) {
	dir := t.TempDir() // empty: no templates at all
	cfg := testConfig(dir)
	r := NewRenderer(cfg, logr.Discard())

	_, err := r.GenerateDocs(newDocsRun(), cfg)
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("GenerateDocs with no templates = %v, want ConfigError", err)
	}
	if !strings.Contains(err.Error(), "docs/container.sh") {
		t.Errorf("error does not name the missing template: %v", err)
	}
}

func TestHooksDiscoveredAndBadHooksSkipped(t *testing.T) {
	dir := t.TempDir()
	writeDocsSet(t, dir)
	writeTemplate(t, dir, "docs_hooks_stop.sh.hbs", "echo stop {{workingDirectory}}\n")
	writeTemplate(t, dir, "docs_hooks_broken.sh.hbs", "{{#if}malformed\n")
	// Code hooks must not leak into the docs bundle.
	writeTemplate(t, dir, "code_hooks_stop.sh.hbs", "echo code stop\n")
	cfg := testConfig(dir)
	r := NewRenderer(cfg, logr.Discard())

	files, err := r.GenerateDocs(newDocsRun(), cfg)
	if err != nil {
		t.Fatalf("GenerateDocs: %v", err)
	}

	if got, ok := files["hooks-stop.sh"]; !ok || !strings.Contains(got, "stop svc-a") {
		t.Errorf("hook not rendered: %q (present=%v)", got, ok)
	}
	if _, ok := files["hooks-broken.sh"]; ok {
		t.Error("broken hook should be skipped, not included")
	}
	for key := range files {
		if strings.Contains(key, "code") {
			t.Errorf("code hook leaked into docs bundle: %q", key)
		}
	}
}

func TestToolCatalog(t *testing.T) {
	dir := t.TempDir()
	writeDocsSet(t, dir)
	cfg := testConfig(dir)

	catalogPath := filepath.Join(dir, "tool-catalog.json")
	if err := os.WriteFile(catalogPath, []byte(`{"tools":[{"name":"search","params":{"q":"string"}}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.ToolCatalogPath = catalogPath
	r := NewRenderer(cfg, logr.Discard())

	files, err := r.GenerateDocs(newDocsRun(), cfg)
	if err != nil {
		t.Fatalf("GenerateDocs: %v", err)
	}
	if !strings.Contains(files["prompt.md"], `"name":"search"`) {
		t.Errorf("tool catalog not embedded: %q", files["prompt.md"])
	}
}

func TestToolCatalogInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeDocsSet(t, dir)
	cfg := testConfig(dir)

	catalogPath := filepath.Join(dir, "tool-catalog.json")
	if err := os.WriteFile(catalogPath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.ToolCatalogPath = catalogPath
	r := NewRenderer(cfg, logr.Discard())

	_, err := r.GenerateDocs(newDocsRun(), cfg)
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("invalid catalog = %v, want ConfigError", err)
	}
}

func TestCodeContextDerivedValues(t *testing.T) {
	cfg := testConfig(t.TempDir())
	r := NewRenderer(cfg, logr.Discard())

	run := newCodeRun()
	ctx := r.codeContext(run, cfg)
	if ctx["workingDirectory"] != "svc-b" {
		t.Errorf("workingDirectory should default to service, got %v", ctx["workingDirectory"])
	}
	if ctx["continueSession"] != false {
		t.Errorf("continueSession = %v, want false", ctx["continueSession"])
	}

	// A retried run continues its session even without the flag.
	run.Status.RetryCount = 1
	ctx = r.codeContext(run, cfg)
	if ctx["continueSession"] != true {
		t.Errorf("continueSession after retry = %v, want true", ctx["continueSession"])
	}

	run.Spec.WorkingDirectory = "sub/dir"
	ctx = r.codeContext(run, cfg)
	if ctx["workingDirectory"] != "sub/dir" {
		t.Errorf("explicit workingDirectory overridden: %v", ctx["workingDirectory"])
	}
}
