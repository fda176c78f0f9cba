// Copyright Contributors to the AgentRun project

// Package template renders the task-file bundle mounted into agent Jobs.
//
// Template sources are .hbs files in a directory mounted into the controller.
// Logical template paths use "/" (e.g. "docs/container.sh"); on disk the
// separators are folded to underscores ("docs_container.sh.hbs"). Rendering
// is logic-less handlebars: missing fields render as empty, conditionals and
// a json helper are the only control flow.
package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/mailgun/raymond/v2"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
	"github.com/agentrun-io/agentrun/internal/config"
)

const (
	docsHookPrefix = "docs_hooks_"
	codeHookPrefix = "code_hooks_"
	hbsExt         = ".hbs"
)

// docsFiles and codeFiles map bundle keys to logical template paths.
// The key set is fixed per variant; hooks are discovered dynamically.
var docsFiles = []fileSpec{
	{key: "container.sh", logical: "docs/container.sh"},
	{key: "CLAUDE.md", logical: "docs/CLAUDE.md"},
	{key: "settings.json", logical: "docs/settings.json"},
	{key: "prompt.md", logical: "docs/prompt.md"},
}

var codeFiles = []fileSpec{
	{key: "container.sh", logical: "code/container.sh"},
	{key: "CLAUDE.md", logical: "code/CLAUDE.md"},
	{key: "settings.json", logical: "code/settings.json"},
	{key: "mcp.json", logical: "code/mcp.json"},
	{key: "coding-guidelines.md", logical: "code/coding-guidelines.md"},
	{key: "github-guidelines.md", logical: "code/github-guidelines.md"},
}

type fileSpec struct {
	key     string
	logical string
}

// Renderer loads templates from a directory and renders the bundle for a run.
type Renderer struct {
	dir         string
	catalogPath string
	log         logr.Logger
}

// NewRenderer builds a Renderer from the operator configuration.
func NewRenderer(cfg *config.Config, log logr.Logger) *Renderer {
	return &Renderer{
		dir:         cfg.TemplateDir,
		catalogPath: cfg.ToolCatalogPath,
		log:         log.WithName("template"),
	}
}

// diskName folds a logical template path to its on-disk file name.
func diskName(logical string) string {
	return strings.ReplaceAll(logical, "/", "_") + hbsExt
}

// load reads and parses one template. A missing file is a ConfigError
// carrying both the logical and the on-disk path.
func (r *Renderer) load(logical string) (*raymond.Template, error) {
	disk := filepath.Join(r.dir, diskName(logical))
	src, err := os.ReadFile(disk)
	if err != nil {
		return nil, config.NewConfigError(
			fmt.Sprintf("template %q not found (looked for %s)", logical, disk), err)
	}
	tpl, err := raymond.Parse(string(src))
	if err != nil {
		return nil, config.NewConfigError(
			fmt.Sprintf("template %q failed to parse", logical), err)
	}
	registerHelpers(tpl)
	return tpl, nil
}

// registerHelpers adds the json helper: the only non-trivial helper, used by
// the docs prompt to embed serialized tool-catalog parameter values.
func registerHelpers(tpl *raymond.Template) {
	tpl.RegisterHelper("json", func(v interface{}) raymond.SafeString {
		b, err := json.Marshal(v)
		if err != nil {
			return raymond.SafeString("null")
		}
		return raymond.SafeString(b)
	})
}

func (r *Renderer) render(logical string, ctx map[string]interface{}) (string, error) {
	tpl, err := r.load(logical)
	if err != nil {
		return "", err
	}
	out, err := tpl.Exec(ctx)
	if err != nil {
		return "", config.NewConfigError(
			fmt.Sprintf("template %q failed to render", logical), err)
	}
	return out, nil
}

// GenerateDocs renders the docs-variant bundle: container.sh, CLAUDE.md,
// settings.json, prompt.md, plus one hooks-<name> entry per docs hook
// template found in the directory.
func (r *Renderer) GenerateDocs(run *agentrunv1alpha1.DocsRun, cfg *config.Config) (map[string]string, error) {
	ctx, err := r.docsContext(run, cfg)
	if err != nil {
		return nil, err
	}
	files := make(map[string]string, len(docsFiles)+2)
	for _, f := range docsFiles {
		out, err := r.render(f.logical, ctx)
		if err != nil {
			return nil, err
		}
		files[f.key] = out
	}
	r.renderHooks(docsHookPrefix, ctx, files)
	return files, nil
}

// GenerateCode renders the code-variant bundle: container.sh, CLAUDE.md,
// settings.json, mcp.json, coding-guidelines.md, github-guidelines.md, plus
// discovered code hooks.
func (r *Renderer) GenerateCode(run *agentrunv1alpha1.CodeRun, cfg *config.Config) (map[string]string, error) {
	ctx := r.codeContext(run, cfg)
	files := make(map[string]string, len(codeFiles)+2)
	for _, f := range codeFiles {
		out, err := r.render(f.logical, ctx)
		if err != nil {
			return nil, err
		}
		files[f.key] = out
	}
	r.renderHooks(codeHookPrefix, ctx, files)
	return files, nil
}

// renderHooks scans the template directory for hook templates with the given
// prefix and renders each under key hooks-<name>. Hooks are optional:
// per-file errors are logged and the hook skipped.
func (r *Renderer) renderHooks(prefix string, ctx map[string]interface{}, files map[string]string) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		r.log.Error(err, "unable to scan template directory for hooks", "dir", r.dir)
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, hbsExt) {
			continue
		}
		hookName := strings.TrimSuffix(strings.TrimPrefix(name, prefix), hbsExt)
		src, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			r.log.Error(err, "unable to read hook template", "hook", hookName)
			continue
		}
		tpl, err := raymond.Parse(string(src))
		if err != nil {
			r.log.Error(err, "unable to parse hook template", "hook", hookName)
			continue
		}
		registerHelpers(tpl)
		out, err := tpl.Exec(ctx)
		if err != nil {
			r.log.Error(err, "unable to render hook template", "hook", hookName)
			continue
		}
		files["hooks-"+hookName] = out
	}
}

// loadToolCatalog reads the pre-rendered catalog of external tools for the
// docs prompt. A missing catalog file yields an empty structure.
func (r *Renderer) loadToolCatalog() (map[string]interface{}, error) {
	empty := map[string]interface{}{"tools": []interface{}{}}
	if r.catalogPath == "" {
		return empty, nil
	}
	data, err := os.ReadFile(r.catalogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return empty, nil
		}
		return nil, config.NewConfigError(
			fmt.Sprintf("reading tool catalog %s", r.catalogPath), err)
	}
	var catalog map[string]interface{}
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, config.NewConfigError(
			fmt.Sprintf("tool catalog %s is not valid JSON", r.catalogPath), err)
	}
	if _, ok := catalog["tools"]; !ok {
		catalog["tools"] = []interface{}{}
	}
	return catalog, nil
}
