// Copyright Contributors to the AgentRun project

//go:build !integration

package controller

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
	"github.com/agentrun-io/agentrun/internal/config"
	"github.com/agentrun-io/agentrun/internal/template"
)

func testScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	s := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(s); err != nil {
		t.Fatal(err)
	}
	if err := agentrunv1alpha1.AddToScheme(s); err != nil {
		t.Fatal(err)
	}
	return s
}

func newFakeClient(t *testing.T, objs ...client.Object) client.Client {
	t.Helper()
	return fake.NewClientBuilder().
		WithScheme(testScheme(t)).
		WithStatusSubresource(
			&agentrunv1alpha1.CodeRun{},
			&agentrunv1alpha1.DocsRun{},
			&agentrunv1alpha1.ScheduledDocsRun{},
		).
		WithObjects(objs...).
		Build()
}

func writeTestTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeDocsTemplates(t *testing.T, dir string) {
	t.Helper()
	writeTestTemplate(t, dir, "docs_container.sh.hbs", "#!/bin/bash\necho {{workingDirectory}}\n")
	writeTestTemplate(t, dir, "docs_CLAUDE.md.hbs", "# {{workingDirectory}}\n")
	writeTestTemplate(t, dir, "docs_settings.json.hbs", "{}")
	writeTestTemplate(t, dir, "docs_prompt.md.hbs", "Document {{workingDirectory}}\n")
}

func writeCodeTemplates(t *testing.T, dir string) {
	t.Helper()
	writeTestTemplate(t, dir, "code_container.sh.hbs", "#!/bin/bash\necho {{taskId}}\n")
	writeTestTemplate(t, dir, "code_CLAUDE.md.hbs", "# {{service}}\n")
	writeTestTemplate(t, dir, "code_settings.json.hbs", "{}")
	writeTestTemplate(t, dir, "code_mcp.json.hbs", "{}")
	writeTestTemplate(t, dir, "code_coding-guidelines.md.hbs", "g\n")
	writeTestTemplate(t, dir, "code_github-guidelines.md.hbs", "g\n")
}

func reconcilerConfig(t *testing.T, templateDir string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Agent.Image = config.ImageConfig{Repository: "ghcr.io/example/agent", Tag: "v1"}
	cfg.TemplateDir = templateDir
	cfg.ToolCatalogPath = ""
	cfg.Cleanup = config.CleanupConfig{Enabled: true, CompletedJobDelayMinutes: 0, FailedJobDelayMinutes: 60}
	return cfg
}

func newTestDocsRun() *agentrunv1alpha1.DocsRun {
	return &agentrunv1alpha1.DocsRun{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "r1",
			Namespace: "ns1",
			UID:       types.UID("abcdef12-3456-7890-abcd-ef1234567890"),
		},
		Spec: agentrunv1alpha1.DocsRunSpec{
			RepositoryURL:    "https://example.test/org/r.git",
			WorkingDirectory: "svc-a",
			SourceBranch:     "main",
			GithubUser:       "u1",
		},
	}
}

func docsReconciler(t *testing.T, c client.Client) *DocsRunReconciler {
	t.Helper()
	dir := t.TempDir()
	writeDocsTemplates(t, dir)
	cfg := reconcilerConfig(t, dir)
	return &DocsRunReconciler{
		Client:   c,
		Scheme:   testScheme(t),
		Config:   cfg,
		Renderer: template.NewRenderer(cfg, logr.Discard()),
	}
}

func reconcileDocs(t *testing.T, r *DocsRunReconciler, run *agentrunv1alpha1.DocsRun, times int) {
	t.Helper()
	req := ctrl.Request{NamespacedName: types.NamespacedName{Name: run.Name, Namespace: run.Namespace}}
	for i := 0; i < times; i++ {
		if _, err := r.Reconcile(context.Background(), req); err != nil {
			t.Fatalf("reconcile %d: %v", i+1, err)
		}
	}
}

func TestDocsRunHappyPath(t *testing.T) {
	ctx := context.Background()
	run := newTestDocsRun()
	c := newFakeClient(t, run)
	r := docsReconciler(t, c)

	// First pass adds the finalizer, second materializes resources.
	reconcileDocs(t, r, run, 2)

	const jobName = "docs-ns1-r1-abcdef12"
	const cmName = "docs-ns1-r1-abcdef12-v1-files"

	job := &batchv1.Job{}
	if err := c.Get(ctx, types.NamespacedName{Name: jobName, Namespace: "ns1"}, job); err != nil {
		t.Fatalf("job not created: %v", err)
	}
	if job.Labels["component"] != "docs-generator" || job.Labels["task-type"] != "docs" {
		t.Errorf("job labels = %v", job.Labels)
	}
	if len(job.OwnerReferences) != 1 || job.OwnerReferences[0].Kind != "DocsRun" {
		t.Errorf("job owners = %+v", job.OwnerReferences)
	}

	cm := &corev1.ConfigMap{}
	if err := c.Get(ctx, types.NamespacedName{Name: cmName, Namespace: "ns1"}, cm); err != nil {
		t.Fatalf("bundle not created: %v", err)
	}
	var ownedByJob bool
	for _, ref := range cm.OwnerReferences {
		if ref.Kind == "Job" && ref.UID == job.UID {
			ownedByJob = true
		}
	}
	if !ownedByJob {
		t.Errorf("bundle not re-parented to job: %+v", cm.OwnerReferences)
	}
	for _, key := range []string{"container.sh", "CLAUDE.md", "settings.json", "prompt.md"} {
		if _, ok := cm.Data[key]; !ok {
			t.Errorf("bundle missing %q", key)
		}
	}

	if err := c.Get(ctx, types.NamespacedName{Name: run.Name, Namespace: run.Namespace}, run); err != nil {
		t.Fatal(err)
	}
	if run.Status.Phase != agentrunv1alpha1.RunPhaseRunning {
		t.Fatalf("phase = %v, want Running", run.Status.Phase)
	}
	if run.Status.JobName != jobName || run.Status.ConfigMapName != cmName {
		t.Errorf("status names = %q / %q", run.Status.JobName, run.Status.ConfigMapName)
	}

	// Job completes.
	now := metav1.Now()
	job.Status.CompletionTime = &now
	job.Status.Conditions = []batchv1.JobCondition{
		{Type: batchv1.JobComplete, Status: corev1.ConditionTrue},
	}
	if err := c.Update(ctx, job); err != nil {
		t.Fatal(err)
	}

	reconcileDocs(t, r, run, 1)

	if err := c.Get(ctx, types.NamespacedName{Name: run.Name, Namespace: run.Namespace}, run); err != nil {
		t.Fatal(err)
	}
	if run.Status.Phase != agentrunv1alpha1.RunPhaseSucceeded {
		t.Fatalf("phase = %v, want Succeeded", run.Status.Phase)
	}
	if run.Status.Message != "Documentation generation completed successfully" {
		t.Errorf("message = %q", run.Status.Message)
	}

	// Cleanup deletes the job right away for docs runs.
	err := c.Get(ctx, types.NamespacedName{Name: jobName, Namespace: "ns1"}, &batchv1.Job{})
	if !apierrors.IsNotFound(err) {
		t.Errorf("job still present after cleanup: %v", err)
	}
}

func TestDocsRunTerminalPhaseIsSticky(t *testing.T) {
	ctx := context.Background()
	run := newTestDocsRun()
	c := newFakeClient(t, run)
	r := docsReconciler(t, c)

	reconcileDocs(t, r, run, 2)

	job := &batchv1.Job{}
	if err := c.Get(ctx, types.NamespacedName{Name: "docs-ns1-r1-abcdef12", Namespace: "ns1"}, job); err != nil {
		t.Fatal(err)
	}
	job.Status.Conditions = []batchv1.JobCondition{
		{Type: batchv1.JobFailed, Status: corev1.ConditionTrue, Message: "agent exited 1"},
	}
	if err := c.Update(ctx, job); err != nil {
		t.Fatal(err)
	}

	reconcileDocs(t, r, run, 3)

	if err := c.Get(ctx, types.NamespacedName{Name: run.Name, Namespace: run.Namespace}, run); err != nil {
		t.Fatal(err)
	}
	if run.Status.Phase != agentrunv1alpha1.RunPhaseFailed {
		t.Fatalf("phase = %v, want Failed", run.Status.Phase)
	}
	if run.Status.Message != "Documentation generation failed: agent exited 1" {
		t.Errorf("message = %q", run.Status.Message)
	}
}

func TestDocsRunAdoptionRepairsPhase(t *testing.T) {
	ctx := context.Background()
	run := newTestDocsRun()
	// The Job finished while the run status stayed empty: the controller
	// restarted between Job create and the Running patch. Adoption has to
	// carry the run all the way to Succeeded.
	now := metav1.Now()
	existing := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "docs-ns1-r1-abcdef12",
			Namespace: "ns1",
			UID:       types.UID("job-uid-7"),
		},
		Status: batchv1.JobStatus{
			CompletionTime: &now,
			Conditions: []batchv1.JobCondition{
				{Type: batchv1.JobComplete, Status: corev1.ConditionTrue},
			},
		},
	}
	c := newFakeClient(t, run, existing)
	r := docsReconciler(t, c)

	reconcileDocs(t, r, run, 2)

	if err := c.Get(ctx, types.NamespacedName{Name: run.Name, Namespace: run.Namespace}, run); err != nil {
		t.Fatal(err)
	}
	if run.Status.Phase != agentrunv1alpha1.RunPhaseSucceeded {
		t.Fatalf("phase = %v, want Succeeded via adoption", run.Status.Phase)
	}
	if run.Status.JobName != "docs-ns1-r1-abcdef12" {
		t.Errorf("jobName = %q", run.Status.JobName)
	}
}

func TestDocsRunMissingIdentityIsFailed(t *testing.T) {
	ctx := context.Background()
	run := newTestDocsRun()
	run.Spec.GithubUser = ""
	run.Spec.GithubApp = ""
	c := newFakeClient(t, run)
	r := docsReconciler(t, c)

	reconcileDocs(t, r, run, 2)

	if err := c.Get(ctx, types.NamespacedName{Name: run.Name, Namespace: run.Namespace}, run); err != nil {
		t.Fatal(err)
	}
	if run.Status.Phase != agentrunv1alpha1.RunPhaseFailed {
		t.Fatalf("phase = %v, want Failed", run.Status.Phase)
	}

	jobs := &batchv1.JobList{}
	if err := c.List(ctx, jobs, client.InNamespace("ns1")); err != nil {
		t.Fatal(err)
	}
	if len(jobs.Items) != 0 {
		t.Errorf("got %d jobs, want none for an identity-less run", len(jobs.Items))
	}
}

func TestDocsRunFinalizerSweep(t *testing.T) {
	ctx := context.Background()
	run := newTestDocsRun()
	c := newFakeClient(t, run)
	r := docsReconciler(t, c)

	reconcileDocs(t, r, run, 2)

	if err := c.Delete(ctx, run); err != nil {
		t.Fatal(err)
	}
	// Deletion is pending on the finalizer; one more pass sweeps and releases.
	reconcileDocs(t, r, run, 1)

	err := c.Get(ctx, types.NamespacedName{Name: run.Name, Namespace: run.Namespace}, &agentrunv1alpha1.DocsRun{})
	if !apierrors.IsNotFound(err) {
		t.Fatalf("run still present after finalizer release: %v", err)
	}
	err = c.Get(ctx, types.NamespacedName{Name: "docs-ns1-r1-abcdef12", Namespace: "ns1"}, &batchv1.Job{})
	if !apierrors.IsNotFound(err) {
		t.Errorf("job survived the finalizer sweep: %v", err)
	}
}
