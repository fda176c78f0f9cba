// Copyright Contributors to the AgentRun project

package controller

import (
	"context"
	"errors"

	batchv1 "k8s.io/api/batch/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
	"github.com/agentrun-io/agentrun/internal/config"
	"github.com/agentrun-io/agentrun/internal/naming"
	"github.com/agentrun-io/agentrun/internal/template"
)

// DocsRunFinalizer guards explicit cleanup of a DocsRun's managed objects.
const DocsRunFinalizer = "agentrun.io/docsrun-cleanup"

// DocsRunReconciler reconciles a DocsRun object.
type DocsRunReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Config   *config.Config
	Renderer *template.Renderer
}

// +kubebuilder:rbac:groups=agentrun.io,resources=docsruns,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=agentrun.io,resources=docsruns/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=agentrun.io,resources=docsruns/finalizers,verbs=update
// +kubebuilder:rbac:groups=batch,resources=jobs,verbs=get;list;watch;create;delete
// +kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch;create;update;delete

// Reconcile drives one DocsRun toward its desired state. Docs runs are
// single-shot: one bundle, one Job, no persistent workspace.
func (r *DocsRunReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	run := &agentrunv1alpha1.DocsRun{}
	if err := r.Get(ctx, req.NamespacedName, run); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if !run.DeletionTimestamp.IsZero() {
		return r.handleDeletion(ctx, run)
	}

	if !controllerutil.ContainsFinalizer(run, DocsRunFinalizer) {
		controllerutil.AddFinalizer(run, DocsRunFinalizer)
		if err := r.Update(ctx, run); err != nil {
			return ctrl.Result{}, err
		}
		return ctrl.Result{Requeue: true}, nil
	}

	if run.UID == "" {
		return ctrl.Result{}, ErrMissingObjectKey
	}

	mgr := &resourceManager{client: r.Client, cfg: r.Config}
	jobName := naming.DocsJobName(run)
	cmName := naming.DocsConfigMapName(run)

	// A docs run has no retry dimension in its names; once terminal it is done.
	if run.Status.Phase.IsTerminal() && run.Status.JobName == jobName {
		return ctrl.Result{}, nil
	}

	if err := r.reconcileResources(ctx, mgr, run, jobName, cmName); err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			logger.Error(err, "docs run failed on configuration")
			patchErr := patchRunStatus(ctx, r.Client, run, &run.Status, statusPatch{
				phase:   agentrunv1alpha1.RunPhaseFailed,
				message: err.Error(),
				jobName: jobName,
			})
			return ctrl.Result{}, patchErr
		}
		return ctrl.Result{}, err
	}

	if run.Status.Phase == agentrunv1alpha1.RunPhaseRunning {
		if err := r.observeAndUpdate(ctx, mgr, run); err != nil {
			return ctrl.Result{}, err
		}
	}

	return ctrl.Result{RequeueAfter: requeueInterval}, nil
}

func (r *DocsRunReconciler) reconcileResources(ctx context.Context, mgr *resourceManager, run *agentrunv1alpha1.DocsRun, jobName, cmName string) error {
	logger := log.FromContext(ctx)
	labels := naming.DocsRunLabels(run)

	if run.Spec.GithubUser == "" && run.Spec.GithubApp == "" {
		return config.NewConfigError("run has no authentication identity: set githubUser or githubApp", nil)
	}

	files, err := r.Renderer.GenerateDocs(run, r.Config)
	if err != nil {
		return err
	}
	if err := mgr.ensureConfigMap(ctx, run.Namespace, cmName, labels, files); err != nil {
		return err
	}

	job := buildJob(jobParams{
		name:          jobName,
		namespace:     run.Namespace,
		labels:        labels,
		configMapName: cmName,
		githubApp:     run.Spec.GithubApp,
		owner:         docsRunOwnerRef(run),
	}, r.Config)

	ref, created, err := mgr.ensureJob(ctx, job)
	if err != nil {
		return err
	}
	// Patch Running for created and adopted Jobs alike, so a restart between
	// Job create and status patch cannot wedge the run in Pending.
	if created || run.Status.JobName != jobName {
		if err := patchRunStatus(ctx, r.Client, run, &run.Status, statusPatch{
			phase:         agentrunv1alpha1.RunPhaseRunning,
			message:       "Documentation generation job started",
			jobName:       jobName,
			configMapName: cmName,
		}); err != nil {
			return err
		}
		if created {
			logger.Info("created docs run job", "job", jobName)
		} else {
			logger.Info("adopted existing docs run job", "job", jobName)
		}
	}

	if err := mgr.reparentConfigMap(ctx, run.Namespace, cmName, ref); err != nil {
		return err
	}

	return mgr.sweepStale(ctx, run.Namespace, naming.SweepSelector(labels), jobName, cmName)
}

// observeAndUpdate projects the Job's state onto the run status. Terminal
// docs Jobs are deleted right away; the bundle follows through its owner
// reference.
func (r *DocsRunReconciler) observeAndUpdate(ctx context.Context, mgr *resourceManager, run *agentrunv1alpha1.DocsRun) error {
	if run.Status.JobName == "" {
		return nil
	}
	job := &batchv1.Job{}
	key := types.NamespacedName{Name: run.Status.JobName, Namespace: run.Namespace}
	if err := r.Get(ctx, key, job); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	obs := observeJob(job)
	if !obs.phase.IsTerminal() {
		return nil
	}

	message := "Documentation generation completed successfully"
	if obs.phase == agentrunv1alpha1.RunPhaseFailed {
		message = "Documentation generation failed"
		if obs.failureMessage != "" {
			message = "Documentation generation failed: " + obs.failureMessage
		}
	}
	if err := patchRunStatus(ctx, r.Client, run, &run.Status, statusPatch{
		phase:   obs.phase,
		message: message,
		jobName: run.Status.JobName,
	}); err != nil {
		return err
	}

	if r.Config.Cleanup.Enabled {
		return mgr.deleteJob(ctx, run.Namespace, run.Status.JobName)
	}
	return nil
}

func (r *DocsRunReconciler) handleDeletion(ctx context.Context, run *agentrunv1alpha1.DocsRun) (ctrl.Result, error) {
	if !controllerutil.ContainsFinalizer(run, DocsRunFinalizer) {
		return ctrl.Result{}, nil
	}

	mgr := &resourceManager{client: r.Client, cfg: r.Config}
	selector := naming.SweepSelector(naming.DocsRunLabels(run))
	if err := mgr.sweepStale(ctx, run.Namespace, selector, "", ""); err != nil {
		return ctrl.Result{}, err
	}

	controllerutil.RemoveFinalizer(run, DocsRunFinalizer)
	if err := r.Update(ctx, run); err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}

func docsRunOwnerRef(run *agentrunv1alpha1.DocsRun) metav1.OwnerReference {
	return metav1.OwnerReference{
		APIVersion:         agentrunv1alpha1.GroupVersion.String(),
		Kind:               "DocsRun",
		Name:               run.Name,
		UID:                run.UID,
		Controller:         boolPtr(true),
		BlockOwnerDeletion: boolPtr(true),
	}
}

// SetupWithManager sets up the controller with the Manager.
func (r *DocsRunReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&agentrunv1alpha1.DocsRun{}).
		Owns(&batchv1.Job{}).
		Complete(r)
}
