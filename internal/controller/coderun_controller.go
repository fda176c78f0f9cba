// Copyright Contributors to the AgentRun project

// Package controller implements the reconcilers for AgentRun resources.
package controller

import (
	"context"
	"errors"
	"time"

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

const (
	// CodeRunFinalizer guards explicit cleanup of a CodeRun's managed objects.
	CodeRunFinalizer = "agentrun.io/coderun-cleanup"

	// requeueInterval re-drives reconciliation so phase transitions that did
	// not surface as watch events are eventually observed.
	requeueInterval = 30 * time.Second
)

// CodeRunReconciler reconciles a CodeRun object.
type CodeRunReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Config   *config.Config
	Renderer *template.Renderer
}

// +kubebuilder:rbac:groups=agentrun.io,resources=coderuns,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=agentrun.io,resources=coderuns/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=agentrun.io,resources=coderuns/finalizers,verbs=update
// +kubebuilder:rbac:groups=batch,resources=jobs,verbs=get;list;watch;create;delete
// +kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch;create;update;delete
// +kubebuilder:rbac:groups="",resources=persistentvolumeclaims,verbs=get;create

// Reconcile drives one CodeRun toward its desired state.
func (r *CodeRunReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	run := &agentrunv1alpha1.CodeRun{}
	if err := r.Get(ctx, req.NamespacedName, run); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if !run.DeletionTimestamp.IsZero() {
		return r.handleDeletion(ctx, run)
	}

	if !controllerutil.ContainsFinalizer(run, CodeRunFinalizer) {
		controllerutil.AddFinalizer(run, CodeRunFinalizer)
		if err := r.Update(ctx, run); err != nil {
			return ctrl.Result{}, err
		}
		return ctrl.Result{Requeue: true}, nil
	}

	if run.UID == "" {
		return ctrl.Result{}, ErrMissingObjectKey
	}

	mgr := &resourceManager{client: r.Client, cfg: r.Config}
	jobName := naming.CodeJobName(run)
	cmName := naming.CodeConfigMapName(run)

	// Terminal runs are left alone until the user bumps the context version,
	// which changes the derived names and starts a fresh attempt.
	if run.Status.Phase.IsTerminal() && run.Status.JobName == jobName {
		if err := r.scheduleCleanup(ctx, mgr, run); err != nil {
			return ctrl.Result{}, err
		}
		return ctrl.Result{}, nil
	}

	if err := r.reconcileResources(ctx, mgr, run, jobName, cmName); err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			// Configuration problems need user action, not retries.
			logger.Error(err, "code run failed on configuration")
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

// reconcileResources executes the ordered create-or-adopt protocol:
// workspace, bundle, Job, bundle re-parenting, then the stale-sibling sweep.
func (r *CodeRunReconciler) reconcileResources(ctx context.Context, mgr *resourceManager, run *agentrunv1alpha1.CodeRun, jobName, cmName string) error {
	logger := log.FromContext(ctx)
	labels := naming.CodeRunLabels(run)

	if run.Spec.GithubUser == "" && run.Spec.GithubApp == "" {
		return config.NewConfigError("run has no authentication identity: set githubUser or githubApp", nil)
	}

	if err := mgr.ensureWorkspace(ctx, run); err != nil {
		return err
	}

	files, err := r.Renderer.GenerateCode(run, r.Config)
	if err != nil {
		return err
	}
	if err := mgr.ensureConfigMap(ctx, run.Namespace, cmName, labels, files); err != nil {
		return err
	}

	job := buildJob(jobParams{
		name:           jobName,
		namespace:      run.Namespace,
		labels:         labels,
		configMapName:  cmName,
		workspaceClaim: naming.WorkspaceName(run.Spec.Service),
		githubApp:      run.Spec.GithubApp,
		env:            run.Spec.Env,
		envFromSecrets: run.Spec.EnvFromSecrets,
		owner:          codeRunOwnerRef(run),
	}, r.Config)

	ref, created, err := mgr.ensureJob(ctx, job)
	if err != nil {
		return err
	}
	// The Running patch has to land for created and adopted Jobs alike: a
	// restart between Job create and status patch leaves the Job in place
	// with the run still Pending, and the adopt pass is what repairs that.
	if created || run.Status.JobName != jobName {
		retry := run.Status.RetryCount
		if run.Status.JobName != "" && run.Status.JobName != jobName {
			retry++
		}
		if err := patchRunStatus(ctx, r.Client, run, &run.Status, statusPatch{
			phase:         agentrunv1alpha1.RunPhaseRunning,
			message:       "Code implementation job started",
			jobName:       jobName,
			configMapName: cmName,
			retryCount:    &retry,
		}); err != nil {
			return err
		}
		if created {
			logger.Info("created code run job", "job", jobName, "contextVersion", naming.ContextVersion(run))
		} else {
			logger.Info("adopted existing code run job", "job", jobName)
		}
	}

	if err := mgr.reparentConfigMap(ctx, run.Namespace, cmName, ref); err != nil {
		return err
	}

	return mgr.sweepStale(ctx, run.Namespace, naming.SweepSelector(labels), jobName, cmName)
}

// observeAndUpdate projects the Job's state onto the run status and, on a
// terminal transition, schedules cleanup.
func (r *CodeRunReconciler) observeAndUpdate(ctx context.Context, mgr *resourceManager, run *agentrunv1alpha1.CodeRun) error {
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

	message := "Code implementation completed successfully"
	if obs.phase == agentrunv1alpha1.RunPhaseFailed {
		message = "Code implementation failed"
		if obs.failureMessage != "" {
			message = "Code implementation failed: " + obs.failureMessage
		}
	}
	if err := patchRunStatus(ctx, r.Client, run, &run.Status, statusPatch{
		phase:   obs.phase,
		message: message,
		jobName: run.Status.JobName,
	}); err != nil {
		return err
	}

	return r.scheduleCleanup(ctx, mgr, run)
}

// scheduleCleanup applies the retention policy to a terminal run's Job.
// Non-zero delays are logged as intent and left to the Job's TTL: an
// in-memory timer would not survive a controller restart. A zero delay
// deletes inline.
func (r *CodeRunReconciler) scheduleCleanup(ctx context.Context, mgr *resourceManager, run *agentrunv1alpha1.CodeRun) error {
	if !r.Config.Cleanup.Enabled || run.Status.JobName == "" {
		return nil
	}
	logger := log.FromContext(ctx)

	delay := r.Config.Cleanup.CompletedJobDelayMinutes
	if run.Status.Phase == agentrunv1alpha1.RunPhaseFailed {
		delay = r.Config.Cleanup.FailedJobDelayMinutes
	}
	if delay > 0 {
		logger.Info("job retained for delayed cleanup",
			"job", run.Status.JobName, "delayMinutes", delay, "phase", run.Status.Phase)
		return nil
	}
	return mgr.deleteJob(ctx, run.Namespace, run.Status.JobName)
}

// handleDeletion sweeps all managed objects of the run, then releases the
// finalizer. Workspace claims belong to the service and are never deleted.
func (r *CodeRunReconciler) handleDeletion(ctx context.Context, run *agentrunv1alpha1.CodeRun) (ctrl.Result, error) {
	if !controllerutil.ContainsFinalizer(run, CodeRunFinalizer) {
		return ctrl.Result{}, nil
	}

	mgr := &resourceManager{client: r.Client, cfg: r.Config}
	selector := naming.SweepSelector(naming.CodeRunLabels(run))
	if err := mgr.sweepStale(ctx, run.Namespace, selector, "", ""); err != nil {
		return ctrl.Result{}, err
	}

	controllerutil.RemoveFinalizer(run, CodeRunFinalizer)
	if err := r.Update(ctx, run); err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}

// codeRunOwnerRef makes the run the controlling owner of its Job, so
// deleting the run cascades to the Job (and from there to the bundle).
func codeRunOwnerRef(run *agentrunv1alpha1.CodeRun) metav1.OwnerReference {
	return metav1.OwnerReference{
		APIVersion:         agentrunv1alpha1.GroupVersion.String(),
		Kind:               "CodeRun",
		Name:               run.Name,
		UID:                run.UID,
		Controller:         boolPtr(true),
		BlockOwnerDeletion: boolPtr(true),
	}
}

// SetupWithManager sets up the controller with the Manager.
func (r *CodeRunReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&agentrunv1alpha1.CodeRun{}).
		Owns(&batchv1.Job{}).
		Complete(r)
}
