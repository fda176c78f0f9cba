// Copyright Contributors to the AgentRun project

package controller

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
)

const (
	// ScheduledByLabelKey marks DocsRuns created from a ScheduledDocsRun.
	ScheduledByLabelKey = "agentrun.io/scheduled-by"

	// ScheduledAtAnnotation records the cron slot a DocsRun was created for.
	ScheduledAtAnnotation = "agentrun.io/scheduled-at"

	defaultSuccessfulRunsHistoryLimit int32 = 3
	defaultFailedRunsHistoryLimit     int32 = 1

	// maxCatchUpPeriods caps how far back dueSlot walks the schedule. A gap
	// larger than this many periods (long suspension, controller downtime)
	// collapses to the most recent slot.
	maxCatchUpPeriods = 100
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ScheduledDocsRunReconciler creates DocsRuns on a cron schedule and prunes
// finished ones past the configured history limits.
type ScheduledDocsRunReconciler struct {
	client.Client
	Scheme *runtime.Scheme
	Clock
}

// +kubebuilder:rbac:groups=agentrun.io,resources=scheduleddocsruns,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=agentrun.io,resources=scheduleddocsruns/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=agentrun.io,resources=docsruns,verbs=get;list;watch;create;delete

// Reconcile creates a DocsRun when a schedule slot has elapsed, records the
// slot in status, and prunes old runs.
func (r *ScheduledDocsRunReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	if r.Clock == nil {
		r.Clock = realClock{}
	}

	scheduled := &agentrunv1alpha1.ScheduledDocsRun{}
	if err := r.Get(ctx, req.NamespacedName, scheduled); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	children, err := r.childRuns(ctx, scheduled)
	if err != nil {
		return ctrl.Result{}, err
	}

	var active, succeeded, failed []*agentrunv1alpha1.DocsRun
	for i := range children {
		run := &children[i]
		switch run.Status.Phase {
		case agentrunv1alpha1.RunPhaseSucceeded:
			succeeded = append(succeeded, run)
		case agentrunv1alpha1.RunPhaseFailed:
			failed = append(failed, run)
		default:
			active = append(active, run)
		}
	}

	scheduled.Status.ActiveRun = ""
	if len(active) > 0 {
		sort.Slice(active, func(i, j int) bool {
			return active[j].CreationTimestamp.Before(&active[i].CreationTimestamp)
		})
		scheduled.Status.ActiveRun = active[0].Name
	}

	if err := r.pruneHistory(ctx, scheduled, succeeded, failed); err != nil {
		return ctrl.Result{}, err
	}

	if scheduled.Spec.Suspend {
		logger.V(1).Info("schedule suspended, skipping")
		if err := r.Status().Update(ctx, scheduled); err != nil {
			return ctrl.Result{}, err
		}
		return ctrl.Result{}, nil
	}

	schedule, err := cron.ParseStandard(scheduled.Spec.Schedule)
	if err != nil {
		logger.Error(err, "invalid cron schedule", "schedule", scheduled.Spec.Schedule)
		meta.SetStatusCondition(&scheduled.Status.Conditions, metav1.Condition{
			Type:    "Scheduled",
			Status:  metav1.ConditionFalse,
			Reason:  "InvalidSchedule",
			Message: fmt.Sprintf("Invalid cron schedule: %v", err),
		})
		if updateErr := r.Status().Update(ctx, scheduled); updateErr != nil {
			return ctrl.Result{}, updateErr
		}
		// The user has to fix the schedule; requeueing cannot help.
		return ctrl.Result{}, nil
	}

	now := r.Now()
	if slot := r.dueSlot(scheduled, now, schedule); slot != nil {
		// A still-active run means the previous slot has not finished yet;
		// skip this slot rather than pile up concurrent generations.
		if len(active) > 0 {
			logger.V(1).Info("previous run still active, skipping slot", "active", scheduled.Status.ActiveRun)
		} else {
			run, err := r.createRun(ctx, scheduled, *slot)
			if err != nil {
				return ctrl.Result{}, err
			}
			logger.Info("created scheduled docs run", "run", run.Name, "slot", slot)
			scheduled.Status.LastScheduleTime = &metav1.Time{Time: *slot}
			scheduled.Status.ActiveRun = run.Name
			meta.SetStatusCondition(&scheduled.Status.Conditions, metav1.Condition{
				Type:    "Scheduled",
				Status:  metav1.ConditionTrue,
				Reason:  "RunCreated",
				Message: fmt.Sprintf("Created DocsRun %s", run.Name),
			})
		}
	}

	if err := r.Status().Update(ctx, scheduled); err != nil {
		return ctrl.Result{}, err
	}

	next := schedule.Next(now)
	requeueAfter := next.Sub(now)
	if requeueAfter < time.Second {
		requeueAfter = time.Second
	}
	return ctrl.Result{RequeueAfter: requeueAfter}, nil
}

// childRuns lists the DocsRuns created from this schedule.
func (r *ScheduledDocsRunReconciler) childRuns(ctx context.Context, scheduled *agentrunv1alpha1.ScheduledDocsRun) ([]agentrunv1alpha1.DocsRun, error) {
	list := &agentrunv1alpha1.DocsRunList{}
	if err := r.List(ctx, list, client.InNamespace(scheduled.Namespace), client.MatchingLabels{
		ScheduledByLabelKey: scheduled.Name,
	}); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// dueSlot returns the most recent schedule slot at or before now that has not
// been run yet, or nil if nothing is due. Only the latest slot is ever acted
// on, so a gap of more than maxCatchUpPeriods periods is collapsed instead of
// walking every missed slot of a tight cadence one by one.
func (r *ScheduledDocsRunReconciler) dueSlot(scheduled *agentrunv1alpha1.ScheduledDocsRun, now time.Time, schedule cron.Schedule) *time.Time {
	last := scheduled.CreationTimestamp.Time
	if scheduled.Status.LastScheduleTime != nil && !scheduled.Status.LastScheduleTime.After(now) {
		last = scheduled.Status.LastScheduleTime.Time
	}

	first := schedule.Next(now)
	period := schedule.Next(first).Sub(first)
	if now.Sub(last) > maxCatchUpPeriods*period {
		last = now.Add(-period)
	}

	var due *time.Time
	for next := schedule.Next(last); !next.After(now); next = schedule.Next(next) {
		slot := next
		due = &slot
	}
	return due
}

// createRun instantiates a DocsRun from the template for one schedule slot.
func (r *ScheduledDocsRunReconciler) createRun(ctx context.Context, scheduled *agentrunv1alpha1.ScheduledDocsRun, slot time.Time) (*agentrunv1alpha1.DocsRun, error) {
	run := &agentrunv1alpha1.DocsRun{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("%s-%d", scheduled.Name, slot.Unix()),
			Namespace: scheduled.Namespace,
			Labels: map[string]string{
				ScheduledByLabelKey: scheduled.Name,
			},
			Annotations: map[string]string{
				ScheduledAtAnnotation: slot.Format(time.RFC3339),
			},
			OwnerReferences: []metav1.OwnerReference{
				{
					APIVersion: agentrunv1alpha1.GroupVersion.String(),
					Kind:       "ScheduledDocsRun",
					Name:       scheduled.Name,
					UID:        scheduled.UID,
					Controller: boolPtr(true),
				},
			},
		},
		Spec: scheduled.Spec.Template,
	}
	if err := r.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// pruneHistory deletes finished runs past the history limits, oldest first.
func (r *ScheduledDocsRunReconciler) pruneHistory(ctx context.Context, scheduled *agentrunv1alpha1.ScheduledDocsRun, succeeded, failed []*agentrunv1alpha1.DocsRun) error {
	logger := log.FromContext(ctx)

	successLimit := defaultSuccessfulRunsHistoryLimit
	if scheduled.Spec.SuccessfulRunsHistoryLimit != nil {
		successLimit = *scheduled.Spec.SuccessfulRunsHistoryLimit
	}
	failedLimit := defaultFailedRunsHistoryLimit
	if scheduled.Spec.FailedRunsHistoryLimit != nil {
		failedLimit = *scheduled.Spec.FailedRunsHistoryLimit
	}

	oldestFirst := func(runs []*agentrunv1alpha1.DocsRun) {
		sort.Slice(runs, func(i, j int) bool {
			return runs[i].CreationTimestamp.Before(&runs[j].CreationTimestamp)
		})
	}

	oldestFirst(succeeded)
	for i := 0; i < len(succeeded)-int(successLimit); i++ {
		run := succeeded[i]
		logger.V(1).Info("pruning old successful run", "run", run.Name)
		if err := r.Delete(ctx, run); err != nil && !apierrors.IsNotFound(err) {
			return err
		}
	}

	oldestFirst(failed)
	for i := 0; i < len(failed)-int(failedLimit); i++ {
		run := failed[i]
		logger.V(1).Info("pruning old failed run", "run", run.Name)
		if err := r.Delete(ctx, run); err != nil && !apierrors.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// SetupWithManager sets up the controller with the Manager.
func (r *ScheduledDocsRunReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&agentrunv1alpha1.ScheduledDocsRun{}).
		Owns(&agentrunv1alpha1.DocsRun{}).
		Complete(r)
}
