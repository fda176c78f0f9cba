// Copyright Contributors to the AgentRun project

package controller

import (
	"context"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
)

// observedJob is the projection of a Job's status onto the run state machine.
type observedJob struct {
	phase agentrunv1alpha1.RunPhase
	// failureMessage carries the Failed condition message, when present.
	failureMessage string
}

// observeJob derives the run phase from a Job's status. Completion time
// plus a Complete=True condition means Succeeded; a Failed=True condition
// or failed pods mean Failed; active pods mean Running; otherwise Pending.
func observeJob(job *batchv1.Job) observedJob {
	if job.Status.CompletionTime != nil {
		for _, cond := range job.Status.Conditions {
			if cond.Status != corev1.ConditionTrue {
				continue
			}
			switch cond.Type {
			case batchv1.JobComplete:
				return observedJob{phase: agentrunv1alpha1.RunPhaseSucceeded}
			case batchv1.JobFailed:
				return observedJob{phase: agentrunv1alpha1.RunPhaseFailed, failureMessage: cond.Message}
			}
		}
	}
	for _, cond := range job.Status.Conditions {
		if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
			return observedJob{phase: agentrunv1alpha1.RunPhaseFailed, failureMessage: cond.Message}
		}
	}
	if job.Status.Active > 0 {
		return observedJob{phase: agentrunv1alpha1.RunPhaseRunning}
	}
	if job.Status.Failed > 0 {
		return observedJob{phase: agentrunv1alpha1.RunPhaseFailed}
	}
	return observedJob{phase: agentrunv1alpha1.RunPhasePending}
}

// reasonForPhase maps a phase to its fixed condition reason.
func reasonForPhase(phase agentrunv1alpha1.RunPhase) string {
	switch phase {
	case agentrunv1alpha1.RunPhaseRunning:
		return agentrunv1alpha1.ReasonJobStarted
	case agentrunv1alpha1.RunPhaseSucceeded:
		return agentrunv1alpha1.ReasonJobCompleted
	case agentrunv1alpha1.RunPhaseFailed:
		return agentrunv1alpha1.ReasonJobFailed
	default:
		return agentrunv1alpha1.ReasonUnknown
	}
}

// statusPatch describes one status transition.
type statusPatch struct {
	phase         agentrunv1alpha1.RunPhase
	message       string
	jobName       string
	configMapName string
	// retryCount, when non-nil, overwrites the stored retry count.
	retryCount *int32
}

// applyStatus writes the transition onto the status struct. Conditions are
// regenerated as a single entry typed after the phase; lastUpdate is always
// refreshed; retryCount and sessionId survive untouched unless explicitly
// overwritten. Transitions out of a terminal phase are refused unless the
// patch targets a different Job, which is a fresh retry attempt.
func applyStatus(status *agentrunv1alpha1.RunStatus, p statusPatch) bool {
	if status.Phase.IsTerminal() && p.jobName == status.JobName {
		return false
	}
	now := metav1.Now()
	status.Phase = p.phase
	status.Message = p.message
	status.LastUpdate = &now
	if p.jobName != "" {
		status.JobName = p.jobName
	}
	if p.configMapName != "" {
		status.ConfigMapName = p.configMapName
	}
	if p.retryCount != nil {
		status.RetryCount = *p.retryCount
	}
	status.Conditions = []metav1.Condition{
		{
			Type:               string(p.phase),
			Status:             metav1.ConditionTrue,
			LastTransitionTime: now,
			Reason:             reasonForPhase(p.phase),
			Message:            p.message,
		},
	}
	return true
}

// patchRunStatus applies the transition and merge-patches the status
// subresource. The spec is never written. A no-op transition (terminal
// phase guarding) patches nothing.
func patchRunStatus(ctx context.Context, c client.Client, obj client.Object, status *agentrunv1alpha1.RunStatus, p statusPatch) error {
	base := obj.DeepCopyObject().(client.Object)
	if !applyStatus(status, p) {
		return nil
	}
	return c.Status().Patch(ctx, obj, client.MergeFrom(base))
}
