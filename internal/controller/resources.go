// Copyright Contributors to the AgentRun project

package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
	"github.com/agentrun-io/agentrun/internal/config"
	"github.com/agentrun-io/agentrun/internal/naming"
)

// ErrMissingObjectKey reports a cluster object that lacks a name or UID
// where one is required.
var ErrMissingObjectKey = errors.New("cluster object is missing its name or UID")

// resourceManager runs the create-or-adopt protocol for the objects backing
// a run: the per-service workspace claim, the task-file bundle and the Job.
// Every step is idempotent; a reconciliation interrupted at any point is
// completed by the next pass.
type resourceManager struct {
	client client.Client
	cfg    *config.Config
}

// ensureWorkspace creates the per-service workspace claim if it does not
// exist. A conflict on create means another reconciliation won the race,
// which is success.
func (m *resourceManager) ensureWorkspace(ctx context.Context, run *agentrunv1alpha1.CodeRun) error {
	name := naming.WorkspaceName(run.Spec.Service)
	existing := &corev1.PersistentVolumeClaim{}
	err := m.client.Get(ctx, types.NamespacedName{Name: name, Namespace: run.Namespace}, existing)
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("getting workspace %s: %w", name, err)
	}

	claim := buildWorkspaceClaim(run.Namespace, run.Spec.Service, m.cfg)
	if err := m.client.Create(ctx, claim); err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("creating workspace %s: %w", name, err)
	}
	return nil
}

// ensureConfigMap creates the task-file bundle, or replaces its content when
// it already exists. Replacement on conflict is deliberate: every pass
// refreshes the rendered output, which matters when context version, model
// or configuration changed under a fixed request name. The bundle gets no
// owner on create; it is re-parented to the Job once the Job exists.
func (m *resourceManager) ensureConfigMap(ctx context.Context, namespace, name string, labels, data map[string]string) error {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels,
		},
		Data: data,
	}
	err := m.client.Create(ctx, cm)
	if err == nil {
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("creating ConfigMap %s: %w", name, err)
	}

	existing := &corev1.ConfigMap{}
	if err := m.client.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, existing); err != nil {
		return fmt.Errorf("getting ConfigMap %s after create conflict: %w", name, err)
	}
	existing.Data = data
	existing.Labels = labels
	if err := m.client.Update(ctx, existing); err != nil {
		return fmt.Errorf("replacing ConfigMap %s: %w", name, err)
	}
	return nil
}

// ensureJob creates the Job or adopts an existing one with the same name.
// The returned owner reference points at the Job for bundle re-parenting:
// controller=true when this pass created the Job, non-controller on adopt.
// created reports whether this pass performed the create.
func (m *resourceManager) ensureJob(ctx context.Context, job *batchv1.Job) (metav1.OwnerReference, bool, error) {
	existing := &batchv1.Job{}
	key := types.NamespacedName{Name: job.Name, Namespace: job.Namespace}
	err := m.client.Get(ctx, key, existing)
	if err == nil {
		return jobOwnerRef(existing, false), false, nil
	}
	if !apierrors.IsNotFound(err) {
		return metav1.OwnerReference{}, false, fmt.Errorf("getting Job %s: %w", job.Name, err)
	}

	if err := m.client.Create(ctx, job); err != nil {
		if apierrors.IsAlreadyExists(err) {
			// Concurrent create: re-read and adopt.
			if err := m.client.Get(ctx, key, existing); err != nil {
				return metav1.OwnerReference{}, false, fmt.Errorf("adopting Job %s: %w", job.Name, err)
			}
			return jobOwnerRef(existing, false), false, nil
		}
		return metav1.OwnerReference{}, false, fmt.Errorf("creating Job %s: %w", job.Name, err)
	}
	return jobOwnerRef(job, true), true, nil
}

// jobOwnerRef builds the owner reference pointing at a Job. A Job missing
// its name or UID yields an empty reference: the bundle is simply not
// re-parented and a later sweep reclaims it.
func jobOwnerRef(job *batchv1.Job, controller bool) metav1.OwnerReference {
	if job.Name == "" || job.UID == "" {
		return metav1.OwnerReference{}
	}
	return metav1.OwnerReference{
		APIVersion:         batchv1.SchemeGroupVersion.String(),
		Kind:               "Job",
		Name:               job.Name,
		UID:                job.UID,
		Controller:         boolPtr(controller),
		BlockOwnerDeletion: boolPtr(true),
	}
}

// reparentConfigMap appends the Job owner reference to the bundle, so that
// deleting the Job lets the cluster garbage collector reclaim the bundle.
func (m *resourceManager) reparentConfigMap(ctx context.Context, namespace, name string, ref metav1.OwnerReference) error {
	if ref.UID == "" {
		return nil
	}
	cm := &corev1.ConfigMap{}
	if err := m.client.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, cm); err != nil {
		return fmt.Errorf("getting ConfigMap %s for re-parenting: %w", name, err)
	}
	for _, existing := range cm.OwnerReferences {
		if existing.UID == ref.UID {
			return nil
		}
	}
	cm.OwnerReferences = append(cm.OwnerReferences, ref)
	if err := m.client.Update(ctx, cm); err != nil {
		return fmt.Errorf("re-parenting ConfigMap %s: %w", name, err)
	}
	return nil
}

// ownedByLiveJob reports whether the ConfigMap carries an owner reference
// into the batch/ API group. Such bundles are left to the cluster garbage
// collector, which removes them when their Job goes away.
func ownedByLiveJob(cm *corev1.ConfigMap) bool {
	for _, ref := range cm.OwnerReferences {
		if ref.Kind == "Job" && strings.HasPrefix(ref.APIVersion, "batch/") {
			return true
		}
	}
	return false
}

// sweepStale deletes sibling Jobs and bundles from earlier context versions
// of the same identity/service pair. It never deletes the current Job, the
// current bundle, any bundle owned by a live Job, or workspace claims.
// currentJob and currentConfigMap may be empty to sweep everything, which is
// what the finalizer path does on request deletion.
func (m *resourceManager) sweepStale(ctx context.Context, namespace string, selector map[string]string, currentJob, currentConfigMap string) error {
	logger := log.FromContext(ctx)

	jobs := &batchv1.JobList{}
	opts := []client.ListOption{
		client.InNamespace(namespace),
		client.MatchingLabels(selector),
	}
	if err := m.client.List(ctx, jobs, opts...); err != nil {
		return fmt.Errorf("listing sibling Jobs: %w", err)
	}
	propagation := metav1.DeletePropagationBackground
	for i := range jobs.Items {
		job := &jobs.Items[i]
		if job.Name == currentJob {
			continue
		}
		if err := m.client.Delete(ctx, job, &client.DeleteOptions{PropagationPolicy: &propagation}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("sweeping Job %s: %w", job.Name, err)
		}
		logger.Info("swept stale job", "job", job.Name)
	}

	bundles := &corev1.ConfigMapList{}
	if err := m.client.List(ctx, bundles, opts...); err != nil {
		return fmt.Errorf("listing sibling ConfigMaps: %w", err)
	}
	for i := range bundles.Items {
		cm := &bundles.Items[i]
		if cm.Name == currentConfigMap {
			continue
		}
		if ownedByLiveJob(cm) {
			continue
		}
		if err := m.client.Delete(ctx, cm); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("sweeping ConfigMap %s: %w", cm.Name, err)
		}
		logger.Info("swept stale config map", "configMap", cm.Name)
	}
	return nil
}

// deleteJob removes a run's Job, used by the cleanup scheduling path.
func (m *resourceManager) deleteJob(ctx context.Context, namespace, name string) error {
	if name == "" {
		return nil
	}
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
	}
	propagation := metav1.DeletePropagationBackground
	if err := m.client.Delete(ctx, job, &client.DeleteOptions{PropagationPolicy: &propagation}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting Job %s: %w", name, err)
	}
	return nil
}
