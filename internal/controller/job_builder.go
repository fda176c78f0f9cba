// Copyright Contributors to the AgentRun project

package controller

import (
	"sort"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
	"github.com/agentrun-io/agentrun/internal/config"
	"github.com/agentrun-io/agentrun/internal/naming"
)

const (
	// TaskFilesMountPath is where the rendered bundle lands in the container.
	TaskFilesMountPath = "/task-files"

	// WorkspaceMountPath is the agent working directory: a per-service PVC
	// for code runs, ephemeral scratch for docs runs.
	WorkspaceMountPath = "/workspace"

	// ManagedSettingsPath is the enterprise-settings location; settings.json
	// from the bundle is sub-path mounted there read-only.
	ManagedSettingsPath = "/etc/claude-code/managed-settings.json"

	// jobTTLSeconds is a short retention floor after Job completion. The
	// status reconciler may delete earlier; the cluster TTL controller is
	// the authoritative fallback that survives controller restarts.
	jobTTLSeconds int32 = 30

	githubAppIDKey         = "app-id"
	githubAppPrivateKeyKey = "private-key"
)

func boolPtr(b bool) *bool    { return &b }
func int32Ptr(i int32) *int32 { return &i }
func int64Ptr(i int64) *int64 { return &i }

// jobParams collects everything buildJob needs, resolved by the caller.
type jobParams struct {
	name          string
	namespace     string
	labels        map[string]string
	configMapName string
	// workspaceClaim is empty for docs runs, which get an emptyDir scratch.
	workspaceClaim string
	githubApp      string
	env            map[string]string
	envFromSecrets []agentrunv1alpha1.EnvFromSecret
	owner          metav1.OwnerReference
}

// buildJob assembles the single-attempt agent Job. No cluster-level retries:
// retries are controller-mediated through context-version increments.
func buildJob(p jobParams, cfg *config.Config) *batchv1.Job {
	volumes := []corev1.Volume{
		{
			Name: "task-files",
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{Name: p.configMapName},
					DefaultMode:          int32Ptr(0755),
				},
			},
		},
	}

	if p.workspaceClaim != "" {
		volumes = append(volumes, corev1.Volume{
			Name: "workspace",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
					ClaimName: p.workspaceClaim,
				},
			},
		})
	} else {
		volumes = append(volumes, corev1.Volume{
			Name: "workspace",
			VolumeSource: corev1.VolumeSource{
				EmptyDir: &corev1.EmptyDirVolumeSource{},
			},
		})
	}

	volumeMounts := []corev1.VolumeMount{
		{Name: "task-files", MountPath: TaskFilesMountPath},
		{
			Name:      "task-files",
			MountPath: ManagedSettingsPath,
			SubPath:   "settings.json",
			ReadOnly:  true,
		},
		{Name: "workspace", MountPath: WorkspaceMountPath},
	}

	envVars := []corev1.EnvVar{
		{
			Name: "ANTHROPIC_API_KEY",
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: cfg.Secrets.APIKeySecretName},
					Key:                  cfg.Secrets.APIKeySecretKey,
				},
			},
		},
	}

	// App-installation identity carries its credentials from the app secret.
	if p.githubApp != "" {
		envVars = append(envVars,
			corev1.EnvVar{
				Name: "GITHUB_APP_ID",
				ValueFrom: &corev1.EnvVarSource{
					SecretKeyRef: &corev1.SecretKeySelector{
						LocalObjectReference: corev1.LocalObjectReference{Name: cfg.Secrets.GithubAppSecretName},
						Key:                  githubAppIDKey,
					},
				},
			},
			corev1.EnvVar{
				Name: "GITHUB_APP_PRIVATE_KEY",
				ValueFrom: &corev1.EnvVarSource{
					SecretKeyRef: &corev1.SecretKeySelector{
						LocalObjectReference: corev1.LocalObjectReference{Name: cfg.Secrets.GithubAppSecretName},
						Key:                  githubAppPrivateKeyKey,
					},
				},
			},
		)
	}

	// User-supplied bindings are appended verbatim, plain values first.
	for _, name := range sortedKeys(p.env) {
		envVars = append(envVars, corev1.EnvVar{Name: name, Value: p.env[name]})
	}
	for _, ref := range p.envFromSecrets {
		envVars = append(envVars, corev1.EnvVar{
			Name: ref.Name,
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: ref.SecretName},
					Key:                  ref.SecretKey,
				},
			},
		})
	}

	container := corev1.Container{
		Name:            "agent",
		Image:           cfg.Agent.Image.Ref(),
		ImagePullPolicy: corev1.PullIfNotPresent,
		Command:         []string{"/bin/bash"},
		Args:            []string{TaskFilesMountPath + "/container.sh"},
		WorkingDir:      WorkspaceMountPath,
		Env:             envVars,
		VolumeMounts:    volumeMounts,
	}

	spec := batchv1.JobSpec{
		BackoffLimit:            int32Ptr(0),
		TTLSecondsAfterFinished: int32Ptr(jobTTLSeconds),
		Template: corev1.PodTemplateSpec{
			ObjectMeta: metav1.ObjectMeta{
				Labels: p.labels,
			},
			Spec: corev1.PodSpec{
				Containers:    []corev1.Container{container},
				Volumes:       volumes,
				RestartPolicy: corev1.RestartPolicyNever,
			},
		},
	}
	if cfg.Job.ActiveDeadlineSeconds > 0 {
		spec.ActiveDeadlineSeconds = int64Ptr(cfg.Job.ActiveDeadlineSeconds)
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:            p.name,
			Namespace:       p.namespace,
			Labels:          p.labels,
			OwnerReferences: []metav1.OwnerReference{p.owner},
		},
		Spec: spec,
	}
}

// buildWorkspaceClaim assembles the per-service workspace PVC. The claim is
// owned by the service, not by any one run: no owner reference is set and
// the controller never deletes it.
func buildWorkspaceClaim(namespace, service string, cfg *config.Config) *corev1.PersistentVolumeClaim {
	claim := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      naming.WorkspaceName(service),
			Namespace: namespace,
			Labels: map[string]string{
				"app":     naming.AppName,
				"service": naming.SanitizeLabel(service),
			},
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resource.MustParse(cfg.Storage.WorkspaceSize),
				},
			},
		},
	}
	if cfg.Storage.StorageClassName != "" {
		claim.Spec.StorageClassName = &cfg.Storage.StorageClassName
	}
	return claim
}

// sortedKeys gives deterministic env ordering across reconciliations.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
