// Copyright Contributors to the AgentRun project

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// RunPhase represents the current phase of a run.
// +kubebuilder:validation:Enum=Pending;Running;Succeeded;Failed
type RunPhase string

const (
	// RunPhasePending means the run has been accepted but no Job exists yet.
	RunPhasePending RunPhase = "Pending"
	// RunPhaseRunning means the controller has created (or adopted) a Job for the run.
	RunPhaseRunning RunPhase = "Running"
	// RunPhaseSucceeded means the Job completed with a Complete=True condition.
	RunPhaseSucceeded RunPhase = "Succeeded"
	// RunPhaseFailed means the Job reported a Failed=True condition or failed pods.
	RunPhaseFailed RunPhase = "Failed"
)

// IsTerminal reports whether the phase is Succeeded or Failed.
// Transitions out of a terminal phase are never performed.
func (p RunPhase) IsTerminal() bool {
	return p == RunPhaseSucceeded || p == RunPhaseFailed
}

const (
	// ReasonJobStarted is the condition reason used when a Job is created or adopted.
	ReasonJobStarted = "JobStarted"
	// ReasonJobCompleted is the condition reason for successful completion.
	ReasonJobCompleted = "JobCompleted"
	// ReasonJobFailed is the condition reason for failure.
	ReasonJobFailed = "JobFailed"
	// ReasonUnknown is the fallback condition reason.
	ReasonUnknown = "Unknown"
)

// EnvFromSecret binds one environment variable to a key in a Secret.
type EnvFromSecret struct {
	// Name of the environment variable inside the agent container.
	// +required
	Name string `json:"name"`

	// SecretName is the name of the Secret in the run's namespace.
	// +required
	SecretName string `json:"secretName"`

	// SecretKey is the key within the Secret.
	// +required
	SecretKey string `json:"secretKey"`
}

// RunStatus is the observed state shared by CodeRun and DocsRun.
// The controller writes it exclusively through merge patches on the
// status subresource; the spec is never written by the controller.
type RunStatus struct {
	// Phase of the run. Forward-only: Pending -> Running -> Succeeded|Failed.
	// +optional
	Phase RunPhase `json:"phase,omitempty"`

	// Message is a human-readable summary for the current phase.
	// +optional
	Message string `json:"message,omitempty"`

	// LastUpdate is the time of the most recent status patch.
	// +optional
	LastUpdate *metav1.Time `json:"lastUpdate,omitempty"`

	// JobName is the name of the Job currently associated with the run.
	// +optional
	JobName string `json:"jobName,omitempty"`

	// ConfigMapName is the name of the task-file bundle ConfigMap.
	// +optional
	ConfigMapName string `json:"configMapName,omitempty"`

	// RetryCount counts user-initiated retries (context-version increments).
	// Preserved across status patches.
	// +optional
	RetryCount int32 `json:"retryCount,omitempty"`

	// SessionID is an opaque identifier populated by the agent itself.
	// The controller only preserves it across patches.
	// +optional
	SessionID string `json:"sessionId,omitempty"`

	// Conditions holds the latest observed condition for the run.
	// +optional
	// +listType=map
	// +listMapKey=type
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}
