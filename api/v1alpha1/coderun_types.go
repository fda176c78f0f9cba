// Copyright Contributors to the AgentRun project

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// +genclient
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope="Namespaced",shortName=cr
// +kubebuilder:printcolumn:JSONPath=`.spec.service`,name="Service",type=string
// +kubebuilder:printcolumn:JSONPath=`.spec.taskId`,name="Task",type=integer
// +kubebuilder:printcolumn:JSONPath=`.status.phase`,name="Phase",type=string
// +kubebuilder:printcolumn:JSONPath=`.metadata.creationTimestamp`,name="Age",type=date

// CodeRun requests a code-implementation run of the coding agent against a
// service's repository. Each context-version increment produces a fresh Job
// and task-file bundle; the per-service workspace PVC is shared across runs.
type CodeRun struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec CodeRunSpec `json:"spec"`

	// +optional
	Status RunStatus `json:"status,omitempty"`
}

// CodeRunSpec defines the desired code-implementation run.
type CodeRunSpec struct {
	// TaskID is the numeric identifier of the task the agent should implement.
	// +required
	TaskID int32 `json:"taskId"`

	// Service is the target service label. Must match [a-z0-9-]+.
	// The per-service workspace PVC is derived from this value.
	// +required
	// +kubebuilder:validation:Pattern=`^[a-z0-9-]+$`
	Service string `json:"service"`

	// RepositoryURL is the origin URL of the code repository.
	// +required
	RepositoryURL string `json:"repositoryUrl"`

	// DocsRepositoryURL is the origin URL of the documentation repository.
	// +required
	DocsRepositoryURL string `json:"docsRepositoryUrl"`

	// DocsProjectDirectory is the subdirectory within the docs repository.
	// +optional
	DocsProjectDirectory string `json:"docsProjectDirectory,omitempty"`

	// WorkingDirectory is the subdirectory the agent works in.
	// Defaults to the service name when empty.
	// +optional
	WorkingDirectory string `json:"workingDirectory,omitempty"`

	// Model selects the upstream model. Empty uses the agent default.
	// +optional
	Model string `json:"model,omitempty"`

	// GithubUser is the user-login identity the agent acts as.
	// Exactly one of githubUser or githubApp must be set.
	// +optional
	GithubUser string `json:"githubUser,omitempty"`

	// GithubApp is the app-installation identity the agent acts as.
	// Exactly one of githubUser or githubApp must be set.
	// +optional
	GithubApp string `json:"githubApp,omitempty"`

	// ContextVersion is a user-controlled monotonic integer. Incrementing it
	// signals "retry as a fresh attempt": names of the Job and the bundle
	// incorporate it, so retries produce new objects.
	// +optional
	// +kubebuilder:default=1
	// +kubebuilder:validation:Minimum=1
	ContextVersion int32 `json:"contextVersion,omitempty"`

	// DocsBranch is the documentation branch the agent reads.
	// +optional
	// +kubebuilder:default="main"
	DocsBranch string `json:"docsBranch,omitempty"`

	// ContinueSession asks the agent to resume its previous session.
	// Effective continuation is also forced when retryCount > 0.
	// +optional
	ContinueSession bool `json:"continueSession,omitempty"`

	// OverwriteMemory replaces the agent memory document instead of appending.
	// +optional
	OverwriteMemory bool `json:"overwriteMemory,omitempty"`

	// Env holds plain environment bindings appended to the agent container.
	// +optional
	Env map[string]string `json:"env,omitempty"`

	// EnvFromSecrets holds secret-backed environment bindings.
	// +optional
	EnvFromSecrets []EnvFromSecret `json:"envFromSecrets,omitempty"`
}

// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// CodeRunList contains a list of CodeRun
type CodeRunList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []CodeRun `json:"items"`
}
