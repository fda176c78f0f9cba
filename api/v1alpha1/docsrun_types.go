// Copyright Contributors to the AgentRun project

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// +genclient
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope="Namespaced",shortName=dr
// +kubebuilder:printcolumn:JSONPath=`.spec.workingDirectory`,name="Directory",type=string
// +kubebuilder:printcolumn:JSONPath=`.status.phase`,name="Phase",type=string
// +kubebuilder:printcolumn:JSONPath=`.metadata.creationTimestamp`,name="Age",type=date

// DocsRun requests a documentation-generation run of the coding agent.
// Docs runs are stateless: they get an ephemeral scratch workspace and
// their Jobs are deleted immediately once terminal (when cleanup is enabled).
type DocsRun struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec DocsRunSpec `json:"spec"`

	// +optional
	Status RunStatus `json:"status,omitempty"`
}

// DocsRunSpec defines the desired documentation-generation run.
type DocsRunSpec struct {
	// RepositoryURL is the origin URL of the repository to document.
	// +required
	RepositoryURL string `json:"repositoryUrl"`

	// WorkingDirectory is the subdirectory to generate documentation for.
	// It doubles as the service label on managed objects.
	// +required
	WorkingDirectory string `json:"workingDirectory"`

	// SourceBranch is the branch the agent reads source from.
	// +required
	SourceBranch string `json:"sourceBranch"`

	// Model selects the upstream model. Empty uses the agent default.
	// +optional
	Model string `json:"model,omitempty"`

	// GithubUser is the user-login identity the agent acts as.
	// Exactly one of githubUser or githubApp must be set.
	// +optional
	GithubUser string `json:"githubUser,omitempty"`

	// GithubApp is the app-installation identity the agent acts as.
	// +optional
	GithubApp string `json:"githubApp,omitempty"`

	// IncludeCodebase embeds a codebase summary into the docs prompt.
	// +optional
	IncludeCodebase bool `json:"includeCodebase,omitempty"`
}

// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// DocsRunList contains a list of DocsRun
type DocsRunList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []DocsRun `json:"items"`
}
