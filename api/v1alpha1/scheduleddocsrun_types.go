// Copyright Contributors to the AgentRun project

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// +genclient
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope="Namespaced",shortName=sdr
// +kubebuilder:printcolumn:JSONPath=`.spec.schedule`,name="Schedule",type=string
// +kubebuilder:printcolumn:JSONPath=`.spec.suspend`,name="Suspend",type=boolean
// +kubebuilder:printcolumn:JSONPath=`.status.lastScheduleTime`,name="Last Run",type=date
// +kubebuilder:printcolumn:JSONPath=`.metadata.creationTimestamp`,name="Age",type=date

// ScheduledDocsRun creates DocsRun objects on a cron schedule, for example
// nightly regeneration of a service's documentation.
type ScheduledDocsRun struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec ScheduledDocsRunSpec `json:"spec"`

	// +optional
	Status ScheduledDocsRunStatus `json:"status,omitempty"`
}

// ScheduledDocsRunSpec defines the schedule and the DocsRun template.
type ScheduledDocsRunSpec struct {
	// Schedule in standard cron format (e.g. "0 3 * * *").
	// +required
	Schedule string `json:"schedule"`

	// Suspend stops new DocsRuns from being created without deleting
	// this object. Already-running DocsRuns are not affected.
	// +optional
	Suspend bool `json:"suspend,omitempty"`

	// Template is the DocsRunSpec used for each scheduled run.
	// +required
	Template DocsRunSpec `json:"template"`

	// SuccessfulRunsHistoryLimit is how many succeeded DocsRuns to keep.
	// +optional
	// +kubebuilder:default=3
	SuccessfulRunsHistoryLimit *int32 `json:"successfulRunsHistoryLimit,omitempty"`

	// FailedRunsHistoryLimit is how many failed DocsRuns to keep.
	// +optional
	// +kubebuilder:default=1
	FailedRunsHistoryLimit *int32 `json:"failedRunsHistoryLimit,omitempty"`
}

// ScheduledDocsRunStatus is the observed state of a ScheduledDocsRun.
type ScheduledDocsRunStatus struct {
	// LastScheduleTime is when a DocsRun was last created for this schedule.
	// +optional
	LastScheduleTime *metav1.Time `json:"lastScheduleTime,omitempty"`

	// ActiveRun is the name of the most recently created DocsRun, if it has
	// not reached a terminal phase.
	// +optional
	ActiveRun string `json:"activeRun,omitempty"`

	// Conditions holds the latest observed conditions.
	// +optional
	// +listType=map
	// +listMapKey=type
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// ScheduledDocsRunList contains a list of ScheduledDocsRun
type ScheduledDocsRunList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ScheduledDocsRun `json:"items"`
}
