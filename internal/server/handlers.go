// Copyright Contributors to the AgentRun project

package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
)

// runResponse is the flattened view of a run served to API consumers.
type runResponse struct {
	Name          string       `json:"name"`
	Namespace     string       `json:"namespace"`
	Kind          string       `json:"kind"`
	Service       string       `json:"service,omitempty"`
	TaskID        int32        `json:"taskId,omitempty"`
	RepositoryURL string       `json:"repositoryUrl"`
	Phase         string       `json:"phase"`
	Message       string       `json:"message,omitempty"`
	JobName       string       `json:"jobName,omitempty"`
	ConfigMapName string       `json:"configMapName,omitempty"`
	RetryCount    int32        `json:"retryCount,omitempty"`
	LastUpdate    *metav1.Time `json:"lastUpdate,omitempty"`
	CreatedAt     metav1.Time  `json:"createdAt"`
}

// runListResponse wraps a list of runs.
type runListResponse struct {
	Runs  []runResponse `json:"runs"`
	Total int           `json:"total"`
}

// scheduledResponse is the flattened view of a ScheduledDocsRun.
type scheduledResponse struct {
	Name             string       `json:"name"`
	Namespace        string       `json:"namespace"`
	Schedule         string       `json:"schedule"`
	Suspend          bool         `json:"suspend"`
	ActiveRun        string       `json:"activeRun,omitempty"`
	LastScheduleTime *metav1.Time `json:"lastScheduleTime,omitempty"`
	CreatedAt        metav1.Time  `json:"createdAt"`
}

type scheduledListResponse struct {
	Schedules []scheduledResponse `json:"schedules"`
	Total     int                 `json:"total"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, errorResponse{Error: err, Message: message, Code: status})
}

// runHandler serves run resources read-only.
type runHandler struct {
	client client.Client
}

func newRunHandler(c client.Client) *runHandler {
	return &runHandler{client: c}
}

func codeRunToResponse(run *agentrunv1alpha1.CodeRun) runResponse {
	return runResponse{
		Name:          run.Name,
		Namespace:     run.Namespace,
		Kind:          "CodeRun",
		Service:       run.Spec.Service,
		TaskID:        run.Spec.TaskID,
		RepositoryURL: run.Spec.RepositoryURL,
		Phase:         string(run.Status.Phase),
		Message:       run.Status.Message,
		JobName:       run.Status.JobName,
		ConfigMapName: run.Status.ConfigMapName,
		RetryCount:    run.Status.RetryCount,
		LastUpdate:    run.Status.LastUpdate,
		CreatedAt:     run.CreationTimestamp,
	}
}

func docsRunToResponse(run *agentrunv1alpha1.DocsRun) runResponse {
	return runResponse{
		Name:          run.Name,
		Namespace:     run.Namespace,
		Kind:          "DocsRun",
		Service:       run.Spec.WorkingDirectory,
		RepositoryURL: run.Spec.RepositoryURL,
		Phase:         string(run.Status.Phase),
		Message:       run.Status.Message,
		JobName:       run.Status.JobName,
		ConfigMapName: run.Status.ConfigMapName,
		RetryCount:    run.Status.RetryCount,
		LastUpdate:    run.Status.LastUpdate,
		CreatedAt:     run.CreationTimestamp,
	}
}

// ListCodeRuns returns all code runs in a namespace.
func (h *runHandler) ListCodeRuns(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")

	var list agentrunv1alpha1.CodeRunList
	if err := h.client.List(r.Context(), &list, client.InNamespace(namespace)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list code runs", err.Error())
		return
	}

	resp := runListResponse{Runs: make([]runResponse, 0, len(list.Items)), Total: len(list.Items)}
	for i := range list.Items {
		resp.Runs = append(resp.Runs, codeRunToResponse(&list.Items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCodeRun returns a specific code run.
func (h *runHandler) GetCodeRun(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")

	var run agentrunv1alpha1.CodeRun
	if err := h.client.Get(r.Context(), client.ObjectKey{Namespace: namespace, Name: name}, &run); err != nil {
		writeError(w, http.StatusNotFound, "Code run not found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, codeRunToResponse(&run))
}

// ListDocsRuns returns all docs runs in a namespace.
func (h *runHandler) ListDocsRuns(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")

	var list agentrunv1alpha1.DocsRunList
	if err := h.client.List(r.Context(), &list, client.InNamespace(namespace)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list docs runs", err.Error())
		return
	}

	resp := runListResponse{Runs: make([]runResponse, 0, len(list.Items)), Total: len(list.Items)}
	for i := range list.Items {
		resp.Runs = append(resp.Runs, docsRunToResponse(&list.Items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetDocsRun returns a specific docs run.
func (h *runHandler) GetDocsRun(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")

	var run agentrunv1alpha1.DocsRun
	if err := h.client.Get(r.Context(), client.ObjectKey{Namespace: namespace, Name: name}, &run); err != nil {
		writeError(w, http.StatusNotFound, "Docs run not found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, docsRunToResponse(&run))
}

// ListScheduled returns all scheduled docs runs in a namespace.
func (h *runHandler) ListScheduled(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")

	var list agentrunv1alpha1.ScheduledDocsRunList
	if err := h.client.List(r.Context(), &list, client.InNamespace(namespace)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list schedules", err.Error())
		return
	}

	resp := scheduledListResponse{Schedules: make([]scheduledResponse, 0, len(list.Items)), Total: len(list.Items)}
	for i := range list.Items {
		s := &list.Items[i]
		resp.Schedules = append(resp.Schedules, scheduledResponse{
			Name:             s.Name,
			Namespace:        s.Namespace,
			Schedule:         s.Spec.Schedule,
			Suspend:          s.Spec.Suspend,
			ActiveRun:        s.Status.ActiveRun,
			LastScheduleTime: s.Status.LastScheduleTime,
			CreatedAt:        s.CreationTimestamp,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetScheduled returns a specific scheduled docs run.
func (h *runHandler) GetScheduled(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")

	var s agentrunv1alpha1.ScheduledDocsRun
	if err := h.client.Get(r.Context(), client.ObjectKey{Namespace: namespace, Name: name}, &s); err != nil {
		writeError(w, http.StatusNotFound, "Scheduled docs run not found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scheduledResponse{
		Name:             s.Name,
		Namespace:        s.Namespace,
		Schedule:         s.Spec.Schedule,
		Suspend:          s.Spec.Suspend,
		ActiveRun:        s.Status.ActiveRun,
		LastScheduleTime: s.Status.LastScheduleTime,
		CreatedAt:        s.CreationTimestamp,
	})
}
