package api

import "github.com/poiesis-run/poiesis/pkg/poiesistypes"

// CreateTaskRequest mirrors the TES CreateTask request body. Only the
// fields a client may set are exposed; id/state/creation_time/logs are
// always server-assigned.
type CreateTaskRequest struct {
	Name        string                    `json:"name,omitempty"`
	Description string                    `json:"description,omitempty"`
	Tags        map[string]string         `json:"tags,omitempty"`
	Inputs      []poiesistypes.Input      `json:"inputs,omitempty"`
	Outputs     []poiesistypes.Output     `json:"outputs,omitempty"`
	Resources   *poiesistypes.Resources   `json:"resources,omitempty"`
	Executors   []poiesistypes.Executor   `json:"executors"`
	Volumes     []string                  `json:"volumes,omitempty"`
}

// CreateTaskResponse is the TES CreateTaskResponse body.
type CreateTaskResponse struct {
	ID string `json:"id"`
}

// ListTasksResponse is the TES ListTasksResponse body.
type ListTasksResponse struct {
	Tasks         []*poiesistypes.Task `json:"tasks"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

// ServiceInfo is the TES service-info body, extended with the
// implementation-specific storage.stdout_stderr_truncation_bytes field
// that resolves the truncation-limit Open Question (spec section 9).
type ServiceInfo struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Type           ServiceType    `json:"type"`
	Organization   Organization   `json:"organization"`
	Version        string         `json:"version"`
	Storage        []string       `json:"storage"`
	TesResourcesBackendParameters []string `json:"tesResources_backend_parameters,omitempty"`
	Extensions     ServiceExtensions `json:"extensions,omitempty"`
}

type ServiceType struct {
	Group   string `json:"group"`
	Artifact string `json:"artifact"`
	Version string `json:"version"`
}

type Organization struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ServiceExtensions carries fields beyond the core TES schema.
type ServiceExtensions struct {
	StdoutStderrTruncationBytes int `json:"stdout_stderr_truncation_bytes"`
}
