package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/poiesis-run/poiesis/pkg/cluster"
	"github.com/poiesis-run/poiesis/pkg/log"
	"github.com/poiesis-run/poiesis/pkg/orchestrator"
	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
	"github.com/poiesis-run/poiesis/pkg/poiesistypes"
	"github.com/poiesis-run/poiesis/pkg/store"
)

func phaseJobName(phase, taskID string) string { return cluster.JobName(phase, taskID, 0) }

// hasWildcard reports whether p contains a glob metacharacter, mirroring
// the filer's own check: an output with one requires path_prefix so the
// filer knows where to root the non-recursive match.
func hasWildcard(p string) bool {
	for _, r := range p {
		if r == '*' || r == '?' || r == '[' {
			return true
		}
	}
	return false
}

func (s *Server) handleServiceInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ServiceInfo{
		ID:   "run.poiesis",
		Name: "Poiesis",
		Type: ServiceType{
			Group:    "org.ga4gh",
			Artifact: "tes",
			Version:  "1.1.0",
		},
		Organization: Organization{Name: "Poiesis", URL: "https://github.com/poiesis-run/poiesis"},
		Version:      "1.1.0",
		Storage:      []string{"file://", "s3://", "ftp://"},
		Extensions: ServiceExtensions{
			StdoutStderrTruncationBytes: s.Config.StdoutStderrTruncationBytes,
		},
	})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r)

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, poiesiserr.Wrap(poiesiserr.KindValidation, "decode request body", err))
		return
	}
	if len(req.Executors) == 0 {
		writeError(w, poiesiserr.New(poiesiserr.KindValidation, "executors must be non-empty"))
		return
	}
	for _, in := range req.Inputs {
		if in.URL != "" && in.Content != "" {
			writeError(w, poiesiserr.New(poiesiserr.KindValidation, "input "+in.Path+" has both url and content"))
			return
		}
		if in.URL == "" && in.Content == "" {
			writeError(w, poiesiserr.New(poiesiserr.KindValidation, "input "+in.Path+" has neither url nor content"))
			return
		}
	}
	for _, out := range req.Outputs {
		if hasWildcard(out.Path) && out.PathPrefix == "" {
			writeError(w, poiesiserr.New(poiesiserr.KindValidation, "output "+out.Path+" has a wildcard path but no path_prefix"))
			return
		}
	}

	task := &poiesistypes.Task{
		UserID:      sub.UserID,
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Inputs:      req.Inputs,
		Outputs:     req.Outputs,
		Resources:   req.Resources,
		Executors:   req.Executors,
		Volumes:     req.Volumes,
	}

	id, err := s.Store.Create(task)
	if err != nil {
		writeError(w, err)
		return
	}

	spec := orchestrator.JobSpecForTOrc(s.Config, id)
	if err := s.Driver.CreateJob(r.Context(), spec); err != nil {
		log.Errorf("launch orchestrator job for "+id, err)
		writeError(w, poiesiserr.Wrap(poiesiserr.KindClusterUnavailable, "launch orchestrator job", err))
		return
	}

	writeJSON(w, http.StatusOK, CreateTaskResponse{ID: id})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r)
	id := chi.URLParam(r, "id")

	view := poiesistypes.View(r.URL.Query().Get("view"))

	task, err := s.Store.Get(id, sub.UserID, view)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r)
	q := r.URL.Query()

	filter := store.ListFilter{
		UserID:     sub.UserID,
		NamePrefix: q.Get("name_prefix"),
		State:      poiesistypes.State(q.Get("state")),
		View:       poiesistypes.View(q.Get("view")),
		PageToken:  q.Get("page_token"),
	}
	if ps := q.Get("page_size"); ps != "" {
		if n, err := strconv.Atoi(ps); err == nil {
			filter.PageSize = n
		}
	}

	keys := q["tag_key"]
	values := q["tag_value"]
	if len(keys) > 0 {
		filter.Tags = make(map[string]string, len(keys))
		for i, k := range keys {
			v := ""
			if i < len(values) {
				v = values[i]
			}
			filter.Tags[k] = v
		}
	}

	tasks, nextToken, err := s.Store.List(filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ListTasksResponse{Tasks: tasks, NextPageToken: nextToken})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r)
	id := chi.URLParam(r, "id")

	task, err := s.Store.Get(id, sub.UserID, poiesistypes.ViewMinimal)
	if err != nil {
		writeError(w, err)
		return
	}

	if poiesistypes.IsTerminal(task.State) || task.State == poiesistypes.StateCanceling {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	if err := s.Store.Transition(id, task.State, poiesistypes.StateCanceling); err != nil {
		if poiesiserr.Is(err, poiesiserr.KindConflict) {
			// Lost the race against a concurrent phase transition; the
			// task has already moved on, which is an acceptable outcome
			// for a cancel request.
			writeJSON(w, http.StatusOK, struct{}{})
			return
		}
		writeError(w, err)
		return
	}

	for _, phase := range []string{orchestrator.PhaseFilerInput, orchestrator.PhaseExecutor, orchestrator.PhaseFilerOutput, orchestrator.PhaseOrchestrator} {
		if derr := s.Driver.DeleteJob(r.Context(), phaseJobName(phase, id), true); derr != nil {
			log.Errorf("best-effort delete job during cancel for "+id, derr)
		}
	}
	if derr := s.Driver.DeletePVC(r.Context(), orchestrator.PVCName(id)); derr != nil {
		log.Errorf("best-effort delete pvc during cancel for "+id, derr)
	}

	if err := s.Store.Transition(id, poiesistypes.StateCanceling, poiesistypes.StateCanceled); err != nil && !poiesiserr.Is(err, poiesiserr.KindConflict) {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct{}{})
}
