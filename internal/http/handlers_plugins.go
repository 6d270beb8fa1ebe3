package httpx

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/countyops/countysync/internal/domain/model"
	apperrors "github.com/countyops/countysync/internal/errors"
	"github.com/countyops/countysync/internal/plugin"
	"github.com/countyops/countysync/internal/service"
)

// maxParametersBytes caps the submitted parameters payload.
const maxParametersBytes = 1 << 20

// PluginHandlers provides the HTTP handlers for plugin job operations.
type PluginHandlers struct {
	Orchestrator *service.Orchestrator
	Registry     *plugin.Registry
}

// jobResponse is the wire shape of a job record. The "status" field always
// means job lifecycle state; transport-level shapes never reuse the name.
type jobResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
	Error  *string         `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

func toJobResponse(job *model.Job, includeResult bool) jobResponse {
	resp := jobResponse{
		JobID:  job.ID,
		Status: job.Status,
		Error:  job.Error,
	}
	if includeResult {
		resp.Result = job.Result
	}
	return resp
}

// Run handles POST /plugins/v1/{plugin}/run. The body is the plugin's opaque
// parameter payload; the response is 202 with the new job's id.
func (h *PluginHandlers) Run(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		WriteAppError(w, apperrors.Unauthorized("no resolved identity"))
		return
	}

	params, err := io.ReadAll(io.LimitReader(r.Body, maxParametersBytes))
	if err != nil {
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeValidation, "read request body"))
		return
	}
	if len(params) > 0 && !json.Valid(params) {
		WriteAppError(w, apperrors.Validation("parameters must be valid JSON"))
		return
	}

	job, err := h.Orchestrator.Submit(r.Context(), user, r.PathValue("plugin"), params)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, toJobResponse(job, false))
}

// Status handles GET /plugins/v1/{plugin}/status/{job_id}.
func (h *PluginHandlers) Status(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		WriteAppError(w, apperrors.Unauthorized("no resolved identity"))
		return
	}

	job, err := h.Orchestrator.Status(r.Context(), user, r.PathValue("plugin"), r.PathValue("job_id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, toJobResponse(job, false))
}

// Result handles GET /plugins/v1/{plugin}/result/{job_id}. An optional
// "query" parameter applies a JMESPath projection to the result payload.
// Jobs that have not reached SUCCESS yield 409.
func (h *PluginHandlers) Result(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		WriteAppError(w, apperrors.Unauthorized("no resolved identity"))
		return
	}

	job, err := h.Orchestrator.Result(
		r.Context(),
		user,
		r.PathValue("plugin"),
		r.PathValue("job_id"),
		r.URL.Query().Get("query"),
	)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, toJobResponse(job, true))
}

// Cancel handles POST /plugins/v1/{plugin}/cancel/{job_id}. The returned
// status tells the caller whether cancellation took effect; a RUNNING job
// whose plugin declined the request is reported unchanged.
func (h *PluginHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		WriteAppError(w, apperrors.Unauthorized("no resolved identity"))
		return
	}

	job, err := h.Orchestrator.Cancel(r.Context(), user, r.PathValue("plugin"), r.PathValue("job_id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, toJobResponse(job, false))
}

// ListJobs handles GET /plugins/v1/{plugin}/jobs?status=&mine=&limit=.
func (h *PluginHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		WriteAppError(w, apperrors.Unauthorized("no resolved identity"))
		return
	}

	filter, err := parseJobFilter(r, user.Username)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	jobs, err := h.Orchestrator.List(r.Context(), user, r.PathValue("plugin"), filter)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	resp := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, toJobResponse(job, false))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": resp})
}

func parseJobFilter(r *http.Request, username string) (model.JobFilter, error) {
	var filter model.JobFilter
	q := r.URL.Query()

	if raw := q.Get("status"); raw != "" {
		if err := filter.Status.UnmarshalText([]byte(raw)); err != nil {
			return filter, apperrors.Wrapf(err, apperrors.ErrCodeValidation, "invalid status filter %q", raw)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, apperrors.Validationf("invalid limit %q", raw)
		}
		filter.Limit = limit
	}
	// "mine" narrows an override-carrying caller to their own jobs; for
	// everyone else the orchestrator forces it anyway.
	if raw := q.Get("mine"); raw != "" {
		mine, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, apperrors.Validationf("invalid mine flag %q", raw)
		}
		if mine {
			filter.RequestedBy = username
		}
	}
	return filter, nil
}

// PluginHealth handles GET /plugins/v1/{plugin}/health. No authentication:
// the endpoint exposes only the plugin's name and version.
func (h *PluginHandlers) PluginHealth(w http.ResponseWriter, r *http.Request) {
	desc, err := h.Registry.Get(r.PathValue("plugin"))
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"plugin":  desc.Name,
		"version": desc.Version,
	})
}
