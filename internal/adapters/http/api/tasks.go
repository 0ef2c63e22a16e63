package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/okian/lmsbridge/internal/adapters/repository"
	"github.com/okian/lmsbridge/internal/domain/model"
)

const defaultListLimit = 50

// TasksHandler serves queue inspection and manual requeue.
type TasksHandler struct {
	admin TaskAdmin
}

// NewTasksHandler creates a new tasks handler.
func NewTasksHandler(admin TaskAdmin) *TasksHandler {
	return &TasksHandler{admin: admin}
}

// HandleList handles GET /tasks?status=&limit=.
func (h *TasksHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := model.TaskStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.TaskPending
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	tasks, err := h.admin.Tasks(r.Context(), status, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// HandleGet handles GET /tasks/{id}.
func (h *TasksHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: task id: %w", ErrBadRequest, err))
		return
	}
	task, err := h.admin.Task(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// HandleRequeue handles POST /tasks/{id}/requeue.
func (h *TasksHandler) HandleRequeue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: task id: %w", ErrBadRequest, err))
		return
	}
	if err := h.admin.Requeue(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: string(model.TaskPending), TaskID: id.String()})
}

// HandleFailures handles GET /failures?limit=.
func (h *TasksHandler) HandleFailures(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	recs, err := h.admin.Failures(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if recs == nil {
		recs = []model.FailureRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: limit: %w", ErrBadRequest, err)
	}
	return n, nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, repository.ErrInvalidLimit):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, repository.ErrInvalidStatus):
		writeError(w, http.StatusConflict, "invalid_status", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}
