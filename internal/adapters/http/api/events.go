// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/internal/listener"
	"github.com/okian/lmsbridge/pkg/logger"
)

const maxEventBody = 64 << 10

// EventsHandler handles event requests.
type EventsHandler struct {
	events EventHandler
	logger logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(events EventHandler, l logger.Logger) *EventsHandler {
	return &EventsHandler{events: events, logger: l}
}

type ackResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// HandlePostEvent handles POST /events requests. Discarded and duplicate
// events are acknowledged with 200; an event that could not be persisted
// is answered 503 so the host may resend it.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.DomainEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	kind, err := model.ParseKind(string(ev.Kind))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	ev.Kind = kind
	if err := ev.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	res := h.events.Handle(r.Context(), ev)
	resp := ackResponse{Status: string(res.Outcome), Reason: res.Reason}
	switch res.Outcome {
	case listener.OutcomeEnqueued:
		resp.TaskID = res.TaskID.String()
		writeJSON(w, http.StatusAccepted, resp)
	case listener.OutcomeFailed:
		h.logger.Warn(r.Context(), "event not queued", logger.String("kind", kind.String()), logger.String("reason", res.Reason))
		writeError(w, http.StatusServiceUnavailable, "enqueue_failed", ErrEventFailed)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}
