package api

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/okian/lmsbridge/internal/domain/payload"
)

type queryArgs struct {
	username string
	courseID int64
}

type queryFunc func(ctx context.Context, q Queries, args queryArgs) (any, error)

// queryTable is the closed set of lookups exposed under /query/{function}.
var queryTable = map[string]struct {
	needsUser bool
	fn        queryFunc
}{
	"course_user_info": {needsUser: true, fn: func(ctx context.Context, q Queries, a queryArgs) (any, error) {
		return q.CourseUserInfo(ctx, a.username, a.courseID)
	}},
	"user_grades": {needsUser: true, fn: func(ctx context.Context, q Queries, a queryArgs) (any, error) {
		return q.UserGrades(ctx, a.username, a.courseID)
	}},
	"grade_items": {fn: func(ctx context.Context, q Queries, a queryArgs) (any, error) {
		return q.CourseItems(ctx, a.courseID)
	}},
}

// QueryFunctions lists the names served under /query.
func QueryFunctions() []string {
	return slices.Sorted(maps.Keys(queryTable))
}

// QueryHandler dispatches /query/{function}.
type QueryHandler struct {
	queries Queries
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(q Queries) *QueryHandler {
	return &QueryHandler{queries: q}
}

// HandleQuery handles GET /query/{function}?username=&courseid=.
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "function")
	entry, ok := queryTable[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_function", fmt.Errorf("%w: %q", ErrUnknownFunction, name))
		return
	}

	args := queryArgs{username: strings.TrimSpace(r.URL.Query().Get("username"))}
	courseID, err := strconv.ParseInt(r.URL.Query().Get("courseid"), 10, 64)
	if err != nil || courseID <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: courseid must be a positive integer", ErrBadRequest))
		return
	}
	args.courseID = courseID
	if entry.needsUser && args.username == "" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: username is required", ErrBadRequest))
		return
	}

	out, err := entry.fn(r.Context(), h.queries, args)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.Is(err, payload.ErrUnknownUser), errors.Is(err, payload.ErrUnknownCourse):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, payload.ErrProvider):
		writeError(w, http.StatusBadGateway, "provider_error", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}
