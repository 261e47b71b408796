package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/equity/internal/domain/dedupe"
	"github.com/okian/equity/internal/domain/model"
)

// AssignmentDependencies defines what assignment ingestion needs.
type AssignmentDependencies interface {
	dedupe.Deduper
	Enqueue(ctx context.Context, a model.Assignment) bool
}

// AssignmentsHandler handles assignment ingestion.
type AssignmentsHandler struct {
	deps AssignmentDependencies
}

// NewAssignmentsHandler creates a new assignments handler.
func NewAssignmentsHandler(deps AssignmentDependencies) *AssignmentsHandler {
	return &AssignmentsHandler{deps: deps}
}

// assignmentRequest mirrors the OpenAPI schema for POST /assignments.
type assignmentRequest struct {
	AssignmentID string  `json:"assignment_id"`
	Custodian    string  `json:"custodian"`
	Units        float64 `json:"units,omitempty"`
	ServiceType  string  `json:"service_type,omitempty"`
	TS           string  `json:"ts"`
}

func (a assignmentRequest) validate() (time.Time, error) {
	switch {
	case strings.TrimSpace(a.AssignmentID) == "":
		return time.Time{}, errors.New("missing assignment_id")
	case strings.TrimSpace(a.Custodian) == "":
		return time.Time{}, errors.New("missing custodian")
	case a.Units < 0:
		return time.Time{}, errors.New("units must not be negative")
	case strings.TrimSpace(a.TS) == "":
		return time.Time{}, errors.New("missing ts")
	}
	ts, err := time.Parse(time.RFC3339, a.TS)
	if err != nil {
		return time.Time{}, errors.New("invalid ts; must be RFC3339")
	}
	return ts, nil
}

// HandlePostAssignment handles POST /assignments requests.
func (h *AssignmentsHandler) HandlePostAssignment(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_assignment"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req assignmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	ts, err := req.validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	// Idempotency check - mark as seen first
	if h.deps.SeenAndRecord(r.Context(), req.AssignmentID) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}

	a := model.Assignment{
		AssignmentID: req.AssignmentID,
		Custodian:    req.Custodian,
		Units:        req.Units,
		ServiceType:  req.ServiceType,
		TS:           ts,
	}
	if ok := h.deps.Enqueue(r.Context(), a); !ok {
		// Rollback the "seen" status so the client can retry
		h.deps.Unrecord(r.Context(), req.AssignmentID)
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", Duplicate: false})
}
