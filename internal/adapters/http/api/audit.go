package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/equity/internal/domain/audit"
	"github.com/okian/equity/internal/domain/model"
	"github.com/okian/equity/internal/domain/names"
)

// AuditDependencies defines the fairness report operations.
type AuditDependencies interface {
	Audit(ctx context.Context) (audit.Report, error)
	AuditValues(ctx context.Context, values []float64) (audit.Report, error)
	AuditTallies(ctx context.Context, tallies []model.Tally) (audit.Report, error)
	Reset(ctx context.Context) error
}

// AuditHandler serves fairness reports and name utilities.
type AuditHandler struct {
	deps AuditDependencies
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(deps AuditDependencies) *AuditHandler {
	return &AuditHandler{deps: deps}
}

// auditRequest carries exactly one of Values or Entities.
type auditRequest struct {
	Values   []float64     `json:"values"`
	Entities []model.Tally `json:"entities"`
}

func (a auditRequest) validate() error {
	switch {
	case a.Values == nil && a.Entities == nil:
		return errors.New("one of values or entities is required")
	case a.Values != nil && a.Entities != nil:
		return errors.New("values and entities are mutually exclusive")
	}
	return nil
}

// HandleAudit handles GET /audit (live tallies) and POST /audit
// (caller-supplied values or entities).
func (h *AuditHandler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	const op = "api.audit"
	switch r.Method {
	case http.MethodGet:
		report, err := h.deps.Audit(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", WrapKind(op, ErrInternal, err))
			return
		}
		writeJSON(w, http.StatusOK, report)

	case http.MethodPost:
		var req auditRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}

		var (
			report audit.Report
			err    error
		)
		if req.Values != nil {
			report, err = h.deps.AuditValues(r.Context(), req.Values)
		} else {
			report, err = h.deps.AuditTallies(r.Context(), req.Entities)
		}
		if err != nil {
			if errors.Is(err, audit.ErrInvalidValue) || errors.Is(err, audit.ErrTooManyEntities) {
				writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", WrapKind(op, ErrInternal, err))
			return
		}
		writeJSON(w, http.StatusOK, report)

	default:
		http.NotFound(w, r)
	}
}

type normalizeRequest struct {
	Name string `json:"name"`
}

type normalizeResponse struct {
	Name       string `json:"name"`
	Normalized string `json:"normalized"`
}

// HandleNormalize handles POST /normalize requests.
func (h *AuditHandler) HandleNormalize(w http.ResponseWriter, r *http.Request) {
	const op = "api.normalize"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req normalizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing name")))
		return
	}
	writeJSON(w, http.StatusOK, normalizeResponse{Name: req.Name, Normalized: names.Normalize(req.Name)})
}

// HandleReset handles POST /tallies/reset requests.
func (h *AuditHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	const op = "api.reset_tallies"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if err := h.deps.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", WrapKind(op, ErrInternal, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
