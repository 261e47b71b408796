package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/equity/internal/adapters/repository"
)

// CustodianDependencies defines the ranking reads.
type CustodianDependencies interface {
	TopN(ctx context.Context, n int) ([]Entry, error)
	Rank(ctx context.Context, name string) (Entry, error)
}

// CustodiansHandler serves the custodian ranking.
type CustodiansHandler struct {
	deps     CustodianDependencies
	maxLimit int
}

// NewCustodiansHandler creates a new custodians handler.
func NewCustodiansHandler(deps CustodianDependencies, maxLimit int) *CustodiansHandler {
	if maxLimit < 1 {
		maxLimit = defaultMaxListLimit
	}
	return &CustodiansHandler{deps: deps, maxLimit: maxLimit}
}

// HandleList handles GET /custodians?limit=N requests. A missing limit
// returns up to the configured maximum.
func (h *CustodiansHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_custodians"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	n := h.maxLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		n, err = strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", NewKind(op, ErrBadRequest))
		return
	}
	entries, err := h.deps.TopN(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", WrapKind(op, ErrInternal, err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleGet handles GET /custodians/{name} requests. Any spelling variant
// of the name resolves to the same row.
func (h *CustodiansHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_custodian"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/custodians/")
	if strings.TrimSpace(name) == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	entry, err := h.deps.Rank(r.Context(), name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", WrapKind(op, ErrInternal, err))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
