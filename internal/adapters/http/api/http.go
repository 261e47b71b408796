// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/equity/internal/domain/audit"
	"github.com/okian/equity/internal/domain/dedupe"
	"github.com/okian/equity/internal/domain/model"
	"github.com/okian/equity/internal/domain/types"
	"github.com/okian/equity/pkg/logger"
)

const (
	defaultMaxListLimit = 100
	maxBodyBytes        = 4 << 20
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	dedupe.Deduper
	StatsProvider

	// Enqueue pushes an assignment for async tallying. Returns false on backpressure.
	Enqueue(ctx context.Context, a model.Assignment) bool

	// Read operations expose the custodian ranking.
	TopN(ctx context.Context, n int) ([]Entry, error)
	Rank(ctx context.Context, name string) (Entry, error)

	// Audit operations build fairness reports.
	Audit(ctx context.Context) (audit.Report, error)
	AuditValues(ctx context.Context, values []float64) (audit.Report, error)
	AuditTallies(ctx context.Context, tallies []model.Tally) (audit.Report, error)

	// Reset starts a new audit period.
	Reset(ctx context.Context) error
}

// Entry mirrors the read shape returned by ranking queries.
type Entry = types.CustodianEntry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	assignmentsHandler *AssignmentsHandler
	custodiansHandler  *CustodiansHandler
	auditHandler       *AuditHandler

	logger logger.Logger
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	maxListLimit int
	logger       logger.Logger
}

// WithMaxListLimit caps GET /custodians?limit.
func WithMaxListLimit(n int) ServerOption {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxListLimit = n
		}
	}
}

// WithServerLogger sets the request logger.
func WithServerLogger(l logger.Logger) ServerOption {
	return func(c *serverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...ServerOption) *Server {
	cfg := serverConfig{maxListLimit: defaultMaxListLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Get().Named("http")
	}

	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		assignmentsHandler: NewAssignmentsHandler(deps),
		custodiansHandler:  NewCustodiansHandler(deps, cfg.maxListLimit),
		auditHandler:       NewAuditHandler(deps),
		logger:             cfg.logger,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	wrap := func(h http.HandlerFunc, endpoint string) http.HandlerFunc {
		return RequestIDMiddleware(MetricsMiddleware(h, endpoint), s.logger)
	}

	mux.HandleFunc("/healthz", wrap(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", wrap(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/assignments", wrap(s.assignmentsHandler.HandlePostAssignment, "assignments"))
	mux.HandleFunc("/custodians", wrap(s.custodiansHandler.HandleList, "custodians"))
	mux.HandleFunc("/custodians/", wrap(s.custodiansHandler.HandleGet, "custodian"))
	mux.HandleFunc("/audit", wrap(s.auditHandler.HandleAudit, "audit"))
	mux.HandleFunc("/normalize", wrap(s.auditHandler.HandleNormalize, "normalize"))
	mux.HandleFunc("/tallies/reset", wrap(s.auditHandler.HandleReset, "tallies_reset"))
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
