package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/okian/equity/internal/adapters/http/api"
	"github.com/okian/equity/internal/adapters/repository"
	"github.com/okian/equity/internal/domain/audit"
	"github.com/okian/equity/internal/domain/model"
	"github.com/okian/equity/internal/domain/names"
	. "github.com/smartystreets/goconvey/convey"
)

// mockDependencies is an in-memory stand-in for the service.
type mockDependencies struct {
	mu        sync.Mutex
	seen      map[string]bool
	enqueued  []model.Assignment
	refuse    bool
	rows      map[string]api.Entry
	topNErr   error
	auditErr  error
	resets    int
	lastAudit string
}

func newMockDependencies() *mockDependencies {
	return &mockDependencies{
		seen: map[string]bool{},
		rows: map[string]api.Entry{
			"PEDRO GOMEZ": {Rank: 1, Key: "PEDRO GOMEZ", Name: "Pedro Gómez", Assignments: 100},
			"ANA RUIZ":    {Rank: 2, Key: "ANA RUIZ", Name: "Ana Ruiz", Assignments: 10},
		},
	}
}

func (m *mockDependencies) SeenAndRecord(_ context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[id] {
		return true
	}
	m.seen[id] = true
	return false
}

func (m *mockDependencies) Unrecord(_ context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
}

func (m *mockDependencies) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.seen))
}

func (m *mockDependencies) Enqueue(_ context.Context, a model.Assignment) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refuse {
		return false
	}
	m.enqueued = append(m.enqueued, a)
	return true
}

func (m *mockDependencies) TopN(_ context.Context, n int) ([]api.Entry, error) {
	if m.topNErr != nil {
		return nil, m.topNErr
	}
	out := []api.Entry{m.rows["PEDRO GOMEZ"], m.rows["ANA RUIZ"]}
	if n < len(out) {
		out = out[:n]
	}
	return out, nil
}

func (m *mockDependencies) Rank(_ context.Context, name string) (api.Entry, error) {
	e, ok := m.rows[names.Normalize(name)]
	if !ok {
		return api.Entry{}, repository.ErrNotFound
	}
	return e, nil
}

func (m *mockDependencies) Audit(ctx context.Context) (audit.Report, error) {
	if m.auditErr != nil {
		return audit.Report{}, m.auditErr
	}
	m.lastAudit = "live"
	return audit.Build(ctx, []model.Tally{{Name: "Pedro Gómez", Value: 100}, {Name: "Ana Ruiz", Value: 10}})
}

func (m *mockDependencies) AuditValues(ctx context.Context, values []float64) (audit.Report, error) {
	m.lastAudit = "values"
	return audit.FromValues(ctx, values)
}

func (m *mockDependencies) AuditTallies(ctx context.Context, tallies []model.Tally) (audit.Report, error) {
	m.lastAudit = "tallies"
	return audit.Build(ctx, tallies)
}

func (m *mockDependencies) Reset(_ context.Context) error {
	m.resets++
	return nil
}

func (m *mockDependencies) GetStats() map[string]interface{} {
	return map[string]interface{}{"started": true, "custodians": len(m.rows)}
}

func newTestMux(deps api.Dependencies, opts ...api.ServerOption) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, opts...).Register(mux)
	return mux
}

func do(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](rec *httptest.ResponseRecorder) T {
	var v T
	_ = json.Unmarshal(rec.Body.Bytes(), &v)
	return v
}

func validAssignment(id string) string {
	return fmt.Sprintf(`{"assignment_id":%q,"custodian":"Pedro Gómez","units":2,"service_type":"escolta","ts":"2025-03-01T10:00:00Z"}`, id)
}

func TestAssignmentsHandler(t *testing.T) {
	Convey("Given the API with a mock service", t, func() {
		deps := newMockDependencies()
		mux := newTestMux(deps)

		Convey("When a valid assignment is posted", func() {
			rec := do(mux, http.MethodPost, "/assignments", validAssignment("svc-1"))

			Convey("Then it is accepted and enqueued", func() {
				So(rec.Code, ShouldEqual, http.StatusAccepted)
				So(decode[map[string]any](rec)["status"], ShouldEqual, "accepted")
				So(deps.enqueued, ShouldHaveLength, 1)
				So(deps.enqueued[0].Units, ShouldEqual, 2.0)
				So(deps.enqueued[0].TS.Year(), ShouldEqual, 2025)
			})

			Convey("Then a replay is acknowledged as duplicate", func() {
				rec := do(mux, http.MethodPost, "/assignments", validAssignment("svc-1"))
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(decode[map[string]any](rec)["duplicate"], ShouldEqual, true)
				So(deps.enqueued, ShouldHaveLength, 1)
			})
		})

		Convey("When the queue refuses the assignment", func() {
			deps.refuse = true
			rec := do(mux, http.MethodPost, "/assignments", validAssignment("svc-2"))

			Convey("Then 429 is returned and the id is released", func() {
				So(rec.Code, ShouldEqual, http.StatusTooManyRequests)
				So(decode[map[string]any](rec)["code"], ShouldEqual, "backpressure")
				So(deps.Size(), ShouldEqual, int64(0))
			})
		})

		Convey("When invalid assignments are posted", func() {
			bodies := []string{
				`not json`,
				`{"custodian":"Ana","ts":"2025-03-01T10:00:00Z"}`,
				`{"assignment_id":"x","ts":"2025-03-01T10:00:00Z"}`,
				`{"assignment_id":"x","custodian":"Ana","units":-1,"ts":"2025-03-01T10:00:00Z"}`,
				`{"assignment_id":"x","custodian":"Ana"}`,
				`{"assignment_id":"x","custodian":"Ana","ts":"yesterday"}`,
			}
			for _, body := range bodies {
				rec := do(mux, http.MethodPost, "/assignments", body)
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
			}
			So(deps.enqueued, ShouldBeEmpty)
		})

		Convey("When the wrong method is used", func() {
			rec := do(mux, http.MethodGet, "/assignments", "")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestCustodiansHandler(t *testing.T) {
	Convey("Given the API with a list limit of 5", t, func() {
		deps := newMockDependencies()
		mux := newTestMux(deps, api.WithMaxListLimit(5))

		Convey("When the ranking is listed", func() {
			rec := do(mux, http.MethodGet, "/custodians?limit=1", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			rows := decode[[]api.Entry](rec)
			So(rows, ShouldHaveLength, 1)
			So(rows[0].Key, ShouldEqual, "PEDRO GOMEZ")
		})

		Convey("When no limit is given", func() {
			rec := do(mux, http.MethodGet, "/custodians", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode[[]api.Entry](rec), ShouldHaveLength, 2)
		})

		Convey("When the limit is bad or too large", func() {
			for _, q := range []string{"limit=0", "limit=abc", "limit=-3", "limit=6"} {
				rec := do(mux, http.MethodGet, "/custodians?"+q, "")
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
			}
		})

		Convey("When the store fails", func() {
			deps.topNErr = errors.New("boom")
			rec := do(mux, http.MethodGet, "/custodians?limit=2", "")
			So(rec.Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("When a custodian is fetched by a spelling variant", func() {
			rec := do(mux, http.MethodGet, "/custodians/"+url.PathEscape("pedro  GOMEZ"), "")

			Convey("Then the canonical row is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(decode[api.Entry](rec).Name, ShouldEqual, "Pedro Gómez")
			})
		})

		Convey("When an unknown custodian is fetched", func() {
			rec := do(mux, http.MethodGet, "/custodians/Nadie", "")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
			So(decode[map[string]any](rec)["code"], ShouldEqual, "not_found")
		})

		Convey("When the path has no name", func() {
			rec := do(mux, http.MethodGet, "/custodians/", "")
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestAuditHandler(t *testing.T) {
	Convey("Given the API", t, func() {
		deps := newMockDependencies()
		mux := newTestMux(deps)

		Convey("When the live audit is requested", func() {
			rec := do(mux, http.MethodGet, "/audit", "")

			Convey("Then the report is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				r := decode[audit.Report](rec)
				So(r.Entities, ShouldEqual, 2)
				So(deps.lastAudit, ShouldEqual, "live")
			})
		})

		Convey("When the live audit fails", func() {
			deps.auditErr = errors.New("not started")
			rec := do(mux, http.MethodGet, "/audit", "")
			So(rec.Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("When values are posted", func() {
			rec := do(mux, http.MethodPost, "/audit", `{"values":[100,10,10,10,10,10,10,10,10,10]}`)

			Convey("Then the report flags concentration", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				r := decode[audit.Report](rec)
				So(r.Concentrated, ShouldBeTrue)
				So(r.GiniBand, ShouldEqual, "alto")
				So(r.PalmaDefined, ShouldBeTrue)
				So(deps.lastAudit, ShouldEqual, "values")
			})
		})

		Convey("When entities are posted", func() {
			rec := do(mux, http.MethodPost, "/audit", `{"entities":[{"name":"Lucía","value":3},{"name":"LUCIA","value":2}]}`)

			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode[audit.Report](rec).Entities, ShouldEqual, 1)
			So(deps.lastAudit, ShouldEqual, "tallies")
		})

		Convey("When the body is malformed", func() {
			for _, body := range []string{
				`{`, `{}`, `{"values":[1],"entities":[]}`, `{"values":[1,-1]}`,
				`{"entities":[{"name":"","value":50},{"name":"Ana","value":10}]}`,
			} {
				rec := do(mux, http.MethodPost, "/audit", body)
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
			}
		})

		Convey("When a name is normalised", func() {
			rec := do(mux, http.MethodPost, "/normalize", `{"name":"García Pérez  "}`)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode[map[string]string](rec)["normalized"], ShouldEqual, "GARCIA PEREZ")

			So(do(mux, http.MethodPost, "/normalize", `{"name":"  "}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/normalize", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When the tallies are reset", func() {
			rec := do(mux, http.MethodPost, "/tallies/reset", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(deps.resets, ShouldEqual, 1)
			So(do(mux, http.MethodGet, "/tallies/reset", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestOperationalRoutes(t *testing.T) {
	Convey("Given the API", t, func() {
		mux := newTestMux(newMockDependencies())

		Convey("Then /healthz reports ok with a request id", func() {
			rec := do(mux, http.MethodGet, "/healthz", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode[map[string]string](rec)["status"], ShouldEqual, "ok")
			_, err := uuid.Parse(rec.Header().Get(api.RequestIDHeader))
			So(err, ShouldBeNil)
		})

		Convey("Then a valid incoming request id is echoed", func() {
			id := uuid.NewString()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set(api.RequestIDHeader, id)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			So(rec.Header().Get(api.RequestIDHeader), ShouldEqual, id)
		})

		Convey("Then /stats returns the provider's map", func() {
			rec := do(mux, http.MethodGet, "/stats", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode[map[string]any](rec)["started"], ShouldEqual, true)
		})

		Convey("Then /metrics exposes the equity namespace", func() {
			do(mux, http.MethodGet, "/healthz", "")
			rec := do(mux, http.MethodGet, "/metrics", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "equity_audit_http_requests_total")
		})
	})
}

func TestErrorHelpers(t *testing.T) {
	Convey("Given wrapped API errors", t, func() {
		cause := errors.New("disk on fire")

		Convey("Then kinds and causes are both reachable", func() {
			err := api.WrapKind("api.op", api.ErrInternal, cause)
			So(errors.Is(err, api.ErrInternal), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: internal error: disk on fire")
		})

		Convey("Then NewKind and Wrap format the op", func() {
			So(api.NewKind("api.op", api.ErrBadRequest).Error(), ShouldEqual, "api.op: bad request")
			So(api.Wrap("api.op", cause).Error(), ShouldEqual, "api.op: disk on fire")
			So(api.Wrap("api.op", nil), ShouldBeNil)
		})
	})

	Convey("RequestID is empty outside a request", t, func() {
		So(api.RequestID(context.Background()), ShouldEqual, "")
	})
}
