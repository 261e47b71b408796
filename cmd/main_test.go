package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/okian/equity/internal/adapters/http/api"
	"github.com/okian/equity/internal/config"
	"github.com/okian/equity/internal/domain/audit"
	"github.com/okian/equity/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func testConfig() *config.Config {
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.QueueSize = 1000
	cfg.DedupeSize = 1000
	cfg.MaxListLimit = 10
	return cfg
}

func postAssignment(srv *httptest.Server, id, custodian string) (int, error) {
	body := fmt.Sprintf(`{"assignment_id":%q,"custodian":%q,"ts":"2025-03-01T10:00:00Z"}`, id, custodian)
	resp, err := http.Post(srv.URL+"/assignments", "application/json", strings.NewReader(body)) //nolint:noctx // test helper
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func getJSON(srv *httptest.Server, path string, v any) (int, error) {
	resp, err := http.Get(srv.URL + path) //nolint:noctx // test helper
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func TestHandlerEndToEnd(t *testing.T) {
	convey.Convey("Given a started service behind the full handler", t, func() {
		ctx := context.Background()
		cfg := testConfig()
		svc := newService(cfg)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		srv := httptest.NewServer(newHandler(ctx, svc, cfg))
		defer srv.Close()

		convey.Convey("When spelling variants of one custodian are submitted", func() {
			variants := []string{"José Pérez", "JOSE PEREZ", "  jose   perez ", "Jose Perez"}
			for i, name := range variants {
				code, err := postAssignment(srv, fmt.Sprintf("jp-%d", i), name)
				convey.So(err, convey.ShouldBeNil)
				convey.So(code, convey.ShouldEqual, http.StatusAccepted)
			}
			code, err := postAssignment(srv, "ana-1", "Ana Ruiz")
			convey.So(err, convey.ShouldBeNil)
			convey.So(code, convey.ShouldEqual, http.StatusAccepted)

			code, err = postAssignment(srv, "jp-0", "José Pérez")
			convey.So(err, convey.ShouldBeNil)
			convey.So(code, convey.ShouldEqual, http.StatusOK)

			var entry api.Entry
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				code, _ = getJSON(srv, "/custodians/"+url.PathEscape("jose perez"), &entry)
				if code == http.StatusOK && entry.Assignments == 4.0 {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}

			convey.Convey("Then they are tallied under one key", func() {
				convey.So(code, convey.ShouldEqual, http.StatusOK)
				convey.So(entry.Key, convey.ShouldEqual, "JOSE PEREZ")
				convey.So(entry.Assignments, convey.ShouldEqual, 4.0)
				convey.So(entry.Rank, convey.ShouldEqual, 1)
			})

			convey.Convey("Then the live audit covers two custodians", func() {
				var report audit.Report
				code, err := getJSON(srv, "/audit", &report)
				convey.So(err, convey.ShouldBeNil)
				convey.So(code, convey.ShouldEqual, http.StatusOK)
				convey.So(report.Entities, convey.ShouldEqual, 2)
				convey.So(report.Total, convey.ShouldEqual, 5.0)
			})

			convey.Convey("Then the list limit follows the configuration", func() {
				code, err := getJSON(srv, "/custodians?limit=11", nil)
				convey.So(err, convey.ShouldBeNil)
				convey.So(code, convey.ShouldEqual, http.StatusBadRequest)
			})
		})

		convey.Convey("When the documentation routes are requested", func() {
			resp, err := http.Get(srv.URL + "/openapi.yaml") //nolint:noctx // test
			convey.So(err, convey.ShouldBeNil)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
		})
	})
}

func TestServiceContext(t *testing.T) {
	convey.Convey("Given a service started from a signal context", t, func() {
		parent, cancel := context.WithCancel(context.Background())
		cfg := testConfig()
		svc := newService(cfg)
		convey.So(svc.Start(serviceContext(parent)), convey.ShouldBeNil)
		defer svc.Stop()

		convey.Convey("When the signal context is cancelled", func() {
			cancel()

			convey.Convey("Then the derived context stays live", func() {
				convey.So(serviceContext(parent).Err(), convey.ShouldBeNil)
				convey.So(parent.Err(), convey.ShouldNotBeNil)
			})

			convey.Convey("Then workers still tally what is enqueued", func() {
				ctx := context.Background()
				a := model.Assignment{AssignmentID: "late-1", Custodian: "Ana Ruiz", Units: 1, TS: time.Now()}
				convey.So(svc.Enqueue(ctx, a), convey.ShouldBeTrue)

				var got float64
				deadline := time.Now().Add(2 * time.Second)
				for time.Now().Before(deadline) {
					if e, err := svc.Rank(ctx, "ana ruiz"); err == nil {
						got = e.Assignments
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				convey.So(got, convey.ShouldEqual, 1.0)
			})
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a configuration listening on an ephemeral port", t, func() {
		cfg := testConfig()
		cfg.Addr = "127.0.0.1:0"

		convey.Convey("When the context is cancelled", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			convey.Convey("Then run shuts down cleanly", func() {
				convey.So(run(ctx, cfg), convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given an address that cannot be bound", t, func() {
		cfg := testConfig()
		cfg.Addr = "127.0.0.1:99999"

		convey.Convey("Then run reports the listen failure", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := run(ctx, cfg)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "http server")
		})
	})
}
