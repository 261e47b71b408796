package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/equity/internal/adapters/http/api"
	service "github.com/okian/equity/internal/app"
	"github.com/okian/equity/internal/loadgen"
)

func TestRootCommand(t *testing.T) {
	convey.Convey("Given the root command", t, func() {
		root := newRootCmd()

		convey.Convey("Then run is registered with its flags", func() {
			run, _, err := root.Find([]string{"run"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(run.Name(), convey.ShouldEqual, "run")
			for _, name := range []string{"url", "assignments", "custodians", "workers", "timeout", "skew", "resubmit", "wait", "tolerance", "seed", "output"} {
				convey.So(run.Flags().Lookup(name), convey.ShouldNotBeNil)
			}
		})

		convey.Convey("Then every command is described", func() {
			for _, c := range append(root.Commands(), root) {
				convey.So(c.Short, convey.ShouldNotBeEmpty)
				convey.So(c.Long, convey.ShouldNotBeEmpty)
			}
		})

		convey.Convey("When run is given invalid flags", func() {
			root.SetArgs([]string{"run", "--workers", "0"})
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})

			convey.Convey("Then it fails validation", func() {
				err := root.Execute()
				convey.So(errors.Is(err, loadgen.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the log format is unknown", func() {
			root.SetArgs([]string{"run", "--log-format", "xml"})
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			convey.So(root.Execute(), convey.ShouldNotBeNil)
		})
	})
}

func TestRunCommand(t *testing.T) {
	convey.Convey("Given a running equity service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithWorkerCount(2))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		mux := http.NewServeMux()
		api.NewServer(svc).Register(mux)
		srv := httptest.NewServer(mux)
		defer srv.Close()

		convey.Convey("When run is executed against it", func() {
			root := newRootCmd()
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetErr(&bytes.Buffer{})
			root.SetArgs([]string{"run", "--url", srv.URL, "--assignments", "200", "--custodians", "8", "--workers", "4", "--seed", "9", "--log-format", "text"})

			err := root.Execute()

			convey.Convey("Then it prints a matching result", func() {
				convey.So(err, convey.ShouldBeNil)
				var res loadgen.Result
				convey.So(json.Unmarshal(out.Bytes(), &res), convey.ShouldBeNil)
				convey.So(res.Generated, convey.ShouldEqual, 200)
				convey.So(res.Mismatches, convey.ShouldBeEmpty)
			})
		})
	})
}
