package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/equity/internal/adapters/repository"
	"github.com/okian/equity/internal/domain/audit"
	"github.com/okian/equity/internal/domain/model"
	"github.com/okian/equity/internal/domain/stats"
	"github.com/smartystreets/goconvey/convey"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func assignment(id, custodian string, units float64) model.Assignment {
	return model.Assignment{AssignmentID: id, Custodian: custodian, Units: units, TS: time.Now()}
}

func TestServiceLifecycle(t *testing.T) {
	convey.Convey("Given a service that was never started", t, func() {
		s := New()
		ctx := context.Background()

		convey.Convey("Then pipeline operations report it", func() {
			convey.So(s.Enqueue(ctx, assignment("a", "Ana", 1)), convey.ShouldBeFalse)
			convey.So(s.SeenAndRecord(ctx, "a"), convey.ShouldBeFalse)
			convey.So(s.Size(), convey.ShouldEqual, int64(0))
			_, err := s.TopN(ctx, 5)
			convey.So(errors.Is(err, ErrNotStarted), convey.ShouldBeTrue)
			_, err = s.Audit(ctx)
			convey.So(errors.Is(err, ErrNotStarted), convey.ShouldBeTrue)
			convey.So(errors.Is(s.Reset(ctx), ErrNotStarted), convey.ShouldBeTrue)
			convey.So(s.GetStats()["started"], convey.ShouldEqual, false)
		})

		convey.Convey("Then stateless audits still work", func() {
			r, err := s.AuditValues(ctx, []float64{1, 1, 1, 1})
			convey.So(err, convey.ShouldBeNil)
			convey.So(r.Gini, convey.ShouldEqual, 0.0)
		})

		convey.Convey("Then Stop is a no-op", func() {
			s.Stop()
		})
	})

	convey.Convey("Given a started service", t, func() {
		s := New(WithWorkerCount(2), WithQueueSize(64))
		ctx := context.Background()
		convey.So(s.Start(ctx), convey.ShouldBeNil)
		convey.So(s.Start(ctx), convey.ShouldBeNil)

		convey.Convey("When it is stopped twice", func() {
			s.Stop()
			s.Stop()

			convey.So(s.GetStats()["started"], convey.ShouldEqual, false)
		})
	})
}

func TestServicePipeline(t *testing.T) {
	convey.Convey("Given a running service", t, func() {
		ctx := context.Background()
		s := New(WithWorkerCount(4), WithQueueSize(1024), WithDedupeSize(0))
		convey.So(s.Start(ctx), convey.ShouldBeNil)
		defer s.Stop()

		convey.Convey("When assignments with spelling variants are enqueued", func() {
			rows := []model.Assignment{
				assignment("s1", "Pedro Gómez", 3),
				assignment("s2", "PEDRO GOMEZ", 0),
				assignment("s3", "  pedro   gómez", 1),
				assignment("s4", "Lucía Fernández", 2),
				assignment("s5", "Raúl Ortiz", 1),
			}
			for _, a := range rows {
				convey.So(s.SeenAndRecord(ctx, a.AssignmentID), convey.ShouldBeFalse)
				convey.So(s.Enqueue(ctx, a), convey.ShouldBeTrue)
			}
			convey.So(waitFor(func() bool {
				e, err := s.Rank(ctx, "pedro gomez")
				return err == nil && e.Assignments == 5
			}), convey.ShouldBeTrue)
			convey.So(waitFor(func() bool { return s.GetStats()["processed"] == int64(len(rows)) }), convey.ShouldBeTrue)

			convey.Convey("Then the ranking folds the variants", func() {
				top, err := s.TopN(ctx, 10)
				convey.So(err, convey.ShouldBeNil)
				convey.So(top, convey.ShouldHaveLength, 3)
				convey.So(top[0].Key, convey.ShouldEqual, "PEDRO GOMEZ")
				convey.So(top[0].Rank, convey.ShouldEqual, 1)
				convey.So(top[1].Key, convey.ShouldEqual, "LUCIA FERNANDEZ")
			})

			convey.Convey("Then a replayed id is a duplicate", func() {
				convey.So(s.SeenAndRecord(ctx, "s1"), convey.ShouldBeTrue)
				convey.So(s.Size(), convey.ShouldEqual, int64(len(rows)))
			})

			convey.Convey("Then the live audit reflects the tallies", func() {
				r, err := s.Audit(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(r.Entities, convey.ShouldEqual, 3)
				convey.So(r.Total, convey.ShouldEqual, 8.0)
				convey.So(r.Rows[0].Category, convey.ShouldNotBeEmpty)
				convey.So(r.PalmaDefined, convey.ShouldBeFalse)
			})

			convey.Convey("Then Reset starts a new period", func() {
				convey.So(s.Reset(ctx), convey.ShouldBeNil)
				_, err := s.Rank(ctx, "Pedro Gómez")
				convey.So(errors.Is(err, repository.ErrNotFound), convey.ShouldBeTrue)
				r, err := s.Audit(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(r.Entities, convey.ShouldEqual, 0)
				convey.So(s.SeenAndRecord(ctx, "s1"), convey.ShouldBeTrue)
			})

			convey.Convey("Then stats describe the pipeline", func() {
				st := s.GetStats()
				convey.So(st["started"], convey.ShouldEqual, true)
				convey.So(st["custodians"], convey.ShouldEqual, 3)
				convey.So(st["queueLength"], convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When a blank name is ranked", func() {
			_, err := s.Rank(ctx, "   ")
			convey.So(errors.Is(err, repository.ErrNotFound), convey.ShouldBeTrue)
		})
	})
}

func TestServiceBackpressure(t *testing.T) {
	convey.Convey("Given a service whose queue is tiny and stopped draining", t, func() {
		ctx := context.Background()
		s := New(WithWorkerCount(1), WithQueueSize(1))
		convey.So(s.Start(ctx), convey.ShouldBeNil)

		s.pool.Stop()
		defer s.Stop()

		convey.So(s.Enqueue(ctx, assignment("b1", "Ana", 1)), convey.ShouldBeTrue)

		convey.Convey("Then the next enqueue is refused", func() {
			convey.So(s.Enqueue(ctx, assignment("b2", "Ana", 1)), convey.ShouldBeFalse)
		})
	})
}

func TestServiceAudits(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given caller-supplied tallies", t, func() {
		s := New(WithMaxAuditEntities(20))
		tallies := []model.Tally{{Name: "Pedro Gómez", Value: 100}}
		for i := 0; i < 9; i++ {
			tallies = append(tallies, model.Tally{Name: fmt.Sprintf("Custodio %d", i), Value: 10})
		}

		r, err := s.AuditTallies(ctx, tallies)

		convey.Convey("Then the dominant custodian makes the report concentrated", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(r.Concentrated, convey.ShouldBeTrue)
			convey.So(r.GiniBand, convey.ShouldEqual, stats.GiniHigh)
			convey.So(r.Rows[0].Category, convey.ShouldEqual, stats.VeryFavored)
		})

		convey.Convey("Then the entity cap applies", func() {
			_, err := s.AuditValues(ctx, make([]float64, 21))
			convey.So(errors.Is(err, audit.ErrTooManyEntities), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given name merging disabled", t, func() {
		s := New(WithNameMerging(false))
		r, err := s.AuditTallies(ctx, []model.Tally{{Name: "Ana", Value: 1}, {Name: "ANA", Value: 1}})

		convey.So(err, convey.ShouldBeNil)
		convey.So(r.Entities, convey.ShouldEqual, 2)
	})

	convey.Convey("Given invalid values", t, func() {
		s := New()
		_, err := s.AuditValues(ctx, []float64{1, -2})
		convey.So(errors.Is(err, audit.ErrInvalidValue), convey.ShouldBeTrue)
	})
}
