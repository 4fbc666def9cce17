package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/posefuse/internal/adapters/container"
	"github.com/okian/posefuse/internal/adapters/detector"
	"github.com/okian/posefuse/internal/adapters/mq/queue"
	"github.com/okian/posefuse/internal/adapters/repository"
	service "github.com/okian/posefuse/internal/app"
	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/internal/synthetic"
	. "github.com/smartystreets/goconvey/convey"
)

// writeRecording stores a synthetic recording as a SQLite file.
func writeRecording(dir, subject string) string {
	path := filepath.Join(dir, subject+".db")
	w, err := container.Create(path)
	So(err, ShouldBeNil)
	opts := synthetic.DefaultOptions()
	opts.Frames = 4
	So(synthetic.Generate(context.Background(), w, opts), ShouldBeNil)
	So(w.Close(), ShouldBeNil)
	return path
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		store := repository.NewMemoryStore()
		o, err := service.NewOrchestrator(store, twoDetectors(), 33*time.Millisecond)
		So(err, ShouldBeNil)
		svc := service.New(store, o, service.WithWorkerCount(2), service.WithQueueSize(4))

		Convey("Then submissions are refused before start", func() {
			err := svc.Submit(context.Background(), request())
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})

		Convey("When starting the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then it is marked as started", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["workerCount"], ShouldEqual, 2)
				So(stats["queueLength"], ShouldEqual, 0)
			})

			Convey("Then stopping marks it stopped", func() {
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.GetStats()["started"], ShouldEqual, false)
				So(svc.Stop(ctx), ShouldBeNil)
			})
		})
	})
}

func TestService_ProcessesSubjects(t *testing.T) {
	Convey("Given recordings of three subjects on disk", t, func() {
		dir := t.TempDir()
		store, err := repository.OpenSQLite(filepath.Join(dir, "out.db"))
		So(err, ShouldBeNil)
		Reset(func() { _ = store.Close() })

		o, err := service.NewOrchestrator(store, twoDetectors(), 33*time.Millisecond)
		So(err, ShouldBeNil)

		var mu sync.Mutex
		finished := map[string]error{}
		svc := service.New(store, o,
			service.WithWorkerCount(2),
			service.WithOnFinish(func(req model.JobRequest, _ service.Summary, err error) {
				mu.Lock()
				finished[req.SubjectID] = err
				mu.Unlock()
			}))

		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		for _, subject := range []string{"s01", "s02", "s03"} {
			req := model.JobRequest{SubjectID: subject, ContainerPath: writeRecording(dir, subject)}
			So(svc.Submit(ctx, req), ShouldBeNil)
		}
		svc.Drain()

		Convey("Then every job ran to completion", func() {
			So(finished, ShouldHaveLength, 3)
			for _, err := range finished {
				So(err, ShouldBeNil)
			}
			results := svc.Results()
			So(results, ShouldHaveLength, 3)
			So(results[0].Summary.SubjectID, ShouldEqual, "s01")
			for _, r := range results {
				So(r.Error, ShouldBeEmpty)
				So(r.Summary.Outcome, ShouldEqual, service.OutcomeDone)
			}
		})

		Convey("Then job state and frames are readable", func() {
			jobs, err := svc.Jobs(ctx)
			So(err, ShouldBeNil)
			So(jobs, ShouldHaveLength, 3)

			job, err := svc.Job(ctx, "s02")
			So(err, ShouldBeNil)
			So(job.Views["upper"].Status, ShouldEqual, model.StatusDone)

			out, err := svc.Frames(ctx, "s02", "lower")
			So(err, ShouldBeNil)
			So(out, ShouldHaveLength, 4)

			_, err = svc.Frames(ctx, "s09", "lower")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("Then submissions after draining are refused", func() {
			err := svc.Submit(ctx, model.JobRequest{SubjectID: "s04", ContainerPath: "s04.db"})
			So(errors.Is(err, queue.ErrClosed), ShouldBeTrue)
		})
	})
}

func TestService_RejectsSubjectInFlight(t *testing.T) {
	Convey("Given a job blocked inside its detector", t, func() {
		dir := t.TempDir()
		release := make(chan struct{})
		started := make(chan struct{}, 16)
		inner := synthetic.Backend(synthetic.BackendOptions{})
		reg, err := detector.Build([]detector.Config{{ID: "slow", Kind: detector.KindFunc, Timeout: 10 * time.Second}},
			map[string]detector.BackendFunc{"slow": func(ctx context.Context, img []byte) ([]detector.RawKeypoint, error) {
				started <- struct{}{}
				<-release
				return inner(ctx, img)
			}})
		So(err, ShouldBeNil)

		store := repository.NewMemoryStore()
		o, err := service.NewOrchestrator(store, reg, 33*time.Millisecond)
		So(err, ShouldBeNil)
		svc := service.New(store, o, service.WithWorkerCount(1))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)

		req := model.JobRequest{SubjectID: "s01", ContainerPath: writeRecording(dir, "s01")}
		So(svc.Submit(ctx, req), ShouldBeNil)
		<-started

		Convey("When the same subject is submitted again", func() {
			err := svc.Submit(ctx, req)
			close(release)
			svc.Drain()

			Convey("Then it is rejected as a duplicate", func() {
				So(errors.Is(err, queue.ErrDuplicate), ShouldBeTrue)
				So(svc.Results(), ShouldHaveLength, 1)
			})
		})
	})
}
