package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	service "github.com/okian/posefuse/internal/app"
	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/internal/loadtest"
	"github.com/okian/posefuse/internal/synthetic"
	"github.com/okian/posefuse/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.InitWithOptions(logger.Options{Output: io.Discard}); err != nil {
		panic(err)
	}
}

func TestParseArgs(t *testing.T) {
	convey.Convey("Given command line arguments", t, func() {
		convey.Convey("Then jobs come from subject=path pairs and bare paths", func() {
			o, err := parseArgs([]string{"-retry-failed", "s01=/data/a.db", "/data/s02.db"}, io.Discard)
			convey.So(err, convey.ShouldBeNil)
			convey.So(o.jobs, convey.ShouldHaveLength, 2)
			convey.So(o.jobs[0].SubjectID, convey.ShouldEqual, "s01")
			convey.So(o.jobs[0].ContainerPath, convey.ShouldEqual, "/data/a.db")
			convey.So(o.jobs[1].SubjectID, convey.ShouldEqual, "s02")
			convey.So(o.jobs[1].RetryFailed, convey.ShouldBeTrue)
		})

		convey.Convey("Then a run without recordings is a usage error", func() {
			_, err := parseArgs(nil, io.Discard)
			convey.So(errors.Is(err, errUsage), convey.ShouldBeTrue)
		})

		convey.Convey("Then serving needs no recordings", func() {
			o, err := parseArgs([]string{"-serve"}, io.Discard)
			convey.So(err, convey.ShouldBeNil)
			convey.So(o.serve, convey.ShouldBeTrue)
		})

		convey.Convey("Then the precedence applies to every job", func() {
			o, err := parseArgs([]string{"-calibration-precedence", "external", "s01=/data/a.db"}, io.Discard)
			convey.So(err, convey.ShouldBeNil)
			convey.So(o.jobs[0].CalibrationPrecedence, convey.ShouldEqual, "external")

			_, err = parseArgs([]string{"-calibration-precedence", "newest", "s01=/data/a.db"}, io.Discard)
			convey.So(errors.Is(err, errUsage), convey.ShouldBeTrue)
		})

		convey.Convey("Then an empty subject is rejected", func() {
			_, err := parseArgs([]string{"=/data/a.db"}, io.Discard)
			convey.So(errors.Is(err, errUsage), convey.ShouldBeTrue)
		})
	})
}

// detectorServer answers every frame with a nose in the middle of the image.
func detectorServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keypoints":[{"name":"nose","x":80,"y":60,"confidence":0.9}]}`))
	}))
}

func writeFile(path, content string) {
	convey.So(os.WriteFile(path, []byte(content), 0o600), convey.ShouldBeNil)
}

func TestRun(t *testing.T) {
	convey.Convey("Given a recording and an HTTP detector", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		for _, k := range []string{"POSEFUSE_CONFIG", "POSEFUSE_ALIGNMENT_TOLERANCE", "POSEFUSE_OUTPUT_PATH"} {
			_ = os.Unsetenv(k)
		}

		srv := detectorServer()
		convey.Reset(srv.Close)

		rec := filepath.Join(dir, "s01.db")
		opts := synthetic.DefaultOptions()
		opts.Frames = 4
		convey.So(loadtest.WriteRecording(ctx, rec, opts), convey.ShouldBeNil)

		out := filepath.Join(dir, "out.db")
		cfgPath := filepath.Join(dir, "posefuse.yaml")
		writeFile(cfgPath, `
alignment_tolerance: 33ms
output_path: `+out+`
worker_count: 1
detectors:
  - id: body
    kind: http
    format: named
    url: `+srv.URL+`
`)

		convey.Convey("When running the job", func() {
			var stdout, stderr bytes.Buffer
			code := run(ctx, []string{"-config", cfgPath, "-no-progress", "-json", rec}, &stdout, &stderr)

			convey.Convey("Then every view is done", func() {
				convey.So(code, convey.ShouldEqual, exitOK)

				var results []service.Result
				convey.So(json.Unmarshal(stdout.Bytes(), &results), convey.ShouldBeNil)
				convey.So(results, convey.ShouldHaveLength, 1)
				convey.So(results[0].Error, convey.ShouldBeEmpty)
				convey.So(results[0].Summary.SubjectID, convey.ShouldEqual, "s01")
				convey.So(results[0].Summary.Outcome, convey.ShouldEqual, service.OutcomeDone)
				for _, v := range results[0].Summary.Views {
					convey.So(v.Status, convey.ShouldEqual, model.StatusDone)
					convey.So(v.FramesWritten, convey.ShouldEqual, 4)
				}
			})

			convey.Convey("Then a second run skips the finished views", func() {
				stdout.Reset()
				code := run(ctx, []string{"-config", cfgPath, "-no-progress", "-json", rec}, &stdout, &stderr)
				convey.So(code, convey.ShouldEqual, exitOK)

				var results []service.Result
				convey.So(json.Unmarshal(stdout.Bytes(), &results), convey.ShouldBeNil)
				convey.So(results[0].Summary.Views, convey.ShouldHaveLength, 2)
				convey.So(results[0].Summary.Views[0].FramesWritten, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When the recording does not exist", func() {
			var stdout bytes.Buffer
			code := run(ctx, []string{"-config", cfgPath, "-no-progress", filepath.Join(dir, "missing.db")}, &stdout, io.Discard)

			convey.Convey("Then the job fails and is reported", func() {
				convey.So(code, convey.ShouldEqual, exitFailed)
				convey.So(stdout.String(), convey.ShouldContainSubstring, "missing")
			})
		})

		convey.Convey("When the configuration names an in-process detector", func() {
			funcCfg := filepath.Join(dir, "func.yaml")
			funcOut := filepath.Join(dir, "func-out.db")
			writeFile(funcCfg, "alignment_tolerance: 33ms\noutput_path: "+funcOut+"\ndetectors:\n  - id: body\n    kind: func\n")
			code := run(ctx, []string{"-config", funcCfg, rec}, io.Discard, io.Discard)

			convey.Convey("Then it is a configuration error", func() {
				convey.So(code, convey.ShouldEqual, exitUsage)
				_, err := os.Stat(funcOut)
				convey.So(os.IsNotExist(err), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the configuration has no tolerance", func() {
			bad := filepath.Join(dir, "bad.yaml")
			badOut := filepath.Join(dir, "bad-out.db")
			writeFile(bad, "output_path: "+badOut+"\ndetectors:\n  - id: body\n    kind: http\n    url: "+srv.URL+"\n")
			code := run(ctx, []string{"-config", bad, rec}, io.Discard, io.Discard)

			convey.Convey("Then it stops before opening any file", func() {
				convey.So(code, convey.ShouldEqual, exitUsage)
				_, err := os.Stat(badOut)
				convey.So(os.IsNotExist(err), convey.ShouldBeTrue)
			})
		})
	})
}

func TestProgress(t *testing.T) {
	convey.Convey("Given a progress bar", t, func() {
		p := newProgress(io.Discard)

		convey.Convey("When a resumed view reports its first frame", func() {
			p.observe(service.ProgressEvent{SubjectID: "s01", ViewID: "upper", FrameIndex: 2, Planned: 5})

			convey.Convey("Then skipped frames count as done", func() {
				convey.So(p.bar.Current(), convey.ShouldEqual, 3)
				convey.So(p.bar.Total(), convey.ShouldEqual, 5)
			})

			convey.Convey("Then another view grows the total", func() {
				p.observe(service.ProgressEvent{SubjectID: "s01", ViewID: "lower", FrameIndex: 0, Planned: 5})
				p.observe(service.ProgressEvent{SubjectID: "s01", ViewID: "lower", FrameIndex: 1, Planned: 5})
				convey.So(p.bar.Current(), convey.ShouldEqual, 5)
				convey.So(p.bar.Total(), convey.ShouldEqual, 10)
				p.finish()
			})
		})
	})
}
