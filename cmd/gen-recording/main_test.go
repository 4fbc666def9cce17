package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/okian/posefuse/internal/adapters/container"
	"github.com/okian/posefuse/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestRun(t *testing.T) {
	convey.Convey("Given an output path", t, func() {
		ctx := context.Background()
		out := filepath.Join(t.TempDir(), "rec.db")

		convey.Convey("When generating a single-view recording", func() {
			err := run(ctx, []string{"-out", out, "-views", "upper", "-frames", "4", "-matched-index"})
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the recording can be opened", func() {
				rec, err := container.Open(out)
				convey.So(err, convey.ShouldBeNil)
				defer rec.Close()

				views, err := rec.Views(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(views, convey.ShouldResemble, []string{"upper"})

				times, err := rec.Times(ctx, model.ColorDataPath("upper"))
				convey.So(err, convey.ShouldBeNil)
				convey.So(times, convey.ShouldHaveLength, 4)
			})

			convey.Convey("Then a second run refuses to overwrite it", func() {
				convey.So(run(ctx, []string{"-out", out}), convey.ShouldNotBeNil)
				convey.So(run(ctx, []string{"-out", out, "-frames", "2", "-force"}), convey.ShouldBeNil)
			})
		})

		convey.Convey("Then malformed frame lists are rejected", func() {
			convey.So(run(ctx, []string{"-out", out, "-depth-gaps", "1,x"}), convey.ShouldNotBeNil)
			convey.So(run(ctx, []string{"-out", out, "-corrupt-depth", "?"}), convey.ShouldNotBeNil)
		})
	})
}
