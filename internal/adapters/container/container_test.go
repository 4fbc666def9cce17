package container_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/posefuse/internal/adapters/container"
	"github.com/okian/posefuse/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

func fill(ctx context.Context, b container.Builder) {
	for i := 0; i < 3; i++ {
		So(b.PutSample(ctx, "upper/color/data", i, t0.Add(time.Duration(i)*33*time.Millisecond), []byte{byte(i)}), ShouldBeNil)
		So(b.PutSample(ctx, "upper/depth/data", i, t0.Add(time.Duration(i)*30*time.Millisecond), []byte{9, byte(i)}), ShouldBeNil)
	}
	So(b.PutSample(ctx, "lower/color/data", 0, t0, []byte("x")), ShouldBeNil)
	So(b.PutSample(ctx, "calib/color/extra", 0, t0, nil), ShouldBeNil)
	So(b.PutIndex(ctx, "upper/color/matched_depth_index", []int{0, 1, -1}), ShouldBeNil)
	So(b.PutAttribute(ctx, "upper/color/data", "K", []float64{600, 0, 320, 0, 600, 240, 0, 0, 1}), ShouldBeNil)
}

func behaves(ctx context.Context, rec container.Recording) {
	Convey("Then views are listed from color streams", func() {
		views, err := rec.Views(ctx)
		So(err, ShouldBeNil)
		So(views, ShouldResemble, []string{"lower", "upper"})
	})

	Convey("Then times come back in sample order", func() {
		ts, err := rec.Times(ctx, "upper/color/data")
		So(err, ShouldBeNil)
		So(ts, ShouldHaveLength, 3)
		So(ts[2].Equal(t0.Add(66*time.Millisecond)), ShouldBeTrue)

		_, err = rec.Times(ctx, "side/color/data")
		So(errors.Is(err, container.ErrNotFound), ShouldBeTrue)
	})

	Convey("Then payloads are addressed by index", func() {
		p, err := rec.Payload(ctx, "upper/depth/data", 1)
		So(err, ShouldBeNil)
		So(p, ShouldResemble, []byte{9, 1})

		_, err = rec.Payload(ctx, "upper/depth/data", 7)
		So(errors.Is(err, container.ErrNotFound), ShouldBeTrue)
	})

	Convey("Then the matched index is read and an absent one is nil", func() {
		idx, err := rec.Index(ctx, "upper/color/matched_depth_index")
		So(err, ShouldBeNil)
		So(idx, ShouldResemble, []int{0, 1, -1})

		idx, err = rec.Index(ctx, "lower/color/matched_depth_index")
		So(err, ShouldBeNil)
		So(idx, ShouldBeNil)
	})

	Convey("Then attributes decode to numbers", func() {
		attrs, err := rec.Attributes(ctx, "upper/color/data")
		So(err, ShouldBeNil)
		So(attrs["K"], ShouldHaveLength, 9)
		So(attrs["K"][0], ShouldEqual, 600)

		attrs, err = rec.Attributes(ctx, "upper/depth/data")
		So(err, ShouldBeNil)
		So(attrs, ShouldBeEmpty)
	})
}

func TestMemory(t *testing.T) {
	Convey("Given an in-memory recording", t, func() {
		ctx := context.Background()
		m := container.NewMemory()
		fill(ctx, m)

		behaves(ctx, m)

		Convey("When a stream has a gap", func() {
			So(m.PutSample(ctx, "gap/color/data", 0, t0, nil), ShouldBeNil)
			So(m.PutSample(ctx, "gap/color/data", 2, t0, nil), ShouldBeNil)
			_, err := m.Times(ctx, "gap/color/data")
			So(errors.Is(err, model.ErrCorruptStream), ShouldBeTrue)
		})

		Convey("When an entry has a bad path", func() {
			So(errors.Is(m.PutSample(ctx, "", 0, t0, nil), container.ErrInvalidEntry), ShouldBeTrue)
			So(errors.Is(m.PutAttribute(ctx, "a/b", "", nil), container.ErrInvalidEntry), ShouldBeTrue)
		})
	})
}

func TestSQLite(t *testing.T) {
	Convey("Given a recording file", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "s01.db")

		w, err := container.Create(path)
		So(err, ShouldBeNil)
		fill(ctx, w)
		So(w.Close(), ShouldBeNil)

		rec, err := container.Open(path)
		So(err, ShouldBeNil)
		Reset(func() { _ = rec.Close() })

		behaves(ctx, rec)

		Convey("Then the reader cannot write", func() {
			err := rec.PutSample(ctx, "upper/color/data", 9, t0, nil)
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given a recording still open for writing", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "bad.db")
		w, err := container.Create(path)
		So(err, ShouldBeNil)
		Reset(func() { _ = w.Close() })
		So(w.PutAttribute(ctx, "v/color/data", "K", []float64{1, 2, 3}), ShouldBeNil)

		Convey("Then attributes are readable before it is closed", func() {
			attrs, err := w.Attributes(ctx, "v/color/data")
			So(err, ShouldBeNil)
			So(attrs["K"], ShouldResemble, []float64{1, 2, 3})
		})
	})

	Convey("Given a path with no file", t, func() {
		_, err := container.Open(filepath.Join(t.TempDir(), "missing.db"))

		Convey("Then opening fails without creating it", func() {
			So(errors.Is(err, container.ErrNoRecording), ShouldBeTrue)
		})
	})
}
