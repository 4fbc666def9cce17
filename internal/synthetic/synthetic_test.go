package synthetic_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/okian/posefuse/internal/adapters/container"
	"github.com/okian/posefuse/internal/domain/calibration"
	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/internal/domain/projection"
	"github.com/okian/posefuse/internal/synthetic"
	"github.com/okian/posefuse/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.InitWithOptions(logger.Options{Output: io.Discard}); err != nil {
		panic(err)
	}
}

func TestGenerate(t *testing.T) {
	Convey("Given a recording with a depth gap and a matched index", t, func() {
		ctx := context.Background()
		rec := container.NewMemory()
		opts := synthetic.DefaultOptions()
		opts.Frames = 6
		opts.DepthGaps = []int{2}
		opts.MatchedIndex = true
		So(synthetic.Generate(ctx, rec, opts), ShouldBeNil)

		Convey("Then both views are present", func() {
			views, err := rec.Views(ctx)
			So(err, ShouldBeNil)
			So(views, ShouldResemble, []string{"lower", "upper"})
		})

		Convey("Then the depth stream is contiguous without the gap", func() {
			color, err := rec.Times(ctx, model.ColorDataPath("upper"))
			So(err, ShouldBeNil)
			So(color, ShouldHaveLength, 6)
			depth, err := rec.Times(ctx, model.DepthDataPath("upper"))
			So(err, ShouldBeNil)
			So(depth, ShouldHaveLength, 5)
			So(depth[2].Equal(opts.Start.Add(3*opts.ColorInterval)), ShouldBeTrue)
		})

		Convey("Then the matched index skips the dropped frame", func() {
			idx, err := rec.Index(ctx, model.MatchedDepthIndexPath("upper"))
			So(err, ShouldBeNil)
			So(idx, ShouldResemble, []int{0, 1, -1, 2, 3, 4})
		})

		Convey("Then every color frame carries its index", func() {
			for i := 0; i < 6; i++ {
				p, err := rec.Payload(ctx, model.ColorDataPath("lower"), i)
				So(err, ShouldBeNil)
				got, err := synthetic.FrameIndexOf(p)
				So(err, ShouldBeNil)
				So(got, ShouldEqual, i)
			}
		})

		Convey("Then the embedded calibration resolves completely", func() {
			profile, err := calibration.NewResolver(rec).Resolve(ctx, "upper")
			So(err, ShouldBeNil)
			So(profile.Source, ShouldEqual, model.SourceEmbedded)
			So(profile.ColorIntrinsics, ShouldResemble, opts.ColorIntrinsics)
			So(profile.DepthToColor.Translation, ShouldResemble, opts.DepthToColor.Translation)
		})

		Convey("Then joints over the flat depth plane project to its distance", func() {
			profile, err := calibration.NewResolver(rec).Resolve(ctx, "upper")
			So(err, ShouldBeNil)
			p, err := projection.New(profile, projection.DefaultOptions())
			So(err, ShouldBeNil)
			raw, err := rec.Payload(ctx, model.DepthDataPath("upper"), 0)
			So(err, ShouldBeNil)
			depth, err := projection.DecodeDepthPNG(raw)
			So(err, ShouldBeNil)

			res := p.Project(model.Keypoint{X: 80, Y: 40, Confidence: 1}, 0.3, depth)
			So(res.Position.Resolved, ShouldBeTrue)
			So(res.Position.Z, ShouldAlmostEqual, 1.5, 1e-6)
		})
	})

	Convey("Given a recording without embedded extrinsics", t, func() {
		ctx := context.Background()
		rec := container.NewMemory()
		opts := synthetic.DefaultOptions()
		opts.Views = []string{"side"}
		opts.Frames = 2
		opts.OmitEmbedded = []string{model.FieldDepthToColor}
		So(synthetic.Generate(ctx, rec, opts), ShouldBeNil)

		Convey("Then calibration is unavailable without an external file", func() {
			_, err := calibration.NewResolver(rec).Resolve(ctx, "side")
			So(err, ShouldWrap, model.ErrCalibrationUnavailable)
		})
	})

	Convey("Given a cancelled context", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := synthetic.Generate(ctx, container.NewMemory(), synthetic.DefaultOptions())

		Convey("Then generation stops", func() {
			So(err, ShouldWrap, context.Canceled)
		})
	})
}

func TestBackend(t *testing.T) {
	Convey("Given a fake detector", t, func() {
		ctx := context.Background()
		backend := synthetic.Backend(synthetic.BackendOptions{
			Drift:      2,
			FailFrames: []int{3},
			SlowFrames: []int{4},
			Delay:      time.Hour,
		})
		frame := func(i int) []byte {
			b, err := synthetic.ColorFrame(i, 16, 8)
			So(err, ShouldBeNil)
			return b
		}

		Convey("Then joints drift with the frame index", func() {
			kps, err := backend(ctx, frame(5))
			So(err, ShouldBeNil)
			So(kps, ShouldHaveLength, 3)
			So(kps[0].Name, ShouldEqual, "nose")
			So(kps[0].X, ShouldEqual, 90)
		})

		Convey("Then failing frames return an error", func() {
			_, err := backend(ctx, frame(3))
			So(err, ShouldNotBeNil)
		})

		Convey("Then slow frames honour the deadline", func() {
			short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()
			_, err := backend(short, frame(4))
			So(err, ShouldWrap, context.DeadlineExceeded)
		})

		Convey("Then images without a marker are rejected", func() {
			_, err := backend(ctx, []byte("jpeg?"))
			So(err, ShouldWrap, synthetic.ErrNoMarker)
		})
	})
}
