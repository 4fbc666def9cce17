package projection_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/internal/domain/projection"
	. "github.com/smartystreets/goconvey/convey"
)

func testProfile() model.CalibrationProfile {
	ext := model.IdentityExtrinsics()
	ext.Translation = [3]float64{0.05, 0, 0}
	return model.CalibrationProfile{
		ViewID:          "upper",
		ColorIntrinsics: model.Intrinsics{Fx: 600, Fy: 600, Cx: 320, Cy: 240},
		DepthIntrinsics: model.Intrinsics{Fx: 380, Fy: 380, Cx: 160, Cy: 120},
		DepthToColor:    ext,
		Source:          model.SourceEmbedded,
	}
}

func flatDepth(mm uint16) *projection.DepthImage {
	d := projection.NewDepthImage(320, 240)
	d.Fill(mm)
	return d
}

func TestProject(t *testing.T) {
	Convey("Given a projector with a lateral depth-to-color baseline", t, func() {
		profile := testProfile()
		p, err := projection.New(profile, projection.DefaultOptions())
		So(err, ShouldBeNil)

		Convey("When the depth image reads 1.5 m under the keypoint", func() {
			res := p.Project(model.Keypoint{X: 400, Y: 200, Confidence: 0.9}, 0.3, flatDepth(1500))

			Convey("Then the point lies on the color ray at that depth", func() {
				So(res.Position.Resolved, ShouldBeTrue)
				So(res.Position.Z, ShouldAlmostEqual, 1.5, 1e-9)
				So(res.Position.X, ShouldAlmostEqual, 0.2, 1e-9)
				So(res.Position.Y, ShouldAlmostEqual, -0.1, 1e-9)
				So(res.DepthPixel, ShouldNotBeNil)
				So(res.DepthPixel.X, ShouldAlmostEqual, 198, 1e-6)
				So(res.DepthPixel.Y, ShouldAlmostEqual, 94.666666, 1e-4)
			})
		})

		Convey("When the keypoint confidence is below the detector minimum", func() {
			res := p.Project(model.Keypoint{X: 400, Y: 200, Confidence: 0.2}, 0.3, flatDepth(1500))

			Convey("Then 3D is skipped", func() {
				So(res.Position.Resolved, ShouldBeFalse)
				So(res.Position.Reason, ShouldEqual, model.ReasonLowConfidence)
			})
		})

		Convey("When there is no aligned depth frame", func() {
			res := p.Project(model.Keypoint{X: 400, Y: 200, Confidence: 0.9}, 0.3, nil)

			Convey("Then the point is unresolved for lack of depth", func() {
				So(res.Position.Reason, ShouldEqual, model.ReasonNoDepthFrame)
				So(res.DepthPixel, ShouldBeNil)
			})
		})

		Convey("When the depth image has no reading around the pixel", func() {
			res := p.Project(model.Keypoint{X: 400, Y: 200, Confidence: 0.9}, 0.3, flatDepth(0))

			Convey("Then the depth is invalid but the depth pixel is reported", func() {
				So(res.Position.Reason, ShouldEqual, model.ReasonDepthInvalid)
				So(res.DepthPixel, ShouldNotBeNil)
			})
		})

		Convey("When the depth reading is beyond the maximum range", func() {
			res := p.Project(model.Keypoint{X: 400, Y: 200, Confidence: 0.9}, 0.3, flatDepth(20000))

			Convey("Then the depth is out of range", func() {
				So(res.Position.Reason, ShouldEqual, model.ReasonDepthOutOfRange)
			})
		})

		Convey("When the depth pixel falls outside a small depth image", func() {
			small := projection.NewDepthImage(40, 40)
			small.Fill(1500)
			res := p.Project(model.Keypoint{X: 620, Y: 470, Confidence: 0.9}, 0.3, small)

			Convey("Then the depth pixel is out of bounds", func() {
				So(res.Position.Reason, ShouldEqual, model.ReasonDepthPixelOutside)
			})
		})

		Convey("When the default seed depth maps past the edge of the depth image", func() {
			target := model.Point3D{X: -1.17, Y: 0, Z: 3}
			pixel, err := projection.ProjectToColor(profile, target)
			So(err, ShouldBeNil)
			want, _, err := projection.DepthPixelOf(profile, target)
			So(err, ShouldBeNil)

			res := p.Project(model.Keypoint{X: pixel.X, Y: pixel.Y, Confidence: 0.9}, 0.3, flatDepth(3000))

			Convey("Then a seed inside the image is found and the point resolves", func() {
				So(res.Position.Resolved, ShouldBeTrue)
				So(res.Position.Z, ShouldAlmostEqual, 3, 1e-9)
				So(res.Position.X, ShouldAlmostEqual, -1.17, 1e-9)
				So(res.DepthPixel, ShouldNotBeNil)
				So(res.DepthPixel.X, ShouldAlmostEqual, want.X, 1e-6)
				So(want.X, ShouldBeGreaterThan, 0)
			})
		})

		Convey("When the only valid reading is at the edge of the kernel", func() {
			target := model.Point3D{X: 0.2, Y: -0.1, Z: 1.5}
			px, _, err := projection.DepthPixelOf(profile, target)
			So(err, ShouldBeNil)
			sparse := projection.NewDepthImage(320, 240)
			ix, iy := int(math.Round(px.X)), int(math.Round(px.Y))
			sparse.Set(ix+2, iy, 1500)
			sparse.Set(ix-2, iy+2, 1800)
			sparse.Set(ix+3, iy, 900)

			opts := projection.DefaultOptions()
			opts.SeedDepth = 1.5
			seeded, err := projection.New(profile, opts)
			So(err, ShouldBeNil)
			res := seeded.Project(model.Keypoint{X: 400, Y: 200, Confidence: 0.9}, 0.3, sparse)

			Convey("Then the minimum non-zero value in the window is used", func() {
				So(res.Position.Resolved, ShouldBeTrue)
				So(res.Position.Z, ShouldAlmostEqual, 1.5, 1e-9)
			})
		})
	})
}

func TestProjectRoundTrip(t *testing.T) {
	Convey("Given random points in front of the cameras", t, func() {
		profile := testProfile()
		p, err := projection.New(profile, projection.DefaultOptions())
		So(err, ShouldBeNil)
		rng := rand.New(rand.NewSource(11))

		for i := 0; i < 200; i++ {
			z := float64(500+rng.Intn(2500)) / 1000
			pt := model.Point3D{
				X: (rng.Float64()*0.4 - 0.2) * z,
				Y: (rng.Float64()*0.4 - 0.2) * z,
				Z: z,
			}
			pixel, err := projection.ProjectToColor(profile, pt)
			So(err, ShouldBeNil)

			res := p.Project(model.Keypoint{X: pixel.X, Y: pixel.Y, Confidence: 1}, 0, flatDepth(uint16(math.Round(z*1000))))

			So(res.Position.Resolved, ShouldBeTrue)
			So(res.Position.X, ShouldAlmostEqual, pt.X, 1e-6)
			So(res.Position.Y, ShouldAlmostEqual, pt.Y, 1e-6)
			So(res.Position.Z, ShouldAlmostEqual, pt.Z, 1e-6)
		}
	})
}

func TestNew(t *testing.T) {
	Convey("Given projection options", t, func() {
		profile := testProfile()

		Convey("When the depth window is even", func() {
			opts := projection.DefaultOptions()
			opts.Window = 4
			_, err := projection.New(profile, opts)

			Convey("Then the options are rejected", func() {
				So(errors.Is(err, projection.ErrInvalidOptions), ShouldBeTrue)
			})
		})

		Convey("When the depth range is inverted", func() {
			opts := projection.DefaultOptions()
			opts.MinDepth, opts.MaxDepth = 5, 1
			_, err := projection.New(profile, opts)

			Convey("Then the options are rejected", func() {
				So(errors.Is(err, projection.ErrInvalidOptions), ShouldBeTrue)
			})
		})

		Convey("When the color camera matrix is singular", func() {
			profile.ColorIntrinsics = model.Intrinsics{}
			_, err := projection.New(profile, projection.DefaultOptions())

			Convey("Then the projector cannot be built", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestDepthPNG(t *testing.T) {
	Convey("Given a 16-bit depth image", t, func() {
		d := projection.NewDepthImage(4, 3)
		d.Set(0, 0, 1)
		d.Set(3, 2, 65535)
		d.Set(1, 1, 1234)

		b, err := projection.EncodeDepthPNG(d)
		So(err, ShouldBeNil)
		back, err := projection.DecodeDepthPNG(b)

		Convey("Then decoding keeps the raw units", func() {
			So(err, ShouldBeNil)
			So(back.Width, ShouldEqual, 4)
			So(back.Height, ShouldEqual, 3)
			So(back.Data, ShouldResemble, d.Data)
		})

		Convey("Then garbage is rejected", func() {
			_, err := projection.DecodeDepthPNG([]byte("not a png"))
			So(err, ShouldNotBeNil)
		})
	})
}
