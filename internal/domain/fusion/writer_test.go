package fusion_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/posefuse/internal/domain/fusion"
	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/internal/domain/projection"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingSink struct {
	mu       sync.Mutex
	frames   []model.FusedPoseFrame
	progress []model.FrameProgress
	fail     error
}

func (s *recordingSink) CommitFrame(_ context.Context, f model.FusedPoseFrame, p model.FrameProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.frames = append(s.frames, f)
	s.progress = append(s.progress, p)
	return nil
}

var t0 = time.Date(2021, 5, 6, 7, 8, 9, 0, time.UTC)

func resolved(x, y, z float64) projection.Result {
	return projection.Result{Position: model.Point3D{X: x, Y: y, Z: z, Resolved: true}, DepthPixel: &model.Point2D{X: 1, Y: 2}}
}

func TestWriter(t *testing.T) {
	Convey("Given a writer over a sink", t, func() {
		ctx := context.Background()
		sink := &recordingSink{}
		w := fusion.NewWriter("s01", sink)

		Convey("When two detectors report the same wrist differently", func() {
			frame, err := w.Write(ctx, fusion.Frame{
				ViewID:     "upper",
				FrameIndex: 0,
				Time:       t0,
				Outputs: []fusion.DetectorOutput{
					{
						Set:        model.KeypointSet{DetectorID: "openpose", Joints: map[string]model.Keypoint{"right_wrist": {X: 100, Y: 200, Confidence: 0.9}}},
						Vocabulary: []string{"right_wrist", "left_wrist"},
						Projected:  map[string]projection.Result{"right_wrist": resolved(0.1, 0.2, 1.5)},
					},
					{
						Set:        model.KeypointSet{DetectorID: "detectron", Joints: map[string]model.Keypoint{"right_wrist": {X: 130, Y: 180, Confidence: 0.3}}},
						Vocabulary: []string{"right_wrist"},
						Projected:  map[string]projection.Result{"right_wrist": resolved(0.12, 0.19, 1.52)},
					},
				},
			})

			Convey("Then both entries are kept under their detector ids", func() {
				So(err, ShouldBeNil)
				So(sink.frames, ShouldHaveLength, 1)
				So(frame.SubjectID, ShouldEqual, "s01")
				op := frame.Detectors["openpose"].Joints["right_wrist"]
				dt := frame.Detectors["detectron"].Joints["right_wrist"]
				So(op.Confidence, ShouldEqual, 0.9)
				So(dt.Confidence, ShouldEqual, 0.3)
				So(op.Pixel, ShouldResemble, model.Point2D{X: 100, Y: 200})
				So(dt.Pixel, ShouldResemble, model.Point2D{X: 130, Y: 180})
				So(op.Status, ShouldEqual, model.JointProjected)
				So(frame.Detectors["openpose"].NotDetected, ShouldResemble, []string{"left_wrist"})
				So(frame.Detectors["detectron"].NotDetected, ShouldBeEmpty)
				So(frame.Errors, ShouldBeEmpty)
			})
		})

		Convey("When a detector failed and another joint could not be projected", func() {
			fail := &model.FrameError{Kind: model.KindDetectorTimeout, DetectorID: "slow"}
			frame, err := w.Write(ctx, fusion.Frame{
				ViewID:     "upper",
				FrameIndex: 4,
				Time:       t0,
				Outputs: []fusion.DetectorOutput{
					{Set: model.KeypointSet{DetectorID: "slow", Joints: map[string]model.Keypoint{}}, Vocabulary: []string{"nose"}, Failure: fail},
					{
						Set: model.KeypointSet{DetectorID: "fast", Joints: map[string]model.Keypoint{
							"nose": {X: 1, Y: 1, Confidence: 0.8},
							"neck": {X: 2, Y: 2, Confidence: 0.1},
						}},
						Projected: map[string]projection.Result{
							"nose": {Position: model.Unresolved(model.ReasonDepthInvalid)},
							"neck": {Position: model.Unresolved(model.ReasonLowConfidence)},
						},
					},
				},
			})

			Convey("Then the failure and the depth error are recorded, the low-confidence skip is not", func() {
				So(err, ShouldBeNil)
				So(frame.Detectors["slow"].Failure.Kind, ShouldEqual, model.KindDetectorTimeout)
				So(frame.Detectors["slow"].NotDetected, ShouldBeEmpty)
				So(frame.Detectors["fast"].Joints["nose"].Status, ShouldEqual, model.JointUnprojectable)
				So(frame.Detectors["fast"].Joints["neck"].Position.Reason, ShouldEqual, model.ReasonLowConfidence)
				So(frame.Errors, ShouldHaveLength, 2)
				So(sink.progress[0].RecoverableErrors, ShouldEqual, 2)
				So(w.Progress("upper").ErrorSamples, ShouldHaveLength, 2)
			})
		})

		Convey("When the frame had no depth frame", func() {
			frame, err := w.Write(ctx, fusion.Frame{
				ViewID:       "lower",
				FrameIndex:   0,
				DepthMissing: true,
				Outputs: []fusion.DetectorOutput{{
					Set:       model.KeypointSet{DetectorID: "d", Joints: map[string]model.Keypoint{"nose": {X: 3, Y: 4, Confidence: 1}}},
					Projected: map[string]projection.Result{"nose": {Position: model.Unresolved(model.ReasonNoDepthFrame)}},
				}},
			})

			Convey("Then 2D is kept and one alignment error is recorded", func() {
				So(err, ShouldBeNil)
				So(frame.Detectors["d"].Joints["nose"].Pixel, ShouldResemble, model.Point2D{X: 3, Y: 4})
				So(frame.Errors, ShouldHaveLength, 1)
				So(errors.Is(frame.Errors[0], model.ErrAlignmentInvalid), ShouldBeTrue)
			})
		})

		Convey("When the depth frame could not be decoded", func() {
			frame, err := w.Write(ctx, fusion.Frame{
				ViewID:     "lower",
				FrameIndex: 0,
				Errors:     []model.FrameError{{Kind: model.KindDepthUnresolved, Message: "decode depth frame 0"}},
			})

			Convey("Then the frame error is kept and counted", func() {
				So(err, ShouldBeNil)
				So(frame.Errors, ShouldHaveLength, 1)
				So(errors.Is(frame.Errors[0], model.ErrDepthUnresolved), ShouldBeTrue)
				So(w.Progress("lower").RecoverableErrors, ShouldEqual, 1)
			})
		})

		Convey("When frames arrive out of order", func() {
			_, err := w.Write(ctx, fusion.Frame{ViewID: "upper", FrameIndex: 5})
			So(err, ShouldBeNil)
			_, err = w.Write(ctx, fusion.Frame{ViewID: "upper", FrameIndex: 5})
			So(errors.Is(err, model.ErrOutOfOrderWrite), ShouldBeTrue)
			_, err = w.Write(ctx, fusion.Frame{ViewID: "upper", FrameIndex: 2})
			So(errors.Is(err, model.ErrOutOfOrderWrite), ShouldBeTrue)

			Convey("Then other views are unaffected", func() {
				_, err := w.Write(ctx, fusion.Frame{ViewID: "lower", FrameIndex: 0})
				So(err, ShouldBeNil)
			})
		})

		Convey("When the writer is primed for a resume", func() {
			w.Prime("upper", 9, model.FrameProgress{RecoverableErrors: 7, ErrorSamples: []string{"a", "b", "c", "d", "e"}})
			_, err := w.Write(ctx, fusion.Frame{ViewID: "upper", FrameIndex: 9})
			So(errors.Is(err, model.ErrOutOfOrderWrite), ShouldBeTrue)

			_, err = w.Write(ctx, fusion.Frame{ViewID: "upper", FrameIndex: 10, DepthMissing: true})

			Convey("Then counters continue and samples stay bounded", func() {
				So(err, ShouldBeNil)
				p := w.Progress("upper")
				So(p.RecoverableErrors, ShouldEqual, 8)
				So(p.ErrorSamples, ShouldHaveLength, model.MaxErrorSamples)
			})
		})

		Convey("When the sink fails", func() {
			sink.fail = errors.New("disk full")
			_, err := w.Write(ctx, fusion.Frame{ViewID: "upper", FrameIndex: 0})
			So(err, ShouldNotBeNil)
			sink.fail = nil

			Convey("Then the same frame can be written again", func() {
				_, err := w.Write(ctx, fusion.Frame{ViewID: "upper", FrameIndex: 0})
				So(err, ShouldBeNil)
			})
		})
	})
}
