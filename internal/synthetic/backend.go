package synthetic

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/posefuse/internal/adapters/detector"
)

// Joint is one keypoint a fake detector reports on every frame.
type Joint struct {
	Name       string
	X, Y       float64
	Confidence float64
}

// BackendOptions shape a fake detector.
type BackendOptions struct {
	Joints []Joint
	// Drift moves every joint right by Drift pixels per frame.
	Drift float64
	// FailFrames return a backend error.
	FailFrames []int
	// SlowFrames sleep for Delay, honouring the call context.
	SlowFrames []int
	Delay      time.Duration
}

// DefaultJoints sit around the principal point of DefaultOptions. The left
// wrist is reported with low confidence.
func DefaultJoints() []Joint {
	return []Joint{
		{Name: "nose", X: 80, Y: 40, Confidence: 0.95},
		{Name: "right_wrist", X: 60, Y: 70, Confidence: 0.9},
		{Name: "left_wrist", X: 100, Y: 70, Confidence: 0.05},
	}
}

// Backend returns an in-process detector whose output depends only on the
// frame marker and opts.
func Backend(opts BackendOptions) detector.BackendFunc {
	joints := opts.Joints
	if len(joints) == 0 {
		joints = DefaultJoints()
	}
	return func(ctx context.Context, img []byte) ([]detector.RawKeypoint, error) {
		idx, err := FrameIndexOf(img)
		if err != nil {
			return nil, err
		}
		if contains(opts.SlowFrames, idx) {
			select {
			case <-time.After(opts.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if contains(opts.FailFrames, idx) {
			return nil, fmt.Errorf("synthetic failure on frame %d", idx)
		}
		out := make([]detector.RawKeypoint, 0, len(joints))
		for _, j := range joints {
			out = append(out, detector.RawKeypoint{
				Name:       j.Name,
				X:          j.X + opts.Drift*float64(idx),
				Y:          j.Y,
				Confidence: j.Confidence,
			})
		}
		return out, nil
	}
}
