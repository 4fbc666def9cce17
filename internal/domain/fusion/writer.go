// Package fusion assembles per-detector keypoints into one fused record per
// frame and appends it to the output store.
package fusion

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/internal/domain/projection"
)

// Sink stores a frame together with the view's progress in one atomic step.
type Sink interface {
	CommitFrame(ctx context.Context, frame model.FusedPoseFrame, progress model.FrameProgress) error
}

// DetectorOutput is what one detector contributed to a frame.
type DetectorOutput struct {
	Set        model.KeypointSet
	Vocabulary []string
	Failure    *model.FrameError
	// Projected holds the 3D result of every joint in Set.
	Projected map[string]projection.Result
}

// Frame is one color frame ready to be written.
type Frame struct {
	ViewID     string
	FrameIndex int
	Time       time.Time
	// DepthMissing is set when the frame had no aligned depth frame.
	DepthMissing bool
	// Errors are frame-level recoverable errors found before fusion.
	Errors  []model.FrameError
	Outputs []DetectorOutput
}

// Writer appends fused frames of one subject. Frame indices must strictly
// increase per view.
type Writer struct {
	subjectID string
	sink      Sink

	mu       sync.Mutex
	last     map[string]int
	progress map[string]model.FrameProgress
}

// NewWriter creates a writer for subjectID.
func NewWriter(subjectID string, sink Sink) *Writer {
	return &Writer{
		subjectID: subjectID,
		sink:      sink,
		last:      map[string]int{},
		progress:  map[string]model.FrameProgress{},
	}
}

// Prime restores a view's position after a resume. Frames at or below
// lastFrame will be rejected.
func (w *Writer) Prime(viewID string, lastFrame int, progress model.FrameProgress) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last[viewID] = lastFrame
	progress.ErrorSamples = append([]string(nil), progress.ErrorSamples...)
	w.progress[viewID] = progress
}

// Progress returns the view's recoverable error bookkeeping.
func (w *Writer) Progress(viewID string) model.FrameProgress {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.progress[viewID]
	p.ErrorSamples = append([]string(nil), p.ErrorSamples...)
	return p
}

// Write fuses f and commits it. The returned record is what was stored.
func (w *Writer) Write(ctx context.Context, f Frame) (model.FusedPoseFrame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	last, primed := w.last[f.ViewID]
	if !primed {
		last = model.NoFrame
	}
	if f.FrameIndex <= last {
		return model.FusedPoseFrame{}, fmt.Errorf("%w: view %s frame %d after %d",
			model.ErrOutOfOrderWrite, f.ViewID, f.FrameIndex, last)
	}

	frame := Fuse(w.subjectID, f)
	progress := w.progress[f.ViewID]
	progress.ErrorSamples = append([]string(nil), progress.ErrorSamples...)
	for _, e := range frame.Errors {
		progress.RecoverableErrors++
		if len(progress.ErrorSamples) < model.MaxErrorSamples {
			progress.ErrorSamples = append(progress.ErrorSamples, fmt.Sprintf("frame %d: %s", f.FrameIndex, e.Error()))
		}
	}

	if err := w.sink.CommitFrame(ctx, frame, progress); err != nil {
		return model.FusedPoseFrame{}, fmt.Errorf("commit %s frame %d: %w", f.ViewID, f.FrameIndex, err)
	}
	w.last[f.ViewID] = f.FrameIndex
	w.progress[f.ViewID] = progress
	return frame, nil
}

// Fuse builds the record for one frame. Every detector keeps its own joints;
// nothing is merged or averaged across detectors.
func Fuse(subjectID string, f Frame) model.FusedPoseFrame {
	out := model.FusedPoseFrame{
		SubjectID:  subjectID,
		ViewID:     f.ViewID,
		FrameIndex: f.FrameIndex,
		Time:       f.Time,
		Detectors:  make(map[string]model.DetectorResult, len(f.Outputs)),
	}
	if f.DepthMissing {
		out.Errors = append(out.Errors, model.FrameError{Kind: model.KindAlignmentInvalid, Message: "no depth frame within tolerance"})
	}
	out.Errors = append(out.Errors, f.Errors...)

	for _, o := range f.Outputs {
		id := o.Set.DetectorID
		res := model.DetectorResult{DetectorID: id, Joints: make(map[string]model.JointEstimate, len(o.Set.Joints))}
		if o.Failure != nil {
			failure := *o.Failure
			res.Failure = &failure
			out.Errors = append(out.Errors, failure)
			out.Detectors[id] = res
			continue
		}

		names := make([]string, 0, len(o.Set.Joints))
		for name := range o.Set.Joints {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			kp := o.Set.Joints[name]
			pr, ok := o.Projected[name]
			if !ok {
				pr = projection.Result{Position: model.Unresolved(model.ReasonNoDepthFrame)}
			}
			est := model.JointEstimate{
				Pixel:      model.Point2D{X: kp.X, Y: kp.Y},
				Position:   pr.Position,
				DepthPixel: pr.DepthPixel,
				Confidence: kp.Confidence,
				Status:     model.JointProjected,
			}
			if !pr.Position.Resolved {
				est.Status = model.JointUnprojectable
				if depthFailure(pr.Position.Reason) {
					out.Errors = append(out.Errors, model.FrameError{
						Kind:       model.KindDepthUnresolved,
						DetectorID: id,
						Joint:      name,
						Message:    string(pr.Position.Reason),
					})
				}
			}
			res.Joints[name] = est
		}
		for _, name := range o.Vocabulary {
			if _, ok := o.Set.Joints[name]; !ok {
				res.NotDetected = append(res.NotDetected, name)
			}
		}
		out.Detectors[id] = res
	}
	return out
}

// depthFailure reports whether an unresolved reason is a depth lookup error.
// Low confidence is a deliberate skip and a missing depth frame is recorded
// once per frame.
func depthFailure(r model.UnresolvedReason) bool {
	switch r {
	case model.ReasonLowConfidence, model.ReasonNoDepthFrame:
		return false
	}
	return true
}
