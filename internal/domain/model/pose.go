// Package model contains domain models passed between layers.
package model

import "time"

// Container path helpers. A view's streams live under "<view>/...".
func ColorDataPath(view string) string         { return view + "/color/data" }
func DepthDataPath(view string) string         { return view + "/depth/data" }
func MatchedDepthIndexPath(view string) string { return view + "/color/matched_depth_index" }

// PoseSeries is the output record series of a view.
func PoseSeries(view string) string { return "pose/" + view }

// AlignmentEntry pairs one color frame with its depth frame, if any.
type AlignmentEntry struct {
	ColorIndex int           `json:"color_frame_index"`
	DepthIndex int           `json:"depth_frame_index"` // -1 when there is no depth frame
	TimeDelta  time.Duration `json:"time_delta"`
	Valid      bool          `json:"valid"`
}

// Keypoint is one joint in pixel space with a confidence in [0,1].
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// KeypointSet is the normalized output of one detector for one frame.
// Joints missing from the map were not detected.
type KeypointSet struct {
	DetectorID string              `json:"detector_id"`
	FrameIndex int                 `json:"frame_index"`
	Joints     map[string]Keypoint `json:"joints"`
}

// Point2D is a pixel coordinate.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UnresolvedReason says why a keypoint has no 3D position.
type UnresolvedReason string

const (
	ReasonNoDepthFrame       UnresolvedReason = "no_depth_frame"
	ReasonDepthInvalid       UnresolvedReason = "depth_invalid"
	ReasonDepthOutOfRange    UnresolvedReason = "depth_out_of_range"
	ReasonDepthPixelOutside  UnresolvedReason = "depth_pixel_out_of_bounds"
	ReasonLowConfidence      UnresolvedReason = "low_confidence"
	ReasonDegenerateGeometry UnresolvedReason = "degenerate_geometry"
)

// Point3D is a position in metres in the color camera frame. When Resolved
// is false the coordinates are zero and Reason is set.
type Point3D struct {
	X        float64          `json:"x"`
	Y        float64          `json:"y"`
	Z        float64          `json:"z"`
	Resolved bool             `json:"resolved"`
	Reason   UnresolvedReason `json:"reason,omitempty"`
}

// Unresolved builds the sentinel point.
func Unresolved(reason UnresolvedReason) Point3D {
	return Point3D{Reason: reason}
}

// JointStatus distinguishes projected joints from detected-but-unprojectable ones.
type JointStatus string

const (
	JointProjected     JointStatus = "projected"
	JointUnprojectable JointStatus = "unprojectable"
	JointNotDetected   JointStatus = "not_detected"
)

// JointEstimate is one detector's view of one joint in one frame.
type JointEstimate struct {
	Pixel      Point2D     `json:"pixel"`
	Position   Point3D     `json:"position"`
	DepthPixel *Point2D    `json:"depth_pixel,omitempty"`
	Confidence float64     `json:"confidence"`
	Status     JointStatus `json:"status"`
}

// DetectorResult is the per-detector part of a fused frame.
type DetectorResult struct {
	DetectorID  string                   `json:"detector_id"`
	Joints      map[string]JointEstimate `json:"joints"`
	NotDetected []string                 `json:"not_detected,omitempty"`
	Failure     *FrameError              `json:"failure,omitempty"`
}

// FusedPoseFrame is the terminal record for one frame of one view. Outputs
// of different detectors are kept side by side and never merged.
type FusedPoseFrame struct {
	SubjectID  string                    `json:"subject_id"`
	ViewID     string                    `json:"view_id"`
	FrameIndex int                       `json:"frame_index"`
	Time       time.Time                 `json:"time"`
	Detectors  map[string]DetectorResult `json:"detectors"`
	Errors     []FrameError              `json:"errors,omitempty"`
}
