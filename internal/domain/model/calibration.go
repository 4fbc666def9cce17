package model

import (
	"fmt"
	"time"
)

// Intrinsics are the pinhole parameters of one imager, in pixels.
type Intrinsics struct {
	Fx   float64 `json:"fx" koanf:"fx"`
	Fy   float64 `json:"fy" koanf:"fy"`
	Cx   float64 `json:"cx" koanf:"cx"`
	Cy   float64 `json:"cy" koanf:"cy"`
	Skew float64 `json:"skew" koanf:"skew"`
}

// K returns the row-major 3x3 camera matrix.
func (in Intrinsics) K() []float64 {
	return []float64{
		in.Fx, in.Skew, in.Cx,
		0, in.Fy, in.Cy,
		0, 0, 1,
	}
}

// IntrinsicsFromK reads a row-major 3x3 camera matrix.
func IntrinsicsFromK(k []float64) (Intrinsics, error) {
	if len(k) != 9 {
		return Intrinsics{}, fmt.Errorf("camera matrix needs 9 values, got %d", len(k))
	}
	return Intrinsics{Fx: k[0], Skew: k[1], Cx: k[2], Fy: k[4], Cy: k[5]}, nil
}

// Extrinsics is a rigid transform from the depth imager into the color
// imager: X_color = Rotation * X_depth + Translation. Translation is metres.
type Extrinsics struct {
	Rotation    [9]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
}

// IdentityExtrinsics is the transform of co-located imagers.
func IdentityExtrinsics() Extrinsics {
	return Extrinsics{Rotation: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// CalibrationSource records where calibration values came from.
type CalibrationSource string

const (
	SourceEmbedded CalibrationSource = "embedded"
	SourceExternal CalibrationSource = "external_file"
	SourceMerged   CalibrationSource = "merged"
)

// Calibration field names used for per-field provenance.
const (
	FieldColorIntrinsics = "color_intrinsics"
	FieldDepthIntrinsics = "depth_intrinsics"
	FieldDepthToColor    = "depth_to_color"
)

// PartialCalibration holds whatever one source knows about a view.
// Nil fields are absent.
type PartialCalibration struct {
	ColorIntrinsics *Intrinsics
	DepthIntrinsics *Intrinsics
	DepthToColor    *Extrinsics
}

// Complete reports whether every field is present.
func (p PartialCalibration) Complete() bool {
	return p.ColorIntrinsics != nil && p.DepthIntrinsics != nil && p.DepthToColor != nil
}

// Empty reports whether no field is present.
func (p PartialCalibration) Empty() bool {
	return p.ColorIntrinsics == nil && p.DepthIntrinsics == nil && p.DepthToColor == nil
}

// Missing lists absent field names.
func (p PartialCalibration) Missing() []string {
	var out []string
	if p.ColorIntrinsics == nil {
		out = append(out, FieldColorIntrinsics)
	}
	if p.DepthIntrinsics == nil {
		out = append(out, FieldDepthIntrinsics)
	}
	if p.DepthToColor == nil {
		out = append(out, FieldDepthToColor)
	}
	return out
}

// CalibrationProfile is the resolved, immutable calibration of one view.
type CalibrationProfile struct {
	ViewID          string                       `json:"view_id"`
	ColorIntrinsics Intrinsics                   `json:"color_intrinsics"`
	DepthIntrinsics Intrinsics                   `json:"depth_intrinsics"`
	DepthToColor    Extrinsics                   `json:"depth_to_color"`
	Source          CalibrationSource            `json:"source"`
	FieldSources    map[string]CalibrationSource `json:"field_sources"`
	ResolvedAt      time.Time                    `json:"resolved_at"`
}
