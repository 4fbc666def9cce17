// Package synthetic writes deterministic recordings and detector backends
// for tests and local runs. Every color frame carries its index in the
// first two pixels so a fake detector can tell frames apart.
package synthetic

import (
	"time"

	"github.com/okian/posefuse/internal/domain/model"
)

// Defaults for generated recordings.
const (
	defaultFrames        = 30
	defaultColorInterval = 33 * time.Millisecond
	defaultWidth         = 160
	defaultHeight        = 120
	defaultDepthWidth    = 80
	defaultDepthHeight   = 60
	defaultDepthValue    = 1500 // depth units; 1.5 m at 0.001 m per unit
)

// Options describes one recording.
type Options struct {
	Views  []string
	Frames int
	// DepthFrames defaults to Frames.
	DepthFrames int
	Start       time.Time

	ColorInterval time.Duration
	// DepthInterval defaults to ColorInterval.
	DepthInterval time.Duration
	DepthOffset   time.Duration
	// DepthGaps are nominal depth frames left out of the stream. Remaining
	// samples are renumbered so the stream stays contiguous.
	DepthGaps []int
	// CorruptDepth are stored depth frames whose payload is not a PNG.
	CorruptDepth []int
	// MatchedIndex writes <view>/color/matched_depth_index.
	MatchedIndex bool

	Width, Height           int
	DepthWidth, DepthHeight int
	DepthValue              uint16

	// Calibration embedded for every view.
	ColorIntrinsics model.Intrinsics
	DepthIntrinsics model.Intrinsics
	DepthToColor    model.Extrinsics
	// OmitEmbedded drops calibration fields (model.Field* names).
	OmitEmbedded []string
}

// DefaultOptions returns a two-view recording with full embedded calibration.
func DefaultOptions() Options {
	ext := model.IdentityExtrinsics()
	ext.Translation = [3]float64{0.05, 0, 0}
	return Options{
		Views:           []string{"upper", "lower"},
		Frames:          defaultFrames,
		Start:           time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC),
		ColorInterval:   defaultColorInterval,
		Width:           defaultWidth,
		Height:          defaultHeight,
		DepthWidth:      defaultDepthWidth,
		DepthHeight:     defaultDepthHeight,
		DepthValue:      defaultDepthValue,
		ColorIntrinsics: model.Intrinsics{Fx: 150, Fy: 150, Cx: 80, Cy: 60},
		DepthIntrinsics: model.Intrinsics{Fx: 75, Fy: 75, Cx: 40, Cy: 30},
		DepthToColor:    ext,
	}
}

// Profile is the calibration a resolver should produce for opts.
func (o Options) Profile(viewID string) model.CalibrationProfile {
	return model.CalibrationProfile{
		ViewID:          viewID,
		ColorIntrinsics: o.ColorIntrinsics,
		DepthIntrinsics: o.DepthIntrinsics,
		DepthToColor:    o.DepthToColor,
		Source:          model.SourceEmbedded,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if len(o.Views) == 0 {
		o.Views = d.Views
	}
	if o.Frames <= 0 {
		o.Frames = d.Frames
	}
	if o.DepthFrames <= 0 {
		o.DepthFrames = o.Frames
	}
	if o.Start.IsZero() {
		o.Start = d.Start
	}
	if o.ColorInterval <= 0 {
		o.ColorInterval = d.ColorInterval
	}
	if o.DepthInterval <= 0 {
		o.DepthInterval = o.ColorInterval
	}
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = d.Width, d.Height
	}
	if o.DepthWidth <= 0 || o.DepthHeight <= 0 {
		o.DepthWidth, o.DepthHeight = d.DepthWidth, d.DepthHeight
	}
	if o.DepthValue == 0 {
		o.DepthValue = d.DepthValue
	}
	if o.ColorIntrinsics.Fx == 0 {
		o.ColorIntrinsics = d.ColorIntrinsics
	}
	if o.DepthIntrinsics.Fx == 0 {
		o.DepthIntrinsics = d.DepthIntrinsics
	}
	if o.DepthToColor.Rotation == ([9]float64{}) {
		o.DepthToColor = d.DepthToColor
	}
	return o
}

func (o Options) omitted(field string) bool {
	for _, f := range o.OmitEmbedded {
		if f == field {
			return true
		}
	}
	return false
}

func contains(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
