package calibration

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/okian/posefuse/internal/domain/model"
	"gonum.org/v1/gonum/mat"
)

const rotationTolerance = 1e-3

// Layer is one calibration source's contribution.
type Layer struct {
	Source model.CalibrationSource
	Values model.PartialCalibration
	// Problems holds, per field name, why the source could not supply it.
	Problems map[string]string
}

// Merge builds a profile field by field: a valid primary field wins, else the
// secondary field is used. Fields that fail validation count as absent.
func Merge(viewID string, primary, secondary Layer, resolvedAt time.Time) (model.CalibrationProfile, error) {
	p := model.CalibrationProfile{
		ViewID:       viewID,
		FieldSources: make(map[string]model.CalibrationSource, 3),
		ResolvedAt:   resolvedAt,
	}
	var problems []string

	color, src, why := pickIntrinsics(model.FieldColorIntrinsics, primary, secondary, func(c model.PartialCalibration) *model.Intrinsics { return c.ColorIntrinsics })
	if color != nil {
		p.ColorIntrinsics = *color
		p.FieldSources[model.FieldColorIntrinsics] = src
	} else {
		problems = append(problems, model.FieldColorIntrinsics+why)
	}

	depth, src, why := pickIntrinsics(model.FieldDepthIntrinsics, primary, secondary, func(c model.PartialCalibration) *model.Intrinsics { return c.DepthIntrinsics })
	if depth != nil {
		p.DepthIntrinsics = *depth
		p.FieldSources[model.FieldDepthIntrinsics] = src
	} else {
		problems = append(problems, model.FieldDepthIntrinsics+why)
	}

	ext, src, why := pickExtrinsics(primary, secondary)
	if ext != nil {
		p.DepthToColor = *ext
		p.FieldSources[model.FieldDepthToColor] = src
	} else {
		problems = append(problems, model.FieldDepthToColor+why)
	}

	if len(problems) > 0 {
		return model.CalibrationProfile{}, fmt.Errorf("%w: view %s: %s",
			model.ErrCalibrationUnavailable, viewID, strings.Join(problems, "; "))
	}
	p.Source = overallSource(p.FieldSources)
	return p, nil
}

func pickIntrinsics(name string, primary, secondary Layer, field func(model.PartialCalibration) *model.Intrinsics) (*model.Intrinsics, model.CalibrationSource, string) {
	var reasons []string
	for _, l := range []Layer{primary, secondary} {
		in := field(l.Values)
		if why, ok := l.Problems[name]; ok {
			reasons = append(reasons, fmt.Sprintf("%s: %s", l.Source, why))
			continue
		}
		if in == nil {
			continue
		}
		if err := ValidateIntrinsics(*in); err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", l.Source, err))
			continue
		}
		return in, l.Source, ""
	}
	return nil, "", missingReason(reasons)
}

func pickExtrinsics(primary, secondary Layer) (*model.Extrinsics, model.CalibrationSource, string) {
	var reasons []string
	for _, l := range []Layer{primary, secondary} {
		ext := l.Values.DepthToColor
		if why, ok := l.Problems[model.FieldDepthToColor]; ok {
			reasons = append(reasons, fmt.Sprintf("%s: %s", l.Source, why))
			continue
		}
		if ext == nil {
			continue
		}
		if err := ValidateExtrinsics(*ext); err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", l.Source, err))
			continue
		}
		return ext, l.Source, ""
	}
	return nil, "", missingReason(reasons)
}

func missingReason(reasons []string) string {
	if len(reasons) == 0 {
		return " missing from all sources"
	}
	return " invalid (" + strings.Join(reasons, ", ") + ")"
}

func overallSource(fields map[string]model.CalibrationSource) model.CalibrationSource {
	var first model.CalibrationSource
	for _, s := range fields {
		if first == "" {
			first = s
			continue
		}
		if s != first {
			return model.SourceMerged
		}
	}
	return first
}

// ValidateIntrinsics requires positive focal lengths and an invertible K.
func ValidateIntrinsics(in model.Intrinsics) error {
	if !(in.Fx > 0) || !(in.Fy > 0) {
		return fmt.Errorf("focal lengths must be positive (fx=%g fy=%g)", in.Fx, in.Fy)
	}
	k := mat.NewDense(3, 3, in.K())
	if det := mat.Det(k); math.Abs(det) < 1e-12 || math.IsNaN(det) {
		return fmt.Errorf("camera matrix is singular")
	}
	return nil
}

// ValidateExtrinsics requires a proper rotation (orthonormal, det = 1) and a
// finite translation.
func ValidateExtrinsics(e model.Extrinsics) error {
	r := mat.NewDense(3, 3, e.Rotation[:])
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	if !mat.EqualApprox(&rtr, identity3(), rotationTolerance) {
		return fmt.Errorf("rotation is not orthonormal")
	}
	if det := mat.Det(r); math.Abs(det-1) > rotationTolerance {
		return fmt.Errorf("rotation determinant is %g, want 1", det)
	}
	for _, v := range e.Translation {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("translation is not finite")
		}
	}
	return nil
}

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
