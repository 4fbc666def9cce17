package calibration

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/okian/posefuse/internal/domain/model"
)

// keyDelim splits nested keys. Transform keys are decimal epoch seconds, so
// the default "." cannot be used.
const keyDelim = "/"

// IntrinsicsEntry accepts either named parameters or a row-major K.
type IntrinsicsEntry struct {
	Fx   float64   `koanf:"fx"`
	Fy   float64   `koanf:"fy"`
	Cx   float64   `koanf:"cx"`
	Cy   float64   `koanf:"cy"`
	Skew float64   `koanf:"skew"`
	K    []float64 `koanf:"k"`
}

// TransformEntry is a depth-to-color transform; translation is metres.
type TransformEntry struct {
	Rotation    []float64 `koanf:"rotation"`
	Translation []float64 `koanf:"translation"`
}

// ViewEntry is the external calibration record of one view.
type ViewEntry struct {
	ColorIntrinsics *IntrinsicsEntry `koanf:"color_intrinsics"`
	DepthIntrinsics *IntrinsicsEntry `koanf:"depth_intrinsics"`
	DepthToColor    *TransformEntry  `koanf:"depth_to_color"`
	// Transforms holds time-stamped candidates keyed by epoch seconds; the
	// one closest to the middle of the recording is used.
	Transforms map[string]TransformEntry `koanf:"transforms"`
}

// Table is the external calibration of one subject, keyed by view.
type Table struct {
	SubjectID string
	Views     map[string]ViewEntry
}

// LoadFile reads the subject's section of an external calibration file
// (YAML or JSON, keyed subject -> view -> entry). A subject absent from the
// file yields an empty table.
func LoadFile(path, subjectID string) (*Table, error) {
	k := koanf.New(keyDelim)
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load calibration file %s: %w", path, err)
	}
	t := &Table{SubjectID: subjectID, Views: map[string]ViewEntry{}}
	if !k.Exists(subjectID) {
		return t, nil
	}
	if err := k.UnmarshalWithConf(subjectID, &t.Views, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode calibration for subject %s: %w", subjectID, err)
	}
	return t, nil
}

// Lookup converts the view's entry into a partial calibration. A field that
// cannot be read is left nil and its reason is returned under the field
// name. midpoint is only called when the entry picks its extrinsics from
// time-stamped transforms; a nil midpoint skips them.
func (t *Table) Lookup(viewID string, midpoint func() (time.Time, error)) (model.PartialCalibration, map[string]string) {
	var out model.PartialCalibration
	problems := map[string]string{}
	if t == nil {
		return out, problems
	}
	e, ok := t.Views[viewID]
	if !ok {
		return out, problems
	}

	if e.ColorIntrinsics != nil {
		in, err := e.ColorIntrinsics.toModel()
		if err != nil {
			problems[model.FieldColorIntrinsics] = err.Error()
		}
		out.ColorIntrinsics = in
	}
	if e.DepthIntrinsics != nil {
		in, err := e.DepthIntrinsics.toModel()
		if err != nil {
			problems[model.FieldDepthIntrinsics] = err.Error()
		}
		out.DepthIntrinsics = in
	}

	tr := e.DepthToColor
	if tr == nil && len(e.Transforms) > 0 && midpoint != nil {
		picked, err := pickTransform(e.Transforms, midpoint)
		if err != nil {
			problems[model.FieldDepthToColor] = err.Error()
		} else {
			tr = &picked
		}
	}
	if tr != nil {
		ext, err := ExtrinsicsFrom(tr.Rotation, tr.Translation)
		if err != nil {
			problems[model.FieldDepthToColor] = err.Error()
		} else {
			out.DepthToColor = &ext
		}
	}
	return out, problems
}

func pickTransform(candidates map[string]TransformEntry, midpoint func() (time.Time, error)) (TransformEntry, error) {
	at, err := midpoint()
	if err != nil {
		return TransformEntry{}, err
	}
	return closestTransform(candidates, at)
}

func (e *IntrinsicsEntry) toModel() (*model.Intrinsics, error) {
	if len(e.K) > 0 {
		in, err := model.IntrinsicsFromK(e.K)
		if err != nil {
			return nil, err
		}
		return &in, nil
	}
	return &model.Intrinsics{Fx: e.Fx, Fy: e.Fy, Cx: e.Cx, Cy: e.Cy, Skew: e.Skew}, nil
}

// ExtrinsicsFrom builds a transform from a row-major rotation and a
// translation in metres.
func ExtrinsicsFrom(rotation, translation []float64) (model.Extrinsics, error) {
	var ext model.Extrinsics
	if len(rotation) != 9 {
		return ext, fmt.Errorf("rotation needs 9 values, got %d", len(rotation))
	}
	if len(translation) != 3 {
		return ext, fmt.Errorf("translation needs 3 values, got %d", len(translation))
	}
	copy(ext.Rotation[:], rotation)
	copy(ext.Translation[:], translation)
	return ext, nil
}

// closestTransform picks the candidate nearest to midpoint; ties go to the
// earlier timestamp.
func closestTransform(candidates map[string]TransformEntry, midpoint time.Time) (TransformEntry, error) {
	type stamped struct {
		at    float64
		entry TransformEntry
	}
	list := make([]stamped, 0, len(candidates))
	for key, entry := range candidates {
		at, err := strconv.ParseFloat(key, 64)
		if err != nil {
			return TransformEntry{}, fmt.Errorf("transform key %q is not epoch seconds", key)
		}
		list = append(list, stamped{at: at, entry: entry})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].at < list[j].at })

	target := float64(midpoint.UnixNano()) / 1e9
	best := 0
	for i := 1; i < len(list); i++ {
		if math.Abs(list[i].at-target) < math.Abs(list[best].at-target) {
			best = i
		}
	}
	return list[best].entry, nil
}
