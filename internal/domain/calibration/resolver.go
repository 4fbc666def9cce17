// Package calibration resolves the intrinsics and depth-to-color extrinsics
// of each view from the recording itself and from an external file.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/posefuse/internal/domain/model"
)

// Embedded attribute names, stored on the view's color and depth datasets.
const (
	AttrCameraMatrix = "K"
	AttrRotation     = "depth_to_color-rotation"
	AttrTranslation  = "depth_to_color-translation"
)

// ErrInvalidPrecedence is returned for an unknown precedence name.
var ErrInvalidPrecedence = errors.New("invalid calibration precedence")

// Precedence decides which source wins a field both sources provide.
type Precedence string

const (
	PreferEmbedded Precedence = "embedded"
	PreferExternal Precedence = "external"
)

// ParsePrecedence accepts "embedded" (also the empty string) and "external".
func ParsePrecedence(s string) (Precedence, error) {
	switch Precedence(strings.ToLower(strings.TrimSpace(s))) {
	case "", PreferEmbedded:
		return PreferEmbedded, nil
	case PreferExternal:
		return PreferExternal, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPrecedence, s)
}

// Recording is the part of the input container the resolver reads.
type Recording interface {
	Attributes(ctx context.Context, path string) (map[string][]float64, error)
	Times(ctx context.Context, path string) ([]time.Time, error)
}

// Resolver produces one profile per view and memoizes it for the job run.
type Resolver struct {
	recording  Recording
	external   *Table
	precedence Precedence
	now        func() time.Time

	cache sync.Map // view id -> *cached
}

type cached struct {
	once    sync.Once
	profile model.CalibrationProfile
	err     error
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithExternal sets the subject's external calibration table.
func WithExternal(t *Table) Option {
	return func(r *Resolver) { r.external = t }
}

// WithPrecedence overrides which source wins per field.
func WithPrecedence(p Precedence) Option {
	return func(r *Resolver) {
		if p != "" {
			r.precedence = p
		}
	}
}

// WithClock sets the clock used for ResolvedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver creates a resolver over one subject's recording.
func NewResolver(recording Recording, opts ...Option) *Resolver {
	r := &Resolver{
		recording:  recording,
		precedence: PreferEmbedded,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the view's profile. It fails with
// model.ErrCalibrationUnavailable only when the sources together cannot
// provide every field. Concurrent callers for the same view share one
// resolution.
func (r *Resolver) Resolve(ctx context.Context, viewID string) (model.CalibrationProfile, error) {
	v, _ := r.cache.LoadOrStore(viewID, &cached{})
	c := v.(*cached)
	c.once.Do(func() {
		c.profile, c.err = r.resolve(ctx, viewID)
	})
	return c.profile, c.err
}

func (r *Resolver) resolve(ctx context.Context, viewID string) (model.CalibrationProfile, error) {
	embedded, err := Embedded(ctx, r.recording, viewID)
	if err != nil {
		return model.CalibrationProfile{}, err
	}

	// Time-stamped external extrinsics are only looked up when they can win.
	var midpoint func() (time.Time, error)
	if r.precedence == PreferExternal || embedded.DepthToColor == nil || ValidateExtrinsics(*embedded.DepthToColor) != nil {
		midpoint = func() (time.Time, error) { return r.colorMidpoint(ctx, viewID) }
	}
	external, problems := r.external.Lookup(viewID, midpoint)

	primary := Layer{Source: model.SourceEmbedded, Values: embedded}
	secondary := Layer{Source: model.SourceExternal, Values: external, Problems: problems}
	if r.precedence == PreferExternal {
		primary, secondary = secondary, primary
	}
	return Merge(viewID, primary, secondary, r.now())
}

func (r *Resolver) colorMidpoint(ctx context.Context, viewID string) (time.Time, error) {
	ts, err := r.recording.Times(ctx, model.ColorDataPath(viewID))
	if err != nil {
		return time.Time{}, fmt.Errorf("read color times of %s: %w", viewID, err)
	}
	if len(ts) == 0 {
		return time.Time{}, fmt.Errorf("view %s has no color frames", viewID)
	}
	first, last := ts[0], ts[len(ts)-1]
	return first.Add(last.Sub(first) / 2), nil
}

// Embedded reads the calibration recorded inside the container. Absent or
// malformed attributes leave the corresponding field nil.
func Embedded(ctx context.Context, rec Recording, viewID string) (model.PartialCalibration, error) {
	var out model.PartialCalibration

	colorAttrs, err := rec.Attributes(ctx, model.ColorDataPath(viewID))
	if err != nil {
		return out, fmt.Errorf("read color attributes of %s: %w", viewID, err)
	}
	depthAttrs, err := rec.Attributes(ctx, model.DepthDataPath(viewID))
	if err != nil {
		return out, fmt.Errorf("read depth attributes of %s: %w", viewID, err)
	}

	if in, err := model.IntrinsicsFromK(colorAttrs[AttrCameraMatrix]); err == nil {
		out.ColorIntrinsics = &in
	}
	if in, err := model.IntrinsicsFromK(depthAttrs[AttrCameraMatrix]); err == nil {
		out.DepthIntrinsics = &in
	}
	if ext, err := ExtrinsicsFrom(colorAttrs[AttrRotation], colorAttrs[AttrTranslation]); err == nil {
		out.DepthToColor = &ext
	}
	return out, nil
}
