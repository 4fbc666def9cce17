// Package projection lifts 2D color keypoints into metric 3D points using an
// aligned depth image and the view's calibration.
package projection

import (
	"errors"
	"fmt"
	"math"

	"github.com/okian/posefuse/internal/domain/model"
	"gonum.org/v1/gonum/mat"
)

const (
	// convergence is the depth change, in metres, below which refinement stops.
	convergence = 1e-6
	// seedSamples is how many depths along the admissible range are tried
	// when the seed depth maps outside the depth image.
	seedSamples  = 64
	minSeedDepth = 0.01
)

// ErrInvalidOptions is returned by New for unusable options.
var ErrInvalidOptions = errors.New("invalid projection options")

// Options tune the depth lookup.
type Options struct {
	MinDepth      float64 // metres
	MaxDepth      float64 // metres
	DepthScale    float64 // metres per raw depth unit
	Window        int     // odd kernel size for the min non-zero lookup
	MaxIterations int
	SeedDepth     float64 // metres
}

// DefaultOptions matches millimetre depth images from short-range sensors.
func DefaultOptions() Options {
	return Options{
		MinDepth:      0.1,
		MaxDepth:      10,
		DepthScale:    0.001,
		Window:        5,
		MaxIterations: 3,
		SeedDepth:     1,
	}
}

// Validate checks that the options describe a usable depth lookup.
func (o Options) Validate() error {
	switch {
	case o.Window < 1 || o.Window%2 == 0:
		return fmt.Errorf("%w: depth window must be a positive odd number, got %d", ErrInvalidOptions, o.Window)
	case o.MaxIterations < 1:
		return fmt.Errorf("%w: max iterations must be positive", ErrInvalidOptions)
	case !(o.DepthScale > 0):
		return fmt.Errorf("%w: depth scale must be positive", ErrInvalidOptions)
	case !(o.SeedDepth > 0):
		return fmt.Errorf("%w: seed depth must be positive", ErrInvalidOptions)
	case o.MinDepth < 0 || !(o.MaxDepth > o.MinDepth):
		return fmt.Errorf("%w: depth range [%g, %g]", ErrInvalidOptions, o.MinDepth, o.MaxDepth)
	}
	return nil
}

// Result is the outcome of projecting one keypoint.
type Result struct {
	Position model.Point3D
	// DepthPixel is the keypoint's location in the depth image, when the
	// refinement got far enough to compute one.
	DepthPixel *model.Point2D
}

// Projector holds the precomputed matrices of one view. It is immutable and
// safe for concurrent use.
type Projector struct {
	opts  Options
	kcInv *mat.Dense
	kd    *mat.Dense
	kdInv *mat.Dense
	r     *mat.Dense
	t     *mat.VecDense
}

// New prepares a projector for a resolved calibration profile.
func New(profile model.CalibrationProfile, opts Options) (*Projector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	kc := mat.NewDense(3, 3, profile.ColorIntrinsics.K())
	kd := mat.NewDense(3, 3, profile.DepthIntrinsics.K())

	p := &Projector{
		opts:  opts,
		kcInv: mat.NewDense(3, 3, nil),
		kd:    kd,
		kdInv: mat.NewDense(3, 3, nil),
		r:     mat.NewDense(3, 3, append([]float64(nil), profile.DepthToColor.Rotation[:]...)),
		t:     mat.NewVecDense(3, append([]float64(nil), profile.DepthToColor.Translation[:]...)),
	}
	if err := p.kcInv.Inverse(kc); err != nil {
		return nil, fmt.Errorf("invert color intrinsics of %s: %w", profile.ViewID, err)
	}
	if err := p.kdInv.Inverse(kd); err != nil {
		return nil, fmt.Errorf("invert depth intrinsics of %s: %w", profile.ViewID, err)
	}
	return p, nil
}

// Options returns the options the projector was built with.
func (p *Projector) Options() Options { return p.opts }

// Project lifts one keypoint. depth is nil when the color frame has no
// aligned depth frame. Keypoints below minConfidence keep their 2D position
// only.
func (p *Projector) Project(kp model.Keypoint, minConfidence float64, depth *DepthImage) Result {
	if kp.Confidence < minConfidence {
		return Result{Position: model.Unresolved(model.ReasonLowConfidence)}
	}
	if depth == nil {
		return Result{Position: model.Unresolved(model.ReasonNoDepthFrame)}
	}

	ray := mat.NewVecDense(3, nil)
	ray.MulVec(p.kcInv, mat.NewVecDense(3, []float64{kp.X, kp.Y, 1}))
	// Kc is upper triangular with a unit corner, so ray z is 1.

	z, fail, ok := p.seed(ray, depth)
	if !ok {
		return Result{Position: model.Unresolved(fail.reason), DepthPixel: fail.px}
	}
	var depthPixel *model.Point2D
	for i := 0; i < p.opts.MaxIterations; i++ {
		px, ok := p.depthPixel(ray, z)
		if !ok {
			return Result{Position: model.Unresolved(model.ReasonDegenerateGeometry), DepthPixel: depthPixel}
		}
		depthPixel = &px

		ix, iy := int(math.Round(px.X)), int(math.Round(px.Y))
		if !depth.Contains(ix, iy) {
			return Result{Position: model.Unresolved(model.ReasonDepthPixelOutside), DepthPixel: depthPixel}
		}
		raw := depth.MinNonZero(ix, iy, p.opts.Window)
		if raw == 0 {
			return Result{Position: model.Unresolved(model.ReasonDepthInvalid), DepthPixel: depthPixel}
		}
		s := float64(raw) * p.opts.DepthScale
		if s < p.opts.MinDepth || s > p.opts.MaxDepth {
			return Result{Position: model.Unresolved(model.ReasonDepthOutOfRange), DepthPixel: depthPixel}
		}

		next := p.backProject(px, s)
		dz := math.Abs(next - z)
		z = next
		if dz < convergence {
			break
		}
	}
	if !(z > 0) || math.IsInf(z, 0) {
		return Result{Position: model.Unresolved(model.ReasonDegenerateGeometry), DepthPixel: depthPixel}
	}
	return Result{
		Position: model.Point3D{
			X:        z * ray.AtVec(0),
			Y:        z * ray.AtVec(1),
			Z:        z * ray.AtVec(2),
			Resolved: true,
		},
		DepthPixel: depthPixel,
	}
}

type seedFailure struct {
	reason model.UnresolvedReason
	px     *model.Point2D
}

// seed picks the starting depth of the refinement. SeedDepth is used when
// it maps inside the depth image; otherwise the admissible range is sampled
// and the in-image depth closest to SeedDepth wins. A keypoint is out of
// bounds only when no admissible depth maps inside the image.
func (p *Projector) seed(ray *mat.VecDense, depth *DepthImage) (float64, seedFailure, bool) {
	inside := func(z float64) (model.Point2D, bool, bool) {
		px, ok := p.depthPixel(ray, z)
		if !ok {
			return px, false, false
		}
		return px, true, depth.Contains(int(math.Round(px.X)), int(math.Round(px.Y)))
	}

	px, front, in := inside(p.opts.SeedDepth)
	if in {
		return p.opts.SeedDepth, seedFailure{}, true
	}
	fail := seedFailure{reason: model.ReasonDegenerateGeometry}
	if front {
		fail = seedFailure{reason: model.ReasonDepthPixelOutside, px: &px}
	}

	lo, hi := math.Max(p.opts.MinDepth, minSeedDepth), p.opts.MaxDepth
	best, found := 0.0, false
	step := math.Pow(hi/lo, 1.0/float64(seedSamples-1))
	for i, z := 0, lo; i < seedSamples; i, z = i+1, z*step {
		candidate, front, in := inside(z)
		if front && fail.reason == model.ReasonDegenerateGeometry {
			fail = seedFailure{reason: model.ReasonDepthPixelOutside, px: &candidate}
		}
		if !in {
			continue
		}
		if !found || math.Abs(math.Log(z/p.opts.SeedDepth)) < math.Abs(math.Log(best/p.opts.SeedDepth)) {
			best, found = z, true
		}
	}
	if !found {
		return 0, fail, false
	}
	return best, seedFailure{}, true
}

// depthPixel maps the color-frame candidate z*ray into depth image pixels.
func (p *Projector) depthPixel(ray *mat.VecDense, z float64) (model.Point2D, bool) {
	pc := mat.NewVecDense(3, nil)
	pc.ScaleVec(z, ray)
	pc.SubVec(pc, p.t)

	pd := mat.NewVecDense(3, nil)
	pd.MulVec(p.r.T(), pc)
	if !(pd.AtVec(2) > 0) {
		return model.Point2D{}, false
	}

	h := mat.NewVecDense(3, nil)
	h.MulVec(p.kd, pd)
	return model.Point2D{X: h.AtVec(0) / h.AtVec(2), Y: h.AtVec(1) / h.AtVec(2)}, true
}

// backProject returns the color-frame z of the depth pixel px at depth s.
func (p *Projector) backProject(px model.Point2D, s float64) float64 {
	pd := mat.NewVecDense(3, nil)
	pd.MulVec(p.kdInv, mat.NewVecDense(3, []float64{px.X, px.Y, 1}))
	pd.ScaleVec(s, pd)

	pc := mat.NewVecDense(3, nil)
	pc.MulVec(p.r, pd)
	pc.AddVec(pc, p.t)
	return pc.AtVec(2)
}

// ProjectToColor maps a color-frame point to color pixels. It is the inverse
// of Project for resolved points and is used to check round trips.
func ProjectToColor(profile model.CalibrationProfile, pt model.Point3D) (model.Point2D, error) {
	if !(pt.Z > 0) {
		return model.Point2D{}, fmt.Errorf("point behind the color camera (z=%g)", pt.Z)
	}
	k := mat.NewDense(3, 3, profile.ColorIntrinsics.K())
	h := mat.NewVecDense(3, nil)
	h.MulVec(k, mat.NewVecDense(3, []float64{pt.X, pt.Y, pt.Z}))
	return model.Point2D{X: h.AtVec(0) / h.AtVec(2), Y: h.AtVec(1) / h.AtVec(2)}, nil
}

// DepthPixelOf maps a color-frame point into depth image pixels, returning the
// depth-frame z in metres as well.
func DepthPixelOf(profile model.CalibrationProfile, pt model.Point3D) (model.Point2D, float64, error) {
	r := mat.NewDense(3, 3, append([]float64(nil), profile.DepthToColor.Rotation[:]...))
	t := mat.NewVecDense(3, append([]float64(nil), profile.DepthToColor.Translation[:]...))

	pc := mat.NewVecDense(3, []float64{pt.X, pt.Y, pt.Z})
	pc.SubVec(pc, t)
	pd := mat.NewVecDense(3, nil)
	pd.MulVec(r.T(), pc)
	if !(pd.AtVec(2) > 0) {
		return model.Point2D{}, 0, fmt.Errorf("point behind the depth camera (z=%g)", pd.AtVec(2))
	}
	kd := mat.NewDense(3, 3, profile.DepthIntrinsics.K())
	h := mat.NewVecDense(3, nil)
	h.MulVec(kd, pd)
	return model.Point2D{X: h.AtVec(0) / h.AtVec(2), Y: h.AtVec(1) / h.AtVec(2)}, pd.AtVec(2), nil
}
