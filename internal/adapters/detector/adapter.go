// Package detector wraps heterogeneous pose detectors behind one call and
// normalizes what they report into model.KeypointSet.
package detector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // color frames may be JPEG
	_ "image/png"
	"math"
	"strings"
	"time"

	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/pkg/logger"
	"github.com/okian/posefuse/pkg/metrics"
)

const defaultTimeout = 30 * time.Second

// Kind names a backend transport.
type Kind string

const (
	KindHTTP    Kind = "http"
	KindProcess Kind = "process"
	KindFunc    Kind = "func"
)

// ParseKind accepts a known backend kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindHTTP, KindProcess, KindFunc:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Config describes one detector.
type Config struct {
	ID         string
	Kind       Kind
	Format     Format
	Capability Capability
	Side       string
	URL        string
	Command    []string
	Timeout    time.Duration
	// MinConfidence is the normalized confidence below which 3D is skipped.
	MinConfidence float64
	// ConfidenceScale is the detector's native maximum confidence.
	ConfidenceScale float64
}

// Adapter is one detector behind the uniform Detect call.
type Adapter struct {
	cfg     Config
	backend Backend
	vocab   Vocabulary
	gate    *Gate
	logger  logger.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithGate routes every call through the accelerator gate.
func WithGate(g *Gate) Option {
	return func(a *Adapter) { a.gate = g }
}

// WithLogger sets the adapter's logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdapter validates cfg and wraps backend.
func NewAdapter(cfg Config, backend Backend, opts ...Option) (*Adapter, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("%w: empty detector id", ErrInvalidDetector)
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: detector %s has no backend", ErrInvalidDetector, cfg.ID)
	}
	if cfg.Format == "" {
		cfg.Format = FormatNamed
	}
	if cfg.Capability == "" {
		cfg.Capability = CapabilityFullBody
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ConfidenceScale == 0 {
		cfg.ConfidenceScale = 1
	}
	if cfg.ConfidenceScale < 0 || math.IsNaN(cfg.ConfidenceScale) {
		return nil, fmt.Errorf("%w: detector %s confidence scale %g", ErrInvalidDetector, cfg.ID, cfg.ConfidenceScale)
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("%w: detector %s min confidence %g outside [0,1]", ErrInvalidDetector, cfg.ID, cfg.MinConfidence)
	}

	a := &Adapter{
		cfg:     cfg,
		backend: backend,
		vocab:   VocabularyFor(cfg.Format, cfg.Capability),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logger.Get().Named("detector")
	}
	a.logger = a.logger.With(logger.String("detector", cfg.ID))
	return a, nil
}

func (a *Adapter) ID() string             { return a.cfg.ID }
func (a *Adapter) MinConfidence() float64 { return a.cfg.MinConfidence }
func (a *Adapter) Capability() Capability { return a.cfg.Capability }
func (a *Adapter) Vocabulary() Vocabulary { return a.vocab }
func (a *Adapter) Timeout() time.Duration { return a.cfg.Timeout }

// Detect runs the detector on one encoded frame. It never returns an error:
// failures, panics and timeouts yield an empty set and a FrameError. The call
// is detached from ctx cancellation so an in-flight call drains; it is still
// bounded by the detector timeout.
func (a *Adapter) Detect(ctx context.Context, frameIndex int, img []byte) (model.KeypointSet, *model.FrameError) {
	set := model.KeypointSet{DetectorID: a.cfg.ID, FrameIndex: frameIndex, Joints: map[string]model.Keypoint{}}
	detached := context.WithoutCancel(ctx)

	if a.gate != nil {
		// waiting for a slot is bounded by the same timeout as the call
		waitCtx, cancelWait := context.WithTimeout(detached, a.cfg.Timeout)
		err := a.gate.Acquire(waitCtx)
		cancelWait()
		if err != nil {
			kind := model.KindDetectorError
			if errors.Is(err, context.DeadlineExceeded) {
				kind = model.KindDetectorTimeout
			}
			return set, a.fail(ctx, frameIndex, kind, fmt.Errorf("wait for accelerator slot: %w", err), 0)
		}
		defer a.gate.Release()
	}

	callCtx, cancel := context.WithTimeout(detached, a.cfg.Timeout)
	defer cancel()

	start := time.Now()
	raw, err := a.call(callCtx, img)
	elapsed := time.Since(start)
	if err != nil {
		kind := model.KindDetectorError
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			kind = model.KindDetectorTimeout
		}
		return set, a.fail(ctx, frameIndex, kind, err, elapsed)
	}

	joints, err := a.normalize(raw, img)
	if err != nil {
		return set, a.fail(ctx, frameIndex, model.KindDetectorError, err, elapsed)
	}
	set.Joints = joints
	metrics.RecordDetectorCall(a.cfg.ID, "ok", elapsed)
	return set, nil
}

type callResult struct {
	keypoints []RawKeypoint
	err       error
}

func (a *Adapter) call(ctx context.Context, img []byte) ([]RawKeypoint, error) {
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("detector panicked: %v", r)}
			}
		}()
		kps, err := a.backend.Detect(ctx, img)
		done <- callResult{keypoints: kps, err: err}
	}()

	select {
	case r := <-done:
		return r.keypoints, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Adapter) fail(ctx context.Context, frameIndex int, kind model.ErrorKind, err error, elapsed time.Duration) *model.FrameError {
	outcome := "error"
	if kind == model.KindDetectorTimeout {
		outcome = "timeout"
	}
	metrics.RecordDetectorCall(a.cfg.ID, outcome, elapsed)
	metrics.RecordDetectorFailure(a.cfg.ID, string(kind))
	a.logger.Warn(ctx, "detector call failed",
		logger.Int("frame", frameIndex),
		logger.String("kind", string(kind)),
		logger.Error(err))
	return &model.FrameError{Kind: kind, DetectorID: a.cfg.ID, Message: err.Error()}
}

// normalize maps raw keypoints into the canonical vocabulary with pixel
// coordinates and confidences in [0,1]. Names outside the vocabulary and
// non-finite values are dropped; duplicates keep the most confident entry.
func (a *Adapter) normalize(raw []RawKeypoint, img []byte) (map[string]model.Keypoint, error) {
	joints := make(map[string]model.Keypoint, len(raw))
	var width, height float64
	for _, r := range raw {
		name := Canonical(r.Name)
		if !a.vocab.Contains(name) {
			continue
		}
		if !finite(r.X) || !finite(r.Y) || !finite(r.Confidence) {
			continue
		}
		x, y := r.X, r.Y
		if r.Normalized {
			if width == 0 {
				cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
				if err != nil {
					return nil, fmt.Errorf("read image size for normalized keypoints: %w", err)
				}
				width, height = float64(cfg.Width), float64(cfg.Height)
			}
			x, y = x*width, y*height
		}
		conf := clamp01(r.Confidence / a.cfg.ConfidenceScale)
		if prev, ok := joints[name]; ok && prev.Confidence >= conf {
			continue
		}
		joints[name] = model.Keypoint{X: x, Y: y, Confidence: conf}
	}
	return joints, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
