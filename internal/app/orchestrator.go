package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/posefuse/internal/adapters/container"
	"github.com/okian/posefuse/internal/adapters/detector"
	"github.com/okian/posefuse/internal/adapters/repository"
	"github.com/okian/posefuse/internal/domain/alignment"
	"github.com/okian/posefuse/internal/domain/calibration"
	"github.com/okian/posefuse/internal/domain/fusion"
	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/internal/domain/projection"
	"github.com/okian/posefuse/pkg/logger"
	"github.com/okian/posefuse/pkg/metrics"
)

const defaultViewConcurrency = 4

// Orchestrator runs one subject's recording through calibration, alignment,
// detection, projection and fusion. Progress is persisted per frame, so a
// run can be repeated to resume where the last one stopped.
type Orchestrator struct {
	store     repository.Store
	detectors []*detector.Adapter
	tolerance time.Duration

	open            Opener
	projection      projection.Options
	precedence      calibration.Precedence
	calibrationFile string
	viewConcurrency int
	progress        ProgressFunc
	now             func() time.Time
	runID           func() string
	logger          logger.Logger
}

// NewOrchestrator creates an orchestrator writing to store with the
// detectors of registry. tolerance is the alignment tolerance and has no
// default.
func NewOrchestrator(store repository.Store, registry *detector.Registry, tolerance time.Duration, opts ...Option) (*Orchestrator, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, ErrNoDetectors
	}
	if tolerance <= 0 {
		return nil, fmt.Errorf("%w: %v", alignment.ErrInvalidTolerance, tolerance)
	}
	o := &Orchestrator{
		store:           store,
		detectors:       registry.Adapters(),
		tolerance:       tolerance,
		open:            OpenSQLite,
		projection:      projection.DefaultOptions(),
		precedence:      calibration.PreferEmbedded,
		viewConcurrency: defaultViewConcurrency,
		now:             time.Now,
		runID:           newRunID,
		logger:          logger.Get().Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.projection.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// viewRun is the per-view state carried from preparation into frame
// processing.
type viewRun struct {
	state      model.ViewState
	projector  *projection.Projector
	entries    []model.AlignmentEntry
	colorTimes []time.Time
}

// Run processes req. Views already finished by an earlier run are skipped,
// failed views only when req.RetryFailed is unset. A structural error fails
// its view and the others continue. When ctx is cancelled the run stops
// between frames and returns ErrInterrupted with the summary so far.
func (o *Orchestrator) Run(ctx context.Context, req model.JobRequest) (Summary, error) {
	start := o.now()
	if req.SubjectID == "" || req.ContainerPath == "" {
		return Summary{}, fmt.Errorf("%w: subject %q, recording %q", ErrInvalidRequest, req.SubjectID, req.ContainerPath)
	}
	precedence := o.precedence
	if req.CalibrationPrecedence != "" {
		p, err := calibration.ParsePrecedence(req.CalibrationPrecedence)
		if err != nil {
			return Summary{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		precedence = p
	}
	log := o.logger.With(logger.String("subject", req.SubjectID))

	rec, err := o.open(req.ContainerPath)
	if err != nil {
		return Summary{}, fmt.Errorf("open recording of %s: %w", req.SubjectID, err)
	}
	defer func() { _ = rec.Close() }()

	resolverOpts := []calibration.Option{calibration.WithPrecedence(precedence)}
	if path := o.calibrationPath(req); path != "" {
		table, err := calibration.LoadFile(path, req.SubjectID)
		if err != nil {
			return Summary{}, err
		}
		resolverOpts = append(resolverOpts, calibration.WithExternal(table))
	}
	resolver := calibration.NewResolver(rec, resolverOpts...)

	views, err := rec.Views(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list views of %s: %w", req.SubjectID, err)
	}
	if len(views) == 0 {
		return Summary{}, fmt.Errorf("%w: %s", ErrNoViews, req.ContainerPath)
	}

	job, err := o.prepare(ctx, req, views)
	if err != nil {
		return Summary{}, err
	}
	log.Info(ctx, "job started",
		logger.String("run_id", job.RunID),
		logger.Int("views", len(views)))

	runs := make([]*viewRun, 0, len(views))
	for _, v := range views {
		if st := job.Views[v]; !st.Status.Finished() {
			runs = append(runs, &viewRun{state: st})
		}
	}

	o.forEachView(ctx, runs, func(ctx context.Context, r *viewRun) {
		o.prepareView(ctx, req.SubjectID, rec, resolver, r)
	})
	writer := fusion.NewWriter(req.SubjectID, o.store)
	o.forEachView(ctx, runs, func(ctx context.Context, r *viewRun) {
		if r.state.Status == model.StatusAligned {
			o.runView(ctx, req.SubjectID, rec, writer, r)
		}
	})

	stored, err := o.store.Job(context.WithoutCancel(ctx), req.SubjectID)
	if err != nil {
		return Summary{}, fmt.Errorf("read job state of %s: %w", req.SubjectID, err)
	}
	summary := Summarize(stored)
	summary.Elapsed = o.now().Sub(start)
	metrics.RecordJobFinished(summary.Outcome, summary.Elapsed)
	log.Info(ctx, "job finished",
		logger.String("outcome", summary.Outcome),
		logger.Duration("elapsed", summary.Elapsed))

	if ctx.Err() != nil {
		return summary, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
	return summary, nil
}

func (o *Orchestrator) calibrationPath(req model.JobRequest) string {
	if req.CalibrationFile != "" {
		return req.CalibrationFile
	}
	return o.calibrationFile
}

// prepare loads or creates the job and registers every view of the
// recording under a fresh run id.
func (o *Orchestrator) prepare(ctx context.Context, req model.JobRequest, views []string) (model.Job, error) {
	job, err := o.store.Job(ctx, req.SubjectID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		job = model.Job{SubjectID: req.SubjectID, CreatedAt: o.now(), Views: map[string]model.ViewState{}}
	case err != nil:
		return model.Job{}, fmt.Errorf("load job %s: %w", req.SubjectID, err)
	}
	job.ContainerPath = req.ContainerPath
	job.RunID = o.runID()
	for _, v := range views {
		st, ok := job.Views[v]
		if !ok {
			st = model.NewViewState(v)
		}
		if st.Status == model.StatusFailed && req.RetryFailed {
			st.Status = model.StatusPending
			st.FatalCause = ""
		}
		job.Views[v] = st
	}
	if err := o.store.SaveJob(ctx, job); err != nil {
		return model.Job{}, fmt.Errorf("save job %s: %w", req.SubjectID, err)
	}
	return job, nil
}

// forEachView runs fn for every view, at most viewConcurrency at a time.
// Views not yet started when ctx is cancelled are left as they are.
func (o *Orchestrator) forEachView(ctx context.Context, runs []*viewRun, fn func(context.Context, *viewRun)) {
	var g errgroup.Group
	g.SetLimit(o.viewConcurrency)
	for _, r := range runs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() == nil {
				fn(ctx, r)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// prepareView resolves calibration and aligns the streams of one view. It
// leaves the view aligned or failed.
func (o *Orchestrator) prepareView(ctx context.Context, subject string, rec container.Recording, resolver *calibration.Resolver, r *viewRun) {
	view := r.state.ViewID

	o.setStatus(ctx, subject, r, model.StatusCalibrating, "")
	profile, err := resolver.Resolve(ctx, view)
	if err != nil {
		o.fail(ctx, subject, r, err)
		return
	}
	metrics.RecordCalibrationResolved(string(profile.Source))
	p, err := projection.New(profile, o.projection)
	if err != nil {
		o.fail(ctx, subject, r, fmt.Errorf("%w: %v", model.ErrCalibrationUnavailable, err))
		return
	}
	r.projector = p
	o.setStatus(ctx, subject, r, model.StatusCalibrated, "")

	o.setStatus(ctx, subject, r, model.StatusAligning, "")
	colorTimes, err := rec.Times(ctx, model.ColorDataPath(view))
	if err != nil {
		o.fail(ctx, subject, r, fmt.Errorf("read color times: %w", err))
		return
	}
	depthTimes, err := rec.Times(ctx, model.DepthDataPath(view))
	if err != nil && !errors.Is(err, container.ErrNotFound) {
		o.fail(ctx, subject, r, fmt.Errorf("read depth times: %w", err))
		return
	}
	matched, err := rec.Index(ctx, model.MatchedDepthIndexPath(view))
	if err != nil {
		o.fail(ctx, subject, r, fmt.Errorf("read matched depth index: %w", err))
		return
	}
	entries, err := alignment.Align(alignment.Input{
		ColorTimes:        colorTimes,
		DepthTimes:        depthTimes,
		MatchedDepthIndex: matched,
		Tolerance:         o.tolerance,
	})
	if err != nil {
		o.fail(ctx, subject, r, err)
		return
	}
	if invalid := len(entries) - alignment.ValidCount(entries); invalid > 0 {
		metrics.RecordAlignmentInvalid(view, invalid)
		o.logger.Debug(ctx, "color frames without depth",
			logger.String("subject", subject),
			logger.String("view", view),
			logger.Int("frames", invalid))
	}
	r.entries = entries
	r.colorTimes = colorTimes
	r.state.TotalFrames = len(entries)
	o.setStatus(ctx, subject, r, model.StatusAligned, "")
}

// runView writes every frame after the view's last completed one.
func (o *Orchestrator) runView(ctx context.Context, subject string, rec container.Recording, w *fusion.Writer, r *viewRun) {
	view := r.state.ViewID
	o.setStatus(ctx, subject, r, model.StatusRunning, "")
	w.Prime(view, r.state.LastCompletedFrame, model.FrameProgress{
		RecoverableErrors: r.state.RecoverableErrors,
		ErrorSamples:      r.state.ErrorSamples,
	})

	for i := r.state.LastCompletedFrame + 1; i < len(r.entries); i++ {
		if ctx.Err() != nil {
			o.logger.Info(ctx, "view interrupted",
				logger.String("subject", subject),
				logger.String("view", view),
				logger.Int("next_frame", i))
			return
		}
		// a started frame runs to completion
		fctx := context.WithoutCancel(ctx)
		start := time.Now()

		frame, err := o.buildFrame(fctx, rec, r, i)
		if err != nil {
			o.fail(fctx, subject, r, err)
			return
		}
		written, err := w.Write(fctx, frame)
		if err != nil {
			o.fail(fctx, subject, r, err)
			return
		}
		metrics.RecordFrameWritten(view, time.Since(start))
		for _, e := range written.Errors {
			metrics.RecordFrameError(string(e.Kind))
		}
		r.state.LastCompletedFrame = i
		if o.progress != nil {
			o.progress(ProgressEvent{SubjectID: subject, ViewID: view, FrameIndex: i, Planned: len(r.entries)})
		}
	}

	if w.Progress(view).RecoverableErrors > 0 {
		o.setStatus(ctx, subject, r, model.StatusPartial, "")
		return
	}
	o.setStatus(ctx, subject, r, model.StatusDone, "")
}

// buildFrame reads one color frame and its depth frame and runs every
// detector on it concurrently.
func (o *Orchestrator) buildFrame(ctx context.Context, rec container.Recording, r *viewRun, i int) (fusion.Frame, error) {
	view := r.state.ViewID
	entry := r.entries[i]
	frame := fusion.Frame{ViewID: view, FrameIndex: i, Time: r.colorTimes[entry.ColorIndex]}

	img, err := rec.Payload(ctx, model.ColorDataPath(view), entry.ColorIndex)
	if err != nil {
		if errors.Is(err, container.ErrNotFound) {
			err = fmt.Errorf("%w: %v", model.ErrCorruptStream, err)
		}
		return fusion.Frame{}, fmt.Errorf("read color frame %d: %w", entry.ColorIndex, err)
	}

	var depth *projection.DepthImage
	if !entry.Valid {
		frame.DepthMissing = true
	} else if depth, err = o.readDepth(ctx, rec, view, entry.DepthIndex); err != nil {
		frame.Errors = append(frame.Errors, model.FrameError{Kind: model.KindDepthUnresolved, Message: err.Error()})
		depth = nil
	}

	frame.Outputs = make([]fusion.DetectorOutput, len(o.detectors))
	var g errgroup.Group
	for n, a := range o.detectors {
		g.Go(func() error {
			set, failure := a.Detect(ctx, i, img)
			out := fusion.DetectorOutput{Set: set, Vocabulary: a.Vocabulary(), Failure: failure}
			if failure == nil {
				out.Projected = project(r.projector, a, set, depth)
			}
			frame.Outputs[n] = out
			return nil
		})
	}
	_ = g.Wait()
	return frame, nil
}

func (o *Orchestrator) readDepth(ctx context.Context, rec container.Recording, view string, idx int) (*projection.DepthImage, error) {
	raw, err := rec.Payload(ctx, model.DepthDataPath(view), idx)
	if err != nil {
		return nil, fmt.Errorf("read depth frame %d: %w", idx, err)
	}
	img, err := projection.DecodeDepthPNG(raw)
	if err != nil {
		return nil, fmt.Errorf("depth frame %d: %w", idx, err)
	}
	return img, nil
}

func project(p *projection.Projector, a *detector.Adapter, set model.KeypointSet, depth *projection.DepthImage) map[string]projection.Result {
	out := make(map[string]projection.Result, len(set.Joints))
	for name, kp := range set.Joints {
		res := p.Project(kp, a.MinConfidence(), depth)
		if res.Position.Resolved {
			metrics.RecordJointProjected(a.ID())
		} else {
			metrics.RecordJointUnresolved(a.ID(), string(res.Position.Reason))
		}
		out[name] = res
	}
	return out
}

// setStatus persists a status change. Store errors are logged and do not
// stop the view.
func (o *Orchestrator) setStatus(ctx context.Context, subject string, r *viewRun, to model.ViewStatus, cause string) {
	from := r.state.Status
	r.state.Status = to
	r.state.FatalCause = cause
	metrics.UpdateViewStatus(string(from), string(to))
	if err := o.store.UpdateView(context.WithoutCancel(ctx), subject, r.state); err != nil {
		o.logger.Error(ctx, "failed to persist view status",
			logger.String("subject", subject),
			logger.String("view", r.state.ViewID),
			logger.String("status", string(to)),
			logger.Error(err))
	}
}

// fail marks the view failed. A step cut short by cancellation puts the view
// back to pending instead.
func (o *Orchestrator) fail(ctx context.Context, subject string, r *viewRun, err error) {
	if ctx.Err() != nil {
		o.setStatus(ctx, subject, r, model.StatusPending, "")
		return
	}
	o.logger.Warn(ctx, "view failed",
		logger.String("subject", subject),
		logger.String("view", r.state.ViewID),
		logger.String("during", string(r.state.Status)),
		logger.Error(err))
	o.setStatus(ctx, subject, r, model.StatusFailed, err.Error())
}
