package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/posefuse/internal/domain/model"
)

// MemoryStore is an in-process Store. Frames are kept encoded so reads
// return the same shape a SQLite store would.
type MemoryStore struct {
	mu     sync.RWMutex
	now    func() time.Time
	jobs   map[string]model.Job
	frames map[string]map[string][][]byte // subject -> view -> records in index order
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		now:    o.now,
		jobs:   map[string]model.Job{},
		frames: map[string]map[string][][]byte{},
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) SaveJob(_ context.Context, job model.Job) error {
	if job.SubjectID == "" {
		return fmt.Errorf("%w: empty subject id", ErrInvalidJob)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	stored, ok := s.jobs[job.SubjectID]
	if !ok {
		stored = model.Job{SubjectID: job.SubjectID, CreatedAt: job.CreatedAt.UTC(), Views: map[string]model.ViewState{}}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
	}
	stored.ContainerPath = job.ContainerPath
	stored.RunID = job.RunID
	stored.UpdatedAt = now
	for id, v := range job.Views {
		if v.ViewID == "" {
			v.ViewID = id
		}
		v.ErrorSamples = copySamples(v.ErrorSamples)
		v.UpdatedAt = now
		stored.Views[v.ViewID] = v
	}
	s.jobs[job.SubjectID] = stored
	return nil
}

func (s *MemoryStore) Job(_ context.Context, subjectID string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[subjectID]
	if !ok {
		return model.Job{}, fmt.Errorf("%w: %s", ErrNotFound, subjectID)
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) Jobs(_ context.Context) ([]model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SubjectID < out[k].SubjectID })
	return out, nil
}

func (s *MemoryStore) UpdateView(_ context.Context, subjectID string, v model.ViewState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[subjectID]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownView, subjectID, v.ViewID)
	}
	cur, ok := job.Views[v.ViewID]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownView, subjectID, v.ViewID)
	}
	cur.Status = v.Status
	cur.TotalFrames = v.TotalFrames
	cur.FatalCause = v.FatalCause
	cur.UpdatedAt = s.now().UTC()
	job.Views[v.ViewID] = cur
	return nil
}

func (s *MemoryStore) CommitFrame(_ context.Context, frame model.FusedPoseFrame, progress model.FrameProgress) error {
	record, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", frame.FrameIndex, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[frame.SubjectID]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownView, frame.SubjectID, frame.ViewID)
	}
	v, ok := job.Views[frame.ViewID]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownView, frame.SubjectID, frame.ViewID)
	}
	if frame.FrameIndex <= v.LastCompletedFrame {
		return fmt.Errorf("%w: %s/%s frame %d after %d", model.ErrOutOfOrderWrite,
			frame.SubjectID, frame.ViewID, frame.FrameIndex, v.LastCompletedFrame)
	}

	if s.frames[frame.SubjectID] == nil {
		s.frames[frame.SubjectID] = map[string][][]byte{}
	}
	s.frames[frame.SubjectID][frame.ViewID] = append(s.frames[frame.SubjectID][frame.ViewID], record)

	now := s.now().UTC()
	v.LastCompletedFrame = frame.FrameIndex
	v.FramesWritten++
	v.RecoverableErrors = progress.RecoverableErrors
	v.ErrorSamples = copySamples(progress.ErrorSamples)
	v.UpdatedAt = now
	job.Views[frame.ViewID] = v
	job.UpdatedAt = now
	s.jobs[frame.SubjectID] = job
	return nil
}

func (s *MemoryStore) Frames(_ context.Context, subjectID, viewID string) ([]model.FusedPoseFrame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.frames[subjectID][viewID]
	if len(records) == 0 {
		return nil, nil
	}
	out := make([]model.FusedPoseFrame, 0, len(records))
	for _, r := range records {
		var f model.FusedPoseFrame
		if err := json.Unmarshal(r, &f); err != nil {
			return nil, fmt.Errorf("decode frame of %s/%s: %w", subjectID, viewID, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func cloneJob(j model.Job) model.Job {
	views := make(map[string]model.ViewState, len(j.Views))
	for k, v := range j.Views {
		v.ErrorSamples = copySamples(v.ErrorSamples)
		views[k] = v
	}
	j.Views = views
	return j
}

func copySamples(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return append([]string(nil), s...)
}
