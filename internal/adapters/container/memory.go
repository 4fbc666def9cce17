package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/posefuse/internal/domain/model"
)

type sample struct {
	ts      time.Time
	payload []byte
}

// Memory is an in-process recording. It satisfies both Recording and Builder.
type Memory struct {
	mu      sync.RWMutex
	samples map[string]map[int]sample
	indices map[string][]int
	attrs   map[string]map[string][]float64
}

// NewMemory returns an empty recording.
func NewMemory() *Memory {
	return &Memory{
		samples: map[string]map[int]sample{},
		indices: map[string][]int{},
		attrs:   map[string]map[string][]float64{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Views(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.samples))
	for p := range m.samples {
		paths = append(paths, p)
	}
	return sortedViews(paths), nil
}

func (m *Memory) Times(_ context.Context, path string) ([]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	series, ok := m.samples[path]
	if !ok || len(series) == 0 {
		return nil, fmt.Errorf("%w: stream %s", ErrNotFound, path)
	}
	out := make([]time.Time, len(series))
	for i := range out {
		s, ok := series[i]
		if !ok {
			return nil, fmt.Errorf("%w: %s has a gap at sample %d", model.ErrCorruptStream, path, i)
		}
		out[i] = s.ts
	}
	return out, nil
}

func (m *Memory) Payload(_ context.Context, path string, idx int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.samples[path][idx]
	if !ok {
		return nil, fmt.Errorf("%w: %s[%d]", ErrNotFound, path, idx)
	}
	return append([]byte(nil), s.payload...), nil
}

func (m *Memory) Index(_ context.Context, path string) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.indices[path]
	if !ok {
		return nil, nil
	}
	return append([]int{}, v...), nil
}

func (m *Memory) Attributes(_ context.Context, path string) (map[string][]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]float64, len(m.attrs[path]))
	for k, v := range m.attrs[path] {
		out[k] = append([]float64(nil), v...)
	}
	return out, nil
}

func (m *Memory) PutSample(_ context.Context, path string, idx int, ts time.Time, payload []byte) error {
	if !validPath(path) || idx < 0 {
		return fmt.Errorf("%w: sample %s[%d]", ErrInvalidEntry, path, idx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.samples[path] == nil {
		m.samples[path] = map[int]sample{}
	}
	m.samples[path][idx] = sample{ts: ts.UTC(), payload: append([]byte(nil), payload...)}
	return nil
}

func (m *Memory) PutIndex(_ context.Context, path string, values []int) error {
	if !validPath(path) {
		return fmt.Errorf("%w: index %q", ErrInvalidEntry, path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indices[path] = append([]int{}, values...)
	return nil
}

func (m *Memory) PutAttribute(_ context.Context, path, name string, value []float64) error {
	if !validPath(path) || name == "" {
		return fmt.Errorf("%w: attribute %s@%s", ErrInvalidEntry, path, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attrs[path] == nil {
		m.attrs[path] = map[string][]float64{}
	}
	m.attrs[path][name] = append([]float64(nil), value...)
	return nil
}
