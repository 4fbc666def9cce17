// Package container reads recordings: per-view color and depth streams,
// the capture-time matched depth index and calibration attributes.
package container

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// Sentinel errors.
var (
	ErrNotFound     = errors.New("recording entry not found")
	ErrNoRecording  = errors.New("recording does not exist")
	ErrInvalidEntry = errors.New("invalid recording entry")
)

const colorSuffix = "/color/data"

// Recording is the read side of a container.
type Recording interface {
	// Views lists the views that have a color stream, sorted.
	Views(ctx context.Context) ([]string, error)
	// Times returns the timestamps of a stream in sample order.
	Times(ctx context.Context, path string) ([]time.Time, error)
	// Payload returns the encoded sample at idx.
	Payload(ctx context.Context, path string, idx int) ([]byte, error)
	// Index returns an integer index series, or nil when the container has none.
	Index(ctx context.Context, path string) ([]int, error)
	// Attributes returns the numeric attributes attached to path.
	Attributes(ctx context.Context, path string) (map[string][]float64, error)
	Close() error
}

// Builder is the write side, used to produce recordings.
type Builder interface {
	PutSample(ctx context.Context, path string, idx int, ts time.Time, payload []byte) error
	PutIndex(ctx context.Context, path string, values []int) error
	PutAttribute(ctx context.Context, path, name string, value []float64) error
}

func viewOf(path string) (string, bool) {
	if !strings.HasSuffix(path, colorSuffix) {
		return "", false
	}
	v := strings.TrimSuffix(path, colorSuffix)
	return v, v != "" && !strings.Contains(v, "/")
}

func sortedViews(paths []string) []string {
	views := make([]string, 0, len(paths))
	for _, p := range paths {
		if v, ok := viewOf(p); ok {
			views = append(views, v)
		}
	}
	sort.Strings(views)
	return views
}

func validPath(path string) bool {
	return path != "" && !strings.HasPrefix(path, "/") && !strings.HasSuffix(path, "/")
}
