// Package alignment pairs color frames with depth frames of the same view.
package alignment

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/okian/posefuse/internal/domain/model"
)

// ErrInvalidTolerance is returned for a non-positive tolerance window.
var ErrInvalidTolerance = errors.New("alignment tolerance must be positive")

// Input bundles the streams of one view.
type Input struct {
	ColorTimes []time.Time
	DepthTimes []time.Time
	// MatchedDepthIndex is the association logged at capture time, one
	// entry per color frame. Nil when the container has none.
	MatchedDepthIndex []int
	Tolerance         time.Duration
}

// Align returns exactly one entry per color frame. It is a pure function of
// its input: identical streams always yield identical tables.
func Align(in Input) ([]model.AlignmentEntry, error) {
	if in.Tolerance <= 0 {
		return nil, ErrInvalidTolerance
	}
	if err := checkOrdered("color", in.ColorTimes); err != nil {
		return nil, err
	}
	if err := checkOrdered("depth", in.DepthTimes); err != nil {
		return nil, err
	}
	if in.MatchedDepthIndex != nil && len(in.MatchedDepthIndex) != len(in.ColorTimes) {
		return nil, fmt.Errorf("%w: matched depth index has %d entries for %d color frames",
			model.ErrCorruptStream, len(in.MatchedDepthIndex), len(in.ColorTimes))
	}

	entries := make([]model.AlignmentEntry, len(in.ColorTimes))
	for i, ct := range in.ColorTimes {
		if in.MatchedDepthIndex != nil {
			entries[i] = fromMatched(i, ct, in.MatchedDepthIndex[i], in.DepthTimes, in.Tolerance)
			continue
		}
		entries[i] = nearest(i, ct, in.DepthTimes, in.Tolerance)
	}
	return entries, nil
}

func fromMatched(colorIdx int, ct time.Time, depthIdx int, depth []time.Time, tol time.Duration) model.AlignmentEntry {
	e := model.AlignmentEntry{ColorIndex: colorIdx, DepthIndex: -1}
	if depthIdx < 0 || depthIdx >= len(depth) {
		return e
	}
	e.TimeDelta = depth[depthIdx].Sub(ct)
	if abs(e.TimeDelta) <= tol {
		e.DepthIndex = depthIdx
		e.Valid = true
	}
	return e
}

// nearest binary-searches depth for the closest timestamp to ct. On equal
// distance the lower depth index wins.
func nearest(colorIdx int, ct time.Time, depth []time.Time, tol time.Duration) model.AlignmentEntry {
	e := model.AlignmentEntry{ColorIndex: colorIdx, DepthIndex: -1}
	if len(depth) == 0 {
		return e
	}

	// first depth sample at or after ct
	after := sort.Search(len(depth), func(j int) bool { return !depth[j].Before(ct) })

	best := -1
	if after < len(depth) {
		best = after
	}
	if after > 0 {
		// earliest index carrying the same timestamp as the sample just before ct
		before := sort.Search(len(depth), func(j int) bool { return !depth[j].Before(depth[after-1]) })
		if best < 0 || abs(depth[before].Sub(ct)) <= abs(depth[best].Sub(ct)) {
			best = before
		}
	}

	e.TimeDelta = depth[best].Sub(ct)
	if abs(e.TimeDelta) <= tol {
		e.DepthIndex = best
		e.Valid = true
	}
	return e
}

func checkOrdered(name string, ts []time.Time) error {
	for i := 1; i < len(ts); i++ {
		if ts[i].Before(ts[i-1]) {
			return fmt.Errorf("%w: %s timestamps decrease at index %d", model.ErrCorruptStream, name, i)
		}
	}
	return nil
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// ValidCount returns how many entries carry a depth frame.
func ValidCount(entries []model.AlignmentEntry) int {
	n := 0
	for _, e := range entries {
		if e.Valid {
			n++
		}
	}
	return n
}
