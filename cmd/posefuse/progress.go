package main

import (
	"io"
	"sync"

	"github.com/cheggaaa/pb/v3"
	service "github.com/okian/posefuse/internal/app"
)

const barTemplate = `{{ string . "prefix" }} {{counters . "%s/%s" "%s/?"}} {{bar . }} {{percent . "%.01f%%" "?"}} {{etime . "%s elapsed"}} {{rtime . "%s remain" "%s total" "???"}}`

// progress renders frames of every view of every subject as one bar.
// Views join the bar as they start; frames skipped by a resumed view are
// counted as already done.
type progress struct {
	mu    sync.Mutex
	bar   *pb.ProgressBar
	total int64
	seen  map[string]bool
}

func newProgress(w io.Writer) *progress {
	bar := pb.ProgressBarTemplate(barTemplate).New(0)
	bar.SetWriter(w)
	bar.Set("prefix", "frames")
	return &progress{bar: bar, seen: map[string]bool{}}
}

func (p *progress) observe(e service.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := e.SubjectID + "/" + e.ViewID
	if !p.seen[key] {
		p.seen[key] = true
		p.total += int64(e.Planned)
		p.bar.SetTotal(p.total)
		if !p.bar.IsStarted() {
			p.bar.Start()
		}
		p.bar.Add(e.FrameIndex)
	}
	p.bar.Increment()
}

func (p *progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar.IsStarted() {
		p.bar.Finish()
	}
}
