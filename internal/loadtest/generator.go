package loadtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/okian/posefuse/internal/adapters/container"
	"github.com/okian/posefuse/internal/synthetic"
	"github.com/okian/posefuse/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// SubjectID names the i-th generated subject.
func SubjectID(i int) string {
	return fmt.Sprintf("load-%04d", i)
}

// WriteRecording stores one synthetic recording at path.
func WriteRecording(ctx context.Context, path string, opts synthetic.Options) (err error) {
	w, err := container.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return synthetic.Generate(ctx, w, opts)
}

// generateRecordings writes cfg.Subjects recordings into cfg.Dir.
func generateRecordings(ctx context.Context, cfg *Config, stats *Stats) ([]Recording, error) {
	logger.Get().Info(ctx, "generating recordings",
		logger.Int("subjects", cfg.Subjects),
		logger.Int("frames", cfg.Frames),
		logger.String("dir", cfg.Dir))

	if err := os.MkdirAll(cfg.Dir, directoryPermission); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	recs := make([]Recording, cfg.Subjects)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range recs {
		recs[i] = Recording{SubjectID: SubjectID(i), Path: filepath.Join(cfg.Dir, SubjectID(i)+".db")}
		rec := recs[i]
		g.Go(func() error {
			if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
				return err
			}
			opts := synthetic.DefaultOptions()
			opts.Frames = cfg.Frames
			if err := WriteRecording(gctx, rec.Path, opts); err != nil {
				return fmt.Errorf("recording %s: %w", rec.SubjectID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	stats.RecordingsGenerated = len(recs)
	return recs, nil
}
