// Command gen-recording writes a synthetic recording for local runs of
// posefuse. Flags shape the recording so operators can reproduce missing
// depth, clock offsets and absent calibration without real capture data.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/internal/loadtest"
	"github.com/okian/posefuse/internal/synthetic"
	"github.com/okian/posefuse/pkg/logger"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		_, _ = os.Stderr.WriteString("gen-recording: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gen-recording", flag.ContinueOnError)
	var (
		out            = fs.String("out", "recording.db", "Output file")
		views          = fs.String("views", "upper,lower", "Comma separated view ids")
		frames         = fs.Int("frames", 30, "Color frames per view")
		interval       = fs.Duration("interval", 33*time.Millisecond, "Color frame interval")
		depthInterval  = fs.Duration("depth-interval", 0, "Depth frame interval (default: color interval)")
		depthOffset    = fs.Duration("depth-offset", 0, "Depth clock offset")
		depthGaps      = fs.String("depth-gaps", "", "Comma separated depth frames to drop")
		corruptDepth   = fs.String("corrupt-depth", "", "Comma separated stored depth frames to corrupt")
		matchedIndex   = fs.Bool("matched-index", false, "Write a precomputed matched depth index")
		omitExtrinsics = fs.Bool("omit-extrinsics", false, "Leave the depth-to-color transform out")
		force          = fs.Bool("force", false, "Overwrite an existing output file")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := logger.Init(); err != nil {
		return err
	}

	gaps, err := parseInts(*depthGaps)
	if err != nil {
		return fmt.Errorf("-depth-gaps: %w", err)
	}
	corrupt, err := parseInts(*corruptDepth)
	if err != nil {
		return fmt.Errorf("-corrupt-depth: %w", err)
	}

	opts := synthetic.DefaultOptions()
	opts.Views = splitList(*views)
	opts.Frames = *frames
	opts.ColorInterval = *interval
	opts.DepthInterval = *depthInterval
	opts.DepthOffset = *depthOffset
	opts.DepthGaps = gaps
	opts.CorruptDepth = corrupt
	opts.MatchedIndex = *matchedIndex
	if *omitExtrinsics {
		opts.OmitEmbedded = []string{model.FieldDepthToColor}
	}

	if _, err := os.Stat(*out); err == nil {
		if !*force {
			return fmt.Errorf("%s exists, use -force to overwrite", *out)
		}
		if err := os.Remove(*out); err != nil {
			return err
		}
	}
	if err := loadtest.WriteRecording(ctx, *out, opts); err != nil {
		return err
	}
	logger.Get().Info(ctx, "recording written",
		logger.String("path", *out),
		logger.Int("views", len(opts.Views)),
		logger.Int("frames", opts.Frames))
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, p := range splitList(s) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
