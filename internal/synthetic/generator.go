package synthetic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/okian/posefuse/internal/adapters/container"
	"github.com/okian/posefuse/internal/domain/calibration"
	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/internal/domain/projection"
	"github.com/okian/posefuse/pkg/logger"
)

// ErrNoMarker is returned for images that carry no frame marker.
var ErrNoMarker = errors.New("image carries no frame marker")

// Generate writes a recording described by opts into b.
func Generate(ctx context.Context, b container.Builder, opts Options) error {
	opts = opts.withDefaults()
	logger.Get().Debug(ctx, "generating synthetic recording",
		logger.Int("views", len(opts.Views)),
		logger.Int("frames", opts.Frames))

	depth, err := depthPayload(opts)
	if err != nil {
		return err
	}
	for _, view := range opts.Views {
		if err := generateView(ctx, b, view, opts, depth); err != nil {
			return fmt.Errorf("generate view %s: %w", view, err)
		}
	}
	return nil
}

func generateView(ctx context.Context, b container.Builder, view string, opts Options, depth []byte) error {
	for i := 0; i < opts.Frames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := ColorFrame(i, opts.Width, opts.Height)
		if err != nil {
			return err
		}
		ts := opts.Start.Add(time.Duration(i) * opts.ColorInterval)
		if err := b.PutSample(ctx, model.ColorDataPath(view), i, ts, img); err != nil {
			return err
		}
	}

	// nominal depth frame -> stored index, -1 when dropped
	stored := make([]int, opts.DepthFrames)
	next := 0
	for n := 0; n < opts.DepthFrames; n++ {
		if contains(opts.DepthGaps, n) {
			stored[n] = -1
			continue
		}
		payload := depth
		if contains(opts.CorruptDepth, next) {
			payload = []byte("not a png")
		}
		ts := opts.Start.Add(opts.DepthOffset + time.Duration(n)*opts.DepthInterval)
		if err := b.PutSample(ctx, model.DepthDataPath(view), next, ts, payload); err != nil {
			return err
		}
		stored[n] = next
		next++
	}

	if opts.MatchedIndex {
		matched := make([]int, opts.Frames)
		for i := range matched {
			matched[i] = -1
			if i < len(stored) {
				matched[i] = stored[i]
			}
		}
		if err := b.PutIndex(ctx, model.MatchedDepthIndexPath(view), matched); err != nil {
			return err
		}
	}
	return putCalibration(ctx, b, view, opts)
}

func putCalibration(ctx context.Context, b container.Builder, view string, opts Options) error {
	if !opts.omitted(model.FieldColorIntrinsics) {
		if err := b.PutAttribute(ctx, model.ColorDataPath(view), calibration.AttrCameraMatrix, opts.ColorIntrinsics.K()); err != nil {
			return err
		}
	}
	if !opts.omitted(model.FieldDepthIntrinsics) {
		if err := b.PutAttribute(ctx, model.DepthDataPath(view), calibration.AttrCameraMatrix, opts.DepthIntrinsics.K()); err != nil {
			return err
		}
	}
	if opts.omitted(model.FieldDepthToColor) {
		return nil
	}
	ext := opts.DepthToColor
	if err := b.PutAttribute(ctx, model.ColorDataPath(view), calibration.AttrRotation, ext.Rotation[:]); err != nil {
		return err
	}
	return b.PutAttribute(ctx, model.ColorDataPath(view), calibration.AttrTranslation, ext.Translation[:])
}

func depthPayload(opts Options) ([]byte, error) {
	d := projection.NewDepthImage(opts.DepthWidth, opts.DepthHeight)
	for i := range d.Data {
		d.Data[i] = opts.DepthValue
	}
	return projection.EncodeDepthPNG(d)
}

// ColorFrame renders a gray frame whose first two pixels hold the frame
// index, low byte first.
func ColorFrame(index, width, height int) ([]byte, error) {
	if width < 2 || height < 1 {
		return nil, fmt.Errorf("frame of %dx%d cannot hold a marker", width, height)
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	img.Pix[0] = byte(index)
	img.Pix[1] = byte(index >> 8)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode color frame %d: %w", index, err)
	}
	return buf.Bytes(), nil
}

// FrameIndexOf reads the marker written by ColorFrame.
func FrameIndexOf(b []byte) (int, error) {
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoMarker, err)
	}
	g, ok := img.(*image.Gray)
	if !ok || len(g.Pix) < 2 {
		return 0, ErrNoMarker
	}
	return int(g.Pix[0]) | int(g.Pix[1])<<8, nil
}
