//go:build tesseract

package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/textgrab/internal/recognizer"
	"github.com/otiai10/gosseract/v2"
)

// Backend wraps one gosseract client. The client keeps per-image state, so
// the backend is not concurrency safe and the pipeline serializes it.
type Backend struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// New configures a client for opts. Settings understood: psm, tessdata.
func New(opts recognizer.Options) (*Backend, error) {
	langs, err := tessLanguages(opts.Tags())
	if err != nil {
		return nil, err
	}
	psm, err := pageSegMode(opts)
	if err != nil {
		return nil, err
	}
	if opts.UseAccelerator {
		slog.Warn("Tesseract has no accelerator support, running on CPU")
	}

	c := gosseract.NewClient()
	if dir := opts.Setting("tessdata", ""); dir != "" {
		if err := c.SetTessdataPrefix(dir); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetLanguage(langs...); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("set languages %v: %w", langs, err)
	}
	if err := c.SetPageSegMode(gosseract.PageSegMode(psm)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("set page segmentation mode: %w", err)
	}
	slog.Debug("Tesseract backend configured", "languages", langs, "psm", psm, "version", gosseract.Version())
	return &Backend{client: c}, nil
}

// Recognize runs the engine on img and returns one detection per text line.
// Tesseract cannot be interrupted, so ctx is only checked around the call.
func (b *Backend) Recognize(ctx context.Context, img image.Image) ([]recognizer.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, errors.New("tesseract backend is closed")
	}
	if err := b.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	boxes, err := b.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("recognize lines: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lines := make([]line, 0, len(boxes))
	for _, bb := range boxes {
		lines = append(lines, line{Box: bb.Box, Text: bb.Word, Confidence: bb.Confidence})
	}
	return toDetections(lines), nil
}

// Close releases the engine.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

// ConcurrencySafe reports false.
func (b *Backend) ConcurrencySafe() bool { return false }

// Name returns "tesseract".
func (b *Backend) Name() string { return Name }
