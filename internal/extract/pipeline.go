// Package extract turns image bytes into aggregated text using an injected
// recognizer: decode, recognize, keep detections strictly above the
// confidence threshold, and join their texts with newlines.
package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/textgrab/internal/recognizer"
)

// DefaultThreshold is the confidence a detection must exceed to be kept.
const DefaultThreshold = 0.5

// Config holds pipeline settings.
type Config struct {
	Threshold        float64       // default threshold for ExtractDefault
	Timeout          time.Duration // 0 disables the recognizer deadline
	SerializedAccess bool          // serialize even concurrency-safe backends
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := ValidateThreshold(c.Threshold); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %s", c.Timeout)
	}
	return nil
}

// ValidateThreshold rejects NaN and values outside [0,1].
func ValidateThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, t)
	}
	return nil
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	rec recognizer.Recognizer
	cfg Config
}

// NewBuilder starts a pipeline around an already initialized recognizer.
func NewBuilder(rec recognizer.Recognizer) *Builder {
	return &Builder{rec: rec, cfg: DefaultConfig()}
}

// WithThreshold sets the default confidence threshold.
func (b *Builder) WithThreshold(t float64) *Builder {
	b.cfg.Threshold = t
	return b
}

// WithTimeout bounds each recognizer call.
func (b *Builder) WithTimeout(d time.Duration) *Builder {
	b.cfg.Timeout = d
	return b
}

// WithSerializedAccess forces one recognizer call at a time.
func (b *Builder) WithSerializedAccess(on bool) *Builder {
	b.cfg.SerializedAccess = on
	return b
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// Build validates the configuration and returns the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if b.rec == nil {
		return nil, errors.New("recognizer is required")
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		rec:     recognizer.Guard(b.rec, b.cfg.SerializedAccess),
		backend: recognizer.NameOf(b.rec),
		cfg:     b.cfg,
	}, nil
}

// New is NewBuilder(rec).Build().
func New(rec recognizer.Recognizer) (*Pipeline, error) {
	return NewBuilder(rec).Build()
}

// Pipeline is safe for concurrent use. It owns the recognizer handle and
// closes it in Close.
type Pipeline struct {
	rec     recognizer.Recognizer
	backend string
	cfg     Config

	closeOnce sync.Once
	closeErr  error
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Backend returns the recognizer backend name.
func (p *Pipeline) Backend() string { return p.backend }

// ExtractDefault runs Extract with the configured threshold.
func (p *Pipeline) ExtractDefault(ctx context.Context, data []byte) (*Result, error) {
	return p.Extract(ctx, data, p.cfg.Threshold)
}

// Extract decodes data, recognizes it once and keeps detections with
// confidence strictly greater than threshold.
func (p *Pipeline) Extract(ctx context.Context, data []byte, threshold float64) (*Result, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	start := time.Now()

	decoded, err := Decode(data)
	if err != nil {
		return nil, err
	}

	res, err := p.ExtractImage(ctx, decoded.Image, threshold)
	if err != nil {
		return nil, err
	}
	res.Format = decoded.Format
	res.Duration = time.Since(start)
	return res, nil
}

// ExtractImage runs recognition, filtering and aggregation on an already
// decoded image.
func (p *Pipeline) ExtractImage(ctx context.Context, img image.Image, threshold float64) (*Result, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, &DecodeError{Reason: "image has zero width or height"}
	}
	start := time.Now()

	dets, err := p.recognize(ctx, img)
	if err != nil {
		return nil, &RecognizerError{Backend: p.backend, Err: err}
	}
	for i, d := range dets {
		if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
			return nil, &RecognizerError{
				Backend: p.backend,
				Err:     fmt.Errorf("detection %d has confidence %v outside [0, 1]", i, d.Confidence),
			}
		}
	}

	text, accepted := Aggregate(dets, threshold)
	b := img.Bounds()
	res := &Result{
		Text:           text,
		DetectionCount: len(dets),
		Accepted:       accepted,
		Threshold:      threshold,
		Width:          b.Dx(),
		Height:         b.Dy(),
		Detections:     dets,
		Duration:       time.Since(start),
	}

	slog.Debug("Extraction complete",
		"backend", p.backend,
		"detections", res.DetectionCount,
		"accepted", res.Accepted,
		"threshold", threshold,
		"duration", res.Duration)
	return res, nil
}

// Aggregate joins the text of every detection whose confidence exceeds
// threshold, in order, and returns the number of accepted detections.
func Aggregate(dets []recognizer.Detection, threshold float64) (string, int) {
	kept := make([]string, 0, len(dets))
	for _, d := range dets {
		if d.Confidence > threshold {
			kept = append(kept, d.Text)
		}
	}
	return strings.Join(kept, "\n"), len(kept)
}

type outcome struct {
	dets []recognizer.Detection
	err  error
}

// recognize invokes the backend once. The call is abandoned, not
// interrupted, when ctx ends first.
func (p *Pipeline) recognize(ctx context.Context, img image.Image) ([]recognizer.Detection, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic in recognizer: %v", r)}
			}
		}()
		dets, err := p.rec.Recognize(ctx, img)
		done <- outcome{dets: dets, err: err}
	}()

	select {
	case o := <-done:
		return o.dets, o.err
	case <-ctx.Done():
		slog.Warn("Recognizer call abandoned", "backend", p.backend, "error", ctx.Err())
		return nil, ctx.Err()
	}
}

// Close releases the recognizer. Subsequent calls return the first result.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		if p.rec != nil {
			p.closeErr = p.rec.Close()
		}
	})
	return p.closeErr
}
