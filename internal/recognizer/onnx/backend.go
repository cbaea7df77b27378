// Package onnx is a recognizer backend running PP-OCR detection and
// recognition models through ONNX Runtime.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"

	"github.com/MeKo-Tech/textgrab/internal/mempool"
	"github.com/MeKo-Tech/textgrab/internal/recognizer"
)

// Name is the registry name of this backend.
const Name = "onnx"

func init() {
	recognizer.Register(Name, func(opts recognizer.Options) (recognizer.Recognizer, error) {
		b, err := New(opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
}

// Backend detects text lines, then recognizes each line. ONNX Runtime
// sessions accept concurrent Run calls, so the backend is concurrency safe.
type Backend struct {
	mu      sync.RWMutex
	det     *session
	rec     *session
	charset *Charset
	detP    detParams
	recP    recParams
}

// New loads the models named by opts. Settings understood: variant,
// det_model, rec_model, dict, ort_lib, det_thresh, box_thresh, max_side,
// rec_height, device_id.
func New(opts recognizer.Options) (*Backend, error) {
	files, err := resolveModels(opts)
	if err != nil {
		return nil, err
	}
	dp, rp, deviceID, err := paramsFromSettings(opts)
	if err != nil {
		return nil, err
	}

	charset, err := LoadCharset(files.Dictionary)
	if err != nil {
		return nil, err
	}
	if err := initRuntime(opts.Setting("ort_lib", ""), opts.UseAccelerator); err != nil {
		return nil, err
	}

	so := sessionOptions{threads: opts.Threads, useGPU: opts.UseAccelerator, deviceID: deviceID}
	det, err := newSession(files.Detection, so)
	if err != nil {
		return nil, err
	}
	rec, err := newSession(files.Recognition, so)
	if err != nil {
		_ = det.destroy()
		return nil, err
	}

	slog.Debug("ONNX backend loaded",
		"detection", files.Detection,
		"recognition", files.Recognition,
		"dictionary", files.Dictionary,
		"classes", charset.Size(),
		"accelerator", opts.UseAccelerator)

	return &Backend{det: det, rec: rec, charset: charset, detP: dp, recP: rp}, nil
}

func paramsFromSettings(opts recognizer.Options) (detParams, recParams, int, error) {
	dp, rp := defaultDetParams(), defaultRecParams()
	var errs []error
	parseFloat := func(key string, dst *float64) {
		if raw := opts.Setting(key, ""); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v < 0 || v > 1 {
				errs = append(errs, fmt.Errorf("setting %s=%q must be within [0, 1]", key, raw))
				return
			}
			*dst = v
		}
	}
	parseInt := func(key string, dst *int) {
		if raw := opts.Setting(key, ""); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 0 {
				errs = append(errs, fmt.Errorf("setting %s=%q must be a non-negative integer", key, raw))
				return
			}
			*dst = v
		}
	}

	bin := float64(dp.BinaryThresh)
	parseFloat("det_thresh", &bin)
	dp.BinaryThresh = float32(bin)
	parseFloat("box_thresh", &dp.BoxThresh)
	parseInt("max_side", &dp.MaxSide)
	parseInt("rec_height", &rp.Height)
	deviceID := 0
	parseInt("device_id", &deviceID)
	if rp.Height == 0 {
		errs = append(errs, errors.New("setting rec_height must be positive"))
	}
	return dp, rp, deviceID, errors.Join(errs...)
}

// Recognize returns one detection per recognized text line in reading
// order. Lines that decode to empty text are dropped.
func (b *Backend) Recognize(ctx context.Context, img image.Image) ([]recognizer.Detection, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.det == nil {
		return nil, errors.New("onnx backend is closed")
	}

	bounds := img.Bounds()
	input, w, h := detInput(img, b.detP.MaxSide)
	prob, shape, err := b.det.run(input, 1, 3, int64(h), int64(w))
	mempool.Float32.Put(input)
	if err != nil {
		return nil, fmt.Errorf("detection: %w", err)
	}
	if len(shape) != 4 || int64(len(prob)) < shape[2]*shape[3] {
		return nil, fmt.Errorf("detection: unexpected output shape %v", shape)
	}
	mapW, mapH := int(shape[3]), int(shape[2])
	boxes := findBoxes(prob[:mapW*mapH], mapW, mapH, b.detP)
	for i := range boxes {
		boxes[i].Rect = scaleRect(boxes[i].Rect, mapW, mapH, bounds)
	}
	sortReadingOrder(boxes)

	out := make([]recognizer.Detection, 0, len(boxes))
	for _, box := range boxes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if box.Rect.Empty() {
			continue
		}
		text, conf, err := b.recognizeLine(img, box.Rect)
		if err != nil {
			return nil, fmt.Errorf("recognition: %w", err)
		}
		if text == "" {
			continue
		}
		out = append(out, recognizer.Detection{
			Region:     recognizer.RegionFromRect(box.Rect),
			Text:       text,
			Confidence: conf,
		})
	}
	return out, nil
}

func (b *Backend) recognizeLine(img image.Image, r image.Rectangle) (string, float64, error) {
	line := cropLine(img, r, b.recP.RotateAspect)
	input, w := recInput(line, b.recP)
	scores, shape, err := b.rec.run(input, 1, 3, int64(b.recP.Height), int64(w))
	mempool.Float32.Put(input)
	if err != nil {
		return "", 0, err
	}
	if len(shape) != 3 {
		return "", 0, fmt.Errorf("expected [N, T, C] output, got shape %v", shape)
	}
	steps, classes := int(shape[1]), int(shape[2])
	if classes != b.charset.Size() {
		slog.Debug("Dictionary size differs from model classes", "classes", classes, "dictionary", b.charset.Size())
	}
	text, conf := decodeCTC(scores, steps, classes, b.charset)
	return text, conf, nil
}

// Close destroys both sessions. The ONNX Runtime environment stays up for
// the life of the process.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := errors.Join(b.det.destroy(), b.rec.destroy())
	b.det, b.rec = nil, nil
	return err
}

// ConcurrencySafe reports true.
func (b *Backend) ConcurrencySafe() bool { return true }

// Name returns "onnx".
func (b *Backend) Name() string { return Name }
