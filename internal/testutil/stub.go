// Package testutil holds helpers shared by tests: synthetic images, encoders
// and a scripted recognizer.
package testutil

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/textgrab/internal/recognizer"
)

// StubRecognizer returns scripted detections. It is deterministic and safe
// for concurrent use unless Unsafe is set.
type StubRecognizer struct {
	Detections []recognizer.Detection
	Err        error
	Delay      time.Duration
	IgnoreCtx  bool // keep sleeping past cancellation
	Unsafe     bool // report ConcurrencySafe() == false

	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	closed   atomic.Int32

	mu       sync.Mutex
	lastSize image.Point
}

// NewStub returns a stub emitting the given (text, confidence) pairs.
func NewStub(pairs ...Pair) *StubRecognizer {
	dets := make([]recognizer.Detection, len(pairs))
	for i, p := range pairs {
		dets[i] = recognizer.Detection{
			Region:     recognizer.RegionFromRect(image.Rect(0, i*20, 100, i*20+16)),
			Text:       p.Text,
			Confidence: p.Confidence,
		}
	}
	return &StubRecognizer{Detections: dets}
}

// Pair is a detection text with its confidence.
type Pair struct {
	Text       string
	Confidence float64
}

// Recognize returns a copy of the scripted detections.
func (s *StubRecognizer) Recognize(ctx context.Context, img image.Image) ([]recognizer.Detection, error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s.mu.Lock()
	s.lastSize = img.Bounds().Size()
	s.mu.Unlock()

	if s.Delay > 0 {
		if s.IgnoreCtx {
			time.Sleep(s.Delay)
		} else {
			select {
			case <-time.After(s.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]recognizer.Detection, len(s.Detections))
	copy(out, s.Detections)
	return out, nil
}

// Close counts closes.
func (s *StubRecognizer) Close() error {
	s.closed.Add(1)
	return nil
}

// ConcurrencySafe reports !Unsafe.
func (s *StubRecognizer) ConcurrencySafe() bool { return !s.Unsafe }

// Name returns "stub".
func (s *StubRecognizer) Name() string { return "stub" }

// Calls returns how many times Recognize ran.
func (s *StubRecognizer) Calls() int { return int(s.calls.Load()) }

// PeakConcurrency returns the largest number of overlapping calls observed.
func (s *StubRecognizer) PeakConcurrency() int { return int(s.peak.Load()) }

// Closed returns how many times Close ran.
func (s *StubRecognizer) Closed() int { return int(s.closed.Load()) }

// LastSize returns the size of the last recognized image.
func (s *StubRecognizer) LastSize() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSize
}
