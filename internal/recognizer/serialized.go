package recognizer

import (
	"context"
	"image"
	"sync"
)

// Serialized admits one Recognize call at a time on the wrapped backend.
// Callers waiting for the slot give up when their context is done.
type Serialized struct {
	inner Recognizer
	slot  chan struct{}
	once  sync.Once
	err   error
}

// Serialize wraps r so that calls never overlap.
func Serialize(r Recognizer) *Serialized {
	return &Serialized{inner: r, slot: make(chan struct{}, 1)}
}

// Guard returns r unchanged when it declares concurrency safety and force is
// false. Otherwise r is wrapped in a Serialized recognizer.
func Guard(r Recognizer, force bool) Recognizer {
	if s, ok := r.(*Serialized); ok {
		return s
	}
	if !force && IsConcurrencySafe(r) {
		return r
	}
	return Serialize(r)
}

// Recognize waits for exclusive access and delegates.
func (s *Serialized) Recognize(ctx context.Context, img image.Image) ([]Detection, error) {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.slot }()
	return s.inner.Recognize(ctx, img)
}

// Close closes the wrapped backend once.
func (s *Serialized) Close() error {
	s.once.Do(func() { s.err = s.inner.Close() })
	return s.err
}

// ConcurrencySafe is true: the wrapper itself may be shared freely.
func (s *Serialized) ConcurrencySafe() bool { return true }

// Name reports the wrapped backend's name.
func (s *Serialized) Name() string { return NameOf(s.inner) }

// Unwrap returns the wrapped backend.
func (s *Serialized) Unwrap() Recognizer { return s.inner }
