//go:build !tesseract

package tesseract

import (
	"context"
	"errors"
	"image"

	"github.com/MeKo-Tech/textgrab/internal/recognizer"
)

// ErrTesseractNotEnabled is returned when the binary was built without the
// tesseract tag.
var ErrTesseractNotEnabled = errors.New("tesseract support not compiled in (rebuild with -tags tesseract)")

// Backend is unavailable in this build.
type Backend struct{}

// New validates opts so configuration errors surface the same way in every
// build, then reports ErrTesseractNotEnabled.
func New(opts recognizer.Options) (*Backend, error) {
	if _, err := tessLanguages(opts.Tags()); err != nil {
		return nil, err
	}
	if _, err := pageSegMode(opts); err != nil {
		return nil, err
	}
	return nil, ErrTesseractNotEnabled
}

// Recognize reports ErrTesseractNotEnabled.
func (*Backend) Recognize(context.Context, image.Image) ([]recognizer.Detection, error) {
	return nil, ErrTesseractNotEnabled
}

// Close is a no-op.
func (*Backend) Close() error { return nil }
