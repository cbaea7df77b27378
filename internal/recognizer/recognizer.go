// Package recognizer defines the contract between the extraction pipeline and
// an OCR backend, together with the registry used to build backends once per
// process and a guard that serializes backends which are not safe for
// concurrent use.
package recognizer

import (
	"context"
	"image"
)

// Point is a vertex of a region polygon in original image coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Region locates a detection in the source image.
type Region struct {
	Polygon []Point         `json:"polygon,omitempty"`
	Box     image.Rectangle `json:"box"`
}

// Detection is one recognized text region. Confidence is in [0,1].
type Detection struct {
	Region     Region  `json:"region"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognizer maps a decoded image to detections in emission order.
// Implementations must honour ctx where the underlying engine allows it.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]Detection, error)
	Close() error
}

// ConcurrencySafe is implemented by backends that can serve overlapping
// Recognize calls on a single instance.
type ConcurrencySafe interface {
	ConcurrencySafe() bool
}

// Named is implemented by backends that report their registry name.
type Named interface {
	Name() string
}

// IsConcurrencySafe reports whether r declares itself safe for concurrent use.
func IsConcurrencySafe(r Recognizer) bool {
	cs, ok := r.(ConcurrencySafe)
	return ok && cs.ConcurrencySafe()
}

// NameOf returns the backend name of r, or "unknown".
func NameOf(r Recognizer) string {
	if n, ok := r.(Named); ok {
		return n.Name()
	}
	return "unknown"
}

// RegionFromRect builds a rectangular region with a clockwise polygon.
func RegionFromRect(r image.Rectangle) Region {
	return Region{
		Box: r,
		Polygon: []Point{
			{X: float64(r.Min.X), Y: float64(r.Min.Y)},
			{X: float64(r.Max.X), Y: float64(r.Min.Y)},
			{X: float64(r.Max.X), Y: float64(r.Max.Y)},
			{X: float64(r.Min.X), Y: float64(r.Max.Y)},
		},
	}
}
