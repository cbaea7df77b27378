package extract

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WEBP decoder
)

// DecodedImage is a decoded raster with the name of its container format.
type DecodedImage struct {
	Image  image.Image
	Format string
}

// Decode reads PNG, JPEG, WEBP, BMP, GIF or TIFF bytes. JPEG EXIF
// orientation is applied. Empty input, unknown formats, corrupt data and
// zero-area images all yield a *DecodeError.
func Decode(data []byte) (*DecodedImage, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty input"}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, &DecodeError{Reason: "unsupported or unrecognized format", Err: err}
		}
		return nil, &DecodeError{Reason: "corrupt header", Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DecodeError{Reason: "image has zero width or height"}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Reason: "corrupt " + format + " data", Err: err}
	}
	if b := img.Bounds(); b.Empty() {
		return nil, &DecodeError{Reason: "image has zero width or height"}
	}

	return &DecodedImage{Image: img, Format: format}, nil
}
