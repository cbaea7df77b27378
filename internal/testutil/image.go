package testutil

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextImageConfig describes a synthetic text image.
type TextImageConfig struct {
	Lines      []string
	Width      int
	Height     int
	Background color.Color
	Foreground color.Color
	Scale      int // integer upscale applied after drawing, 0 or 1 for none
}

// DefaultTextImageConfig returns a black-on-white single line image.
func DefaultTextImageConfig() TextImageConfig {
	return TextImageConfig{
		Lines:      []string{"Sample Text"},
		Width:      320,
		Height:     120,
		Background: color.White,
		Foreground: color.Black,
	}
}

// TextImage draws each line left aligned with basicfont and returns the image.
func TextImage(cfg TextImageConfig) *image.NRGBA {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil() + 6
	d := &font.Drawer{Dst: img, Src: &image.Uniform{cfg.Foreground}, Face: face}
	for i, line := range cfg.Lines {
		d.Dot = fixed.P(10, 10+(i+1)*lineHeight)
		d.DrawString(line)
	}

	out := imaging.Clone(img)
	if cfg.Scale > 1 {
		out = imaging.Resize(out, cfg.Width*cfg.Scale, cfg.Height*cfg.Scale, imaging.NearestNeighbor)
	}
	return out
}

// SolidImage returns a uniformly filled image.
func SolidImage(w, h int, c color.Color) *image.NRGBA {
	return imaging.New(w, h, c)
}

// PNG encodes img as PNG.
func PNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// JPEG encodes img as JPEG at quality 90.
func JPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// SamplePNG is a small white PNG suitable for requests that only need a
// decodable image.
func SamplePNG(t testing.TB) []byte {
	t.Helper()
	return PNG(t, SolidImage(64, 32, color.White))
}

// TruncatedPNG returns a PNG signature followed by a partial header.
func TruncatedPNG() []byte {
	return []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H'}
}

// Base64 returns the standard encoding of data.
func Base64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DataURL returns a data URL carrying data with the given media type.
func DataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + Base64(data)
}
