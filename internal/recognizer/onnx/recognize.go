package onnx

import (
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/text/unicode/norm"
)

// recParams control text line preprocessing for the recognizer.
type recParams struct {
	Height       int // model input height
	MaxWidth     int // widest line fed to the model
	PadMultiple  int // width is padded with black to a multiple of this
	RotateAspect float64
}

func defaultRecParams() recParams {
	return recParams{Height: 48, MaxWidth: 3200, PadMultiple: 8, RotateAspect: 1.5}
}

// cropLine cuts r out of img. Lines much taller than wide are rotated so
// vertical text reads left to right.
func cropLine(img image.Image, r image.Rectangle, rotateAspect float64) *image.NRGBA {
	patch := imaging.Crop(img, r)
	b := patch.Bounds()
	if rotateAspect > 0 && float64(b.Dy()) > float64(b.Dx())*rotateAspect {
		return imaging.Rotate90(patch)
	}
	return patch
}

// recInput resizes a line to the model height keeping its aspect ratio,
// pads the width and normalizes to [-1, 1] in NCHW order.
func recInput(line image.Image, p recParams) ([]float32, int) {
	b := line.Bounds()
	w := max(int(math.Ceil(float64(b.Dx())*float64(p.Height)/float64(max(b.Dy(), 1)))), 1)
	if p.MaxWidth > 0 {
		w = min(w, p.MaxWidth)
	}
	resized := imaging.Resize(line, w, p.Height, imaging.Lanczos)

	outW := w
	if m := p.PadMultiple; m > 0 && outW%m != 0 {
		outW += m - outW%m
	}
	if outW != w {
		canvas := imaging.New(outW, p.Height, color.Black)
		resized = imaging.Paste(canvas, resized, image.Pt(0, 0))
	}
	half := [3]float32{0.5, 0.5, 0.5}
	return normalizeCHW(resized, half, half), outW
}

// decodeCTC performs greedy CTC decoding of a [T, C] score matrix. It
// returns the text and the mean probability of the emitted characters.
// Scores that do not already look like probabilities go through softmax.
func decodeCTC(scores []float32, steps, classes int, cs *Charset) (string, float64) {
	if steps <= 0 || classes <= 0 || len(scores) < steps*classes {
		return "", 0
	}
	var sb strings.Builder
	var sum float64
	var n int
	prev := -1
	for t := range steps {
		row := scores[t*classes : (t+1)*classes]
		idx, p := bestClass(row)
		if idx != 0 && idx != prev {
			if tok := cs.Token(idx); tok != "" {
				sb.WriteString(tok)
				sum += p
				n++
			}
		}
		prev = idx
	}
	if n == 0 {
		return "", 0
	}
	text := strings.TrimSpace(norm.NFC.String(sb.String()))
	return text, clamp01(sum / float64(n))
}

// bestClass returns the argmax of row and its probability.
func bestClass(row []float32) (int, float64) {
	idx := 0
	for i, v := range row {
		if v > row[idx] {
			idx = i
		}
	}
	var sum float64
	probLike := true
	for _, v := range row {
		if v < 0 || v > 1 {
			probLike = false
			break
		}
		sum += float64(v)
	}
	if probLike && math.Abs(sum-1) < 0.01 {
		return idx, float64(row[idx])
	}
	m := float64(row[idx])
	var denom float64
	for _, v := range row {
		denom += math.Exp(float64(v) - m)
	}
	return idx, 1 / denom
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
