package onnx

import (
	"image"
	"math"
	"sort"

	"github.com/MeKo-Tech/textgrab/internal/mempool"
	"github.com/disintegration/imaging"
)

// detParams tune DB post-processing of the detection probability map.
type detParams struct {
	BinaryThresh float32 // pixel probability to count as text
	BoxThresh    float64 // mean probability a component needs to be kept
	UnclipRatio  float64 // how far boxes are grown past the shrunk text kernel
	MaxSide      int     // longest side fed to the detector
	MinSize      int     // components smaller than this on either side are noise
}

func defaultDetParams() detParams {
	return detParams{
		BinaryThresh: 0.3,
		BoxThresh:    0.6,
		UnclipRatio:  1.5,
		MaxSide:      960,
		MinSize:      3,
	}
}

var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// detInput scales img so its longest side is at most maxSide and both sides
// are multiples of 32, then normalizes it into an NCHW tensor.
func detInput(img image.Image, maxSide int) ([]float32, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	scale := 1.0
	if longest := max(w, h); maxSide > 0 && longest > maxSide {
		scale = float64(maxSide) / float64(longest)
	}
	nw := roundTo32(float64(w) * scale)
	nh := roundTo32(float64(h) * scale)

	resized := imaging.Resize(img, nw, nh, imaging.Linear)
	return normalizeCHW(resized, imagenetMean, imagenetStd), nw, nh
}

func roundTo32(v float64) int {
	n := int(math.Round(v/32)) * 32
	return max(n, 32)
}

// normalizeCHW converts to planar RGB and applies (x/255 - mean) / std.
// The result comes from mempool.Float32.
func normalizeCHW(img *image.NRGBA, mean, std [3]float32) []float32 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	plane := w * h
	out := mempool.Float32.Get(3 * plane)
	for y := range h {
		row := img.Pix[y*img.Stride : y*img.Stride+4*w]
		for x := range w {
			i := y*w + x
			for c := range 3 {
				v := float32(row[4*x+c]) / 255
				out[c*plane+i] = (v - mean[c]) / std[c]
			}
		}
	}
	return out
}

// scoredBox is a text region in probability map coordinates.
type scoredBox struct {
	Rect  image.Rectangle
	Score float64
}

// findBoxes binarizes prob, labels 4-connected components and turns each
// component that scores at least BoxThresh into an unclipped rectangle.
func findBoxes(prob []float32, w, h int, p detParams) []scoredBox {
	if w <= 0 || h <= 0 || len(prob) != w*h {
		return nil
	}
	mask := mempool.Bool.Get(len(prob))
	defer mempool.Bool.Put(mask)
	for i, v := range prob {
		mask[i] = v > p.BinaryThresh
	}

	seen := mempool.Bool.Get(len(prob))
	defer mempool.Bool.Put(seen)
	queue := make([]int, 0, 256)
	var boxes []scoredBox
	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		seen[start] = true
		queue = append(queue[:0], start)
		minX, minY := start%w, start/w
		maxX, maxY := minX, minY
		var sum float64
		var n int
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := i%w, i/w
			sum += float64(prob[i])
			n++
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)

			for _, nb := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := nb[0], nb[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if mask[j] && !seen[j] {
					seen[j] = true
					queue = append(queue, j)
				}
			}
		}

		bw, bh := maxX-minX+1, maxY-minY+1
		if bw < p.MinSize || bh < p.MinSize {
			continue
		}
		score := sum / float64(n)
		if score < p.BoxThresh {
			continue
		}
		r := unclip(image.Rect(minX, minY, maxX+1, maxY+1), p.UnclipRatio)
		boxes = append(boxes, scoredBox{Rect: r.Intersect(image.Rect(0, 0, w, h)), Score: score})
	}
	return boxes
}

// unclip grows r on every side by area*ratio/perimeter, the DB offset.
func unclip(r image.Rectangle, ratio float64) image.Rectangle {
	w, h := float64(r.Dx()), float64(r.Dy())
	if w <= 0 || h <= 0 || ratio <= 0 {
		return r
	}
	d := int(math.Round(w * h * ratio / (2 * (w + h))))
	return image.Rect(r.Min.X-d, r.Min.Y-d, r.Max.X+d, r.Max.Y+d)
}

// scaleRect maps r from a mapW x mapH grid onto the original image.
func scaleRect(r image.Rectangle, mapW, mapH int, orig image.Rectangle) image.Rectangle {
	sx := float64(orig.Dx()) / float64(mapW)
	sy := float64(orig.Dy()) / float64(mapH)
	out := image.Rect(
		orig.Min.X+int(math.Floor(float64(r.Min.X)*sx)),
		orig.Min.Y+int(math.Floor(float64(r.Min.Y)*sy)),
		orig.Min.X+int(math.Ceil(float64(r.Max.X)*sx)),
		orig.Min.Y+int(math.Ceil(float64(r.Max.Y)*sy)),
	)
	return out.Intersect(orig)
}

// sortReadingOrder orders boxes top to bottom, and left to right within a
// line. Boxes whose vertical centers are closer than half the smaller
// height share a line.
func sortReadingOrder(boxes []scoredBox) {
	sort.SliceStable(boxes, func(i, j int) bool {
		a, b := boxes[i].Rect, boxes[j].Rect
		if a.Min.Y != b.Min.Y {
			return a.Min.Y < b.Min.Y
		}
		return a.Min.X < b.Min.X
	})
	for i := 1; i < len(boxes); i++ {
		for j := i; j > 0; j-- {
			a, b := boxes[j-1].Rect, boxes[j].Rect
			if !sameLine(a, b) || a.Min.X <= b.Min.X {
				break
			}
			boxes[j-1], boxes[j] = boxes[j], boxes[j-1]
		}
	}
}

func sameLine(a, b image.Rectangle) bool {
	ca := float64(a.Min.Y+a.Max.Y) / 2
	cb := float64(b.Min.Y+b.Max.Y) / 2
	return math.Abs(ca-cb) < float64(min(a.Dy(), b.Dy()))/2
}
