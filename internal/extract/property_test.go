package extract

import (
	"strings"
	"testing"

	"github.com/MeKo-Tech/textgrab/internal/recognizer"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genDetections generates single-word detections with random confidences.
func genDetections() gopter.Gen {
	return gen.SliceOf(gen.Float64Range(0, 1)).Map(func(confs []float64) []recognizer.Detection {
		dets := make([]recognizer.Detection, len(confs))
		for i, c := range confs {
			dets[i] = recognizer.Detection{Text: "w", Confidence: c}
		}
		return dets
	})
}

func TestAggregate_CountsStrictlyAbove(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("accepted equals detections above threshold", prop.ForAll(
		func(dets []recognizer.Detection, threshold float64) bool {
			want := 0
			for _, d := range dets {
				if d.Confidence > threshold {
					want++
				}
			}
			text, accepted := Aggregate(dets, threshold)
			return accepted == want && Summarize(text).Words == want
		},
		genDetections(),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

func TestAggregate_MonotonicInThreshold(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("raising the threshold never accepts more", prop.ForAll(
		func(dets []recognizer.Detection, a, b float64) bool {
			lo, hi := min(a, b), max(a, b)
			_, nLo := Aggregate(dets, lo)
			_, nHi := Aggregate(dets, hi)
			return nHi <= nLo
		},
		genDetections(),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

func TestAggregate_OneLinePerDetection(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("line count matches accepted detections", prop.ForAll(
		func(dets []recognizer.Detection, threshold float64) bool {
			text, accepted := Aggregate(dets, threshold)
			return Summarize(text).Lines == max(accepted, 1)
		},
		genDetections(),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

func TestDownloadName_AlwaysPlainFile(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("download names carry the suffix and no separators", prop.ForAll(
		func(source string) bool {
			name := DownloadName(source)
			return strings.HasSuffix(name, DefaultDownloadName) &&
				!strings.ContainsAny(name, `/\"`)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
