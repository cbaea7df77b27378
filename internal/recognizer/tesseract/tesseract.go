// Package tesseract is a recognizer backend using the Tesseract engine
// through gosseract. The cgo binding is only compiled with the tesseract
// build tag; without it the backend is registered but fails to build.
package tesseract

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/textgrab/internal/recognizer"
	"golang.org/x/text/language"
)

// Name is the registry name of this backend.
const Name = "tesseract"

// DefaultPageSegMode is Tesseract's fully automatic page segmentation.
const DefaultPageSegMode = 3

func init() {
	recognizer.Register(Name, func(opts recognizer.Options) (recognizer.Recognizer, error) {
		b, err := New(opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
}

// scripts maps tags whose Tesseract data file is not named by the ISO
// 639-3 code of their base language.
var scripts = map[string]string{
	"zh-Hans": "chi_sim",
	"zh-Hant": "chi_tra",
	"sr-Latn": "srp_latn",
	"uz-Cyrl": "uzb_cyrl",
}

// tessLanguages converts BCP 47 tags to Tesseract language names.
// Duplicates are dropped, order is kept.
func tessLanguages(tags []language.Tag) ([]string, error) {
	seen := map[string]bool{}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		name := tessName(t)
		if name == "" {
			return nil, fmt.Errorf("language %s has no tesseract equivalent", t)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		out = append(out, "eng")
	}
	return out, nil
}

func tessName(t language.Tag) string {
	base, _ := t.Base()
	script, conf := t.Script()
	if conf != language.No {
		if name, ok := scripts[base.String()+"-"+script.String()]; ok {
			return name
		}
	}
	if base.String() == "und" {
		return ""
	}
	return base.ISO3()
}

// pageSegMode reads the psm setting.
func pageSegMode(opts recognizer.Options) (int, error) {
	raw := opts.Setting("psm", strconv.Itoa(DefaultPageSegMode))
	psm, err := strconv.Atoi(raw)
	if err != nil || psm < 0 || psm > 13 {
		return 0, fmt.Errorf("setting psm=%q must be an integer in [0, 13]", raw)
	}
	return psm, nil
}

// line is one text line as reported by the engine, confidence in percent.
type line struct {
	Box        image.Rectangle
	Text       string
	Confidence float64
}

// toDetections normalizes engine lines. Blank lines are dropped and
// percent confidences are scaled into [0, 1].
func toDetections(lines []line) []recognizer.Detection {
	out := make([]recognizer.Detection, 0, len(lines))
	for _, l := range lines {
		text := strings.TrimSpace(l.Text)
		if text == "" {
			continue
		}
		conf := l.Confidence / 100
		conf = min(max(conf, 0), 1)
		out = append(out, recognizer.Detection{
			Region:     recognizer.RegionFromRect(l.Box),
			Text:       text,
			Confidence: conf,
		})
	}
	return out
}
